package permission

import "context"

type Role int

const (
	RoleExternal Role = iota
	RoleCollaborator
	RoleAdmin
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleAdmin:
		return "admin"
	case RoleCollaborator:
		return "collaborator"
	default:
		return "external"
	}
}

// AtLeast reports whether r satisfies a required role level.
func (r Role) AtLeast(required Role) bool {
	return r >= required
}

func Normalize(role string) Role {
	switch role {
	case "owner":
		return RoleOwner
	case "admin":
		return RoleAdmin
	case "collaborator":
		return RoleCollaborator
	default:
		return RoleExternal
	}
}

// Service answers workspace membership questions. The gateway consults it
// on every workspace join; it never mutates membership.
type Service interface {
	IsWorkspaceMember(ctx context.Context, workspaceID, userID string, required Role) (bool, error)
}
