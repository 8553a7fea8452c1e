package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wufengchun/AFFiNE/internal/permission"
)

// PermissionStore answers workspace membership checks from the
// workspace_user_roles table. It implements permission.Service.
type PermissionStore struct {
	db *sql.DB
}

func NewPermissionStore(db *sql.DB) *PermissionStore {
	return &PermissionStore{db: db}
}

func (s *PermissionStore) IsWorkspaceMember(ctx context.Context, workspaceID, userID string, required permission.Role) (bool, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM workspace_user_roles WHERE workspace_id=$1 AND user_id=$2
	`, workspaceID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read workspace role: %w", err)
	}
	return permission.Normalize(role).AtLeast(required), nil
}

// GrantRole upserts a user's role in a workspace. Membership management
// proper is another service's job; this supports bootstrap and tests.
func (s *PermissionStore) GrantRole(ctx context.Context, workspaceID, userID string, role permission.Role) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_user_roles (workspace_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role=EXCLUDED.role
	`, workspaceID, userID, role.String())
	if err != nil {
		return fmt.Errorf("grant role: %w", err)
	}
	return nil
}
