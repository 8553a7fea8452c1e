package permission

import "testing"

func TestAtLeast(t *testing.T) {
	if !RoleOwner.AtLeast(RoleCollaborator) {
		t.Error("owner should satisfy collaborator")
	}
	if !RoleCollaborator.AtLeast(RoleCollaborator) {
		t.Error("collaborator should satisfy collaborator")
	}
	if RoleExternal.AtLeast(RoleCollaborator) {
		t.Error("external should not satisfy collaborator")
	}
	if RoleAdmin.AtLeast(RoleOwner) {
		t.Error("admin should not satisfy owner")
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]Role{
		"owner":        RoleOwner,
		"admin":        RoleAdmin,
		"collaborator": RoleCollaborator,
		"external":     RoleExternal,
		"":             RoleExternal,
		"banana":       RoleExternal,
	}
	for raw, want := range cases {
		if got := Normalize(raw); got != want {
			t.Errorf("Normalize(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestRoleString(t *testing.T) {
	for _, r := range []Role{RoleExternal, RoleCollaborator, RoleAdmin, RoleOwner} {
		if Normalize(r.String()) != r {
			t.Errorf("role %v does not round-trip through Normalize", r)
		}
	}
}
