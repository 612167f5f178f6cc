package models

// Role is a user's role inside a workspace.
type Role string

const (
	RoleOwner        Role = "owner"
	RoleCollaborator Role = "collaborator"
	RoleViewer       Role = "viewer"
)

// CanUpload reports whether the role may create sessions and ingest chunks.
func (r Role) CanUpload() bool {
	return r == RoleOwner || r == RoleCollaborator
}

func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleCollaborator || r == RoleViewer
}
