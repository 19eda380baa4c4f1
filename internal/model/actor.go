package model

// Role is the caller role supplied by the identity provider.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleProctor Role = "proctor"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleProctor, RoleAdmin:
		return true
	}
	return false
}

// Actor is an authenticated caller.
type Actor struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// Owns reports whether the actor may act as the owner of a resource owned by
// ownerID. Admins own everything.
func (a Actor) Owns(ownerID string) bool {
	return a.Role == RoleAdmin || (a.UserID != "" && a.UserID == ownerID)
}
