package auth

import "encoding/json"

// Role is the authenticated principal's role as reported by the backend.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// Identity is the canonical shape of the authenticated principal. Grade and
// Branch are populated for students only.
type Identity struct {
	ID     string `json:"id"`
	Role   Role   `json:"role"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Grade  string `json:"grade,omitempty"`
	Branch string `json:"branch,omitempty"`
}

// Snapshot is the persisted session record: the identity plus the time of the
// last successful backend confirmation. At most one snapshot is authoritative
// at a time.
type Snapshot struct {
	Identity    Identity `json:"identity"`
	ValidatedAt int64    `json:"validatedAt"` // unix milliseconds
}

// wireUser is the backend's user shape; it normalizes into Identity.
type wireUser struct {
	ID     string `json:"id"`
	Role   Role   `json:"role"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Grade  string `json:"grade"`
	Branch string `json:"branch"`
}

func (u wireUser) toIdentity() Identity {
	return Identity{
		ID:     u.ID,
		Role:   u.Role,
		Name:   u.Name,
		Email:  u.Email,
		Grade:  u.Grade,
		Branch: u.Branch,
	}
}

// authPayload is the data portion of login and register responses.
type authPayload struct {
	Token string   `json:"token"`
	User  wireUser `json:"user"`
}

func decodeAuthPayload(data json.RawMessage) (*authPayload, error) {
	var payload authPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
