package models

// Identity is the authenticated subject of a session
type Identity struct {
	ID          string
	DisplayName string
	Email       string
}

// Label returns the best human-readable name for the identity
func (i Identity) Label() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	if i.Email != "" {
		return i.Email
	}
	return i.ID
}
