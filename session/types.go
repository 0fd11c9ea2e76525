package session

import (
	"errors"
	"time"
)

var ErrNotLoggedIn = errors.New("not logged in")

// Session is the authenticated identity of one desk.
// Token expiry is decided by the backend; the client never checks it.
type Session struct {
	Token      string    `json:"token"`
	UserID     string    `json:"userId"`
	Name       string    `json:"name,omitempty"`
	LoggedInAt time.Time `json:"loggedInAt"`
	Grants     []Grant   `json:"grants,omitempty"`
}

func (s *Session) Valid() bool {
	return s != nil && s.Token != "" && s.UserID != ""
}

// Permissions builds the lookup registry from the session grants.
func (s *Session) Permissions() *Permissions {
	if s == nil {
		return NewPermissions(nil)
	}
	return NewPermissions(s.Grants)
}

// OnChangeListener receives the session after the backing file changes.
// A nil session means the user logged out.
type OnChangeListener interface {
	OnSessionChange(s *Session)
}
