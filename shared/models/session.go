package models

import (
	"github.com/google/uuid"
)

// Session is the caller identity every wizard component is constructed with.
// UserID is uuid.Nil for anonymous visitors, who are identified by ClientKey only.
type Session struct {
	UserID    uuid.UUID
	Email     string
	Token     string
	ClientKey string
}

// Authenticated reports whether a signed-in user is attached.
func (s Session) Authenticated() bool {
	return s.UserID != uuid.Nil
}

// Namespace is the key under which per-visitor state (sessions, fallback
// snapshots, notifications) is stored.
func (s Session) Namespace() string {
	if s.Authenticated() {
		return "user:" + s.UserID.String()
	}
	return "anon:" + s.ClientKey
}
