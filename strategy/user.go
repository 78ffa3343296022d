package strategy

import (
	"errors"
	"fmt"
)

// User is the identity produced by a successful login. ID mirrors UID and is
// the value stored in sessions.
type User struct {
	Username string `json:"username"`
	UID      int    `json:"uid"`
	ID       int    `json:"id"`
}

var ErrNoUser = errors.New("no user")

// SerializeUser returns the value a session stores for u
func (s *Strategy) SerializeUser(u *User) (int, error) {
	if u == nil {
		return 0, ErrNoUser
	}
	return u.UID, nil
}

// DeserializeUser rebuilds the identity for a stored UID, re-deriving the
// username from the account database
func (s *Strategy) DeserializeUser(uid int) (*User, error) {
	name, err := s.lookup.UsernameFor(uid)
	if err != nil {
		return nil, fmt.Errorf("deserialize uid %d: %w", uid, err)
	}
	return &User{Username: name, UID: uid, ID: uid}, nil
}
