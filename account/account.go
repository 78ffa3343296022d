// Package account maps login names to numeric user IDs using the local
// account database.
package account

import (
	"errors"
	"fmt"
	"os/user"
	"strconv"
)

var (
	ErrUnknownUser = errors.New("unknown user")
	ErrUnknownUID  = errors.New("unknown uid")
)

// Lookup resolves usernames and numeric IDs in both directions
type Lookup interface {
	UIDFor(username string) (int, error)
	UsernameFor(uid int) (string, error)
}

// System resolves accounts through the host's user database (passwd, NSS)
type System struct{}

func (System) UIDFor(username string) (int, error) {
	u, err := user.Lookup(username)
	if err != nil {
		var unknown user.UnknownUserError
		if errors.As(err, &unknown) {
			return 0, fmt.Errorf("%w: %s", ErrUnknownUser, username)
		}
		return 0, fmt.Errorf("lookup %s: %w", username, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, fmt.Errorf("user %s has non-numeric uid %q", username, u.Uid)
	}
	return uid, nil
}

func (System) UsernameFor(uid int) (string, error) {
	u, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		var unknown user.UnknownUserIdError
		if errors.As(err, &unknown) {
			return "", fmt.Errorf("%w: %d", ErrUnknownUID, uid)
		}
		return "", fmt.Errorf("lookup uid %d: %w", uid, err)
	}
	return u.Username, nil
}

// Static is a fixed username to UID table
type Static map[string]int

func (s Static) UIDFor(username string) (int, error) {
	uid, ok := s[username]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownUser, username)
	}
	return uid, nil
}

func (s Static) UsernameFor(uid int) (string, error) {
	for name, id := range s {
		if id == uid {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: %d", ErrUnknownUID, uid)
}
