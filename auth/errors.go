package auth

import "errors"

var (
	// ErrTransport wraps any failure reaching or talking to the login service
	ErrTransport = errors.New("ssh transport error")

	// ErrRejected means the login service declined every offered method
	ErrRejected = errors.New("ssh login rejected")

	ErrHostKeyMismatch = errors.New("host key mismatch")
	ErrNoCredentials   = errors.New("no password or private key supplied")
)
