package strategy

import "errors"

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidPrivateKey  = errors.New("invalid private key")
)

// BadRequestError is reported when the request itself cannot be used for a
// login attempt. No connection is made for these requests.
type BadRequestError struct {
	Message string
	Err     error
}

func (e *BadRequestError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *BadRequestError) Unwrap() error {
	return e.Err
}
