package strategy

import (
	"net/url"

	"github.com/runZeroInc/sshlogin/auth"
)

// Request exposes the body and query parameters of an inbound login request
type Request interface {
	BodyParam(name string) string
	QueryParam(name string) string
}

// Params is a Request backed by decoded form and query values
type Params struct {
	Body  url.Values
	Query url.Values
}

func (p Params) BodyParam(name string) string {
	return p.Body.Get(name)
}

func (p Params) QueryParam(name string) string {
	return p.Query.Get(name)
}

// lookup returns the body value for field, falling back to the query value
// when the body has none
func lookup(req Request, field string) string {
	if field == "" {
		return ""
	}
	if v := req.BodyParam(field); v != "" {
		return v
	}
	return req.QueryParam(field)
}

// Extract reads the credentials named by the configured fields. A missing
// username, or a missing password and private key, is a *BadRequestError.
func (s *Strategy) Extract(req Request) (*auth.Credentials, error) {
	creds := &auth.Credentials{
		Username: lookup(req, s.cfg.UsernameField),
		Password: lookup(req, s.cfg.PasswordField),
	}
	if key := lookup(req, s.cfg.PrivateKeyField); key != "" {
		creds.PrivateKey = []byte(key)
	}
	if creds.Username == "" || (!creds.HasPassword() && !creds.HasPrivateKey()) {
		return nil, &BadRequestError{Message: s.cfg.BadRequestMessage, Err: ErrMissingCredentials}
	}
	return creds, nil
}
