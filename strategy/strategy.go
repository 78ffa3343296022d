// Package strategy verifies login requests by attempting the same login
// against an SSH server and reporting success, failure, or error to the
// hosting authentication framework.
package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/runZeroInc/excrypto/x/crypto/ssh"
	"github.com/sirupsen/logrus"

	"github.com/runZeroInc/sshlogin/account"
	"github.com/runZeroInc/sshlogin/auth"
	"github.com/runZeroInc/sshlogin/badkeys"
)

// VerifyFunc approves or transforms an authenticated identity. Returning a
// nil user refuses the login; returning an error reports a system failure.
type VerifyFunc func(ctx context.Context, user *User) (*User, Info, error)

// VerifyRequestFunc is a VerifyFunc that also receives the login request
type VerifyRequestFunc func(ctx context.Context, req Request, user *User) (*User, Info, error)

// KeyChecker reports whether a public key is known to be compromised
type KeyChecker interface {
	Check(pub ssh.PublicKey) (*badkeys.Result, error)
}

// Strategy is safe for concurrent use. The With* helpers return modified
// copies.
type Strategy struct {
	cfg       Config
	verify    VerifyFunc
	verifyReq VerifyRequestFunc
	lookup    account.Lookup
	keys      KeyChecker
	options   *auth.Options
	observe   func(*auth.ProbeResult)
	log       *logrus.Logger
}

// New builds a strategy whose verify callback, if any, receives only the
// identity
func New(cfg Config, verify VerifyFunc) (*Strategy, error) {
	s, err := newStrategy(cfg)
	if err != nil {
		return nil, err
	}
	s.verify = verify
	return s, nil
}

// NewWithRequest builds a strategy whose verify callback also receives the
// login request. PassReqToCallback is implied.
func NewWithRequest(cfg Config, verify VerifyRequestFunc) (*Strategy, error) {
	cfg.PassReqToCallback = true
	s, err := newStrategy(cfg)
	if err != nil {
		return nil, err
	}
	s.verifyReq = verify
	return s, nil
}

func newStrategy(cfg Config) (*Strategy, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := auth.NewOptions(cfg.Host, cfg.Port)
	if cfg.Timeout > 0 {
		options = options.WithTimeout(cfg.Timeout)
	}
	if cfg.ClientVersion != "" {
		options = options.WithClientVersion(cfg.ClientVersion)
	}
	options, err := options.WithHostKeyType(cfg.HostKeyType)
	if err != nil {
		return nil, err
	}
	switch {
	case cfg.HostKeyFingerprint != "":
		options = options.WithHostKeyCallback(auth.FingerprintCallback(cfg.HostKeyFingerprint))
	case len(cfg.KnownHosts) > 0:
		options, err = options.WithKnownHosts(cfg.KnownHosts...)
		if err != nil {
			return nil, err
		}
	}

	return &Strategy{
		cfg:     cfg,
		lookup:  account.System{},
		options: options,
		log:     logrus.StandardLogger(),
	}, nil
}

func (s *Strategy) Name() string {
	return s.cfg.Name
}

func (s *Strategy) Config() Config {
	return s.cfg
}

// ProbeOptions returns the connection settings used for each login attempt
func (s *Strategy) ProbeOptions() *auth.Options {
	return s.options
}

func (s *Strategy) WithLookup(l account.Lookup) *Strategy {
	n := *s
	n.lookup = l
	return &n
}

// WithKeyChecker refuses private keys that kc reports as compromised
func (s *Strategy) WithKeyChecker(kc KeyChecker) *Strategy {
	n := *s
	n.keys = kc
	return &n
}

// WithObserver calls fn with the record of every completed probe
func (s *Strategy) WithObserver(fn func(*auth.ProbeResult)) *Strategy {
	n := *s
	n.observe = fn
	return &n
}

func (s *Strategy) WithLogger(l *logrus.Logger) *Strategy {
	n := *s
	n.log = l
	n.options = s.options.WithLogger(l)
	return &n
}

// Authenticate runs one login attempt for req and reports exactly one
// outcome to actions
func (s *Strategy) Authenticate(ctx context.Context, req Request, actions Actions) {
	log := s.log.WithFields(logrus.Fields{
		"attempt":  uuid.NewString(),
		"strategy": s.cfg.Name,
	})

	creds, err := s.Extract(req)
	if err != nil {
		log.Debugf("bad request: %v", err)
		actions.Error(err)
		return
	}
	log = log.WithField("user", creds.Username)

	signer, err := creds.Signer()
	if err != nil {
		log.Debugf("unusable private key: %v", err)
		actions.Error(&BadRequestError{Message: ErrInvalidPrivateKey.Error(), Err: fmt.Errorf("%w: %w", ErrInvalidPrivateKey, err)})
		return
	}
	if signer != nil && s.keys != nil {
		bad, err := s.keys.Check(signer.PublicKey())
		if err != nil {
			log.Errorf("compromised key check failed: %v", err)
			actions.Error(fmt.Errorf("compromised key check: %w", err))
			return
		}
		if bad != nil {
			log.Warnf("refusing compromised %s key (%s)", signer.PublicKey().Type(), bad.GetURL())
			actions.Fail(Info{"message": CompromisedKeyMessage, "url": bad.GetURL()})
			return
		}
	}

	res := auth.Probe(ctx, creds, s.options)
	if s.observe != nil {
		s.observe(res)
	}
	log = log.WithFields(logrus.Fields{
		"outcome": res.Outcome.String(),
		"elapsed": res.Elapsed.Round(time.Millisecond),
	})

	switch res.Outcome {
	case auth.OutcomeRejected:
		log.Infof("login rejected after %v", res.Attempted)
		actions.Fail(Info{"message": s.cfg.RejectedMessage})
		return
	case auth.OutcomeAuthenticated:
	default:
		log.Errorf("login service unavailable: %v", res.Err())
		actions.Error(res.Err())
		return
	}

	uid, err := s.lookup.UIDFor(creds.Username)
	if err != nil {
		log.Errorf("accepted login has no local account: %v", err)
		actions.Error(fmt.Errorf("resolve uid: %w", err))
		return
	}
	user := &User{Username: creds.Username, UID: uid, ID: uid}

	var info Info
	switch {
	case s.cfg.PassReqToCallback && s.verifyReq != nil:
		user, info, err = s.verifyReq(ctx, req, user)
	case s.verify != nil:
		user, info, err = s.verify(ctx, user)
	}
	if err != nil {
		log.Errorf("verify failed: %v", err)
		actions.Error(fmt.Errorf("verify: %w", err))
		return
	}
	if user == nil {
		log.Infof("login refused by verify callback")
		actions.Fail(info)
		return
	}

	user.ID = user.UID
	log.Debugf("login accepted via %s for uid %d", res.Method, user.UID)
	actions.Success(user, info)
}
