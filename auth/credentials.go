package auth

import (
	"errors"
	"fmt"

	"github.com/runZeroInc/excrypto/x/crypto/ssh"
)

// Credentials are the secrets tried for a single probe
type Credentials struct {
	Username   string
	Password   string
	PrivateKey []byte

	// parsed private key, kept so encrypted keys are only decrypted once
	signer    ssh.Signer
	signerErr error
	parsed    bool
}

func (c *Credentials) HasPassword() bool {
	return c.Password != ""
}

func (c *Credentials) HasPrivateKey() bool {
	return len(c.PrivateKey) > 0
}

// Signer parses the private key material. An encrypted key is decrypted with
// the password when one was supplied. The result is cached.
func (c *Credentials) Signer() (ssh.Signer, error) {
	if !c.parsed {
		c.signer, c.signerErr = c.parseSigner()
		c.parsed = true
	}
	return c.signer, c.signerErr
}

func (c *Credentials) parseSigner() (ssh.Signer, error) {
	if !c.HasPrivateKey() {
		return nil, nil
	}
	signer, err := ssh.ParsePrivateKey(c.PrivateKey)
	if err == nil {
		return signer, nil
	}
	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	if !c.HasPassword() {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	signer, err = ssh.ParsePrivateKeyWithPassphrase(c.PrivateKey, []byte(c.Password))
	if err != nil {
		return nil, fmt.Errorf("decrypt private key: %w", err)
	}
	return signer, nil
}

type authStep struct {
	name   string
	method ssh.AuthMethod
}

// authSteps returns the methods to try in order: publickey, password, then
// keyboard-interactive answered with the password.
func (c *Credentials) authSteps(res *ProbeResult) ([]authStep, error) {
	var steps []authStep
	signer, err := c.Signer()
	if err != nil {
		return nil, err
	}
	if signer != nil {
		steps = append(steps, authStep{MethodPublicKey, ssh.PublicKeys(signer)})
	}
	if c.HasPassword() {
		password := c.Password
		steps = append(steps,
			authStep{MethodPassword, ssh.Password(password)},
			authStep{MethodKeyboard, ssh.KeyboardInteractive(KeyboardResponder(password, res))},
		)
	}
	if len(steps) == 0 {
		return nil, ErrNoCredentials
	}
	return steps, nil
}

// KeyboardResponder answers every keyboard-interactive question with the
// password. Challenge details are recorded on res when it is not nil.
func KeyboardResponder(password string, res *ProbeResult) ssh.KeyboardInteractiveChallenge {
	return func(name string, instr string, questions []string, echos []bool) ([]string, error) {
		if res != nil {
			res.recordChallenge(name, instr, questions)
		}
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	}
}
