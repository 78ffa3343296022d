package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/runZeroInc/excrypto/x/crypto/ssh"
	stdssh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// FingerprintCallback accepts only a host key with the given SHA256
// fingerprint. The "SHA256:" prefix is optional.
func FingerprintCallback(fingerprint string) ssh.HostKeyCallback {
	want := strings.TrimPrefix(strings.TrimSpace(fingerprint), "SHA256:")
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		got := strings.TrimPrefix(ssh.FingerprintSHA256(key), "SHA256:")
		if got != want {
			return fmt.Errorf("%w: %s presented %s", ErrHostKeyMismatch, hostname, ssh.FingerprintSHA256(key))
		}
		return nil
	}
}

// KnownHostsCallback verifies host keys against OpenSSH known_hosts files.
// The excrypto key is re-parsed as a stock x/crypto key for the lookup.
func KnownHostsCallback(files ...string) (ssh.HostKeyCallback, error) {
	check, err := knownhosts.New(files...)
	if err != nil {
		return nil, fmt.Errorf("known_hosts: %w", err)
	}
	return knownHostsCallback(check), nil
}

func knownHostsCallback(check stdssh.HostKeyCallback) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		stdKey, err := stdssh.ParsePublicKey(key.Marshal())
		if err != nil {
			return fmt.Errorf("host key %s: %w", key.Type(), err)
		}
		if err := check(hostname, remote, stdKey); err != nil {
			return fmt.Errorf("%w: %w", ErrHostKeyMismatch, err)
		}
		return nil
	}
}

// KnownHostKeyAlgorithms returns the host key algorithms to offer addr so
// that the server presents a key type recorded for it in the known_hosts
// files. It returns nil when addr has no entries.
func KnownHostKeyAlgorithms(addr string, files ...string) ([]string, error) {
	check, err := knownhosts.New(files...)
	if err != nil {
		return nil, fmt.Errorf("known_hosts: %w", err)
	}
	return knownHostKeyAlgorithms(check, addr), nil
}

// knownHostKeyOrder is the preference order for recorded key types
var knownHostKeyOrder = []string{
	ssh.KeyAlgoED25519,
	ssh.KeyAlgoECDSA256,
	ssh.KeyAlgoECDSA384,
	ssh.KeyAlgoECDSA521,
	ssh.KeyAlgoRSASHA512,
	ssh.KeyAlgoRSASHA256,
	ssh.KeyAlgoRSA,
}

// knownHostKeyAlgorithms asks the database about a key it cannot know. The
// resulting KeyError lists every key recorded for addr.
func knownHostKeyAlgorithms(check stdssh.HostKeyCallback, addr string) []string {
	var keyErr *knownhosts.KeyError
	if err := check(addr, &net.TCPAddr{}, unlistedKey{}); !errors.As(err, &keyErr) {
		return nil
	}
	types := make(map[string]bool, len(keyErr.Want))
	for _, kk := range keyErr.Want {
		types[kk.Key.Type()] = true
	}
	if len(types) == 0 {
		return nil
	}

	var algs []string
	for _, alg := range knownHostKeyOrder {
		if types[keyTypeForAlgorithm(alg)] {
			algs = append(algs, alg)
		}
	}
	var other []string
	for kt := range types {
		if !contains(knownHostKeyOrder, kt) {
			other = append(other, kt)
		}
	}
	sort.Strings(other)
	return append(algs, other...)
}

func keyTypeForAlgorithm(alg string) string {
	switch alg {
	case ssh.KeyAlgoRSASHA512, ssh.KeyAlgoRSASHA256:
		return ssh.KeyAlgoRSA
	}
	return alg
}

// unlistedKey never matches a known_hosts entry
type unlistedKey struct{}

func (unlistedKey) Type() string    { return "unlisted" }
func (unlistedKey) Marshal() []byte { return []byte("unlisted") }
func (unlistedKey) Verify(data []byte, sig *stdssh.Signature) error {
	return errors.New("unlisted key cannot verify")
}

// recordingHostKeyCallback stores the host key details on the result before
// applying the configured policy.
func recordingHostKeyCallback(options *Options, res *ProbeResult) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		res.HostKeyType = key.Type()
		res.HostKeyFingerprint = ssh.FingerprintSHA256(key)
		res.HostKey = base64.StdEncoding.EncodeToString(key.Marshal())
		if options.hostKeyCallback == nil {
			options.Logger.Tracef("%s accepting %s host key %s", hostname, key.Type(), res.HostKeyFingerprint)
			return nil
		}
		return options.hostKeyCallback(hostname, remote, key)
	}
}
