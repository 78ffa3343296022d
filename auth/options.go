package auth

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/runZeroInc/excrypto/x/crypto/ssh"
)

// Options describes where and how a probe connects. Options values are
// treated as immutable; the With* helpers return modified copies.
type Options struct {
	Host          string
	Port          int
	Timeout       time.Duration
	ClientVersion string
	HostKeyAlgs   []string
	Logger        *logrus.Logger

	hostKeyCallback ssh.HostKeyCallback
}

func NewOptions(host string, port int) *Options {
	if host == "" {
		host = DefaultHost
	}
	if port == 0 {
		port = DefaultPort
	}
	return &Options{
		Host:          host,
		Port:          port,
		Timeout:       DefaultTimeout,
		ClientVersion: DefaultClientVersion,
		Logger:        logrus.StandardLogger(),
	}
}

// Addr returns the host:port dial address
func (o *Options) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

func (o *Options) WithTimeout(d time.Duration) *Options {
	n := *o
	n.Timeout = d
	return &n
}

func (o *Options) WithHostKeyAlgs(algs []string) *Options {
	n := *o
	n.HostKeyAlgs = algs
	return &n
}

// WithHostKeyType limits the offered host key algorithms to one key family
// (rsa, ecdsa, ed25519).
func (o *Options) WithHostKeyType(kt string) (*Options, error) {
	kt = strings.ToLower(strings.TrimSpace(kt))
	if kt == "" {
		return o, nil
	}
	algs, ok := HostKeyTypeMap[kt]
	if !ok {
		return nil, fmt.Errorf("unknown host key type %q", kt)
	}
	return o.WithHostKeyAlgs(algs), nil
}

func (o *Options) WithClientVersion(v string) *Options {
	n := *o
	n.ClientVersion = v
	return &n
}

func (o *Options) WithLogger(l *logrus.Logger) *Options {
	n := *o
	n.Logger = l
	return &n
}

// WithKnownHosts verifies the server's host key against known_hosts files.
// Unless host key algorithms were already chosen, only the key types recorded
// for the target are offered.
func (o *Options) WithKnownHosts(files ...string) (*Options, error) {
	check, err := knownhosts.New(files...)
	if err != nil {
		return nil, fmt.Errorf("known_hosts: %w", err)
	}
	n := o.WithHostKeyCallback(knownHostsCallback(check))
	if len(n.HostKeyAlgs) == 0 {
		n.HostKeyAlgs = knownHostKeyAlgorithms(check, o.Addr())
		if len(n.HostKeyAlgs) == 0 && o.Logger != nil {
			o.Logger.Warnf("no known_hosts entries for %s, every host key will be refused", o.Addr())
		}
	}
	return n, nil
}

// WithHostKeyCallback sets the policy used to accept the server's host key.
// Without one, any host key is accepted and its fingerprint is logged.
func (o *Options) WithHostKeyCallback(cb ssh.HostKeyCallback) *Options {
	n := *o
	n.hostKeyCallback = cb
	return &n
}
