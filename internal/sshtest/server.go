// Package sshtest runs throwaway SSH login services for tests.
package sshtest

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/runZeroInc/excrypto/x/crypto/ssh"
)

type Config struct {
	// Passwords accepted through password auth, by username
	Passwords map[string]string
	// Passwords accepted through keyboard-interactive auth, by username
	KeyboardPasswords map[string]string
	// Public keys accepted through publickey auth, by username
	AuthorizedKeys map[string]ssh.PublicKey
	Banner         string
	// ECDSAHostKey adds an ECDSA host key next to the ed25519 one
	ECDSAHostKey bool
}

type Server struct {
	Addr    string
	Host    string
	Port    int
	HostKey ssh.Signer
	// ECDSAHostKey is nil unless Config.ECDSAHostKey is set
	ECDSAHostKey ssh.Signer

	ln     net.Listener
	conns  atomic.Int64
	logins atomic.Int64
	wg     sync.WaitGroup
}

// NewServer starts a login service on a loopback port. It is stopped by the
// test cleanup.
func NewServer(t testing.TB, cfg Config) *Server {
	t.Helper()
	hostKey, err := ssh.ParsePrivateKey([]byte(HostKeyPEM))
	if err != nil {
		t.Fatalf("failed to parse host key: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	srv := &Server{ln: ln, HostKey: hostKey}
	if cfg.ECDSAHostKey {
		if srv.ECDSAHostKey, err = ssh.ParsePrivateKey([]byte(ECDSAHostKeyPEM)); err != nil {
			t.Fatalf("failed to parse ecdsa host key: %v", err)
		}
	}
	srv.Addr = ln.Addr().String()
	srv.Host, srv.Port = splitAddr(t, srv.Addr)

	conf := srv.serverConfig(cfg)
	srv.wg.Add(1)
	go srv.serve(conf)
	t.Cleanup(srv.Close)
	return srv
}

// Connections returns the number of accepted TCP connections
func (s *Server) Connections() int64 {
	return s.conns.Load()
}

// Logins returns the number of accepted credentials
func (s *Server) Logins() int64 {
	return s.logins.Load()
}

func (s *Server) Close() {
	_ = s.ln.Close()
	s.wg.Wait()
}

func (s *Server) serverConfig(cfg Config) *ssh.ServerConfig {
	conf := &ssh.ServerConfig{}
	if len(cfg.Passwords) > 0 {
		conf.PasswordCallback = func(c ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			want, ok := cfg.Passwords[c.User()]
			if ok && want == string(password) {
				s.logins.Add(1)
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		}
	}
	if len(cfg.KeyboardPasswords) > 0 {
		conf.KeyboardInteractiveCallback = func(c ssh.ConnMetadata, client ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			answers, err := client(c.User(), "Login", []string{"Password: "}, []bool{false})
			if err != nil {
				return nil, err
			}
			want, ok := cfg.KeyboardPasswords[c.User()]
			if ok && len(answers) == 1 && answers[0] == want {
				s.logins.Add(1)
				return nil, nil
			}
			return nil, fmt.Errorf("keyboard-interactive rejected for %q", c.User())
		}
	}
	if len(cfg.AuthorizedKeys) > 0 {
		conf.PublicKeyCallback = func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			want, ok := cfg.AuthorizedKeys[c.User()]
			if ok && string(want.Marshal()) == string(key.Marshal()) {
				s.logins.Add(1)
				return nil, nil
			}
			return nil, fmt.Errorf("public key rejected for %q", c.User())
		}
	}
	if cfg.Banner != "" {
		conf.BannerCallback = func(c ssh.ConnMetadata) string {
			return cfg.Banner
		}
	}
	conf.AddHostKey(s.HostKey)
	if s.ECDSAHostKey != nil {
		conf.AddHostKey(s.ECDSAHostKey)
	}
	return conf
}

func (s *Server) serve(conf *ssh.ServerConfig) {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.conns.Add(1)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(c, conf)
		}()
	}
}

func (s *Server) handle(c net.Conn, conf *ssh.ServerConfig) {
	defer c.Close()
	sconn, chans, reqs, err := ssh.NewServerConn(c, conf)
	if err != nil {
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)
	for nc := range chans {
		_ = nc.Reject(ssh.Prohibited, "login probe only")
	}
}

// UnusedAddr returns a loopback address that nothing is listening on
func UnusedAddr(t testing.TB) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return splitAddr(t, addr)
}

// NewRawServer accepts TCP connections and hands them to fn instead of
// speaking SSH. It is used to simulate broken or stalled services.
func NewRawServer(t testing.TB, fn func(net.Conn)) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				fn(c)
			}()
		}
	}()
	return splitAddr(t, ln.Addr().String())
}

func splitAddr(t testing.TB, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("bad address %s: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("bad port in %s: %v", addr, err)
	}
	return host, port
}
