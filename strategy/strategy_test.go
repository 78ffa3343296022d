package strategy

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/runZeroInc/excrypto/x/crypto/ssh"
	"github.com/sirupsen/logrus"
	stdssh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/runZeroInc/sshlogin/account"
	"github.com/runZeroInc/sshlogin/auth"
	"github.com/runZeroInc/sshlogin/badkeys"
	"github.com/runZeroInc/sshlogin/internal/sshtest"
)

var testAccounts = account.Static{"alice": 1001, "bob": 1002}

func newTestServer(t *testing.T) *sshtest.Server {
	return sshtest.NewServer(t, sshtest.Config{
		Passwords:         map[string]string{"alice": "correct horse", "carol": "battery"},
		KeyboardPasswords: map[string]string{"bob": "staple"},
		AuthorizedKeys:    map[string]ssh.PublicKey{"alice": sshtest.ClientPublicKey(t)},
	})
}

func newTestStrategy(t *testing.T, srv *sshtest.Server, verify VerifyFunc) *Strategy {
	t.Helper()
	s, err := New(Config{
		Host:            srv.Host,
		Port:            srv.Port,
		Timeout:         5 * time.Second,
		PrivateKeyField: "key",
	}, verify)
	if err != nil {
		t.Fatal(err)
	}
	return s.WithLookup(testAccounts).WithLogger(logrus.StandardLogger())
}

func form(kv ...string) Params {
	body := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		body.Set(kv[i], kv[i+1])
	}
	return Params{Body: body}
}

func run(t *testing.T, s *Strategy, req Request) *Recorder {
	t.Helper()
	rec := &Recorder{}
	s.Authenticate(context.Background(), req, rec)
	if rec.Calls != 1 {
		t.Fatalf("expected exactly one outcome, got %d", rec.Calls)
	}
	return rec
}

func TestAuthenticateSuccess(t *testing.T) {
	srv := newTestServer(t)
	s := newTestStrategy(t, srv, nil)

	rec := run(t, s, form("username", "alice", "password", "correct horse"))
	if rec.Result != ResultSuccess {
		t.Fatalf("expected success, got %s: %v %v", rec.Result, rec.Info, rec.Err)
	}
	want := &User{Username: "alice", UID: 1001, ID: 1001}
	if diff := cmp.Diff(want, rec.User); diff != "" {
		t.Errorf("user mismatch (-want +got):\n%s", diff)
	}
	if srv.Logins() != 1 {
		t.Errorf("expected one login, got %d", srv.Logins())
	}
}

func TestAuthenticateKeyboardInteractive(t *testing.T) {
	srv := newTestServer(t)
	s := newTestStrategy(t, srv, nil)

	rec := run(t, s, form("username", "bob", "password", "staple"))
	if rec.Result != ResultSuccess || rec.User.UID != 1002 {
		t.Fatalf("expected success for bob, got %s %+v %v", rec.Result, rec.User, rec.Err)
	}
}

func TestAuthenticatePrivateKey(t *testing.T) {
	srv := newTestServer(t)
	s := newTestStrategy(t, srv, nil)

	rec := run(t, s, form("username", "alice", "key", sshtest.ClientKeyPEM))
	if rec.Result != ResultSuccess {
		t.Fatalf("expected success, got %s: %v", rec.Result, rec.Err)
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	srv := newTestServer(t)
	s := newTestStrategy(t, srv, nil)

	rec := run(t, s, form("username", "alice", "password", "Tr0ub4dor&3"))
	if rec.Result != ResultFail {
		t.Fatalf("expected failure, got %s: %v", rec.Result, rec.Err)
	}
	if rec.User != nil {
		t.Errorf("failure produced a user: %+v", rec.User)
	}
	if diff := cmp.Diff(Info{"message": DefaultRejectedMessage}, rec.Info); diff != "" {
		t.Errorf("info mismatch (-want +got):\n%s", diff)
	}
}

func TestAuthenticateUnreachable(t *testing.T) {
	host, port := sshtest.UnusedAddr(t)
	s, err := New(Config{Host: host, Port: port, Timeout: 2 * time.Second}, nil)
	if err != nil {
		t.Fatal(err)
	}
	s = s.WithLookup(testAccounts)

	rec := run(t, s, form("username", "alice", "password", "correct horse"))
	if rec.Result != ResultError {
		t.Fatalf("expected error, got %s", rec.Result)
	}
	if !errors.Is(rec.Err, auth.ErrTransport) {
		t.Errorf("expected a transport error, got %v", rec.Err)
	}
}

func TestAuthenticateMissingCredentials(t *testing.T) {
	srv := newTestServer(t)
	s := newTestStrategy(t, srv, nil)

	for _, req := range []Params{
		form("password", "correct horse"),
		form("username", "alice"),
		{Query: url.Values{"username": {"alice"}}},
	} {
		rec := run(t, s, req)
		if rec.Result != ResultError {
			t.Fatalf("expected error, got %s", rec.Result)
		}
		if !errors.Is(rec.Err, ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", rec.Err)
		}
		if rec.Err.Error() != DefaultBadRequestMessage {
			t.Errorf("unexpected message %q", rec.Err.Error())
		}
	}
	if srv.Connections() != 0 {
		t.Errorf("bad requests made %d connections", srv.Connections())
	}
}

func TestAuthenticateInvalidPrivateKey(t *testing.T) {
	srv := newTestServer(t)
	s := newTestStrategy(t, srv, nil)

	for _, req := range []Params{
		form("username", "alice", "key", "not a key"),
		form("username", "alice", "key", sshtest.EncryptedClientKeyPEM),
		form("username", "alice", "key", sshtest.EncryptedClientKeyPEM, "password", "wrong"),
	} {
		rec := run(t, s, req)
		if rec.Result != ResultError || !errors.Is(rec.Err, ErrInvalidPrivateKey) {
			t.Errorf("expected ErrInvalidPrivateKey, got %s %v", rec.Result, rec.Err)
		}
	}
	if srv.Connections() != 0 {
		t.Errorf("bad keys made %d connections", srv.Connections())
	}
}

func TestAuthenticateUnknownAccount(t *testing.T) {
	srv := newTestServer(t)
	s := newTestStrategy(t, srv, nil)

	rec := run(t, s, form("username", "carol", "password", "battery"))
	if rec.Result != ResultError {
		t.Fatalf("expected error, got %s", rec.Result)
	}
	if !errors.Is(rec.Err, account.ErrUnknownUser) {
		t.Errorf("expected ErrUnknownUser, got %v", rec.Err)
	}
}

func TestAuthenticateVerify(t *testing.T) {
	srv := newTestServer(t)
	boom := errors.New("directory offline")

	tests := []struct {
		name   string
		verify VerifyFunc
		want   *Recorder
	}{
		{
			name: "refused",
			verify: func(ctx context.Context, u *User) (*User, Info, error) {
				return nil, Info{"message": "account disabled"}, nil
			},
			want: &Recorder{Result: ResultFail, Info: Info{"message": "account disabled"}, Calls: 1},
		},
		{
			name: "transformed",
			verify: func(ctx context.Context, u *User) (*User, Info, error) {
				return &User{Username: "Alice Liddell", UID: u.UID}, Info{"scope": "admin"}, nil
			},
			want: &Recorder{
				Result: ResultSuccess,
				User:   &User{Username: "Alice Liddell", UID: 1001, ID: 1001},
				Info:   Info{"scope": "admin"},
				Calls:  1,
			},
		},
		{
			name: "approved",
			verify: func(ctx context.Context, u *User) (*User, Info, error) {
				return u, nil, nil
			},
			want: &Recorder{Result: ResultSuccess, User: &User{Username: "alice", UID: 1001, ID: 1001}, Calls: 1},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := run(t, newTestStrategy(t, srv, tc.verify), form("username", "alice", "password", "correct horse"))
			if diff := cmp.Diff(tc.want, rec); diff != "" {
				t.Errorf("outcome mismatch (-want +got):\n%s", diff)
			}
		})
	}

	t.Run("error", func(t *testing.T) {
		s := newTestStrategy(t, srv, func(ctx context.Context, u *User) (*User, Info, error) {
			return nil, nil, boom
		})
		rec := run(t, s, form("username", "alice", "password", "correct horse"))
		if rec.Result != ResultError || !errors.Is(rec.Err, boom) {
			t.Errorf("expected verify error, got %s %v", rec.Result, rec.Err)
		}
	})

	t.Run("not called on rejection", func(t *testing.T) {
		called := false
		s := newTestStrategy(t, srv, func(ctx context.Context, u *User) (*User, Info, error) {
			called = true
			return u, nil, nil
		})
		rec := run(t, s, form("username", "alice", "password", "wrong"))
		if rec.Result != ResultFail || called {
			t.Errorf("expected failure without verify, got %s called=%v", rec.Result, called)
		}
	})
}

func TestAuthenticateVerifyRequest(t *testing.T) {
	srv := newTestServer(t)
	s, err := NewWithRequest(Config{Host: srv.Host, Port: srv.Port}, func(ctx context.Context, req Request, u *User) (*User, Info, error) {
		if req.BodyParam("otp") != "123456" {
			return nil, Info{"message": "bad otp"}, nil
		}
		return u, Info{"otp": true}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	s = s.WithLookup(testAccounts)
	if !s.Config().PassReqToCallback {
		t.Errorf("expected PassReqToCallback to be implied")
	}

	rec := run(t, s, form("username", "alice", "password", "correct horse", "otp", "123456"))
	if rec.Result != ResultSuccess || rec.Info["otp"] != true {
		t.Errorf("expected success, got %s %v", rec.Result, rec.Info)
	}
	rec = run(t, s, form("username", "alice", "password", "correct horse", "otp", "000000"))
	if rec.Result != ResultFail || rec.Info["message"] != "bad otp" {
		t.Errorf("expected failure, got %s %v", rec.Result, rec.Info)
	}
}

type listChecker struct {
	bad *badkeys.Blocklist
	err error
}

func (c *listChecker) Check(pub ssh.PublicKey) (*badkeys.Result, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.bad.Check(pub)
}

func TestAuthenticateCompromisedKey(t *testing.T) {
	srv := newTestServer(t)

	tset := badkeys.NewBlocklist()
	prefix, err := badkeys.PrefixFromPublicKey(sshtest.ClientPublicKey(t))
	if err != nil {
		t.Fatal(err)
	}
	repo := badkeys.Repo{ID: 1, Type: badkeys.RepoTypeLocal, Repo: "/etc/ssh/revoked_keys"}
	if err := tset.Add(prefix, repo, ""); err != nil {
		t.Fatal(err)
	}

	s := newTestStrategy(t, srv, nil).WithKeyChecker(&listChecker{bad: tset})
	rec := run(t, s, form("username", "alice", "key", sshtest.ClientKeyPEM))
	if rec.Result != ResultFail || rec.Info["message"] != CompromisedKeyMessage {
		t.Errorf("expected compromised key failure, got %s %v", rec.Result, rec.Info)
	}
	if srv.Connections() != 0 {
		t.Errorf("compromised key made %d connections", srv.Connections())
	}

	// Password logins are not affected by the key check
	rec = run(t, s, form("username", "alice", "password", "correct horse"))
	if rec.Result != ResultSuccess {
		t.Errorf("expected password success, got %s %v", rec.Result, rec.Err)
	}

	s = s.WithKeyChecker(&listChecker{err: badkeys.ErrNoBlocklist})
	rec = run(t, s, form("username", "alice", "key", sshtest.ClientKeyPEM))
	if rec.Result != ResultError || !errors.Is(rec.Err, badkeys.ErrNoBlocklist) {
		t.Errorf("expected checker error, got %s %v", rec.Result, rec.Err)
	}
}

func TestAuthenticateConcurrent(t *testing.T) {
	srv := newTestServer(t)
	s := newTestStrategy(t, srv, nil)

	var wg sync.WaitGroup
	results := make([]*Recorder, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			password := "correct horse"
			if i%2 == 1 {
				password = "wrong"
			}
			rec := &Recorder{}
			s.Authenticate(context.Background(), form("username", "alice", "password", password), rec)
			results[i] = rec
		}(i)
	}
	wg.Wait()

	for i, rec := range results {
		want := ResultSuccess
		if i%2 == 1 {
			want = ResultFail
		}
		if rec.Calls != 1 || rec.Result != want {
			t.Errorf("attempt %d: got %s with %d calls, expected %s", i, rec.Result, rec.Calls, want)
		}
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	s, err := New(Config{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	s = s.WithLookup(testAccounts)

	uid, err := s.SerializeUser(&User{Username: "bob", UID: 1002, ID: 1002})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.DeserializeUser(uid)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(&User{Username: "bob", UID: 1002, ID: 1002}, got); diff != "" {
		t.Errorf("user mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.SerializeUser(nil); !errors.Is(err, ErrNoUser) {
		t.Errorf("expected ErrNoUser, got %v", err)
	}
	if _, err := s.DeserializeUser(4242); !errors.Is(err, account.ErrUnknownUID) {
		t.Errorf("expected ErrUnknownUID, got %v", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	s, err := New(Config{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := Config{
		Name:              "ssh",
		UsernameField:     "username",
		PasswordField:     "password",
		Host:              "localhost",
		Port:              22,
		BadRequestMessage: "Missing credentials",
		RejectedMessage:   DefaultRejectedMessage,
	}
	if diff := cmp.Diff(want, s.Config()); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if s.Name() != "ssh" {
		t.Errorf("unexpected name %q", s.Name())
	}
	if got := s.ProbeOptions().Addr(); got != "localhost:22" {
		t.Errorf("unexpected address %s", got)
	}

	if _, err := New(Config{Port: 70000}, nil); err == nil {
		t.Errorf("expected invalid port to fail")
	}
	if _, err := New(Config{HostKeyType: "dsa"}, nil); err == nil {
		t.Errorf("expected unknown host key type to fail")
	}
	if _, err := New(Config{ClientVersion: "OpenSSH 9.8"}, nil); err == nil {
		t.Errorf("expected client version with a space to fail")
	}
}

func TestConfigClientVersion(t *testing.T) {
	s, err := New(Config{ClientVersion: "sshlogin_1.0"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := s.ProbeOptions().ClientVersion; got != "sshlogin_1.0" {
		t.Errorf("unexpected client version %q", got)
	}
	s, err = New(Config{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := s.ProbeOptions().ClientVersion; got != auth.DefaultClientVersion {
		t.Errorf("unexpected default client version %q", got)
	}
}

func TestAuthenticateKnownHosts(t *testing.T) {
	srv := sshtest.NewServer(t, sshtest.Config{
		Passwords:    map[string]string{"alice": "correct horse"},
		ECDSAHostKey: true,
	})
	pub, err := stdssh.ParsePublicKey(srv.HostKey.PublicKey().Marshal())
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(srv.Addr)}, pub) + "\n"
	if err := os.WriteFile(path, []byte(line), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := New(Config{
		Host:       srv.Host,
		Port:       srv.Port,
		Timeout:    5 * time.Second,
		KnownHosts: []string{path},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	s = s.WithLookup(testAccounts)

	rec := run(t, s, form("username", "alice", "password", "correct horse"))
	if rec.Result != ResultSuccess {
		t.Fatalf("expected success against a known host, got %s: %v %v", rec.Result, rec.Info, rec.Err)
	}
}
