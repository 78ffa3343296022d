package auth

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/runZeroInc/excrypto/x/crypto/ssh"
)

// Probe opens a single connection to the configured login service and tries
// the credentials. The connection is always closed before Probe returns; it
// only tells the caller whether the login would have been accepted.
func Probe(ctx context.Context, creds *Credentials, options *Options) *ProbeResult {
	res := NewProbeResult()
	res.Host = options.Host
	res.Port = options.Port
	res.User = creds.Username

	addr := options.Addr()

	// Track elapsed processing time
	stime := time.Now()
	defer func() {
		res.Elapsed = time.Since(stime)
	}()

	steps, err := creds.authSteps(res)
	if err != nil {
		res.Stage = StageCredentials
		return res.setTransportError(err)
	}

	conf := &ssh.ClientConfig{
		ClientVersion:     "SSH-2.0-" + options.ClientVersion,
		User:              creds.Username,
		Timeout:           options.Timeout,
		HostKeyAlgorithms: options.HostKeyAlgs,
		HostKeyCallback:   recordingHostKeyCallback(options, res),
		BannerCallback: func(banner string) error {
			res.Banner = banner
			return nil
		},
	}

	// Connect to the service
	d := net.Dialer{
		Timeout: conf.Timeout,
	}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		options.Logger.Tracef("%s connection failed: %v", addr, err)
		res.Unreachable = true
		return res.setTransportError(withContextErr(ctx, err))
	}

	// Force a connection close at exit
	defer conn.Close()

	res.Stage = StageConnect
	options.Logger.Tracef("%s connection established %v", addr, conn.RemoteAddr())

	// Close the socket if the caller gives up before the handshake finishes
	probeCtx, probeCancel := context.WithCancel(ctx)
	defer probeCancel()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				options.Logger.Errorf("panic: ssh close handler for %s %v", addr, r)
			}
		}()
		CloseOnDone(probeCtx, conn)
	}()

	// Prevent stalls during version exchange and kex
	_ = conn.SetDeadline(time.Now().Add(options.Timeout))

	uac, err := ssh.NewUnauthClientConn(conn, addr, conf)
	if uac != nil {
		res.Version = uac.ServerVersion()
	}
	if err != nil {
		options.Logger.Tracef("%s kex failed: %v", addr, err)
		return res.setTransportError(withContextErr(ctx, err))
	}
	res.Stage = StageKex
	options.Logger.Tracef("%s kex completed with %s", addr, res.Version)

	// Extend the deadline again for the ssh-userauth request
	_ = conn.SetDeadline(time.Now().Add(options.Timeout))

	exts, err := uac.RequestUserAuth()
	if err != nil {
		return res.setTransportError(withContextErr(ctx, err))
	}
	res.Stage = StageUserAuth

	// Use a multiple of the timeout for the interactive exchanges
	_ = conn.SetDeadline(time.Now().Add(options.Timeout * 3))

	var allowed []string
	for _, step := range steps {
		if len(allowed) > 0 && !contains(allowed, step.name) {
			options.Logger.Tracef("%s skipping %s, server allows %v", addr, step.name, allowed)
			continue
		}
		options.Logger.Tracef("%s trying %s for user %s", addr, step.name, creds.Username)
		res.Attempted = append(res.Attempted, step.name)

		ares, methods, err := uac.Authenticate(step.method, exts)
		res.Result = ares.String()
		if len(methods) > 0 {
			allowed = methods
			res.Methods = methods
		}
		if err != nil {
			return res.setTransportError(withContextErr(ctx, fmt.Errorf("%s: %w", step.name, err)))
		}
		if ares == ssh.AuthResultSuccess {
			res.Stage = StageAuth
			res.Method = step.name
			res.Outcome = OutcomeAuthenticated
			options.Logger.Debugf("%s accepted %s login for user %s", addr, step.name, creds.Username)
			return res
		}
	}

	options.Logger.Debugf("%s rejected user %s after %v", addr, creds.Username, res.Attempted)
	return res.setRejected()
}

// CloseOnDone closes every closer once ctx is done
func CloseOnDone(ctx context.Context, c ...SSHCloser) {
	<-ctx.Done()
	for _, cl := range c {
		cl.Close()
	}
}

type SSHCloser interface {
	Close() error
}

func withContextErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return fmt.Errorf("%w: %w", cerr, err)
	}
	return err
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
