package cmd

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmcloughlin/professor"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/runZeroInc/sshlogin/web"
)

// serveCmd runs the login service
var serveCmd = &cobra.Command{
	Use:     "serve [--listen 127.0.0.1:8080] [--host localhost] [--port 22]",
	Short:   "Serves POST /login, GET /me, and POST /logout backed by SSH logins",
	Long:    "Serves POST /login, GET /me, and POST /logout backed by SSH logins",
	PreRunE: bindStrategyFlags,
	Run:     runServe,
}

var (
	gListen          string
	gSessionSecret   string
	gSessionMaxAge   int
	gSecureCookie    bool
	gAllowUsers      []string
	gSuccessRedirect string
	gFailureRedirect string
	gPProfPort       string
)

func init() {
	addStrategyFlags(serveCmd)
	serveCmd.Flags().StringVar(&gListen, "listen", "127.0.0.1:8080", "The address to serve HTTP on")
	serveCmd.Flags().StringVar(&gSessionSecret, "session-secret", "", "The cookie signing secret (random when empty, sessions then end on restart)")
	serveCmd.Flags().IntVar(&gSessionMaxAge, "session-max-age", 3600, "The session lifetime in seconds")
	serveCmd.Flags().BoolVar(&gSecureCookie, "secure-cookie", false, "Only send the session cookie over HTTPS")
	serveCmd.Flags().StringSliceVar(&gAllowUsers, "allow-users", nil, "Only accept these usernames after a successful SSH login")
	serveCmd.Flags().StringVar(&gSuccessRedirect, "success-redirect", "", "Redirect here after a successful login instead of returning JSON")
	serveCmd.Flags().StringVar(&gFailureRedirect, "failure-redirect", "", "Redirect here after a failed login instead of returning JSON")
	serveCmd.Flags().StringVar(&gPProfPort, "pprof", "", "Start a Go pprof debug listener on the provided port")
}

func startProfiler(log *logrus.Logger) {
	if gPProfPort == "" {
		return
	}
	addr := "127.0.0.1:" + gPProfPort
	log.Infof("starting pprof listener on %s", addr)
	professor.Launch(addr)
}

func runServe(cmd *cobra.Command, args []string) {
	log := configureLogging()

	if limit, err := raiseFileLimit(); err != nil {
		log.Warnf("could not raise the open file limit: %v", err)
	} else {
		log.Debugf("open file limit is %d", limit)
	}

	startProfiler(log)

	cfg, err := loadStrategyConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}
	s, _, err := buildStrategy(cfg, allowUsers(gAllowUsers), log)
	if err != nil {
		log.Fatalf("failed to configure strategy: %v", err)
	}

	secret := []byte(gSessionSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			log.Fatalf("failed to generate a session secret: %v", err)
		}
		log.Warnf("no --session-secret given, sessions will not survive a restart")
	}

	if log.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := web.NewRouter(web.New(log).Use(s), web.RouterConfig{
		Strategy:      s.Name(),
		SessionSecret: secret,
		SessionMaxAge: gSessionMaxAge,
		SecureCookie:  gSecureCookie,
		Login: web.Options{
			SuccessRedirect:   gSuccessRedirect,
			FailureRedirect:   gFailureRedirect,
			BadRequestMessage: cfg.BadRequestMessage,
		},
	})

	srv := &http.Server{
		Addr:              gListen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ProbeOptions().Timeout*3)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("shutdown: %v", err)
		}
	}()

	log.Infof("serving %s logins for %s on %s", s.Name(), s.ProbeOptions().Addr(), gListen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("failed to serve: %v", err)
	}
	log.Infof("stopped")
}
