package web

import (
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type RouterConfig struct {
	Strategy      string
	SessionSecret []byte
	SessionMaxAge int
	SecureCookie  bool
	Login         Options
}

// NewRouter serves POST /login, GET /me, and POST /logout for one strategy
func NewRouter(a *Authenticator, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(a.log))

	store := cookie.NewStore(cfg.SessionSecret)
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   cfg.SessionMaxAge,
		HttpOnly: true,
		Secure:   cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(SessionName, store))

	r.POST("/login", a.Authenticate(cfg.Strategy, cfg.Login))
	r.GET("/me", a.RequireLogin(cfg.Strategy), Me)
	r.POST("/logout", Logout)
	return r
}

func requestLogger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		stime := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"client":  c.ClientIP(),
			"elapsed": time.Since(stime).Round(time.Millisecond),
		}).Debug("request")
	}
}
