// Package web hosts login strategies behind gin handlers and keeps the
// authenticated UID in a cookie session.
package web

import (
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/sirupsen/logrus"

	"github.com/runZeroInc/sshlogin/auth"
	"github.com/runZeroInc/sshlogin/strategy"
)

const (
	SessionUserID = "uid"
	SessionName   = "sshlogin"
	ContextUser   = "user"
)

// Options adjust how one login route reports its outcome
type Options struct {
	SuccessRedirect   string
	FailureRedirect   string
	BadRequestMessage string
}

// Authenticator dispatches login requests to registered strategies by name
type Authenticator struct {
	mu         sync.RWMutex
	strategies map[string]*strategy.Strategy
	log        *logrus.Logger
}

func New(log *logrus.Logger) *Authenticator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Authenticator{strategies: make(map[string]*strategy.Strategy), log: log}
}

// Use registers s under its name, replacing any strategy with the same name
func (a *Authenticator) Use(s *strategy.Strategy) *Authenticator {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.strategies[s.Name()] = s
	return a
}

func (a *Authenticator) Strategy(name string) (*strategy.Strategy, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.strategies[name]
	return s, ok
}

// Authenticate returns a handler that runs the named strategy for each
// request. A successful login stores the user's UID in the session.
func (a *Authenticator) Authenticate(name string, opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := a.Strategy(name)
		if !ok {
			a.log.Errorf("unknown authentication strategy %q", name)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "unknown authentication strategy"})
			return
		}
		s.Authenticate(c.Request.Context(), newRequest(c), &responder{c: c, s: s, opts: opts, log: a.log})
	}
}

// RequireLogin restores the session user through the named strategy and
// rejects requests without one
func (a *Authenticator) RequireLogin(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := a.Strategy(name)
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "unknown authentication strategy"})
			return
		}
		session := sessions.Default(c)
		uid, ok := session.Get(SessionUserID).(int)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "login required"})
			return
		}
		user, err := s.DeserializeUser(uid)
		if err != nil {
			a.log.Warnf("dropping session for uid %d: %v", uid, err)
			session.Clear()
			_ = session.Save()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "login required"})
			return
		}
		c.Set(ContextUser, user)
		c.Next()
	}
}

// Me reports the user restored by RequireLogin
func Me(c *gin.Context) {
	user, ok := UserFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "login required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Logout clears the session
func Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func UserFrom(c *gin.Context) (*strategy.User, bool) {
	v, ok := c.Get(ContextUser)
	if !ok {
		return nil, false
	}
	user, ok := v.(*strategy.User)
	return user, ok
}

// ginRequest reads form, JSON, and query parameters from a gin request
type ginRequest struct {
	c    *gin.Context
	json map[string]any
}

func newRequest(c *gin.Context) *ginRequest {
	r := &ginRequest{c: c}
	if c.ContentType() == binding.MIMEJSON && c.Request.Body != nil {
		if err := c.ShouldBindJSON(&r.json); err != nil {
			r.json = nil
		}
	}
	return r
}

func (r *ginRequest) BodyParam(name string) string {
	if r.json != nil {
		s, _ := r.json[name].(string)
		return s
	}
	return r.c.PostForm(name)
}

func (r *ginRequest) QueryParam(name string) string {
	return r.c.Query(name)
}

// responder maps strategy outcomes onto the HTTP response and session
type responder struct {
	c    *gin.Context
	s    *strategy.Strategy
	opts Options
	log  *logrus.Logger
}

func (r *responder) Success(user *strategy.User, info strategy.Info) {
	uid, err := r.s.SerializeUser(user)
	if err != nil {
		r.Error(err)
		return
	}
	session := sessions.Default(r.c)
	session.Set(SessionUserID, uid)
	if err := session.Save(); err != nil {
		r.Error(err)
		return
	}
	if r.opts.SuccessRedirect != "" {
		r.c.Redirect(http.StatusFound, r.opts.SuccessRedirect)
		return
	}
	r.c.JSON(http.StatusOK, gin.H{"user": user, "info": info})
}

func (r *responder) Fail(info strategy.Info) {
	if r.opts.FailureRedirect != "" {
		r.c.Redirect(http.StatusFound, failureTarget(r.opts.FailureRedirect, info))
		return
	}
	if info == nil {
		info = strategy.Info{}
	}
	r.c.AbortWithStatusJSON(http.StatusUnauthorized, info)
}

// failureTarget adds the failure message to the redirect's query string
func failureTarget(target string, info strategy.Info) string {
	msg, _ := info["message"].(string)
	if msg == "" {
		return target
	}
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set("error", msg)
	u.RawQuery = q.Encode()
	return u.String()
}

func (r *responder) Error(err error) {
	var bre *strategy.BadRequestError
	switch {
	case errors.As(err, &bre):
		msg := bre.Error()
		if r.opts.BadRequestMessage != "" && errors.Is(err, strategy.ErrMissingCredentials) {
			msg = r.opts.BadRequestMessage
		}
		r.c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
	case errors.Is(err, auth.ErrTransport):
		r.log.Errorf("login service error: %v", err)
		r.c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "login service unavailable"})
	default:
		r.log.Errorf("login error: %v", err)
		r.c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
