// Package api serves the ChatWarden dashboard: login, session status, the
// pairing QR code, mute management, manual greeting runs and the live status
// WebSocket.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/BTreeMap/ChatWarden/internal/audit"
	"github.com/BTreeMap/ChatWarden/internal/greeting"
	"github.com/BTreeMap/ChatWarden/internal/moderation"
	"github.com/BTreeMap/ChatWarden/internal/session"
	"github.com/BTreeMap/ChatWarden/internal/statushub"
)

const (
	DefaultAddr     = ":3000"
	DefaultUsername = "admin"
	// DefaultSessionSecret is only meant for local development.
	DefaultSessionSecret = "chatwarden-dev-secret"

	defaultLoginRate  = rate.Limit(1.0 / 3.0)
	defaultLoginBurst = 5
	// MutedLogLimit caps the deletion log returned by GET /muted.
	MutedLogLimit = 50
)

// Greeter runs a greeting on demand.
type Greeter interface {
	Run(ctx context.Context, kind greeting.Kind) (*greeting.RunReport, error)
}

// Deps are the collaborators of the dashboard. Store and Session are required.
type Deps struct {
	Store   *moderation.Store
	Policy  *moderation.Policy
	Session *session.State
	Hub     *statushub.Hub
	Greeter Greeter
	Audit   audit.Sink
}

// Opts holds server configuration.
type Opts struct {
	Addr          string
	Username      string
	PasswordHash  string
	SessionSecret string
	TokenTTL      time.Duration
	LoginRate     rate.Limit
	LoginBurst    int
}

// Option configures Opts.
type Option func(*Opts)

func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithCredentials sets the dashboard login. hash must be a bcrypt hash.
func WithCredentials(username, hash string) Option {
	return func(o *Opts) {
		o.Username = username
		o.PasswordHash = hash
	}
}

func WithSessionSecret(secret string) Option {
	return func(o *Opts) { o.SessionSecret = secret }
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TokenTTL = ttl }
}

// WithLoginRate sets the per-IP login attempt rate.
func WithLoginRate(r rate.Limit, burst int) Option {
	return func(o *Opts) {
		o.LoginRate = r
		o.LoginBurst = burst
	}
}

// Server is the dashboard HTTP server.
type Server struct {
	deps    Deps
	opts    Opts
	jwt     *JWTService
	limiter *loginLimiter
	engine  *gin.Engine
	httpSrv *http.Server
	bgCtx   context.Context
	cancel  context.CancelFunc
}

// NewServer builds the router. Without a password hash logins always fail.
func NewServer(deps Deps, opts ...Option) (*Server, error) {
	if deps.Store == nil || deps.Session == nil {
		return nil, errors.New("api: store and session are required")
	}
	if deps.Audit == nil {
		deps.Audit = audit.LogSink{}
	}
	cfg := Opts{
		Addr:       DefaultAddr,
		Username:   DefaultUsername,
		TokenTTL:   DefaultTokenTTL,
		LoginRate:  defaultLoginRate,
		LoginBurst: defaultLoginBurst,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.SessionSecret == "" {
		slog.Warn("Server: SESSION_SECRET not set, using development secret")
		cfg.SessionSecret = DefaultSessionSecret
	}
	if cfg.PasswordHash == "" {
		slog.Warn("Server: no dashboard password configured, login disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:    deps,
		opts:    cfg,
		jwt:     NewJWTService(cfg.SessionSecret, cfg.TokenTTL),
		limiter: newLoginLimiter(cfg.LoginRate, cfg.LoginBurst),
		bgCtx:   ctx,
		cancel:  cancel,
	}
	s.engine = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", s.healthHandler)
	r.POST("/login", s.limiter.middleware(), s.loginHandler)
	r.POST("/logout", s.logoutHandler)

	authed := r.Group("/", authMiddleware(s.jwt))
	{
		authed.GET("/status", s.statusHandler)
		authed.GET("/qrcode", s.qrCodeHandler)
		authed.GET("/muted", s.mutedHandler)
		authed.POST("/muted/remove", s.unmuteHandler)
		authed.GET("/admins", s.adminsHandler)
		authed.POST("/greeting/:kind", s.greetingHandler)
		authed.GET("/ws", s.wsHandler)
	}
	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Server.Start: dashboard listening", "addr", s.opts.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and cancels background greeting runs.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("Server.request", "method", c.Request.Method, "path", c.FullPath(),
			"status", c.Writer.Status(), "duration", time.Since(start))
	}
}
