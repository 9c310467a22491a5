package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/BTreeMap/ChatWarden/internal/models"
)

const (
	// SessionCookie carries the dashboard token for browser clients.
	SessionCookie = "chatwarden_session"

	DefaultTokenTTL = 12 * time.Hour
	issuer          = "chatwarden"
	usernameKey     = "username"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Claims are the JWT claims issued at login.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTService issues and validates dashboard tokens.
type JWTService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewJWTService(secret string, ttl time.Duration) *JWTService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &JWTService{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// GenerateToken signs an HS256 token for username.
func (j *JWTService) GenerateToken(username string) (string, error) {
	now := j.now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses token and checks signature, issuer and expiry.
func (j *JWTService) ValidateToken(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a bcrypt hash with a candidate password.
func CheckPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// authMiddleware accepts "Authorization: Bearer <token>" or the session cookie.
func authMiddleware(j *JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		} else if cookie, err := c.Cookie(SessionCookie); err == nil {
			token = cookie
		}
		if token == "" {
			writeJSONResponse(c, http.StatusUnauthorized, models.Error("Authentication required"))
			c.Abort()
			return
		}
		claims, err := j.ValidateToken(token)
		if err != nil {
			slog.Debug("Server.authMiddleware: rejected token", "path", c.Request.URL.Path, "error", err)
			writeJSONResponse(c, http.StatusUnauthorized, models.Error("Invalid or expired session"))
			c.Abort()
			return
		}
		c.Set(usernameKey, claims.Username)
		c.Next()
	}
}

// loginLimiter throttles login attempts per client IP.
type loginLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newLoginLimiter(r rate.Limit, burst int) *loginLimiter {
	return &loginLimiter{limiters: make(map[string]*rate.Limiter), rate: r, burst: burst}
}

func (l *loginLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		// bounded map; the dashboard has a handful of users
		if len(l.limiters) > 10000 {
			l.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = lim
	}
	return lim.Allow()
}

func (l *loginLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			slog.Warn("Server.loginLimiter: too many attempts", "ip", c.ClientIP())
			writeJSONResponse(c, http.StatusTooManyRequests, models.Error("Too many login attempts"))
			c.Abort()
			return
		}
		c.Next()
	}
}
