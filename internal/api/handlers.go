package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/BTreeMap/ChatWarden/internal/audit"
	"github.com/BTreeMap/ChatWarden/internal/greeting"
	"github.com/BTreeMap/ChatWarden/internal/models"
)

const qrImageSize = 320

type loginRequest struct {
	Username string `json:"username" form:"username" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type unmuteRequest struct {
	UserID string `json:"userId" form:"userId" binding:"required"`
}

type mutedResponse struct {
	Muted []string                `json:"muted"`
	Logs  []models.DeletionRecord `json:"logs"`
}

type adminsResponse struct {
	Owners []string `json:"owners"`
	Admins []string `json:"admins"`
}

func (s *Server) healthHandler(c *gin.Context) {
	writeJSONResponse(c, http.StatusOK, models.Success(gin.H{
		"connected": s.deps.Session.IsConnected(),
	}))
}

func (s *Server) loginHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		slog.Warn("Server.loginHandler: bad request", "error", err)
		writeJSONResponse(c, http.StatusBadRequest, models.Error("username and password are required"))
		return
	}
	if s.opts.PasswordHash == "" || req.Username != s.opts.Username ||
		CheckPassword(s.opts.PasswordHash, req.Password) != nil {
		slog.Warn("Server.loginHandler: invalid credentials", "username", req.Username, "ip", c.ClientIP())
		writeJSONResponse(c, http.StatusUnauthorized, models.Error("Username atau password salah"))
		return
	}
	token, err := s.jwt.GenerateToken(req.Username)
	if err != nil {
		slog.Error("Server.loginHandler: token generation failed", "error", err)
		writeJSONResponse(c, http.StatusInternalServerError, models.Error("Failed to create session"))
		return
	}
	ttl := int(s.opts.TokenTTL / time.Second)
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(SessionCookie, token, ttl, "/", "", false, true)
	slog.Info("Server.loginHandler: login", "username", req.Username)
	writeJSONResponse(c, http.StatusOK, models.Success(loginResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(s.opts.TokenTTL),
	}))
}

func (s *Server) logoutHandler(c *gin.Context) {
	c.SetCookie(SessionCookie, "", -1, "/", "", false, true)
	writeJSONResponse(c, http.StatusOK, models.SuccessWithMessage("Logged out", nil))
}

func (s *Server) statusHandler(c *gin.Context) {
	snap := s.deps.Session.Snapshot()
	// the raw pairing code is served as an image only
	snap.QRCode = ""
	writeJSONResponse(c, http.StatusOK, models.Success(snap))
}

// qrCodeHandler renders the current pairing code as a PNG.
func (s *Server) qrCodeHandler(c *gin.Context) {
	snap := s.deps.Session.Snapshot()
	if snap.QRCode == "" {
		writeJSONResponse(c, http.StatusNotFound, models.Error("No QR code available"))
		return
	}
	png, err := qrcode.Encode(snap.QRCode, qrcode.Medium, qrImageSize)
	if err != nil {
		slog.Error("Server.qrCodeHandler: encode failed", "error", err)
		writeJSONResponse(c, http.StatusInternalServerError, models.Error("Failed to render QR code"))
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) mutedHandler(c *gin.Context) {
	var resp mutedResponse
	err := s.deps.Store.View(c.Request.Context(), func(doc *models.ModerationDocument) {
		resp.Muted = append([]string{}, doc.Muted...)
		resp.Logs = doc.RecentDeletions(MutedLogLimit)
	})
	if err != nil {
		slog.Error("Server.mutedHandler: load failed", "error", err)
		writeJSONResponse(c, http.StatusInternalServerError, models.Error("Error loading muted data"))
		return
	}
	writeJSONResponse(c, http.StatusOK, models.Success(resp))
}

func (s *Server) unmuteHandler(c *gin.Context) {
	var req unmuteRequest
	if err := c.ShouldBind(&req); err != nil {
		writeJSONResponse(c, http.StatusBadRequest, models.Error("userId is required"))
		return
	}
	id := models.NormalizeIdentity(req.UserID)
	var removed bool
	err := s.deps.Store.Update(c.Request.Context(), func(doc *models.ModerationDocument) error {
		removed = doc.Unmute(id)
		return nil
	})
	if err != nil {
		slog.Error("Server.unmuteHandler: update failed", "user", id, "error", err)
		writeJSONResponse(c, http.StatusInternalServerError, models.Error("Error removing muted user"))
		return
	}
	if !removed {
		writeJSONResponse(c, http.StatusNotFound, models.Error("User is not muted"))
		return
	}
	actor, _ := c.Get(usernameKey)
	if err := s.deps.Audit.Record(c.Request.Context(), audit.Entry{
		Action: audit.ActionDashUnmute,
		Actor:  "dashboard:" + toString(actor),
		Target: id,
		Time:   time.Now(),
	}); err != nil {
		slog.Warn("Server.unmuteHandler: audit record failed", "user", id, "error", err)
	}
	slog.Info("Server.unmuteHandler: user unmuted", "user", id)
	writeJSONResponse(c, http.StatusOK, models.SuccessWithMessage("User unmuted", gin.H{"userId": id}))
}

func (s *Server) adminsHandler(c *gin.Context) {
	resp := adminsResponse{Owners: []string{}, Admins: []string{}}
	if s.deps.Policy != nil {
		resp.Owners = s.deps.Policy.Owners()
	}
	err := s.deps.Store.View(c.Request.Context(), func(doc *models.ModerationDocument) {
		resp.Admins = append(resp.Admins, doc.Admins...)
	})
	if err != nil {
		slog.Error("Server.adminsHandler: load failed", "error", err)
		writeJSONResponse(c, http.StatusInternalServerError, models.Error("Error loading admins"))
		return
	}
	writeJSONResponse(c, http.StatusOK, models.Success(resp))
}

// greetingHandler starts a greeting run. With ?wait=true the request blocks
// until the run finishes and returns its report.
func (s *Server) greetingHandler(c *gin.Context) {
	if s.deps.Greeter == nil {
		writeJSONResponse(c, http.StatusServiceUnavailable, models.Error("Greetings are not configured"))
		return
	}
	kind, err := greeting.ParseKind(c.Param("kind"))
	if err != nil {
		writeJSONResponse(c, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if !s.deps.Session.IsConnected() {
		writeJSONResponse(c, http.StatusConflict, models.Error(models.ErrNotConnected.Error()))
		return
	}

	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		report, err := s.deps.Greeter.Run(c.Request.Context(), kind)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, greeting.ErrRunInProgress) {
				status = http.StatusConflict
			}
			slog.Error("Server.greetingHandler: run failed", "kind", kind, "error", err)
			writeJSONResponse(c, status, models.Error(err.Error()))
			return
		}
		writeJSONResponse(c, http.StatusOK, models.SuccessWithMessage("Greeting sent", report))
		return
	}

	go func(ctx context.Context) {
		if _, err := s.deps.Greeter.Run(ctx, kind); err != nil {
			slog.Error("Server.greetingHandler: background run failed", "kind", kind, "error", err)
		}
	}(s.bgCtx)
	writeJSONResponse(c, http.StatusAccepted, models.Triggered("Greeting run started", gin.H{"kind": kind}))
}

func (s *Server) wsHandler(c *gin.Context) {
	if s.deps.Hub == nil {
		writeJSONResponse(c, http.StatusServiceUnavailable, models.Error("Live status is not available"))
		return
	}
	s.deps.Hub.ServeWS(c.Writer, c.Request)
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}
