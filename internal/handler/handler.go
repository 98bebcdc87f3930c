package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"attendance-guard/internal/attendance"
	"attendance-guard/internal/auth"
	"attendance-guard/internal/callable"
	"attendance-guard/internal/ws"
)

// TokenConfig controls viewer token issuance.
type TokenConfig struct {
	Issuer      string
	SigningKey  string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	AdminAPIKey string
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps are the collaborators a Handler serves from.
type Deps struct {
	CheckIns *attendance.Service
	Store    attendance.Store
	Watcher  attendance.Watcher
	Hub      *ws.Hub
	Location *time.Location
	Tokens   TokenConfig
	Health   map[string]HealthCheck
}

// Handler serves the check-in, dashboard and viewer token routes.
type Handler struct {
	deps Deps
	now  func() time.Time
}

// New creates a Handler. A nil Location means UTC.
func New(deps Deps) *Handler {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	return &Handler{deps: deps, now: time.Now}
}

// Register mounts every route on r. limit guards everything but health checks.
func (h *Handler) Register(r *gin.Engine, limit gin.HandlerFunc) {
	r.GET("/healthz", h.Healthz)

	if limit == nil {
		limit = func(c *gin.Context) { c.Next() }
	}
	guarded := r.Group("/", limit)
	guarded.POST("/secureCheckIn", h.SecureCheckIn)

	v1 := guarded.Group("/v1")
	v1.POST("/checkins", h.SecureCheckIn)
	v1.POST("/viewers/token", h.IssueViewerToken)
	v1.POST("/viewers/refresh", h.RefreshViewerToken)

	dash := v1.Group("/dashboard", auth.ViewerAuth(h.deps.Tokens.SigningKey, h.deps.Tokens.Issuer))
	dash.GET("/today", h.DashboardToday)
	dash.GET("/stream", h.DashboardStream)
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.deps.Health {
		healthy := check(c.Request.Context())
		body[name] = healthy
		if !healthy {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// ---------- Check-in ----------

// SecureCheckIn validates a submission and records it when both gates pass.
func (h *Handler) SecureCheckIn(c *gin.Context) {
	payload, err := callable.Payload(c)
	if err != nil {
		callable.Error(c, err)
		return
	}
	res, err := h.deps.CheckIns.SecureCheckInJSON(c.Request.Context(), payload)
	if err != nil {
		callable.Error(c, err)
		return
	}
	callable.Result(c, res)
}

// ---------- Dashboard ----------

func (h *Handler) todayQuery(c *gin.Context) (attendance.Query, bool) {
	claims, ok := auth.FromContext(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return attendance.Query{}, false
	}
	q := attendance.TodayQuery(claims.SchoolID, h.now(), h.deps.Location)
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return attendance.Query{}, false
		}
		q.Limit = limit
	}
	return q, true
}

// DashboardToday returns today's rows for the viewer's school.
func (h *Handler) DashboardToday(c *gin.Context) {
	q, ok := h.todayQuery(c)
	if !ok {
		return
	}
	docs, err := h.deps.Store.List(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load attendance"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": attendance.MapRows(docs, h.deps.Location)})
}

// DashboardStream upgrades to a websocket and pushes the full row set every
// time today's attendance changes. Streams end at the next local midnight.
func (h *Handler) DashboardStream(c *gin.Context) {
	if h.deps.Watcher == nil || h.deps.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime not available"})
		return
	}
	q, ok := h.todayQuery(c)
	if !ok {
		return
	}
	conn, err := ws.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	// The query covers one day; the stream closes when the next day starts and
	// the client reconnects for the new day.
	ttl := attendance.UntilNextDay(h.now(), h.deps.Location)
	h.deps.Hub.Serve(context.Background(), conn, func(ctx context.Context, push func([]byte)) error {
		ctx, cancel := context.WithTimeout(ctx, ttl)
		defer cancel()
		return h.deps.Watcher.Watch(ctx, q, func(rows []attendance.Row) {
			if rows == nil {
				rows = []attendance.Row{}
			}
			frame, err := json.Marshal(gin.H{"rows": rows})
			if err != nil {
				return
			}
			push(frame)
		})
	})
}

// ---------- Viewer tokens ----------

// IssueViewerToken mints dashboard tokens for one school. It requires the
// admin key and is disabled when none is configured.
func (h *Handler) IssueViewerToken(c *gin.Context) {
	want := h.deps.Tokens.AdminAPIKey
	if want == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "token issuance disabled"})
		return
	}
	got := c.GetHeader("X-Admin-Key")
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid admin key"})
		return
	}

	var req struct {
		ViewerID string `json:"viewer_id" binding:"required"`
		SchoolID string `json:"school_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.writeTokens(c, http.StatusCreated, req.ViewerID, req.SchoolID)
}

// RefreshViewerToken exchanges a refresh token for a new pair.
func (h *Handler) RefreshViewerToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := auth.Parse(req.RefreshToken, h.deps.Tokens.SigningKey, h.deps.Tokens.Issuer, auth.TypeRefresh)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	h.writeTokens(c, http.StatusOK, claims.Subject, claims.SchoolID)
}

func (h *Handler) writeTokens(c *gin.Context, code int, subject, schoolID string) {
	t := h.deps.Tokens
	tokens, err := auth.Issue(subject, schoolID, t.Issuer, t.SigningKey, t.AccessTTL, t.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(code, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
		"school_id":     schoolID,
	})
}
