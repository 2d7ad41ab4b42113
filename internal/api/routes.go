package api

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rawblock/botwall-engine/internal/db"
	"github.com/rawblock/botwall-engine/internal/escalate"
	"github.com/rawblock/botwall-engine/internal/signature"
	"github.com/rawblock/botwall-engine/pkg/models"
)

// bandOrder ranks risk bands for the min_band list filter.
var bandOrder = map[models.RiskBand]int{
	models.BandVeryLow:  0,
	models.BandLow:      1,
	models.BandElevated: 2,
	models.BandMedium:   3,
	models.BandHigh:     4,
	models.BandVeryHigh: 5,
	models.BandVerified: 6,
}

// Options configures the ops API surface.
type Options struct {
	Token      string // Empty disables bearer auth
	RatePerMin int
}

type APIHandler struct {
	signatures *signature.Coordinator
	webhooks   *escalate.WebhookNotifier
	recent     *RecentBuffer
	dbStore    *db.PostgresStore
	escalator  *escalate.Escalator
	wsHub      *Hub
}

// SetupRouter wires the ops API: signature table inspection, the recent
// detections feed, webhook management, the live websocket stream and the
// Prometheus scrape endpoint. dbStore may be nil.
func SetupRouter(opts Options, signatures *signature.Coordinator, webhooks *escalate.WebhookNotifier,
	recent *RecentBuffer, dbStore *db.PostgresStore, escalator *escalate.Escalator, wsHub *Hub) *gin.Engine {

	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://ops.example.com
	// Development: leave empty for *
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		signatures: signatures,
		webhooks:   webhooks,
		recent:     recent,
		dbStore:    dbStore,
		escalator:  escalator,
		wsHub:      wsHub,
	}

	limiter := NewRateLimiter(opts.RatePerMin, 0)

	// Public surface: health, live stream, metrics scrape.
	r.GET("/api/v1/health", handler.handleHealth)
	r.GET("/api/v1/stream", wsHub.Subscribe)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1", limiter.Middleware(), AuthMiddleware(opts.Token))
	{
		api.GET("/signatures", handler.handleListSignatures)
		api.GET("/signatures/:sig", handler.handleGetSignature)
		api.GET("/detections/recent", handler.handleRecentDetections)
		api.GET("/webhooks", handler.handleListWebhooks)
		api.POST("/webhooks", handler.handleRegisterWebhook)
		api.DELETE("/webhooks/:name", handler.handleRemoveWebhook)
	}

	return r
}

// handleHealth returns engine status for service discovery and probes.
func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "operational",
		"engine":         "Botwall Detection Engine v1.0",
		"trackedClients": h.signatures.Len(),
		"dbConnected":    h.dbStore != nil,
		"droppedEvents":  h.escalator.Dropped(),
		"webhookTargets": len(h.webhooks.Endpoints()),
	})
}

// handleListSignatures returns tracked client signatures, most recently
// seen first. Query params: limit (default 100), min_band, sort=risk.
func (h *APIHandler) handleListSignatures(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	var filter func(models.SignatureState) bool
	if minBand := c.Query("min_band"); minBand != "" {
		threshold, ok := bandOrder[models.RiskBand(minBand)]
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown risk band: " + minBand})
			return
		}
		filter = func(s models.SignatureState) bool {
			return bandOrder[s.RiskBand] >= threshold
		}
	}

	var sigs []models.SignatureState
	if c.Query("sort") == "risk" && filter == nil {
		sigs = h.signatures.TopByRisk(limit)
	} else {
		sigs = h.signatures.List(limit, filter)
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  sigs,
		"count": len(sigs),
		"total": h.signatures.Len(),
	})
}

// handleGetSignature returns the full rolling state for one signature key.
func (h *APIHandler) handleGetSignature(c *gin.Context) {
	key := c.Param("sig")
	state, ok := h.signatures.Get(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Signature not tracked"})
		return
	}
	c.JSON(http.StatusOK, state)
}

// handleRecentDetections serves the latest detection events. Postgres is
// authoritative when connected; the in-memory ring covers the rest.
func (h *APIHandler) handleRecentDetections(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	if h.dbStore != nil {
		records, err := h.dbStore.RecentDetections(c.Request.Context(), limit)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"data": records, "source": "postgres"})
			return
		}
		log.Printf("[API] Recent detections query failed, serving memory buffer: %v", err)
	}

	events := h.recent.Snapshot(limit)
	c.JSON(http.StatusOK, gin.H{"data": events, "source": "memory"})
}

// handleListWebhooks returns the registered webhook endpoints.
func (h *APIHandler) handleListWebhooks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.webhooks.Endpoints()})
}

// handleRegisterWebhook adds a webhook endpoint at runtime.
// POST /api/v1/webhooks { "name": "siem", "url": "https://...", "minBand": "High" }
func (h *APIHandler) handleRegisterWebhook(c *gin.Context) {
	var req struct {
		Name    string            `json:"name"`
		URL     string            `json:"url"`
		MinBand string            `json:"minBand"`
		Headers map[string]string `json:"headers"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.Name == "" || req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and url are required"})
		return
	}
	if req.MinBand != "" {
		if _, ok := bandOrder[models.RiskBand(req.MinBand)]; !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown risk band: " + req.MinBand})
			return
		}
	}

	h.webhooks.Register(escalate.WebhookEndpoint{
		Name:    req.Name,
		URL:     req.URL,
		Enabled: true,
		Headers: req.Headers,
		MinBand: models.RiskBand(req.MinBand),
	})
	c.JSON(http.StatusCreated, gin.H{"status": "registered", "name": req.Name})
}

// handleRemoveWebhook deletes a webhook endpoint by name.
func (h *APIHandler) handleRemoveWebhook(c *gin.Context) {
	name := c.Param("name")
	if !h.webhooks.Remove(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No such webhook: " + name})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed", "name": name})
}
