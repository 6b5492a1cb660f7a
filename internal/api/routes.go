package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rawblock/torpath-engine/internal/catalog"
	"github.com/rawblock/torpath-engine/internal/correlation"
	"github.com/rawblock/torpath-engine/internal/db"
	"github.com/rawblock/torpath-engine/internal/directory"
	"github.com/rawblock/torpath-engine/internal/evidence"
	"github.com/rawblock/torpath-engine/internal/rescan"
	"github.com/rawblock/torpath-engine/pkg/models"
)

type APIHandler struct {
	dbStore   *db.PostgresStore
	catalog   *catalog.Catalog
	engine    *correlation.Engine
	dirClient *directory.Client
	wsHub     *Hub
	rescanner *rescan.Rescanner
}

func SetupRouter(dbStore *db.PostgresStore, cat *catalog.Catalog, engine *correlation.Engine,
	dirClient *directory.Client, wsHub *Hub, rescanner *rescan.Rescanner) *gin.Engine {

	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://cases.example.net
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
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
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		dbStore:   dbStore,
		catalog:   cat,
		engine:    engine,
		dirClient: dirClient,
		wsHub:     wsHub,
		rescanner: rescanner,
	}

	limiter := NewRateLimiter(30, 10)

	api := r.Group("/api/v1")
	api.Use(limiter.Middleware())
	{
		api.GET("/health", handler.handleHealth)
		api.GET("/stream", wsHub.Subscribe)

		protected := api.Group("")
		protected.Use(AuthMiddleware())
		{
			protected.POST("/evidence", handler.handleIngestEvidence)
			protected.POST("/analyze", handler.handleAnalyze)
			protected.GET("/paths/:pathId/history", handler.handleHistory)
			protected.GET("/relays", handler.handleRelays)
			protected.POST("/sync", handler.handleSync)
			protected.POST("/rescan", handler.handleStartRescan)
			protected.GET("/rescan/progress", handler.handleRescanProgress)
		}
	}

	return r
}

// handleIngestEvidence validates one raw session record and persists the
// resulting immutable evidence window. One window per record, no merging.
func (h *APIHandler) handleIngestEvidence(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body", "stage": "extraction"})
		return
	}

	win, err := evidence.Extract(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "stage": "extraction"})
		return
	}

	var windowID int64
	if h.dbStore != nil {
		windowID, err = h.dbStore.SaveEvidenceWindow(c.Request.Context(), win)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "stage": "persistence"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"window":   win,
		"windowId": windowID,
	})
}

// handleAnalyze runs the full generate→score→rank pass for one evidence
// window and returns the ranked hypotheses with per-factor breakdowns.
func (h *APIHandler) handleAnalyze(c *gin.Context) {
	var req struct {
		Evidence        evidence.RawSessionRecord `json:"evidence"`
		TopN            int                       `json:"topN"`
		TriggeringEvent string                    `json:"triggeringEvent"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "stage": "extraction"})
		return
	}

	win, err := evidence.FromRecord(req.Evidence)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "stage": "extraction"})
		return
	}

	event := req.TriggeringEvent
	if event == "" {
		event = "manual analysis for case " + win.CaseID
	}

	ranked, err := h.engine.GenerateAndScore(c.Request.Context(), win, req.TopN, event)
	if err != nil {
		status := http.StatusInternalServerError
		stage := "scoring"
		if errors.Is(err, catalog.ErrCatalogUnavailable) {
			status = http.StatusServiceUnavailable
			stage = "catalog"
		}
		c.JSON(status, gin.H{"error": err.Error(), "stage": stage})
		return
	}

	// Persist the window and head hypotheses; trajectory records were
	// already appended by the scoring pass itself.
	if h.dbStore != nil {
		if _, err := h.dbStore.SaveEvidenceWindow(c.Request.Context(), win); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "stage": "persistence"})
			return
		}
		for _, cand := range ranked {
			if err := h.dbStore.SaveHypothesis(c.Request.Context(), cand); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "stage": "persistence"})
				return
			}
		}
	}

	hypotheses := make([]gin.H, 0, len(ranked))
	for _, cand := range ranked {
		tags := h.engine.Tags(cand)
		hypotheses = append(hypotheses, gin.H{
			"hypothesis": cand,
			"tags":       tags,
		})

		if cand.Score >= rescan.AlertThreshold && h.wsHub != nil {
			h.wsHub.BroadcastEvent("path_alert", rescan.PathAlert{
				PathID:           cand.PathID,
				CaseID:           cand.CaseID,
				Score:            cand.Score,
				EntryFingerprint: cand.Entry.Fingerprint,
				ExitFingerprint:  cand.Exit.Fingerprint,
				EntryCountry:     cand.Entry.Country,
				ExitCountry:      cand.Exit.Country,
				Tags:             tags,
				Timestamp:        time.Now().Format(time.RFC3339),
			})
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"caseId":     win.CaseID,
		"count":      len(hypotheses),
		"hypotheses": hypotheses,
	})
}

// handleHistory returns the confidence trajectory for one path. An empty
// history is a valid result, not an error.
func (h *APIHandler) handleHistory(c *gin.Context) {
	pathID := c.Param("pathId")

	records := h.engine.Tracker().History(pathID)

	// Fall back to the durable ledger for paths scored by a previous
	// process lifetime.
	if len(records) == 0 && h.dbStore != nil {
		persisted, err := h.dbStore.LoadHistory(c.Request.Context(), pathID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "stage": "persistence"})
			return
		}
		records = persisted
	}

	c.JSON(http.StatusOK, gin.H{
		"pathId":  pathID,
		"count":   len(records),
		"history": records,
	})
}

// handleRelays exposes the catalog view: relays active at a given time,
// optionally filtered by role.
func (h *APIHandler) handleRelays(c *gin.Context) {
	at := time.Now()
	if raw := c.Query("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'at' timestamp, expected RFC3339", "stage": "catalog"})
			return
		}
		at = parsed
	}

	var role models.RelayRole
	switch c.Query("role") {
	case "guard":
		role = models.RoleGuard
	case "middle":
		role = models.RoleMiddle
	case "exit":
		role = models.RoleExit
	case "":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid role, expected guard|middle|exit", "stage": "catalog"})
		return
	}

	relays, err := h.catalog.ActiveRelays(at, role)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "stage": "catalog"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit > 0 && len(relays) > limit {
		relays = relays[:limit]
	}

	c.JSON(http.StatusOK, gin.H{
		"count":    len(relays),
		"syncedAt": h.catalog.SyncedAt(),
		"relays":   relays,
	})
}

// handleSync triggers a directory fetch and installs the fresh snapshot.
// The engine does not retry failed syncs; the caller owns retry policy.
func (h *APIHandler) handleSync(c *gin.Context) {
	if h.dirClient == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Directory client not configured", "stage": "directory"})
		return
	}

	relays, err := h.dirClient.SyncFromDirectory(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "stage": "directory"})
		return
	}

	h.catalog.Replace(relays)

	if h.dbStore != nil {
		if err := h.dbStore.SaveRelays(c.Request.Context(), relays); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "stage": "persistence"})
			return
		}
	}

	if h.wsHub != nil {
		h.wsHub.BroadcastEvent("directory_sync", gin.H{
			"relayCount": len(relays),
			"syncedAt":   h.catalog.SyncedAt(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "synced",
		"relayCount": len(relays),
	})
}

// handleStartRescan replays stored evidence windows against the current
// catalog in the background.
func (h *APIHandler) handleStartRescan(c *gin.Context) {
	if h.rescanner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Rescanner not initialized", "stage": "scoring"})
		return
	}

	var req struct {
		TriggeringEvent string `json:"triggeringEvent"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.TriggeringEvent == "" {
		req.TriggeringEvent = "manual rescan " + time.Now().Format(time.RFC3339)
	}

	// Detach from the request context: the rescan outlives this response.
	h.rescanner.RescanAll(context.Background(), req.TriggeringEvent)

	c.JSON(http.StatusOK, gin.H{
		"status":          "rescan_started",
		"triggeringEvent": req.TriggeringEvent,
	})
}

// handleRescanProgress returns the rescanner's current progress.
func (h *APIHandler) handleRescanProgress(c *gin.Context) {
	if h.rescanner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Rescanner not initialized", "stage": "scoring"})
		return
	}
	c.JSON(http.StatusOK, h.rescanner.GetProgress())
}

// handleHealth returns engine status and capabilities for service discovery.
func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "operational",
		"engine":       "RawBlock TOR Path Correlation Engine v1.0",
		"relayCount":   h.catalog.Size(),
		"lastSync":     h.catalog.SyncedAt(),
		"trackedPaths": h.engine.Tracker().Len(),
		"capabilities": gin.H{
			"path_generation":     true,
			"confidence_scoring":  true,
			"evolution_tracking":  true,
			"pattern_tagging":     true,
			"background_rescan":   true,
			"directory_sync":      true,
			"websocket_streaming": true,
		},
		"dbConnected": h.dbStore != nil,
	})
}

// BroadcastPathAlert wires the WebSocket hub as the rescanner's alert
// callback, mirroring what handleAnalyze does for interactive passes.
func BroadcastPathAlert(wsHub *Hub) func(rescan.PathAlert) {
	return func(alert rescan.PathAlert) {
		wsHub.BroadcastEvent("path_alert", alert)
		log.Printf("[ALERT] High-confidence path hypothesis: case %s score %.2f (%s → %s)",
			alert.CaseID, alert.Score, alert.EntryFingerprint, alert.ExitFingerprint)
	}
}
