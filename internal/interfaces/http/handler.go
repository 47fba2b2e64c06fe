package http

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	appanalytics "main/internal/application/service/analytics"
	appglass "main/internal/application/service/glass"
	appstream "main/internal/application/service/stream"
	analytics "main/internal/domain/entity/analytics"
	marketdata "main/internal/domain/entity/marketdata"
	interfaces "main/internal/domain/interfaces"
)

const apiBasePath = "/api/v1"

var errInstrumentNotFound = errors.New("instrument not found")

// Handler exposes the glass over HTTP and WebSocket. It doubles as the
// core's presenter: every view change lands here and is fanned out to the
// connected WebSocket clients, with the latest state retained for plain
// GET polling.
type Handler struct {
	router    *gin.Engine
	session   *appstream.Service
	glass     *appglass.Service
	engine    *appanalytics.Engine
	directory interfaces.InstrumentsDirectory
	hub       *hub
	logger    *logrus.Entry

	mu        sync.RWMutex
	lastRows  []marketdata.AggregatedRow
	connected bool
	lastError string
}

var _ interfaces.Presenter = (*Handler)(nil)

func NewHandler(session *appstream.Service, glass *appglass.Service, engine *appanalytics.Engine, directory interfaces.InstrumentsDirectory, logger *logrus.Logger) *Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	h := &Handler{
		router:    router,
		session:   session,
		glass:     glass,
		engine:    engine,
		directory: directory,
		hub:       newHub(logger),
		logger:    logger.WithField("component", "http"),
	}
	go h.hub.run()
	h.registerRoutes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/ws", func(c *gin.Context) {
		h.hub.serveWS(c.Writer, c.Request)
	})

	api := h.router.Group(apiBasePath)
	{
		api.GET("/glass", h.getGlass)
		api.GET("/analytics", h.getAnalytics)
		api.GET("/status", h.getStatus)

		api.POST("/stream/start", h.startStream)
		api.POST("/stream/stop", h.stopStream)

		api.POST("/analytics/threshold", h.setThreshold)
		api.POST("/analytics/clear", h.clearAnalytics)

		api.GET("/instruments", h.listInstruments)
		api.GET("/instruments/search", h.searchInstruments)
	}
}

// Presenter callbacks

func (h *Handler) OnRawMessage(raw string) {
	h.hub.publish("raw", raw)
}

func (h *Handler) OnAggregatedRowsChanged(rows []marketdata.AggregatedRow) {
	h.mu.Lock()
	h.lastRows = rows
	h.mu.Unlock()
	h.hub.publish("glass", gin.H{"rows": rows})
}

func (h *Handler) OnConnectionStatusChanged(connected bool) {
	h.mu.Lock()
	h.connected = connected
	if connected {
		h.lastError = ""
	}
	h.mu.Unlock()
	h.hub.publish("status", gin.H{"connected": connected})
}

func (h *Handler) OnStreamError(message string) {
	h.mu.Lock()
	h.lastError = message
	h.mu.Unlock()
	h.hub.publish("error", gin.H{"message": message})
}

func (h *Handler) OnAnalyticsUpdated(report analytics.Report) {
	h.hub.publish("analytics", report)
}

// Read endpoints

func (h *Handler) getGlass(c *gin.Context) {
	h.mu.RLock()
	rows := h.lastRows
	h.mu.RUnlock()
	if rows == nil {
		rows = h.glass.Rows()
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows})
}

func (h *Handler) getAnalytics(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Snapshot())
}

func (h *Handler) getStatus(c *gin.Context) {
	h.mu.RLock()
	connected := h.connected
	lastError := h.lastError
	h.mu.RUnlock()
	c.JSON(http.StatusOK, gin.H{
		"state":         string(h.session.State()),
		"instrument_id": h.session.InstrumentID(),
		"connected":     connected,
		"last_error":    lastError,
		"threshold":     h.engine.Threshold(),
	})
}

// Stream control

type startStreamRequest struct {
	InstrumentID string `json:"instrument_id"`
	Ticker       string `json:"ticker"`
	ClassCode    string `json:"class_code"`
}

func (h *Handler) startStream(c *gin.Context) {
	var req startStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	instrumentID := strings.TrimSpace(req.InstrumentID)
	if instrumentID == "" {
		resolved, err := h.resolveInstrument(c, req.Ticker, req.ClassCode)
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, errInstrumentNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		instrumentID = resolved
	}

	if err := h.session.Start(c.Request.Context(), instrumentID); err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, appstream.ErrNotTradable):
			status = http.StatusConflict
		case errors.Is(err, appstream.ErrNoInstrument):
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	// only a session that actually started replaces the previous view;
	// a rejected start keeps the stale-but-visible rows
	h.glass.Reset()

	c.JSON(http.StatusOK, gin.H{"instrument_id": instrumentID, "state": string(h.session.State())})
}

func (h *Handler) stopStream(c *gin.Context) {
	h.session.Stop()
	c.JSON(http.StatusOK, gin.H{"state": string(h.session.State())})
}

func (h *Handler) resolveInstrument(c *gin.Context, ticker, classCode string) (string, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return "", errors.New("instrument_id or ticker is required")
	}
	list, err := h.directory.ListInstruments(c.Request.Context(), classCode)
	if err != nil {
		return "", err
	}
	for _, instrument := range list {
		if instrument.Ticker == ticker {
			return instrument.StreamID(), nil
		}
	}
	return "", errInstrumentNotFound
}

// Analytics control

type thresholdRequest struct {
	Threshold string `json:"threshold"`
}

func (h *Handler) setThreshold(c *gin.Context) {
	var req thresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	applied := h.engine.SetThresholdString(req.Threshold)
	c.JSON(http.StatusOK, gin.H{"threshold": applied})
}

func (h *Handler) clearAnalytics(c *gin.Context) {
	h.engine.ClearHistory()
	c.JSON(http.StatusOK, h.engine.Snapshot())
}

// Instruments

func (h *Handler) listInstruments(c *gin.Context) {
	classCode := c.Query("class_code")
	list, err := h.directory.ListInstruments(c.Request.Context(), classCode)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"instruments": list})
}

func (h *Handler) searchInstruments(c *gin.Context) {
	query := c.Query("query")
	if strings.TrimSpace(query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query param required"})
		return
	}
	list, err := h.directory.SearchInstruments(c.Request.Context(), query)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"instruments": list})
}
