package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/glFusion/shop-sub005/gateway"
	"github.com/glFusion/shop-sub005/infra/opensearch"
	"github.com/glFusion/shop-sub005/infra/response"
)

// HealthHandler reports service and dependency health.
type HealthHandler struct {
	db        *sql.DB
	osClient  *opensearch.Client
	registry  *gateway.Registry
	startTime time.Time
}

// HealthStatus represents overall system health
type HealthStatus struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Uptime    string          `json:"uptime"`
	Database  *DatabaseHealth `json:"database"`
	Search    *SearchHealth   `json:"search"`
	Gateways  []string        `json:"gateways"`
}

// DatabaseHealth represents database health status
type DatabaseHealth struct {
	Connected    bool   `json:"connected"`
	ResponseTime string `json:"response_time"`
	OpenConns    int    `json:"open_connections"`
	Error        string `json:"error,omitempty"`
}

// SearchHealth represents the audit search backend status
type SearchHealth struct {
	Enabled   bool   `json:"enabled"`
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *sql.DB, osClient *opensearch.Client, registry *gateway.Registry) *HealthHandler {
	return &HealthHandler{
		db:        db,
		osClient:  osClient,
		registry:  registry,
		startTime: time.Now(),
	}
}

// CheckHealth handles GET /health. The database is the only hard
// dependency; a down search backend degrades but does not fail the check.
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := &HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).String(),
		Database:  h.checkDatabase(ctx),
		Search:    h.checkSearch(),
	}
	for _, gw := range h.registry.ListEnabled("") {
		health.Gateways = append(health.Gateways, gw.ID)
	}

	statusCode := http.StatusOK
	if !health.Database.Connected {
		health.Status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	} else if health.Search.Enabled && !health.Search.Reachable {
		health.Status = "degraded"
	}

	_ = response.WriteJSON(w, statusCode, response.Response{
		Code:    statusCode,
		Success: health.Status != "unhealthy",
		Message: "health check",
		Data:    health,
	})
}

func (h *HealthHandler) checkDatabase(ctx context.Context) *DatabaseHealth {
	health := &DatabaseHealth{}
	start := time.Now()
	if err := h.db.PingContext(ctx); err != nil {
		health.Error = err.Error()
		return health
	}
	health.Connected = true
	health.ResponseTime = time.Since(start).String()
	health.OpenConns = h.db.Stats().OpenConnections
	return health
}

func (h *HealthHandler) checkSearch() *SearchHealth {
	health := &SearchHealth{}
	if h.osClient == nil || !h.osClient.IsEnabled() {
		return health
	}
	health.Enabled = true
	if err := h.osClient.Ping(); err != nil {
		health.Error = err.Error()
		return health
	}
	health.Reachable = true
	return health
}
