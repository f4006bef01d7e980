package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ChainStatus reports RPC reachability.
type ChainStatus interface {
	IsConnected(ctx context.Context) bool
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
	GetEndpoint() string
}

type HealthChecker struct {
	db      Pinger
	chain   ChainStatus
	chainID int64
	logger  zerolog.Logger
}

type HealthStatus struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Database  DatabaseStatus `json:"database"`
	RPC       RPCStatus      `json:"rpc"`
}

type DatabaseStatus struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

type RPCStatus struct {
	Connected   bool   `json:"connected"`
	Endpoint    string `json:"endpoint"`
	ChainID     int64  `json:"chain_id"`
	LatestBlock uint64 `json:"latest_block"`
	Error       string `json:"error,omitempty"`
}

func NewHealthChecker(db Pinger, chain ChainStatus, chainID int64, logger zerolog.Logger) *HealthChecker {
	return &HealthChecker{
		db:      db,
		chain:   chain,
		chainID: chainID,
		logger:  logger.With().Str("component", "health").Logger(),
	}
}

func (h *HealthChecker) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.status(ctx)
	httpStatus := http.StatusOK
	if status.Status != "healthy" {
		httpStatus = http.StatusServiceUnavailable
	}
	JSON(w, httpStatus, status)
}

func (h *HealthChecker) status(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Timestamp: time.Now().UTC(),
		Status:    "healthy",
	}

	status.Database = DatabaseStatus{Connected: true}
	if err := h.db.Ping(ctx); err != nil {
		status.Database = DatabaseStatus{Error: err.Error()}
		status.Status = "unhealthy"
	}

	status.RPC = RPCStatus{
		Connected: true,
		Endpoint:  redactEndpoint(h.chain.GetEndpoint()),
		ChainID:   h.chainID,
	}
	latest, err := h.chain.GetLatestBlockNumber(ctx)
	if err != nil {
		status.RPC.Connected = false
		status.RPC.Error = err.Error()
		status.Status = "unhealthy"
	} else {
		status.RPC.LatestBlock = latest
	}

	if status.Status != "healthy" {
		h.logger.Warn().
			Str("database_error", status.Database.Error).
			Str("rpc_error", status.RPC.Error).
			Msg("Health check failed")
	}
	return status
}

func (h *HealthChecker) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.db.Ping(ctx) == nil && h.chain.IsConnected(ctx) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (h *HealthChecker) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}

// redactEndpoint drops the last path segment, which carries the API key on
// hosted providers.
func redactEndpoint(endpoint string) string {
	for i := len(endpoint) - 1; i > len("https://"); i-- {
		if endpoint[i] == '/' {
			return endpoint[:i+1] + "***"
		}
	}
	return endpoint
}
