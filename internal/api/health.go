package api

import (
	"context"
	"net/http"
	"sync"
	"time"
)

const (
	pingTimeout = 3 * time.Second
	// pingTTL is how long one RCON ping answers health checks, so polling the
	// unauthenticated endpoint cannot drive RCON traffic.
	pingTTL = 5 * time.Second
)

type EngineState interface {
	Active() bool
	Err() error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	engine EngineState
	rcon   Pinger
	now    func() time.Time

	mu       sync.Mutex
	pingedAt time.Time
	pingErr  error
}

// NewHealthHandler reports on engine and, when p is non-nil, RCON reachability.
func NewHealthHandler(engine EngineState, p Pinger) *HealthHandler {
	return &HealthHandler{engine: engine, rcon: p, now: time.Now}
}

// ping returns the cached RCON result, refreshing it once pingTTL has passed.
// Concurrent checks wait for the one ping in flight.
func (h *HealthHandler) ping() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.pingedAt.IsZero() && h.now().Sub(h.pingedAt) < pingTTL {
		return h.pingErr
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	h.pingErr = h.rcon.Ping(ctx)
	h.pingedAt = h.now()
	return h.pingErr
}

type healthResponse struct {
	Engine      string `json:"engine"`
	EngineError string `json:"engine_error,omitempty"`
	RCON        string `json:"rcon"`
	RCONError   string `json:"rcon_error,omitempty"`
}

// Get answers 200 while events are flowing and 503 once the engine stopped.
// RCON trouble is reported but does not fail the check.
func (h *HealthHandler) Get(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Engine: "running", RCON: "disabled"}
	status := http.StatusOK
	if !h.engine.Active() {
		resp.Engine = "stopped"
		status = http.StatusServiceUnavailable
		if err := h.engine.Err(); err != nil {
			resp.EngineError = err.Error()
		}
	}
	if h.rcon != nil {
		resp.RCON = "ok"
		if err := h.ping(); err != nil {
			resp.RCON = "error"
			resp.RCONError = err.Error()
		}
	}
	writeJSON(w, status, resp)
}
