// Package api is the daemon's HTTP surface: the command endpoint the
// controller posts to, status and health, the telemetry websocket and the
// embedded controller page.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/robotpi/robotd/internal/domain"
	"github.com/robotpi/robotd/internal/metrics"
)

// writeWait bounds how long a telemetry frame may take to reach a client.
const writeWait = 5 * time.Second

// Dispatcher forwards validated commands to the drive loop.
type Dispatcher interface {
	Dispatch(domain.Command) error
	State() domain.DriveState
	Running() bool
}

// Subscriber hands out telemetry subscriptions.
type Subscriber interface {
	Subscribe() (<-chan domain.DriveState, func())
}

// Handler handles all HTTP requests.
type Handler struct {
	logger     *zap.Logger
	dispatcher Dispatcher
	telemetry  Subscriber
	renderer   *Renderer
	upgrader   websocket.Upgrader
}

// NewHandler creates a Handler with injected dependencies.
func NewHandler(dispatcher Dispatcher, telemetry Subscriber, renderer *Renderer, logger *zap.Logger) *Handler {
	return &Handler{
		logger:     logger,
		dispatcher: dispatcher,
		telemetry:  telemetry,
		renderer:   renderer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The daemon lives on the car's private hotspot; the
			// controller page is served from the same origin but phones
			// occasionally report none at all.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes registers all HTTP routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", h.handleIndex)
	mux.HandleFunc("/api/command", h.handleCommand)
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.HandleFunc("/api/health", h.handleHealth)
	mux.HandleFunc("/api/telemetry", h.handleTelemetry)
	mux.Handle("/metrics", promhttp.Handler())
}

// commandRequest is the wire shape of a control command.
type commandRequest struct {
	Command string `json:"command"`
	Value   any    `json:"value"`
}

// commandResponse echoes the accepted command back to the controller.
type commandResponse struct {
	Status  string `json:"status"`
	Command string `json:"command,omitempty"`
	Value   any    `json:"value,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleCommand accepts a JSON command and forwards it to the drive loop.
func (h *Handler) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	dec := json.NewDecoder(r.Body)
	// UseNumber keeps integer values exact; the drive loop never wants
	// floats.
	dec.UseNumber()

	var req commandRequest
	if err := dec.Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, commandResponse{
			Status: "invalid_command",
			Error:  "malformed JSON payload",
		})
		return
	}

	cmd := domain.Command{Type: domain.CommandType(req.Command), Value: req.Value}
	if err := domain.Validate(cmd); err != nil {
		// The type label must stay bounded: arbitrary client strings would
		// mint a fresh time series per typo.
		label := "unknown"
		if cmd.Type.Known() {
			label = req.Command
		}
		metrics.CommandsTotal.WithLabelValues(label, metrics.OutcomeRejected).Inc()
		h.logger.Warn("rejected command",
			zap.String("command", req.Command), zap.Error(err))
		h.writeJSON(w, http.StatusBadRequest, commandResponse{
			Status:  "invalid_command",
			Command: req.Command,
			Error:   err.Error(),
		})
		return
	}

	if err := h.dispatcher.Dispatch(cmd); err != nil {
		h.logger.Error("failed to forward command to drive loop",
			zap.String("command", req.Command), zap.Error(err))
		status := http.StatusServiceUnavailable
		if !errors.Is(err, domain.ErrQueueFull) && !errors.Is(err, domain.ErrNotRunning) {
			status = http.StatusInternalServerError
		}
		h.writeJSON(w, status, commandResponse{
			Status:  "error_forwarding_command",
			Command: req.Command,
			Error:   err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, commandResponse{
		Status:  "command_received_and_forwarded",
		Command: req.Command,
		Value:   req.Value,
	})
}

// handleStatus serves the current drive state.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, h.dispatcher.State())
}

// handleHealth serves the liveness endpoint.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":             "ok",
		"drive_loop_running": h.dispatcher.Running(),
	}
	if !h.dispatcher.Running() {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	h.writeJSON(w, status, body)
}

// handleTelemetry upgrades to a websocket and streams state snapshots until
// the client goes away.
func (h *Handler) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("telemetry upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	states, cancel := h.telemetry.Subscribe()
	defer cancel()

	// Reader goroutine: the client never sends data, but reading is how
	// websockets learn the peer is gone.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for state := range states {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(state); err != nil {
			return
		}
	}
}

// handleIndex serves the controller page.
func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.renderer.RenderControlPage(w); err != nil {
		h.logger.Error("failed to render control page", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
