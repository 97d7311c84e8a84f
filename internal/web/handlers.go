package web

import (
	"encoding/json"
	"io/fs"
	"net/http"
	"time"

	"github.com/lumenfield/mirrorcal/internal/calib/command"
	"github.com/lumenfield/mirrorcal/internal/calib/executor"
	"github.com/lumenfield/mirrorcal/internal/calib/grid"
	"github.com/lumenfield/mirrorcal/internal/calib/state"
)

// Controller is the run control surface the handlers drive. Implemented by
// executor.Executor.
type Controller interface {
	State() *state.State
	Pending() *executor.PendingDecision
	Expected() (*grid.Position, float64)
	Records() []executor.Record
	Paused() bool
	Pause()
	Resume()
	Advance()
	SubmitDecision(id string, opt command.DecisionOption) error
	Abort()
}

// StatusResponse is the GET /state payload.
type StatusResponse struct {
	State             *state.State               `json:"state"`
	Paused            bool                       `json:"paused"`
	PendingDecision   *executor.PendingDecision  `json:"pendingDecision,omitempty"`
	ExpectedPosition  *grid.Position             `json:"expectedPosition,omitempty"`
	ExpectedTolerance float64                    `json:"expectedTolerance,omitempty"`
}

// controlRequest is the POST /control body.
type controlRequest struct {
	Action string `json:"action"` // pause, resume, advance, abort
}

// decisionRequest is the POST /decision body.
type decisionRequest struct {
	ID     string `json:"id"`
	Option string `json:"option"`
}

// Handlers holds dependencies for HTTP handlers. Control endpoints return
// 503 when no run is attached.
type Handlers struct {
	Broadcaster *Broadcaster
	Controller  Controller
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(broadcaster *Broadcaster, ctrl Controller, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Controller:  ctrl,
		staticFS:    staticFS,
	}
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleState returns the current run snapshot as JSON.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	if h.Controller == nil {
		http.Error(w, "no run attached", http.StatusServiceUnavailable)
		return
	}
	pos, tol := h.Controller.Expected()
	resp := StatusResponse{
		State:             h.Controller.State(),
		Paused:            h.Controller.Paused(),
		PendingDecision:   h.Controller.Pending(),
		ExpectedPosition:  pos,
		ExpectedTolerance: tol,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// HandleRecords returns the command audit log.
func (h *Handlers) HandleRecords(w http.ResponseWriter, r *http.Request) {
	if h.Controller == nil {
		http.Error(w, "no run attached", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Controller.Records())
}

// HandleControl handles POST /control: pause, resume, advance, abort.
func (h *Handlers) HandleControl(w http.ResponseWriter, r *http.Request) {
	if h.Controller == nil {
		http.Error(w, "no run attached", http.StatusServiceUnavailable)
		return
	}
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	switch req.Action {
	case "pause":
		h.Controller.Pause()
	case "resume":
		h.Controller.Resume()
	case "advance":
		h.Controller.Advance()
	case "abort":
		h.Controller.Abort()
	default:
		http.Error(w, "action must be pause, resume, advance or abort", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleDecision handles POST /decision to answer a pending decision.
func (h *Handlers) HandleDecision(w http.ResponseWriter, r *http.Request) {
	if h.Controller == nil {
		http.Error(w, "no run attached", http.StatusServiceUnavailable)
		return
	}
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Option == "" {
		http.Error(w, "option is required", http.StatusBadRequest)
		return
	}
	if err := h.Controller.SubmitDecision(req.ID, command.DecisionOption(req.Option)); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
