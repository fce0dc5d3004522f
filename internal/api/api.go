package api

import (
	"context"
	"embed"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/loqalabs/mg-assistant/internal/app"
	"github.com/loqalabs/mg-assistant/internal/devices"
	"github.com/loqalabs/mg-assistant/internal/eventstore"
	"github.com/loqalabs/mg-assistant/internal/mqtt"
	"github.com/loqalabs/mg-assistant/internal/stt"
)

//go:embed static
var static embed.FS

const maxBodyBytes = 64 << 10

// Controller is the command surface of app.App.
type Controller interface {
	Snapshot(ctx context.Context) (app.Snapshot, error)
	Status(ctx context.Context) (app.Status, error)
	StartRecognizer(ctx context.Context, modelPath string) (app.Snapshot, error)
	StopRecognizer(ctx context.Context) (app.Snapshot, error)
	SendText(ctx context.Context, text string) (app.Snapshot, error)
	ConnectMQTT(ctx context.Context, brokerURL string) (app.Snapshot, error)
	DisconnectMQTT(ctx context.Context) (app.Snapshot, error)
	ToggleDevice(ctx context.Context, name string) (app.Snapshot, error)
}

type HistoryReader interface {
	List(ctx context.Context, kind string, limit int) ([]eventstore.Event, error)
}

type Handler struct {
	ctl     Controller
	devices *devices.Registry
	history HistoryReader
	log     *slog.Logger
}

func New(ctl Controller, registry *devices.Registry, history HistoryReader, log *slog.Logger) *Handler {
	if registry == nil {
		registry = devices.New(nil)
	}
	return &Handler{
		ctl:     ctl,
		devices: registry,
		history: history,
		log:     log.With(slog.String("component", "api")),
	}
}

// Register mounts the UI and JSON routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	ui, _ := fs.Sub(static, "static")
	mux.Handle("GET /{$}", http.FileServerFS(ui))

	mux.HandleFunc("GET /api/state", h.handleState)
	mux.HandleFunc("GET /api/status", h.handleStatus)
	mux.HandleFunc("GET /api/devices", h.handleDevices)
	mux.HandleFunc("GET /api/history", h.handleHistory)
	mux.HandleFunc("POST /api/recognizer/start", h.handleStartRecognizer)
	mux.HandleFunc("POST /api/recognizer/stop", h.handleStopRecognizer)
	mux.HandleFunc("POST /api/text", h.handleText)
	mux.HandleFunc("POST /api/mqtt/connect", h.handleConnect)
	mux.HandleFunc("POST /api/mqtt/disconnect", h.handleDisconnect)
	mux.HandleFunc("POST /api/devices/{name}/toggle", h.handleToggle)
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ctl.Snapshot(r.Context())
	h.respond(w, snap, err)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.ctl.Status(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"devices": h.devices.List()})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []eventstore.Event{}})
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	events, err := h.history.List(r.Context(), r.URL.Query().Get("kind"), limit)
	if err != nil {
		h.log.Error("history query failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "history unavailable"})
		return
	}
	if events == nil {
		events = []eventstore.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type startRequest struct {
	ModelPath string `json:"model_path"`
}

func (h *Handler) handleStartRecognizer(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decode(w, r, &req) {
		return
	}
	snap, err := h.ctl.StartRecognizer(r.Context(), req.ModelPath)
	h.respond(w, snap, err)
}

func (h *Handler) handleStopRecognizer(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ctl.StopRecognizer(r.Context())
	h.respond(w, snap, err)
}

type textRequest struct {
	Text string `json:"text"`
}

func (h *Handler) handleText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decode(w, r, &req) {
		return
	}
	snap, err := h.ctl.SendText(r.Context(), req.Text)
	h.respond(w, snap, err)
}

type connectRequest struct {
	Broker string `json:"broker"`
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !decode(w, r, &req) {
		return
	}
	snap, err := h.ctl.ConnectMQTT(r.Context(), req.Broker)
	h.respond(w, snap, err)
}

func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ctl.DisconnectMQTT(r.Context())
	h.respond(w, snap, err)
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ctl.ToggleDevice(r.Context(), r.PathValue("name"))
	h.respond(w, snap, err)
}

type errorBody struct {
	Error string        `json:"error"`
	State *app.Snapshot `json:"state,omitempty"`
}

// respond writes the snapshot. Command failures still carry the snapshot so
// the page can render the notice that explains them.
func (h *Handler) respond(w http.ResponseWriter, snap app.Snapshot, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, snap)
		return
	}
	status := statusFor(err)
	if status == http.StatusServiceUnavailable || status == http.StatusNotFound {
		h.writeError(w, err)
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error(), State: &snap})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Warn("request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, app.ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, app.ErrStopped), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	case errors.Is(err, mqtt.ErrNotConnected), errors.Is(err, stt.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, stt.ErrModelMissing), errors.Is(err, stt.ErrEngineUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, mqtt.ErrConnect), errors.Is(err, mqtt.ErrPublish):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
