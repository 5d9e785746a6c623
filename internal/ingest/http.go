package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"barrage/internal/clock"
	"barrage/internal/domain"
	"barrage/internal/event"
	"barrage/internal/fault"
	"barrage/internal/timers"
)

// Operator exposes the event triggers behind the operator surface.
type Operator interface {
	StartRandom(ctx context.Context) (domain.ActiveEvent, error)
	StartOnPosition(ctx context.Context, position domain.Vec3, tier domain.IntensityName) (domain.ActiveEvent, error)
	StartOnPlayer(ctx context.Context, query string, tier domain.IntensityName) (domain.ActiveEvent, error)
	StartBarrage(ctx context.Context, req event.BarrageRequest) (domain.ActiveEvent, error)
	ActiveEvents(ctx context.Context) ([]domain.ActiveEvent, error)
}

// HostSink receives decoded host callbacks from ingest interfaces.
// Params: decoded host callback.
// Returns: processing error.
type HostSink interface {
	Push(event domain.HostEvent) error
}

type batchHostSink interface {
	PushBatch(events []domain.HostEvent) error
}

type positionRequest struct {
	Position  *domain.Vec3 `json:"position"`
	Intensity string       `json:"intensity,omitempty"`
}

type playerRequest struct {
	Player    string `json:"player"`
	Intensity string `json:"intensity,omitempty"`
}

type barrageRequest struct {
	Origin    domain.Vec3 `json:"origin"`
	Direction domain.Vec3 `json:"direction"`
	Player    string      `json:"player,omitempty"`
}

type errorResponse struct {
	Error  string              `json:"error"`
	Reason string              `json:"reason,omitempty"`
	Event  *domain.ActiveEvent `json:"event,omitempty"`
}

// HTTPHandler serves operator triggers and host callbacks.
// Params: operator, host sink, body size limit, clock for callback timestamps and logger.
// Returns: HTTP handler with method-qualified routes.
type HTTPHandler struct {
	operator    Operator
	hosts       HostSink
	maxBodySize int64
	clock       clock.Clock
	logger      *slog.Logger
	mux         *http.ServeMux
}

// NewHTTPHandler creates ingest HTTP handler.
// Params: operator and host sink (either may be nil to disable its routes), max body bytes, clock and logger.
// Returns: configured handler.
func NewHTTPHandler(operator Operator, hosts HostSink, maxBodySize int64, clk clock.Clock, logger *slog.Logger) *HTTPHandler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &HTTPHandler{
		operator:    operator,
		hosts:       hosts,
		maxBodySize: maxBodySize,
		clock:       clk,
		logger:      logger,
		mux:         http.NewServeMux(),
	}
	if operator != nil {
		h.mux.HandleFunc("POST /events/random", h.startRandom)
		h.mux.HandleFunc("POST /events/position", h.startOnPosition)
		h.mux.HandleFunc("POST /events/player", h.startOnPlayer)
		h.mux.HandleFunc("POST /events/barrage", h.startBarrage)
		h.mux.HandleFunc("GET /events", h.listEvents)
	}
	if hosts != nil {
		h.mux.HandleFunc("POST /host/events", h.hostEvents)
		h.mux.HandleFunc("POST /host/damage", h.typedHostEvent(domain.HostEventDamage))
		h.mux.HandleFunc("POST /host/destroyed", h.typedHostEvent(domain.HostEventDestroyed))
		h.mux.HandleFunc("POST /host/telemetry", h.typedHostEvent(domain.HostEventTelemetry))
	}
	return h
}

// ServeHTTP routes one request.
func (h *HTTPHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	h.mux.ServeHTTP(writer, request)
}

func (h *HTTPHandler) startRandom(writer http.ResponseWriter, request *http.Request) {
	ev, err := h.operator.StartRandom(request.Context())
	h.writeStarted(writer, ev, err)
}

func (h *HTTPHandler) startOnPosition(writer http.ResponseWriter, request *http.Request) {
	var body positionRequest
	if !h.decodeBody(writer, request, &body) {
		return
	}
	if body.Position == nil {
		writeJSON(writer, http.StatusBadRequest, errorResponse{Error: "position is required"})
		return
	}
	tier, ok := parseTier(writer, body.Intensity)
	if !ok {
		return
	}
	ev, err := h.operator.StartOnPosition(request.Context(), *body.Position, tier)
	h.writeStarted(writer, ev, err)
}

func (h *HTTPHandler) startOnPlayer(writer http.ResponseWriter, request *http.Request) {
	var body playerRequest
	if !h.decodeBody(writer, request, &body) {
		return
	}
	if strings.TrimSpace(body.Player) == "" {
		writeJSON(writer, http.StatusBadRequest, errorResponse{Error: "player is required"})
		return
	}
	tier, ok := parseTier(writer, body.Intensity)
	if !ok {
		return
	}
	ev, err := h.operator.StartOnPlayer(request.Context(), body.Player, tier)
	h.writeStarted(writer, ev, err)
}

func (h *HTTPHandler) startBarrage(writer http.ResponseWriter, request *http.Request) {
	var body barrageRequest
	if !h.decodeBody(writer, request, &body) {
		return
	}
	ev, err := h.operator.StartBarrage(request.Context(), event.BarrageRequest{
		Origin:    body.Origin,
		Direction: body.Direction,
		Player:    body.Player,
	})
	h.writeStarted(writer, ev, err)
}

func (h *HTTPHandler) listEvents(writer http.ResponseWriter, request *http.Request) {
	events, err := h.operator.ActiveEvents(request.Context())
	if err != nil {
		h.writeError(writer, err, nil)
		return
	}
	writeJSON(writer, http.StatusOK, events)
}

func (h *HTTPHandler) hostEvents(writer http.ResponseWriter, request *http.Request) {
	body, ok := h.readBody(writer, request)
	if !ok {
		return
	}
	scratch := acquireDecodeScratch()
	defer releaseDecodeScratch(scratch)
	events, err := decodeHostPayloadInto(body, scratch)
	if err != nil {
		writeJSON(writer, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := pushHostEvents(h.hosts, events); err != nil {
		h.logger.Error("host callback push failed", "error", err.Error())
		writer.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writer.WriteHeader(http.StatusAccepted)
}

func (h *HTTPHandler) typedHostEvent(kind domain.HostEventType) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		body, ok := h.readBody(writer, request)
		if !ok {
			return
		}
		ev, err := decodeTypedPayload(kind, h.clock.Now().UnixMilli(), body)
		if err != nil {
			writeJSON(writer, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		if err := h.hosts.Push(ev); err != nil {
			h.logger.Error("host callback push failed", "type", kind, "error", err.Error())
			writer.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writer.WriteHeader(http.StatusAccepted)
	}
}

func (h *HTTPHandler) readBody(writer http.ResponseWriter, request *http.Request) ([]byte, bool) {
	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		writeJSON(writer, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return nil, false
	}
	return body, true
}

// decodeBody decodes an optional JSON body; an empty body leaves target unchanged.
func (h *HTTPHandler) decodeBody(writer http.ResponseWriter, request *http.Request, target any) bool {
	body, ok := h.readBody(writer, request)
	if !ok {
		return false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return true
	}
	if err := json.Unmarshal(body, target); err != nil {
		writeJSON(writer, http.StatusBadRequest, errorResponse{Error: "decode body: " + err.Error()})
		return false
	}
	return true
}

func (h *HTTPHandler) writeStarted(writer http.ResponseWriter, ev domain.ActiveEvent, err error) {
	if err != nil {
		var snapshot *domain.ActiveEvent
		if ev.ID != "" {
			snapshot = &ev
		}
		h.writeError(writer, err, snapshot)
		return
	}
	writeJSON(writer, http.StatusAccepted, ev)
}

// writeError maps engine errors to status codes.
func (h *HTTPHandler) writeError(writer http.ResponseWriter, err error, ev *domain.ActiveEvent) {
	response := errorResponse{Error: err.Error(), Event: ev}
	var skip *event.SkipError
	switch {
	case errors.Is(err, event.ErrPlayerNotFound):
		writeJSON(writer, http.StatusNotFound, response)
	case errors.As(err, &skip):
		response.Reason = skip.Reason
		writeJSON(writer, http.StatusConflict, response)
	case fault.Is(err, fault.Precondition):
		writeJSON(writer, http.StatusConflict, response)
	case errors.Is(err, timers.ErrStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(writer, http.StatusServiceUnavailable, response)
	default:
		h.logger.Error("operator request failed", "error", err.Error())
		writeJSON(writer, http.StatusInternalServerError, response)
	}
}

func parseTier(writer http.ResponseWriter, raw string) (domain.IntensityName, bool) {
	if strings.TrimSpace(raw) == "" {
		return "", true
	}
	tier, err := domain.ParseIntensity(raw)
	if err != nil {
		writeJSON(writer, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return "", false
	}
	return tier, true
}

func writeJSON(writer http.ResponseWriter, status int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(payload)
}
