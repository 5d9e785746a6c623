package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"barrage/internal/clock"
	"barrage/internal/domain"
	"barrage/internal/event"
	"barrage/internal/fault"
	"barrage/internal/timers"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type httpTestSink struct {
	pushCalls  int
	batchCalls int
	events     []domain.HostEvent
	err        error
}

func (s *httpTestSink) Push(event domain.HostEvent) error {
	s.pushCalls++
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *httpTestSink) PushBatch(events []domain.HostEvent) error {
	s.batchCalls++
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, events...)
	return nil
}

type fakeOperator struct {
	calls    []string
	position domain.Vec3
	tier     domain.IntensityName
	player   string
	barrage  event.BarrageRequest
	err      error
	events   []domain.ActiveEvent
}

func (o *fakeOperator) started(trigger domain.TriggerKind) (domain.ActiveEvent, error) {
	o.calls = append(o.calls, string(trigger))
	ev := domain.ActiveEvent{ID: "ev-1", Trigger: trigger, State: domain.StateAnnounce, Intensity: o.tier}
	if o.err != nil {
		ev.State = domain.StateSkipped
	}
	return ev, o.err
}

func (o *fakeOperator) StartRandom(context.Context) (domain.ActiveEvent, error) {
	return o.started(domain.TriggerRandom)
}

func (o *fakeOperator) StartOnPosition(_ context.Context, position domain.Vec3, tier domain.IntensityName) (domain.ActiveEvent, error) {
	o.position, o.tier = position, tier
	return o.started(domain.TriggerPosition)
}

func (o *fakeOperator) StartOnPlayer(_ context.Context, query string, tier domain.IntensityName) (domain.ActiveEvent, error) {
	o.player, o.tier = query, tier
	if o.err == nil && query == "ghost" {
		return domain.ActiveEvent{}, fault.Mark(fault.Precondition, fmt.Errorf("%w: %q", event.ErrPlayerNotFound, query))
	}
	return o.started(domain.TriggerPlayer)
}

func (o *fakeOperator) StartBarrage(_ context.Context, req event.BarrageRequest) (domain.ActiveEvent, error) {
	o.barrage = req
	return o.started(domain.TriggerBarrage)
}

func (o *fakeOperator) ActiveEvents(context.Context) ([]domain.ActiveEvent, error) {
	return o.events, o.err
}

func newTestHandler(operator Operator, sink HostSink) *HTTPHandler {
	return NewHTTPHandler(operator, sink, 1<<20, fixedClock{now: time.UnixMilli(1739876543210)}, nil)
}

func serve(handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(method, path, strings.NewReader(body))
	response := httptest.NewRecorder()
	handler.ServeHTTP(response, request)
	return response
}

func TestHTTPHandlerAcceptsSingleHostEvent(t *testing.T) {
	t.Parallel()

	sink := &httpTestSink{}
	response := serve(newTestHandler(nil, sink), http.MethodPost, "/host/events", destroyedJSON("sim-1"))
	if response.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, response.Code)
	}
	if sink.pushCalls != 0 || sink.batchCalls != 1 {
		t.Fatalf("unexpected sink calls push=%d batch=%d", sink.pushCalls, sink.batchCalls)
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}
}

func TestHTTPHandlerAcceptsBatchHostEvents(t *testing.T) {
	t.Parallel()

	sink := &httpTestSink{}
	payload := fmt.Sprintf("[%s,%s]", destroyedJSON("sim-1"), telemetryJSON(4))
	response := serve(newTestHandler(nil, sink), http.MethodPost, "/host/events", payload)
	if response.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, response.Code)
	}
	if len(sink.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(sink.events))
	}
}

func TestHTTPHandlerRejectsInvalidBatch(t *testing.T) {
	t.Parallel()

	sink := &httpTestSink{}
	response := serve(newTestHandler(nil, sink), http.MethodPost, "/host/events", "[]")
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, response.Code)
	}
	if sink.pushCalls != 0 || sink.batchCalls != 0 {
		t.Fatalf("unexpected sink calls push=%d batch=%d", sink.pushCalls, sink.batchCalls)
	}
}

func TestHTTPHandlerTypedHostEndpoints(t *testing.T) {
	t.Parallel()

	sink := &httpTestSink{}
	handler := newTestHandler(nil, sink)
	cases := []struct {
		path string
		body string
		want domain.HostEventType
	}{
		{path: "/host/damage", body: `{"target":"wall-1","target_prefab":"wall.stone","owner_id":7,"initiator":"sim-1","damage":30}`, want: domain.HostEventDamage},
		{path: "/host/destroyed", body: `{"handle":"sim-1"}`, want: domain.HostEventDestroyed},
		{path: "/host/telemetry", body: `{"player_count":3,"frame_rate":55.5,"players":[{"id":"1","name":"Alice"}]}`, want: domain.HostEventTelemetry},
	}
	for _, tc := range cases {
		response := serve(handler, http.MethodPost, tc.path, tc.body)
		if response.Code != http.StatusAccepted {
			t.Fatalf("%s: expected status %d, got %d", tc.path, http.StatusAccepted, response.Code)
		}
		last := sink.events[len(sink.events)-1]
		if last.Type != tc.want || last.DT != 1739876543210 {
			t.Fatalf("%s: unexpected envelope %+v", tc.path, last)
		}
	}
	if sink.pushCalls != 3 {
		t.Fatalf("expected 3 pushes, got %d", sink.pushCalls)
	}

	response := serve(handler, http.MethodPost, "/host/damage", `{"target":"","damage":1}`)
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, response.Code)
	}
}

func TestHTTPHandlerReturnsServiceUnavailableOnPushError(t *testing.T) {
	t.Parallel()

	sink := &httpTestSink{err: errors.New("loop stopped")}
	response := serve(newTestHandler(nil, sink), http.MethodPost, "/host/destroyed", `{"handle":"sim-1"}`)
	if response.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, response.Code)
	}
}

func TestHTTPHandlerStartTriggers(t *testing.T) {
	t.Parallel()

	operator := &fakeOperator{}
	handler := newTestHandler(operator, nil)

	response := serve(handler, http.MethodPost, "/events/random", "")
	if response.Code != http.StatusAccepted {
		t.Fatalf("random: expected %d, got %d", http.StatusAccepted, response.Code)
	}
	var ev domain.ActiveEvent
	if err := json.Unmarshal(response.Body.Bytes(), &ev); err != nil || ev.ID != "ev-1" {
		t.Fatalf("random: unexpected body %s (%v)", response.Body.String(), err)
	}

	response = serve(handler, http.MethodPost, "/events/position", `{"position":{"x":10,"y":0,"z":-20},"intensity":"Optimal"}`)
	if response.Code != http.StatusAccepted {
		t.Fatalf("position: expected %d, got %d", http.StatusAccepted, response.Code)
	}
	if operator.position != (domain.Vec3{X: 10, Z: -20}) || operator.tier != domain.IntensityMedium {
		t.Fatalf("position: unexpected args %+v %q", operator.position, operator.tier)
	}

	response = serve(handler, http.MethodPost, "/events/player", `{"player":"ali"}`)
	if response.Code != http.StatusAccepted || operator.player != "ali" || operator.tier != "" {
		t.Fatalf("player: unexpected status %d args %q %q", response.Code, operator.player, operator.tier)
	}

	response = serve(handler, http.MethodPost, "/events/barrage", `{"origin":{"x":1,"y":2,"z":3},"direction":{"x":0,"y":0,"z":1}}`)
	if response.Code != http.StatusAccepted || operator.barrage.Direction.Z != 1 {
		t.Fatalf("barrage: unexpected status %d args %+v", response.Code, operator.barrage)
	}

	want := []string{"random", "position", "player", "barrage"}
	if strings.Join(operator.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected calls %v", operator.calls)
	}
}

func TestHTTPHandlerRejectsBadTriggerInput(t *testing.T) {
	t.Parallel()

	operator := &fakeOperator{}
	handler := newTestHandler(operator, nil)
	cases := []struct {
		path string
		body string
	}{
		{path: "/events/position", body: `{"position":{"x":1},"intensity":"apocalyptic"}`},
		{path: "/events/position", body: `{"position":`},
		{path: "/events/position", body: ``},
		{path: "/events/position", body: `{"intensity":"extreme"}`},
		{path: "/events/position", body: `{"position":null}`},
		{path: "/events/player", body: `{"player":"  "}`},
	}
	for _, tc := range cases {
		response := serve(handler, http.MethodPost, tc.path, tc.body)
		if response.Code != http.StatusBadRequest {
			t.Fatalf("%s %s: expected %d, got %d", tc.path, tc.body, http.StatusBadRequest, response.Code)
		}
	}
	if len(operator.calls) != 0 {
		t.Fatalf("operator must not be called, got %v", operator.calls)
	}
	if response := serve(handler, http.MethodGet, "/events/random", ""); response.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected %d for wrong method, got %d", http.StatusMethodNotAllowed, response.Code)
	}
}

func TestHTTPHandlerMapsErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		path string
		body string
		want int
	}{
		{
			name: "skip",
			err:  fault.Mark(fault.Precondition, &event.SkipError{EventID: "ev-1", Reason: event.ReasonNotEnoughPlayers}),
			path: "/events/random",
			want: http.StatusConflict,
		},
		{name: "player missing", path: "/events/player", body: `{"player":"ghost"}`, want: http.StatusNotFound},
		{name: "loop stopped", err: timers.ErrStopped, path: "/events/random", want: http.StatusServiceUnavailable},
		{name: "unexpected", err: errors.New("boom"), path: "/events/random", want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		handler := newTestHandler(&fakeOperator{err: tc.err}, nil)
		response := serve(handler, http.MethodPost, tc.path, tc.body)
		if response.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, response.Code)
		}
	}

	handler := newTestHandler(&fakeOperator{err: fault.Mark(fault.Precondition, &event.SkipError{EventID: "ev-1", Reason: event.ReasonNotEnoughPlayers})}, nil)
	response := serve(handler, http.MethodPost, "/events/random", "")
	var body errorResponse
	if err := json.Unmarshal(response.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Reason != event.ReasonNotEnoughPlayers || body.Event == nil || body.Event.State != domain.StateSkipped {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestHTTPHandlerListsEvents(t *testing.T) {
	t.Parallel()

	operator := &fakeOperator{events: []domain.ActiveEvent{{ID: "a"}, {ID: "b"}}}
	response := serve(newTestHandler(operator, nil), http.MethodGet, "/events", "")
	if response.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, response.Code)
	}
	var events []domain.ActiveEvent
	if err := json.Unmarshal(response.Body.Bytes(), &events); err != nil || len(events) != 2 {
		t.Fatalf("unexpected body %s (%v)", response.Body.String(), err)
	}
}

var _ clock.Clock = fixedClock{}
