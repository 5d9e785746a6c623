package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"barrage/internal/domain"
)

// maxPooledBatchCapacity bounds scratch buffers kept in the pool.
const maxPooledBatchCapacity = 1024

type decodeScratch struct {
	events []domain.HostEvent
}

var decodeScratchPool = sync.Pool{
	New: func() any {
		return &decodeScratch{events: make([]domain.HostEvent, 0, 16)}
	},
}

// decodeHostPayloadInto auto-detects batch vs single host callback payload.
// Params: raw JSON bytes with one envelope or an array of envelopes.
// Returns: validated events; the slice is only valid until the scratch is released.
func decodeHostPayloadInto(raw []byte, scratch *decodeScratch) ([]domain.HostEvent, error) {
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	if payload[0] == '[' {
		return decodeHostBatchInto(decoder, scratch)
	}
	event, err := domain.DecodeHostEventReader(decoder)
	if err != nil {
		return nil, err
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return nil, err
	}
	events := append(scratch.events[:0], event)
	scratch.events = events
	return events, nil
}

func decodeHostBatchInto(decoder *json.Decoder, scratch *decodeScratch) ([]domain.HostEvent, error) {
	events := scratch.events[:0]
	if err := decoder.Decode(&events); err != nil {
		return nil, fmt.Errorf("decode host event batch: %w", err)
	}
	if len(events) == 0 {
		return nil, errors.New("host event batch must contain at least one event")
	}
	for i := range events {
		if err := events[i].Validate(); err != nil {
			return nil, fmt.Errorf("event[%d]: %w", i, err)
		}
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return nil, err
	}
	scratch.events = events
	return events, nil
}

// decodeTypedPayload wraps one bare payload posted to a typed endpoint into an envelope.
// Params: callback type, receive time in unix milliseconds and raw JSON body.
// Returns: validated envelope.
func decodeTypedPayload(kind domain.HostEventType, dt int64, raw []byte) (domain.HostEvent, error) {
	event := domain.HostEvent{DT: dt, Type: kind}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	var target any
	switch kind {
	case domain.HostEventDamage:
		event.Damage = &domain.DamageEvent{}
		target = event.Damage
	case domain.HostEventDestroyed:
		event.Destroyed = &domain.DestroyedEvent{}
		target = event.Destroyed
	case domain.HostEventTelemetry:
		event.Telemetry = &domain.Telemetry{}
		target = event.Telemetry
	default:
		return domain.HostEvent{}, fmt.Errorf("unsupported type %q", kind)
	}
	if err := decoder.Decode(target); err != nil {
		return domain.HostEvent{}, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return domain.HostEvent{}, err
	}
	if err := event.Validate(); err != nil {
		return domain.HostEvent{}, err
	}
	return event, nil
}

func acquireDecodeScratch() *decodeScratch {
	return decodeScratchPool.Get().(*decodeScratch)
}

func releaseDecodeScratch(scratch *decodeScratch) {
	if scratch == nil {
		return
	}
	clear(scratch.events)
	if cap(scratch.events) > maxPooledBatchCapacity {
		scratch.events = make([]domain.HostEvent, 0, 16)
	} else {
		scratch.events = scratch.events[:0]
	}
	decodeScratchPool.Put(scratch)
}

// ensureJSONEOF rejects trailing tokens after a decoded JSON payload.
// Params: decoder positioned after primary decode.
// Returns: nil on EOF or error on trailing tokens.
func ensureJSONEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	err := decoder.Decode(&extra)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode trailing json: %w", err)
	}
	return errors.New("unexpected trailing json tokens")
}

// pushHostEvents hands decoded callbacks to sink, in one call when it supports batches.
// Params: host event sink and event slice.
// Returns: first push error or nil.
func pushHostEvents(sink HostSink, events []domain.HostEvent) error {
	if len(events) == 0 {
		return nil
	}
	if batchSink, ok := sink.(batchHostSink); ok {
		return batchSink.PushBatch(events)
	}
	for _, event := range events {
		if err := sink.Push(event); err != nil {
			return err
		}
	}
	return nil
}
