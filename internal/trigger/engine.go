// Package trigger correlates consecutive messages of one direction into
// higher-level detections ("the host started dancing", "the host left the
// room"). Once a correlation is confirmed the header is locked to its
// detection and later messages with that header are dispatched directly.
package trigger

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gatecrash-project/gatecrash/internal/events"
	"github.com/gatecrash-project/gatecrash/internal/headers"
	"github.com/gatecrash-project/gatecrash/internal/protocol"
)

// Callback is invoked for every message carrying the header it is attached to.
type Callback func(msg *protocol.Message)

// lane is the per-direction state. The two lanes never share a lock.
type lane struct {
	mu        sync.Mutex
	previous  *protocol.Message
	locked    map[uint16]events.EventType
	callbacks map[uint16]Callback
}

func newLane() *lane {
	return &lane{
		locked:    make(map[uint16]events.EventType),
		callbacks: make(map[uint16]Callback),
	}
}

// Engine is the detection state machine for one relay.
//
// Each direction must be fed from a single goroutine; the relay guarantees
// that. Configuration methods may be called from any goroutine.
type Engine struct {
	bus        *events.EventBus
	headers    *headers.ProtocolMap
	heuristics Heuristics

	capture   atomic.Bool
	learn     atomic.Bool
	sessionID atomic.Value // string

	incoming *lane
	outgoing *lane

	logger zerolog.Logger
}

// NewEngine creates an engine that raises detections on bus and, in learn
// mode, records discovered headers in pm. Capture starts disabled.
func NewEngine(bus *events.EventBus, pm *headers.ProtocolMap, h Heuristics) *Engine {
	e := &Engine{
		bus:        bus,
		headers:    pm,
		heuristics: h,
		incoming:   newLane(),
		outgoing:   newLane(),
		logger:     log.With().Str("component", "trigger").Logger(),
	}
	e.sessionID.Store("")
	return e
}

func (e *Engine) lane(dest protocol.Destination) *lane {
	if dest == protocol.DestinationClient {
		return e.incoming
	}
	return e.outgoing
}

// SetCaptureEvents toggles detection. Disabling forgets the previous message
// of both directions; locks are kept.
func (e *Engine) SetCaptureEvents(enabled bool) {
	if e.capture.Swap(enabled) == enabled || enabled {
		return
	}
	for _, l := range []*lane{e.incoming, e.outgoing} {
		l.mu.Lock()
		l.previous = nil
		l.mu.Unlock()
	}
	e.logger.Debug().Msg("event capture disabled, history cleared")
}

// CaptureEvents reports whether detection is enabled.
func (e *Engine) CaptureEvents() bool { return e.capture.Load() }

// SetUpdateHeaders toggles learn mode: confirmed correlations record their
// header in the protocol map.
func (e *Engine) SetUpdateHeaders(enabled bool) { e.learn.Store(enabled) }

// UpdateHeaders reports whether learn mode is enabled.
func (e *Engine) UpdateHeaders() bool { return e.learn.Load() }

// SetSessionID stamps subsequent detections with id.
func (e *Engine) SetSessionID(id string) { e.sessionID.Store(id) }

// ResetLocks forgets every learned header lock in both directions.
func (e *Engine) ResetLocks() {
	for _, l := range []*lane{e.incoming, e.outgoing} {
		l.mu.Lock()
		clear(l.locked)
		l.mu.Unlock()
	}
}

// Reset forgets the previous messages of both directions.
func (e *Engine) Reset() {
	for _, l := range []*lane{e.incoming, e.outgoing} {
		l.mu.Lock()
		l.previous = nil
		l.mu.Unlock()
	}
}

// Locks returns a copy of the header locks for messages flowing towards dest.
func (e *Engine) Locks(dest protocol.Destination) map[uint16]events.EventType {
	l := e.lane(dest)
	l.mu.Lock()
	defer l.mu.Unlock()
	return maps.Clone(l.locked)
}

// Attach registers cb for messages with header flowing towards dest,
// replacing any previous callback for that header.
func (e *Engine) Attach(dest protocol.Destination, header uint16, cb Callback) {
	l := e.lane(dest)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks[header] = cb
}

// Detach removes the callback for header.
func (e *Engine) Detach(dest protocol.Destination, header uint16) {
	l := e.lane(dest)
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.callbacks, header)
}

// DetachAll removes every callback for dest.
func (e *Engine) DetachAll(dest protocol.Destination) {
	l := e.lane(dest)
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.callbacks)
}

// ProcessOutgoing feeds a client-to-server message.
func (e *Engine) ProcessOutgoing(current *protocol.Message) {
	e.process(e.outgoing, current, e.correlateOutgoing)
}

// ProcessIncoming feeds a server-to-client message.
func (e *Engine) ProcessIncoming(current *protocol.Message) {
	e.process(e.incoming, current, e.correlateIncoming)
}

// Process feeds msg to the direction matching its destination.
func (e *Engine) Process(msg *protocol.Message) {
	if msg != nil && msg.Destination() == protocol.DestinationClient {
		e.ProcessIncoming(msg)
		return
	}
	e.ProcessOutgoing(msg)
}

func (e *Engine) process(l *lane, current *protocol.Message, correlate func(current, previous *protocol.Message) bool) {
	if current == nil || current.IsCorrupted() {
		return
	}

	l.mu.Lock()
	cb := l.callbacks[current.Header()]
	l.mu.Unlock()
	if cb != nil {
		e.runCallback(cb, current)
	}

	if !e.capture.Load() {
		return
	}

	l.mu.Lock()
	previous := l.previous
	l.previous = nil
	locked, isLocked := l.locked[current.Header()]
	previousLocked := false
	if previous != nil {
		_, previousLocked = l.locked[previous.Header()]
	}
	l.mu.Unlock()

	consumed := false
	switch {
	case isLocked:
		e.raise(locked, current, "")
	case previous != nil && !previousLocked:
		consumed = e.runCorrelate(correlate, current, previous)
	}

	current.SetPosition(0)
	if consumed || !e.capture.Load() {
		return
	}

	l.mu.Lock()
	l.previous = current.Clone()
	l.mu.Unlock()
}

func (e *Engine) runCallback(cb Callback, msg *protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Uint16("header", msg.Header()).Msg("header callback panicked")
		}
	}()
	cb(msg)
}

func (e *Engine) runCorrelate(correlate func(current, previous *protocol.Message) bool, current, previous *protocol.Message) (consumed bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Uint16("header", current.Header()).Msg("correlation panicked")
			consumed = false
		}
	}()
	return correlate(current, previous)
}

// confirm records a successful correlation: learns the header name, locks
// the header of msg to the detection and raises it.
func (e *Engine) confirm(dest protocol.Destination, name string, event events.EventType, msg *protocol.Message, action string) {
	header := msg.Header()

	if e.learn.Load() {
		e.headers.Table(dest).Set(name, header)
		e.bus.Emit(context.Background(), events.Event{
			Type:   events.EventHeaderLearned,
			Source: "trigger",
			Payload: events.HeaderLearnedPayload{
				Destination: dest,
				Name:        name,
				Header:      header,
			},
		})
	}

	l := e.lane(dest)
	l.mu.Lock()
	l.locked[header] = event
	l.mu.Unlock()

	e.logger.Info().
		Str("event", string(event)).
		Uint16("header", header).
		Str("action", action).
		Msg("correlation confirmed")

	e.raise(event, msg, action)
}

// raise dispatches a detection synchronously so handlers see the message
// before it is forwarded.
func (e *Engine) raise(event events.EventType, msg *protocol.Message, action string) {
	e.bus.EmitSync(context.Background(), events.Event{
		Type:   event,
		Source: "trigger",
		Payload: events.DetectedPayload{
			SessionID: e.sessionID.Load().(string),
			Header:    msg.Header(),
			Message:   msg,
			Action:    action,
		},
	})
}
