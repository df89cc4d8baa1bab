// Package filter decides, per direction and per header, whether a relayed
// message is dropped, swapped for another message or forwarded as is.
package filter

import (
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gatecrash-project/gatecrash/internal/protocol"
)

// Predicate reports whether msg should be blocked.
type Predicate func(msg *protocol.Message) bool

// Replacer returns the message to forward in place of msg. Returning nil
// forwards msg unchanged.
type Replacer func(msg *protocol.Message) *protocol.Message

// Table holds the filter rules of one direction. Each header carries at most
// one rule: a block (static or predicate) or a replacement (static message or
// function). Setting a rule clears the previous one.
type Table struct {
	mu           sync.RWMutex
	blocked      map[uint16]struct{}
	predicates   map[uint16]Predicate
	replacements map[uint16]*protocol.Message
	replacers    map[uint16]Replacer

	logger zerolog.Logger
}

// NewTable creates an empty rule table.
func NewTable(name string) *Table {
	return &Table{
		blocked:      make(map[uint16]struct{}),
		predicates:   make(map[uint16]Predicate),
		replacements: make(map[uint16]*protocol.Message),
		replacers:    make(map[uint16]Replacer),
		logger:       log.With().Str("component", "filter").Str("direction", name).Logger(),
	}
}

// clearLocked drops every rule for header. Caller holds mu.
func (t *Table) clearLocked(header uint16) {
	delete(t.blocked, header)
	delete(t.predicates, header)
	delete(t.replacements, header)
	delete(t.replacers, header)
}

// Block drops every message with header.
func (t *Table) Block(header uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLocked(header)
	t.blocked[header] = struct{}{}
}

// BlockIf drops messages with header for which pred returns true.
func (t *Table) BlockIf(header uint16, pred Predicate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLocked(header)
	t.predicates[header] = pred
}

// Unblock removes a block rule for header. Replacement rules are kept.
func (t *Table) Unblock(header uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.blocked, header)
	delete(t.predicates, header)
}

// Replace forwards a copy of msg in place of every message with header.
func (t *Table) Replace(header uint16, msg *protocol.Message) {
	if msg == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLocked(header)
	t.replacements[header] = msg.Clone()
}

// ReplaceWith forwards the result of fn in place of every message with header.
func (t *Table) ReplaceWith(header uint16, fn Replacer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLocked(header)
	t.replacers[header] = fn
}

// Unreplace removes a replacement rule for header. Block rules are kept.
func (t *Table) Unreplace(header uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.replacements, header)
	delete(t.replacers, header)
}

// IsBlocked reports whether header has a block rule of either kind.
func (t *Table) IsBlocked(header uint16) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, blocked := t.blocked[header]
	_, pred := t.predicates[header]
	return blocked || pred
}

// IsReplaced reports whether header has a replacement rule of either kind.
func (t *Table) IsReplaced(header uint16) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, rep := t.replacements[header]
	_, fn := t.replacers[header]
	return rep || fn
}

// Blocked returns the headers with a block rule, sorted.
func (t *Table) Blocked() []uint16 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	headers := make([]uint16, 0, len(t.blocked)+len(t.predicates))
	for h := range t.blocked {
		headers = append(headers, h)
	}
	for h := range t.predicates {
		headers = append(headers, h)
	}
	slices.Sort(headers)
	return headers
}

// Replaced returns the headers with a replacement rule, sorted.
func (t *Table) Replaced() []uint16 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	headers := make([]uint16, 0, len(t.replacements)+len(t.replacers))
	for h := range t.replacements {
		headers = append(headers, h)
	}
	for h := range t.replacers {
		headers = append(headers, h)
	}
	slices.Sort(headers)
	return headers
}

// Clear removes every rule.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.blocked)
	clear(t.predicates)
	clear(t.replacements)
	clear(t.replacers)
}

// Process applies the rules for msg's header. It returns true when msg must
// be dropped, otherwise the message to forward (msg itself or its
// replacement). Corrupted messages always pass through. A panicking
// predicate or replacer forwards msg unchanged.
func (t *Table) Process(msg *protocol.Message) (bool, *protocol.Message) {
	if msg.IsCorrupted() {
		return false, msg
	}

	header := msg.Header()
	t.mu.RLock()
	_, blocked := t.blocked[header]
	pred := t.predicates[header]
	replacement := t.replacements[header]
	replacer := t.replacers[header]
	t.mu.RUnlock()

	switch {
	case blocked:
		return true, msg
	case pred != nil:
		return t.runPredicate(pred, msg), msg
	case replacement != nil:
		return false, replacement.Clone()
	case replacer != nil:
		return false, t.runReplacer(replacer, msg)
	}
	return false, msg
}

func (t *Table) runPredicate(pred Predicate, msg *protocol.Message) (block bool) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().Interface("panic", r).Uint16("header", msg.Header()).Msg("block predicate panicked")
			block = false
		}
	}()
	return pred(msg)
}

func (t *Table) runReplacer(fn Replacer, msg *protocol.Message) (out *protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().Interface("panic", r).Uint16("header", msg.Header()).Msg("replacer panicked")
			out = msg
		}
	}()
	if out = fn(msg); out == nil {
		out = msg
	}
	return out
}

// Filters holds the rule tables for both directions.
type Filters struct {
	Incoming *Table // messages to the client
	Outgoing *Table // messages to the server
}

// New creates empty rule tables for both directions.
func New() *Filters {
	return &Filters{
		Incoming: NewTable("incoming"),
		Outgoing: NewTable("outgoing"),
	}
}

// For returns the table for messages flowing towards dest.
func (f *Filters) For(dest protocol.Destination) *Table {
	if dest == protocol.DestinationClient {
		return f.Incoming
	}
	return f.Outgoing
}

// Process applies the table matching msg's destination.
func (f *Filters) Process(msg *protocol.Message) (bool, *protocol.Message) {
	return f.For(msg.Destination()).Process(msg)
}
