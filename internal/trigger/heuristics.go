package trigger

import (
	"slices"
	"strconv"

	"github.com/gatecrash-project/gatecrash/internal/events"
	"github.com/gatecrash-project/gatecrash/internal/headers"
	"github.com/gatecrash-project/gatecrash/internal/protocol"
)

// Heuristics holds the protocol constants the correlators match against.
// They belong to one client build and can be replaced when it changes.
type Heuristics struct {
	// MenuOffset is where the avatar menu and sign keywords sit in the body.
	MenuOffset int
	// KickSentinel is the first int of the kick notice.
	KickSentinel int32

	SignKeyword     string
	StanceKeywords  []string
	DanceKeywords   []string
	GestureKeywords []string

	NavigationTag    string
	NavigationSource string
}

// DefaultHeuristics returns the constants observed for the supported client.
func DefaultHeuristics() Heuristics {
	return Heuristics{
		MenuOffset:       22,
		KickSentinel:     4008,
		SignKeyword:      "sign",
		StanceKeywords:   []string{"sit", "stand"},
		DanceKeywords:    []string{"dance_start", "dance_stop"},
		GestureKeywords:  []string{"wave", "idle", "laugh", "blow_kiss"},
		NavigationTag:    "Navigation",
		NavigationSource: "go.official",
	}
}

// correlateOutgoing runs the client-to-server correlators, keyed by the
// length of the current message.
func (e *Engine) correlateOutgoing(current, previous *protocol.Message) bool {
	switch l := current.Length(); {
	case l == 6:
		return e.tryAvatarMenuClick(current, previous) || e.tryRoomExit(current, previous)
	case l >= 36 && l <= 50:
		return e.tryRaiseSign(current, previous) || e.tryRoomNavigate(current, previous)
	}
	return false
}

// correlateIncoming runs the server-to-client correlators.
func (e *Engine) correlateIncoming(current, previous *protocol.Message) bool {
	if current.Length() == 6 {
		return e.tryPlayerKickHost(current)
	}
	return false
}

// tryRoomExit: an empty message followed by a lone int of -1. The empty
// message is the exit request.
func (e *Engine) tryRoomExit(current, previous *protocol.Message) bool {
	if previous.Length() != 2 {
		return false
	}
	if v, err := current.ReadIntAt(0); err != nil || v != -1 {
		return false
	}

	e.confirm(protocol.DestinationServer, headers.RoomExit, events.EventHostRoomExit, previous, "")
	return true
}

// tryRaiseSign: a logged "sign" keyword after the sign request.
func (e *Engine) tryRaiseSign(current, previous *protocol.Message) bool {
	h := e.heuristics
	if !current.CanReadAt(protocol.ChunkString, h.MenuOffset) {
		return false
	}
	if s, err := current.ReadStringAt(h.MenuOffset); err != nil || s != h.SignKeyword {
		return false
	}

	e.confirm(protocol.DestinationServer, headers.RaiseSign, events.EventHostRaiseSign, previous, "")
	return true
}

// tryAvatarMenuClick: the previous message logs which avatar menu entry was
// clicked; the current message is the action itself.
func (e *Engine) tryAvatarMenuClick(current, previous *protocol.Message) bool {
	h := e.heuristics
	if !previous.CanReadAt(protocol.ChunkString, h.MenuOffset) {
		return false
	}
	action, err := previous.ReadStringAt(h.MenuOffset)
	if err != nil {
		return false
	}

	switch {
	case slices.Contains(h.StanceKeywords, action):
		e.confirm(protocol.DestinationServer, headers.ChangeStance, events.EventHostChangeStance, current, action)
	case slices.Contains(h.DanceKeywords, action):
		e.confirm(protocol.DestinationServer, headers.Dance, events.EventHostDance, current, action)
	case slices.Contains(h.GestureKeywords, action):
		e.confirm(protocol.DestinationServer, headers.Gesture, events.EventHostGesture, current, action)
	default:
		return false
	}
	return true
}

// tryRoomNavigate: a navigation log entry naming the room id that the
// previous message requested.
func (e *Engine) tryRoomNavigate(current, previous *protocol.Message) bool {
	h := e.heuristics
	if previous.Length() < 12 || !current.CanReadAt(protocol.ChunkString, 0) {
		return false
	}

	if tag, err := current.ReadString(); err != nil || tag != h.NavigationTag {
		return false
	}
	if _, err := current.ReadString(); err != nil {
		return false
	}
	if source, err := current.ReadString(); err != nil || source != h.NavigationSource {
		return false
	}

	roomID, err := previous.ReadIntAt(0)
	if err != nil {
		return false
	}
	if logged, err := current.ReadString(); err != nil || logged != strconv.Itoa(int(roomID)) {
		return false
	}

	e.confirm(protocol.DestinationServer, headers.RoomNavigate, events.EventHostRoomNavigate, previous, "")
	return true
}

// tryPlayerKickHost: the kick notice carries a fixed sentinel as its only int.
func (e *Engine) tryPlayerKickHost(current *protocol.Message) bool {
	if v, err := current.ReadIntAt(0); err != nil || v != e.heuristics.KickSentinel {
		return false
	}

	e.confirm(protocol.DestinationClient, headers.PlayerKickHost, events.EventPlayerKickHost, current, "")
	return true
}
