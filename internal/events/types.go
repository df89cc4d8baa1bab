// Package events defines the event types and payloads published by the relay,
// the trigger engine and the scheduler.
package events

import (
	"github.com/gatecrash-project/gatecrash/internal/protocol"
)

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session lifecycle events
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"

	// Detection events
	EventHostRoomExit     EventType = "host_room_exit"
	EventHostRaiseSign    EventType = "host_raise_sign"
	EventHostRoomNavigate EventType = "host_room_navigate"
	EventHostChangeStance EventType = "host_change_stance"
	EventHostDance        EventType = "host_dance"
	EventHostGesture      EventType = "host_gesture"
	EventPlayerKickHost   EventType = "player_kick_host"

	// Learning and scheduling
	EventHeaderLearned     EventType = "header_learned"
	EventScheduleTriggered EventType = "schedule_triggered"

	// Interceptor events
	EventRequestIntercepted  EventType = "request_intercepted"
	EventResponseIntercepted EventType = "response_intercepted"

	// System events
	EventShutdown EventType = "shutdown"
)

// DetectionTypes lists every event the trigger engine can raise.
var DetectionTypes = []EventType{
	EventHostRoomExit,
	EventHostRaiseSign,
	EventHostRoomNavigate,
	EventHostChangeStance,
	EventHostDance,
	EventHostGesture,
	EventPlayerKickHost,
}

// IsDetection reports whether t is raised by the trigger engine.
func (t EventType) IsDetection() bool {
	for _, d := range DetectionTypes {
		if d == t {
			return true
		}
	}
	return false
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// ConnectedPayload is emitted once the official game socket has been
// identified and relaying starts.
type ConnectedPayload struct {
	SessionID   string
	Host        string
	Port        int
	ClientBuild string
}

// DisconnectedPayload is emitted exactly once per session teardown.
type DisconnectedPayload struct {
	SessionID        string
	MessagesToClient int
	MessagesToServer int
}

// DetectedPayload carries the message a detection was raised with. Message
// is the live relay message; handlers run synchronously and may inspect it
// but must not keep it.
type DetectedPayload struct {
	SessionID string
	Header    uint16
	Message   *protocol.Message
	// Action is the menu keyword that identified the event ("sit", "wave",
	// ...), when there was one.
	Action string
}

// HeaderLearnedPayload is emitted when a header name is recorded in the
// protocol map.
type HeaderLearnedPayload struct {
	Destination protocol.Destination
	Name        string
	Header      uint16
}

// ScheduleTriggeredPayload is emitted for every packet a schedule sends.
type ScheduleTriggeredPayload struct {
	ScheduleID   string
	Packet       *protocol.Message
	Destination  protocol.Destination
	BurstCount   int
	BurstLeft    int
	IsFinalBurst bool
}

// InterceptedPayload describes an HTTP exchange seen by the interceptor.
type InterceptedPayload struct {
	Method    string
	URL       string
	Status    int
	Cancelled bool
}
