// Package protocol implements the wire format of the game protocol relayed by
// gatecrash. Every frame on the wire is laid out as
//
//	[length:4 BE][header:2 BE][body:length-2]
//
// where length counts the header and body bytes, i.e. everything after the
// length prefix itself.
package protocol

import (
	"fmt"
	"strings"
)

// Frame layout sizes.
const (
	LengthPrefixSize = 4
	HeaderSize       = 2
	FrameOverhead    = LengthPrefixSize + HeaderSize
)

// Headers with the same value in every client build.
const (
	ClientHello      uint16 = 4000 // first outgoing frame of the official game socket
	ClientDisconnect uint16 = 4000 // incoming
)

// MaxStringLength is the largest string a 2-byte length prefix can describe.
const MaxStringLength = 0xFFFF

// Destination identifies the peer a message is flowing towards.
type Destination int

const (
	DestinationUnknown Destination = iota
	DestinationClient
	DestinationServer
)

var destinationStrings = map[Destination]string{
	DestinationUnknown: "unknown",
	DestinationClient:  "client",
	DestinationServer:  "server",
}

// String returns the lowercase name of the destination.
func (d Destination) String() string {
	if str, ok := destinationStrings[d]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes Destination as a JSON string (e.g. "client").
func (d Destination) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// ParseDestination accepts "client"/"in"/"incoming" and "server"/"out"/"outgoing".
func ParseDestination(s string) (Destination, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "client", "in", "incoming":
		return DestinationClient, nil
	case "server", "out", "outgoing":
		return DestinationServer, nil
	default:
		return DestinationUnknown, fmt.Errorf("unknown destination %q", s)
	}
}
