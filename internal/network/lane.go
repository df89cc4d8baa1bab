package network

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gatecrash-project/gatecrash/internal/protocol"
)

// Encrypted-flag latch steps: the flag is evaluated on the read that arrives
// once this many messages have been relayed in the lane's direction.
const (
	outgoingLatchStep = 3
	incomingLatchStep = 2
)

// lane is one relay direction of a session: bytes read from src are
// decrypted, split into frames and written to dst. A session owns two lanes
// and a teardown replaces both, so a lingering read loop can tell that its
// lane is stale.
type lane struct {
	dest protocol.Destination
	src  net.Conn
	dst  net.Conn

	// read side, touched only by the lane's read loop
	splitter    *protocol.FrameSplitter
	latchStep   int
	grabHeaders bool

	decrypt   atomic.Pointer[protocol.RC4]
	encrypt   atomic.Pointer[protocol.RC4]
	encrypted atomic.Bool
	count     atomic.Int64

	sendMu       sync.Mutex
	lastActivity atomic.Int64
}

func newLane(dest protocol.Destination) *lane {
	l := &lane{
		dest:     dest,
		splitter: protocol.NewFrameSplitter(),
	}
	if dest == protocol.DestinationServer {
		l.latchStep = outgoingLatchStep
	} else {
		l.latchStep = incomingLatchStep
	}
	return l
}

// attach wires the sockets of a freshly identified session.
func (l *lane) attach(src, dst net.Conn) {
	l.src = src
	l.dst = dst
	l.grabHeaders = l.dest == protocol.DestinationServer
	l.touch()
}

func (l *lane) touch() {
	l.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the time of the last read or write on the lane.
func (l *lane) LastActivity() time.Time {
	ns := l.lastActivity.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// setDecrypt installs the cipher for bytes read from src. A new cipher means
// the stream is expected to be readable again, so the encrypted flag drops.
func (l *lane) setDecrypt(r *protocol.RC4) {
	l.decrypt.Store(r)
	if r != nil {
		l.encrypted.Store(false)
	}
}

// latch evaluates the encrypted flag on the configured step: the stream is
// encrypted when the first four bytes do not describe the read.
func (l *lane) latch(data []byte) (bool, bool) {
	if int(l.count.Load()) != l.latchStep {
		return false, false
	}

	declared := 0
	if len(data) >= protocol.FrameOverhead {
		declared = int(protocol.DecypherInt(data, 0))
	}
	encrypted := declared != len(data)-protocol.LengthPrefixSize
	l.encrypted.Store(encrypted)
	return encrypted, true
}

// write sends data to dst through the lane's encrypt cipher. Writes are
// serialized so the keystream advances in send order. The caller's buffer is
// never modified.
func (l *lane) write(conn net.Conn, data []byte) (int, error) {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	if enc := l.encrypt.Load(); enc != nil {
		data = enc.SafeParse(data)
	}

	n, err := conn.Write(data)
	if err != nil {
		return n, fmt.Errorf("%w: write to %s: %v", ErrConnectionFailure, l.dest, err)
	}
	l.touch()
	return n, nil
}
