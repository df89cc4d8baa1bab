// Package network implements the relay that sits between the game client and
// its server: it accepts the client, dials the real server, and pumps both
// directions through decryption, frame splitting, detection and filtering.
package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gatecrash-project/gatecrash/internal/events"
	"github.com/gatecrash-project/gatecrash/internal/filter"
	"github.com/gatecrash-project/gatecrash/internal/headers"
	"github.com/gatecrash-project/gatecrash/internal/protocol"
	"github.com/gatecrash-project/gatecrash/internal/trigger"
)

const (
	DefaultReadBufferSize = 8192
	DefaultDialTimeout    = 10 * time.Second
)

var (
	// ErrConnectionFailure wraps socket errors during accept, dial, send and
	// receive. Inside the read loops it always leads to a disconnect.
	ErrConnectionFailure = errors.New("connection failure")

	ErrAlreadyRunning = errors.New("relay is already running")
)

// State is the lifecycle state of a relay.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateClientAccepted
	StateServerConnecting
	StateRelaying
	StateDisconnected
)

var stateStrings = map[State]string{
	StateIdle:             "idle",
	StateListening:        "listening",
	StateClientAccepted:   "client_accepted",
	StateServerConnecting: "server_connecting",
	StateRelaying:         "relaying",
	StateDisconnected:     "disconnected",
}

// String returns the string representation of State.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes State as a JSON string (e.g. "relaying").
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Options configures a relay.
type Options struct {
	Host       string // real game server host
	Port       int    // real game server port
	ListenHost string // empty listens on all interfaces
	ListenPort int    // 0 picks an ephemeral port

	// SocketSkip closes the Nth accepted socket unrelayed (0 disables).
	SocketSkip     int
	ReadBufferSize int
	DialTimeout    time.Duration
}

func (o *Options) applyDefaults() {
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = DefaultReadBufferSize
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
}

// DataEvent is handed to data hooks for every relayed frame. Packet is the
// frame as read; Replacement and Blocked start out as the filter verdict and
// hooks may change them. A hook that panics cancels all changes and the
// original frame is forwarded.
type DataEvent struct {
	Packet      *protocol.Message
	Replacement *protocol.Message
	Step        int
	Blocked     bool
}

// DataHook observes or rewrites a relayed frame.
type DataHook func(e *DataEvent)

// Status is a point-in-time snapshot of a relay.
type Status struct {
	State             State  `json:"state"`
	SessionID         string `json:"session_id,omitempty"`
	Host              string `json:"host"`
	Port              int    `json:"port"`
	ListenAddr        string `json:"listen_addr,omitempty"`
	ClientBuild       string `json:"client_build,omitempty"`
	MessagesToClient  int64  `json:"messages_to_client"`
	MessagesToServer  int64  `json:"messages_to_server"`
	IncomingEncrypted bool   `json:"incoming_encrypted"`
	OutgoingEncrypted bool   `json:"outgoing_encrypted"`
	Passthroughs      int    `json:"passthroughs"`

	LastActivity string `json:"last_activity,omitempty"`
}

// Connection is the relay between one game client and its server.
//
// Incoming means server to client, outgoing client to server. Each direction
// is read by its own goroutine and processed strictly in order; the two
// directions run concurrently.
type Connection struct {
	opts     Options
	bus      *events.EventBus
	headers  *headers.ProtocolMap
	triggers *trigger.Engine
	filters  *filter.Filters

	state    atomic.Int32
	official atomic.Bool

	mu                sync.Mutex
	listener          net.Listener
	in                *lane
	out               *lane
	sessionID         string
	clientBuild       string
	disconnectAllowed bool
	stopCtxWatch      func() bool

	hooksMu       sync.RWMutex
	toClientHooks []DataHook
	toServerHooks []DataHook

	passthroughs *passthroughRegistry
	wg           sync.WaitGroup
	logger       zerolog.Logger
}

// NewConnection creates an idle relay.
func NewConnection(opts Options, bus *events.EventBus, pm *headers.ProtocolMap, triggers *trigger.Engine, filters *filter.Filters) *Connection {
	opts.applyDefaults()
	return &Connection{
		opts:         opts,
		bus:          bus,
		headers:      pm,
		triggers:     triggers,
		filters:      filters,
		in:           newLane(protocol.DestinationClient),
		out:          newLane(protocol.DestinationServer),
		passthroughs: newPassthroughRegistry(),
		logger: log.With().
			Str("component", "relay").
			Str("host", opts.Host).
			Int("port", opts.Port).
			Logger(),
	}
}

// ---- Accessors ----

// State returns the current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.logger.Debug().Str("from", old.String()).Str("to", s.String()).Msg("state changed")
	}
}

// advance moves the state to `to` only from one of the listed states, so a
// late goroutine of an abandoned socket cannot overwrite a newer state.
func (c *Connection) advance(to State, from ...State) bool {
	for _, f := range from {
		if c.state.CompareAndSwap(int32(f), int32(to)) {
			c.logger.Debug().Str("from", f.String()).Str("to", to.String()).Msg("state changed")
			return true
		}
	}
	return false
}

// IsConnected reports whether a session is relaying.
func (c *Connection) IsConnected() bool { return c.State() == StateRelaying }

// Filters returns the filter tables consulted for every frame.
func (c *Connection) Filters() *filter.Filters { return c.filters }

// Triggers returns the detection engine fed by the relay.
func (c *Connection) Triggers() *trigger.Engine { return c.triggers }

// ListenAddr returns the relay's listening address, or nil when not listening.
func (c *Connection) ListenAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// SessionID returns the id of the current or last session.
func (c *Connection) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ClientBuild returns the build string sent in the client hello.
func (c *Connection) ClientBuild() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientBuild
}

func (c *Connection) lanes() (in, out *lane) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.in, c.out
}

// MessagesToClient returns the number of frames relayed to the client.
func (c *Connection) MessagesToClient() int64 {
	in, _ := c.lanes()
	return in.count.Load()
}

// MessagesToServer returns the number of frames relayed to the server.
func (c *Connection) MessagesToServer() int64 {
	_, out := c.lanes()
	return out.count.Load()
}

// IncomingEncrypted reports whether the server stream was latched encrypted.
func (c *Connection) IncomingEncrypted() bool {
	in, _ := c.lanes()
	return in.encrypted.Load()
}

// OutgoingEncrypted reports whether the client stream was latched encrypted.
func (c *Connection) OutgoingEncrypted() bool {
	_, out := c.lanes()
	return out.encrypted.Load()
}

// Status returns a snapshot for the API and console.
func (c *Connection) Status() Status {
	st := Status{
		State:        c.State(),
		Host:         c.opts.Host,
		Port:         c.opts.Port,
		Passthroughs: c.passthroughs.Count(),
	}
	if addr := c.ListenAddr(); addr != nil {
		st.ListenAddr = addr.String()
	}

	c.mu.Lock()
	st.SessionID = c.sessionID
	st.ClientBuild = c.clientBuild
	in, out := c.in, c.out
	c.mu.Unlock()

	st.MessagesToClient = in.count.Load()
	st.MessagesToServer = out.count.Load()
	st.IncomingEncrypted = in.encrypted.Load()
	st.OutgoingEncrypted = out.encrypted.Load()

	last := in.LastActivity()
	if t := out.LastActivity(); t.After(last) {
		last = t
	}
	if !last.IsZero() {
		st.LastActivity = last.Format(time.RFC3339)
	}
	return st
}

// ---- Ciphers ----

// SetIncomingDecrypt sets the cipher applied to bytes read from the server.
func (c *Connection) SetIncomingDecrypt(r *protocol.RC4) {
	in, _ := c.lanes()
	in.setDecrypt(r)
}

// SetIncomingEncrypt sets the cipher applied to bytes sent to the client.
func (c *Connection) SetIncomingEncrypt(r *protocol.RC4) {
	in, _ := c.lanes()
	in.encrypt.Store(r)
}

// SetOutgoingDecrypt sets the cipher applied to bytes read from the client.
func (c *Connection) SetOutgoingDecrypt(r *protocol.RC4) {
	_, out := c.lanes()
	out.setDecrypt(r)
}

// SetOutgoingEncrypt sets the cipher applied to bytes sent to the server.
func (c *Connection) SetOutgoingEncrypt(r *protocol.RC4) {
	_, out := c.lanes()
	out.encrypt.Store(r)
}

// ---- Hooks ----

// OnDataToClient registers a hook run for every frame relayed to the client.
func (c *Connection) OnDataToClient(h DataHook) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.toClientHooks = append(c.toClientHooks, h)
}

// OnDataToServer registers a hook run for every frame relayed to the server.
func (c *Connection) OnDataToServer(h DataHook) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.toServerHooks = append(c.toServerHooks, h)
}

// ClearHooks removes every data hook.
func (c *Connection) ClearHooks() {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.toClientHooks = nil
	c.toServerHooks = nil
}

func (c *Connection) hooksFor(dest protocol.Destination) []DataHook {
	c.hooksMu.RLock()
	defer c.hooksMu.RUnlock()
	if dest == protocol.DestinationClient {
		return c.toClientHooks
	}
	return c.toServerHooks
}

// ---- Lifecycle ----

// Connect starts listening for the game client. It returns once the
// listener is bound; accepting, dialing and relaying continue in the
// background until Disconnect or until ctx is cancelled.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s := c.State(); s != StateIdle && s != StateDisconnected {
		return fmt.Errorf("%w: state %s", ErrAlreadyRunning, s)
	}

	addr := net.JoinHostPort(c.opts.ListenHost, strconv.Itoa(c.opts.ListenPort))
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	c.listener = ln
	c.disconnectAllowed = true
	c.official.Store(false)
	c.stopCtxWatch = context.AfterFunc(ctx, c.Disconnect)
	c.setState(StateListening)

	c.logger.Info().Str("addr", ln.Addr().String()).Msg("relay listening")

	c.wg.Add(1)
	go c.acceptLoop(ctx, ln)
	return nil
}

func (c *Connection) acceptLoop(ctx context.Context, ln net.Listener) {
	defer c.wg.Done()

	accepted := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			c.logger.Warn().Err(err).Msg("accept failed")
			continue
		}

		accepted++
		c.advance(StateClientAccepted, StateListening, StateServerConnecting)
		if accepted == c.opts.SocketSkip {
			c.logger.Debug().Int("socket", accepted).Msg("skipping socket")
			conn.Close()
			c.advance(StateListening, StateClientAccepted)
			continue
		}

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.handleClient(ctx, ln, conn)
		}()
	}
}

// handleClient dials the server for an accepted client and decides from the
// client's first read whether this is the official game socket.
func (c *Connection) handleClient(ctx context.Context, ln net.Listener, client net.Conn) {
	c.advance(StateServerConnecting, StateClientAccepted, StateListening)

	dialer := net.Dialer{Timeout: c.opts.DialTimeout}
	target := net.JoinHostPort(c.opts.Host, strconv.Itoa(c.opts.Port))
	server, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		c.logger.Error().Err(fmt.Errorf("%w: dial %s: %v", ErrConnectionFailure, target, err)).Msg("failed to connect to server")
		client.Close()
		return
	}

	buf := make([]byte, c.opts.ReadBufferSize)
	n, err := client.Read(buf)
	if err != nil || n == 0 {
		client.Close()
		server.Close()
		c.advance(StateListening, StateServerConnecting, StateClientAccepted)
		return
	}
	first := bytes.Clone(buf[:n])

	if n < protocol.FrameOverhead || protocol.DecypherShort(first, protocol.LengthPrefixSize) != protocol.ClientHello || !c.official.CompareAndSwap(false, true) {
		c.logger.Debug().Str("remote", client.RemoteAddr().String()).Msg("relaying non-game socket untouched")
		c.advance(StateListening, StateServerConnecting, StateClientAccepted)
		passthrough(client, server, first, c.passthroughs, c.logger)
		return
	}

	ln.Close()
	c.startSession(client, server, first)
}

func (c *Connection) startSession(client, server net.Conn, first []byte) {
	build := ""
	if len(first) >= protocol.FrameOverhead+2 {
		size := int(protocol.DecypherShort(first, protocol.FrameOverhead))
		end := min(protocol.FrameOverhead+2+size, len(first))
		build = string(first[protocol.FrameOverhead+2 : end])
	}

	c.mu.Lock()
	if !c.disconnectAllowed {
		c.mu.Unlock()
		client.Close()
		server.Close()
		return
	}
	c.sessionID = uuid.NewString()
	c.clientBuild = build
	c.listener = nil
	in, out := c.in, c.out
	in.attach(server, client)
	out.attach(client, server)
	sessionID := c.sessionID
	c.setState(StateRelaying)
	c.mu.Unlock()

	c.triggers.SetSessionID(sessionID)
	c.logger.Info().
		Str("session", sessionID).
		Str("client_build", build).
		Msg("official game socket connected")

	c.bus.EmitSync(context.Background(), events.Event{
		Type:   events.EventConnected,
		Source: "relay",
		Payload: events.ConnectedPayload{
			SessionID:   sessionID,
			Host:        c.opts.Host,
			Port:        c.opts.Port,
			ClientBuild: build,
		},
	})

	c.wg.Add(2)
	go c.readLoop(in, nil)
	go c.readLoop(out, first)
}

// Disconnect tears the session down: closes both sockets and the listener,
// clears ciphers, caches, flags and counters, and fires the disconnected
// event. Concurrent and repeated calls collapse into one teardown.
func (c *Connection) Disconnect() {
	c.disconnect(nil)
}

// disconnect tears down the session if from is nil or still one of its
// lanes, so a stale read loop can never end a newer session.
func (c *Connection) disconnect(from *lane) {
	c.mu.Lock()
	if !c.disconnectAllowed || (from != nil && from != c.in && from != c.out) {
		c.mu.Unlock()
		return
	}
	c.disconnectAllowed = false

	in, out, ln := c.in, c.out, c.listener
	sessionID := c.sessionID
	c.in = newLane(protocol.DestinationClient)
	c.out = newLane(protocol.DestinationServer)
	c.listener = nil
	if c.stopCtxWatch != nil {
		c.stopCtxWatch()
		c.stopCtxWatch = nil
	}
	c.official.Store(false)
	c.setState(StateDisconnected)
	c.mu.Unlock()

	for _, conn := range []net.Conn{in.src, out.src} {
		if conn != nil {
			conn.Close()
		}
	}
	if ln != nil {
		ln.Close()
	}
	c.passthroughs.CloseAll()
	c.triggers.Reset()

	payload := events.DisconnectedPayload{
		SessionID:        sessionID,
		MessagesToClient: int(in.count.Load()),
		MessagesToServer: int(out.count.Load()),
	}
	c.logger.Info().
		Str("session", sessionID).
		Int("to_client", payload.MessagesToClient).
		Int("to_server", payload.MessagesToServer).
		Msg("relay disconnected")

	c.bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventDisconnected,
		Source:  "relay",
		Payload: payload,
	})
}

// isCurrent reports whether l still belongs to the live session. Lanes are
// replaced on teardown, so a read loop holding an old lane sees false.
func (c *Connection) isCurrent(l *lane) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return l == c.in || l == c.out
}

// Wait blocks until every relay goroutine has exited.
func (c *Connection) Wait() {
	c.wg.Wait()
}

// ---- Relay loop ----

func (c *Connection) readLoop(l *lane, first []byte) {
	defer c.wg.Done()

	buf := make([]byte, c.opts.ReadBufferSize)
	data := first
	for {
		if data == nil {
			n, err := l.src.Read(buf)
			if err != nil || n == 0 {
				if err != nil && !errors.Is(err, net.ErrClosed) {
					c.logger.Debug().Err(err).Str("lane", l.dest.String()).Msg("read ended")
				}
				c.disconnect(l)
				return
			}
			data = bytes.Clone(buf[:n])
			l.touch()
		}

		if !c.handleRead(l, data) {
			return
		}
		data = nil
	}
}

// handleRead processes one read: decrypt, latch the encrypted flag, split
// and relay each frame. Returns false once the lane is finished.
func (c *Connection) handleRead(l *lane, data []byte) bool {
	if !c.isCurrent(l) {
		return false
	}
	if dec := l.decrypt.Load(); dec != nil {
		dec.Parse(data)
	}

	if encrypted, latched := l.latch(data); latched {
		c.logger.Debug().
			Str("lane", l.dest.String()).
			Bool("encrypted", encrypted).
			Msg("encrypted flag latched")
	}

	for _, frame := range l.splitter.Feed(data, !l.encrypted.Load()) {
		if !c.relayFrame(l, frame) {
			return false
		}
	}
	return true
}

func (c *Connection) relayFrame(l *lane, frame []byte) bool {
	if !c.isCurrent(l) {
		return false
	}
	step := int(l.count.Add(1))
	if l.grabHeaders {
		c.grabHandshakeHeader(l, step, frame)
	}

	msg := protocol.NewMessage(frame, l.dest)
	c.logger.Trace().
		Str("lane", l.dest.String()).
		Int("step", step).
		Uint16("header", msg.Header()).
		Int("size", len(frame)).
		Msg("frame")

	if !l.encrypted.Load() {
		c.triggers.Process(msg)
	}

	blocked, replacement := c.filters.Process(msg)
	ev := &DataEvent{
		Packet:      msg,
		Replacement: replacement,
		Step:        step,
		Blocked:     blocked,
	}
	c.runHooks(l.dest, ev)

	if ev.Blocked {
		return true
	}
	out := ev.Replacement
	if out == nil {
		out = msg
	}

	if _, err := l.write(l.dst, out.ToBytes()); err != nil {
		c.logger.Debug().Err(err).Msg("forward failed")
		c.disconnect(l)
		return false
	}
	return true
}

// grabHandshakeHeader records the headers of the fixed handshake steps of
// the client stream.
func (c *Connection) grabHandshakeHeader(l *lane, step int, frame []byte) {
	name := ""
	switch step {
	case 2:
		name = headers.InitiateHandshake
	case 3:
		name = headers.ClientPublicKey
	case 4:
		name = headers.FlashClientUrl
	case 6:
		name = headers.ClientSsoTicket
	case 7:
		l.grabHeaders = false
		return
	}
	if name == "" || len(frame) < protocol.FrameOverhead {
		return
	}

	header := protocol.DecypherShort(frame, protocol.LengthPrefixSize)
	c.headers.Outgoing.Set(name, header)
	c.logger.Debug().Str("name", name).Uint16("header", header).Msg("handshake header captured")
	c.bus.Emit(context.Background(), events.Event{
		Type:   events.EventHeaderLearned,
		Source: "relay",
		Payload: events.HeaderLearnedPayload{
			Destination: protocol.DestinationServer,
			Name:        name,
			Header:      header,
		},
	})
}

func (c *Connection) runHooks(dest protocol.Destination, ev *DataEvent) {
	hooks := c.hooksFor(dest)
	if len(hooks) == 0 {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Int("step", ev.Step).Msg("data hook panicked, forwarding original")
			ev.Blocked = false
			ev.Replacement = ev.Packet
		}
	}()
	for _, h := range hooks {
		h(ev)
	}
}

// ---- Sending ----

func (c *Connection) send(l *lane, data []byte) (int, error) {
	c.mu.Lock()
	current := l == c.in || l == c.out
	conn := l.dst
	c.mu.Unlock()

	if !current || conn == nil || c.State() != StateRelaying {
		return 0, nil
	}

	n, err := l.write(conn, data)
	if err != nil {
		c.disconnect(l)
	}
	return n, err
}

// SendToClient writes a frame to the client through the incoming encrypt
// cipher. It returns 0 when no session is relaying.
func (c *Connection) SendToClient(data []byte) (int, error) {
	in, _ := c.lanes()
	return c.send(in, data)
}

// SendToServer writes a frame to the server through the outgoing encrypt
// cipher. It returns 0 when no session is relaying.
func (c *Connection) SendToServer(data []byte) (int, error) {
	_, out := c.lanes()
	return c.send(out, data)
}

// SendToClientMessage constructs and sends a frame to the client.
func (c *Connection) SendToClientMessage(header uint16, chunks ...protocol.Chunk) (int, error) {
	return c.SendToClient(protocol.Construct(header, chunks...))
}

// SendToServerMessage constructs and sends a frame to the server.
func (c *Connection) SendToServerMessage(header uint16, chunks ...protocol.Chunk) (int, error) {
	return c.SendToServer(protocol.Construct(header, chunks...))
}

// Send writes msg towards its destination.
func (c *Connection) Send(msg *protocol.Message) (int, error) {
	if msg.Destination() == protocol.DestinationClient {
		return c.SendToClient(msg.ToBytes())
	}
	return c.SendToServer(msg.ToBytes())
}
