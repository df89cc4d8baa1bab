package network

import (
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"
)

// passthroughRegistry tracks sockets relayed untouched while the relay is
// still waiting for the official game socket, so teardown can close them.
type passthroughRegistry struct {
	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func newPassthroughRegistry() *passthroughRegistry {
	return &passthroughRegistry{conns: make(map[net.Conn]struct{})}
}

func (r *passthroughRegistry) register(conns ...net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range conns {
		r.conns[c] = struct{}{}
	}
}

func (r *passthroughRegistry) unregister(conns ...net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range conns {
		delete(r.conns, c)
	}
}

// Count returns the number of tracked sockets.
func (r *passthroughRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CloseAll closes every tracked socket.
func (r *passthroughRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.conns {
		c.Close()
		delete(r.conns, c)
	}
}

// passthrough relays a non-game socket pair byte for byte until either side
// closes. first is what was already read from the client.
func passthrough(client, server net.Conn, first []byte, reg *passthroughRegistry, logger zerolog.Logger) {
	reg.register(client, server)
	defer reg.unregister(client, server)
	defer client.Close()
	defer server.Close()

	if _, err := server.Write(first); err != nil {
		logger.Debug().Err(err).Msg("passthrough write failed")
		return
	}

	done := make(chan struct{})
	go func() {
		io.Copy(client, server)
		client.Close()
		close(done)
	}()

	io.Copy(server, client)
	server.Close()
	<-done

	logger.Debug().Str("remote", client.RemoteAddr().String()).Msg("passthrough closed")
}
