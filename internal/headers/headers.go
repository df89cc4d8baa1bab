// Package headers holds the learned name-to-header tables of the protocol.
// Header values change with every client build, so they are discovered at
// runtime (handshake capture, trigger learning) or loaded from storage.
package headers

import (
	"encoding/json"
	"maps"
	"sync"

	"github.com/gatecrash-project/gatecrash/internal/protocol"
)

// Table maps header names to numeric headers for one direction.
// Safe for concurrent use.
type Table struct {
	mu  sync.RWMutex
	ids map[string]uint16
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{ids: make(map[string]uint16)}
}

// Get returns the header recorded for name.
func (t *Table) Get(name string) (uint16, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.ids[name]
	return id, ok
}

// Set records header id under name, replacing any previous value.
func (t *Table) Set(name string, id uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids[name] = id
}

// Delete forgets name.
func (t *Table) Delete(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.ids, name)
}

// Name returns a name recorded for id. If several names share the header,
// the lexically smallest one is returned.
func (t *Table) Name(id uint16) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	found := ""
	for name, v := range t.ids {
		if v == id && (found == "" || name < found) {
			found = name
		}
	}
	return found, found != ""
}

// Len returns the number of recorded names.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ids)
}

// Snapshot returns a copy of the table contents.
func (t *Table) Snapshot() map[string]uint16 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.ids)
}

// Load merges ids into the table.
func (t *Table) Load(ids map[string]uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	maps.Copy(t.ids, ids)
}

// Clear removes every entry.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.ids)
}

// ProtocolMap is the pair of header tables for a session. It is passed
// explicitly to the components that read or learn headers.
type ProtocolMap struct {
	Incoming *Table
	Outgoing *Table
}

// NewProtocolMap creates a map with empty tables.
func NewProtocolMap() *ProtocolMap {
	return &ProtocolMap{
		Incoming: NewTable(),
		Outgoing: NewTable(),
	}
}

// Table returns the table for messages flowing towards dest: Incoming for the
// client, Outgoing for the server.
func (p *ProtocolMap) Table(dest protocol.Destination) *Table {
	if dest == protocol.DestinationClient {
		return p.Incoming
	}
	return p.Outgoing
}

type protocolMapJSON struct {
	Incoming map[string]uint16 `json:"incoming"`
	Outgoing map[string]uint16 `json:"outgoing"`
}

// MarshalJSON serializes both tables as {"incoming":{...},"outgoing":{...}}.
func (p *ProtocolMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(protocolMapJSON{
		Incoming: p.Incoming.Snapshot(),
		Outgoing: p.Outgoing.Snapshot(),
	})
}

// UnmarshalJSON merges the serialized tables into p.
func (p *ProtocolMap) UnmarshalJSON(data []byte) error {
	var v protocolMapJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if p.Incoming == nil {
		p.Incoming = NewTable()
	}
	if p.Outgoing == nil {
		p.Outgoing = NewTable()
	}
	p.Incoming.Load(v.Incoming)
	p.Outgoing.Load(v.Outgoing)
	return nil
}
