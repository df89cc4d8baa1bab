package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gatecrash-project/gatecrash/internal/events"
	"github.com/gatecrash-project/gatecrash/internal/headers"
	"github.com/gatecrash-project/gatecrash/internal/protocol"
)

const (
	directionIncoming = "incoming"
	directionOutgoing = "outgoing"
)

// HeaderStore keeps learned header names across restarts and records every
// detection raised by the trigger engine.
type HeaderStore struct {
	db *Database
}

// Detection is one recorded detection event.
type Detection struct {
	ID        int       `json:"id"`
	SessionID string    `json:"session_id"`
	Event     string    `json:"event"`
	Header    uint16    `json:"header"`
	Packet    string    `json:"packet"`
	Action    string    `json:"action,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewHeaderStore opens the database at dbPath.
func NewHeaderStore(dbPath string) (*HeaderStore, error) {
	database, err := Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open header database: %w", err)
	}
	return &HeaderStore{db: database}, nil
}

func direction(dest protocol.Destination) string {
	if dest == protocol.DestinationClient {
		return directionIncoming
	}
	return directionOutgoing
}

// Put records a single header name.
func (s *HeaderStore) Put(dest protocol.Destination, name string, header uint16) error {
	_, err := s.db.Exec(`
		INSERT INTO headers (direction, name, header, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(direction, name) DO UPDATE SET header = excluded.header, updated_at = CURRENT_TIMESTAMP
	`, direction(dest), name, int(header))
	if err != nil {
		return fmt.Errorf("failed to store header %s: %w", name, err)
	}
	return nil
}

// Delete forgets a header name.
func (s *HeaderStore) Delete(dest protocol.Destination, name string) error {
	_, err := s.db.Exec("DELETE FROM headers WHERE direction = ? AND name = ?", direction(dest), name)
	return err
}

// Load merges every stored header into pm and returns how many were read.
func (s *HeaderStore) Load(pm *headers.ProtocolMap) (int, error) {
	rows, err := s.db.Query("SELECT direction, name, header FROM headers")
	if err != nil {
		return 0, fmt.Errorf("failed to query headers: %w", err)
	}
	defer rows.Close()

	incoming := make(map[string]uint16)
	outgoing := make(map[string]uint16)
	for rows.Next() {
		var (
			dir, name string
			header    int
		)
		if err := rows.Scan(&dir, &name, &header); err != nil {
			return 0, fmt.Errorf("failed to scan header: %w", err)
		}
		switch dir {
		case directionIncoming:
			incoming[name] = uint16(header)
		case directionOutgoing:
			outgoing[name] = uint16(header)
		default:
			log.Warn().Str("direction", dir).Str("name", name).Msg("skipping header with unknown direction")
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	pm.Incoming.Load(incoming)
	pm.Outgoing.Load(outgoing)

	n := len(incoming) + len(outgoing)
	log.Info().Int("incoming", len(incoming)).Int("outgoing", len(outgoing)).Msg("headers loaded")
	return n, nil
}

// Save replaces the stored tables with the contents of pm.
func (s *HeaderStore) Save(pm *headers.ProtocolMap) error {
	return s.db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM headers"); err != nil {
			return err
		}

		stmt, err := tx.Prepare("INSERT INTO headers (direction, name, header) VALUES (?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()

		for dir, table := range map[string]*headers.Table{
			directionIncoming: pm.Incoming,
			directionOutgoing: pm.Outgoing,
		} {
			for name, header := range table.Snapshot() {
				if _, err := stmt.Exec(dir, name, int(header)); err != nil {
					return fmt.Errorf("failed to store header %s: %w", name, err)
				}
			}
		}
		return nil
	})
}

// RecordDetection stores a detection event.
func (s *HeaderStore) RecordDetection(event events.EventType, p events.DetectedPayload) error {
	var packet string
	if p.Message != nil {
		packet = p.Message.String()
	}
	_, err := s.db.Exec(
		"INSERT INTO detections (session_id, event, header, packet, action) VALUES (?, ?, ?, ?, ?)",
		p.SessionID, string(event), int(p.Header), packet, p.Action,
	)
	return err
}

// RecentDetections returns up to limit detections, newest first.
func (s *HeaderStore) RecentDetections(limit int) ([]Detection, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, event, header, packet, action, created_at
		FROM detections ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Detection
	for rows.Next() {
		var (
			d      Detection
			header int
		)
		if err := rows.Scan(&d.ID, &d.SessionID, &d.Event, &header, &d.Packet, &d.Action, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Header = uint16(header)
		out = append(out, d)
	}
	return out, rows.Err()
}

// CleanOldDetections removes detections older than the given number of days.
func (s *HeaderStore) CleanOldDetections(days int) error {
	result, err := s.db.Exec(
		"DELETE FROM detections WHERE created_at < datetime('now', ?)",
		fmt.Sprintf("-%d days", days),
	)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected > 0 {
		log.Info().Int64("deleted", affected).Msg("cleaned old detections")
	}
	return nil
}

// Subscribe persists learned headers and detections as they are raised.
func (s *HeaderStore) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventHeaderLearned, "header-store", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.HeaderLearnedPayload)
		if !ok {
			return nil
		}
		return s.Put(p.Destination, p.Name, p.Header)
	})

	for _, t := range events.DetectionTypes {
		bus.Subscribe(t, "header-store", func(ctx context.Context, e events.Event) error {
			p, ok := e.Payload.(events.DetectedPayload)
			if !ok {
				return nil
			}
			return s.RecordDetection(e.Type, p)
		})
	}
}

// Close closes the underlying database.
func (s *HeaderStore) Close() error {
	return s.db.Close()
}
