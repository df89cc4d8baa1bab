// Package scheduler repeats packets towards the client or the server on a
// fixed interval, sending a burst of copies on every tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gatecrash-project/gatecrash/internal/events"
	"github.com/gatecrash-project/gatecrash/internal/protocol"
)

var (
	// ErrStopSchedule may be returned by a schedule_triggered handler to
	// stop the schedule that raised the event.
	ErrStopSchedule = errors.New("stop schedule")

	ErrNotFound        = errors.New("schedule not found")
	ErrInvalidSchedule = errors.New("invalid schedule")
)

// Sender delivers a packet towards its destination. *network.Connection
// satisfies it.
type Sender interface {
	Send(msg *protocol.Message) (int, error)
}

// Schedule is a packet resent every Interval, Burst times per tick.
type Schedule struct {
	ID       string
	Packet   *protocol.Message
	Interval time.Duration
	Burst    int

	text    string
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Info is a point-in-time view of a schedule.
type Info struct {
	ID          string               `json:"id"`
	Packet      string               `json:"packet"`
	Destination protocol.Destination `json:"destination"`
	Interval    time.Duration        `json:"interval"`
	Burst       int                  `json:"burst"`
	Running     bool                 `json:"running"`
}

// Scheduler owns every schedule and the goroutines driving them.
type Scheduler struct {
	sender   Sender
	eventBus *events.EventBus
	logger   zerolog.Logger

	mu        sync.Mutex
	schedules map[string]*Schedule
	nextID    int
}

// NewScheduler creates a scheduler sending through sender.
func NewScheduler(sender Sender, eventBus *events.EventBus) *Scheduler {
	return &Scheduler{
		sender:    sender,
		eventBus:  eventBus,
		logger:    log.With().Str("component", "scheduler").Logger(),
		schedules: make(map[string]*Schedule),
	}
}

// Add registers a stopped schedule and returns its id.
func (s *Scheduler) Add(packet *protocol.Message, interval time.Duration, burst int) (string, error) {
	switch {
	case packet == nil || packet.IsCorrupted():
		return "", fmt.Errorf("%w: packet is corrupted", ErrInvalidSchedule)
	case packet.Destination() == protocol.DestinationUnknown:
		return "", fmt.Errorf("%w: packet has no destination", ErrInvalidSchedule)
	case interval <= 0:
		return "", fmt.Errorf("%w: interval must be positive", ErrInvalidSchedule)
	case burst < 1:
		return "", fmt.Errorf("%w: burst must be at least 1", ErrInvalidSchedule)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := strconv.Itoa(s.nextID)
	s.schedules[id] = &Schedule{
		ID:       id,
		Packet:   packet.Clone(),
		Interval: interval,
		Burst:    burst,
		text:     packet.String(),
	}

	s.logger.Info().
		Str("id", id).
		Stringer("destination", packet.Destination()).
		Uint16("header", packet.Header()).
		Dur("interval", interval).
		Int("burst", burst).
		Msg("schedule added")
	return id, nil
}

// Remove stops and forgets a schedule.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	sc, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.schedules, id)
	done := s.stopLocked(sc)
	s.mu.Unlock()

	wait(done)
	s.logger.Info().Str("id", id).Msg("schedule removed")
	return nil
}

// Start begins ticking a schedule. Starting a running schedule is a no-op.
func (s *Scheduler) Start(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.startLocked(sc)
	return nil
}

// Stop halts a schedule and waits for an in-flight burst to finish.
// Handlers of schedule_triggered must return ErrStopSchedule instead of
// calling Stop, which would wait on their own burst.
func (s *Scheduler) Stop(id string) error {
	s.mu.Lock()
	sc, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	done := s.stopLocked(sc)
	s.mu.Unlock()

	wait(done)
	return nil
}

// Toggle starts a stopped schedule or stops a running one and reports
// whether it is now running.
func (s *Scheduler) Toggle(id string) (bool, error) {
	s.mu.Lock()
	sc, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !sc.running {
		s.startLocked(sc)
		s.mu.Unlock()
		return true, nil
	}
	done := s.stopLocked(sc)
	s.mu.Unlock()

	wait(done)
	return false, nil
}

// StopAll halts every schedule.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	var pending []chan struct{}
	for _, sc := range s.schedules {
		if done := s.stopLocked(sc); done != nil {
			pending = append(pending, done)
		}
	}
	s.mu.Unlock()

	for _, done := range pending {
		wait(done)
	}
}

// IsRunning reports whether the schedule is ticking.
func (s *Scheduler) IsRunning(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	return ok && sc.running
}

// List returns every schedule ordered by id.
func (s *Scheduler) List() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Info, 0, len(s.schedules))
	for _, sc := range s.schedules {
		out = append(out, Info{
			ID:          sc.ID,
			Packet:      sc.text,
			Destination: sc.Packet.Destination(),
			Interval:    sc.Interval,
			Burst:       sc.Burst,
			Running:     sc.running,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.Atoi(out[i].ID)
		b, _ := strconv.Atoi(out[j].ID)
		return a < b
	})
	return out
}

func (s *Scheduler) startLocked(sc *Schedule) {
	if sc.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	sc.running = true
	sc.cancel = cancel
	sc.done = make(chan struct{})

	go s.run(ctx, sc, sc.done)

	s.logger.Info().Str("id", sc.ID).Msg("schedule started")
}

// stopLocked cancels the loop and returns the channel closed when it exits.
func (s *Scheduler) stopLocked(sc *Schedule) chan struct{} {
	if !sc.running {
		return nil
	}
	sc.running = false
	sc.cancel()

	s.logger.Info().Str("id", sc.ID).Msg("schedule stopped")
	return sc.done
}

func wait(done chan struct{}) {
	if done != nil {
		<-done
	}
}

// run waits one interval, fires a burst, and repeats. The interval restarts
// only after the burst completes.
func (s *Scheduler) run(ctx context.Context, sc *Schedule, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(sc.Interval):
		}

		if !s.burst(ctx, sc) {
			s.mu.Lock()
			if sc.done == done {
				s.stopLocked(sc)
			}
			s.mu.Unlock()
			return
		}
	}
}

// burst sends the packet Burst times and reports whether the schedule
// should keep running.
func (s *Scheduler) burst(ctx context.Context, sc *Schedule) bool {
	for i := 1; i <= sc.Burst; i++ {
		if ctx.Err() != nil {
			return false
		}

		if _, err := s.sender.Send(sc.Packet); err != nil {
			s.logger.Warn().Err(err).Str("id", sc.ID).Msg("scheduled send failed")
		}

		err := s.eventBus.EmitSync(ctx, events.Event{
			Type:   events.EventScheduleTriggered,
			Source: "scheduler",
			Payload: events.ScheduleTriggeredPayload{
				ScheduleID:   sc.ID,
				Packet:       sc.Packet.Clone(),
				Destination:  sc.Packet.Destination(),
				BurstCount:   i,
				BurstLeft:    sc.Burst - i,
				IsFinalBurst: i >= sc.Burst,
			},
		})
		if errors.Is(err, ErrStopSchedule) {
			return false
		}
	}

	s.logger.Trace().Str("id", sc.ID).Int("burst", sc.Burst).Msg("schedule fired")
	return true
}
