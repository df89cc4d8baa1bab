package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatecrash-project/gatecrash/internal/config"
	"github.com/gatecrash-project/gatecrash/internal/events"
	"github.com/gatecrash-project/gatecrash/internal/filter"
	"github.com/gatecrash-project/gatecrash/internal/headers"
	"github.com/gatecrash-project/gatecrash/internal/network"
	"github.com/gatecrash-project/gatecrash/internal/scheduler"
	"github.com/gatecrash-project/gatecrash/internal/trigger"
)

func newTestCLI(t *testing.T, input string) (*CLI, *bytes.Buffer) {
	t.Helper()

	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	bus := events.NewEventBus()
	pm := headers.NewProtocolMap()
	engine := trigger.NewEngine(bus, pm, cfg.TriggerHeuristics())
	filters := filter.New()
	relay := network.NewConnection(cfg.RelayOptions(), bus, pm, engine, filters)
	sched := scheduler.NewScheduler(relay, bus)
	t.Cleanup(sched.StopAll)

	var out bytes.Buffer
	c := NewCLI(Deps{
		Config:    cfg,
		Bus:       bus,
		Relay:     relay,
		Headers:   pm,
		Triggers:  engine,
		Filters:   filters,
		Scheduler: sched,
	}, strings.NewReader(input), &out)
	return c, &out
}

func run(t *testing.T, c *CLI, line string) error {
	t.Helper()
	parts := strings.Fields(line)
	return c.execute(context.Background(), parts[0], parts[1:])
}

func TestStatusAndHeaders(t *testing.T) {
	c, out := newTestCLI(t, "")
	c.Headers.Outgoing.Set(headers.Walk, 31)

	require.NoError(t, run(t, c, "status"))
	assert.Contains(t, out.String(), "idle")

	out.Reset()
	require.NoError(t, run(t, c, "headers out"))
	assert.Contains(t, out.String(), headers.Walk)
	assert.Contains(t, out.String(), "31")

	assert.Error(t, run(t, c, "headers sideways"))
}

func TestBlockAndFilters(t *testing.T) {
	c, out := newTestCLI(t, "")

	require.NoError(t, run(t, c, "block client 44"))
	assert.True(t, c.Filters.Incoming.IsBlocked(44))

	out.Reset()
	require.NoError(t, run(t, c, "filters"))
	assert.Contains(t, out.String(), "44")
	assert.Contains(t, out.String(), "block")

	require.NoError(t, run(t, c, "unblock client 44"))
	assert.False(t, c.Filters.Incoming.IsBlocked(44))

	assert.Error(t, run(t, c, "block client abc"))
	assert.Error(t, run(t, c, "block"))
}

func TestSendRequiresSession(t *testing.T) {
	c, _ := newTestCLI(t, "")

	assert.ErrorContains(t, run(t, c, "send server {l}{u:5}"), "no session")
	assert.ErrorContains(t, run(t, c, "send server {u:5}"), "corrupted")
}

func TestSwitches(t *testing.T) {
	c, _ := newTestCLI(t, "")

	require.NoError(t, run(t, c, "capture on"))
	require.NoError(t, run(t, c, "learn on"))
	assert.True(t, c.Triggers.CaptureEvents())
	assert.True(t, c.Triggers.UpdateHeaders())

	require.NoError(t, run(t, c, "learn off"))
	assert.False(t, c.Triggers.UpdateHeaders())
	assert.Error(t, run(t, c, "capture maybe"))
}

func TestScheduleCommands(t *testing.T) {
	c, out := newTestCLI(t, "")

	require.NoError(t, run(t, c, "schedule add server 60000 2 {l}{u:9}{s:hello world}"))
	list := c.Scheduler.List()
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].Burst)
	assert.Equal(t, time.Minute, list[0].Interval)

	require.NoError(t, run(t, c, "schedule toggle 1"))
	assert.True(t, c.Scheduler.IsRunning("1"))

	out.Reset()
	require.NoError(t, run(t, c, "schedules"))
	assert.Contains(t, out.String(), "hello world")

	require.NoError(t, run(t, c, "schedule rm 1"))
	assert.Error(t, run(t, c, "schedule start 1"))
	assert.Error(t, run(t, c, "schedule add server x 1 {l}{u:9}"))
}

func TestSetConfig(t *testing.T) {
	c, _ := newTestCLI(t, "")

	require.NoError(t, run(t, c, "setconfig socket_skip 2"))
	assert.Equal(t, 2, c.Config.GetProxy().SocketSkip)

	require.NoError(t, run(t, c, "setconfig learn_headers false"))
	assert.False(t, c.Config.GetProxy().LearnHeaders)

	assert.Error(t, run(t, c, "setconfig nope 1"))
}

func TestQuitEmitsShutdown(t *testing.T) {
	c, out := newTestCLI(t, "help\nquit\nstatus\n")

	got := make(chan struct{}, 1)
	c.Bus.Subscribe(events.EventShutdown, "test", func(ctx context.Context, e events.Event) error {
		got <- struct{}{}
		return nil
	})

	c.Start(context.Background())

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown event not emitted")
	}
	assert.Contains(t, out.String(), "gatecrash CLI Commands")
	assert.NotContains(t, out.String(), "State")
}
