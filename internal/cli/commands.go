// Package cli implements the interactive console: relay status, header map,
// filters, packet injection and schedules.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/gatecrash-project/gatecrash/internal/config"
	"github.com/gatecrash-project/gatecrash/internal/events"
	"github.com/gatecrash-project/gatecrash/internal/filter"
	"github.com/gatecrash-project/gatecrash/internal/headers"
	"github.com/gatecrash-project/gatecrash/internal/network"
	"github.com/gatecrash-project/gatecrash/internal/protocol"
	"github.com/gatecrash-project/gatecrash/internal/scheduler"
	"github.com/gatecrash-project/gatecrash/internal/trigger"
)

var errQuit = errors.New("quit")

// Deps are the components the console drives.
type Deps struct {
	Config    *config.Config
	Bus       *events.EventBus
	Relay     *network.Connection
	Headers   *headers.ProtocolMap
	Triggers  *trigger.Engine
	Filters   *filter.Filters
	Scheduler *scheduler.Scheduler
}

// CLI provides an interactive command-line interface.
type CLI struct {
	Deps
	in  io.Reader
	out io.Writer
}

// NewCLI creates a console reading commands from in and writing to out.
func NewCLI(deps Deps, in io.Reader, out io.Writer) *CLI {
	return &CLI{Deps: deps, in: in, out: out}
}

// Start runs the read loop until quit, EOF or ctx cancellation. Quitting
// emits a shutdown event.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\ngatecrash CLI ready. Type 'help' for available commands.")
	fmt.Fprintln(c.out, "─────────────────────────────────────────────────────")

	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-readCtx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "gatecrash> ")

		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(l)
		}

		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:])
		if errors.Is(err, errQuit) {
			fmt.Fprintln(c.out, "Shutting down gatecrash...")
			c.Bus.Emit(ctx, events.Event{
				Type:   events.EventShutdown,
				Source: "cli",
			})
			return
		}
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "connect":
		return c.cmdConnect(ctx)
	case "disconnect":
		c.Relay.Disconnect()
		fmt.Fprintln(c.out, "Relay disconnected")
	case "headers":
		return c.printHeaders(args)
	case "filters":
		c.printFilters()
	case "block", "unblock":
		return c.cmdBlock(cmd == "block", args)
	case "send":
		return c.cmdSend(args)
	case "capture", "learn":
		return c.cmdSwitch(cmd, args)
	case "locks":
		c.printLocks()
	case "schedules":
		c.printSchedules()
	case "schedule":
		return c.cmdSchedule(args)
	case "setconfig":
		return c.cmdSetConfig(args)
	case "quit", "exit", "q":
		return errQuit
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\n╔══════════════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(c.out, "║                       gatecrash CLI Commands                         ║")
	fmt.Fprintln(c.out, "╠══════════════════════════════════════════════════════════════════════╣")
	fmt.Fprintln(c.out, "║  status                         Show relay status                    ║")
	fmt.Fprintln(c.out, "║  connect | disconnect           Start or stop the relay              ║")
	fmt.Fprintln(c.out, "║  headers [in|out]               List learned header names            ║")
	fmt.Fprintln(c.out, "║  filters                        List block and replace rules         ║")
	fmt.Fprintln(c.out, "║  block|unblock <dir> <header>   Drop or forward a header again       ║")
	fmt.Fprintln(c.out, "║  send <dir> <packet>            Inject a packet, e.g. {l}{u:12}      ║")
	fmt.Fprintln(c.out, "║  capture|learn <on|off>         Detection switches                   ║")
	fmt.Fprintln(c.out, "║  locks                          Show confirmed detection headers     ║")
	fmt.Fprintln(c.out, "║  schedules                      List packet schedules                ║")
	fmt.Fprintln(c.out, "║  schedule add <dir> <ms> <n> <packet>                                ║")
	fmt.Fprintln(c.out, "║  schedule start|stop|toggle|rm <id>                                  ║")
	fmt.Fprintln(c.out, "║  setconfig <key> <value>        Update a proxy setting               ║")
	fmt.Fprintln(c.out, "║  quit                           Shutdown gatecrash                   ║")
	fmt.Fprintln(c.out, "╚══════════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(c.out)
}

func (c *CLI) newTable(header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

// printStatus displays the relay snapshot.
func (c *CLI) printStatus() {
	st := c.Relay.Status()

	fmt.Fprintln(c.out)
	tw := c.newTable("Field", "Value")
	tw.AppendBulk([][]string{
		{"State", st.State.String()},
		{"Session", orDash(st.SessionID)},
		{"Game server", fmt.Sprintf("%s:%d", st.Host, st.Port)},
		{"Listening on", orDash(st.ListenAddr)},
		{"Client build", orDash(st.ClientBuild)},
		{"To client", strconv.FormatInt(st.MessagesToClient, 10)},
		{"To server", strconv.FormatInt(st.MessagesToServer, 10)},
		{"Encrypted in/out", fmt.Sprintf("%v/%v", st.IncomingEncrypted, st.OutgoingEncrypted)},
		{"Passthroughs", strconv.Itoa(st.Passthroughs)},
		{"Last activity", orDash(st.LastActivity)},
		{"Capture/learn", fmt.Sprintf("%v/%v", c.Triggers.CaptureEvents(), c.Triggers.UpdateHeaders())},
	})
	tw.Render()
	fmt.Fprintln(c.out)
}

func (c *CLI) cmdConnect(ctx context.Context) error {
	if err := c.Relay.Connect(ctx); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Relay listening on %s\n", c.Relay.ListenAddr())
	return nil
}

func (c *CLI) printHeaders(args []string) error {
	dests := []protocol.Destination{protocol.DestinationClient, protocol.DestinationServer}
	if len(args) > 0 {
		dest, err := protocol.ParseDestination(args[0])
		if err != nil {
			return err
		}
		dests = []protocol.Destination{dest}
	}

	tw := c.newTable("Direction", "Name", "Header")
	for _, dest := range dests {
		snap := c.Headers.Table(dest).Snapshot()
		names := make([]string, 0, len(snap))
		for name := range snap {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			tw.Append([]string{dest.String(), name, strconv.Itoa(int(snap[name]))})
		}
	}
	tw.Render()
	return nil
}

func (c *CLI) printFilters() {
	tw := c.newTable("Direction", "Header", "Name", "Rule")
	for _, dest := range []protocol.Destination{protocol.DestinationClient, protocol.DestinationServer} {
		table := c.Filters.For(dest)
		names := c.Headers.Table(dest)
		add := func(ids []uint16, rule string) {
			for _, id := range ids {
				name, _ := names.Name(id)
				tw.Append([]string{dest.String(), strconv.Itoa(int(id)), orDash(name), rule})
			}
		}
		add(table.Blocked(), "block")
		add(table.Replaced(), "replace")
	}
	tw.Render()
}

func (c *CLI) cmdBlock(block bool, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: block|unblock <client|server> <header>")
	}
	dest, err := protocol.ParseDestination(args[0])
	if err != nil {
		return err
	}
	header, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil {
		return fmt.Errorf("invalid header: %s", args[1])
	}

	table := c.Filters.For(dest)
	if block {
		table.Block(uint16(header))
		fmt.Fprintf(c.out, "Blocking %d towards %s\n", header, dest)
	} else {
		table.Unblock(uint16(header))
		fmt.Fprintf(c.out, "Forwarding %d towards %s\n", header, dest)
	}
	return nil
}

// parsePacket joins args back together so packet text may contain spaces.
func parsePacket(dir string, args []string) (*protocol.Message, error) {
	dest, err := protocol.ParseDestination(dir)
	if err != nil {
		return nil, err
	}
	msg, err := protocol.ParseMessage(strings.Join(args, " "), dest)
	if err != nil {
		return nil, err
	}
	if msg.IsCorrupted() {
		return nil, fmt.Errorf("packet is corrupted, did you forget {l}?")
	}
	return msg, nil
}

func (c *CLI) cmdSend(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: send <client|server> <packet>")
	}
	msg, err := parsePacket(args[0], args[1:])
	if err != nil {
		return err
	}
	if !c.Relay.IsConnected() {
		return fmt.Errorf("no session is relaying")
	}

	n, err := c.Relay.Send(msg)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Sent %d bytes towards %s\n", n, msg.Destination())
	return nil
}

func (c *CLI) cmdSwitch(name string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s <on|off>", name)
	}

	var on bool
	switch strings.ToLower(args[0]) {
	case "on", "true", "yes", "1":
		on = true
	case "off", "false", "no", "0":
	default:
		return fmt.Errorf("expected on or off, got %s", args[0])
	}

	if name == "capture" {
		c.Triggers.SetCaptureEvents(on)
	} else {
		c.Triggers.SetUpdateHeaders(on)
	}
	fmt.Fprintf(c.out, "%s is now %v\n", name, on)
	return nil
}

func (c *CLI) printLocks() {
	tw := c.newTable("Direction", "Header", "Event")
	for _, dest := range []protocol.Destination{protocol.DestinationClient, protocol.DestinationServer} {
		locks := c.Triggers.Locks(dest)
		ids := make([]int, 0, len(locks))
		for id := range locks {
			ids = append(ids, int(id))
		}
		sort.Ints(ids)
		for _, id := range ids {
			tw.Append([]string{dest.String(), strconv.Itoa(id), string(locks[uint16(id)])})
		}
	}
	tw.Render()
}

func (c *CLI) printSchedules() {
	tw := c.newTable("ID", "Direction", "Interval", "Burst", "Running", "Packet")
	for _, info := range c.Scheduler.List() {
		tw.Append([]string{
			info.ID,
			info.Destination.String(),
			info.Interval.String(),
			strconv.Itoa(info.Burst),
			strconv.FormatBool(info.Running),
			info.Packet,
		})
	}
	tw.Render()
}

func (c *CLI) cmdSchedule(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: schedule add|start|stop|toggle|rm ...")
	}

	sub, rest := strings.ToLower(args[0]), args[1:]
	switch sub {
	case "add":
		if len(rest) < 4 {
			return fmt.Errorf("usage: schedule add <client|server> <interval_ms> <burst> <packet>")
		}
		ms, err := strconv.Atoi(rest[1])
		if err != nil {
			return fmt.Errorf("invalid interval: %s", rest[1])
		}
		burst, err := strconv.Atoi(rest[2])
		if err != nil {
			return fmt.Errorf("invalid burst: %s", rest[2])
		}
		msg, err := parsePacket(rest[0], rest[3:])
		if err != nil {
			return err
		}
		id, err := c.Scheduler.Add(msg, time.Duration(ms)*time.Millisecond, burst)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Schedule %s added (stopped)\n", id)
	case "start":
		if err := c.Scheduler.Start(rest[0]); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Schedule %s started\n", rest[0])
	case "stop":
		if err := c.Scheduler.Stop(rest[0]); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Schedule %s stopped\n", rest[0])
	case "toggle":
		running, err := c.Scheduler.Toggle(rest[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Schedule %s running: %v\n", rest[0], running)
	case "rm", "remove":
		if err := c.Scheduler.Remove(rest[0]); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Schedule %s removed\n", rest[0])
	default:
		return fmt.Errorf("unknown schedule command: %s", sub)
	}
	return nil
}

// cmdSetConfig updates a proxy setting. Numbers and booleans are
// recognised; anything else is stored as a string.
func (c *CLI) cmdSetConfig(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: setconfig <key> <value>")
	}

	key := args[0]
	raw := strings.Join(args[1:], " ")

	var value interface{} = raw
	if n, err := strconv.Atoi(raw); err == nil {
		value = n
	} else if b, err := strconv.ParseBool(raw); err == nil {
		value = b
	}

	if err := c.Config.UpdateProxyField(key, value); err != nil {
		return err
	}
	if err := c.Config.Save(); err != nil {
		return err
	}

	log.Info().Str("key", key).Str("value", raw).Msg("CLI: proxy setting updated")
	fmt.Fprintf(c.out, "Config updated: %s = %s (restart the relay to apply)\n", key, raw)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
