// gatecrash - game client/server TCP relay with live inspection.
//
// gatecrash sits between a game client and its server, splits the stream
// into messages, detects host actions, filters and injects packets, and
// exposes the session over a REST API, an interactive console and MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"

	"github.com/gatecrash-project/gatecrash/internal/api"
	"github.com/gatecrash-project/gatecrash/internal/cli"
	"github.com/gatecrash-project/gatecrash/internal/config"
	"github.com/gatecrash-project/gatecrash/internal/db"
	"github.com/gatecrash-project/gatecrash/internal/eavesdropper"
	"github.com/gatecrash-project/gatecrash/internal/events"
	"github.com/gatecrash-project/gatecrash/internal/filter"
	"github.com/gatecrash-project/gatecrash/internal/headers"
	"github.com/gatecrash-project/gatecrash/internal/network"
	"github.com/gatecrash-project/gatecrash/internal/protocol"
	"github.com/gatecrash-project/gatecrash/internal/scheduler"
	"github.com/gatecrash-project/gatecrash/internal/telemetry"
	"github.com/gatecrash-project/gatecrash/internal/trigger"
	"github.com/gatecrash-project/gatecrash/internal/util"
)

const Banner = `
   __ _  __ _| |_ ___  ___ _ __ __ _ ___| |__
  / _' |/ _' | __/ _ \/ __| '__/ _' / __| '_ \
 | (_| | (_| | ||  __/ (__| | | (_| \__ \ | | |
  \__, |\__,_|\__\___|\___|_|  \__,_|___/_| |_|
  |___/  v%s
 Game relay & inspector
`

// Args are the command-line overrides. Proxy overrides apply to this run
// only and are not written back to the config file.
type Args struct {
	ConfigDir  string `short:"c" long:"config" default:"config" description:"Directory holding config.json"`
	Host       string `short:"H" long:"host" description:"Game server host (overrides proxy.host)"`
	Port       int    `short:"p" long:"port" description:"Game server port (overrides proxy.port)"`
	ListenPort int    `short:"l" long:"listen-port" description:"Local port the client connects to (overrides proxy.listen_port)"`
	Idle       bool   `long:"idle" description:"Do not start the relay until asked over the API or console"`
	NoConsole  bool   `long:"no-console" description:"Disable the interactive console"`
}

func main() {
	var args Args
	parser := flags.NewParser(&args, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	fmt.Printf(Banner, api.Version)
	fmt.Println()

	// Defaults first; reconfigured once the config is loaded
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", api.Version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting gatecrash")

	cfg, err := config.Load(args.ConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	applyOverrides(cfg, args)

	logging := cfg.GetLogging()
	logCfg := util.DefaultLogConfig()
	logCfg.Level = logging.Level
	logCfg.Directory = logging.Directory
	logCfg.Console = !logging.NoConsole
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}

		if cfg.IsFirstRun() && !args.NoConsole {
			log.Info().Msg("first run detected, launching setup wizard")
			if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
				log.Fatal().Err(err).Msg("setup wizard failed")
			}
		} else {
			log.Fatal().Msg("configuration validation failed, please fix the errors above")
		}
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---------------------------------------------------------------
	// Core components
	// ---------------------------------------------------------------
	eventBus := events.NewEventBus()
	protocolMap := headers.NewProtocolMap()

	var store *db.HeaderStore
	if dbCfg := cfg.GetDatabase(); dbCfg.Enabled {
		store, err = db.NewHeaderStore(dbCfg.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open header store, persistence disabled")
		} else {
			if n, err := store.Load(protocolMap); err != nil {
				log.Warn().Err(err).Msg("failed to load learned headers")
			} else {
				log.Info().Int("headers", n).Msg("learned headers loaded")
			}
			store.Subscribe(eventBus)
		}
	}

	proxyCfg := cfg.GetProxy()
	triggers := trigger.NewEngine(eventBus, protocolMap, cfg.TriggerHeuristics())
	triggers.SetCaptureEvents(proxyCfg.CaptureEvents)
	triggers.SetUpdateHeaders(proxyCfg.LearnHeaders)

	filters := filter.New()
	relay := network.NewConnection(cfg.RelayOptions(), eventBus, protocolMap, triggers, filters)

	sched := scheduler.NewScheduler(relay, eventBus)
	loadSchedules(cfg, sched)

	var interceptor *eavesdropper.Eavesdropper
	if eCfg := cfg.GetEavesdropper(); eCfg.Enabled {
		interceptor = eavesdropper.New(eavesdropper.Options{
			ListenHost:   eCfg.ListenHost,
			Port:         eCfg.Port,
			DisableCache: eCfg.DisableCache,
		}, eventBus, nil)
	}

	var mqttHandler *telemetry.MQTTHandler
	if mqttCfg := cfg.GetMQTT(); mqttCfg.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(mqttCfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(ctx context.Context, e events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	// ---------------------------------------------------------------
	// Launch concurrent tasks
	// ---------------------------------------------------------------
	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	if !args.Idle {
		if err := relay.Connect(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start relay")
		}
	}

	if interceptor != nil {
		if err := interceptor.Start(); err != nil {
			log.Warn().Err(err).Msg("eavesdropper failed to start (non-fatal)")
		}
	}

	if cfg.GetAPI().Enabled {
		apiServer := api.NewServer(api.Deps{
			Config:       cfg,
			Bus:          eventBus,
			Relay:        relay,
			Headers:      protocolMap,
			Triggers:     triggers,
			Filters:      filters,
			Scheduler:    sched,
			Store:        store,
			Eavesdropper: interceptor,
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.GetAPI().Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
				log.Error().Err(err).Msg("API server failed after retries")
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
	}

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	if store != nil {
		if days := cfg.GetDatabase().DetectionRetentionDays; days > 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				cleanDetections(ctx, store, days)
			}()
		}
	}

	// The console blocks on stdin, so it is not waited for on shutdown.
	if !args.NoConsole {
		cliHandler := cli.NewCLI(cli.Deps{
			Config:    cfg,
			Bus:       eventBus,
			Relay:     relay,
			Headers:   protocolMap,
			Triggers:  triggers,
			Filters:   filters,
			Scheduler: sched,
		}, os.Stdin, os.Stdout)
		go cliHandler.Start(ctx)
	}

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested from console")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	sched.StopAll()
	relay.Disconnect()
	cancel()
	relay.Wait()

	if interceptor != nil {
		if err := interceptor.Stop(); err != nil {
			log.Warn().Err(err).Msg("failed to stop eavesdropper")
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	eventBus.Stop()

	if store != nil {
		if err := store.Save(protocolMap); err != nil {
			log.Warn().Err(err).Msg("failed to save learned headers")
		}
		store.Close()
	}

	log.Info().Msg("gatecrash stopped")
}

func applyOverrides(cfg *config.Config, args Args) {
	p := cfg.GetProxy()
	if args.Host != "" {
		p.Host = args.Host
	}
	if args.Port != 0 {
		p.Port = args.Port
	}
	if args.ListenPort != 0 {
		p.ListenPort = args.ListenPort
	}
	cfg.SetProxy(p)
}

// loadSchedules registers the schedules listed in the config file. Invalid
// entries are logged and skipped.
func loadSchedules(cfg *config.Config, sched *scheduler.Scheduler) {
	for i, sc := range cfg.GetSchedules() {
		l := log.With().Int("schedule", i).Str("packet", sc.Packet).Logger()

		dest, err := protocol.ParseDestination(sc.Destination)
		if err != nil {
			l.Warn().Err(err).Msg("skipping schedule")
			continue
		}
		msg, err := protocol.ParseMessage(sc.Packet, dest)
		if err != nil {
			l.Warn().Err(err).Msg("skipping schedule")
			continue
		}

		id, err := sched.Add(msg, time.Duration(sc.IntervalMs)*time.Millisecond, sc.Burst)
		if err != nil {
			l.Warn().Err(err).Msg("skipping schedule")
			continue
		}
		if sc.AutoStart {
			sched.Start(id)
		}
	}
}

// cleanDetections trims the detection history at startup and then daily.
func cleanDetections(ctx context.Context, store *db.HeaderStore, days int) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		if err := store.CleanOldDetections(days); err != nil {
			log.Warn().Err(err).Msg("failed to clean old detections")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// startWithRetry attempts to start a listener/server with retry on bind
// errors, waiting 3 seconds between attempts.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
