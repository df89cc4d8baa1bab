package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatecrash-project/gatecrash/internal/trigger"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, DefaultConfigFile), cfg.Path())
	assert.FileExists(t, cfg.Path())
	assert.True(t, cfg.IsFirstRun())
	assert.Equal(t, trigger.DefaultHeuristics(), cfg.TriggerHeuristics())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	raw := `{"proxy":{"host":"game.example.org","port":30000,"socket_skip":2}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(raw), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	opts := cfg.RelayOptions()
	assert.Equal(t, "game.example.org", opts.Host)
	assert.Equal(t, 30000, opts.Port)
	assert.Equal(t, 2, opts.SocketSkip)
	assert.Equal(t, "127.0.0.1", opts.ListenHost)
	assert.Equal(t, 10*time.Second, opts.DialTimeout)
	assert.False(t, cfg.IsFirstRun())

	saved, err := os.ReadFile(cfg.Path())
	require.NoError(t, err)
	assert.Contains(t, string(saved), `"heuristics"`)
}

func TestLoadRejectsBadJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{"), 0644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestUpdateProxyField(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.UpdateProxyField("socket_skip", 3))
	assert.Equal(t, 3, cfg.GetProxy().SocketSkip)

	assert.Error(t, cfg.UpdateProxyField("nope", 1))
	assert.Error(t, cfg.UpdateProxyField("port", "not a number"))
	assert.Equal(t, DefaultGamePort, cfg.GetProxy().Port)
}

func TestValidate(t *testing.T) {
	t.Run("defaults need a host", func(t *testing.T) {
		result := Validate(DefaultConfig())
		assert.False(t, result.IsValid())
		require.Len(t, result.Errors, 1)
		assert.Equal(t, "proxy.host", result.Errors[0].Field)
	})

	t.Run("valid", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Proxy.Host = "game.example.org"
		result := Validate(cfg)
		assert.True(t, result.IsValid(), result.Errors)
	})

	t.Run("bad values", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Proxy.Host = "game.example.org"
		cfg.Proxy.Port = 70000
		cfg.Proxy.ReadBufferSize = 4
		cfg.Heuristics.MenuOffset = 2
		cfg.API.Port = cfg.Proxy.ListenPort
		cfg.MQTT.Enabled = true
		cfg.Schedules = []ScheduleConfig{
			{Packet: "{l}{u:1}{i:x}", Destination: "sideways", IntervalMs: 0, Burst: 0},
		}

		fields := map[string]bool{}
		for _, e := range Validate(cfg).Errors {
			fields[e.Field] = true
		}
		for _, f := range []string{
			"proxy.port", "proxy.read_buffer_size", "heuristics.menu_offset", "api.port",
			"mqtt.broker_url", "schedules[0].destination", "schedules[0].packet",
			"schedules[0].interval_ms", "schedules[0].burst",
		} {
			assert.True(t, fields[f], f)
		}
	})

	t.Run("warnings", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Proxy.Host = "game.example.org"
		cfg.Proxy.CaptureEvents = false
		cfg.Schedules = []ScheduleConfig{{Packet: "{l}{u:1}", Destination: "server", IntervalMs: 10, Burst: 1}}

		result := Validate(cfg)
		assert.True(t, result.IsValid())
		assert.Len(t, result.Warnings, 2)
	})
}

func TestSetupWizard(t *testing.T) {
	cfg := DefaultConfig()
	cfg.path = filepath.Join(t.TempDir(), DefaultConfigFile)

	answers := strings.Join([]string{
		"game.example.org", // host
		"30001",            // port
		"",                 // listen port
		"1",                // socket skip
		"no",               // learn headers
		"",                 // api
		"",                 // mqtt
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, RunSetupWizard(cfg, strings.NewReader(answers), &out))

	p := cfg.GetProxy()
	assert.Equal(t, "game.example.org", p.Host)
	assert.Equal(t, 30001, p.Port)
	assert.Equal(t, DefaultGamePort, p.ListenPort)
	assert.Equal(t, 1, p.SocketSkip)
	assert.False(t, p.LearnHeaders)
	assert.FileExists(t, cfg.Path())
	assert.Contains(t, out.String(), "Configuration saved")
}

func TestSetupWizardAborts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.path = filepath.Join(t.TempDir(), DefaultConfigFile)

	err := RunSetupWizard(cfg, strings.NewReader(""), &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrSetupAborted)
	assert.NoFileExists(t, cfg.Path())
}
