// Package config handles configuration loading, validation, and persistence
// for the gatecrash proxy.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gatecrash-project/gatecrash/internal/network"
	"github.com/gatecrash-project/gatecrash/internal/trigger"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultAPIPort    = 5050
	DefaultGamePort   = 38101
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Proxy        ProxyConfig        `json:"proxy"`
	Heuristics   HeuristicsConfig   `json:"heuristics"`
	API          APIConfig          `json:"api"`
	MQTT         MQTTConfig         `json:"mqtt"`
	Database     DatabaseConfig     `json:"database"`
	Eavesdropper EavesdropperConfig `json:"eavesdropper"`
	Schedules    []ScheduleConfig   `json:"schedules"`
	Logging      LoggingConfig      `json:"logging"`
}

// ProxyConfig describes the game server being relayed and the local
// listener the client connects to.
type ProxyConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	ListenHost     string `json:"listen_host"`
	ListenPort     int    `json:"listen_port"`
	SocketSkip     int    `json:"socket_skip"`
	ReadBufferSize int    `json:"read_buffer_size"`
	DialTimeoutSec int    `json:"dial_timeout_sec"`
	CaptureEvents  bool   `json:"capture_events"`
	LearnHeaders   bool   `json:"learn_headers"`
}

// HeuristicsConfig mirrors trigger.Heuristics so the detection constants
// can follow a new client build without a rebuild.
type HeuristicsConfig struct {
	MenuOffset       int      `json:"menu_offset"`
	KickSentinel     int32    `json:"kick_sentinel"`
	SignKeyword      string   `json:"sign_keyword"`
	StanceKeywords   []string `json:"stance_keywords"`
	DanceKeywords    []string `json:"dance_keywords"`
	GestureKeywords  []string `json:"gesture_keywords"`
	NavigationTag    string   `json:"navigation_tag"`
	NavigationSource string   `json:"navigation_source"`
}

// APIConfig holds REST control surface settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`

	// Token, when set, is required as a bearer token on every
	// non-public route.
	Token        string   `json:"token"`
	RateLimitRPS int      `json:"rate_limit_rps"`
	IPWhitelist  []string `json:"ip_whitelist"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	ClientID  string `json:"client_id"`
	Topic     string `json:"topic"`
}

// DatabaseConfig holds the header store location.
type DatabaseConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`

	// DetectionRetentionDays bounds the detection history; 0 keeps it forever.
	DetectionRetentionDays int `json:"detection_retention_days"`
}

// EavesdropperConfig holds HTTP interceptor settings.
type EavesdropperConfig struct {
	Enabled      bool   `json:"enabled"`
	ListenHost   string `json:"listen_host"`
	Port         int    `json:"port"`
	DisableCache bool   `json:"disable_cache"`
}

// ScheduleConfig is a packet schedule created at startup. Packet uses the
// text form, e.g. "{l}{u:1000}{s:hello}".
type ScheduleConfig struct {
	Packet      string `json:"packet"`
	Destination string `json:"destination"`
	IntervalMs  int    `json:"interval_ms"`
	Burst       int    `json:"burst"`
	AutoStart   bool   `json:"auto_start"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level"`
	Directory string `json:"directory"`
	NoConsole bool   `json:"no_console"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	h := trigger.DefaultHeuristics()
	return &Config{
		Proxy: ProxyConfig{
			Port:           DefaultGamePort,
			ListenHost:     "127.0.0.1",
			ListenPort:     DefaultGamePort,
			ReadBufferSize: network.DefaultReadBufferSize,
			DialTimeoutSec: int(network.DefaultDialTimeout / time.Second),
			CaptureEvents:  true,
			LearnHeaders:   true,
		},
		Heuristics: HeuristicsConfig{
			MenuOffset:       h.MenuOffset,
			KickSentinel:     h.KickSentinel,
			SignKeyword:      h.SignKeyword,
			StanceKeywords:   h.StanceKeywords,
			DanceKeywords:    h.DanceKeywords,
			GestureKeywords:  h.GestureKeywords,
			NavigationTag:    h.NavigationTag,
			NavigationSource: h.NavigationSource,
		},
		API: APIConfig{
			Enabled:      true,
			Host:         "127.0.0.1",
			Port:         DefaultAPIPort,
			RateLimitRPS: 20,
		},
		MQTT: MQTTConfig{
			Port:  1883,
			Topic: "gatecrash",
		},
		Database: DatabaseConfig{
			Enabled:                true,
			Path:                   filepath.Join("data", "headers.db"),
			DetectionRetentionDays: 30,
		},
		Eavesdropper: EavesdropperConfig{
			ListenHost:   "127.0.0.1",
			DisableCache: true,
		},
		Schedules: []ScheduleConfig{},
		Logging: LoggingConfig{
			Level:     "info",
			Directory: "logs",
		},
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so config.json always lists every option the binary knows.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetProxy returns a copy of the proxy configuration.
func (c *Config) GetProxy() ProxyConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Proxy
}

// SetProxy updates the proxy configuration.
func (c *Config) SetProxy(p ProxyConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Proxy = p
}

// GetAPI returns a copy of the API configuration.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.API
}

func (c *Config) GetHeuristics() HeuristicsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := c.Heuristics
	h.StanceKeywords = append([]string(nil), h.StanceKeywords...)
	h.DanceKeywords = append([]string(nil), h.DanceKeywords...)
	h.GestureKeywords = append([]string(nil), h.GestureKeywords...)
	return h
}

// GetMQTT returns a copy of the MQTT configuration.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

func (c *Config) GetDatabase() DatabaseConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Database
}

func (c *Config) GetEavesdropper() EavesdropperConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Eavesdropper
}

// GetSchedules returns a copy of the startup schedules.
func (c *Config) GetSchedules() []ScheduleConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ScheduleConfig(nil), c.Schedules...)
}

func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// UpdateProxyField updates a single proxy setting by its JSON key.
func (c *Config) UpdateProxyField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, _ := json.Marshal(c.Proxy)
	m := make(map[string]interface{})
	json.Unmarshal(data, &m)

	if _, ok := m[key]; !ok {
		return fmt.Errorf("unknown proxy field %s", key)
	}
	m[key] = value

	updated, _ := json.Marshal(m)
	var p ProxyConfig
	if err := json.Unmarshal(updated, &p); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	c.Proxy = p
	return nil
}

// RelayOptions converts the proxy section into relay options.
func (c *Config) RelayOptions() network.Options {
	p := c.GetProxy()
	return network.Options{
		Host:           p.Host,
		Port:           p.Port,
		ListenHost:     p.ListenHost,
		ListenPort:     p.ListenPort,
		SocketSkip:     p.SocketSkip,
		ReadBufferSize: p.ReadBufferSize,
		DialTimeout:    time.Duration(p.DialTimeoutSec) * time.Second,
	}
}

// TriggerHeuristics converts the heuristics section for the trigger engine.
func (c *Config) TriggerHeuristics() trigger.Heuristics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := c.Heuristics
	return trigger.Heuristics{
		MenuOffset:       h.MenuOffset,
		KickSentinel:     h.KickSentinel,
		SignKeyword:      h.SignKeyword,
		StanceKeywords:   append([]string(nil), h.StanceKeywords...),
		DanceKeywords:    append([]string(nil), h.DanceKeywords...),
		GestureKeywords:  append([]string(nil), h.GestureKeywords...),
		NavigationTag:    h.NavigationTag,
		NavigationSource: h.NavigationSource,
	}
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IsFirstRun returns true if no game server has been configured yet.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Proxy.Host == ""
}
