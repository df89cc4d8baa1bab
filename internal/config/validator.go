package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/gatecrash-project/gatecrash/internal/protocol"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	validateProxy(&cfg.Proxy, result)
	validateHeuristics(&cfg.Heuristics, result)
	validateSurfaces(cfg, result)
	validateSchedules(cfg.Schedules, result)

	return result
}

func validateProxy(p *ProxyConfig, result *ValidationResult) {
	if strings.TrimSpace(p.Host) == "" {
		result.AddError("proxy.host", "game server host is required")
	}

	validatePort(p.Port, "proxy.port", result)
	if p.ListenPort != 0 {
		validatePort(p.ListenPort, "proxy.listen_port", result)
	}

	if p.SocketSkip < 0 {
		result.AddError("proxy.socket_skip", "socket skip cannot be negative")
	}

	if p.ReadBufferSize < protocol.FrameOverhead {
		result.AddError("proxy.read_buffer_size",
			fmt.Sprintf("read buffer must hold at least one frame header (%d bytes)", protocol.FrameOverhead))
	} else if p.ReadBufferSize < 1024 {
		result.AddWarning("proxy.read_buffer_size",
			fmt.Sprintf("small read buffer (%d bytes) splits most frames across reads", p.ReadBufferSize))
	}

	if p.DialTimeoutSec < 1 {
		result.AddWarning("proxy.dial_timeout_sec", "dial timeout below 1s, the relay default is used")
	}

	if !p.CaptureEvents && p.LearnHeaders {
		result.AddWarning("proxy.learn_headers", "header learning has no effect while capture_events is off")
	}
}

func validateHeuristics(h *HeuristicsConfig, result *ValidationResult) {
	if h.MenuOffset < protocol.FrameOverhead {
		result.AddError("heuristics.menu_offset",
			fmt.Sprintf("menu offset must point past the frame header (>= %d)", protocol.FrameOverhead))
	}
	if strings.TrimSpace(h.SignKeyword) == "" {
		result.AddWarning("heuristics.sign_keyword", "empty sign keyword disables raise sign detection")
	}
	if h.NavigationTag == "" || h.NavigationSource == "" {
		result.AddWarning("heuristics.navigation", "room navigation detection is disabled")
	}
}

func validateSurfaces(cfg *Config, result *ValidationResult) {
	if cfg.API.Enabled {
		validatePort(cfg.API.Port, "api.port", result)
		if cfg.API.Port == cfg.Proxy.ListenPort {
			result.AddError("api.port", "port conflict with proxy.listen_port")
		}
		if cfg.API.RateLimitRPS < 0 {
			result.AddError("api.rate_limit_rps", "rate limit cannot be negative")
		}
		if cfg.API.Token == "" && !isLoopback(cfg.API.Host) {
			result.AddWarning("api.token", "API is reachable beyond localhost without a token")
		}
	}

	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
		if cfg.MQTT.UseTLS && (cfg.MQTT.CertFile == "") != (cfg.MQTT.KeyFile == "") {
			result.AddError("mqtt.cert_file", "client certificate and key must be set together")
		}
	}

	if cfg.Database.Enabled && strings.TrimSpace(cfg.Database.Path) == "" {
		result.AddError("database.path", "database path is required when enabled")
	}

	if cfg.Eavesdropper.Enabled && cfg.Eavesdropper.Port != 0 {
		validatePort(cfg.Eavesdropper.Port, "eavesdropper.port", result)
	}
}

func validateSchedules(schedules []ScheduleConfig, result *ValidationResult) {
	for i, s := range schedules {
		field := fmt.Sprintf("schedules[%d]", i)

		if _, err := protocol.ParseDestination(s.Destination); err != nil {
			result.AddError(field+".destination", err.Error())
		}
		if _, err := protocol.ParseText(s.Packet); err != nil {
			result.AddError(field+".packet", err.Error())
		}
		if s.IntervalMs < 1 {
			result.AddError(field+".interval_ms", "interval must be positive")
		} else if s.IntervalMs < 50 {
			result.AddWarning(field+".interval_ms",
				fmt.Sprintf("interval of %dms may flood the server", s.IntervalMs))
		}
		if s.Burst < 1 {
			result.AddError(field+".burst", "burst must be at least 1")
		}
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
