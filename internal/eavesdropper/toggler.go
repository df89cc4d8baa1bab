package eavesdropper

import (
	"github.com/rs/zerolog"
)

// ProxyToggler points the operating system's HTTP proxy at the eavesdropper
// and restores it afterwards.
type ProxyToggler interface {
	EnableProxy(port int) error
	DisableProxy() error
}

// LogToggler only records toggles. Platform specific togglers live outside
// this package.
type LogToggler struct {
	logger zerolog.Logger
}

func NewLogToggler(logger zerolog.Logger) *LogToggler {
	return &LogToggler{logger: logger}
}

func (t *LogToggler) EnableProxy(port int) error {
	t.logger.Info().Int("port", port).Msg("system proxy enable requested")
	return nil
}

func (t *LogToggler) DisableProxy() error {
	t.logger.Info().Msg("system proxy disable requested")
	return nil
}
