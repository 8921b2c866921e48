package config

import (
	"strings"
	"time"

	"github.com/danmuck/notebookd/internal/kernel"
)

// KernelConfig converts the file/env form into the kernel client config.
func (c JupyterConfig) KernelConfig() kernel.Config {
	return kernel.Config{
		URL:                strings.TrimSpace(c.URL),
		Token:              strings.TrimSpace(c.Token),
		KernelName:         strings.TrimSpace(c.KernelName),
		KernelID:           strings.TrimSpace(c.KernelID),
		CAFile:             strings.TrimSpace(c.CAFile),
		ConnectTimeout:     time.Duration(c.ConnectTimeout),
		MaxConnectAttempts: c.MaxConnectAttempts,
		Backoff: kernel.BackoffConfig{
			InitialDelay: time.Duration(c.Backoff.Initial),
			Multiplier:   c.Backoff.Multiplier,
			MaxDelay:     time.Duration(c.Backoff.Max),
			Jitter:       c.Backoff.Jitter,
		},
	}.WithDefaults()
}
