package jobs

import (
	"context"
	"log/slog"
	"time"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthProbeConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// StartHealthProbe pings the store once immediately and then on every tick,
// passing the result to report. It stops when ctx ends.
func StartHealthProbe(ctx context.Context, cfg HealthProbeConfig, pinger Pinger, report func(healthy bool), logger *slog.Logger) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	last := true
	probe := func() {
		tickCtx, cancel := context.WithTimeout(ctx, timeout)
		err := pinger.Ping(tickCtx)
		cancel()
		healthy := err == nil
		if !healthy && last {
			logger.Error("store health probe failed", "error", err)
		}
		if healthy && !last {
			logger.Info("store health probe recovered")
		}
		last = healthy
		report(healthy)
	}
	probe()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()
}
