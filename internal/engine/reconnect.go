package engine

import (
	"context"
	"time"

	videoplayer "github.com/e7canasta/orion-videoplayer"
	"github.com/e7canasta/orion-videoplayer/internal/config"
)

// supervise reopens h after it fails, with exponential backoff, as long as
// the stream is wanted. Reaching Playing resets the retry counter.
//
// Backoff schedule with the default config (1s, cap 30s):
//   - Attempt 1: 1s
//   - Attempt 2: 2s
//   - Attempt 3: 4s
//   - Attempt 4: 8s
//   - Attempt 5: 16s
//   - After 5 failures: give up until the stream is opened again
func (m *Manager) supervise(ctx context.Context, h *handle) {
	rc := m.cfg.Engine.Reconnect
	retries := 0

	for {
		var c videoplayer.StateChange
		select {
		case <-ctx.Done():
			return
		case c = <-h.changes:
		}

		switch c.Current {
		case videoplayer.StatePlaying:
			retries = 0
			continue
		case videoplayer.StateOpening:
			// A manual Open after giving up starts a fresh series.
			if c.Previous == videoplayer.StateStopped && retries > rc.MaxRetries {
				retries = 0
			}
			continue
		case videoplayer.StateError:
		default:
			continue
		}

		if !rc.Enabled() || !h.wanted.Load() {
			continue
		}

		retries++
		if retries > rc.MaxRetries {
			m.log.Error("stream reconnect abandoned", "stream", h.name, "max_retries", rc.MaxRetries)
			continue
		}

		delay := calculateBackoff(retries, rc)
		m.log.Warn("stream reconnecting",
			"stream", h.name,
			"attempt", retries,
			"max_retries", rc.MaxRetries,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		// Closed or reopened by hand while waiting.
		if !h.wanted.Load() || h.player.State() != videoplayer.StateError {
			continue
		}
		_ = h.player.Close()
		h.reconnects.Add(1)
		if err := h.player.Open(h.sc.URI, h.sc.Options); err != nil {
			m.log.Warn("stream reopen rejected", "stream", h.name, "error", err)
		}
	}
}

// calculateBackoff returns retryDelay * 2^(attempt-1), capped at maxRetryDelay.
func calculateBackoff(attempt int, cfg config.ReconnectConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return cfg.MaxRetryDelay
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay || delay <= 0 {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
