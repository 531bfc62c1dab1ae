package dispatcher

import (
	"context"
	"log/slog"
	"time"
)

// healthLoop probes the slot's session on a fixed interval until ctx is canceled
func (d *Dispatcher) healthLoop(ctx context.Context, s *Slot) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.checkSlot(ctx, s)
		}
	}
}

// checkSlot probes a busy slot's session and resets the slot when the probe
// fails. Idle slots are skipped. It reports whether the slot was reset.
func (d *Dispatcher) checkSlot(ctx context.Context, s *Slot) bool {
	s.mu.Lock()
	handle, busy, sessionID := s.handle, s.busy, s.sessionID
	s.mu.Unlock()

	if handle == nil || !busy {
		return false
	}

	probeCtx := ctx
	if d.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, d.cfg.ProbeTimeout)
		defer cancel()
	}

	if err := handle.Probe(probeCtx); err != nil {
		if ctx.Err() != nil {
			return false
		}
		return d.pool.MarkHealthFailure(s.index, sessionID, err)
	}

	d.logger.Debug("Session health check passed",
		slog.Int("slot", s.index),
		slog.String("session_id", sessionID),
	)
	return false
}
