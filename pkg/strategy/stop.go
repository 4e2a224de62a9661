package strategy

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Wind-down escalation delays after the stop was requested
const (
	cancelAllAfter = 1 * time.Second
	semiStopAfter  = 5 * time.Second
)

// Stopping reports whether a graceful stop is in progress
func (e *Engine) Stopping() bool { return !e.stopAt.IsZero() }

// StopReason returns the recorded stop cause, empty while running
func (e *Engine) StopReason() string { return e.stopReason }

// DelayedGracefulStop records the stop request once and starts the
// timed wind-down. New quotes stop immediately; live covers are left to
// work, everything else is withdrawn by the escalation steps.
func (e *Engine) DelayedGracefulStop(reason string) {
	if e.Stopping() {
		return
	}
	e.stopAt = time.Now()
	e.stopReason = reason
	e.logger.Error().Str("reason", reason).Msg("Graceful stop initiated")
	e.saveStatus("stopping: " + reason)
}

// EvalStopConds is called on every book round and on the timer tick. It
// checks the engine-level stop conditions, drives the wind-down
// escalation, and reports whether trading must halt.
func (e *Engine) EvalStopConds(now time.Time) bool {
	if e.Stopping() {
		e.escalateStop(now)
		return true
	}
	if e.cfg.Engine.MaxRounds > 0 && e.rounds >= e.cfg.Engine.MaxRounds {
		e.DelayedGracefulStop(fmt.Sprintf("max rounds %d reached", e.cfg.Engine.MaxRounds))
		return true
	}
	if len(e.pairs) > 0 {
		open := false
		for _, p := range e.pairs {
			if p.Enabled(now) {
				open = true
				break
			}
		}
		if !open {
			e.DelayedGracefulStop("trading window closed for all pairs")
			return true
		}
	}
	return false
}

func (e *Engine) escalateStop(now time.Time) {
	elapsed := now.Sub(e.stopAt)

	if elapsed >= cancelAllAfter && !e.cancelAllDone {
		e.cancelAllDone = true
		e.logger.Warn().Msg("Cancelling all quotes")
		for _, p := range e.pairs {
			p.CancelAllQuotes()
		}
		for _, omc := range e.omcs {
			omc.FlushOrders()
		}
	}

	if elapsed >= semiStopAfter && !e.semiDone {
		e.semiGracefulStop()
	}
}

// semiGracefulStop stops the connectors, persists final state and
// terminates the engine loop. Idempotent.
func (e *Engine) semiGracefulStop() {
	if e.semiDone {
		return
	}
	e.semiDone = true
	e.logger.Warn().Str("reason", e.stopReason).Msg("Semi-graceful stop")

	for _, c := range e.mdcs {
		if err := c.Stop(); err != nil {
			e.logger.Warn().Err(err).Str("connector", c.Name()).
				Msg("Market data connector stop failed")
		}
	}
	for _, c := range e.omcs {
		if err := c.Stop(); err != nil {
			e.logger.Warn().Err(err).Str("connector", c.Name()).
				Msg("Order connector stop failed")
		}
	}

	e.persistPositions()
	e.saveStatus("terminated: " + e.stopReason)
	e.SyncOps()
	for _, p := range e.pairs {
		p.logger.Info().
			Float64("pass_pos", p.passPos).
			Float64("aggr_pos", p.aggrPos).
			Msg("Final position")
	}

	select {
	case <-e.done:
	default:
		close(e.done)
	}
}

// ForceStop terminates the engine loop without waiting for the
// escalation steps. Live orders are left to the venue.
func (e *Engine) ForceStop() {
	e.logger.Error().Msg("Forced stop")
	select {
	case <-e.done:
	default:
		close(e.done)
	}
}

// OnSignal handles one interrupt: the first requests a graceful stop,
// the second forces termination. Safe to call from the signal
// goroutine.
func (e *Engine) OnSignal() {
	e.sigCount++
	n := e.sigCount
	if n == 1 {
		e.post(func() { e.DelayedGracefulStop("interrupt") })
		return
	}
	e.ForceStop()
}

// saveStatus mirrors the engine state to the status file and the state
// store, best effort
func (e *Engine) saveStatus(status string) {
	line := fmt.Sprintf("%s %s\n", time.Now().UTC().Format(time.RFC3339), status)
	if e.cfg.Engine.StatusFile != "" {
		if err := os.WriteFile(e.cfg.Engine.StatusFile, []byte(line), 0o644); err != nil {
			e.logger.Warn().Err(err).Msg("Status file write failed")
		}
	}
	if e.store != nil {
		e.enqueueOp(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := e.store.SaveStatus(ctx, status); err != nil {
				e.logger.Warn().Err(err).Msg("Status store write failed")
			}
		})
	}
}
