package engine

import (
	"context"
	"time"
)

// TickSummary is the light-weight per-tick update of the main timer.
type TickSummary struct {
	EventID          string `json:"eventId"`
	ItemID           int    `json:"itemId"`
	ElapsedSeconds   int    `json:"elapsedSeconds"`
	RemainingSeconds int    `json:"remainingSeconds"`
	DurationSeconds  int    `json:"durationSeconds"`
	Tick             int    `json:"tick"`
}

// startTick replaces any running tick loop with one for the current main timer. Nothing
// is started when the timer is not running.
func (e *Engine) startTick(s *state) {
	e.stopTick(s)
	if t := s.session.Timer; t == nil || !t.IsRunning {
		return
	}
	ctx, cancel := context.WithCancel(e.runCtx)
	s.tickID++
	s.tickCancel = cancel
	s.tickCount = 0

	id := s.tickID
	interval := e.opts.TickInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !e.post(ctx, func(s *state) { e.tick(s, id) }) {
					return
				}
			}
		}
	}()
}

func (e *Engine) stopTick(s *state) {
	if s.tickCancel != nil {
		s.tickCancel()
		s.tickCancel = nil
	}
	// Invalidate ticks already queued on the owner.
	s.tickID++
}

func (e *Engine) tick(s *state, id uint64) {
	t := s.session.Timer
	if id != s.tickID || t == nil || !t.IsRunning {
		return
	}
	t.ElapsedSeconds = t.elapsedAt(e.now())
	s.tickCount++
	e.publish(s, Notification{
		Kind: NotifyTick,
		Tick: &TickSummary{
			EventID:          s.session.EventID,
			ItemID:           t.ItemID,
			ElapsedSeconds:   t.ElapsedSeconds,
			RemainingSeconds: t.RemainingSeconds(),
			DurationSeconds:  t.DurationSeconds,
			Tick:             s.tickCount,
		},
	})
	if s.tickCount%e.opts.FullRenderEvery == 0 {
		e.publishState(s)
	}
}
