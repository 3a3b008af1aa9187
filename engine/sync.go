package engine

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/jdginn/showctl/logging"
)

// RefreshReason says what triggered a refresh.
type RefreshReason int

const (
	// RefreshManual is an operator request and is never throttled.
	RefreshManual RefreshReason = iota
	// RefreshPush follows a backend notification and is throttled.
	RefreshPush
	// RefreshAuto is the periodic background refresh.
	RefreshAuto
)

func (r RefreshReason) String() string {
	switch r {
	case RefreshManual:
		return "manual"
	case RefreshPush:
		return "push"
	case RefreshAuto:
		return "auto"
	}
	return fmt.Sprintf("RefreshReason(%d)", int(r))
}

// fetch reads everything needed to reconcile eventID. It runs on the caller's goroutine.
func (e *Engine) fetch(ctx context.Context, eventID string) (RemoteSnapshot, error) {
	items, err := e.backend.Schedule(ctx, eventID)
	if err != nil {
		return RemoteSnapshot{}, backendError("fetch schedule", err)
	}
	active, err := e.backend.ActiveTimer(ctx, eventID)
	if err != nil {
		return RemoteSnapshot{}, backendError("fetch active timer", err)
	}
	start, err := e.backend.StartCueSelection(ctx, eventID)
	if err != nil {
		return RemoteSnapshot{}, backendError("fetch start cue", err)
	}
	return RemoteSnapshot{
		EventID:    eventID,
		Items:      items,
		Active:     active,
		StartCueID: start,
		FetchedAt:  e.now(),
	}, nil
}

func itemsEqual(a, b []ScheduleItem) bool {
	return slices.EqualFunc(a, b, func(x, y ScheduleItem) bool {
		return x.ID == y.ID &&
			x.Day == y.Day &&
			x.Cue == y.Cue &&
			x.SegmentName == y.SegmentName &&
			x.DurationHours == y.DurationHours &&
			x.DurationMinutes == y.DurationMinutes &&
			x.DurationSeconds == y.DurationSeconds &&
			x.IsIndented == y.IsIndented &&
			x.IsStartCue == y.IsStartCue &&
			x.TimerID == y.TimerID &&
			maps.Equal(x.CustomFields, y.CustomFields)
	})
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// applySnapshot folds the backend's view into the session. It reports whether anything
// changed; applying the same snapshot twice changes nothing the second time.
func (e *Engine) applySnapshot(s *state, snap RemoteSnapshot) bool {
	sess := &s.session
	changed := false

	if !itemsEqual(sess.Items, snap.Items) {
		sess.Items = make([]ScheduleItem, len(snap.Items))
		for i, it := range snap.Items {
			sess.Items[i] = it.clone()
		}
		changed = true
	}
	if days := scheduleDays(sess.Items); !slices.Equal(days, sess.Days) {
		sess.Days = days
		changed = true
	}
	if day := clampTo(sess.CurrentDay, sess.Days); day != sess.CurrentDay {
		e.log.Info("current day not in schedule, moved", "from", sess.CurrentDay, "to", day)
		sess.CurrentDay = day
		changed = true
	}

	if e.adoptTimer(s, snap.Active) {
		changed = true
	}

	if !intPtrEqual(sess.StartCueID, snap.StartCueID) {
		sess.StartCueID = clonePtr(snap.StartCueID)
		changed = true
	}
	return changed
}

// adoptTimer makes remote the main timer. A nil remote clears the active item.
func (e *Engine) adoptTimer(s *state, remote *TimerRecord) bool {
	sess := &s.session
	if remote == nil {
		if sess.Timer == nil && sess.ActiveItemID == nil {
			return false
		}
		e.stopTick(s)
		sess.Timer = nil
		sess.ActiveItemID = nil
		return true
	}
	if sess.Timer.sameAs(remote) && intPtrEqual(sess.ActiveItemID, &remote.ItemID) {
		return false
	}
	t := remote.clone()
	if t.IsRunning {
		t.ElapsedSeconds = 0
	}
	sess.Timer = t
	sess.ActiveItemID = ptr(t.ItemID)
	if t.IsRunning {
		e.startTick(s)
	} else {
		e.stopTick(s)
	}
	return true
}

// Refresh re-fetches the loaded event and reconciles. Push refreshes within the throttle
// window of the previous fetch are skipped. Results that arrive after a different event
// was loaded are discarded.
func (e *Engine) Refresh(ctx context.Context, reason RefreshReason) error {
	log := logging.Get(logging.SYNC)
	var (
		eventID string
		gen     uint64
		skip    bool
	)
	err := e.do(ctx, func(s *state) error {
		if !s.session.Loaded() {
			if reason == RefreshManual {
				return ErrNoEventLoaded
			}
			skip = true
			return nil
		}
		now := e.now()
		if reason == RefreshPush && !s.lastFetch.IsZero() && now.Sub(s.lastFetch) < e.opts.PushRefreshThrottle {
			log.Debug("push refresh throttled", "since_last", now.Sub(s.lastFetch))
			skip = true
			return nil
		}
		s.lastFetch = now
		eventID, gen = s.session.EventID, s.gen
		return nil
	})
	if err != nil || skip {
		return err
	}

	log.Debug("refreshing", "event", eventID, "reason", reason)
	snap, err := e.fetch(ctx, eventID)
	if err != nil {
		log.Error("refresh failed", "event", eventID, "reason", reason, "err", err)
		e.post(ctx, func(s *state) {
			e.publish(s, Notification{Kind: NotifyError, Op: "refresh", Err: err})
		})
		return err
	}

	return e.do(ctx, func(s *state) error {
		if s.gen != gen || s.session.EventID != eventID {
			log.Debug("stale refresh discarded", "event", eventID, "current", s.session.EventID)
			return nil
		}
		if e.applySnapshot(s, snap) {
			log.Info("refresh applied changes", "event", eventID, "reason", reason)
			e.publishState(s)
		}
		return nil
	})
}

// HandlePush applies a backend notification. Notifications for another event are
// ignored.
func (e *Engine) HandlePush(ctx context.Context, ev PushEvent) error {
	log := logging.Get(logging.SYNC)
	return e.do(ctx, func(s *state) error {
		if !s.session.Loaded() {
			log.Debug("push ignored, no event loaded", "type", ev.Type)
			return nil
		}
		if ev.EventID != "" && ev.EventID != s.session.EventID {
			log.Debug("push ignored, other event", "type", ev.Type, "event", ev.EventID)
			return nil
		}

		changed := false
		switch ev.Type {
		case PushTimerUpdated:
			if ev.Timer == nil {
				return nil
			}
			changed = e.adoptTimer(s, ev.Timer)
		case PushTimerStopped:
			changed = e.adoptTimer(s, nil)
		case PushResetAllStates:
			changed = e.adoptTimer(s, nil) || s.session.SubTimer != nil
			s.session.SubTimer = nil
		case PushStartCueSelection:
			if !intPtrEqual(s.session.StartCueID, ev.StartCueID) {
				s.session.StartCueID = clonePtr(ev.StartCueID)
				changed = true
			}
		case PushScheduleUpdated:
			runCtx := e.runCtx
			go func() {
				if err := e.Refresh(runCtx, RefreshPush); err != nil {
					log.Warn("push refresh failed", "err", err)
				}
			}()
		default:
			log.Debug("push ignored, unknown type", "type", ev.Type)
		}
		if changed {
			log.Info("push applied", "type", ev.Type)
			e.publishState(s)
		}
		return nil
	})
}
