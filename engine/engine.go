// Package engine caches the schedule and timer state of one live event and keeps it
// consistent with the run-of-show backend.
//
// All session state is owned by the goroutine running Engine.Run. Public methods post a
// closure to that goroutine and wait for its result, so callers on any goroutine (router
// workers, the push client, HTTP handlers) never touch the state directly. Calls to the
// backend never run on the owner goroutine: fetches happen on the caller's goroutine before
// the result is posted, and mutations are handed to a FIFO worker.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jdginn/showctl/logging"
)

const (
	DefaultUserID              = "showctl-osc"
	DefaultCueDuration         = 5 * time.Minute
	DefaultTickInterval        = time.Second
	DefaultFullRenderEvery     = 5
	DefaultPushRefreshThrottle = 30 * time.Second
	DefaultMutationTimeout     = 10 * time.Second

	mutationQueueSize = 64
)

// Options tune an Engine. Zero values select the defaults.
type Options struct {
	// UserID is sent with every mutation so the backend can attribute changes.
	UserID string
	// DefaultCueDuration replaces a row duration that is zero or negative.
	DefaultCueDuration time.Duration
	TickInterval       time.Duration
	// FullRenderEvery is how many ticks pass between full state notifications.
	FullRenderEvery int
	// PushRefreshThrottle is the minimum gap between push-triggered refreshes.
	PushRefreshThrottle time.Duration
	// AutoRefresh re-fetches the loaded event on this interval. Zero disables it.
	AutoRefresh     time.Duration
	MutationTimeout time.Duration
	Clock           Clock
}

func (o *Options) normalize() {
	if o.UserID == "" {
		o.UserID = DefaultUserID
	}
	if o.DefaultCueDuration <= 0 {
		o.DefaultCueDuration = DefaultCueDuration
	}
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.FullRenderEvery <= 0 {
		o.FullRenderEvery = DefaultFullRenderEvery
	}
	if o.PushRefreshThrottle <= 0 {
		o.PushRefreshThrottle = DefaultPushRefreshThrottle
	}
	if o.MutationTimeout <= 0 {
		o.MutationTimeout = DefaultMutationTimeout
	}
	if o.Clock == nil {
		o.Clock = SystemClock()
	}
}

// state is only touched on the owner goroutine.
type state struct {
	session Session

	// gen changes whenever a different event is loaded; results fetched under an older
	// generation are discarded.
	gen uint64

	tickID     uint64
	tickCancel context.CancelFunc
	tickCount  int

	lastFetch time.Time

	subs    map[int]chan Notification
	nextSub int
}

type mutation struct {
	op string
	fn func(context.Context) error
}

// Engine is the single owner of the cached event session.
type Engine struct {
	backend Backend
	opts    Options
	log     *slog.Logger

	ops       chan func(*state)
	mutations chan mutation
	stopped   chan struct{}
	runOnce   sync.Once

	// runCtx is set once by Run before the owner loop starts.
	runCtx context.Context
	st     *state
}

// New creates an engine. Nothing happens until Run is called.
func New(backend Backend, opts Options) *Engine {
	opts.normalize()
	return &Engine{
		backend:   backend,
		opts:      opts,
		log:       logging.Get(logging.ENGINE),
		ops:       make(chan func(*state), 64),
		mutations: make(chan mutation, mutationQueueSize),
		stopped:   make(chan struct{}),
		st: &state{
			session: Session{CurrentDay: 1, Days: []int{1}},
			subs:    map[int]chan Notification{},
		},
	}
}

// Run executes the owner loop until ctx is cancelled. It must be called exactly once.
func (e *Engine) Run(ctx context.Context) error {
	first := false
	e.runOnce.Do(func() { first = true })
	if !first {
		return fmt.Errorf("engine: Run called twice")
	}
	e.runCtx = ctx
	defer close(e.stopped)

	go e.runMutations(ctx)

	if e.opts.AutoRefresh > 0 {
		c := cron.New()
		spec := fmt.Sprintf("@every %s", e.opts.AutoRefresh)
		if _, err := c.AddFunc(spec, func() {
			if err := e.Refresh(ctx, RefreshAuto); err != nil {
				e.log.Warn("auto refresh failed", "err", err)
			}
		}); err != nil {
			return fmt.Errorf("engine: schedule auto refresh %q: %w", spec, err)
		}
		c.Start()
		defer c.Stop()
		e.log.Info("auto refresh enabled", "interval", e.opts.AutoRefresh)
	}

	for {
		select {
		case <-ctx.Done():
			s := e.st
			e.stopTick(s)
			for id, ch := range s.subs {
				close(ch)
				delete(s.subs, id)
			}
			e.log.Info("engine stopped")
			return nil
		case op := <-e.ops:
			op(e.st)
		}
	}
}

// do runs fn on the owner goroutine and returns its error.
func (e *Engine) do(ctx context.Context, fn func(*state) error) error {
	errc := make(chan error, 1)
	op := func(s *state) { errc <- fn(s) }
	select {
	case e.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrEngineStopped
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrEngineStopped
	}
}

// post queues fn for the owner without waiting. It reports false if ctx ended first.
func (e *Engine) post(ctx context.Context, fn func(*state)) bool {
	select {
	case e.ops <- fn:
		return true
	case <-ctx.Done():
		return false
	case <-e.stopped:
		return false
	}
}

func (e *Engine) now() time.Time {
	return e.opts.Clock.Now()
}

// snapshot deep-copies the session and derives elapsed times.
func (e *Engine) snapshot(s *state) Session {
	now := e.now()
	out := s.session
	out.Days = append([]int(nil), s.session.Days...)
	out.Items = make([]ScheduleItem, len(s.session.Items))
	for i, it := range s.session.Items {
		out.Items[i] = it.clone()
	}
	out.ActiveItemID = clonePtr(s.session.ActiveItemID)
	out.StartCueID = clonePtr(s.session.StartCueID)
	out.Timer = s.session.Timer.clone()
	if out.Timer != nil {
		out.Timer.ElapsedSeconds = out.Timer.elapsedAt(now)
	}
	out.SubTimer = s.session.SubTimer.clone()
	if out.SubTimer != nil {
		out.SubTimer.ElapsedSeconds = out.SubTimer.elapsedAt(now)
	}
	return out
}

// enqueueMutation hands a backend call to the mutation worker. Local state has already
// been updated; a failure is reported but not rolled back, the next refresh corrects it.
func (e *Engine) enqueueMutation(s *state, op string, fn func(context.Context) error) {
	select {
	case e.mutations <- mutation{op: op, fn: fn}:
	default:
		err := backendError(op, fmt.Errorf("mutation queue full"))
		e.log.Error("mutation dropped", "op", op, "err", err)
		e.publish(s, Notification{Kind: NotifyError, Op: op, Err: err})
	}
}

// runMutations executes backend mutations one at a time so that the backend sees them in
// the order they were issued.
func (e *Engine) runMutations(ctx context.Context) {
	syncLog := logging.Get(logging.SYNC)
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-e.mutations:
			mctx, cancel := context.WithTimeout(ctx, e.opts.MutationTimeout)
			err := m.fn(mctx)
			cancel()
			if err == nil {
				syncLog.Debug("mutation acknowledged", "op", m.op)
				continue
			}
			err = backendError(m.op, err)
			syncLog.Error("mutation failed", "op", m.op, "err", err)
			e.post(ctx, func(s *state) {
				e.publish(s, Notification{Kind: NotifyError, Op: m.op, Err: err})
			})
		}
	}
}

// Snapshot returns a copy of the current session.
func (e *Engine) Snapshot(ctx context.Context) (Session, error) {
	var out Session
	err := e.do(ctx, func(s *state) error {
		out = e.snapshot(s)
		return nil
	})
	return out, err
}

// Status renders the one-line status summary.
func (e *Engine) Status(ctx context.Context) (string, error) {
	sess, err := e.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return sess.Summary(), nil
}

// ListEvents asks the backend for the events the operator can load.
func (e *Engine) ListEvents(ctx context.Context) ([]EventSummary, error) {
	events, err := e.backend.ListEvents(ctx)
	if err != nil {
		return nil, backendError("list events", err)
	}
	return events, nil
}

// LoadEvent fetches the event and replaces the whole session with it.
func (e *Engine) LoadEvent(ctx context.Context, eventID string) error {
	if eventID == "" {
		return fmt.Errorf("event id required")
	}
	e.log.Info("loading event", "event", eventID)
	snap, err := e.fetch(ctx, eventID)
	if err != nil {
		e.log.Error("event load failed", "event", eventID, "err", err)
		return err
	}
	return e.do(ctx, func(s *state) error {
		s.gen++
		e.stopTick(s)
		s.session = Session{EventID: eventID, CurrentDay: s.session.CurrentDay}
		s.lastFetch = snap.FetchedAt
		e.applySnapshot(s, snap)
		e.log.Info("event loaded",
			"event", eventID,
			"items", len(s.session.Items),
			"days", s.session.Days,
			"day", s.session.CurrentDay)
		e.publishState(s)
		return nil
	})
}

// SetDay selects the show day used to resolve cues.
func (e *Engine) SetDay(ctx context.Context, day int) error {
	if day < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidDay, day)
	}
	return e.do(ctx, func(s *state) error {
		if s.session.CurrentDay == day {
			return nil
		}
		s.session.CurrentDay = day
		e.log.Info("day changed", "day", day)
		e.publishState(s)
		return nil
	})
}

// CurrentDay returns the selected show day.
func (e *Engine) CurrentDay(ctx context.Context) (int, error) {
	var day int
	err := e.do(ctx, func(s *state) error {
		day = s.session.CurrentDay
		return nil
	})
	return day, err
}

// CuesForDay lists the cue labels of the current day.
func (e *Engine) CuesForDay(ctx context.Context) (int, []string, error) {
	var (
		day  int
		cues []string
	)
	err := e.do(ctx, func(s *state) error {
		if !s.session.Loaded() {
			return ErrNoEventLoaded
		}
		day = s.session.CurrentDay
		cues = dayCues(s.session.Items, day)
		return nil
	})
	return day, cues, err
}

func (e *Engine) cueDuration(it ScheduleItem) int {
	if d := it.TotalSeconds(); d > 0 {
		return d
	}
	return int(e.opts.DefaultCueDuration / time.Second)
}

// LoadCue makes the row matching name on the current day the active item, with its timer
// loaded but not running.
func (e *Engine) LoadCue(ctx context.Context, name string) (ScheduleItem, error) {
	var item ScheduleItem
	err := e.do(ctx, func(s *state) error {
		if !s.session.Loaded() {
			return ErrNoEventLoaded
		}
		it, row, err := resolveCue(s.session.Items, name, s.session.CurrentDay)
		if err != nil {
			return err
		}
		dur := e.cueDuration(it)

		e.stopTick(s)
		s.session.ActiveItemID = ptr(it.ID)
		s.session.Timer = &TimerRecord{ItemID: it.ID, DurationSeconds: dur}

		req := LoadCueRequest{
			EventID:         s.session.EventID,
			ItemID:          it.ID,
			UserID:          e.opts.UserID,
			DurationSeconds: dur,
			RowIndex:        row,
			CueLabel:        it.CueLabel(),
			TimerID:         it.TimerID,
		}
		e.enqueueMutation(s, "load cue", func(ctx context.Context) error {
			return e.backend.LoadCue(ctx, req)
		})
		e.log.Info("cue loaded", "cue", name, "item", it.ID, "row", row, "duration", dur, "day", s.session.CurrentDay)
		e.publishState(s)
		item = it
		return nil
	})
	return item, err
}

// StartTimer starts the main timer on the active item.
func (e *Engine) StartTimer(ctx context.Context) error {
	return e.do(ctx, func(s *state) error {
		if !s.session.Loaded() {
			return ErrNoEventLoaded
		}
		if s.session.ActiveItemID == nil {
			return ErrNoActiveItem
		}
		id := *s.session.ActiveItemID
		t := s.session.Timer
		if t == nil || t.ItemID != id {
			it, _ := s.session.Item(id)
			t = &TimerRecord{ItemID: id, DurationSeconds: e.cueDuration(it)}
			s.session.Timer = t
		}
		now := e.now()
		t.IsRunning = true
		t.StartedAt = &now
		t.ElapsedSeconds = 0

		req := TimerRequest{EventID: s.session.EventID, ItemID: ptr(id), UserID: e.opts.UserID}
		e.enqueueMutation(s, "start timer", func(ctx context.Context) error {
			return e.backend.StartTimer(ctx, req)
		})
		e.startTick(s)
		e.log.Info("timer started", "item", id, "duration", t.DurationSeconds)
		e.publishState(s)
		return nil
	})
}

// StopTimer stops the main timer but keeps the active item loaded.
func (e *Engine) StopTimer(ctx context.Context) error {
	return e.do(ctx, func(s *state) error {
		if !s.session.Loaded() {
			return ErrNoEventLoaded
		}
		if t := s.session.Timer; t != nil && t.IsRunning {
			t.ElapsedSeconds = t.elapsedAt(e.now())
			t.IsRunning = false
			t.StartedAt = nil
		}
		e.stopTick(s)

		req := TimerRequest{EventID: s.session.EventID, ItemID: clonePtr(s.session.ActiveItemID), UserID: e.opts.UserID}
		e.enqueueMutation(s, "stop timer", func(ctx context.Context) error {
			return e.backend.StopTimer(ctx, req)
		})
		e.log.Info("timer stopped", "item", s.session.ActiveItemID)
		e.publishState(s)
		return nil
	})
}

// Reset clears the main timer, the sub-timer and the active item.
func (e *Engine) Reset(ctx context.Context) error {
	return e.do(ctx, func(s *state) error {
		if !s.session.Loaded() {
			return ErrNoEventLoaded
		}
		e.stopTick(s)
		s.session.ActiveItemID = nil
		s.session.Timer = nil
		s.session.SubTimer = nil

		req := TimerRequest{EventID: s.session.EventID, UserID: e.opts.UserID}
		e.enqueueMutation(s, "reset timer", func(ctx context.Context) error {
			return e.backend.ResetTimer(ctx, req)
		})
		e.log.Info("timers reset", "event", s.session.EventID)
		e.publishState(s)
		return nil
	})
}

// StartSubtimer starts the sub-timer on the row matching cue for the current day. The main
// timer and active item are not affected.
func (e *Engine) StartSubtimer(ctx context.Context, cue string) (ScheduleItem, error) {
	var item ScheduleItem
	err := e.do(ctx, func(s *state) error {
		if !s.session.Loaded() {
			return ErrNoEventLoaded
		}
		it, row, err := resolveCue(s.session.Items, cue, s.session.CurrentDay)
		if err != nil {
			return err
		}
		dur := e.cueDuration(it)
		now := e.now()
		s.session.SubTimer = &TimerRecord{ItemID: it.ID, IsRunning: true, DurationSeconds: dur, StartedAt: &now}

		req := LoadCueRequest{
			EventID:         s.session.EventID,
			ItemID:          it.ID,
			UserID:          e.opts.UserID,
			DurationSeconds: dur,
			RowIndex:        row,
			CueLabel:        it.CueLabel(),
			TimerID:         it.TimerID,
		}
		e.enqueueMutation(s, "start sub-timer", func(ctx context.Context) error {
			return e.backend.StartSubTimer(ctx, req)
		})
		e.log.Info("sub-timer started", "cue", cue, "item", it.ID, "duration", dur)
		e.publishState(s)
		item = it
		return nil
	})
	return item, err
}

// StopSubtimer stops the sub-timer on the row matching cue for the current day.
func (e *Engine) StopSubtimer(ctx context.Context, cue string) (ScheduleItem, error) {
	var item ScheduleItem
	err := e.do(ctx, func(s *state) error {
		if !s.session.Loaded() {
			return ErrNoEventLoaded
		}
		it, _, err := resolveCue(s.session.Items, cue, s.session.CurrentDay)
		if err != nil {
			return err
		}
		if st := s.session.SubTimer; st != nil && st.ItemID == it.ID {
			s.session.SubTimer = nil
		}
		req := TimerRequest{EventID: s.session.EventID, ItemID: ptr(it.ID), UserID: e.opts.UserID}
		e.enqueueMutation(s, "stop sub-timer", func(ctx context.Context) error {
			return e.backend.StopSubTimer(ctx, req)
		})
		e.log.Info("sub-timer stopped", "cue", cue, "item", it.ID)
		e.publishState(s)
		item = it
		return nil
	})
	return item, err
}
