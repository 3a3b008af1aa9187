// Package enginetest provides an in-memory backend and a controllable clock for tests of
// the engine and the packages built on it.
package enginetest

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/jdginn/showctl/engine"
)

var ErrUnknownEvent = errors.New("unknown event")

// Call records one backend invocation.
type Call struct {
	Method string
	Arg    any
}

// EventData is the backend-side state of one event.
type EventData struct {
	Summary    engine.EventSummary
	Items      []engine.ScheduleItem
	Active     *engine.TimerRecord
	StartCueID *int
}

// FakeBackend is a concurrency-safe engine.Backend held in memory.
type FakeBackend struct {
	mu     sync.Mutex
	events map[string]*EventData
	order  []string
	calls  []Call

	err         error
	mutationErr error
	gates       map[string]chan struct{}
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{events: map[string]*EventData{}, gates: map[string]chan struct{}{}}
}

// GateSchedule makes Schedule for eventID block until the returned channel is closed.
func (f *FakeBackend) GateSchedule(eventID string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gates[eventID] = gate
	return gate
}

// SetEvent adds or replaces an event.
func (f *FakeBackend) SetEvent(id string, data EventData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if data.Summary.ID == "" {
		data.Summary.ID = id
	}
	if _, ok := f.events[id]; !ok {
		f.order = append(f.order, id)
	}
	f.events[id] = &data
}

// Update edits an event in place.
func (f *FakeBackend) Update(id string, fn func(*EventData)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev, ok := f.events[id]; ok {
		fn(ev)
	}
}

// SetErr makes every method fail with err until cleared with nil.
func (f *FakeBackend) SetErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *FakeBackend) SetMutationErr(err error) {
	f.mu.Lock()
	f.mutationErr = err
	f.mu.Unlock()
}

// Calls returns a copy of the recorded calls.
func (f *FakeBackend) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// CallsTo returns the recorded calls to method.
func (f *FakeBackend) CallsTo(method string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls forgets the recorded calls.
func (f *FakeBackend) ResetCalls() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func (f *FakeBackend) record(method string, arg any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: method, Arg: arg})
	return f.err
}

func (f *FakeBackend) lookup(id string) (*EventData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[id]
	if !ok {
		return nil, ErrUnknownEvent
	}
	return ev, nil
}

func (f *FakeBackend) mutate(method string, arg any) error {
	if err := f.record(method, arg); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mutationErr
}

func (f *FakeBackend) ListEvents(ctx context.Context) ([]engine.EventSummary, error) {
	if err := f.record("ListEvents", nil); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]engine.EventSummary, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.events[id].Summary)
	}
	return out, nil
}

func (f *FakeBackend) Schedule(ctx context.Context, eventID string) ([]engine.ScheduleItem, error) {
	if err := f.record("Schedule", eventID); err != nil {
		return nil, err
	}
	ev, err := f.lookup(eventID)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	items := slices.Clone(ev.Items)
	gate := f.gates[eventID]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return items, nil
}

func (f *FakeBackend) ActiveTimer(ctx context.Context, eventID string) (*engine.TimerRecord, error) {
	if err := f.record("ActiveTimer", eventID); err != nil {
		return nil, err
	}
	ev, err := f.lookup(eventID)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev.Active == nil {
		return nil, nil
	}
	t := *ev.Active
	return &t, nil
}

func (f *FakeBackend) StartCueSelection(ctx context.Context, eventID string) (*int, error) {
	if err := f.record("StartCueSelection", eventID); err != nil {
		return nil, err
	}
	ev, err := f.lookup(eventID)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev.StartCueID == nil {
		return nil, nil
	}
	id := *ev.StartCueID
	return &id, nil
}

func (f *FakeBackend) LoadCue(ctx context.Context, req engine.LoadCueRequest) error {
	return f.mutate("LoadCue", req)
}

func (f *FakeBackend) StartTimer(ctx context.Context, req engine.TimerRequest) error {
	return f.mutate("StartTimer", req)
}

func (f *FakeBackend) StopTimer(ctx context.Context, req engine.TimerRequest) error {
	return f.mutate("StopTimer", req)
}

func (f *FakeBackend) ResetTimer(ctx context.Context, req engine.TimerRequest) error {
	return f.mutate("ResetTimer", req)
}

func (f *FakeBackend) StartSubTimer(ctx context.Context, req engine.LoadCueRequest) error {
	return f.mutate("StartSubTimer", req)
}

func (f *FakeBackend) StopSubTimer(ctx context.Context, req engine.TimerRequest) error {
	return f.mutate("StopSubTimer", req)
}

// FakeClock only moves when told to.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Item builds a schedule row with a duration given in seconds.
func Item(id, day int, cue string, seconds int) engine.ScheduleItem {
	return engine.ScheduleItem{
		ID:              id,
		Day:             day,
		Cue:             cue,
		SegmentName:     "Segment " + cue,
		DurationHours:   seconds / 3600,
		DurationMinutes: seconds % 3600 / 60,
		DurationSeconds: seconds % 60,
	}
}
