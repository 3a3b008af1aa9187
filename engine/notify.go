package engine

import (
	"context"
	"time"
)

// NotificationKind tells subscribers what a Notification carries.
type NotificationKind string

const (
	// NotifyState carries a full Session copy.
	NotifyState NotificationKind = "state"
	// NotifyTick carries a TickSummary for the running main timer.
	NotifyTick NotificationKind = "tick"
	// NotifyError reports a failed background operation.
	NotifyError NotificationKind = "error"
)

// Notification is published to every subscriber on state changes, timer ticks and
// background failures.
type Notification struct {
	Kind    NotificationKind
	At      time.Time
	Session *Session
	Tick    *TickSummary
	Op      string
	Err     error
}

const subscriberBuffer = 32

// Subscribe registers a listener. The returned channel is closed by cancel or when the
// engine stops. A subscriber that falls behind misses notifications rather than blocking
// the engine.
func (e *Engine) Subscribe(ctx context.Context) (<-chan Notification, func(), error) {
	ch := make(chan Notification, subscriberBuffer)
	var id int
	err := e.do(ctx, func(s *state) error {
		id = s.nextSub
		s.nextSub++
		s.subs[id] = ch
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	cancel := func() {
		e.post(context.Background(), func(s *state) {
			if c, ok := s.subs[id]; ok {
				close(c)
				delete(s.subs, id)
			}
		})
	}
	return ch, cancel, nil
}

func (e *Engine) publish(s *state, n Notification) {
	if n.At.IsZero() {
		n.At = e.now()
	}
	for id, ch := range s.subs {
		select {
		case ch <- n:
		default:
			e.log.Debug("subscriber lagging, notification dropped", "subscriber", id, "kind", n.Kind)
		}
	}
}

func (e *Engine) publishState(s *state) {
	sess := e.snapshot(s)
	e.publish(s, Notification{Kind: NotifyState, Session: &sess})
}
