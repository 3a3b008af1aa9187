package engine

import (
	"context"
	"encoding/json"
	"time"
)

// LoadCueRequest carries everything the backend needs to mark a row as the loaded cue.
// It is also used to start a sub-timer.
type LoadCueRequest struct {
	EventID         string `json:"event_id"`
	ItemID          int    `json:"item_id"`
	UserID          string `json:"user_id"`
	DurationSeconds int    `json:"duration_seconds"`
	RowIndex        int    `json:"row_is"`
	CueLabel        string `json:"cue_is"`
	TimerID         string `json:"timer_id,omitempty"`
}

// TimerRequest targets the main timer or a sub-timer. ItemID is nil when no row is active.
type TimerRequest struct {
	EventID string `json:"event_id"`
	ItemID  *int   `json:"item_id,omitempty"`
	UserID  string `json:"user_id,omitempty"`
}

// Backend is the remote run-of-show service. The engine treats it as authoritative.
type Backend interface {
	ListEvents(ctx context.Context) ([]EventSummary, error)
	Schedule(ctx context.Context, eventID string) ([]ScheduleItem, error)
	// ActiveTimer returns nil when no main timer is active for the event.
	ActiveTimer(ctx context.Context, eventID string) (*TimerRecord, error)
	// StartCueSelection returns nil when no row is marked as show start.
	StartCueSelection(ctx context.Context, eventID string) (*int, error)

	LoadCue(ctx context.Context, req LoadCueRequest) error
	StartTimer(ctx context.Context, req TimerRequest) error
	StopTimer(ctx context.Context, req TimerRequest) error
	ResetTimer(ctx context.Context, req TimerRequest) error
	StartSubTimer(ctx context.Context, req LoadCueRequest) error
	StopSubTimer(ctx context.Context, req TimerRequest) error
}

// RemoteSnapshot is everything fetched for one reconciliation.
type RemoteSnapshot struct {
	EventID    string
	Items      []ScheduleItem
	Active     *TimerRecord
	StartCueID *int
	FetchedAt  time.Time
}

// Push notification types.
const (
	PushTimerUpdated      = "timerUpdated"
	PushTimerStopped      = "timerStopped"
	PushResetAllStates    = "resetAllStates"
	PushScheduleUpdated   = "scheduleUpdated"
	PushStartCueSelection = "startCueSelectionUpdate"
)

// PushEvent is a notification from the backend's push channel, already decoded by the
// transport. Timer is set for timerUpdated; StartCueID for startCueSelectionUpdate.
type PushEvent struct {
	Type       string
	EventID    string
	Timer      *TimerRecord
	StartCueID *int
	Raw        json.RawMessage
}
