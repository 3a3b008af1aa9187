package engine

import (
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ScheduleItem is one row of an event's run of show.
type ScheduleItem struct {
	ID              int               `json:"id"`
	Day             int               `json:"day"`
	Cue             string            `json:"cue,omitempty"`
	SegmentName     string            `json:"segmentName"`
	DurationHours   int               `json:"durationHours"`
	DurationMinutes int               `json:"durationMinutes"`
	DurationSeconds int               `json:"durationSeconds"`
	IsIndented      bool              `json:"isIndented"`
	IsStartCue      bool              `json:"isStartCue,omitempty"`
	TimerID         string            `json:"timerId,omitempty"`
	CustomFields    map[string]string `json:"customFields,omitempty"`
}

// TotalSeconds is the planned duration of the row.
func (it ScheduleItem) TotalSeconds() int {
	return it.DurationHours*3600 + it.DurationMinutes*60 + it.DurationSeconds
}

// CueLabel is the cue as shown to operators: the custom field wins over the plain column.
func (it ScheduleItem) CueLabel() string {
	if c := it.CustomFields["cue"]; c != "" {
		return c
	}
	return it.Cue
}

// MatchesCue reports whether name refers to this row, either verbatim or with the "CUE"
// prefix that some schedules carry.
func (it ScheduleItem) MatchesCue(name string) bool {
	if name == "" {
		return false
	}
	custom := it.CustomFields["cue"]
	for _, candidate := range []string{name, "CUE" + name} {
		if it.Cue == candidate || custom == candidate {
			return true
		}
	}
	return false
}

func (it ScheduleItem) clone() ScheduleItem {
	it.CustomFields = maps.Clone(it.CustomFields)
	return it
}

// TimerRecord is the cached state of the main timer or of the sub-timer.
type TimerRecord struct {
	ItemID          int        `json:"itemId"`
	IsRunning       bool       `json:"isRunning"`
	DurationSeconds int        `json:"durationSeconds"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	ElapsedSeconds  int        `json:"elapsedSeconds"`
}

// elapsedAt derives elapsed seconds from the absolute start time. Stopped timers keep the
// value they had when they stopped.
func (r *TimerRecord) elapsedAt(now time.Time) int {
	if !r.IsRunning || r.StartedAt == nil {
		return r.ElapsedSeconds
	}
	d := now.Sub(*r.StartedAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

// RemainingSeconds is never negative.
func (r TimerRecord) RemainingSeconds() int {
	return max(0, r.DurationSeconds-r.ElapsedSeconds)
}

func (r *TimerRecord) clone() *TimerRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	return &c
}

// sameAs compares the parts of a record that come from the backend.
func (r *TimerRecord) sameAs(o *TimerRecord) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.ItemID != o.ItemID || r.IsRunning != o.IsRunning || r.DurationSeconds != o.DurationSeconds {
		return false
	}
	if (r.StartedAt == nil) != (o.StartedAt == nil) {
		return false
	}
	return r.StartedAt == nil || r.StartedAt.Equal(*o.StartedAt)
}

// EventSummary is an entry of the backend's event list.
type EventSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Date     string `json:"date"`
	Location string `json:"location,omitempty"`
}

// Session is a point-in-time copy of the engine's cached state.
type Session struct {
	EventID      string         `json:"eventId"`
	CurrentDay   int            `json:"currentDay"`
	Days         []int          `json:"days"`
	Items        []ScheduleItem `json:"scheduleItems"`
	ActiveItemID *int           `json:"activeItemId"`
	Timer        *TimerRecord   `json:"timerState"`
	SubTimer     *TimerRecord   `json:"subTimerState"`
	StartCueID   *int           `json:"startCueId"`
}

// Loaded reports whether an event is loaded.
func (s Session) Loaded() bool {
	return s.EventID != ""
}

// Item returns the row with the given id.
func (s Session) Item(id int) (ScheduleItem, bool) {
	i := slices.IndexFunc(s.Items, func(it ScheduleItem) bool { return it.ID == id })
	if i < 0 {
		return ScheduleItem{}, false
	}
	return s.Items[i], true
}

// ActiveItem returns the row the main timer is loaded on.
func (s Session) ActiveItem() (ScheduleItem, bool) {
	if s.ActiveItemID == nil {
		return ScheduleItem{}, false
	}
	return s.Item(*s.ActiveItemID)
}

// DayItems returns the rows scheduled on day.
func (s Session) DayItems(day int) []ScheduleItem {
	var out []ScheduleItem
	for _, it := range s.Items {
		if it.Day == day {
			out = append(out, it)
		}
	}
	return out
}

// Summary renders the one-line status used by /status.
func (s Session) Summary() string {
	if !s.Loaded() {
		return "No event loaded"
	}
	var b strings.Builder
	b.WriteString("Event: ")
	b.WriteString(s.EventID)
	b.WriteString(", Day: ")
	b.WriteString(strconv.Itoa(s.CurrentDay))
	b.WriteString(", Day Items: ")
	b.WriteString(strconv.Itoa(len(s.DayItems(s.CurrentDay))))
	b.WriteString(", Total Items: ")
	b.WriteString(strconv.Itoa(len(s.Items)))
	b.WriteString(", Active: ")
	if s.ActiveItemID == nil {
		b.WriteString("None")
	} else {
		b.WriteString(strconv.Itoa(*s.ActiveItemID))
	}
	if s.Timer != nil {
		state := "loaded"
		if s.Timer.IsRunning {
			state = "running"
		}
		b.WriteString(", Timer: " + state + " " + strconv.Itoa(s.Timer.ElapsedSeconds) + "/" + strconv.Itoa(s.Timer.DurationSeconds) + "s")
	}
	return b.String()
}

func ptr[T any](v T) *T {
	return &v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	return ptr(*p)
}
