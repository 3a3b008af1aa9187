package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jdginn/showctl/engine"
)

// fields is a loosely shaped JSON object. Lookups take several spellings of the same key
// (snake_case and camelCase) and return the first one present and non-null.
type fields map[string]any

func (f fields) get(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := f[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (f fields) integer(keys ...string) (int, bool) {
	v, ok := f.get(keys...)
	if !ok {
		return 0, false
	}
	switch v := v.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true
		}
		if x, err := v.Float64(); err == nil {
			return int(math.Round(x)), true
		}
	case float64:
		return int(math.Round(v)), true
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n, true
		}
	}
	return 0, false
}

func (f fields) text(keys ...string) (string, bool) {
	v, ok := f.get(keys...)
	if !ok {
		return "", false
	}
	return stringify(v), true
}

func (f fields) flag(keys ...string) bool {
	v, ok := f.get(keys...)
	if !ok {
		return false
	}
	switch v := v.(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case json.Number:
		n, _ := v.Int64()
		return n != 0
	}
	return false
}

func (f fields) object(keys ...string) fields {
	v, ok := f.get(keys...)
	if !ok {
		return nil
	}
	m, _ := v.(map[string]any)
	return m
}

func stringify(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func unmarshal(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// placeholderYear marks a started_at that the backend writes for timers that never ran.
const placeholderYear = 2099

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05.999999-07", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func decodeItem(f fields) (engine.ScheduleItem, error) {
	id, ok := f.integer("id", "item_id", "itemId")
	if !ok {
		return engine.ScheduleItem{}, fmt.Errorf("schedule item without id: %v", map[string]any(f))
	}
	it := engine.ScheduleItem{ID: id, Day: 1}
	if d, ok := f.integer("day"); ok && d >= 1 {
		it.Day = d
	}
	it.Cue, _ = f.text("cue")
	it.SegmentName, _ = f.text("segmentName", "segment_name")
	it.DurationHours, _ = f.integer("durationHours", "duration_hours")
	it.DurationMinutes, _ = f.integer("durationMinutes", "duration_minutes")
	it.DurationSeconds, _ = f.integer("durationSeconds", "duration_seconds")
	it.IsIndented = f.flag("isIndented", "is_indented")
	it.IsStartCue = f.flag("isStartCue", "is_start_cue")
	it.TimerID, _ = f.text("timerId", "timer_id")
	if custom := f.object("customFields", "custom_fields"); len(custom) > 0 {
		it.CustomFields = make(map[string]string, len(custom))
		for k, v := range custom {
			it.CustomFields[k] = stringify(v)
		}
	}
	return it, nil
}

// decodeSchedule accepts {"schedule_items": [...]} or a bare list.
func decodeSchedule(data []byte) ([]engine.ScheduleItem, error) {
	v, err := unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	var rows []any
	switch v := v.(type) {
	case map[string]any:
		if r, ok := rowsOf(fields(v)); ok {
			rows = r
		}
	case []any:
		rows = v
	}
	items := make([]engine.ScheduleItem, 0, len(rows))
	for _, row := range rows {
		m, ok := row.(map[string]any)
		if !ok {
			continue
		}
		it, err := decodeItem(m)
		if err != nil {
			return nil, fmt.Errorf("decode schedule: %w", err)
		}
		items = append(items, it)
	}
	return items, nil
}

func rowsOf(f fields) ([]any, bool) {
	v, ok := f.get("schedule_items", "scheduleItems")
	if !ok {
		return nil, false
	}
	rows, ok := v.([]any)
	return rows, ok
}

// decodeTimer reads a timer record. requireActive applies the is_active flag that the
// active-timers endpoint carries; push payloads do not have it.
func decodeTimer(f fields, requireActive bool) *engine.TimerRecord {
	if f == nil {
		return nil
	}
	if requireActive && !f.flag("is_active", "isActive") {
		return nil
	}
	itemID, ok := f.integer("item_id", "itemId")
	if !ok {
		return nil
	}
	rec := &engine.TimerRecord{ItemID: itemID}
	rec.DurationSeconds, _ = f.integer("duration_seconds", "durationSeconds")

	var started *time.Time
	if s, ok := f.text("started_at", "startedAt"); ok {
		if t, ok := parseTime(s); ok && t.Year() != placeholderYear {
			started = &t
		}
	}
	// Stopped rows keep their started_at, so it never implies running.
	if _, ok := f.get("is_running", "isRunning"); ok {
		rec.IsRunning = f.flag("is_running", "isRunning")
	} else {
		state, _ := f.text("timer_state", "timerState")
		rec.IsRunning = state == "running"
	}
	if rec.IsRunning {
		rec.StartedAt = started
	}
	return rec
}

// decodeActiveTimer accepts a record, a list of records (first wins) or nothing.
func decodeActiveTimer(data []byte) (*engine.TimerRecord, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	v, err := unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode active timer: %w", err)
	}
	switch v := v.(type) {
	case map[string]any:
		return decodeTimer(v, true), nil
	case []any:
		if len(v) == 0 {
			return nil, nil
		}
		if m, ok := v[0].(map[string]any); ok {
			return decodeTimer(m, true), nil
		}
	}
	return nil, nil
}

// decodeStartCue reads {"itemId": ...}; null or a missing id means no start cue.
func decodeStartCue(data []byte) (*int, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	v, err := unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode start cue: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, nil
	}
	id, ok := fields(m).integer("itemId", "item_id")
	if !ok {
		return nil, nil
	}
	return &id, nil
}

func decodeEvents(data []byte) ([]engine.EventSummary, error) {
	v, err := unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	var rows []any
	switch v := v.(type) {
	case []any:
		rows = v
	case map[string]any:
		if r, ok := fields(v).get("events", "data"); ok {
			rows, _ = r.([]any)
		}
	}
	events := make([]engine.EventSummary, 0, len(rows))
	for _, row := range rows {
		m, ok := row.(map[string]any)
		if !ok {
			continue
		}
		f := fields(m)
		id, ok := f.text("id", "event_id", "eventId")
		if !ok {
			continue
		}
		ev := engine.EventSummary{ID: id}
		ev.Name, _ = f.text("name", "title")
		ev.Date, _ = f.text("date", "start_date", "created_at")
		if len(ev.Date) > 10 && ev.Date[4] == '-' {
			ev.Date = ev.Date[:10]
		}
		ev.Location, _ = f.text("location")
		events = append(events, ev)
	}
	return events, nil
}

// Frame is one push message: {"type": ..., "eventId": ..., "data": {...}}.
type Frame struct {
	Type    string          `json:"type"`
	EventID string          `json:"eventId,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// decodePush maps a push frame to an engine event. Unknown types are passed through so the
// engine can log them.
func decodePush(raw []byte) (engine.PushEvent, error) {
	v, err := unmarshal(raw)
	if err != nil {
		return engine.PushEvent{}, fmt.Errorf("decode push frame: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return engine.PushEvent{}, fmt.Errorf("decode push frame: not an object")
	}
	f := fields(m)
	ev := engine.PushEvent{Raw: json.RawMessage(raw)}
	ev.Type, _ = f.text("type")
	data := f.object("data")
	ev.EventID, _ = f.text("eventId", "event_id")
	if ev.EventID == "" && data != nil {
		ev.EventID, _ = data.text("event_id", "eventId")
	}

	switch ev.Type {
	case "runOfShowDataUpdated":
		ev.Type = engine.PushScheduleUpdated
	case engine.PushTimerUpdated:
		ev.Timer = decodeTimer(data, false)
	case engine.PushStartCueSelection:
		if id, ok := data.integer("item_id", "itemId"); ok {
			ev.StartCueID = &id
		}
	}
	return ev, nil
}
