package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrNoEventLoaded      = errors.New("no event loaded, set an event first")
	ErrNoActiveItem       = errors.New("no active item, load a cue first")
	ErrInvalidDay         = errors.New("invalid day number")
	ErrCueNotFound        = errors.New("cue not found")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrEngineStopped      = errors.New("engine is not running")
)

// CueNotFoundError names the days on which the cue does exist, if any.
type CueNotFoundError struct {
	Cue           string
	Day           int
	AvailableDays []int
}

func (e *CueNotFoundError) Error() string {
	if len(e.AvailableDays) == 0 {
		return fmt.Sprintf("Cue %s not found in event schedule", e.Cue)
	}
	days := make([]string, len(e.AvailableDays))
	for i, d := range e.AvailableDays {
		days[i] = strconv.Itoa(d)
	}
	return fmt.Sprintf("Cue %s not found for day %d. Available on days: [%s]", e.Cue, e.Day, strings.Join(days, ", "))
}

func (e *CueNotFoundError) Is(target error) bool {
	return target == ErrCueNotFound
}

// backendError marks err as a backend failure while keeping its text.
func backendError(op string, err error) error {
	if errors.Is(err, ErrBackendUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrBackendUnavailable, err)
}
