package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
)

type LogCategory string

const (
	META    LogCategory = "meta" // For logs about logging
	OSC_IN  LogCategory = "osc_in"
	OSC_OUT LogCategory = "osc_out"
	ROUTER  LogCategory = "router"
	ENGINE  LogCategory = "engine" // Session state transitions
	SYNC    LogCategory = "sync"   // REST and push traffic with the backend
	WEB     LogCategory = "web"
	APP     LogCategory = "app" // For application-level logs (startup, shutdown)
)

var allCategories = []LogCategory{META, OSC_IN, OSC_OUT, ROUTER, ENGINE, SYNC, WEB, APP}

// ParseCategory maps a category name to its LogCategory.
func ParseCategory(s string) (LogCategory, bool) {
	for _, c := range allCategories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Categories returns every known category name, sorted.
func Categories() []string {
	out := make([]string, 0, len(allCategories))
	for _, c := range allCategories {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return out
}

// Internal state for loggers per category
var (
	mu               = new(sync.RWMutex)
	out    io.Writer = os.Stderr
	loggers          = map[LogCategory]*slog.Logger{}
	categoryLvls     = map[LogCategory]*slog.LevelVar{}
	defaultLogLevels = map[LogCategory]slog.Level{
		META:    slog.LevelInfo,
		OSC_IN:  slog.LevelWarn,
		OSC_OUT: slog.LevelWarn,
		ROUTER:  slog.LevelInfo,
		ENGINE:  slog.LevelInfo,
		SYNC:    slog.LevelInfo,
		WEB:     slog.LevelWarn,
		APP:     slog.LevelInfo,
	}
)

func levelVar(category LogCategory) *slog.LevelVar {
	lvlVar, ok := categoryLvls[category]
	if !ok {
		lvlVar = new(slog.LevelVar)
		lvlVar.Set(defaultLogLevels[category])
		categoryLvls[category] = lvlVar
	}
	return lvlVar
}

// Get returns a slog.Logger that always has the "category" attribute set.
// Each category gets its own logger instance.
func Get(category LogCategory) *slog.Logger {
	mu.RLock()
	l, ok := loggers[category]
	mu.RUnlock()
	if ok {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	// Double-check after locking
	if l, ok := loggers[category]; ok {
		return l
	}
	handler := slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: levelVar(category),
	})
	catLogger := slog.New(handler).With("category", category)
	loggers[category] = catLogger
	return catLogger
}

// SetOutput redirects every category logger to w. Loggers handed out earlier keep writing
// to the previous destination, so call this before the first Get.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	loggers = map[LogCategory]*slog.Logger{}
}

func SetCategoryLevel(category LogCategory, level slog.Level) {
	mu.Lock()
	defer mu.Unlock()
	levelVar(category).Set(level)
}

// CategoryLevel reports the current level of a category.
func CategoryLevel(category LogCategory) slog.Level {
	mu.Lock()
	defer mu.Unlock()
	return levelVar(category).Level()
}

// ParseLevel accepts slog level names ("debug", "INFO", "warn+2", ...).
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return l, nil
}

// Configure applies a map of category name to level name, as found in the config file.
func Configure(levels map[string]string) error {
	for name, lvl := range levels {
		cat, ok := ParseCategory(name)
		if !ok {
			return fmt.Errorf("unknown log category %q (known: %s)", name, strings.Join(Categories(), ", "))
		}
		level, err := ParseLevel(lvl)
		if err != nil {
			return err
		}
		SetCategoryLevel(cat, level)
	}
	return nil
}
