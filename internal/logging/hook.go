package logging

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Event is a captured log entry
type Event struct {
	Time    time.Time
	Level   log.Level
	Message string
}

// String renders the event as a single line
func (e Event) String() string {
	return fmt.Sprintf("%s [%-5s] %s", e.Time.Format("15:04:05"), e.Level.String(), e.Message)
}

// Hook keeps the most recent log entries in memory so a full screen UI can
// show them after console output has been silenced
type Hook struct {
	mu       sync.Mutex
	levels   []log.Level
	maxLines int
	events   []Event
	notify   func(Event)
}

// NewHook creates a hook that keeps up to maxLines entries at or above level
func NewHook(level log.Level, maxLines int) *Hook {
	var levels []log.Level
	for _, l := range log.AllLevels {
		if l <= level {
			levels = append(levels, l)
		}
	}
	return &Hook{levels: levels, maxLines: maxLines}
}

// OnEvent registers a callback invoked for every captured entry. It must
// not block and must not log.
func (h *Hook) OnEvent(fn func(Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notify = fn
}

// Levels implements logrus.Hook
func (h *Hook) Levels() []log.Level {
	return h.levels
}

// Fire implements logrus.Hook
func (h *Hook) Fire(entry *log.Entry) error {
	msg := entry.Message
	if len(entry.Data) > 0 {
		msg = msg + " " + formatFields(entry.Data)
	}
	ev := Event{Time: entry.Time, Level: entry.Level, Message: msg}

	h.mu.Lock()
	h.events = append(h.events, ev)
	if len(h.events) > h.maxLines {
		h.events = h.events[len(h.events)-h.maxLines:]
	}
	notify := h.notify
	h.mu.Unlock()

	if notify != nil {
		notify(ev)
	}
	return nil
}

// Events returns a copy of the captured entries, oldest first
func (h *Hook) Events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

// Install adds the hook to the standard logger and returns a function
// that removes it again
func (h *Hook) Install() func() {
	logger := log.StandardLogger()
	prev := make(log.LevelHooks)
	for level, hooks := range logger.Hooks {
		prev[level] = append([]log.Hook(nil), hooks...)
	}
	logger.AddHook(h)
	return func() { logger.ReplaceHooks(prev) }
}

func formatFields(data log.Fields) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return strings.Join(parts, " ")
}
