package risk

import (
	"sync"
	"time"

	"github.com/rustyeddy/swingtrader/internal/id"
)

type RiskEvent struct {
	ID       string    `json:"id"`
	Time     time.Time `json:"time"`
	Type     string    `json:"type"`
	Severity Level     `json:"severity"`
	Symbol   string    `json:"symbol"`
	Action   string    `json:"action"` // RESIZED or REJECTED
	Message  string    `json:"message,omitempty"`
}

// DefaultEventCapacity bounds the events kept per day.
const DefaultEventCapacity = 500

// EventLog keeps the current local day's risk events. The count keeps
// growing past capacity so the lockout still works; only the retained
// events are bounded.
type EventLog struct {
	mu       sync.Mutex
	capacity int
	day      string
	count    int
	events   []RiskEvent
}

func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultEventCapacity
	}
	return &EventLog{capacity: capacity}
}

func dayKey(t time.Time) string { return t.Local().Format("2006-01-02") }

func (l *EventLog) rollLocked(now time.Time) {
	if k := dayKey(now); k != l.day {
		l.day = k
		l.count = 0
		l.events = l.events[:0]
	}
}

// Record appends e and returns the day's event count.
func (l *EventLog) Record(e RiskEvent) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked(e.Time)

	if e.ID == "" {
		e.ID = id.NewAt("rev", e.Time)
	}
	l.count++
	if len(l.events) == l.capacity {
		copy(l.events, l.events[1:])
		l.events = l.events[:len(l.events)-1]
	}
	l.events = append(l.events, e)
	return l.count
}

// Count returns the number of events recorded on now's local date.
func (l *EventLog) Count(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked(now)
	return l.count
}

// Locked reports whether the day's count has exceeded limit. A limit of
// zero disables the lockout.
func (l *EventLog) Locked(now time.Time, limit int) bool {
	return limit > 0 && l.Count(now) > limit
}

// Events returns the retained events for now's local date.
func (l *EventLog) Events(now time.Time) []RiskEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked(now)
	return append([]RiskEvent(nil), l.events...)
}
