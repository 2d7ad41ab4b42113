package signals

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ──────────────────────────────────────────────────────────────────────
// Per-Request Signal Sink
//
// Append-only event log of typed signals raised by the hydrator and by
// detectors during one request. Events live in a contiguous arena with a
// small name → indices index for exact-match queries; wildcard queries
// fall back to a linear scan.
//
// Bounded two ways: MaxCapacity (oldest dropped silently, not an error)
// and MaxAge (expired events swept on the next write). Events are never
// mutated after insertion. Names are case-insensitive (lowercased on
// write and on query).
// ──────────────────────────────────────────────────────────────────────

// Event is one immutable signal occurrence. Value is empty for presence
// markers and holds the raw coercible text for name:value signals.
type Event struct {
	Name      string    `json:"name"`
	Session   string    `json:"session"`
	Value     string    `json:"value,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bool coerces the event value. A presence marker reads as true.
func (e Event) Bool() bool {
	if e.Value == "" {
		return true
	}
	b, err := strconv.ParseBool(e.Value)
	return err == nil && b
}

// Int coerces the event value, returning 0 on absence or parse failure.
func (e Event) Int() int64 {
	n, _ := strconv.ParseInt(e.Value, 10, 64)
	return n
}

// Float coerces the event value, returning 0 on absence or parse failure.
func (e Event) Float() float64 {
	f, _ := strconv.ParseFloat(e.Value, 64)
	return f
}

// String returns the raw value text.
func (e Event) String() string { return e.Value }

// Sink is the per-request signal store. Safe for concurrent use by the
// detectors of one wave; writers hold a short mutex for one in-memory
// append only.
type Sink struct {
	mu          sync.Mutex
	events      []Event
	index       map[string][]int // name → arena indices
	dropped     int              // arena offset of the logical first event
	MaxCapacity int
	MaxAge      time.Duration
	now         func() time.Time
}

// DefaultCapacity bounds a sink when the orchestrator config leaves
// max_signal_capacity unset.
const DefaultCapacity = 2048

// NewSink creates a bounded per-request sink. capacity <= 0 selects
// DefaultCapacity; maxAge <= 0 disables age-based expiry.
func NewSink(capacity int, maxAge time.Duration) *Sink {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Sink{
		events:      make([]Event, 0, 64),
		index:       make(map[string][]int),
		MaxCapacity: capacity,
		MaxAge:      maxAge,
		now:         time.Now,
	}
}

// Raise appends a presence marker signal.
func (s *Sink) Raise(name, session string) {
	s.append(name, session, "")
}

// RaiseValue appends a name:value signal. The value is rendered to text on
// write and coerced back to bool/int/float/string on read.
func (s *Sink) RaiseValue(name, session string, value any) {
	s.append(name, session, renderValue(value))
}

func renderValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (s *Sink) append(name, session, value string) {
	name = strings.ToLower(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweepExpiredLocked(now)

	if s.liveCountLocked() >= s.MaxCapacity {
		// Capacity exhaustion drops the oldest silently.
		s.dropped++
	}

	s.events = append(s.events, Event{Name: name, Session: session, Value: value, Timestamp: now})
	s.index[name] = append(s.index[name], len(s.events)-1)
}

func (s *Sink) liveCountLocked() int { return len(s.events) - s.dropped }

// sweepExpiredLocked advances the logical start past events older than
// MaxAge. Arena entries stay in place; they are simply no longer visible.
func (s *Sink) sweepExpiredLocked(now time.Time) {
	if s.MaxAge <= 0 {
		return
	}
	cutoff := now.Add(-s.MaxAge)
	for s.dropped < len(s.events) && s.events[s.dropped].Timestamp.Before(cutoff) {
		s.dropped++
	}
}

// Sense returns a snapshot of the live events matching pattern, in
// insertion order. Pattern is either an exact name or prefix*suffix with a
// single wildcard; see CompilePattern.
func (s *Sink) Sense(pattern string) ([]Event, error) {
	p, err := CompilePattern(pattern)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p.exact != "" {
		// Indexed fast path for exact names.
		var out []Event
		for _, i := range s.index[p.exact] {
			if i >= s.dropped {
				out = append(out, s.events[i])
			}
		}
		return out, nil
	}

	var out []Event
	for i := s.dropped; i < len(s.events); i++ {
		if p.match(s.events[i].Name) {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

// Has reports whether at least one live event matches pattern. Invalid
// patterns report false.
func (s *Sink) Has(pattern string) bool {
	evs, err := s.Sense(pattern)
	return err == nil && len(evs) > 0
}

// First returns the earliest live event matching pattern.
func (s *Sink) First(pattern string) (Event, bool) {
	evs, err := s.Sense(pattern)
	if err != nil || len(evs) == 0 {
		return Event{}, false
	}
	return evs[0], true
}

// ClearPattern administratively removes live events whose name matches the
// glob. The arena is compacted and the index rebuilt.
func (s *Sink) ClearPattern(glob string) error {
	p, err := CompilePattern(glob)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]Event, 0, len(s.events))
	for i := s.dropped; i < len(s.events); i++ {
		if !p.match(s.events[i].Name) {
			kept = append(kept, s.events[i])
		}
	}
	s.events = kept
	s.dropped = 0
	s.index = make(map[string][]int, len(kept))
	for i, e := range kept {
		s.index[e.Name] = append(s.index[e.Name], i)
	}
	return nil
}

// Snapshot returns all live events in insertion order.
func (s *Sink) Snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, s.liveCountLocked())
	copy(out, s.events[s.dropped:])
	return out
}

// Merged flattens the live events into a name → value map. Presence
// markers render as "true"; for repeated names the latest value wins.
func (s *Sink) Merged() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, s.liveCountLocked())
	for i := s.dropped; i < len(s.events); i++ {
		v := s.events[i].Value
		if v == "" {
			v = "true"
		}
		out[s.events[i].Name] = v
	}
	return out
}

// Len returns the number of live events.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveCountLocked()
}
