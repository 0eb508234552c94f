package live

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mood is a participant feedback signal.
type Mood string

const (
	MoodConfused     Mood = "confused"
	MoodThinking     Mood = "thinking"
	MoodAha          Mood = "aha"
	MoodWow          Mood = "wow"
	MoodPauseRequest Mood = "pause_request"
	MoodOverwhelmed  Mood = "overwhelmed"
)

// ParseMood validates a mood string from the wire.
func ParseMood(s string) (Mood, error) {
	switch Mood(s) {
	case MoodConfused, MoodThinking, MoodAha, MoodWow, MoodPauseRequest, MoodOverwhelmed:
		return Mood(s), nil
	}
	return "", ErrInvalidMood
}

// MoodEvent is one immutable feedback event.
type MoodEvent struct {
	ParticipantID string    `json:"participant_id"`
	Mood          Mood      `json:"mood"`
	ModuleID      uuid.UUID `json:"module_id"`
	At            time.Time `json:"at"`
}

// Tally maps mood kind to count for one module.
type Tally map[Mood]int

// MoodAggregator keeps a sliding window of mood events and derives per-module
// tallies. It is a live signal, not a ledger: events older than the maximum
// window are pruned lazily on each Record.
type MoodAggregator struct {
	mu        sync.Mutex
	events    []MoodEvent
	maxWindow time.Duration
}

// NewMoodAggregator creates an aggregator retaining at most maxWindow of events.
func NewMoodAggregator(maxWindow time.Duration) *MoodAggregator {
	return &MoodAggregator{maxWindow: maxWindow}
}

// Record appends an event and prunes anything older than the retention window.
func (a *MoodAggregator) Record(ev MoodEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pruneLocked(ev.At)
	a.events = append(a.events, ev)
}

// pruneLocked drops events older than maxWindow relative to now. Events are
// appended in time order, so a single scan from the front suffices.
func (a *MoodAggregator) pruneLocked(now time.Time) {
	cutoff := now.Add(-a.maxWindow)
	i := 0
	for i < len(a.events) && a.events[i].At.Before(cutoff) {
		i++
	}
	if i > 0 {
		a.events = append(a.events[:0:0], a.events[i:]...)
	}
}

// Snapshot returns per-module tallies over events within [now-window, now].
// Windows larger than the retention window are capped to it.
func (a *MoodAggregator) Snapshot(now time.Time, window time.Duration) map[uuid.UUID]Tally {
	if window <= 0 || window > a.maxWindow {
		window = a.maxWindow
	}
	cutoff := now.Add(-window)

	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[uuid.UUID]Tally)
	for _, ev := range a.events {
		if ev.At.Before(cutoff) || ev.At.After(now) {
			continue
		}
		t, ok := out[ev.ModuleID]
		if !ok {
			t = make(Tally)
			out[ev.ModuleID] = t
		}
		t[ev.Mood]++
	}
	return out
}

// SnapshotModule returns the tally for a single module over the window.
func (a *MoodAggregator) SnapshotModule(now time.Time, window time.Duration, moduleID uuid.UUID) Tally {
	t := a.Snapshot(now, window)[moduleID]
	if t == nil {
		t = make(Tally)
	}
	return t
}

// Reset drops all events for one module, leaving other modules untouched.
func (a *MoodAggregator) Reset(moduleID uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.events[:0]
	for _, ev := range a.events {
		if ev.ModuleID != moduleID {
			kept = append(kept, ev)
		}
	}
	a.events = kept
}
