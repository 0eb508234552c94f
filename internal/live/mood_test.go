package live

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMoodAggregatorWindow(t *testing.T) {
	agg := NewMoodAggregator(5 * time.Minute)
	module := uuid.New()
	now := time.Now()

	// Three aha within the window, one thinking just inside, one aha far
	// enough back to fall out of a 60s window.
	agg.Record(MoodEvent{ParticipantID: "p1", Mood: MoodAha, ModuleID: module, At: now.Add(-90 * time.Second)})
	agg.Record(MoodEvent{ParticipantID: "p1", Mood: MoodAha, ModuleID: module, At: now.Add(-40 * time.Second)})
	agg.Record(MoodEvent{ParticipantID: "p2", Mood: MoodAha, ModuleID: module, At: now.Add(-30 * time.Second)})
	agg.Record(MoodEvent{ParticipantID: "p3", Mood: MoodAha, ModuleID: module, At: now.Add(-10 * time.Second)})
	agg.Record(MoodEvent{ParticipantID: "p4", Mood: MoodThinking, ModuleID: module, At: now.Add(-5 * time.Second)})

	tally := agg.SnapshotModule(now, 60*time.Second, module)
	if tally[MoodAha] != 3 {
		t.Errorf("aha = %d, want 3", tally[MoodAha])
	}
	if tally[MoodThinking] != 1 {
		t.Errorf("thinking = %d, want 1", tally[MoodThinking])
	}

	// The full retention window still sees the older event.
	tally = agg.SnapshotModule(now, 5*time.Minute, module)
	if tally[MoodAha] != 4 {
		t.Errorf("aha over full window = %d, want 4", tally[MoodAha])
	}
}

func TestMoodAggregatorWindowCapped(t *testing.T) {
	agg := NewMoodAggregator(time.Minute)
	module := uuid.New()
	now := time.Now()

	agg.Record(MoodEvent{ParticipantID: "p1", Mood: MoodWow, ModuleID: module, At: now.Add(-30 * time.Second)})

	// Requests beyond the retention window are capped, not errors.
	for _, window := range []time.Duration{0, -time.Second, time.Hour} {
		tally := agg.SnapshotModule(now, window, module)
		if tally[MoodWow] != 1 {
			t.Errorf("window %v: wow = %d, want 1", window, tally[MoodWow])
		}
	}
}

func TestMoodAggregatorLazyPrune(t *testing.T) {
	agg := NewMoodAggregator(time.Minute)
	module := uuid.New()
	now := time.Now()

	agg.Record(MoodEvent{ParticipantID: "p1", Mood: MoodConfused, ModuleID: module, At: now.Add(-2 * time.Minute)})
	// Recording a fresh event expires the old one.
	agg.Record(MoodEvent{ParticipantID: "p2", Mood: MoodWow, ModuleID: module, At: now})

	tally := agg.SnapshotModule(now, time.Minute, module)
	if tally[MoodConfused] != 0 {
		t.Errorf("confused = %d, want 0 after expiry", tally[MoodConfused])
	}
	if tally[MoodWow] != 1 {
		t.Errorf("wow = %d, want 1", tally[MoodWow])
	}
}

func TestMoodAggregatorResetIsPerModule(t *testing.T) {
	agg := NewMoodAggregator(5 * time.Minute)
	modA, modB := uuid.New(), uuid.New()
	now := time.Now()

	agg.Record(MoodEvent{ParticipantID: "p1", Mood: MoodAha, ModuleID: modA, At: now})
	agg.Record(MoodEvent{ParticipantID: "p1", Mood: MoodConfused, ModuleID: modB, At: now})

	agg.Reset(modA)

	if got := agg.SnapshotModule(now, 0, modA); len(got) != 0 {
		t.Errorf("module A tally after reset = %v, want empty", got)
	}
	if got := agg.SnapshotModule(now, 0, modB); got[MoodConfused] != 1 {
		t.Errorf("module B tally after reset of A = %v, want confused:1", got)
	}
}

func TestMoodAggregatorSnapshotGroupsByModule(t *testing.T) {
	agg := NewMoodAggregator(5 * time.Minute)
	modA, modB := uuid.New(), uuid.New()
	now := time.Now()

	agg.Record(MoodEvent{ParticipantID: "p1", Mood: MoodAha, ModuleID: modA, At: now})
	agg.Record(MoodEvent{ParticipantID: "p2", Mood: MoodAha, ModuleID: modA, At: now})
	agg.Record(MoodEvent{ParticipantID: "p3", Mood: MoodPauseRequest, ModuleID: modB, At: now})

	snap := agg.Snapshot(now, 0)
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d modules, want 2", len(snap))
	}
	if snap[modA][MoodAha] != 2 {
		t.Errorf("module A aha = %d, want 2", snap[modA][MoodAha])
	}
	if snap[modB][MoodPauseRequest] != 1 {
		t.Errorf("module B pause_request = %d, want 1", snap[modB][MoodPauseRequest])
	}
}

func TestParseMood(t *testing.T) {
	valid := []string{"confused", "thinking", "aha", "wow", "pause_request", "overwhelmed"}
	for _, s := range valid {
		if _, err := ParseMood(s); err != nil {
			t.Errorf("ParseMood(%q): %v", s, err)
		}
	}
	if _, err := ParseMood("angry"); !errors.Is(err, ErrInvalidMood) {
		t.Errorf("ParseMood(angry): got %v, want ErrInvalidMood", err)
	}
}
