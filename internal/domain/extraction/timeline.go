package extraction

import (
	"encoding/json"
	"time"
)

// TimeProvider abstracts the clock so run timing can be scripted in tests.
type TimeProvider interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns a TimeProvider backed by the wall clock.
func SystemClock() TimeProvider { return realClock{} }

// Timeline bounds a single extraction run. It starts when the run acquires
// its pair lock and is marked completed after the watermark commits or the
// run fails, so Duration covers the whole critical section.
type Timeline struct {
	startedAt   time.Time
	completedAt time.Time
	clock       TimeProvider
}

// NewTimeline starts a timeline at the clock's current instant.
func NewTimeline(clock TimeProvider) *Timeline {
	return &Timeline{startedAt: clock.Now(), clock: clock}
}

// ReconstructTimeline creates a Timeline from persisted run timestamps.
func ReconstructTimeline(startedAt, completedAt time.Time) *Timeline {
	return &Timeline{startedAt: startedAt, completedAt: completedAt, clock: realClock{}}
}

func (t *Timeline) StartedAt() time.Time   { return t.startedAt }
func (t *Timeline) CompletedAt() time.Time { return t.completedAt }

// MarkCompleted freezes the timeline. Later calls are no-ops, so a deferred
// completion cannot overwrite an explicit one.
func (t *Timeline) MarkCompleted() {
	if t.completedAt.IsZero() {
		t.completedAt = t.clock.Now()
	}
}

// IsCompleted reports whether the run has finished.
func (t *Timeline) IsCompleted() bool { return !t.completedAt.IsZero() }

// Duration returns the elapsed time between start and completion, zero while
// the run is still in flight.
func (t *Timeline) Duration() time.Duration {
	if t.completedAt.IsZero() {
		return 0
	}
	return t.completedAt.Sub(t.startedAt)
}

// RowsPerSecond reports the throughput of a completed run.
func (t *Timeline) RowsPerSecond(rows int) float64 {
	secs := t.Duration().Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(rows) / secs
}

// MarshalJSON serializes the timeline's timestamps.
func (t *Timeline) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		StartedAt   time.Time `json:"started_at"`
		CompletedAt time.Time `json:"completed_at"`
	}{
		StartedAt:   t.startedAt,
		CompletedAt: t.completedAt,
	})
}

// UnmarshalJSON deserializes timestamps into a Timeline backed by the system
// clock.
func (t *Timeline) UnmarshalJSON(data []byte) error {
	aux := &struct {
		StartedAt   time.Time `json:"started_at"`
		CompletedAt time.Time `json:"completed_at"`
	}{}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	t.startedAt = aux.StartedAt
	t.completedAt = aux.CompletedAt
	t.clock = realClock{}
	return nil
}
