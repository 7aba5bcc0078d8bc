package extraction

import (
	"encoding/json"
	"time"
)

// Watermark is an entity recording the highest change position that has been
// durably processed for one (source, target) pair. Exactly one logical
// watermark exists per pair; each successful extraction run replaces it
// atomically, and a failed run leaves it untouched. Its identity is the
// (source, target) pair itself.
type Watermark struct {
	// Identity.
	sourceID string
	targetID string

	// State.
	position    Position
	committedAt time.Time
}

// NewWatermark creates a watermark for a (source, target) pair at the given
// position, stamped with the current time.
func NewWatermark(sourceID, targetID string, position Position) *Watermark {
	return &Watermark{
		sourceID:    sourceID,
		targetID:    targetID,
		position:    position,
		committedAt: time.Now().UTC(),
	}
}

// ReconstructWatermark creates a Watermark from persisted data.
func ReconstructWatermark(sourceID, targetID string, position Position, committedAt time.Time) *Watermark {
	return &Watermark{
		sourceID:    sourceID,
		targetID:    targetID,
		position:    position,
		committedAt: committedAt,
	}
}

// Getters for Watermark.
func (w *Watermark) SourceID() string       { return w.sourceID }
func (w *Watermark) TargetID() string       { return w.targetID }
func (w *Watermark) Position() Position     { return w.position }
func (w *Watermark) CommittedAt() time.Time { return w.committedAt }

// MarshalJSON serializes the Watermark object into a JSON byte array.
func (w *Watermark) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		SourceID    string    `json:"source_id"`
		TargetID    string    `json:"target_id"`
		Position    Position  `json:"position"`
		CommittedAt time.Time `json:"committed_at"`
	}{
		SourceID:    w.sourceID,
		TargetID:    w.targetID,
		Position:    w.position,
		CommittedAt: w.committedAt,
	})
}

// UnmarshalJSON deserializes JSON data into a Watermark object.
func (w *Watermark) UnmarshalJSON(data []byte) error {
	aux := &struct {
		SourceID    string    `json:"source_id"`
		TargetID    string    `json:"target_id"`
		Position    Position  `json:"position"`
		CommittedAt time.Time `json:"committed_at"`
	}{}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	w.sourceID = aux.SourceID
	w.targetID = aux.TargetID
	w.position = aux.Position
	w.committedAt = aux.CommittedAt

	return nil
}
