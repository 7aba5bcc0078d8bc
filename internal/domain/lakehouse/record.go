package lakehouse

import (
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/lakehouse/internal/domain/extraction"
)

// Record is a single stored row in a layered table. At Bronze the payload is
// the raw source row plus provenance tagging; at Silver the payload is the
// cleaned structured form; at Gold the payload holds aggregate columns. The
// (KeyFingerprint, Position) pair is the idempotency identity: appending the
// same pair twice is a no-op at the table store.
type Record struct {
	// KeyFingerprint is the canonical business key encoding, empty for
	// unkeyed rows (unstructured Bronze payloads, Gold group rows use the
	// grouping key instead).
	KeyFingerprint string `json:"key_fingerprint"`

	// BusinessKey is the column mapping the fingerprint was derived from.
	BusinessKey map[string]string `json:"business_key,omitempty"`

	// Payload holds the row content in its tagged variant.
	Payload Payload `json:"payload"`

	// ChangeKind and Position carry the source change-stream coordinates.
	ChangeKind extraction.ChangeKind `json:"change_kind,omitempty"`
	Position   extraction.Position   `json:"position"`

	// Provenance tags, stamped at Bronze ingestion.
	SourceID   string    `json:"source_id"`
	BatchID    uuid.UUID `json:"batch_id"`
	IngestedAt time.Time `json:"ingested_at"`

	// QualityFlag classifies the row; QuarantineReason explains a
	// non-valid flag.
	QualityFlag      QualityFlag `json:"quality_flag"`
	QuarantineReason string      `json:"quarantine_reason,omitempty"`
}

// IsPromotable reports whether the row may flow to the next layer.
func (r Record) IsPromotable() bool { return r.QualityFlag == QualityValid }

// Attributes returns the structured columns of the payload, nil for
// non-structured variants.
func (r Record) Attributes() map[string]any { return r.Payload.Structured() }
