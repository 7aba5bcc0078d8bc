package extraction

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ChangeKind classifies how a source row changed. Sources that cannot
// distinguish inserts from updates emit ChangeKindUpdate for both; the
// downstream write path is keyed on (business key, position) either way.
type ChangeKind string

const (
	// ChangeKindInsert indicates a row seen for the first time.
	ChangeKindInsert ChangeKind = "insert"
	// ChangeKindUpdate indicates a modification to an existing row.
	ChangeKindUpdate ChangeKind = "update"
	// ChangeKindDelete indicates the source row was removed (hard or soft delete).
	ChangeKindDelete ChangeKind = "delete"
)

// IsValid reports whether the change kind is one of the known values.
func (k ChangeKind) IsValid() bool {
	switch k {
	case ChangeKindInsert, ChangeKindUpdate, ChangeKindDelete:
		return true
	}
	return false
}

// Row is a single typed record yielded by a row source. The business key
// uniquely identifies the entity within its source; the position places the
// row in the source's change stream.
type Row struct {
	BusinessKey map[string]string
	Attributes  map[string]any
	ChangeKind  ChangeKind
	Position    Position
}

// Validate checks the structural invariants a row source must uphold.
func (r Row) Validate() error {
	if len(r.BusinessKey) == 0 {
		return errors.New("row requires a non-empty business key")
	}
	for col, val := range r.BusinessKey {
		if col == "" || val == "" {
			return fmt.Errorf("business key column %q must have a non-null value", col)
		}
	}
	if !r.ChangeKind.IsValid() {
		return fmt.Errorf("unknown change kind: %q", r.ChangeKind)
	}
	if r.Position.IsZero() {
		return errors.New("row requires a non-zero change position")
	}
	return nil
}

// KeyFingerprint returns a canonical string encoding of the business key,
// stable across map iteration order. It is the identity used for idempotent
// writes and SCD2 lookups.
func (r Row) KeyFingerprint() string {
	return FingerprintKey(r.BusinessKey)
}

// FingerprintKey canonically encodes a business key mapping. Columns are
// sorted and both column names and values are escaped so that the encoding
// is injective.
func FingerprintKey(key map[string]string) string {
	cols := make([]string, 0, len(key))
	for col := range key {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var sb strings.Builder
	for i, col := range cols {
		if i > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(escapeKeyPart(col))
		sb.WriteByte('=')
		sb.WriteString(escapeKeyPart(key[col]))
	}
	return sb.String()
}

func escapeKeyPart(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `|`, `\|`)
	return strings.ReplaceAll(s, `=`, `\=`)
}
