// Package dimension provides the domain model for historized dimension
// entities: versioned records with validity intervals, the attribute
// comparison policy driving no-op detection, and the repository port the
// versioning engine mutates history through. Every change to an entity
// creates a new versioned record instead of overwriting; the full history
// stays queryable as of any past instant.
package dimension

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ahrav/lakehouse/internal/domain/extraction"
)

// Record is one version of a dimension entity. Versions for a business key
// form a non-overlapping timeline: each version's validTo equals the next
// version's validFrom unless the entity was deleted in between, and at most
// one version is open and current. A zero validTo means the version is
// open-ended.
type Record struct {
	// Identity.
	businessKey    map[string]string
	keyFingerprint string
	version        int

	// State.
	attributes map[string]any
	validFrom  time.Time
	validTo    time.Time
	isCurrent  bool
}

// NewInitialRecord creates version 1 of a previously unseen business key,
// open and current from the snapshot time.
func NewInitialRecord(businessKey map[string]string, attributes map[string]any, validFrom time.Time) (*Record, error) {
	if len(businessKey) == 0 {
		return nil, fmt.Errorf("dimension record requires a business key")
	}
	return &Record{
		businessKey:    copyKey(businessKey),
		keyFingerprint: extraction.FingerprintKey(businessKey),
		version:        1,
		attributes:     copyAttrs(attributes),
		validFrom:      validFrom.UTC(),
		isCurrent:      true,
	}, nil
}

// ReconstructRecord creates a Record from persisted data.
func ReconstructRecord(
	businessKey map[string]string,
	version int,
	attributes map[string]any,
	validFrom, validTo time.Time,
	isCurrent bool,
) *Record {
	return &Record{
		businessKey:    copyKey(businessKey),
		keyFingerprint: extraction.FingerprintKey(businessKey),
		version:        version,
		attributes:     copyAttrs(attributes),
		validFrom:      validFrom,
		validTo:        validTo,
		isCurrent:      isCurrent,
	}
}

// Getters for Record.
func (r *Record) BusinessKey() map[string]string { return r.businessKey }
func (r *Record) KeyFingerprint() string         { return r.keyFingerprint }
func (r *Record) Version() int                   { return r.version }
func (r *Record) Attributes() map[string]any     { return r.attributes }
func (r *Record) ValidFrom() time.Time           { return r.validFrom }
func (r *Record) ValidTo() time.Time             { return r.validTo }
func (r *Record) IsCurrent() bool                { return r.isCurrent }

// IsOpen reports whether the version has no end time yet.
func (r *Record) IsOpen() bool { return r.validTo.IsZero() }

// ContainsTime reports whether the version was the entity's state at the
// given instant: validFrom <= t < validTo, with an open validTo counting as
// unbounded.
func (r *Record) ContainsTime(t time.Time) bool {
	if t.Before(r.validFrom) {
		return false
	}
	return r.IsOpen() || t.Before(r.validTo)
}

// Expired returns a closed copy of the record with validTo set to the given
// instant and the current flag cleared. The instant must be strictly after
// validFrom; zero-length validity intervals are never created.
func (r *Record) Expired(at time.Time) (*Record, error) {
	at = at.UTC()
	if !at.After(r.validFrom) {
		return nil, NewInvalidSnapshotTimeError(r.keyFingerprint, r.validFrom, at)
	}
	return &Record{
		businessKey:    r.businessKey,
		keyFingerprint: r.keyFingerprint,
		version:        r.version,
		attributes:     r.attributes,
		validFrom:      r.validFrom,
		validTo:        at,
		isCurrent:      false,
	}, nil
}

// Succeeded returns the next version of the entity, open and current from
// the given instant with the new attributes.
func (r *Record) Succeeded(attributes map[string]any, at time.Time) *Record {
	return &Record{
		businessKey:    r.businessKey,
		keyFingerprint: r.keyFingerprint,
		version:        r.version + 1,
		attributes:     copyAttrs(attributes),
		validFrom:      at.UTC(),
		isCurrent:      true,
	}
}

// Revived returns the next version of a tombstoned entity that reappeared in
// a snapshot, open and current from the given instant. The receiver must be
// the key's final, closed version and the instant must not precede its end
// time, so the revived version never overlaps the tombstoned history.
func (r *Record) Revived(attributes map[string]any, at time.Time) (*Record, error) {
	at = at.UTC()
	if r.IsOpen() || at.Before(r.validTo) {
		return nil, NewInvalidSnapshotTimeError(r.keyFingerprint, r.validTo, at)
	}
	return &Record{
		businessKey:    r.businessKey,
		keyFingerprint: r.keyFingerprint,
		version:        r.version + 1,
		attributes:     copyAttrs(attributes),
		validFrom:      at,
		isCurrent:      true,
	}, nil
}

type recordJSON struct {
	BusinessKey map[string]string `json:"business_key"`
	Version     int               `json:"version"`
	Attributes  map[string]any    `json:"attributes"`
	ValidFrom   time.Time         `json:"valid_from"`
	ValidTo     *time.Time        `json:"valid_to,omitempty"`
	IsCurrent   bool              `json:"is_current"`
}

// MarshalJSON serializes the Record object into a JSON byte array.
func (r *Record) MarshalJSON() ([]byte, error) {
	aux := recordJSON{
		BusinessKey: r.businessKey,
		Version:     r.version,
		Attributes:  r.attributes,
		ValidFrom:   r.validFrom,
		IsCurrent:   r.isCurrent,
	}
	if !r.validTo.IsZero() {
		aux.ValidTo = &r.validTo
	}
	return json.Marshal(&aux)
}

// UnmarshalJSON deserializes JSON data into a Record object.
func (r *Record) UnmarshalJSON(data []byte) error {
	var aux recordJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var validTo time.Time
	if aux.ValidTo != nil {
		validTo = *aux.ValidTo
	}
	*r = *ReconstructRecord(aux.BusinessKey, aux.Version, aux.Attributes, aux.ValidFrom, validTo, aux.IsCurrent)

	return nil
}

func copyKey(key map[string]string) map[string]string {
	out := make(map[string]string, len(key))
	for k, v := range key {
		out[k] = v
	}
	return out
}

func copyAttrs(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
