package dimension

import "time"

// DeleteDetectionPolicy controls what happens when a business key with an
// open version is absent from a new snapshot. Detection compares against the
// current record set only, which keeps cost proportional to the number of
// live entities rather than total history.
type DeleteDetectionPolicy string

const (
	// DeleteDetectionDisabled ignores absent keys; their versions stay open.
	// Appropriate when snapshots are partial.
	DeleteDetectionDisabled DeleteDetectionPolicy = "disabled"
	// DeleteDetectionExpire closes the current version of an absent key
	// with no replacement, tombstoning the entity.
	DeleteDetectionExpire DeleteDetectionPolicy = "expire"
	// DeleteDetectionError fails the apply when a key is absent, for tables
	// where deletions are anomalous.
	DeleteDetectionError DeleteDetectionPolicy = "error"
)

// IsValid reports whether the policy is one of the known values.
func (p DeleteDetectionPolicy) IsValid() bool {
	switch p {
	case DeleteDetectionDisabled, DeleteDetectionExpire, DeleteDetectionError:
		return true
	}
	return false
}

// ApplyResult summarizes one snapshot application against a table.
type ApplyResult struct {
	Table        string
	SnapshotTime time.Time

	// Inserted counts new versions written, both version-1 inserts and
	// successor versions.
	Inserted int
	// Expired counts versions closed, including tombstones.
	Expired int
	// Unchanged counts keys whose attributes matched the current version.
	Unchanged int
	// Deleted counts keys tombstoned by delete detection.
	Deleted int
}
