package dimension

import "reflect"

// NullEqualityPolicy controls how attribute comparison treats a null value
// versus an absent key during no-op detection.
type NullEqualityPolicy string

const (
	// NullEqualsAbsent treats a nil value and a missing key as equal. This
	// is the standard policy for sources that omit null columns.
	NullEqualsAbsent NullEqualityPolicy = "null_equals_absent"
	// NullDistinctFromAbsent treats a nil value and a missing key as a
	// genuine change.
	NullDistinctFromAbsent NullEqualityPolicy = "null_distinct_from_absent"
)

// IsValid reports whether the policy is one of the known values.
func (p NullEqualityPolicy) IsValid() bool {
	return p == NullEqualsAbsent || p == NullDistinctFromAbsent
}

// AttributesEqual reports whether two attribute sets describe the same
// entity state under the given null policy. Equal attribute sets must not
// generate new versions; otherwise history grows without bound and as-of
// lookups degrade.
func AttributesEqual(current, snapshot map[string]any, policy NullEqualityPolicy) bool {
	if policy == NullEqualsAbsent {
		current = withoutNulls(current)
		snapshot = withoutNulls(snapshot)
	}

	if len(current) != len(snapshot) {
		return false
	}
	for k, cv := range current {
		sv, ok := snapshot[k]
		if !ok {
			return false
		}
		if !valueEqual(cv, sv) {
			return false
		}
	}
	return true
}

func withoutNulls(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}

// valueEqual compares attribute values, normalizing numeric types so a value
// that round-tripped through JSON (arriving as float64) still matches its
// integer original.
func valueEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
