// Package lakehouse provides domain types for the layered refinement model:
// the Bronze, Silver and Gold layers, the quality flags attached to stored
// rows, the tagged payload union that lets Bronze accept any row shape, and
// the versioned table store port all layers write through. Data only ever
// moves forward through the layers; no layer writes back to an earlier one.
package lakehouse

import "fmt"

// Layer identifies a refinement layer. Bronze holds raw tagged rows, Silver
// holds deduplicated validated rows, Gold holds aggregated rows.
type Layer string

const (
	LayerBronze Layer = "bronze"
	LayerSilver Layer = "silver"
	LayerGold   Layer = "gold"
)

// IsValid reports whether the layer is one of the known values.
func (l Layer) IsValid() bool {
	switch l {
	case LayerBronze, LayerSilver, LayerGold:
		return true
	}
	return false
}

func (l Layer) rank() int {
	switch l {
	case LayerBronze:
		return 0
	case LayerSilver:
		return 1
	case LayerGold:
		return 2
	}
	return -1
}

// CanPromoteTo reports whether data may flow from l to target. Transitions
// are forward-only and single-step: Bronze to Silver and Silver to Gold.
func (l Layer) CanPromoteTo(target Layer) bool {
	return l.IsValid() && target.IsValid() && target.rank() == l.rank()+1
}

// ValidateTransition returns a descriptive error when a promotion between
// two layers is not allowed.
func ValidateTransition(from, to Layer) error {
	if !from.CanPromoteTo(to) {
		return fmt.Errorf("invalid layer transition: %s -> %s", from, to)
	}
	return nil
}

// QualityFlag classifies a stored row's fitness for promotion. Rows are
// never dropped for quality reasons; they are retained with a flag.
type QualityFlag string

const (
	// QualityValid marks a row eligible for promotion.
	QualityValid QualityFlag = "valid"
	// QualityInvalid marks a row that was malformed at ingestion. It is
	// stored at Bronze but excluded from promotion until repaired.
	QualityInvalid QualityFlag = "invalid"
	// QualityQuarantined marks a row that failed a Silver validation rule.
	QualityQuarantined QualityFlag = "quarantined"
)

// IsValid reports whether the quality flag is one of the known values.
func (q QualityFlag) IsValid() bool {
	switch q {
	case QualityValid, QualityInvalid, QualityQuarantined:
		return true
	}
	return false
}
