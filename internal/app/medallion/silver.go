package medallion

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/lakehouse/internal/domain/extraction"
	"github.com/ahrav/lakehouse/internal/domain/lakehouse"
	"github.com/ahrav/lakehouse/pkg/common/logger"
)

// RuleKind identifies a declared column validation applied at promotion.
type RuleKind string

const (
	RuleNotNull     RuleKind = "not_null"
	RuleNonNegative RuleKind = "non_negative"
	RuleNonEmpty    RuleKind = "non_empty"
)

// ValidationRule declares a single column check. Rows failing any rule are
// quarantined rather than dropped.
type ValidationRule struct {
	Column string
	Rule   RuleKind
}

// PromotionSpec configures one Bronze to Silver promotion.
type PromotionSpec struct {
	// DedupKeys names the columns forming the dedup identity. When empty the
	// row's business key fingerprint is used.
	DedupKeys []string
	Rules     []ValidationRule
}

// PromotionResult summarizes one promotion run.
type PromotionResult struct {
	BronzeTable string
	SilverTable string
	CommitID    uuid.UUID

	Promoted     int
	Quarantined  int
	Deduplicated int
	// SkippedInvalid counts Bronze rows tagged invalid at ingestion. They
	// stay in Bronze and never reach Silver.
	SkippedInvalid int
}

// SilverPromoter promotes Bronze rows to Silver: invalid rows are skipped,
// duplicates are collapsed last-write-wins on ingestion time, and declared
// validation rules quarantine failing rows with a recorded reason. The
// output ordering is deterministic for a given Bronze snapshot.
type SilverPromoter struct {
	store lakehouse.VersionedTableStore

	logger *logger.Logger
	tracer trace.Tracer
}

// NewSilverPromoter creates a promoter over the given table store.
func NewSilverPromoter(store lakehouse.VersionedTableStore, log *logger.Logger, tracer trace.Tracer) *SilverPromoter {
	return &SilverPromoter{
		store:  store,
		logger: log.With("component", "silver_promoter"),
		tracer: tracer,
	}
}

// Promote reads the Bronze snapshot and writes the promoted rows to the
// Silver table. Re-running a promotion is harmless; the store's
// (key fingerprint, position) dedup absorbs replays.
func (p *SilverPromoter) Promote(ctx context.Context, bronzeTable, silverTable string, spec PromotionSpec) (*PromotionResult, error) {
	if err := lakehouse.ValidateTransition(lakehouse.LayerBronze, lakehouse.LayerSilver); err != nil {
		return nil, err
	}

	ctx, span := p.tracer.Start(ctx, "silver_promoter.promote",
		trace.WithAttributes(
			attribute.String("bronze_table", bronzeTable),
			attribute.String("silver_table", silverTable),
		))
	defer span.End()

	snapshot, err := p.store.Snapshot(ctx, bronzeTable)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("reading bronze snapshot %s: %w", bronzeTable, err)
	}

	result := &PromotionResult{BronzeTable: bronzeTable, SilverTable: silverTable}

	// Last write wins within each dedup group; ties on ingestion time break
	// on the encoded position so the outcome does not depend on read order.
	winners := make(map[string]lakehouse.Record)
	order := make([]string, 0)
	for _, rec := range snapshot {
		if rec.QualityFlag == lakehouse.QualityInvalid {
			result.SkippedInvalid++
			continue
		}
		id := dedupIdentity(rec, spec.DedupKeys)
		prev, seen := winners[id]
		if !seen {
			winners[id] = rec
			order = append(order, id)
			continue
		}
		result.Deduplicated++
		if laterRecord(rec, prev) {
			winners[id] = rec
		}
	}
	sort.Strings(order)

	promoted := make([]lakehouse.Record, 0, len(order))
	for _, id := range order {
		rec := winners[id]
		rec.QualityFlag = lakehouse.QualityValid
		rec.QuarantineReason = ""
		if rec.ChangeKind != extraction.ChangeKindDelete {
			if reason := applyRules(rec, spec.Rules); reason != "" {
				rec.QualityFlag = lakehouse.QualityQuarantined
				rec.QuarantineReason = reason
				result.Quarantined++
			}
		}
		if rec.QualityFlag == lakehouse.QualityValid {
			result.Promoted++
		}
		promoted = append(promoted, rec)
	}

	if len(promoted) > 0 {
		commitID, err := p.store.Append(ctx, silverTable, promoted)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("writing silver table %s: %w", silverTable, err)
		}
		result.CommitID = commitID
	}

	if result.Quarantined > 0 {
		p.logger.Warn(ctx, "promotion quarantined rows",
			"silver_table", silverTable, "quarantined", result.Quarantined)
	}
	p.logger.Info(ctx, "promotion complete",
		"bronze_table", bronzeTable,
		"silver_table", silverTable,
		"promoted", result.Promoted,
		"quarantined", result.Quarantined,
		"deduplicated", result.Deduplicated,
		"skipped_invalid", result.SkippedInvalid)
	return result, nil
}

// dedupIdentity computes the dedup group for a record. Configured dedup
// columns are looked up first in the business key, then in the structured
// payload, so a pipeline can collapse rows on a coarser key than the
// source's.
func dedupIdentity(rec lakehouse.Record, dedupKeys []string) string {
	if len(dedupKeys) == 0 {
		return rec.KeyFingerprint
	}
	key := make(map[string]string, len(dedupKeys))
	attrs := rec.Attributes()
	for _, col := range dedupKeys {
		if v, ok := rec.BusinessKey[col]; ok {
			key[col] = v
			continue
		}
		key[col] = fmt.Sprint(attrs[col])
	}
	return extraction.FingerprintKey(key)
}

func laterRecord(a, b lakehouse.Record) bool {
	if !a.IngestedAt.Equal(b.IngestedAt) {
		return a.IngestedAt.After(b.IngestedAt)
	}
	_, av := extraction.EncodePosition(a.Position)
	_, bv := extraction.EncodePosition(b.Position)
	return av > bv
}

// applyRules evaluates every declared rule and returns the joined failure
// reasons, empty when the record passes.
func applyRules(rec lakehouse.Record, rules []ValidationRule) string {
	attrs := rec.Attributes()
	var failures []string
	for _, rule := range rules {
		val, present := attrs[rule.Column]
		switch rule.Rule {
		case RuleNotNull:
			if !present || val == nil {
				failures = append(failures, fmt.Sprintf("%s: null value", rule.Column))
			}
		case RuleNonEmpty:
			if s, ok := val.(string); !present || (ok && s == "") {
				failures = append(failures, fmt.Sprintf("%s: empty value", rule.Column))
			}
		case RuleNonNegative:
			if f, ok := asNumber(val); present && ok && f < 0 {
				failures = append(failures, fmt.Sprintf("%s: negative value %v", rule.Column, val))
			}
		}
	}
	return strings.Join(failures, "; ")
}

func asNumber(v any) (float64, bool) {
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
