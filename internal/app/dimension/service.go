// Package dimension implements the versioning engine for historized
// dimension tables: applying entity snapshots as minimal version
// transitions and answering point-in-time queries.
package dimension

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/lakehouse/internal/domain/dimension"
	"github.com/ahrav/lakehouse/internal/domain/extraction"
	"github.com/ahrav/lakehouse/pkg/common/logger"
)

// metrics defines the telemetry the engine emits at points of use.
type metrics interface {
	IncSnapshotApplies(ctx context.Context)
	AddVersionInserts(ctx context.Context, count int)
	AddVersionExpirations(ctx context.Context, count int)
	AddVersionNoOps(ctx context.Context, count int)
}

// TableConfig carries the per-table policies the engine applies snapshots
// under.
type TableConfig struct {
	// DeleteDetection controls handling of keys absent from a snapshot.
	DeleteDetection dimension.DeleteDetectionPolicy
	// NullEquality controls attribute comparison during no-op detection.
	NullEquality dimension.NullEqualityPolicy
}

func (c TableConfig) withDefaults() TableConfig {
	if c.DeleteDetection == "" {
		c.DeleteDetection = dimension.DeleteDetectionDisabled
	}
	if c.NullEquality == "" {
		c.NullEquality = dimension.NullEqualsAbsent
	}
	return c
}

// Service is the versioning engine. Apply calls are serialized per table so
// two overlapping snapshots can never interleave version transitions; reads
// go straight to the repository.
type Service struct {
	repo dimension.Repository

	mu     sync.Mutex
	tables map[string]*sync.Mutex

	logger  *logger.Logger
	metrics metrics
	tracer  trace.Tracer
}

// NewService creates a versioning engine backed by the given repository.
func NewService(repo dimension.Repository, log *logger.Logger, m metrics, tracer trace.Tracer) *Service {
	return &Service{
		repo:    repo,
		tables:  make(map[string]*sync.Mutex),
		logger:  log.With("component", "dimension_service"),
		metrics: m,
		tracer:  tracer,
	}
}

// Apply reconciles a snapshot against a table's version history: unseen keys
// insert version 1, tombstoned keys that reappear continue their version
// sequence, changed keys expire their current version and insert a
// successor, unchanged keys are untouched. All resulting writes commit as
// one atomic transition; any rejection happens before mutation.
func (s *Service) Apply(
	ctx context.Context,
	table string,
	cfg TableConfig,
	snapshot []extraction.Row,
	snapshotTime time.Time,
) (*dimension.ApplyResult, error) {
	ctx, span := s.tracer.Start(ctx, "dimension_service.apply",
		trace.WithAttributes(
			attribute.String("table", table),
			attribute.Int("snapshot_size", len(snapshot)),
		))
	defer span.End()

	lock := s.tableLock(table)
	lock.Lock()
	defer lock.Unlock()

	s.metrics.IncSnapshotApplies(ctx)
	cfg = cfg.withDefaults()
	snapshotTime = snapshotTime.UTC()

	result := &dimension.ApplyResult{Table: table, SnapshotTime: snapshotTime}
	var expire, insert []*dimension.Record

	// Later rows for the same key supersede earlier ones within a snapshot.
	entries := make(map[string]snapshotEntry, len(snapshot))
	keysByFP := make(map[string]map[string]string, len(snapshot))
	order := make([]string, 0, len(snapshot))
	for _, row := range snapshot {
		fp := row.KeyFingerprint()
		if _, seen := entries[fp]; !seen {
			order = append(order, fp)
		}
		entries[fp] = snapshotEntry{attrs: row.Attributes, deleted: row.ChangeKind == extraction.ChangeKindDelete}
		keysByFP[fp] = row.BusinessKey
	}

	for _, fp := range order {
		e := entries[fp]
		current, err := s.repo.GetCurrent(ctx, table, fp)
		if err != nil {
			return nil, err
		}

		switch {
		case e.deleted:
			if current == nil {
				continue
			}
			expired, err := current.Expired(snapshotTime)
			if err != nil {
				return nil, err
			}
			expire = append(expire, expired)
			result.Expired++
			result.Deleted++

		case current == nil:
			rec, err := s.nextVersion(ctx, table, fp, keysByFP[fp], e.attrs, snapshotTime)
			if err != nil {
				return nil, err
			}
			insert = append(insert, rec)
			result.Inserted++

		case dimension.AttributesEqual(current.Attributes(), e.attrs, cfg.NullEquality):
			// Unchanged entities must not generate new versions, or history
			// explodes and as-of lookups degrade.
			result.Unchanged++

		default:
			expired, err := current.Expired(snapshotTime)
			if err != nil {
				return nil, err
			}
			expire = append(expire, expired)
			insert = append(insert, current.Succeeded(e.attrs, snapshotTime))
			result.Expired++
			result.Inserted++
		}
	}

	if cfg.DeleteDetection != dimension.DeleteDetectionDisabled {
		tombstones, deleted, err := s.detectDeletions(ctx, table, cfg, entries, snapshotTime)
		if err != nil {
			return nil, err
		}
		expire = append(expire, tombstones...)
		result.Expired += deleted
		result.Deleted += deleted
	}

	if len(expire) > 0 || len(insert) > 0 {
		if err := s.repo.ApplyTransition(ctx, table, expire, insert); err != nil {
			return nil, err
		}
	}

	s.metrics.AddVersionInserts(ctx, result.Inserted)
	s.metrics.AddVersionExpirations(ctx, result.Expired)
	s.metrics.AddVersionNoOps(ctx, result.Unchanged)
	s.logger.Info(ctx, "snapshot applied",
		"table", table,
		"inserted", result.Inserted,
		"expired", result.Expired,
		"unchanged", result.Unchanged,
		"deleted", result.Deleted)

	return result, nil
}

// snapshotEntry is the effective state of one business key within a
// snapshot after in-batch deduplication.
type snapshotEntry struct {
	attrs   map[string]any
	deleted bool
}

// nextVersion builds the record inserted for a key with no open version:
// version 1 for a never-seen key, or the successor of the final tombstoned
// version when the key reappears, so version numbers stay unique per key.
func (s *Service) nextVersion(
	ctx context.Context,
	table, fp string,
	businessKey map[string]string,
	attrs map[string]any,
	snapshotTime time.Time,
) (*dimension.Record, error) {
	history, err := s.repo.History(ctx, table, fp)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return dimension.NewInitialRecord(businessKey, attrs, snapshotTime)
	}
	return history[len(history)-1].Revived(attrs, snapshotTime)
}

// detectDeletions compares the snapshot against the current record set only;
// keys with an open version that the snapshot omits are tombstoned or, under
// the error policy, fail the apply.
func (s *Service) detectDeletions(
	ctx context.Context,
	table string,
	cfg TableConfig,
	present map[string]snapshotEntry,
	snapshotTime time.Time,
) ([]*dimension.Record, int, error) {
	currentKeys, err := s.repo.ListCurrentKeys(ctx, table)
	if err != nil {
		return nil, 0, err
	}

	var tombstones []*dimension.Record
	for _, fp := range currentKeys {
		if _, ok := present[fp]; ok {
			continue
		}
		if cfg.DeleteDetection == dimension.DeleteDetectionError {
			return nil, 0, dimension.NewUnexpectedDeletionError(fp)
		}
		current, err := s.repo.GetCurrent(ctx, table, fp)
		if err != nil {
			return nil, 0, err
		}
		if current == nil {
			continue
		}
		expired, err := current.Expired(snapshotTime)
		if err != nil {
			return nil, 0, err
		}
		tombstones = append(tombstones, expired)
	}
	return tombstones, len(tombstones), nil
}

// AsOf returns the version of an entity as it existed at the given instant,
// nil when the entity did not exist then.
func (s *Service) AsOf(ctx context.Context, table string, businessKey map[string]string, at time.Time) (*dimension.Record, error) {
	return s.repo.GetAsOf(ctx, table, extraction.FingerprintKey(businessKey), at.UTC())
}

// Current returns the open version of an entity, nil when none.
func (s *Service) Current(ctx context.Context, table string, businessKey map[string]string) (*dimension.Record, error) {
	return s.repo.GetCurrent(ctx, table, extraction.FingerprintKey(businessKey))
}

// History returns the full version timeline of an entity.
func (s *Service) History(ctx context.Context, table string, businessKey map[string]string) ([]*dimension.Record, error) {
	return s.repo.History(ctx, table, extraction.FingerprintKey(businessKey))
}

func (s *Service) tableLock(table string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.tables[table]
	if !ok {
		lock = &sync.Mutex{}
		s.tables[table] = lock
	}
	return lock
}
