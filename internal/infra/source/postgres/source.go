// Package postgres provides a row source that polls a Postgres table's
// change stream through a totally ordered position column.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ahrav/lakehouse/internal/config"
	"github.com/ahrav/lakehouse/internal/domain/extraction"
	"github.com/ahrav/lakehouse/pkg/common"
	"github.com/ahrav/lakehouse/pkg/common/logger"
)

var _ extraction.RowSource = (*RowSource)(nil)

// RowSource polls a table ordered by its position column. The query is
// bounded by the caller-supplied limit plus one row, which is how the
// has-more flag is derived without a second query.
type RowSource struct {
	name string
	pool *pgxpool.Pool
	cfg  config.PostgresSource

	rateLimiter *common.RateLimiter
	logger      *logger.Logger
}

// NewRowSource creates a row source over the configured table. A zero rate
// limit disables throttling.
func NewRowSource(name string, pool *pgxpool.Pool, cfg config.PostgresSource, rateLimit float64, log *logger.Logger) *RowSource {
	var rl *common.RateLimiter
	if rateLimit > 0 {
		rl = common.NewRateLimiter(rateLimit, 1)
	}
	return &RowSource{
		name:        name,
		pool:        pool,
		cfg:         cfg,
		rateLimiter: rl,
		logger:      log.With("component", "postgres_row_source", "source", name),
	}
}

// Open validates connectivity and returns a polling session. Positions are
// monotonic within the session because each poll orders by the position
// column and resumes strictly above the prior position.
func (s *RowSource) Open(ctx context.Context) (extraction.RowSourceSession, error) {
	if err := s.pool.Ping(ctx); err != nil {
		return nil, extraction.NewSourceUnavailableError(s.name, err)
	}
	return &session{src: s}, nil
}

type session struct{ src *RowSource }

// Poll returns up to limit rows with positions strictly greater than after,
// in position order, plus a flag indicating whether more rows remain.
func (s *session) Poll(ctx context.Context, after extraction.Position, limit int) ([]extraction.Row, bool, error) {
	src := s.src
	if src.rateLimiter != nil {
		if err := src.rateLimiter.Wait(ctx); err != nil {
			return nil, false, extraction.NewSourceUnavailableError(src.name, err)
		}
	}

	query, args := src.buildQuery(after, limit)
	rows, err := src.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, false, extraction.NewSourceUnavailableError(src.name, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []extraction.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, false, extraction.NewSourceUnavailableError(src.name, err)
		}
		row, err := src.toRow(fields, values)
		if err != nil {
			return nil, false, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, false, extraction.NewSourceUnavailableError(src.name, err)
	}

	hasMore := false
	if limit > 0 && len(out) > limit {
		out = out[:limit]
		hasMore = true
	}
	return out, hasMore, nil
}

func (s *session) Close() error { return nil }

// buildQuery assembles the bounded poll query. Identifier names come from
// validated configuration, not caller input; only the position value is a
// bind parameter.
func (s *RowSource) buildQuery(after extraction.Position, limit int) (string, []any) {
	query := fmt.Sprintf("SELECT * FROM %s", s.cfg.Table)
	var args []any
	if !after.IsZero() {
		query += fmt.Sprintf(" WHERE %s > $1", s.cfg.PositionColumn)
		args = append(args, positionArg(after))
	}
	query += fmt.Sprintf(" ORDER BY %s", s.cfg.PositionColumn)
	if limit > 0 {
		// One extra row signals more data pending.
		query += fmt.Sprintf(" LIMIT %d", limit+1)
	}
	return query, args
}

func positionArg(p extraction.Position) any {
	switch p.Kind() {
	case extraction.PositionKindSequence:
		return p.Sequence()
	case extraction.PositionKindTimestamp:
		return p.Timestamp()
	default:
		return p.Key()
	}
}

func (s *RowSource) toRow(fields []pgconn.FieldDescription, values []any) (extraction.Row, error) {
	keyCols := make(map[string]struct{}, len(s.cfg.KeyColumns))
	for _, col := range s.cfg.KeyColumns {
		keyCols[col] = struct{}{}
	}

	row := extraction.Row{
		BusinessKey: make(map[string]string, len(s.cfg.KeyColumns)),
		Attributes:  make(map[string]any),
		ChangeKind:  extraction.ChangeKindUpdate,
	}

	for i, field := range fields {
		name := string(field.Name)
		value := values[i]

		if name == s.cfg.PositionColumn {
			pos, err := s.toPosition(value)
			if err != nil {
				return extraction.Row{}, err
			}
			row.Position = pos
		}

		if _, isKey := keyCols[name]; isKey {
			row.BusinessKey[name] = fmt.Sprintf("%v", value)
			continue
		}
		if name == s.cfg.SoftDeleteColumn {
			if deleted, ok := value.(bool); ok && deleted {
				row.ChangeKind = extraction.ChangeKindDelete
			}
			continue
		}
		row.Attributes[name] = value
	}

	if err := row.Validate(); err != nil {
		return extraction.Row{}, fmt.Errorf("source %s yielded an invalid row: %w", s.name, err)
	}
	return row, nil
}

func (s *RowSource) toPosition(value any) (extraction.Position, error) {
	switch extraction.PositionKind(s.cfg.PositionKind) {
	case extraction.PositionKindSequence:
		switch n := value.(type) {
		case int64:
			return extraction.NewSequencePosition(n), nil
		case int32:
			return extraction.NewSequencePosition(int64(n)), nil
		case string:
			seq, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return extraction.Position{}, fmt.Errorf("non-numeric sequence position %q in column %s", n, s.cfg.PositionColumn)
			}
			return extraction.NewSequencePosition(seq), nil
		}
	case extraction.PositionKindTimestamp:
		if ts, ok := value.(time.Time); ok {
			return extraction.NewTimestampPosition(ts), nil
		}
	case extraction.PositionKindKey:
		return extraction.NewKeyPosition(fmt.Sprintf("%v", value)), nil
	}
	return extraction.Position{}, fmt.Errorf("column %s value %v is not usable as a %s position",
		s.cfg.PositionColumn, value, s.cfg.PositionKind)
}
