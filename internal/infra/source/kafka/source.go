// Package kafka provides a row source that consumes a topic partition as a
// change stream. Partition offsets are monotonic, so they serve directly as
// sequence positions and the broker's retention becomes the change history.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/ahrav/lakehouse/internal/config"
	"github.com/ahrav/lakehouse/internal/domain/extraction"
	"github.com/ahrav/lakehouse/pkg/common/logger"
)

// pollIdleTimeout bounds how long a poll waits for the next message once the
// partition has gone quiet.
const pollIdleTimeout = 500 * time.Millisecond

var _ extraction.RowSource = (*RowSource)(nil)

// RowSource consumes one topic partition. Message keys and JSON values map
// to business keys and attributes; a nil value (tombstone) maps to a delete.
type RowSource struct {
	name   string
	cfg    config.KafkaSource
	logger *logger.Logger

	// newConsumer is swapped in tests.
	newConsumer func() (sarama.Consumer, error)
}

// NewRowSource creates a row source over the configured topic partition.
func NewRowSource(name string, cfg config.KafkaSource, log *logger.Logger) *RowSource {
	return &RowSource{
		name:   name,
		cfg:    cfg,
		logger: log.With("component", "kafka_row_source", "source", name, "topic", cfg.Topic),
		newConsumer: func() (sarama.Consumer, error) {
			saramaCfg := sarama.NewConfig()
			saramaCfg.Consumer.Return.Errors = true
			return sarama.NewConsumer(cfg.Brokers, saramaCfg)
		},
	}
}

// Open connects to the brokers and returns a polling session.
func (s *RowSource) Open(ctx context.Context) (extraction.RowSourceSession, error) {
	consumer, err := s.newConsumer()
	if err != nil {
		return nil, extraction.NewSourceUnavailableError(s.name, err)
	}
	return &session{src: s, consumer: consumer}, nil
}

type session struct {
	src      *RowSource
	consumer sarama.Consumer
}

// Poll consumes up to limit messages with offsets strictly greater than
// after. The has-more flag comes from comparing the last consumed offset
// against the partition high-water mark.
func (s *session) Poll(ctx context.Context, after extraction.Position, limit int) ([]extraction.Row, bool, error) {
	src := s.src

	offset := sarama.OffsetOldest
	if !after.IsZero() {
		if after.Kind() != extraction.PositionKindSequence {
			return nil, false, fmt.Errorf("kafka source %s requires sequence positions, got %s", src.name, after.Kind())
		}
		offset = after.Sequence() + 1
	}

	pc, err := s.consumer.ConsumePartition(src.cfg.Topic, src.cfg.Partition, offset)
	if err != nil {
		return nil, false, extraction.NewSourceUnavailableError(src.name, err)
	}
	defer func() { _ = pc.Close() }()

	var (
		out        []extraction.Row
		lastOffset = offset - 1
	)
	idle := time.NewTimer(pollIdleTimeout)
	defer idle.Stop()

	for limit <= 0 || len(out) < limit {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case err := <-pc.Errors():
			return nil, false, extraction.NewSourceUnavailableError(src.name, err)
		case msg := <-pc.Messages():
			row, err := src.toRow(msg)
			if err != nil {
				return nil, false, err
			}
			out = append(out, row)
			lastOffset = msg.Offset
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(pollIdleTimeout)
		case <-idle.C:
			return out, false, nil
		}
	}

	hasMore := pc.HighWaterMarkOffset() > lastOffset+1
	return out, hasMore, nil
}

// Close releases the broker connection.
func (s *session) Close() error { return s.consumer.Close() }

func (s *RowSource) toRow(msg *sarama.ConsumerMessage) (extraction.Row, error) {
	row := extraction.Row{
		BusinessKey: map[string]string{s.cfg.KeyField: string(msg.Key)},
		ChangeKind:  extraction.ChangeKindUpdate,
		Position:    extraction.NewSequencePosition(msg.Offset),
	}

	if len(msg.Value) == 0 {
		// Tombstone.
		row.ChangeKind = extraction.ChangeKindDelete
		return row, nil
	}

	attrs := make(map[string]any)
	if err := json.Unmarshal(msg.Value, &attrs); err != nil {
		return extraction.Row{}, fmt.Errorf("source %s: message at offset %d is not valid JSON: %w", s.name, msg.Offset, err)
	}
	delete(attrs, s.cfg.KeyField)
	row.Attributes = attrs

	return row, nil
}
