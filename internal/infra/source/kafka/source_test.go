package kafka

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/lakehouse/internal/config"
	"github.com/ahrav/lakehouse/internal/domain/extraction"
	"github.com/ahrav/lakehouse/pkg/common/logger"
)

// fakeConsumer scripts a partition's messages so polls can be exercised
// without a broker.
type fakeConsumer struct {
	messages []*sarama.ConsumerMessage

	// requestedOffset records the offset Poll resolved from the watermark.
	requestedOffset int64
}

func (f *fakeConsumer) ConsumePartition(topic string, partition int32, offset int64) (sarama.PartitionConsumer, error) {
	f.requestedOffset = offset

	pc := &fakePartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage, len(f.messages)),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	for _, msg := range f.messages {
		if offset == sarama.OffsetOldest || msg.Offset >= offset {
			pc.messages <- msg
			pc.highWaterMark = msg.Offset + 1
		}
	}
	if n := len(f.messages); n > 0 {
		pc.highWaterMark = f.messages[n-1].Offset + 1
	}
	return pc, nil
}

func (f *fakeConsumer) Topics() ([]string, error)                  { return nil, nil }
func (f *fakeConsumer) Partitions(string) ([]int32, error)         { return []int32{0}, nil }
func (f *fakeConsumer) HighWaterMarks() map[string]map[int32]int64 { return nil }
func (f *fakeConsumer) Close() error                               { return nil }
func (f *fakeConsumer) Pause(map[string][]int32)                   {}
func (f *fakeConsumer) Resume(map[string][]int32)                  {}
func (f *fakeConsumer) PauseAll()                                  {}
func (f *fakeConsumer) ResumeAll()                                 {}

type fakePartitionConsumer struct {
	messages      chan *sarama.ConsumerMessage
	errors        chan *sarama.ConsumerError
	highWaterMark int64
}

func (pc *fakePartitionConsumer) AsyncClose()                              {}
func (pc *fakePartitionConsumer) Close() error                             { return nil }
func (pc *fakePartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return pc.messages }
func (pc *fakePartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return pc.errors }
func (pc *fakePartitionConsumer) HighWaterMarkOffset() int64               { return pc.highWaterMark }
func (pc *fakePartitionConsumer) Pause()                                   {}
func (pc *fakePartitionConsumer) Resume()                                  {}
func (pc *fakePartitionConsumer) IsPaused() bool                           { return false }

func message(offset int64, key string, value []byte) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Topic:  "orders",
		Offset: offset,
		Key:    []byte(key),
		Value:  value,
	}
}

func newTestSource(fake *fakeConsumer) *RowSource {
	src := NewRowSource("orders_stream", config.KafkaSource{
		Brokers:  []string{"localhost:9092"},
		Topic:    "orders",
		KeyField: "order_id",
	}, logger.Noop())
	src.newConsumer = func() (sarama.Consumer, error) { return fake, nil }
	return src
}

// TestPollMapsMessagesToRows verifies offsets become sequence positions,
// keys become business keys, and the key field is stripped from attributes.
func TestPollMapsMessagesToRows(t *testing.T) {
	fake := &fakeConsumer{messages: []*sarama.ConsumerMessage{
		message(0, "o-1", []byte(`{"order_id":"o-1","amount":5}`)),
		message(1, "o-2", []byte(`{"order_id":"o-2","amount":7}`)),
	}}
	src := newTestSource(fake)

	sess, err := src.Open(context.Background())
	require.NoError(t, err)
	defer func() { _ = sess.Close() }()

	rows, hasMore, err := sess.Poll(context.Background(), extraction.Position{}, 10)
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, rows, 2)

	assert.Equal(t, int64(sarama.OffsetOldest), fake.requestedOffset)
	assert.Equal(t, map[string]string{"order_id": "o-1"}, rows[0].BusinessKey)
	assert.Equal(t, extraction.NewSequencePosition(0), rows[0].Position)
	assert.Equal(t, map[string]any{"amount": float64(5)}, rows[0].Attributes)
	assert.Equal(t, extraction.ChangeKindUpdate, rows[0].ChangeKind)
}

// TestPollResumesAboveWatermark verifies a non-zero watermark translates to
// the next offset and earlier messages are never redelivered.
func TestPollResumesAboveWatermark(t *testing.T) {
	fake := &fakeConsumer{messages: []*sarama.ConsumerMessage{
		message(0, "o-1", []byte(`{"amount":5}`)),
		message(1, "o-2", []byte(`{"amount":7}`)),
		message(2, "o-3", []byte(`{"amount":9}`)),
	}}
	src := newTestSource(fake)

	sess, err := src.Open(context.Background())
	require.NoError(t, err)
	defer func() { _ = sess.Close() }()

	rows, _, err := sess.Poll(context.Background(), extraction.NewSequencePosition(0), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fake.requestedOffset)
	require.Len(t, rows, 2)
	assert.Equal(t, extraction.NewSequencePosition(1), rows[0].Position)
}

// TestPollReportsHasMore verifies the has-more flag reflects the partition
// high-water mark when the limit truncates the read.
func TestPollReportsHasMore(t *testing.T) {
	fake := &fakeConsumer{messages: []*sarama.ConsumerMessage{
		message(0, "o-1", []byte(`{"amount":5}`)),
		message(1, "o-2", []byte(`{"amount":7}`)),
		message(2, "o-3", []byte(`{"amount":9}`)),
	}}
	src := newTestSource(fake)

	sess, err := src.Open(context.Background())
	require.NoError(t, err)
	defer func() { _ = sess.Close() }()

	rows, hasMore, err := sess.Poll(context.Background(), extraction.Position{}, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, hasMore)
}

// TestPollTombstonesBecomeDeletes verifies a nil message value maps to a
// delete row with no attributes.
func TestPollTombstonesBecomeDeletes(t *testing.T) {
	fake := &fakeConsumer{messages: []*sarama.ConsumerMessage{
		message(0, "o-1", nil),
	}}
	src := newTestSource(fake)

	sess, err := src.Open(context.Background())
	require.NoError(t, err)
	defer func() { _ = sess.Close() }()

	rows, _, err := sess.Poll(context.Background(), extraction.Position{}, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, extraction.ChangeKindDelete, rows[0].ChangeKind)
	assert.Empty(t, rows[0].Attributes)
}

// TestPollRejectsMalformedValues verifies a non-JSON message fails the poll
// rather than producing a partial row.
func TestPollRejectsMalformedValues(t *testing.T) {
	fake := &fakeConsumer{messages: []*sarama.ConsumerMessage{
		message(0, "o-1", []byte("not json")),
	}}
	src := newTestSource(fake)

	sess, err := src.Open(context.Background())
	require.NoError(t, err)
	defer func() { _ = sess.Close() }()

	_, _, err = sess.Poll(context.Background(), extraction.Position{}, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

// TestPollRejectsForeignPositionKind verifies a watermark of the wrong kind
// fails fast.
func TestPollRejectsForeignPositionKind(t *testing.T) {
	src := newTestSource(&fakeConsumer{})

	sess, err := src.Open(context.Background())
	require.NoError(t, err)
	defer func() { _ = sess.Close() }()

	_, _, err = sess.Poll(context.Background(), extraction.NewKeyPosition("abc"), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires sequence positions")
}
