package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/nightlight-qc/internal/domain"
)

func TestMapMessageToRawEvent(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("key-1"),
		Value:     []byte(`{"scene":"s3://viirs/NJ_2021-03-01.tif"}`),
		Topic:     "viirs-scene-requests",
		Partition: 2,
		Offset:    42,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "variant", Value: []byte("four_band")},
		},
	}

	raw := mapMessageToRawEvent(msg)

	assert.Equal(t, []byte("key-1"), raw.Key)
	assert.JSONEq(t, `{"scene":"s3://viirs/NJ_2021-03-01.tif"}`, string(raw.Value))
	assert.Equal(t, "viirs-scene-requests", raw.Topic)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(42), raw.Offset)
	assert.Equal(t, now, raw.Timestamp)
	assert.Equal(t, "four_band", raw.Headers["variant"])
	assert.Nil(t, raw.Commit)

	req, err := domain.ParseSceneRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, "four_band", req.Variant, "variant header fills the request")
}

func TestSerializeToMessage(t *testing.T) {
	now := time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)
	out, err := domain.SerializeReport(domain.Report{
		ID:          "3f1c",
		Scene:       "NJ_2021-03-01.tif",
		Variant:     domain.SevenBand,
		Status:      domain.StatusNoUsableData,
		ProcessedAt: now,
	})
	require.NoError(t, err)

	msg := serializeToMessage(out)

	assert.Equal(t, []byte("3f1c"), msg.Key)
	assert.Contains(t, string(msg.Value), `"status":"no_usable_data"`)
	require.Len(t, msg.Headers, 3)
	assert.Equal(t, "processed_at", msg.Headers[0].Key)
	assert.Equal(t, []byte(now.Format(time.RFC3339)), msg.Headers[0].Value)
	assert.Equal(t, "status", msg.Headers[1].Key)
	assert.Equal(t, []byte("no_usable_data"), msg.Headers[1].Value)
	assert.Equal(t, "variant", msg.Headers[2].Key)
	assert.Equal(t, []byte("seven_band"), msg.Headers[2].Value)
}

// fakeFetcher hands out msgs in order, then fails with err.
type fakeFetcher struct {
	msgs      []kafkago.Message
	err       error
	committed []kafkago.Message
}

func (f *fakeFetcher) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	if err := ctx.Err(); err != nil {
		return kafkago.Message{}, err
	}
	if len(f.msgs) == 0 {
		return kafkago.Message{}, f.err
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeFetcher) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeFetcher) Close() error { return nil }

func testReader(f *fakeFetcher) *Reader {
	return &Reader{reader: f, flushInterval: time.Second, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestExtractBatchKeepsFetchedMessagesOnError(t *testing.T) {
	f := &fakeFetcher{
		msgs: []kafkago.Message{{Key: []byte("a"), Offset: 7}, {Key: []byte("b"), Offset: 8}},
		err:  errors.New("connection reset by peer"),
	}
	r := testReader(f)

	batch, err := r.ExtractBatch(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, []byte("a"), batch[0].Key)
	assert.Equal(t, []byte("b"), batch[1].Key)

	require.NoError(t, batch[1].Commit(context.Background()))
	require.Len(t, f.committed, 1)
	assert.Equal(t, int64(8), f.committed[0].Offset)
}

func TestExtractBatchFlushesOnDeadline(t *testing.T) {
	f := &fakeFetcher{msgs: []kafkago.Message{{Key: []byte("a")}}, err: context.DeadlineExceeded}

	batch, err := testReader(f).ExtractBatch(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, batch, 1)
}

func TestExtractBatchFirstFetchError(t *testing.T) {
	f := &fakeFetcher{err: errors.New("connection refused")}

	batch, err := testReader(f).ExtractBatch(context.Background(), 5)
	assert.Error(t, err)
	assert.Empty(t, batch)
}
