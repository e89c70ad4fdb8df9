package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/nightlight-qc/internal/domain"
	"github.com/couchcryptid/nightlight-qc/internal/observability"
	"github.com/couchcryptid/nightlight-qc/internal/pipeline"
	"github.com/couchcryptid/nightlight-qc/internal/raster"
)

// --- mocks ---

// mockExtractor hands out its events one batch at a time. When finite is set
// it reports io.EOF once drained; otherwise it blocks until cancelled.
type mockExtractor struct {
	mu     sync.Mutex
	events []domain.RawEvent
	finite bool
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error) {
	m.mu.Lock()
	if len(m.events) > 0 {
		n := min(batchSize, len(m.events))
		batch := m.events[:n]
		m.events = m.events[n:]
		m.mu.Unlock()
		return batch, nil
	}
	m.mu.Unlock()
	if m.finite {
		return nil, io.EOF
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

// failingExtractor returns err on every call and counts the calls.
type failingExtractor struct {
	err   error
	calls atomic.Int32
}

func (f *failingExtractor) ExtractBatch(context.Context, int) ([]domain.RawEvent, error) {
	f.calls.Add(1)
	return nil, f.err
}

type mockTransformer struct {
	fail map[string]error
}

func (m *mockTransformer) Transform(_ context.Context, raw domain.RawEvent) (domain.OutputEvent, error) {
	if err := m.fail[string(raw.Key)]; err != nil {
		return domain.OutputEvent{}, err
	}
	return domain.OutputEvent{Key: raw.Key, Value: raw.Value}, nil
}

type mockLoader struct {
	mu     sync.Mutex
	loaded []domain.OutputEvent
	calls  int
	err    error
}

func (m *mockLoader) LoadBatch(_ context.Context, events []domain.OutputEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.loaded = append(m.loaded, events...)
	return nil
}

func (m *mockLoader) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.loaded))
	for i, e := range m.loaded {
		out[i] = string(e.Key)
	}
	return out
}

func newTestMetrics() *observability.Metrics {
	// Use unregistered metrics to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rawEvents(keys ...string) []domain.RawEvent {
	out := make([]domain.RawEvent, len(keys))
	for i, k := range keys {
		out[i] = domain.RawEvent{Key: []byte(k), Value: []byte(fmt.Sprintf(`{"scene":%q}`, k))}
	}
	return out
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	ext := &mockExtractor{events: rawEvents("scene-1")}
	ldr := &mockLoader{}

	p := pipeline.New(ext, &mockTransformer{}, ldr, discardLogger(), newTestMetrics(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.Equal(t, []string{"scene-1"}, ldr.keys())
	assert.True(t, p.Ready())
	assert.NoError(t, p.CheckReadiness(ctx))
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	ldr := &mockLoader{}
	p := pipeline.New(&mockExtractor{}, &mockTransformer{}, ldr, discardLogger(), newTestMetrics(), 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, ldr.loaded)
	assert.Error(t, p.CheckReadiness(ctx))
}

func TestPipeline_Run_StopsWhenSourceDrained(t *testing.T) {
	ext := &mockExtractor{events: rawEvents("a", "b", "c", "d", "e"), finite: true}
	ldr := &mockLoader{}
	p := pipeline.New(ext, &mockTransformer{}, ldr, discardLogger(), newTestMetrics(), 2)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop after the source drained")
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ldr.keys())
	assert.Equal(t, 3, ldr.calls)
}

func TestPipeline_Run_ReturnsSourceFailure(t *testing.T) {
	ext := &failingExtractor{err: fmt.Errorf("%w: scan /data: no such file or directory", domain.ErrSourceFailed)}
	ldr := &mockLoader{}
	p := pipeline.New(ext, &mockTransformer{}, ldr, discardLogger(), newTestMetrics(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := p.Run(ctx)
	require.ErrorIs(t, err, domain.ErrSourceFailed)
	assert.NoError(t, ctx.Err())
	assert.Equal(t, int32(1), ext.calls.Load())
	assert.Empty(t, ldr.loaded)
}

func TestPipeline_Run_RetriesTransientExtractErrors(t *testing.T) {
	ext := &failingExtractor{err: errors.New("broker unavailable")}
	p := pipeline.New(ext, &mockTransformer{}, &mockLoader{}, discardLogger(), newTestMetrics(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.Greater(t, ext.calls.Load(), int32(1))
}

func TestPipeline_Run_SkipsFailedScenes(t *testing.T) {
	var committed atomic.Int32
	events := rawEvents("good-1", "unreadable", "good-2")
	for i := range events {
		events[i].Commit = func(context.Context) error {
			committed.Add(1)
			return nil
		}
	}
	ext := &mockExtractor{events: events, finite: true}
	tfm := &mockTransformer{fail: map[string]error{
		"unreadable": fmt.Errorf("read: %w", raster.ErrSceneUnreadable),
	}}
	ldr := &mockLoader{}

	p := pipeline.New(ext, tfm, ldr, discardLogger(), newTestMetrics(), 10, pipeline.WithWorkers(3))
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, []string{"good-1", "good-2"}, ldr.keys(), "order is kept and the bad scene skipped")
	assert.Equal(t, int32(3), committed.Load(), "failed scenes are committed too")
}

func TestPipeline_Run_AllScenesFail(t *testing.T) {
	ext := &mockExtractor{events: rawEvents("bad"), finite: true}
	tfm := &mockTransformer{fail: map[string]error{"bad": domain.ErrSchemaMismatch}}
	ldr := &mockLoader{}

	p := pipeline.New(ext, tfm, ldr, discardLogger(), newTestMetrics(), 10)
	require.NoError(t, p.Run(context.Background()))

	assert.Zero(t, ldr.calls)
	assert.False(t, p.Ready())
}

func TestPipeline_Run_CommitsAfterLoad(t *testing.T) {
	var commitCalled atomic.Bool
	events := rawEvents("scene-5")
	events[0].Topic = "viirs-scene-requests"
	events[0].Commit = func(_ context.Context) error {
		commitCalled.Store(true)
		return nil
	}

	p := pipeline.New(&mockExtractor{events: events, finite: true}, &mockTransformer{}, &mockLoader{}, discardLogger(), newTestMetrics(), 10)
	require.NoError(t, p.Run(context.Background()))
	assert.True(t, commitCalled.Load())
}

func TestPipeline_Run_LoadFailureDoesNotCommit(t *testing.T) {
	var commitCalled atomic.Bool
	events := rawEvents("scene-6")
	events[0].Commit = func(_ context.Context) error {
		commitCalled.Store(true)
		return nil
	}
	ldr := &mockLoader{err: errors.New("broker unavailable")}

	p := pipeline.New(&mockExtractor{events: events}, &mockTransformer{}, ldr, discardLogger(), newTestMetrics(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))

	assert.False(t, commitCalled.Load())
	assert.False(t, p.Ready())
}

func TestFanout(t *testing.T) {
	a := &mockLoader{}
	b := &mockLoader{err: errors.New("postgres down")}
	c := &mockLoader{}

	err := pipeline.Fanout{a, b, c}.LoadBatch(context.Background(), []domain.OutputEvent{{Key: []byte("k")}})
	require.EqualError(t, err, "postgres down")
	assert.Equal(t, []string{"k"}, a.keys())
	assert.Equal(t, []string{"k"}, c.keys(), "later loaders still run")
}
