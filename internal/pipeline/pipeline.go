package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/nightlight-qc/internal/domain"
	"github.com/couchcryptid/nightlight-qc/internal/observability"
)

// BatchExtractor reads up to batchSize scene requests from the source.
// Finite sources return io.EOF once drained.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Transformer converts a scene request into a serialized report.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawEvent) (domain.OutputEvent, error)
}

// BatchLoader writes multiple reports to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, events []domain.OutputEvent) error
}

// Option tunes a Pipeline.
type Option func(*Pipeline)

// WithWorkers bounds how many scenes of a batch are assessed concurrently.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// Pipeline orchestrates the extract-assess-load loop.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
	batchSize   int
	workers     int
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
		workers:     1,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// CheckReadiness returns nil if the pipeline has loaded at least one report,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not produced any reports yet")
	}
	return nil
}

// Ready reports whether at least one batch has been loaded.
func (p *Pipeline) Ready() bool { return p.ready.Load() }

// Run executes the batch loop until the context is cancelled or a finite
// source is drained. An extract error wrapping domain.ErrSourceFailed stops
// the loop and is returned.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize, "workers", p.workers)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		more, err := p.processBatch(ctx, &backoff, maxBackoff)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// processBatch runs one extract-assess-load cycle. Returns false if the
// pipeline should stop, with an error when the source cannot continue.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) (bool, error) {
	start := time.Now()

	rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if errors.Is(err, io.EOF) {
		p.logger.Info("source drained")
		return false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		if errors.Is(err, domain.ErrSourceFailed) {
			p.logger.Error("source failed", "error", err)
			return false, err
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff), nil
	}

	if len(rawBatch) == 0 {
		return ctx.Err() == nil, nil
	}

	p.metrics.ScenesConsumed.Add(float64(len(rawBatch)))
	p.metrics.BatchSize.Observe(float64(len(rawBatch)))
	*backoff = 200 * time.Millisecond

	loaded, ok := p.transformAndLoad(ctx, rawBatch, backoff, maxBackoff)
	if !ok {
		return false, nil
	}

	if loaded > 0 {
		p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
		p.ready.Store(true)
	}
	return true, nil
}

type result struct {
	out domain.OutputEvent
	err error
}

// assessBatch transforms every request of the batch with at most p.workers in
// flight. Results keep the batch order.
func (p *Pipeline) assessBatch(ctx context.Context, rawBatch []domain.RawEvent) []result {
	results := make([]result, len(rawBatch))
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i := range rawBatch {
		g.Go(func() error {
			out, err := p.transformer.Transform(ctx, rawBatch[i])
			results[i] = result{out: out, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// transformAndLoad assesses each request in the batch, loads the successes,
// and commits offsets. Returns the number of loaded reports and false if the
// pipeline should stop.
func (p *Pipeline) transformAndLoad(ctx context.Context, rawBatch []domain.RawEvent, backoff *time.Duration, maxBackoff time.Duration) (int, bool) {
	outBatch := make([]domain.OutputEvent, 0, len(rawBatch))
	successfulRaws := make([]domain.RawEvent, 0, len(rawBatch))

	for i, res := range p.assessBatch(ctx, rawBatch) {
		raw := rawBatch[i]
		if res.err != nil {
			class := observability.Classify(res.err)
			p.logger.Warn("assessment failed, skipping scene",
				"error", res.err,
				"class", class,
				"key", string(raw.Key),
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.SceneFailures.WithLabelValues(string(class)).Inc()
			p.commitOffset(ctx, raw)
			continue
		}
		p.observeReport(res.out.Report)
		outBatch = append(outBatch, res.out)
		successfulRaws = append(successfulRaws, raw)
	}

	if len(outBatch) == 0 {
		return 0, true
	}

	if err := p.loader.LoadBatch(ctx, outBatch); err != nil {
		p.logger.Error("load batch failed", "error", err, "batch_size", len(outBatch))
		return 0, p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	p.metrics.ReportsProduced.Add(float64(len(outBatch)))

	for _, raw := range successfulRaws {
		p.commitOffset(ctx, raw)
	}

	return len(outBatch), true
}

func (p *Pipeline) observeReport(r *domain.Report) {
	p.metrics.ScenesAssessed.Inc()
	if r == nil {
		return
	}
	if r.TotalPixels > 0 {
		p.metrics.UsableFraction.Observe(float64(r.UsablePixels) / float64(r.TotalPixels))
	}
	if r.Status == domain.StatusNoUsableData {
		p.metrics.NoUsableData.Inc()
	}
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
