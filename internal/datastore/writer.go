package datastore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ccsml/internal/dataset"
	"ccsml/internal/infrastructure"
)

// ErrWriterClosed is returned by Submit after Close.
var ErrWriterClosed = errors.New("datastore writer closed")

// ErrQueueFull is returned when the writer cannot accept more work.
var ErrQueueFull = errors.New("datastore writer queue full")

type job struct {
	kind string
	run  func(ctx context.Context, sink Sink) error
}

// Writer runs datastore writes on a fixed pool of background workers.
type Writer struct {
	sink    Sink
	timeout time.Duration
	metrics *infrastructure.PipelineMetrics
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	jobs   chan job
	group  *errgroup.Group
	ctx    context.Context
}

// WriterOptions size the worker pool.
type WriterOptions struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// NewWriter starts the workers. They stop when ctx is cancelled or the
// writer is closed.
func NewWriter(ctx context.Context, sink Sink, opts WriterOptions, metrics *infrastructure.PipelineMetrics, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	g, gctx := errgroup.WithContext(ctx)
	w := &Writer{
		sink:    sink,
		timeout: opts.Timeout,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "datastore_writer")),
		jobs:    make(chan job, max(opts.QueueSize, 1)),
		group:   g,
		ctx:     gctx,
	}
	for i := 0; i < max(opts.Workers, 1); i++ {
		g.Go(w.work)
	}
	return w
}

func (w *Writer) work() error {
	for {
		select {
		case <-w.ctx.Done():
			return nil
		case j, ok := <-w.jobs:
			if !ok {
				return nil
			}
			w.execute(j)
		}
	}
}

func (w *Writer) execute(j job) {
	ctx, cancel := context.WithTimeout(w.ctx, w.timeout)
	defer cancel()
	start := time.Now()
	err := j.run(ctx, w.sink)
	w.metrics.RecordDatastoreWrite(ctx, j.kind, err)
	if err != nil {
		w.logger.ErrorContext(ctx, "background write failed",
			slog.String("kind", j.kind),
			slog.String("error", err.Error()))
		return
	}
	w.logger.InfoContext(ctx, "background write completed",
		slog.String("kind", j.kind),
		slog.Duration("duration", time.Since(start)))
}

func (w *Writer) submit(j job) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	select {
	case w.jobs <- j:
		return nil
	default:
		w.logger.Warn("background write dropped", slog.String("kind", j.kind))
		return ErrQueueFull
	}
}

// SubmitGoodData queues a replacement of table with data.
func (w *Writer) SubmitGoodData(table string, data *dataset.Table) error {
	return w.submit(job{kind: "good_data", run: func(ctx context.Context, s Sink) error {
		return s.ReplaceGoodData(ctx, table, data)
	}})
}

// SubmitPredictions queues rows for the prediction results table.
func (w *Writer) SubmitPredictions(table string, rows []PredictionRow) error {
	return w.submit(job{kind: "predictions", run: func(ctx context.Context, s Sink) error {
		return s.InsertPredictions(ctx, table, rows)
	}})
}

// Close stops accepting work and waits for queued writes to finish.
func (w *Writer) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()
	return w.group.Wait()
}
