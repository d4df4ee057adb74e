package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "ccsml/internal/errors"
	"ccsml/internal/infrastructure"
)

// Deps are the collaborators shared by every run.
type Deps struct {
	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics *infrastructure.PipelineMetrics
	Hub     ProgressHub
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer(infrastructure.MeterName)
	}
	return d
}

// Runner executes stages one by one. The first failing stage stops the run
// and every later stage is marked skipped.
type Runner[C any] struct {
	mode   string
	stages []Stage[C]
	deps   Deps
}

// NewRunner creates a runner for one topology.
func NewRunner[C any](mode string, stages []Stage[C], deps Deps) *Runner[C] {
	return &Runner[C]{mode: mode, stages: stages, deps: deps.withDefaults()}
}

// Run executes every stage against c.
func (r *Runner[C]) Run(ctx context.Context, runID string, logger *slog.Logger, c C) ([]*StageState, error) {
	states := make([]*StageState, len(r.stages))
	for i, s := range r.stages {
		states[i] = NewStageState(s.ID(), s.Name())
	}

	ctx, span := r.deps.Tracer.Start(ctx, "pipeline."+r.mode,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.mode", r.mode),
			attribute.Int("run.stages", len(r.stages)),
		))
	defer span.End()

	logger.InfoContext(ctx, "sequential_execution_start", slog.Int("stage_count", len(r.stages)))
	for i, s := range r.stages {
		if err := ctx.Err(); err != nil {
			logger.WarnContext(ctx, "run_cancelled", slog.String("stage", s.ID()))
			skipFrom(states, i)
			span.SetStatus(codes.Error, "cancelled")
			return states, fmt.Errorf("run cancelled before %s: %w", s.ID(), err)
		}
		if err := r.runStage(ctx, runID, logger, i, s, states[i], c); err != nil {
			skipFrom(states, i+1)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return states, err
		}
	}
	logger.InfoContext(ctx, "all_stages_completed", slog.Int("stage_count", len(r.stages)))
	span.SetStatus(codes.Ok, "")
	return states, nil
}

func (r *Runner[C]) runStage(ctx context.Context, runID string, logger *slog.Logger, i int, s Stage[C], state *StageState, c C) error {
	ctx, span := r.deps.Tracer.Start(ctx, "pipeline.stage."+s.ID(),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("stage.id", s.ID()),
			attribute.Int("stage.index", i),
		))
	defer span.End()

	logger = logger.With(slog.String("stage", s.ID()))
	state.Start()
	r.broadcast(EventStageStarted, runID, i, s, string(StageStatusActive), nil)
	logger.InfoContext(ctx, "stage_started",
		slog.Int("stage_number", i+1),
		slog.Int("total_stages", len(r.stages)))

	err := s.Run(ctx, c)
	duration := state.Duration()
	r.deps.Metrics.RecordStage(ctx, s.ID(), duration, err)
	if err != nil {
		err = tagStage(err, s.ID())
		state.Fail(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.broadcast(EventStageFailed, runID, i, s, string(StageStatusFailed), err)
		logger.ErrorContext(ctx, "stage_failed",
			slog.String("error", err.Error()),
			slog.Duration("duration", duration))
		return err
	}

	state.Complete()
	r.broadcast(EventStageCompleted, runID, i, s, string(StageStatusCompleted), nil)
	logger.InfoContext(ctx, "stage_completed", slog.Duration("duration", duration))
	return nil
}

func (r *Runner[C]) broadcast(event, runID string, i int, s Stage[C], status string, err error) {
	if r.deps.Hub == nil {
		return
	}
	meta := EventMetadata{
		RunID:     runID,
		Mode:      r.mode,
		StageName: s.Name(),
		Index:     i,
		Total:     len(r.stages),
		Timestamp: time.Now(),
	}
	if err != nil {
		meta.Error = err.Error()
	}
	r.deps.Hub.BroadcastUpdate(event, s.ID(), status, meta)
}

func skipFrom(states []*StageState, from int) {
	for _, st := range states[from:] {
		st.Skip()
	}
}

// tagStage records the failing stage on a pipeline error that has none.
func tagStage(err error, stage string) error {
	var pe *apperrors.PipelineError
	if errors.As(err, &pe) && pe.Stage == "" {
		pe.WithStage(stage)
	}
	return err
}
