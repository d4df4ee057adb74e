package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "ccsml/internal/errors"
	"ccsml/internal/shared/testutil"
)

type recordedEvent struct {
	event, stage, status string
}

type fakeHub struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (h *fakeHub) BroadcastUpdate(eventType, stage, status string, _ interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, recordedEvent{eventType, stage, status})
}

type counter struct{ calls []string }

func TestRunnerStopsAtFirstFailure(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	hub := &fakeHub{}
	stages := []Stage[*counter]{
		NewStage("first", "First", func(_ context.Context, c *counter) error {
			c.calls = append(c.calls, "first")
			return nil
		}),
		NewStage("second", "Second", func(_ context.Context, c *counter) error {
			c.calls = append(c.calls, "second")
			return apperrors.NewValidationError("bad input")
		}),
		NewStage("third", "Third", func(_ context.Context, c *counter) error {
			c.calls = append(c.calls, "third")
			return nil
		}),
	}

	c := &counter{}
	states, err := NewRunner(ModeTraining, stages, Deps{Logger: logger, Hub: hub}).
		Run(context.Background(), "run-1", logger, c)
	require.Error(t, err)

	var pe *apperrors.PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "second", pe.Stage)
	assert.Equal(t, []string{"first", "second"}, c.calls)
	assert.Equal(t, StageStatusCompleted, states[0].GetStatus())
	assert.Equal(t, StageStatusFailed, states[1].GetStatus())
	assert.Equal(t, StageStatusSkipped, states[2].GetStatus())

	assert.Equal(t, []recordedEvent{
		{EventStageStarted, "first", "active"},
		{EventStageCompleted, "first", "completed"},
		{EventStageStarted, "second", "active"},
		{EventStageFailed, "second", "failed"},
	}, hub.events)
	assert.True(t, logs.ContainsMessage("stage_failed"))
	assert.True(t, logs.ContainsAttr("stage", "second"))
}

func TestRunnerHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stages := []Stage[*counter]{
		NewStage("only", "Only", func(_ context.Context, c *counter) error {
			c.calls = append(c.calls, "only")
			return nil
		}),
	}
	c := &counter{}
	states, err := NewRunner(ModePrediction, stages, Deps{}).Run(ctx, "run-2", testLogger(t), c)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, c.calls)
	assert.Equal(t, StageStatusSkipped, states[0].GetStatus())
}
