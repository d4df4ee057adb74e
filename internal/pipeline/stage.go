package pipeline

import (
	"context"
	"sync"
	"time"
)

// Stage is one step of a training or prediction run over context C.
type Stage[C any] interface {
	ID() string
	Name() string
	Run(ctx context.Context, c C) error
}

type stageFunc[C any] struct {
	id, name string
	fn       func(context.Context, C) error
}

func (s stageFunc[C]) ID() string { return s.id }
func (s stageFunc[C]) Name() string { return s.name }
func (s stageFunc[C]) Run(ctx context.Context, c C) error { return s.fn(ctx, c) }

// NewStage adapts a function into a Stage.
func NewStage[C any](id, name string, fn func(context.Context, C) error) Stage[C] {
	return stageFunc[C]{id: id, name: name, fn: fn}
}

// StageStatus represents the current status of a stage
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusActive    StageStatus = "active"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
	StageStatusSkipped   StageStatus = "skipped"
)

// StageState is the runtime record of one stage.
type StageState struct {
	mu        sync.RWMutex
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Status    StageStatus `json:"status"`
	StartTime *time.Time  `json:"start_time,omitempty"`
	EndTime   *time.Time  `json:"end_time,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// NewStageState creates a pending stage record.
func NewStageState(id, name string) *StageState {
	return &StageState{ID: id, Name: name, Status: StageStatusPending}
}

// Start marks the stage as active and sets the start time
func (s *StageState) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.StartTime = &now
	s.Status = StageStatusActive
}

// Complete marks the stage as completed and sets the end time
func (s *StageState) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.EndTime = &now
	s.Status = StageStatusCompleted
}

// Fail marks the stage as failed with the given error
func (s *StageState) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.EndTime = &now
	s.Status = StageStatusFailed
	s.Error = err.Error()
}

// Skip marks a stage that never ran.
func (s *StageState) Skip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = StageStatusSkipped
}

// GetStatus returns the current status.
func (s *StageState) GetStatus() StageStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status
}

// Duration returns the duration of the stage execution
func (s *StageState) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.StartTime == nil {
		return 0
	}
	if s.EndTime != nil {
		return s.EndTime.Sub(*s.StartTime)
	}
	return time.Since(*s.StartTime)
}
