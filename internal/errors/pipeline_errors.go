package errors

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrTypeValidation          ErrorType = "VALIDATION"
	ErrTypeArtifactNotFound    ErrorType = "ARTIFACT_NOT_FOUND"
	ErrTypeTransformUndefined  ErrorType = "TRANSFORM_UNDEFINED"
	ErrTypeClusterRouting      ErrorType = "CLUSTER_ROUTING"
	ErrTypeAllCandidatesFailed ErrorType = "ALL_CANDIDATES_FAILED"
	ErrTypeTrainingInProgress  ErrorType = "TRAINING_IN_PROGRESS"
	ErrTypeStorage             ErrorType = "STORAGE"
	ErrTypeConfig              ErrorType = "CONFIG"
)

// PipelineError is the error returned by pipeline stages and the artifact store.
type PipelineError struct {
	Type    ErrorType
	Stage   string
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.Type))
	b.WriteString("]")
	if e.Stage != "" {
		b.WriteString(" ")
		b.WriteString(e.Stage)
		b.WriteString(":")
	}
	if e.Message != "" {
		b.WriteString(" ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap allows errors.Is and errors.As to see the cause
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is matches any PipelineError of the same type.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// WithContext adds context to the error
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithStage records the stage that produced the error.
func (e *PipelineError) WithStage(stage string) *PipelineError {
	e.Stage = stage
	return e
}

// Sentinels for errors.Is. Only Type is compared.
var (
	ErrValidation          = &PipelineError{Type: ErrTypeValidation}
	ErrArtifactNotFound    = &PipelineError{Type: ErrTypeArtifactNotFound}
	ErrTransformUndefined  = &PipelineError{Type: ErrTypeTransformUndefined}
	ErrClusterRouting      = &PipelineError{Type: ErrTypeClusterRouting}
	ErrAllCandidatesFailed = &PipelineError{Type: ErrTypeAllCandidatesFailed}
	ErrTrainingInProgress  = &PipelineError{Type: ErrTypeTrainingInProgress}
	ErrStorage             = &PipelineError{Type: ErrTypeStorage}
	ErrConfig              = &PipelineError{Type: ErrTypeConfig}
)

// NewPipelineError creates a new pipeline error
func NewPipelineError(errType ErrorType, message string, cause error) *PipelineError {
	return &PipelineError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewValidationError reports input that does not have the shape a stage needs.
func NewValidationError(message string) *PipelineError {
	return NewPipelineError(ErrTypeValidation, message, nil)
}

// NewArtifactNotFoundError reports a missing artifact key or an empty store.
func NewArtifactNotFoundError(key string) *PipelineError {
	return NewPipelineError(ErrTypeArtifactNotFound, fmt.Sprintf("artifact %q not found", key), nil).
		WithContext("key", key)
}

// NewTransformUndefinedError reports degenerate input to a statistical transform.
func NewTransformUndefinedError(column, reason string) *PipelineError {
	return NewPipelineError(ErrTypeTransformUndefined, fmt.Sprintf("transform undefined for %q: %s", column, reason), nil).
		WithContext("column", column)
}

// NewClusterRoutingError reports a cluster id without a model artifact.
func NewClusterRoutingError(clusterID int) *PipelineError {
	return NewPipelineError(ErrTypeClusterRouting, fmt.Sprintf("no model for cluster %d", clusterID), nil).
		WithContext("cluster_id", clusterID)
}

// NewAllCandidatesFailedError reports a cluster where no candidate regressor could be trained.
func NewAllCandidatesFailedError(clusterID int, reasons map[string]string) *PipelineError {
	parts := make([]string, 0, len(reasons))
	for _, name := range slices.Sorted(maps.Keys(reasons)) {
		parts = append(parts, name+": "+reasons[name])
	}
	return NewPipelineError(ErrTypeAllCandidatesFailed,
		fmt.Sprintf("all candidates failed for cluster %d (%s)", clusterID, strings.Join(parts, "; ")), nil).
		WithContext("cluster_id", clusterID).
		WithContext("reasons", reasons)
}

// NewTrainingInProgressError is returned when a second training run is requested.
func NewTrainingInProgressError(runID string) *PipelineError {
	return NewPipelineError(ErrTypeTrainingInProgress, "a training run is already in progress", nil).
		WithContext("run_id", runID)
}

// NewStorageError creates a storage-related error
func NewStorageError(message string, cause error) *PipelineError {
	return NewPipelineError(ErrTypeStorage, message, cause)
}

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) *PipelineError {
	return NewPipelineError(ErrTypeConfig, message, cause)
}
