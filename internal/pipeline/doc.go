// Package pipeline wires the analysis, feature, cluster and model packages
// into the training and prediction topologies.
//
// Each topology is an ordered list of stages over its own context type.
// TrainingContext carries the artifact batch being written and
// PredictionContext carries a reader pinned to one committed generation, so
// a stage only ever sees what is valid in its mode. The Runner executes the
// stages in order, opens one span per stage, records stage metrics and
// broadcasts progress events.
package pipeline
