package http

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"ccsml/internal/dataset"
	apperrors "ccsml/internal/errors"
	"ccsml/internal/ingest"
	"ccsml/internal/middleware"
	"ccsml/internal/services"
)

// IngestRequest selects which upload directory to process.
type IngestRequest struct {
	Mode string `json:"mode" validate:"required,oneof=training prediction"`
}

// TrainRequest mirrors services.TrainRequest on the wire.
type TrainRequest struct {
	FromDB bool `json:"from_db"`
}

// PredictRow is one inline input row. A null value is treated as missing.
type PredictRow struct {
	ID     string              `json:"id" validate:"required"`
	Values map[string]*float64 `json:"values" validate:"required,min=1"`
}

// PredictRequest carries inline rows. Without rows the validated prediction
// file is used.
type PredictRequest struct {
	Rows []PredictRow `json:"rows" validate:"omitempty,dive"`
}

// PipelineHandler serves ingest, training, prediction and artifact queries.
type PipelineHandler struct {
	service   *services.PipelineService
	validator *middleware.RequestValidator
	errors    *apperrors.ErrorHandler
	logger    *slog.Logger
}

// NewPipelineHandler creates a new pipeline handler
func NewPipelineHandler(service *services.PipelineService, validator *middleware.RequestValidator, errors *apperrors.ErrorHandler, logger *slog.Logger) *PipelineHandler {
	return &PipelineHandler{
		service:   service,
		validator: validator,
		errors:    errors,
		logger:    logger.With(slog.String("handler", "pipeline")),
	}
}

// Routes sets up the pipeline routes
func (h *PipelineHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/ingest", h.Ingest)
	r.Post("/train", h.Train)
	r.Post("/predict", h.Predict)
	r.Get("/artifacts", h.Artifacts)
	return r
}

// Ingest handles POST /api/v1/ingest
func (h *PipelineHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := h.validator.Decode(w, r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	mode, err := ingest.ParseMode(req.Mode)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	report, err := h.service.Ingest(r.Context(), mode)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, report)
}

// Train handles POST /api/v1/train
func (h *PipelineHandler) Train(w http.ResponseWriter, r *http.Request) {
	var req TrainRequest
	if err := h.validator.Decode(w, r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	result, err := h.service.Train(r.Context(), services.TrainRequest{FromDB: req.FromDB})
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "training finished",
		slog.String("run_id", result.RunID),
		slog.String("generation", result.Generation))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, result)
}

// Predict handles POST /api/v1/predict
func (h *PipelineHandler) Predict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if err := h.validator.Decode(w, r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	var (
		resp *services.PredictResponse
		err  error
	)
	if len(req.Rows) == 0 {
		resp, err = h.service.Predict(r.Context())
	} else {
		var data *dataset.Table
		if data, err = rowsToTable(req.Rows); err == nil {
			resp, err = h.service.PredictTable(r.Context(), data)
		}
	}
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// Artifacts handles GET /api/v1/artifacts
func (h *PipelineHandler) Artifacts(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Artifacts(r.Context())
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, summary)
}

// rowsToTable builds a table from inline rows. Every row must carry the same
// columns as the first one.
func rowsToTable(rows []PredictRow) (*dataset.Table, error) {
	names := make([]string, 0, len(rows[0].Values))
	for name := range rows[0].Values {
		names = append(names, name)
	}
	slices.Sort(names)

	cols := make([][]float64, len(names))
	for j := range cols {
		cols[j] = make([]float64, len(rows))
	}
	ids := make([]string, len(rows))
	for i, row := range rows {
		if len(row.Values) != len(names) {
			return nil, apperrors.NewValidationError(fmt.Sprintf("row %d has %d columns, expected %d", i+1, len(row.Values), len(names)))
		}
		ids[i] = row.ID
		for j, name := range names {
			v, ok := row.Values[name]
			if !ok {
				return nil, apperrors.NewValidationError(fmt.Sprintf("row %d is missing column %q", i+1, name))
			}
			if v == nil {
				cols[j][i] = math.NaN()
				continue
			}
			cols[j][i] = *v
		}
	}
	return dataset.NewTable(names, cols, ids)
}
