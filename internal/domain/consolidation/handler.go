package consolidation

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/intake/intake/pkg/pagination"
)

// maxBatchSize caps one batch submission; larger imports are split by the
// caller.
const maxBatchSize = 1000

type Handler struct {
	svc          *Service
	batchWorkers int
}

func NewHandler(svc *Service, batchWorkers int) *Handler {
	if batchWorkers < 1 {
		batchWorkers = 1
	}
	return &Handler{svc: svc, batchWorkers: batchWorkers}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/candidates", h.SubmitCandidate)
	api.POST("/candidates/batch", h.SubmitBatch)
	api.GET("/patients/lookup", h.LookupByAccessID)
	api.GET("/patients/:internal_id", h.GetPatient)
	api.GET("/patients/:internal_id/events", h.ListEvents)
	api.POST("/patients/:internal_id/access-id/reset", h.ResetAccessID)
}

// SubmitCandidate consolidates a single candidate record.
func (h *Handler) SubmitCandidate(c echo.Context) error {
	var cand CandidateRecord
	if err := c.Bind(&cand); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.ResolveAndMerge(c.Request().Context(), cand)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

type batchRequest struct {
	Candidates []CandidateRecord `json:"candidates"`
}

// SubmitBatch consolidates up to maxBatchSize candidates with row-level
// failure reporting.
func (h *Handler) SubmitBatch(c echo.Context) error {
	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Candidates) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "candidates is required")
	}
	if len(req.Candidates) > maxBatchSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "batch exceeds maximum size")
	}
	result := h.svc.ProcessBatch(c.Request().Context(), req.Candidates, h.batchWorkers)
	status := http.StatusOK
	if result.Failed > 0 {
		status = http.StatusMultiStatus
	}
	return c.JSON(status, result)
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.svc.GetPatient(c.Request().Context(), c.Param("internal_id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// LookupByAccessID resolves a self-service access code to its patient.
func (h *Handler) LookupByAccessID(c echo.Context) error {
	accessID := c.QueryParam("access_id")
	if accessID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "access_id is required")
	}
	p, err := h.svc.LookupByAccessID(c.Request().Context(), accessID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListEvents(c echo.Context) error {
	pg := pagination.FromContext(c)
	events, total, err := h.svc.ListEvents(c.Request().Context(), c.Param("internal_id"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(events, total, pg.Limit, pg.Offset))
}

type resetRequest struct {
	Actor string `json:"actor"`
}

type resetResponse struct {
	InternalID string `json:"internal_id"`
	AccessID   string `json:"access_id"`
}

// ResetAccessID invalidates the patient's current access code and returns a
// fresh one.
func (h *Handler) ResetAccessID(c echo.Context) error {
	var req resetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Actor == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "actor is required")
	}
	internalID := c.Param("internal_id")
	accessID, err := h.svc.ResetAccessID(c.Request().Context(), internalID, req.Actor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resetResponse{InternalID: internalID, AccessID: accessID})
}

// httpError maps engine errors onto HTTP statuses. Validation problems are
// the caller's fault; allocation and audit failures are ours; transient
// store trouble asks the caller to retry.
func httpError(err error) error {
	var (
		vErr  *ValidationError
		cErr  *ConcurrencyExhaustedError
		aErr  *AllocationExhaustedError
		auErr *AuditWriteFailure
		pErr  *PersistenceError
	)
	switch {
	case errors.As(err, &vErr):
		return echo.NewHTTPError(http.StatusBadRequest, vErr.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.As(err, &cErr):
		return echo.NewHTTPError(http.StatusServiceUnavailable, cErr.Error())
	case errors.As(err, &aErr), errors.As(err, &auErr):
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	case errors.As(err, &pErr):
		return echo.NewHTTPError(http.StatusBadGateway, "storage unavailable")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
