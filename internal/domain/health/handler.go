package health

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/companion/companion/internal/platform/auth"
	"github.com/companion/companion/pkg/pagination"
)

// PatientResolver maps an authenticated user to their patient profile id.
type PatientResolver interface {
	PatientIDForUser(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)
}

// Handler exposes health tracking endpoints for the mobile client.
type Handler struct {
	svc      *Service
	patients PatientResolver
	logger   zerolog.Logger
}

func NewHandler(svc *Service, patients PatientResolver, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:      svc,
		patients: patients,
		logger:   logger.With().Str("handler", "health").Logger(),
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/measurement-types", h.ListMeasurementTypes)
	g.GET("/measurements", h.ListMeasurements)
	g.POST("/measurements", h.RecordMeasurement)
	g.DELETE("/measurements/:id", h.DeleteMeasurement)
	g.GET("/complaints", h.ListComplaints)
	g.POST("/complaints", h.AddComplaint)
	g.POST("/complaints/:id/resolve", h.ResolveComplaint)
	g.DELETE("/complaints/:id", h.DeleteComplaint)
}

func (h *Handler) patientID(c echo.Context) (uuid.UUID, error) {
	ctx := c.Request().Context()
	userID := auth.UserIDFromContext(ctx)
	pid, err := h.patients.PatientIDForUser(ctx, userID)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "no patient profile for this account")
	}
	return pid, nil
}

func (h *Handler) ListMeasurementTypes(c echo.Context) error {
	types, err := h.svc.MeasurementTypes(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, types)
}

func (h *Handler) ListMeasurements(c echo.Context) error {
	pid, err := h.patientID(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)

	items, total, err := h.svc.ListMeasurements(c.Request().Context(), pid, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

type recordMeasurementRequest struct {
	TypeID     uuid.UUID  `json:"measurement_type_id"`
	Value      float64    `json:"value"`
	MeasuredAt *time.Time `json:"measured_at,omitempty"`
}

func (h *Handler) RecordMeasurement(c echo.Context) error {
	var req recordMeasurementRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	pid, err := h.patientID(c)
	if err != nil {
		return err
	}

	measuredAt := time.Time{}
	if req.MeasuredAt != nil {
		measuredAt = *req.MeasuredAt
	}

	m, err := h.svc.RecordMeasurement(c.Request().Context(), pid, req.TypeID, req.Value, measuredAt)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown measurement type")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) DeleteMeasurement(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid measurement id")
	}
	pid, herr := h.patientID(c)
	if herr != nil {
		return herr
	}

	if err := h.svc.DeleteMeasurement(c.Request().Context(), pid, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "measurement not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListComplaints(c echo.Context) error {
	pid, err := h.patientID(c)
	if err != nil {
		return err
	}
	activeOnly := c.QueryParam("active") == "true"

	items, err := h.svc.ListComplaints(c.Request().Context(), pid, activeOnly)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

type addComplaintRequest struct {
	Description string `json:"description"`
}

func (h *Handler) AddComplaint(c echo.Context) error {
	var req addComplaintRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	pid, err := h.patientID(c)
	if err != nil {
		return err
	}

	cm, err := h.svc.AddComplaint(c.Request().Context(), pid, req.Description)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, cm)
}

func (h *Handler) ResolveComplaint(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid complaint id")
	}
	pid, herr := h.patientID(c)
	if herr != nil {
		return herr
	}

	if err := h.svc.ResolveComplaint(c.Request().Context(), pid, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "complaint not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "resolved"})
}

func (h *Handler) DeleteComplaint(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid complaint id")
	}
	pid, herr := h.patientID(c)
	if herr != nil {
		return herr
	}

	if err := h.svc.DeleteComplaint(c.Request().Context(), pid, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "complaint not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
