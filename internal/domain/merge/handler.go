package merge

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/patientcore/internal/platform/apperr"
	"github.com/ehr/patientcore/internal/platform/auth"
)

type Handler struct {
	coord *Coordinator
}

func NewHandler(coord *Coordinator) *Handler {
	return &Handler{coord: coord}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := auth.RequireAdmin()
	api.POST("/merges", h.Merge, admin)
	api.POST("/merges/preview", h.Preview, admin)
	api.POST("/duplicates/groups/merge", h.MergeGroup, admin)

	api.GET("/patients/:id/survivor", h.Survivor)
}

type MergeRequest struct {
	SourceID uuid.UUID `json:"source_id"`
	TargetID uuid.UUID `json:"target_id"`
}

type GroupMergeRequest struct {
	// PatientIDs[0] is the target.
	PatientIDs []uuid.UUID `json:"patient_ids"`
}

func (r MergeRequest) validate() error {
	if r.SourceID == uuid.Nil || r.TargetID == uuid.Nil {
		return apperr.InvalidInput("source_id and target_id are required")
	}
	return nil
}

func (h *Handler) Merge(c echo.Context) error {
	var req MergeRequest
	if err := c.Bind(&req); err != nil {
		return apperr.InvalidInput("malformed merge request")
	}
	if err := req.validate(); err != nil {
		return err
	}
	actor := auth.ClinicianFromContext(c.Request().Context())
	res, err := h.coord.Merge(c.Request().Context(), actor, req.SourceID, req.TargetID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Preview(c echo.Context) error {
	var req MergeRequest
	if err := c.Bind(&req); err != nil {
		return apperr.InvalidInput("malformed merge request")
	}
	if err := req.validate(); err != nil {
		return err
	}
	actor := auth.ClinicianFromContext(c.Request().Context())
	preview, err := h.coord.Preview(c.Request().Context(), actor, req.SourceID, req.TargetID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, preview)
}

func (h *Handler) MergeGroup(c echo.Context) error {
	var req GroupMergeRequest
	if err := c.Bind(&req); err != nil {
		return apperr.InvalidInput("malformed group merge request")
	}
	actor := auth.ClinicianFromContext(c.Request().Context())
	batch, err := h.coord.MergeGroup(c.Request().Context(), actor, req.PatientIDs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, batch)
}

func (h *Handler) Survivor(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.InvalidInput("invalid id")
	}
	actor := auth.ClinicianFromContext(c.Request().Context())
	survivor, err := h.coord.ResolveSurvivor(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]uuid.UUID{"patient_id": id, "survivor_id": survivor})
}
