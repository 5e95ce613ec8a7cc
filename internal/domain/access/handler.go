package access

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/patientcore/internal/platform/apperr"
	"github.com/ehr/patientcore/internal/platform/auth"
)

type Handler struct {
	resolver *Resolver
	shares   *ShareService
}

func NewHandler(resolver *Resolver, shares *ShareService) *Handler {
	return &Handler{resolver: resolver, shares: shares}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients/:id/access", h.GetAccess)
	api.GET("/patients/:id/shares", h.ListShares)
	api.POST("/patients/:id/shares", h.CreateShare)
	api.DELETE("/shares/:id", h.RevokeShare)
	api.GET("/shares/incoming", h.ListSharedWithMe)
}

type accessResponse struct {
	PatientID uuid.UUID `json:"patient_id"`
	Level     Level     `json:"level"`
}

func (h *Handler) GetAccess(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	actor := auth.ClinicianFromContext(c.Request().Context())
	level, err := h.resolver.Resolve(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, accessResponse{PatientID: id, Level: level})
}

func (h *Handler) ListShares(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	actor := auth.ClinicianFromContext(c.Request().Context())
	shares, err := h.shares.ListShares(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(shares))
}

func (h *Handler) CreateShare(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req CreateShareRequest
	if err := c.Bind(&req); err != nil {
		return apperr.InvalidInput("malformed share request")
	}
	req.PatientID = id

	actor := auth.ClinicianFromContext(c.Request().Context())
	share, err := h.shares.CreateShare(c.Request().Context(), actor, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, share)
}

func (h *Handler) RevokeShare(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	actor := auth.ClinicianFromContext(c.Request().Context())
	if err := h.shares.RevokeShare(c.Request().Context(), actor, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListSharedWithMe(c echo.Context) error {
	actor := auth.ClinicianFromContext(c.Request().Context())
	shares, err := h.shares.ListSharedWithMe(c.Request().Context(), actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nonNil(shares))
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.InvalidInput("invalid id")
	}
	return id, nil
}

func nonNil(shares []*Share) []*Share {
	if shares == nil {
		return []*Share{}
	}
	return shares
}
