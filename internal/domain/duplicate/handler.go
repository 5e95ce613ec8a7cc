package duplicate

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/patientcore/internal/domain/patient"
	"github.com/ehr/patientcore/internal/platform/apperr"
	"github.com/ehr/patientcore/internal/platform/auth"
	"github.com/ehr/patientcore/pkg/pagination"
)

type Handler struct {
	detector *Detector
	logger   zerolog.Logger
}

func NewHandler(detector *Detector, logger zerolog.Logger) *Handler {
	return &Handler{detector: detector, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/duplicates/candidates", h.FindCandidates)
	api.GET("/duplicates/groups", h.ListGroups, auth.RequireAdmin())
}

// CandidateRequest carries the demographics of a record about to be created.
type CandidateRequest struct {
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	BirthDate      string `json:"birth_date"` // YYYY-MM-DD
	NationalID     string `json:"national_id"`
	PassportNumber string `json:"passport_number"`
	DriversLicense string `json:"drivers_license"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
}

func (r CandidateRequest) demographics() (patient.Demographics, error) {
	d := patient.Demographics{
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		NationalID:     r.NationalID,
		PassportNumber: r.PassportNumber,
		DriversLicense: r.DriversLicense,
		Email:          r.Email,
		Phone:          r.Phone,
	}
	if r.BirthDate != "" {
		dob, err := time.Parse("2006-01-02", r.BirthDate)
		if err != nil {
			return d, apperr.InvalidInput("birth_date must be YYYY-MM-DD")
		}
		d.BirthDate = &dob
	}
	return d, nil
}

// FindCandidates is the pre-creation duplicate check. Input errors are
// reported; lookup failures fail open to an empty list so registration is
// never blocked by the detector.
func (h *Handler) FindCandidates(c echo.Context) error {
	var req CandidateRequest
	if err := c.Bind(&req); err != nil {
		return apperr.InvalidInput("malformed candidate request")
	}
	demo, err := req.demographics()
	if err != nil {
		return err
	}

	actor := auth.ClinicianFromContext(c.Request().Context())
	candidates, err := h.detector.FindCandidatesFor(c.Request().Context(), actor, demo)
	if err != nil {
		if apperr.IsInvalidInput(err) {
			return err
		}
		rid, _ := c.Get("request_id").(string)
		h.logger.Warn().Err(err).Str("request_id", rid).Msg("duplicate check failed, returning no candidates")
		candidates = nil
	}
	if candidates == nil {
		candidates = []Candidate{}
	}
	return c.JSON(http.StatusOK, candidates)
}

// ListGroups pages over the full scan; the scan itself is not windowed.
func (h *Handler) ListGroups(c echo.Context) error {
	actor := auth.ClinicianFromContext(c.Request().Context())
	groups, err := h.detector.FindAllDuplicateGroups(c.Request().Context(), actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.Slice(groups, pagination.FromContext(c)))
}
