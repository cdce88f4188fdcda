package vitals

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/smartvitals/smartvitals/internal/platform/smart"
)

// Handler exposes the vitals views and submission over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a vitals handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the vitals routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/vitals", h.GetOverview)
	api.POST("/vitals/fetch", h.Fetch)
	api.POST("/vitals/select", h.Select)
	api.POST("/vitals/next", h.NextPage)
	api.POST("/vitals/prev", h.PrevPage)
	api.POST("/observations", h.CreateObservation)
}

// -- Views --

// GetOverview returns the category list and current page without touching
// the network.
func (h *Handler) GetOverview(c echo.Context) error {
	ov, err := h.svc.Overview()
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ov)
}

// Fetch pulls the observation set from the FHIR server and returns the
// rebuilt overview.
func (h *Handler) Fetch(c echo.Context) error {
	ov, err := h.svc.Fetch(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ov)
}

// Select switches the active category and returns its first page.
func (h *Handler) Select(c echo.Context) error {
	var req struct {
		Category string `json:"category"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Category == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "category is required")
	}
	page, err := h.svc.Select(req.Category)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, page)
}

// NextPage advances the window one page.
func (h *Handler) NextPage(c echo.Context) error {
	page, err := h.svc.NextPage()
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, page)
}

// PrevPage retreats the window one page.
func (h *Handler) PrevPage(c echo.Context) error {
	page, err := h.svc.PrevPage()
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, page)
}

// -- Submission --

// CreateObservation posts a new vital-sign reading.
func (h *Handler) CreateObservation(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := in.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

// httpError maps service and lifecycle errors onto HTTP statuses: session
// preconditions to 409, bad input to 400, upstream FHIR failures to 502.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotLoaded), errors.Is(err, ErrNoCategory):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrUnknownCategory):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case smart.IsCode(err, smart.ErrCodeNoPatientContext):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case smart.IsCode(err, smart.ErrCodeObservationFetch),
		smart.IsCode(err, smart.ErrCodeObservationCreate),
		smart.IsCode(err, smart.ErrCodeRefresh):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
