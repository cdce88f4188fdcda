package launch

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes the launch lifecycle over HTTP. The EHR drives the browser
// through /launch and /callback; the root path reports machine state.
type Handler struct {
	machine *Machine
}

// NewHandler creates a launch handler.
func NewHandler(machine *Machine) *Handler {
	return &Handler{machine: machine}
}

// RegisterRoutes mounts the launch routes on the server root.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Home)
	e.GET("/launch", h.Launch)
	e.GET("/callback", h.Callback)
	e.POST("/reset", h.Reset)
	e.GET("/api/patient", h.GetPatient)
}

// -- Launch Flow --

// Launch handles the EHR launch request. On success the browser is sent to
// the authorization server; on failure it lands on the status page, which
// carries the error.
func (h *Handler) Launch(c echo.Context) error {
	iss := c.QueryParam("iss")
	launchToken := c.QueryParam("launch")

	authURL, err := h.machine.HandleLaunch(c.Request().Context(), iss, launchToken)
	if err != nil {
		return c.Redirect(http.StatusSeeOther, "/")
	}
	return c.Redirect(http.StatusFound, authURL)
}

// Callback handles the authorization server redirect. Whatever the outcome,
// the browser ends up on the status page; the machine records the result.
func (h *Handler) Callback(c echo.Context) error {
	if oauthError := c.QueryParam("error"); oauthError != "" {
		_ = h.machine.FailAuthorization(oauthError, c.QueryParam("error_description"))
		return c.Redirect(http.StatusSeeOther, "/")
	}

	code := c.QueryParam("code")
	state := c.QueryParam("state")
	_ = h.machine.HandleCallback(c.Request().Context(), code, state)
	return c.Redirect(http.StatusSeeOther, "/")
}

// -- Status --

// Home reports the current lifecycle state as JSON.
func (h *Handler) Home(c echo.Context) error {
	return c.JSON(http.StatusOK, h.machine.Status())
}

// Reset clears the launch context and reports the fresh state.
func (h *Handler) Reset(c echo.Context) error {
	if err := h.machine.Reset(); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, h.machine.Status())
}

// GetPatient returns the full patient resource for the launch context.
func (h *Handler) GetPatient(c echo.Context) error {
	patient, ok := h.machine.Patient()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no patient context established")
	}
	return c.JSON(http.StatusOK, patient)
}
