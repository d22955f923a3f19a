package problem

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vetclinic/emr/internal/platform/auth"
	"github.com/vetclinic/emr/internal/platform/db"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	view := api.Group("", auth.RequirePermission(auth.ModuleEMR, auth.ActionView))
	view.GET("/patients/:id/problems", h.ListProblems)
	view.GET("/patients/:id/alerts", h.ListAlerts)

	edit := api.Group("", auth.RequirePermission(auth.ModuleEMR, auth.ActionEdit))
	edit.POST("/patients/:id/problems", h.AddProblem)
	edit.POST("/problems/:id/resolve", h.ResolveProblem)
}

type addProblemRequest struct {
	Name          string        `json:"name" validate:"notblank,max=200"`
	Description   string        `json:"description"`
	ProblemType   Type          `json:"problem_type" validate:"omitempty,oneof=diagnosis allergy chronic behavioral other"`
	Severity      Severity      `json:"severity" validate:"omitempty,oneof=low moderate high critical"`
	Status        Status        `json:"status" validate:"omitempty,oneof=active controlled resolved inactive"`
	IsAlert       bool          `json:"is_alert"`
	AlertText     string        `json:"alert_text" validate:"max=100"`
	AlertSeverity AlertSeverity `json:"alert_severity" validate:"omitempty,oneof=info warning danger"`
	OnsetDate     *time.Time    `json:"onset_date"`
}

func (h *Handler) AddProblem(c echo.Context) error {
	actor, err := auth.RequireActor(c)
	if err != nil {
		return err
	}
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var req addProblemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	p := &Problem{
		PatientID:     patientID,
		Name:          req.Name,
		Description:   req.Description,
		ProblemType:   req.ProblemType,
		Severity:      req.Severity,
		Status:        req.Status,
		IsAlert:       req.IsAlert,
		AlertText:     req.AlertText,
		AlertSeverity: req.AlertSeverity,
		OnsetDate:     req.OnsetDate,
	}
	if err := h.svc.AddProblem(c.Request().Context(), p, actor.ID); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ResolveProblem(c echo.Context) error {
	actor, err := auth.RequireActor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.ResolveProblem(c.Request().Context(), id, actor.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListProblems(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	problems, err := h.svc.ListByPatient(c.Request().Context(), patientID)
	if err != nil {
		return httpError(err)
	}
	if problems == nil {
		problems = []*Problem{}
	}
	return c.JSON(http.StatusOK, problems)
}

func (h *Handler) ListAlerts(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	alerts, err := h.svc.ActiveAlerts(c.Request().Context(), patientID)
	if err != nil {
		return httpError(err)
	}
	if alerts == nil {
		alerts = []*Problem{}
	}
	return c.JSON(http.StatusOK, alerts)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyResolved):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrPatientRequired),
		errors.Is(err, ErrNameRequired),
		errors.Is(err, ErrAlertTextRequired),
		errors.Is(err, ErrAlertTextTooLong),
		errors.Is(err, ErrInvalidAttribute):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case db.IsForeignKeyViolation(err):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "patient does not exist")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
