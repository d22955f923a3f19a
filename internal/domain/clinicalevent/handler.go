package clinicalevent

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vetclinic/emr/internal/platform/auth"
	"github.com/vetclinic/emr/internal/platform/db"
	"github.com/vetclinic/emr/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	view := api.Group("", auth.RequirePermission(auth.ModuleEMR, auth.ActionView))
	view.GET("/encounters/:id/events", h.ListEncounterEvents)
	view.GET("/patients/:id/timeline", h.GetTimeline)

	edit := api.Group("", auth.RequirePermission(auth.ModuleEMR, auth.ActionEdit))
	edit.POST("/patients/:id/notes", h.AppendNote)

	correct := api.Group("", auth.RequirePermission(auth.ModuleEMR, auth.ActionCorrect))
	correct.POST("/events/:id/entered-in-error", h.MarkEnteredInError)
	correct.POST("/events/:id/supersede", h.Supersede)
}

type noteRequest struct {
	EncounterID *uuid.UUID `json:"encounter_id"`
	Text        string     `json:"text" validate:"notblank"`
	OccurredAt  *time.Time `json:"occurred_at"`
}

type correctionRequest struct {
	Reason string `json:"reason" validate:"notblank,max=500"`
}

type supersedeRequest struct {
	Reason        string     `json:"reason" validate:"notblank,max=500"`
	Summary       string     `json:"summary" validate:"notblank"`
	EventType     EventType  `json:"event_type"`
	EventSubtype  string     `json:"event_subtype" validate:"max=50"`
	IsSignificant bool       `json:"is_significant"`
	OccurredAt    *time.Time `json:"occurred_at"`
}

func (h *Handler) ListEncounterEvents(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	evs, err := h.svc.ListByEncounter(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if evs == nil {
		evs = []*Event{}
	}
	return c.JSON(http.StatusOK, evs)
}

func (h *Handler) GetTimeline(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	pg := pagination.FromContextBounded(c, h.svc.PageSize(), pagination.MaxLimit)
	evs, total, pg, err := h.svc.Timeline(c.Request().Context(), id, pg)
	if err != nil {
		return httpError(err)
	}
	if evs == nil {
		evs = []*Event{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(evs, total, pg.Limit, pg.Offset))
}

func (h *Handler) AppendNote(c echo.Context) error {
	actor, err := auth.RequireActor(c)
	if err != nil {
		return err
	}
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var req noteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	in := NoteInput{PatientID: patientID, EncounterID: req.EncounterID, Text: req.Text}
	if req.OccurredAt != nil {
		in.OccurredAt = req.OccurredAt.UTC()
	}
	ev, err := h.svc.AppendNote(c.Request().Context(), in, actor.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, ev)
}

func (h *Handler) MarkEnteredInError(c echo.Context) error {
	actor, err := auth.RequireActor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req correctionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	ev, err := h.svc.MarkEnteredInError(c.Request().Context(), id, req.Reason, actor.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ev)
}

func (h *Handler) Supersede(c echo.Context) error {
	actor, err := auth.RequireActor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req supersedeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	replacement := &Event{
		EventType:     req.EventType,
		EventSubtype:  req.EventSubtype,
		Summary:       req.Summary,
		IsSignificant: req.IsSignificant,
	}
	if req.OccurredAt != nil {
		replacement.OccurredAt = req.OccurredAt.UTC()
	}
	ev, err := h.svc.Supersede(c.Request().Context(), id, replacement, req.Reason, actor.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, ev)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrEncounterNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyInError):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrPatientRequired),
		errors.Is(err, ErrActorRequired),
		errors.Is(err, ErrInvalidType),
		errors.Is(err, ErrTextRequired),
		errors.Is(err, ErrReasonRequired),
		errors.Is(err, ErrEncounterMismatch),
		errors.Is(err, ErrPatientMismatch):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case db.IsForeignKeyViolation(err):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "referenced patient or encounter does not exist")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
