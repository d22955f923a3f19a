package encounter

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vetclinic/emr/internal/domain/location"
	"github.com/vetclinic/emr/internal/domain/patient"
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
	view.GET("/encounters/:id", h.GetEncounter)
	view.GET("/locations/:id/whiteboard", h.GetWhiteboard)
	view.GET("/patients/:id/summary", h.GetPatientSummary)

	edit := api.Group("", auth.RequirePermission(auth.ModuleEMR, auth.ActionEdit))
	edit.POST("/visits/:id/check-in", h.CheckIn)
	edit.POST("/check-in/batch", h.BatchCheckIn)
	edit.POST("/encounters", h.CreateEncounter)
	edit.PATCH("/encounters/:id", h.UpdateDetails)
	edit.POST("/encounters/:id/transition", h.Transition)
}

type checkInRequest struct {
	LocationID uuid.UUID `json:"location_id"`
}

type batchCheckInRequest struct {
	LocationID uuid.UUID   `json:"location_id"`
	VisitIDs   []uuid.UUID `json:"visit_ids" validate:"required,min=1,max=100"`
}

type createRequest struct {
	PatientID      uuid.UUID `json:"patient_id" validate:"required"`
	LocationID     uuid.UUID `json:"location_id" validate:"required"`
	EncounterType  Type      `json:"encounter_type"`
	ChiefComplaint string    `json:"chief_complaint" validate:"max=1000"`
	ClinicianID    *string   `json:"clinician_id"`
	TechnicianID   *string   `json:"technician_id"`
}

type updateRequest struct {
	EncounterType  *Type      `json:"encounter_type"`
	ChiefComplaint *string    `json:"chief_complaint" validate:"omitempty,max=1000"`
	ClinicianID    *string    `json:"clinician_id"`
	TechnicianID   *string    `json:"technician_id"`
	ExamRoomID     *uuid.UUID `json:"exam_room_id"`
	Version        *int       `json:"version"`
}

type transitionRequest struct {
	State   State      `json:"state" validate:"required"`
	RoomID  *uuid.UUID `json:"room_id"`
	Version *int       `json:"version"`
}

type checkInResponse struct {
	Encounter *Encounter `json:"encounter"`
	Created   bool       `json:"created"`
}

type roomSelectionResponse struct {
	Status      string          `json:"status"`
	EncounterID uuid.UUID       `json:"encounter_id"`
	Rooms       []location.Room `json:"rooms"`
}

func (h *Handler) CheckIn(c echo.Context) error {
	actor, err := auth.RequireActor(c)
	if err != nil {
		return err
	}
	visitID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid visit id")
	}
	var req checkInRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	enc, created, err := h.svc.CheckIn(c.Request().Context(), visitID, req.LocationID, actor.ID)
	if err != nil {
		return httpError(err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, checkInResponse{Encounter: enc, Created: created})
}

func (h *Handler) BatchCheckIn(c echo.Context) error {
	actor, err := auth.RequireActor(c)
	if err != nil {
		return err
	}
	var req batchCheckInRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	results := h.svc.BatchCheckIn(c.Request().Context(), req.VisitIDs, req.LocationID, actor.ID)
	return c.JSON(http.StatusOK, map[string]interface{}{"results": results})
}

func (h *Handler) CreateEncounter(c echo.Context) error {
	actor, err := auth.RequireActor(c)
	if err != nil {
		return err
	}
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	enc, err := h.svc.CreateEncounter(c.Request().Context(), NewEncounter{
		PatientID:      req.PatientID,
		LocationID:     req.LocationID,
		EncounterType:  req.EncounterType,
		ChiefComplaint: req.ChiefComplaint,
		ClinicianID:    req.ClinicianID,
		TechnicianID:   req.TechnicianID,
	}, actor.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, enc)
}

func (h *Handler) GetEncounter(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	enc, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) UpdateDetails(c echo.Context) error {
	actor, err := auth.RequireActor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	enc, err := h.svc.UpdateDetails(c.Request().Context(), id, DetailsUpdate{
		EncounterType:  req.EncounterType,
		ChiefComplaint: req.ChiefComplaint,
		ClinicianID:    req.ClinicianID,
		TechnicianID:   req.TechnicianID,
		ExamRoomID:     req.ExamRoomID,
	}, req.Version, actor.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) Transition(c echo.Context) error {
	actor, err := auth.RequireActor(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	out, err := h.svc.Transition(c.Request().Context(), id, req.State, actor.ID, TransitionOptions{
		RoomID:          req.RoomID,
		ExpectedVersion: req.Version,
	})
	if err != nil {
		return httpError(err)
	}

	switch o := out.(type) {
	case *RoomSelectionRequired:
		return c.JSON(http.StatusConflict, roomSelectionResponse{
			Status:      "room_selection_required",
			EncounterID: o.EncounterID,
			Rooms:       o.Rooms,
		})
	case *Transitioned:
		return c.JSON(http.StatusOK, o.Encounter)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) GetWhiteboard(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid location id")
	}
	wb, err := h.svc.Whiteboard(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, wb)
}

func (h *Handler) GetPatientSummary(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	sum, err := h.svc.PatientSummary(c.Request().Context(), id, pagination.FromContext(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sum)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrVisitNotFound),
		errors.Is(err, patient.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrVersionConflict),
		errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrInvalidType),
		errors.Is(err, ErrInvalidRoom),
		errors.Is(err, ErrCheckInBlocked),
		errors.Is(err, ErrPatientRequired):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case db.IsForeignKeyViolation(err):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "referenced patient or location does not exist")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
