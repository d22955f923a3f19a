package encounter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetclinic/emr/internal/domain/visit"
	"github.com/vetclinic/emr/internal/platform/auth"
	"github.com/vetclinic/emr/internal/platform/validate"
)

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	f := newFixture()
	e := echo.New()
	e.Validator = validate.New()
	return NewHandler(f.svc), f, e
}

func newCtx(e *echo.Echo, method, body string, params ...string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithActor(req.Context(), auth.Actor{ID: "tech-1", Roles: []string{auth.RoleTechnician}}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if len(params) == 2 {
		c.SetParamNames(params[0])
		c.SetParamValues(params[1])
	}
	return c, rec
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected *echo.HTTPError, got %T", err)
	return he.Code
}

func TestHandler_CheckIn(t *testing.T) {
	h, f, e := newTestHandler()
	visitID := f.addVisit("Dog is limping", "Sick visit")
	body := `{"location_id":"` + f.location.String() + `"}`

	c, rec := newCtx(e, http.MethodPost, body, "id", visitID.String())
	require.NoError(t, h.CheckIn(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var resp checkInResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Created)
	assert.Equal(t, StateCheckedIn, resp.Encounter.State)
	assert.Equal(t, "Dog is limping", resp.Encounter.ChiefComplaint)

	c, rec = newCtx(e, http.MethodPost, body, "id", visitID.String())
	require.NoError(t, h.CheckIn(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_CheckIn_Cancelled(t *testing.T) {
	h, f, e := newTestHandler()
	subject := uuid.New()
	visitID := f.visits.add(visit.Visit{LocationID: f.location, SubjectID: &subject, Status: visit.StatusCancelled})

	c, _ := newCtx(e, http.MethodPost, `{}`, "id", visitID.String())
	assert.Equal(t, http.StatusUnprocessableEntity, httpCode(t, h.CheckIn(c)))
}

func TestHandler_Transition_RoomSelectionRequired(t *testing.T) {
	h, f, e := newTestHandler()
	f.addRoom("Exam 1", true, f.location)
	f.addRoom("Exam 2", true, f.location)
	enc := f.checkedIn(t)

	c, rec := newCtx(e, http.MethodPost, `{"state":"roomed"}`, "id", enc.ID.String())
	require.NoError(t, h.Transition(c))
	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp roomSelectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "room_selection_required", resp.Status)
	assert.Len(t, resp.Rooms, 2)
}

func TestHandler_Transition_WithRoom(t *testing.T) {
	h, f, e := newTestHandler()
	f.addRoom("Exam 1", true, f.location)
	b := f.addRoom("Exam 2", true, f.location)
	enc := f.checkedIn(t)

	body := `{"state":"roomed","room_id":"` + b.ID.String() + `"}`
	c, rec := newCtx(e, http.MethodPost, body, "id", enc.ID.String())
	require.NoError(t, h.Transition(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var got Encounter
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, StateRoomed, got.State)
	require.NotNil(t, got.ExamRoomID)
	assert.Equal(t, b.ID, *got.ExamRoomID)
}

func TestHandler_Transition_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing state", `{}`, http.StatusBadRequest},
		{"unknown state", `{"state":"asleep"}`, http.StatusUnprocessableEntity},
		{"backwards", `{"state":"scheduled"}`, http.StatusConflict},
		{"stale version", `{"state":"in_exam","version":99}`, http.StatusConflict},
		{"bad room", `{"state":"roomed","room_id":"` + uuid.NewString() + `"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, f, e := newTestHandler()
			enc := f.checkedIn(t)
			c, _ := newCtx(e, http.MethodPost, tt.body, "id", enc.ID.String())
			assert.Equal(t, tt.want, httpCode(t, h.Transition(c)))
		})
	}
}

func TestHandler_Transition_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	c, _ := newCtx(e, http.MethodPost, `{"state":"roomed"}`, "id", uuid.NewString())
	assert.Equal(t, http.StatusNotFound, httpCode(t, h.Transition(c)))
}

func TestHandler_CreateEncounter(t *testing.T) {
	h, f, e := newTestHandler()
	body := `{"patient_id":"` + uuid.NewString() + `","location_id":"` + f.location.String() + `","encounter_type":"urgent"}`

	c, rec := newCtx(e, http.MethodPost, body)
	require.NoError(t, h.CreateEncounter(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var got Encounter
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, StateScheduled, got.State)
	assert.Equal(t, TypeUrgent, got.EncounterType)
}

func TestHandler_CreateEncounter_MissingPatient(t *testing.T) {
	h, f, e := newTestHandler()
	c, _ := newCtx(e, http.MethodPost, `{"location_id":"`+f.location.String()+`"}`)
	assert.Equal(t, http.StatusBadRequest, httpCode(t, h.CreateEncounter(c)))
}

func TestHandler_UpdateDetails(t *testing.T) {
	h, f, e := newTestHandler()
	enc := f.checkedIn(t)

	c, rec := newCtx(e, http.MethodPatch, `{"chief_complaint":"Vomiting since Tuesday"}`, "id", enc.ID.String())
	require.NoError(t, h.UpdateDetails(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var got Encounter
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Vomiting since Tuesday", got.ChiefComplaint)
	assert.Equal(t, StateCheckedIn, got.State)
}

func TestHandler_UpdateDetails_ExamRoom(t *testing.T) {
	h, f, e := newTestHandler()
	enc := f.checkedIn(t)
	room := f.addRoom("Exam 2", true, f.location)

	c, rec := newCtx(e, http.MethodPatch, `{"exam_room_id":"`+room.ID.String()+`"}`, "id", enc.ID.String())
	require.NoError(t, h.UpdateDetails(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var got Encounter
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotNil(t, got.ExamRoomID)
	assert.Equal(t, room.ID, *got.ExamRoomID)

	c, _ = newCtx(e, http.MethodPatch, `{"exam_room_id":"`+uuid.NewString()+`"}`, "id", enc.ID.String())
	assert.Equal(t, http.StatusUnprocessableEntity, httpCode(t, h.UpdateDetails(c)))
}

func TestHandler_BatchCheckIn(t *testing.T) {
	h, f, e := newTestHandler()
	v := f.addVisit("", "Wellness")
	body := `{"location_id":"` + f.location.String() + `","visit_ids":["` + v.String() + `","` + uuid.NewString() + `"]}`

	c, rec := newCtx(e, http.MethodPost, body)
	require.NoError(t, h.BatchCheckIn(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []BatchResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.True(t, resp.Results[0].Created)
	assert.NotEmpty(t, resp.Results[1].Error)
}

func TestHandler_BatchCheckIn_Empty(t *testing.T) {
	h, _, e := newTestHandler()
	c, _ := newCtx(e, http.MethodPost, `{"visit_ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, httpCode(t, h.BatchCheckIn(c)))
}

func TestHandler_GetWhiteboard(t *testing.T) {
	h, f, e := newTestHandler()
	f.checkedIn(t)

	c, rec := newCtx(e, http.MethodGet, "", "id", f.location.String())
	require.NoError(t, h.GetWhiteboard(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var wb Whiteboard
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wb))
	assert.Equal(t, 1, wb.Total)
	assert.Len(t, wb.Columns[StateCheckedIn], 1)
}

func TestHandler_GetPatientSummary_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	c, _ := newCtx(e, http.MethodGet, "", "id", uuid.NewString())
	assert.Equal(t, http.StatusNotFound, httpCode(t, h.GetPatientSummary(c)))
}

func TestHandler_GetEncounter_BadID(t *testing.T) {
	h, _, e := newTestHandler()
	c, _ := newCtx(e, http.MethodGet, "", "id", "not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, httpCode(t, h.GetEncounter(c)))
}
