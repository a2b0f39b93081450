package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	adherencedomain "github.com/MMatviiuk/medtrack/internal/adherence/domain"
	"github.com/MMatviiuk/medtrack/internal/clock"
	daystatusdomain "github.com/MMatviiuk/medtrack/internal/daystatus/domain"
	doseeventdomain "github.com/MMatviiuk/medtrack/internal/doseevent/domain"
	medicationdomain "github.com/MMatviiuk/medtrack/internal/medication/domain"
	obsmiddleware "github.com/MMatviiuk/medtrack/internal/observability/logger"
	"github.com/MMatviiuk/medtrack/internal/recurrence"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const testOwner = "1001"

type fakeMedicationService struct {
	createReq   medicationdomain.CreateMedicationRequest
	templateReq medicationdomain.CreateTemplateRequest
	updateReq   medicationdomain.UpdateMedicationRequest
	deleteReq   medicationdomain.DeleteRequest
	versionsFor snowflake.ID
	err         error
}

func (f *fakeMedicationService) CreateMedication(ctx context.Context, req medicationdomain.CreateMedicationRequest) (*medicationdomain.Medication, error) {
	f.createReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &medicationdomain.Medication{ID: 7, OwnerID: req.OwnerID, Name: req.Name}, nil
}

func (f *fakeMedicationService) CreateTemplate(ctx context.Context, req medicationdomain.CreateTemplateRequest) (*medicationdomain.CreateTemplateResult, error) {
	f.templateReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &medicationdomain.CreateTemplateResult{Generated: 3}, nil
}

func (f *fakeMedicationService) UpdateMedication(ctx context.Context, req medicationdomain.UpdateMedicationRequest) (*medicationdomain.UpdateMedicationResult, error) {
	f.updateReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &medicationdomain.UpdateMedicationResult{Versioned: req.CreateVersion}, nil
}

func (f *fakeMedicationService) CreateVersion(ctx context.Context, req medicationdomain.CreateVersionRequest) (*medicationdomain.VersionResult, error) {
	return nil, errors.New("unexpected call")
}

func (f *fakeMedicationService) DeleteWithCleanup(ctx context.Context, req medicationdomain.DeleteRequest) (*medicationdomain.CleanupResult, error) {
	f.deleteReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &medicationdomain.CleanupResult{Deleted: 2}, nil
}

func (f *fakeMedicationService) ListVersions(ctx context.Context, ownerID, medicationID snowflake.ID) ([]medicationdomain.Medication, error) {
	f.versionsFor = medicationID
	if f.err != nil {
		return nil, f.err
	}
	return []medicationdomain.Medication{{ID: medicationID, OwnerID: ownerID}}, nil
}

type fakeDoseEventService struct {
	markReq  doseeventdomain.MarkRequest
	rangeReq doseeventdomain.ListRangeRequest
	err      error
}

func (f *fakeDoseEventService) Mark(ctx context.Context, req doseeventdomain.MarkRequest) (*doseeventdomain.Response, error) {
	f.markReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &doseeventdomain.Response{ID: req.EventID.String(), Status: req.Status}, nil
}

func (f *fakeDoseEventService) ListRange(ctx context.Context, req doseeventdomain.ListRangeRequest) ([]doseeventdomain.ScheduledResponse, error) {
	f.rangeReq = req
	if f.err != nil {
		return nil, f.err
	}
	return []doseeventdomain.ScheduledResponse{}, nil
}

type fakeDayStatusService struct {
	daystatusdomain.Service

	from, to, timezone string
	err                error
}

func (f *fakeDayStatusService) ReadRange(ctx context.Context, ownerID snowflake.ID, from, to, timezone string) (map[string]daystatusdomain.Summary, error) {
	f.from, f.to, f.timezone = from, to, timezone
	if f.err != nil {
		return nil, f.err
	}
	return map[string]daystatusdomain.Summary{
		from: {Status: daystatusdomain.StatusAllTaken, TotalCount: 1, TakenCount: 1},
	}, nil
}

type fakeAdherenceService struct {
	now     time.Time
	windows []int
	err     error
}

func (f *fakeAdherenceService) Adherence(ctx context.Context, ownerID snowflake.ID, windowDays int, now time.Time) (*int, error) {
	f.now = now
	f.windows = append(f.windows, windowDays)
	if f.err != nil {
		return nil, f.err
	}
	v := 80
	return &v, nil
}

func (f *fakeAdherenceService) Summary(ctx context.Context, ownerID snowflake.ID, now time.Time) ([]adherencedomain.WindowSummary, error) {
	f.now = now
	v := 50
	return []adherencedomain.WindowSummary{
		{WindowDays: 7, Adherence: &v},
		{WindowDays: 30, Adherence: nil},
	}, nil
}

type testEnv struct {
	router     *gin.Engine
	clock      *clock.FakeClock
	medication *fakeMedicationService
	events     *fakeDoseEventService
	dayStatus  *fakeDayStatusService
	adherence  *fakeAdherenceService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())

	env := &testEnv{
		router:     router,
		clock:      clock.NewFakeClock(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)),
		medication: &fakeMedicationService{},
		events:     &fakeDoseEventService{},
		dayStatus:  &fakeDayStatusService{},
		adherence:  &fakeAdherenceService{},
	}
	NewServer(ServerParams{
		Gin:           router,
		Clock:         env.clock,
		Log:           zap.NewNop(),
		MedicationSvc: env.medication,
		DoseEventSvc:  env.events,
		DayStatusSvc:  env.dayStatus,
		AdherenceSvc:  env.adherence,
	})
	return env
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body == "" {
		reader = &bytes.Buffer{}
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(obsmiddleware.OwnerHeader, testOwner)
	resp := httptest.NewRecorder()
	e.router.ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var body errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", resp.Body.String(), err)
	}
	return body.Error
}

func TestOwnerHeaderRequired(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/adherence", nil)
	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/adherence", nil)
	req.Header.Set(obsmiddleware.OwnerHeader, "not-a-number")
	resp = httptest.NewRecorder()
	env.router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if payload := decodeError(t, resp); payload.Errors[0].Field != "owner_id" {
		t.Fatalf("expected owner_id field error, got %+v", payload)
	}
	if env.adherence.windows != nil {
		t.Fatal("expected adherence service not to be called")
	}
}

func TestCreateMedicationScopesToOwner(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/api/medications", `{"name":"  Metformin ","strength":"500 mg","form":"tablet"}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if env.medication.createReq.OwnerID != 1001 {
		t.Fatalf("expected owner 1001, got %v", env.medication.createReq.OwnerID)
	}
	if env.medication.createReq.Name != "Metformin" {
		t.Fatalf("expected trimmed name, got %q", env.medication.createReq.Name)
	}
}

func TestCreateMedicationRejectsMalformedBody(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/api/medications", `{"name":`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if payload := decodeError(t, resp); payload.Errors[0].Code != "invalid_request" {
		t.Fatalf("expected invalid_request, got %+v", payload)
	}
}

func TestCreateTemplateDefaultsTimezone(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/api/templates", `{"medication_id":"7","quantity":1,"units":"pill","frequency_days":[1,3,5],"date_start":"2025-03-10","time_of_day":["08:00"]}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if env.medication.templateReq.Timezone != "UTC" {
		t.Fatalf("expected default timezone UTC, got %q", env.medication.templateReq.Timezone)
	}
	if len(env.medication.templateReq.FrequencyDays) != 3 {
		t.Fatalf("expected frequency days to pass through, got %v", env.medication.templateReq.FrequencyDays)
	}
}

func TestCreateTemplateErrorMapping(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		wantCode  int
		wantField string
	}{
		{
			name:     "active_template",
			err:      medicationdomain.ErrActiveTemplateExists,
			wantCode: http.StatusConflict,
		},
		{
			name:      "rule",
			err:       &recurrence.ValidationError{Field: "time_of_day", Code: recurrence.CodeInvalidFormat},
			wantCode:  http.StatusBadRequest,
			wantField: "time_of_day",
		},
		{
			name:      "quantity",
			err:       medicationdomain.ErrInvalidQuantity,
			wantCode:  http.StatusBadRequest,
			wantField: "quantity",
		},
		{
			name:     "missing_medication",
			err:      medicationdomain.ErrNotFound,
			wantCode: http.StatusNotFound,
		},
		{
			name:     "storage",
			err:      errors.New("connection reset"),
			wantCode: http.StatusInternalServerError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.medication.err = tc.err

			resp := env.do(http.MethodPost, "/api/templates", `{"medication_id":"7"}`)
			if resp.Code != tc.wantCode {
				t.Fatalf("expected status %d, got %d", tc.wantCode, resp.Code)
			}
			payload := decodeError(t, resp)
			if tc.wantField != "" && (len(payload.Errors) == 0 || payload.Errors[0].Field != tc.wantField) {
				t.Fatalf("expected field %q, got %+v", tc.wantField, payload)
			}
		})
	}
}

func TestUpdateMedicationPassesVersionFlag(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPatch, "/api/medications/42", `{"dose":" 20 mg ","createVersion":true}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	req := env.medication.updateReq
	if req.MedicationID != 42 || !req.CreateVersion {
		t.Fatalf("unexpected update request %+v", req)
	}
	if req.Strength == nil || *req.Strength != "20 mg" {
		t.Fatalf("expected trimmed strength, got %v", req.Strength)
	}
	if req.Name != nil {
		t.Fatalf("expected name to stay unset, got %q", *req.Name)
	}
}

func TestMedicationRoutesRejectBadID(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodDelete, "/api/medications/abc", "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if env.medication.deleteReq.MedicationID != 0 {
		t.Fatal("expected delete not to be called")
	}
}

func TestDeleteMedicationUsesClock(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodDelete, "/api/medications/42", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if !env.medication.deleteReq.Now.Equal(env.clock.Now()) {
		t.Fatalf("expected now %v, got %v", env.clock.Now(), env.medication.deleteReq.Now)
	}
}

func TestListMedicationVersions(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/api/medications/42/versions", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if env.medication.versionsFor != 42 {
		t.Fatalf("expected versions for 42, got %v", env.medication.versionsFor)
	}
}

func TestMarkEvent(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "ok", wantCode: http.StatusOK},
		{name: "back_to_planned", err: doseeventdomain.ErrInvalidTransition, wantCode: http.StatusConflict},
		{name: "foreign_event", err: doseeventdomain.ErrNotFound, wantCode: http.StatusNotFound},
		{name: "bad_status", err: doseeventdomain.ErrInvalidStatus, wantCode: http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.events.err = tc.err

			resp := env.do(http.MethodPost, "/api/events/99/mark", `{"status":"done"}`)
			if resp.Code != tc.wantCode {
				t.Fatalf("expected status %d, got %d", tc.wantCode, resp.Code)
			}
			if env.events.markReq.Status != "DONE" || env.events.markReq.EventID != 99 {
				t.Fatalf("unexpected mark request %+v", env.events.markReq)
			}
		})
	}
}

func TestListEventsRange(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/api/events?from=2025-03-01&to=2025-03-07", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	req := env.events.rangeReq
	if !req.From.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected from %v", req.From)
	}
	wantTo := time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond)
	if !req.To.Equal(wantTo) {
		t.Fatalf("expected to %v, got %v", wantTo, req.To)
	}

	resp = env.do(http.MethodGet, "/api/events?to=2025-03-07", "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 without from, got %d", resp.Code)
	}
}

func TestGetDayStatus(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/api/day-status?from=2025-03-01&to=2025-03-07&tz=Europe/Kyiv", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if env.dayStatus.timezone != "Europe/Kyiv" || env.dayStatus.from != "2025-03-01" || env.dayStatus.to != "2025-03-07" {
		t.Fatalf("unexpected read range args %+v", env.dayStatus)
	}

	var body struct {
		Data map[string]daystatusdomain.Summary `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data["2025-03-01"].Status != daystatusdomain.StatusAllTaken {
		t.Fatalf("unexpected body %+v", body.Data)
	}
}

func TestGetDayStatusErrors(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/api/day-status?from=03/01/2025&to=2025-03-07", "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}

	env.dayStatus.err = daystatusdomain.ErrRangeTooLarge
	resp = env.do(http.MethodGet, "/api/day-status?from=2020-01-01&to=2025-03-07", "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if payload := decodeError(t, resp); payload.Errors[0].Code != "range_too_large" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if env.dayStatus.timezone != "UTC" {
		t.Fatalf("expected default timezone, got %q", env.dayStatus.timezone)
	}
}

func TestGetAdherence(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/api/adherence", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var body struct {
		Data []adherencedomain.WindowSummary `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data) != 2 || body.Data[1].Adherence != nil {
		t.Fatalf("unexpected summary %+v", body.Data)
	}
	if !env.adherence.now.Equal(env.clock.Now()) {
		t.Fatalf("expected clock now, got %v", env.adherence.now)
	}

	resp = env.do(http.MethodGet, "/api/adherence?window=7", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if len(env.adherence.windows) != 1 || env.adherence.windows[0] != 7 {
		t.Fatalf("unexpected windows %v", env.adherence.windows)
	}

	resp = env.do(http.MethodGet, "/api/adherence?window=week", "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}

	env.adherence.err = adherencedomain.ErrInvalidWindow
	resp = env.do(http.MethodGet, "/api/adherence?window=14", "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/api/nope", "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
	if payload := decodeError(t, resp); payload.Type != "not_found" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestClassifyErrorForLog(t *testing.T) {
	errType, code := classifyErrorForLog(doseeventdomain.ErrInvalidStatus)
	if errType != "validation_error" || code != "invalid_status" {
		t.Fatalf("unexpected classification %q %q", errType, code)
	}
	errType, code = classifyErrorForLog(errors.New("boom"))
	if errType != "internal_error" || code != "internal_error" {
		t.Fatalf("unexpected classification %q %q", errType, code)
	}
}
