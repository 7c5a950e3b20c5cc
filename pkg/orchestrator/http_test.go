package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/bedside-sim/pkg/device"
	"github.com/synaptica-ai/bedside-sim/pkg/journal"
)

type stubHistory struct {
	records []journal.Record
	err     error
	limit   int
}

func (s *stubHistory) History(ctx context.Context, deviceID string, limit int) ([]journal.Record, error) {
	s.limit = limit
	return s.records, s.err
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeEntry(t *testing.T, rec *httptest.ResponseRecorder) device.Entry {
	t.Helper()
	var e device.Entry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&e))
	return e
}

func TestHTTPStreamLifecycle(t *testing.T) {
	svc := newTestService(t)
	router := NewRouter(NewHTTPHandler(svc, nil))

	rec := do(t, router, http.MethodPost, "/api/v1/streams/ecg")
	require.Equal(t, http.StatusCreated, rec.Code)
	ecg := decodeEntry(t, rec)
	assert.Equal(t, device.KindECG, ecg.Kind)

	rec = do(t, router, http.MethodPost, "/api/v1/streams/ecg/"+ecg.DeviceID+"/vitals")
	require.Equal(t, http.StatusCreated, rec.Code)
	vitals := decodeEntry(t, rec)
	assert.Equal(t, ecg.PatientID, vitals.PatientID)

	rec = do(t, router, http.MethodPost, "/api/v1/streams/ecg/"+ecg.DeviceID+"/vitals")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/v1/streams/vitals")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/v1/streams")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Streams []device.Entry `json:"streams"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Len(t, list.Streams, 3)

	rec = do(t, router, http.MethodGet, "/api/v1/streams/"+vitals.DeviceID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, device.CategoryPaired, decodeEntry(t, rec).Category)

	rec = do(t, router, http.MethodDelete, "/api/v1/streams/ecg/"+ecg.DeviceID+"/vitals")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, http.MethodDelete, "/api/v1/streams/"+ecg.DeviceID)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, svc.List(), 1)
}

func TestHTTPErrorMapping(t *testing.T) {
	svc := newTestService(t)
	router := NewRouter(NewHTTPHandler(svc, nil))

	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodDelete, "/api/v1/streams/SIM-BELT-NOPE").Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/api/v1/streams/SIM-BELT-NOPE").Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodPost, "/api/v1/streams/ecg/SIM-BELT-NOPE/vitals").Code)

	rec := do(t, router, http.MethodPost, "/api/v1/streams/vitals")
	require.Equal(t, http.StatusCreated, rec.Code)
	lonely := decodeEntry(t, rec)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/v1/streams/ecg/"+lonely.DeviceID+"/vitals").Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&device.DeviceError{Op: "stop", DeviceID: "x", Err: device.ErrUnknownDevice}, http.StatusNotFound},
		{device.ErrAlreadyPaired, http.StatusConflict},
		{device.ErrDuplicateIdentity, http.StatusConflict},
		{device.ErrPatientMismatch, http.StatusBadRequest},
		{ErrInvalidSelection, http.StatusBadRequest},
		{device.ErrRegistryClosed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestHTTPEvents(t *testing.T) {
	svc := newTestService(t)

	rec := do(t, NewRouter(NewHTTPHandler(svc, nil)), http.MethodGet, "/api/v1/streams/SIM-BELT-0001/events")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	history := &stubHistory{records: []journal.Record{{DeviceID: "SIM-BELT-0001", Event: "started"}}}
	router := NewRouter(NewHTTPHandler(svc, history))

	rec = do(t, router, http.MethodGet, "/api/v1/streams/SIM-BELT-0001/events?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, history.limit)
	var body struct {
		DeviceID string           `json:"device_id"`
		Events   []journal.Record `json:"events"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "SIM-BELT-0001", body.DeviceID)
	require.Len(t, body.Events, 1)
	assert.Equal(t, "started", body.Events[0].Event)

	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/api/v1/streams/x/events?limit=abc").Code)

	history.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, do(t, router, http.MethodGet, "/api/v1/streams/x/events").Code)
	assert.Equal(t, defaultHistoryLimit, history.limit)
}

func TestHealthAndMetrics(t *testing.T) {
	router := NewRouter(NewHTTPHandler(newTestService(t), nil))

	rec := do(t, router, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}
