package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/iotaudit/internal/store"
)

type listOf[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

func TestStartScan(t *testing.T) {
	f := newFixture(t, nil)
	d := f.device(t, "192.168.1.20")

	rec := f.do(t, http.MethodPost, "/api/v1/scans", StartScanRequest{DeviceID: d.ID.String()})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	job := decode[store.Job](t, rec)
	assert.Equal(t, d.ID, job.DeviceID)
	assert.Equal(t, store.ModeSimulated, job.Mode, "mode defaults to simulated")
	assert.Equal(t, store.JobRunning, job.Status)
	require.Len(t, job.Phases, 6)
	assert.Equal(t, store.PhaseRunning, job.Phases[0].Status)
	assert.Equal(t, "/api/v1/scans/"+job.ID.String(), rec.Header().Get("Location"))
}

func TestStartScanErrors(t *testing.T) {
	f := newFixture(t, nil)
	d := f.device(t, "192.168.1.21")

	tests := []struct {
		name string
		body interface{}
		want int
		code string
	}{
		{"empty body", "", http.StatusBadRequest, "VALIDATION"},
		{"malformed json", "{", http.StatusBadRequest, "VALIDATION"},
		{"unknown field", `{"device_id":"` + d.ID.String() + `","depth":3}`, http.StatusBadRequest, "VALIDATION"},
		{"missing device", StartScanRequest{}, http.StatusBadRequest, ""},
		{"bad uuid", StartScanRequest{DeviceID: "nope"}, http.StatusBadRequest, ""},
		{"bad mode", StartScanRequest{DeviceID: d.ID.String(), Mode: "deep"}, http.StatusBadRequest, ""},
		{"unknown device", StartScanRequest{DeviceID: uuid.NewString()}, http.StatusNotFound, "DEVICE_NOT_FOUND"},
		{"real without nmap", StartScanRequest{DeviceID: d.ID.String(), Mode: "real"}, http.StatusServiceUnavailable, "TOOL_UNAVAILABLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/scans", tt.body)
			require.Equal(t, tt.want, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestStartScanValidationFields(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/scans", StartScanRequest{DeviceID: "nope", Mode: "deep"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, map[string]string{"device_id": "uuid", "mode": "oneof"}, resp.Fields)
}

func TestStartScanConflict(t *testing.T) {
	f := newFixture(t, nil)
	d := f.device(t, "192.168.1.22")

	first := f.do(t, http.MethodPost, "/api/v1/scans", StartScanRequest{DeviceID: d.ID.String()})
	require.Equal(t, http.StatusAccepted, first.Code)

	second := f.do(t, http.MethodPost, "/api/v1/scans", StartScanRequest{DeviceID: d.ID.String()})
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Equal(t, "CONFLICT", decode[ErrorResponse](t, second).Code)
}

func TestGetAndStopScan(t *testing.T) {
	f := newFixture(t, nil)
	d := f.device(t, "192.168.1.23")

	started := decode[store.Job](t, f.do(t, http.MethodPost, "/api/v1/scans", StartScanRequest{DeviceID: d.ID.String()}))
	path := "/api/v1/scans/" + started.ID.String()

	rec := f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, started.ID, decode[store.Job](t, rec).ID)

	rec = f.do(t, http.MethodPost, path+"/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stopped := decode[store.Job](t, rec)
	assert.Equal(t, store.JobStopped, stopped.Status)
	assert.NotNil(t, stopped.EndTime)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := f.engine.Wait(ctx, started.ID)
	require.NoError(t, err)

	rec = f.do(t, http.MethodPost, path+"/stop", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "stopping a finished job")
	assert.Equal(t, "INVALID_TRANSITION", decode[ErrorResponse](t, rec).Code)

	rec = f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.JobStopped, decode[store.Job](t, rec).Status)
}

func TestScanNotFound(t *testing.T) {
	f := newFixture(t, nil)
	missing := "/api/v1/scans/" + uuid.NewString()

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, missing, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, missing+"/stop", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, missing+"/findings", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/scans/not-a-uuid", nil).Code)
}

func TestListScans(t *testing.T) {
	f := newFixture(t, nil)
	a := f.device(t, "192.168.1.24")
	b := f.device(t, "192.168.1.25")

	jobA := decode[store.Job](t, f.do(t, http.MethodPost, "/api/v1/scans", StartScanRequest{DeviceID: a.ID.String()}))
	f.do(t, http.MethodPost, "/api/v1/scans", StartScanRequest{DeviceID: b.ID.String()})
	f.do(t, http.MethodPost, "/api/v1/scans/"+jobA.ID.String()+"/stop", nil)

	all := decode[listOf[store.Job]](t, f.do(t, http.MethodGet, "/api/v1/scans", nil))
	assert.Equal(t, 2, all.Total)

	byDevice := decode[listOf[store.Job]](t, f.do(t, http.MethodGet, "/api/v1/scans?device_id="+a.ID.String(), nil))
	require.Equal(t, 1, byDevice.Total)
	assert.Equal(t, jobA.ID, byDevice.Data[0].ID)

	running := decode[listOf[store.Job]](t, f.do(t, http.MethodGet, "/api/v1/scans?status=running", nil))
	require.Equal(t, 1, running.Total)
	assert.Equal(t, b.ID, running.Data[0].DeviceID)

	for _, q := range []string{"status=paused", "device_id=x", "limit=-1", "limit=ten"} {
		assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/scans?"+q, nil).Code, q)
	}
}

func TestGetScanFindings(t *testing.T) {
	f := newFixture(t, nil)
	d := f.device(t, "192.168.1.26")
	job := decode[store.Job](t, f.do(t, http.MethodPost, "/api/v1/scans", StartScanRequest{DeviceID: d.ID.String()}))

	rec := f.do(t, http.MethodGet, "/api/v1/scans/"+job.ID.String()+"/findings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[],"total":0}`, rec.Body.String())

	require.NoError(t, f.store.RecordScanFinding(context.Background(), &store.ScanFinding{
		JobID: job.ID, VulnerabilityID: "IOT-TELNET-001", Details: "telnet open", RecordedAt: time.Now(),
	}))
	list := decode[listOf[store.ScanFinding]](t, f.do(t, http.MethodGet, "/api/v1/scans/"+job.ID.String()+"/findings", nil))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "IOT-TELNET-001", list.Data[0].VulnerabilityID)
}
