package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/iotaudit/internal/api/middleware"
	"github.com/anstrom/iotaudit/internal/config"
	"github.com/anstrom/iotaudit/internal/discovery"
	"github.com/anstrom/iotaudit/internal/logging"
	"github.com/anstrom/iotaudit/internal/scanning"
	"github.com/anstrom/iotaudit/internal/store"
)

type fixture struct {
	store  *store.Memory
	engine *scanning.Engine
	router *mux.Router
}

type stubDiscoverer struct {
	result *discovery.Result
	err    error
	subnet string
}

func (d *stubDiscoverer) Discover(_ context.Context, subnet string) (*discovery.Result, error) {
	d.subnet = subnet
	return d.result, d.err
}

// newFixture mounts every handler on a router backed by an in-memory
// store and an engine whose simulated scans never tick.
func newFixture(t *testing.T, disc Discoverer) *fixture {
	t.Helper()

	st := store.NewMemory()
	cfg := config.Default().Engine
	cfg.TickInterval = time.Hour
	engine := scanning.NewEngine(scanning.Options{Store: st, Config: &cfg, Logger: logging.Discard()})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = engine.Shutdown(ctx)
	})

	logger := logging.Discard()
	r := mux.NewRouter()
	r.Use(middleware.RequestID())

	devices := NewDeviceHandler(st, engine, logger, 0)
	r.HandleFunc("/api/v1/devices", devices.ListDevices).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/devices", devices.CreateDevice).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/devices/{id}", devices.GetDevice).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/devices/{id}", devices.UpdateDevice).Methods(http.MethodPut)
	r.HandleFunc("/api/v1/devices/{id}", devices.DeleteDevice).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/devices/{id}/findings", devices.GetDeviceFindings).Methods(http.MethodGet)

	vulns := NewVulnerabilityHandler(st, logger)
	r.HandleFunc("/api/v1/vulnerabilities", vulns.ListVulnerabilities).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/vulnerabilities/stats", vulns.VulnerabilityStats).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/vulnerabilities/{id}", vulns.GetVulnerability).Methods(http.MethodGet)

	scans := NewScanHandler(engine, st, logger, 0)
	r.HandleFunc("/api/v1/scans", scans.ListScans).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/scans", scans.StartScan).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/scans/{id}", scans.GetScan).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/scans/{id}/stop", scans.StopScan).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/scans/{id}/findings", scans.GetScanFindings).Methods(http.MethodGet)

	if disc != nil {
		h := NewDiscoveryHandler(disc, logger, 0)
		r.HandleFunc("/api/v1/discovery", h.Discover).Methods(http.MethodPost)
	}

	return &fixture{store: st, engine: engine, router: r}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) device(t *testing.T, ip string) *store.Device {
	t.Helper()
	d := &store.Device{Name: "cam-" + ip, IPAddress: ip, Type: "camera"}
	require.NoError(t, f.store.CreateDevice(context.Background(), d))
	return d
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}
