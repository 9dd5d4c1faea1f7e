package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/iotaudit/internal/store"
)

// seedCatalog links three definitions to two devices.
func seedCatalog(t *testing.T, f *fixture) (cam, hub *store.Device) {
	t.Helper()
	ctx := context.Background()
	cam = &store.Device{Name: "Front Door Cam", IPAddress: "192.168.1.80", Type: "camera"}
	hub = &store.Device{Name: "zigbee hub", IPAddress: "192.168.1.81", Type: "hub"}
	require.NoError(t, f.store.CreateDevice(ctx, cam))
	require.NoError(t, f.store.CreateDevice(ctx, hub))

	for _, def := range []*store.VulnerabilityDefinition{
		{ID: "IOT-HTTP-001", Title: "Unencrypted web interface", Severity: "medium", CVSS: 5.3},
		{ID: "IOT-TELNET-001", Title: "Telnet service exposed", Severity: "high", CVSS: 7.5},
		{ID: "CVE-2021-36260", Title: "Command injection", Severity: "critical", CVSS: 9.8},
	} {
		_, err := f.store.UpsertVulnerabilityDefinition(ctx, def)
		require.NoError(t, err)
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, f.store.LinkFindingToDevice(ctx, cam.ID, "IOT-HTTP-001", store.FindingOpen, at))
	require.NoError(t, f.store.LinkFindingToDevice(ctx, cam.ID, "CVE-2021-36260", store.FindingOpen, at))
	require.NoError(t, f.store.LinkFindingToDevice(ctx, hub.ID, "IOT-HTTP-001", store.FindingMitigated, at.Add(time.Hour)))
	return cam, hub
}

func TestListVulnerabilities(t *testing.T) {
	f := newFixture(t, nil)
	cam, _ := seedCatalog(t, f)

	rec := f.do(t, http.MethodGet, "/api/v1/vulnerabilities", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	list := decode[listOf[VulnerabilityResponse]](t, rec)
	require.Equal(t, 3, list.Total)

	var ids []string
	for _, v := range list.Data {
		ids = append(ids, v.ID)
	}
	assert.Equal(t, []string{"CVE-2021-36260", "IOT-TELNET-001", "IOT-HTTP-001"}, ids, "highest CVSS first")
	assert.Len(t, list.Data[2].Devices, 2)
	assert.Empty(t, list.Data[1].Devices)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"by severity", "?severity=medium", []string{"IOT-HTTP-001"}},
		{"by device name ignoring case", "?device=door%20CAM", []string{"CVE-2021-36260", "IOT-HTTP-001"}},
		{"both filters", "?severity=critical&device=hub", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/api/v1/vulnerabilities"+tt.query, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			list := decode[listOf[VulnerabilityResponse]](t, rec)
			var got []string
			for _, v := range list.Data {
				got = append(got, v.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	rec = f.do(t, http.MethodGet, "/api/v1/vulnerabilities?device=door", nil)
	list = decode[listOf[VulnerabilityResponse]](t, rec)
	require.NotEmpty(t, list.Data)
	assert.Equal(t, cam.ID, list.Data[0].Devices[0].DeviceID)
}

func TestListVulnerabilitiesRejectsUnknownSeverity(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/vulnerabilities?severity=urgent", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION", decode[ErrorResponse](t, rec).Code)
}

func TestGetVulnerability(t *testing.T) {
	f := newFixture(t, nil)
	cam, hub := seedCatalog(t, f)

	rec := f.do(t, http.MethodGet, "/api/v1/vulnerabilities/IOT-HTTP-001", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[VulnerabilityResponse](t, rec)
	assert.Equal(t, "Unencrypted web interface", got.Title)
	require.Len(t, got.Devices, 2)

	assert.Equal(t, hub.ID, got.Devices[0].DeviceID, "most recently detected first")
	assert.Equal(t, store.FindingMitigated, got.Devices[0].Status)
	assert.Equal(t, "zigbee hub", got.Devices[0].Name)
	assert.Equal(t, cam.ID, got.Devices[1].DeviceID)
	assert.Equal(t, "192.168.1.80", got.Devices[1].IPAddress)

	rec = f.do(t, http.MethodGet, "/api/v1/vulnerabilities/IOT-NOPE-001", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVulnerabilityStats(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/vulnerabilities/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, store.SeverityCounts{}, decode[store.SeverityCounts](t, rec))

	seedCatalog(t, f)
	rec = f.do(t, http.MethodGet, "/api/v1/vulnerabilities/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.SeverityCounts{Total: 3, Critical: 1, High: 1, Medium: 1}, decode[store.SeverityCounts](t, rec))
}
