package bolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/iotaudit/internal/store"
	"github.com/anstrom/iotaudit/internal/store/storetest"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "iotaudit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBoltContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openTemp(t)
	})
}

func TestBoltPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := Open(path)
	require.NoError(t, err)

	dev := &store.Device{Name: "doorbell", IPAddress: "192.168.1.50"}
	require.NoError(t, s.CreateDevice(ctx, dev))
	job := &store.Job{
		ID:        uuid.New(),
		DeviceID:  dev.ID,
		Mode:      store.ModeReal,
		Status:    store.JobFailed,
		Error:     "nmap exited with code 1",
		StartTime: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Phases:    []store.PhaseState{{Name: "Initializing Scanner", Progress: 100, Status: store.PhaseCompleted}},
	}
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobFailed, got.Status)
	assert.Equal(t, "nmap exited with code 1", got.Error)
	assert.Equal(t, "Initializing Scanner", got.Phases[0].Name)

	gotDev, err := reopened.GetDevice(ctx, dev.ID)
	require.NoError(t, err)
	assert.Equal(t, "doorbell", gotDev.Name)
}

func TestBoltLinkKeysDoNotBleedAcrossDevices(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	a := &store.Device{Name: "a", IPAddress: "10.0.0.1"}
	b := &store.Device{Name: "b", IPAddress: "10.0.0.2"}
	require.NoError(t, s.CreateDevice(ctx, a))
	require.NoError(t, s.CreateDevice(ctx, b))
	for _, id := range []string{"IOT-HTTP-001", "IOT-MQTT-001"} {
		_, err := s.UpsertVulnerabilityDefinition(ctx, &store.VulnerabilityDefinition{ID: id})
		require.NoError(t, err)
	}

	now := time.Now().UTC()
	require.NoError(t, s.LinkFindingToDevice(ctx, a.ID, "IOT-HTTP-001", store.FindingOpen, now))
	require.NoError(t, s.LinkFindingToDevice(ctx, b.ID, "IOT-MQTT-001", store.FindingOpen, now))

	links, err := s.ListDeviceFindings(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "IOT-HTTP-001", links[0].VulnerabilityID)

	err = s.LinkFindingToDevice(ctx, a.ID, "CVE-1999-0001", store.FindingOpen, now)
	assert.Error(t, err, "unknown definitions cannot be linked")
}

func TestOpenFailsOnDirectory(t *testing.T) {
	_, err := Open(t.TempDir())
	assert.Error(t, err)
}
