package scanning

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/iotaudit/internal/config"
	"github.com/anstrom/iotaudit/internal/errors"
	"github.com/anstrom/iotaudit/internal/mocks"
	"github.com/anstrom/iotaudit/internal/probe"
	"github.com/anstrom/iotaudit/internal/store"
)

const tick = 3 * time.Second

const deviceXML = `<?xml version="1.0" encoding="UTF-8"?>
<nmaprun scanner="nmap" version="7.94">
<host>
<status state="up" reason="echo-reply"/>
<address addr="%s" addrtype="ipv4"/>
<ports>
<port protocol="tcp" portid="23"><state state="open" reason="syn-ack"/><service name="telnet"/></port>
<port protocol="tcp" portid="80"><state state="open" reason="syn-ack"/><service name="http" product="lighttpd"/>
<script id="http-vuln-cve2017-1001000" output="VULNERABLE: remote code execution CVE-2017-1001000"/>
</port>
</ports>
<os><osmatch name="Linux 3.2 - 4.9" accuracy="96" line="1"/></os>
</host>
</nmaprun>`

type engineFixture struct {
	engine *Engine
	store  *store.Memory
	sink   *recordingSink
	clock  *fakeClock
	runner *mocks.MockRunner
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &engineFixture{
		store:  store.NewMemory(),
		sink:   &recordingSink{},
		clock:  newFakeClock(),
		runner: mocks.NewMockRunner(ctrl),
	}
	cfg := config.Default().Engine
	cfg.TickInterval = tick
	f.engine = NewEngine(Options{
		Store:  f.store,
		Sink:   f.sink,
		Runner: f.runner,
		Config: &cfg,
		Clock:  f.clock,
		Logger: testLogger(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.engine.Shutdown(ctx)
	})
	return f
}

func (f *engineFixture) wait(t *testing.T, id uuid.UUID) *store.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job, err := f.engine.Wait(ctx, id)
	require.NoError(t, err)
	return job
}

// fakeNmap answers probe commands with canned output.
func (f *engineFixture) fakeNmap(up bool) *[]probe.Command {
	var seen []probe.Command
	f.runner.EXPECT().IsAvailable(gomock.Any()).Return(true).AnyTimes()
	f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, cmd probe.Command) (*probe.Output, error) {
			seen = append(seen, cmd)
			target := cmd.Args[len(cmd.Args)-3]
			switch cmd.Kind {
			case probe.KindSweep:
				if !up {
					return &probe.Output{Stdout: []byte("# Nmap done: 1 IP address (0 hosts up)\n")}, nil
				}
				return &probe.Output{Stdout: []byte("Host: " + target + " ()\tStatus: Up\n")}, nil
			default:
				return &probe.Output{Stdout: []byte(strings.ReplaceAll(deviceXML, "%s", target))}, nil
			}
		}).AnyTimes()
	return &seen
}

func TestEngine_SimulatedCompletesAfterSixTicks(t *testing.T) {
	f := newEngineFixture(t)
	device := newDevice(t, f.store, "192.168.1.20")

	job, err := f.engine.StartSimulated(context.Background(), device.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobRunning, job.Status)
	assert.Equal(t, store.ModeSimulated, job.Mode)
	assert.Equal(t, 0, job.CurrentPhase())

	for i := 0; i < len(SimulatedPhases); i++ {
		f.clock.BlockUntil(t, 1)
		f.clock.Advance(tick)
	}

	done := f.wait(t, job.ID)
	assert.Equal(t, store.JobCompleted, done.Status)
	assert.Equal(t, 6*tick, done.Duration.Std())
	require.NotNil(t, done.EndTime)
	for _, p := range done.Phases {
		assert.Equal(t, tick, p.Elapsed.Std(), p.Name)
	}

	events := f.sink.events()
	assert.Equal(t, []string{"progress", "progress", "progress", "progress", "progress", "progress", "completed"}, events)
	for i, e := range f.sink.progressEvents() {
		assert.Equal(t, i, e.PhaseIndex)
		assert.Equal(t, SimulatedPhases[i], e.Phase)
		requirePhaseInvariant(t, e.Phases)
	}

	stored, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, stored.Status)
	assert.Empty(t, f.engine.Active())
}

func TestEngine_StartValidation(t *testing.T) {
	f := newEngineFixture(t)
	device := newDevice(t, f.store, "192.168.1.21")

	_, err := f.engine.Start(context.Background(), uuid.New(), store.ModeSimulated)
	assert.True(t, errors.IsCode(err, errors.CodeDeviceNotFound), "got %v", err)

	_, err = f.engine.Start(context.Background(), device.ID, store.ScanMode("aggressive"))
	assert.True(t, errors.IsCode(err, errors.CodeValidation), "got %v", err)

	jobs, err := f.store.ListJobs(context.Background(), store.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestEngine_RealScanNeedsTool(t *testing.T) {
	t.Run("runner reports unavailable", func(t *testing.T) {
		f := newEngineFixture(t)
		device := newDevice(t, f.store, "192.168.1.22")
		f.runner.EXPECT().IsAvailable(gomock.Any()).Return(false)

		_, err := f.engine.StartReal(context.Background(), device.ID)
		assert.True(t, errors.IsCode(err, errors.CodeToolUnavailable), "got %v", err)

		jobs, err := f.store.ListJobs(context.Background(), store.JobFilter{})
		require.NoError(t, err)
		assert.Empty(t, jobs, "no job is created")
		assert.Empty(t, f.sink.events())
	})

	t.Run("no runner configured", func(t *testing.T) {
		st := store.NewMemory()
		engine := NewEngine(Options{Store: st, Logger: testLogger()})
		defer func() { _ = engine.Shutdown(context.Background()) }()
		device := newDevice(t, st, "192.168.1.23")

		_, err := engine.StartReal(context.Background(), device.ID)
		assert.True(t, errors.IsCode(err, errors.CodeToolUnavailable), "got %v", err)
	})

	t.Run("device address must be an IP", func(t *testing.T) {
		f := newEngineFixture(t)
		device := newDevice(t, f.store, "-oN/etc/passwd")
		f.runner.EXPECT().IsAvailable(gomock.Any()).Return(true)

		_, err := f.engine.StartReal(context.Background(), device.ID)
		assert.True(t, errors.IsCode(err, errors.CodeTargetInvalid), "got %v", err)
	})
}

func TestEngine_OneRunningJobPerDevice(t *testing.T) {
	f := newEngineFixture(t)
	device := newDevice(t, f.store, "192.168.1.24")
	other := newDevice(t, f.store, "192.168.1.25")

	first, err := f.engine.StartSimulated(context.Background(), device.ID)
	require.NoError(t, err)

	_, err = f.engine.StartSimulated(context.Background(), device.ID)
	assert.True(t, errors.IsCode(err, errors.CodeConflict), "got %v", err)

	_, err = f.engine.StartSimulated(context.Background(), other.ID)
	require.NoError(t, err, "other devices are independent")

	_, err = f.engine.Stop(context.Background(), first.ID)
	require.NoError(t, err)
	f.wait(t, first.ID)

	_, err = f.engine.StartSimulated(context.Background(), device.ID)
	assert.NoError(t, err, "device is free again once its job finished")
}

func TestEngine_StopMidPhase(t *testing.T) {
	f := newEngineFixture(t)
	device := newDevice(t, f.store, "192.168.1.26")

	job, err := f.engine.StartSimulated(context.Background(), device.ID)
	require.NoError(t, err)

	f.clock.BlockUntil(t, 1)
	f.clock.Advance(tick)
	f.clock.BlockUntil(t, 1)

	stopped, err := f.engine.Stop(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobStopped, stopped.Status)
	require.NotNil(t, stopped.EndTime)

	done := f.wait(t, job.ID)
	assert.Equal(t, store.JobStopped, done.Status)

	f.clock.Advance(10 * tick)
	assert.Equal(t, []string{"progress", "stopped"}, f.sink.events(), "no progress after stop and no failure")

	_, err = f.engine.Stop(context.Background(), job.ID)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidTransition), "got %v", err)

	_, err = f.engine.Stop(context.Background(), uuid.New())
	assert.True(t, errors.IsCode(err, errors.CodeNotFound), "got %v", err)
}

func TestEngine_GetAndList(t *testing.T) {
	f := newEngineFixture(t)
	device := newDevice(t, f.store, "192.168.1.27")

	job, err := f.engine.StartSimulated(context.Background(), device.ID)
	require.NoError(t, err)

	live, err := f.engine.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobRunning, live.Status)
	assert.Len(t, f.engine.Active(), 1)
	assert.Equal(t, 1, f.engine.Stats()["running_jobs"])

	jobs, err := f.engine.List(context.Background(), store.JobFilter{DeviceID: device.ID})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)

	_, err = f.engine.Get(context.Background(), uuid.New())
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestEngine_ShutdownStopsJobsAndRejectsNewOnes(t *testing.T) {
	f := newEngineFixture(t)
	a := newDevice(t, f.store, "192.168.1.28")
	b := newDevice(t, f.store, "192.168.1.29")

	ja, err := f.engine.StartSimulated(context.Background(), a.ID)
	require.NoError(t, err)
	jb, err := f.engine.StartSimulated(context.Background(), b.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.engine.Shutdown(ctx))

	for _, id := range []uuid.UUID{ja.ID, jb.ID} {
		stored, err := f.store.GetJob(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, store.JobStopped, stored.Status)
	}

	_, err = f.engine.StartSimulated(context.Background(), a.ID)
	assert.True(t, errors.IsCode(err, errors.CodeServiceUnavailable), "got %v", err)
}

func TestEngine_RealScanRecordsFindings(t *testing.T) {
	f := newEngineFixture(t)
	device := newDevice(t, f.store, "192.168.1.50")
	seen := f.fakeNmap(true)
	ctx := context.Background()

	job, err := f.engine.StartReal(ctx, device.ID)
	require.NoError(t, err)
	assert.Len(t, job.Phases, len(RealPhases))

	done := f.wait(t, job.ID)
	require.Equal(t, store.JobCompleted, done.Status, done.Error)
	assert.Equal(t, map[string]any{
		MetaPortsFound:           2,
		MetaVulnerabilitiesFound: 4,
		MetaOSDetected:           "Linux 3.2 - 4.9",
	}, done.Result)

	require.Len(t, *seen, 2)
	assert.Equal(t, probe.KindSweep, (*seen)[0].Kind)
	assert.Equal(t, probe.KindAudit, (*seen)[1].Kind)
	assert.NotContains(t, (*seen)[1].Args, "-Pn")

	var trail []string
	for _, e := range f.sink.progressEvents() {
		trail = append(trail, e.Phase+"@"+strconv.Itoa(e.Progress))
		requirePhaseInvariant(t, e.Phases)
	}
	assert.Equal(t, []string{
		"Initializing Scanner@100",
		"Network Discovery@50",
		"Network Discovery@100",
		"Port Scanning (nmap)@50",
		"Port Scanning (nmap)@100",
		"Service Detection@100",
		"OS Fingerprinting@100",
		"Vulnerability Detection@100",
		"Analyzing Results@50",
		"Analyzing Results@100",
	}, trail)

	updated, err := f.store.GetDevice(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{23, 80}, updated.Ports)
	assert.Equal(t, []string{"telnet", "http"}, updated.Services)
	assert.Equal(t, "Linux 3.2 - 4.9", updated.OS)
	assert.Equal(t, 4, updated.VulnerabilityCount)
	assert.NotNil(t, updated.LastScan)

	links, err := f.store.ListDeviceFindings(ctx, device.ID)
	require.NoError(t, err)
	var ids []string
	for _, l := range links {
		ids = append(ids, l.VulnerabilityID)
		assert.Equal(t, store.FindingOpen, l.Status)
	}
	slices.Sort(ids)
	assert.Equal(t, []string{"CVE-2017-1001000", "IOT-CRED-001", "IOT-HTTP-001", "IOT-TELNET-001"}, ids)

	recorded, err := f.store.ListScanFindings(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, recorded, 4)

	def, err := f.store.GetVulnerabilityDefinition(ctx, "CVE-2017-1001000")
	require.NoError(t, err)
	assert.Equal(t, "critical", def.Severity)
	assert.Equal(t, store.DefaultImpact, def.Impact)
	assert.Equal(t, store.DefaultRemediation, def.Remediation)

	telnet, err := f.store.GetVulnerabilityDefinition(ctx, "IOT-TELNET-001")
	require.NoError(t, err)
	assert.Contains(t, telnet.Remediation, "SSH")
}

func TestEngine_SameVulnerabilityAcrossDevices(t *testing.T) {
	f := newEngineFixture(t)
	f.fakeNmap(true)
	ctx := context.Background()

	var devices []*store.Device
	for _, ip := range []string{"192.168.1.60", "192.168.1.61"} {
		d := newDevice(t, f.store, ip)
		devices = append(devices, d)
		job, err := f.engine.StartReal(ctx, d.ID)
		require.NoError(t, err)
		require.Equal(t, store.JobCompleted, f.wait(t, job.ID).Status)
	}

	def, err := f.store.GetVulnerabilityDefinition(ctx, "IOT-TELNET-001")
	require.NoError(t, err)
	assert.Equal(t, "IOT-TELNET-001", def.ID)

	for _, d := range devices {
		links, err := f.store.ListDeviceFindings(ctx, d.ID)
		require.NoError(t, err)
		assert.Len(t, links, 4)
	}
}

func TestEngine_RealScanHostDownUsesNoPing(t *testing.T) {
	f := newEngineFixture(t)
	device := newDevice(t, f.store, "192.168.1.51")
	seen := f.fakeNmap(false)

	job, err := f.engine.StartReal(context.Background(), device.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, f.wait(t, job.ID).Status)

	require.Len(t, *seen, 2)
	assert.Contains(t, (*seen)[1].Args, "-Pn")
}

func TestEngine_RealScanProbeFailureFailsJob(t *testing.T) {
	f := newEngineFixture(t)
	device := newDevice(t, f.store, "192.168.1.52")
	f.runner.EXPECT().IsAvailable(gomock.Any()).Return(true)
	gomock.InOrder(
		f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(
			&probe.Output{Stdout: []byte("Host: 192.168.1.52 ()\tStatus: Up\n")}, nil),
		f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(nil,
			&errors.ProcessError{Command: "nmap", ExitCode: 1, Stderr: "requires root privileges"}),
	)

	job, err := f.engine.StartReal(context.Background(), device.ID)
	require.NoError(t, err)

	done := f.wait(t, job.ID)
	assert.Equal(t, store.JobFailed, done.Status)
	assert.Contains(t, done.Error, "requires root privileges")
	assert.Equal(t, 2, done.CurrentPhase(), "failed while port scanning")
	require.Len(t, f.sink.failed, 1)

	findings, err := f.store.ListScanFindings(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestEngine_StopKillsInFlightProbe(t *testing.T) {
	f := newEngineFixture(t)
	device := newDevice(t, f.store, "192.168.1.53")
	probing := make(chan struct{})
	f.runner.EXPECT().IsAvailable(gomock.Any()).Return(true)
	f.runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ probe.Command) (*probe.Output, error) {
			close(probing)
			<-ctx.Done()
			return nil, errors.WrapScanError(errors.CodeCanceled, "probe canceled", ctx.Err())
		})

	job, err := f.engine.StartReal(context.Background(), device.ID)
	require.NoError(t, err)

	select {
	case <-probing:
	case <-time.After(2 * time.Second):
		t.Fatal("probe never started")
	}
	_, err = f.engine.Stop(context.Background(), job.ID)
	require.NoError(t, err)

	done := f.wait(t, job.ID)
	assert.Equal(t, store.JobStopped, done.Status)
	assert.Empty(t, f.sink.failed, "cancellation after stop is not a failure")
	assert.Len(t, f.sink.stopped, 1)
}

// gatedStore holds CreateJob until release is closed.
type gatedStore struct {
	*store.Memory
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) CreateJob(ctx context.Context, job *store.Job) error {
	close(g.entered)
	<-g.release
	return g.Memory.CreateJob(ctx, job)
}

func TestEngine_ShutdownWaitsForJobBeingCreated(t *testing.T) {
	st := &gatedStore{Memory: store.NewMemory(), entered: make(chan struct{}), release: make(chan struct{})}
	device := newDevice(t, st, "192.168.1.31")
	cfg := config.Default().Engine
	cfg.TickInterval = tick
	engine := NewEngine(Options{
		Store:  st,
		Sink:   &recordingSink{},
		Config: &cfg,
		Clock:  newFakeClock(),
		Logger: testLogger(),
	})

	type startResult struct {
		job *store.Job
		err error
	}
	started := make(chan startResult, 1)
	go func() {
		job, err := engine.StartSimulated(context.Background(), device.ID)
		started <- startResult{job, err}
	}()
	<-st.entered

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		stopped <- engine.Shutdown(ctx)
	}()

	require.Eventually(t, func() bool {
		engine.registry.mu.Lock()
		defer engine.registry.mu.Unlock()
		return engine.registry.closing
	}, time.Second, time.Millisecond)
	select {
	case <-stopped:
		t.Fatal("shutdown returned before the pending job was settled")
	default:
	}

	close(st.release)
	res := <-started
	assert.True(t, errors.IsCode(res.err, errors.CodeServiceUnavailable), "got %v", res.err)
	require.NoError(t, <-stopped)

	jobs, err := st.ListJobs(context.Background(), store.JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, store.JobStopped, jobs[0].Status)
	assert.Empty(t, engine.Active())
}
