package scanning

import (
	"context"
	"net"

	"github.com/anstrom/iotaudit/internal/heuristics"
	"github.com/anstrom/iotaudit/internal/logging"
	"github.com/anstrom/iotaudit/internal/metrics"
	"github.com/anstrom/iotaudit/internal/parser"
	"github.com/anstrom/iotaudit/internal/probe"
	"github.com/anstrom/iotaudit/internal/store"
)

const halfway = 50

// Result metadata keys attached to completed real scans.
const (
	MetaPortsFound           = "portsFound"
	MetaVulnerabilitiesFound = "vulnerabilitiesFound"
	MetaOSDetected           = "osDetected"
)

// realDriver audits a device with nmap and records what it finds.
type realDriver struct {
	store     store.Store
	runner    probe.Runner
	builder   *probe.NmapBuilder
	detector  *heuristics.Detector
	resources ResourceManager
	clock     Clock
	metrics   metrics.Recorder
	logger    *logging.Logger
}

func (d *realDriver) run(ctx context.Context, job *Job, device *store.Device) error {
	jobID := job.ID().String()
	logger := d.logger.WithJobID(jobID).WithDevice(device.ID.String(), device.IPAddress)

	if err := d.resources.Acquire(ctx, jobID); err != nil {
		return err
	}
	defer d.resources.Release(jobID)

	if err := job.AdvancePhase(ctx, phaseInitializing, maxProgress); err != nil {
		return err
	}

	if err := job.AdvancePhase(ctx, phaseDiscovery, halfway); err != nil {
		return err
	}
	up, err := d.hostUp(ctx, device.IPAddress)
	if err != nil {
		return err
	}
	if !up {
		logger.Warn("Host did not answer liveness check, probing without host discovery")
	}
	if err := job.AdvancePhase(ctx, phaseDiscovery, maxProgress); err != nil {
		return err
	}

	if err := job.AdvancePhase(ctx, phasePortScan, halfway); err != nil {
		return err
	}
	result, err := d.audit(ctx, logger, device.IPAddress, !up)
	if err != nil {
		return err
	}
	for _, idx := range []int{phasePortScan, phaseServiceDetection, phaseOSFingerprint} {
		if err := job.AdvancePhase(ctx, idx, maxProgress); err != nil {
			return err
		}
	}

	findings := make([]parser.Finding, 0, len(result.Findings))
	findings = append(findings, result.Findings...)
	findings = append(findings, d.detector.Detect(result.Ports)...)
	if err := job.AdvancePhase(ctx, phaseVulnDetection, maxProgress); err != nil {
		return err
	}

	if err := job.AdvancePhase(ctx, phaseAnalysis, halfway); err != nil {
		return err
	}
	distinct, err := d.record(ctx, job, device, findings)
	if err != nil {
		return err
	}
	snapshot := store.DeviceSnapshot{
		Ports:              result.OpenPorts(),
		Services:           result.Services(),
		OS:                 result.OSName(),
		VulnerabilityCount: distinct,
		LastScan:           d.clock.Now(),
	}
	if err := d.store.UpdateDeviceSnapshot(ctx, device.ID, snapshot); err != nil {
		return err
	}
	if err := job.AdvancePhase(ctx, phaseAnalysis, maxProgress); err != nil {
		return err
	}

	logger.InfoScan("Real scan finished", jobID,
		"ports_found", len(snapshot.Ports),
		"vulnerabilities_found", distinct,
		"os", snapshot.OS)
	return job.Complete(ctx, map[string]any{
		MetaPortsFound:           len(snapshot.Ports),
		MetaVulnerabilitiesFound: distinct,
		MetaOSDetected:           snapshot.OS,
	})
}

// hostUp runs a ping sweep against a single address.
func (d *realDriver) hostUp(ctx context.Context, ip string) (bool, error) {
	cmd, err := d.builder.PingSweep(ip)
	if err != nil {
		return false, err
	}
	out, err := d.runner.Run(ctx, cmd)
	if err != nil {
		return false, err
	}
	target := net.ParseIP(ip)
	for _, host := range parser.ParseDiscovery(out.Stdout) {
		if net.ParseIP(host).Equal(target) {
			return true, nil
		}
	}
	return false, nil
}

func (d *realDriver) audit(ctx context.Context, logger *logging.Logger, ip string, skipDiscovery bool) (*parser.ProbeResult, error) {
	cmd, err := d.builder.Audit(ip, skipDiscovery)
	if err != nil {
		return nil, err
	}
	logger.Info("Running audit probe", "command", cmd.String())

	out, err := d.runner.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if out.Truncated {
		logger.Warn("Probe output exceeded the capture limit and was truncated", "limit", cmd.MaxOutputBytes)
	}

	result := parser.ParseReport(ip, out.Stdout)
	if result.Partial {
		logger.Warn("Probe report could not be fully decoded, using partial results",
			"ports", len(result.Ports), "findings", len(result.Findings))
	}
	return result, nil
}

// record stores every finding against the device and the job and returns
// the number of distinct vulnerabilities.
func (d *realDriver) record(ctx context.Context, job *Job, device *store.Device, findings []parser.Finding) (int, error) {
	seen := make(map[string]bool, len(findings))
	for _, f := range findings {
		now := d.clock.Now()
		remediation := f.Remediation
		if remediation == "" {
			remediation = store.DefaultRemediation
		}
		def, err := d.store.UpsertVulnerabilityDefinition(ctx, &store.VulnerabilityDefinition{
			ID:           f.ID,
			Title:        f.Title,
			Severity:     string(f.Severity),
			CVSS:         f.CVSS,
			Description:  f.Description,
			Impact:       store.DefaultImpact,
			Remediation:  remediation,
			DiscoveredAt: now,
		})
		if err != nil {
			return 0, err
		}
		if err := d.store.LinkFindingToDevice(ctx, device.ID, def.ID, store.FindingOpen, now); err != nil {
			return 0, err
		}
		if err := d.store.RecordScanFinding(ctx, &store.ScanFinding{
			JobID:           job.ID(),
			VulnerabilityID: def.ID,
			Details:         f.Description,
			RecordedAt:      now,
		}); err != nil {
			return 0, err
		}
		d.metrics.FindingRecorded(f.Source, string(f.Severity))
		seen[def.ID] = true
	}
	return len(seen), nil
}
