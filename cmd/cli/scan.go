package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/iotaudit/internal/errors"
	"github.com/anstrom/iotaudit/internal/store"
)

var (
	scanIP      string
	scanName    string
	scanType    string
	scanMode    string
	scanTimeout time.Duration
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan one device in the foreground",
	Long: `Register a device (or reuse the one already registered at the address),
run a full phased scan against it and print the phase and finding tables.

Simulated mode walks the phases on a timer without touching the network.
Real mode runs nmap and needs it installed.`,
	Example: `  iotaudit scan --ip 192.168.1.20
  iotaudit scan --ip 192.168.1.20 --mode real --name "front door camera"
  iotaudit scan --ip 10.0.0.5 --mode real --store bolt`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVar(&scanIP, "ip", "", "device IP address")
	scanCmd.Flags().StringVar(&scanName, "name", "", "device name used when registering (default: the address)")
	scanCmd.Flags().StringVar(&scanType, "type", "unknown", "device type used when registering")
	scanCmd.Flags().StringVar(&scanMode, "mode", string(store.ModeSimulated), "scan mode: simulated or real")
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", time.Hour, "maximum time to wait for the scan")
	_ = scanCmd.MarkFlagRequired("ip")
}

func runScan(cmd *cobra.Command, _ []string) error {
	mode := store.ScanMode(scanMode)
	if !mode.Valid() {
		return fmt.Errorf("invalid scan mode %q: valid modes are simulated and real", scanMode)
	}
	if net.ParseIP(scanIP) == nil {
		return fmt.Errorf("invalid IP address %q", scanIP)
	}

	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	logger := initLogging(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
		defer cancel()
		_ = a.close(shutdownCtx)
	}()

	name := scanName
	if name == "" {
		name = scanIP
	}
	job, err := runScanJob(ctx, a, deviceSpec{IP: scanIP, Name: name, Type: scanType}, mode, os.Stdout)
	if err != nil {
		return err
	}
	if job.Status == store.JobFailed {
		return fmt.Errorf("scan failed: %s", job.Error)
	}
	return nil
}

type deviceSpec struct {
	IP   string
	Name string
	Type string
}

// ensureDevice returns the device registered at spec.IP, creating it when
// the address is unknown.
func ensureDevice(ctx context.Context, st store.Store, spec deviceSpec) (*store.Device, error) {
	device, err := st.GetDeviceByIP(ctx, spec.IP)
	if err == nil {
		return device, nil
	}
	if !errors.IsCode(err, errors.CodeNotFound) {
		return nil, err
	}
	device = &store.Device{Name: spec.Name, IPAddress: spec.IP, Type: spec.Type}
	if err := st.CreateDevice(ctx, device); err != nil {
		return nil, err
	}
	return device, nil
}

// runScanJob scans one device, waits for the job to finish and prints the
// outcome to out. If ctx ends first the job is stopped.
func runScanJob(ctx context.Context, a *app, spec deviceSpec, mode store.ScanMode, out io.Writer) (*store.Job, error) {
	device, err := ensureDevice(ctx, a.store, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to register device: %w", err)
	}

	job, err := a.engine.Start(ctx, device.ID, mode)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Scanning %s (%s) in %s mode, job %s\n", device.Name, device.IPAddress, mode, job.ID)

	final, err := a.engine.Wait(ctx, job.ID)
	if err != nil {
		// ctx is done, so stop with a fresh one
		stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Engine.ShutdownTimeout)
		defer cancel()
		if _, stopErr := a.engine.Stop(stopCtx, job.ID); stopErr != nil {
			a.logger.Warn("Failed to stop scan", "job_id", job.ID.String(), "error", stopErr)
		}
		return nil, err
	}

	printPhases(out, final)
	findings, err := a.store.ListScanFindings(ctx, final.ID)
	if err != nil {
		return final, err
	}
	printFindings(ctx, out, a.store, findings)
	fmt.Fprintf(out, "Status: %s, duration: %s\n", final.Status, final.Duration.Std().Round(time.Millisecond))
	return final, nil
}

func printPhases(out io.Writer, job *store.Job) {
	table := tablewriter.NewWriter(out)
	table.Header("Phase", "Status", "Progress", "Elapsed")
	for _, p := range job.Phases {
		_ = table.Append([]string{
			p.Name,
			string(p.Status),
			fmt.Sprintf("%d%%", p.Progress),
			p.Elapsed.Std().Round(time.Millisecond).String(),
		})
	}
	_ = table.Render()
}

func printFindings(ctx context.Context, out io.Writer, st store.Store, findings []*store.ScanFinding) {
	if len(findings) == 0 {
		fmt.Fprintln(out, "No vulnerabilities found")
		return
	}
	table := tablewriter.NewWriter(out)
	table.Header("Vulnerability", "Severity", "Title", "Details")
	for _, f := range findings {
		severity, title := "", ""
		if def, err := st.GetVulnerabilityDefinition(ctx, f.VulnerabilityID); err == nil {
			severity, title = def.Severity, def.Title
		}
		_ = table.Append([]string{f.VulnerabilityID, severity, title, f.Details})
	}
	_ = table.Render()
}
