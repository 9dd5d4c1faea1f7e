package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/iotaudit/internal/logging"
	"github.com/anstrom/iotaudit/internal/store"
)

// devicesCmd lists registered devices.
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List registered devices",
	Long: `List the devices in the configured store with the snapshot of their
last real scan. Only persistent backends (bolt, postgres) keep devices
between runs.`,
	Example: `  iotaudit devices --store bolt`,
	RunE:    runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	logger := initLogging(cfg)

	st, _, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Warn("Failed to close store", "error", err)
		}
	}()
	return printDevices(cmd.Context(), os.Stdout, st)
}

func printDevices(ctx context.Context, out io.Writer, st store.Store) error {
	devices, err := st.ListDevices(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices registered")
		return nil
	}

	table := tablewriter.NewWriter(out)
	table.Header("ID", "Name", "Address", "Type", "OS", "Open Ports", "Findings", "Last Scan")
	for _, d := range devices {
		lastScan := "never"
		if d.LastScan != nil {
			lastScan = d.LastScan.Format("2006-01-02 15:04")
		}
		_ = table.Append([]string{
			d.ID.String()[:8],
			d.Name,
			d.IPAddress,
			d.Type,
			d.OS,
			strconv.Itoa(len(d.Ports)),
			strconv.Itoa(d.VulnerabilityCount),
			lastScan,
		})
	}
	return table.Render()
}
