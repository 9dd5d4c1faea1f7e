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

var (
	vulnSeverity string
	vulnDevice   string
)

// vulnerabilitiesCmd prints the vulnerability catalog.
var vulnerabilitiesCmd = &cobra.Command{
	Use:     "vulnerabilities",
	Aliases: []string{"vulns"},
	Short:   "List known vulnerabilities",
	Long: `List the vulnerability definitions found by past scans, highest CVSS
first, followed by a count per severity.`,
	Example: `  iotaudit vulnerabilities --store bolt
  iotaudit vulns --severity critical --device camera`,
	RunE: runVulnerabilities,
}

func init() {
	vulnerabilitiesCmd.Flags().StringVar(&vulnSeverity, "severity", "", "only show one severity (critical, high, medium, low)")
	vulnerabilitiesCmd.Flags().StringVar(&vulnDevice, "device", "", "only show findings on devices whose name contains this")
	rootCmd.AddCommand(vulnerabilitiesCmd)
}

func runVulnerabilities(cmd *cobra.Command, _ []string) error {
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
	filter := store.VulnerabilityFilter{Severity: vulnSeverity, DeviceName: vulnDevice}
	return printVulnerabilities(cmd.Context(), os.Stdout, st, filter)
}

func printVulnerabilities(ctx context.Context, out io.Writer, st store.Store, filter store.VulnerabilityFilter) error {
	defs, err := st.ListVulnerabilityDefinitions(ctx, filter)
	if err != nil {
		return err
	}
	counts, err := st.CountVulnerabilitiesBySeverity(ctx)
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		fmt.Fprintln(out, "No vulnerabilities found")
	} else {
		table := tablewriter.NewWriter(out)
		table.Header("ID", "Severity", "CVSS", "Title", "Devices")
		for _, def := range defs {
			links, err := st.ListVulnerabilityFindings(ctx, def.ID)
			if err != nil {
				return err
			}
			_ = table.Append([]string{
				def.ID,
				def.Severity,
				strconv.FormatFloat(def.CVSS, 'f', 1, 64),
				def.Title,
				strconv.Itoa(len(links)),
			})
		}
		if err := table.Render(); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "Total: %d (critical=%d high=%d medium=%d low=%d)\n",
		counts.Total, counts.Critical, counts.High, counts.Medium, counts.Low)
	return nil
}
