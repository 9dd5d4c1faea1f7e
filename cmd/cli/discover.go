package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/iotaudit/internal/discovery"
)

var discoverRegister bool

// discoverCmd represents the discover command.
var discoverCmd = &cobra.Command{
	Use:   "discover <cidr>",
	Short: "Find and classify devices on a subnet",
	Long: `Sweep an IPv4 subnet for live hosts, check a short list of IoT-relevant
ports on each and classify the host from what is open. Requires nmap.

With --register every discovered host not yet known is added to the
configured store so it can be scanned later.`,
	Example: `  iotaudit discover 192.168.1.0/24
  iotaudit discover 10.0.0.0/28 --register --store bolt`,
	Args: cobra.ExactArgs(1),
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoverCmd)

	discoverCmd.Flags().BoolVar(&discoverRegister, "register", false, "register discovered hosts as devices")
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	logger := initLogging(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
		defer cancel()
		_ = a.close(shutdownCtx)
	}()

	fmt.Fprintf(os.Stderr, "Discovering hosts on %s...\n", args[0])
	result, err := a.discovery.Discover(ctx, args[0])
	if err != nil {
		return err
	}
	printDiscovery(os.Stdout, result)

	if discoverRegister {
		added, err := registerHosts(ctx, a, result)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Registered %d new device(s)\n", added)
	}
	return nil
}

// registerHosts adds every discovered address that has no device yet and
// returns how many were created.
func registerHosts(ctx context.Context, a *app, result *discovery.Result) (int, error) {
	added := 0
	for _, h := range result.Hosts {
		if _, err := a.store.GetDeviceByIP(ctx, h.Address); err == nil {
			continue
		}
		name := h.Hostname
		if name == "" {
			name = h.Address
		}
		_, err := ensureDevice(ctx, a.store, deviceSpec{IP: h.Address, Name: name, Type: string(h.Type)})
		if err != nil {
			return added, fmt.Errorf("failed to register %s: %w", h.Address, err)
		}
		added++
	}
	return added, nil
}

func printDiscovery(out io.Writer, result *discovery.Result) {
	fmt.Fprintf(out, "%d host(s) up on %s in %s\n",
		len(result.Hosts), result.Subnet, result.Duration.Std().Round(time.Millisecond))
	if len(result.Hosts) == 0 {
		return
	}

	table := tablewriter.NewWriter(out)
	table.Header("Address", "Hostname", "Type", "Open Ports", "SNMP")
	for _, h := range result.Hosts {
		snmp := ""
		if h.SNMPCommunityAccepted {
			snmp = "community accepted"
		}
		ports := make([]string, 0, len(h.OpenPorts))
		for _, p := range h.OpenPorts {
			ports = append(ports, strconv.Itoa(p))
		}
		_ = table.Append([]string{h.Address, h.Hostname, string(h.Type), strings.Join(ports, ","), snmp})
	}
	_ = table.Render()

	counts := result.CountByType()
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	summary := make([]string, 0, len(types))
	for _, t := range types {
		summary = append(summary, fmt.Sprintf("%s=%d", t, counts[t]))
	}
	fmt.Fprintf(out, "By type: %s\n", strings.Join(summary, " "))
}
