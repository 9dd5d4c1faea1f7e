package probe

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/anstrom/iotaudit/internal/config"
	"github.com/anstrom/iotaudit/internal/errors"
)

// Command kinds, also used as metric labels.
const (
	KindSweep = "sweep"
	KindQuick = "quick"
	KindAudit = "audit"
)

// NmapBuilder produces nmap command lines for the three probe shapes the
// engine needs.
type NmapBuilder struct {
	Binary         string
	UseSudo        bool
	ExtraArgs      []string
	Timeout        time.Duration
	MaxOutputBytes int
}

// NewNmapBuilder creates a builder from engine settings.
func NewNmapBuilder(cfg *config.EngineConfig) *NmapBuilder {
	binary := cfg.NmapPath
	if binary == "" {
		binary = "nmap"
	}
	return &NmapBuilder{
		Binary:         binary,
		UseSudo:        cfg.UseSudo,
		ExtraArgs:      append([]string(nil), cfg.ExtraArgs...),
		Timeout:        cfg.ProbeTimeout,
		MaxOutputBytes: cfg.MaxOutputBytes,
	}
}

// ValidateTarget accepts a single IP address or a CIDR network.
// Anything else is rejected so it cannot be read as an option.
func ValidateTarget(target string) error {
	if net.ParseIP(target) != nil {
		return nil
	}
	if _, _, err := net.ParseCIDR(target); err == nil {
		return nil
	}
	return errors.ErrInvalidTarget(target)
}

// PingSweep checks which hosts in target answer, in grepable output.
func (b *NmapBuilder) PingSweep(target string) (Command, error) {
	if err := ValidateTarget(target); err != nil {
		return Command{}, err
	}
	return b.command(KindSweep, "-sn", target, "-oG", "-"), nil
}

// QuickPorts lists which of ports are open on target, in grepable output.
// Host discovery is skipped since callers have already swept.
func (b *NmapBuilder) QuickPorts(target string, ports []int) (Command, error) {
	if err := ValidateTarget(target); err != nil {
		return Command{}, err
	}
	if len(ports) == 0 {
		return Command{}, errors.NewScanErrorWithTarget(errors.CodeValidation, "No ports to check", target)
	}
	list := make([]string, 0, len(ports))
	for _, p := range ports {
		list = append(list, strconv.Itoa(p))
	}
	return b.command(KindQuick, "-Pn", "-p", strings.Join(list, ","), "--open", target, "-oG", "-"), nil
}

// Audit runs service, OS and vulnerability-script detection with XML output.
// skipHostDiscovery adds -Pn for hosts that did not answer the sweep.
func (b *NmapBuilder) Audit(target string, skipHostDiscovery bool) (Command, error) {
	if err := ValidateTarget(target); err != nil {
		return Command{}, err
	}
	args := []string{"-sV", "-O", "--script", "vuln"}
	if skipHostDiscovery {
		args = append(args, "-Pn")
	}
	args = append(args, target, "-oX", "-")
	return b.command(KindAudit, args...), nil
}

func (b *NmapBuilder) command(kind string, args ...string) Command {
	full := make([]string, 0, len(b.ExtraArgs)+len(args)+1)
	full = append(full, b.ExtraArgs...)
	full = append(full, args...)

	name := b.Binary
	if b.UseSudo {
		full = append([]string{"-n", b.Binary}, full...)
		name = "sudo"
	}
	return Command{
		Kind:           kind,
		Name:           name,
		Args:           full,
		Timeout:        b.Timeout,
		MaxOutputBytes: b.MaxOutputBytes,
	}
}
