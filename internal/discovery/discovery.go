// Package discovery finds live hosts on a subnet and guesses what kind of
// device each one is from a quick check of well-known ports.
package discovery

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/anstrom/iotaudit/internal/config"
	"github.com/anstrom/iotaudit/internal/errors"
	"github.com/anstrom/iotaudit/internal/logging"
	"github.com/anstrom/iotaudit/internal/metrics"
	"github.com/anstrom/iotaudit/internal/parser"
	"github.com/anstrom/iotaudit/internal/probe"
	"github.com/anstrom/iotaudit/internal/store"
)

const (
	maxNetworkSizeBits = 16 // Limit to /16 or smaller networks
	defaultConcurrency = 8

	minSweepTimeout = 30 * time.Second
	maxSweepTimeout = 10 * time.Minute
	perHostTimeout  = 250 * time.Millisecond

	toolName = "nmap"
)

// DeviceType is the guessed role of a discovered host.
type DeviceType string

const (
	TypeCamera  DeviceType = "camera"
	TypeSensor  DeviceType = "sensor"
	TypeHub     DeviceType = "hub"
	TypeGateway DeviceType = "gateway"
	TypeUnknown DeviceType = "unknown"
)

// Host is one live address and what the quick check found.
type Host struct {
	Address   string     `json:"address"`
	OpenPorts []int      `json:"open_ports"`
	Type      DeviceType `json:"type"`

	// filled by enrichers when enabled
	Hostname              string `json:"hostname,omitempty"`
	Description           string `json:"description,omitempty"`
	SNMPCommunityAccepted bool   `json:"snmp_community_accepted,omitempty"`
}

// Result is the outcome of one subnet sweep.
type Result struct {
	Subnet     string         `json:"subnet"`
	Hosts      []Host         `json:"hosts"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Duration   store.Duration `json:"duration"`
}

// CountByType returns how many hosts were classified as each type.
func (r *Result) CountByType() map[string]int {
	counts := make(map[string]int)
	for _, h := range r.Hosts {
		counts[string(h.Type)]++
	}
	return counts
}

// Publisher receives finished sweeps, e.g. the WebSocket hub.
type Publisher interface {
	Publish(msgType string, data interface{})
}

// MessageType is the publisher message type for finished sweeps.
const MessageType = "discovery_completed"

// Service runs subnet sweeps.
type Service struct {
	runner    probe.Runner
	builder   *probe.NmapBuilder
	cfg       config.DiscoveryConfig
	limiter   *rate.Limiter
	metrics   metrics.Recorder
	logger    *logging.Logger
	publisher Publisher
	enrichers []Enricher
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records sweep outcomes.
func WithMetrics(m metrics.Recorder) Option {
	return func(s *Service) { s.metrics = metrics.OrNoop(m) }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l.WithComponent("discovery") }
}

// WithPublisher announces each finished sweep.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithEnrichers replaces the enrichers built from the configuration.
func WithEnrichers(e ...Enricher) Option {
	return func(s *Service) { s.enrichers = e }
}

// NewService creates a discovery service. Probe commands are built from
// engine settings; pacing and fan-out come from cfg.
func NewService(runner probe.Runner, engine *config.EngineConfig, cfg config.DiscoveryConfig, opts ...Option) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if len(cfg.QuickScanPort) == 0 {
		cfg.QuickScanPort = append([]int(nil), config.DefaultQuickScanPorts...)
	}
	limit := rate.Inf
	if cfg.ProbesPerSec > 0 {
		limit = rate.Limit(cfg.ProbesPerSec)
	}

	s := &Service{
		runner:  runner,
		builder: probe.NewNmapBuilder(engine),
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Concurrency),
		metrics: metrics.Noop{},
		logger:  logging.Default().WithComponent("discovery"),
		now:     time.Now,
	}
	s.enrichers = enrichersFromConfig(cfg, s.logger)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Discover sweeps subnet for live hosts, checks the quick-scan ports on
// each one and classifies it. A failed port check leaves that host with
// no ports rather than failing the sweep.
func (s *Service) Discover(ctx context.Context, subnet string) (*Result, error) {
	start := s.now()
	result, err := s.discover(ctx, subnet)
	elapsed := s.now().Sub(start)

	if err != nil {
		s.metrics.DiscoveryFinished("failed", nil, elapsed)
		s.logger.ErrorDiscovery("Discovery failed", subnet, err)
		return nil, err
	}

	result.StartedAt = start
	result.FinishedAt = start.Add(elapsed)
	result.Duration = store.Duration(elapsed)
	s.metrics.DiscoveryFinished("completed", result.CountByType(), elapsed)
	s.logger.InfoDiscovery("Discovery completed", subnet,
		"hosts_found", len(result.Hosts),
		"duration", elapsed)
	if s.publisher != nil {
		s.publisher.Publish(MessageType, result)
	}
	return result, nil
}

func (s *Service) discover(ctx context.Context, subnet string) (*Result, error) {
	network, size, err := parseNetwork(subnet)
	if err != nil {
		return nil, err
	}
	if !s.runner.IsAvailable(ctx) {
		return nil, errors.ErrToolUnavailable(toolName, nil)
	}

	live, err := s.sweep(ctx, network, size)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Ping sweep finished", "subnet", network.String(), "live_hosts", len(live))

	hosts := make([]Host, len(live))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, addr := range live {
		i, addr := i, addr
		g.Go(func() error {
			if err := s.limiter.Wait(gctx); err != nil {
				return errors.WrapDiscoveryError(errors.CodeCanceled, "discovery canceled", network.String(), err)
			}
			ports := s.openPorts(gctx, addr)
			hosts[i] = Host{Address: addr, OpenPorts: ports, Type: Classify(ports)}
			s.enrich(gctx, &hosts[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapDiscoveryError(errors.CodeCanceled, "discovery canceled", network.String(), err)
	}

	return &Result{Subnet: network.String(), Hosts: hosts}, nil
}

func (s *Service) enrich(ctx context.Context, host *Host) {
	for _, e := range s.enrichers {
		if err := e.Enrich(ctx, host); err != nil {
			s.logger.Debug("Enrichment failed", "enricher", e.Name(), "address", host.Address, "error", err)
		}
	}
}

// parseNetwork validates a CIDR and returns it with its address count.
func parseNetwork(subnet string) (*net.IPNet, int, error) {
	_, network, err := net.ParseCIDR(subnet)
	if err != nil {
		return nil, 0, errors.WrapDiscoveryError(errors.CodeValidation, "invalid subnet", subnet, err)
	}
	ones, bits := network.Mask.Size()
	if bits-ones > maxNetworkSizeBits {
		return nil, 0, errors.NewDiscoveryError(errors.CodeValidation,
			fmt.Sprintf("network too large, at most /%d is allowed", bits-maxNetworkSizeBits), subnet)
	}
	return network, 1 << (bits - ones), nil
}

// sweepTimeout scales the configured sweep budget with the network size.
func (s *Service) sweepTimeout(addresses int) time.Duration {
	timeout := s.cfg.SweepTimeout + time.Duration(addresses)*perHostTimeout
	return max(minSweepTimeout, min(maxSweepTimeout, timeout))
}

func (s *Service) sweep(ctx context.Context, network *net.IPNet, size int) ([]string, error) {
	cmd, err := s.builder.PingSweep(network.String())
	if err != nil {
		return nil, err
	}
	cmd.Timeout = s.sweepTimeout(size)

	out, err := s.runner.Run(ctx, cmd)
	if err != nil {
		code := errors.GetCode(err)
		if code == errors.CodeUnknown {
			code = errors.CodeDiscoveryFailed
		}
		return nil, errors.WrapDiscoveryError(code, "ping sweep failed", network.String(), err)
	}

	var live []string
	for _, addr := range parser.ParseDiscovery(out.Stdout) {
		if network.Contains(net.ParseIP(addr)) {
			live = append(live, addr)
		}
	}
	return live, nil
}

func (s *Service) openPorts(ctx context.Context, addr string) []int {
	cmd, err := s.builder.QuickPorts(addr, s.cfg.QuickScanPort)
	if err != nil {
		s.logger.Warn("Skipping port check", "address", addr, "error", err)
		return nil
	}
	if s.cfg.PortTimeout > 0 {
		cmd.Timeout = s.cfg.PortTimeout
	}

	out, err := s.runner.Run(ctx, cmd)
	if err != nil {
		s.logger.Warn("Port check failed", "address", addr, "error", err)
		return nil
	}
	return parser.ParseOpenPorts(out.Stdout)
}

// Classify guesses a device type from its open ports. Rules are checked
// top to bottom and the first match wins.
func Classify(ports []int) DeviceType {
	open := make(map[int]bool, len(ports))
	for _, p := range ports {
		open[p] = true
	}
	switch {
	case open[554] || open[8000]:
		return TypeCamera
	case open[1883] || open[8883]:
		return TypeSensor
	case open[8080] && open[443]:
		return TypeHub
	case open[22] && open[80]:
		return TypeGateway
	default:
		return TypeUnknown
	}
}
