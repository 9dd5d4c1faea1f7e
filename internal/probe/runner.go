// Package probe runs the external network probing tool with bounded output,
// wall-clock limits and cancellation, and builds its command lines.
package probe

import (
	"context"
	stderrors "errors"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/anstrom/iotaudit/internal/errors"
	"github.com/anstrom/iotaudit/internal/logging"
	"github.com/anstrom/iotaudit/internal/metrics"
)

const (
	// DefaultMaxOutputBytes caps each captured stream when a command sets no limit.
	DefaultMaxOutputBytes = 10 * 1024 * 1024

	// DefaultWaitDelay bounds how long Run waits for I/O after the process is killed.
	DefaultWaitDelay = 5 * time.Second

	defaultAvailabilityTTL = time.Minute
	versionCheckTimeout    = 10 * time.Second
	versionOutputLimit     = 64 * 1024
)

// Probe results used as metric labels.
const (
	resultOK       = "ok"
	resultTimeout  = "timeout"
	resultCanceled = "canceled"
	resultFailed   = "failed"
)

// Command describes one invocation of an external program.
type Command struct {
	Kind           string
	Name           string
	Args           []string
	Timeout        time.Duration
	MaxOutputBytes int
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Output is what a finished process wrote.
type Output struct {
	Stdout    []byte
	Stderr    []byte
	Truncated bool
	Duration  time.Duration
}

// Runner executes probe commands.
//
//go:generate mockgen -destination=../mocks/mock_runner.go -package=mocks github.com/anstrom/iotaudit/internal/probe Runner
type Runner interface {
	// Run executes cmd and returns its captured output. On failure the
	// partial output is returned alongside the error when available.
	Run(ctx context.Context, cmd Command) (*Output, error)

	// IsAvailable reports whether the probing tool can be executed.
	IsAvailable(ctx context.Context) bool
}

// ExecRunner runs commands as local child processes.
type ExecRunner struct {
	binary    string
	ttl       time.Duration
	waitDelay time.Duration
	metrics   metrics.Recorder
	logger    *logging.Logger
	now       func() time.Time

	mu        sync.Mutex
	available bool
	checkedAt time.Time
}

var _ Runner = (*ExecRunner)(nil)

// Option configures an ExecRunner.
type Option func(*ExecRunner)

// WithAvailabilityTTL sets how long an availability result is reused.
func WithAvailabilityTTL(ttl time.Duration) Option {
	return func(r *ExecRunner) { r.ttl = ttl }
}

// WithWaitDelay overrides DefaultWaitDelay.
func WithWaitDelay(d time.Duration) Option {
	return func(r *ExecRunner) { r.waitDelay = d }
}

// WithMetrics records every execution.
func WithMetrics(m metrics.Recorder) Option {
	return func(r *ExecRunner) { r.metrics = metrics.OrNoop(m) }
}

// WithLogger sets the runner's logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *ExecRunner) { r.logger = l }
}

// NewExecRunner creates a runner whose availability check targets binary.
func NewExecRunner(binary string, opts ...Option) *ExecRunner {
	r := &ExecRunner{
		binary:    binary,
		ttl:       defaultAvailabilityTTL,
		waitDelay: DefaultWaitDelay,
		metrics:   metrics.Noop{},
		logger:    logging.Default().WithComponent("probe"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes cmd, killing it when ctx is done or cmd.Timeout elapses.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Output, error) {
	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	limit := cmd.MaxOutputBytes
	if limit <= 0 {
		limit = DefaultMaxOutputBytes
	}
	stdout := newBoundedBuffer(limit)
	stderr := newBoundedBuffer(limit)

	// #nosec G204 -- arguments are built by NmapBuilder from validated targets
	c := exec.CommandContext(runCtx, cmd.Name, cmd.Args...)
	c.Stdout = stdout
	c.Stderr = stderr
	c.WaitDelay = r.waitDelay

	r.logger.Debug("Running probe", "command", cmd.String(), "timeout", cmd.Timeout)

	start := time.Now()
	err := c.Run()
	out := &Output{
		Stdout:    stdout.Bytes(),
		Stderr:    stderr.Bytes(),
		Truncated: stdout.Truncated() || stderr.Truncated(),
		Duration:  time.Since(start),
	}

	kind := cmd.Kind
	if kind == "" {
		kind = "probe"
	}

	if out.Truncated {
		r.logger.Warn("Probe output truncated", "command", cmd.Name, "limit_bytes", limit)
	}

	if err == nil {
		r.metrics.ProbeExecuted(kind, resultOK, out.Duration)
		return out, nil
	}

	err = r.classify(ctx, runCtx, cmd, out, err)
	switch {
	case errors.IsCode(err, errors.CodeTimeout):
		r.metrics.ProbeExecuted(kind, resultTimeout, out.Duration)
	case errors.IsCode(err, errors.CodeCanceled):
		r.metrics.ProbeExecuted(kind, resultCanceled, out.Duration)
	default:
		r.metrics.ProbeExecuted(kind, resultFailed, out.Duration)
	}
	return out, err
}

func (r *ExecRunner) classify(parent, runCtx context.Context, cmd Command, out *Output, err error) error {
	if stderrors.Is(parent.Err(), context.Canceled) {
		return errors.WrapScanError(errors.CodeCanceled, "Probe canceled", parent.Err()).
			WithContext("command", cmd.Name)
	}
	if stderrors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return errors.ErrProbeTimeout(cmd.String(), runCtx.Err())
	}

	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		return &errors.ProcessError{
			Command:  cmd.Name,
			ExitCode: exitErr.ExitCode(),
			Stderr:   strings.TrimSpace(string(out.Stderr)),
			Cause:    err,
		}
	}
	if stderrors.Is(err, exec.ErrNotFound) {
		return errors.ErrToolUnavailable(cmd.Name, err)
	}
	return errors.WrapScanError(errors.CodeExecutionFailed, "Failed to run probe", err).
		WithContext("command", cmd.Name)
}

// IsAvailable checks that the binary resolves and answers --version.
// Results are cached for the configured TTL.
func (r *ExecRunner) IsAvailable(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.checkedAt.IsZero() && r.now().Sub(r.checkedAt) < r.ttl {
		return r.available
	}

	r.available = r.check(ctx)
	r.checkedAt = r.now()
	return r.available
}

func (r *ExecRunner) check(ctx context.Context) bool {
	path, err := exec.LookPath(r.binary)
	if err != nil {
		r.logger.Warn("Probing tool not found", "binary", r.binary, "error", err)
		return false
	}

	out, err := r.Run(ctx, Command{
		Kind:           "version",
		Name:           path,
		Args:           []string{"--version"},
		Timeout:        versionCheckTimeout,
		MaxOutputBytes: versionOutputLimit,
	})
	if err != nil {
		r.logger.Warn("Probing tool failed version check", "binary", path, "error", err)
		return false
	}

	r.logger.Debug("Probing tool available", "binary", path,
		"version", firstLine(string(out.Stdout)))
	return true
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
