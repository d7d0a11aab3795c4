package imagemage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const (
	// DefaultBinary is the executable looked up on PATH.
	DefaultBinary = "imagemage"
	// DefaultProcessTimeout bounds one imagemage run.
	DefaultProcessTimeout = 60 * time.Second
	// maxStderrExcerpt limits the diagnostic text carried by ProcessError.
	maxStderrExcerpt = 2048
)

// InstallHint is appended when the executable is not on PATH.
const InstallHint = "install with: git clone https://github.com/quinnypig/imagemage.git && cd imagemage && go build -o imagemage, then add it to PATH"

// CommandRunner abstracts command execution for testability. Run must stop
// the process when ctx is done.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string) (stdout string, stderr string, err error)
}

// ExitCoder is satisfied by errors that carry a process exit code
// (e.g., *exec.ExitError).
type ExitCoder interface {
	ExitCode() int
}

// ExecCommandRunner runs commands directly with os/exec (no shell).
type ExecCommandRunner struct{}

// Run executes name with args, killing it when ctx is done.
func (ExecCommandRunner) Run(ctx context.Context, name string, args []string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Don't wait forever for grandchildren holding the pipes after a kill.
	cmd.WaitDelay = 2 * time.Second
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// flagRule emits one optional flag. A rule with an empty value, or one that
// does not apply to the operation, emits nothing.
type flagRule struct {
	flag         string
	value        func(*InvocationRequest) string
	boolean      bool // emit flag alone when value is non-empty
	generateOnly bool
}

var flagRules = []flagRule{
	{flag: "-o", value: func(r *InvocationRequest) string { return r.OutputPath }},
	{flag: "-a", value: func(r *InvocationRequest) string { return r.AspectRatio }},
	{flag: "-r", value: func(r *InvocationRequest) string { return r.Resolution }},
	{flag: "--frugal", boolean: true, value: func(r *InvocationRequest) string {
		if r.Frugal() {
			return "true"
		}
		return ""
	}},
	{flag: "-s", generateOnly: true, value: func(r *InvocationRequest) string { return r.Style }},
}

// BuildArgs returns imagemage's argument vector (without the executable name):
//
//	generate <prompt> [-o path] [-a ratio] [-r res] [--frugal] [-s style]
//	edit <prompt> <image> [-i extra]... [-o path] [-a ratio] [-r res] [--frugal]
func BuildArgs(req *InvocationRequest, images Images) []string {
	args := []string{string(req.Operation), req.Prompt}
	if req.Operation == OpEdit {
		args = append(args, images.Primary.Path)
		for _, img := range images.Additional {
			args = append(args, "-i", img.Path)
		}
	}
	for _, rule := range flagRules {
		if rule.generateOnly && req.Operation != OpGenerate {
			continue
		}
		v := rule.value(req)
		if v == "" {
			continue
		}
		if rule.boolean {
			args = append(args, rule.flag)
		} else {
			args = append(args, rule.flag, v)
		}
	}
	return args
}

// ProcessOutcome is what a successful imagemage run left behind.
type ProcessOutcome struct {
	Args   []string
	Stdout string
	Stderr string
}

// Invoker runs imagemage once per request.
type Invoker struct {
	binary  string
	runner  CommandRunner
	timeout time.Duration
	logger  *slog.Logger
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithBinary sets the executable name or path. Empty keeps the default.
func WithBinary(name string) InvokerOption {
	return func(i *Invoker) {
		if name != "" {
			i.binary = name
		}
	}
}

// WithProcessTimeout overrides the run bound. Non-positive values are ignored.
func WithProcessTimeout(d time.Duration) InvokerOption {
	return func(i *Invoker) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// WithInvokerLogger sets the logger. If nil, slog.Default() is used.
func WithInvokerLogger(l *slog.Logger) InvokerOption {
	return func(i *Invoker) { i.logger = l }
}

// NewInvoker creates an Invoker that executes through runner.
// A nil runner uses ExecCommandRunner.
func NewInvoker(runner CommandRunner, opts ...InvokerOption) *Invoker {
	if runner == nil {
		runner = ExecCommandRunner{}
	}
	i := &Invoker{binary: DefaultBinary, runner: runner, timeout: DefaultProcessTimeout}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Invoker) log() *slog.Logger {
	if i.logger != nil {
		return i.logger
	}
	return slog.Default()
}

// lookPath locates the executable; tests replace it to simulate a missing binary.
var lookPath = exec.LookPath

// Binary returns the configured executable name.
func (i *Invoker) Binary() string { return i.binary }

// LookupBinary reports where the executable is found on PATH.
func (i *Invoker) LookupBinary() (string, error) {
	path, err := lookPath(i.binary)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH (%s): %w", i.binary, InstallHint, err)
	}
	return path, nil
}

// Invoke builds the flag vector and runs imagemage, bounded by the process timeout.
func (i *Invoker) Invoke(ctx context.Context, req *InvocationRequest, images Images) (ProcessOutcome, error) {
	args := BuildArgs(req, images)
	if _, err := i.LookupBinary(); err != nil {
		return ProcessOutcome{Args: args}, &ProcessError{Kind: ExecutionFailed, ExitCode: -1, Err: err}
	}

	runCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	start := time.Now()
	i.log().Info("running imagemage", "operation", req.Operation, "args", len(args))
	stdout, stderr, err := i.runner.Run(runCtx, i.binary, args)
	outcome := ProcessOutcome{Args: args, Stdout: stdout, Stderr: stderr}
	elapsed := time.Since(start)

	if cerr := ctx.Err(); cerr != nil {
		kind := ExecutionFailed
		if errors.Is(cerr, context.DeadlineExceeded) {
			kind = ProcessTimeout
		}
		i.log().Warn("imagemage stopped by caller", "error", cerr, "elapsed", elapsed)
		return outcome, &ProcessError{Kind: kind, ExitCode: -1, Err: fmt.Errorf("caller context ended after %s: %w", elapsed.Round(time.Millisecond), cerr)}
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		i.log().Warn("imagemage timed out", "timeout", i.timeout, "elapsed", elapsed)
		return outcome, &ProcessError{Kind: ProcessTimeout, ExitCode: -1, Stderr: excerpt(stderr, stdout), Err: fmt.Errorf("no result after %s", i.timeout)}
	}
	if err != nil {
		code := -1
		var ec ExitCoder
		if errors.As(err, &ec) {
			code = ec.ExitCode()
		}
		i.log().Warn("imagemage failed", "exit_code", code, "elapsed", elapsed)
		return outcome, &ProcessError{Kind: ExecutionFailed, ExitCode: code, Stderr: excerpt(stderr, stdout), Err: err}
	}

	i.log().Info("imagemage finished", "elapsed", elapsed)
	return outcome, nil
}

// excerpt picks the diagnostic text for an error: stderr, else stdout,
// else "unknown error", trimmed to maxStderrExcerpt bytes.
func excerpt(stderr, stdout string) string {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = strings.TrimSpace(stdout)
	}
	if msg == "" {
		return "unknown error"
	}
	if len(msg) > maxStderrExcerpt {
		msg = msg[:maxStderrExcerpt] + "..."
	}
	return msg
}
