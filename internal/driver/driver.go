/**
 * CONTEXT:   Debugger child process ownership and sentinel-framed command execution
 * INPUT:     Textual debugger commands and per-command cancellation signals
 * OUTPUT:    Discrete command results extracted from an unframed stdout stream
 * BUSINESS:  Turn a single long-lived debugger subprocess into a serialized execute() call
 *            without parsing any debugger-specific output semantics
 * CHANGE:    Initial implementation
 * PREVENTION:Never let two goroutines write to the child's stdin concurrently
 * RISK:      High - a stuck child or a forged sentinel breaks every command framed after it
 */

package driver

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sascodiego/dbggateway/internal/apperrors"
	"github.com/sascodiego/dbggateway/pkg/logger"
)

// state is the driver's internal lifecycle, distinct from Session.status.
type state int32

const (
	stateNotStarted state = iota
	stateActive
	stateStopping
	stateStopped
	stateErrored
)

// Options configures a Driver instance. CommandTimeout is the driver-level wall clock
// applied to every execute() call in addition to the caller's cancelSignal.
type Options struct {
	Executable       string
	Args             []string
	SymbolSearchPath string
	CommandTimeout   time.Duration
	StopGrace        time.Duration // grace window before force-kill on Stop()
	CancelGrace      time.Duration // grace window before closing stdout after an interrupt
}

func (o Options) withDefaults() Options {
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = 30 * time.Second
	}
	if o.StopGrace <= 0 {
		o.StopGrace = 5 * time.Second
	}
	if o.CancelGrace <= 0 {
		o.CancelGrace = 2 * time.Second
	}
	return o
}

// childHandle abstracts the live debugger child so tests can substitute an in-process
// fake instead of spawning a real subprocess.
type childHandle interface {
	Interrupt() error
	Kill() error
	Wait() error
	Pid() int
}

// execChildHandle adapts *exec.Cmd to childHandle for the production spawn path.
type execChildHandle struct{ cmd *exec.Cmd }

func (h execChildHandle) Interrupt() error {
	if h.cmd.Process == nil {
		return nil
	}
	return interruptProcess(h.cmd.Process)
}
func (h execChildHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}
func (h execChildHandle) Wait() error { return h.cmd.Wait() }
func (h execChildHandle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Driver owns exactly one debugger child process. Every exported method is safe for
// concurrent use, but execute() enforces single-flight internally; callers outside the
// owning Queue must not invoke it concurrently with itself.
type Driver struct {
	opts     Options
	log      logger.Logger
	sentinel string

	mu          sync.Mutex // guards proc/stdin/stdout/state transitions
	proc        childHandle
	stdin       io.WriteCloser
	stdout      *bufio.Reader
	stdoutCloser io.Closer // closed to unblock a pending ReadString on cancel/timeout
	state       atomic.Int32

	execMu sync.Mutex // single-flight guard for execute()

	// current holds the cancel func for the in-flight execute's internal context,
	// so cancelCurrent() can unblock a read loop that never sees the sentinel.
	currentMu     sync.Mutex
	currentCancel context.CancelFunc
}

// New constructs a Driver with a fresh, high-entropy sentinel token. A Driver that has
// been stopped by the Recovery Coordinator's forceRestart cannot be started again; the
// session is unusable until its owner closes it and a new Driver is constructed here.
func New(opts Options, log logger.Logger) (*Driver, error) {
	token, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("generating sentinel token: %w", err)
	}
	d := &Driver{
		opts:     opts.withDefaults(),
		log:      log,
		sentinel: token,
	}
	d.state.Store(int32(stateNotStarted))
	return d, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 16) // 128 bits, comfortably collision-free for a sentinel token
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "SENTINEL-" + hex.EncodeToString(buf), nil
}

// Start spawns the child, pre-loads the target, and configures the symbol search path.
// Idempotent guard: returns false if already started.
func (d *Driver) Start(target, symbolsPath string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if state(d.state.Load()) != stateNotStarted {
		return false
	}

	args := append([]string{}, d.opts.Args...)
	args = append(args, "-z", target)
	if symbolsPath != "" {
		args = append(args, "-y", symbolsPath)
	} else if d.opts.SymbolSearchPath != "" {
		args = append(args, "-y", d.opts.SymbolSearchPath)
	}

	cmd := exec.Command(d.opts.Executable, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		d.log.Error("failed to open stdin pipe", "error", err)
		return false
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		d.log.Error("failed to open stdout pipe", "error", err)
		return false
	}
	if err := cmd.Start(); err != nil {
		d.log.Error("failed to spawn debugger child", "executable", d.opts.Executable, "error", err)
		return false
	}

	d.proc = execChildHandle{cmd: cmd}
	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.stdoutCloser = stdout
	d.state.Store(int32(stateActive))
	d.log.Info("debugger child started", "pid", cmd.Process.Pid, "target", target)
	return true
}

// newForTest wires a Driver directly onto an in-memory child handle and I/O pair,
// bypassing Start()'s exec.Command spawn. Used by driver_test.go's fakeChildIO harness.
// stdout must implement io.ReadCloser so cancellation can force-close it.
func newForTest(stdin io.WriteCloser, stdout io.ReadCloser, proc childHandle, opts Options, log logger.Logger) (*Driver, error) {
	token, err := randomToken()
	if err != nil {
		return nil, err
	}
	d := &Driver{
		opts:         opts.withDefaults(),
		log:          log,
		sentinel:     token,
		proc:         proc,
		stdin:        stdin,
		stdout:       bufio.NewReader(stdout),
		stdoutCloser: stdout,
	}
	d.state.Store(int32(stateActive))
	return d, nil
}

// IsActive reports true iff the child is running and not stopping.
func (d *Driver) IsActive() bool {
	return state(d.state.Load()) == stateActive
}

func (d *Driver) markErrored(op string, err error) error {
	d.state.Store(int32(stateErrored))
	wrapped := &apperrors.ChildProcessError{Op: op, Err: err}
	d.log.Error("debugger driver entering errored state", "op", op, "error", err)
	return wrapped
}

// Execute writes command followed by a sentinel-printing marker command, then reads
// stdout until the sentinel line is observed. It is single-flight: a concurrent caller
// gets BusyError immediately rather than blocking.
func (d *Driver) Execute(ctx context.Context, command string, cancelSignal <-chan struct{}) (string, error) {
	if !d.execMu.TryLock() {
		return "", &apperrors.BusyError{}
	}
	defer d.execMu.Unlock()

	if state(d.state.Load()) != stateActive {
		return "", fmt.Errorf("driver not active")
	}

	execCtx, cancel := context.WithTimeout(ctx, d.opts.CommandTimeout)
	d.currentMu.Lock()
	d.currentCancel = cancel
	d.currentMu.Unlock()
	defer func() {
		cancel()
		d.currentMu.Lock()
		d.currentCancel = nil
		d.currentMu.Unlock()
	}()

	d.mu.Lock()
	stdin := d.stdin
	stdout := d.stdout
	d.mu.Unlock()

	if _, err := fmt.Fprintf(stdin, "%s\n", command); err != nil {
		return "", d.markErrored("write", err)
	}
	if _, err := fmt.Fprintf(stdin, "%s\n", d.markerCommand()); err != nil {
		return "", d.markErrored("write", err)
	}

	done := make(chan readResult, 1)
	go func() {
		text, err := d.readUntilSentinel(stdout)
		done <- readResult{text, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if res.err == io.EOF {
				return "", d.markErrored("read", io.ErrUnexpectedEOF)
			}
			return "", d.markErrored("read", res.err)
		}
		return res.text, nil
	case <-cancelSignal:
		d.interruptAndAwait(done)
		return "", &apperrors.CancelledError{Reason: "cancelled while executing"}
	case <-execCtx.Done():
		d.interruptAndAwait(done)
		if execCtx.Err() != context.DeadlineExceeded {
			// Cancelled through CancelCurrent or the caller's ctx, not by a deadline.
			return "", &apperrors.CancelledError{Reason: "cancelled while executing"}
		}
		return "", &apperrors.TimedOutError{After: d.opts.CommandTimeout.String()}
	}
}

// readResult is the outcome of one readUntilSentinel call.
type readResult struct {
	text string
	err  error
}

// interruptAndAwait sends the child's interrupt signal and waits for the outstanding
// read to settle, force-closing stdout after CancelGrace if the sentinel never arrives.
// The close is scoped to this single call so it can never reach into a later execute().
func (d *Driver) interruptAndAwait(done <-chan readResult) {
	d.mu.Lock()
	proc := d.proc
	closer := d.stdoutCloser
	d.mu.Unlock()

	if proc != nil {
		if err := proc.Interrupt(); err != nil {
			d.log.Warn("failed to send interrupt to debugger child", "error", err)
		}
	}

	grace := time.NewTimer(d.opts.CancelGrace)
	defer grace.Stop()

	select {
	case <-done:
	case <-grace.C:
		if closer != nil {
			_ = closer.Close()
		}
		<-done
	}
}

// markerCommand returns the debugger command that prints the sentinel token on its
// own line: one well-known command that echoes a literal string the child cannot be
// tricked into producing from ordinary output, because the token is random per
// Driver instance.
func (d *Driver) markerCommand() string {
	return fmt.Sprintf(".echo %s", d.sentinel)
}

func (d *Driver) readUntilSentinel(r *bufio.Reader) (string, error) {
	var out strings.Builder
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			trimmed := strings.TrimRight(line, "\r\n")
			if trimmed == d.sentinel {
				return out.String(), nil
			}
			out.WriteString(line)
		}
		if err != nil {
			return out.String(), err
		}
	}
}

// CancelCurrent is the best-effort external trigger for interrupting whatever command
// is presently in flight; the Queue calls it when a command is cancelled
// while Executing, and the Recovery Coordinator calls it as the first escalation step.
// It only signals the child and the in-flight execute's own context - it never blocks
// waiting for the read loop to settle, since the Execute call in another goroutine owns
// that wait via interruptAndAwait.
func (d *Driver) CancelCurrent() {
	d.mu.Lock()
	proc := d.proc
	d.mu.Unlock()

	if proc == nil {
		return
	}
	if err := proc.Interrupt(); err != nil {
		d.log.Warn("failed to send interrupt to debugger child", "error", err)
	}

	d.currentMu.Lock()
	cancel := d.currentCancel
	d.currentMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stop sends a terminate command to the child, waits up to the configured grace window,
// then force-kills. It always reaps the process.
func (d *Driver) Stop() bool {
	d.mu.Lock()
	proc := d.proc
	stdin := d.stdin
	d.mu.Unlock()

	if proc == nil {
		d.state.Store(int32(stateStopped))
		return true
	}
	d.state.Store(int32(stateStopping))

	if stdin != nil {
		_, _ = fmt.Fprintf(stdin, "q\n")
	}

	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()

	select {
	case <-done:
	case <-time.After(d.opts.StopGrace):
		_ = proc.Kill()
		<-done
	}

	d.state.Store(int32(stateStopped))
	d.log.Info("debugger child stopped", "pid", proc.Pid())
	return true
}
