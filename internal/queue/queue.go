/**
 * CONTEXT:   Per-session FIFO of pending debugger commands drained by a single worker
 * INPUT:     Enqueue requests, cancellation requests, the driver's command results
 * OUTPUT:    Terminal command states retrievable by id for a retention window
 * BUSINESS:  Exactly one command per session executes at a time, strictly in enqueue
 *            order; a cancel observed before a late driver result always wins
 * CHANGE:    Initial implementation
 * RISK:      High - the CAS on the completion slot is the only thing standing between
 *            "cancel-wins" and a flaky terminal state
 */

package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sascodiego/dbggateway/internal/apperrors"
	"github.com/sascodiego/dbggateway/internal/notify"
	"github.com/sascodiego/dbggateway/pkg/logger"
)

// CommandState is the lifecycle of one queued command.
type CommandState int

const (
	StateQueued CommandState = iota
	StateExecuting
	StateCompleted
	StateCancelled
	StateFailed
)

func (s CommandState) String() string {
	switch s {
	case StateQueued:
		return "Queued"
	case StateExecuting:
		return "Executing"
	case StateCompleted:
		return "Completed"
	case StateCancelled:
		return "Cancelled"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

func (s CommandState) isTerminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Executor is the capability set the queue needs from the driver: execute one command
// and best-effort interrupt whatever is currently in flight. There is deliberately no
// back-reference from the driver to the queue.
type Executor interface {
	Execute(ctx context.Context, command string, cancelSignal <-chan struct{}) (string, error)
	CancelCurrent()
}

// HealthGate is the capability the queue needs from the session's Recovery Coordinator
// before dispatching each command.
type HealthGate interface {
	IsHealthy() bool
	Recover(reason string)
}

// ResultView is the non-blocking snapshot returned by GetResult.
type ResultView struct {
	Found  bool
	State  CommandState
	Result string
}

// StatusEntry is one row of a queue snapshot.
type StatusEntry struct {
	ID       string
	Command  string
	QueuedAt time.Time
	State    CommandState
}

// queuedCommand is the internal record; every mutable field is guarded by mu so a
// cancel racing a driver return settles deterministically.
type queuedCommand struct {
	id       string
	command  string
	queuedAt time.Time

	cancelSignal chan struct{}
	cancelOnce   sync.Once
	timeoutFired atomic.Bool

	mu     sync.Mutex
	state  CommandState
	result string
}

func (c *queuedCommand) triggerCancel() {
	c.cancelOnce.Do(func() { close(c.cancelSignal) })
}

func (c *queuedCommand) snapshotState() CommandState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// trySetTerminal is the compare-and-set on a command's completion slot: the first
// terminal write wins, so a cancel observed before a late Completed from the driver
// is never overwritten.
func (c *queuedCommand) trySetTerminal(state CommandState, result string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.isTerminal() {
		return false
	}
	c.state = state
	c.result = result
	return true
}

func (c *queuedCommand) setExecuting() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.isTerminal() {
		c.state = StateExecuting
	}
}

// Options configures timeout classification and retention.
type Options struct {
	HeavyMarkers  []string
	LightPrefixes []string
	ComplexTimeout time.Duration
	DefaultTimeout time.Duration
	QuickTimeout   time.Duration
	MaxTimeout     time.Duration
	CommandRetention time.Duration
	CleanupInterval  time.Duration
}

func (o Options) withDefaults() Options {
	if o.ComplexTimeout <= 0 {
		o.ComplexTimeout = 30 * time.Minute
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 10 * time.Minute
	}
	if o.QuickTimeout <= 0 {
		o.QuickTimeout = 2 * time.Minute
	}
	if o.MaxTimeout <= 0 {
		o.MaxTimeout = time.Hour
	}
	if o.CommandRetention <= 0 {
		o.CommandRetention = time.Hour
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = 5 * time.Minute
	}
	return o
}

// timeoutArmer is the subset of timeoutsvc.Service the queue uses; declared locally so
// tests can substitute a fake without importing the concrete package.
type timeoutArmer interface {
	Arm(id string, d time.Duration, callback func())
	Cancel(id string)
}

// Queue is one session's command queue and worker. Construct with New, start the
// worker with Run in its own goroutine, and call Close on session teardown.
type Queue struct {
	opts     Options
	log      logger.Logger
	driver   Executor
	timeouts timeoutArmer
	bus      *notify.Bus
	sessionID string

	mu       sync.Mutex
	order    []*queuedCommand // full insertion-order history, used for snapshots and sweep
	pending  []*queuedCommand // FIFO of not-yet-dispatched commands, popped by the worker
	commands map[string]*queuedCommand
	current  *queuedCommand
	disposed bool

	sem chan struct{}

	closeOnce sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func New(sessionID string, driver Executor, timeouts timeoutArmer, bus *notify.Bus, log logger.Logger, opts Options) *Queue {
	q := &Queue{
		opts:      opts.withDefaults(),
		log:       log,
		driver:    driver,
		timeouts:  timeouts,
		bus:       bus,
		sessionID: sessionID,
		commands:  make(map[string]*queuedCommand),
		sem:       make(chan struct{}, 4096),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	return q
}

// Run drains the queue until Close is called. Intended to be started as the session's
// single worker goroutine. It also owns the periodic sweep of terminal commands past
// their retention window, so bounded memory use doesn't depend on a second goroutine.
func (q *Queue) Run(ctx context.Context, gate HealthGate) {
	defer close(q.doneCh)
	sweep := time.NewTicker(q.opts.CleanupInterval)
	defer sweep.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case <-sweep.C:
			if evicted := q.Sweep(); evicted > 0 {
				q.log.Debug("swept terminal commands past retention", "sessionId", q.sessionID, "evicted", evicted)
			}
		case <-q.sem:
			q.processNext(ctx, gate)
		}
	}
}

func (q *Queue) processNext(ctx context.Context, gate HealthGate) {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	cmd := q.pending[0]
	q.pending = q.pending[1:]
	q.mu.Unlock()

	select {
	case <-cmd.cancelSignal:
		// CancelAll may have already set this command terminal and published once; only
		// publish here if this call actually won the race to do so.
		if cmd.trySetTerminal(StateCancelled, "cancelled while queued") {
			q.publishTerminal(cmd)
		}
		return
	default:
	}

	cmd.setExecuting()
	q.mu.Lock()
	q.current = cmd
	q.mu.Unlock()
	q.publish(notify.KindCommandStatus, cmd, map[string]interface{}{"state": StateExecuting.String()})

	if gate != nil && !gate.IsHealthy() {
		gate.Recover("pre-execution health gate")
		if !gate.IsHealthy() {
			cmd.trySetTerminal(StateFailed, "unrecoverable session")
			q.finishCurrent(cmd)
			return
		}
	}

	class, timeout := classify(cmd.command, q.opts)
	q.timeouts.Arm(cmd.id, timeout, func() {
		cmd.timeoutFired.Store(true)
		cmd.triggerCancel()
		q.driver.CancelCurrent()
		// A timeout is treated the same as a cancellation originating inside the system:
		// it triggers recovery asynchronously rather than waiting for the next dispatch's
		// health gate check.
		if gate != nil {
			go gate.Recover("command timed out")
		}
	})

	heartbeatDone := make(chan struct{})
	go q.runHeartbeat(cmd, class, heartbeatDone)

	text, err := q.driver.Execute(ctx, cmd.command, cmd.cancelSignal)

	close(heartbeatDone)
	q.timeouts.Cancel(cmd.id)

	// A caller's cancel issued before this point wins over whatever the driver returned.
	callerCancelled := false
	select {
	case <-cmd.cancelSignal:
		callerCancelled = !cmd.timeoutFired.Load()
	default:
	}

	switch {
	case callerCancelled:
		cmd.trySetTerminal(StateCancelled, (&apperrors.CancelledError{Reason: "cancelled while executing"}).Error())
	case err == nil:
		cmd.trySetTerminal(StateCompleted, text)
	case cmd.timeoutFired.Load():
		cmd.trySetTerminal(StateFailed, fmt.Sprintf("timed out: %v", err))
	default:
		var cancelled *apperrors.CancelledError
		var timedOut *apperrors.TimedOutError
		switch {
		case asCancelled(err, &cancelled):
			cmd.trySetTerminal(StateCancelled, cancelled.Error())
		case asTimedOut(err, &timedOut):
			cmd.trySetTerminal(StateFailed, fmt.Sprintf("timed out: %v", timedOut))
		default:
			cmd.trySetTerminal(StateFailed, err.Error())
		}
	}

	q.finishCurrent(cmd)
}

func (q *Queue) finishCurrent(cmd *queuedCommand) {
	q.mu.Lock()
	if q.current == cmd {
		q.current = nil
	}
	q.mu.Unlock()
	q.publishTerminal(cmd)
}

func asCancelled(err error, target **apperrors.CancelledError) bool {
	c, ok := err.(*apperrors.CancelledError)
	if ok {
		*target = c
	}
	return ok
}

func asTimedOut(err error, target **apperrors.TimedOutError) bool {
	c, ok := err.(*apperrors.TimedOutError)
	if ok {
		*target = c
	}
	return ok
}

// commandClass drives heartbeat phrasing; it mirrors the timeout bucket a command was
// classified into.
type commandClass int

const (
	classQuick commandClass = iota
	classDefault
	classComplex
)

func classify(command string, opts Options) (commandClass, time.Duration) {
	lower := strings.ToLower(command)
	for _, marker := range opts.HeavyMarkers {
		if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
			return classComplex, opts.ComplexTimeout
		}
	}
	for _, prefix := range opts.LightPrefixes {
		if prefix != "" && strings.HasPrefix(lower, strings.ToLower(prefix)) {
			return classQuick, opts.QuickTimeout
		}
	}
	return classDefault, opts.DefaultTimeout
}

func (q *Queue) runHeartbeat(cmd *queuedCommand, class commandClass, done <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	started := time.Now()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			elapsed := time.Since(started)
			q.publish(notify.KindCommandHeartbeat, cmd, map[string]interface{}{
				"elapsedSeconds": int(elapsed.Seconds()),
				"hint":           heartbeatHint(class, elapsed),
			})
		}
	}
}

func heartbeatHint(class commandClass, elapsed time.Duration) string {
	phase := 0
	switch {
	case elapsed < 2*time.Minute:
		phase = 0
	case elapsed < 5*time.Minute:
		phase = 1
	case elapsed < 10*time.Minute:
		phase = 2
	default:
		phase = 3
	}

	var rotation [4]string
	switch class {
	case classQuick:
		rotation = [4]string{"reading stack", "still reading stack", "debugger is slow to respond", "this quick command is taking unusually long"}
	case classComplex:
		rotation = [4]string{"starting analysis", "walking heap/locks", "still analyzing, this is expected for heavy commands", "analysis is taking longer than usual"}
	default:
		rotation = [4]string{"running command", "still running", "command is taking a while", "command is taking much longer than usual"}
	}
	return rotation[phase]
}

func (q *Queue) publish(method string, cmd *queuedCommand, params map[string]interface{}) {
	if q.bus == nil {
		return
	}
	p := map[string]interface{}{
		"sessionId": q.sessionID,
		"commandId": cmd.id,
	}
	for k, v := range params {
		p[k] = v
	}
	q.bus.Publish(notify.Notification{Method: method, Params: p})
}

func (q *Queue) publishTerminal(cmd *queuedCommand) {
	state := cmd.snapshotState()
	q.publish(notify.KindCommandStatus, cmd, map[string]interface{}{"state": state.String()})
}

// Enqueue validates, classifies, and appends a command, returning its id immediately.
func (q *Queue) Enqueue(command string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", &apperrors.ValidationError{Field: "command", Reason: "must not be empty"}
	}

	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return "", &apperrors.ValidationError{Field: "queue", Reason: "disposed"}
	}
	q.mu.Unlock()

	_, timeout := classify(command, q.opts)
	if timeout > q.opts.MaxTimeout {
		return "", &apperrors.ValidationError{Field: "command", Reason: "classified timeout exceeds the 1h ceiling"}
	}

	cmd := &queuedCommand{
		id:           uuid.NewString(),
		command:      command,
		queuedAt:     time.Now(),
		cancelSignal: make(chan struct{}),
		state:        StateQueued,
	}

	q.mu.Lock()
	q.commands[cmd.id] = cmd
	q.order = append(q.order, cmd)
	q.pending = append(q.pending, cmd)
	q.mu.Unlock()

	q.publish(notify.KindCommandStatus, cmd, map[string]interface{}{"state": StateQueued.String()})

	select {
	case q.sem <- struct{}{}:
	default:
		// Semaphore buffer is generously sized; a full buffer means thousands of
		// commands are already pending and the worker will still drain them in order.
	}
	return cmd.id, nil
}

// GetResult is non-blocking; it never waits for the command to progress.
func (q *Queue) GetResult(commandID string) ResultView {
	q.mu.Lock()
	cmd, ok := q.commands[commandID]
	q.mu.Unlock()
	if !ok {
		return ResultView{Found: false}
	}
	cmd.mu.Lock()
	defer cmd.mu.Unlock()
	return ResultView{Found: true, State: cmd.state, Result: cmd.result}
}

// Cancel flips the command's cancel signal and, if it is currently executing, also
// interrupts the driver. Returns false if the command is unknown or already terminal.
func (q *Queue) Cancel(commandID string) bool {
	q.mu.Lock()
	cmd, ok := q.commands[commandID]
	current := q.current
	q.mu.Unlock()
	if !ok {
		return false
	}
	if cmd.snapshotState().isTerminal() {
		return false
	}

	cmd.triggerCancel()
	if current == cmd {
		q.driver.CancelCurrent()
	}
	return true
}

// CancelAll cancels every non-terminal command; used for session shutdown and recovery.
// It marks entries and lets the worker drain them (mark-and-drain) rather than purging
// the in-memory queue synchronously.
func (q *Queue) CancelAll(reason string) int {
	q.mu.Lock()
	cmds := make([]*queuedCommand, 0, len(q.commands))
	for _, c := range q.commands {
		cmds = append(cmds, c)
	}
	current := q.current
	q.mu.Unlock()

	count := 0
	for _, cmd := range cmds {
		if cmd.snapshotState().isTerminal() {
			continue
		}
		cmd.triggerCancel()
		if cmd != current && cmd.trySetTerminal(StateCancelled, reason) {
			q.publishTerminal(cmd)
		}
		count++
	}
	if current != nil {
		q.driver.CancelCurrent()
	}
	return count
}

// GetQueueStatus returns a point-in-time snapshot in original enqueue order, including
// commands that have already reached a terminal state but are still within retention.
func (q *Queue) GetQueueStatus() []StatusEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]StatusEntry, 0, len(q.order))
	for _, cmd := range q.order {
		out = append(out, StatusEntry{ID: cmd.id, Command: cmd.command, QueuedAt: cmd.queuedAt, State: cmd.snapshotState()})
	}
	return out
}

// GetCurrent returns the command presently Executing, if any.
func (q *Queue) GetCurrent() (StatusEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return StatusEntry{}, false
	}
	return StatusEntry{ID: q.current.id, Command: q.current.command, QueuedAt: q.current.queuedAt, State: q.current.snapshotState()}, true
}

// Sweep evicts terminal commands older than the retention window. Run calls it every
// CleanupInterval; it may also be called directly.
func (q *Queue) Sweep() int {
	cutoff := time.Now().Add(-q.opts.CommandRetention)
	q.mu.Lock()
	defer q.mu.Unlock()
	evicted := 0
	kept := make([]*queuedCommand, 0, len(q.order))
	for _, cmd := range q.order {
		if cmd.snapshotState().isTerminal() && cmd.queuedAt.Before(cutoff) {
			delete(q.commands, cmd.id)
			evicted++
			continue
		}
		kept = append(kept, cmd)
	}
	q.order = kept
	return evicted
}

// Close stops the worker loop and marks the queue disposed; it does not itself cancel
// outstanding commands (callers invoke CancelAll before Close).
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.disposed = true
		q.mu.Unlock()
		close(q.stopCh)
	})
	<-q.doneCh
}
