/**
 * CONTEXT:   Escalation ladder that restores a stuck debugger session without losing
 *            the whole gateway process
 * INPUT:     recover(reason) requests from the queue's health gate or an external caller
 * OUTPUT:    A Healthy/Recovering/Failed state, consulted before every command dispatch
 * BUSINESS:  Concurrent recover() calls on the same session must coalesce into one cycle;
 *            isHealthy() must be cheap enough to call before every single command
 * CHANGE:    Initial implementation
 * RISK:      Medium - an overeager probe could mask a genuinely wedged debugger
 */

package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/sascodiego/dbggateway/internal/notify"
	"github.com/sascodiego/dbggateway/pkg/logger"
)

// State is the coordinator's lifecycle.
type State int

const (
	Healthy State = iota
	Recovering
	Failed
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "Healthy"
	case Recovering:
		return "Recovering"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Driver is the capability set the coordinator needs from the session's Debugger
// Driver: interrupt, probe via execute, and stop for forceRestart.
type Driver interface {
	CancelCurrent()
	Execute(ctx context.Context, command string, cancelSignal <-chan struct{}) (string, error)
	Stop() bool
	IsActive() bool
}

// QueueCanceller is the capability the coordinator needs from the session's Command
// Queue: cancel everything in flight as the first escalation step.
type QueueCanceller interface {
	CancelAll(reason string) int
}

// Options configures the escalation ladder's timings and debounce threshold.
type Options struct {
	InterruptWait    time.Duration // wait after driver interrupt before probing (default 5s)
	ProbeTimeout     time.Duration // timeout on the responsiveness probe (default 10s)
	ProbeCommand     string        // cheap, well-known command used to probe
	MaxAttempts      int           // debounce threshold (default 3)
	HealthCacheTTL   time.Duration // isHealthy() result cache window (default 30s)
}

func (o Options) withDefaults() Options {
	if o.InterruptWait <= 0 {
		o.InterruptWait = 5 * time.Second
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 10 * time.Second
	}
	if o.ProbeCommand == "" {
		o.ProbeCommand = "version"
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.HealthCacheTTL <= 0 {
		o.HealthCacheTTL = 30 * time.Second
	}
	return o
}

// Coordinator is one session's Recovery Coordinator. All transitions are serialized by
// mu; concurrent recover() calls on the same session coalesce.
type Coordinator struct {
	opts   Options
	log    logger.Logger
	driver Driver
	queue  QueueCanceller
	bus    *notify.Bus
	sessionID string

	mu            sync.Mutex
	state         State
	attempts      int
	recovering    bool
	lastProbeAt   time.Time
	lastProbeOK   bool
}

func New(sessionID string, driver Driver, queue QueueCanceller, bus *notify.Bus, log logger.Logger, opts Options) *Coordinator {
	return &Coordinator{
		opts:      opts.withDefaults(),
		log:       log,
		driver:    driver,
		queue:     queue,
		bus:       bus,
		sessionID: sessionID,
		state:     Healthy,
	}
}

// IsHealthy reports whether the session can accept new commands. Results are cached
// for HealthCacheTTL so the queue can call this before every command without hammering
// the coordinator's lock or re-probing constantly.
func (c *Coordinator) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Failed {
		return false
	}
	if c.attempts >= c.opts.MaxAttempts {
		return false
	}
	if time.Since(c.lastProbeAt) < c.opts.HealthCacheTTL {
		return c.lastProbeOK
	}
	// No fresh probe data; assume healthy unless a recovery cycle is actively running.
	return c.state != Recovering
}

// Recover runs the escalation ladder. Concurrent calls while one is already in flight
// return immediately without starting a second cycle.
func (c *Coordinator) Recover(reason string) {
	c.mu.Lock()
	if c.recovering {
		c.mu.Unlock()
		return
	}
	c.recovering = true
	c.state = Recovering
	c.mu.Unlock()

	c.log.Warn("starting recovery cycle", "sessionId", c.sessionID, "reason", reason)
	c.publish("recovering", reason)

	ok := c.runCycle(reason)

	c.mu.Lock()
	c.recovering = false
	c.lastProbeAt = time.Now()
	c.lastProbeOK = ok
	if ok {
		c.state = Healthy
		c.attempts = 0
	} else {
		c.attempts++
		if c.attempts >= c.opts.MaxAttempts {
			c.state = Failed
		} else {
			c.state = Healthy // allow another attempt on the next unhealthy command
		}
	}
	finalState := c.state
	c.mu.Unlock()

	c.publish(finalState.String(), reason)
}

func (c *Coordinator) runCycle(reason string) bool {
	if c.queue != nil {
		c.queue.CancelAll(reason)
	}

	c.driver.CancelCurrent()
	time.Sleep(c.opts.InterruptWait)

	if c.probe() {
		return true
	}

	return c.forceRestart()
}

func (c *Coordinator) probe() bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ProbeTimeout)
	defer cancel()

	out, err := c.driver.Execute(ctx, c.opts.ProbeCommand, ctx.Done())
	if err != nil {
		c.log.Warn("recovery probe failed", "sessionId", c.sessionID, "error", err)
		return false
	}
	return out != ""
}

// forceRestart stops the driver and verifies it is no longer active. It does not start a
// replacement: a stopped driver cannot be started again, so a successful forceRestart
// leaves the session unusable for new commands until the caller closes and recreates it.
func (c *Coordinator) forceRestart() bool {
	c.log.Warn("escalating to force restart", "sessionId", c.sessionID)
	c.driver.Stop()
	time.Sleep(500 * time.Millisecond)
	return !c.driver.IsActive()
}

func (c *Coordinator) publish(state, reason string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(notify.Notification{
		Method: notify.KindSessionRecovery,
		Params: map[string]interface{}{
			"sessionId": c.sessionID,
			"state":     state,
			"reason":    reason,
		},
	})
}

// Reset clears the attempt counter and returns the coordinator to Healthy. This is an
// external reset, distinct from the Healthy state a successful recovery cycle reaches on
// its own.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = 0
	c.state = Healthy
	c.lastProbeAt = time.Time{} // drop a cached failed probe so IsHealthy reflects the reset
}

// StateSnapshot returns the current state for diagnostics/tests.
func (c *Coordinator) StateSnapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
