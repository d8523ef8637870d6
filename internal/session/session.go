/**
 * CONTEXT:   Lifecycle owner of every debugger session: driver, queue, timeouts, recovery
 * INPUT:     openSession/closeSession/execCommand-style requests from the RPC layer
 * OUTPUT:    Session handles and a process-wide view of active sessions
 * BUSINESS:  The session map never exceeds the configured maximum, a closed id is never
 *            reused, and idle sessions are reaped without leaking child processes
 * CHANGE:    Initial implementation
 * RISK:      Medium - teardown ordering (queue before driver) and the idle sweeper are
 *            the two places a stuck session can leak a child process
 */

package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sascodiego/dbggateway/internal/apperrors"
	"github.com/sascodiego/dbggateway/internal/driver"
	"github.com/sascodiego/dbggateway/internal/notify"
	"github.com/sascodiego/dbggateway/internal/queue"
	"github.com/sascodiego/dbggateway/internal/recovery"
	"github.com/sascodiego/dbggateway/internal/timeoutsvc"
	"github.com/sascodiego/dbggateway/pkg/logger"
)

// Status is a session's lifecycle. Transitions are linear: Initializing to
// Active, Active to Disposing, Disposing to Disposed, and any state to Error.
type Status int

const (
	Initializing Status = iota
	Active
	Disposing
	Disposed
	ErrorStatus
)

func (s Status) String() string {
	switch s {
	case Initializing:
		return "Initializing"
	case Active:
		return "Active"
	case Disposing:
		return "Disposing"
	case Disposed:
		return "Disposed"
	case ErrorStatus:
		return "Error"
	default:
		return "Unknown"
	}
}

// Session pairs one debugger child process with one serialized command queue, plus the
// timeout service and recovery coordinator that keep it alive.
type Session struct {
	ID          string
	Target      string
	SymbolsPath string
	CreatedAt   time.Time

	Driver   *driver.Driver
	Queue    *queue.Queue
	Timeouts *timeoutsvc.Service
	Recovery *recovery.Coordinator

	mu           sync.Mutex
	status       Status
	lastActivity time.Time

	cancelRun context.CancelFunc
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) snapshotStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// Context is the shallow, read-only projection returned by List.
type Context struct {
	ID           string
	Target       string
	CreatedAt    time.Time
	LastActivity time.Time
	Status       Status
	QueueDepth   int
}

// Statistics is the manager-wide counters snapshot).
type Statistics struct {
	Created            int64
	Closed             int64
	Expired            int64
	CommandsProcessed  int64
	ActiveCount        int
	AverageLifetime    time.Duration
	ManagerUptime      time.Duration
}

// Options configures the manager.
type Options struct {
	MaxConcurrentSessions int
	SessionTimeout        time.Duration
	CleanupInterval        time.Duration
	DisposalTimeout        time.Duration

	DriverExecutable string
	DriverArgs       []string
	CommandTimeout   time.Duration

	QueueOptions queue.Options
	RecoveryOptions recovery.Options
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrentSessions <= 0 {
		o.MaxConcurrentSessions = 1000
	}
	if o.SessionTimeout <= 0 {
		o.SessionTimeout = 30 * time.Minute
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = 5 * time.Minute
	}
	if o.DisposalTimeout <= 0 {
		o.DisposalTimeout = 30 * time.Second
	}
	return o
}

// Manager is the process-wide Session Manager.
type Manager struct {
	opts Options
	log  logger.Logger
	bus  *notify.Bus

	mu       sync.RWMutex
	sessions map[string]*Session

	created           atomic64
	closed            atomic64
	expired           atomic64
	commandsProcessed atomic64
	totalLifetime     atomic64 // nanoseconds, summed over closed sessions

	startedAt time.Time

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// atomic64 avoids importing sync/atomic at every call site for a plain counter; kept as
// a thin named type so Statistics stays readable.
type atomic64 struct {
	mu sync.Mutex
	v  int64
}

func (a *atomic64) add(n int64) {
	a.mu.Lock()
	a.v += n
	a.mu.Unlock()
}
func (a *atomic64) load() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.v
}

func NewManager(opts Options, bus *notify.Bus, log logger.Logger) *Manager {
	m := &Manager{
		opts:      opts.withDefaults(),
		log:       log,
		bus:       bus,
		sessions:  make(map[string]*Session),
		startedAt: time.Now(),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	if bus != nil {
		bus.Subscribe(m.onNotification)
	}
	go m.sweepLoop()
	return m
}

// onNotification watches the bus for terminal commandStatus transitions so Stats() can
// report CommandsProcessed without every queue needing a back-reference to the manager.
func (m *Manager) onNotification(n notify.Notification) {
	if n.Method != notify.KindCommandStatus {
		return
	}
	state, _ := n.Params["state"].(string)
	switch state {
	case "Completed", "Cancelled", "Failed":
		m.commandsProcessed.add(1)
	}
}

// Create constructs a new session's Driver, Queue, Timeout Service, and Recovery
// Coordinator, starts the driver, and registers the session. On any failure it tears
// down whatever was already built so no partial session is left in the map.
func (m *Manager) Create(target, symbolsPath string) (string, error) {
	if target == "" {
		return "", &apperrors.ValidationError{Field: "target", Reason: "must not be empty"}
	}

	m.mu.Lock()
	if len(m.sessions) >= m.opts.MaxConcurrentSessions {
		current := len(m.sessions)
		m.mu.Unlock()
		return "", &apperrors.LimitExceededError{Current: current, Max: m.opts.MaxConcurrentSessions}
	}
	m.mu.Unlock()

	id := uuid.NewString()

	drv, err := driver.New(driver.Options{
		Executable:       m.opts.DriverExecutable,
		Args:             m.opts.DriverArgs,
		SymbolSearchPath: symbolsPath,
		CommandTimeout:   m.opts.CommandTimeout,
	}, m.log)
	if err != nil {
		return "", err
	}

	ts := timeoutsvc.New(m.log)
	q := queue.New(id, drv, ts, m.bus, m.log, m.opts.QueueOptions)
	rec := recovery.New(id, drv, q, m.bus, m.log, m.opts.RecoveryOptions)

	if !drv.Start(target, symbolsPath) {
		// The queue's worker (Run) has not been started, so there is nothing to stop;
		// q.Close would wait forever for it.
		ts.Close()
		return "", &apperrors.ValidationError{Field: "target", Reason: "failed to start debugger child"}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		ID:           id,
		Target:       target,
		SymbolsPath:  symbolsPath,
		CreatedAt:    time.Now(),
		Driver:       drv,
		Queue:        q,
		Timeouts:     ts,
		Recovery:     rec,
		status:       Active,
		lastActivity: time.Now(),
		cancelRun:    cancel,
	}
	go q.Run(ctx, rec)

	m.mu.Lock()
	if len(m.sessions) >= m.opts.MaxConcurrentSessions {
		m.mu.Unlock()
		sess.teardown(m.opts.DisposalTimeout)
		current := len(m.sessions)
		return "", &apperrors.LimitExceededError{Current: current, Max: m.opts.MaxConcurrentSessions}
	}
	m.sessions[id] = sess
	m.mu.Unlock()

	m.created.add(1)
	m.publish(notify.KindSessionEvent, id, "created")
	return id, nil
}

// teardown disposes queue-then-driver.
func (s *Session) teardown(disposalTimeout time.Duration) {
	s.setStatus(Disposing)
	s.Queue.CancelAll("session closing")

	done := make(chan struct{})
	go func() {
		s.Queue.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(disposalTimeout):
	}

	s.cancelRun()
	s.Timeouts.Close()
	s.Driver.Stop()
	s.setStatus(Disposed)
}

// Close atomically removes a session, if present, and tears it down. Idempotent.
func (m *Manager) Close(sessionID string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	sess.teardown(m.opts.DisposalTimeout)
	m.closed.add(1)
	m.totalLifetime.add(int64(time.Since(sess.CreatedAt)))
	m.publish(notify.KindSessionEvent, sessionID, "closed")
	return true
}

// Get returns the session for sessionID and refreshes its lastActivity. Returns
// (nil, false) if no such session exists - callers must translate this to NotFoundError.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	sess.touch()
	return sess, true
}

// List returns a shallow snapshot of every session.
func (m *Manager) List() []Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Context, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sess.mu.Lock()
		out = append(out, Context{
			ID:           sess.ID,
			Target:       sess.Target,
			CreatedAt:    sess.CreatedAt,
			LastActivity: sess.lastActivity,
			Status:       sess.status,
			QueueDepth:   len(sess.Queue.GetQueueStatus()),
		})
		sess.mu.Unlock()
	}
	return out
}

// Stats returns the manager-wide counters snapshot.
func (m *Manager) Stats() Statistics {
	m.mu.RLock()
	active := len(m.sessions)
	m.mu.RUnlock()

	closedCount := m.closed.load()
	var avg time.Duration
	if closedCount > 0 {
		avg = time.Duration(m.totalLifetime.load() / closedCount)
	}

	return Statistics{
		Created:           m.created.load(),
		Closed:            closedCount,
		Expired:           m.expired.load(),
		CommandsProcessed: m.commandsProcessed.load(),
		ActiveCount:       active,
		AverageLifetime:   avg,
		ManagerUptime:     time.Since(m.startedAt),
	}
}

// CleanupExpired closes every session whose lastActivity predates session.sessionTimeout.
func (m *Manager) CleanupExpired() int {
	cutoff := time.Now().Add(-m.opts.SessionTimeout)

	m.mu.RLock()
	var expired []string
	for id, sess := range m.sessions {
		sess.mu.Lock()
		stale := sess.lastActivity.Before(cutoff)
		sess.mu.Unlock()
		if stale {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		if m.Close(id) {
			m.expired.add(1)
		}
	}
	return len(expired)
}

func (m *Manager) sweepLoop() {
	defer close(m.sweepDone)
	ticker := time.NewTicker(m.opts.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			n := m.CleanupExpired()
			if n > 0 {
				m.log.Info("expired idle sessions", "count", n)
			}
		}
	}
}

func (m *Manager) publish(method, sessionID, event string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(notify.Notification{
		Method: method,
		Params: map[string]interface{}{
			"sessionId": sessionID,
			"event":     event,
		},
	})
}

// Shutdown closes every session, waiting at most budget in total. Sessions still
// closing when the budget runs out are not force-killed here: their teardown keeps
// running in the background and Shutdown returns.
func (m *Manager) Shutdown(budget time.Duration) {
	close(m.stopSweep)
	<-m.sweepDone

	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		for _, id := range ids {
			m.Close(id)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(budget):
		m.log.Warn("manager shutdown budget exceeded, remaining sessions still closing in background")
	}
}
