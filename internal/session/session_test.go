package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sascodiego/dbggateway/internal/apperrors"
	"github.com/sascodiego/dbggateway/internal/notify"
	"github.com/sascodiego/dbggateway/pkg/logger"
)

func testLogger() logger.Logger { return logger.NewDefaultLogger("session_test", "ERROR") }

// Session tests exercise the manager's bookkeeping with an executable that is
// guaranteed to exist and that exits right away on the debugger's "-z" flag, since
// they are not testing the driver's sentinel framing itself (covered in internal/driver).
func newManagerWithFakeExecutable(t *testing.T, opts Options) *Manager {
	t.Helper()
	opts.DriverExecutable = "/bin/cat" // always present, so the driver's Start succeeds
	opts.CommandTimeout = 200 * time.Millisecond
	bus := notify.New(testLogger())
	return NewManager(opts, bus, testLogger())
}

func TestCreate_RejectsEmptyTarget(t *testing.T) {
	m := newManagerWithFakeExecutable(t, Options{})
	_, err := m.Create("", "")
	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestCreate_EnforcesSessionCap(t *testing.T) {
	m := newManagerWithFakeExecutable(t, Options{MaxConcurrentSessions: 1})

	id1, err := m.Create("/tmp/a.dmp", "")
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	_, err = m.Create("/tmp/b.dmp", "")
	var limErr *apperrors.LimitExceededError
	require.ErrorAs(t, err, &limErr)
	assert.Equal(t, 1, limErr.Current)
	assert.Equal(t, 1, limErr.Max)

	assert.True(t, m.Close(id1))

	id2, err := m.Create("/tmp/c.dmp", "")
	require.NoError(t, err)
	assert.NotEmpty(t, id2)
}

func TestClose_IsIdempotentAndNeverReusesID(t *testing.T) {
	m := newManagerWithFakeExecutable(t, Options{})
	id, err := m.Create("/tmp/a.dmp", "")
	require.NoError(t, err)

	assert.True(t, m.Close(id))
	assert.False(t, m.Close(id))

	_, ok := m.Get(id)
	assert.False(t, ok)
}

func TestGet_UpdatesLastActivity(t *testing.T) {
	m := newManagerWithFakeExecutable(t, Options{})
	id, err := m.Create("/tmp/a.dmp", "")
	require.NoError(t, err)

	sess, ok := m.Get(id)
	require.True(t, ok)
	first := sess.lastActivity

	time.Sleep(5 * time.Millisecond)
	sess2, ok := m.Get(id)
	require.True(t, ok)
	assert.True(t, sess2.lastActivity.After(first) || sess2.lastActivity.Equal(first))
}

func TestList_ReturnsShallowProjection(t *testing.T) {
	m := newManagerWithFakeExecutable(t, Options{})
	id, err := m.Create("/tmp/a.dmp", "")
	require.NoError(t, err)

	ctxs := m.List()
	require.Len(t, ctxs, 1)
	assert.Equal(t, id, ctxs[0].ID)
	assert.Equal(t, Active, ctxs[0].Status)
}

func TestCleanupExpired_ClosesIdleSessions(t *testing.T) {
	m := newManagerWithFakeExecutable(t, Options{SessionTimeout: 10 * time.Millisecond, CleanupInterval: time.Hour})
	id, err := m.Create("/tmp/a.dmp", "")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	n := m.CleanupExpired()
	assert.Equal(t, 1, n)

	_, ok := m.Get(id)
	assert.False(t, ok)
}

func TestStats_TracksCountersAcrossLifecycle(t *testing.T) {
	m := newManagerWithFakeExecutable(t, Options{})
	id, err := m.Create("/tmp/a.dmp", "")
	require.NoError(t, err)
	m.Close(id)

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Created)
	assert.Equal(t, int64(1), stats.Closed)
	assert.Equal(t, 0, stats.ActiveCount)
}

func TestShutdown_ClosesAllSessionsWithinBudget(t *testing.T) {
	m := newManagerWithFakeExecutable(t, Options{})
	_, err := m.Create("/tmp/a.dmp", "")
	require.NoError(t, err)
	_, err = m.Create("/tmp/b.dmp", "")
	require.NoError(t, err)

	m.Shutdown(2 * time.Second)
	assert.Equal(t, 0, m.Stats().ActiveCount)
}
