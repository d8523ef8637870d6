package driver

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sascodiego/dbggateway/internal/apperrors"
	"github.com/sascodiego/dbggateway/pkg/logger"
)

// fakeChildIO is an in-process stand-in for the debugger subprocess: writes to stdin
// are available on Written(), and tests push lines for the driver to read on stdout
// by writing into the pipe returned from newFakeChildIO.
type fakeChildIO struct {
	mu       sync.Mutex
	written  strings.Builder
	stdinW   *io.PipeWriter
	stdoutR  *io.PipeReader
	stdoutW  *io.PipeWriter
	closed   bool
	interrupted int
	killed      int
}

func newFakeChildIO() (*fakeChildIO, io.WriteCloser, io.ReadCloser) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	f := &fakeChildIO{stdinW: stdinW, stdoutR: stdoutR, stdoutW: stdoutW}

	// Drain stdin in the background so fmt.Fprintf in Execute never blocks forever
	// on an unbuffered pipe with nobody reading the other end.
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := stdinR.Read(buf)
			if n > 0 {
				f.mu.Lock()
				f.written.Write(buf[:n])
				f.mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()

	return f, stdinW, stdoutR
}

func (f *fakeChildIO) Interrupt() error {
	f.mu.Lock()
	f.interrupted++
	f.mu.Unlock()
	return nil
}

func (f *fakeChildIO) Kill() error {
	f.mu.Lock()
	f.killed++
	f.mu.Unlock()
	return nil
}

func (f *fakeChildIO) Wait() error { return nil }
func (f *fakeChildIO) Pid() int    { return 4242 }

func (f *fakeChildIO) writeLine(s string) {
	_, _ = f.stdoutW.Write([]byte(s + "\n"))
}

func (f *fakeChildIO) Written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String()
}

func testLogger() logger.Logger {
	return logger.NewDefaultLogger("driver_test", "ERROR")
}

func newTestDriver(t *testing.T, opts Options) (*Driver, *fakeChildIO) {
	t.Helper()
	fake, stdinW, stdoutR := newFakeChildIO()
	d, err := newForTest(stdinW, stdoutR, fake, opts, testLogger())
	require.NoError(t, err)
	return d, fake
}

func TestExecute_SentinelFraming(t *testing.T) {
	d, fake := newTestDriver(t, Options{})

	go func() {
		// Wait for the marker command to show up on stdin, then answer with the
		// sentinel the driver is waiting for.
		for i := 0; i < 100; i++ {
			if strings.Contains(fake.Written(), d.sentinel) {
				break
			}
			time.Sleep(time.Millisecond)
		}
		fake.writeLine("some debugger output")
		fake.writeLine("more output")
		fake.writeLine(d.sentinel)
	}()

	out, err := d.Execute(context.Background(), "bp main", nil)
	require.NoError(t, err)
	assert.Equal(t, "some debugger output\nmore output\n", out)
}

func TestExecute_SingleFlightBusy(t *testing.T) {
	d, fake := newTestDriver(t, Options{})
	_ = fake

	started := make(chan struct{})
	blockDone := make(chan struct{})
	go func() {
		close(started)
		_, _ = d.Execute(context.Background(), "go", nil)
		close(blockDone)
	}()
	<-started
	time.Sleep(20 * time.Millisecond) // let Execute acquire execMu

	_, err := d.Execute(context.Background(), "bt", nil)
	var busy *apperrors.BusyError
	assert.ErrorAs(t, err, &busy)

	// Unblock the first execute so the test doesn't leak goroutines.
	fake.writeLine(d.sentinel)
	<-blockDone
}

func TestExecute_CancelSignal(t *testing.T) {
	d, fake := newTestDriver(t, Options{CancelGrace: 50 * time.Millisecond})

	cancelSignal := make(chan struct{})
	resultCh := make(chan error, 1)
	go func() {
		_, err := d.Execute(context.Background(), "go", cancelSignal)
		resultCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	close(cancelSignal)

	var err error
	select {
	case err = <-resultCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after cancellation")
	}

	var cancelled *apperrors.CancelledError
	require.ErrorAs(t, err, &cancelled)
	assert.Equal(t, 1, fake.interrupted)

	// The driver must still be usable for the next command.
	assert.True(t, d.IsActive())

	go func() {
		for i := 0; i < 100; i++ {
			if strings.Contains(fake.Written(), d.sentinel) {
				break
			}
			time.Sleep(time.Millisecond)
		}
		fake.writeLine(d.sentinel)
	}()
	out, err := d.Execute(context.Background(), "bt", nil)
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestExecute_TimeoutForcesClose(t *testing.T) {
	d, fake := newTestDriver(t, Options{CommandTimeout: 30 * time.Millisecond, CancelGrace: 20 * time.Millisecond})

	start := time.Now()
	_, err := d.Execute(context.Background(), "go", nil)
	elapsed := time.Since(start)

	var timedOut *apperrors.TimedOutError
	require.ErrorAs(t, err, &timedOut)
	assert.GreaterOrEqual(t, fake.interrupted, 1)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestExecute_EOFMarksErrored(t *testing.T) {
	d, fake := newTestDriver(t, Options{})

	resultCh := make(chan error, 1)
	go func() {
		_, err := d.Execute(context.Background(), "go", nil)
		resultCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	_ = fake.stdoutW.Close()

	err := <-resultCh
	var childErr *apperrors.ChildProcessError
	require.ErrorAs(t, err, &childErr)
	assert.True(t, errors.Is(childErr.Err, io.ErrUnexpectedEOF))
	assert.False(t, d.IsActive())
}

func TestCancelCurrent_NoInFlightCommand(t *testing.T) {
	d, _ := newTestDriver(t, Options{})
	// Must not panic or block when nothing is executing.
	d.CancelCurrent()
}
