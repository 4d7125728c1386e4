package scheduler

import (
	"context"
	"errors"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTaskNeverRunsConcurrentlyWithItself(t *testing.T) {
	var running int32
	var maxConcurrent int32
	var calls int32

	r := New(log.New(io.Discard, "", 0))
	r.AddTask("work", 5*time.Millisecond, time.Second, func(ctx context.Context) error {
		n := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&maxConcurrent)
			if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
				break
			}
		}
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	})

	r.Start(context.Background())
	time.Sleep(120 * time.Millisecond)
	require.NoError(t, r.Shutdown(time.Second))

	require.LessOrEqual(t, atomic.LoadInt32(&maxConcurrent), int32(1))
	require.Greater(t, atomic.LoadInt32(&calls), int32(0))
}

func TestBackoffSuppressesTicksAfterFailure(t *testing.T) {
	var calls int32

	r := New(log.New(io.Discard, "", 0))
	r.AddTask("flaky", 5*time.Millisecond, time.Second, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	})

	r.Start(context.Background())
	time.Sleep(40 * time.Millisecond)
	require.NoError(t, r.Shutdown(time.Second))

	// One failure triggers a 60s backoff; across a 40ms window that should
	// mean exactly one call, not one per 5ms tick.
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRequestRerunCoalescesIntoSinglePendingRun(t *testing.T) {
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})

	r := New(log.New(io.Discard, "", 0))
	r.AddTask("job", time.Hour, time.Second, func(ctx context.Context) error {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			close(started)
			<-release
		}
		return nil
	})

	r.Start(context.Background())
	r.RequestRerun("job")
	<-started

	// Two more rerun requests while the first run is in flight: per
	// spec.md §4.5 these coalesce into at most one pending rerun.
	r.RequestRerun("job")
	r.RequestRerun("job")
	close(release)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 2
	}, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
	require.NoError(t, r.Shutdown(time.Second))
}

func TestShutdownWaitsForInFlightRun(t *testing.T) {
	done := make(chan struct{})

	r := New(log.New(io.Discard, "", 0))
	r.AddTask("slow", time.Hour, time.Second, func(ctx context.Context) error {
		time.Sleep(30 * time.Millisecond)
		close(done)
		return nil
	})

	r.Start(context.Background())
	r.RequestRerun("slow")
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, r.Shutdown(time.Second))
	select {
	case <-done:
	default:
		t.Fatal("shutdown returned before the in-flight run finished")
	}
}
