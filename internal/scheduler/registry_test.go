package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Dhoini/numgate/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleFires(t *testing.T) {
	r := NewRegistry(logger.NewNop())
	done := make(chan struct{})

	task := r.Schedule("k", 5*time.Millisecond, func(ctx context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not fire")
	}
	assert.Eventually(t, func() bool { return r.Pending() == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, task.Fired())
}

func TestCancelAfterFireIsNoop(t *testing.T) {
	r := NewRegistry(logger.NewNop())
	var runs int32
	done := make(chan struct{})

	task := r.Schedule("k", time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&runs, 1)
		close(done)
	})
	<-done

	assert.False(t, task.Cancel())
	assert.False(t, task.Cancel())
	assert.False(t, r.Cancel("k"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestCancelBeforeFire(t *testing.T) {
	r := NewRegistry(logger.NewNop())
	var runs int32

	task := r.Schedule("k", 50*time.Millisecond, func(ctx context.Context) { atomic.AddInt32(&runs, 1) })
	assert.True(t, task.Cancel())
	assert.Equal(t, 0, r.Pending())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&runs))
}

func TestRescheduleReplaces(t *testing.T) {
	r := NewRegistry(logger.NewNop())
	var first, second int32
	done := make(chan struct{})

	r.Schedule("k", 30*time.Millisecond, func(ctx context.Context) { atomic.AddInt32(&first, 1) })
	r.Schedule("k", 5*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&second, 1)
		close(done)
	})
	<-done
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, int32(0), atomic.LoadInt32(&first))
	assert.Equal(t, int32(1), atomic.LoadInt32(&second))
}

func TestPanickingTaskIsIsolated(t *testing.T) {
	r := NewRegistry(logger.NewNop())
	done := make(chan struct{})

	r.Schedule("bad", time.Millisecond, func(ctx context.Context) { panic("boom") })
	r.Schedule("good", 10*time.Millisecond, func(ctx context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("good task did not run")
	}
}

func TestShutdownCancelsPending(t *testing.T) {
	r := NewRegistry(logger.NewNop())
	var runs int32

	r.Schedule("a", time.Hour, func(ctx context.Context) { atomic.AddInt32(&runs, 1) })
	r.Schedule("b", time.Hour, func(ctx context.Context) { atomic.AddInt32(&runs, 1) })
	require.Equal(t, 2, r.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	assert.Equal(t, 0, r.Pending())
	late := r.Schedule("c", time.Millisecond, func(ctx context.Context) { atomic.AddInt32(&runs, 1) })
	assert.False(t, late.Cancel())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&runs))
}
