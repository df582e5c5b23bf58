package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEvery_Fires(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var count int32
	s.Every("tick", 20*time.Millisecond, func(context.Context) error {
		atomic.AddInt32(&count, 1)
		return nil
	})

	time.Sleep(120 * time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&count), int32(3))
}

func TestEvery_Replaces(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var count1, count2 int32
	s.Every("task", 20*time.Millisecond, func(context.Context) error { atomic.AddInt32(&count1, 1); return nil })
	time.Sleep(30 * time.Millisecond)
	s.Every("task", 20*time.Millisecond, func(context.Context) error { atomic.AddInt32(&count2, 1); return nil })
	time.Sleep(80 * time.Millisecond)

	snap1 := atomic.LoadInt32(&count1)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, snap1, atomic.LoadInt32(&count1), "old task must stop after replacement")
	assert.Positive(t, atomic.LoadInt32(&count2))
	assert.Len(t, s.List(), 1)
}

func TestRemove(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var count int32
	s.Every("task", 20*time.Millisecond, func(context.Context) error { atomic.AddInt32(&count, 1); return nil })
	time.Sleep(50 * time.Millisecond)
	s.Remove("task")
	time.Sleep(10 * time.Millisecond)
	snap := atomic.LoadInt32(&count)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, snap, atomic.LoadInt32(&count), "task must stop after Remove")
	assert.Empty(t, s.List())

	s.Remove("nope") // must not panic
}

func TestStop_WaitsAndStopsAll(t *testing.T) {
	s := New(zap.NewNop())

	var c1, c2 int32
	s.Every("a", 20*time.Millisecond, func(context.Context) error { atomic.AddInt32(&c1, 1); return nil })
	s.Every("b", 20*time.Millisecond, func(context.Context) error { atomic.AddInt32(&c2, 1); return nil })
	time.Sleep(50 * time.Millisecond)
	s.Stop()
	snap1, snap2 := atomic.LoadInt32(&c1), atomic.LoadInt32(&c2)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, snap1, atomic.LoadInt32(&c1))
	assert.Equal(t, snap2, atomic.LoadInt32(&c2))

	// Registering after Stop is ignored.
	s.Every("late", time.Millisecond, func(context.Context) error { return nil })
	assert.Len(t, s.List(), 2)
}

func TestList_RecordsFailuresAndPanics(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	s.Every("fails", 15*time.Millisecond, func(context.Context) error { return errors.New("db down") })
	s.Every("panics", 15*time.Millisecond, func(context.Context) error { panic("boom") })

	require.Eventually(t, func() bool {
		for _, info := range s.List() {
			if info.Failures == 0 {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	infos := s.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "fails", infos[0].Name)
	assert.Equal(t, "db down", infos[0].LastError)
	assert.Equal(t, "panics", infos[1].Name)
	assert.Equal(t, "task panicked", infos[1].LastError)
}

func TestEvery_ContextCancelledOnStop(t *testing.T) {
	s := New(zap.NewNop())

	started := make(chan struct{})
	var sawCancel int32
	s.Every("slow", 10*time.Millisecond, func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		atomic.StoreInt32(&sawCancel, 1)
		return ctx.Err()
	})
	<-started
	s.Stop()
	assert.Equal(t, int32(1), atomic.LoadInt32(&sawCancel))
}
