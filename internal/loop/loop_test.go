package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLoopRunsPostedWorkInOrder(t *testing.T) {
	l := New(zaptest.NewLogger(t))
	defer l.Close()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	require.NoError(t, l.Do(context.Background(), func() {}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoopPostFromInsideLoopDoesNotBlock(t *testing.T) {
	l := New(nil)
	defer l.Close()

	ran := make(chan struct{})
	l.Post(func() {
		l.Post(func() { close(ran) })
	})

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("nested post never ran")
	}
}

func TestLoopTimerStopPreventsCallback(t *testing.T) {
	l := New(nil)
	defer l.Close()

	fired := make(chan struct{}, 1)
	timer := l.AfterFunc(20*time.Millisecond, func() { fired <- struct{}{} })
	require.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestLoopDoAfterClose(t *testing.T) {
	l := New(nil)
	l.Close()
	assert.ErrorIs(t, l.Do(context.Background(), func() {}), ErrClosed)
}

func TestLoopRecoversFromPanics(t *testing.T) {
	l := New(zaptest.NewLogger(t))
	defer l.Close()

	l.Post(func() { panic("boom") })
	ran := false
	require.NoError(t, l.Do(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestManualAdvanceFiresDueTimersOnly(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var fired []string
	m.AfterFunc(3*time.Second, func() { fired = append(fired, "three") })
	m.AfterFunc(time.Second, func() { fired = append(fired, "one") })
	stopped := m.AfterFunc(2*time.Second, func() { fired = append(fired, "two") })
	require.True(t, stopped.Stop())

	m.Advance(2 * time.Second)
	assert.Equal(t, []string{"one"}, fired)
	assert.Equal(t, 1, m.PendingTimers())

	m.Advance(time.Second)
	assert.Equal(t, []string{"one", "three"}, fired)
	assert.Equal(t, time.Unix(3, 0), m.Now())
}

func TestManualRunPendingDrainsNestedPosts(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	count := 0
	m.Post(func() {
		count++
		m.Post(func() { count++ })
	})
	assert.Equal(t, 2, m.RunPending())
	assert.Equal(t, 2, count)
}

func TestManualDoDrainsQueue(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var got []int
	m.Post(func() { got = append(got, 1) })

	require.NoError(t, m.Do(context.Background(), func() {
		got = append(got, 2)
		m.Post(func() { got = append(got, 3) })
	}))
	assert.Equal(t, []int{1, 2, 3}, got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Do(ctx, func() { t.Fatal("must not run") }), context.Canceled)
}
