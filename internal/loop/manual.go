package loop

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Manual is a deterministic Scheduler for tests. Posted work and due timers
// only run when the test calls RunPending or Advance, on the calling goroutine.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	queue  []func()
	timers []*manualTimer
	seq    int
}

// NewManual returns a Manual scheduler whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the scheduler's virtual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Post queues fn until the next RunPending.
func (m *Manual) Post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
}

// Do runs queued work, then fn, then whatever fn queued, all on the calling
// goroutine.
func (m *Manual) Do(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.RunPending()
	fn()
	m.RunPending()
	return nil
}

// AfterFunc registers fn to run once virtual time passes d.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{owner: m, at: m.now.Add(d), fn: fn, seq: m.seq}
	m.timers = append(m.timers, t)
	return t
}

// PendingTimers reports how many timers are armed.
func (m *Manual) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// RunPending runs queued work, including work queued while running, and
// returns the number of callbacks executed.
func (m *Manual) RunPending() int {
	ran := 0
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return ran
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		fn()
		ran++
	}
}

// Advance moves virtual time forward by d, firing due timers in order and
// draining queued work after each.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	m.RunPending()
	for {
		m.mu.Lock()
		sort.Slice(m.timers, func(i, j int) bool {
			if m.timers[i].at.Equal(m.timers[j].at) {
				return m.timers[i].seq < m.timers[j].seq
			}
			return m.timers[i].at.Before(m.timers[j].at)
		})
		if len(m.timers) == 0 || m.timers[0].at.After(target) {
			m.now = target
			m.mu.Unlock()
			return
		}
		t := m.timers[0]
		m.timers = m.timers[1:]
		m.now = t.at
		m.mu.Unlock()

		t.fn()
		m.RunPending()
	}
}

type manualTimer struct {
	owner *Manual
	at    time.Time
	fn    func()
	seq   int
}

func (t *manualTimer) Stop() bool {
	m := t.owner
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, other := range m.timers {
		if other == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return true
		}
	}
	return false
}

var (
	_ Executor = (*Manual)(nil)
	_ Executor = (*Loop)(nil)
)
