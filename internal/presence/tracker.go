// Package presence tracks remote users' online state and the typing
// indicators of both the local user and their peers.
package presence

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"ride-messaging/internal/loop"
	"ride-messaging/internal/models"
)

// DefaultTypingTimeout is the quiescence window after which a typing
// indicator clears on its own.
const DefaultTypingTimeout = 3 * time.Second

type remoteKey struct {
	userID   string
	threadID string
}

// Tracker owns every typing-expiry timer of a session. Like the rest of the
// session state it must only be used from the session's scheduler.
type Tracker struct {
	sched   loop.Scheduler
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger

	local    map[string]loop.Timer
	remote   map[remoteKey]loop.Timer
	statuses map[string]models.UserStatusInfo

	onLocal  []func(threadID string, typing bool)
	onStatus []func(models.UserStatusInfo)
}

// NewTracker creates a tracker whose timers run on sched. A non-positive
// timeout selects DefaultTypingTimeout.
func NewTracker(sched loop.Scheduler, timeout time.Duration, now func() time.Time, logger *zap.Logger) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		sched:    sched,
		timeout:  timeout,
		now:      now,
		logger:   logger,
		local:    make(map[string]loop.Timer),
		remote:   make(map[remoteKey]loop.Timer),
		statuses: make(map[string]models.UserStatusInfo),
	}
}

// OnLocalTyping registers fn for every change of the local user's typing
// indicator, including automatic expiry.
func (t *Tracker) OnLocalTyping(fn func(threadID string, typing bool)) {
	t.onLocal = append(t.onLocal, fn)
}

// OnStatus registers fn for every applied change to a remote user's status.
func (t *Tracker) OnStatus(fn func(models.UserStatusInfo)) {
	t.onStatus = append(t.onStatus, fn)
}

// SetTyping sets the local user's typing indicator for threadID. true emits
// typing and (re)starts the expiry timer; false cancels the timer at once.
func (t *Tracker) SetTyping(threadID string, typing bool) {
	if !typing {
		timer, ok := t.local[threadID]
		if !ok {
			return
		}
		timer.Stop()
		delete(t.local, threadID)
		t.emitLocal(threadID, false)
		return
	}

	if timer, ok := t.local[threadID]; ok {
		timer.Stop()
	}
	var timer loop.Timer
	timer = t.sched.AfterFunc(t.timeout, func() {
		if t.local[threadID] != timer {
			return
		}
		delete(t.local, threadID)
		t.logger.Debug("typing indicator expired", zap.String("thread_id", threadID))
		t.emitLocal(threadID, false)
	})
	t.local[threadID] = timer
	t.emitLocal(threadID, true)
}

// LocalTyping reports whether the local user is typing in threadID.
func (t *Tracker) LocalTyping(threadID string) bool {
	_, ok := t.local[threadID]
	return ok
}

// RemoteTyping records a peer's typing signal. Positive signals expire after
// the same window as local ones.
func (t *Tracker) RemoteTyping(userID, threadID string, typing bool) {
	key := remoteKey{userID: userID, threadID: threadID}
	if timer, ok := t.remote[key]; ok {
		timer.Stop()
		delete(t.remote, key)
	}

	info := t.statuses[userID]
	info.UserID = userID
	info.LastSeen = t.now()
	if typing {
		var timer loop.Timer
		timer = t.sched.AfterFunc(t.timeout, func() {
			if t.remote[key] != timer {
				return
			}
			delete(t.remote, key)
			t.clearRemoteTyping(userID, threadID)
		})
		t.remote[key] = timer
		info.Status = models.PresenceTyping
		info.IsTyping = true
		info.ThreadID = threadID
		t.store(info)
		return
	}
	if info.ThreadID == threadID || info.ThreadID == "" {
		info.IsTyping = false
		info.ThreadID = ""
		info.Status = models.PresenceOnline
		t.store(info)
	}
}

func (t *Tracker) clearRemoteTyping(userID, threadID string) {
	info, ok := t.statuses[userID]
	if !ok || !info.IsTyping || info.ThreadID != threadID {
		return
	}
	info.IsTyping = false
	info.ThreadID = ""
	if info.Status == models.PresenceTyping {
		info.Status = models.PresenceOnline
	}
	t.store(info)
}

// TypingIn returns the peers currently typing in threadID, sorted by id.
func (t *Tracker) TypingIn(threadID string) []string {
	var users []string
	for key := range t.remote {
		if key.threadID == threadID {
			users = append(users, key.userID)
		}
	}
	sort.Strings(users)
	return users
}

// UpdateRemoteStatus applies a presence update with last-write-wins
// semantics. When both the stored and the incoming status carry a sequence
// number, an update older than the stored one is dropped. It reports whether
// the update was applied.
func (t *Tracker) UpdateRemoteStatus(info models.UserStatusInfo) bool {
	current, known := t.statuses[info.UserID]
	if known && info.Seq != 0 && current.Seq != 0 && info.Seq < current.Seq {
		t.logger.Debug("stale presence dropped",
			zap.String("user_id", info.UserID),
			zap.Uint64("seq", info.Seq),
			zap.Uint64("current_seq", current.Seq),
		)
		return false
	}
	if info.LastSeen.IsZero() {
		info.LastSeen = t.now()
	}
	if info.Status == models.PresenceOffline {
		info.IsTyping = false
		info.ThreadID = ""
		for key, timer := range t.remote {
			if key.userID == info.UserID {
				timer.Stop()
				delete(t.remote, key)
			}
		}
	}
	if info.Status == models.PresenceTyping {
		info.IsTyping = true
	}
	t.store(info)
	return true
}

// Status returns the last known status of userID.
func (t *Tracker) Status(userID string) (models.UserStatusInfo, bool) {
	info, ok := t.statuses[userID]
	return info, ok
}

// Statuses returns every known remote status sorted by user id.
func (t *Tracker) Statuses() []models.UserStatusInfo {
	out := make([]models.UserStatusInfo, 0, len(t.statuses))
	for _, info := range t.statuses {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Reset cancels every owned timer and clears all typing state. Known remote
// statuses are kept. Each cleared local indicator is reported as typing=false
// and each peer that was typing gets a status update.
func (t *Tracker) Reset() {
	threadIDs := make([]string, 0, len(t.local))
	for threadID, timer := range t.local {
		timer.Stop()
		delete(t.local, threadID)
		threadIDs = append(threadIDs, threadID)
	}
	sort.Strings(threadIDs)

	var cleared []string
	for key, timer := range t.remote {
		timer.Stop()
		delete(t.remote, key)
		info, ok := t.statuses[key.userID]
		if !ok || !info.IsTyping {
			continue
		}
		info.IsTyping = false
		info.ThreadID = ""
		if info.Status == models.PresenceTyping {
			info.Status = models.PresenceOnline
		}
		t.statuses[key.userID] = info
		cleared = append(cleared, key.userID)
	}
	sort.Strings(cleared)

	for _, threadID := range threadIDs {
		t.emitLocal(threadID, false)
	}
	for _, userID := range cleared {
		t.store(t.statuses[userID])
	}
}

// Clear forgets every remote status. Used on logout.
func (t *Tracker) Clear() {
	t.Reset()
	t.statuses = make(map[string]models.UserStatusInfo)
}

// PendingTimers reports how many expiry timers are outstanding.
func (t *Tracker) PendingTimers() int {
	return len(t.local) + len(t.remote)
}

func (t *Tracker) store(info models.UserStatusInfo) {
	t.statuses[info.UserID] = info
	for _, fn := range t.onStatus {
		fn(info)
	}
}

func (t *Tracker) emitLocal(threadID string, typing bool) {
	for _, fn := range t.onLocal {
		fn(threadID, typing)
	}
}
