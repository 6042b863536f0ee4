package session

import (
	"sync"

	"ride-messaging/internal/models"
)

// UpdateKind names what changed.
type UpdateKind string

const (
	UpdateConnection UpdateKind = "connection"
	UpdateMessage    UpdateKind = "message"
	UpdatePresence   UpdateKind = "presence"
	UpdateTyping     UpdateKind = "typing"
)

// Update notifies observers that a snapshot changed. Payloads are copies.
type Update struct {
	Kind     UpdateKind
	State    models.ConnectionState
	ThreadID string
	UserID   string
	Message  *models.Message
	Presence *models.UserStatusInfo
	Typing   bool
}

type subscribers struct {
	mu     sync.Mutex
	chans  map[int]chan Update
	next   int
	closed bool
}

// Subscribe returns a channel receiving updates and a function that cancels
// the subscription. Updates are dropped for a subscriber whose buffer is
// full. The channel is closed when the session closes.
func (s *Session) Subscribe(buffer int) (<-chan Update, func()) {
	return s.subs.add(buffer)
}

func (b *subscribers) add(buffer int) (<-chan Update, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Update, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	if b.chans == nil {
		b.chans = make(map[int]chan Update)
	}
	id := b.next
	b.next++
	b.chans[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.chans[id]; ok {
				delete(b.chans, id)
				close(c)
			}
		})
	}
}

func (b *subscribers) publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.chans {
		select {
		case ch <- u:
		default:
		}
	}
}

func (b *subscribers) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.chans {
		delete(b.chans, id)
		close(ch)
	}
}
