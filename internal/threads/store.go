// Package threads indexes conversation threads and their ordered message logs.
package threads

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"ride-messaging/internal/models"
)

// ErrThreadNotFound is returned for operations on unknown thread ids.
var ErrThreadNotFound = errors.New("thread not found")

// DefaultNamespace seeds deterministic thread ids.
var DefaultNamespace = uuid.MustParse("6f1c2d8e-3b5a-4c7e-9d21-7a0e4b6c1f90")

type entry struct {
	thread models.Thread
	log    []models.Message
}

// Store holds every thread known to the local user. It is not safe for
// concurrent use; the owning session serializes access.
type Store struct {
	localUserID string
	namespace   uuid.UUID
	now         func() time.Time

	threads  map[string]*entry
	byKey    map[string]string
	messages map[string]string // message id -> thread id
}

// New creates an empty store for localUserID.
func New(localUserID string, namespace uuid.UUID, now func() time.Time) *Store {
	if namespace == uuid.Nil {
		namespace = DefaultNamespace
	}
	if now == nil {
		now = time.Now
	}
	return &Store{
		localUserID: localUserID,
		namespace:   namespace,
		now:         now,
		threads:     make(map[string]*entry),
		byKey:       make(map[string]string),
		messages:    make(map[string]string),
	}
}

// ThreadKey identifies a conversation by participant pair and ride.
func ThreadKey(a, b, rideID string) string {
	participants := []string{a, b}
	sort.Strings(participants)
	return participants[0] + "|" + participants[1] + "|" + rideID
}

// ThreadID derives the id both participants compute for the same pair and ride.
func ThreadID(namespace uuid.UUID, a, b, rideID string) string {
	return uuid.NewSHA1(namespace, []byte(ThreadKey(a, b, rideID))).String()
}

// CreateThread returns the thread shared with participantID for rideID,
// creating it with no unread messages if it does not exist.
func (s *Store) CreateThread(participantID, rideID, bookingID string) models.Thread {
	key := ThreadKey(s.localUserID, participantID, rideID)
	if id, ok := s.byKey[key]; ok {
		return s.threads[id].thread.Clone()
	}
	id := ThreadID(s.namespace, s.localUserID, participantID, rideID)
	return s.insert(id, key, []string{s.localUserID, participantID}, rideID, bookingID).thread.Clone()
}

// EnsureThread returns thread id, creating it from an inbound message's
// metadata if it is not known yet.
func (s *Store) EnsureThread(id string, participants []string, rideID, bookingID string) models.Thread {
	if e, ok := s.threads[id]; ok {
		return e.thread.Clone()
	}
	key := ThreadKey(participants[0], participants[1], rideID)
	if existing, ok := s.byKey[key]; ok && existing != id {
		// a thread with a different id already covers this pair and ride;
		// keep the key pointing at the first one
		key = ""
	}
	return s.insert(id, key, participants, rideID, bookingID).thread.Clone()
}

func (s *Store) insert(id, key string, participants []string, rideID, bookingID string) *entry {
	now := s.now()
	threadType := models.ThreadTypeDirect
	switch {
	case rideID != "":
		threadType = models.ThreadTypeRide
	case bookingID != "":
		threadType = models.ThreadTypeBooking
	}
	e := &entry{thread: models.Thread{
		ID:           id,
		Participants: append([]string(nil), participants...),
		RideID:       rideID,
		BookingID:    bookingID,
		Type:         threadType,
		CreatedAt:    now,
		UpdatedAt:    now,
	}}
	s.threads[id] = e
	if key != "" {
		s.byKey[key] = id
	}
	return e
}

// Thread returns a snapshot of thread id.
func (s *Store) Thread(id string) (models.Thread, bool) {
	e, ok := s.threads[id]
	if !ok {
		return models.Thread{}, false
	}
	return e.thread.Clone(), true
}

// Append inserts msg into its thread's log in (timestamp, id) order. A message
// id already present is ignored and Append reports false.
func (s *Store) Append(msg models.Message) (bool, error) {
	e, ok := s.threads[msg.ThreadID]
	if !ok {
		return false, ErrThreadNotFound
	}
	if _, dup := s.messages[msg.ID]; dup {
		return false, nil
	}

	msg = msg.Clone()
	i := sort.Search(len(e.log), func(i int) bool { return msg.Before(e.log[i]) })
	e.log = append(e.log, models.Message{})
	copy(e.log[i+1:], e.log[i:])
	e.log[i] = msg
	s.messages[msg.ID] = msg.ThreadID

	if s.unread(msg) {
		e.thread.UnreadCount++
	}
	// appending is activity now, even when the sender's clock lags ours
	at := s.now()
	if msg.Timestamp.After(at) {
		at = msg.Timestamp
	}
	s.touch(e, at)
	return true, nil
}

// Message returns a snapshot of message id.
func (s *Store) Message(id string) (models.Message, bool) {
	e, i, ok := s.locate(id)
	if !ok {
		return models.Message{}, false
	}
	return e.log[i].Clone(), true
}

// SetStatus overwrites a message's status and keeps the unread count in sync.
// Transition rules are enforced by the caller.
func (s *Store) SetStatus(id string, status models.MessageStatus) (models.Message, bool) {
	e, i, ok := s.locate(id)
	if !ok {
		return models.Message{}, false
	}
	before := s.unread(e.log[i])
	e.log[i].Status = status
	after := s.unread(e.log[i])
	switch {
	case before && !after:
		e.thread.UnreadCount--
	case !before && after:
		e.thread.UnreadCount++
	}
	s.refreshLast(e)
	return e.log[i].Clone(), true
}

// Touch bumps a thread's UpdatedAt to now, used for read-receipt activity.
func (s *Store) Touch(threadID string) {
	if e, ok := s.threads[threadID]; ok {
		s.touch(e, s.now())
	}
}

// Messages returns a copy of the thread's ordered log.
func (s *Store) Messages(threadID string) []models.Message {
	e, ok := s.threads[threadID]
	if !ok {
		return nil
	}
	out := make([]models.Message, len(e.log))
	for i, m := range e.log {
		out[i] = m.Clone()
	}
	return out
}

// SortedByActivity returns every thread, most recently updated first, ties
// broken by id.
func (s *Store) SortedByActivity() []models.Thread {
	out := make([]models.Thread, 0, len(s.threads))
	for _, e := range s.threads {
		out = append(out, e.thread.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// UnreadTotal sums unread counts across threads.
func (s *Store) UnreadTotal() int {
	total := 0
	for _, e := range s.threads {
		total += e.thread.UnreadCount
	}
	return total
}

func (s *Store) unread(m models.Message) bool {
	return m.ReceiverID == s.localUserID && m.SenderID != s.localUserID && m.Status != models.StatusRead
}

func (s *Store) locate(id string) (*entry, int, bool) {
	threadID, ok := s.messages[id]
	if !ok {
		return nil, 0, false
	}
	e := s.threads[threadID]
	for i := range e.log {
		if e.log[i].ID == id {
			return e, i, true
		}
	}
	return nil, 0, false
}

func (s *Store) touch(e *entry, at time.Time) {
	if at.After(e.thread.UpdatedAt) {
		e.thread.UpdatedAt = at
	}
	s.refreshLast(e)
}

func (s *Store) refreshLast(e *entry) {
	if len(e.log) == 0 {
		e.thread.LastMessage = nil
		return
	}
	last := e.log[len(e.log)-1].Clone()
	e.thread.LastMessage = &last
}
