package delivery

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ride-messaging/internal/models"
	"ride-messaging/internal/threads"
)

const (
	rider  = "rider-1"
	driver = "driver-9"
)

type fixture struct {
	store   *threads.Store
	tracker *Tracker
	thread  models.Thread
	seq     int
}

func newFixture() *fixture {
	clock := time.Unix(1_000, 0)
	f := &fixture{store: threads.New(rider, uuid.Nil, func() time.Time { return clock })}
	f.tracker = NewTracker(f.store, rider,
		WithClock(func() time.Time { return clock }),
		WithIDGenerator(func() string {
			f.seq++
			return fmt.Sprintf("m%d", f.seq)
		}),
	)
	f.thread = f.store.CreateThread(driver, "ride-1", "")
	return f
}

func (f *fixture) draft(content string) models.Draft {
	return models.Draft{ThreadID: f.thread.ID, ReceiverID: driver, Content: content}
}

func okDispatch(models.Message) error { return nil }

// assertMonotonic checks a history is a prefix of one of the legal paths.
func assertMonotonic(t *testing.T, history []models.MessageStatus) {
	t.Helper()
	paths := [][]models.MessageStatus{
		{models.StatusSending, models.StatusSent, models.StatusDelivered, models.StatusRead},
		{models.StatusSending, models.StatusQueued, models.StatusSent, models.StatusDelivered, models.StatusRead},
		{models.StatusSending, models.StatusFailed},
		{models.StatusSending, models.StatusQueued, models.StatusFailed},
	}
	for _, path := range paths {
		if len(history) <= len(path) {
			match := true
			for i := range history {
				if history[i] != path[i] {
					match = false
					break
				}
			}
			if match {
				return
			}
		}
	}
	t.Fatalf("history %v is not a legal status path", history)
}

func TestSendWhileConnected(t *testing.T) {
	f := newFixture()
	var dispatched []models.Message
	msg, err := f.tracker.Send(f.draft("Hi"), true, OfflineFail, func(m models.Message) error {
		dispatched = append(dispatched, m)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusSent, msg.Status)
	assert.Equal(t, rider, msg.SenderID)
	assert.Equal(t, models.MessageTypeText, msg.Type)
	require.Len(t, dispatched, 1)
	assert.Equal(t, msg.ID, dispatched[0].ID)

	th, _ := f.store.Thread(f.thread.ID)
	assert.Equal(t, msg.ID, th.LastMessage.ID)

	require.True(t, f.tracker.Ack(msg.ID, models.StatusDelivered))
	got, _ := f.store.Message(msg.ID)
	assert.Equal(t, models.StatusDelivered, got.Status)
	assertMonotonic(t, f.tracker.History(msg.ID))
}

func TestSendWhileDisconnectedLegacyFails(t *testing.T) {
	f := newFixture()
	msg, err := f.tracker.Send(f.draft("Hi"), false, OfflineFail, func(models.Message) error {
		t.Fatal("must not dispatch while disconnected")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, msg.Status)
	assert.Equal(t, []models.MessageStatus{models.StatusSending, models.StatusFailed}, f.tracker.History(msg.ID))
}

func TestSendWhileDisconnectedQueuePolicy(t *testing.T) {
	f := newFixture()
	msg, err := f.tracker.Send(f.draft("Hi"), false, OfflineQueue, okDispatch)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, msg.Status)

	sent, err := f.tracker.Dispatch(msg.ID, okDispatch)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, sent.Status)
	assert.Equal(t, msg.ID, sent.ID)
	assertMonotonic(t, f.tracker.History(msg.ID))
}

func TestDispatchErrorFailsMessage(t *testing.T) {
	f := newFixture()
	msg, err := f.tracker.Send(f.draft("Hi"), true, OfflineFail, func(models.Message) error {
		return errors.New("buffer full")
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, msg.Status)
}

func TestSendUnknownThread(t *testing.T) {
	f := newFixture()
	_, err := f.tracker.Send(models.Draft{ThreadID: "nope", ReceiverID: driver, Content: "x"}, true, OfflineFail, okDispatch)
	assert.ErrorIs(t, err, threads.ErrThreadNotFound)
}

func TestStatusNeverRegresses(t *testing.T) {
	f := newFixture()
	msg, err := f.tracker.Send(f.draft("Hi"), true, OfflineFail, okDispatch)
	require.NoError(t, err)

	require.True(t, f.tracker.Ack(msg.ID, models.StatusRead))
	assert.False(t, f.tracker.Ack(msg.ID, models.StatusDelivered))
	_, ok := f.tracker.Advance(msg.ID, models.StatusSent)
	assert.False(t, ok)
	_, ok = f.tracker.Advance(msg.ID, models.StatusFailed)
	assert.False(t, ok)

	got, _ := f.store.Message(msg.ID)
	assert.Equal(t, models.StatusRead, got.Status)
	assert.Equal(t, []models.MessageStatus{models.StatusSending, models.StatusSent, models.StatusRead}, f.tracker.History(msg.ID))
}

func TestAckIgnoresReceivedMessagesAndBadStatuses(t *testing.T) {
	f := newFixture()
	inbound := models.Message{ID: "in1", ThreadID: f.thread.ID, SenderID: driver, ReceiverID: rider, Content: "yo", Status: models.StatusSent, Timestamp: time.Unix(2_000, 0)}
	_, err := f.store.Append(inbound)
	require.NoError(t, err)
	f.tracker.Receive(inbound)

	assert.False(t, f.tracker.Ack("in1", models.StatusRead))
	assert.False(t, f.tracker.Ack("missing", models.StatusDelivered))

	msg, err := f.tracker.Send(f.draft("Hi"), true, OfflineFail, okDispatch)
	require.NoError(t, err)
	assert.False(t, f.tracker.Ack(msg.ID, models.StatusFailed))
}

func TestMarkRead(t *testing.T) {
	f := newFixture()
	for i, id := range []string{"in1", "in2"} {
		m := models.Message{ID: id, ThreadID: f.thread.ID, SenderID: driver, ReceiverID: rider, Content: id, Status: models.StatusSent, Timestamp: time.Unix(int64(2_000+i), 0)}
		_, err := f.store.Append(m)
		require.NoError(t, err)
		got := f.tracker.Receive(m)
		assert.Equal(t, models.StatusDelivered, got.Status)
	}
	own, err := f.tracker.Send(f.draft("mine"), true, OfflineFail, okDispatch)
	require.NoError(t, err)

	th, _ := f.store.Thread(f.thread.ID)
	require.Equal(t, 2, th.UnreadCount)

	changed := f.tracker.MarkRead(f.thread.ID, []string{"in1", "missing", own.ID})
	require.Len(t, changed, 1)
	assert.Equal(t, "in1", changed[0].ID)
	th, _ = f.store.Thread(f.thread.ID)
	assert.Equal(t, 1, th.UnreadCount)

	assert.Empty(t, f.tracker.MarkRead(f.thread.ID, []string{"in1"}))

	changed = f.tracker.MarkRead(f.thread.ID, nil)
	require.Len(t, changed, 1)
	assert.Equal(t, "in2", changed[0].ID)
	th, _ = f.store.Thread(f.thread.ID)
	assert.Equal(t, 0, th.UnreadCount)

	ownNow, _ := f.store.Message(own.ID)
	assert.Equal(t, models.StatusSent, ownNow.Status)
	assert.Nil(t, f.tracker.MarkRead("unknown-thread", []string{"in1"}))
}

func TestRetryCreatesDraftForFailedOnly(t *testing.T) {
	f := newFixture()
	failed, err := f.tracker.Send(f.draft("Hi"), false, OfflineFail, okDispatch)
	require.NoError(t, err)

	draft, err := f.tracker.Retry(failed.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hi", draft.Content)
	assert.Equal(t, f.thread.ID, draft.ThreadID)
	assert.Equal(t, failed.ID, draft.RetryOf)

	resent, err := f.tracker.Send(draft, true, OfflineFail, okDispatch)
	require.NoError(t, err)
	assert.NotEqual(t, failed.ID, resent.ID)
	assert.Equal(t, failed.ID, resent.RetryOf)

	still, _ := f.store.Message(failed.ID)
	assert.Equal(t, models.StatusFailed, still.Status)

	_, err = f.tracker.Retry(resent.ID)
	assert.ErrorIs(t, err, ErrNotRetryable)
	_, err = f.tracker.Retry("missing")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestTransitionListener(t *testing.T) {
	f := newFixture()
	var seen []Transition
	f.tracker.OnTransition(func(tr Transition) { seen = append(seen, tr) })

	msg, err := f.tracker.Send(f.draft("Hi"), true, OfflineFail, okDispatch)
	require.NoError(t, err)
	f.tracker.Ack(msg.ID, models.StatusDelivered)

	require.Len(t, seen, 2)
	assert.Equal(t, models.StatusSending, seen[0].From)
	assert.Equal(t, models.StatusSent, seen[0].To)
	assert.Equal(t, models.StatusDelivered, seen[1].To)
}
