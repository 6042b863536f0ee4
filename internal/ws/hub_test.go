package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ride-messaging/internal/models"
)

func newTestClient(userID string) *Client {
	return NewClient(ConnInfo{ConnID: userID + "-conn", UserID: userID}, 16)
}

func drain(t *testing.T, c *Client) []models.Event {
	t.Helper()
	var out []models.Event
	for {
		select {
		case payload := <-c.Outbound():
			var ev models.Event
			require.NoError(t, json.Unmarshal(payload, &ev))
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestHubRegisterAndUnregister(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	rider := newTestClient("rider")

	hub.Register(rider)
	assert.Equal(t, []string{"rider"}, hub.OnlineUsers())
	assert.Equal(t, models.PresenceOnline, hub.Presence("rider").Status)

	hub.Unregister(rider)
	assert.Empty(t, hub.OnlineUsers())
	p := hub.Presence("rider")
	assert.Equal(t, models.PresenceOffline, p.Status)
	assert.False(t, p.LastSeen.IsZero())

	// unknown clients are ignored
	hub.Unregister(rider)
}

func TestHubRoutesMessagesToReceiver(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	rider, driver := newTestClient("rider"), newTestClient("driver")
	hub.Register(rider)
	hub.Register(driver)

	hub.Route(rider, models.Event{
		Type:    models.EventMessage,
		Message: &models.Message{ID: "m1", ThreadID: "t1", SenderID: "spoofed", ReceiverID: "driver", Content: "Hi"},
	})

	got := drain(t, driver)
	require.Len(t, got, 1)
	assert.Equal(t, "rider", got[0].From)
	assert.Equal(t, "rider", got[0].Message.SenderID)
	assert.Empty(t, drain(t, rider))

	hub.Route(driver, models.Event{Type: models.EventAck, MessageID: "m1", To: "rider", Status: "DELIVERED"})
	acks := drain(t, rider)
	require.Len(t, acks, 1)
	assert.Equal(t, "driver", acks[0].From)
}

func TestHubRepliesErrorWhenReceiverOffline(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	rider := newTestClient("rider")
	hub.Register(rider)

	hub.Route(rider, models.Event{
		Type:    models.EventMessage,
		Message: &models.Message{ID: "m1", ThreadID: "t1", ReceiverID: "driver", Content: "Hi"},
	})
	got := drain(t, rider)
	require.Len(t, got, 1)
	assert.Equal(t, models.EventError, got[0].Type)
	assert.Equal(t, "m1", got[0].MessageID)

	hub.Route(rider, models.Event{Type: "bogus"})
	assert.Len(t, drain(t, rider), 1)
}

func TestHubRoomsCarryTypingAndPresence(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	rider, driver := newTestClient("rider"), newTestClient("driver")
	hub.Register(rider)
	hub.Register(driver)

	hub.Route(rider, models.Event{Type: models.EventJoin, ThreadID: "t1"})
	assert.Empty(t, drain(t, rider))

	hub.Route(driver, models.Event{Type: models.EventJoin, ThreadID: "t1"})
	toRider := drain(t, rider)
	require.Len(t, toRider, 1)
	assert.Equal(t, models.EventPresence, toRider[0].Type)
	assert.Equal(t, "driver", toRider[0].UserID)
	toDriver := drain(t, driver)
	require.Len(t, toDriver, 1)
	assert.Equal(t, "rider", toDriver[0].UserID)
	assert.Greater(t, toDriver[0].Seq, toRider[0].Seq)

	hub.Route(driver, models.Event{Type: models.EventTyping, ThreadID: "t1", IsTyping: true})
	typing := drain(t, rider)
	require.Len(t, typing, 1)
	assert.Equal(t, "driver", typing[0].UserID)
	assert.True(t, typing[0].IsTyping)
	assert.Empty(t, drain(t, driver))

	hub.Unregister(driver)
	offline := drain(t, rider)
	require.Len(t, offline, 1)
	assert.Equal(t, string(models.PresenceOffline), offline[0].Status)
	require.NotNil(t, offline[0].LastSeen)

	hub.Route(rider, models.Event{Type: models.EventLeave, ThreadID: "t1"})
	hub.mu.RLock()
	assert.Empty(t, hub.rooms)
	hub.mu.RUnlock()
}

func TestHubKicksSlowClients(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	rider := newTestClient("rider")
	slow := NewClient(ConnInfo{ConnID: "slow", UserID: "driver"}, 1)
	hub.Register(rider)
	hub.Register(slow)

	for i := 0; i < 3; i++ {
		hub.Route(rider, models.Event{Type: models.EventAck, MessageID: "m", To: "driver", Status: "DELIVERED"})
	}
	select {
	case <-slow.Done():
	default:
		t.Fatal("expected slow client to be kicked")
	}
}
