package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ride-messaging/internal/models"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// echoServer writes every received event back and records the auth header.
func echoServer(t *testing.T, headers chan<- string, conns chan<- *websocket.Conn) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if headers != nil {
			headers <- r.Header.Get("Authorization")
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if conns != nil {
			conns <- conn
		}
		for {
			var ev models.Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketSendAndReceive(t *testing.T) {
	headers := make(chan string, 1)
	srv := echoServer(t, headers, nil)

	ws := NewWebSocket(nil, zaptest.NewLogger(t))
	received := make(chan models.Event, 1)
	ws.OnMessage(func(ev models.Event) { received <- ev })

	require.NoError(t, ws.Open(context.Background(), wsURL(srv), "tok"))
	defer ws.Close()
	assert.Equal(t, "Bearer tok", <-headers)

	require.NoError(t, ws.Send(context.Background(), models.Event{Type: models.EventJoin, ThreadID: "t1"}))

	select {
	case ev := <-received:
		assert.Equal(t, models.EventJoin, ev.Type)
		assert.Equal(t, "t1", ev.ThreadID)
	case <-time.After(2 * time.Second):
		t.Fatal("no echo received")
	}
}

func TestWebSocketSkipsUndecodableEvents(t *testing.T) {
	conns := make(chan *websocket.Conn, 1)
	srv := echoServer(t, nil, conns)

	ws := NewWebSocket(nil, zaptest.NewLogger(t))
	received := make(chan models.Event, 1)
	failures := make(chan error, 2)
	ws.OnMessage(func(ev models.Event) { received <- ev })
	ws.OnError(func(err error) { failures <- err })
	ws.OnClose(func(err error) { failures <- err })

	require.NoError(t, ws.Open(context.Background(), wsURL(srv), "tok"))
	defer ws.Close()
	server := <-conns

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":42}`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, server.WriteJSON(models.Event{Type: models.EventTyping, ThreadID: "t1"}))

	select {
	case ev := <-received:
		assert.Equal(t, models.EventTyping, ev.Type)
		assert.Equal(t, "t1", ev.ThreadID)
	case err := <-failures:
		t.Fatalf("connection torn down: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("valid event not delivered")
	}
	assert.Empty(t, failures)
}

func TestMalformedEventClassification(t *testing.T) {
	var ev models.Event
	assert.True(t, malformedEvent(json.Unmarshal([]byte(`{"type":42}`), &ev)))
	assert.True(t, malformedEvent(json.Unmarshal([]byte(`{"type"`), &ev)))
	assert.True(t, malformedEvent(json.Unmarshal([]byte(`nope`), &ev)))
	assert.False(t, malformedEvent(errors.New("connection reset")))
}

func TestWebSocketSendWithoutConnection(t *testing.T) {
	ws := NewWebSocket(nil, nil)
	err := ws.Send(context.Background(), models.Event{Type: models.EventJoin})
	var tErr *Error
	require.True(t, errors.As(err, &tErr))
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestWebSocketOpenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewWebSocket(nil, nil).Open(context.Background(), wsURL(srv), "bad")
	var tErr *Error
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, "open", tErr.Op)
}

func TestWebSocketPeerCloseFiresCallback(t *testing.T) {
	conns := make(chan *websocket.Conn, 1)
	srv := echoServer(t, nil, conns)

	ws := NewWebSocket(nil, zaptest.NewLogger(t))
	closed := make(chan error, 1)
	ws.OnClose(func(err error) { closed <- err })
	ws.OnError(func(err error) { closed <- err })

	require.NoError(t, ws.Open(context.Background(), wsURL(srv), ""))
	server := <-conns
	_ = server.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	_ = server.Close()

	select {
	case err := <-closed:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("close callback not fired")
	}
	assert.ErrorIs(t, ws.Send(context.Background(), models.Event{Type: models.EventJoin}), ErrNotOpen)
}

func TestWebSocketLocalCloseIsSilent(t *testing.T) {
	srv := echoServer(t, nil, nil)

	ws := NewWebSocket(nil, nil)
	fired := make(chan struct{}, 2)
	ws.OnClose(func(error) { fired <- struct{}{} })
	ws.OnError(func(error) { fired <- struct{}{} })

	require.NoError(t, ws.Open(context.Background(), wsURL(srv), ""))
	require.NoError(t, ws.Close())

	select {
	case <-fired:
		t.Fatal("callback fired for a locally closed connection")
	case <-time.After(200 * time.Millisecond):
	}
}
