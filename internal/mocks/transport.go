package mocks

import (
	"context"
	"sync"

	"ride-messaging/internal/models"
	"ride-messaging/internal/transport"
)

// Transport is a controllable in-memory transport. Open results are taken
// from a queue; an empty queue means success.
type Transport struct {
	mu         sync.Mutex
	openErrs   []error
	openCalls  int
	tokens     []string
	open       bool
	closeCalls int
	sendErr    error
	sent       []models.Event
	// fired from inside the next successful Open, before it returns
	dropOnOpen  error
	failOnOpen  error
	dropPending bool
	failPending bool

	onMessage func(models.Event)
	onClose   func(error)
	onError   func(error)
}

// NewTransport returns an idle fake transport.
func NewTransport() *Transport {
	return &Transport{}
}

// FailNextOpens queues errors for the next Open calls.
func (t *Transport) FailNextOpens(errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.openErrs = append(t.openErrs, errs...)
}

// FailSends makes every Send return err until reset with nil.
func (t *Transport) FailSends(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = err
}

// DropDuringNextOpen makes the next successful Open report a peer close
// before returning, like a socket closed right after the handshake.
func (t *Transport) DropDuringNextOpen(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropOnOpen, t.dropPending = err, true
}

// FailDuringNextOpen makes the next successful Open report an I/O error
// before returning.
func (t *Transport) FailDuringNextOpen(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failOnOpen, t.failPending = err, true
}

func (t *Transport) Open(_ context.Context, _ string, token string) error {
	t.mu.Lock()
	t.openCalls++
	t.tokens = append(t.tokens, token)
	if len(t.openErrs) > 0 {
		err := t.openErrs[0]
		t.openErrs = t.openErrs[1:]
		if err != nil {
			t.mu.Unlock()
			return &transport.Error{Op: "open", Err: err}
		}
	}
	t.open = true
	drop, dropErr := t.dropPending, t.dropOnOpen
	fail, failErr := t.failPending, t.failOnOpen
	t.dropPending, t.failPending = false, false
	t.mu.Unlock()

	if drop {
		t.Drop(dropErr)
	}
	if fail {
		t.Fail(failErr)
	}
	return nil
}

func (t *Transport) Send(_ context.Context, ev models.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return &transport.Error{Op: "send", Err: transport.ErrNotOpen}
	}
	if t.sendErr != nil {
		return &transport.Error{Op: "send", Err: t.sendErr}
	}
	t.sent = append(t.sent, ev)
	return nil
}

func (t *Transport) OnMessage(handler func(models.Event)) {
	t.mu.Lock()
	t.onMessage = handler
	t.mu.Unlock()
}

func (t *Transport) OnClose(handler func(error)) {
	t.mu.Lock()
	t.onClose = handler
	t.mu.Unlock()
}

func (t *Transport) OnError(handler func(error)) {
	t.mu.Lock()
	t.onError = handler
	t.mu.Unlock()
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeCalls++
	t.open = false
	return nil
}

// OpenCalls reports how many times Open was called.
func (t *Transport) OpenCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.openCalls
}

// CloseCalls reports how many times Close was called.
func (t *Transport) CloseCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCalls
}

// Tokens returns the tokens passed to Open, in order.
func (t *Transport) Tokens() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.tokens...)
}

// IsOpen reports whether a connection is live.
func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// Sent returns every event accepted by Send.
func (t *Transport) Sent() []models.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.Event(nil), t.sent...)
}

// SentOfType filters Sent by event type.
func (t *Transport) SentOfType(eventType string) []models.Event {
	var out []models.Event
	for _, ev := range t.Sent() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// Deliver simulates an inbound event.
func (t *Transport) Deliver(ev models.Event) {
	t.mu.Lock()
	handler := t.onMessage
	t.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
}

// Drop simulates the peer closing the connection.
func (t *Transport) Drop(err error) {
	t.mu.Lock()
	t.open = false
	handler := t.onClose
	t.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}

// Fail simulates an I/O error on the connection.
func (t *Transport) Fail(err error) {
	t.mu.Lock()
	t.open = false
	handler := t.onError
	t.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}

var _ transport.Transport = (*Transport)(nil)
