// Package transport defines the realtime connection the messaging core talks
// through and a WebSocket implementation of it.
package transport

import (
	"context"
	"errors"
	"fmt"

	"ride-messaging/internal/models"
)

var (
	// ErrNotOpen is returned by Send when no connection is live.
	ErrNotOpen = errors.New("transport not open")
	// ErrBufferFull is returned by Send when the outbound buffer is saturated.
	ErrBufferFull = errors.New("transport send buffer full")
)

// Transport is the narrow interface of a websocket-like connection.
// Handlers are registered once and apply to every connection opened later.
type Transport interface {
	Open(ctx context.Context, url, token string) error
	Send(ctx context.Context, ev models.Event) error
	OnMessage(handler func(models.Event))
	OnClose(handler func(error))
	OnError(handler func(error))
	Close() error
}

// Error wraps a failed transport operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
