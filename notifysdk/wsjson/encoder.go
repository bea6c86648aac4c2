package wsjson

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/xerrors"

	"github.com/coder/websocket"
)

// Encoder writes JSON-encoded values of type T to a websocket.
type Encoder[T any] struct {
	conn *websocket.Conn
	typ  websocket.MessageType
}

func (e *Encoder[T]) Close(c websocket.StatusCode) error {
	return e.conn.Close(c, "")
}

// Encode JSON-encodes the value and writes it as a single websocket message.
// The write is bounded so a stalled peer cannot hold the caller forever.
func (e *Encoder[T]) Encode(v T) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b, err := json.Marshal(v)
	if err != nil {
		return xerrors.Errorf("marshal message: %w", err)
	}
	err = e.conn.Write(ctx, e.typ, b)
	if err != nil {
		return xerrors.Errorf("write message: %w", err)
	}
	return nil
}

// NewEncoder creates a JSON-over-websocket encoder for the type T, which must
// be JSON-serializable. Creating an Encoder closes the websocket for reading,
// turning it into a unidirectional write stream of JSON-encoded objects.
func NewEncoder[T any](conn *websocket.Conn, typ websocket.MessageType) *Encoder[T] {
	// Closing the websocket for reading lets the library handle pings and
	// close frames on our behalf.
	_ = conn.CloseRead(context.Background())
	return &Encoder[T]{conn: conn, typ: typ}
}
