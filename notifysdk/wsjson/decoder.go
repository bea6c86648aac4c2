package wsjson

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"cdr.dev/slog"
	"github.com/coder/websocket"
)

// Decoder reads JSON-encoded values of type T from a websocket.
type Decoder[T any] struct {
	conn       *websocket.Conn
	typ        websocket.MessageType
	ctx        context.Context
	cancel     context.CancelFunc
	chanCalled atomic.Bool
	logger     slog.Logger

	mu  sync.Mutex
	err error
}

// Chan starts the decoder reading from the websocket and returns a channel
// for reading the resulting values. The chan T is closed if the underlying
// websocket is closed, or we encounter an error. We also close the underlying
// websocket if we encounter an error reading or decoding.
//
// Safety: Chan must only be called once. Successive calls will panic.
func (d *Decoder[T]) Chan() <-chan T {
	if !d.chanCalled.CompareAndSwap(false, true) {
		panic("chan called more than once")
	}
	values := make(chan T)
	go func() {
		defer close(values)
		defer d.conn.Close(websocket.StatusGoingAway, "")
		for {
			// we don't use d.ctx here because it only gets canceled after
			// closing the connection, and a pending read would then return
			// the wrong error.
			typ, b, err := d.conn.Read(context.Background())
			if err != nil {
				d.setErr(err)
				// might be benign like EOF, so log at debug
				d.logger.Debug(d.ctx, "error reading from websocket", slog.Error(err))
				return
			}
			if typ != d.typ {
				d.setErr(nil)
				d.logger.Error(d.ctx, "websocket message type mismatch while decoding",
					slog.F("got", typ), slog.F("want", d.typ))
				return
			}
			var value T
			err = json.Unmarshal(b, &value)
			if err != nil {
				d.setErr(err)
				d.logger.Error(d.ctx, "error unmarshalling websocket message", slog.Error(err))
				return
			}
			select {
			case values <- value:
				// OK
			case <-d.ctx.Done():
				d.setErr(d.ctx.Err())
				return
			}
		}
	}()
	return values
}

// Err returns the error that terminated the read loop. It is only meaningful
// after the channel returned by Chan has been closed, and may be nil when the
// loop ended for a non-error reason. Callers use it to classify how the
// connection went away, e.g. extracting the close status.
func (d *Decoder[T]) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *Decoder[T]) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// Close closes the decoder and underlying websocket.
func (d *Decoder[T]) Close() error {
	err := d.conn.Close(websocket.StatusNormalClosure, "")
	d.cancel()
	return err
}

// NewDecoder creates a JSON-over-websocket decoder for type T, which must be
// deserializable from JSON.
func NewDecoder[T any](conn *websocket.Conn, typ websocket.MessageType, logger slog.Logger) *Decoder[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Decoder[T]{conn: conn, typ: typ, ctx: ctx, cancel: cancel, logger: logger}
}
