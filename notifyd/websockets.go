package notifyd

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/xerrors"

	"cdr.dev/slog"
	"github.com/coder/websocket"

	"github.com/Anilsharma012/ekschin/notifyd/httpapi"
	"github.com/Anilsharma012/ekschin/notifyd/registry"
	"github.com/Anilsharma012/ekschin/notifysdk"
)

// wsConn adapts a live websocket to the registry's handle interface. closed
// flips once the connection's serve loop exits so that a concurrent
// registry.Send observes the handle as unwritable instead of blocking on a
// dead transport.
type wsConn struct {
	// id correlates log lines across the connection's lifetime; user ids
	// repeat across reconnects, connection ids do not.
	id     uuid.UUID
	conn   *websocket.Conn
	userID string
	closed atomic.Bool
}

var _ registry.Conn = (*wsConn)(nil)

func newWSConn(conn *websocket.Conn, userID string) *wsConn {
	return &wsConn{id: uuid.New(), conn: conn, userID: userID}
}

func (c *wsConn) Send(ctx context.Context, v any) error {
	if c.closed.Load() {
		return xerrors.New("connection closed")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return xerrors.Errorf("marshal frame: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err = c.conn.Write(ctx, websocket.MessageText, b)
	if err != nil {
		return xerrors.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *wsConn) Open() bool {
	return !c.closed.Load()
}

func (c *wsConn) Close(reason string) error {
	c.closed.Store(true)
	return c.conn.Close(websocket.StatusGoingAway, reason)
}

func (c *wsConn) setClosed() {
	c.closed.Store(true)
}

// notificationWebsocket accepts an inbound live connection and runs its
// handshake state machine: Connected (unauthenticated) until a valid auth
// frame arrives, then Authenticated until the transport goes away.
func (api *API) notificationWebsocket(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := api.ctx.Err(); err != nil {
		httpapi.Write(ctx, rw, http.StatusServiceUnavailable, notifysdk.Response{
			Message: "No longer accepting websocket requests.",
			Detail:  err.Error(),
		})
		return
	}

	conn, err := websocket.Accept(rw, r, nil)
	if err != nil {
		httpapi.Write(ctx, rw, http.StatusBadRequest, notifysdk.Response{
			Message: "Failed to accept websocket.",
			Detail:  err.Error(),
		})
		return
	}

	api.wsWG.Add(1)
	defer api.wsWG.Done()

	// Bind the connection to the API lifetime as well as the request, so
	// shutdown reaps connections that never authenticated.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(api.ctx, cancel)
	defer stop()

	api.serveNotificationConn(ctx, conn)
}

func (api *API) serveNotificationConn(ctx context.Context, conn *websocket.Conn) {
	logger := api.Logger.Named("websocket")

	go httpapi.Heartbeat(ctx, conn)

	// nil until the auth handshake completes; its presence is the
	// "Authenticated" state.
	var handle *wsConn
	defer func() {
		if handle != nil {
			handle.setClosed()
			api.Registry.Unregister(handle)
			logger.Debug(ctx, "user disconnected from push notifications",
				slog.F("conn_id", handle.id),
				slog.F("user_id", handle.userID),
			)
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			// Transport close or error from any state; the deferred
			// unregister is idempotent and safe pre-auth.
			logger.Debug(ctx, "websocket read ended",
				slog.F("close_status", int(websocket.CloseStatus(err))),
				slog.Error(err),
			)
			return
		}

		var msg notifysdk.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed frames are tolerated in every state: the connection
			// stays open and, pre-auth, a later valid auth still succeeds.
			logger.Debug(ctx, "ignoring malformed websocket frame", slog.Error(err))
			continue
		}

		if handle != nil {
			// Authenticated: all further traffic on this channel is server
			// to client push. Inbound frames are ignored so new client
			// message types can be introduced without breaking old servers.
			continue
		}
		if msg.Type != notifysdk.MessageTypeAuth || msg.UserID == "" {
			// Permissive handshake ordering: anything but a valid auth frame
			// is ignored while unauthenticated.
			continue
		}

		userType := msg.UserType
		if userType == "" {
			userType = "user"
		}
		handle = newWSConn(conn, msg.UserID)
		api.Registry.Register(msg.UserID, userType, handle)

		err = handle.Send(ctx, notifysdk.ServerMessage{
			Type:    notifysdk.MessageTypeAuthSuccess,
			Message: "Connected to push notifications",
		})
		if err != nil {
			logger.Debug(ctx, "send auth_success", slog.Error(err))
			return
		}
		logger.Debug(ctx, "user authenticated for push notifications",
			slog.F("conn_id", handle.id),
			slog.F("user_id", msg.UserID),
			slog.F("user_type", userType),
		)
	}
}
