package notifyd_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/coder/websocket"

	"github.com/Anilsharma012/ekschin/notifyd"
	"github.com/Anilsharma012/ekschin/notifyd/delivery"
	"github.com/Anilsharma012/ekschin/notifyd/notifstore/notifstorefake"
	"github.com/Anilsharma012/ekschin/notifysdk"
	"github.com/Anilsharma012/ekschin/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNotificationWebsocket_AuthAndPush(t *testing.T) {
	t.Parallel()

	ctx := testutil.Context(t, testutil.WaitMedium)
	srv := setup(t, nil)

	conn := srv.dialWS(ctx, t)
	authenticate(ctx, t, conn, "u1", "seller")
	require.True(t, srv.api.Registry.IsConnected("u1"))

	admin := srv.client(t, "admin1", "admin")
	res, err := admin.SendNotification(ctx, notifysdk.SendNotificationRequest{
		UserIDs: []string{"u1"},
		Title:   "Package purchased",
		Message: "Your premium listing is active",
		Kind:    notifysdk.NotificationKindSuccess,
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Sent)
	require.Equal(t, 0, res.Failed)

	msg := readServerMessage(ctx, t, conn)
	require.Equal(t, notifysdk.MessageTypePushNotification, msg.Type)
	var data notifysdk.PushData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	require.Equal(t, "Package purchased", data.Title)
	require.Equal(t, notifysdk.NotificationKindSuccess, data.Kind)
	require.True(t, strings.HasSuffix(data.ID, "_u1"))

	// The same notification is durably recorded for catch-up.
	u1 := srv.client(t, "u1", "seller")
	list, err := u1.Notifications(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list.Notifications, 1)
	require.Equal(t, data.ID, list.Notifications[0].ID)
	require.EqualValues(t, 1, list.UnreadCount)
}

func TestNotificationWebsocket_HandshakeOrdering(t *testing.T) {
	t.Parallel()

	ctx := testutil.Context(t, testutil.WaitMedium)
	srv := setup(t, nil)

	conn := srv.dialWS(ctx, t)

	// Pre-auth garbage is tolerated: an unknown control frame, raw bytes
	// that are not JSON, and an auth frame without a user id.
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"hello"}`)))
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`not json`)))
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"auth"}`)))

	// The connection is still usable and a later valid auth completes the
	// handshake.
	authenticate(ctx, t, conn, "u1", "user")
	require.True(t, srv.api.Registry.IsConnected("u1"))
	require.Equal(t, 1, srv.api.Registry.Len())
}

func TestNotificationWebsocket_DuplicateAuthReplaces(t *testing.T) {
	t.Parallel()

	ctx := testutil.Context(t, testutil.WaitMedium)
	srv := setup(t, nil)

	first := srv.dialWS(ctx, t)
	authenticate(ctx, t, first, "u1", "user")
	second := srv.dialWS(ctx, t)
	authenticate(ctx, t, second, "u1", "user")

	// One entry per user id: the newer connection supersedes the older.
	require.Equal(t, 1, srv.api.Registry.Len())

	admin := srv.client(t, "admin1", "admin")
	res, err := admin.SendNotification(ctx, notifysdk.SendNotificationRequest{
		UserIDs: []string{"u1"},
		Title:   "hello",
		Message: "world",
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Sent)

	msg := readServerMessage(ctx, t, second)
	require.Equal(t, notifysdk.MessageTypePushNotification, msg.Type)
}

func TestNotifications_RESTFlow(t *testing.T) {
	t.Parallel()

	ctx := testutil.Context(t, testutil.WaitMedium)
	srv := setup(t, nil)

	admin := srv.client(t, "admin1", "admin")
	res, err := admin.SendNotification(ctx, notifysdk.SendNotificationRequest{
		UserIDs: []string{"u1"},
		Title:   "Listing approved",
		Message: "Your listing is now live",
	})
	require.NoError(t, err)
	// u1 is offline, so the push failed, but the store succeeded and that
	// counts as sent.
	require.Equal(t, 1, res.Sent)
	require.Equal(t, 0, res.Failed)

	u1 := srv.client(t, "u1", "user")
	list, err := u1.Notifications(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list.Notifications, 1)
	require.EqualValues(t, 1, list.UnreadCount)
	// Unspecified kind defaults to info.
	require.Equal(t, notifysdk.NotificationKindInfo, list.Notifications[0].Kind)

	require.NoError(t, u1.MarkNotificationRead(ctx, list.Notifications[0].ID))
	list, err = u1.Notifications(ctx, 0)
	require.NoError(t, err)
	require.True(t, list.Notifications[0].Read)
	require.EqualValues(t, 0, list.UnreadCount)

	// Unknown ids are a silent no-op.
	require.NoError(t, u1.MarkNotificationRead(ctx, "does-not-exist"))
}

func TestSendNotification_Validation(t *testing.T) {
	t.Parallel()

	ctx := testutil.Context(t, testutil.WaitMedium)
	srv := setup(t, nil)
	admin := srv.client(t, "admin1", "admin")

	t.Run("MissingTitle", func(t *testing.T) {
		_, err := admin.SendNotification(ctx, notifysdk.SendNotificationRequest{
			UserIDs: []string{"u1"},
			Message: "body",
		})
		var sdkErr *notifysdk.Error
		require.ErrorAs(t, err, &sdkErr)
		require.Equal(t, http.StatusBadRequest, sdkErr.StatusCode)
		require.NotEmpty(t, sdkErr.Validations)
	})

	t.Run("NoAudience", func(t *testing.T) {
		_, err := admin.SendNotification(ctx, notifysdk.SendNotificationRequest{
			Title:   "title",
			Message: "body",
		})
		var sdkErr *notifysdk.Error
		require.ErrorAs(t, err, &sdkErr)
		require.Equal(t, http.StatusBadRequest, sdkErr.StatusCode)
	})

	t.Run("BadKind", func(t *testing.T) {
		_, err := admin.SendNotification(ctx, notifysdk.SendNotificationRequest{
			UserIDs: []string{"u1"},
			Title:   "title",
			Message: "body",
			Kind:    notifysdk.NotificationKind("shiny"),
		})
		var sdkErr *notifysdk.Error
		require.ErrorAs(t, err, &sdkErr)
		require.Equal(t, http.StatusBadRequest, sdkErr.StatusCode)
	})
}

func TestSendNotification_UserType(t *testing.T) {
	t.Parallel()

	ctx := testutil.Context(t, testutil.WaitMedium)
	srv := setup(t, staticDirectory{
		{ID: "s1", UserType: "seller"},
		{ID: "s2", UserType: "seller"},
		{ID: "b1", UserType: "user"},
	})

	admin := srv.client(t, "admin1", "admin")
	res, err := admin.SendNotification(ctx, notifysdk.SendNotificationRequest{
		UserType: "seller",
		Title:    "Fee change",
		Message:  "Listing fees change next month",
		Kind:     notifysdk.NotificationKindWarning,
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Sent)
	require.Equal(t, 0, res.Failed)

	for _, userID := range []string{"s1", "s2"} {
		list, err := srv.client(t, userID, "seller").Notifications(ctx, 0)
		require.NoError(t, err)
		require.Len(t, list.Notifications, 1)
	}
	list, err := srv.client(t, "b1", "user").Notifications(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, list.Notifications)
}

func TestListNotifications_Errors(t *testing.T) {
	t.Parallel()

	ctx := testutil.Context(t, testutil.WaitMedium)
	srv := setup(t, nil)

	t.Run("Unauthenticated", func(t *testing.T) {
		anon := srv.client(t, "", "")
		_, err := anon.Notifications(ctx, 0)
		var sdkErr *notifysdk.Error
		require.ErrorAs(t, err, &sdkErr)
		require.Equal(t, http.StatusUnauthorized, sdkErr.StatusCode)
	})

	t.Run("BadLimit", func(t *testing.T) {
		u1 := srv.client(t, "u1", "user")
		res, err := u1.Request(ctx, http.MethodGet, "/api/v2/notifications?limit=zero", nil)
		require.NoError(t, err)
		defer res.Body.Close()
		require.Equal(t, http.StatusBadRequest, res.StatusCode)
	})
}

type testServer struct {
	api   *notifyd.API
	store *notifstorefake.FakeStore
	srv   *httptest.Server
}

func setup(t *testing.T, directory delivery.UserDirectory) *testServer {
	t.Helper()
	store := notifstorefake.New()
	api := notifyd.New(&notifyd.Options{
		Logger:    testutil.Logger(t),
		Store:     store,
		Directory: directory,
	})
	srv := httptest.NewServer(api)
	// API teardown runs before the HTTP server's so live websockets are
	// reaped first.
	t.Cleanup(srv.Close)
	t.Cleanup(api.Close)
	return &testServer{api: api, store: store, srv: srv}
}

func (s *testServer) client(t *testing.T, userID, userType string) *notifysdk.Client {
	t.Helper()
	serverURL, err := url.Parse(s.srv.URL)
	require.NoError(t, err)
	client := notifysdk.New(serverURL)
	client.SessionUserID = userID
	client.SessionUserType = userType
	t.Cleanup(client.HTTPClient.CloseIdleConnections)
	return client
}

func (s *testServer) dialWS(ctx context.Context, t *testing.T) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/api/v2/notifications/ws"
	// nolint:bodyclose // websocket reuses the connection.
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	})
	return conn
}

func authenticate(ctx context.Context, t *testing.T, conn *websocket.Conn, userID, userType string) {
	t.Helper()
	data, err := json.Marshal(notifysdk.ClientMessage{
		Type:     notifysdk.MessageTypeAuth,
		UserID:   userID,
		UserType: userType,
	})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
	msg := readServerMessage(ctx, t, conn)
	require.Equal(t, notifysdk.MessageTypeAuthSuccess, msg.Type)
}

func readServerMessage(ctx context.Context, t *testing.T, conn *websocket.Conn) notifysdk.ServerMessage {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg notifysdk.ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// staticDirectory is an in-memory delivery.UserDirectory.
type staticDirectory []delivery.DirectoryUser

func (d staticDirectory) UsersByType(_ context.Context, userType string) ([]delivery.DirectoryUser, error) {
	if userType == "" || userType == "all" {
		return d, nil
	}
	var users []delivery.DirectoryUser
	for _, user := range d {
		if user.UserType == userType {
			users = append(users, user)
		}
	}
	return users, nil
}
