package notifysdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/xerrors"
)

// Client calls the notification REST API: catch-up listing, read marking and
// the business-logic send entry point. The live channel is handled separately
// by Agent.
type Client struct {
	HTTPClient *http.Client
	URL        *url.URL

	// SessionUserID and SessionUserType are the identity asserted on every
	// request, forwarded as the session gateway would.
	SessionUserID   string
	SessionUserType string
}

// New creates a notification client for the API at the given URL.
func New(serverURL *url.URL) *Client {
	return &Client{
		URL:        serverURL,
		HTTPClient: &http.Client{},
	}
}

// Request performs a HTTP request against the API with the client's asserted
// identity attached. The caller is responsible for closing the response body.
func (c *Client) Request(ctx context.Context, method, path string, body any) (*http.Response, error) {
	serverURL, err := c.URL.Parse(path)
	if err != nil {
		return nil, xerrors.Errorf("parse url: %w", err)
	}

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, xerrors.Errorf("encode body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, serverURL.String(), &buf)
	if err != nil {
		return nil, xerrors.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.SessionUserID != "" {
		req.Header.Set(SessionUserHeader, c.SessionUserID)
	}
	if c.SessionUserType != "" {
		req.Header.Set(SessionUserTypeHeader, c.SessionUserType)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, xerrors.Errorf("do request: %w", err)
	}
	return resp, nil
}

// Notifications lists the user's most recent notifications, newest first,
// along with the unread count. A limit of 0 uses the server default.
func (c *Client) Notifications(ctx context.Context, limit int) (ListNotificationsResponse, error) {
	path := "/api/v2/notifications"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	res, err := c.Request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return ListNotificationsResponse{}, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return ListNotificationsResponse{}, ReadBodyAsError(res)
	}
	var resp ListNotificationsResponse
	return resp, json.NewDecoder(res.Body).Decode(&resp)
}

// MarkNotificationRead flags a notification as read. Marking a notification
// that is already read, or one that does not exist, succeeds without effect.
func (c *Client) MarkNotificationRead(ctx context.Context, notificationID string) error {
	res, err := c.Request(
		ctx, http.MethodPut,
		fmt.Sprintf("/api/v2/notifications/%v/read", notificationID),
		nil,
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusNoContent {
		return ReadBodyAsError(res)
	}
	return nil
}

// SendNotification notifies a set of users or a whole user type. This is the
// entry point business logic uses, e.g. on package purchase or for an admin
// broadcast.
func (c *Client) SendNotification(ctx context.Context, req SendNotificationRequest) (SendNotificationResponse, error) {
	res, err := c.Request(ctx, http.MethodPost, "/api/v2/notifications/send", req)
	if err != nil {
		return SendNotificationResponse{}, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return SendNotificationResponse{}, ReadBodyAsError(res)
	}
	var resp SendNotificationResponse
	return resp, json.NewDecoder(res.Body).Decode(&resp)
}
