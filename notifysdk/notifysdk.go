package notifysdk

import (
	"encoding/json"
	"time"

	"golang.org/x/xerrors"
)

// SessionUserHeader and SessionUserTypeHeader carry the identity asserted by
// the session gateway fronting this service. The service trusts these values;
// credential verification happens upstream.
const (
	SessionUserHeader     = "X-Authenticated-User-Id"
	SessionUserTypeHeader = "X-Authenticated-User-Type"
)

// NotificationKind classifies a notification for display purposes.
type NotificationKind string

const (
	NotificationKindInfo    NotificationKind = "info"
	NotificationKindSuccess NotificationKind = "success"
	NotificationKindWarning NotificationKind = "warning"
	NotificationKindError   NotificationKind = "error"
)

func (k NotificationKind) Valid() bool {
	switch k {
	case NotificationKindInfo, NotificationKindSuccess, NotificationKindWarning, NotificationKindError:
		return true
	default:
		return false
	}
}

// Notification is the durable record of a single message to a single user.
// Once persisted it is never deleted by this service; read is the only
// mutable field.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id,omitempty"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Kind      NotificationKind `json:"type"`
	Timestamp time.Time        `json:"timestamp" format:"date-time"`
	Read      bool             `json:"read"`
}

// Websocket message types. The client sends exactly one auth message per
// connection; everything after auth_success is server to client push.
const (
	MessageTypeAuth             = "auth"
	MessageTypeAuthSuccess      = "auth_success"
	MessageTypePushNotification = "push_notification"
)

// ClientMessage is a client to server control frame. Only auth exists today.
type ClientMessage struct {
	Type     string `json:"type"`
	UserID   string `json:"userId,omitempty"`
	UserType string `json:"userType,omitempty"`
}

// ServerMessage is the tagged union of server to client frames. Unrecognized
// types must be ignored by receivers so new frame types can be added without
// breaking old clients.
type ServerMessage struct {
	Type    string          `json:"type"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// PushData is the payload of a push_notification frame. It mirrors
// Notification without the target (the connection is the target) and without
// the read flag (freshly pushed notifications are always unread).
type PushData struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Kind      NotificationKind `json:"type"`
	Timestamp time.Time        `json:"timestamp" format:"date-time"`
}

// NewPushMessage wraps a notification in a push_notification frame.
func NewPushMessage(notif Notification) (ServerMessage, error) {
	data, err := json.Marshal(PushData{
		ID:        notif.ID,
		Title:     notif.Title,
		Message:   notif.Message,
		Kind:      notif.Kind,
		Timestamp: notif.Timestamp,
	})
	if err != nil {
		return ServerMessage{}, xerrors.Errorf("marshal push data: %w", err)
	}
	return ServerMessage{
		Type: MessageTypePushNotification,
		Data: data,
	}, nil
}

// Notification converts a push payload back into the notification shape used
// by recent lists. Pushed notifications are unread by definition.
func (d PushData) Notification() Notification {
	return Notification{
		ID:        d.ID,
		Title:     d.Title,
		Message:   d.Message,
		Kind:      d.Kind,
		Timestamp: d.Timestamp,
		Read:      false,
	}
}

// ListNotificationsResponse is returned by the catch-up list endpoint.
type ListNotificationsResponse struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int64          `json:"unread_count"`
}

// SendNotificationRequest targets either an explicit set of users or every
// user of a given type. Exactly one of UserIDs or UserType must be set.
type SendNotificationRequest struct {
	UserIDs  []string         `json:"user_ids,omitempty"`
	UserType string           `json:"user_type,omitempty"`
	Title    string           `json:"title" validate:"required"`
	Message  string           `json:"message" validate:"required"`
	Kind     NotificationKind `json:"kind,omitempty"`
}

// SendNotificationResponse reports per-user delivery outcomes. A user counts
// as sent when the notification reached durable storage or a live connection;
// failed means both paths failed.
type SendNotificationResponse struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}
