// Package notifstore is the durable, queryable log of notifications per
// user. It is the catch-up path for users who were offline when a
// notification was pushed; records are appended, optionally marked read, and
// never deleted by this service.
package notifstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/Anilsharma012/ekschin/notifysdk"
)

// Store is implemented by the Postgres store and by notifstorefake for
// tests. Implementation failures surface as *StorageError so callers can
// recover locally; see the delivery engine, which treats a failed append as
// "live push is now the only path" rather than an abort.
type Store interface {
	// Append persists a fully-formed notification.
	Append(ctx context.Context, notif notifysdk.Notification) error
	// MarkRead sets read = true. Marking a notification that does not
	// exist, or that belongs to a different user, is a successful no-op:
	// the result must not leak whether another user's notification exists.
	MarkRead(ctx context.Context, userID, notificationID string) error
	// ListRecent returns up to limit notifications for the user, newest
	// first. It is a pure query; callers may re-issue it freely.
	ListRecent(ctx context.Context, userID string, limit int) ([]notifysdk.Notification, error)
	// CountUnread returns the number of unread notifications for the user.
	CountUnread(ctx context.Context, userID string) (int64, error)
}

// DefaultListLimit bounds ListRecent when the caller does not specify a
// limit.
const DefaultListLimit = 50

// StorageError indicates the backing persistence was unreachable or rejected
// the operation. It is recoverable by design: nothing in this service
// escalates it to the end user synchronously.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("notification storage: %s", e.Err.Error())
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is (or wraps) a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
