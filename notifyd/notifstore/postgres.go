package notifstore

import (
	"context"
	"database/sql"

	"golang.org/x/xerrors"

	"github.com/Anilsharma012/ekschin/notifysdk"
)

// migration is idempotent so the server can run it unconditionally at boot.
// Retention and cleanup of old rows is an operational concern outside this
// service.
const migration = `
CREATE TABLE IF NOT EXISTS user_notifications (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL,
	message TEXT NOT NULL,
	kind TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	read BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_user_notifications_user_id_timestamp
	ON user_notifications (user_id, timestamp DESC);
`

// Migrate creates the notification log schema if it does not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, migration); err != nil {
		return &StorageError{Err: xerrors.Errorf("migrate user_notifications: %w", err)}
	}
	return nil
}

// PostgresStore persists notifications in Postgres via database/sql.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres wraps an open connection pool. The caller owns the pool's
// lifecycle.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, notif notifysdk.Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_notifications (id, user_id, title, message, kind, timestamp, read)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		notif.ID, notif.UserID, notif.Title, notif.Message, string(notif.Kind), notif.Timestamp, notif.Read,
	)
	if err != nil {
		return &StorageError{Err: xerrors.Errorf("insert notification: %w", err)}
	}
	return nil
}

func (s *PostgresStore) MarkRead(ctx context.Context, userID, notificationID string) error {
	// Scoping the update by user makes a foreign or unknown id a zero-row
	// update, indistinguishable from marking an already-read notification.
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_notifications SET read = TRUE
		WHERE id = $1 AND user_id = $2`,
		notificationID, userID,
	)
	if err != nil {
		return &StorageError{Err: xerrors.Errorf("mark notification read: %w", err)}
	}
	return nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, userID string, limit int) ([]notifysdk.Notification, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, message, kind, timestamp, read
		FROM user_notifications
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, &StorageError{Err: xerrors.Errorf("query notifications: %w", err)}
	}
	defer rows.Close()

	notifs := make([]notifysdk.Notification, 0, limit)
	for rows.Next() {
		var (
			notif notifysdk.Notification
			kind  string
		)
		err = rows.Scan(&notif.ID, &notif.UserID, &notif.Title, &notif.Message, &kind, &notif.Timestamp, &notif.Read)
		if err != nil {
			return nil, &StorageError{Err: xerrors.Errorf("scan notification: %w", err)}
		}
		notif.Kind = notifysdk.NotificationKind(kind)
		notifs = append(notifs, notif)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Err: xerrors.Errorf("iterate notifications: %w", err)}
	}
	return notifs, nil
}

func (s *PostgresStore) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM user_notifications
		WHERE user_id = $1 AND read = FALSE`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, &StorageError{Err: xerrors.Errorf("count unread notifications: %w", err)}
	}
	return count, nil
}
