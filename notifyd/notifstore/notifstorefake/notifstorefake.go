// Package notifstorefake is an in-memory notifstore.Store for tests and for
// running the server without Postgres.
package notifstorefake

import (
	"context"
	"sort"
	"sync"

	"github.com/Anilsharma012/ekschin/notifyd/notifstore"
	"github.com/Anilsharma012/ekschin/notifysdk"
)

// New returns an in-memory fake of the notification store.
func New() *FakeStore {
	return &FakeStore{
		notifications: make([]notifysdk.Notification, 0),
	}
}

// FakeStore replicates store behavior with slices to enable quick testing.
type FakeStore struct {
	mu            sync.Mutex
	notifications []notifysdk.Notification
}

var _ notifstore.Store = (*FakeStore)(nil)

func (s *FakeStore) Append(_ context.Context, notif notifysdk.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, notif)
	return nil
}

func (s *FakeStore) MarkRead(_ context.Context, userID, notificationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, notif := range s.notifications {
		if notif.ID == notificationID && notif.UserID == userID {
			s.notifications[i].Read = true
			return nil
		}
	}
	// Unknown or foreign ids are a silent no-op, same as a zero-row update.
	return nil
}

func (s *FakeStore) ListRecent(_ context.Context, userID string, limit int) ([]notifysdk.Notification, error) {
	if limit <= 0 {
		limit = notifstore.DefaultListLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Walk backwards so that, for equal timestamps, the most recently
	// appended notification sorts first.
	notifs := make([]notifysdk.Notification, 0, limit)
	for i := len(s.notifications) - 1; i >= 0; i-- {
		if s.notifications[i].UserID == userID {
			notifs = append(notifs, s.notifications[i])
		}
	}
	sort.SliceStable(notifs, func(i, j int) bool {
		return notifs[i].Timestamp.After(notifs[j].Timestamp)
	})
	if len(notifs) > limit {
		notifs = notifs[:limit]
	}
	return notifs, nil
}

func (s *FakeStore) CountUnread(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, notif := range s.notifications {
		if notif.UserID == userID && !notif.Read {
			count++
		}
	}
	return count, nil
}
