// Package registry tracks which users are currently reachable over a live
// websocket connection. It is the single source of truth the delivery engine
// consults before attempting a real-time push.
package registry

import (
	"context"
	"sort"
	"sync"
)

// Conn is the registry's exclusive handle to one live transport. The
// production implementation wraps a websocket connection; tests substitute
// fakes. Implementations must be comparable so Unregister can match by
// handle, which pointer implementations satisfy.
type Conn interface {
	// Send writes one JSON frame. A non-nil error means the frame was not
	// delivered; the connection may or may not still be usable.
	Send(ctx context.Context, v any) error
	// Open reports whether the transport is still writable. It flips to
	// false once the connection's serve loop has observed closure.
	Open() bool
	// Close tears down the transport.
	Close(reason string) error
}

// Entry binds a user to their live connection.
type Entry struct {
	UserID   string
	UserType string
	Conn     Conn
}

// Registry is an in-memory map from user ID to live connection. All methods
// are safe for concurrent use from independent connection-handling
// goroutines.
//
// There is at most one entry per user: registering a user who already has an
// entry replaces it. The superseded handle is NOT closed here; its serve loop
// still owns the transport and will call Unregister when the transport
// reports closure, which is a no-op once the entry has been replaced.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func New() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
	}
}

// Register stores conn as the live connection for userID, replacing any
// previous entry for the same user.
func (r *Registry) Register(userID, userType string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[userID] = Entry{
		UserID:   userID,
		UserType: userType,
		Conn:     conn,
	}
}

// Unregister removes whichever entry currently owns conn. It is idempotent:
// unregistering a handle twice, or one that was never registered (or was
// replaced), does nothing.
func (r *Registry) Unregister(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for userID, entry := range r.entries {
		if entry.Conn == conn {
			delete(r.entries, userID)
			return
		}
	}
}

// IsConnected reports whether userID has a live connection entry.
func (r *Registry) IsConnected(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[userID]
	return ok
}

// ConnectedUserIDs returns a sorted snapshot of connected user IDs. The
// snapshot is immediately stale under concurrent churn.
func (r *Registry) ConnectedUserIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for userID := range r.entries {
		ids = append(ids, userID)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Send attempts to push v to userID's live connection. It returns true only
// if an entry exists and the write succeeds; false means the user is offline
// or the handle is no longer writable, which callers treat as "fell back to
// store-only delivery", not as an error.
//
// The network write happens outside the lock so a slow peer cannot stall the
// registry. Racing register/unregister calls resolve to one consistent
// outcome: either the lookup finds the entry and the frame is written to that
// handle, or it doesn't.
func (r *Registry) Send(ctx context.Context, userID string, v any) bool {
	r.mu.Lock()
	entry, ok := r.entries[userID]
	r.mu.Unlock()
	if !ok || !entry.Conn.Open() {
		return false
	}
	return entry.Conn.Send(ctx, v) == nil
}

// Close tears down every live connection and empties the registry. Used at
// server shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]Entry)
	r.mu.Unlock()
	for _, entry := range entries {
		_ = entry.Conn.Close("server shutting down")
	}
}
