package server

import (
	"context"
)

// SessionNotifier is told about session lifecycle events. Implementations
// must not block, they are called while the session table is locked.
type SessionNotifier interface {
	// NotifySessionOpened is called once a session is registered and relaying
	NotifySessionOpened(ctx context.Context, session SessionInfo) error

	// NotifySessionClosed is called when a session leaves the table, whether
	// it idled out, was evicted or the listener stopped
	NotifySessionClosed(ctx context.Context, session SessionInfo) error
}
