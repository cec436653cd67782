// Package storage defines the persistence interface implemented by concrete backends.
package storage

import (
	"context"

	"github.com/dmavdeev/jimchat/internal/model"
)

// Store is the durable bookkeeping behind the chat server: users and
// credentials, the active-session mirror of the registry, login history,
// contact lists, and per-user traffic counters. All operations are
// synchronous and safe for use from a single dispatching goroutine; the
// SQLite backend additionally serializes concurrent callers.
type Store interface {
	// Login creates the user on first sight and otherwise verifies pwdHash
	// against the stored hash. A mismatch returns rejected=true with no
	// state change. On success it updates last_login and records an active
	// session and a history entry.
	Login(ctx context.Context, name, ip string, port int, pwdHash []byte) (rejected bool, err error)

	// Logout removes the user's active session row. Idempotent.
	Logout(ctx context.Context, name string) error

	// RecordTraffic increments sender's sent counter and recipient's
	// accepted counter. Returns errs.ErrNotFound if either user is unknown;
	// callers log and carry on.
	RecordTraffic(ctx context.Context, sender, recipient string) error

	// AddContact inserts the directed edge owner->target. Idempotent.
	// Returns errs.ErrNotFound if target is not a known user.
	AddContact(ctx context.Context, owner, target string) error

	// RemoveContact deletes the edge owner->target. Removing an absent edge
	// is a no-op. Returns errs.ErrNotFound if target is not a known user.
	RemoveContact(ctx context.Context, owner, target string) error

	// ListContacts returns the owner's contact names ordered by name.
	ListContacts(ctx context.Context, owner string) ([]string, error)

	// ListAllUsers returns every known user with its last login, ordered by name.
	ListAllUsers(ctx context.Context) ([]model.UserSummary, error)

	// ActiveSessions returns the current active-session rows for reporting.
	ActiveSessions(ctx context.Context) ([]model.ActiveSession, error)

	// LoginHistory returns login records for one user, or for all users when
	// name is empty, oldest first.
	LoginHistory(ctx context.Context, name string) ([]model.LoginHistoryEntry, error)

	// TrafficStats returns per-user message counters ordered by name.
	TrafficStats(ctx context.Context) ([]model.TrafficStat, error)

	// PurgeSessions wipes the active-session table. Run at startup: no
	// session can be live before the first client connects.
	PurgeSessions(ctx context.Context) error

	// Close releases the underlying database handle.
	Close() error
}
