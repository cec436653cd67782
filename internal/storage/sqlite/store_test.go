package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dmavdeev/jimchat/internal/crypto"
	"github.com/dmavdeev/jimchat/internal/errs"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLogin_FirstSightCreatesUser(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	rejected, err := s.Login(ctx, "alice", "10.0.0.1", 50001, crypto.HashPassword("alice", "pw1"))
	require.NoError(t, err)
	require.False(t, rejected)

	users, err := s.ListAllUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, "alice", users[0].Name)
	require.False(t, users[0].LastLogin.IsZero())

	sessions, err := s.ActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "alice", sessions[0].UserName)
	require.Equal(t, "10.0.0.1", sessions[0].IP)
	require.Equal(t, 50001, sessions[0].Port)

	hist, err := s.LoginHistory(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, hist, 1)
}

func TestLogin_PasswordMismatchRejects(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	rejected, err := s.Login(ctx, "alice", "10.0.0.1", 50001, crypto.HashPassword("alice", "pw1"))
	require.NoError(t, err)
	require.False(t, rejected)
	require.NoError(t, s.Logout(ctx, "alice"))

	rejected, err = s.Login(ctx, "alice", "10.0.0.2", 50002, crypto.HashPassword("alice", "wrong"))
	require.NoError(t, err)
	require.True(t, rejected)

	// A rejected login performs no state change.
	sessions, err := s.ActiveSessions(ctx)
	require.NoError(t, err)
	require.Empty(t, sessions)

	hist, err := s.LoginHistory(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, hist, 1)
}

func TestLogin_RepeatUpdatesLastLoginAndHistory(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	hash := crypto.HashPassword("alice", "pw1")

	_, err := s.Login(ctx, "alice", "10.0.0.1", 50001, hash)
	require.NoError(t, err)
	first, err := s.ListAllUsers(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Logout(ctx, "alice"))
	_, err = s.Login(ctx, "alice", "10.0.0.9", 50009, hash)
	require.NoError(t, err)

	again, err := s.ListAllUsers(ctx)
	require.NoError(t, err)
	require.False(t, again[0].LastLogin.Before(first[0].LastLogin))

	hist, err := s.LoginHistory(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, "10.0.0.9", hist[1].IP)
}

func TestLogout_Idempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// Logging out a user with no session, or no user at all, is a no-op.
	require.NoError(t, s.Logout(ctx, "nobody"))

	_, err := s.Login(ctx, "alice", "10.0.0.1", 50001, crypto.HashPassword("alice", "pw1"))
	require.NoError(t, err)
	require.NoError(t, s.Logout(ctx, "alice"))
	require.NoError(t, s.Logout(ctx, "alice"))

	sessions, err := s.ActiveSessions(ctx)
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestRecordTraffic(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Login(ctx, "alice", "10.0.0.1", 50001, crypto.HashPassword("alice", "pw1"))
	require.NoError(t, err)
	_, err = s.Login(ctx, "bob", "10.0.0.2", 50002, crypto.HashPassword("bob", "pw2"))
	require.NoError(t, err)

	require.NoError(t, s.RecordTraffic(ctx, "alice", "bob"))

	stats, err := s.TrafficStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	require.Equal(t, "alice", stats[0].UserName)
	require.EqualValues(t, 1, stats[0].Sent)
	require.EqualValues(t, 0, stats[0].Accepted)
	require.Equal(t, "bob", stats[1].UserName)
	require.EqualValues(t, 0, stats[1].Sent)
	require.EqualValues(t, 1, stats[1].Accepted)
}

func TestRecordTraffic_UnknownUserLeavesCountersAlone(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Login(ctx, "alice", "10.0.0.1", 50001, crypto.HashPassword("alice", "pw1"))
	require.NoError(t, err)

	require.ErrorIs(t, s.RecordTraffic(ctx, "alice", "ghost"), errs.ErrNotFound)
	require.ErrorIs(t, s.RecordTraffic(ctx, "ghost", "alice"), errs.ErrNotFound)

	stats, err := s.TrafficStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	require.EqualValues(t, 0, stats[0].Sent)
	require.EqualValues(t, 0, stats[0].Accepted)
}

func TestContacts(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for _, u := range []string{"alice", "bob", "carol"} {
		_, err := s.Login(ctx, u, "10.0.0.1", 50001, crypto.HashPassword(u, "pw"))
		require.NoError(t, err)
	}

	// Empty list before any edge exists, and it is a list, not nil.
	list, err := s.ListContacts(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []string{}, list)

	require.NoError(t, s.AddContact(ctx, "alice", "carol"))
	require.NoError(t, s.AddContact(ctx, "alice", "bob"))
	// Adding an existing edge is a no-op.
	require.NoError(t, s.AddContact(ctx, "alice", "bob"))

	list, err = s.ListContacts(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"bob", "carol"}, list)

	// The edge is directed: bob's list is untouched.
	list, err = s.ListContacts(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, list)

	// Removing an absent edge is a no-op; removing a present one only
	// removes the edge.
	require.NoError(t, s.RemoveContact(ctx, "alice", "carol"))
	require.NoError(t, s.RemoveContact(ctx, "alice", "carol"))
	list, err = s.ListContacts(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, list)

	users, err := s.ListAllUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
}

func TestContacts_UnknownTarget(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Login(ctx, "alice", "10.0.0.1", 50001, crypto.HashPassword("alice", "pw1"))
	require.NoError(t, err)

	require.ErrorIs(t, s.AddContact(ctx, "alice", "ghost"), errs.ErrNotFound)
	require.ErrorIs(t, s.RemoveContact(ctx, "alice", "ghost"), errs.ErrNotFound)
}

func TestPurgeSessions(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Login(ctx, "alice", "10.0.0.1", 50001, crypto.HashPassword("alice", "pw1"))
	require.NoError(t, err)
	_, err = s.Login(ctx, "bob", "10.0.0.2", 50002, crypto.HashPassword("bob", "pw2"))
	require.NoError(t, err)

	require.NoError(t, s.PurgeSessions(ctx))

	sessions, err := s.ActiveSessions(ctx)
	require.NoError(t, err)
	require.Empty(t, sessions)

	// History is append-only and survives the purge.
	hist, err := s.LoginHistory(ctx, "")
	require.NoError(t, err)
	require.Len(t, hist, 2)
}
