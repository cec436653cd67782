// Package sqlite contains the SQLite implementation of the storage interface.
package sqlite

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dmavdeev/jimchat/internal/errs"
	"github.com/dmavdeev/jimchat/internal/migrate"
	"github.com/dmavdeev/jimchat/internal/model"
	"github.com/dmavdeev/jimchat/internal/storage"
)

// Store implements storage.Store on a single SQLite database file.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies pending
// migrations. Use ":memory:" for tests.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection sidesteps SQLITE_BUSY between concurrent callers
	// and keeps ":memory:" databases from silently duplicating.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := migrate.Up(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Login implements storage.Store.
func (s *Store) Login(ctx context.Context, name, ip string, port int, pwdHash []byte) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var u model.User
	err = tx.QueryRowContext(ctx,
		`SELECT id, name, pwd_hash, last_login FROM users WHERE name = ?`, name).
		Scan(&u.ID, &u.Name, &u.PwdHash, &u.LastLogin)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx,
			`INSERT INTO users (name, pwd_hash, last_login) VALUES (?, ?, ?)`,
			name, pwdHash, now)
		if err != nil {
			return false, fmt.Errorf("create user %q: %w", name, err)
		}
		if u.ID, err = res.LastInsertId(); err != nil {
			return false, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO usage_counters (user_id, sent, accepted) VALUES (?, 0, 0)`,
			u.ID); err != nil {
			return false, fmt.Errorf("create counters for %q: %w", name, err)
		}
	case err != nil:
		return false, fmt.Errorf("lookup user %q: %w", name, err)
	default:
		if subtle.ConstantTimeCompare(u.PwdHash, pwdHash) != 1 {
			return true, nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET last_login = ? WHERE id = ?`, now, u.ID); err != nil {
			return false, fmt.Errorf("update last_login for %q: %w", name, err)
		}
	}

	// Leftover rows from the same user are impossible within one run (the
	// registry rejects duplicate binds); upsert covers a crash remnant that
	// escaped the startup purge.
	if _, err := tx.ExecContext(ctx, `
INSERT INTO active_sessions (user_id, ip, port, login_at) VALUES (?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET ip = excluded.ip, port = excluded.port, login_at = excluded.login_at`,
		u.ID, ip, port, now); err != nil {
		return false, fmt.Errorf("record session for %q: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO login_history (user_id, ip, port, login_at) VALUES (?, ?, ?, ?)`,
		u.ID, ip, port, now); err != nil {
		return false, fmt.Errorf("record history for %q: %w", name, err)
	}
	return false, tx.Commit()
}

// Logout implements storage.Store.
func (s *Store) Logout(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM active_sessions WHERE user_id = (SELECT id FROM users WHERE name = ?)`, name)
	if err != nil {
		return fmt.Errorf("logout %q: %w", name, err)
	}
	return nil
}

// RecordTraffic implements storage.Store.
func (s *Store) RecordTraffic(ctx context.Context, sender, recipient string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := bumpCounter(ctx, tx, "sent", sender); err != nil {
		return err
	}
	if err := bumpCounter(ctx, tx, "accepted", recipient); err != nil {
		return err
	}
	return tx.Commit()
}

// bumpCounter increments one counter column; column is always a literal.
func bumpCounter(ctx context.Context, tx *sql.Tx, column, name string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE usage_counters SET `+column+` = `+column+` + 1
		 WHERE user_id = (SELECT id FROM users WHERE name = ?)`, name)
	if err != nil {
		return fmt.Errorf("bump %s for %q: %w", column, name, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("bump %s: user %q: %w", column, name, errs.ErrNotFound)
	}
	return nil
}

// AddContact implements storage.Store.
func (s *Store) AddContact(ctx context.Context, owner, target string) error {
	targetID, err := s.userID(ctx, target)
	if err != nil {
		return err
	}
	ownerID, err := s.userID(ctx, owner)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO contacts (owner_id, contact_id) VALUES (?, ?)`,
		ownerID, targetID); err != nil {
		return fmt.Errorf("add contact %q -> %q: %w", owner, target, err)
	}
	return nil
}

// RemoveContact implements storage.Store.
func (s *Store) RemoveContact(ctx context.Context, owner, target string) error {
	targetID, err := s.userID(ctx, target)
	if err != nil {
		return err
	}
	ownerID, err := s.userID(ctx, owner)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM contacts WHERE owner_id = ? AND contact_id = ?`,
		ownerID, targetID); err != nil {
		return fmt.Errorf("remove contact %q -> %q: %w", owner, target, err)
	}
	return nil
}

// ListContacts implements storage.Store.
func (s *Store) ListContacts(ctx context.Context, owner string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT u.name
FROM contacts c
JOIN users o ON o.id = c.owner_id
JOIN users u ON u.id = c.contact_id
WHERE o.name = ?
ORDER BY u.name`, owner)
	if err != nil {
		return nil, fmt.Errorf("list contacts of %q: %w", owner, err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// ListAllUsers implements storage.Store.
func (s *Store) ListAllUsers(ctx context.Context) ([]model.UserSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, last_login FROM users ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []model.UserSummary
	for rows.Next() {
		var u model.UserSummary
		if err := rows.Scan(&u.Name, &u.LastLogin); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ActiveSessions implements storage.Store.
func (s *Store) ActiveSessions(ctx context.Context) ([]model.ActiveSession, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT u.name, a.ip, a.port, a.login_at
FROM active_sessions a
JOIN users u ON u.id = a.user_id
ORDER BY u.name`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []model.ActiveSession
	for rows.Next() {
		var a model.ActiveSession
		if err := rows.Scan(&a.UserName, &a.IP, &a.Port, &a.LoginAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LoginHistory implements storage.Store.
func (s *Store) LoginHistory(ctx context.Context, name string) ([]model.LoginHistoryEntry, error) {
	q := `
SELECT u.name, h.ip, h.port, h.login_at
FROM login_history h
JOIN users u ON u.id = h.user_id`
	args := []any{}
	if name != "" {
		q += ` WHERE u.name = ?`
		args = append(args, name)
	}
	q += ` ORDER BY h.id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("login history: %w", err)
	}
	defer rows.Close()

	var out []model.LoginHistoryEntry
	for rows.Next() {
		var e model.LoginHistoryEntry
		if err := rows.Scan(&e.UserName, &e.IP, &e.Port, &e.LoginAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// TrafficStats implements storage.Store.
func (s *Store) TrafficStats(ctx context.Context) ([]model.TrafficStat, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT u.name, c.sent, c.accepted
FROM usage_counters c
JOIN users u ON u.id = c.user_id
ORDER BY u.name`)
	if err != nil {
		return nil, fmt.Errorf("traffic stats: %w", err)
	}
	defer rows.Close()

	var out []model.TrafficStat
	for rows.Next() {
		var t model.TrafficStat
		if err := rows.Scan(&t.UserName, &t.Sent, &t.Accepted); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PurgeSessions implements storage.Store.
func (s *Store) PurgeSessions(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM active_sessions`); err != nil {
		return fmt.Errorf("purge sessions: %w", err)
	}
	return nil
}

// userID resolves a user name, mapping absence to errs.ErrNotFound.
func (s *Store) userID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("user %q: %w", name, errs.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("lookup user %q: %w", name, err)
	}
	return id, nil
}
