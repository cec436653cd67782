// Package model defines domain entities shared by the server and storage layers.
package model

import "time"

// User is a registered account. Created on first successful presence, never
// deleted; only LastLogin changes afterwards.
type User struct {
	ID        int64
	Name      string // unique, immutable
	PwdHash   []byte // slow KDF over password, salt = Name
	LastLogin time.Time
}

// UserSummary is the reporting view returned by ListAllUsers.
type UserSummary struct {
	Name      string
	LastLogin time.Time
}

// ActiveSession mirrors a currently bound user for reporting. At most one
// row exists per user; rows are purged at process start.
type ActiveSession struct {
	UserName string
	IP       string
	Port     int
	LoginAt  time.Time
}

// LoginHistoryEntry is an append-only record of a successful login.
type LoginHistoryEntry struct {
	UserName string
	IP       string
	Port     int
	LoginAt  time.Time
}

// TrafficStat carries the per-user message counters.
type TrafficStat struct {
	UserName string
	Sent     int64
	Accepted int64
}
