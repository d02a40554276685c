package domain

import "github.com/google/uuid"

// Event is an append-only, human-readable audit log entry keyed by deal
// (§3 "Event"). Never consulted for correctness — the store is.
type Event struct {
	DealID    uuid.UUID
	Timestamp int64 // unix milliseconds
	Message   string
}

// RecoveryLogEntry is a human audit record of a recovery-manager action (§3).
type RecoveryLogEntry struct {
	ID            uuid.UUID
	DealID        uuid.UUID
	RecoveryType  string
	ChainID       uint64
	Action        string
	Success       bool
	Error         string
	Metadata      map[string]string
	CreatedAt     int64 // unix milliseconds
}
