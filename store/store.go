// Package store is the broker's durable state: deals, the queue of
// scheduled on-chain actions, audit events, recovery log entries, leases,
// and escrow index counters (§3, §6.4). Every stage transition and queue
// mutation the engine makes goes through here first — the in-memory
// runtime state is always disposable and rehydrated from this package.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/otcbroker/broker/domain"
)

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("store: not found")

// ErrLeaseHeld is returned by AcquireLease when another holder already owns
// a live lease on the resource.
var ErrLeaseHeld = errors.New("store: lease already held")

// ErrConflict is returned when an optimistic update loses a race (the row
// changed between read and write).
var ErrConflict = errors.New("store: conflict")

// Store is every durable operation the engine, recovery manager, and tank
// manager need. A single implementation backs both postgres (production)
// and sqlite (embedded/single-operator) deployments (§6.4).
type Store interface {
	// Deals

	CreateDeal(ctx context.Context, deal *domain.Deal) error
	GetDeal(ctx context.Context, id uuid.UUID) (*domain.Deal, error)
	// UpdateDeal persists the full deal row. Callers hold the deal's lease
	// for the duration of the read-modify-write.
	UpdateDeal(ctx context.Context, deal *domain.Deal) error
	// DealsByStage lists deals currently in stage, oldest first — the
	// engine's per-tick work list (§4.2).
	DealsByStage(ctx context.Context, stage domain.Stage) ([]*domain.Deal, error)
	// StaleCollecting lists CREATED/COLLECTION deals whose
	// collection_deadline has passed (§4.1 "no details within the
	// collection deadline" -> EXPIRED_NO_DETAILS).
	StaleCollecting(ctx context.Context, now time.Time) ([]*domain.Deal, error)

	// Queue items

	CreateQueueItems(ctx context.Context, items []domain.QueueItem) error
	QueueItemsForDeal(ctx context.Context, dealID uuid.UUID) ([]domain.QueueItem, error)
	UpdateQueueItem(ctx context.Context, item *domain.QueueItem) error
	// PendingQueueItems lists every non-terminal item across all deals,
	// used by the recovery manager's sweep (§5).
	PendingQueueItems(ctx context.Context) ([]domain.QueueItem, error)

	// Audit trail

	AppendEvent(ctx context.Context, event domain.Event) error
	EventsForDeal(ctx context.Context, dealID uuid.UUID) ([]domain.Event, error)
	AppendRecoveryLog(ctx context.Context, entry domain.RecoveryLogEntry) error

	// Leases (§4.3: one tick owner per deal, one owner for the recovery tick)

	AcquireLease(ctx context.Context, resource, holder string, ttl time.Duration) error
	RenewLease(ctx context.Context, resource, holder string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, resource, holder string) error

	// Escrow index allocation (§4.5), satisfying keymanager.IndexAllocator.

	NextIndex(ctx context.Context, kind domain.ChainKind) (uint64, error)

	Close() error
}
