package domain

import (
	"time"

	"github.com/google/uuid"
)

// QueuePurpose enumerates the kinds of scheduled chain action (§3 "Queue item").
type QueuePurpose string

const (
	PurposeBrokerSwap        QueuePurpose = "BROKER_SWAP"
	PurposeBrokerRevert      QueuePurpose = "BROKER_REVERT"
	PurposeBrokerRefund      QueuePurpose = "BROKER_REFUND"
	PurposeDirectTransfer    QueuePurpose = "DIRECT_TRANSFER"
	PurposeApproval          QueuePurpose = "APPROVAL"
	PurposeGasFunding        QueuePurpose = "GAS_FUNDING"
	PurposeGasRefundToTank   QueuePurpose = "GAS_REFUND_TO_TANK"
	PurposeCommissionTransfer QueuePurpose = "COMMISSION_TRANSFER"
)

// Phase is the coarse ordering bucket for queue items within a deal.
type Phase string

const (
	PhasePreSwap  Phase = "PRE_SWAP"
	PhaseSwap     Phase = "SWAP"
	PhasePostSwap Phase = "POST_SWAP"
)

// phaseOrder gives the strict cross-phase ordering required by §4.1/§5.
var phaseOrder = map[Phase]int{PhasePreSwap: 0, PhaseSwap: 1, PhasePostSwap: 2}

// Before reports whether phase p executes strictly before o.
func (p Phase) Before(o Phase) bool { return phaseOrder[p] < phaseOrder[o] }

// QueueStatus is the lifecycle state of a queue item (§3/§4.2).
type QueueStatus string

const (
	QueueStatusPending   QueueStatus = "PENDING"
	QueueStatusSubmitted QueueStatus = "SUBMITTED"
	QueueStatusConfirmed QueueStatus = "CONFIRMED"
	QueueStatusFailed    QueueStatus = "FAILED"
)

// SubmittedTx records the chain transaction a queue item was submitted as.
type SubmittedTx struct {
	TxID        string
	SubmittedAt time.Time
}

// QueueItem is a durable record of a scheduled on-chain action (§3).
type QueueItem struct {
	ID               uuid.UUID
	DealID           uuid.UUID
	ChainID          uint64
	Purpose          QueuePurpose
	FromAddr         string
	ToAddr           string
	Asset            string
	Amount           Amount
	Phase            Phase
	Seq              int
	Status           QueueStatus
	Submitted        *SubmittedTx
	RecoveryAttempts int
	LastRecoveryAt   *time.Time
	RecoveryError    string
	CreatedAt        time.Time
}

// ReadyAfter reports whether all of prior (earlier items for the same deal,
// already ordered by (phase, seq)) are CONFIRMED, i.e. this item may be
// submitted now (§4.1 "will not submit ... until all earlier items ...
// are CONFIRMED").
func ReadyAfter(prior []QueueItem) bool {
	for _, p := range prior {
		if p.Status != QueueStatusConfirmed {
			return false
		}
	}
	return true
}

// Less orders queue items by (phase, seq) for a single deal, the execution
// order required by §3/§5.
func Less(a, b QueueItem) bool {
	if a.Phase != b.Phase {
		return a.Phase.Before(b.Phase)
	}
	return a.Seq < b.Seq
}
