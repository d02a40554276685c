package domain

import (
	"time"

	"github.com/google/uuid"
)

// Stage is the deal-level state machine value, per §3/§4.1.
type Stage string

const (
	StageCreated           Stage = "CREATED"
	StageCollection        Stage = "COLLECTION"
	StageSwap              Stage = "SWAP"
	StageClosed            Stage = "CLOSED"
	StageReverted          Stage = "REVERTED"
	StageExpiredNoDetails  Stage = "EXPIRED_NO_DETAILS"
)

// IsTerminal reports whether a stage never transitions again (§8 invariant 8).
func (s Stage) IsTerminal() bool {
	switch s {
	case StageClosed, StageReverted, StageExpiredNoDetails:
		return true
	default:
		return false
	}
}

// Escrow is a single-use deterministic address owned exclusively by one
// side of one deal for that deal's lifetime (§3 "Escrow").
type Escrow struct {
	ChainID uint64
	Index   uint64
	Address string
}

// Side is one counterparty's half of a deal (§3 "Side").
type Side struct {
	ChainID         uint64
	Asset           string
	Amount          Amount
	RecipientAddr   string
	PaybackAddr     string
	Contact         string
	AuthToken       string
	Escrow          Escrow
}

// HasDetails reports whether the side's recipient and payback addresses
// have both been filled in by its counterparty (§4.1 CREATED -> COLLECTION).
func (s Side) HasDetails() bool {
	return s.RecipientAddr != "" && s.PaybackAddr != ""
}

// Deal is the top-level aggregate identified by an opaque 128-bit id (§3 "Deal").
type Deal struct {
	ID                uuid.UUID
	Alice             Side
	Bob               Side
	Stage             Stage
	TimeoutSeconds    int64
	CollectionDeadline *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
	// RevertReason records why a REVERTED/EXPIRED_NO_DETAILS deal ended
	// that way, surfaced verbatim by status() per §7 "User-visible failure".
	RevertReason string
}

// NewDealID mints a fresh opaque 128-bit deal id.
func NewDealID() uuid.UUID { return uuid.New() }

// SideByParty returns alice or bob by name ("alice"/"bob"), used by the
// fillPartyDetails contract (§6.1) which addresses a side by party name
// rather than by struct field.
func (d *Deal) SideByParty(party string) *Side {
	switch party {
	case "alice":
		return &d.Alice
	case "bob":
		return &d.Bob
	default:
		return nil
	}
}

// Sides returns both sides in a fixed order, useful for settlement planning
// loops that must treat alice/bob symmetrically.
func (d *Deal) Sides() [2]*Side {
	return [2]*Side{&d.Alice, &d.Bob}
}

// BothHaveDetails reports whether both sides have filled recipient/payback.
func (d *Deal) BothHaveDetails() bool {
	return d.Alice.HasDetails() && d.Bob.HasDetails()
}

// SideByEscrow returns whichever side owns escrowAddr, or nil if neither
// does. Used by settlement code that only has a queue item's FromAddr and
// needs the side's derivation index, payback address, or advertised
// amount back.
func (d *Deal) SideByEscrow(escrowAddr string) *Side {
	if d.Alice.Escrow.Address == escrowAddr {
		return &d.Alice
	}
	if d.Bob.Escrow.Address == escrowAddr {
		return &d.Bob
	}
	return nil
}
