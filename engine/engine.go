// Package engine drives the 30-second tick that advances every non-terminal
// deal through its state machine and submits/observes the queue items that
// make up settlement (§4.1, §4.2). It rehydrates each deal from the store
// at the start of every tick, mutates it in memory, and writes it back in
// one transaction-scoped call — the process never caches authoritative
// state across ticks (§5 "Shared mutable state"), the same
// rehydrate-mutate-persist shape
// other_examples/…Klingon-tech-klingdex__internal-swap-coordinator_types.go's
// ActiveSwap-over-storage.Trade pattern uses.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/otcbroker/broker/broker"
	"github.com/otcbroker/broker/domain"
	"github.com/otcbroker/broker/internal/obslog"
	"github.com/otcbroker/broker/keymanager"
	"github.com/otcbroker/broker/obsmetrics"
	"github.com/otcbroker/broker/oracle"
	"github.com/otcbroker/broker/store"
	"github.com/otcbroker/broker/tank"
)

const (
	leaseResourceTick = "engine:tick"
	leaseTickTTL      = 90 * time.Second
	dealLeasePrefix   = "deal:"
)

// Engine holds every collaborator one tick needs. It is a process-wide
// service with explicit lifecycle (§7's "global mutable state ...
// represented by process-wide services"): construct once at startup with
// New, call Tick on the configured interval, nothing to shut down beyond
// letting the in-flight tick finish.
type Engine struct {
	store     store.Store
	chains    *Registry
	keys      *keymanager.Manager
	tank      *tank.Manager
	commission oracle.Policy
	signer    *broker.OperatorSigner
	metrics   obsmetrics.Recorder
	log       *obslog.Logger

	nodeID       string
	workers      int
	dealLeaseTTL time.Duration
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithWorkers bounds how many deals this engine processes concurrently
// within one tick (§5 "up to a bounded worker count").
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithDealLeaseTTL overrides the per-deal lease TTL (default 90s).
func WithDealLeaseTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.dealLeaseTTL = ttl }
}

// New constructs an Engine. nodeID identifies this process instance as a
// lease holder, distinguishing it from other engine instances racing for
// the same global/per-deal leases (§5).
func New(st store.Store, chains *Registry, keys *keymanager.Manager, tk *tank.Manager, commission oracle.Policy, signer *broker.OperatorSigner, metrics obsmetrics.Recorder, log *obslog.Logger, nodeID string, opts ...Option) *Engine {
	e := &Engine{
		store:        st,
		chains:       chains,
		keys:         keys,
		tank:         tk,
		commission:   commission,
		signer:       signer,
		metrics:      metrics,
		log:          log,
		nodeID:       nodeID,
		workers:      4,
		dealLeaseTTL: leaseTickTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Tick runs one engine pass: acquire the global tick lease, gather every
// non-terminal deal, advance each under its own lease up to e.workers at
// once, release the global lease. A deal skipped this tick (lease
// contention, transient error) is simply retried next tick — ticks are
// idempotent (§4.1 "Tick").
func (e *Engine) Tick(ctx context.Context) error {
	start := time.Now()
	if err := e.store.AcquireLease(ctx, leaseResourceTick, e.nodeID, leaseTickTTL); err != nil {
		if err == store.ErrLeaseHeld {
			e.log.Debugf("engine tick: lease held elsewhere, skipping")
			return nil
		}
		return fmt.Errorf("engine: acquire tick lease: %w", err)
	}
	defer func() {
		if err := e.store.ReleaseLease(context.Background(), leaseResourceTick, e.nodeID); err != nil {
			e.log.Warnf("engine tick: release lease failed: %v", err)
		}
	}()

	deals, err := e.collectWork(ctx)
	if err != nil {
		return fmt.Errorf("engine: collect work: %w", err)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.workers)
	for _, d := range deals {
		d := d
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			e.processDealSafely(ctx, d)
		}()
	}
	wg.Wait()

	if e.metrics != nil {
		e.metrics.RecordTick(time.Since(start))
	}
	return nil
}

// collectWork lists every deal in a non-terminal stage (CREATED,
// COLLECTION, SWAP), oldest first within each stage.
func (e *Engine) collectWork(ctx context.Context) ([]*domain.Deal, error) {
	var deals []*domain.Deal
	for _, stage := range []domain.Stage{domain.StageCreated, domain.StageCollection, domain.StageSwap} {
		batch, err := e.store.DealsByStage(ctx, stage)
		if err != nil {
			return nil, err
		}
		deals = append(deals, batch...)
	}
	return deals, nil
}

// processDealSafely wraps processDeal so a panic or error in one deal's
// processing never aborts the tick for the rest (§7 "no exception escapes
// a tick").
func (e *Engine) processDealSafely(ctx context.Context, d *domain.Deal) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorf("engine: panic processing deal %s: %v", d.ID, r)
		}
	}()
	if err := e.processDeal(ctx, d); err != nil {
		e.log.Warnf("engine: deal %s tick error: %v", d.ID, err)
	}
}

// processDeal acquires the deal's lease, rehydrates the latest row (in
// case another tick already advanced it), dispatches on stage, and
// releases the lease. All mutation happens through store calls scoped to
// this one deal.
func (e *Engine) processDeal(ctx context.Context, d *domain.Deal) error {
	leaseName := dealLeasePrefix + d.ID.String()
	if err := e.store.AcquireLease(ctx, leaseName, e.nodeID, e.dealLeaseTTL); err != nil {
		if err == store.ErrLeaseHeld {
			return nil
		}
		return fmt.Errorf("acquire deal lease: %w", err)
	}
	defer func() {
		if err := e.store.ReleaseLease(context.Background(), leaseName, e.nodeID); err != nil {
			e.log.Warnf("engine: release deal lease %s failed: %v", d.ID, err)
		}
	}()

	fresh, err := e.store.GetDeal(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("reload deal: %w", err)
	}
	if fresh.Stage.IsTerminal() {
		return nil
	}

	before := fresh.Stage
	switch fresh.Stage {
	case domain.StageCreated:
		err = e.advanceCreated(ctx, fresh)
	case domain.StageCollection:
		err = e.advanceCollection(ctx, fresh)
	case domain.StageSwap:
		err = e.advanceSwap(ctx, fresh)
	}
	if err != nil {
		return err
	}
	if e.metrics != nil && fresh.Stage != before {
		e.metrics.RecordDealTransition(string(before), string(fresh.Stage))
	}
	return nil
}
