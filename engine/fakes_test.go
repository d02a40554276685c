package engine

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/otcbroker/broker/chainadapter"
	"github.com/otcbroker/broker/chainadapter/provider"
	"github.com/otcbroker/broker/domain"
	"github.com/otcbroker/broker/store"
)

// fakeStore is an in-memory store.Store good enough to drive one engine
// tick at a time in tests; it does not model real lease contention beyond
// a single map of currently-held resource names.
type fakeStore struct {
	mu      sync.Mutex
	deals   map[uuid.UUID]*domain.Deal
	items   map[uuid.UUID]domain.QueueItem
	events  []domain.Event
	recov   []domain.RecoveryLogEntry
	leases  map[string]string
	indexes map[domain.ChainKind]uint64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		deals:   make(map[uuid.UUID]*domain.Deal),
		items:   make(map[uuid.UUID]domain.QueueItem),
		leases:  make(map[string]string),
		indexes: make(map[domain.ChainKind]uint64),
	}
}

func (s *fakeStore) CreateDeal(_ context.Context, deal *domain.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *deal
	s.deals[deal.ID] = &cp
	return nil
}

func (s *fakeStore) GetDeal(_ context.Context, id uuid.UUID) (*domain.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *fakeStore) UpdateDeal(_ context.Context, deal *domain.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *deal
	s.deals[deal.ID] = &cp
	return nil
}

func (s *fakeStore) DealsByStage(_ context.Context, stage domain.Stage) ([]*domain.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Deal
	for _, d := range s.deals {
		if d.Stage == stage {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) StaleCollecting(_ context.Context, now time.Time) ([]*domain.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Deal
	for _, d := range s.deals {
		if (d.Stage == domain.StageCreated || d.Stage == domain.StageCollection) &&
			d.CollectionDeadline != nil && d.CollectionDeadline.Before(now) {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateQueueItems(_ context.Context, items []domain.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		s.items[it.ID] = it
	}
	return nil
}

func (s *fakeStore) QueueItemsForDeal(_ context.Context, dealID uuid.UUID) ([]domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.QueueItem
	for _, it := range s.items {
		if it.DealID == dealID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateQueueItem(_ context.Context, item *domain.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = *item
	return nil
}

func (s *fakeStore) PendingQueueItems(_ context.Context) ([]domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.QueueItem
	for _, it := range s.items {
		if it.Status != domain.QueueStatusConfirmed && it.Status != domain.QueueStatusFailed {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *fakeStore) AppendEvent(_ context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *fakeStore) EventsForDeal(_ context.Context, dealID uuid.UUID) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.events {
		if e.DealID == dealID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) AppendRecoveryLog(_ context.Context, entry domain.RecoveryLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recov = append(s.recov, entry)
	return nil
}

func (s *fakeStore) AcquireLease(_ context.Context, resource, holder string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.leases[resource]; ok && existing != holder {
		return store.ErrLeaseHeld
	}
	s.leases[resource] = holder
	return nil
}

func (s *fakeStore) RenewLease(_ context.Context, resource, holder string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leases[resource] = holder
	return nil
}

func (s *fakeStore) ReleaseLease(_ context.Context, resource, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leases[resource] == holder {
		delete(s.leases, resource)
	}
	return nil
}

func (s *fakeStore) NextIndex(_ context.Context, kind domain.ChainKind) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes[kind]++
	return s.indexes[kind], nil
}

func (s *fakeStore) Close() error { return nil }

var _ store.Store = (*fakeStore)(nil)

// fakeAdapter is a scriptable chainadapter.ChainAdapter: Build/Broadcast
// succeed deterministically, and QueryStatus returns whatever
// confirmations a test preloads for a tx hash.
type fakeAdapter struct {
	mu            sync.Mutex
	chainID       string
	recommended   *big.Int
	confirmations map[string]int
	buildErr      error
	broadcastErr  error
	broadcastN    int
}

func newFakeAdapter(chainID string) *fakeAdapter {
	return &fakeAdapter{chainID: chainID, recommended: big.NewInt(21_000_000_000_000), confirmations: make(map[string]int)}
}

func (f *fakeAdapter) ChainID() string { return f.chainID }

func (f *fakeAdapter) Capabilities() *chainadapter.Capabilities {
	return &chainadapter.Capabilities{ChainID: f.chainID, MinConfirmations: 1}
}

func (f *fakeAdapter) Build(_ context.Context, req *chainadapter.TransactionRequest) (*chainadapter.UnsignedTransaction, error) {
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return &chainadapter.UnsignedTransaction{
		ChainID:        f.chainID,
		From:           req.From,
		To:             req.To,
		Amount:         req.Amount,
		SigningPayload: []byte(req.From + ">" + req.To + ">" + req.Memo),
		CreatedAt:      time.Time{},
	}, nil
}

func (f *fakeAdapter) Estimate(_ context.Context, _ *chainadapter.TransactionRequest) (*chainadapter.FeeEstimate, error) {
	return &chainadapter.FeeEstimate{ChainID: f.chainID, Recommended: f.recommended}, nil
}

func (f *fakeAdapter) Sign(_ context.Context, unsigned *chainadapter.UnsignedTransaction, signer chainadapter.Signer) (*chainadapter.SignedTransaction, error) {
	sig, err := signer.Sign(unsigned.SigningPayload, unsigned.From)
	if err != nil {
		return nil, err
	}
	return &chainadapter.SignedTransaction{
		UnsignedTx:   unsigned,
		Signature:    sig,
		SignedBy:     signer.GetAddress(),
		TxHash:       "0xtx-" + unsigned.From + "-" + unsigned.To,
		SerializedTx: sig,
		SignedAt:     time.Time{},
	}, nil
}

func (f *fakeAdapter) Broadcast(_ context.Context, signed *chainadapter.SignedTransaction) (*chainadapter.BroadcastReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broadcastErr != nil {
		return nil, f.broadcastErr
	}
	f.broadcastN++
	return &chainadapter.BroadcastReceipt{TxHash: signed.TxHash, ChainID: f.chainID}, nil
}

func (f *fakeAdapter) QueryStatus(_ context.Context, txHash string) (*chainadapter.TransactionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conf, ok := f.confirmations[txHash]
	if !ok {
		conf = 0
	}
	return &chainadapter.TransactionStatus{TxHash: txHash, Confirmations: conf}, nil
}

func (f *fakeAdapter) SubscribeStatus(_ context.Context, _ string) (<-chan *chainadapter.TransactionStatus, error) {
	ch := make(chan *chainadapter.TransactionStatus)
	close(ch)
	return ch, nil
}

func (f *fakeAdapter) setConfirmations(txHash string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmations[txHash] = n
}

var _ chainadapter.ChainAdapter = (*fakeAdapter)(nil)

// fakeSigner is a chainadapter.Signer stub that never fails and never
// touches real key material.
type fakeSigner struct{ addr string }

func (s fakeSigner) Sign(payload []byte, _ string) ([]byte, error) { return append([]byte{0x01}, payload...), nil }
func (s fakeSigner) GetAddress() string                            { return s.addr }

var _ chainadapter.Signer = fakeSigner{}

// fakeProvider is a scriptable provider.BlockchainProvider backing the
// engine's funding checks; only GetBalance/GetTokenBalance/ListUnspent are
// exercised by current tests, the rest are stubs satisfying the interface.
type fakeProvider struct {
	mu       sync.Mutex
	balances map[string]*big.Int
	tokens   map[string]*big.Int
	utxos    map[string][]*provider.UTXO
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		balances: make(map[string]*big.Int),
		tokens:   make(map[string]*big.Int),
		utxos:    make(map[string][]*provider.UTXO),
	}
}

func (p *fakeProvider) ProviderName() string        { return "fake" }
func (p *fakeProvider) SupportedChains() []string   { return []string{"ethereum", "bitcoin"} }

func (p *fakeProvider) GetBalance(_ context.Context, _, address string) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.balances[address]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (p *fakeProvider) GetTokenBalance(_ context.Context, _, address, _ string) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.tokens[address]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (p *fakeProvider) GetTransactionCount(_ context.Context, _, _ string) (uint64, error) { return 0, nil }
func (p *fakeProvider) EstimateGas(_ context.Context, _, _, _ string, _ *big.Int, _ []byte) (uint64, error) {
	return 21000, nil
}
func (p *fakeProvider) GetBaseFee(_ context.Context, _ string) (*big.Int, error) { return big.NewInt(1), nil }
func (p *fakeProvider) GetFeeHistory(_ context.Context, _ string, _ int) (*big.Int, error) {
	return big.NewInt(1), nil
}
func (p *fakeProvider) EstimateBitcoinFee(_ context.Context, _ string, _ int) (int64, error) { return 10, nil }
func (p *fakeProvider) SendRawTransaction(_ context.Context, _, _ string) (string, error)     { return "0xsent", nil }
func (p *fakeProvider) GetTransactionByHash(_ context.Context, _, _ string) (*provider.TransactionInfo, error) {
	return &provider.TransactionInfo{}, nil
}
func (p *fakeProvider) GetTransactionReceipt(_ context.Context, _, _ string) (*provider.TransactionReceipt, error) {
	return &provider.TransactionReceipt{}, nil
}
func (p *fakeProvider) GetBlockNumber(_ context.Context, _ string) (uint64, error) { return 0, nil }
func (p *fakeProvider) GetBlock(_ context.Context, _, _ string) (*provider.BlockInfo, error) {
	return &provider.BlockInfo{}, nil
}

func (p *fakeProvider) ListUnspent(_ context.Context, _, address string) ([]*provider.UTXO, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.utxos[address], nil
}

func (p *fakeProvider) GetRawTransaction(_ context.Context, _, _ string, _ bool) (*provider.BitcoinTransaction, error) {
	return &provider.BitcoinTransaction{}, nil
}
func (p *fakeProvider) HealthCheck(_ context.Context) error { return nil }
func (p *fakeProvider) Close() error                        { return nil }

func (p *fakeProvider) setBalance(address string, v int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[address] = big.NewInt(v)
}

var _ provider.BlockchainProvider = (*fakeProvider)(nil)
