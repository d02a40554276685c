package recovery

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

// fakeStore is an in-memory store.Store, the same shape as
// engine/fakes_test.go's — recovery drives the store through the identical
// interface, just a different subset of its methods.
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
	return nil, nil
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
	return nil, nil
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

// fakeAdapter is a scriptable chainadapter.ChainAdapter. It also implements
// chainadapter.AllowanceQuerier directly (rather than behind a separate
// type) so a single test chain can exercise repairMissingApproval just by
// setting allowance.
type fakeAdapter struct {
	mu            sync.Mutex
	chainID       string
	confirmations map[string]int
	allowance     *big.Int
	estimateErr   error
}

func newFakeAdapter(chainID string) *fakeAdapter {
	return &fakeAdapter{chainID: chainID, confirmations: make(map[string]int), allowance: big.NewInt(0)}
}

func (f *fakeAdapter) ChainID() string { return f.chainID }

func (f *fakeAdapter) Capabilities() *chainadapter.Capabilities {
	return &chainadapter.Capabilities{ChainID: f.chainID, MinConfirmations: 1}
}

func (f *fakeAdapter) Build(_ context.Context, req *chainadapter.TransactionRequest) (*chainadapter.UnsignedTransaction, error) {
	return &chainadapter.UnsignedTransaction{ChainID: f.chainID, From: req.From, To: req.To, Amount: req.Amount}, nil
}

func (f *fakeAdapter) Estimate(_ context.Context, _ *chainadapter.TransactionRequest) (*chainadapter.FeeEstimate, error) {
	if f.estimateErr != nil {
		return nil, f.estimateErr
	}
	return &chainadapter.FeeEstimate{ChainID: f.chainID, Recommended: big.NewInt(21_000_000_000_000)}, nil
}

func (f *fakeAdapter) Sign(_ context.Context, unsigned *chainadapter.UnsignedTransaction, signer chainadapter.Signer) (*chainadapter.SignedTransaction, error) {
	sig, err := signer.Sign(unsigned.SigningPayload, unsigned.From)
	if err != nil {
		return nil, err
	}
	return &chainadapter.SignedTransaction{UnsignedTx: unsigned, Signature: sig, SignedBy: signer.GetAddress(), TxHash: "0xtx"}, nil
}

func (f *fakeAdapter) Broadcast(_ context.Context, signed *chainadapter.SignedTransaction) (*chainadapter.BroadcastReceipt, error) {
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

// Allowance implements chainadapter.AllowanceQuerier.
func (f *fakeAdapter) Allowance(_ context.Context, _, _, _ string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.allowance), nil
}

func (f *fakeAdapter) setAllowance(v int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowance = big.NewInt(v)
}

var _ chainadapter.ChainAdapter = (*fakeAdapter)(nil)
var _ chainadapter.AllowanceQuerier = (*fakeAdapter)(nil)

// noAllowanceAdapter is a ChainAdapter that deliberately does NOT implement
// AllowanceQuerier — used to confirm repairMissingApprovalForSide skips
// such chains rather than panicking on a failed type assertion. It cannot
// embed fakeAdapter directly, since that would inherit its Allowance method.
type noAllowanceAdapter struct {
	chainID       string
	mu            sync.Mutex
	confirmations map[string]int
}

func newNoAllowanceAdapter(chainID string) *noAllowanceAdapter {
	return &noAllowanceAdapter{chainID: chainID, confirmations: make(map[string]int)}
}

func (f *noAllowanceAdapter) ChainID() string { return f.chainID }
func (f *noAllowanceAdapter) Capabilities() *chainadapter.Capabilities {
	return &chainadapter.Capabilities{ChainID: f.chainID, MinConfirmations: 1}
}
func (f *noAllowanceAdapter) Build(_ context.Context, req *chainadapter.TransactionRequest) (*chainadapter.UnsignedTransaction, error) {
	return &chainadapter.UnsignedTransaction{ChainID: f.chainID, From: req.From, To: req.To, Amount: req.Amount}, nil
}
func (f *noAllowanceAdapter) Estimate(_ context.Context, _ *chainadapter.TransactionRequest) (*chainadapter.FeeEstimate, error) {
	return &chainadapter.FeeEstimate{ChainID: f.chainID, Recommended: big.NewInt(21_000_000_000_000)}, nil
}
func (f *noAllowanceAdapter) Sign(_ context.Context, unsigned *chainadapter.UnsignedTransaction, signer chainadapter.Signer) (*chainadapter.SignedTransaction, error) {
	sig, err := signer.Sign(unsigned.SigningPayload, unsigned.From)
	if err != nil {
		return nil, err
	}
	return &chainadapter.SignedTransaction{UnsignedTx: unsigned, Signature: sig, SignedBy: signer.GetAddress(), TxHash: "0xtx"}, nil
}
func (f *noAllowanceAdapter) Broadcast(_ context.Context, signed *chainadapter.SignedTransaction) (*chainadapter.BroadcastReceipt, error) {
	return &chainadapter.BroadcastReceipt{TxHash: signed.TxHash, ChainID: f.chainID}, nil
}
func (f *noAllowanceAdapter) QueryStatus(_ context.Context, txHash string) (*chainadapter.TransactionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &chainadapter.TransactionStatus{TxHash: txHash, Confirmations: f.confirmations[txHash]}, nil
}
func (f *noAllowanceAdapter) SubscribeStatus(_ context.Context, _ string) (<-chan *chainadapter.TransactionStatus, error) {
	ch := make(chan *chainadapter.TransactionStatus)
	close(ch)
	return ch, nil
}

var _ chainadapter.ChainAdapter = (*noAllowanceAdapter)(nil)

// fakeProvider is a scriptable provider.BlockchainProvider backing the
// tank's balance checks.
type fakeProvider struct {
	mu       sync.Mutex
	balances map[string]*big.Int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{balances: make(map[string]*big.Int)}
}

func (p *fakeProvider) ProviderName() string      { return "fake" }
func (p *fakeProvider) SupportedChains() []string { return []string{"ethereum", "bitcoin"} }

func (p *fakeProvider) GetBalance(_ context.Context, chainTag, address string) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.balances[chainTag+":"+address]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (p *fakeProvider) GetTokenBalance(_ context.Context, _, _, _ string) (*big.Int, error) {
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
func (p *fakeProvider) ListUnspent(_ context.Context, _, _ string) ([]*provider.UTXO, error) {
	return nil, nil
}
func (p *fakeProvider) GetRawTransaction(_ context.Context, _, _ string, _ bool) (*provider.BitcoinTransaction, error) {
	return &provider.BitcoinTransaction{}, nil
}
func (p *fakeProvider) HealthCheck(_ context.Context) error { return nil }
func (p *fakeProvider) Close() error                        { return nil }

func (p *fakeProvider) setBalance(chainTag, address string, v int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[chainTag+":"+address] = big.NewInt(v)
}

var _ provider.BlockchainProvider = (*fakeProvider)(nil)
