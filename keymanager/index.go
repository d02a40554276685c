package keymanager

import (
	"context"
	"sync"

	"github.com/otcbroker/broker/domain"
)

// IndexAllocator issues strictly-increasing escrow indices scoped per chain
// family, never reused (§4.5). The store package provides the durable,
// crash-safe implementation backed by the escrow_index_counter table;
// InMemoryIndexAllocator below exists for tests and examples.
type IndexAllocator interface {
	NextIndex(ctx context.Context, kind domain.ChainKind) (uint64, error)
}

// InMemoryIndexAllocator is a process-local IndexAllocator. It is not
// crash-safe and must not be used against a durable store.
type InMemoryIndexAllocator struct {
	mu   sync.Mutex
	next map[domain.ChainKind]uint64
}

// NewInMemoryIndexAllocator returns an allocator starting at index 0 for
// every chain family.
func NewInMemoryIndexAllocator() *InMemoryIndexAllocator {
	return &InMemoryIndexAllocator{next: make(map[domain.ChainKind]uint64)}
}

func (a *InMemoryIndexAllocator) NextIndex(_ context.Context, kind domain.ChainKind) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := a.next[kind]
	a.next[kind] = idx + 1
	return idx, nil
}
