package store

import (
	"context"
	"fmt"

	"github.com/otcbroker/broker/domain"
)

// NextIndex allocates the next strictly-increasing escrow index for kind,
// durably and atomically, satisfying keymanager.IndexAllocator (§4.5: an
// index is never reused, even across restarts).
func (s *SQLStore) NextIndex(ctx context.Context, kind domain.ChainKind) (uint64, error) {
	query := s.dialect.rebind(`
		INSERT INTO escrow_index_counters (chain_kind, next_index) VALUES (?, 1)
		ON CONFLICT (chain_kind) DO UPDATE SET next_index = escrow_index_counters.next_index + 1
		RETURNING next_index - 1`)
	var issued uint64
	if err := s.db.QueryRowContext(ctx, query, string(kind)).Scan(&issued); err != nil {
		return 0, fmt.Errorf("store: next index for %s: %w", kind, err)
	}
	return issued, nil
}
