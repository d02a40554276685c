package store

import (
	"context"
	"time"
)

// AcquireLease grants holder exclusive ownership of resource until ttl
// elapses, unless another holder already owns a live lease (§4.3: one tick
// owner per deal, one owner for the global recovery tick — lets brokerd run
// as more than one process without two ticks racing the same deal).
//
// Implemented as a single portable upsert: the conflicting row is only
// overwritten when it has expired or is already owned by holder.
func (s *SQLStore) AcquireLease(ctx context.Context, resource, holder string, ttl time.Duration) error {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	query := s.dialect.rebind(`
		INSERT INTO leases (resource, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (resource) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE leases.expires_at < ? OR leases.holder = excluded.holder`)
	res, err := s.db.ExecContext(ctx, query, resource, holder, expiresAt, now)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseHeld
	}
	return nil
}

// RenewLease extends holder's lease on resource. Fails with ErrLeaseHeld if
// holder no longer owns it (lost to another process after expiry).
func (s *SQLStore) RenewLease(ctx context.Context, resource, holder string, ttl time.Duration) error {
	expiresAt := time.Now().UTC().Add(ttl)
	query := s.dialect.rebind(`UPDATE leases SET expires_at = ? WHERE resource = ? AND holder = ?`)
	res, err := s.db.ExecContext(ctx, query, expiresAt, resource, holder)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseHeld
	}
	return nil
}

// ReleaseLease drops holder's lease on resource, if any. Idempotent.
func (s *SQLStore) ReleaseLease(ctx context.Context, resource, holder string) error {
	query := s.dialect.rebind(`DELETE FROM leases WHERE resource = ? AND holder = ?`)
	_, err := s.db.ExecContext(ctx, query, resource, holder)
	return err
}
