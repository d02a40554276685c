package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/otcbroker/broker/domain"
)

func (s *SQLStore) AppendEvent(ctx context.Context, event domain.Event) error {
	query := s.dialect.rebind(`INSERT INTO events (id, deal_id, created_at, message) VALUES (?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, uuid.New(), event.DealID, event.Timestamp, event.Message)
	if err != nil {
		return fmt.Errorf("store: append event: %w", err)
	}
	return nil
}

func (s *SQLStore) EventsForDeal(ctx context.Context, dealID uuid.UUID) ([]domain.Event, error) {
	query := s.dialect.rebind(`SELECT deal_id, created_at, message FROM events WHERE deal_id = ? ORDER BY created_at ASC`)
	rows, err := s.db.QueryContext(ctx, query, dealID)
	if err != nil {
		return nil, fmt.Errorf("store: events for deal: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.DealID, &e.Timestamp, &e.Message); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) AppendRecoveryLog(ctx context.Context, entry domain.RecoveryLogEntry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal recovery metadata: %w", err)
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	query := s.dialect.rebind(`
		INSERT INTO recovery_log (id, deal_id, recovery_type, chain_id, action, success, error, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query,
		entry.ID, entry.DealID, entry.RecoveryType, entry.ChainID, entry.Action, entry.Success, entry.Error, metadata, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: append recovery log: %w", err)
	}
	return nil
}
