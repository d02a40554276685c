package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/otcbroker/broker/domain"
)

const queueItemColumns = `
	id, deal_id, chain_id, purpose, from_addr, to_addr, asset, amount, phase, seq,
	status, submitted_txid, submitted_at, recovery_attempts, last_recovery_at, recovery_error, created_at`

func scanQueueItem(row interface{ Scan(...interface{}) error }) (domain.QueueItem, error) {
	var it domain.QueueItem
	var amount string
	var submittedTxID sql.NullString
	var submittedAt sql.NullTime
	var lastRecoveryAt sql.NullTime

	if err := row.Scan(
		&it.ID, &it.DealID, &it.ChainID, &it.Purpose, &it.FromAddr, &it.ToAddr, &it.Asset, &amount, &it.Phase, &it.Seq,
		&it.Status, &submittedTxID, &submittedAt, &it.RecoveryAttempts, &lastRecoveryAt, &it.RecoveryError, &it.CreatedAt,
	); err != nil {
		return domain.QueueItem{}, err
	}
	amt, err := domain.ParseAmount(amount)
	if err != nil {
		return domain.QueueItem{}, fmt.Errorf("store: queue item amount: %w", err)
	}
	it.Amount = amt
	if submittedTxID.Valid {
		it.Submitted = &domain.SubmittedTx{TxID: submittedTxID.String, SubmittedAt: submittedAt.Time}
	}
	if lastRecoveryAt.Valid {
		t := lastRecoveryAt.Time
		it.LastRecoveryAt = &t
	}
	return it, nil
}

func (s *SQLStore) CreateQueueItems(ctx context.Context, items []domain.QueueItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := s.dialect.rebind(fmt.Sprintf(`INSERT INTO queue_items (%s) VALUES (?,?,?,?,?,?,?,?,?,?, ?,?,?,?,?,?,?)`, queueItemColumns))
	for _, it := range items {
		var txid interface{}
		var submittedAt interface{}
		if it.Submitted != nil {
			txid = it.Submitted.TxID
			submittedAt = it.Submitted.SubmittedAt
		}
		if _, err := tx.ExecContext(ctx, query,
			it.ID, it.DealID, it.ChainID, it.Purpose, it.FromAddr, it.ToAddr, it.Asset, it.Amount.String(), it.Phase, it.Seq,
			it.Status, txid, submittedAt, it.RecoveryAttempts, nullableTime(it.LastRecoveryAt), it.RecoveryError, it.CreatedAt,
		); err != nil {
			return fmt.Errorf("store: create queue item: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) QueueItemsForDeal(ctx context.Context, dealID uuid.UUID) ([]domain.QueueItem, error) {
	query := s.dialect.rebind(fmt.Sprintf(`SELECT %s FROM queue_items WHERE deal_id = ? ORDER BY phase, seq`, queueItemColumns))
	rows, err := s.db.QueryContext(ctx, query, dealID)
	if err != nil {
		return nil, fmt.Errorf("store: queue items for deal: %w", err)
	}
	defer rows.Close()
	return scanQueueItems(rows)
}

func (s *SQLStore) PendingQueueItems(ctx context.Context) ([]domain.QueueItem, error) {
	query := s.dialect.rebind(fmt.Sprintf(`SELECT %s FROM queue_items WHERE status IN ('PENDING','SUBMITTED') ORDER BY created_at ASC`, queueItemColumns))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: pending queue items: %w", err)
	}
	defer rows.Close()
	return scanQueueItems(rows)
}

func scanQueueItems(rows *sql.Rows) ([]domain.QueueItem, error) {
	var out []domain.QueueItem
	for rows.Next() {
		it, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan queue item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateQueueItem(ctx context.Context, it *domain.QueueItem) error {
	var txid interface{}
	var submittedAt interface{}
	if it.Submitted != nil {
		txid = it.Submitted.TxID
		submittedAt = it.Submitted.SubmittedAt
	}
	query := s.dialect.rebind(`
		UPDATE queue_items SET
			status = ?, submitted_txid = ?, submitted_at = ?,
			recovery_attempts = ?, last_recovery_at = ?, recovery_error = ?
		WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query,
		it.Status, txid, submittedAt, it.RecoveryAttempts, nullableTime(it.LastRecoveryAt), it.RecoveryError, it.ID,
	)
	if err != nil {
		return fmt.Errorf("store: update queue item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
