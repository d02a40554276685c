package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/otcbroker/broker/domain"
)

const dealColumns = `
	id, stage, timeout_seconds, collection_deadline, created_at, updated_at, revert_reason,
	alice_chain_id, alice_asset, alice_amount, alice_recipient_addr, alice_payback_addr,
	alice_contact, alice_auth_token, alice_escrow_index, alice_escrow_addr,
	bob_chain_id, bob_asset, bob_amount, bob_recipient_addr, bob_payback_addr,
	bob_contact, bob_auth_token, bob_escrow_index, bob_escrow_addr`

func scanDeal(row interface{ Scan(...interface{}) error }) (*domain.Deal, error) {
	var d domain.Deal
	var aliceAmount, bobAmount string
	var collectionDeadline sql.NullTime
	if err := row.Scan(
		&d.ID, &d.Stage, &d.TimeoutSeconds, &collectionDeadline, &d.CreatedAt, &d.UpdatedAt, &d.RevertReason,
		&d.Alice.ChainID, &d.Alice.Asset, &aliceAmount, &d.Alice.RecipientAddr, &d.Alice.PaybackAddr,
		&d.Alice.Contact, &d.Alice.AuthToken, &d.Alice.Escrow.Index, &d.Alice.Escrow.Address,
		&d.Bob.ChainID, &d.Bob.Asset, &bobAmount, &d.Bob.RecipientAddr, &d.Bob.PaybackAddr,
		&d.Bob.Contact, &d.Bob.AuthToken, &d.Bob.Escrow.Index, &d.Bob.Escrow.Address,
	); err != nil {
		return nil, err
	}
	aa, err := domain.ParseAmount(aliceAmount)
	if err != nil {
		return nil, fmt.Errorf("store: alice amount: %w", err)
	}
	ba, err := domain.ParseAmount(bobAmount)
	if err != nil {
		return nil, fmt.Errorf("store: bob amount: %w", err)
	}
	d.Alice.Amount = aa
	d.Bob.Amount = ba
	d.Alice.Escrow.ChainID = d.Alice.ChainID
	d.Bob.Escrow.ChainID = d.Bob.ChainID
	if collectionDeadline.Valid {
		t := collectionDeadline.Time
		d.CollectionDeadline = &t
	}
	return &d, nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (s *SQLStore) CreateDeal(ctx context.Context, d *domain.Deal) error {
	query := s.dialect.rebind(fmt.Sprintf(`INSERT INTO deals (%s) VALUES (?,?,?,?,?,?,?, ?,?,?,?,?,?,?,?,?, ?,?,?,?,?,?,?,?,?)`, dealColumns))
	_, err := s.db.ExecContext(ctx, query,
		d.ID, d.Stage, d.TimeoutSeconds, nullableTime(d.CollectionDeadline), d.CreatedAt, d.UpdatedAt, d.RevertReason,
		d.Alice.ChainID, d.Alice.Asset, d.Alice.Amount.String(), d.Alice.RecipientAddr, d.Alice.PaybackAddr,
		d.Alice.Contact, d.Alice.AuthToken, d.Alice.Escrow.Index, d.Alice.Escrow.Address,
		d.Bob.ChainID, d.Bob.Asset, d.Bob.Amount.String(), d.Bob.RecipientAddr, d.Bob.PaybackAddr,
		d.Bob.Contact, d.Bob.AuthToken, d.Bob.Escrow.Index, d.Bob.Escrow.Address,
	)
	if err != nil {
		return fmt.Errorf("store: create deal: %w", err)
	}
	return nil
}

func (s *SQLStore) GetDeal(ctx context.Context, id uuid.UUID) (*domain.Deal, error) {
	query := s.dialect.rebind(fmt.Sprintf(`SELECT %s FROM deals WHERE id = ?`, dealColumns))
	row := s.db.QueryRowContext(ctx, query, id)
	d, err := scanDeal(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get deal: %w", err)
	}
	return d, nil
}

func (s *SQLStore) UpdateDeal(ctx context.Context, d *domain.Deal) error {
	query := s.dialect.rebind(`
		UPDATE deals SET
			stage = ?, timeout_seconds = ?, collection_deadline = ?, updated_at = ?, revert_reason = ?,
			alice_recipient_addr = ?, alice_payback_addr = ?, alice_contact = ?,
			bob_recipient_addr = ?, bob_payback_addr = ?, bob_contact = ?
		WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query,
		d.Stage, d.TimeoutSeconds, nullableTime(d.CollectionDeadline), d.UpdatedAt, d.RevertReason,
		d.Alice.RecipientAddr, d.Alice.PaybackAddr, d.Alice.Contact,
		d.Bob.RecipientAddr, d.Bob.PaybackAddr, d.Bob.Contact,
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("store: update deal: %w", err)
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

func (s *SQLStore) DealsByStage(ctx context.Context, stage domain.Stage) ([]*domain.Deal, error) {
	query := s.dialect.rebind(fmt.Sprintf(`SELECT %s FROM deals WHERE stage = ? ORDER BY created_at ASC`, dealColumns))
	rows, err := s.db.QueryContext(ctx, query, stage)
	if err != nil {
		return nil, fmt.Errorf("store: deals by stage: %w", err)
	}
	defer rows.Close()
	return scanDeals(rows)
}

func (s *SQLStore) StaleCollecting(ctx context.Context, now time.Time) ([]*domain.Deal, error) {
	query := s.dialect.rebind(fmt.Sprintf(
		`SELECT %s FROM deals WHERE stage IN ('CREATED','COLLECTION') AND collection_deadline IS NOT NULL AND collection_deadline < ? ORDER BY collection_deadline ASC`,
		dealColumns))
	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("store: stale collecting: %w", err)
	}
	defer rows.Close()
	return scanDeals(rows)
}

func scanDeals(rows *sql.Rows) ([]*domain.Deal, error) {
	var out []*domain.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan deal: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
