package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/time-capsule/internal/model"
)

// PaymentRepo stores gateway notifications in the payment_confirmations
// ledger.  The ledger only feeds the ledger verifier; capsules are never
// finalized from here.
type PaymentRepo struct{ DB *sql.DB }

func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{DB: db} }

// Record upserts the status of a payment reference.  The update-then-insert
// pair avoids the dialect-specific upsert syntax of MySQL and SQLite.
func (r *PaymentRepo) Record(ctx context.Context, ref string, status model.PaymentStatus) error {
	now := time.Now().UTC().UnixMilli()
	res, err := r.DB.ExecContext(ctx,
		"UPDATE payment_confirmations SET status=?, received_at=? WHERE payment_ref=?",
		string(status), now, ref)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	_, err = r.DB.ExecContext(ctx,
		"INSERT INTO payment_confirmations (payment_ref, status, received_at) VALUES (?,?,?)",
		ref, string(status), now)
	return err
}

// Lookup returns the recorded confirmation for ref, or sql.ErrNoRows.
func (r *PaymentRepo) Lookup(ctx context.Context, ref string) (model.PaymentConfirmation, error) {
	var (
		pc         model.PaymentConfirmation
		status     string
		receivedAt int64
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT payment_ref, status, received_at FROM payment_confirmations WHERE payment_ref=? LIMIT 1",
		ref).Scan(&pc.PaymentRef, &status, &receivedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pc, sql.ErrNoRows
		}
		return pc, err
	}
	pc.Status = model.PaymentStatus(status)
	pc.ReceivedAt = time.UnixMilli(receivedAt).UTC()
	return pc, nil
}
