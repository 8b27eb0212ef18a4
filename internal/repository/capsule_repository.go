package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/time-capsule/internal/model"
)

// CapsuleRepo provides access to the capsules table.  Timestamps are stored
// as unix milliseconds so the same statements run on MySQL and SQLite.
type CapsuleRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewCapsuleRepo returns a CapsuleRepo bound to the given database.
func NewCapsuleRepo(db *sql.DB) *CapsuleRepo {
	return &CapsuleRepo{db: db, now: time.Now}
}

// DB exposes the underlying handle for callers that need a transaction.
func (r *CapsuleRepo) DB() *sql.DB { return r.db }

const capsuleColumns = `id, message, audio_url, photo_urls, unlock_at, provisioning_token,
	provisioning_source, payment_ref, created_at, finalized_at`

// Create inserts a new capsule, assigning its ID and CreatedAt.  A capsule
// created with a non-pending source is stamped finalized at creation.
func (r *CapsuleRepo) Create(ctx context.Context, c *model.Capsule) error {
	if len(c.PhotoURLs) > model.MaxPhotos {
		return ErrTooManyPhotos
	}
	if !c.Source.Valid() {
		return fmt.Errorf("invalid provisioning source %q", c.Source)
	}
	if (c.Source == model.SourcePending) != model.IsPendingToken(c.ProvisioningToken) {
		return fmt.Errorf("token %q does not match source %q", c.ProvisioningToken, c.Source)
	}
	photos := c.PhotoURLs
	if photos == nil {
		photos = []string{}
	}
	photosJSON, err := json.Marshal(photos)
	if err != nil {
		return err
	}

	now := r.now().UTC()
	id := uuid.NewString()
	var finalizedAt sql.NullInt64
	if c.Source != model.SourcePending {
		finalizedAt = sql.NullInt64{Int64: now.UnixMilli(), Valid: true}
	}
	const q = `INSERT INTO capsules (id, message, audio_url, photo_urls, unlock_at, provisioning_token,
		provisioning_source, payment_ref, created_at, finalized_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, q,
		id, c.Message, nullString(c.AudioURL), string(photosJSON), c.UnlockAt.UnixMilli(),
		c.ProvisioningToken, string(c.Source), nullString(c.PaymentRef), now.UnixMilli(), finalizedAt)
	if err != nil {
		return err
	}
	c.ID = id
	c.PhotoURLs = photos
	c.CreatedAt = time.UnixMilli(now.UnixMilli()).UTC()
	if finalizedAt.Valid {
		t := c.CreatedAt
		c.FinalizedAt = &t
	}
	return nil
}

// GetByID fetches a capsule.  It returns ErrNotFound when no row matches.
func (r *CapsuleRepo) GetByID(ctx context.Context, id string) (model.Capsule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+capsuleColumns+` FROM capsules WHERE id = ? LIMIT 1`, id)
	c, err := scanCapsule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Capsule{}, ErrNotFound
	}
	return c, err
}

// UpdateProvisioningToken finalizes a pending capsule with the payment
// reference.  The write is guarded on the pending source so at most one
// finalize ever applies; the affected-row count decides the outcome:
//
//   - 1 row:  the capsule is re-read and returned with applied = true.
//   - 0 rows: the capsule is missing (ErrNotFound), was already finalized with
//     the same reference (returned unchanged with applied = false, a replayed
//     callback), or with a different one (ErrAlreadyFinalized).
//
// A reference shaped like a draft token is rejected with ErrInvalidPaymentRef.
func (r *CapsuleRepo) UpdateProvisioningToken(ctx context.Context, id, newToken string) (c model.Capsule, applied bool, err error) {
	if newToken == "" || model.IsPendingToken(newToken) {
		return model.Capsule{}, false, fmt.Errorf("%w: %q", ErrInvalidPaymentRef, newToken)
	}
	const q = `UPDATE capsules SET provisioning_token = ?, provisioning_source = ?, payment_ref = ?, finalized_at = ?
		WHERE id = ? AND provisioning_source = ?`
	res, err := r.db.ExecContext(ctx, q,
		newToken, string(model.SourcePaid), newToken, r.now().UTC().UnixMilli(), id, string(model.SourcePending))
	if err != nil {
		return model.Capsule{}, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return model.Capsule{}, false, err
	}
	c, err = r.GetByID(ctx, id)
	if err != nil {
		return model.Capsule{}, false, err
	}
	if affected == 0 && (c.Source != model.SourcePaid || c.ProvisioningToken != newToken) {
		return c, false, ErrAlreadyFinalized
	}
	return c, affected == 1, nil
}

// ListPending returns drafts created before the cutoff, oldest first.  They
// are abandoned checkouts kept for support lookups; nothing reclaims them.
func (r *CapsuleRepo) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]model.Capsule, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+capsuleColumns+` FROM capsules WHERE provisioning_source = ? AND created_at < ?
		ORDER BY created_at ASC LIMIT ?`,
		string(model.SourcePending), createdBefore.UTC().UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Capsule{}
	for rows.Next() {
		c, err := scanCapsule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCapsule(s scanner) (model.Capsule, error) {
	var (
		c           model.Capsule
		audioURL    sql.NullString
		photosJSON  string
		unlockAt    int64
		source      string
		paymentRef  sql.NullString
		createdAt   int64
		finalizedAt sql.NullInt64
	)
	if err := s.Scan(&c.ID, &c.Message, &audioURL, &photosJSON, &unlockAt, &c.ProvisioningToken,
		&source, &paymentRef, &createdAt, &finalizedAt); err != nil {
		return model.Capsule{}, err
	}
	if err := json.Unmarshal([]byte(photosJSON), &c.PhotoURLs); err != nil {
		return model.Capsule{}, fmt.Errorf("decode photo_urls for %s: %w", c.ID, err)
	}
	if c.PhotoURLs == nil {
		c.PhotoURLs = []string{}
	}
	if audioURL.Valid {
		v := audioURL.String
		c.AudioURL = &v
	}
	if paymentRef.Valid {
		v := paymentRef.String
		c.PaymentRef = &v
	}
	c.Source = model.Source(source)
	c.UnlockAt = time.UnixMilli(unlockAt).UTC()
	c.CreatedAt = time.UnixMilli(createdAt).UTC()
	if finalizedAt.Valid {
		t := time.UnixMilli(finalizedAt.Int64).UTC()
		c.FinalizedAt = &t
	}
	return c, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
