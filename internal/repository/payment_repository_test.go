package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/iliyamo/time-capsule/internal/model"
	"github.com/iliyamo/time-capsule/internal/repository"
	"github.com/iliyamo/time-capsule/internal/testsupport"
)

func TestPaymentLedgerUpsert(t *testing.T) {
	repo := repository.NewPaymentRepo(testsupport.MustOpenDB(t))
	ctx := context.Background()

	if _, err := repo.Lookup(ctx, "TXN1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
	if err := repo.Record(ctx, "TXN1", model.PaymentRefused); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := repo.Record(ctx, "TXN1", model.PaymentPaid); err != nil {
		t.Fatalf("Record again: %v", err)
	}
	pc, err := repo.Lookup(ctx, "TXN1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if pc.Status != model.PaymentPaid {
		t.Fatalf("status = %q, want paid", pc.Status)
	}
}
