package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iliyamo/time-capsule/internal/config"
	"github.com/iliyamo/time-capsule/internal/database"
	"github.com/iliyamo/time-capsule/internal/model"
	"github.com/iliyamo/time-capsule/internal/repository"
	"github.com/iliyamo/time-capsule/internal/utils"
)

const testSecret = "cli-test-secret"

func runCLI(t *testing.T, env map[string]string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommandWith(config.MapLookup(env))
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

// seedDraft writes a pending capsule into a fresh database file.
func seedDraft(t *testing.T) (string, model.Capsule) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capsules.db")
	db, err := database.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	c := &model.Capsule{
		Message:           "hello 2026",
		PhotoURLs:         []string{"https://files/1.jpg", "https://files/2.jpg"},
		UnlockAt:          time.Now().Add(48 * time.Hour),
		ProvisioningToken: "PENDING_1700000000000_0123456789ab",
		Source:            model.SourcePending,
	}
	if err := repository.NewCapsuleRepo(db).Create(context.Background(), c); err != nil {
		t.Fatalf("create: %v", err)
	}
	return path, *c
}

func TestPendingListsDrafts(t *testing.T) {
	path, c := seedDraft(t)

	out, _, err := runCLI(t, nil, "--db", path, "pending", "--older-than=-1m")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	requireContains(t, out, c.ID)
	requireContains(t, out, "PENDING_1700000000000_0123456789ab")

	out, _, err = runCLI(t, nil, "--db", path, "pending", "--older-than", "24h")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	requireContains(t, out, "No pending drafts")
}

func TestShowReportsLockedGate(t *testing.T) {
	path, c := seedDraft(t)

	out, _, err := runCLI(t, nil, "--db", path, "show", c.ID)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, string(model.StateDraftUnconfirmed))
	requireContains(t, out, "locked (")

	if _, _, err := runCLI(t, nil, "--db", path, "show", "missing"); err == nil {
		t.Fatal("expected an error for an unknown capsule")
	}
}

func TestResolveFinalizesOnce(t *testing.T) {
	path, c := seedDraft(t)
	env := map[string]string{"PUBLIC_BASE_URL": "https://capsule.example"}

	out, _, err := runCLI(t, env, "--db", path, "resolve", c.ID, "TX-42")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	requireContains(t, out, "finalized with TX-42")
	requireContains(t, out, "https://capsule.example/v/"+c.ID)

	// replaying the same reference is harmless
	out, _, err = runCLI(t, env, "--db", path, "resolve", c.ID, "TX-42")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	requireContains(t, out, "already finalized with TX-42")

	_, _, err = runCLI(t, env, "--db", path, "resolve", c.ID, "TX-99")
	if err == nil {
		t.Fatal("expected a mismatch for a second reference")
	}
	requireContains(t, err.Error(), "TX-99")
}

func TestTokenCarriesFreeAccessRole(t *testing.T) {
	out, stderr, err := runCLI(t, map[string]string{"JWT_SECRET": testSecret}, "token", "--ttl", "5m")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	requireContains(t, stderr, "expires")

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(strings.TrimSpace(out), claims, func(*jwt.Token) (any, error) {
		return []byte(testSecret), nil
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims["role"] != utils.RoleFreeAccess {
		t.Fatalf("role = %v", claims["role"])
	}

	if _, _, err := runCLI(t, nil, "token"); err == nil {
		t.Fatal("expected an error without JWT_SECRET")
	}
}

func TestHashPassphraseVerifies(t *testing.T) {
	out, _, err := runCLI(t, map[string]string{"BCRYPT_COST": "4"}, "hash-passphrase", "open sesame")
	if err != nil {
		t.Fatalf("hash-passphrase: %v", err)
	}
	if !utils.VerifyPassphrase(strings.TrimSpace(out), "open sesame") {
		t.Fatalf("hash %q does not verify", out)
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"only"}}, []columnAlignment{alignLeft, alignRight})
	requireContains(t, out, "only")
	if renderTable(nil, nil, nil) != "" {
		t.Fatal("expected empty output without headers")
	}
}
