package vault

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testVault(t *testing.T) *Vault {
	t.Helper()
	path := filepath.Join(t.TempDir(), "harvest-config.json")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return New(path, NewCipher("test-secret"), logger)
}

func TestPutGetRoundTrip(t *testing.T) {
	v := testVault(t)

	if err := v.Put("U123", "token-abc", "9876543"); err != nil {
		t.Fatal(err)
	}

	creds, ok, err := v.Get("U123")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected credentials for U123")
	}
	if creds.APIToken != "token-abc" || creds.AccountID != "9876543" {
		t.Errorf("unexpected credentials: %+v", creds)
	}
	if creds.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set")
	}
}

func TestGetAbsentUserIsNormal(t *testing.T) {
	v := testVault(t)
	_, ok, err := v.Get("U404")
	if err != nil {
		t.Fatalf("absence must not be an error: %v", err)
	}
	if ok {
		t.Error("expected ok=false for unknown user")
	}
}

func TestStoredFieldsAreEncrypted(t *testing.T) {
	v := testVault(t)
	if err := v.Put("U123", "token-abc", "9876543"); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(v.path)
	if err != nil {
		t.Fatal(err)
	}
	stored := map[string]record{}
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatal(err)
	}
	rec := stored["U123"]
	if !IsEncrypted(rec.APIToken) || !IsEncrypted(rec.AccountID) {
		t.Errorf("fields must be encrypted at rest: %+v", rec)
	}
}

func TestMigrateLegacyIdempotent(t *testing.T) {
	v := testVault(t)

	// Seed a legacy plaintext document directly.
	legacy := map[string]record{
		"U1": {APIToken: "plain-token", AccountID: "111"},
		"U2": {APIToken: "plain-token-2", AccountID: "222"},
	}
	data, _ := json.MarshalIndent(legacy, "", "  ")
	if err := os.WriteFile(v.path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	n, err := v.MigrateLegacy()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 migrated entries, got %d", n)
	}

	afterFirst, err := os.ReadFile(v.path)
	if err != nil {
		t.Fatal(err)
	}

	// Second run must change nothing.
	n, err = v.MigrateLegacy()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second run should migrate nothing, got %d", n)
	}
	afterSecond, err := os.ReadFile(v.path)
	if err != nil {
		t.Fatal(err)
	}
	if string(afterFirst) != string(afterSecond) {
		t.Error("second migration run must leave the file unchanged")
	}

	// Credentials still readable through the normal path.
	creds, ok, err := v.Get("U1")
	if err != nil || !ok {
		t.Fatalf("Get after migration: ok=%v err=%v", ok, err)
	}
	if creds.APIToken != "plain-token" || creds.AccountID != "111" {
		t.Errorf("migrated credentials corrupted: %+v", creds)
	}
}

func TestGetLegacyPlaintextBeforeMigration(t *testing.T) {
	v := testVault(t)
	legacy := map[string]record{"U1": {APIToken: "plain", AccountID: "42"}}
	data, _ := json.Marshal(legacy)
	if err := os.WriteFile(v.path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	creds, ok, err := v.Get("U1")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if creds.APIToken != "plain" {
		t.Errorf("legacy plaintext should read through, got %q", creds.APIToken)
	}
}

func TestMissingFileIsEmptyStore(t *testing.T) {
	v := testVault(t)
	_, ok, err := v.Get("anyone")
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if ok {
		t.Error("expected no credentials from a missing file")
	}
	if n, err := v.MigrateLegacy(); err != nil || n != 0 {
		t.Errorf("migration on missing file: n=%d err=%v", n, err)
	}
}
