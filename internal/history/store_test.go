package history

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/henry-yukit-rp/dhuBot/internal/domain"

	"github.com/shopspring/decimal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	records := []domain.SubmissionRecord{
		{RequestID: "r1", UserID: "U1", Category: domain.CategoryTransportation, Amount: decimal.NewFromFloat(12.50), Outcome: "submitted", CreatedAt: base},
		{RequestID: "r2", UserID: "U1", Category: domain.CategoryWellness, Amount: decimal.NewFromFloat(8), Outcome: "failed", Message: "validation", CreatedAt: base.Add(time.Hour)},
		{RequestID: "r3", UserID: "U2", Category: domain.CategoryWellness, Amount: decimal.NewFromFloat(5), Outcome: "submitted", CreatedAt: base},
	}
	for _, rec := range records {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record(%s): %v", rec.RequestID, err)
		}
	}

	got, err := s.RecentForUser(ctx, "U1", 10)
	if err != nil {
		t.Fatalf("RecentForUser: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].RequestID != "r2" {
		t.Errorf("newest first: got %s, want r2", got[0].RequestID)
	}
	if got[0].Message != "validation" {
		t.Errorf("message = %q, want %q", got[0].Message, "validation")
	}
	if !got[1].Amount.Equal(decimal.NewFromFloat(12.50)) {
		t.Errorf("amount = %s, want 12.50", got[1].Amount)
	}
	if got[1].Category != domain.CategoryTransportation {
		t.Errorf("category = %s, want transportation", got[1].Category)
	}
}

func TestRecentForUserEmpty(t *testing.T) {
	s := testStore(t)
	got, err := s.RecentForUser(context.Background(), "nobody", 5)
	if err != nil {
		t.Fatalf("RecentForUser: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d records, want 0", len(got))
	}
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	logger := testLogger()

	s, err := Open(path, logger)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	rec := domain.SubmissionRecord{RequestID: "r1", UserID: "U1", Category: domain.CategoryTransportation, Amount: decimal.NewFromInt(3), Outcome: "submitted"}
	if err := s.Record(context.Background(), rec); err != nil {
		t.Fatalf("Record: %v", err)
	}
	s.Close()

	s2, err := Open(path, logger)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s2.Close()

	got, err := s2.RecentForUser(context.Background(), "U1", 5)
	if err != nil {
		t.Fatalf("RecentForUser: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records after reopen, want 1", len(got))
	}
}
