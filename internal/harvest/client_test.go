package harvest

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/henry-yukit-rp/dhuBot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{BaseURL: srv.URL, Timeout: 2 * time.Second, Logger: testLogger()})
}

func testCreds() domain.Credentials {
	return domain.Credentials{APIToken: "token-1", AccountID: "12345"}
}

func testSubmission() domain.ExpenseSubmission {
	return domain.ExpenseSubmission{
		Category:  domain.CategoryTransportation,
		SpentDate: "2024-05-01",
		Amount:    decimal.RequireFromString("42.50"),
		Notes:     "taxi",
	}
}

func TestAddExpenseSuccess(t *testing.T) {
	var gotAuth, gotAccount string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccount = r.Header.Get("Harvest-Account-ID")

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("project_id"); got != "45414040" {
			t.Errorf("project_id = %s", got)
		}
		if got := r.FormValue("expense_category_id"); got != "4264709" {
			t.Errorf("expense_category_id = %s", got)
		}
		if got := r.FormValue("spent_date"); got != "2024-05-01" {
			t.Errorf("spent_date = %s", got)
		}
		if got := r.FormValue("total_cost"); got != "42.50" {
			t.Errorf("total_cost = %s", got)
		}
		if got := r.FormValue("units"); got != "1" {
			t.Errorf("units = %s", got)
		}
		if got := r.FormValue("billable"); got != "false" {
			t.Errorf("billable = %s", got)
		}

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": 1}`))
	})

	res := c.AddExpense(context.Background(), testCreds(), testSubmission())
	if !res.OK {
		t.Fatalf("expected success, got %+v", res)
	}
	if gotAuth != "Bearer token-1" || gotAccount != "12345" {
		t.Errorf("credentials not sent: auth=%q account=%q", gotAuth, gotAccount)
	}
}

func TestAddExpenseAttachesReceipt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipt.jpg")
	if err := os.WriteFile(path, []byte("jpeg-bytes"), 0o600); err != nil {
		t.Fatal(err)
	}

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		file, header, err := r.FormFile("receipt")
		if err != nil {
			t.Fatalf("receipt part missing: %v", err)
		}
		defer file.Close()
		if header.Filename != "receipt.jpg" {
			t.Errorf("filename = %s", header.Filename)
		}
		w.WriteHeader(http.StatusCreated)
	})

	sub := testSubmission()
	sub.ReceiptPath = path
	if res := c.AddExpense(context.Background(), testCreds(), sub); !res.OK {
		t.Fatalf("expected success, got %+v", res)
	}
}

func TestAddExpenseStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   domain.FailureKind
	}{
		{http.StatusUnauthorized, domain.FailureUnauthorized},
		{http.StatusForbidden, domain.FailureForbidden},
		{http.StatusUnprocessableEntity, domain.FailureValidation},
		{http.StatusTooManyRequests, domain.FailureRateLimited},
		{http.StatusInternalServerError, domain.FailureAPI},
	}
	for _, tc := range cases {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(`{"message":"nope"}`))
		})
		res := c.AddExpense(context.Background(), testCreds(), testSubmission())
		if res.OK {
			t.Errorf("status %d: expected failure", tc.status)
		}
		if res.Kind != tc.kind {
			t.Errorf("status %d: kind = %s, want %s", tc.status, res.Kind, tc.kind)
		}
		if res.Message == "" {
			t.Errorf("status %d: empty message", tc.status)
		}
	}
}

func TestAddExpenseMissingReceiptFile(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be made when the file is gone")
	})

	sub := testSubmission()
	sub.ReceiptPath = filepath.Join(t.TempDir(), "vanished.jpg")
	res := c.AddExpense(context.Background(), testCreds(), sub)
	if res.OK || res.Kind != domain.FailureFileMissing {
		t.Errorf("expected file_missing, got %+v", res)
	}
}

func TestAddExpenseNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := NewClient(ClientConfig{BaseURL: srv.URL, Timeout: time.Second, Logger: testLogger()})
	res := c.AddExpense(context.Background(), testCreds(), testSubmission())
	if res.OK || res.Kind != domain.FailureNetwork {
		t.Errorf("expected network failure, got %+v", res)
	}
}

func TestListExpensesSumsPerCategory(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("project_id"); got != "45414040" {
			t.Errorf("project_id = %s", got)
		}
		w.Write([]byte(`{
			"expenses": [
				{"total_cost": 10.50, "spent_date": "2024-05-02", "expense_category": {"id": 4264709}},
				{"total_cost": 5.25,  "spent_date": "2024-05-03", "expense_category": {"id": 4264709}},
				{"total_cost": 8.00,  "spent_date": "2024-05-04", "expense_category": {"id": 4264710}},
				{"total_cost": 99.00, "spent_date": "2024-05-05", "expense_category": {"id": 111}}
			],
			"next_page": null
		}`))
	})

	totals, err := c.ListExpenses(context.Background(), testCreds(),
		time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatal(err)
	}
	if got := totals.Transportation.StringFixed(2); got != "15.75" {
		t.Errorf("transportation = %s", got)
	}
	if got := totals.Wellness.StringFixed(2); got != "8.00" {
		t.Errorf("wellness = %s", got)
	}
}

func TestListExpensesFollowsPaging(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			w.Write([]byte(`{"expenses":[{"total_cost":1.00,"expense_category":{"id":4264709}}],"next_page":2}`))
			return
		}
		w.Write([]byte(`{"expenses":[{"total_cost":2.00,"expense_category":{"id":4264709}}],"next_page":null}`))
	})

	totals, err := c.ListExpenses(context.Background(), testCreds(), time.Now().AddDate(0, 0, -7), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if got := totals.Transportation.StringFixed(2); got != "3.00" {
		t.Errorf("transportation = %s", got)
	}
}
