package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"conti/internal/ledger"
	"conti/internal/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	auth := NewAuthenticator("test-secret")
	svc := ledger.NewService(repo, nil)
	srv := NewServer(":0", svc, repo, auth, nil)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)

	token, err := auth.IssueToken("u1")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return ts, token
}

func doJSON(t *testing.T, ts *httptest.Server, token, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestAuthRequired(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, ts, "", http.MethodGet, "/accounts", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp = doJSON(t, ts, "not-a-jwt", http.MethodGet, "/accounts", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s expected 200, got %d", path, resp.StatusCode)
		}
	}
}

func TestCreateAccountAppliesDefaults(t *testing.T) {
	ts, token := newTestServer(t)

	resp := doJSON(t, ts, token, http.MethodPost, "/accounts", map[string]any{
		"name":         "Wallet",
		"balanceCents": 50000,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	acc := decodeBody[accountResponse](t, resp)
	if acc.ID == "" {
		t.Fatalf("expected generated id")
	}
	if acc.Icon != defaultAccountIcon || acc.Color != defaultAccountColor {
		t.Fatalf("expected default icon/color, got %q %q", acc.Icon, acc.Color)
	}
	if acc.Type != "cash" {
		t.Fatalf("expected default type cash, got %q", acc.Type)
	}
	if acc.BalanceCents != 50000 {
		t.Fatalf("expected balance 50000, got %d", acc.BalanceCents)
	}
}

func TestTransactionFlow(t *testing.T) {
	ts, token := newTestServer(t)

	acc := decodeBody[accountResponse](t, doJSON(t, ts, token, http.MethodPost, "/accounts", map[string]any{
		"name": "Wallet", "balanceCents": 50000,
	}))
	cat := decodeBody[categoryResponse](t, doJSON(t, ts, token, http.MethodPost, "/categories", map[string]any{
		"name": "Food", "type": "expense",
	}))

	resp := doJSON(t, ts, token, http.MethodPost, "/transactions", map[string]any{
		"type":        "expense",
		"amountCents": 10000,
		"categoryId":  cat.ID,
		"accountId":   acc.ID,
		"note":        "groceries",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	tx := decodeBody[transactionResponse](t, resp)
	if tx.AmountCents != 10000 || tx.Type != "expense" {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
	if tx.Account == nil || tx.Account.BalanceCents != 40000 {
		t.Fatalf("expected resolved account with balance 40000, got %+v", tx.Account)
	}

	// Balance visible through the accounts collection too.
	accounts := decodeBody[[]accountResponse](t, doJSON(t, ts, token, http.MethodGet, "/accounts", nil))
	if len(accounts) != 1 || accounts[0].BalanceCents != 40000 {
		t.Fatalf("expected account balance 40000, got %+v", accounts)
	}

	// Update the amount; the compensation shows up in the balance.
	resp = doJSON(t, ts, token, http.MethodPut, "/transactions/"+tx.ID, map[string]any{
		"amountCents": 15000,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on update, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	accounts = decodeBody[[]accountResponse](t, doJSON(t, ts, token, http.MethodGet, "/accounts", nil))
	if accounts[0].BalanceCents != 35000 {
		t.Fatalf("expected balance 35000 after raise, got %d", accounts[0].BalanceCents)
	}

	// Delete restores the starting balance.
	resp = doJSON(t, ts, token, http.MethodDelete, "/transactions/"+tx.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	accounts = decodeBody[[]accountResponse](t, doJSON(t, ts, token, http.MethodGet, "/accounts", nil))
	if accounts[0].BalanceCents != 50000 {
		t.Fatalf("expected balance restored to 50000, got %d", accounts[0].BalanceCents)
	}
}

func TestCreateTransactionDecimalAmount(t *testing.T) {
	ts, token := newTestServer(t)

	acc := decodeBody[accountResponse](t, doJSON(t, ts, token, http.MethodPost, "/accounts", map[string]any{
		"name": "Wallet", "balanceCents": 10000,
	}))
	cat := decodeBody[categoryResponse](t, doJSON(t, ts, token, http.MethodPost, "/categories", map[string]any{
		"name": "Food", "type": "expense",
	}))

	resp := doJSON(t, ts, token, http.MethodPost, "/transactions", map[string]any{
		"type":       "expense",
		"amount":     "25,50",
		"categoryId": cat.ID,
		"accountId":  acc.ID,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	tx := decodeBody[transactionResponse](t, resp)
	if tx.AmountCents != 2550 {
		t.Fatalf("expected 2550 cents, got %d", tx.AmountCents)
	}

	resp = doJSON(t, ts, token, http.MethodPost, "/transactions", map[string]any{
		"type":       "expense",
		"amount":     "-3.00",
		"categoryId": cat.ID,
		"accountId":  acc.ID,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for negative amount, got %d", resp.StatusCode)
	}
}

func TestTransactionValidationErrors(t *testing.T) {
	ts, token := newTestServer(t)

	acc := decodeBody[accountResponse](t, doJSON(t, ts, token, http.MethodPost, "/accounts", map[string]any{
		"name": "Wallet",
	}))

	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{
			name: "unknown type",
			body: map[string]any{"type": "refund", "amountCents": 100, "accountId": acc.ID},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "zero amount",
			body: map[string]any{"type": "expense", "amountCents": 0, "accountId": acc.ID},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "transfer to itself",
			body: map[string]any{"type": "transfer", "amountCents": 100, "accountId": acc.ID, "targetAccountId": acc.ID},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "missing account",
			body: map[string]any{"type": "transfer", "amountCents": 100, "accountId": acc.ID, "targetAccountId": "ghost"},
			want: http.StatusNotFound,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doJSON(t, ts, token, http.MethodPost, "/transactions", tc.body)
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}
}

func TestUserIsolation(t *testing.T) {
	ts, token := newTestServer(t)

	acc := decodeBody[accountResponse](t, doJSON(t, ts, token, http.MethodPost, "/accounts", map[string]any{
		"name": "Wallet", "balanceCents": 1000,
	}))

	auth := NewAuthenticator("test-secret")
	otherToken, err := auth.IssueToken("u2")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	// Another user sees an empty collection and cannot delete the account.
	accounts := decodeBody[[]accountResponse](t, doJSON(t, ts, otherToken, http.MethodGet, "/accounts", nil))
	if len(accounts) != 0 {
		t.Fatalf("expected no accounts for other user, got %d", len(accounts))
	}

	resp := doJSON(t, ts, otherToken, http.MethodDelete, "/accounts/"+acc.ID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 deleting foreign account, got %d", resp.StatusCode)
	}
}

func TestSyncEndpoints(t *testing.T) {
	ts, token := newTestServer(t)

	acc := decodeBody[accountResponse](t, doJSON(t, ts, token, http.MethodPost, "/accounts", map[string]any{
		"name": "Wallet", "balanceCents": 10000,
	}))
	cat := decodeBody[categoryResponse](t, doJSON(t, ts, token, http.MethodPost, "/categories", map[string]any{
		"name": "Food", "type": "expense",
	}))
	resp := doJSON(t, ts, token, http.MethodPost, "/transactions", map[string]any{
		"type": "expense", "amountCents": 100, "categoryId": cat.ID, "accountId": acc.ID,
	})
	resp.Body.Close()

	status := decodeBody[statusResponse](t, doJSON(t, ts, token, http.MethodGet, "/sync/status", nil))
	if status.TransactionCount != 1 || status.AccountCount != 1 || status.CategoryCount != 1 {
		t.Fatalf("unexpected status counts: %+v", status)
	}
	if status.ServerTime.IsZero() {
		t.Fatalf("expected server time")
	}

	changes := decodeBody[changesResponse](t, doJSON(t, ts, token, http.MethodGet, "/sync/changes", nil))
	if len(changes.Transactions) != 1 || len(changes.Accounts) != 1 || len(changes.Categories) != 1 {
		t.Fatalf("unexpected changes: %d/%d/%d",
			len(changes.Transactions), len(changes.Accounts), len(changes.Categories))
	}

	resp = doJSON(t, ts, token, http.MethodGet, "/sync/changes?since=not-a-time", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad since, got %d", resp.StatusCode)
	}

	future := doJSON(t, ts, token, http.MethodGet,
		fmt.Sprintf("/sync/changes?since=%s", "2099-01-01T00:00:00Z"), nil)
	empty := decodeBody[changesResponse](t, future)
	if len(empty.Transactions) != 0 || len(empty.Accounts) != 0 || len(empty.Categories) != 0 {
		t.Fatalf("expected empty delta for future cutoff")
	}
}

func TestUnknownFieldsRejected(t *testing.T) {
	ts, token := newTestServer(t)

	resp := doJSON(t, ts, token, http.MethodPost, "/accounts", map[string]any{
		"name":    "Wallet",
		"surpise": true,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.StatusCode)
	}
}
