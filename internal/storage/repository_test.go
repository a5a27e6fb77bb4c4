package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"conti/internal/core"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func mustCreateAccount(t *testing.T, repo *Repository, userID, name string, balanceCents int64) core.Account {
	t.Helper()
	a, err := repo.CreateAccount(context.Background(), core.Account{
		Name:    name,
		Type:    "cash",
		Balance: core.Money{Cents: balanceCents},
		UserID:  userID,
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return a
}

func mustCreateCategory(t *testing.T, repo *Repository, userID, name string, typ core.TransactionType) core.Category {
	t.Helper()
	c, err := repo.CreateCategory(context.Background(), core.Category{
		Name:   name,
		Type:   typ,
		UserID: userID,
	})
	if err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}
	return c
}

func balance(t *testing.T, repo *Repository, userID, accountID string) int64 {
	t.Helper()
	a, err := repo.GetAccount(context.Background(), accountID, userID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	return a.Balance.Cents
}

func TestCreateTransactionAppliesEffects(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	acc := mustCreateAccount(t, repo, "u1", "Wallet", 50000)
	cat := mustCreateCategory(t, repo, "u1", "Food", core.Expense)

	_, err := repo.CreateTransactionTx(ctx, core.Transaction{
		Type:       core.Expense,
		Amount:     core.Money{Cents: 10000},
		CategoryID: cat.ID,
		AccountID:  acc.ID,
		Date:       time.Now().UTC(),
		UserID:     "u1",
	})
	if err != nil {
		t.Fatalf("CreateTransactionTx: %v", err)
	}

	if got := balance(t, repo, "u1", acc.ID); got != 40000 {
		t.Fatalf("expected balance 40000 after expense, got %d", got)
	}
}

func TestTransferMovesBothBalances(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	src := mustCreateAccount(t, repo, "u1", "Checking", 35000)
	dst := mustCreateAccount(t, repo, "u1", "Savings", 20000)

	_, err := repo.CreateTransactionTx(ctx, core.Transaction{
		Type:            core.Transfer,
		Amount:          core.Money{Cents: 5000},
		AccountID:       src.ID,
		TargetAccountID: dst.ID,
		Date:            time.Now().UTC(),
		UserID:          "u1",
	})
	if err != nil {
		t.Fatalf("CreateTransactionTx: %v", err)
	}

	if got := balance(t, repo, "u1", src.ID); got != 30000 {
		t.Fatalf("expected source 30000, got %d", got)
	}
	if got := balance(t, repo, "u1", dst.ID); got != 25000 {
		t.Fatalf("expected target 25000, got %d", got)
	}
}

func TestTransferToMissingAccountLeavesSourceUntouched(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	src := mustCreateAccount(t, repo, "u1", "Checking", 10000)

	_, err := repo.CreateTransactionTx(ctx, core.Transaction{
		Type:            core.Transfer,
		Amount:          core.Money{Cents: 5000},
		AccountID:       src.ID,
		TargetAccountID: "nope",
		Date:            time.Now().UTC(),
		UserID:          "u1",
	})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// The whole database transaction rolled back, including the source debit.
	if got := balance(t, repo, "u1", src.ID); got != 10000 {
		t.Fatalf("expected source untouched at 10000, got %d", got)
	}
}

func TestDeleteTransactionReversesEffects(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	src := mustCreateAccount(t, repo, "u1", "Checking", 40000)
	dst := mustCreateAccount(t, repo, "u1", "Savings", 20000)

	tx, err := repo.CreateTransactionTx(ctx, core.Transaction{
		Type:            core.Transfer,
		Amount:          core.Money{Cents: 5000},
		AccountID:       src.ID,
		TargetAccountID: dst.ID,
		Date:            time.Now().UTC(),
		UserID:          "u1",
	})
	if err != nil {
		t.Fatalf("CreateTransactionTx: %v", err)
	}

	if _, err := repo.DeleteTransactionTx(ctx, tx.ID, "u1"); err != nil {
		t.Fatalf("DeleteTransactionTx: %v", err)
	}

	if got := balance(t, repo, "u1", src.ID); got != 40000 {
		t.Fatalf("expected source restored to 40000, got %d", got)
	}
	if got := balance(t, repo, "u1", dst.ID); got != 20000 {
		t.Fatalf("expected target restored to 20000, got %d", got)
	}

	if _, err := repo.GetTransaction(ctx, tx.ID, "u1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected transaction gone, got %v", err)
	}
}

func TestDeleteTransactionWrongUser(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	acc := mustCreateAccount(t, repo, "u1", "Wallet", 10000)
	cat := mustCreateCategory(t, repo, "u1", "Food", core.Expense)

	tx, err := repo.CreateTransactionTx(ctx, core.Transaction{
		Type:       core.Expense,
		Amount:     core.Money{Cents: 1000},
		CategoryID: cat.ID,
		AccountID:  acc.ID,
		Date:       time.Now().UTC(),
		UserID:     "u1",
	})
	if err != nil {
		t.Fatalf("CreateTransactionTx: %v", err)
	}

	if _, err := repo.DeleteTransactionTx(ctx, tx.ID, "u2"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign user, got %v", err)
	}
	if got := balance(t, repo, "u1", acc.ID); got != 9000 {
		t.Fatalf("expected balance unchanged at 9000, got %d", got)
	}
}

func TestUpdateTransactionAmountCompensates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	acc := mustCreateAccount(t, repo, "u1", "Wallet", 50000)
	cat := mustCreateCategory(t, repo, "u1", "Food", core.Expense)

	tx, err := repo.CreateTransactionTx(ctx, core.Transaction{
		Type:       core.Expense,
		Amount:     core.Money{Cents: 10000},
		CategoryID: cat.ID,
		AccountID:  acc.ID,
		Date:       time.Now().UTC(),
		UserID:     "u1",
	})
	if err != nil {
		t.Fatalf("CreateTransactionTx: %v", err)
	}
	if got := balance(t, repo, "u1", acc.ID); got != 40000 {
		t.Fatalf("expected 40000 after expense, got %d", got)
	}

	// Raise the expense from 100.00 to 150.00; balance drops another 5000.
	newAmount := int64(15000)
	updated, err := repo.UpdateTransactionTx(ctx, tx.ID, "u1", TransactionUpdate{AmountCents: &newAmount})
	if err != nil {
		t.Fatalf("UpdateTransactionTx: %v", err)
	}
	if updated.Amount.Cents != 15000 {
		t.Fatalf("expected updated amount 15000, got %d", updated.Amount.Cents)
	}
	if got := balance(t, repo, "u1", acc.ID); got != 35000 {
		t.Fatalf("expected 35000 after raise, got %d", got)
	}

	// Lower it back to 50.00; balance recovers.
	newAmount = 5000
	if _, err := repo.UpdateTransactionTx(ctx, tx.ID, "u1", TransactionUpdate{AmountCents: &newAmount}); err != nil {
		t.Fatalf("UpdateTransactionTx: %v", err)
	}
	if got := balance(t, repo, "u1", acc.ID); got != 45000 {
		t.Fatalf("expected 45000 after lowering, got %d", got)
	}
}

func TestUpdateTransferAmountCompensatesBothLegs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	src := mustCreateAccount(t, repo, "u1", "Checking", 30000)
	dst := mustCreateAccount(t, repo, "u1", "Savings", 0)

	tx, err := repo.CreateTransactionTx(ctx, core.Transaction{
		Type:            core.Transfer,
		Amount:          core.Money{Cents: 10000},
		AccountID:       src.ID,
		TargetAccountID: dst.ID,
		Date:            time.Now().UTC(),
		UserID:          "u1",
	})
	if err != nil {
		t.Fatalf("CreateTransactionTx: %v", err)
	}

	newAmount := int64(4000)
	if _, err := repo.UpdateTransactionTx(ctx, tx.ID, "u1", TransactionUpdate{AmountCents: &newAmount}); err != nil {
		t.Fatalf("UpdateTransactionTx: %v", err)
	}

	if got := balance(t, repo, "u1", src.ID); got != 26000 {
		t.Fatalf("expected source 26000, got %d", got)
	}
	if got := balance(t, repo, "u1", dst.ID); got != 4000 {
		t.Fatalf("expected target 4000, got %d", got)
	}
}

func TestListTransactionsFilters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	acc := mustCreateAccount(t, repo, "u1", "Wallet", 100000)
	food := mustCreateCategory(t, repo, "u1", "Food", core.Expense)
	salary := mustCreateCategory(t, repo, "u1", "Salary", core.Income)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fixtures := []core.Transaction{
		{Type: core.Expense, Amount: core.Money{Cents: 100}, CategoryID: food.ID, AccountID: acc.ID, Date: base, UserID: "u1"},
		{Type: core.Expense, Amount: core.Money{Cents: 200}, CategoryID: food.ID, AccountID: acc.ID, Date: base.AddDate(0, 0, 1), UserID: "u1"},
		{Type: core.Income, Amount: core.Money{Cents: 300}, CategoryID: salary.ID, AccountID: acc.ID, Date: base.AddDate(0, 0, 2), UserID: "u1"},
	}
	for _, f := range fixtures {
		if _, err := repo.CreateTransactionTx(ctx, f); err != nil {
			t.Fatalf("CreateTransactionTx: %v", err)
		}
	}

	all, err := repo.ListTransactions(ctx, "u1", TransactionFilter{})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(all))
	}
	// Newest first
	if all[0].Amount.Cents != 300 {
		t.Fatalf("expected newest first, got amount %d", all[0].Amount.Cents)
	}

	expenses, err := repo.ListTransactions(ctx, "u1", TransactionFilter{Type: core.Expense})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(expenses) != 2 {
		t.Fatalf("expected 2 expenses, got %d", len(expenses))
	}

	limited, err := repo.ListTransactions(ctx, "u1", TransactionFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(limited) != 1 || limited[0].Amount.Cents != 200 {
		t.Fatalf("expected the middle transaction, got %+v", limited)
	}

	ranged, err := repo.ListTransactions(ctx, "u1", TransactionFilter{
		StartDate: base.AddDate(0, 0, 1),
		EndDate:   base.AddDate(0, 0, 1),
	})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(ranged) != 1 || ranged[0].Amount.Cents != 200 {
		t.Fatalf("expected one transaction in range, got %+v", ranged)
	}

	other, err := repo.ListTransactions(ctx, "u2", TransactionFilter{})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected no transactions for other user, got %d", len(other))
	}
}

func TestAccountOrdering(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.CreateAccount(ctx, core.Account{Name: "Zeta", Order: 0, UserID: "u1"}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if _, err := repo.CreateAccount(ctx, core.Account{Name: "Alpha", Order: 2, UserID: "u1"}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if _, err := repo.CreateAccount(ctx, core.Account{Name: "Beta", Order: 0, UserID: "u1"}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	accounts, err := repo.ListAccounts(ctx, "u1")
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	var names []string
	for _, a := range accounts {
		names = append(names, a.Name)
	}
	want := []string{"Beta", "Zeta", "Alpha"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, names)
		}
	}
}

func TestCountsByUser(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	acc := mustCreateAccount(t, repo, "u1", "Wallet", 10000)
	cat := mustCreateCategory(t, repo, "u1", "Food", core.Expense)
	mustCreateAccount(t, repo, "u2", "Other", 0)

	if _, err := repo.CreateTransactionTx(ctx, core.Transaction{
		Type: core.Expense, Amount: core.Money{Cents: 100},
		CategoryID: cat.ID, AccountID: acc.ID,
		Date: time.Now().UTC(), UserID: "u1",
	}); err != nil {
		t.Fatalf("CreateTransactionTx: %v", err)
	}

	counts, err := repo.CountsByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("CountsByUser: %v", err)
	}
	if counts.Transactions != 1 || counts.Accounts != 1 || counts.Categories != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestChangedSince(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	mustCreateAccount(t, repo, "u1", "Wallet", 0)
	cutoff := time.Now().UTC().Add(time.Second)

	_, accounts, _, err := repo.ChangedSince(ctx, "u1", time.Time{})
	if err != nil {
		t.Fatalf("ChangedSince: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("expected full snapshot with 1 account, got %d", len(accounts))
	}

	_, accounts, _, err = repo.ChangedSince(ctx, "u1", cutoff)
	if err != nil {
		t.Fatalf("ChangedSince: %v", err)
	}
	if len(accounts) != 0 {
		t.Fatalf("expected no accounts changed after cutoff, got %d", len(accounts))
	}
}
