package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"conti/internal/core"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout is the canonical encoding for all timestamps in the database.
const timeLayout = time.RFC3339Nano

// Repository is the server-side store of record. All balance arithmetic
// happens inside SQL so concurrent ledger mutations on the same account
// cannot lose updates.
type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// ---- accounts ----

func (r *Repository) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	a.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, name, type, balance_cents, icon, color, sort_order, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, a.Type, a.Balance.Cents, a.Icon, a.Color, a.Order,
		now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return core.Account{}, fmt.Errorf("insert account: %w", err)
	}

	slog.InfoContext(ctx, "Account created", "account_id", a.ID, "user_id", a.UserID)
	return a, nil
}

func (r *Repository) UpdateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET name = ?, type = ?, balance_cents = ?, icon = ?, color = ?, sort_order = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		a.Name, a.Type, a.Balance.Cents, a.Icon, a.Color, a.Order, now.Format(timeLayout),
		a.ID, a.UserID)
	if err != nil {
		return core.Account{}, fmt.Errorf("update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Account{}, fmt.Errorf("update account %s: %w", a.ID, core.ErrNotFound)
	}
	a.UpdatedAt = now
	return a, nil
}

func (r *Repository) DeleteAccount(ctx context.Context, id, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete account %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r *Repository) GetAccount(ctx context.Context, id, userID string) (core.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, type, balance_cents, icon, color, sort_order, updated_at
		 FROM accounts WHERE id = ? AND user_id = ?`, id, userID)
	return scanAccount(row)
}

func (r *Repository) ListAccounts(ctx context.Context, userID string) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, name, type, balance_cents, icon, color, sort_order, updated_at
		 FROM accounts WHERE user_id = ? ORDER BY sort_order ASC, name ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (core.Account, error) {
	var a core.Account
	var updatedAt string
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Type, &a.Balance.Cents, &a.Icon, &a.Color, &a.Order, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, core.ErrNotFound
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("scan account: %w", err)
	}
	a.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return a, nil
}

// ---- categories ----

func (r *Repository) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO categories (id, user_id, name, type, icon, color, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, string(c.Type), c.Icon, c.Color,
		now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return core.Category{}, fmt.Errorf("insert category: %w", err)
	}
	return c, nil
}

func (r *Repository) UpdateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE categories SET name = ?, type = ?, icon = ?, color = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		c.Name, string(c.Type), c.Icon, c.Color, now.Format(timeLayout), c.ID, c.UserID)
	if err != nil {
		return core.Category{}, fmt.Errorf("update category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Category{}, fmt.Errorf("update category %s: %w", c.ID, core.ErrNotFound)
	}
	c.UpdatedAt = now
	return c, nil
}

func (r *Repository) DeleteCategory(ctx context.Context, id, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete category %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r *Repository) GetCategory(ctx context.Context, id, userID string) (core.Category, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, type, icon, color, updated_at
		 FROM categories WHERE id = ? AND user_id = ?`, id, userID)
	return scanCategory(row)
}

func (r *Repository) ListCategories(ctx context.Context, userID string) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, name, type, icon, color, updated_at
		 FROM categories WHERE user_id = ? ORDER BY name ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCategory(row rowScanner) (core.Category, error) {
	var c core.Category
	var typ, updatedAt string
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &typ, &c.Icon, &c.Color, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, core.ErrNotFound
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("scan category: %w", err)
	}
	c.Type = core.TransactionType(typ)
	c.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return c, nil
}

// ---- budgets ----

func (r *Repository) CreateBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	b.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO budgets (id, user_id, category_id, amount_cents, period, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.CategoryID, b.Amount.Cents, b.Period,
		now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return core.Budget{}, fmt.Errorf("insert budget: %w", err)
	}
	return b, nil
}

func (r *Repository) UpdateBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE budgets SET category_id = ?, amount_cents = ?, period = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		b.CategoryID, b.Amount.Cents, b.Period, now.Format(timeLayout), b.ID, b.UserID)
	if err != nil {
		return core.Budget{}, fmt.Errorf("update budget: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Budget{}, fmt.Errorf("update budget %s: %w", b.ID, core.ErrNotFound)
	}
	b.UpdatedAt = now
	return b, nil
}

func (r *Repository) DeleteBudget(ctx context.Context, id, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM budgets WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete budget: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete budget %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r *Repository) ListBudgets(ctx context.Context, userID string) ([]core.Budget, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, category_id, amount_cents, period, updated_at
		 FROM budgets WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var out []core.Budget
	for rows.Next() {
		var b core.Budget
		var updatedAt string
		if err := rows.Scan(&b.ID, &b.UserID, &b.CategoryID, &b.Amount.Cents, &b.Period, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		b.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
		out = append(out, b)
	}
	return out, rows.Err()
}

// ---- transactions ----

// TransactionFilter narrows ListTransactions. Zero values mean "no filter".
type TransactionFilter struct {
	Type       core.TransactionType
	CategoryID string
	AccountID  string
	StartDate  time.Time
	EndDate    time.Time
	Limit      int
	Offset     int
}

// TransactionUpdate carries the mutable transaction fields. Nil pointers
// leave the stored value untouched. Type and accounts are immutable.
type TransactionUpdate struct {
	AmountCents *int64
	CategoryID  *string
	Date        *time.Time
	Note        *string
}

func (r *Repository) GetTransaction(ctx context.Context, id, userID string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, type, amount_cents, category_id, account_id, target_account_id, date, note, updated_at
		 FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
	return scanTransaction(row)
}

func (r *Repository) ListTransactions(ctx context.Context, userID string, f TransactionFilter) ([]core.Transaction, error) {
	query := `SELECT id, user_id, type, amount_cents, category_id, account_id, target_account_id, date, note, updated_at
		 FROM transactions WHERE user_id = ?`
	args := []any{userID}

	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(f.Type))
	}
	if f.CategoryID != "" {
		query += ` AND category_id = ?`
		args = append(args, f.CategoryID)
	}
	if f.AccountID != "" {
		query += ` AND account_id = ?`
		args = append(args, f.AccountID)
	}
	if !f.StartDate.IsZero() {
		query += ` AND date >= ?`
		args = append(args, f.StartDate.UTC().Format(timeLayout))
	}
	if !f.EndDate.IsZero() {
		query += ` AND date <= ?`
		args = append(args, f.EndDate.UTC().Format(timeLayout))
	}
	query += ` ORDER BY date DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, f.Offset)
		}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var t core.Transaction
	var typ, date, updatedAt string
	var categoryID, targetAccountID sql.NullString
	err := row.Scan(&t.ID, &t.UserID, &typ, &t.Amount.Cents, &categoryID, &t.AccountID, &targetAccountID, &date, &t.Note, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}
	t.Type = core.TransactionType(typ)
	t.CategoryID = categoryID.String
	t.TargetAccountID = targetAccountID.String
	t.Date, _ = time.Parse(timeLayout, date)
	t.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return t, nil
}

// CreateTransactionTx inserts the transaction row and applies every balance
// effect in one database transaction. Either all writes land or none do.
func (r *Repository) CreateTransactionTx(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, type, amount_cents, category_id, account_id, target_account_id, date, note, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, string(t.Type), t.Amount.Cents,
		nullable(t.CategoryID), t.AccountID, nullable(t.TargetAccountID),
		t.Date.UTC().Format(timeLayout), t.Note,
		now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	for _, eff := range t.Effects() {
		if err := applyEffect(ctx, tx, eff.AccountID, t.UserID, eff.Delta.Cents, now); err != nil {
			return core.Transaction{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return core.Transaction{}, fmt.Errorf("commit transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction recorded",
		"transaction_id", t.ID,
		"type", string(t.Type),
		"amount", t.Amount.String(),
		"account_id", t.AccountID)

	return t, nil
}

// DeleteTransactionTx reverses exactly the stored transaction's balance
// effects and removes the row, all in one database transaction.
func (r *Repository) DeleteTransactionTx(ctx context.Context, id, userID string) (core.Transaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stored, err := scanTransaction(tx.QueryRowContext(ctx,
		`SELECT id, user_id, type, amount_cents, category_id, account_id, target_account_id, date, note, updated_at
		 FROM transactions WHERE id = ? AND user_id = ?`, id, userID))
	if err != nil {
		return core.Transaction{}, err
	}

	now := time.Now().UTC()
	for _, eff := range stored.Effects() {
		if err := applyEffect(ctx, tx, eff.AccountID, userID, -eff.Delta.Cents, now); err != nil {
			return core.Transaction{}, err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id); err != nil {
		return core.Transaction{}, fmt.Errorf("delete transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return core.Transaction{}, fmt.Errorf("commit transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction deleted and balance effects reversed",
		"transaction_id", id,
		"type", string(stored.Type),
		"amount_cents", stored.Amount.Cents)

	return stored, nil
}

// UpdateTransactionTx updates the mutable fields. An amount change applies a
// compensating balance adjustment in the same database transaction so the
// account invariant holds at all times.
func (r *Repository) UpdateTransactionTx(ctx context.Context, id, userID string, upd TransactionUpdate) (core.Transaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stored, err := scanTransaction(tx.QueryRowContext(ctx,
		`SELECT id, user_id, type, amount_cents, category_id, account_id, target_account_id, date, note, updated_at
		 FROM transactions WHERE id = ? AND user_id = ?`, id, userID))
	if err != nil {
		return core.Transaction{}, err
	}

	now := time.Now().UTC()
	updated := stored
	if upd.AmountCents != nil {
		updated.Amount = core.Money{Cents: *upd.AmountCents}
	}
	if upd.CategoryID != nil {
		updated.CategoryID = *upd.CategoryID
	}
	if upd.Date != nil {
		updated.Date = upd.Date.UTC()
	}
	if upd.Note != nil {
		updated.Note = *upd.Note
	}
	updated.UpdatedAt = now

	if err := updated.Validate(); err != nil {
		return core.Transaction{}, err
	}

	// Compensating adjustment: the difference between the new and old
	// amount, applied with the transaction's sign pattern.
	if delta := updated.Amount.Cents - stored.Amount.Cents; delta != 0 {
		switch stored.Type {
		case core.Expense:
			err = applyEffect(ctx, tx, stored.AccountID, userID, -delta, now)
		case core.Income:
			err = applyEffect(ctx, tx, stored.AccountID, userID, delta, now)
		case core.Transfer:
			if err = applyEffect(ctx, tx, stored.AccountID, userID, -delta, now); err == nil {
				err = applyEffect(ctx, tx, stored.TargetAccountID, userID, delta, now)
			}
		}
		if err != nil {
			return core.Transaction{}, err
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE transactions SET amount_cents = ?, category_id = ?, date = ?, note = ?, updated_at = ?
		 WHERE id = ?`,
		updated.Amount.Cents, nullable(updated.CategoryID),
		updated.Date.UTC().Format(timeLayout), updated.Note, now.Format(timeLayout), id)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return core.Transaction{}, fmt.Errorf("commit transaction: %w", err)
	}

	return updated, nil
}

// applyEffect performs the balance mutation as a single atomic arithmetic
// statement, never read-modify-write in application code.
func applyEffect(ctx context.Context, tx *sql.Tx, accountID, userID string, deltaCents int64, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance_cents = balance_cents + ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		deltaCents, now.Format(timeLayout), accountID, userID)
	if err != nil {
		return fmt.Errorf("apply balance effect: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("apply balance effect to account %s: %w", accountID, core.ErrNotFound)
	}
	return nil
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

// ---- sync support ----

// Counts holds per-collection record counts for one user.
type Counts struct {
	Transactions int64
	Accounts     int64
	Categories   int64
}

func (r *Repository) CountsByUser(ctx context.Context, userID string) (Counts, error) {
	var c Counts
	row := r.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM transactions WHERE user_id = ?),
			(SELECT COUNT(*) FROM accounts WHERE user_id = ?),
			(SELECT COUNT(*) FROM categories WHERE user_id = ?)`,
		userID, userID, userID)
	if err := row.Scan(&c.Transactions, &c.Accounts, &c.Categories); err != nil {
		return Counts{}, fmt.Errorf("count records: %w", err)
	}
	return c, nil
}

// ChangedSince returns every record of the user's collections with
// updated_at >= since. The cutoff is applied in SQL; timestamps are stored
// as RFC3339 UTC strings, so the comparison rides the updated_at indexes.
// Used by the delta endpoint; the full-replace download path does not
// consult it.
func (r *Repository) ChangedSince(ctx context.Context, userID string, since time.Time) ([]core.Transaction, []core.Account, []core.Category, error) {
	cutoff := since.UTC().Format(timeLayout)

	txRows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, type, amount_cents, category_id, account_id, target_account_id, date, note, updated_at
		 FROM transactions WHERE user_id = ? AND updated_at >= ? ORDER BY date DESC`,
		userID, cutoff)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("changed transactions: %w", err)
	}
	defer txRows.Close()
	var txs []core.Transaction
	for txRows.Next() {
		t, err := scanTransaction(txRows)
		if err != nil {
			return nil, nil, nil, err
		}
		txs = append(txs, t)
	}
	if err := txRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("changed transactions: %w", err)
	}

	accRows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, name, type, balance_cents, icon, color, sort_order, updated_at
		 FROM accounts WHERE user_id = ? AND updated_at >= ? ORDER BY sort_order ASC, name ASC`,
		userID, cutoff)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("changed accounts: %w", err)
	}
	defer accRows.Close()
	var accounts []core.Account
	for accRows.Next() {
		a, err := scanAccount(accRows)
		if err != nil {
			return nil, nil, nil, err
		}
		accounts = append(accounts, a)
	}
	if err := accRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("changed accounts: %w", err)
	}

	catRows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, name, type, icon, color, updated_at
		 FROM categories WHERE user_id = ? AND updated_at >= ? ORDER BY name ASC`,
		userID, cutoff)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("changed categories: %w", err)
	}
	defer catRows.Close()
	var categories []core.Category
	for catRows.Next() {
		c, err := scanCategory(catRows)
		if err != nil {
			return nil, nil, nil, err
		}
		categories = append(categories, c)
	}
	if err := catRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("changed categories: %w", err)
	}

	return txs, accounts, categories, nil
}
