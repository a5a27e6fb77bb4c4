package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Expense  TransactionType = "expense"
	Income   TransactionType = "income"
	Transfer TransactionType = "transfer"
)

const (
	StatusSynced   SyncStatus = "synced"
	StatusPending  SyncStatus = "pending"
	StatusConflict SyncStatus = "conflict" // declared for divergent state, never set by current reconciliation
)

const (
	EntityTransaction EntityType = "transactions"
	EntityAccount     EntityType = "accounts"
	EntityCategory    EntityType = "categories"
)

type (
	// TransactionType discriminates the three movement kinds.
	TransactionType string

	// SyncStatus tracks whether a local record has been acknowledged by the server.
	SyncStatus string

	// EntityType names a syncable collection.
	EntityType string

	Money struct {
		Cents int64
	}

	Account struct {
		ID        string
		Name      string
		Type      string // cash, bank, credit, ...
		Balance   Money
		Icon      string
		Color     string
		Order     int
		UserID    string
		UpdatedAt time.Time
	}

	Category struct {
		ID        string
		Name      string
		Type      TransactionType // expense or income
		Icon      string
		Color     string
		UserID    string
		UpdatedAt time.Time
	}

	Transaction struct {
		ID              string
		Type            TransactionType
		Amount          Money // always positive; the sign lives in the effect
		CategoryID      string
		AccountID       string
		TargetAccountID string
		Date            time.Time
		Note            string
		UserID          string
		UpdatedAt       time.Time

		// Resolved references, attached by the ledger on reads.
		Category      *Category
		Account       *Account
		TargetAccount *Account
	}

	Budget struct {
		ID         string
		CategoryID string
		Amount     Money
		Period     string // monthly or yearly
		UserID     string
		UpdatedAt  time.Time
	}

	// BalanceEffect is one signed delta a transaction applies to an account.
	BalanceEffect struct {
		AccountID string
		Delta     Money
	}
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidType       = errors.New("invalid transaction type")
	ErrMissingAccount    = errors.New("missing account")
	ErrMissingCategory   = errors.New("missing category")
	ErrCategoryForbidden = errors.New("category not allowed on transfer")
	ErrTargetRequired    = errors.New("target account required for transfer")
	ErrTargetForbidden   = errors.New("target account only allowed on transfer")
	ErrSameAccount       = errors.New("transfer accounts must differ")
	ErrInvalidDate       = errors.New("invalid date")
	ErrEmptyName         = errors.New("empty name")
	ErrNotFound          = errors.New("not found")
)

// Valid reports whether t is one of the three known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case Expense, Income, Transfer:
		return true
	}
	return false
}

// Valid reports whether e names a syncable collection.
func (e EntityType) Valid() bool {
	switch e {
	case EntityTransaction, EntityAccount, EntityCategory:
		return true
	}
	return false
}

func (m Money) Neg() Money { return Money{Cents: -m.Cents} }

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }

// Validate checks a transaction amount, which must be strictly positive.
func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (t Transaction) Validate() error {
	if !t.Type.Valid() {
		return ErrInvalidType
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.AccountID) == "" {
		return ErrMissingAccount
	}
	if t.Date.IsZero() {
		return ErrInvalidDate
	}
	switch t.Type {
	case Transfer:
		if strings.TrimSpace(t.TargetAccountID) == "" {
			return ErrTargetRequired
		}
		if t.TargetAccountID == t.AccountID {
			return ErrSameAccount
		}
		if t.CategoryID != "" {
			return ErrCategoryForbidden
		}
	default:
		if t.TargetAccountID != "" {
			return ErrTargetForbidden
		}
		if strings.TrimSpace(t.CategoryID) == "" {
			return ErrMissingCategory
		}
	}
	return nil
}

// Effects returns the signed balance deltas this transaction applies.
// Deleting the transaction must apply exactly the negation of each.
func (t Transaction) Effects() []BalanceEffect {
	switch t.Type {
	case Expense:
		return []BalanceEffect{{AccountID: t.AccountID, Delta: t.Amount.Neg()}}
	case Income:
		return []BalanceEffect{{AccountID: t.AccountID, Delta: t.Amount}}
	case Transfer:
		return []BalanceEffect{
			{AccountID: t.AccountID, Delta: t.Amount.Neg()},
			{AccountID: t.TargetAccountID, Delta: t.Amount},
		}
	}
	return nil
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return ErrEmptyName
	}
	if len(a.Name) > 100 {
		return errors.New("name too long (max 100 characters)")
	}
	return nil
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	if c.Type != Expense && c.Type != Income {
		return ErrInvalidType
	}
	return nil
}

func (b Budget) Validate() error {
	if strings.TrimSpace(b.CategoryID) == "" {
		return ErrMissingCategory
	}
	if err := b.Amount.Validate(); err != nil {
		return err
	}
	switch b.Period {
	case "monthly", "yearly":
	default:
		return errors.New("invalid budget period")
	}
	return nil
}
