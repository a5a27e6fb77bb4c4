// Package ledger is the sole authority over account balances. Every balance
// mutation happens as a side effect of creating, updating or deleting a
// transaction, atomically with the record write.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"conti/internal/core"
	"conti/internal/events"
	"conti/internal/storage"
)

// Publisher sends change notifications after a committed mutation. A nil
// publisher disables notifications; publish failures never fail the request.
type Publisher interface {
	PublishLedgerEvent(ctx context.Context, event *events.LedgerEvent) error
}

// Service implements the ledger operations on top of the repository's
// atomic primitives.
type Service struct {
	repo      *storage.Repository
	publisher Publisher
}

func NewService(repo *storage.Repository, publisher Publisher) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
	}
}

// CreateTransaction validates the movement, applies its balance effects
// atomically with the record insertion, and returns the persisted record
// with resolved references attached.
func (s *Service) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}

	// Ownership checks happen before the write so a transfer whose second
	// leg would fail leaves both balances untouched.
	if _, err := s.repo.GetAccount(ctx, t.AccountID, t.UserID); err != nil {
		return core.Transaction{}, fmt.Errorf("source account %s: %w", t.AccountID, err)
	}
	if t.Type == core.Transfer {
		if _, err := s.repo.GetAccount(ctx, t.TargetAccountID, t.UserID); err != nil {
			return core.Transaction{}, fmt.Errorf("target account %s: %w", t.TargetAccountID, err)
		}
	} else {
		if _, err := s.repo.GetCategory(ctx, t.CategoryID, t.UserID); err != nil {
			return core.Transaction{}, fmt.Errorf("category %s: %w", t.CategoryID, err)
		}
	}

	created, err := s.repo.CreateTransactionTx(ctx, t)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	s.publish(ctx, events.KindTransactionCreated, created.UserID, created.ID)

	resolved, err := s.resolve(ctx, created.UserID, []core.Transaction{created})
	if err != nil {
		// The write committed; resolution is best effort.
		slog.WarnContext(ctx, "Failed to resolve transaction references", "transaction_id", created.ID, "error", err)
		return created, nil
	}
	return resolved[0], nil
}

// UpdateTransaction changes amount, category, date or note. Type and
// accounts are immutable. An amount change applies a compensating balance
// adjustment atomically with the update.
func (s *Service) UpdateTransaction(ctx context.Context, userID, id string, upd storage.TransactionUpdate) (core.Transaction, error) {
	if upd.CategoryID != nil && *upd.CategoryID != "" {
		if _, err := s.repo.GetCategory(ctx, *upd.CategoryID, userID); err != nil {
			return core.Transaction{}, fmt.Errorf("category %s: %w", *upd.CategoryID, err)
		}
	}

	updated, err := s.repo.UpdateTransactionTx(ctx, id, userID, upd)
	if err != nil {
		return core.Transaction{}, err
	}

	s.publish(ctx, events.KindTransactionUpdated, userID, id)

	resolved, err := s.resolve(ctx, userID, []core.Transaction{updated})
	if err != nil {
		slog.WarnContext(ctx, "Failed to resolve transaction references", "transaction_id", id, "error", err)
		return updated, nil
	}
	return resolved[0], nil
}

// DeleteTransaction reverses exactly the stored record's balance effects and
// removes it. Returns core.ErrNotFound if the record does not exist or is
// not owned by the caller.
func (s *Service) DeleteTransaction(ctx context.Context, userID, id string) error {
	if _, err := s.repo.DeleteTransactionTx(ctx, id, userID); err != nil {
		return err
	}

	s.publish(ctx, events.KindTransactionDeleted, userID, id)
	return nil
}

func (s *Service) GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error) {
	t, err := s.repo.GetTransaction(ctx, id, userID)
	if err != nil {
		return core.Transaction{}, err
	}
	resolved, err := s.resolve(ctx, userID, []core.Transaction{t})
	if err != nil {
		return t, nil
	}
	return resolved[0], nil
}

func (s *Service) ListTransactions(ctx context.Context, userID string, f storage.TransactionFilter) ([]core.Transaction, error) {
	txs, err := s.repo.ListTransactions(ctx, userID, f)
	if err != nil {
		return nil, err
	}
	return s.resolve(ctx, userID, txs)
}

// resolve attaches category and account references to each transaction.
func (s *Service) resolve(ctx context.Context, userID string, txs []core.Transaction) ([]core.Transaction, error) {
	if len(txs) == 0 {
		return txs, nil
	}

	accounts, err := s.repo.ListAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve accounts: %w", err)
	}
	categories, err := s.repo.ListCategories(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve categories: %w", err)
	}

	accByID := make(map[string]*core.Account, len(accounts))
	for i := range accounts {
		accByID[accounts[i].ID] = &accounts[i]
	}
	catByID := make(map[string]*core.Category, len(categories))
	for i := range categories {
		catByID[categories[i].ID] = &categories[i]
	}

	for i := range txs {
		txs[i].Account = accByID[txs[i].AccountID]
		txs[i].TargetAccount = accByID[txs[i].TargetAccountID]
		txs[i].Category = catByID[txs[i].CategoryID]
	}
	return txs, nil
}

func (s *Service) publish(ctx context.Context, kind, userID, transactionID string) {
	if s.publisher == nil {
		return
	}
	event := events.NewLedgerEvent(kind, userID, string(core.EntityTransaction), transactionID)
	if err := s.publisher.PublishLedgerEvent(ctx, event); err != nil {
		// The ledger write already committed, losing a notification is
		// recoverable: clients resync on their own schedule.
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"kind", kind,
			"transaction_id", transactionID,
			"error", err)
	}
}
