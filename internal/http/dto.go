package http

import (
	"time"

	"conti/internal/core"
)

// Wire representations. Amounts travel as integer cents to keep the two
// legs of a transfer exactly equal; no floats anywhere on the wire.

type transactionResponse struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	AmountCents     int64     `json:"amountCents"`
	CategoryID      string    `json:"categoryId,omitempty"`
	AccountID       string    `json:"accountId"`
	TargetAccountID string    `json:"targetAccountId,omitempty"`
	Date            time.Time `json:"date"`
	Note            string    `json:"note"`
	UpdatedAt       time.Time `json:"updatedAt"`

	Category      *categoryResponse `json:"category,omitempty"`
	Account       *accountResponse  `json:"account,omitempty"`
	TargetAccount *accountResponse  `json:"targetAccount,omitempty"`
}

type accountResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	BalanceCents int64     `json:"balanceCents"`
	Icon         string    `json:"icon"`
	Color        string    `json:"color"`
	Order        int       `json:"order"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type categoryResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Icon      string    `json:"icon"`
	Color     string    `json:"color"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type budgetResponse struct {
	ID          string    `json:"id"`
	CategoryID  string    `json:"categoryId"`
	AmountCents int64     `json:"amountCents"`
	Period      string    `json:"period"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type createTransactionRequest struct {
	Type        string `json:"type" validate:"required,oneof=expense income transfer"`
	AmountCents int64  `json:"amountCents" validate:"omitempty,gt=0"`
	// Amount is a decimal string ("12.34"), accepted as a fallback for
	// clients that do not speak integer cents. Ignored when amountCents
	// is set.
	Amount          string    `json:"amount"`
	CategoryID      string    `json:"categoryId"`
	AccountID       string    `json:"accountId" validate:"required"`
	TargetAccountID string    `json:"targetAccountId"`
	Date            time.Time `json:"date"`
	Note            string    `json:"note"`
}

type updateTransactionRequest struct {
	AmountCents *int64     `json:"amountCents" validate:"omitempty,gt=0"`
	CategoryID  *string    `json:"categoryId"`
	Date        *time.Time `json:"date"`
	Note        *string    `json:"note"`
}

type accountRequest struct {
	Name         string `json:"name" validate:"required,max=100"`
	Type         string `json:"type"`
	BalanceCents int64  `json:"balanceCents"`
	Icon         string `json:"icon"`
	Color        string `json:"color"`
	Order        int    `json:"order"`
}

type categoryRequest struct {
	Name  string `json:"name" validate:"required,max=100"`
	Type  string `json:"type" validate:"required,oneof=expense income"`
	Icon  string `json:"icon"`
	Color string `json:"color"`
}

type budgetRequest struct {
	CategoryID  string `json:"categoryId" validate:"required"`
	AmountCents int64  `json:"amountCents" validate:"required,gt=0"`
	Period      string `json:"period" validate:"required,oneof=monthly yearly"`
}

type changesResponse struct {
	Transactions []transactionResponse `json:"transactions"`
	Accounts     []accountResponse     `json:"accounts"`
	Categories   []categoryResponse    `json:"categories"`
	ServerTime   time.Time             `json:"serverTime"`
}

type statusResponse struct {
	TransactionCount int64     `json:"transactionCount"`
	AccountCount     int64     `json:"accountCount"`
	CategoryCount    int64     `json:"categoryCount"`
	ServerTime       time.Time `json:"serverTime"`
}

func toTransactionResponse(t core.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:              t.ID,
		Type:            string(t.Type),
		AmountCents:     t.Amount.Cents,
		CategoryID:      t.CategoryID,
		AccountID:       t.AccountID,
		TargetAccountID: t.TargetAccountID,
		Date:            t.Date,
		Note:            t.Note,
		UpdatedAt:       t.UpdatedAt,
	}
	if t.Category != nil {
		c := toCategoryResponse(*t.Category)
		resp.Category = &c
	}
	if t.Account != nil {
		a := toAccountResponse(*t.Account)
		resp.Account = &a
	}
	if t.TargetAccount != nil {
		a := toAccountResponse(*t.TargetAccount)
		resp.TargetAccount = &a
	}
	return resp
}

func toAccountResponse(a core.Account) accountResponse {
	return accountResponse{
		ID:           a.ID,
		Name:         a.Name,
		Type:         a.Type,
		BalanceCents: a.Balance.Cents,
		Icon:         a.Icon,
		Color:        a.Color,
		Order:        a.Order,
		UpdatedAt:    a.UpdatedAt,
	}
}

func toCategoryResponse(c core.Category) categoryResponse {
	return categoryResponse{
		ID:        c.ID,
		Name:      c.Name,
		Type:      string(c.Type),
		Icon:      c.Icon,
		Color:     c.Color,
		UpdatedAt: c.UpdatedAt,
	}
}

func toBudgetResponse(b core.Budget) budgetResponse {
	return budgetResponse{
		ID:          b.ID,
		CategoryID:  b.CategoryID,
		AmountCents: b.Amount.Cents,
		Period:      b.Period,
		UpdatedAt:   b.UpdatedAt,
	}
}
