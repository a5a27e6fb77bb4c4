package http

import (
	"net/http"
	"strconv"
	"time"

	"conti/internal/core"
	"conti/internal/storage"
)

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, err)
		return
	}

	cents := req.AmountCents
	if cents == 0 && req.Amount != "" {
		parsed, err := core.ParseDecimalToCents(req.Amount)
		if err != nil {
			writeError(w, r, err)
			return
		}
		cents = parsed
	}

	date := req.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}

	t := core.Transaction{
		Type:            core.TransactionType(req.Type),
		Amount:          core.Money{Cents: cents},
		CategoryID:      req.CategoryID,
		AccountID:       req.AccountID,
		TargetAccountID: req.TargetAccountID,
		Date:            date,
		Note:            req.Note,
		UserID:          UserID(r.Context()),
	}

	created, err := s.ledger.CreateTransaction(r.Context(), t)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.notifyChanged(created.UserID, core.EntityTransaction, created.ID)
	// Balances moved, so cached account responses are stale too.
	s.accountsCache.Delete(created.UserID)

	writeJSON(w, http.StatusCreated, toTransactionResponse(created))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.TransactionFilter{
		Type:       core.TransactionType(q.Get("type")),
		CategoryID: q.Get("categoryId"),
		AccountID:  q.Get("accountId"),
		Limit:      50,
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}
	if v := q.Get("startDate"); v != "" {
		if d, err := time.Parse(time.RFC3339, v); err == nil {
			filter.StartDate = d
		}
	}
	if v := q.Get("endDate"); v != "" {
		if d, err := time.Parse(time.RFC3339, v); err == nil {
			filter.EndDate = d
		}
	}

	txs, err := s.ledger.ListTransactions(r.Context(), UserID(r.Context()), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, toTransactionResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req updateTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, err)
		return
	}

	userID := UserID(r.Context())
	updated, err := s.ledger.UpdateTransaction(r.Context(), userID, r.PathValue("id"), storage.TransactionUpdate{
		AmountCents: req.AmountCents,
		CategoryID:  req.CategoryID,
		Date:        req.Date,
		Note:        req.Note,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.notifyChanged(userID, core.EntityTransaction, updated.ID)
	s.accountsCache.Delete(userID)

	writeJSON(w, http.StatusOK, toTransactionResponse(updated))
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	id := r.PathValue("id")

	if err := s.ledger.DeleteTransaction(r.Context(), userID, id); err != nil {
		writeError(w, r, err)
		return
	}

	s.notifyChanged(userID, core.EntityTransaction, id)
	s.accountsCache.Delete(userID)

	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}
