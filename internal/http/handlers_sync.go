package http

import (
	"net/http"
	"time"
)

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.repo.CountsByUser(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		TransactionCount: counts.Transactions,
		AccountCount:     counts.Accounts,
		CategoryCount:    counts.Categories,
		ServerTime:       time.Now().UTC(),
	})
}

// handleSyncChanges returns every record touched at or after the "since"
// timestamp. Without the parameter it degrades to a full snapshot, which
// is what a freshly installed client asks for.
func (s *Server) handleSyncChanges(w http.ResponseWriter, r *http.Request) {
	since := time.Time{}
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid since timestamp, expected RFC3339"})
			return
		}
		since = parsed
	}

	txs, accounts, categories, err := s.repo.ChangedSince(r.Context(), UserID(r.Context()), since)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := changesResponse{
		Transactions: make([]transactionResponse, 0, len(txs)),
		Accounts:     make([]accountResponse, 0, len(accounts)),
		Categories:   make([]categoryResponse, 0, len(categories)),
		ServerTime:   time.Now().UTC(),
	}
	for _, t := range txs {
		resp.Transactions = append(resp.Transactions, toTransactionResponse(t))
	}
	for _, a := range accounts {
		resp.Accounts = append(resp.Accounts, toAccountResponse(a))
	}
	for _, c := range categories {
		resp.Categories = append(resp.Categories, toCategoryResponse(c))
	}

	writeJSON(w, http.StatusOK, resp)
}
