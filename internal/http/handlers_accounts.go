package http

import (
	"net/http"

	"conti/internal/core"
)

const (
	defaultAccountIcon  = "💳"
	defaultAccountColor = "#10B981"
)

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, err)
		return
	}

	a := core.Account{
		Name:    req.Name,
		Type:    req.Type,
		Balance: core.Money{Cents: req.BalanceCents},
		Icon:    req.Icon,
		Color:   req.Color,
		Order:   req.Order,
		UserID:  UserID(r.Context()),
	}
	if a.Type == "" {
		a.Type = "cash"
	}
	if a.Icon == "" {
		a.Icon = defaultAccountIcon
	}
	if a.Color == "" {
		a.Color = defaultAccountColor
	}
	if err := a.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	created, err := s.repo.CreateAccount(r.Context(), a)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.notifyChanged(created.UserID, core.EntityAccount, created.ID)
	writeJSON(w, http.StatusCreated, toAccountResponse(created))
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	if cached, ok := s.accountsCache.Get(userID); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	accounts, err := s.repo.ListAccounts(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountResponse(a))
	}
	s.accountsCache.Set(userID, out)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, err)
		return
	}

	userID := UserID(r.Context())
	a := core.Account{
		ID:      r.PathValue("id"),
		Name:    req.Name,
		Type:    req.Type,
		Balance: core.Money{Cents: req.BalanceCents},
		Icon:    req.Icon,
		Color:   req.Color,
		Order:   req.Order,
		UserID:  userID,
	}
	if err := a.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	updated, err := s.repo.UpdateAccount(r.Context(), a)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.notifyChanged(userID, core.EntityAccount, updated.ID)
	writeJSON(w, http.StatusOK, toAccountResponse(updated))
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	id := r.PathValue("id")

	if err := s.repo.DeleteAccount(r.Context(), id, userID); err != nil {
		writeError(w, r, err)
		return
	}

	s.notifyChanged(userID, core.EntityAccount, id)
	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}
