package http

import (
	"net/http"

	"conti/internal/core"
)

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, err)
		return
	}

	c := core.Category{
		Name:   req.Name,
		Type:   core.TransactionType(req.Type),
		Icon:   req.Icon,
		Color:  req.Color,
		UserID: UserID(r.Context()),
	}
	if err := c.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	created, err := s.repo.CreateCategory(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.notifyChanged(created.UserID, core.EntityCategory, created.ID)
	writeJSON(w, http.StatusCreated, toCategoryResponse(created))
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	if cached, ok := s.categoriesCache.Get(userID); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	categories, err := s.repo.ListCategories(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]categoryResponse, 0, len(categories))
	for _, c := range categories {
		out = append(out, toCategoryResponse(c))
	}
	s.categoriesCache.Set(userID, out)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, err)
		return
	}

	userID := UserID(r.Context())
	c := core.Category{
		ID:     r.PathValue("id"),
		Name:   req.Name,
		Type:   core.TransactionType(req.Type),
		Icon:   req.Icon,
		Color:  req.Color,
		UserID: userID,
	}
	if err := c.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	updated, err := s.repo.UpdateCategory(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.notifyChanged(userID, core.EntityCategory, updated.ID)
	writeJSON(w, http.StatusOK, toCategoryResponse(updated))
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	id := r.PathValue("id")

	if err := s.repo.DeleteCategory(r.Context(), id, userID); err != nil {
		writeError(w, r, err)
		return
	}

	s.notifyChanged(userID, core.EntityCategory, id)
	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, err)
		return
	}

	userID := UserID(r.Context())
	if _, err := s.repo.GetCategory(r.Context(), req.CategoryID, userID); err != nil {
		writeError(w, r, err)
		return
	}

	b := core.Budget{
		CategoryID: req.CategoryID,
		Amount:     core.Money{Cents: req.AmountCents},
		Period:     req.Period,
		UserID:     userID,
	}
	if err := b.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	created, err := s.repo.CreateBudget(r.Context(), b)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toBudgetResponse(created))
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	budgets, err := s.repo.ListBudgets(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]budgetResponse, 0, len(budgets))
	for _, b := range budgets {
		out = append(out, toBudgetResponse(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, err)
		return
	}

	userID := UserID(r.Context())
	b := core.Budget{
		ID:         r.PathValue("id"),
		CategoryID: req.CategoryID,
		Amount:     core.Money{Cents: req.AmountCents},
		Period:     req.Period,
		UserID:     userID,
	}
	if err := b.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	updated, err := s.repo.UpdateBudget(r.Context(), b)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toBudgetResponse(updated))
}

func (s *Server) handleDeleteBudget(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.DeleteBudget(r.Context(), r.PathValue("id"), UserID(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}
