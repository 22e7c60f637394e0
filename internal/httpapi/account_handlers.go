package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"emerald.finance/internal/ids"
)

type createAccountRequest struct {
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

func (a *API) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req createAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}
	acc, err := a.accounts.Create(r.Context(), user.ID, req.Name, req.Currency, requestMeta(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

func (a *API) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	accountID := chi.URLParam(r, "accountID")
	if !ids.Valid(accountID) {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	acc, err := a.accounts.Get(r.Context(), user.ID, accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	accounts, err := a.accounts.List(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}
