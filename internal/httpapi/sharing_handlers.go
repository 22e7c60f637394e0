package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"emerald.finance/internal/access"
)

type shareRequest struct {
	UserID string       `json:"user_id"`
	Level  access.Level `json:"level"`
}

type updateShareRequest struct {
	Level access.Level `json:"level"`
}

func (a *API) handleShare(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req shareRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}
	grant, err := a.sharing.Share(r.Context(), user.ID, chi.URLParam(r, "accountID"), req.UserID, req.Level, requestMeta(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, grant)
}

func (a *API) handleListShares(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	grants, err := a.sharing.ListShares(r.Context(), user.ID, chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if grants == nil {
		grants = []*access.Grant{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"shares": grants})
}

func (a *API) handleUpdateShare(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req updateShareRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}
	grant, err := a.sharing.UpdateShare(r.Context(), user.ID, chi.URLParam(r, "grantID"), req.Level, requestMeta(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

func (a *API) handleRevokeShare(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := a.sharing.RevokeShare(r.Context(), user.ID, chi.URLParam(r, "grantID"), requestMeta(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
