package httpapi

import (
	"errors"
	"net/http"

	"emerald.finance/internal/access"
	"emerald.finance/internal/account"
	"emerald.finance/internal/auth"
	"emerald.finance/internal/sharing"
	"emerald.finance/internal/token"
)

// writeError maps domain errors to HTTP responses. Credential and token
// failures stay deliberately generic; a compromised token family tells the
// user to sign in again without explaining how it was detected.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, token.ErrCompromised):
		respondError(w, http.StatusUnauthorized, "session revoked, sign in again on all devices")
	case errors.Is(err, token.ErrInvalidToken):
		respondError(w, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, access.ErrPermissionDenied):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, access.ErrNotFound), errors.Is(err, account.ErrNotFound), errors.Is(err, auth.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrAlreadyExists), errors.Is(err, access.ErrAlreadyExists):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, account.ErrInvalidInput), errors.Is(err, sharing.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
