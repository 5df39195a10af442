package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"goldmarket/internal/download"
	"goldmarket/internal/files"
	"goldmarket/internal/ledger"
	"goldmarket/internal/logging"
	"goldmarket/internal/social"
	"goldmarket/internal/store"
	"goldmarket/internal/users"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: apiError{Code: code, Message: message}})
}

// writeServiceError maps a core error to an HTTP status and a stable reason
// code. Unrecognized errors are reported as internal and logged; they are
// fatal to the request only.
func writeServiceError(w http.ResponseWriter, err error) {
	var missing *files.MissingChunkError
	if errors.As(err, &missing) {
		writeError(w, http.StatusUnprocessableEntity, "missing_chunk", missing.Error())
		return
	}

	switch {
	case errors.Is(err, users.ErrEmptyCredentials),
		errors.Is(err, users.ErrPasswordMismatch),
		errors.Is(err, users.ErrWrongOldPassword),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, files.ErrInvalidUploadID),
		errors.Is(err, files.ErrInvalidChunk):
		writeError(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, users.ErrInvalidLogin):
		writeError(w, http.StatusUnauthorized, "bad_credentials", err.Error())
	case errors.Is(err, users.ErrUsernameTaken):
		writeError(w, http.StatusConflict, "username_taken", err.Error())
	case errors.Is(err, ledger.ErrAlreadySigned):
		writeError(w, http.StatusConflict, "already_signed", err.Error())
	case errors.Is(err, ledger.ErrSelfTransfer):
		writeError(w, http.StatusConflict, "self_transfer", err.Error())
	case errors.Is(err, ledger.ErrSelfPurchase):
		writeError(w, http.StatusConflict, "self_purchase", err.Error())
	case errors.Is(err, ledger.ErrAlreadyPurchased):
		writeError(w, http.StatusConflict, "already_purchased", err.Error())
	case errors.Is(err, social.ErrSelfLike):
		writeError(w, http.StatusConflict, "self_like", err.Error())
	case errors.Is(err, files.ErrUploadBusy):
		writeError(w, http.StatusConflict, "upload_busy", err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "insufficient_gold", err.Error())
	case errors.Is(err, ledger.ErrReceiverNotFound):
		writeError(w, http.StatusNotFound, "receiver_not_found", err.Error())
	case errors.Is(err, files.ErrStagingMissing):
		writeError(w, http.StatusNotFound, "staging_missing", err.Error())
	case errors.Is(err, ledger.ErrFileNotFound),
		errors.Is(err, social.ErrFileNotFound),
		errors.Is(err, download.ErrFileMissing),
		errors.Is(err, files.ErrNotFound),
		errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, files.ErrNotOwner):
		writeError(w, http.StatusForbidden, "not_owner", err.Error())
	case errors.Is(err, download.ErrNotPurchased):
		writeError(w, http.StatusForbidden, "not_purchased", err.Error())
	case errors.Is(err, download.ErrInvalidToken):
		writeError(w, http.StatusForbidden, "invalid_token", err.Error())
	case errors.Is(err, download.ErrExpired):
		writeError(w, http.StatusGone, "token_expired", err.Error())
	default:
		logging.HTTP.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
