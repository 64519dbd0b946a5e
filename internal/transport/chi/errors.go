package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kailas-cloud/docsearch/internal/domain"
	objectsuc "github.com/kailas-cloud/docsearch/internal/usecase/objects"
)

// Error codes returned in the JSON body.
const (
	codeBadRequest        = "bad_request"
	codeUnauthorized      = "unauthorized"
	codeNotFound          = "not_found"
	codeInvalidQuery      = "invalid_query"
	codeScopeRequired     = "scope_required"
	codeSearchUnavailable = "search_unavailable"
	codeInvalidKey        = "invalid_key"
	codeTooLarge          = "object_too_large"
	codeStoreUnavailable  = "objectstore_unavailable"
	codeInternal          = "internal_error"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// defaultErrorHandlers is ordered: the first match wins.
func defaultErrorHandlers() []errorHandler {
	return []errorHandler{
		sentinelHandler(domain.ErrInvalidQuery, http.StatusBadRequest, codeInvalidQuery),
		sentinelHandler(domain.ErrScopeRequired, http.StatusForbidden, codeScopeRequired),
		sentinelHandler(domain.ErrSearchUnavailable, http.StatusServiceUnavailable, codeSearchUnavailable),
		sentinelHandler(objectsuc.ErrInvalidKey, http.StatusBadRequest, codeInvalidKey),
		sentinelHandler(objectsuc.ErrTooLarge, http.StatusRequestEntityTooLarge, codeTooLarge),
		sentinelHandler(domain.ErrObjectStoreUnavailable, http.StatusServiceUnavailable, codeStoreUnavailable),
	}
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
// The sentinel text is the client message, so internals never leak.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, sentinel.Error())
		return true
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
