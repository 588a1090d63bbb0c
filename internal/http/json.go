package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	domainauth "github.com/astracore/astracore/internal/domain/auth"
	apperrors "github.com/astracore/astracore/internal/errors"
)

// DecodeJSON decodes JSON from the request body into the destination and handles errors.
// Unknown fields are rejected. Returns true if successful, false if there was an error
// (error response already written).
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
		return false
	}

	return true
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		// Response writer errors (e.g., client disconnect) can't be recovered from here.
		return
	}
}

// ErrorParams groups parameters for WriteError to adhere to the ≤3 params guideline.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
	Field   string
}

// WriteError writes a JSON error response using ErrorParams.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	body := map[string]string{"error": p.ErrCode, "message": p.Err.Error()}
	if p.Field != "" {
		body["field"] = p.Field
	}
	WriteJSON(w, p.Code, body)
}

// writeServiceError maps core errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	WriteError(w, errorParams(err))
}

func errorParams(err error) ErrorParams {
	if kind, ok := domainauth.AuthErrorKindOf(err); ok {
		switch kind {
		case domainauth.AuthErrInvalidCredentials:
			return ErrorParams{Code: http.StatusUnauthorized, ErrCode: string(kind), Err: err}
		case domainauth.AuthErrEmailUnconfirmed:
			return ErrorParams{Code: http.StatusForbidden, ErrCode: string(kind), Err: err}
		case domainauth.AuthErrRateLimited:
			return ErrorParams{Code: http.StatusTooManyRequests, ErrCode: string(kind), Err: err}
		default:
			return ErrorParams{Code: http.StatusBadGateway, ErrCode: string(domainauth.AuthErrUnknown), Err: err}
		}
	}
	if errors.Is(err, domainauth.ErrNotAuthenticated) {
		return ErrorParams{Code: http.StatusUnauthorized, ErrCode: "authentication_required", Err: err}
	}

	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeValidation:
		return ErrorParams{Code: http.StatusBadRequest, ErrCode: "validation_error", Err: err, Field: apperrors.GetField(err)}
	case apperrors.ErrCodeNotFound:
		return ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err}
	case apperrors.ErrCodeConflict:
		return ErrorParams{Code: http.StatusConflict, ErrCode: "conflict", Err: err}
	case apperrors.ErrCodeForbidden:
		return ErrorParams{Code: http.StatusForbidden, ErrCode: "forbidden", Err: err}
	case apperrors.ErrCodeUnauthenticated:
		return ErrorParams{Code: http.StatusUnauthorized, ErrCode: "authentication_required", Err: err}
	case apperrors.ErrCodeUnavailable:
		return ErrorParams{Code: http.StatusServiceUnavailable, ErrCode: "unavailable", Err: err}
	case apperrors.ErrCodeTimeout:
		return ErrorParams{Code: http.StatusGatewayTimeout, ErrCode: "timeout", Err: err}
	default:
		return ErrorParams{Code: http.StatusInternalServerError, ErrCode: "internal_error", Err: errors.New("internal error")}
	}
}
