package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	domainerrors "github.com/adminsuite/governance-backend/internal/domain/errors"
)

// maxBodyBytes caps request bodies. Governance payloads are small;
// anything near this limit is a client bug or an attack.
const maxBodyBytes = 1 << 20

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// writeError maps an error to its HTTP response. Domain errors carry
// their own status codes; everything else is an opaque 500 so internal
// detail never leaks to clients.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	detail := errorDetail{
		Code:      "INTERNAL_ERROR",
		Message:   "an internal error occurred",
		RequestID: requestIDFrom(r.Context()),
	}

	var appErr *domainerrors.AppError
	switch {
	case errors.As(err, &appErr):
		status = appErr.StatusCode
		detail.Code = appErr.Code
		detail.Message = appErr.Message
		detail.Details = appErr.Details
	case isDecodeError(err):
		status = http.StatusBadRequest
		detail.Code = "INVALID_BODY"
		detail.Message = err.Error()
	default:
		h.logger.Error("unhandled error",
			zap.String("path", r.URL.Path),
			zap.String("request_id", detail.RequestID),
			zap.Error(err))
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.String("request_id", detail.RequestID),
			zap.Error(err))
	}

	writeJSON(w, status, errorBody{Error: detail})
}

type decodeError struct {
	msg string
}

func (e *decodeError) Error() string { return e.msg }

func isDecodeError(err error) bool {
	var de *decodeError
	return errors.As(err, &de)
}

// decodeJSON reads the request body into dst with a size limit. Decode
// failures come back as client errors that name the problem without
// echoing the payload.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)

	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &syntaxErr):
			return &decodeError{msg: fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset)}
		case errors.As(err, &typeErr):
			return &decodeError{msg: fmt.Sprintf("invalid type for field %q", typeErr.Field)}
		case errors.Is(err, io.EOF):
			return &decodeError{msg: "request body is empty"}
		case err.Error() == "http: request body too large":
			return &decodeError{msg: "request body too large"}
		default:
			return &decodeError{msg: "request body is not valid JSON"}
		}
	}

	// A second value means trailing garbage after the object.
	if dec.More() {
		return &decodeError{msg: "request body must contain a single JSON object"}
	}
	return nil
}
