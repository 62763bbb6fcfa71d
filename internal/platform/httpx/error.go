package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/vinylogix/api/internal/platform/requestctx"
)

// MaxBodyBytes caps request bodies accepted by DecodeJSON.
const MaxBodyBytes = 1 << 20

// Error is the JSON error envelope: error, message, status, request_id and trace_id, plus any
// Details merged at the top level. Details never override the reserved keys.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

func (e Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// NewError builds an envelope. A zero status becomes 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: oneLine(code, 80), Message: oneLine(message, 512), Status: status}
}

// BadRequest is shorthand for a 400 invalid_request envelope.
func BadRequest(message string) Error {
	return NewError("invalid_request", message, http.StatusBadRequest)
}

// WithDetails returns a copy of e carrying details.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) > 0 {
		e.Details = maps.Clone(details)
	}
	return e
}

func (e Error) envelope(ctx context.Context) map[string]any {
	out := make(map[string]any, len(e.Details)+5)
	maps.Copy(out, e.Details)
	out["error"] = e.Code
	out["message"] = e.Message
	out["status"] = e.Status

	if id := firstSet(e.RequestID, oneLine(middleware.GetReqID(ctx), 80)); id != "" {
		out["request_id"] = id
	}
	if id := firstSet(e.TraceID, oneLine(requestctx.TraceID(ctx), 64)); id != "" {
		out["trace_id"] = id
	}
	return out
}

// WriteError writes err as JSON, filling request and trace ids from ctx when err has none.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	WriteJSON(w, err.Status, err.envelope(ctx))
}

// WriteJSON writes body as JSON with status. A nil body writes headers only.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// DecodeJSON reads exactly one JSON object into dst. Unknown fields, empty bodies and bodies over
// MaxBodyBytes fail with a 400 Error.
func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return BadRequest("request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	switch err := dec.Decode(dst); {
	case errors.Is(err, io.EOF):
		return BadRequest("request body is required")
	case err != nil:
		return BadRequest("malformed JSON body: " + err.Error())
	}
	if dec.More() {
		return BadRequest("request body must contain a single JSON object")
	}
	return nil
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// oneLine flattens line breaks and trims value to limit runes.
func oneLine(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(value))
	if runes := []rune(value); len(runes) > limit {
		value = string(runes[:limit])
	}
	return value
}
