package httpkit

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/logger"
)

// MaxBodyBytes caps request bodies. A bulletin with every story's cues fits
// well inside it.
const MaxBodyBytes = 1 << 20

// ErrorEnvelope is the body of every non-2xx response.
type ErrorEnvelope struct {
	Error struct {
		Code      string         `json:"code"`
		Message   string         `json:"message"`
		Details   map[string]any `json:"details,omitempty"`
		RequestID string         `json:"request_id,omitempty"`
	} `json:"error"`
}

// DecodeJSON reads exactly one JSON value into v. Malformed, oversized or
// unknown-field bodies come back as VALIDATION_ERROR.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	const op = "httpkit.DecodeJSON"
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	defer body.Close()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return errors.WrapWithCode(err, errors.CodeValidation, op,
				fmt.Sprintf("request body exceeds %d bytes", MaxBodyBytes))
		}
		return errors.WrapWithCode(err, errors.CodeValidation, op, "invalid json body")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New(errors.CodeValidation, "request body must hold a single json object")
	}
	return nil
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError renders err as an ErrorEnvelope with the status its code maps
// to. Internal errors are reported without their chain.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var env ErrorEnvelope
	code := errors.GetCode(err)
	env.Error.Code = string(code)
	env.Error.Details = errors.GetFields(err)
	env.Error.Message = err.Error()
	if code == errors.CodeInternal {
		env.Error.Message = "internal server error"
		env.Error.Details = nil
	}
	if id, ok := r.Context().Value(logger.RequestIDKey).(string); ok {
		env.Error.RequestID = id
	}

	WriteJSON(w, errors.GetHTTPStatus(err), env)
}
