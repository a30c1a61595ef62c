package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// APIError is returned when the backend answers with a non-2xx status.
// Detail and Message hold the optional "detail" and "error" fields of the
// response body.
type APIError struct {
	StatusCode int
	Detail     string
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	switch {
	case e.Detail != "":
		return fmt.Sprintf("backend returned HTTP %d: %s", e.StatusCode, e.Detail)
	case e.Message != "":
		return fmt.Sprintf("backend returned HTTP %d: %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("backend returned HTTP %d", e.StatusCode)
	}
}

// Detail returns the structured "detail" message carried by err, if any.
func Detail(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return ""
}

// ErrorMessage returns the structured "error" message carried by err, if any.
func ErrorMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return ""
}

// StatusCode returns the HTTP status carried by err, or 0 for transport
// failures.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// newAPIError builds an APIError from a failed response. The body is kept
// verbatim for diagnostics even when it is not JSON.
func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, Body: body}

	var payload struct {
		Detail json.RawMessage `json:"detail"`
		Error  json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return e
	}
	e.Detail = flattenMessage(payload.Detail)
	e.Message = flattenMessage(payload.Error)
	return e
}

// flattenMessage turns the shapes seen in error bodies into one line:
// a plain string, an object with a "message", or a FastAPI validation list
// of {"msg": ...} entries.
func flattenMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}

	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Message != "" {
		return obj.Message
	}

	var list []struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal(raw, &list) == nil {
		msgs := make([]string, 0, len(list))
		for _, item := range list {
			if item.Msg != "" {
				msgs = append(msgs, item.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}
