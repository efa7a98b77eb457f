package core

import (
	"encoding/json"
	"errors"
	"net/http"
)

// JSONResponse is the envelope every JSON endpoint answers with.
type JSONResponse struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail carries machine-readable error information.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

type jsonResponse struct {
	status int
	body   any
}

func (j jsonResponse) Render(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

// JSON answers 200 with data wrapped in the standard envelope.
func JSON(data any) Response {
	return jsonResponse{status: http.StatusOK, body: JSONResponse{Data: data}}
}

// JSONStatus answers an explicit status with data in the envelope.
func JSONStatus(status int, data any) Response {
	return jsonResponse{status: status, body: JSONResponse{Data: data}}
}

// JSONRaw answers an explicit status with body encoded as-is, no envelope.
// Webhook acknowledgements use this: the provider expects a bare object.
func JSONRaw(status int, body any) Response {
	return jsonResponse{status: status, body: body}
}

// JSONError maps an error to the envelope. HTTPError picks its own status;
// anything else is a 500 with a generic message so internals never leak.
func JSONError(err error) Response {
	status := http.StatusInternalServerError
	detail := &ErrorDetail{Code: "internal_error", Message: "internal server error"}

	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		status = httpErr.Code
		detail.Code = httpErr.Key
		detail.Message = httpErr.Message
		detail.Details = httpErr.Details
	}

	return jsonResponse{status: status, body: JSONResponse{Error: detail}}
}
