package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/avelkov/chatdesk/internal/domain"
)

// Response represents a standard API response
type Response struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
	Error   any  `json:"error,omitempty"`
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := Response{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	json.NewEncoder(w).Encode(resp)
}

// Error sends an error response
func Error(w http.ResponseWriter, status int, message any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := Response{
		Success: false,
		Error:   message,
	}

	json.NewEncoder(w).Encode(resp)
}

// NoContent sends a 204 No Content response
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Created sends a 201 Created response with data
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// OK sends a 200 OK response with data
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// BadRequest sends a 400 Bad Request response
func BadRequest(w http.ResponseWriter, message any) {
	Error(w, http.StatusBadRequest, message)
}

// Unauthorized sends a 401 Unauthorized response
func Unauthorized(w http.ResponseWriter, message any) {
	Error(w, http.StatusUnauthorized, message)
}

// Forbidden sends a 403 Forbidden response
func Forbidden(w http.ResponseWriter, message any) {
	Error(w, http.StatusForbidden, message)
}

// NotFound sends a 404 Not Found response
func NotFound(w http.ResponseWriter, message any) {
	Error(w, http.StatusNotFound, message)
}

// InternalError sends a 500 Internal Server Error response
func InternalError(w http.ResponseWriter, message any) {
	Error(w, http.StatusInternalServerError, message)
}

// ErrorDetail is the structured error payload. Kind is machine-readable and
// always present; Message is safe to show any caller. Cause carries the
// underlying failure chain and is only populated for authenticated dashboard
// callers.
type ErrorDetail struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
	Cause   string           `json:"cause,omitempty"`
}

// StatusOf maps an error kind to an HTTP status code.
func StatusOf(err error) int {
	switch domain.KindOf(err) {
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindValidationConflict:
		return http.StatusConflict
	case domain.KindUpstreamUnavailable:
		return http.StatusBadGateway
	case domain.KindCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// FromError sends the kind and safe message for a domain error. The kind is
// always reported; underlying causes never leak on this path, so it is the
// right choice for anonymous and public routes.
func FromError(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	detail := ErrorDetail{Kind: domain.KindOf(err), Message: http.StatusText(status)}

	var de *domain.Error
	if errors.As(err, &de) && status < http.StatusInternalServerError {
		detail.Message = de.Message
	}

	Error(w, status, detail)
}

// FromErrorDetailed sends the full failure detail: kind, message and the
// underlying cause chain. Reserved for authenticated dashboard callers. A
// mutation that exhausted both persistence paths reports both causes here, so
// the dashboard can show which path failed and why.
func FromErrorDetailed(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	detail := ErrorDetail{Kind: domain.KindOf(err), Message: err.Error()}

	var de *domain.Error
	if errors.As(err, &de) {
		detail.Message = de.Message
		if de.Err != nil {
			detail.Cause = de.Err.Error()
		}
	}

	Error(w, status, detail)
}
