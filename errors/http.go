package errors

import (
	"errors"
	"net/http"
	"strings"
)

// HTTPStatus maps a classified error to the HTTP status code reported to
// external clients.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusInternalServerError
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.Status
	}

	if errors.Is(err, ErrRouteNotFound) {
		return http.StatusNotFound
	}
	if IsInvalid(err) {
		return http.StatusBadRequest
	}
	if IsConnection(err) {
		return http.StatusUnauthorized
	}

	return http.StatusInternalServerError
}

// Sanitize returns a safe error message for external clients. Internal
// details stay in the wrapping chain for logs and are never exposed to
// prevent information disclosure.
func Sanitize(err error) string {
	if err == nil {
		return "internal server error"
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.Error()
	}

	if errors.Is(err, ErrRouteNotFound) {
		return "resource not found"
	}
	if IsInvalid(err) {
		return "invalid request"
	}
	if IsTransform(err) {
		return "malformed event"
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "permission") {
		return "access denied"
	}

	return "internal server error"
}
