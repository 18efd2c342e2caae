// Package handler adapts HTTP requests to the service layer and maps service
// errors onto the JSON error envelope.
package handler

import (
	"log"
	"net/http"

	"projectzero/internal/httputil"
	"projectzero/internal/transport/http/middleware"
)

// requireUser returns the authenticated user id or writes a 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return "", false
	}
	return userID, true
}

// queryLimit writes a 400 when the limit parameter is malformed.
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit, err := httputil.QueryLimit(r)
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid limit parameter")
		return 0, false
	}
	return limit, true
}

func internalError(w http.ResponseWriter, message string, format string, args ...interface{}) {
	log.Printf("[ERROR] "+format, args...)
	httputil.WriteInternalError(w, message)
}
