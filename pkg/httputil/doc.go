// Package httputil provides the JSON request and response helpers and the
// middleware used by the launcher's admin server.
//
// # Responses
//
//	httputil.WriteJSON(w, http.StatusOK, plugins)
//	httputil.WriteNotFoundError(w, "plugin not installed")
//
// WriteErr picks the status from the errdefs sentinel an error wraps, so
// handlers can pass Context errors through unchanged:
//
//	if err := c.Uninstall(id); err != nil {
//		httputil.WriteErr(w, err) // 404 for errdefs.ErrNotFound
//		return
//	}
//
// # Requests
//
//	id, ok := httputil.ParsePathStringOrError(w, r, "id")
//	recursive, err := httputil.ParseQueryBool(r, "recursive", false)
//
// # Middleware
//
//	router.Use(httputil.LoggingMiddleware(log), httputil.RecoveryMiddleware(log))
package httputil
