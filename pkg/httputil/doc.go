// Package httputil provides HTTP utilities shared by the bridge's handlers.
//
// Responses:
//
//	httputil.WriteJSON(w, http.StatusOK, status)
//	httputil.WriteConflict(w, "account not linked")
//
// Requests:
//
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//	if !ok {
//		return // 400 already written
//	}
//
// Middleware:
//
//	router.Use(httputil.RequestIDMiddleware, httputil.LoggingMiddleware(logger), httputil.MaxBytesMiddleware(1<<20))
package httputil
