package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"signalrelay/internal/constants"
	appErrors "signalrelay/internal/errors"
	"signalrelay/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Recover turns handler panics into a 500 JSON error
func Recover(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				requestID := tracing.RequestID(r.Context())
				logger.WithFields(logrus.Fields{
					constants.LogFieldRequestID: requestID,
					constants.LogFieldURL:       r.URL.Path,
					"panic":                     rec,
					"stack":                     string(debug.Stack()),
				}).Error("Handler panicked")

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(appErrors.ToHTTPResponse(
					appErrors.New(appErrors.ErrCodeInternalError, "internal error"), requestID))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// LimitBody caps request bodies at n bytes
func LimitBody(n int64) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}
