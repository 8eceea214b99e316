package middleware

import (
	"net/http"
	"strings"

	"signalrelay/internal/constants"
	"signalrelay/internal/privacy"
	"signalrelay/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

var sensitiveHeaders = map[string]struct{}{
	"authorization":   {},
	"cookie":          {},
	"x-api-key":       {},
	"x-webhook-token": {},
}

var quietPaths = []string{"/health", "/metrics"}

// RequestDetails logs request headers at debug level with credentials
// masked. It does nothing unless the logger is at debug level.
func RequestDetails(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !logger.IsLevelEnabled(logrus.DebugLevel) || isQuietPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			headers := make(map[string]string, len(r.Header))
			for name, values := range r.Header {
				value := strings.Join(values, ", ")
				if _, sensitive := sensitiveHeaders[strings.ToLower(name)]; sensitive {
					value = privacy.MaskToken(value)
				}
				headers[name] = value
			}

			logger.WithFields(logrus.Fields{
				constants.LogFieldRequestID: tracing.RequestID(r.Context()),
				constants.LogFieldMethod:    r.Method,
				constants.LogFieldURL:       r.URL.Path,
				constants.LogFieldUserAgent: r.UserAgent(),
				"content_length":            r.ContentLength,
				"request_headers":           headers,
			}).Debug("Request details")

			next.ServeHTTP(w, r)
		})
	}
}

func isQuietPath(path string) bool {
	for _, p := range quietPaths {
		if path == p {
			return true
		}
	}
	return false
}
