package versioning

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

type contextKey string

const versionContextKey contextKey = "api_version"

// Request and response headers
const (
	AcceptVersionHeader     = "Accept-Version"
	APIVersionHeader        = "X-API-Version"
	CurrentVersionHeader    = "X-Current-Version"
	SupportedVersionsHeader = "X-Supported-Versions"
)

// Middleware resolves the API version a request asks for, rejects
// incompatible ones, and stores the version in the request context.
func Middleware(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(CurrentVersionHeader, CurrentVersion.String())
			w.Header().Set(SupportedVersionsHeader, VersionRange())

			requested, ok := requestedVersion(r, logger)
			if !ok {
				writeIncompatible(w, http.StatusBadRequest, Compatibility{
					Current: CurrentVersion,
					Minimum: MinimumSupportedVersion,
					Reason:  "malformed version header",
				}, logger)
				return
			}

			compat := CheckCompatibility(requested)
			if !compat.Compatible {
				status := http.StatusNotImplemented
				if requested.Compare(MinimumSupportedVersion) < 0 {
					status = http.StatusUpgradeRequired
				}
				logger.WithFields(logrus.Fields{
					"requested_version": requested.String(),
					"path":              r.URL.Path,
				}).Warn("Incompatible API version requested")
				writeIncompatible(w, status, compat, logger)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), versionContextKey, requested)))
		})
	}
}

// requestedVersion prefers Accept-Version, then X-API-Version, then a /vN
// path prefix, then the current version.
func requestedVersion(r *http.Request, logger *logrus.Logger) (APIVersion, bool) {
	for _, header := range []string{AcceptVersionHeader, APIVersionHeader} {
		raw := strings.TrimSpace(r.Header.Get(header))
		if raw == "" {
			continue
		}
		version, err := ParseVersion(strings.TrimPrefix(raw, "v"))
		if err != nil {
			logger.WithField("version_string", raw).Debugf("Invalid version in %s header", header)
			return APIVersion{}, false
		}
		return version, true
	}

	if version, ok := versionFromPath(r.URL.Path); ok {
		return version, true
	}
	return CurrentVersion, true
}

func versionFromPath(path string) (APIVersion, bool) {
	first, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	if len(first) < 2 || first[0] != 'v' || first[1] < '0' || first[1] > '9' {
		return APIVersion{}, false
	}
	version, err := ParseVersion(first[1:])
	if err != nil {
		return APIVersion{}, false
	}
	return version, true
}

func writeIncompatible(w http.ResponseWriter, status int, compat Compatibility, logger *logrus.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    "VERSION_INCOMPATIBLE",
			"message": "API version incompatible",
			"details": compat,
		},
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Error("Failed to encode version error response")
	}
}

// FromContext returns the negotiated API version of a request
func FromContext(ctx context.Context) (APIVersion, bool) {
	version, ok := ctx.Value(versionContextKey).(APIVersion)
	return version, ok
}
