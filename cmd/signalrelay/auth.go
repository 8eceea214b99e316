package main

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"signalrelay/internal/constants"
	appErrors "signalrelay/internal/errors"
	"signalrelay/internal/metrics"
	"signalrelay/internal/middleware"
	"signalrelay/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// Credential scopes guarded by the server
const (
	scopeWorker  = "worker"
	scopeIngest  = "ingest"
	scopeWebhook = "webhook"
)

// authenticator checks bearer credentials. The credentials are swapped
// atomically on config reload.
type authenticator struct {
	creds  atomic.Pointer[models.AuthConfig]
	logger *logrus.Logger
}

func newAuthenticator(cfg models.AuthConfig, logger *logrus.Logger) *authenticator {
	a := &authenticator{logger: logger}
	a.Update(cfg)
	return a
}

func (a *authenticator) Update(cfg models.AuthConfig) {
	a.creds.Store(&cfg)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func tokenEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// verifyWorkerJWT accepts only unexpired HS256 tokens signed with secret that
// carry an exp claim
func verifyWorkerJWT(raw, secret string) error {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}

// check returns nil when r carries a valid credential for scope
func (a *authenticator) check(scope string, r *http.Request) error {
	creds := a.creds.Load()
	token := bearerToken(r)

	switch scope {
	case scopeWorker:
		if creds.WorkerToken == "" && creds.WorkerJWTSecret == "" {
			return appErrors.NewNotConfiguredError("worker credential")
		}
		if token == "" {
			return appErrors.NewAuthError("missing bearer token")
		}
		if creds.WorkerToken != "" && tokenEqual(token, creds.WorkerToken) {
			return nil
		}
		if creds.WorkerJWTSecret != "" {
			if err := verifyWorkerJWT(token, creds.WorkerJWTSecret); err == nil {
				return nil
			}
		}
		return appErrors.NewAuthError("invalid worker credential")
	case scopeIngest, scopeWebhook:
		want := creds.IngestToken
		if scope == scopeWebhook {
			want = creds.WebhookToken
		}
		if want == "" {
			return appErrors.NewNotConfiguredError(scope + " token")
		}
		if token == "" {
			return appErrors.NewAuthError("missing bearer token")
		}
		if !tokenEqual(token, want) {
			return appErrors.NewAuthError("invalid " + scope + " token")
		}
		return nil
	}
	return appErrors.New(appErrors.ErrCodeInternalError, "unknown credential scope "+scope)
}

// require wraps next so it only runs for requests authenticated for scope
func (a *authenticator) require(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := a.check(scope, r); err != nil {
			metrics.IncrementCounter(metrics.AuthFailuresTotal,
				map[string]string{"scope": scope, "code": string(appErrors.GetCode(err))},
				"Rejected credentials by scope")
			a.logger.WithFields(logrus.Fields{
				constants.LogFieldURL:      r.URL.Path,
				constants.LogFieldRemoteIP: middleware.ClientIP(r),
				"scope":                    scope,
				"error":                    err.Error(),
			}).Warn("Request authentication failed")
			writeError(w, r, err)
			return
		}
		next(w, r)
	}
}
