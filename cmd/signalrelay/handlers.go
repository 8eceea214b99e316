package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"signalrelay/internal/constants"
	appErrors "signalrelay/internal/errors"
	"signalrelay/internal/mirror"
	"signalrelay/internal/models"
	"signalrelay/internal/queue"
	"signalrelay/internal/rolesync"
	"signalrelay/internal/tracing"
	"signalrelay/internal/validation"
	"signalrelay/internal/versioning"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

type ingestRequest struct {
	Events []json.RawMessage `json:"events"`
}

type claimRequest struct {
	Limit    int    `json:"limit"`
	WorkerID string `json:"workerId"`
}

type completeRequest struct {
	JobID          string                 `json:"jobId"`
	ClaimToken     string                 `json:"claimToken"`
	Success        bool                   `json:"success"`
	Error          string                 `json:"error"`
	ResultMetadata map[string]interface{} `json:"resultMetadata"`
}

// webhookRequest is the projected payment event forwarded by the receiver
// after signature verification.
type webhookRequest struct {
	EventID       string                    `json:"eventId"`
	EventType     string                    `json:"eventType"`
	UserID        string                    `json:"userId"`
	DiscordUserID string                    `json:"discordUserId"`
	Tier          string                    `json:"tier"`
	Status        models.SubscriptionStatus `json:"status"`
	Payload       json.RawMessage           `json:"payload"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, appErrors.HTTPStatusCode(err), appErrors.ToHTTPResponse(err, tracing.RequestID(r.Context())))
}

// decodeBody reads a JSON body into dst. An oversized body or malformed
// JSON is an INVALID_INPUT error.
func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return appErrors.New(appErrors.ErrCodeInvalidInput, "request body too large").
				WithContext("limit_bytes", tooLarge.Limit)
		}
		return appErrors.Wrap(err, appErrors.ErrCodeInvalidInput, "invalid JSON body")
	}
	return nil
}

// fail logs server-side failures before writing the error response
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, message string) {
	if appErrors.HTTPStatusCode(err) >= http.StatusInternalServerError {
		s.errLogger.LogError(err, message, logrus.Fields{
			constants.LogFieldRequestID: tracing.RequestID(r.Context()),
			constants.LogFieldRoute:     r.URL.Path,
		})
	}
	writeError(w, r, err)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.svc.db.Ping(r.Context()); err != nil {
			s.logger.WithError(err).Warn("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) handleVersion() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		negotiated, _ := versioning.FromContext(r.Context())
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"build":      buildInfo(),
			"negotiated": negotiated.String(),
			"supported":  versioning.VersionRange(),
		})
	}
}

func (s *Server) handleIngest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		tenantKey, connectorID := vars["tenantKey"], vars["connectorId"]
		if err := validation.ValidateScope(tenantKey, connectorID); err != nil {
			writeError(w, r, err)
			return
		}

		var req ingestRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		result, err := s.svc.ingest.ApplyBatch(r.Context(), tenantKey, connectorID, req.Events, s.now())
		if err != nil {
			s.fail(w, r, err, "Ingest batch aborted")
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleListChannels() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		if err := validation.ValidateScope(vars["tenantKey"], vars["connectorId"]); err != nil {
			writeError(w, r, err)
			return
		}

		channels, err := s.svc.catalog.ListChannels(r.Context(), vars["tenantKey"], vars["connectorId"], r.URL.Query().Get("guildId"))
		if err != nil {
			s.fail(w, r, err, "Failed to list catalog channels")
			return
		}
		if channels == nil {
			channels = []models.SourceChannel{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"channels": channels})
	}
}

func unknownQueue(name string) error {
	return appErrors.NewNotFoundError("queue", name)
}

func (s *Server) handleClaim() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["queue"]

		var req claimRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if err := validation.ValidateWorkerID(req.WorkerID); err != nil {
			writeError(w, r, err)
			return
		}

		ctx, span := tracing.StartSpan(r.Context(), "queue.claim",
			tracing.AttrQueue.String(name),
			tracing.AttrWorkerID.String(req.WorkerID),
		)
		defer span.End()

		var (
			jobs  interface{}
			count int
			err   error
		)
		switch name {
		case mirror.QueueName:
			var claimed []*mirror.ClaimedJob
			claimed, err = s.svc.mirror.Claim(ctx, req.Limit, req.WorkerID, s.now())
			jobs, count = nonNil(claimed), len(claimed)
		case rolesync.QueueName:
			var claimed []*queue.Job[models.RoleSyncPayload]
			claimed, err = s.svc.roles.Queue().Claim(ctx, req.Limit, req.WorkerID, s.now())
			jobs, count = nonNil(claimed), len(claimed)
		default:
			writeError(w, r, unknownQueue(name))
			return
		}
		if err != nil {
			tracing.RecordError(ctx, err)
			s.fail(w, r, err, "Claim failed")
			return
		}

		span.SetAttributes(attribute.Int("queue.claimed", count))
		writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func (s *Server) handleComplete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["queue"]

		var req completeRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if err := validation.ValidateRequired("jobId", req.JobID); err != nil {
			writeError(w, r, err)
			return
		}
		if err := validation.ValidateRequired("claimToken", req.ClaimToken); err != nil {
			writeError(w, r, err)
			return
		}

		ctx, span := tracing.StartSpan(r.Context(), "queue.complete",
			tracing.AttrQueue.String(name),
			tracing.AttrJobID.String(req.JobID),
		)
		defer span.End()

		outcome := queue.Outcome{Success: req.Success, Error: req.Error, ResultMetadata: req.ResultMetadata}

		var (
			result *queue.CompleteResult
			err    error
		)
		switch name {
		case mirror.QueueName:
			result, err = s.svc.mirror.Complete(ctx, req.JobID, req.ClaimToken, outcome, s.now())
		case rolesync.QueueName:
			result, err = s.svc.roles.Queue().Complete(ctx, req.JobID, req.ClaimToken, outcome, s.now())
		default:
			writeError(w, r, unknownQueue(name))
			return
		}
		if err != nil {
			tracing.RecordError(ctx, err)
			s.fail(w, r, err, "Complete failed")
			return
		}

		span.SetAttributes(
			attribute.Bool("queue.ignored", result.Ignored),
			attribute.String("queue.status", string(result.Status)),
		)
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := mux.Vars(r)["provider"]
		if err := validation.ValidateProvider(provider); err != nil {
			writeError(w, r, err)
			return
		}

		var req webhookRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		ctx, span := tracing.StartSpan(r.Context(), "webhook.process",
			tracing.AttrProvider.String(provider),
			attribute.String("webhook.event_type", req.EventType),
		)
		defer span.End()

		result, err := s.svc.ledger.Process(ctx, models.WebhookEvent{
			Provider:           provider,
			EventID:            req.EventID,
			EventType:          req.EventType,
			UserID:             req.UserID,
			DiscordUserID:      req.DiscordUserID,
			Tier:               req.Tier,
			SubscriptionStatus: req.Status,
			Payload:            string(req.Payload),
		}, s.now())
		if err != nil {
			tracing.RecordError(ctx, err)
			s.fail(w, r, err, "Webhook processing failed")
			return
		}

		span.SetAttributes(
			attribute.Bool("webhook.duplicate", result.Duplicate),
			attribute.String("webhook.status", string(result.Status)),
		)
		writeJSON(w, http.StatusOK, result)
	}
}
