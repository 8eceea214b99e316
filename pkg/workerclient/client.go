package workerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"signalrelay/internal/constants"
	"signalrelay/internal/models"
	"signalrelay/internal/mirror"
	"signalrelay/internal/queue"
	"signalrelay/internal/rolesync"
	"signalrelay/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
)

// Client talks to the relay's queue endpoints on behalf of a delivery worker
type Client interface {
	ClaimMirror(ctx context.Context, limit int) ([]*mirror.ClaimedJob, error)
	ClaimRoleSync(ctx context.Context, limit int) ([]*queue.Job[models.RoleSyncPayload], error)
	Complete(ctx context.Context, queueName, jobID, claimToken string, outcome queue.Outcome) (*queue.CompleteResult, error)
}

// StatusError is a non-2xx answer from the relay
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay returned status %d, body: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if sent again
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type HTTPClient struct {
	baseURL  string
	token    string
	workerID string
	client   *http.Client
	breaker  *circuitbreaker.Breaker
	logger   *logrus.Logger
}

func NewClient(baseURL, token, workerID string, httpClient *http.Client) *HTTPClient {
	return NewClientWithLogger(baseURL, token, workerID, httpClient, nil)
}

func NewClientWithLogger(baseURL, token, workerID string, httpClient *http.Client, logger *logrus.Logger) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(constants.DefaultWorkerHTTPTimeoutSec) * time.Second}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &HTTPClient{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		token:    token,
		workerID: workerID,
		client:   httpClient,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:      "relay-api",
			IsFailure: isRemoteFailure,
		}, logger),
		logger: logger,
	}
}

// isRemoteFailure keeps 4xx answers from tripping the breaker; those are
// caller mistakes (bad token, bad queue) and retrying will not help.
func isRemoteFailure(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return true
}

type claimRequest struct {
	Limit    int    `json:"limit"`
	WorkerID string `json:"workerId"`
}

type completeRequest struct {
	JobID          string                 `json:"jobId"`
	ClaimToken     string                 `json:"claimToken"`
	Success        bool                   `json:"success"`
	Error          string                 `json:"error,omitempty"`
	ResultMetadata map[string]interface{} `json:"resultMetadata,omitempty"`
}

func (c *HTTPClient) ClaimMirror(ctx context.Context, limit int) ([]*mirror.ClaimedJob, error) {
	var resp struct {
		Jobs []*mirror.ClaimedJob `json:"jobs"`
	}
	if err := c.post(ctx, mirror.QueueName, "claim", claimRequest{Limit: limit, WorkerID: c.workerID}, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

func (c *HTTPClient) ClaimRoleSync(ctx context.Context, limit int) ([]*queue.Job[models.RoleSyncPayload], error) {
	var resp struct {
		Jobs []*queue.Job[models.RoleSyncPayload] `json:"jobs"`
	}
	if err := c.post(ctx, rolesync.QueueName, "claim", claimRequest{Limit: limit, WorkerID: c.workerID}, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Complete reports the outcome of a claimed job. A lease conflict is not an
// error: it comes back with Ignored set and a reason.
func (c *HTTPClient) Complete(ctx context.Context, queueName, jobID, claimToken string, outcome queue.Outcome) (*queue.CompleteResult, error) {
	body := completeRequest{
		JobID:          jobID,
		ClaimToken:     claimToken,
		Success:        outcome.Success,
		Error:          outcome.Error,
		ResultMetadata: outcome.ResultMetadata,
	}

	var result queue.CompleteResult
	if err := c.post(ctx, queueName, "complete", body, &result); err != nil {
		return nil, err
	}
	if result.Ignored {
		c.logger.WithFields(logrus.Fields{
			constants.LogFieldQueue: queueName,
			constants.LogFieldJobID: jobID,
			"reason":                result.Reason,
		}).Warn("Relay ignored job completion")
	}
	return &result, nil
}

func (c *HTTPClient) post(ctx context.Context, queueName, action string, payload, out interface{}) error {
	endpoint := fmt.Sprintf("%s/v1/queues/%s/%s", c.baseURL, url.PathEscape(queueName), action)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", action, err)
	}

	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create %s request: %w", action, err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send %s request: %w", action, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", action, err)
		}
		return nil
	})
}
