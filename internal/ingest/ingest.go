// Package ingest applies connector batches: message events go through the
// merge engine and mirror fan-out, catalog events update the catalog.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"signalrelay/internal/catalog"
	"signalrelay/internal/constants"
	appErrors "signalrelay/internal/errors"
	"signalrelay/internal/metrics"
	"signalrelay/internal/mirror"
	"signalrelay/internal/models"
	"signalrelay/internal/signals"
	"signalrelay/internal/tracing"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// MirrorFanOut enqueues mirror jobs for a merged signal
type MirrorFanOut interface {
	FanOut(ctx context.Context, sig *models.Signal, eventType models.EventType, now time.Time) (*mirror.FanOutResult, error)
}

// Rejection describes one event dropped by validation
type Rejection struct {
	Index   int    `json:"index"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Result counts what happened to each event of a batch
type Result struct {
	Accepted       int         `json:"accepted"`
	Deduped        int         `json:"deduped"`
	Ignored        int         `json:"ignored"`
	Rejected       int         `json:"rejected"`
	MirrorEnqueued int         `json:"mirrorEnqueued"`
	MirrorDeduped  int         `json:"mirrorDeduped"`
	MirrorSkipped  int         `json:"mirrorSkipped"`
	CatalogApplied int         `json:"catalogApplied"`
	Rejections     []Rejection `json:"rejections,omitempty"`
}

type Service struct {
	signals   *signals.Store
	mirror    MirrorFanOut
	catalog   *catalog.Store
	schema    *jsonschema.Schema
	logger    *logrus.Logger
	errLogger *appErrors.Logger
}

func NewService(store *signals.Store, fanOut MirrorFanOut, catalogStore *catalog.Store, logger *logrus.Logger) (*Service, error) {
	sch, err := compileEventSchema()
	if err != nil {
		return nil, err
	}
	return &Service{
		signals:   store,
		mirror:    fanOut,
		catalog:   catalogStore,
		schema:    sch,
		logger:    logger,
		errLogger: appErrors.NewLogger(logger),
	}, nil
}

// ApplyBatch applies events in order. A ValidationError drops only its
// event; any other error aborts the batch and is returned with the counts
// accumulated so far.
func (s *Service) ApplyBatch(ctx context.Context, tenantKey, connectorID string, events []json.RawMessage, receivedAt time.Time) (*Result, error) {
	if tenantKey == "" || connectorID == "" {
		return nil, appErrors.NewValidationError("tenant_key", tenantKey, "tenant and connector are required")
	}
	if len(events) > constants.MaxIngestBatchSize {
		return nil, appErrors.NewValidationError("events", fmt.Sprint(len(events)),
			fmt.Sprintf("batch exceeds %d events", constants.MaxIngestBatchSize))
	}

	ctx, span := tracing.StartSpan(ctx, "ingest.apply_batch",
		tracing.AttrTenantKey.String(tenantKey),
		tracing.AttrConnectorID.String(connectorID),
		tracing.AttrBatchSize.Int(len(events)),
	)
	defer span.End()
	start := time.Now()

	result := &Result{}
	for i, raw := range events {
		err := s.applyOne(ctx, tenantKey, connectorID, raw, receivedAt, result)
		if err == nil {
			continue
		}
		if appErrors.HasCode(err, appErrors.ErrCodeValidationFailed) {
			result.Rejected++
			result.Rejections = append(result.Rejections, rejectionOf(i, err))
			s.count(tenantKey, "rejected")
			s.errLogger.LogWarn(err, "Rejected ingest event", logrus.Fields{
				"tenant_key":   tenantKey,
				"connector_id": connectorID,
				"index":        i,
			})
			continue
		}
		tracing.RecordError(ctx, err)
		s.errLogger.LogError(err, "Ingest batch aborted", logrus.Fields{
			"tenant_key":   tenantKey,
			"connector_id": connectorID,
			"index":        i,
		})
		return result, err
	}

	span.SetAttributes(
		attribute.Int("relay.accepted", result.Accepted),
		attribute.Int("relay.rejected", result.Rejected),
	)
	metrics.RecordTimer(metrics.IngestBatchDuration, time.Since(start), map[string]string{"tenant": tenantKey}, "Ingest batch processing time")
	s.logger.WithFields(logrus.Fields{
		"tenant_key":      tenantKey,
		"connector_id":    connectorID,
		"events":          len(events),
		"accepted":        result.Accepted,
		"deduped":         result.Deduped,
		"ignored":         result.Ignored,
		"rejected":        result.Rejected,
		"mirror_enqueued": result.MirrorEnqueued,
		"catalog_applied": result.CatalogApplied,
	}).Info("Applied ingest batch")
	return result, nil
}

type envelope struct {
	EventType string `json:"event_type"`
}

func (s *Service) applyOne(ctx context.Context, tenantKey, connectorID string, raw json.RawMessage, now time.Time, result *Result) error {
	if err := checkShape(s.schema, raw); err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return appErrors.NewValidationError("event", "", "malformed JSON")
	}

	if catalog.IsCatalogEvent(env.EventType) {
		return s.applyCatalog(ctx, tenantKey, connectorID, raw, now, result)
	}

	var ev signals.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return appErrors.NewValidationError("event", "", err.Error())
	}

	res, err := s.signals.ApplyEvent(ctx, tenantKey, connectorID, ev, now)
	if err != nil {
		return err
	}
	s.count(tenantKey, string(res.Outcome))

	switch res.Outcome {
	case models.OutcomeAccepted:
		result.Accepted++
	case models.OutcomeDeduped:
		result.Deduped++
	case models.OutcomeIgnored:
		result.Ignored++
		return nil
	}

	fan, err := s.mirror.FanOut(ctx, res.Signal, res.EventType, now)
	if err != nil {
		return err
	}
	result.MirrorEnqueued += fan.Enqueued
	result.MirrorDeduped += fan.Deduped
	if fan.Skipped {
		result.MirrorSkipped++
	}
	return nil
}

func (s *Service) applyCatalog(ctx context.Context, tenantKey, connectorID string, raw json.RawMessage, now time.Time, result *Result) error {
	var ev catalog.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return appErrors.NewValidationError("event", "", err.Error())
	}
	applied, err := s.catalog.ApplyEvent(ctx, tenantKey, connectorID, ev, now)
	if err != nil {
		return err
	}
	if applied {
		result.CatalogApplied++
		s.count(tenantKey, "catalog_applied")
	} else {
		result.Ignored++
		s.count(tenantKey, "catalog_stale")
	}
	return nil
}

func (s *Service) count(tenantKey, outcome string) {
	metrics.IncrementCounter(metrics.IngestEventsTotal, map[string]string{"tenant": tenantKey, "outcome": outcome}, "Ingested events by outcome")
}

func rejectionOf(index int, err error) Rejection {
	r := Rejection{Index: index, Message: err.Error()}
	if appErr, ok := appErrors.As(err); ok {
		r.Message = appErr.Message
		if field, ok := appErr.Context["field"].(string); ok {
			r.Field = field
		}
	}
	return r
}
