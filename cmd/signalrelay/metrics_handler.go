package main

import (
	"encoding/json"
	"net/http"

	"signalrelay/internal/constants"
	"signalrelay/internal/metrics"
	"signalrelay/internal/tracing"

	"github.com/sirupsen/logrus"
)

// handleMetrics dumps the in-memory registry as JSON
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fields := logrus.Fields{
			constants.LogFieldRequestID: tracing.RequestID(r.Context()),
			constants.LogFieldTraceID:   tracing.TraceID(r.Context()),
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(metrics.GetAllMetrics()); err != nil {
			s.logger.WithFields(fields).WithError(err).Error("Failed to encode metrics response")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		s.logger.WithFields(fields).Debug("Metrics endpoint served")
	}
}
