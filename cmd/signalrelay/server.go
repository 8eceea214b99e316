package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"signalrelay/internal/catalog"
	"signalrelay/internal/constants"
	"signalrelay/internal/database"
	appErrors "signalrelay/internal/errors"
	"signalrelay/internal/ingest"
	"signalrelay/internal/middleware"
	"signalrelay/internal/mirror"
	"signalrelay/internal/models"
	"signalrelay/internal/rolesync"
	"signalrelay/internal/signals"
	"signalrelay/internal/versioning"
	"signalrelay/internal/webhooks"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// services are the core components the HTTP layer drives
type services struct {
	db      *database.Database
	ingest  *ingest.Service
	mirror  *mirror.Service
	roles   *rolesync.Service
	ledger  *webhooks.Ledger
	catalog *catalog.Store
}

func newServices(db *database.Database, router mirror.Router, mapping rolesync.RoleMapping, maxAttempts int, logger *logrus.Logger) (*services, error) {
	mirrors, err := mirror.NewService(db, router, maxAttempts, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create mirror service: %w", err)
	}
	roles, err := rolesync.NewService(db, mapping, maxAttempts, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create role-sync service: %w", err)
	}
	catalogs := catalog.NewStore(db, logger)
	ingestor, err := ingest.NewService(signals.NewStore(db, logger), mirrors, catalogs, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest service: %w", err)
	}

	return &services{
		db:      db,
		ingest:  ingestor,
		mirror:  mirrors,
		roles:   roles,
		ledger:  webhooks.NewLedger(db, roles, logger),
		catalog: catalogs,
	}, nil
}

type Server struct {
	router    *mux.Router
	logger    *logrus.Logger
	errLogger *appErrors.Logger
	svc       *services
	auth      *authenticator
	cfg       models.ServerConfig
	server    *http.Server
	now       func() time.Time
}

func NewServer(cfg models.ServerConfig, svc *services, auth *authenticator, logger *logrus.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		logger:    logger,
		errLogger: appErrors.NewLogger(logger),
		svc:       svc,
		auth:      auth,
		cfg:       cfg,
		now:       time.Now,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(
		middleware.Observability(s.logger),
		middleware.Recover(s.logger),
		middleware.RequestDetails(s.logger),
		middleware.LimitBody(constants.MaxRequestBodyBytes),
		versioning.Middleware(s.logger),
	)

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)
	s.router.HandleFunc("/version", s.handleVersion()).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/ingest/{tenantKey}/{connectorId}",
		s.auth.require(scopeIngest, s.handleIngest())).Methods(http.MethodPost)
	v1.HandleFunc("/catalog/{tenantKey}/{connectorId}/channels",
		s.auth.require(scopeIngest, s.handleListChannels())).Methods(http.MethodGet)

	queues := v1.PathPrefix("/queues/{queue}").Subrouter()
	queues.HandleFunc("/claim", s.auth.require(scopeWorker, s.handleClaim())).Methods(http.MethodPost)
	queues.HandleFunc("/complete", s.auth.require(scopeWorker, s.handleComplete())).Methods(http.MethodPost)

	v1.HandleFunc("/webhooks/{provider}",
		s.auth.require(scopeWebhook, s.handleWebhook())).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	port := s.cfg.Port
	if port == 0 {
		port = constants.DefaultServerPort
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  seconds(s.cfg.ReadTimeoutSec, constants.DefaultServerReadTimeoutSec),
		WriteTimeout: seconds(s.cfg.WriteTimeoutSec, constants.DefaultServerWriteTimeoutSec),
		IdleTimeout:  seconds(s.cfg.IdleTimeoutSec, constants.DefaultServerIdleTimeoutSec),
	}

	s.logger.Infof("Starting server on port %d", port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func seconds(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}
