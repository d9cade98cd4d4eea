package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/carcrashlawyerai/backend/internal/config"
	"github.com/carcrashlawyerai/backend/internal/dvla"
	"github.com/carcrashlawyerai/backend/internal/email"
	"github.com/carcrashlawyerai/backend/internal/geocode"
	"github.com/carcrashlawyerai/backend/internal/handler"
	"github.com/carcrashlawyerai/backend/internal/middleware"
	"github.com/carcrashlawyerai/backend/internal/pdf"
	"github.com/carcrashlawyerai/backend/internal/report"
	"github.com/carcrashlawyerai/backend/internal/storage"
	"github.com/carcrashlawyerai/backend/internal/store"
	"github.com/carcrashlawyerai/backend/internal/watch"
)

// Server wires the stores, external-service clients, pipeline, and HTTP
// handlers together. All clients are constructed here and injected; nothing
// below holds package-level state.
type Server struct {
	db         *sql.DB
	webhookH   *handler.WebhookHandler
	stripeH    *handler.StripeHandler
	reportH    *handler.ReportHandler
	geocodeH   *handler.GeocodeHandler
	dispatcher *watch.Dispatcher
	sweeper    *watch.Sweeper
	logger     *slog.Logger
}

func New(cfg *config.Config, db *sql.DB, logger *slog.Logger) *Server {
	signupStore := store.NewSignupStore(db)
	incidentStore := store.NewIncidentStore(db)
	ledgerStore := store.NewLedgerStore(db)

	pdfClient := pdf.NewClient(cfg.PDFcoAPIKey)
	mailer := email.NewClient(cfg.PostmarkServerToken, cfg.EmailFrom)
	geocoder := geocode.NewClient(cfg.What3WordsAPIKey)
	vehicles := dvla.NewClient(cfg.DVLAAPIKey)

	backup := storage.NewBackup(storage.Config{
		Endpoint:      cfg.StorageEndpoint,
		Bucket:        cfg.StorageBucket,
		Region:        cfg.StorageRegion,
		AccessKey:     cfg.StorageAccessKey,
		SecretKey:     cfg.StorageSecretKey,
		RetentionDays: cfg.ReportRetentionDays,
	}, logger.With("component", "backup"))

	pipeline := report.NewPipeline(
		signupStore, incidentStore, ledgerStore,
		pdfClient, backup, mailer, vehicles,
		cfg.IncidentTemplateURL, cfg.InternalEmail,
		logger.With("component", "pipeline"),
	)

	dispatcher := watch.NewDispatcher(
		signupStore, incidentStore, pipeline,
		time.Duration(cfg.PollIntervalSeconds)*time.Second,
		logger.With("component", "dispatcher"),
	)

	sweeper := watch.NewSweeper(watch.SweeperConfig{
		Interval:      time.Duration(cfg.SweepIntervalMins) * time.Minute,
		RemindAfter:   time.Duration(cfg.ReminderAfterHours) * time.Hour,
		EscalateAfter: time.Duration(cfg.EscalateAfterDays) * 24 * time.Hour,
		InternalEmail: cfg.InternalEmail,
	}, signupStore, mailer, backup, logger.With("component", "sweeper"))

	return &Server{
		db:         db,
		webhookH:   handler.NewWebhookHandler(signupStore, incidentStore, geocoder, logger.With("component", "webhook")),
		stripeH:    handler.NewStripeHandler(signupStore, cfg.StripeWebhookSecret, logger.With("component", "stripe")),
		reportH:    handler.NewReportHandler(pipeline, logger.With("component", "report")),
		geocodeH:   handler.NewGeocodeHandler(geocoder, logger.With("component", "geocode")),
		dispatcher: dispatcher,
		sweeper:    sweeper,
		logger:     logger,
	}
}

// Start launches the dispatcher and sweeper loops.
func (s *Server) Start(ctx context.Context) {
	s.dispatcher.Start(ctx)
	s.sweeper.Start(ctx)
}

// Stop halts the background loops, waiting for in-flight pipelines.
func (s *Server) Stop() {
	s.dispatcher.Stop()
	s.sweeper.Stop()
}

// Router returns the HTTP handler with all routes registered.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.healthHandler)
	mux.HandleFunc("GET /incident-report/{docId}", s.reportH.Generate)
	mux.HandleFunc("GET /api/geocode", s.geocodeH.Convert)
	mux.HandleFunc("POST /webhook", s.stripeH.HandleWebhook)
	mux.HandleFunc("POST /webhook/signup", s.webhookH.HandleSignup)
	mux.HandleFunc("POST /webhook/incident", s.webhookH.HandleIncident)

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
