package serve

import (
	"fmt"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	supporthttp "github.com/stellar/go-stellar-sdk/support/http"
	"github.com/stellar/go-stellar-sdk/support/log"

	"github.com/abdulrahimiqbal/RoluATM-sub000/db"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/crashtracker"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/data"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/monitor"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/serve/httperror"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/serve/httphandler"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/serve/middleware"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/services"
)

const ServiceID = "serve"

type HTTPServerInterface interface {
	Run(conf supporthttp.Config)
}

type HTTPServer struct{}

func (h *HTTPServer) Run(conf supporthttp.Config) {
	supporthttp.Run(conf)
}

type ServeOptions struct {
	Environment        string
	GitCommit          string
	Port               int
	Version            string
	MonitorService     monitor.MonitorServiceInterface
	DatabaseDSN        string
	dbConnectionPool   db.DBConnectionPool
	Models             *data.Models
	CorsAllowedOrigins []string
	CrashTrackerClient crashtracker.CrashTrackerClient

	// Coordinator configuration:
	CoinValue      decimal.Decimal
	Fee            decimal.Decimal
	MaxAmount      decimal.Decimal
	AuthWindow     time.Duration
	JobMaxAttempts int
	PayerBaseURL   string
	Verifier       services.ProofVerifier

	txCoordinator *services.TxCoordinator
	jobQueue      *services.JobQueue
}

// SetupDependencies uses the serve options to setup the dependencies for the server.
func (opts *ServeOptions) SetupDependencies() error {
	// Setup crash tracker:
	// Call crash tracker FlushEvents to flush buffered events before the server terminates
	defer opts.CrashTrackerClient.FlushEvents(2 * time.Second)
	// Call crash tracker Recover for recover from unhandled panics
	defer opts.CrashTrackerClient.Recover()
	// Set crash tracker LogAndReportErrors as DefaultReportErrorFunc
	httperror.SetDefaultReportErrorFunc(opts.CrashTrackerClient.LogAndReportErrors)

	// Setup Database:
	dbConnectionPool, err := db.OpenDBConnectionPoolWithMetrics(opts.DatabaseDSN, opts.MonitorService)
	if err != nil {
		return fmt.Errorf("error connecting to the database: %w", err)
	}
	opts.Models, err = data.NewModels(dbConnectionPool)
	if err != nil {
		return fmt.Errorf("error creating models for Serve: %w", err)
	}
	opts.dbConnectionPool = dbConnectionPool

	opts.txCoordinator, err = services.NewTxCoordinator(opts.Models, opts.Verifier, opts.MonitorService, services.TxCoordinatorOptions{
		CoinValue:      opts.CoinValue,
		Fee:            opts.Fee,
		MaxAmount:      opts.MaxAmount,
		AuthWindow:     opts.AuthWindow,
		JobMaxAttempts: opts.JobMaxAttempts,
		PayerBaseURL:   opts.PayerBaseURL,
	})
	if err != nil {
		return fmt.Errorf("error creating transaction coordinator: %w", err)
	}

	opts.jobQueue, err = services.NewJobQueue(opts.Models, opts.MonitorService)
	if err != nil {
		return fmt.Errorf("error creating job queue: %w", err)
	}

	return nil
}

func Serve(opts ServeOptions, httpServer HTTPServerInterface) error {
	err := opts.SetupDependencies()
	if err != nil {
		return fmt.Errorf("error starting dependencies: %w", err)
	}

	// Start the server
	listenAddr := fmt.Sprintf(":%d", opts.Port)
	serverConfig := supporthttp.Config{
		ListenAddr:          listenAddr,
		Handler:             handleHTTP(opts),
		TCPKeepAlive:        time.Minute * 3,
		ShutdownGracePeriod: time.Second * 50,
		ReadTimeout:         time.Second * 5,
		WriteTimeout:        time.Second * 35,
		IdleTimeout:         time.Minute * 2,
		OnStarting: func() {
			log.Info("Starting Coin Dispenser Coordinator Server")
			log.Infof("Listening on %s", listenAddr)
		},
		OnStopping: func() {
			log.Info("Closing the database connection...")
			err := opts.dbConnectionPool.Close()
			if err != nil {
				log.Errorf("error closing database connection: %s", err.Error())
			}

			log.Info("Stopping Coin Dispenser Coordinator Server")
		},
	}
	httpServer.Run(serverConfig)
	return nil
}

func handleHTTP(o ServeOptions) *chi.Mux {
	mux := chi.NewMux()

	// Middleware
	mux.Use(middleware.CorsMiddleware(o.CorsAllowedOrigins))
	mux.Use(chimiddleware.RequestID)
	mux.Use(chimiddleware.RealIP)
	mux.Use(supporthttp.LoggingMiddleware)
	mux.Use(middleware.RecoverHandler)
	mux.Use(middleware.MetricsRequestHandler(o.MonitorService))

	// Payer-facing routes; no kiosk identity involved.
	transactionsHandler := httphandler.TransactionsHandler{Coordinator: o.txCoordinator}
	mux.Post("/transaction/pay", transactionsHandler.PostPay)
	mux.Get("/transaction/{id}", transactionsHandler.GetTransaction)
	mux.Get("/transaction/{id}/events", transactionsHandler.GetTransactionEvents)

	// Kiosk-scoped routes; the attendant display and the agent both present
	// the kiosk identity header.
	jobsHandler := httphandler.JobsHandler{Queue: o.jobQueue}
	mux.Group(func(r chi.Router) {
		r.Use(middleware.KioskAuthMiddleware)
		r.Post("/transaction/create", transactionsHandler.PostCreate)
		r.Get("/jobs/pending", jobsHandler.GetPending)
		r.Post("/jobs/{id}/complete", jobsHandler.PostComplete)
		r.Get("/kiosks", httphandler.KiosksHandler{Models: o.Models}.GetKiosks)
	})

	mux.Get("/health", httphandler.HealthHandler{
		Version:          o.Version,
		ServiceID:        ServiceID,
		ReleaseID:        o.GitCommit,
		DBConnectionPool: o.dbConnectionPool,
	}.ServeHTTP)

	return mux
}
