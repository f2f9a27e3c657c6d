package cmd

import (
	"context"
	"fmt"
	"go/types"
	"time"

	"github.com/spf13/cobra"
	"github.com/stellar/go-stellar-sdk/support/config"
	"github.com/stellar/go-stellar-sdk/support/log"

	cmdUtils "github.com/abdulrahimiqbal/RoluATM-sub000/cmd/utils"
	"github.com/abdulrahimiqbal/RoluATM-sub000/db"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/crashtracker"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/data"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/monitor"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/scheduler"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/serve"
	"github.com/abdulrahimiqbal/RoluATM-sub000/internal/services"
)

type ServeCommand struct{}

type ServerServiceInterface interface {
	StartServe(opts serve.ServeOptions, httpServer serve.HTTPServerInterface)
	StartMetricsServe(opts serve.MetricsServeOptions, httpServer serve.HTTPServerInterface)
	GetSchedulerJobRegistrars(ctx context.Context, janitorOptions JanitorOptions) ([]scheduler.SchedulerJobRegisterOption, error)
}

// JanitorOptions configures the background sweeps the scheduler runs next to
// the API server.
type JanitorOptions struct {
	StuckLeaseMaxAge        time.Duration
	ExpiredSweepInterval    time.Duration
	StuckLeaseSweepInterval time.Duration
}

type ServerService struct{}

// Making sure that ServerService implements ServerServiceInterface
var _ ServerServiceInterface = (*ServerService)(nil)

func (s *ServerService) StartServe(opts serve.ServeOptions, httpServer serve.HTTPServerInterface) {
	err := serve.Serve(opts, httpServer)
	if err != nil {
		log.Fatalf("Error starting server: %s", err.Error())
	}
}

func (s *ServerService) StartMetricsServe(opts serve.MetricsServeOptions, httpServer serve.HTTPServerInterface) {
	err := serve.MetricsServe(opts, httpServer)
	if err != nil {
		log.Fatalf("Error starting metrics server: %s", err.Error())
	}
}

func (s *ServerService) GetSchedulerJobRegistrars(ctx context.Context, janitorOptions JanitorOptions) ([]scheduler.SchedulerJobRegisterOption, error) {
	dbConnectionPool, err := db.OpenDBConnectionPool(globalOptions.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("getting DB connection in Job Scheduler: %w", err)
	}
	models, err := data.NewModels(dbConnectionPool)
	if err != nil {
		return nil, fmt.Errorf("creating models in Job Scheduler: %w", err)
	}
	janitor, err := services.NewJanitor(models, janitorOptions.StuckLeaseMaxAge)
	if err != nil {
		return nil, fmt.Errorf("creating janitor in Job Scheduler: %w", err)
	}

	return []scheduler.SchedulerJobRegisterOption{
		scheduler.WithExpiredTransactionsJobOption(janitor, janitorOptions.ExpiredSweepInterval),
		scheduler.WithStuckLeasesJobOption(janitor, janitorOptions.StuckLeaseSweepInterval),
	}, nil
}

func (c *ServeCommand) Command(serverService ServerServiceInterface, monitorService monitor.MonitorServiceInterface) *cobra.Command {
	serveOpts := serve.ServeOptions{}

	var (
		authWindowMinutes           int
		stuckLeaseMaxAgeSeconds     int
		expiredSweepIntervalSeconds int
		stuckLeaseSweepIntervalSecs int
		enableScheduler             bool
		verifyURL                   string
		verifyActionID              string
	)

	configOpts := config.ConfigOptions{
		{
			Name:        "port",
			Usage:       "Port where the server will be listening on",
			OptType:     types.Int,
			ConfigKey:   &serveOpts.Port,
			FlagDefault: 8000,
			Required:    true,
		},
		{
			Name:           "cors-allowed-origins",
			Usage:          `Cors URLs that are allowed to access the endpoints, separated by ","`,
			OptType:        types.String,
			CustomSetValue: cmdUtils.SetCorsAllowedOrigins,
			ConfigKey:      &serveOpts.CorsAllowedOrigins,
			FlagDefault:    "*",
			Required:       true,
		},
		{
			Name:        "payer-base-url",
			Usage:       "The base URL of the payer-facing web app. Transaction ids are appended to it to form the payment URL shown at the kiosk.",
			OptType:     types.String,
			ConfigKey:   &serveOpts.PayerBaseURL,
			FlagDefault: "http://localhost:3000/pay",
			Required:    true,
		},
		{
			Name:           "coin-value",
			Usage:          "The value of a single dispensed coin, in dollars.",
			OptType:        types.String,
			CustomSetValue: cmdUtils.SetConfigOptionDecimal,
			ConfigKey:      &serveOpts.CoinValue,
			FlagDefault:    "0.25",
			Required:       true,
		},
		{
			Name:           "fee",
			Usage:          "The flat fee added to every transaction, in dollars.",
			OptType:        types.String,
			CustomSetValue: cmdUtils.SetConfigOptionDecimal,
			ConfigKey:      &serveOpts.Fee,
			FlagDefault:    "0.50",
			Required:       true,
		},
		{
			Name:           "max-amount",
			Usage:          "The maximum amount a single transaction may request, in dollars.",
			OptType:        types.String,
			CustomSetValue: cmdUtils.SetConfigOptionDecimal,
			ConfigKey:      &serveOpts.MaxAmount,
			FlagDefault:    "500.00",
			Required:       true,
		},
		{
			Name:        "auth-window-minutes",
			Usage:       "How long a pending transaction stays payable before it expires, in minutes.",
			OptType:     types.Int,
			ConfigKey:   &authWindowMinutes,
			FlagDefault: 15,
			Required:    true,
		},
		{
			Name:        "job-max-attempts",
			Usage:       "How many dispense attempts a job gets before it is marked as failed.",
			OptType:     types.Int,
			ConfigKey:   &serveOpts.JobMaxAttempts,
			FlagDefault: 3,
			Required:    true,
		},
		{
			Name:        "stuck-lease-max-age-seconds",
			Usage:       "How long an in-progress dispense job may go without a report before its lease is considered lost, in seconds.",
			OptType:     types.Int,
			ConfigKey:   &stuckLeaseMaxAgeSeconds,
			FlagDefault: 120,
			Required:    true,
		},
		{
			Name:        "expired-sweep-interval-seconds",
			Usage:       "How often the janitor sweeps expired transactions, in seconds.",
			OptType:     types.Int,
			ConfigKey:   &expiredSweepIntervalSeconds,
			FlagDefault: 60,
			Required:    true,
		},
		{
			Name:        "stuck-lease-sweep-interval-seconds",
			Usage:       "How often the janitor revives stuck dispense leases, in seconds.",
			OptType:     types.Int,
			ConfigKey:   &stuckLeaseSweepIntervalSecs,
			FlagDefault: 60,
			Required:    true,
		},
		{
			Name:        "enable-scheduler",
			Usage:       "Enable the background janitor jobs (expired transactions and stuck leases).",
			OptType:     types.Bool,
			ConfigKey:   &enableScheduler,
			FlagDefault: true,
			Required:    false,
		},
		{
			Name:      "verify-url",
			Usage:     "The URL of the external proof verification service. If empty, every proof is accepted; that is refused outside development.",
			OptType:   types.String,
			ConfigKey: &verifyURL,
			Required:  false,
		},
		{
			Name:      "verify-action-id",
			Usage:     "The action id proofs must be bound to when calling the verification service.",
			OptType:   types.String,
			ConfigKey: &verifyActionID,
			Required:  false,
		},
	}

	// crash tracker options
	crashTrackerOptions := crashtracker.CrashTrackerOptions{}
	configOpts = append(configOpts,
		&config.ConfigOption{
			Name:           "crash-tracker-type",
			Usage:          `Crash tracker type. Options: "SENTRY", "DRY_RUN"`,
			OptType:        types.String,
			CustomSetValue: cmdUtils.SetConfigOptionCrashTrackerType,
			ConfigKey:      &crashTrackerOptions.CrashTrackerType,
			FlagDefault:    "DRY_RUN",
			Required:       true,
		})

	// metrics server options
	metricsServeOpts := serve.MetricsServeOptions{}
	configOpts = append(configOpts,
		&config.ConfigOption{
			Name:           "metrics-type",
			Usage:          `Metric monitor type. Options: "PROMETHEUS"`,
			OptType:        types.String,
			CustomSetValue: cmdUtils.SetConfigOptionMetricType,
			ConfigKey:      &metricsServeOpts.MetricType,
			FlagDefault:    "PROMETHEUS",
			Required:       true,
		},
		&config.ConfigOption{
			Name:        "metrics-port",
			Usage:       "Port where the metrics server will be listening on",
			OptType:     types.Int,
			ConfigKey:   &metricsServeOpts.Port,
			FlagDefault: 8002,
			Required:    true,
		})

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the RoluATM coordinator API",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.Parent().PersistentPreRun(cmd.Parent(), args)

			// Validate & ingest input parameters
			configOpts.Require()
			err := configOpts.SetValues()
			if err != nil {
				log.Fatalf("Error setting values of config options: %s", err.Error())
			}

			// Initializing monitor service
			metricOptions := monitor.MetricOptions{
				MetricType:  metricsServeOpts.MetricType,
				Environment: globalOptions.Environment,
			}

			err = monitorService.Start(metricOptions)
			if err != nil {
				log.Fatalf("Error creating monitor service: %s", err.Error())
			}

			// Inject crash tracker options dependencies
			globalOptions.PopulateCrashTrackerOptions(&crashTrackerOptions)

			// Inject server dependencies
			serveOpts.Environment = globalOptions.Environment
			serveOpts.GitCommit = globalOptions.GitCommit
			serveOpts.DatabaseDSN = globalOptions.DatabaseURL
			serveOpts.Version = globalOptions.Version
			serveOpts.MonitorService = monitorService
			serveOpts.AuthWindow = time.Duration(authWindowMinutes) * time.Minute

			// Inject metrics server dependencies
			metricsServeOpts.MonitorService = monitorService
			metricsServeOpts.Environment = globalOptions.Environment
		},
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()

			// Setup the Crash Tracker client
			crashTrackerClient, err := crashtracker.GetClient(ctx, crashTrackerOptions)
			if err != nil {
				log.Ctx(ctx).Fatalf("error creating crash tracker client: %s", err.Error())
			}
			serveOpts.CrashTrackerClient = crashTrackerClient

			// Setup the proof verifier. Accept-all is a development convenience
			// only; coins must never leave a machine on an unchecked proof.
			if verifyURL == "" {
				if globalOptions.Environment != "development" {
					log.Ctx(ctx).Fatalf("verify-url is required in the %q environment", globalOptions.Environment)
				}
				log.Ctx(ctx).Warn("No verify-url configured, accepting every proof. Development only.")
				serveOpts.Verifier = services.AlwaysAcceptVerifier{}
			} else {
				verifier, verifierErr := services.NewHTTPProofVerifier(verifyURL, verifyActionID)
				if verifierErr != nil {
					log.Ctx(ctx).Fatalf("error creating proof verifier: %s", verifierErr.Error())
				}
				serveOpts.Verifier = verifier
			}

			// Starting Scheduler Service (background janitor) if enabled
			if enableScheduler {
				log.Ctx(ctx).Info("Starting Scheduler Service...")
				janitorOptions := JanitorOptions{
					StuckLeaseMaxAge:        time.Duration(stuckLeaseMaxAgeSeconds) * time.Second,
					ExpiredSweepInterval:    time.Duration(expiredSweepIntervalSeconds) * time.Second,
					StuckLeaseSweepInterval: time.Duration(stuckLeaseSweepIntervalSecs) * time.Second,
				}
				schedulerJobRegistrars, innerErr := serverService.GetSchedulerJobRegistrars(ctx, janitorOptions)
				if innerErr != nil {
					log.Ctx(ctx).Fatalf("Error getting scheduler job registrars: %v", innerErr)
				}
				go scheduler.StartScheduler(crashTrackerClient.Clone(), schedulerJobRegistrars...)
			} else {
				log.Ctx(ctx).Warn("Scheduler Service is disabled.")
			}

			// Starting Metrics Server (background job)
			log.Ctx(ctx).Info("Starting Metrics Server...")
			go serverService.StartMetricsServe(metricsServeOpts, &serve.HTTPServer{})

			// Starting Application Server
			log.Ctx(ctx).Info("Starting Application Server...")
			serverService.StartServe(serveOpts, &serve.HTTPServer{})
		},
	}
	err := configOpts.Init(cmd)
	if err != nil {
		log.Fatalf("Error initializing a config option: %s", err.Error())
	}

	return cmd
}
