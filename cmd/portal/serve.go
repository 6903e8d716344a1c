package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-budget-auth"
	"github.com/goliatone/go-budget-auth/activitymap"
	"github.com/goliatone/go-budget-auth/approval"
	"github.com/goliatone/go-budget-auth/config"
	"github.com/goliatone/go-budget-auth/metrics"
	"github.com/goliatone/go-budget-auth/middleware/csrf"
	"github.com/goliatone/go-budget-auth/upstream"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

func newServeCommand() *cobra.Command {
	var (
		migrate         bool
		shutdownTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the access gateway and approval API",
		Long: `serve starts the HTTP gateway on PORTAL_LISTEN_ADDR and the Prometheus
endpoint on PORTAL_METRICS_ADDR. Every request passes the route policy
before reaching the session or approval handlers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := config.Load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), settings, migrate, shutdownTimeout)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "create the SQL tables before serving")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 15*time.Second, "time allowed for in flight requests on shutdown")
	return cmd
}

func runServe(ctx context.Context, settings config.Settings, migrate bool, shutdownTimeout time.Duration) error {
	lgr := newLogger(settings.LogLevel, settings.Debug)
	provider := loggerProvider(lgr)
	logger := provider.GetLogger("serve")

	if settings.Debug {
		redacted := settings
		redacted.SigningKey = "[redacted]"
		logger.Debug("settings", "settings", print.MaybePrettyJSON(redacted))
	}

	shutdownTracing, err := setupTracing(ctx, settings.OTelEndpoint, "budget-portal")
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	policy, err := loadPolicy(settings.PolicyFile)
	if err != nil {
		return err
	}

	codec, err := auth.NewTokenCodec([]byte(settings.SigningKey),
		auth.WithCodecIssuer(settings.Issuer),
		auth.WithClockSkew(settings.ClockSkew),
		auth.WithCodecLogger(provider.GetLogger("codec")),
	)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(registry)
	activity := activitymap.LoggingSink(provider.GetLogger("activity"))
	jar := auth.NewCookieJar(auth.CookiePolicyFromConfig(settings))

	identityAPI := upstream.NewClient(settings.UpstreamURL,
		upstream.WithTimeout(settings.UpstreamTimeout),
		upstream.WithLogger(provider.GetLogger("upstream")),
	)

	sessions := auth.NewSessionService(codec, identityAPI,
		auth.WithSessionTTLs(settings.SessionTTL, settings.RememberTTL, settings.RefreshTTL),
		auth.WithSessionLogger(provider.GetLogger("session")),
		auth.WithSessionActivitySink(activity),
		auth.WithSessionMetrics(recorder),
	)

	controller := auth.NewSessionController(sessions, jar, policy,
		auth.WithControllerLogger(provider.GetLogger("session.http")),
		auth.WithControllerDebug(settings.Debug),
		auth.WithControllerLimiter(auth.NewLoginLimiter(rate.Limit(settings.LoginAttemptsPerMinute/60), settings.LoginBurst)),
	)

	gateway := auth.NewGateway(codec, policy,
		auth.WithGatewayLogger(provider.GetLogger("gateway")),
		auth.WithGatewayCookieJar(jar),
		auth.WithGatewayActivitySink(activity),
		auth.WithGatewayMetrics(recorder),
	)

	store, closeStore, err := openStore(ctx, settings, provider, migrate)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("close plan store", "error", err)
		}
	}()

	machine := approval.NewStateMachine(store,
		approval.WithStateMachineLogger(provider.GetLogger("approval")),
		approval.WithStateMachineActivitySink(activity),
		approval.WithStateMachineMetrics(recorder),
	)
	handlers := approval.NewHandlers(machine,
		auth.NewStaticRoleDirectory(auth.RolesFromPolicy(policy)...),
		approval.WithHandlersLogger(provider.GetLogger("approval.http")),
	)

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:          true,
			StrictRouting:         false,
			DisableStartupMessage: true,
		}))
	})

	r := srv.Router()
	r.WithLogger(lgr.GetLogger("router"))
	r.Use(gateway.Middleware())
	if settings.CSRFProtect {
		r.Use(csrf.New(csrf.Config{SecureKey: csrf.KeyFromSecret(settings.SigningKey)}))
		csrf.RegisterRoutes(r)
	}
	r.Get("/healthz", func(c router.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"status": "ok"})
	}).SetName("healthz")
	auth.RegisterSessionRoutes(r, controller)
	approval.RegisterRoutes(r, handlers)

	metricsSrv := &http.Server{
		Addr:              settings.MetricsAddr,
		Handler:           metrics.Handler(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 2)
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("metrics: %w", err)
		}
	}()
	go func() {
		if err := srv.Serve(settings.ListenAddr); err != nil {
			serveErr <- fmt.Errorf("gateway: %w", err)
		}
	}()

	logger.Info("portal listening",
		"addr", settings.ListenAddr,
		"metrics", settings.MetricsAddr,
		"plan_store", settings.PlanStore,
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		logger.Error("listener failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("portal shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown", "error", err)
	}
	return runErr
}
