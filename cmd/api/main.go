package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/productshop/api/internal/di"
	"github.com/productshop/api/internal/handlers"
	"github.com/productshop/api/internal/platform/auth"
	"github.com/productshop/api/internal/platform/config"
	"github.com/productshop/api/internal/platform/idempotency"
	"github.com/productshop/api/internal/platform/metrics"
	"github.com/productshop/api/internal/platform/observability"
	"github.com/productshop/api/internal/platform/secrets"
	"github.com/productshop/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues(config.WithEnvFile(envFilePath()))
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithEnvFile(""),
		config.WithEnvMap(envValues),
		config.WithoutSystemEnv(),
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	registry, err := di.OpenRegistry(ctx, cfg, logger.Named("storage"))
	if err != nil {
		logger.Fatal("failed to open storage backend", zap.String("backend", cfg.Storage.Backend), zap.Error(err))
	}

	publisher, err := di.NewEventPublisher(ctx, cfg)
	if err != nil {
		_ = registry.Close(ctx)
		logger.Fatal("failed to initialise order event publisher", zap.String("backend", cfg.Events.Backend), zap.Error(err))
	}
	logger.Info("order events configured", zap.String("backend", cfg.Events.Backend), zap.Bool("enabled", publisher != nil))

	idem, err := di.NewIdempotency(cfg)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := idem.Close(closeCtx); err != nil {
			logger.Warn("idempotency store close error", zap.Error(err))
		}
	}()

	var metricsRegistry *metrics.Registry
	if cfg.Metrics.Enabled {
		metricsRegistry = metrics.New()
	}

	containerOpts := []di.Option{
		di.WithLogger(logger.Named("orders")),
		di.WithBuildInfo(buildInfo),
		di.WithMetrics(metricsRegistry),
		di.WithClock(utcNow),
	}
	if publisher != nil {
		containerOpts = append(containerOpts, di.WithEventPublisher(publisher))
	}
	if idem.Check != nil {
		containerOpts = append(containerOpts, di.WithHealthChecks(*idem.Check))
	}
	container, err := di.NewContainer(ctx, cfg, registry, containerOpts...)
	if err != nil {
		_ = registry.Close(ctx)
		logger.Fatal("failed to initialise container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	authenticator, err := newAuthenticator(ctx, logger.Named("auth"), cfg)
	if err != nil {
		logger.Fatal("failed to initialise authenticator", zap.Error(err))
	}

	idempotencyMiddleware := idempotency.Middleware(
		idem.Store,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithRequired(cfg.Idempotency.Required),
		idempotency.WithLogger(logger.Named("idempotency")),
		idempotency.WithClock(utcNow),
	)

	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, container.Services.Checkout,
		handlers.WithPlacementMiddlewares(idempotencyMiddleware),
	)
	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Orders)
	adminHandlers := handlers.NewAdminOrderHandlers(authenticator, container.Services.Orders)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}
	if metricsRegistry != nil {
		middlewares = append(middlewares, metricsRegistry.Middleware)
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(container.Services.System),
		handlers.WithHealthClock(utcNow),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithAdminMiddlewares(chimiddleware.NoCache),
	}
	if metricsRegistry != nil {
		opts = append(opts, handlers.WithMetricsHandler(cfg.Metrics.Path, metricsRegistry.Handler()))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(
		zap.String("addr", server.Addr),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("events", cfg.Events.Backend),
	)
	go func() {
		serverLogger.Info("order api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newAuthenticator(ctx context.Context, logger *zap.Logger, cfg config.Config) (*auth.Authenticator, error) {
	if cfg.Security.DevAuth {
		logger.Warn("development bearer tokens enabled", zap.String("environment", cfg.Security.Environment))
		return auth.NewAuthenticator(auth.DevVerifier{}, authOptions(cfg)...), nil
	}
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		return nil, err
	}
	return auth.NewAuthenticator(verifier, authOptions(cfg)...), nil
}

func authOptions(cfg config.Config) []auth.Option {
	return []auth.Option{
		auth.WithVerificationTimeout(cfg.Security.VerifyTimeout),
		auth.WithRoleClaim(cfg.Security.RoleClaim),
	}
}

// envFilePath lets deployments point at a different dotenv file. An empty API_ENV_FILE keeps ".env".
func envFilePath() string {
	if path := strings.TrimSpace(os.Getenv("API_ENV_FILE")); path != "" {
		return path
	}
	return ".env"
}

func utcNow() time.Time {
	return time.Now().UTC()
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projects := parsePairs(env["API_SECRET_PROJECT_IDS"], strings.ToLower); len(projects) > 0 {
		opts = append(opts, secrets.WithProjectMap(projects))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := secretVersionPinsFromEnv(env); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the config fields that must resolve for the selected backends.
func requiredSecretNames(env map[string]string) []string {
	backend := func(key string) string {
		return strings.ToLower(strings.TrimSpace(env[key]))
	}

	var required []string
	if backend("API_STORAGE_BACKEND") == config.StoragePostgres {
		required = append(required, "Postgres.DSN")
	}
	if backend("API_EVENTS_BACKEND") == config.EventsAMQP {
		required = append(required, "Events.AMQPURL")
	}
	if backend("API_IDEMPOTENCY_BACKEND") == "redis" && strings.TrimSpace(env["API_REDIS_PASSWORD"]) != "" {
		required = append(required, "Redis.Password")
	}
	sort.Strings(required)
	return required
}

// secretVersionPinsFromEnv parses API_SECRET_VERSION_PINS entries of the form
// "[env:]name=version" into canonical secret:// references.
func secretVersionPinsFromEnv(env map[string]string) map[string]string {
	raw := parsePairs(env["API_SECRET_VERSION_PINS"], nil)
	pins := make(map[string]string, len(raw))
	for ref, version := range raw {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		switch {
		case strings.HasPrefix(ref, "sm://"):
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		case !strings.HasPrefix(ref, "secret://"):
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

// parsePairs reads a comma separated "key=value" list, skipping malformed entries.
func parsePairs(raw string, normaliseKey func(string) string) map[string]string {
	result := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if normaliseKey != nil {
			key = normaliseKey(key)
		}
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}
