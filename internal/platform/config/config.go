package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultRequestTimeout      = 20 * time.Second
	defaultVerifyTimeout       = 5 * time.Second
	defaultRoleClaim           = "role"
	defaultSecurityEnvironment = "local"
	defaultStorageBackend      = StorageMemory
	defaultPostgresTxAttempts  = 3
	defaultEventsBackend       = EventsNone
	defaultAMQPExchange        = "orders"
	defaultFreeShipping        = 30000
	defaultShippingFee         = 3000
	defaultReturnWindow        = 24 * time.Hour
	defaultMaxOrderLines       = 50
	defaultMaxLineQuantity     = 999
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyBackend  = "memory"
	defaultMetricsPath         = "/metrics"
)

// Storage backends.
const (
	StorageMemory    = "memory"
	StoragePostgres  = "postgres"
	StorageFirestore = "firestore"
)

// Event publisher backends.
const (
	EventsNone   = "none"
	EventsPubSub = "pubsub"
	EventsKafka  = "kafka"
	EventsAMQP   = "amqp"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Events      EventsConfig
	Orders      OrdersConfig
	Idempotency IdempotencyConfig
	Metrics     MetricsConfig
	Security    SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig selects the order and stock backend.
type StorageConfig struct {
	Backend string
	// SeedFile optionally loads catalog and members into the memory backend.
	SeedFile string
}

type PostgresConfig struct {
	DSN         string
	TxAttempts  int
	AutoMigrate bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EventsConfig selects where order events are published.
type EventsConfig struct {
	Backend      string
	PubSubTopic  string
	KafkaBrokers string
	KafkaTopic   string
	AMQPURL      string
	AMQPExchange string
}

// OrdersConfig holds pricing and lifecycle policy.
type OrdersConfig struct {
	FreeShippingThreshold int64
	ShippingFee           int64
	ReturnWindow          time.Duration
	MaxLines              int
	MaxQuantity           int64
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Backend  string
	Header   string
	TTL      time.Duration
	Required bool
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

// SecurityConfig groups authentication settings.
type SecurityConfig struct {
	Environment string
	// DevAuth accepts "<uid>:<roles>" bearer tokens instead of Firebase ID tokens. Local only.
	DevAuth bool
	// VerifyTimeout bounds a single ID token verification.
	VerifyTimeout time.Duration
	// RoleClaim names the custom token claim carrying staff roles.
	RoleClaim string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns hashed secret identifiers that are safe to log.
func (e *MissingSecretsError) RedactedNames() []string {
	return e.collect(func(s missingSecret) string { return s.redacted })
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	return e.collect(func(s missingSecret) string { return s.name })
}

func (e *MissingSecretsError) collect(pick func(missingSecret) string) []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, pick(secret))
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks secret fields (e.g. "Postgres.DSN") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
	for _, opt := range opts {
		opt(&options)
	}

	values, err := environmentValues(options)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:           stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:    durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout: durationWithDefault(lookup, "API_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			Backend:  strings.ToLower(stringWithDefault(lookup, "API_STORAGE_BACKEND", defaultStorageBackend)),
			SeedFile: stringWithDefault(lookup, "API_STORAGE_SEED_FILE", ""),
		},
		Postgres: PostgresConfig{
			DSN:         stringWithDefault(lookup, "API_POSTGRES_DSN", ""),
			TxAttempts:  intWithDefault(lookup, "API_POSTGRES_TX_ATTEMPTS", defaultPostgresTxAttempts),
			AutoMigrate: boolWithDefault(lookup, "API_POSTGRES_AUTO_MIGRATE", false),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "API_REDIS_DB", 0),
		},
		Events: EventsConfig{
			Backend:      strings.ToLower(stringWithDefault(lookup, "API_EVENTS_BACKEND", defaultEventsBackend)),
			PubSubTopic:  stringWithDefault(lookup, "API_EVENTS_PUBSUB_TOPIC", ""),
			KafkaBrokers: stringWithDefault(lookup, "API_EVENTS_KAFKA_BROKERS", ""),
			KafkaTopic:   stringWithDefault(lookup, "API_EVENTS_KAFKA_TOPIC", ""),
			AMQPURL:      stringWithDefault(lookup, "API_EVENTS_AMQP_URL", ""),
			AMQPExchange: stringWithDefault(lookup, "API_EVENTS_AMQP_EXCHANGE", defaultAMQPExchange),
		},
		Orders: OrdersConfig{
			FreeShippingThreshold: int64WithDefault(lookup, "API_ORDERS_FREE_SHIPPING_THRESHOLD", defaultFreeShipping),
			ShippingFee:           int64WithDefault(lookup, "API_ORDERS_SHIPPING_FEE", defaultShippingFee),
			ReturnWindow:          durationWithDefault(lookup, "API_ORDERS_RETURN_WINDOW", defaultReturnWindow),
			MaxLines:              intWithDefault(lookup, "API_ORDERS_MAX_LINES", defaultMaxOrderLines),
			MaxQuantity:           int64WithDefault(lookup, "API_ORDERS_MAX_QUANTITY", defaultMaxLineQuantity),
		},
		Idempotency: IdempotencyConfig{
			Backend:  strings.ToLower(stringWithDefault(lookup, "API_IDEMPOTENCY_BACKEND", defaultIdempotencyBackend)),
			Header:   stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:      durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			Required: boolWithDefault(lookup, "API_IDEMPOTENCY_REQUIRED", false),
		},
		Metrics: MetricsConfig{
			Enabled: boolWithDefault(lookup, "API_METRICS_ENABLED", true),
			Path:    stringWithDefault(lookup, "API_METRICS_PATH", defaultMetricsPath),
		},
		Security: SecurityConfig{
			Environment:   strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			DevAuth:       boolWithDefault(lookup, "API_SECURITY_DEV_AUTH", false),
			VerifyTimeout: durationWithDefault(lookup, "API_SECURITY_VERIFY_TIMEOUT", defaultVerifyTimeout),
			RoleClaim:     stringWithDefault(lookup, "API_SECURITY_ROLE_CLAIM", defaultRoleClaim),
		},
	}

	// Firestore project defaults to Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}

	resolvedSecrets := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Postgres.DSN", &cfg.Postgres.DSN},
		{"Redis.Password", &cfg.Redis.Password},
		{"Events.AMQPURL", &cfg.Events.AMQPURL},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string
	add := func(field string) { missing = append(missing, field) }

	if cfg.Server.Port == "" {
		add("Server.Port")
	}
	if cfg.Security.DevAuth && cfg.Security.Environment != defaultSecurityEnvironment {
		add("Security.DevAuth")
	}
	if !cfg.Security.DevAuth && cfg.Firebase.ProjectID == "" {
		add("Firebase.ProjectID")
	}

	switch cfg.Storage.Backend {
	case StorageMemory:
	case StoragePostgres:
		if cfg.Postgres.DSN == "" {
			add("Postgres.DSN")
		}
		if cfg.Postgres.TxAttempts <= 0 {
			add("Postgres.TxAttempts")
		}
	case StorageFirestore:
		if cfg.Firestore.ProjectID == "" {
			add("Firestore.ProjectID")
		}
	default:
		add("Storage.Backend")
	}

	switch cfg.Events.Backend {
	case EventsNone:
	case EventsPubSub:
		if cfg.Events.PubSubTopic == "" {
			add("Events.PubSubTopic")
		}
	case EventsKafka:
		if cfg.Events.KafkaBrokers == "" {
			add("Events.KafkaBrokers")
		}
		if cfg.Events.KafkaTopic == "" {
			add("Events.KafkaTopic")
		}
	case EventsAMQP:
		if cfg.Events.AMQPURL == "" {
			add("Events.AMQPURL")
		}
	default:
		add("Events.Backend")
	}

	if cfg.Orders.FreeShippingThreshold < 0 {
		add("Orders.FreeShippingThreshold")
	}
	if cfg.Orders.ShippingFee < 0 {
		add("Orders.ShippingFee")
	}
	if cfg.Orders.ReturnWindow <= 0 {
		add("Orders.ReturnWindow")
	}
	if cfg.Orders.MaxLines <= 0 {
		add("Orders.MaxLines")
	}
	if cfg.Orders.MaxQuantity <= 0 {
		add("Orders.MaxQuantity")
	}

	switch cfg.Idempotency.Backend {
	case "memory":
	case "redis":
		if cfg.Redis.Addr == "" {
			add("Redis.Addr")
		}
	case "firestore":
		if cfg.Firestore.ProjectID == "" {
			add("Firestore.ProjectID")
		}
	default:
		add("Idempotency.Backend")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		add("Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		add("Idempotency.TTL")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		add("Metrics.Path")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: dedupe(missing)}
	}
	return nil
}

func dedupe(fields []string) []string {
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	if len(required) == 0 {
		return nil
	}
	missing := make([]missingSecret, 0, len(required))
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if value := strings.TrimSpace(resolved[trimmed]); value != "" {
			continue
		}
		missing = append(missing, missingSecret{
			name:     trimmed,
			redacted: redactSecretName(trimmed),
		})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}
