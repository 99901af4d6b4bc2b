package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, env map[string]string, opts ...Option) (Config, error) {
	t.Helper()
	base := []Option{WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")}
	return Load(context.Background(), append(base, opts...)...)
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := load(t, map[string]string{"API_FIREBASE_PROJECT_ID": "shop-dev"})
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "shop-dev", cfg.Firestore.ProjectID, "firestore project defaults to firebase project")
	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
	assert.Equal(t, EventsNone, cfg.Events.Backend)
	assert.Equal(t, int64(30000), cfg.Orders.FreeShippingThreshold)
	assert.Equal(t, int64(3000), cfg.Orders.ShippingFee)
	assert.Equal(t, 24*time.Hour, cfg.Orders.ReturnWindow)
	assert.Equal(t, 50, cfg.Orders.MaxLines)
	assert.Equal(t, int64(999), cfg.Orders.MaxQuantity)
	assert.Equal(t, "Idempotency-Key", cfg.Idempotency.Header)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, "memory", cfg.Idempotency.Backend)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "local", cfg.Security.Environment)
	assert.Equal(t, 5*time.Second, cfg.Security.VerifyTimeout)
	assert.Equal(t, "role", cfg.Security.RoleClaim)
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                    "9090",
		"API_SERVER_REQUEST_TIMEOUT":         "5s",
		"API_FIREBASE_PROJECT_ID":            "shop-prod",
		"API_FIRESTORE_PROJECT_ID":           "shop-store",
		"API_STORAGE_BACKEND":                "Postgres",
		"API_POSTGRES_DSN":                   "secret://postgres/dsn",
		"API_POSTGRES_TX_ATTEMPTS":           "5",
		"API_POSTGRES_AUTO_MIGRATE":          "yes",
		"API_REDIS_ADDR":                     "redis:6379",
		"API_REDIS_PASSWORD":                 "sm://redis/password",
		"API_EVENTS_BACKEND":                 "amqp",
		"API_EVENTS_AMQP_URL":                "secret://amqp/url",
		"API_ORDERS_FREE_SHIPPING_THRESHOLD": "50000",
		"API_ORDERS_SHIPPING_FEE":            "2500",
		"API_ORDERS_RETURN_WINDOW":           "72h",
		"API_IDEMPOTENCY_BACKEND":            "redis",
		"API_IDEMPOTENCY_REQUIRED":           "true",
		"API_SECURITY_ENVIRONMENT":           "PROD",
		"API_SECURITY_VERIFY_TIMEOUT":        "2s",
		"API_SECURITY_ROLE_CLAIM":            "shop_roles",
	}
	secrets := map[string]string{
		"secret://postgres/dsn":   "postgres://shop@db/shop",
		"secret://redis/password": "hunter2",
		"secret://amqp/url":       "amqp://guest:guest@mq:5672/",
	}
	var requested []string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		requested = append(requested, ref)
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("not found")
	})

	cfg, err := load(t, env, WithSecretResolver(resolver), WithRequiredSecrets("Postgres.DSN"))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "shop-store", cfg.Firestore.ProjectID)
	assert.Equal(t, StoragePostgres, cfg.Storage.Backend)
	assert.Equal(t, "postgres://shop@db/shop", cfg.Postgres.DSN)
	assert.Equal(t, 5, cfg.Postgres.TxAttempts)
	assert.True(t, cfg.Postgres.AutoMigrate)
	assert.Equal(t, "hunter2", cfg.Redis.Password, "legacy sm:// references resolve too")
	assert.Equal(t, "amqp://guest:guest@mq:5672/", cfg.Events.AMQPURL)
	assert.Equal(t, "orders", cfg.Events.AMQPExchange)
	assert.Equal(t, int64(50000), cfg.Orders.FreeShippingThreshold)
	assert.Equal(t, int64(2500), cfg.Orders.ShippingFee)
	assert.Equal(t, 72*time.Hour, cfg.Orders.ReturnWindow)
	assert.True(t, cfg.Idempotency.Required)
	assert.Equal(t, "prod", cfg.Security.Environment)
	assert.Equal(t, 2*time.Second, cfg.Security.VerifyTimeout)
	assert.Equal(t, "shop_roles", cfg.Security.RoleClaim)
	assert.ElementsMatch(t, []string{"secret://postgres/dsn", "secret://redis/password", "secret://amqp/url"}, requested)
}

func TestLoadDotEnvFallback(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env.test")
	content := "# local\nexport API_SERVER_PORT=7070\nAPI_FIREBASE_PROJECT_ID='shop-dot'\n"
	require.NoError(t, os.WriteFile(envPath, []byte(content), 0o644))

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "shop-dot", cfg.Firebase.ProjectID)
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]struct {
		env    map[string]string
		fields []string
	}{
		"firebase project required without dev auth": {
			env:    map[string]string{},
			fields: []string{"Firebase.ProjectID"},
		},
		"dev auth outside local": {
			env:    map[string]string{"API_SECURITY_DEV_AUTH": "true", "API_SECURITY_ENVIRONMENT": "prod"},
			fields: []string{"Security.DevAuth"},
		},
		"postgres without dsn": {
			env:    map[string]string{"API_SECURITY_DEV_AUTH": "true", "API_STORAGE_BACKEND": "postgres"},
			fields: []string{"Postgres.DSN"},
		},
		"unknown backends": {
			env: map[string]string{
				"API_SECURITY_DEV_AUTH":   "true",
				"API_STORAGE_BACKEND":     "mysql",
				"API_EVENTS_BACKEND":      "sns",
				"API_IDEMPOTENCY_BACKEND": "disk",
			},
			fields: []string{"Storage.Backend", "Events.Backend", "Idempotency.Backend"},
		},
		"kafka settings": {
			env:    map[string]string{"API_SECURITY_DEV_AUTH": "true", "API_EVENTS_BACKEND": "kafka"},
			fields: []string{"Events.KafkaBrokers", "Events.KafkaTopic"},
		},
		"redis idempotency without addr": {
			env:    map[string]string{"API_SECURITY_DEV_AUTH": "true", "API_IDEMPOTENCY_BACKEND": "redis"},
			fields: []string{"Redis.Addr"},
		},
		"negative pricing": {
			env: map[string]string{
				"API_SECURITY_DEV_AUTH":   "true",
				"API_ORDERS_SHIPPING_FEE": "-1",
				"API_ORDERS_MAX_LINES":    "0",
			},
			fields: []string{"Orders.ShippingFee", "Orders.MaxLines"},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := load(t, tc.env)
			var validation *ValidationError
			require.ErrorAs(t, err, &validation)
			assert.ElementsMatch(t, tc.fields, validation.Fields())
		})
	}
}

func TestLoadDevAuthSkipsFirebaseProject(t *testing.T) {
	cfg, err := load(t, map[string]string{"API_SECURITY_DEV_AUTH": "on"})
	require.NoError(t, err)
	assert.True(t, cfg.Security.DevAuth)
	assert.Empty(t, cfg.Firebase.ProjectID)
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "shop-dev",
		"API_POSTGRES_DSN":        "secret://missing",
	}

	_, err := load(t, env)
	var secretErr *SecretError
	require.ErrorAs(t, err, &secretErr)
	assert.Equal(t, "secret://missing", secretErr.Ref)
	assert.ErrorIs(t, err, errSecretResolverNotConfigured)
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	require.NoError(t, os.WriteFile(envPath, []byte(content), 0o600))

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
	}))
	require.NoError(t, err)

	assert.Equal(t, "override-project", values["API_FIREBASE_PROJECT_ID"])
	assert.Equal(t, ".dot.local", values["API_SECRET_FALLBACK_FILE"])
	assert.Equal(t, "prod=project-prod", values["API_SECRET_PROJECT_IDS"])
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{"API_FIREBASE_PROJECT_ID": "shop-dev"}

	_, err := load(t, env, WithRequiredSecrets("Events.AMQPURL", " ", "Events.AMQPURL"))
	var missing *MissingSecretsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{redactSecretName("Events.AMQPURL")}, missing.RedactedNames())
	assert.Equal(t, []string{"Events.AMQPURL"}, missing.Names())
}
