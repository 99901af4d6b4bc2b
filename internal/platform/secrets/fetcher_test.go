package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const dsnResource = "projects/test/secrets/postgres_dsn/versions/latest"

func writeFallback(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values[dsnResource] = "postgres://remote"

	fetcher, err := NewFetcher(ctx, withSecretManagerClient(client), WithDefaultProject("test"), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer fetcher.Close()

	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(ctx, "secret://postgres_dsn")
		require.NoError(t, err)
		assert.Equal(t, "postgres://remote", got)
	}
	assert.Equal(t, 1, client.callCount(dsnResource))

	fetcher.Invalidate("secret://postgres_dsn")
	_, err = fetcher.ResolveSecret(ctx, "secret://postgres_dsn")
	require.NoError(t, err)
	assert.Equal(t, 2, client.callCount(dsnResource), "invalidate forces a refetch")
}

func TestResolveFallsBackWhenSecretManagerUnavailable(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.errors[dsnResource] = status.Error(codes.PermissionDenied, "denied")

	fetcher, err := NewFetcher(ctx,
		withSecretManagerClient(client),
		WithDefaultProject("test"),
		WithFallbackFile(writeFallback(t, "# dev\nsm://postgres_dsn=postgres://local\n")),
	)
	require.NoError(t, err)

	got, err := fetcher.Resolve(ctx, "secret://postgres_dsn")
	require.NoError(t, err)
	assert.Equal(t, "postgres://local", got)
}

func TestResolveUsesEnvironmentProjectAndVersionPins(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values["projects/shop-prod/secrets/postgres_dsn/versions/5"] = "version-5"

	fetcher, err := NewFetcher(ctx,
		withSecretManagerClient(client),
		WithEnvironment("PROD"),
		WithDefaultProject("test"),
		WithProjectMap(map[string]string{"prod": "shop-prod"}),
		WithVersionPins(map[string]string{"prod:secret://postgres_dsn": "5", "secret://postgres_dsn": "2"}),
	)
	require.NoError(t, err)

	got, err := fetcher.Resolve(ctx, "secret://postgres_dsn")
	require.NoError(t, err)
	assert.Equal(t, "version-5", got)
}

func TestResolveDoesNotFallbackOnNotFound(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.errors[dsnResource] = status.Error(codes.NotFound, "missing")

	fetcher, err := NewFetcher(ctx,
		withSecretManagerClient(client),
		WithDefaultProject("test"),
		WithFallbackFile(writeFallback(t, "secret://postgres_dsn=postgres://local\n")),
	)
	require.NoError(t, err)

	_, err = fetcher.Resolve(ctx, "secret://postgres_dsn")
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(errors.Unwrap(err)))
}

func TestResolveRejectsMalformedReferences(t *testing.T) {
	fetcher, err := NewFetcher(context.Background(), withSecretManagerClient(newFakeSecretClient()))
	require.NoError(t, err)

	for _, ref := range []string{"", "https://example.com/x", "secret://"} {
		_, err := fetcher.Resolve(context.Background(), ref)
		assert.Error(t, err, ref)
	}
}

func TestNewFetcherWithoutCredentialsUsesFallback(t *testing.T) {
	original := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { secretManagerClientFactory = original })

	fetcher, err := NewFetcher(context.Background(),
		WithDefaultProject("test"),
		WithFallbackFile(writeFallback(t, "secret://redis_password=latest-value\n")),
	)
	require.NoError(t, err)
	defer fetcher.Close()

	value, err := fetcher.Resolve(context.Background(), "secret://redis_password")
	require.NoError(t, err)
	assert.Equal(t, "latest-value", value)

	_, err = fetcher.Resolve(context.Background(), "secret://amqp_url")
	assert.Error(t, err)
}

type fakeSecretClient struct {
	mu      sync.Mutex
	values  map[string]string
	errors  map[string]error
	counter map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values:  make(map[string]string),
		errors:  make(map[string]error),
		counter: make(map[string]int),
	}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := req.GetName()
	f.counter[name]++
	if err := f.errors[name]; err != nil {
		return nil, err
	}
	if value, ok := f.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
		}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (f *fakeSecretClient) Close() error { return nil }

func (f *fakeSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter[name]
}
