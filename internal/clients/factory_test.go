package clients_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eteran/granary/internal/clients"
	"github.com/eteran/granary/internal/config"
	"github.com/eteran/granary/internal/store"
)

func testConfig() config.Config {
	return config.NewConfig(
		config.WithS3Endpoint("http://rgw.test:7480"),
		config.WithAdminCredentials("ops", "ops-secret"),
	)
}

func TestNewRejectsMalformedEndpoint(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.S3Endpoint = "rgw.test:7480"
	_, err := clients.New(cfg)
	require.Error(t, err)
}

func TestConnectBuildsFreshClients(t *testing.T) {
	t.Parallel()

	factory, err := clients.New(testConfig())
	require.NoError(t, err)

	a, err := factory.Connect(store.Key{AccessKey: "a", SecretKey: "a-secret"})
	require.NoError(t, err)
	b, err := factory.Connect(store.Key{AccessKey: "a", SecretKey: "a-secret"})
	require.NoError(t, err)
	require.NotSame(t, a, b)

	_, err = factory.Connect(store.Key{AccessKey: "a"})
	require.ErrorIs(t, err, store.ErrInvalidArgument)
}

func TestAdminIsBuiltOnce(t *testing.T) {
	t.Parallel()

	factory, err := clients.New(testConfig())
	require.NoError(t, err)

	var builds atomic.Int32
	clients.CountAdminBuilds(factory, func() { builds.Add(1) })

	const callers = 32
	var wg sync.WaitGroup
	results := make([]any, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admin, err := factory.Admin()
			require.NoError(t, err)
			results[i] = admin
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, builds.Load())
	for _, r := range results {
		require.Same(t, results[0], r)
	}
}

func TestAdminReportsConfigurationError(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.AdminSecretKey = ""
	factory, err := clients.New(cfg)
	require.NoError(t, err)

	_, err = factory.Admin()
	require.Error(t, err)
	_, err = factory.RateLimits()
	require.Error(t, err)
}
