// Package clients builds the clients the core talks to: a fresh data-plane
// client per caller credential pair, and the privileged administrative
// clients that are constructed at most once per process.
package clients

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/eteran/granary/internal/config"
	"github.com/eteran/granary/internal/rgw"
	"github.com/eteran/granary/internal/s3"
	"github.com/eteran/granary/internal/store"
)

type Factory struct {
	s3Config    s3.Config
	adminConfig rgw.Config
	limitConfig rgw.Config

	admin      func() (*rgw.AdminClient, error)
	rateLimits func() (*rgw.RateLimitClient, error)

	// newAdmin and newRateLimits build the privileged clients; tests count
	// their invocations.
	newAdmin      func(rgw.Config) (*rgw.AdminClient, error)
	newRateLimits func(rgw.Config) (*rgw.RateLimitClient, error)
}

var _ store.Connector = (*Factory)(nil)

type Option func(*options)

type options struct {
	transport http.RoundTripper
}

// WithTransport sets the HTTP transport shared by every client the factory
// builds.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

// New validates the endpoint configuration. A malformed data-plane endpoint
// is a startup error; bad credentials only surface on the first remote call.
func New(cfg config.Config, opts ...Option) (*Factory, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	transport := o.transport

	if _, err := s3.ParseEndpoint(cfg.S3Endpoint); err != nil {
		return nil, fmt.Errorf("data-plane endpoint: %w", err)
	}

	f := &Factory{
		s3Config: s3.Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.Region,
			Transport: transport,
		},
		adminConfig: rgw.Config{
			Endpoint:  cfg.AdminEndpoint,
			AccessKey: cfg.AdminAccessKey,
			SecretKey: cfg.AdminSecretKey,
			Region:    cfg.Region,
			Transport: transport,
		},
		limitConfig: rgw.Config{
			Endpoint:  cfg.RateLimitEndpoint,
			AccessKey: cfg.AdminAccessKey,
			SecretKey: cfg.AdminSecretKey,
			Region:    cfg.Region,
			Transport: transport,
		},
		newAdmin:      rgw.NewAdminClient,
		newRateLimits: rgw.NewRateLimitClient,
	}
	f.reset()
	return f, nil
}

func (f *Factory) reset() {
	f.admin = sync.OnceValues(func() (*rgw.AdminClient, error) {
		slog.Debug("Building admin client", "endpoint", f.adminConfig.Endpoint)
		return f.newAdmin(f.adminConfig)
	})
	f.rateLimits = sync.OnceValues(func() (*rgw.RateLimitClient, error) {
		slog.Debug("Building rate-limit client", "endpoint", f.limitConfig.Endpoint)
		return f.newRateLimits(f.limitConfig)
	})
}

// Connect builds a new data-plane client bound to key. Clients are not
// cached because their identity differs per caller.
func (f *Factory) Connect(key store.Key) (store.DataPlane, error) {
	client, err := s3.New(f.s3Config, key)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Admin returns the shared administrative client. Concurrent first callers
// block until the single construction finishes and then share its result.
func (f *Factory) Admin() (*rgw.AdminClient, error) {
	return f.admin()
}

// RateLimits returns the shared client of the rate-limit channel.
func (f *Factory) RateLimits() (*rgw.RateLimitClient, error) {
	return f.rateLimits()
}
