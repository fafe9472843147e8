package rgw

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/eteran/granary/internal/store"
)

// RateLimitClient talks to the rate-limit administration channel, which is
// configured independently of the main admin API.
type RateLimitClient struct {
	*signedClient
}

func NewRateLimitClient(cfg Config) (*RateLimitClient, error) {
	base, err := newSignedClient(cfg)
	if err != nil {
		return nil, err
	}
	return &RateLimitClient{base}, nil
}

func (r *RateLimitClient) UserRateLimit(ctx context.Context, uid string) (store.RateLimit, error) {
	params := url.Values{}
	params.Set("ratelimit-scope", "user")
	params.Set("uid", uid)

	result, err := call[rateLimitResponse](ctx, r.signedClient, http.MethodGet, "ratelimit", params)
	if err != nil {
		return store.RateLimit{}, err
	}

	info := result.UserRateLimit
	return store.RateLimit{
		MaxReadOps:    info.MaxReadOps,
		MaxWriteOps:   info.MaxWriteOps,
		MaxReadBytes:  info.MaxReadBytes,
		MaxWriteBytes: info.MaxWriteBytes,
		Enabled:       info.Enabled,
	}, nil
}

func (r *RateLimitClient) SetUserRateLimit(ctx context.Context, uid string, limit store.RateLimit) error {
	params := url.Values{}
	params.Set("ratelimit-scope", "user")
	params.Set("uid", uid)
	params.Set("max-read-ops", formatInt(limit.MaxReadOps))
	params.Set("max-write-ops", formatInt(limit.MaxWriteOps))
	params.Set("max-read-bytes", formatInt(limit.MaxReadBytes))
	params.Set("max-write-bytes", formatInt(limit.MaxWriteBytes))
	params.Set("enabled", strconv.FormatBool(limit.Enabled))

	return r.exec(ctx, http.MethodPost, "ratelimit", params)
}
