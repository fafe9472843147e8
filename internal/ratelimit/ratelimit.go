// Package ratelimit reads and writes per-user throughput limits through the
// separate rate-limit administration channel.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eteran/granary/internal/store"
)

// Channel is the rate-limit administration endpoint.
type Channel interface {
	UserRateLimit(ctx context.Context, uid string) (store.RateLimit, error)
	SetUserRateLimit(ctx context.Context, uid string, limit store.RateLimit) error
}

// Users lists every user id known to the administrative API.
type Users interface {
	Users(ctx context.Context) ([]string, error)
}

type Gateway struct {
	channel Channel
	users   Users
}

func New(channel Channel, users Users) *Gateway {
	return &Gateway{channel: channel, users: users}
}

// UserRateLimit returns the limit of uid. Errors from the channel are
// returned unchanged.
func (g *Gateway) UserRateLimit(ctx context.Context, uid string) (store.RateLimit, error) {
	return g.channel.UserRateLimit(ctx, uid)
}

func (g *Gateway) SetUserRateLimit(ctx context.Context, uid string, limit store.RateLimit) error {
	if err := g.channel.SetUserRateLimit(ctx, uid, limit); err != nil {
		return err
	}
	slog.Info("Set user rate limit",
		"user", uid,
		"enabled", limit.Enabled,
		"maxReadOps", limit.MaxReadOps,
		"maxWriteOps", limit.MaxWriteOps,
		"maxReadBytes", limit.MaxReadBytes,
		"maxWriteBytes", limit.MaxWriteBytes,
	)
	return nil
}

// AllUserRateLimits returns the limit of every user.
func (g *Gateway) AllUserRateLimits(ctx context.Context) (map[string]store.RateLimit, error) {
	users, err := g.users.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	limits := make(map[string]store.RateLimit, len(users))
	for _, uid := range users {
		limit, err := g.channel.UserRateLimit(ctx, uid)
		if err != nil {
			return nil, fmt.Errorf("get rate limit of %s: %w", uid, err)
		}
		limits[uid] = limit
	}
	return limits, nil
}
