// Package quota reads and enforces per-user and per-bucket capacity limits.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/eteran/granary/internal/store"
)

// Admin is the part of the administrative API the engine drives.
type Admin interface {
	Users(ctx context.Context) ([]string, error)
	UserQuota(ctx context.Context, uid string) (store.Quota, error)
	SetUserQuota(ctx context.Context, uid string, q store.Quota) error
	DefaultBucketQuota(ctx context.Context, uid string) (store.Quota, error)
	SetBucketQuota(ctx context.Context, uid string, bucket string, q store.Quota) error
	BucketUsage(ctx context.Context, bucket string) (store.BucketUsage, error)
}

// Buckets lists the buckets visible to a credential pair.
type Buckets interface {
	ListBuckets(ctx context.Context, key store.Key) ([]store.Bucket, error)
}

// Usage is the quota of one bucket together with its live usage.
type Usage struct {
	Bucket     string `json:"bucket"`
	MaxSizeKB  int64  `json:"maxSizeKb"`
	MaxObjects int64  `json:"maxObjects"`
	ActualSize int64  `json:"actualSize"`
	Objects    int64  `json:"objects"`
}

// Utilization is the share of a bucket's size quota in use. Percent is only
// meaningful when Unbounded is false.
type Utilization struct {
	Percent   float64 `json:"percent"`
	Unbounded bool    `json:"unbounded"`
}

// CeilingError reports a bucket quota that would exceed its owner's
// account-wide ceiling.
type CeilingError struct {
	User      string
	Bucket    string
	Dimension string
	Requested int64
	Ceiling   int64
}

func (e *CeilingError) Error() string {
	requested := fmt.Sprint(e.Requested)
	if e.Requested < 0 {
		requested = "unlimited"
	}
	return fmt.Sprintf("bucket %s: %s %s exceeds ceiling %d of user %s", e.Bucket, e.Dimension, requested, e.Ceiling, e.User)
}

func (e *CeilingError) Unwrap() error {
	return store.ErrQuotaExceeded
}

type Engine struct {
	admin   Admin
	buckets Buckets
}

func New(admin Admin, buckets Buckets) *Engine {
	return &Engine{admin: admin, buckets: buckets}
}

// BucketQuota returns the bucket's quota and its usage as reported by the
// store right now. Nothing is cached between calls.
func (e *Engine) BucketQuota(ctx context.Context, bucket string) (Usage, error) {
	report, err := e.admin.BucketUsage(ctx, bucket)
	if err != nil {
		return Usage{}, fmt.Errorf("get usage of bucket %s: %w", bucket, err)
	}
	return Usage{
		Bucket:     bucket,
		MaxSizeKB:  report.Quota.MaxSizeKB,
		MaxObjects: report.Quota.MaxObjects,
		ActualSize: report.ActualSize,
		Objects:    report.Objects,
	}, nil
}

// SetBucketQuota applies q to the bucket unless it exceeds the user's
// account-wide quota on either dimension, in which case a *CeilingError is
// returned and nothing is changed. A disabled user quota or a negative user
// ceiling is unlimited; a negative request against a bounded ceiling is
// rejected.
func (e *Engine) SetBucketQuota(ctx context.Context, uid string, bucket string, q store.Quota) (store.Quota, error) {
	ceiling, err := e.admin.UserQuota(ctx, uid)
	if err != nil {
		return store.Quota{}, fmt.Errorf("get quota of user %s: %w", uid, err)
	}
	if !ceiling.Enabled {
		// The gateway does not enforce a disabled quota.
		ceiling = store.Unlimited
	}

	if exceeds(q.MaxSizeKB, ceiling.MaxSizeKB) {
		return store.Quota{}, &CeilingError{User: uid, Bucket: bucket, Dimension: "max size KB", Requested: q.MaxSizeKB, Ceiling: ceiling.MaxSizeKB}
	}
	if exceeds(q.MaxObjects, ceiling.MaxObjects) {
		return store.Quota{}, &CeilingError{User: uid, Bucket: bucket, Dimension: "max objects", Requested: q.MaxObjects, Ceiling: ceiling.MaxObjects}
	}

	q.Enabled = true
	if err := e.admin.SetBucketQuota(ctx, uid, bucket, q); err != nil {
		return store.Quota{}, fmt.Errorf("set quota of bucket %s: %w", bucket, err)
	}
	slog.Info("Set bucket quota",
		"user", uid,
		"bucket", bucket,
		"maxSize", sizeKB(q.MaxSizeKB),
		"maxObjects", q.MaxObjects,
	)
	return q, nil
}

// Utilization returns actual/(maxSizeKB*1024)*100 for the bucket. A bucket
// without a positive size quota has no utilization and yields
// store.ErrUnboundedQuota.
func (e *Engine) Utilization(ctx context.Context, bucket string) (float64, error) {
	u, err := e.BucketQuota(ctx, bucket)
	if err != nil {
		return 0, err
	}
	return utilization(u)
}

// UtilizationForAllBuckets computes the utilization of every bucket visible
// to key. Buckets without a size quota are flagged Unbounded.
func (e *Engine) UtilizationForAllBuckets(ctx context.Context, key store.Key) (map[string]Utilization, error) {
	buckets, err := e.buckets.ListBuckets(ctx, key)
	if err != nil {
		return nil, err
	}

	result := make(map[string]Utilization, len(buckets))
	for _, b := range buckets {
		u, err := e.BucketQuota(ctx, b.Name)
		if err != nil {
			return nil, err
		}
		pct, err := utilization(u)
		switch {
		case errors.Is(err, store.ErrUnboundedQuota):
			result[b.Name] = Utilization{Unbounded: true}
		case err != nil:
			return nil, err
		default:
			result[b.Name] = Utilization{Percent: pct}
		}
	}
	return result, nil
}

// UserQuotas returns the account-wide quota of every user.
func (e *Engine) UserQuotas(ctx context.Context) (map[string]store.Quota, error) {
	return e.eachUser(ctx, e.admin.UserQuota)
}

// DefaultBucketQuotas returns, for every user, the quota applied to buckets
// that have no override of their own.
func (e *Engine) DefaultBucketQuotas(ctx context.Context) (map[string]store.Quota, error) {
	return e.eachUser(ctx, e.admin.DefaultBucketQuota)
}

func (e *Engine) UserQuota(ctx context.Context, uid string) (store.Quota, error) {
	q, err := e.admin.UserQuota(ctx, uid)
	if err != nil {
		return store.Quota{}, fmt.Errorf("get quota of user %s: %w", uid, err)
	}
	return q, nil
}

// SetUserQuota replaces the account-wide ceiling of a user. Existing bucket
// overrides above the new ceiling are left as they are.
func (e *Engine) SetUserQuota(ctx context.Context, uid string, q store.Quota) (store.Quota, error) {
	q.Enabled = true
	if err := e.admin.SetUserQuota(ctx, uid, q); err != nil {
		return store.Quota{}, fmt.Errorf("set quota of user %s: %w", uid, err)
	}
	slog.Info("Set user quota", "user", uid, "maxSize", sizeKB(q.MaxSizeKB), "maxObjects", q.MaxObjects)
	return q, nil
}

func (e *Engine) eachUser(ctx context.Context, get func(context.Context, string) (store.Quota, error)) (map[string]store.Quota, error) {
	users, err := e.admin.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	quotas := make(map[string]store.Quota, len(users))
	for _, uid := range users {
		q, err := get(ctx, uid)
		if err != nil {
			return nil, fmt.Errorf("get quota of user %s: %w", uid, err)
		}
		quotas[uid] = q
	}
	return quotas, nil
}

func utilization(u Usage) (float64, error) {
	if u.MaxSizeKB <= 0 {
		return 0, fmt.Errorf("bucket %s: %w", u.Bucket, store.ErrUnboundedQuota)
	}
	return float64(u.ActualSize) / float64(u.MaxSizeKB*1024) * 100, nil
}

// exceeds reports whether requested goes beyond ceiling. Negative values
// mean unlimited.
func exceeds(requested int64, ceiling int64) bool {
	if ceiling < 0 {
		return false
	}
	return requested < 0 || requested > ceiling
}

func sizeKB(kb int64) string {
	if kb < 0 {
		return "unlimited"
	}
	return humanize.IBytes(uint64(kb) * 1024)
}
