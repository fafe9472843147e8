package rgw

import (
	"context"

	"github.com/ceph/go-ceph/rgw/admin"

	"github.com/eteran/granary/internal/store"
)

// UserQuota returns the account-wide ceiling of uid.
func (c *AdminClient) UserQuota(ctx context.Context, uid string) (store.Quota, error) {
	quota, err := c.api.GetUserQuota(ctx, admin.QuotaSpec{UID: uid, QuotaType: "user"})
	if err != nil {
		return store.Quota{}, mapError(err)
	}
	return toQuota(quota), nil
}

// DefaultBucketQuota returns the per-bucket ceiling applied to buckets of uid
// that carry no individual override.
func (c *AdminClient) DefaultBucketQuota(ctx context.Context, uid string) (store.Quota, error) {
	user, err := c.api.GetUser(ctx, admin.User{ID: uid})
	if err != nil {
		return store.Quota{}, mapError(err)
	}
	return toQuota(user.BucketQuota), nil
}

func (c *AdminClient) SetUserQuota(ctx context.Context, uid string, quota store.Quota) error {
	spec := toQuotaSpec(quota)
	spec.UID = uid
	spec.QuotaType = "user"
	return mapError(c.api.SetUserQuota(ctx, spec))
}

// SetBucketQuota sets the individual quota of one bucket owned by uid.
func (c *AdminClient) SetBucketQuota(ctx context.Context, uid string, bucket string, quota store.Quota) error {
	spec := toQuotaSpec(quota)
	spec.UID = uid
	spec.Bucket = bucket
	return mapError(c.api.SetIndividualBucketQuota(ctx, spec))
}

// BucketUsage returns the live usage report of a bucket. The report is read
// on every call.
func (c *AdminClient) BucketUsage(ctx context.Context, bucket string) (store.BucketUsage, error) {
	info, err := c.api.GetBucketInfo(ctx, admin.Bucket{Bucket: bucket})
	if err != nil {
		return store.BucketUsage{}, mapError(err)
	}

	main := info.Usage.RgwMain
	return store.BucketUsage{
		Bucket:     info.Bucket,
		Owner:      info.Owner,
		Quota:      toQuota(info.BucketQuota),
		ActualSize: number(main.SizeActual, 0),
		Objects:    number(main.NumObjects, 0),
	}, nil
}

// toQuotaSpec sends the size ceiling in bytes. A negative value clears the
// ceiling.
func toQuotaSpec(quota store.Quota) admin.QuotaSpec {
	enabled := quota.Enabled
	maxSize := int64(-1)
	if quota.MaxSizeKB >= 0 {
		maxSize = quota.MaxSizeKB * 1024
	}
	maxObjects := quota.MaxObjects
	if maxObjects < 0 {
		maxObjects = -1
	}
	return admin.QuotaSpec{
		Enabled:    &enabled,
		MaxSize:    &maxSize,
		MaxObjects: &maxObjects,
	}
}

// toQuota reads the gateway's quota report. The gateway reports a missing
// size ceiling as max_size -1 with max_size_kb 0, so only the byte value is
// read and any negative ceiling becomes -1.
func toQuota(spec admin.QuotaSpec) store.Quota {
	quota := store.Quota{
		MaxSizeKB:  -1,
		MaxObjects: -1,
	}
	if spec.Enabled != nil {
		quota.Enabled = *spec.Enabled
	}

	if size := number(spec.MaxSize, -1); size >= 0 {
		quota.MaxSizeKB = size / 1024
	}
	if objects := number(spec.MaxObjects, -1); objects >= 0 {
		quota.MaxObjects = objects
	}
	return quota
}

// number reads an optional numeric field of a gateway report, returning def
// when it is absent.
func number(v any, def int64) int64 {
	switch n := v.(type) {
	case *int:
		if n != nil {
			return int64(*n)
		}
	case *int64:
		if n != nil {
			return *n
		}
	case *uint64:
		if n != nil {
			return int64(*n)
		}
	case int:
		return int64(n)
	case int64:
		return n
	case uint64:
		return int64(n)
	}
	return def
}
