// Package permission grants an identity access to a bucket and carries the
// grant over to every object currently in it.
package permission

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/eteran/granary/internal/store"
)

// Lister returns the complete listing of a bucket.
type Lister interface {
	Objects(ctx context.Context, dp store.DataPlane, bucket string) ([]store.Object, error)
}

type grantOptions struct {
	toAccountOwner bool
	concurrency    int
}

type GrantOption func(*grantOptions)

// ToAccountOwner grants the account owner of the calling credential on
// every object instead of the bucket grantee. The account owner can differ
// from the owner in the bucket ACL when the caller does not own the bucket.
func ToAccountOwner() GrantOption {
	return func(o *grantOptions) {
		o.toAccountOwner = true
	}
}

// WithConcurrency sets how many objects are updated at once.
func WithConcurrency(n int) GrantOption {
	return func(o *grantOptions) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// Report counts the work a Grant call did. On failure it describes the
// state left behind.
type Report struct {
	Bucket        string `json:"bucket"`
	BucketUpdated bool   `json:"bucketUpdated"`
	// Objects is the number of objects whose ACL now holds the grant.
	Objects int `json:"objects"`
	// Updated is the number of object ACLs that had to be rewritten.
	Updated int `json:"updated"`
}

type Propagator struct {
	conn   store.Connector
	lister Lister
}

func New(conn store.Connector, lister Lister) *Propagator {
	return &Propagator{conn: conn, lister: lister}
}

// Grant adds a grant of level to the bucket ACL and then to the ACL of every
// object in the bucket. Grants already present are left alone, so calling
// Grant again converges on the same ACLs. Nothing is rolled back when an
// object fails; the error names the object and the call can be repeated.
func (p *Propagator) Grant(ctx context.Context, key store.Key, bucket string, grantee string, level store.Permission, opts ...GrantOption) (Report, error) {
	o := grantOptions{concurrency: 1}
	for _, opt := range opts {
		opt(&o)
	}

	level, err := store.ParsePermission(string(level))
	if err != nil {
		return Report{}, err
	}
	if grantee == "" {
		return Report{}, fmt.Errorf("%w: grantee must not be empty", store.ErrInvalidArgument)
	}

	dp, err := p.conn.Connect(key)
	if err != nil {
		return Report{}, err
	}

	op := fmt.Sprintf("grant %s on %s to %s", level, bucket, grantee)
	report := Report{Bucket: bucket}

	objectGrantee := grantee
	if o.toAccountOwner {
		owner, err := dp.AccountOwner(ctx)
		if err != nil {
			return report, &store.StepError{Op: op, Step: "resolve account owner", Err: err}
		}
		objectGrantee = owner
	}

	acl, err := dp.BucketACL(ctx, bucket)
	if err != nil {
		return report, &store.StepError{Op: op, Step: "read bucket acl", Err: err}
	}
	if updated, changed := acl.WithGrant(store.UserGrant(grantee, level)); changed {
		if err := dp.SetBucketACL(ctx, bucket, updated); err != nil {
			return report, &store.StepError{Op: op, Step: "write bucket acl", Err: err}
		}
		report.BucketUpdated = true
	}

	grant := store.UserGrant(objectGrantee, level)

	objects, err := p.lister.Objects(ctx, dp, bucket)
	if err != nil {
		return report, &store.StepError{Op: op, Step: "list objects", Err: err}
	}

	var done, updated atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, obj := range objects {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// A slot can free up after an earlier object failed.
			if err := gctx.Err(); err != nil {
				return err
			}
			changed, err := grantObject(gctx, dp, bucket, obj.Key, grant)
			if err != nil {
				return &store.StepError{
					Op:    op,
					Step:  "bucket granted, failed on object",
					Item:  obj.Key,
					Index: i + 1,
					Total: len(objects),
					Err:   err,
				}
			}
			done.Add(1)
			if changed {
				updated.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	report.Objects = int(done.Load())
	report.Updated = int(updated.Load())
	if err != nil {
		slog.Error("Grant propagation stopped",
			"bucket", bucket,
			"grantee", grantee,
			"granted", report.Objects,
			"total", len(objects),
			"error", err,
		)
		return report, err
	}

	slog.Info("Granted bucket access",
		"bucket", bucket,
		"grantee", grantee,
		"objectGrantee", objectGrantee,
		"permission", level,
		"objects", report.Objects,
		"updated", report.Updated,
	)
	return report, nil
}

func grantObject(ctx context.Context, dp store.DataPlane, bucket string, key string, grant store.Grant) (bool, error) {
	acl, err := dp.ObjectACL(ctx, bucket, key)
	if err != nil {
		return false, fmt.Errorf("read acl: %w", err)
	}
	updated, changed := acl.WithGrant(grant)
	if !changed {
		return false, nil
	}
	if err := dp.SetObjectACL(ctx, bucket, key, updated); err != nil {
		return false, fmt.Errorf("write acl: %w", err)
	}
	return true, nil
}
