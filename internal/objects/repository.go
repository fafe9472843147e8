// Package objects implements bucket and object management over the data
// plane on behalf of a caller's credential pair.
package objects

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/eteran/granary/internal/store"
)

const (
	// DefaultPageSize is the number of keys requested per listing page.
	DefaultPageSize = 1000

	// DefaultPresignExpiry is how long a download URL stays valid.
	DefaultPresignExpiry = 15 * time.Minute

	delimiter = "/"
)

type Option func(*Repository)

// WithPageSize sets the number of keys requested per listing page.
func WithPageSize(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// WithPresignExpiry sets the default lifetime of download URLs.
func WithPresignExpiry(d time.Duration) Option {
	return func(r *Repository) {
		if d > 0 {
			r.presignExpiry = d
		}
	}
}

// Repository performs bucket and object operations. It holds no state of
// its own; every call connects with the caller's credential pair.
type Repository struct {
	conn          store.Connector
	pageSize      int
	presignExpiry time.Duration
}

func New(conn store.Connector, opts ...Option) *Repository {
	r := &Repository{
		conn:          conn,
		pageSize:      DefaultPageSize,
		presignExpiry: DefaultPresignExpiry,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Listing is the result of a hierarchical listing under a prefix.
type Listing struct {
	Folders []string       `json:"folders"`
	Files   []store.Object `json:"files"`
}

func (r *Repository) ListBuckets(ctx context.Context, key store.Key) ([]store.Bucket, error) {
	dp, err := r.conn.Connect(key)
	if err != nil {
		return nil, err
	}
	buckets, err := dp.ListBuckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	return buckets, nil
}

// CreateBucket creates a bucket. An existing name is an error and is never
// overwritten.
func (r *Repository) CreateBucket(ctx context.Context, key store.Key, bucket string) error {
	dp, err := r.conn.Connect(key)
	if err != nil {
		return err
	}
	if err := dp.MakeBucket(ctx, bucket); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	slog.Info("Created bucket", "bucket", bucket, "accessKey", key.AccessKey)
	return nil
}

// DeleteBucket deletes every object in the bucket one at a time and then the
// bucket itself. The first object that cannot be deleted stops the sequence
// and leaves the bucket in place; objects already deleted stay deleted, so
// the call can simply be repeated.
func (r *Repository) DeleteBucket(ctx context.Context, key store.Key, bucket string) error {
	dp, err := r.conn.Connect(key)
	if err != nil {
		return err
	}

	op := "delete bucket " + bucket
	objects, err := r.listAll(ctx, dp, bucket, "", "")
	if err != nil {
		return &store.StepError{Op: op, Step: "list objects", Err: err}
	}

	for i, obj := range objects {
		if err := dp.RemoveObject(ctx, bucket, obj.Key); err != nil {
			slog.Error("Cascading delete stopped",
				"bucket", bucket,
				"object", obj.Key,
				"deleted", i,
				"total", len(objects),
				"error", err,
			)
			return &store.StepError{
				Op:    op,
				Step:  "delete object",
				Item:  obj.Key,
				Index: i + 1,
				Total: len(objects),
				Err:   err,
			}
		}
	}

	if err := dp.RemoveBucket(ctx, bucket); err != nil {
		return &store.StepError{Op: op, Step: "delete bucket", Item: bucket, Err: err}
	}
	slog.Info("Deleted bucket", "bucket", bucket, "objects", len(objects))
	return nil
}

// ListObjects returns every object in the bucket, following continuation
// tokens until the listing is exhausted.
func (r *Repository) ListObjects(ctx context.Context, key store.Key, bucket string) ([]store.Object, error) {
	dp, err := r.conn.Connect(key)
	if err != nil {
		return nil, err
	}
	objects, err := r.listAll(ctx, dp, bucket, "", "")
	if err != nil {
		return nil, fmt.Errorf("list objects in %s: %w", bucket, err)
	}
	return objects, nil
}

// DeleteObject deletes one object. Deleting a missing object succeeds.
func (r *Repository) DeleteObject(ctx context.Context, key store.Key, bucket string, object string) error {
	dp, err := r.conn.Connect(key)
	if err != nil {
		return err
	}
	if err := dp.RemoveObject(ctx, bucket, object); err != nil {
		return fmt.Errorf("delete object %s/%s: %w", bucket, object, err)
	}
	return nil
}

// ListByPrefix lists one level of the bucket hierarchy under prefix. Folders
// are the common prefixes of a "/"-delimited listing; Files are the objects
// under prefix that are not themselves shown as a folder.
func (r *Repository) ListByPrefix(ctx context.Context, key store.Key, bucket string, prefix string) (Listing, error) {
	dp, err := r.conn.Connect(key)
	if err != nil {
		return Listing{}, err
	}

	var (
		folders []string
		files   []store.Object
	)
	err = r.paginate(ctx, dp, bucket, prefix, delimiter, func(page store.ListPage) {
		for _, p := range page.CommonPrefixes {
			if strings.HasPrefix(p, prefix) {
				folders = append(folders, p)
			}
		}
		files = append(files, page.Objects...)
	})
	if err != nil {
		return Listing{}, fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
	}

	listing := Listing{Folders: folders, Files: []store.Object{}}
	if listing.Folders == nil {
		listing.Folders = []string{}
	}
	for _, obj := range files {
		if !strings.HasPrefix(obj.Key, prefix) || slices.Contains(folders, obj.Key+delimiter) {
			continue
		}
		listing.Files = append(listing.Files, obj)
	}
	return listing, nil
}

// PresignDownload returns a time-limited GET URL for an object. A
// non-positive expiry selects the repository default.
func (r *Repository) PresignDownload(ctx context.Context, key store.Key, bucket string, object string, expiry time.Duration) (*url.URL, error) {
	dp, err := r.conn.Connect(key)
	if err != nil {
		return nil, err
	}
	if expiry <= 0 {
		expiry = r.presignExpiry
	}
	u, err := dp.PresignGet(ctx, bucket, object, expiry)
	if err != nil {
		return nil, fmt.Errorf("presign %s/%s: %w", bucket, object, err)
	}
	return u, nil
}

// Objects returns the full listing of bucket through an already connected
// data plane. Other components reuse it so they traverse pages identically.
func (r *Repository) Objects(ctx context.Context, dp store.DataPlane, bucket string) ([]store.Object, error) {
	return r.listAll(ctx, dp, bucket, "", "")
}

func (r *Repository) listAll(ctx context.Context, dp store.DataPlane, bucket string, prefix string, delim string) ([]store.Object, error) {
	objects := []store.Object{}
	err := r.paginate(ctx, dp, bucket, prefix, delim, func(page store.ListPage) {
		objects = append(objects, page.Objects...)
	})
	if err != nil {
		return nil, err
	}
	return objects, nil
}

func (r *Repository) paginate(ctx context.Context, dp store.DataPlane, bucket string, prefix string, delim string, visit func(store.ListPage)) error {
	opts := store.ListOptions{
		Prefix:    prefix,
		Delimiter: delim,
		MaxKeys:   r.pageSize,
	}
	for pages := 1; ; pages++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := dp.ListObjectsPage(ctx, bucket, opts)
		if err != nil {
			return err
		}
		visit(page)
		if !page.IsTruncated {
			slog.Debug("Listed bucket", "bucket", bucket, "prefix", prefix, "pages", pages)
			return nil
		}
		if page.NextContinuationToken == "" || page.NextContinuationToken == opts.ContinuationToken {
			return fmt.Errorf("%w: listing of %s did not advance", store.ErrRemote, bucket)
		}
		opts.ContinuationToken = page.NextContinuationToken
	}
}
