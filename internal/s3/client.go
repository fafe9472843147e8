// Package s3 implements the store data plane on top of minio-go. Every Client
// is bound to one caller credential pair and addresses buckets path-style
// against a single configured endpoint.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/eteran/granary/internal/store"
)

const DefaultRegion = "us-east-1"

// Config describes the object-store endpoint shared by all data-plane
// clients.
type Config struct {
	// Endpoint is the base URL of the store, e.g. http://rgw.local:7480.
	Endpoint string
	Region   string
	// Transport overrides the HTTP transport, mostly for tests.
	Transport http.RoundTripper
}

// ParseEndpoint validates an endpoint URL. Only http and https endpoints
// without a path are accepted.
func ParseEndpoint(endpoint string) (*url.URL, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("endpoint %q: missing host", endpoint)
	}
	if u.Path != "" && u.Path != "/" {
		return nil, fmt.Errorf("endpoint %q: must not contain a path", endpoint)
	}
	return u, nil
}

// Client is a data-plane client bound to one credential pair. Object and
// multipart calls go through minio-go; ACL reads and writes go through the
// AWS SDK.
type Client struct {
	core   *minio.Core
	acl    *awss3.Client
	region string
}

var _ store.DataPlane = (*Client)(nil)

// New builds a path-style client for key. No request is sent; invalid
// credentials surface on the first operation.
func New(cfg Config, key store.Key) (*Client, error) {
	if !key.Valid() {
		return nil, fmt.Errorf("%w: credential pair is incomplete", store.ErrInvalidArgument)
	}

	endpoint, err := ParseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	region := cfg.Region
	if region == "" {
		region = DefaultRegion
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	core, err := minio.NewCore(endpoint.Host, &minio.Options{
		Creds:        credentials.NewStaticV4(key.AccessKey, key.SecretKey, ""),
		Secure:       endpoint.Scheme == "https",
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create data-plane client: %w", err)
	}

	return &Client{
		core:   core,
		acl:    newACLClient(endpoint.Scheme+"://"+endpoint.Host, region, key, transport),
		region: region,
	}, nil
}

func (c *Client) ListBuckets(ctx context.Context) ([]store.Bucket, error) {
	infos, err := c.core.ListBuckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", mapError(err))
	}

	buckets := make([]store.Bucket, 0, len(infos))
	for _, info := range infos {
		buckets = append(buckets, store.Bucket{
			Name:         info.Name,
			CreationDate: info.CreationDate,
		})
	}
	return buckets, nil
}

func (c *Client) MakeBucket(ctx context.Context, bucket string) error {
	if err := c.core.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: c.region}); err != nil {
		return fmt.Errorf("create bucket %q: %w", bucket, mapError(err))
	}
	return nil
}

func (c *Client) RemoveBucket(ctx context.Context, bucket string) error {
	if err := c.core.RemoveBucket(ctx, bucket); err != nil {
		return fmt.Errorf("remove bucket %q: %w", bucket, mapError(err))
	}
	return nil
}

func (c *Client) ListObjectsPage(ctx context.Context, bucket string, opts store.ListOptions) (store.ListPage, error) {
	if err := ctx.Err(); err != nil {
		return store.ListPage{}, err
	}

	result, err := c.core.ListObjectsV2(bucket, opts.Prefix, "", opts.ContinuationToken, opts.Delimiter, opts.MaxKeys)
	if err != nil {
		return store.ListPage{}, fmt.Errorf("list objects in %q: %w", bucket, mapError(err))
	}

	page := store.ListPage{
		Objects:               make([]store.Object, 0, len(result.Contents)),
		IsTruncated:           result.IsTruncated,
		NextContinuationToken: result.NextContinuationToken,
	}
	for _, info := range result.Contents {
		page.Objects = append(page.Objects, store.Object{
			Key:          info.Key,
			Size:         info.Size,
			LastModified: info.LastModified,
			ETag:         info.ETag,
		})
	}
	for _, prefix := range result.CommonPrefixes {
		page.CommonPrefixes = append(page.CommonPrefixes, prefix.Prefix)
	}

	if page.IsTruncated && page.NextContinuationToken == "" {
		return store.ListPage{}, fmt.Errorf("list objects in %q: %w: truncated page without continuation token", bucket, store.ErrRemote)
	}
	return page, nil
}

func (c *Client) RemoveObject(ctx context.Context, bucket string, key string) error {
	if err := c.core.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %q from %q: %w", key, bucket, mapError(err))
	}
	return nil
}

func (c *Client) NewMultipartUpload(ctx context.Context, bucket string, key string) (string, error) {
	uploadID, err := c.core.NewMultipartUpload(ctx, bucket, key, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", fmt.Errorf("initiate multipart upload of %q: %w", key, mapError(err))
	}
	return uploadID, nil
}

func (c *Client) UploadPart(ctx context.Context, bucket string, key string, uploadID string, number int, r io.Reader, size int64) (store.Part, error) {
	part, err := c.core.PutObjectPart(ctx, bucket, key, uploadID, number, r, size, minio.PutObjectPartOptions{})
	if err != nil {
		return store.Part{}, fmt.Errorf("upload part %d of %q: %w", number, key, mapError(err))
	}
	return store.Part{
		Number: part.PartNumber,
		Size:   size,
		ETag:   part.ETag,
	}, nil
}

func (c *Client) CompleteMultipartUpload(ctx context.Context, bucket string, key string, uploadID string, parts []store.Part) (string, error) {
	completeParts := make([]minio.CompletePart, 0, len(parts))
	for _, p := range parts {
		completeParts = append(completeParts, minio.CompletePart{
			PartNumber: p.Number,
			ETag:       p.ETag,
		})
	}

	info, err := c.core.CompleteMultipartUpload(ctx, bucket, key, uploadID, completeParts, minio.PutObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("complete multipart upload of %q: %w", key, mapError(err))
	}
	return info.ETag, nil
}

func (c *Client) AbortMultipartUpload(ctx context.Context, bucket string, key string, uploadID string) error {
	if err := c.core.AbortMultipartUpload(ctx, bucket, key, uploadID); err != nil {
		return fmt.Errorf("abort multipart upload of %q: %w", key, mapError(err))
	}
	return nil
}

func (c *Client) PresignGet(ctx context.Context, bucket string, key string, expiry time.Duration) (*url.URL, error) {
	u, err := c.core.PresignedGetObject(ctx, bucket, key, expiry, nil)
	if err != nil {
		return nil, fmt.Errorf("presign %q in %q: %w", key, bucket, mapError(err))
	}
	return u, nil
}

// mapError translates S3 error codes into the store error taxonomy while
// keeping the original error in the chain.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	resp := minio.ToErrorResponse(err)
	return classify(err, resp.Code, resp.StatusCode)
}

// classify wraps err with the store sentinel matching an S3 error code,
// falling back to the HTTP status.
func classify(err error, code string, status int) error {
	switch code {
	case "NoSuchBucket", "NoSuchKey", "NoSuchUpload", "NoSuchBucketPolicy":
		return fmt.Errorf("%w: %w", store.ErrNotFound, err)
	case "BucketAlreadyExists", "BucketAlreadyOwnedByYou":
		return fmt.Errorf("%w: %w", store.ErrAlreadyExists, err)
	case "BucketNotEmpty":
		return fmt.Errorf("%w: %w", store.ErrBucketNotEmpty, err)
	case "InvalidArgument", "InvalidBucketName", "InvalidPart", "InvalidPartOrder", "EntityTooSmall":
		return fmt.Errorf("%w: %w", store.ErrInvalidArgument, err)
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("%w: %w", store.ErrNotFound, err)
	}
	return fmt.Errorf("%w: %w", store.ErrRemote, err)
}
