// Package store defines the data model shared by the administration core and
// the interfaces of the remote collaborators it drives: the object-store data
// plane and the administrative API.
package store

import (
	"context"
	"io"
	"net/url"
	"time"
)

// Key is a caller-supplied credential pair. It is only ever used to build a
// client and is never persisted.
type Key struct {
	AccessKey string `json:"accessKey"`
	SecretKey string `json:"secretKey"`
}

// Valid reports whether both halves of the pair are present.
func (k Key) Valid() bool {
	return k.AccessKey != "" && k.SecretKey != ""
}

// String returns the access key only so a Key can be logged safely.
func (k Key) String() string {
	return k.AccessKey
}

type Bucket struct {
	Name         string    `json:"name"`
	CreationDate time.Time `json:"creationDate"`
}

type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	ETag         string    `json:"etag,omitempty"`
}

// ListOptions selects a single page of a bucket listing.
type ListOptions struct {
	Prefix            string
	Delimiter         string
	ContinuationToken string
	MaxKeys           int
}

// ListPage is one page of a bucket listing as returned by the store.
type ListPage struct {
	Objects               []Object
	CommonPrefixes        []string
	IsTruncated           bool
	NextContinuationToken string
}

// Part identifies one uploaded part of a multipart upload session.
type Part struct {
	Number int    `json:"number"`
	Size   int64  `json:"size"`
	ETag   string `json:"etag"`
}

// DataPlane is the subset of the S3 API the core drives on behalf of a single
// credential pair.
type DataPlane interface {
	ListBuckets(ctx context.Context) ([]Bucket, error)
	MakeBucket(ctx context.Context, bucket string) error
	RemoveBucket(ctx context.Context, bucket string) error

	// ListObjectsPage returns a single page of the bucket listing. Callers
	// follow NextContinuationToken while IsTruncated is set.
	ListObjectsPage(ctx context.Context, bucket string, opts ListOptions) (ListPage, error)
	RemoveObject(ctx context.Context, bucket string, key string) error

	NewMultipartUpload(ctx context.Context, bucket string, key string) (string, error)
	UploadPart(ctx context.Context, bucket string, key string, uploadID string, number int, r io.Reader, size int64) (Part, error)

	// CompleteMultipartUpload assembles the parts, which must be sorted by
	// part number, and returns the ETag of the resulting object.
	CompleteMultipartUpload(ctx context.Context, bucket string, key string, uploadID string, parts []Part) (string, error)
	AbortMultipartUpload(ctx context.Context, bucket string, key string, uploadID string) error

	PresignGet(ctx context.Context, bucket string, key string, expiry time.Duration) (*url.URL, error)

	// AccountOwner returns the canonical id of the account the credential
	// pair belongs to.
	AccountOwner(ctx context.Context) (string, error)

	BucketACL(ctx context.Context, bucket string) (ACL, error)
	SetBucketACL(ctx context.Context, bucket string, acl ACL) error
	ObjectACL(ctx context.Context, bucket string, key string) (ACL, error)
	SetObjectACL(ctx context.Context, bucket string, key string, acl ACL) error
}

// Connector builds a data-plane client bound to a credential pair.
type Connector interface {
	Connect(key Key) (DataPlane, error)
}

// ConnectorFunc adapts a plain function to the Connector interface.
type ConnectorFunc func(key Key) (DataPlane, error)

func (f ConnectorFunc) Connect(key Key) (DataPlane, error) {
	return f(key)
}
