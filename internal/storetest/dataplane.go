// Package storetest provides in-memory doubles of the object-store data
// plane and administrative API for tests.
package storetest

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eteran/granary/internal/store"
)

const defaultPageSize = 1000

type object struct {
	data     []byte
	etag     string
	modified time.Time
	acl      store.ACL
}

type bucket struct {
	created time.Time
	objects map[string]*object
	acl     store.ACL
}

type multipartUpload struct {
	bucket string
	key    string
	parts  map[int]store.Part
	data   map[int][]byte
}

// DataPlane is a single-account in-memory S3 store. Every credential pair
// accepted by Connect sees the same buckets.
type DataPlane struct {
	mu sync.Mutex

	// Owner is the canonical id of the calling account, reported as owner of
	// every bucket and object.
	Owner string
	// PageSize caps every listing page, forcing callers to paginate.
	PageSize int

	buckets  map[string]*bucket
	uploads  map[string]*multipartUpload
	failures failures
	calls    []string
	now      func() time.Time
}

var (
	_ store.DataPlane = (*DataPlane)(nil)
	_ store.Connector = (*DataPlane)(nil)
)

func NewDataPlane() *DataPlane {
	return &DataPlane{
		Owner:    "owner",
		PageSize: defaultPageSize,
		buckets:  map[string]*bucket{},
		uploads:  map[string]*multipartUpload{},
		now:      time.Now,
	}
}

// Connect returns the store itself for any complete credential pair.
func (d *DataPlane) Connect(key store.Key) (store.DataPlane, error) {
	if !key.Valid() {
		return nil, fmt.Errorf("%w: credential pair is incomplete", store.ErrInvalidArgument)
	}
	d.record("Connect", key.AccessKey)
	return d, nil
}

// FailOn makes every call of op on item fail with err until ClearFailures is
// called. An empty item matches every call of op.
func (d *DataPlane) FailOn(op string, item string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures.add(op, item, err)
}

func (d *DataPlane) ClearFailures() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = nil
}

// Calls returns "Op item" entries for every call made so far.
func (d *DataPlane) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.calls)
}

// CallsTo returns the items of every recorded call of op.
func (d *DataPlane) CallsTo(op string) []string {
	var items []string
	for _, call := range d.Calls() {
		if name, item, _ := strings.Cut(call, " "); name == op {
			items = append(items, item)
		}
	}
	return items
}

// AddBucket creates a bucket directly, bypassing failure injection.
func (d *DataPlane) AddBucket(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buckets[name] = d.newBucket()
}

// PutObject stores an object directly, creating the bucket if needed.
func (d *DataPlane) PutObject(bucketName string, key string, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buckets[bucketName]
	if !ok {
		b = d.newBucket()
		d.buckets[bucketName] = b
	}
	b.objects[key] = d.newObject(data)
}

// Object returns a copy of the stored payload.
func (d *DataPlane) Object(bucketName string, key string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buckets[bucketName]
	if !ok {
		return nil, false
	}
	obj, ok := b.objects[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(obj.data), true
}

// HasBucket reports whether the bucket exists.
func (d *DataPlane) HasBucket(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.buckets[name]
	return ok
}

// OpenUploads returns the number of multipart sessions neither completed
// nor aborted.
func (d *DataPlane) OpenUploads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.uploads)
}

func (d *DataPlane) ListBuckets(ctx context.Context) ([]store.Bucket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.call(ctx, "ListBuckets", ""); err != nil {
		return nil, err
	}

	buckets := make([]store.Bucket, 0, len(d.buckets))
	for name, b := range d.buckets {
		buckets = append(buckets, store.Bucket{Name: name, CreationDate: b.created})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Name < buckets[j].Name })
	return buckets, nil
}

func (d *DataPlane) MakeBucket(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.call(ctx, "MakeBucket", name); err != nil {
		return err
	}
	if _, ok := d.buckets[name]; ok {
		return fmt.Errorf("%w: bucket %q", store.ErrAlreadyExists, name)
	}
	d.buckets[name] = d.newBucket()
	return nil
}

func (d *DataPlane) RemoveBucket(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.call(ctx, "RemoveBucket", name); err != nil {
		return err
	}
	b, err := d.bucket(name)
	if err != nil {
		return err
	}
	if len(b.objects) > 0 {
		return fmt.Errorf("%w: bucket %q holds %d objects", store.ErrBucketNotEmpty, name, len(b.objects))
	}
	delete(d.buckets, name)
	return nil
}

type listEntry struct {
	name     string
	isPrefix bool
}

func (d *DataPlane) ListObjectsPage(ctx context.Context, bucketName string, opts store.ListOptions) (store.ListPage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.call(ctx, "ListObjectsPage", bucketName); err != nil {
		return store.ListPage{}, err
	}
	b, err := d.bucket(bucketName)
	if err != nil {
		return store.ListPage{}, err
	}

	keys := make([]string, 0, len(b.objects))
	for key := range b.objects {
		if strings.HasPrefix(key, opts.Prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var entries []listEntry
	seen := map[string]bool{}
	for _, key := range keys {
		if opts.Delimiter != "" {
			rest := key[len(opts.Prefix):]
			if i := strings.Index(rest, opts.Delimiter); i >= 0 {
				prefix := opts.Prefix + rest[:i+len(opts.Delimiter)]
				if !seen[prefix] {
					seen[prefix] = true
					entries = append(entries, listEntry{name: prefix, isPrefix: true})
				}
				continue
			}
		}
		entries = append(entries, listEntry{name: key})
	}

	start := 0
	if opts.ContinuationToken != "" {
		start = sort.Search(len(entries), func(i int) bool { return entries[i].name > opts.ContinuationToken })
	}

	limit := d.PageSize
	if opts.MaxKeys > 0 && opts.MaxKeys < limit {
		limit = opts.MaxKeys
	}
	end := min(start+limit, len(entries))

	var page store.ListPage
	for _, e := range entries[start:end] {
		if e.isPrefix {
			page.CommonPrefixes = append(page.CommonPrefixes, e.name)
			continue
		}
		obj := b.objects[e.name]
		page.Objects = append(page.Objects, store.Object{
			Key:          e.name,
			Size:         int64(len(obj.data)),
			LastModified: obj.modified,
			ETag:         obj.etag,
		})
	}
	if end < len(entries) {
		page.IsTruncated = true
		page.NextContinuationToken = entries[end-1].name
	}
	return page, nil
}

func (d *DataPlane) RemoveObject(ctx context.Context, bucketName string, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.call(ctx, "RemoveObject", key); err != nil {
		return err
	}
	b, err := d.bucket(bucketName)
	if err != nil {
		return err
	}
	delete(b.objects, key)
	return nil
}

func (d *DataPlane) NewMultipartUpload(ctx context.Context, bucketName string, key string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.call(ctx, "NewMultipartUpload", key); err != nil {
		return "", err
	}
	if _, err := d.bucket(bucketName); err != nil {
		return "", err
	}

	uploadID := uuid.NewString()
	d.uploads[uploadID] = &multipartUpload{
		bucket: bucketName,
		key:    key,
		parts:  map[int]store.Part{},
		data:   map[int][]byte{},
	}
	return uploadID, nil
}

func (d *DataPlane) UploadPart(ctx context.Context, bucketName string, key string, uploadID string, number int, r io.Reader, size int64) (store.Part, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return store.Part{}, fmt.Errorf("read part %d: %w", number, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.call(ctx, "UploadPart", strconv.Itoa(number)); err != nil {
		return store.Part{}, err
	}
	upload, ok := d.uploads[uploadID]
	if !ok || upload.bucket != bucketName || upload.key != key {
		return store.Part{}, fmt.Errorf("%w: upload %q", store.ErrNotFound, uploadID)
	}
	if int64(len(data)) != size {
		return store.Part{}, fmt.Errorf("%w: part %d declared %d bytes, got %d", store.ErrInvalidArgument, number, size, len(data))
	}

	part := store.Part{Number: number, Size: size, ETag: etag(data)}
	upload.parts[number] = part
	upload.data[number] = data
	return part, nil
}

func (d *DataPlane) CompleteMultipartUpload(ctx context.Context, bucketName string, key string, uploadID string, parts []store.Part) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.call(ctx, "CompleteMultipartUpload", key); err != nil {
		return "", err
	}
	upload, ok := d.uploads[uploadID]
	if !ok || upload.bucket != bucketName || upload.key != key {
		return "", fmt.Errorf("%w: upload %q", store.ErrNotFound, uploadID)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: no parts to complete", store.ErrInvalidArgument)
	}

	var assembled bytes.Buffer
	for i, p := range parts {
		if i > 0 && p.Number <= parts[i-1].Number {
			return "", fmt.Errorf("%w: part %d listed after part %d", store.ErrInvalidArgument, p.Number, parts[i-1].Number)
		}
		stored, ok := upload.parts[p.Number]
		if !ok || stored.ETag != p.ETag {
			return "", fmt.Errorf("%w: part %d was not uploaded", store.ErrInvalidArgument, p.Number)
		}
		assembled.Write(upload.data[p.Number])
	}

	b, err := d.bucket(bucketName)
	if err != nil {
		return "", err
	}
	obj := d.newObject(assembled.Bytes())
	obj.etag = fmt.Sprintf("%s-%d", etag(assembled.Bytes()), len(parts))
	b.objects[key] = obj
	delete(d.uploads, uploadID)
	return obj.etag, nil
}

func (d *DataPlane) AbortMultipartUpload(ctx context.Context, bucketName string, key string, uploadID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.call(ctx, "AbortMultipartUpload", key); err != nil {
		return err
	}
	if _, ok := d.uploads[uploadID]; !ok {
		return fmt.Errorf("%w: upload %q", store.ErrNotFound, uploadID)
	}
	delete(d.uploads, uploadID)
	return nil
}

func (d *DataPlane) PresignGet(ctx context.Context, bucketName string, key string, expiry time.Duration) (*url.URL, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.call(ctx, "PresignGet", key); err != nil {
		return nil, err
	}
	u := &url.URL{Scheme: "http", Host: "store.test", Path: "/" + bucketName + "/" + key}
	u.RawQuery = url.Values{"X-Amz-Expires": {strconv.Itoa(int(expiry.Seconds()))}}.Encode()
	return u, nil
}

// AccountOwner reports Owner for every credential pair.
func (d *DataPlane) AccountOwner(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.call(ctx, "AccountOwner", ""); err != nil {
		return "", err
	}
	return d.Owner, nil
}

func (d *DataPlane) BucketACL(ctx context.Context, bucketName string) (store.ACL, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.call(ctx, "BucketACL", bucketName); err != nil {
		return store.ACL{}, err
	}
	b, err := d.bucket(bucketName)
	if err != nil {
		return store.ACL{}, err
	}
	return cloneACL(b.acl), nil
}

func (d *DataPlane) SetBucketACL(ctx context.Context, bucketName string, acl store.ACL) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.call(ctx, "SetBucketACL", bucketName); err != nil {
		return err
	}
	b, err := d.bucket(bucketName)
	if err != nil {
		return err
	}
	b.acl = cloneACL(acl)
	return nil
}

func (d *DataPlane) ObjectACL(ctx context.Context, bucketName string, key string) (store.ACL, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.call(ctx, "ObjectACL", key); err != nil {
		return store.ACL{}, err
	}
	obj, err := d.object(bucketName, key)
	if err != nil {
		return store.ACL{}, err
	}
	return cloneACL(obj.acl), nil
}

func (d *DataPlane) SetObjectACL(ctx context.Context, bucketName string, key string, acl store.ACL) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.call(ctx, "SetObjectACL", key); err != nil {
		return err
	}
	obj, err := d.object(bucketName, key)
	if err != nil {
		return err
	}
	obj.acl = cloneACL(acl)
	return nil
}

func (d *DataPlane) newBucket() *bucket {
	return &bucket{
		created: d.now().UTC(),
		objects: map[string]*object{},
		acl:     d.ownerACL(),
	}
}

func (d *DataPlane) newObject(data []byte) *object {
	return &object{
		data:     slices.Clone(data),
		etag:     etag(data),
		modified: d.now().UTC(),
		acl:      d.ownerACL(),
	}
}

func (d *DataPlane) ownerACL() store.ACL {
	return store.ACL{
		Owner:  d.Owner,
		Grants: []store.Grant{store.UserGrant(d.Owner, store.PermissionFullControl)},
	}
}

func (d *DataPlane) bucket(name string) (*bucket, error) {
	b, ok := d.buckets[name]
	if !ok {
		return nil, fmt.Errorf("%w: bucket %q", store.ErrNotFound, name)
	}
	return b, nil
}

func (d *DataPlane) object(bucketName string, key string) (*object, error) {
	b, err := d.bucket(bucketName)
	if err != nil {
		return nil, err
	}
	obj, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: object %q", store.ErrNotFound, key)
	}
	return obj, nil
}

// call records the call and returns an injected failure, if any. A done
// ctx fails the call before it is recorded. The caller holds d.mu.
func (d *DataPlane) call(ctx context.Context, op string, item string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.calls = append(d.calls, op+" "+item)
	return d.failures.match(op, item)
}

func (d *DataPlane) record(op string, item string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, op+" "+item)
}

func cloneACL(acl store.ACL) store.ACL {
	acl.Grants = slices.Clone(acl.Grants)
	return acl
}

func etag(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
