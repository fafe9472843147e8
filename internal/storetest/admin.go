package storetest

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/eteran/granary/internal/store"
)

type adminUser struct {
	info        store.User
	userQuota   store.Quota
	bucketQuota store.Quota
	subUsers    map[string]store.SubUserPermission
}

// Admin is an in-memory double of the administrative API and the rate-limit
// channel. Removing a sub-user that still holds keys is rejected, matching
// the strictest gateway behaviour.
type Admin struct {
	mu sync.Mutex

	users      map[string]*adminUser
	keys       map[string]store.Credential // by access key
	usage      map[string]store.BucketUsage
	rateLimits map[string]store.RateLimit
	failures   failures
	calls      []string
	generated  int
}

func NewAdmin() *Admin {
	return &Admin{
		users:      map[string]*adminUser{},
		keys:       map[string]store.Credential{},
		usage:      map[string]store.BucketUsage{},
		rateLimits: map[string]store.RateLimit{},
	}
}

// AddUser seeds a user with an account-wide quota.
func (a *Admin) AddUser(uid string, quota store.Quota) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.users[uid] = &adminUser{
		info:        store.User{ID: uid, DisplayName: uid},
		userQuota:   quota,
		bucketQuota: store.Unlimited,
		subUsers:    map[string]store.SubUserPermission{},
	}
}

// SetUsage seeds the live usage report of a bucket.
func (a *Admin) SetUsage(usage store.BucketUsage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usage[usage.Bucket] = usage
}

func (a *Admin) FailOn(op string, item string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures.add(op, item, err)
}

func (a *Admin) ClearFailures() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures = nil
}

func (a *Admin) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.calls)
}

func (a *Admin) User(ctx context.Context, uid string) (store.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.call(ctx, "User", uid); err != nil {
		return store.User{}, err
	}
	u, err := a.user(uid)
	if err != nil {
		return store.User{}, err
	}
	return a.snapshot(u), nil
}

func (a *Admin) Users(ctx context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.call(ctx, "Users", ""); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(a.users))
	for id := range a.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (a *Admin) CreateUser(ctx context.Context, uid string, displayName string, email string) (store.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.call(ctx, "CreateUser", uid); err != nil {
		return store.User{}, err
	}
	if _, ok := a.users[uid]; ok {
		return store.User{}, fmt.Errorf("%w: user %q", store.ErrAlreadyExists, uid)
	}
	u := &adminUser{
		info:        store.User{ID: uid, DisplayName: displayName, Email: email},
		userQuota:   store.Unlimited,
		bucketQuota: store.Unlimited,
		subUsers:    map[string]store.SubUserPermission{},
	}
	a.users[uid] = u
	return a.snapshot(u), nil
}

func (a *Admin) CreateSubUser(ctx context.Context, uid string, subUID string, key store.Key, perm store.SubUserPermission) ([]store.SubUser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.call(ctx, "CreateSubUser", store.SubUserID(uid, subUID)); err != nil {
		return nil, err
	}
	u, err := a.user(uid)
	if err != nil {
		return nil, err
	}
	if _, ok := u.subUsers[subUID]; ok {
		return nil, fmt.Errorf("%w: sub-user %q", store.ErrAlreadyExists, store.SubUserID(uid, subUID))
	}
	if key.Valid() {
		if err := a.attachKey(store.SubUserID(uid, subUID), key); err != nil {
			return nil, err
		}
	}
	u.subUsers[subUID] = perm
	return a.snapshot(u).SubUsers, nil
}

func (a *Admin) ModifySubUser(ctx context.Context, uid string, subUID string, perm store.SubUserPermission) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.call(ctx, "ModifySubUser", store.SubUserID(uid, subUID)); err != nil {
		return err
	}
	u, err := a.subUser(uid, subUID)
	if err != nil {
		return err
	}
	u.subUsers[subUID] = perm
	return nil
}

func (a *Admin) RemoveSubUser(ctx context.Context, uid string, subUID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := store.SubUserID(uid, subUID)
	if err := a.call(ctx, "RemoveSubUser", id); err != nil {
		return err
	}
	u, err := a.subUser(uid, subUID)
	if err != nil {
		return err
	}
	for _, k := range a.keys {
		if k.User == id {
			return fmt.Errorf("%w: sub-user %q still holds key %q", store.ErrRemote, id, k.AccessKey)
		}
	}
	delete(u.subUsers, subUID)
	return nil
}

func (a *Admin) CreateKey(ctx context.Context, uid string, subUID string, key store.Key) ([]store.Credential, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	owner := uid
	if subUID != "" {
		owner = store.SubUserID(uid, subUID)
	}
	if err := a.call(ctx, "CreateKey", owner); err != nil {
		return nil, err
	}
	u, err := a.user(uid)
	if err != nil {
		return nil, err
	}
	if subUID != "" {
		if _, ok := u.subUsers[subUID]; !ok {
			return nil, fmt.Errorf("%w: sub-user %q", store.ErrNotFound, owner)
		}
	}
	if !key.Valid() {
		a.generated++
		key = store.Key{
			AccessKey: fmt.Sprintf("GENERATED%04d", a.generated),
			SecretKey: fmt.Sprintf("generated-secret-%04d", a.generated),
		}
	}
	if err := a.attachKey(owner, key); err != nil {
		return nil, err
	}
	return a.snapshot(u).Keys, nil
}

func (a *Admin) RemoveKey(ctx context.Context, uid string, subUID string, accessKey string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.call(ctx, "RemoveKey", accessKey); err != nil {
		return err
	}
	owner := uid
	if subUID != "" {
		owner = store.SubUserID(uid, subUID)
	}
	k, ok := a.keys[accessKey]
	if !ok || k.User != owner {
		return fmt.Errorf("%w: key %q of %q", store.ErrNotFound, accessKey, owner)
	}
	delete(a.keys, accessKey)
	return nil
}

func (a *Admin) UserQuota(ctx context.Context, uid string) (store.Quota, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.call(ctx, "UserQuota", uid); err != nil {
		return store.Quota{}, err
	}
	u, err := a.user(uid)
	if err != nil {
		return store.Quota{}, err
	}
	return u.userQuota, nil
}

func (a *Admin) DefaultBucketQuota(ctx context.Context, uid string) (store.Quota, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.call(ctx, "DefaultBucketQuota", uid); err != nil {
		return store.Quota{}, err
	}
	u, err := a.user(uid)
	if err != nil {
		return store.Quota{}, err
	}
	return u.bucketQuota, nil
}

func (a *Admin) SetUserQuota(ctx context.Context, uid string, quota store.Quota) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.call(ctx, "SetUserQuota", uid); err != nil {
		return err
	}
	u, err := a.user(uid)
	if err != nil {
		return err
	}
	u.userQuota = quota
	return nil
}

func (a *Admin) SetBucketQuota(ctx context.Context, uid string, bucket string, quota store.Quota) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.call(ctx, "SetBucketQuota", bucket); err != nil {
		return err
	}
	if _, err := a.user(uid); err != nil {
		return err
	}
	usage, ok := a.usage[bucket]
	if !ok {
		usage = store.BucketUsage{Bucket: bucket, Owner: uid}
	}
	usage.Quota = quota
	a.usage[bucket] = usage
	return nil
}

func (a *Admin) BucketUsage(ctx context.Context, bucket string) (store.BucketUsage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.call(ctx, "BucketUsage", bucket); err != nil {
		return store.BucketUsage{}, err
	}
	usage, ok := a.usage[bucket]
	if !ok {
		return store.BucketUsage{}, fmt.Errorf("%w: bucket %q", store.ErrNotFound, bucket)
	}
	return usage, nil
}

func (a *Admin) UserRateLimit(ctx context.Context, uid string) (store.RateLimit, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.call(ctx, "UserRateLimit", uid); err != nil {
		return store.RateLimit{}, err
	}
	if _, err := a.user(uid); err != nil {
		return store.RateLimit{}, err
	}
	return a.rateLimits[uid], nil
}

func (a *Admin) SetUserRateLimit(ctx context.Context, uid string, limit store.RateLimit) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.call(ctx, "SetUserRateLimit", uid); err != nil {
		return err
	}
	if _, err := a.user(uid); err != nil {
		return err
	}
	a.rateLimits[uid] = limit
	return nil
}

// attachKey enforces global access key uniqueness. Re-attaching a key to the
// same owner replaces its secret.
func (a *Admin) attachKey(owner string, key store.Key) error {
	if existing, ok := a.keys[key.AccessKey]; ok && existing.User != owner {
		return fmt.Errorf("%w: access key %q", store.ErrAlreadyExists, key.AccessKey)
	}
	a.keys[key.AccessKey] = store.Credential{User: owner, AccessKey: key.AccessKey, SecretKey: key.SecretKey}
	return nil
}

func (a *Admin) user(uid string) (*adminUser, error) {
	u, ok := a.users[uid]
	if !ok {
		return nil, fmt.Errorf("%w: user %q", store.ErrNotFound, uid)
	}
	return u, nil
}

func (a *Admin) subUser(uid string, subUID string) (*adminUser, error) {
	u, err := a.user(uid)
	if err != nil {
		return nil, err
	}
	if _, ok := u.subUsers[subUID]; !ok {
		return nil, fmt.Errorf("%w: sub-user %q", store.ErrNotFound, store.SubUserID(uid, subUID))
	}
	return u, nil
}

// snapshot renders the user as the gateway reports it, with sub-users and
// keys in a stable order.
func (a *Admin) snapshot(u *adminUser) store.User {
	info := u.info
	info.SubUsers = make([]store.SubUser, 0, len(u.subUsers))
	for id, perm := range u.subUsers {
		info.SubUsers = append(info.SubUsers, store.SubUser{ID: id, Permission: perm})
	}
	sort.Slice(info.SubUsers, func(i, j int) bool { return info.SubUsers[i].ID < info.SubUsers[j].ID })

	info.Keys = []store.Credential{}
	for _, k := range a.keys {
		if k.User == u.info.ID || strings.HasPrefix(k.User, u.info.ID+":") {
			info.Keys = append(info.Keys, k)
		}
	}
	sort.Slice(info.Keys, func(i, j int) bool { return info.Keys[i].AccessKey < info.Keys[j].AccessKey })
	return info
}

// call records the call and returns an injected failure, if any. A done
// ctx fails the call before it is recorded.
func (a *Admin) call(ctx context.Context, op string, item string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.calls = append(a.calls, op+" "+item)
	return a.failures.match(op, item)
}
