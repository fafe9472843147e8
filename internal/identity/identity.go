// Package identity manages users, their sub-users and the S3 credentials
// attached to either.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/eteran/granary/internal/store"
)

// Admin is the part of the administrative API the manager drives.
type Admin interface {
	User(ctx context.Context, uid string) (store.User, error)
	CreateUser(ctx context.Context, uid string, displayName string, email string) (store.User, error)
	CreateSubUser(ctx context.Context, uid string, subUID string, key store.Key, perm store.SubUserPermission) ([]store.SubUser, error)
	ModifySubUser(ctx context.Context, uid string, subUID string, perm store.SubUserPermission) error
	RemoveSubUser(ctx context.Context, uid string, subUID string) error
	CreateKey(ctx context.Context, uid string, subUID string, key store.Key) ([]store.Credential, error)
	RemoveKey(ctx context.Context, uid string, subUID string, accessKey string) error
}

type Manager struct {
	admin Admin
}

func New(admin Admin) *Manager {
	return &Manager{admin: admin}
}

func (m *Manager) User(ctx context.Context, uid string) (store.User, error) {
	u, err := m.admin.User(ctx, uid)
	if err != nil {
		return store.User{}, fmt.Errorf("get user %s: %w", uid, err)
	}
	for i := range u.Keys {
		u.Keys[i].SecretKey = ""
	}
	return u, nil
}

// CreateUser creates a top-level identity. An existing uid is an error.
func (m *Manager) CreateUser(ctx context.Context, uid string, displayName string, email string) (store.User, error) {
	if uid == "" {
		return store.User{}, fmt.Errorf("%w: user id must not be empty", store.ErrInvalidArgument)
	}
	if displayName == "" {
		displayName = uid
	}
	u, err := m.admin.CreateUser(ctx, uid, displayName, email)
	if err != nil {
		return store.User{}, fmt.Errorf("create user %s: %w", uid, err)
	}
	slog.Info("Created user", "user", uid)
	return u, nil
}

// CreateSubUser creates uid:subUID holding key. The sub-user starts with no
// access; SetSubUserPermission grants it.
func (m *Manager) CreateSubUser(ctx context.Context, uid string, subUID string, key store.Key) ([]store.SubUser, error) {
	if subUID == "" {
		return nil, fmt.Errorf("%w: sub-user id must not be empty", store.ErrInvalidArgument)
	}
	if !key.Valid() {
		return nil, fmt.Errorf("%w: sub-user %s needs a complete credential pair", store.ErrInvalidArgument, store.SubUserID(uid, subUID))
	}
	subUsers, err := m.admin.CreateSubUser(ctx, uid, subUID, key, store.SubUserNone)
	if err != nil {
		return nil, fmt.Errorf("create sub-user %s: %w", store.SubUserID(uid, subUID), err)
	}
	slog.Info("Created sub-user", "user", uid, "subUser", subUID, "accessKey", key.AccessKey)
	return subUsers, nil
}

// ListSubUsers maps the short id of every sub-user of uid to its access
// level.
func (m *Manager) ListSubUsers(ctx context.Context, uid string) (map[string]store.SubUserPermission, error) {
	u, err := m.admin.User(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("list sub-users of %s: %w", uid, err)
	}
	subUsers := make(map[string]store.SubUserPermission, len(u.SubUsers))
	for _, s := range u.SubUsers {
		subUsers[s.ID] = s.Permission
	}
	return subUsers, nil
}

func (m *Manager) SubUserPermission(ctx context.Context, uid string, subUID string) (store.SubUserPermission, error) {
	u, err := m.admin.User(ctx, uid)
	if err != nil {
		return "", fmt.Errorf("get sub-user %s: %w", store.SubUserID(uid, subUID), err)
	}
	for _, s := range u.SubUsers {
		if s.ID == subUID {
			return s.Permission, nil
		}
	}
	return "", fmt.Errorf("get sub-user %s: %w", store.SubUserID(uid, subUID), store.ErrNotFound)
}

// SetSubUserPermission parses level and applies it to uid:subUID. Unknown
// levels fail with store.ErrInvalidArgument before anything is sent.
func (m *Manager) SetSubUserPermission(ctx context.Context, uid string, subUID string, level string) (store.SubUserPermission, error) {
	perm, err := store.ParseSubUserPermission(level)
	if err != nil {
		return "", err
	}
	if err := m.admin.ModifySubUser(ctx, uid, subUID, perm); err != nil {
		return "", fmt.Errorf("set permission of %s: %w", store.SubUserID(uid, subUID), err)
	}
	slog.Info("Set sub-user permission", "user", uid, "subUser", subUID, "permission", perm)
	return perm, nil
}

// DeleteSubUser revokes every key held by uid:subUID and then removes the
// sub-user. accessKey, when set, is revoked first even if the user record
// no longer lists it. A key that is already gone does not stop the removal.
func (m *Manager) DeleteSubUser(ctx context.Context, uid string, subUID string, accessKey string) error {
	id := store.SubUserID(uid, subUID)
	op := "delete sub-user " + id

	u, err := m.admin.User(ctx, uid)
	if err != nil {
		return &store.StepError{Op: op, Step: "get user", Err: err}
	}

	var owned []string
	if accessKey != "" {
		owned = append(owned, accessKey)
	}
	for _, k := range u.Keys {
		if k.User == id && k.AccessKey != accessKey {
			owned = append(owned, k.AccessKey)
		}
	}
	for i, key := range owned {
		err := m.admin.RemoveKey(ctx, uid, subUID, key)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return &store.StepError{Op: op, Step: "revoke key", Item: key, Index: i + 1, Total: len(owned), Err: err}
		}
	}

	if err := m.admin.RemoveSubUser(ctx, uid, subUID); err != nil {
		return &store.StepError{Op: op, Step: "remove sub-user", Err: err}
	}
	slog.Info("Deleted sub-user", "user", uid, "subUser", subUID, "revoked", len(owned))
	return nil
}

// RotateSubUserKey revokes every key held by uid:subUID and attaches
// newKey, or a store-generated pair when newKey is incomplete. If attaching
// fails the sub-user is left without keys; the returned error says so and
// the call can be repeated.
func (m *Manager) RotateSubUserKey(ctx context.Context, uid string, subUID string, newKey store.Key) (store.Credential, error) {
	id := store.SubUserID(uid, subUID)
	op := "rotate key of " + id

	u, err := m.admin.User(ctx, uid)
	if err != nil {
		return store.Credential{}, &store.StepError{Op: op, Step: "get user", Err: err}
	}
	if !slices.ContainsFunc(u.SubUsers, func(s store.SubUser) bool { return s.ID == subUID }) {
		return store.Credential{}, &store.StepError{Op: op, Step: "get user", Err: fmt.Errorf("sub-user %s: %w", id, store.ErrNotFound)}
	}

	var owned []string
	for _, k := range u.Keys {
		if k.User == id {
			owned = append(owned, k.AccessKey)
		}
	}
	for i, accessKey := range owned {
		err := m.admin.RemoveKey(ctx, uid, subUID, accessKey)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return store.Credential{}, &store.StepError{Op: op, Step: "revoke key", Item: accessKey, Index: i + 1, Total: len(owned), Err: err}
		}
	}

	keys, err := m.admin.CreateKey(ctx, uid, subUID, newKey)
	if err != nil {
		return store.Credential{}, &store.StepError{Op: op, Step: "attach key after revoking old keys", Err: err}
	}
	cred, ok := newCredential(keys, id, nil)
	if !ok {
		return store.Credential{}, &store.StepError{Op: op, Step: "attach key after revoking old keys", Err: fmt.Errorf("%w: new key missing from response", store.ErrRemote)}
	}

	slog.Info("Rotated sub-user key", "user", uid, "subUser", subUID, "revoked", len(owned), "accessKey", cred.AccessKey)
	return cred, nil
}

// CreateCredential asks the store to generate a key pair for uid. The
// secret is only ever returned here.
func (m *Manager) CreateCredential(ctx context.Context, uid string) (store.Credential, error) {
	u, err := m.admin.User(ctx, uid)
	if err != nil {
		return store.Credential{}, fmt.Errorf("create key for %s: %w", uid, err)
	}
	var existing []string
	for _, k := range u.Keys {
		existing = append(existing, k.AccessKey)
	}

	keys, err := m.admin.CreateKey(ctx, uid, "", store.Key{})
	if err != nil {
		return store.Credential{}, fmt.Errorf("create key for %s: %w", uid, err)
	}
	cred, ok := newCredential(keys, uid, existing)
	if !ok {
		return store.Credential{}, fmt.Errorf("create key for %s: %w: new key missing from response", uid, store.ErrRemote)
	}
	slog.Info("Created credential", "user", uid, "accessKey", cred.AccessKey)
	return cred, nil
}

// DeleteCredential revokes one key of uid. Revoking a key that no longer
// exists succeeds.
func (m *Manager) DeleteCredential(ctx context.Context, uid string, accessKey string) error {
	err := m.admin.RemoveKey(ctx, uid, "", accessKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
		slog.Debug("Credential already revoked", "user", uid, "accessKey", accessKey)
		return nil
	case err != nil:
		return fmt.Errorf("delete key %s of %s: %w", accessKey, uid, err)
	}
	slog.Info("Deleted credential", "user", uid, "accessKey", accessKey)
	return nil
}

// Credentials lists the keys of uid and its sub-users without secrets.
func (m *Manager) Credentials(ctx context.Context, uid string) ([]store.Credential, error) {
	u, err := m.User(ctx, uid)
	if err != nil {
		return nil, err
	}
	return u.Keys, nil
}

// newCredential picks the key owned by owner that is not in existing.
func newCredential(keys []store.Credential, owner string, existing []string) (store.Credential, bool) {
	for _, k := range keys {
		if k.User == owner && !slices.Contains(existing, k.AccessKey) {
			return k, true
		}
	}
	return store.Credential{}, false
}
