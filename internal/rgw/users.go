package rgw

import (
	"context"
	"errors"
	"fmt"

	"github.com/ceph/go-ceph/rgw/admin"

	"github.com/eteran/granary/internal/store"
)

func (c *AdminClient) User(ctx context.Context, uid string) (store.User, error) {
	user, err := c.api.GetUser(ctx, admin.User{ID: uid})
	if err != nil {
		return store.User{}, mapError(err)
	}
	return toUser(user), nil
}

// Users lists the ids of every user known to the store.
func (c *AdminClient) Users(ctx context.Context) ([]string, error) {
	users, err := c.api.GetUsers(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	if users == nil {
		return []string{}, nil
	}
	return *users, nil
}

// CreateUser creates uid. The gateway returns an existing user unchanged
// instead of failing, so an existing uid is reported as ErrAlreadyExists.
func (c *AdminClient) CreateUser(ctx context.Context, uid string, displayName string, email string) (store.User, error) {
	_, err := c.api.GetUser(ctx, admin.User{ID: uid})
	switch {
	case err == nil:
		return store.User{}, fmt.Errorf("%w: user %q", store.ErrAlreadyExists, uid)
	case !errors.Is(mapError(err), store.ErrNotFound):
		return store.User{}, mapError(err)
	}

	user, err := c.api.CreateUser(ctx, admin.User{ID: uid, DisplayName: displayName, Email: email})
	if err != nil {
		return store.User{}, mapError(err)
	}
	return toUser(user), nil
}

func toUser(u admin.User) store.User {
	return store.User{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		SubUsers:    toSubUsers(u.Subusers),
		Keys:        toCredentials(u.Keys),
	}
}

func toSubUsers(in []admin.SubuserSpec) []store.SubUser {
	out := make([]store.SubUser, 0, len(in))
	for _, s := range in {
		perm, err := store.ParseSubUserPermission(string(s.Access))
		if err != nil {
			perm = store.SubUserNone
		}
		out = append(out, store.SubUser{
			ID:         store.ShortSubUserID(s.Name),
			Permission: perm,
		})
	}
	return out
}

func toCredentials(in []admin.UserKeySpec) []store.Credential {
	out := make([]store.Credential, 0, len(in))
	for _, k := range in {
		out = append(out, store.Credential{
			User:      k.User,
			AccessKey: k.AccessKey,
			SecretKey: k.SecretKey,
		})
	}
	return out
}

// CreateSubUser creates uid:subUID with the given access level and attaches
// an S3 key pair to it, returning every sub-user of uid. If the key cannot be
// attached the sub-user is removed again.
func (c *AdminClient) CreateSubUser(ctx context.Context, uid string, subUID string, key store.Key, perm store.SubUserPermission) ([]store.SubUser, error) {
	spec := admin.SubuserSpec{
		Name:   store.SubUserID(uid, subUID),
		Access: admin.SubuserAccess(perm.AdminValue()),
	}
	if err := c.api.CreateSubuser(ctx, admin.User{ID: uid}, spec); err != nil {
		return nil, mapError(err)
	}

	if _, err := c.CreateKey(ctx, uid, subUID, key); err != nil {
		cleanup := admin.SubuserSpec{Name: spec.Name}
		if rmErr := c.api.RemoveSubuser(context.WithoutCancel(ctx), admin.User{ID: uid}, cleanup); rmErr != nil {
			return nil, errors.Join(err, fmt.Errorf("remove sub-user %s: %w", spec.Name, mapError(rmErr)))
		}
		return nil, err
	}

	user, err := c.api.GetUser(ctx, admin.User{ID: uid})
	if err != nil {
		return nil, mapError(err)
	}
	return toSubUsers(user.Subusers), nil
}

func (c *AdminClient) ModifySubUser(ctx context.Context, uid string, subUID string, perm store.SubUserPermission) error {
	spec := admin.SubuserSpec{
		Name:   store.SubUserID(uid, subUID),
		Access: admin.SubuserAccess(perm.AdminValue()),
	}
	return mapError(c.api.ModifySubuser(ctx, admin.User{ID: uid}, spec))
}

// RemoveSubUser removes the sub-user. The gateway purges the keys it still
// holds; callers revoke them explicitly beforehand so each one is reported.
func (c *AdminClient) RemoveSubUser(ctx context.Context, uid string, subUID string) error {
	spec := admin.SubuserSpec{Name: store.SubUserID(uid, subUID)}
	return mapError(c.api.RemoveSubuser(ctx, admin.User{ID: uid}, spec))
}

// CreateKey attaches an S3 key to uid, or to uid:subUID when subUID is set.
// An incomplete key asks the store to generate the pair. The store returns
// every key of the user.
func (c *AdminClient) CreateKey(ctx context.Context, uid string, subUID string, key store.Key) ([]store.Credential, error) {
	spec := admin.UserKeySpec{UID: uid, KeyType: "s3"}
	if subUID != "" {
		spec.SubUser = store.SubUserID(uid, subUID)
	}
	if key.Valid() {
		spec.AccessKey = key.AccessKey
		spec.SecretKey = key.SecretKey
	} else {
		generate := true
		spec.GenerateKey = &generate
	}

	keys, err := c.api.CreateKey(ctx, spec)
	if err != nil {
		return nil, mapError(err)
	}
	if keys == nil {
		return []store.Credential{}, nil
	}
	return toCredentials(*keys), nil
}

func (c *AdminClient) RemoveKey(ctx context.Context, uid string, subUID string, accessKey string) error {
	spec := admin.UserKeySpec{UID: uid, KeyType: "s3", AccessKey: accessKey}
	if subUID != "" {
		spec.SubUser = store.SubUserID(uid, subUID)
	}
	return mapError(c.api.RemoveKey(ctx, spec))
}
