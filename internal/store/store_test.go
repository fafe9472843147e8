package store_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eteran/granary/internal/store"
)

func TestParsePermission(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]store.Permission{
		"read":         store.PermissionRead,
		"WRITE":        store.PermissionWrite,
		"FullControl":  store.PermissionFullControl,
		"full_control": store.PermissionFullControl,
		" read_acp ":   store.PermissionReadACP,
		"WriteAcp":     store.PermissionWriteACP,
	} {
		got, err := store.ParsePermission(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := store.ParsePermission("owner")
	require.ErrorIs(t, err, store.ErrInvalidArgument)
}

func TestParseSubUserPermission(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in    string
		want  store.SubUserPermission
		admin string
	}{
		{"none", store.SubUserNone, "none"},
		{"<none>", store.SubUserNone, "none"},
		{"Read", store.SubUserRead, "read"},
		{"write", store.SubUserWrite, "write"},
		{"read_write", store.SubUserReadWrite, "readwrite"},
		{"read-write", store.SubUserReadWrite, "readwrite"},
		{"FULL", store.SubUserFull, "full"},
		{"full-control", store.SubUserFull, "full"},
	}
	for _, tt := range tests {
		got, err := store.ParseSubUserPermission(tt.in)
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got, tt.in)
		require.Equal(t, tt.admin, got.AdminValue(), tt.in)
	}

	for _, bad := range []string{"", "admin", "read write"} {
		_, err := store.ParseSubUserPermission(bad)
		require.ErrorIs(t, err, store.ErrInvalidArgument, bad)
	}
}

func TestWithGrantIsIdempotent(t *testing.T) {
	t.Parallel()

	acl := store.ACL{Owner: "owner", Grants: []store.Grant{store.UserGrant("owner", store.PermissionFullControl)}}
	grant := store.UserGrant("bob", store.PermissionRead)

	once, changed := acl.WithGrant(grant)
	require.True(t, changed)
	require.Len(t, once.Grants, 2)
	require.Len(t, acl.Grants, 1, "original list must not be modified")

	twice, changed := once.WithGrant(grant)
	require.False(t, changed)
	require.Equal(t, once, twice)

	_, changed = once.WithGrant(store.UserGrant("bob", store.PermissionWrite))
	require.True(t, changed, "a different level is a different grant")
}

func TestStepErrorMessage(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	tests := []struct {
		err  *store.StepError
		want string
	}{
		{
			err:  &store.StepError{Op: "upload media/a", Step: "upload part", Index: 4, Total: 9, Err: cause},
			want: "upload media/a: upload part (4 of 9): boom",
		},
		{
			err:  &store.StepError{Op: "delete bucket logs", Step: "delete object", Item: "x.log", Index: 1, Total: 2, Err: cause},
			want: "delete bucket logs: delete object x.log (1 of 2): boom",
		},
		{
			err:  &store.StepError{Op: "delete sub-user a:b", Step: "remove sub-user", Err: cause},
			want: "delete sub-user a:b: remove sub-user: boom",
		},
	}
	for _, tt := range tests {
		require.EqualError(t, tt.err, tt.want)
		require.ErrorIs(t, tt.err, cause)
	}
}

func TestSubUserID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "alice:app", store.SubUserID("alice", "app"))
	require.Equal(t, "app", store.ShortSubUserID("alice:app"))
	require.Equal(t, "app", store.ShortSubUserID("app"))
}

func TestKeyStringHidesSecret(t *testing.T) {
	t.Parallel()

	key := store.Key{AccessKey: "AK", SecretKey: "SK"}
	require.Equal(t, "AK", key.String())
	require.True(t, key.Valid())
	require.False(t, store.Key{AccessKey: "AK"}.Valid())
}
