package rgw_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eteran/granary/internal/rgw"
	"github.com/eteran/granary/internal/store"
)

const (
	AccessKeyID     = "operator"
	SecretAccessKey = "operator-secret"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  url.Values
}

// Flag reports whether the request selected the value-less sub-resource
// flag, such as "?quota" or "?key".
func (r recordedRequest) Flag(flag string) bool {
	return slices.Contains(r.Query[flag], "")
}

// Carries reports whether name was sent with value.
func (r recordedRequest) Carries(name string, value string) bool {
	return slices.Contains(r.Query[name], value)
}

type fakeGateway struct {
	mu       sync.Mutex
	requests []recordedRequest
	routes   map[string]func(w http.ResponseWriter, r *http.Request)
}

// newFakeGateway serves canned admin responses keyed by "METHOD /path" or,
// for sub-resources, "METHOD /path?flag".
func newFakeGateway(t *testing.T) (*fakeGateway, *httptest.Server) {
	t.Helper()

	gw := &fakeGateway{routes: map[string]func(w http.ResponseWriter, r *http.Request){}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "AWS4-HMAC-SHA256 Credential="+AccessKeyID+"/") {
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"Code":"AccessDenied"}`)
			return
		}

		// Sub-resource flags may be joined to the parameters with a second "?".
		query, _ := url.ParseQuery(strings.ReplaceAll(r.URL.RawQuery, "?", "&"))
		req := recordedRequest{Method: r.Method, Path: r.URL.Path, Query: query}

		route := r.Method + " " + r.URL.Path
		for _, flag := range []string{"key", "quota", "subuser"} {
			if req.Flag(flag) {
				route += "?" + flag
				break
			}
		}

		gw.mu.Lock()
		gw.requests = append(gw.requests, req)
		handler, ok := gw.routes[route]
		gw.mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"Code":"NoSuchUser","RequestId":"tx0","HostId":"rgw"}`)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return gw, srv
}

func (g *fakeGateway) handle(route string, status int, body string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.routes[route] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func (g *fakeGateway) last() recordedRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

// sent returns the recorded requests that selected flag with method.
func (g *fakeGateway) sent(method string, flag string) []recordedRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []recordedRequest
	for _, req := range g.requests {
		if req.Method == method && req.Flag(flag) {
			out = append(out, req)
		}
	}
	return out
}

func newAdmin(t *testing.T, srv *httptest.Server) *rgw.AdminClient {
	t.Helper()
	client, err := rgw.NewAdminClient(rgw.Config{
		Endpoint:  srv.URL + "/admin",
		AccessKey: AccessKeyID,
		SecretKey: SecretAccessKey,
	})
	require.NoError(t, err)
	return client
}

func TestNewAdminClientValidation(t *testing.T) {
	t.Parallel()

	_, err := rgw.NewAdminClient(rgw.Config{Endpoint: "rgw:7480/admin", AccessKey: "a", SecretKey: "b"})
	require.Error(t, err)

	_, err = rgw.NewAdminClient(rgw.Config{Endpoint: "http://rgw:7480/admin"})
	require.Error(t, err)
}

func TestUserInfo(t *testing.T) {
	t.Parallel()

	gw, srv := newFakeGateway(t)
	gw.handle("GET /admin/user", http.StatusOK, `{
		"user_id": "tenant",
		"display_name": "Tenant",
		"email": "tenant@example.com",
		"subusers": [{"id": "tenant:reader", "permissions": "read"}, {"id": "tenant:ops", "permissions": "full-control"}],
		"keys": [{"user": "tenant", "access_key": "AK1", "secret_key": "SK1"}, {"user": "tenant:reader", "access_key": "AK2", "secret_key": "SK2"}]
	}`)

	user, err := newAdmin(t, srv).User(t.Context(), "tenant")
	require.NoError(t, err)
	require.Equal(t, store.User{
		ID:          "tenant",
		DisplayName: "Tenant",
		Email:       "tenant@example.com",
		SubUsers: []store.SubUser{
			{ID: "reader", Permission: store.SubUserRead},
			{ID: "ops", Permission: store.SubUserFull},
		},
		Keys: []store.Credential{
			{User: "tenant", AccessKey: "AK1", SecretKey: "SK1"},
			{User: "tenant:reader", AccessKey: "AK2", SecretKey: "SK2"},
		},
	}, user)

	req := gw.last()
	require.Equal(t, "/admin/user", req.Path)
	require.True(t, req.Carries("uid", "tenant"))
}

func TestUsers(t *testing.T) {
	t.Parallel()

	gw, srv := newFakeGateway(t)
	gw.handle("GET /admin/metadata/user", http.StatusOK, `["alice", "bob"]`)

	users, err := newAdmin(t, srv).Users(t.Context())
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, users)
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	gw, srv := newFakeGateway(t)
	gw.handle("PUT /admin/user", http.StatusConflict, `{"Code":"UserAlreadyExists","RequestId":"tx1","HostId":"rgw"}`)
	gw.handle("POST /admin/user?subuser", http.StatusBadRequest, `{"Code":"InvalidAccess","RequestId":"tx2","HostId":"rgw"}`)
	gw.handle("GET /admin/bucket", http.StatusInternalServerError, `oops`)

	admin := newAdmin(t, srv)

	_, err := admin.CreateUser(t.Context(), "tenant", "Tenant", "")
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	err = admin.ModifySubUser(t.Context(), "tenant", "reader", store.SubUserRead)
	require.ErrorIs(t, err, store.ErrInvalidArgument)

	_, err = admin.BucketUsage(t.Context(), "photos")
	require.ErrorIs(t, err, store.ErrRemote)

	_, err = admin.UserQuota(t.Context(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateUserRejectsExistingUser(t *testing.T) {
	t.Parallel()

	gw, srv := newFakeGateway(t)
	gw.handle("GET /admin/user", http.StatusOK, `{"user_id": "tenant", "display_name": "Tenant"}`)
	gw.handle("PUT /admin/user", http.StatusOK, `{"user_id": "tenant", "display_name": "Renamed"}`)

	_, err := newAdmin(t, srv).CreateUser(t.Context(), "tenant", "Renamed", "")
	require.ErrorIs(t, err, store.ErrAlreadyExists)
	require.Equal(t, http.MethodGet, gw.last().Method)
}

func TestCreateSubUserParameters(t *testing.T) {
	t.Parallel()

	gw, srv := newFakeGateway(t)
	gw.handle("PUT /admin/user?subuser", http.StatusOK, `[{"id": "tenant:reader", "permissions": "<none>"}]`)
	gw.handle("PUT /admin/user?key", http.StatusOK, `[{"user": "tenant:reader", "access_key": "AK", "secret_key": "SK"}]`)
	gw.handle("GET /admin/user", http.StatusOK, `{"user_id": "tenant", "subusers": [{"id": "tenant:reader", "permissions": "<none>"}]}`)

	subs, err := newAdmin(t, srv).CreateSubUser(t.Context(), "tenant", "reader",
		store.Key{AccessKey: "AK", SecretKey: "SK"}, store.SubUserNone)
	require.NoError(t, err)
	require.Equal(t, []store.SubUser{{ID: "reader", Permission: store.SubUserNone}}, subs)

	created := gw.sent(http.MethodPut, "subuser")
	require.Len(t, created, 1)
	require.True(t, created[0].Carries("uid", "tenant"))
	require.True(t, created[0].Carries("subuser", "tenant:reader"))
	require.True(t, created[0].Carries("access", "none"))

	keys := gw.sent(http.MethodPut, "key")
	require.Len(t, keys, 1)
	require.True(t, keys[0].Carries("subuser", "tenant:reader"))
	require.True(t, keys[0].Carries("access-key", "AK"))
	require.True(t, keys[0].Carries("secret-key", "SK"))
	require.True(t, keys[0].Carries("key-type", "s3"))
}

func TestCreateSubUserKeyFailureRemovesSubUser(t *testing.T) {
	t.Parallel()

	gw, srv := newFakeGateway(t)
	gw.handle("PUT /admin/user?subuser", http.StatusOK, `[]`)
	gw.handle("PUT /admin/user?key", http.StatusConflict, `{"Code":"KeyExists","RequestId":"tx3","HostId":"rgw"}`)
	gw.handle("DELETE /admin/user?subuser", http.StatusOK, ``)

	_, err := newAdmin(t, srv).CreateSubUser(t.Context(), "tenant", "reader",
		store.Key{AccessKey: "TAKEN", SecretKey: "SK"}, store.SubUserRead)
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	removed := gw.sent(http.MethodDelete, "subuser")
	require.Len(t, removed, 1)
	require.True(t, removed[0].Carries("subuser", "tenant:reader"))
}

func TestKeys(t *testing.T) {
	t.Parallel()

	gw, srv := newFakeGateway(t)
	gw.handle("PUT /admin/user?key", http.StatusOK, `[{"user": "tenant", "access_key": "GEN", "secret_key": "GENSECRET"}]`)
	gw.handle("DELETE /admin/user?key", http.StatusOK, ``)

	admin := newAdmin(t, srv)

	keys, err := admin.CreateKey(t.Context(), "tenant", "", store.Key{})
	require.NoError(t, err)
	require.Equal(t, []store.Credential{{User: "tenant", AccessKey: "GEN", SecretKey: "GENSECRET"}}, keys)
	req := gw.last()
	require.True(t, req.Carries("generate-key", "true"))
	require.Empty(t, slices.DeleteFunc(slices.Clone(req.Query["subuser"]), func(s string) bool { return s == "" }))

	require.NoError(t, admin.RemoveKey(t.Context(), "tenant", "reader", "AK2"))
	req = gw.last()
	require.Equal(t, http.MethodDelete, req.Method)
	require.True(t, req.Carries("access-key", "AK2"))
	require.True(t, req.Carries("subuser", "tenant:reader"))
}

func TestQuotaAndUsage(t *testing.T) {
	t.Parallel()

	gw, srv := newFakeGateway(t)
	gw.handle("GET /admin/user?quota", http.StatusOK, `{"enabled": true, "check_on_raw": false, "max_size": 1024000, "max_size_kb": 1000, "max_objects": 100}`)
	gw.handle("PUT /admin/bucket?quota", http.StatusOK, ``)
	gw.handle("GET /admin/bucket", http.StatusOK, `{
		"bucket": "photos",
		"owner": "tenant",
		"usage": {"rgw.main": {"size": 2048, "size_actual": 4096, "size_kb": 2, "num_objects": 3}},
		"bucket_quota": {"enabled": true, "max_size": 512000, "max_size_kb": 500, "max_objects": 50}
	}`)

	admin := newAdmin(t, srv)

	q, err := admin.UserQuota(t.Context(), "tenant")
	require.NoError(t, err)
	require.Equal(t, store.Quota{Enabled: true, MaxSizeKB: 1000, MaxObjects: 100}, q)
	require.True(t, gw.last().Carries("quota-type", "user"))

	err = admin.SetBucketQuota(t.Context(), "tenant", "photos", store.Quota{Enabled: true, MaxSizeKB: 500, MaxObjects: 50})
	require.NoError(t, err)
	req := gw.last()
	require.Equal(t, "/admin/bucket", req.Path)
	require.True(t, req.Carries("max-size", "512000"))
	require.True(t, req.Carries("max-objects", "50"))
	require.True(t, req.Carries("bucket", "photos"))

	usage, err := admin.BucketUsage(t.Context(), "photos")
	require.NoError(t, err)
	require.Equal(t, store.BucketUsage{
		Bucket:     "photos",
		Owner:      "tenant",
		Quota:      store.Quota{Enabled: true, MaxSizeKB: 500, MaxObjects: 50},
		ActualSize: 4096,
		Objects:    3,
	}, usage)
}

func TestQuotaWithoutCeiling(t *testing.T) {
	t.Parallel()

	const unset = `{"enabled": false, "check_on_raw": false, "max_size": -1, "max_size_kb": 0, "max_objects": -1}`

	gw, srv := newFakeGateway(t)
	gw.handle("GET /admin/user?quota", http.StatusOK, unset)
	gw.handle("GET /admin/user", http.StatusOK, `{"user_id": "tenant", "bucket_quota": `+unset+`}`)
	gw.handle("PUT /admin/user?quota", http.StatusOK, ``)

	admin := newAdmin(t, srv)

	q, err := admin.UserQuota(t.Context(), "tenant")
	require.NoError(t, err)
	require.Equal(t, store.Quota{Enabled: false, MaxSizeKB: -1, MaxObjects: -1}, q)

	q, err = admin.DefaultBucketQuota(t.Context(), "tenant")
	require.NoError(t, err)
	require.Equal(t, store.Unlimited, q)

	require.NoError(t, admin.SetUserQuota(t.Context(), "tenant", store.Unlimited))
	req := gw.last()
	require.True(t, req.Carries("max-size", "-1"))
	require.True(t, req.Carries("max-objects", "-1"))
	require.True(t, req.Carries("enabled", "false"))
}

func TestRateLimitClient(t *testing.T) {
	t.Parallel()

	gw, srv := newFakeGateway(t)
	gw.handle("GET /limits/ratelimit", http.StatusOK, `{"user_ratelimit": {"max_read_ops": 10, "max_write_ops": 5, "max_read_bytes": 1024, "max_write_bytes": 512, "enabled": true}}`)
	gw.handle("POST /limits/ratelimit", http.StatusOK, ``)

	client, err := rgw.NewRateLimitClient(rgw.Config{
		Endpoint:  srv.URL + "/limits",
		AccessKey: AccessKeyID,
		SecretKey: SecretAccessKey,
	})
	require.NoError(t, err)

	limit, err := client.UserRateLimit(t.Context(), "tenant")
	require.NoError(t, err)
	require.Equal(t, store.RateLimit{MaxReadOps: 10, MaxWriteOps: 5, MaxReadBytes: 1024, MaxWriteBytes: 512, Enabled: true}, limit)

	require.NoError(t, client.SetUserRateLimit(t.Context(), "tenant", store.RateLimit{MaxReadOps: 1, Enabled: true}))
	req := gw.last()
	require.Equal(t, "user", req.Query.Get("ratelimit-scope"))
	require.Equal(t, "1", req.Query.Get("max-read-ops"))
	require.Equal(t, "0", req.Query.Get("max-write-bytes"))
	require.Equal(t, "true", req.Query.Get("enabled"))
}

func TestRateLimitErrors(t *testing.T) {
	t.Parallel()

	gw, srv := newFakeGateway(t)
	gw.handle("GET /limits/ratelimit", http.StatusBadRequest, `{"Code":"InvalidArgument"}`)

	client, err := rgw.NewRateLimitClient(rgw.Config{
		Endpoint:  srv.URL + "/limits",
		AccessKey: AccessKeyID,
		SecretKey: SecretAccessKey,
	})
	require.NoError(t, err)

	_, err = client.UserRateLimit(t.Context(), "tenant")
	require.ErrorIs(t, err, store.ErrInvalidArgument)

	err = client.SetUserRateLimit(t.Context(), "missing", store.RateLimit{})
	require.ErrorIs(t, err, store.ErrNotFound)
}
