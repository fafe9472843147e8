package s3_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eteran/granary/internal/s3"
	"github.com/eteran/granary/internal/store"
)

var testKey = store.Key{AccessKey: "tenant-access", SecretKey: "tenant-secret"}

const listPageXML = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>photos</Name>
  <Prefix>2024/</Prefix>
  <KeyCount>2</KeyCount>
  <MaxKeys>2</MaxKeys>
  <Delimiter>/</Delimiter>
  <IsTruncated>true</IsTruncated>
  <NextContinuationToken>token-2</NextContinuationToken>
  <Contents>
    <Key>2024/a.jpg</Key>
    <LastModified>2024-05-01T10:00:00.000Z</LastModified>
    <ETag>&quot;abc&quot;</ETag>
    <Size>12</Size>
    <StorageClass>STANDARD</StorageClass>
  </Contents>
  <CommonPrefixes>
    <Prefix>2024/june/</Prefix>
  </CommonPrefixes>
</ListBucketResult>`

const noSuchBucketXML = `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchBucket</Code><Message>The specified bucket does not exist</Message><RequestId>tx1</RequestId></Error>`

const listBucketsXML = `<?xml version="1.0" encoding="UTF-8"?>
<ListAllMyBucketsResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Owner><ID>tenant</ID><DisplayName>Tenant</DisplayName></Owner>
  <Buckets>
    <Bucket><Name>photos</Name><CreationDate>2024-05-01T10:00:00.000Z</CreationDate></Bucket>
  </Buckets>
</ListAllMyBucketsResult>`

// newACLServer returns a server that remembers the last ACL document written
// per resource and serves it back.
func newACLServer(t *testing.T) *httptest.Server {
	t.Helper()

	var mu sync.Mutex
	documents := map[string]string{
		"/photos": `<?xml version="1.0" encoding="UTF-8"?>
<AccessControlPolicy xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Owner><ID>owner-1</ID><DisplayName>Owner One</DisplayName></Owner>
  <AccessControlList>
    <Grant>
      <Grantee xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xsi:type="CanonicalUser"><ID>owner-1</ID></Grantee>
      <Permission>FULL_CONTROL</Permission>
    </Grant>
    <Grant>
      <Grantee xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xsi:type="Group"><URI>http://acs.amazonaws.com/groups/global/AllUsers</URI></Grantee>
      <Permission>READ</Permission>
    </Grant>
  </AccessControlList>
</AccessControlPolicy>`,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "AWS4-HMAC-SHA256 Credential="+testKey.AccessKey+"/") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.Method == http.MethodGet && r.URL.Path == "/" {
			_, _ = io.WriteString(w, listBucketsXML)
			return
		}
		if _, ok := r.URL.Query()["acl"]; !ok {
			w.WriteHeader(http.StatusNotImplemented)
			return
		}

		mu.Lock()
		defer mu.Unlock()

		switch r.Method {
		case http.MethodGet:
			doc, ok := documents[r.URL.Path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				_, _ = io.WriteString(w, noSuchBucketXML)
				return
			}
			_, _ = io.WriteString(w, doc)
		case http.MethodPut:
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			documents[r.URL.Path] = string(body)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := s3.New(s3.Config{Endpoint: "http://localhost:7480"}, store.Key{AccessKey: "only-access"})
	require.ErrorIs(t, err, store.ErrInvalidArgument)

	for _, endpoint := range []string{"localhost:7480", "ftp://host", "http://", "http://host/admin"} {
		_, err := s3.New(s3.Config{Endpoint: endpoint}, testKey)
		require.Errorf(t, err, "endpoint %q should be rejected", endpoint)
	}
}

func TestBucketACLRoundTrip(t *testing.T) {
	t.Parallel()

	srv := newACLServer(t)
	client, err := s3.New(s3.Config{Endpoint: srv.URL}, testKey)
	require.NoError(t, err)

	acl, err := client.BucketACL(t.Context(), "photos")
	require.NoError(t, err)
	require.Equal(t, "owner-1", acl.Owner)
	require.Equal(t, []store.Grant{
		store.UserGrant("owner-1", store.PermissionFullControl),
		{Grantee: "http://acs.amazonaws.com/groups/global/AllUsers", Type: store.GranteeGroup, Permission: store.PermissionRead},
	}, acl.Grants)

	updated, changed := acl.WithGrant(store.UserGrant("alice", store.PermissionWrite))
	require.True(t, changed)
	require.NoError(t, client.SetBucketACL(t.Context(), "photos", updated))

	got, err := client.BucketACL(t.Context(), "photos")
	require.NoError(t, err)
	require.Equal(t, updated, got, "group grants must survive a write-back")
}

func TestAccountOwner(t *testing.T) {
	t.Parallel()

	srv := newACLServer(t)
	client, err := s3.New(s3.Config{Endpoint: srv.URL}, testKey)
	require.NoError(t, err)

	owner, err := client.AccountOwner(t.Context())
	require.NoError(t, err)
	require.Equal(t, "tenant", owner, "the caller's account, not a bucket ACL owner")
}

func TestObjectACLNotFound(t *testing.T) {
	t.Parallel()

	srv := newACLServer(t)
	client, err := s3.New(s3.Config{Endpoint: srv.URL}, testKey)
	require.NoError(t, err)

	_, err = client.ObjectACL(t.Context(), "missing", "a/b.txt")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListObjectsPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/photos/" && r.URL.Path != "/photos" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, noSuchBucketXML)
			return
		}
		require.Equal(t, "2", q.Get("list-type"))
		require.Equal(t, "2024/", q.Get("prefix"))
		require.Equal(t, "/", q.Get("delimiter"))
		require.Equal(t, "token-1", q.Get("continuation-token"))
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, listPageXML)
	}))
	t.Cleanup(srv.Close)

	client, err := s3.New(s3.Config{Endpoint: srv.URL}, testKey)
	require.NoError(t, err)

	page, err := client.ListObjectsPage(t.Context(), "photos", store.ListOptions{
		Prefix:            "2024/",
		Delimiter:         "/",
		ContinuationToken: "token-1",
		MaxKeys:           2,
	})
	require.NoError(t, err)
	require.True(t, page.IsTruncated)
	require.Equal(t, "token-2", page.NextContinuationToken)
	require.Equal(t, []string{"2024/june/"}, page.CommonPrefixes)
	require.Len(t, page.Objects, 1)
	require.Equal(t, "2024/a.jpg", page.Objects[0].Key)
	require.EqualValues(t, 12, page.Objects[0].Size)
	require.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), page.Objects[0].LastModified.UTC())

	_, err = client.ListObjectsPage(t.Context(), "other", store.ListOptions{})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPresignGet(t *testing.T) {
	t.Parallel()

	client, err := s3.New(s3.Config{Endpoint: "http://rgw.example:7480"}, testKey)
	require.NoError(t, err)

	u, err := client.PresignGet(t.Context(), "photos", "2024/a.jpg", 10*time.Minute)
	require.NoError(t, err)
	require.Equal(t, "rgw.example:7480", u.Host)
	require.Equal(t, "/photos/2024/a.jpg", u.Path, "path-style addressing")
	require.Equal(t, "600", u.Query().Get("X-Amz-Expires"))
	require.Contains(t, u.Query().Get("X-Amz-Credential"), testKey.AccessKey)
}
