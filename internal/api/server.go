// Package api is a thin JSON front end over the administration core. It
// binds requests to core operations and renders their results; it performs
// no authorization of its own.
package api

import (
	"net/http"

	"github.com/eteran/granary/internal/identity"
	"github.com/eteran/granary/internal/objects"
	"github.com/eteran/granary/internal/permission"
	"github.com/eteran/granary/internal/quota"
	"github.com/eteran/granary/internal/ratelimit"
	"github.com/eteran/granary/internal/upload"
)

// DefaultMaxFormMemory is how much of a multipart form is kept in memory
// before the rest spills to temporary files.
const DefaultMaxFormMemory = 32 << 20

// Services are the core components the front end dispatches to.
type Services struct {
	Objects     *objects.Repository
	Uploads     *upload.Uploader
	Quotas      *quota.Engine
	Permissions *permission.Propagator
	Identities  *identity.Manager
	RateLimits  *ratelimit.Gateway
}

type Server struct {
	svc           Services
	maxFormMemory int64
}

func NewServer(svc Services) *Server {
	return &Server{svc: svc, maxFormMemory: DefaultMaxFormMemory}
}

// Handler returns the routed and instrumented front end.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	keyed := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, RequireKey(h))
	}

	// Buckets and objects, performed with the caller's credential pair
	keyed("GET /buckets", s.handleListBuckets)
	keyed("PUT /buckets/{bucket}", s.handleCreateBucket)
	keyed("DELETE /buckets/{bucket}", s.handleDeleteBucket)
	keyed("GET /buckets/{bucket}/objects", s.handleListObjects)
	keyed("POST /buckets/{bucket}/objects", s.handleUpload)
	keyed("DELETE /buckets/{bucket}/objects/{key...}", s.handleDeleteObject)
	keyed("GET /buckets/{bucket}/files", s.handleListFiles)
	keyed("GET /buckets/{bucket}/download/{key...}", s.handlePresign)
	keyed("POST /buckets/{bucket}/grants", s.handleGrant)
	keyed("GET /utilization", s.handleUtilizationAll)

	// Operator channel
	mux.HandleFunc("GET /buckets/{bucket}/quota", s.handleBucketQuota)
	mux.HandleFunc("GET /buckets/{bucket}/utilization", s.handleUtilization)
	mux.HandleFunc("PUT /users/{uid}/buckets/{bucket}/quota", s.handleSetBucketQuota)

	mux.HandleFunc("POST /users", s.handleCreateUser)
	mux.HandleFunc("GET /users/{uid}", s.handleUser)
	mux.HandleFunc("GET /users/{uid}/quota", s.handleUserQuota)
	mux.HandleFunc("PUT /users/{uid}/quota", s.handleSetUserQuota)
	mux.HandleFunc("GET /quotas/users", s.handleUserQuotas)
	mux.HandleFunc("GET /quotas/buckets", s.handleDefaultBucketQuotas)

	mux.HandleFunc("GET /users/{uid}/subusers", s.handleListSubUsers)
	mux.HandleFunc("POST /users/{uid}/subusers", s.handleCreateSubUser)
	mux.HandleFunc("DELETE /users/{uid}/subusers/{sub}", s.handleDeleteSubUser)
	mux.HandleFunc("GET /users/{uid}/subusers/{sub}/permission", s.handleSubUserPermission)
	mux.HandleFunc("PUT /users/{uid}/subusers/{sub}/permission", s.handleSetSubUserPermission)
	mux.HandleFunc("PUT /users/{uid}/subusers/{sub}/key", s.handleRotateSubUserKey)

	mux.HandleFunc("GET /users/{uid}/credentials", s.handleCredentials)
	mux.HandleFunc("POST /users/{uid}/credentials", s.handleCreateCredential)
	mux.HandleFunc("DELETE /users/{uid}/credentials/{accessKey}", s.handleDeleteCredential)

	mux.HandleFunc("GET /users/{uid}/ratelimit", s.handleUserRateLimit)
	mux.HandleFunc("PUT /users/{uid}/ratelimit", s.handleSetUserRateLimit)
	mux.HandleFunc("GET /ratelimits", s.handleAllRateLimits)

	var handler http.Handler = mux
	handler = LogRequest(handler)
	handler = Recoverer(handler)
	return handler
}
