package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/eteran/granary/internal/permission"
	"github.com/eteran/granary/internal/quota"
	"github.com/eteran/granary/internal/store"
)

func (s *Server) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	key, _ := KeyFromContext(r.Context())
	buckets, err := s.svc.Objects.ListBuckets(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

func (s *Server) handleCreateBucket(w http.ResponseWriter, r *http.Request) {
	key, _ := KeyFromContext(r.Context())
	bucket := r.PathValue("bucket")
	if err := s.svc.Objects.CreateBucket(r.Context(), key, bucket); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, store.Bucket{Name: bucket})
}

func (s *Server) handleDeleteBucket(w http.ResponseWriter, r *http.Request) {
	key, _ := KeyFromContext(r.Context())
	if err := s.svc.Objects.DeleteBucket(r.Context(), key, r.PathValue("bucket")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request) {
	key, _ := KeyFromContext(r.Context())
	objs, err := s.svc.Objects.ListObjects(r.Context(), key, r.PathValue("bucket"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, objs)
}

func (s *Server) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	key, _ := KeyFromContext(r.Context())
	if err := s.svc.Objects.DeleteObject(r.Context(), key, r.PathValue("bucket"), r.PathValue("key")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	key, _ := KeyFromContext(r.Context())
	listing, err := s.svc.Objects.ListByPrefix(r.Context(), key, r.PathValue("bucket"), r.URL.Query().Get("prefix"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// handleUpload accepts a multipart form with the payload in the "file" field.
// The object key is the "key" field, or the file name when it is absent.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	key, _ := KeyFromContext(r.Context())

	if err := r.ParseMultipartForm(s.maxFormMemory); err != nil {
		writeError(w, r, fmt.Errorf("%w: parse form: %v", store.ErrInvalidArgument, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: form field file: %v", store.ErrInvalidArgument, err))
		return
	}
	defer file.Close()

	objectKey := r.FormValue("key")
	if objectKey == "" {
		objectKey = header.Filename
	}
	if objectKey == "" {
		writeError(w, r, fmt.Errorf("%w: object key is required", store.ErrInvalidArgument))
		return
	}

	res, err := s.svc.Uploads.Upload(r.Context(), key, r.PathValue("bucket"), objectKey, file, header.Size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handlePresign(w http.ResponseWriter, r *http.Request) {
	key, _ := KeyFromContext(r.Context())

	var expiry time.Duration
	if v := r.URL.Query().Get("expiry"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, r, fmt.Errorf("%w: expiry %q", store.ErrInvalidArgument, v))
			return
		}
		expiry = d
	}

	u, err := s.svc.Objects.PresignDownload(r.Context(), key, r.PathValue("bucket"), r.PathValue("key"), expiry)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": u.String()})
}

type grantRequest struct {
	Grantee        string `json:"grantee"`
	Permission     string `json:"permission"`
	ToAccountOwner bool   `json:"toAccountOwner"`
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	key, _ := KeyFromContext(r.Context())
	req, err := decodeJSON[grantRequest](r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var opts []permission.GrantOption
	if req.ToAccountOwner {
		opts = append(opts, permission.ToAccountOwner())
	}
	report, err := s.svc.Permissions.Grant(r.Context(), key, r.PathValue("bucket"), req.Grantee, store.Permission(req.Permission), opts...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleUtilizationAll(w http.ResponseWriter, r *http.Request) {
	key, _ := KeyFromContext(r.Context())
	all, err := s.svc.Quotas.UtilizationForAllBuckets(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (s *Server) handleBucketQuota(w http.ResponseWriter, r *http.Request) {
	usage, err := s.svc.Quotas.BucketQuota(r.Context(), r.PathValue("bucket"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (s *Server) handleUtilization(w http.ResponseWriter, r *http.Request) {
	pct, err := s.svc.Quotas.Utilization(r.Context(), r.PathValue("bucket"))
	switch {
	case errors.Is(err, store.ErrUnboundedQuota):
		writeJSON(w, http.StatusOK, quota.Utilization{Unbounded: true})
	case err != nil:
		writeError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, quota.Utilization{Percent: pct})
	}
}

func (s *Server) handleSetBucketQuota(w http.ResponseWriter, r *http.Request) {
	q, err := decodeJSON[store.Quota](r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	applied, err := s.svc.Quotas.SetBucketQuota(r.Context(), r.PathValue("uid"), r.PathValue("bucket"), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, applied)
}

type createUserRequest struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[createUserRequest](r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	u, err := s.svc.Identities.CreateUser(r.Context(), req.UserID, req.DisplayName, req.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.svc.Identities.User(r.Context(), r.PathValue("uid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleUserQuota(w http.ResponseWriter, r *http.Request) {
	q, err := s.svc.Quotas.UserQuota(r.Context(), r.PathValue("uid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleSetUserQuota(w http.ResponseWriter, r *http.Request) {
	q, err := decodeJSON[store.Quota](r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	applied, err := s.svc.Quotas.SetUserQuota(r.Context(), r.PathValue("uid"), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, applied)
}

func (s *Server) handleUserQuotas(w http.ResponseWriter, r *http.Request) {
	quotas, err := s.svc.Quotas.UserQuotas(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quotas)
}

func (s *Server) handleDefaultBucketQuotas(w http.ResponseWriter, r *http.Request) {
	quotas, err := s.svc.Quotas.DefaultBucketQuotas(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quotas)
}

func (s *Server) handleListSubUsers(w http.ResponseWriter, r *http.Request) {
	subUsers, err := s.svc.Identities.ListSubUsers(r.Context(), r.PathValue("uid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subUsers)
}

type createSubUserRequest struct {
	SubUser   string `json:"subUser"`
	AccessKey string `json:"accessKey"`
	SecretKey string `json:"secretKey"`
}

func (s *Server) handleCreateSubUser(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[createSubUserRequest](r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	key := store.Key{AccessKey: req.AccessKey, SecretKey: req.SecretKey}
	subUsers, err := s.svc.Identities.CreateSubUser(r.Context(), r.PathValue("uid"), req.SubUser, key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, subUsers)
}

func (s *Server) handleDeleteSubUser(w http.ResponseWriter, r *http.Request) {
	err := s.svc.Identities.DeleteSubUser(r.Context(), r.PathValue("uid"), r.PathValue("sub"), r.URL.Query().Get("accessKey"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type permissionBody struct {
	Permission store.SubUserPermission `json:"permission"`
}

func (s *Server) handleSubUserPermission(w http.ResponseWriter, r *http.Request) {
	perm, err := s.svc.Identities.SubUserPermission(r.Context(), r.PathValue("uid"), r.PathValue("sub"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, permissionBody{Permission: perm})
}

func (s *Server) handleSetSubUserPermission(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[permissionBody](r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	perm, err := s.svc.Identities.SetSubUserPermission(r.Context(), r.PathValue("uid"), r.PathValue("sub"), string(req.Permission))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, permissionBody{Permission: perm})
}

func (s *Server) handleRotateSubUserKey(w http.ResponseWriter, r *http.Request) {
	key, err := decodeJSON[store.Key](r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cred, err := s.svc.Identities.RotateSubUserKey(r.Context(), r.PathValue("uid"), r.PathValue("sub"), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cred)
}

func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := s.svc.Identities.Credentials(r.Context(), r.PathValue("uid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, creds)
}

func (s *Server) handleCreateCredential(w http.ResponseWriter, r *http.Request) {
	cred, err := s.svc.Identities.CreateCredential(r.Context(), r.PathValue("uid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cred)
}

func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Identities.DeleteCredential(r.Context(), r.PathValue("uid"), r.PathValue("accessKey")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUserRateLimit(w http.ResponseWriter, r *http.Request) {
	limit, err := s.svc.RateLimits.UserRateLimit(r.Context(), r.PathValue("uid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, limit)
}

func (s *Server) handleSetUserRateLimit(w http.ResponseWriter, r *http.Request) {
	limit, err := decodeJSON[store.RateLimit](r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.RateLimits.SetUserRateLimit(r.Context(), r.PathValue("uid"), limit); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, limit)
}

func (s *Server) handleAllRateLimits(w http.ResponseWriter, r *http.Request) {
	limits, err := s.svc.RateLimits.AllUserRateLimits(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, limits)
}
