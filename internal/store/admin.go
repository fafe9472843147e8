package store

import (
	"fmt"
	"strings"
)

// User is a top-level identity at the store.
type User struct {
	ID          string       `json:"userId"`
	DisplayName string       `json:"displayName"`
	Email       string       `json:"email"`
	SubUsers    []SubUser    `json:"subUsers"`
	Keys        []Credential `json:"keys"`
}

// SubUser is a sub-identity scoped to exactly one parent user. ID is the
// short sub-user id without the "uid:" prefix.
type SubUser struct {
	ID         string            `json:"id"`
	Permission SubUserPermission `json:"permission"`
}

// Credential is an S3 access/secret pair owned by a user ("uid") or one of
// its sub-users ("uid:sub").
type Credential struct {
	User      string `json:"user"`
	AccessKey string `json:"accessKey"`
	SecretKey string `json:"secretKey,omitempty"`
}

// SubUserID joins a parent id and a short sub-user id into the store's
// fully-qualified form.
func SubUserID(uid, subUID string) string {
	return uid + ":" + subUID
}

// ShortSubUserID strips the parent prefix from a fully-qualified sub-user id.
func ShortSubUserID(id string) string {
	if _, sub, ok := strings.Cut(id, ":"); ok {
		return sub
	}
	return id
}

// Quota is a capacity ceiling. Negative values mean unlimited.
type Quota struct {
	Enabled    bool  `json:"enabled"`
	MaxSizeKB  int64 `json:"maxSizeKb"`
	MaxObjects int64 `json:"maxObjects"`
}

// Unlimited is the quota the store reports when no ceiling is configured.
var Unlimited = Quota{MaxSizeKB: -1, MaxObjects: -1}

// BucketUsage is the live usage report of one bucket.
type BucketUsage struct {
	Bucket     string `json:"bucket"`
	Owner      string `json:"owner"`
	Quota      Quota  `json:"quota"`
	ActualSize int64  `json:"actualSize"`
	Objects    int64  `json:"objects"`
}

// RateLimit is a per-user throughput limit. Zero values mean unlimited.
type RateLimit struct {
	MaxReadOps    int64 `json:"maxReadOps"`
	MaxWriteOps   int64 `json:"maxWriteOps"`
	MaxReadBytes  int64 `json:"maxReadBytes"`
	MaxWriteBytes int64 `json:"maxWriteBytes"`
	Enabled       bool  `json:"enabled"`
}

// SubUserPermission is the access level of a sub-user.
type SubUserPermission string

const (
	SubUserNone      SubUserPermission = "NONE"
	SubUserRead      SubUserPermission = "READ"
	SubUserWrite     SubUserPermission = "WRITE"
	SubUserReadWrite SubUserPermission = "READ_WRITE"
	SubUserFull      SubUserPermission = "FULL"
)

var subUserPermissions = map[string]SubUserPermission{
	"NONE":         SubUserNone,
	"<NONE>":       SubUserNone,
	"READ":         SubUserRead,
	"WRITE":        SubUserWrite,
	"READ_WRITE":   SubUserReadWrite,
	"READ-WRITE":   SubUserReadWrite,
	"READWRITE":    SubUserReadWrite,
	"FULL":         SubUserFull,
	"FULL-CONTROL": SubUserFull,
	"FULL_CONTROL": SubUserFull,
}

// ParseSubUserPermission parses a sub-user access level case-insensitively.
// The store's own spellings ("<none>", "read-write", "full-control") are
// accepted alongside the canonical names.
func ParseSubUserPermission(s string) (SubUserPermission, error) {
	if p, ok := subUserPermissions[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown sub-user permission %q", ErrInvalidArgument, s)
}

// AdminValue returns the spelling the administrative API expects for the
// "access" parameter.
func (p SubUserPermission) AdminValue() string {
	switch p {
	case SubUserRead:
		return "read"
	case SubUserWrite:
		return "write"
	case SubUserReadWrite:
		return "readwrite"
	case SubUserFull:
		return "full"
	default:
		return "none"
	}
}
