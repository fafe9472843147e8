package store

import (
	"fmt"
	"strings"
)

// Permission is an access-control level attached to a grant.
type Permission string

const (
	PermissionFullControl Permission = "FULL_CONTROL"
	PermissionRead        Permission = "READ"
	PermissionWrite       Permission = "WRITE"
	PermissionReadACP     Permission = "READ_ACP"
	PermissionWriteACP    Permission = "WRITE_ACP"
)

var permissions = map[string]Permission{
	"FULL_CONTROL": PermissionFullControl,
	"FULLCONTROL":  PermissionFullControl,
	"READ":         PermissionRead,
	"WRITE":        PermissionWrite,
	"READ_ACP":     PermissionReadACP,
	"READACP":      PermissionReadACP,
	"WRITE_ACP":    PermissionWriteACP,
	"WRITEACP":     PermissionWriteACP,
}

// ParsePermission parses an ACL permission case-insensitively. Both the S3
// wire spelling (FULL_CONTROL) and the camel-case spelling (FullControl) are
// accepted.
func ParsePermission(s string) (Permission, error) {
	if p, ok := permissions[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown permission %q", ErrInvalidArgument, s)
}

// GranteeType distinguishes canonical users from predefined groups.
type GranteeType string

const (
	GranteeCanonicalUser GranteeType = "CanonicalUser"
	GranteeGroup         GranteeType = "Group"
)

// Grant gives a grantee a permission. Grantee is the canonical user id, or
// the group URI when Type is GranteeGroup.
type Grant struct {
	Grantee    string      `json:"grantee"`
	Type       GranteeType `json:"type"`
	Permission Permission  `json:"permission"`
}

// UserGrant returns a grant for a canonical user.
func UserGrant(id string, p Permission) Grant {
	return Grant{Grantee: id, Type: GranteeCanonicalUser, Permission: p}
}

// ACL is the access-control list of a bucket or an object.
type ACL struct {
	Owner     string  `json:"owner"`
	OwnerName string  `json:"ownerName,omitempty"`
	Grants    []Grant `json:"grants"`
}

// Has reports whether the list already contains g.
func (a ACL) Has(g Grant) bool {
	for _, existing := range a.Grants {
		if existing == g {
			return true
		}
	}
	return false
}

// WithGrant returns a copy of the list containing g exactly once. The second
// return value is false when g was already present and nothing changed.
func (a ACL) WithGrant(g Grant) (ACL, bool) {
	if a.Has(g) {
		return a, false
	}
	grants := make([]Grant, 0, len(a.Grants)+1)
	grants = append(grants, a.Grants...)
	grants = append(grants, g)
	a.Grants = grants
	return a, true
}
