// Package tenant defines the stable identity used to locate a tenant's shard.
package tenant

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const keySeparator = "::"

// ShardIDWidth is the number of hex characters kept from the key hash.
// The hash function and width are a permanent format contract: changing
// either remaps every existing shard.
const ShardIDWidth = 8

var ErrInvalidIdentity = errors.New("tenant: external user id and tenant id are required")

// Identity is the (external_user_id, tenant_id) pair handed to us by the
// upstream platform. Both parts are opaque, case-sensitive strings.
type Identity struct {
	ExternalUserID string
	TenantID       string
}

func New(externalUserID, tenantID string) (Identity, error) {
	if externalUserID == "" || tenantID == "" {
		return Identity{}, ErrInvalidIdentity
	}
	return Identity{ExternalUserID: externalUserID, TenantID: tenantID}, nil
}

// Key returns the canonical tenant key, external_user_id::tenant_id.
func (i Identity) Key() string {
	return i.ExternalUserID + keySeparator + i.TenantID
}

// ParseKey splits a canonical tenant key back into an Identity.
func ParseKey(key string) (Identity, error) {
	parts := strings.SplitN(key, keySeparator, 2)
	if len(parts) != 2 {
		return Identity{}, ErrInvalidIdentity
	}
	return New(parts[0], parts[1])
}

// ShardID maps the tenant key to its shard identifier: the first
// ShardIDWidth hex characters of md5(key).
func (i Identity) ShardID() string {
	sum := md5.Sum([]byte(i.Key()))
	return hex.EncodeToString(sum[:])[:ShardIDWidth]
}

// ShardDBName returns the shard's database name for a given prefix.
func (i Identity) ShardDBName(prefix string) string {
	return prefix + i.ShardID()
}

// String redacts both halves, safe for logs.
func (i Identity) String() string {
	return fmt.Sprintf("tenant(%s***, %s***)", head(i.ExternalUserID), head(i.TenantID))
}

func head(s string) string {
	if len(s) <= 6 {
		return s
	}
	return s[:6]
}
