package tenantctx

import (
	"context"

	"github.com/inksuite/signet/internal/tenant"
)

type keyType string

const identityKey keyType = "tenant_identity"

func WithIdentity(ctx context.Context, id tenant.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFromContext(ctx context.Context) (tenant.Identity, bool) {
	id, ok := ctx.Value(identityKey).(tenant.Identity)
	return id, ok
}
