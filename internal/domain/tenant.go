package domain

import "context"

// DefaultTenant is used when a caller does not identify a tenant.
const DefaultTenant = "default"

type tenantKey struct{}

// WithTenant returns a copy of ctx carrying tenantID.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantFromContext returns the tenant carried by ctx, or DefaultTenant.
func TenantFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tenantKey{}).(string); ok && v != "" {
		return v
	}
	return DefaultTenant
}
