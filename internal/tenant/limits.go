package tenant

import "context"

// ConfigLimits resolves a tenant's concurrency limit from a static
// per-tenant map with a tier-wide default, satisfying worker.TenantLimits.
// Limits are re-read on every call (not cached) since the contract
// requires an in-flight permit to outlive a limit decrease rather than
// block a lookup on it.
type ConfigLimits struct {
	Default   int
	PerTenant map[string]int
}

// NewConfigLimits builds a ConfigLimits resolver over a snapshot of
// per-tenant overrides and a default applied to every tenant without one.
func NewConfigLimits(defaultLimit int, perTenant map[string]int) *ConfigLimits {
	return &ConfigLimits{Default: defaultLimit, PerTenant: perTenant}
}

func (c *ConfigLimits) ConcurrencyLimit(ctx context.Context, tenantID string) (int, error) {
	if limit, ok := c.PerTenant[tenantID]; ok {
		return limit, nil
	}
	return c.Default, nil
}
