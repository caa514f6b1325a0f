package config

import "context"

// StaticSecretResolver resolves every tenant to the same process-wide
// webhook signing secret loaded from Config. Per-tenant signing
// secrets are not specified; this is the minimal concrete
// outbox.SecretResolver a single configured secret can satisfy.
type StaticSecretResolver struct {
	secret string
}

// NewStaticSecretResolver builds a resolver over a single secret.
func NewStaticSecretResolver(secret string) *StaticSecretResolver {
	return &StaticSecretResolver{secret: secret}
}

// SigningSecret implements outbox.SecretResolver.
func (r *StaticSecretResolver) SigningSecret(ctx context.Context, tenant string) (string, error) {
	return r.secret, nil
}
