package httpapi

import (
	"context"

	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
)

// Principal is the tenant identity and per-credential quota an
// Authenticator resolves a bearer credential to.
type Principal struct {
	Tenant         string
	Credential     string
	QuotaPerMinute int
}

// Authenticator resolves a bearer credential to a Principal. Credential
// issuance and storage live outside this service; only this interface
// is required, plus a trivial concrete stand-in below for tests and
// single-tenant deployments.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (Principal, error)
}

// StaticAuthenticator resolves credentials from a fixed, in-memory map
// keyed by the raw bearer token. It is not meant for production
// credential storage, only as the minimal concrete implementation the
// specified interface requires until a real credential store exists.
type StaticAuthenticator struct {
	principals map[string]Principal
}

// NewStaticAuthenticator builds an Authenticator over a fixed
// credential→Principal map.
func NewStaticAuthenticator(principals map[string]Principal) *StaticAuthenticator {
	return &StaticAuthenticator{principals: principals}
}

// Authenticate implements Authenticator.
func (a *StaticAuthenticator) Authenticate(ctx context.Context, credential string) (Principal, error) {
	p, ok := a.principals[credential]
	if !ok {
		return Principal{}, domainerrors.New(domainerrors.KindUnauthorized, "unknown credential", nil)
	}
	return p, nil
}
