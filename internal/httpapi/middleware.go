package httpapi

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
	"github.com/crawlrs/crawlrs/internal/logging"
	"github.com/crawlrs/crawlrs/internal/ratelimit"
)

const principalContextKey = "crawlrs.principal"

// currentPrincipal retrieves the Principal authMiddleware stored on c.
func currentPrincipal(c *gin.Context) Principal {
	v, _ := c.Get(principalContextKey)
	p, _ := v.(Principal)
	return p
}

// authMiddleware extracts the bearer credential, resolves it to a
// Principal, and aborts with 401 on failure.
func authMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		credential := strings.TrimPrefix(header, "Bearer ")
		if credential == "" || credential == header {
			respondError(c, domainerrors.New(domainerrors.KindUnauthorized, "missing bearer credential", nil))
			c.Abort()
			return
		}

		principal, err := auth.Authenticate(c.Request.Context(), credential)
		if err != nil {
			respondError(c, err)
			c.Abort()
			return
		}

		c.Set(principalContextKey, principal)
		c.Next()
	}
}

// rateLimitMiddleware enforces the per-credential fixed-window quota,
// keyed by the already-resolved Principal.
func rateLimitMiddleware(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := currentPrincipal(c)
		if err := limiter.Allow(c.Request.Context(), p.Credential, p.QuotaPerMinute); err != nil {
			respondError(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

// accessLogMiddleware logs one structured line per request using the
// same component-logger idiom every other package in this module uses,
// rather than gin's own default logger.
func accessLogMiddleware(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
