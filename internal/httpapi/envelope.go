// Package httpapi implements the REST surface: request decoding,
// authentication, per-credential rate limiting, and the uniform
// response envelope, wired over the task/crawl stores and the
// sync-wait bridge built elsewhere in this module. Routing and JSON
// binding use gin-gonic/gin (see DESIGN.md for the dependency choice).
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
)

// Envelope is the uniform response shape every endpoint returns.
type Envelope struct {
	Success     bool   `json:"success"`
	Data        any    `json:"data,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorCode   string `json:"error_code,omitempty"`
	CreditsUsed *int   `json:"credits_used,omitempty"`
}

// respondSuccess writes a 2xx envelope. creditsUsed is omitted from the
// body when nil, since a cache hit or a still-processing response
// never settles credits.
func respondSuccess(c *gin.Context, status int, data any, creditsUsed *int) {
	c.JSON(status, Envelope{Success: true, Data: data, CreditsUsed: creditsUsed})
}

// respondError maps err's domain Kind to its REST status, setting
// Retry-After when the error carries one.
func respondError(c *gin.Context, err error) {
	var de *domainerrors.Error
	if !domainerrors.As(err, &de) {
		c.JSON(http.StatusInternalServerError, Envelope{Success: false, Error: err.Error(), ErrorCode: string(domainerrors.KindInternal)})
		return
	}
	if de.RetryAfter > 0 {
		c.Header("Retry-After", itoa(de.RetryAfter))
	}
	status := domainerrors.HTTPStatus(de.Kind)
	c.JSON(status, Envelope{Success: false, Error: de.Error(), ErrorCode: upperSnake(string(de.Kind))})
}

// upperSnake turns a hyphenated kind like "ssrf-detected" into the
// SCREAMING_SNAKE_CASE error_code clients match on ("SSRF_DETECTED").
func upperSnake(kind string) string {
	out := make([]byte, len(kind))
	for i := 0; i < len(kind); i++ {
		b := kind[i]
		if b == '-' {
			out[i] = '_'
		} else if b >= 'a' && b <= 'z' {
			out[i] = b - ('a' - 'A')
		} else {
			out[i] = b
		}
	}
	return string(out)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		digits = append([]byte{'-'}, digits...)
	}
	return string(digits)
}
