// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file validates the Idempotency-Key header on create requests and,
// when a lookup is supplied, detects retries of a request that already
// produced a resource. The replay (resource ID plus original status) is
// stashed in the Gin context; handlers serve it instead of creating again.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the client's key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // *Replay
	ctxKeyRateBypass = "rate.bypass" // bool
)

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// Replay describes the stored outcome of an earlier request with the same key.
type Replay struct {
	ResourceID string
	Status     int
}

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. Nil uses ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
}

// IdempotencyLookup returns the stored replay for (userID, scope, key) if one
// is still valid at now. A nil replay with a nil error means "not seen".
type IdempotencyLookup func(ctx context.Context, userID, scope, key string, now time.Time) (*Replay, error)

// IdempotencyScope names the operation a key belongs to: the method plus the
// matched route pattern, e.g. "POST /api/v1/visits".
func IdempotencyScope(c *gin.Context) string {
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}
	return c.Request.Method + " " + path
}

// GetIdempotencyKey returns the validated key, if the request carried one.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// ReplayFrom returns the replay found for this request, or nil.
func ReplayFrom(c *gin.Context) *Replay {
	if v, ok := c.Get(ctxKeyIdemReplay); ok {
		if r, ok := v.(*Replay); ok {
			return r
		}
	}
	return nil
}

// IsReplay reports whether ReplayFrom would return a replay.
func IsReplay(c *gin.Context) bool { return ReplayFrom(c) != nil }

// IdempotencyValidator checks the Idempotency-Key header on POST requests.
//
// Behavior:
//   - No header, or a non-POST method: no-op.
//   - Malformed key: 400 bad_idempotency_key.
//   - Known key (via lookup): the replay is stashed and rate limiting is
//     bypassed for this request.
//
// Lookup failures are logged and treated as "not seen".
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			abortJSON(c, http.StatusBadRequest, "bad_idempotency_key", "invalid Idempotency-Key")
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			uid := c.GetString(ctxKeyUserID)
			rep, err := lookup(c.Request.Context(), uid, IdempotencyScope(c), key, time.Now().UTC())
			switch {
			case err != nil:
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			case rep != nil:
				c.Set(ctxKeyIdemReplay, rep)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}
