// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file establishes the per-request session. A bearer token (HS256 JWT
// whose subject is the profile ID) is verified, the profile is loaded, and
// the resulting session.Session is stored in both the Gin context and the
// request context. With DevHeader enabled the X-User-ID header is accepted
// in place of a token, for local development and tests.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tbourn/go-visit-tracker/internal/domain"
	"github.com/tbourn/go-visit-tracker/internal/session"
)

// HeaderUserID is the development identity header.
const HeaderUserID = "X-User-ID"

const (
	ctxKeyUserID  = "userID"
	ctxKeySession = "session"
)

// ErrUnknownProfile is returned by a ProfileLoader when no profile matches.
var ErrUnknownProfile = errors.New("unknown profile")

// ProfileLoader fetches the profile for an authenticated subject. It returns
// ErrUnknownProfile when the subject has no profile.
type ProfileLoader func(ctx context.Context, id string) (*domain.Profile, error)

// AuthOptions configures Auth.
type AuthOptions struct {
	// Secret is the HS256 key. Empty disables bearer tokens.
	Secret []byte
	// Issuer, when set, must match the token's iss claim.
	Issuer string
	// DevHeader accepts X-User-ID when no bearer token is sent.
	DevHeader bool
}

// Auth authenticates the request and attaches its session.
//
// Responses:
//   - 401 unauthorized: no credentials, bad token, or unknown profile
//   - 403 forbidden: the profile is inactive
//   - 500 internal_error: the profile lookup failed
func Auth(opts AuthOptions, load ProfileLoader) gin.HandlerFunc {
	parser := jwt.NewParser(parserOptions(opts)...)

	return func(c *gin.Context) {
		id, err := subject(c, opts, parser)
		if err != nil {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}

		p, err := load(c.Request.Context(), id)
		switch {
		case errors.Is(err, ErrUnknownProfile):
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "unknown user")
			return
		case err != nil:
			LoggerFrom(c).Error().Err(err).Msg("profile lookup failed")
			abortJSON(c, http.StatusInternalServerError, "internal_error", "could not load profile")
			return
		case !p.Active:
			abortJSON(c, http.StatusForbidden, "forbidden", "account is inactive")
			return
		}

		sess := session.FromProfile(p)
		c.Set(ctxKeyUserID, sess.UserID)
		c.Set(ctxKeySession, sess)
		l := LoggerFrom(c).With().Str("user_id", sess.UserID).Logger()
		c.Set("logger", &l)
		c.Request = c.Request.WithContext(session.WithContext(c.Request.Context(), sess))
		c.Next()
	}
}

// SessionFrom returns the session set by Auth, or nil.
func SessionFrom(c *gin.Context) *session.Session {
	if v, ok := c.Get(ctxKeySession); ok {
		if s, ok := v.(*session.Session); ok {
			return s
		}
	}
	return nil
}

func parserOptions(opts AuthOptions) []jwt.ParserOption {
	po := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if opts.Issuer != "" {
		po = append(po, jwt.WithIssuer(opts.Issuer))
	}
	return po
}

// subject extracts the authenticated profile ID from the request.
func subject(c *gin.Context, opts AuthOptions, parser *jwt.Parser) (string, error) {
	if h := c.GetHeader("Authorization"); h != "" {
		raw, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			return "", errors.New("malformed Authorization header")
		}
		if len(opts.Secret) == 0 {
			return "", errors.New("bearer tokens are not accepted")
		}
		claims := &jwt.RegisteredClaims{}
		_, err := parser.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (any, error) {
			return opts.Secret, nil
		})
		if err != nil {
			return "", errors.New("invalid token")
		}
		if claims.Subject == "" {
			return "", errors.New("token has no subject")
		}
		return claims.Subject, nil
	}
	if opts.DevHeader {
		if id := strings.TrimSpace(c.GetHeader(HeaderUserID)); id != "" {
			return id, nil
		}
	}
	return "", errors.New("missing credentials")
}

func abortJSON(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get("X-Request-ID"),
		"code":       code,
		"message":    msg,
	})
}
