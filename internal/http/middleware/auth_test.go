package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tbourn/go-visit-tracker/internal/domain"
	"github.com/tbourn/go-visit-tracker/internal/session"
)

var testSecret = []byte("s3cret")

func profiles(ps ...domain.Profile) ProfileLoader {
	byID := map[string]domain.Profile{}
	for _, p := range ps {
		byID[p.ID] = p
	}
	return func(_ context.Context, id string) (*domain.Profile, error) {
		if id == "broken" {
			return nil, errors.New("db down")
		}
		p, ok := byID[id]
		if !ok {
			return nil, ErrUnknownProfile
		}
		return &p, nil
	}
}

func signed(t *testing.T, method jwt.SigningMethod, key any, claims jwt.RegisteredClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func authRouter(opts AuthOptions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	load := profiles(
		domain.Profile{ID: "ann", Name: "Ann", Role: domain.RoleRecruiter, Active: true},
		domain.Profile{ID: "old", Name: "Old", Role: domain.RoleRecruiter, Active: false},
	)
	r := gin.New()
	r.Use(RequestID(), Auth(opts, load))
	r.GET("/me", func(c *gin.Context) {
		s := SessionFrom(c)
		fromReq, ok := session.FromContext(c.Request.Context())
		if s == nil || !ok || fromReq != s {
			c.Status(http.StatusTeapot)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": s.UserID, "uid": c.GetString("userID")})
	})
	return r
}

func doAuth(r *gin.Engine, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_BearerToken(t *testing.T) {
	r := authRouter(AuthOptions{Secret: testSecret, Issuer: "visits"})
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))

	good := signed(t, jwt.SigningMethodHS256, testSecret, jwt.RegisteredClaims{Subject: "ann", Issuer: "visits", ExpiresAt: exp})
	w := doAuth(r, "Authorization", "Bearer "+good)
	if w.Code != http.StatusOK {
		t.Fatalf("valid token -> %d %s", w.Code, w.Body.String())
	}
	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["id"] != "ann" || body["uid"] != "ann" {
		t.Fatalf("session body = %v", body)
	}

	cases := []struct {
		name   string
		value  string
		status int
	}{
		{"wrong key", "Bearer " + signed(t, jwt.SigningMethodHS256, []byte("other"), jwt.RegisteredClaims{Subject: "ann", Issuer: "visits", ExpiresAt: exp}), http.StatusUnauthorized},
		{"wrong alg", "Bearer " + signed(t, jwt.SigningMethodHS512, testSecret, jwt.RegisteredClaims{Subject: "ann", Issuer: "visits", ExpiresAt: exp}), http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + signed(t, jwt.SigningMethodHS256, testSecret, jwt.RegisteredClaims{Subject: "ann", Issuer: "x", ExpiresAt: exp}), http.StatusUnauthorized},
		{"expired", "Bearer " + signed(t, jwt.SigningMethodHS256, testSecret, jwt.RegisteredClaims{Subject: "ann", Issuer: "visits", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}), http.StatusUnauthorized},
		{"no expiry", "Bearer " + signed(t, jwt.SigningMethodHS256, testSecret, jwt.RegisteredClaims{Subject: "ann", Issuer: "visits"}), http.StatusUnauthorized},
		{"no subject", "Bearer " + signed(t, jwt.SigningMethodHS256, testSecret, jwt.RegisteredClaims{Issuer: "visits", ExpiresAt: exp}), http.StatusUnauthorized},
		{"unknown user", "Bearer " + signed(t, jwt.SigningMethodHS256, testSecret, jwt.RegisteredClaims{Subject: "ghost", Issuer: "visits", ExpiresAt: exp}), http.StatusUnauthorized},
		{"inactive", "Bearer " + signed(t, jwt.SigningMethodHS256, testSecret, jwt.RegisteredClaims{Subject: "old", Issuer: "visits", ExpiresAt: exp}), http.StatusForbidden},
		{"lookup error", "Bearer " + signed(t, jwt.SigningMethodHS256, testSecret, jwt.RegisteredClaims{Subject: "broken", Issuer: "visits", ExpiresAt: exp}), http.StatusInternalServerError},
		{"basic scheme", "Basic abc", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doAuth(r, "Authorization", tc.value)
			if w.Code != tc.status {
				t.Fatalf("status = %d; want %d (%s)", w.Code, tc.status, w.Body.String())
			}
			var e map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil || e["request_id"] == "" || e["code"] == nil {
				t.Fatalf("error envelope = %s", w.Body.String())
			}
		})
	}
}

func TestAuth_DevHeader(t *testing.T) {
	off := authRouter(AuthOptions{Secret: testSecret})
	if w := doAuth(off, HeaderUserID, "ann"); w.Code != http.StatusUnauthorized {
		t.Fatalf("dev header disabled -> %d", w.Code)
	}

	on := authRouter(AuthOptions{DevHeader: true})
	if w := doAuth(on, HeaderUserID, "ann"); w.Code != http.StatusOK {
		t.Fatalf("dev header -> %d", w.Code)
	}
	if w := doAuth(on, "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("no credentials -> %d", w.Code)
	}
	// Without a secret bearer tokens are refused even in dev mode.
	if w := doAuth(on, "Authorization", "Bearer abc.def.ghi"); w.Code != http.StatusUnauthorized {
		t.Fatalf("bearer without secret -> %d", w.Code)
	}
}

func TestSessionFrom_Absent(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if SessionFrom(c) != nil {
		t.Fatalf("expected nil session")
	}
	c.Set(ctxKeySession, "not a session")
	if SessionFrom(c) != nil {
		t.Fatalf("wrong type must read as nil")
	}
}
