package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestVerifyRequestValidToken(t *testing.T) {
	v, err := NewVerifier(testSecret, "remediate:write", false)
	require.NoError(t, err)

	tok := signToken(t, jwt.MapClaims{
		"sub":   "scanner@example.com",
		"scope": "remediate:read remediate:write",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	r := httptest.NewRequest(http.MethodPost, "/api/v1/workflows", nil)
	r.Header.Set("Authorization", "Bearer "+tok)

	p, err := v.VerifyRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "scanner@example.com", p.Subject)
	assert.Contains(t, p.Scopes, "remediate:write")
}

func TestVerifyRequestRejections(t *testing.T) {
	v, err := NewVerifier(testSecret, "remediate:write", false)
	require.NoError(t, err)

	cases := map[string]func(r *http.Request){
		"missing header": func(r *http.Request) {},
		"wrong secret": func(r *http.Request) {
			token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"scope": "remediate:write"})
			signed, _ := token.SignedString([]byte("other-secret"))
			r.Header.Set("Authorization", "Bearer "+signed)
		},
		"missing scope": func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"scope": "remediate:read"}))
		},
		"expired": func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{
				"scope": "remediate:write",
				"exp":   time.Now().Add(-time.Hour).Unix(),
			}))
		},
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/v1/workflows", nil)
			setup(r)
			_, err := v.VerifyRequest(r)
			assert.Error(t, err)
		})
	}
}

func TestDevBypass(t *testing.T) {
	v, err := NewVerifier("", "remediate:write", true)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/workflows", nil)
	r.Header.Set("X-Local-Dev-Principal", "dev@local")

	p, err := v.VerifyRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "dev@local", p.Subject)
}

func TestMiddleware(t *testing.T) {
	v, err := NewVerifier(testSecret, "", false)
	require.NoError(t, err)

	var seen *Principal
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"sub": "alice"}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "alice", seen.Subject)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
