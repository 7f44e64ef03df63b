// Package auth verifies service tokens on the mutating API routes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey string

const ctxKeyPrincipal ctxKey = "saferemediate.principal"

// Principal is the authenticated caller identity.
type Principal struct {
	Subject string
	Scopes  []string
}

// FromContext returns the Principal stored by the middleware, or nil.
func FromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(ctxKeyPrincipal).(*Principal); ok {
		return p
	}
	return nil
}

// Verifier validates HMAC-signed bearer tokens.
type Verifier struct {
	secret        []byte
	requiredScope string
	devAllowLocal bool
}

// NewVerifier builds a verifier. requiredScope must appear in the token's
// scope claim (space-separated) or roles claim. With devAllowLocal set,
// requests carrying X-Local-Dev-Principal bypass token checks entirely.
func NewVerifier(secret string, requiredScope string, devAllowLocal bool) (*Verifier, error) {
	if secret == "" && !devAllowLocal {
		return nil, errors.New("auth: signing secret required")
	}
	return &Verifier{
		secret:        []byte(secret),
		requiredScope: requiredScope,
		devAllowLocal: devAllowLocal,
	}, nil
}

// VerifyRequest authenticates the request and returns the caller identity.
func (v *Verifier) VerifyRequest(r *http.Request) (*Principal, error) {
	if v.devAllowLocal {
		if dev := r.Header.Get("X-Local-Dev-Principal"); dev != "" {
			return &Principal{Subject: dev}, nil
		}
	}

	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		return nil, errors.New("authentication required: bearer token")
	}
	return v.verifyToken(strings.TrimPrefix(authz, "Bearer "))
}

func (v *Verifier) verifyToken(tokenStr string) (*Principal, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token parse error: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims")
	}

	p := &Principal{}
	if sub, err := claims.GetSubject(); err == nil {
		p.Subject = sub
	}
	if scope, ok := claims["scope"].(string); ok {
		p.Scopes = strings.Fields(scope)
	} else if roles, ok := claims["roles"].([]interface{}); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				p.Scopes = append(p.Scopes, s)
			}
		}
	}

	if v.requiredScope != "" && !hasScope(p.Scopes, v.requiredScope) {
		return nil, errors.New("missing required scope")
	}
	return p, nil
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

// Middleware rejects unauthenticated requests and stores the Principal in
// the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := v.VerifyRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyPrincipal, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
