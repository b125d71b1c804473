// Package auth carries the caller principal: parsing it from a service token
// and moving it through context to the adapter's security filter.
package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hcengineering/platform-sub001/types"
)

type contextKey struct{}

// Claims is the service token payload.
type Claims struct {
	Account   string `json:"account"`
	Workspace string `json:"workspace"`
	Admin     bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// ParseToken validates an HS256 service token and returns the principal it
// carries.
func ParseToken(tokenString string, secret []byte) (*types.Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Account == "" {
		return nil, fmt.Errorf("token carries no account")
	}
	return &types.Principal{
		Account:   types.Ref(claims.Account),
		Workspace: types.WorkspaceID(claims.Workspace),
		Admin:     claims.Admin,
	}, nil
}

// NewToken signs a service token for a principal.
func NewToken(p *types.Principal, secret []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Account:   string(p.Account),
		Workspace: string(p.Workspace),
		Admin:     p.Admin,
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// WithPrincipal attaches the caller principal to a context.
func WithPrincipal(ctx context.Context, p *types.Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFromContext returns the caller principal, or nil when the context
// carries none. Operations without a principal run unrestricted.
func PrincipalFromContext(ctx context.Context) *types.Principal {
	p, _ := ctx.Value(contextKey{}).(*types.Principal)
	return p
}
