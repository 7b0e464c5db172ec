package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/roadside-dispatch/internal/models"
)

func sign(t *testing.T, key string, method jwt.SigningMethod, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(key))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func validClaims(sub, role string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: role,
	}
}

func TestVerify(t *testing.T) {
	v := NewJWTVerifier("secret")
	tok := sign(t, "secret", jwt.SigningMethodHS256, validClaims("cust1", "customer"))

	actor, err := v.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if actor.ID != "cust1" || actor.Role != models.RoleCustomer {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestVerifyRejects(t *testing.T) {
	v := NewJWTVerifier("secret")
	cases := []struct {
		name  string
		token string
	}{
		{"wrong key", sign(t, "other-key", jwt.SigningMethodHS256, validClaims("cust1", "customer"))},
		{"expired", sign(t, "secret", jwt.SigningMethodHS256, Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "cust1",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			},
			Role: "customer",
		})},
		{"missing subject", sign(t, "secret", jwt.SigningMethodHS256, validClaims("", "customer"))},
		{"unknown role", sign(t, "secret", jwt.SigningMethodHS256, validClaims("cust1", "admin"))},
		{"garbage", "not-a-token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.Verify(context.Background(), tc.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}
