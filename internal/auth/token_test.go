package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestIssueAndParse(t *testing.T) {
	tok, err := Issue(testSecret, "ops", RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := Parse(tok, testSecret)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "ops" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "ops")
	}
	if claims.Role != RoleAdmin {
		t.Errorf("Role = %q, want %q", claims.Role, RoleAdmin)
	}
	ac := claims.Context()
	if ac.TokenID == "" || ac.TokenID != claims.ID {
		t.Errorf("TokenID = %q, want %q", ac.TokenID, claims.ID)
	}
}

func TestIssueRejectsUnknownRole(t *testing.T) {
	if _, err := Issue(testSecret, "ops", "member", time.Hour); err == nil {
		t.Error("expected error for unknown role")
	}
	if _, err := Issue(testSecret, "", RoleService, time.Hour); err == nil {
		t.Error("expected error for empty subject")
	}
}

func TestParseRejects(t *testing.T) {
	good, err := Issue(testSecret, "ops", RoleService, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	expired, err := Issue(testSecret, "ops", RoleService, -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"wrong secret", good, "another-secret-another-secret-xx"},
		{"expired", expired, testSecret},
		{"alg none", unsigned, testSecret},
		{"garbage", "not.a.token", testSecret},
		{"empty", "", testSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.token, tt.secret)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
}
