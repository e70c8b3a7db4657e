package auth

import (
	"context"
	"testing"
)

func TestContextRoundTrip(t *testing.T) {
	want := AuthContext{Subject: "community-api", Role: RoleService, TokenID: "t1"}
	got, ok := FromContext(WithAuth(context.Background(), want))
	if !ok {
		t.Fatal("FromContext ok = false, want true")
	}
	if got != want {
		t.Errorf("FromContext = %+v, want %+v", got, want)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Error("FromContext on empty context ok = true, want false")
	}
}

func TestCallerHelpers(t *testing.T) {
	tests := []struct {
		name        string
		ctx         context.Context
		wantSubject string
		wantAdmin   bool
	}{
		{"none", context.Background(), "system", false},
		{"blank subject", WithAuth(context.Background(), AuthContext{Role: RoleService}), "system", false},
		{"service", WithAuth(context.Background(), AuthContext{Subject: "community-api", Role: RoleService}), "community-api", false},
		{"admin", WithAuth(context.Background(), AuthContext{Subject: "ops", Role: RoleAdmin}), "ops", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Subject(tt.ctx); got != tt.wantSubject {
				t.Errorf("Subject = %q, want %q", got, tt.wantSubject)
			}
			if got := IsAdmin(tt.ctx); got != tt.wantAdmin {
				t.Errorf("IsAdmin = %v, want %v", got, tt.wantAdmin)
			}
		})
	}
}

func TestValidRole(t *testing.T) {
	for role, want := range map[string]bool{RoleService: true, RoleAdmin: true, "user": false, "": false} {
		if got := ValidRole(role); got != want {
			t.Errorf("ValidRole(%q) = %v, want %v", role, got, want)
		}
	}
}
