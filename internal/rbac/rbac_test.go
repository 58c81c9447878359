package rbac

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role       string
		permission string
		want       bool
	}{
		{RoleAdmin, PermCancelPurchase, true},
		{RoleAdmin, PermGrantOperator, true},
		{RoleAdmin, PermConfirmVerification, true},
		{RoleOperator, PermConfirmVerification, true},
		{RoleOperator, PermCancelPurchase, false},
		{RoleOperator, PermGrantOperator, false},
		{RoleUser, PermCreatePurchase, true},
		{RoleUser, PermSweepTimeout, true},
		{RoleUser, PermConfirmVerification, false},
		{RoleUser, PermCancelPurchase, false},
		{"bogus", PermRefund, false},
	}

	for _, tt := range tests {
		t.Run(tt.role+"/"+tt.permission, func(t *testing.T) {
			if got := HasPermission(tt.role, tt.permission); got != tt.want {
				t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.permission, got, tt.want)
			}
		})
	}
}

func TestSweepIsUniversal(t *testing.T) {
	for role := range RolePermissions {
		if !HasPermission(role, PermSweepTimeout) {
			t.Errorf("role %q must be able to sweep timeouts", role)
		}
	}
}

func TestIsAdministrative(t *testing.T) {
	for _, p := range []string{PermCancelPurchase, PermDisputePurchase, PermGrantOperator} {
		if !IsAdministrative(p) {
			t.Errorf("expected %q to be administrative", p)
		}
	}
	for _, p := range []string{PermCreatePurchase, PermRefund, PermSweepTimeout, PermConfirmVerification} {
		if IsAdministrative(p) {
			t.Errorf("expected %q not to be administrative", p)
		}
	}
}
