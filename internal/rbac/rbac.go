package rbac

// Role constants
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleUser     = "user"
)

// Permission constants
const (
	PermCreatePurchase     = "create_purchase"
	PermSubmitProof        = "submit_proof"
	PermConfirmVerification = "confirm_verification"
	PermDeliver            = "deliver"
	PermRefund             = "refund"
	PermSweepTimeout       = "sweep_timeout"
	PermCancelPurchase     = "cancel_purchase"
	PermDisputePurchase    = "dispute_purchase"
	PermGrantOperator      = "grant_operator"
)

// RolePermissions defines what each role can do beyond party-bound actions.
// Party-bound actions (buyer refund, seller proof/deliver) are guarded by the
// escrow engine against the purchase record itself.
var RolePermissions = map[string][]string{
	RoleAdmin: {
		PermConfirmVerification, PermCancelPurchase, PermDisputePurchase,
		PermGrantOperator, PermSweepTimeout,
	},
	RoleOperator: {
		PermConfirmVerification, PermSweepTimeout,
	},
	RoleUser: {
		PermCreatePurchase, PermSubmitProof, PermDeliver, PermRefund, PermSweepTimeout,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// IsAdministrative reports whether a permission is reserved for admins.
func IsAdministrative(permission string) bool {
	return permission == PermCancelPurchase ||
		permission == PermDisputePurchase ||
		permission == PermGrantOperator
}
