package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleOperator:
		return true
	default:
		return false
	}
}
