package domain

// AccountRole enumerates supported roles.
type AccountRole string

const (
	RoleUser  AccountRole = "user"
	RoleAdmin AccountRole = "admin"
	RoleRoot  AccountRole = "root"
)

// ParseRole maps stored role strings, defaulting to RoleUser.
func ParseRole(raw string) AccountRole {
	switch AccountRole(raw) {
	case RoleAdmin:
		return RoleAdmin
	case RoleRoot:
		return RoleRoot
	default:
		return RoleUser
	}
}

// Account represents the standing of a user as seen by admission.
type Account struct {
	UserID  string
	Blocked bool
	Role    AccountRole
}

// IsAdmin reports whether the account has admin privileges (root included).
func (a Account) IsAdmin() bool {
	return a.Role == RoleAdmin || a.Role == RoleRoot
}

// IsRoot reports whether the account is exempt from every spending limit.
func (a Account) IsRoot() bool {
	return a.Role == RoleRoot
}

// BalanceAccount is the spendable balance of a user.
type BalanceAccount struct {
	UserID  string
	Balance int64
}
