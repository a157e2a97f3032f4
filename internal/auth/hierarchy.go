package auth

// Built-in role names. These three form the rank hierarchy; any other
// role is a custom grant bundle with no rank of its own.
const (
	RoleSuperAdmin = "SuperAdmin"
	RoleAdmin      = "Admin"
	RoleUser       = "User"
)

// Rank values. Higher outranks lower; custom roles all sit at RankNone
// and confer no hierarchy weight regardless of their claims.
const (
	RankNone       = 0
	RankUser       = 1
	RankAdmin      = 2
	RankSuperAdmin = 3
)

// RankOf maps a role name to its hierarchy rank. Unknown names are
// custom roles and rank zero.
func RankOf(role string) int {
	switch role {
	case RoleSuperAdmin:
		return RankSuperAdmin
	case RoleAdmin:
		return RankAdmin
	case RoleUser:
		return RankUser
	default:
		return RankNone
	}
}

// HighestRank returns the maximum rank across a role set. An empty
// set ranks zero, below every built-in role.
func HighestRank(roles []string) int {
	highest := RankNone
	for _, r := range roles {
		if rank := RankOf(r); rank > highest {
			highest = rank
		}
	}
	return highest
}

// Outranks reports whether the caller's role set strictly outranks the
// target's. Equal rank is not enough: two Admins cannot administer
// each other.
func Outranks(caller, target []string) bool {
	return HighestRank(caller) > HighestRank(target)
}
