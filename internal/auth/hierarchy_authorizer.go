package auth

// Subject is the minimal view of a principal the hierarchy rules need.
type Subject struct {
	ID    string
	Roles []string
}

// HierarchyAuthorizer enforces the rank rules for administrative
// actions on other accounts. It is pure policy: callers gather the
// subjects and counts, the authoriser only decides. Guard order is
// fixed so the same bad request always yields the same code: self
// checks first, then hierarchy, then rank caps, then last-role.
type HierarchyAuthorizer struct{}

// AuthorizeAssignRole checks that caller may grant role to target: the
// caller must strictly outrank the target, and a ranked role may only
// be granted if its rank sits below the caller's own highest rank.
// Custom (rank zero) roles are exempt from the rank cap.
func (HierarchyAuthorizer) AuthorizeAssignRole(caller, target Subject, role *Role) error {
	if !Outranks(caller.Roles, target.Roles) {
		return ErrHierarchyInsufficient
	}
	if rank := RankOf(role.Name); rank != RankNone && rank >= HighestRank(caller.Roles) {
		return ErrRoleRankTooHigh
	}
	return nil
}

// AuthorizeRemoveRole checks that caller may revoke role from target.
// targetRoleCount is the target's membership count before removal;
// removing the last role is refused.
func (HierarchyAuthorizer) AuthorizeRemoveRole(caller, target Subject, role *Role, targetRoleCount int) error {
	if caller.ID == target.ID {
		return ErrRoleSelfRemove
	}
	if !Outranks(caller.Roles, target.Roles) {
		return ErrHierarchyInsufficient
	}
	if rank := RankOf(role.Name); rank != RankNone && rank >= HighestRank(caller.Roles) {
		return ErrRoleRankTooHigh
	}
	if targetRoleCount <= 1 {
		return ErrRoleLastRole
	}
	return nil
}

// AuthorizeLock checks that caller may lock or unlock target.
func (HierarchyAuthorizer) AuthorizeLock(caller, target Subject) error {
	if caller.ID == target.ID {
		return ErrLockSelfAction
	}
	if !Outranks(caller.Roles, target.Roles) {
		return ErrHierarchyInsufficient
	}
	return nil
}

// AuthorizeDelete checks that caller may soft-delete target.
func (HierarchyAuthorizer) AuthorizeDelete(caller, target Subject) error {
	if caller.ID == target.ID {
		return ErrDeleteSelfAction
	}
	if !Outranks(caller.Roles, target.Roles) {
		return ErrHierarchyInsufficient
	}
	return nil
}
