package auth

import (
	"fmt"
	"strings"
	"sync"
)

// policyPrefix marks a policy name as a permission policy. Resolution
// strips the prefix and requires the remainder to be a catalog value.
const policyPrefix = "Permission:"

// PermissionAuthorizer answers claim checks against a user's cached
// authorisation snapshot. Top rank (SuperAdmin) bypasses the claim
// comparison entirely.
type PermissionAuthorizer struct {
	// policies memoises policy-name resolution. Policy names are a
	// small fixed set, so the map only ever grows to catalog size.
	policies sync.Map
}

func NewPermissionAuthorizer() *PermissionAuthorizer {
	return &PermissionAuthorizer{}
}

// Authorize reports whether the snapshot satisfies the required
// permission. Unknown permissions always deny.
func (a *PermissionAuthorizer) Authorize(state *AuthState, required Permission) bool {
	if state == nil || state.Locked {
		return false
	}
	if HighestRank(state.Roles) == RankSuperAdmin {
		return true
	}
	if !KnownPermission(required) {
		return false
	}
	return state.HasPermission(required)
}

// AuthorizePolicy resolves a "Permission:{value}" policy name and
// checks it against the snapshot.
func (a *PermissionAuthorizer) AuthorizePolicy(state *AuthState, policyName string) (bool, error) {
	required, err := a.ResolvePolicy(policyName)
	if err != nil {
		return false, err
	}
	return a.Authorize(state, required), nil
}

// ResolvePolicy maps a policy name to its permission value, memoising
// the result. Malformed names and values outside the catalog fail with
// ErrPolicyInvalid.
func (a *PermissionAuthorizer) ResolvePolicy(policyName string) (Permission, error) {
	if cached, ok := a.policies.Load(policyName); ok {
		return cached.(Permission), nil
	}

	value, ok := strings.CutPrefix(policyName, policyPrefix)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %q", ErrPolicyInvalid, policyName)
	}
	p := Permission(value)
	if !KnownPermission(p) {
		return "", fmt.Errorf("%w: %q names unknown permission", ErrPolicyInvalid, policyName)
	}

	a.policies.Store(policyName, p)
	return p, nil
}

// PolicyName renders the policy form of a permission, the inverse of
// ResolvePolicy.
func PolicyName(p Permission) string {
	return policyPrefix + string(p)
}
