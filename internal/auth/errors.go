package auth

import "errors"

// Error is a domain failure carrying a stable, dot-namespaced code.
// Codes are part of the public contract: callers match on Code (or use
// errors.Is against the exported sentinels) to map failures onto their
// transport, while Message is free to change.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Token lifecycle failures.
var (
	ErrTokenMissing      = &Error{Code: "auth.token.missing", Message: "no credential presented"}
	ErrTokenNotFound     = &Error{Code: "auth.token.notFound", Message: "refresh token not recognised"}
	ErrTokenInvalidated  = &Error{Code: "auth.token.invalidated", Message: "refresh token has been invalidated"}
	ErrTokenReused       = &Error{Code: "auth.token.reused", Message: "refresh token replay detected"}
	ErrTokenExpired      = &Error{Code: "auth.token.expired", Message: "token has expired"}
	ErrTokenUserNotFound = &Error{Code: "auth.token.userNotFound", Message: "token owner no longer exists"}
)

// Login failures. ErrInvalidCredentials is deliberately generic: it is
// returned for unknown usernames and wrong passwords alike so a caller
// cannot probe which accounts exist.
var (
	ErrInvalidCredentials = &Error{Code: "auth.login.invalidCredentials", Message: "invalid username or password"}
	ErrAccountLocked      = &Error{Code: "auth.login.accountLocked", Message: "account is locked"}
)

// Administrative guard failures.
var (
	ErrHierarchyInsufficient = &Error{Code: "admin.hierarchy.insufficient", Message: "caller does not outrank target"}
	ErrRoleRankTooHigh       = &Error{Code: "admin.role.rankTooHigh", Message: "role rank is not below caller rank"}
	ErrRoleSelfRemove        = &Error{Code: "admin.role.selfRemove", Message: "cannot remove a role from yourself"}
	ErrRoleLastRole          = &Error{Code: "admin.role.lastRole", Message: "user must retain at least one role"}
	ErrLockSelfAction        = &Error{Code: "admin.lock.selfAction", Message: "cannot lock your own account"}
	ErrDeleteSelfAction      = &Error{Code: "admin.delete.selfAction", Message: "cannot delete your own account"}
	ErrDeleteLastRole        = &Error{Code: "admin.delete.lastRole", Message: "deleting this role would leave a user with no roles"}
)

// Internal sentinels without a wire code. These surface programming or
// data errors rather than policy decisions.
var (
	ErrTokenInvalid      = errors.New("access token failed validation")
	ErrUserNotFound      = errors.New("user not found")
	ErrUserExists        = errors.New("username already taken")
	ErrRoleNotFound      = errors.New("role not found")
	ErrRoleExists        = errors.New("role name already taken")
	ErrRoleIsSystem      = errors.New("built-in roles cannot be deleted")
	ErrPermissionUnknown = errors.New("permission value not in catalog")
	ErrPolicyInvalid     = errors.New("policy name is not a permission policy")
)

// CodeOf returns the stable code carried by err, or "" when err has no
// domain code in its chain.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
