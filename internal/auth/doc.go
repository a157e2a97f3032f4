// Package auth implements the Gatehouse identity and authorisation core:
// credential verification, signed access tokens paired with rotating
// refresh tokens, a two-tier authorisation model (role rank hierarchy
// plus fine-grained permission claims), and the short-lived per-user
// cache that keeps hot-path authorisation off the database.
//
// The package is deliberately transport-free. Callers (CLI, RPC, HTTP,
// whatever sits in front) construct a Service, hand it repositories
// backed by SQLite, and translate the stable error codes it returns
// into their own status mapping.
package auth
