package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessClaims is the payload of a signed access token. Roles and
// permissions are embedded so per-request authorisation needs no
// database round trip; the trade-off is that grants revoked mid-window
// only take effect once the token expires or the security stamp check
// catches them.
type AccessClaims struct {
	jwt.RegisteredClaims
	Username      string   `json:"username"`
	Roles         []string `json:"roles"`
	Permissions   []string `json:"permissions"`
	SecurityStamp string   `json:"security_stamp"`
}

// TokenIssuer mints access/refresh token pairs and validates access
// tokens. It holds no storage; persisting the refresh record is the
// caller's job so issuance can sit inside a wider transaction.
type TokenIssuer struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenIssuer(secret, issuer, audience string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:     []byte(secret),
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// IssuedPair is one complete credential set. RefreshToken is the raw
// value handed to the client; Record holds only its hash and is what
// gets persisted.
type IssuedPair struct {
	AccessToken     string
	AccessTokenID   string
	AccessExpiresAt time.Time
	RefreshToken    string
	Record          *RefreshTokenRecord
}

// Issue builds a signed access token for the user plus a fresh opaque
// refresh token. The refresh record's FamilyID is the access token's
// jti, linking the pair for audit purposes.
func (ti *TokenIssuer) Issue(user *User, roles []string, permissions []Permission, now time.Time) (*IssuedPair, error) {
	jti := uuid.NewString()
	perms := make([]string, len(permissions))
	for i, p := range permissions {
		perms[i] = string(p)
	}

	claims := &AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   user.ID,
			Issuer:    ti.issuer,
			Audience:  jwt.ClaimStrings{ti.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.accessTTL)),
		},
		Username:      user.Username,
		Roles:         roles,
		Permissions:   perms,
		SecurityStamp: user.SecurityStamp,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return nil, fmt.Errorf("signing access token: %w", err)
	}

	raw, err := NewRefreshTokenValue()
	if err != nil {
		return nil, err
	}

	return &IssuedPair{
		AccessToken:     signed,
		AccessTokenID:   jti,
		AccessExpiresAt: now.Add(ti.accessTTL),
		RefreshToken:    raw,
		Record: &RefreshTokenRecord{
			ID:        uuid.NewString(),
			UserID:    user.ID,
			FamilyID:  jti,
			TokenHash: HashToken(raw),
			ExpiresAt: now.Add(ti.refreshTTL),
			CreatedAt: now,
		},
	}, nil
}

// ParseAccessToken validates signature, algorithm, issuer, audience
// and expiry, failing closed on every mismatch. Expiry maps to
// ErrTokenExpired; every other failure collapses into ErrTokenInvalid
// so callers cannot distinguish forgery classes.
func (ti *TokenIssuer) ParseAccessToken(tokenString string) (*AccessClaims, error) {
	if tokenString == "" {
		return nil, ErrTokenMissing
	}

	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) { return ti.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(ti.issuer),
		jwt.WithAudience(ti.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims, nil
}

// NewRefreshTokenValue returns 256 bits of randomness hex-encoded.
// The value is opaque; all meaning lives in the stored record.
func NewRefreshTokenValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating refresh token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashToken returns the SHA-256 hex digest under which a raw refresh
// token is stored and looked up. A database leak therefore exposes no
// usable tokens.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
