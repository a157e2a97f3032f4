package auth

import (
	"context"

	"github.com/marldon/gatehouse-core/internal/audit"
)

// Rotate exchanges a live refresh token for a fresh token pair. The
// presented token is consumed whether or not a new pair is issued.
//
// Replay handling fails closed: a token that has already been used is
// treated as evidence of theft, and every live token the owner holds
// is invalidated before the error returns. Both the earlier legitimate
// holder and the replayer are forced back through login. TryMarkUsed
// is the only concurrency control; two racing rotations of the same
// token resolve to one winner, and the loser takes the replay path.
func (s *Service) Rotate(ctx context.Context, rawToken string) (*IssuedPair, error) {
	if rawToken == "" {
		return nil, ErrTokenMissing
	}
	now := s.now()

	rec, err := s.tokens.FindByValue(ctx, rawToken)
	if err != nil {
		s.recordRotation(OutcomeFailure)
		return nil, err
	}

	if rec.Invalidated {
		s.recordRotation(OutcomeFailure)
		return nil, ErrTokenInvalidated
	}
	if rec.Used {
		return nil, s.handleReuse(ctx, rec)
	}
	if !now.Before(rec.ExpiresAt) {
		s.recordRotation(OutcomeExpired)
		return nil, ErrTokenExpired
	}

	user, err := s.users.GetByID(ctx, rec.UserID)
	if err != nil || user.State != StateActive {
		// Orphaned token: consume it so it cannot be presented again.
		if invErr := s.tokens.Invalidate(ctx, rec.ID); invErr != nil {
			s.log.Error("invalidating orphaned refresh token", "token_id", rec.ID, "error", invErr)
		}
		s.recordRotation(OutcomeFailure)
		return nil, ErrTokenUserNotFound
	}
	if !user.CanAuthenticate(now) {
		s.recordRotation(OutcomeLocked)
		return nil, ErrAccountLocked
	}

	won, err := s.tokens.TryMarkUsed(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	if !won {
		// Lost the race: someone else consumed this token between our
		// read and the update. Indistinguishable from replay, handled
		// identically.
		return nil, s.handleReuse(ctx, rec)
	}

	pair, err := s.issueFor(ctx, user, now)
	if err != nil {
		return nil, err
	}

	s.recordRotation(OutcomeSuccess)
	s.audit(ctx, audit.Entry{
		Action: audit.ActionTokenRotated, EntityType: "user", EntityID: user.ID, ActorID: user.ID,
		Details: map[string]any{
			"old_family_id": rec.FamilyID,
			"new_family_id": pair.AccessTokenID,
		},
	})
	return pair, nil
}

// handleReuse runs the replay cascade. The invalidation of the owner's
// tokens happens before the error is returned so the caller can never
// observe ErrTokenReused while stolen sessions remain live.
func (s *Service) handleReuse(ctx context.Context, rec *RefreshTokenRecord) error {
	if err := s.tokens.InvalidateAllForUser(ctx, rec.UserID); err != nil {
		// The cascade is the security response; if it fails the caller
		// gets the storage error, not ErrTokenReused, and retries.
		return err
	}
	s.cache.Invalidate(rec.UserID)

	s.recordRotation(OutcomeReuse)
	s.log.Warn("refresh token replay detected",
		"user_id", rec.UserID, "token_id", rec.ID, "family_id", rec.FamilyID)
	s.audit(ctx, audit.Entry{
		Action: audit.ActionTokenReused, EntityType: "user", EntityID: rec.UserID,
		Details: map[string]any{"token_id": rec.ID, "family_id": rec.FamilyID},
	})
	s.publishEvent(audit.ActionTokenReused, rec.UserID, "", map[string]any{"family_id": rec.FamilyID})
	return ErrTokenReused
}
