package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/marldon/gatehouse-core/internal/audit"
)

// Seed makes a fresh database usable: the three built-in roles exist
// with their default claim sets, and if no users exist at all, an
// initial SuperAdmin is created from the supplied credentials. Safe to
// run on every startup; an already-seeded database is left untouched.
func (s *Service) Seed(ctx context.Context, adminUsername, adminPassword string) error {
	if err := s.ensureBuiltinRoles(ctx); err != nil {
		return err
	}

	count, err := s.users.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if adminUsername == "" || adminPassword == "" {
		return errors.New("empty database and no bootstrap credentials configured")
	}

	hash, err := HashPassword(adminPassword)
	if err != nil {
		return err
	}
	admin := &User{
		Username:     adminUsername,
		DisplayName:  "Administrator",
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, admin); err != nil {
		return fmt.Errorf("creating bootstrap admin: %w", err)
	}

	super, err := s.roles.GetByName(ctx, RoleSuperAdmin)
	if err != nil {
		return err
	}
	if err := s.roles.Assign(ctx, admin.ID, super.ID, ""); err != nil {
		return err
	}

	s.log.Info("bootstrap SuperAdmin created", "username", adminUsername)
	s.audit(ctx, audit.Entry{
		Action: audit.ActionUserCreated, EntityType: "user", EntityID: admin.ID,
		Source: "seed", Details: map[string]any{"username": adminUsername, "role": RoleSuperAdmin},
	})
	return nil
}

func (s *Service) ensureBuiltinRoles(ctx context.Context) error {
	builtin := []struct {
		name, description string
	}{
		{RoleSuperAdmin, "Unrestricted access, bypasses permission checks"},
		{RoleAdmin, "Administers users and sessions below its rank"},
		{RoleUser, "Standard account"},
	}

	for _, b := range builtin {
		existing, err := s.roles.GetByName(ctx, b.name)
		if err == nil {
			if err := s.ensureClaims(ctx, existing); err != nil {
				return err
			}
			continue
		}
		if !errors.Is(err, ErrRoleNotFound) {
			return err
		}

		role := &Role{Name: b.name, Description: b.description, IsSystem: true}
		if err := s.roles.Create(ctx, role); err != nil {
			return fmt.Errorf("seeding role %s: %w", b.name, err)
		}
		if claims, ok := defaultRoleClaims[b.name]; ok {
			if err := s.roles.SetClaims(ctx, role.ID, claims); err != nil {
				return fmt.Errorf("seeding claims for %s: %w", b.name, err)
			}
		}
		s.log.Info("seeded built-in role", "role", b.name)
	}
	return nil
}

// ensureClaims backfills default claims for a built-in role that has
// none, which happens when upgrading a database created before claims
// existed. Customised claim sets are never overwritten.
func (s *Service) ensureClaims(ctx context.Context, role *Role) error {
	defaults, ok := defaultRoleClaims[role.Name]
	if !ok {
		return nil
	}
	current, err := s.roles.ClaimsForRole(ctx, role.ID)
	if err != nil {
		return err
	}
	if len(current) > 0 {
		return nil
	}
	return s.roles.SetClaims(ctx, role.ID, defaults)
}
