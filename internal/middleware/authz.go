package middleware

import (
	"context"
	"fmt"

	"github.com/wirebridge/partnergw/internal/config"
	"github.com/wirebridge/partnergw/internal/util"
)

// authzStep checks the authenticated identity against the route's
// required roles and permissions. Every listed requirement must hold.
type authzStep struct {
	cfg *config.AuthzConfig
}

func newAuthzStep(cfg *config.AuthzConfig) *authzStep {
	if cfg == nil {
		cfg = &config.AuthzConfig{}
	}
	return &authzStep{cfg: cfg}
}

func (s *authzStep) Name() string { return "authorization" }

func (s *authzStep) Process(_ context.Context, ex *Exchange) error {
	if ex.Identity == nil {
		return fmt.Errorf("no authenticated identity: %w", util.ErrAuthorizationFailed)
	}

	for _, role := range s.cfg.RequiredRoles {
		if !ex.Identity.HasRole(role) {
			return fmt.Errorf("missing role %q: %w", role, util.ErrAuthorizationFailed)
		}
	}

	for _, perm := range s.cfg.RequiredPermissions {
		if !ex.Identity.HasPermission(perm) {
			return fmt.Errorf("missing permission %q: %w", perm, util.ErrAuthorizationFailed)
		}
	}

	return nil
}
