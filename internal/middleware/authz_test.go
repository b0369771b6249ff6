package middleware

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wirebridge/partnergw/internal/config"
	"github.com/wirebridge/partnergw/internal/util"
)

func TestAuthzStep(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      *config.AuthzConfig
		identity *util.Identity
		wantErr  bool
	}{
		{
			name:     "no identity",
			cfg:      &config.AuthzConfig{},
			identity: nil,
			wantErr:  true,
		},
		{
			name:     "no requirements",
			cfg:      &config.AuthzConfig{},
			identity: &util.Identity{Subject: "s"},
			wantErr:  false,
		},
		{
			name:     "role present",
			cfg:      &config.AuthzConfig{RequiredRoles: []string{"admin"}},
			identity: &util.Identity{Subject: "s", Roles: []string{"admin", "reader"}},
			wantErr:  false,
		},
		{
			name:     "role missing",
			cfg:      &config.AuthzConfig{RequiredRoles: []string{"admin"}},
			identity: &util.Identity{Subject: "s", Roles: []string{"reader"}},
			wantErr:  true,
		},
		{
			name:     "all roles required",
			cfg:      &config.AuthzConfig{RequiredRoles: []string{"admin", "auditor"}},
			identity: &util.Identity{Subject: "s", Roles: []string{"admin"}},
			wantErr:  true,
		},
		{
			name:     "permission present",
			cfg:      &config.AuthzConfig{RequiredPermissions: []string{"orders:write"}},
			identity: &util.Identity{Subject: "s", Permissions: []string{"orders:write"}},
			wantErr:  false,
		},
		{
			name:     "permission missing",
			cfg:      &config.AuthzConfig{RequiredPermissions: []string{"orders:write"}},
			identity: &util.Identity{Subject: "s", Permissions: []string{"orders:read"}},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ex := &Exchange{
				Request:  httptest.NewRequest("GET", "/x", nil),
				Identity: tt.identity,
			}

			err := newAuthzStep(tt.cfg).Process(context.Background(), ex)
			if tt.wantErr {
				assert.True(t, errors.Is(err, util.ErrAuthorizationFailed))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
