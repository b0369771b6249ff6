package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/crypto/bcrypt"

	"github.com/wirebridge/partnergw/internal/config"
	"github.com/wirebridge/partnergw/internal/util"
)

const (
	schemeBearer = "bearer"
	schemeAPIKey = "api_key"
	schemeBasic  = "basic"

	defaultAPIKeyHeader = "X-API-Key"
)

// authStep validates caller credentials against the route's auth
// configuration and attaches the resulting identity to the exchange.
type authStep struct {
	cfg          *config.AuthConfig
	apiKeyHeader string
}

func newAuthStep(cfg *config.AuthConfig) (*authStep, error) {
	if cfg == nil {
		return nil, fmt.Errorf("auth config missing")
	}

	switch cfg.Scheme {
	case schemeBearer:
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("bearer scheme requires jwtSecret")
		}
	case schemeAPIKey:
		if len(cfg.Keys) == 0 {
			return nil, fmt.Errorf("api_key scheme requires at least one key")
		}
	case schemeBasic:
		if len(cfg.Users) == 0 {
			return nil, fmt.Errorf("basic scheme requires at least one user")
		}
	default:
		return nil, fmt.Errorf("unknown auth scheme %q", cfg.Scheme)
	}

	header := cfg.APIKeyHeader
	if header == "" {
		header = defaultAPIKeyHeader
	}

	return &authStep{cfg: cfg, apiKeyHeader: header}, nil
}

func (s *authStep) Name() string { return "authentication" }

func (s *authStep) Process(_ context.Context, ex *Exchange) error {
	var (
		identity *util.Identity
		err      error
	)

	switch s.cfg.Scheme {
	case schemeBearer:
		identity, err = s.authenticateBearer(ex)
	case schemeAPIKey:
		identity, err = s.authenticateAPIKey(ex)
	case schemeBasic:
		identity, err = s.authenticateBasic(ex)
	}

	if err != nil {
		return err
	}

	ex.Identity = identity
	return nil
}

func (s *authStep) authenticateBearer(ex *Exchange) (*util.Identity, error) {
	raw, ok := bearerToken(ex.Request.Header.Get("Authorization"))
	if !ok {
		return nil, fmt.Errorf("missing bearer token: %w", util.ErrAuthenticationFailed)
	}

	opts := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, []byte(s.cfg.JWTSecret)),
		jwt.WithValidate(true),
	}
	if s.cfg.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.JWTIssuer))
	}

	token, err := jwt.Parse([]byte(raw), opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid bearer token: %w", util.ErrAuthenticationFailed)
	}

	return &util.Identity{
		Subject:     token.Subject(),
		Roles:       claimStrings(token, "roles"),
		Permissions: claimStrings(token, "permissions"),
	}, nil
}

func (s *authStep) authenticateAPIKey(ex *Exchange) (*util.Identity, error) {
	presented := ex.Request.Header.Get(s.apiKeyHeader)
	if presented == "" {
		return nil, fmt.Errorf("missing api key: %w", util.ErrAuthenticationFailed)
	}

	for i := range s.cfg.Keys {
		key := &s.cfg.Keys[i]
		if keyMatches(key, presented) {
			return &util.Identity{
				Subject:     key.ID,
				Roles:       key.Roles,
				Permissions: key.Permissions,
			}, nil
		}
	}

	return nil, fmt.Errorf("unknown api key: %w", util.ErrAuthenticationFailed)
}

func (s *authStep) authenticateBasic(ex *Exchange) (*util.Identity, error) {
	username, password, ok := ex.Request.BasicAuth()
	if !ok {
		return nil, fmt.Errorf("missing basic credentials: %w", util.ErrAuthenticationFailed)
	}

	for i := range s.cfg.Users {
		user := &s.cfg.Users[i]
		if user.Username != username {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
			break
		}
		return &util.Identity{
			Subject:     user.Username,
			Roles:       user.Roles,
			Permissions: user.Permissions,
		}, nil
	}

	return nil, fmt.Errorf("invalid basic credentials: %w", util.ErrAuthenticationFailed)
}

// keyMatches compares a presented key against the stored hash using the
// key's configured hash algorithm.
func keyMatches(key *config.APIKey, presented string) bool {
	switch key.HashAlg {
	case "bcrypt":
		return bcrypt.CompareHashAndPassword([]byte(key.Hash), []byte(presented)) == nil
	case "sha256":
		sum := sha256.Sum256([]byte(presented))
		return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(strings.ToLower(key.Hash))) == 1
	default:
		return subtle.ConstantTimeCompare([]byte(key.Hash), []byte(presented)) == 1
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

// claimStrings extracts a string-slice claim such as roles.
func claimStrings(token jwt.Token, claim string) []string {
	v, ok := token.Get(claim)
	if !ok {
		return nil
	}

	items, ok := v.([]interface{})
	if !ok {
		return nil
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
