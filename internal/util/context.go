package util

import (
	"context"
	"time"
)

// Context keys.
type ctxKey string

const (
	ctxKeyRequestID  ctxKey = "request_id"
	ctxKeyStartTime  ctxKey = "start_time"
	ctxKeyRoute      ctxKey = "route"
	ctxKeyPartner    ctxKey = "partner"
	ctxKeyPathParams ctxKey = "path_params"
	ctxKeyIdentity   ctxKey = "identity"
)

// Identity is the caller identity established by the authentication step
// and consumed by the authorization step.
type Identity struct {
	Subject     string
	Roles       []string
	Permissions []string
}

// HasRole returns true if the identity carries the given role.
func (id *Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasPermission returns true if the identity carries the given permission.
func (id *Identity) HasPermission(perm string) bool {
	for _, p := range id.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// ContextWithRequestID adds a request ID to the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// ContextWithStartTime adds a request start time to the context.
func ContextWithStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ctxKeyStartTime, t)
}

// StartTimeFromContext extracts the request start time from context.
func StartTimeFromContext(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(ctxKeyStartTime).(time.Time)
	return t, ok
}

// ContextWithRoute adds the resolved route ID to the context.
func ContextWithRoute(ctx context.Context, routeID string) context.Context {
	return context.WithValue(ctx, ctxKeyRoute, routeID)
}

// RouteFromContext extracts the resolved route ID from context.
func RouteFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRoute).(string); ok {
		return v
	}
	return ""
}

// ContextWithPartner adds the target partner ID to the context.
func ContextWithPartner(ctx context.Context, partnerID string) context.Context {
	return context.WithValue(ctx, ctxKeyPartner, partnerID)
}

// PartnerFromContext extracts the target partner ID from context.
func PartnerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyPartner).(string); ok {
		return v
	}
	return ""
}

// ContextWithPathParams adds matched path parameters to the context.
func ContextWithPathParams(ctx context.Context, params map[string]string) context.Context {
	return context.WithValue(ctx, ctxKeyPathParams, params)
}

// PathParamsFromContext extracts matched path parameters from context.
func PathParamsFromContext(ctx context.Context) map[string]string {
	if v, ok := ctx.Value(ctxKeyPathParams).(map[string]string); ok {
		return v
	}
	return nil
}

// ContextWithIdentity adds the authenticated identity to the context.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, id)
}

// IdentityFromContext extracts the authenticated identity from context.
func IdentityFromContext(ctx context.Context) *Identity {
	if v, ok := ctx.Value(ctxKeyIdentity).(*Identity); ok {
		return v
	}
	return nil
}
