package router

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirebridge/partnergw/internal/config"
	"github.com/wirebridge/partnergw/internal/util"
)

func route(id, method, pattern string, priority int, createdAt time.Time) config.Route {
	return config.Route{
		ID:          id,
		Method:      method,
		PathPattern: pattern,
		PartnerID:   "partner-1",
		Priority:    priority,
		CreatedAt:   createdAt,
		Enabled:     true,
	}
}

func TestResolver_ExactMatch(t *testing.T) {
	t.Parallel()

	r := NewResolver([]config.Route{
		route("r1", "GET", "/orders", 0, time.Now()),
	}, nil)

	m, err := r.Resolve("GET", "/orders")
	require.NoError(t, err)
	assert.Equal(t, "r1", m.Route.ID)

	_, err = r.Resolve("POST", "/orders")
	assert.True(t, errors.Is(err, util.ErrRouteNotFound))

	_, err = r.Resolve("GET", "/payments")
	assert.True(t, errors.Is(err, util.ErrRouteNotFound))
}

func TestResolver_HigherPriorityWins(t *testing.T) {
	t.Parallel()

	now := time.Now()
	r := NewResolver([]config.Route{
		route("catch-all", "GET", "/orders/*", 0, now),
		route("specific", "GET", "/orders/:id", 10, now),
	}, nil)

	m, err := r.Resolve("GET", "/orders/42")
	require.NoError(t, err)
	assert.Equal(t, "specific", m.Route.ID)
	assert.Equal(t, "42", m.Params["id"])

	// Paths the specific route cannot match fall through.
	m, err = r.Resolve("GET", "/orders/42/items")
	require.NoError(t, err)
	assert.Equal(t, "catch-all", m.Route.ID)
}

func TestResolver_CreatedAtBreaksTies(t *testing.T) {
	t.Parallel()

	older := time.Now().Add(-time.Hour)
	newer := time.Now()

	r := NewResolver([]config.Route{
		{ID: "newer", Method: "GET", PathPattern: "/things/*", Priority: 5, CreatedAt: newer, Enabled: true, PartnerID: "p"},
		{ID: "older", Method: "GET", PathPattern: "/things/*", Priority: 5, CreatedAt: older, Enabled: true, PartnerID: "p"},
	}, nil)

	m, err := r.Resolve("GET", "/things/1")
	require.NoError(t, err)
	assert.Equal(t, "older", m.Route.ID)
}

func TestResolver_DisabledRoutesSkipped(t *testing.T) {
	t.Parallel()

	disabled := route("off", "GET", "/orders", 10, time.Now())
	disabled.Enabled = false

	r := NewResolver([]config.Route{
		disabled,
		route("on", "GET", "/orders", 0, time.Now()),
	}, nil)

	m, err := r.Resolve("GET", "/orders")
	require.NoError(t, err)
	assert.Equal(t, "on", m.Route.ID)
}

func TestResolver_AnyMethod(t *testing.T) {
	t.Parallel()

	r := NewResolver([]config.Route{
		route("any", "ANY", "/orders", 0, time.Now()),
	}, nil)

	for _, method := range []string{"GET", "POST", "DELETE"} {
		m, err := r.Resolve(method, "/orders")
		require.NoError(t, err)
		assert.Equal(t, "any", m.Route.ID)
	}
}

func TestResolver_Reload(t *testing.T) {
	t.Parallel()

	r := NewResolver([]config.Route{
		route("old", "GET", "/orders", 0, time.Now()),
	}, nil)

	r.Reload([]config.Route{
		route("new", "GET", "/payments", 0, time.Now()),
	})

	_, err := r.Resolve("GET", "/orders")
	assert.True(t, errors.Is(err, util.ErrRouteNotFound))

	m, err := r.Resolve("GET", "/payments")
	require.NoError(t, err)
	assert.Equal(t, "new", m.Route.ID)
}

func TestResolver_RoutesOrdered(t *testing.T) {
	t.Parallel()

	now := time.Now()
	r := NewResolver([]config.Route{
		route("low", "GET", "/a", 1, now),
		route("high", "GET", "/b", 9, now),
		route("mid", "GET", "/c", 5, now),
	}, nil)

	got := r.Routes()
	require.Len(t, got, 3)
	assert.Equal(t, "high", got[0].ID)
	assert.Equal(t, "mid", got[1].ID)
	assert.Equal(t, "low", got[2].ID)
}
