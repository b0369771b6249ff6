package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewMatcher_SelectsKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern string
		want    string
	}{
		{"/orders", "exact"},
		{"/orders/*", "wildcard"},
		{"/orders/:id", "param"},
		{"/orders/:id/items/:itemId", "param"},
		{"*", "wildcard"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.pattern, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NewMatcher(tt.pattern).Type())
		})
	}
}

func TestExactMatcher(t *testing.T) {
	t.Parallel()

	m := NewMatcher("/orders")

	ok, params := m.Match("/orders")
	assert.True(t, ok)
	assert.Nil(t, params)

	ok, _ = m.Match("/orders/123")
	assert.False(t, ok)

	ok, _ = m.Match("/order")
	assert.False(t, ok)
}

func TestWildcardMatcher(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/orders/*", "/orders/", true},
		{"/orders/*", "/orders/123", true},
		{"/orders/*", "/orders/123/items", true},
		{"/orders/*", "/payments/1", false},
		{"*", "/anything/at/all", true},
	}

	for _, tt := range tests {
		ok, _ := NewMatcher(tt.pattern).Match(tt.path)
		assert.Equal(t, tt.want, ok, "%s vs %s", tt.pattern, tt.path)
	}
}

func TestParamMatcher(t *testing.T) {
	t.Parallel()

	m := NewMatcher("/orders/:id/items/:itemId")

	ok, params := m.Match("/orders/42/items/7")
	assert.True(t, ok)
	assert.Equal(t, map[string]string{"id": "42", "itemId": "7"}, params)

	// Segment count must match exactly.
	ok, _ = m.Match("/orders/42/items")
	assert.False(t, ok)

	ok, _ = m.Match("/orders/42/items/7/extra")
	assert.False(t, ok)

	// Literal segments must match.
	ok, _ = m.Match("/orders/42/lines/7")
	assert.False(t, ok)
}

func TestParamMatcher_TrailingSlash(t *testing.T) {
	t.Parallel()

	m := NewMatcher("/orders/:id")

	ok, params := m.Match("/orders/42/")
	assert.True(t, ok)
	assert.Equal(t, "42", params["id"])
}
