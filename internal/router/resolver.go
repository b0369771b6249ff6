package router

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wirebridge/partnergw/internal/config"
	"github.com/wirebridge/partnergw/internal/util"
)

// Match is the result of a successful resolution.
type Match struct {
	Route  config.Route
	Params map[string]string
}

// compiledRoute pairs a route with its prepared matcher.
type compiledRoute struct {
	route   config.Route
	matcher PathMatcher
}

// Resolver matches requests against the configured route table. Routes
// are tried in (priority desc, createdAt asc) order and the first
// method+path match wins. The table is immutable between Reload calls,
// so resolution takes only a read lock.
type Resolver struct {
	logger *zap.Logger

	mu     sync.RWMutex
	routes []compiledRoute
}

// NewResolver builds a resolver over the given routes. Disabled routes
// are dropped at compile time.
func NewResolver(routes []config.Route, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{logger: logger}
	r.Reload(routes)
	return r
}

// Reload swaps in a new route table, used on configuration reload.
func (r *Resolver) Reload(routes []config.Route) {
	compiled := make([]compiledRoute, 0, len(routes))
	for _, route := range routes {
		if !route.Enabled {
			continue
		}
		compiled = append(compiled, compiledRoute{
			route:   route,
			matcher: NewMatcher(route.PathPattern),
		})
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		a, b := compiled[i].route, compiled[j].route
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	r.mu.Lock()
	r.routes = compiled
	r.mu.Unlock()

	r.logger.Debug("route table reloaded", zap.Int("routes", len(compiled)))
}

// Resolve returns the first route matching method and path, or a
// RouteNotFound error.
func (r *Resolver) Resolve(method, path string) (*Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cr := range r.routes {
		if !methodMatches(cr.route.Method, method) {
			continue
		}
		if ok, params := cr.matcher.Match(path); ok {
			recordResolution("matched")
			return &Match{Route: cr.route, Params: params}, nil
		}
	}

	recordResolution("not_found")
	return nil, util.NewRouteNotFoundError(method, path)
}

// Routes returns the active routes in resolution order.
func (r *Resolver) Routes() []config.Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]config.Route, len(r.routes))
	for i, cr := range r.routes {
		out[i] = cr.route
	}
	return out
}

func methodMatches(routeMethod, requestMethod string) bool {
	return routeMethod == "*" || routeMethod == "ANY" ||
		strings.EqualFold(routeMethod, requestMethod)
}
