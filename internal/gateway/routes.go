package gateway

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bioplatform/access-gateway/pkg/config"
	"github.com/bioplatform/access-gateway/pkg/logger"
	"github.com/bioplatform/access-gateway/pkg/monitoring"
	"github.com/bioplatform/access-gateway/pkg/types"
)

// RouteTable holds the static backend routes keyed by the first path segment
// under /api/services. Only the health fields mutate at runtime.
type RouteTable struct {
	mu     sync.RWMutex
	routes map[string]*types.ServiceRoute
}

// NewRouteTable builds the table from configured backends.
func NewRouteTable(backends []config.Backend) *RouteTable {
	routes := make(map[string]*types.ServiceRoute, len(backends))
	for _, b := range backends {
		routes[b.Name] = &types.ServiceRoute{
			Name:         b.Name,
			BaseURL:      strings.TrimRight(b.URL, "/"),
			ResourceType: b.ResourceType,
			Health:       types.HealthUnknown,
		}
	}
	return &RouteTable{routes: routes}
}

// Resolve maps a proxied path like /api/services/patient-data/patients/7 to
// its route and the remainder to forward.
func (t *RouteTable) Resolve(path string) (*types.ServiceRoute, string, bool) {
	trimmed := strings.TrimPrefix(path, "/api/services/")
	if trimmed == path || trimmed == "" {
		return nil, "", false
	}

	name, remainder, _ := strings.Cut(trimmed, "/")

	t.mu.RLock()
	defer t.mu.RUnlock()

	route, ok := t.routes[name]
	if !ok {
		return nil, "", false
	}
	copied := *route
	return &copied, "/" + remainder, true
}

// All returns a snapshot of every route.
func (t *RouteTable) All() []*types.ServiceRoute {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*types.ServiceRoute, 0, len(t.routes))
	for _, route := range t.routes {
		copied := *route
		out = append(out, &copied)
	}
	return out
}

// SetHealth records a probe result for a backend.
func (t *RouteTable) SetHealth(name string, state types.HealthState, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if route, ok := t.routes[name]; ok {
		route.Health = state
		route.LastProbe = at
	}
}

// Prober polls backend health endpoints so the proxy can fail fast on known
// dead backends instead of burning its timeout.
type Prober struct {
	table    *RouteTable
	client   *http.Client
	interval time.Duration
	logger   *logger.Logger
}

// NewProber creates a health prober over the route table.
func NewProber(table *RouteTable, interval time.Duration, log *logger.Logger) *Prober {
	return &Prober{
		table:    table,
		client:   &http.Client{Timeout: 5 * time.Second},
		interval: interval,
		logger:   log,
	}
}

// Start probes all backends on the configured interval until ctx is done.
// The first sweep runs immediately.
func (p *Prober) Start(ctx context.Context) {
	go func() {
		p.sweep(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.sweep(ctx)
			}
		}
	}()
}

func (p *Prober) sweep(ctx context.Context) {
	for _, route := range p.table.All() {
		state := p.probe(ctx, route)
		p.table.SetHealth(route.Name, state, time.Now())
		monitoring.SetBackendHealth(route.Name, state == types.HealthHealthy)

		if state != route.Health && route.Health != types.HealthUnknown {
			p.logger.WithFields(map[string]interface{}{
				"backend": route.Name,
				"health":  state,
			}).Warn("Backend health changed")
		}
	}
}

func (p *Prober) probe(ctx context.Context, route *types.ServiceRoute) types.HealthState {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, route.BaseURL+"/health", nil)
	if err != nil {
		return types.HealthUnhealthy
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return types.HealthUnhealthy
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return types.HealthHealthy
	}
	return types.HealthUnhealthy
}
