package portal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/classloop/portal-go/pkg/cache"
	"github.com/classloop/portal-go/pkg/transport"
	"github.com/rs/zerolog"
)

// DashboardStats are the admin back-office aggregates. They move constantly
// during live check-in, so they carry the shortest cache TTL and are
// invalidated by student and session mutations.
type DashboardStats struct {
	ActiveStudents int `json:"activeStudents"`
	ActiveTeachers int `json:"activeTeachers"`
	SessionsToday  int `json:"sessionsToday"`
	CheckInsToday  int `json:"checkInsToday"`
	NewStudents30d int `json:"newStudents30d"`
	ActiveBranches int `json:"activeBranches"`
}

// Dashboard wraps the dashboard aggregate endpoint.
type Dashboard struct {
	api    *transport.Client
	cache  *cache.Cache
	entity cache.Entity
	logger zerolog.Logger
}

// NewDashboard creates the dashboard service.
func NewDashboard(api *transport.Client, dataCache *cache.Cache, logger zerolog.Logger) (*Dashboard, error) {
	if api == nil {
		return nil, fmt.Errorf("transport client cannot be nil")
	}
	if dataCache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	return &Dashboard{
		api:    api,
		cache:  dataCache,
		entity: cache.Dashboard,
		logger: logger.With().Str("component", "Dashboard").Logger(),
	}, nil
}

// Stats returns the dashboard aggregates, served from cache when fresh.
func (s *Dashboard) Stats(ctx context.Context) (*DashboardStats, error) {
	payload, err := s.cache.GetOrFetch(ctx, s.entity, cache.Params{"view": "stats"}, func(ctx context.Context) (json.RawMessage, error) {
		env, err := s.api.Get(ctx, "/dashboard/stats", nil)
		if err != nil {
			return nil, err
		}
		return env.Data, nil
	})
	if err != nil {
		return nil, err
	}

	var stats DashboardStats
	if err := json.Unmarshal(payload, &stats); err != nil {
		return nil, fmt.Errorf("failed to decode dashboard stats: %w", err)
	}
	return &stats, nil
}
