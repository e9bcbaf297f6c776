package portal

import (
	"context"
	"fmt"

	"github.com/classloop/portal-go/pkg/cache"
	"github.com/classloop/portal-go/pkg/transport"
	"github.com/rs/zerolog"
)

// Branch is one physical school location.
type Branch struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

// Branches wraps the branch listing. Branches almost never change, so they
// carry the longest cache TTL and no mutation surface: branch management
// happens out of band.
type Branches struct {
	api    *transport.Client
	cache  *cache.Cache
	entity cache.Entity
	logger zerolog.Logger
}

// NewBranches creates the branches service.
func NewBranches(api *transport.Client, dataCache *cache.Cache, logger zerolog.Logger) (*Branches, error) {
	if api == nil {
		return nil, fmt.Errorf("transport client cannot be nil")
	}
	if dataCache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	return &Branches{
		api:    api,
		cache:  dataCache,
		entity: cache.Branches,
		logger: logger.With().Str("component", "Branches").Logger(),
	}, nil
}

// List returns all branches, served from cache when fresh.
func (s *Branches) List(ctx context.Context) ([]Branch, error) {
	branches, _, err := fetchList[Branch](ctx, s.cache, s.api, s.entity, nil, "/branches", nil)
	return branches, err
}
