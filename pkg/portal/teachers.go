package portal

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/classloop/portal-go/pkg/cache"
	"github.com/classloop/portal-go/pkg/transport"
	"github.com/rs/zerolog"
)

// Teacher is one member of the teaching staff.
type Teacher struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Branch  string `json:"branch"`
}

// TeacherInput are the writable teacher fields.
type TeacherInput struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Branch  string `json:"branch"`
}

// Teachers wraps the teacher endpoints with listing-page caching. Every
// mutation invalidates all cached teacher pages.
type Teachers struct {
	api    *transport.Client
	cache  *cache.Cache
	entity cache.Entity
	logger zerolog.Logger
}

// NewTeachers creates the teachers service.
func NewTeachers(api *transport.Client, dataCache *cache.Cache, logger zerolog.Logger) (*Teachers, error) {
	if api == nil {
		return nil, fmt.Errorf("transport client cannot be nil")
	}
	if dataCache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	return &Teachers{
		api:    api,
		cache:  dataCache,
		entity: cache.Teachers,
		logger: logger.With().Str("component", "Teachers").Logger(),
	}, nil
}

// List returns one page of teachers, served from cache when fresh.
func (s *Teachers) List(ctx context.Context, page int, search string) ([]Teacher, *transport.Pagination, error) {
	params := cache.Params{"page": strconv.Itoa(page), "search": search}
	query := url.Values{"page": {strconv.Itoa(page)}}
	if search != "" {
		query.Set("search", search)
	}
	return fetchList[Teacher](ctx, s.cache, s.api, s.entity, params, "/teachers", query)
}

// Create adds a teacher and drops every cached teacher page.
func (s *Teachers) Create(ctx context.Context, input TeacherInput) (*Teacher, error) {
	env, err := s.api.Post(ctx, "/teachers", input)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, s.entity.Name)
	return decodeOne[Teacher](env)
}

// Update modifies a teacher and drops every cached teacher page.
func (s *Teachers) Update(ctx context.Context, id string, input TeacherInput) (*Teacher, error) {
	env, err := s.api.Put(ctx, "/teachers/"+id, input)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, s.entity.Name)
	return decodeOne[Teacher](env)
}

// Delete removes a teacher and drops every cached teacher page.
func (s *Teachers) Delete(ctx context.Context, id string) error {
	if _, err := s.api.Delete(ctx, "/teachers/"+id); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, s.entity.Name)
	return nil
}
