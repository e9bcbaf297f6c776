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

// Student is one enrolled student.
type Student struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Grade  string `json:"grade"`
	Branch string `json:"branch"`
}

// StudentInput are the writable student fields.
type StudentInput struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Grade  string `json:"grade"`
	Branch string `json:"branch"`
}

// ListStudentsParams are the student listing filters. Every distinct
// combination gets its own cache key.
type ListStudentsParams struct {
	Page   int
	Search string
	Grade  string
	Branch string
}

// Students wraps the student endpoints. Mutations invalidate both the student
// listings and the dashboard aggregates, which count enrollments.
type Students struct {
	api    *transport.Client
	cache  *cache.Cache
	entity cache.Entity
	logger zerolog.Logger
}

// NewStudents creates the students service.
func NewStudents(api *transport.Client, dataCache *cache.Cache, logger zerolog.Logger) (*Students, error) {
	if api == nil {
		return nil, fmt.Errorf("transport client cannot be nil")
	}
	if dataCache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	return &Students{
		api:    api,
		cache:  dataCache,
		entity: cache.Students,
		logger: logger.With().Str("component", "Students").Logger(),
	}, nil
}

// List returns one filtered page of students, served from cache when fresh.
func (s *Students) List(ctx context.Context, p ListStudentsParams) ([]Student, *transport.Pagination, error) {
	params := cache.Params{
		"page":   strconv.Itoa(p.Page),
		"search": p.Search,
		"grade":  p.Grade,
		"branch": p.Branch,
	}
	query := url.Values{"page": {strconv.Itoa(p.Page)}}
	if p.Search != "" {
		query.Set("search", p.Search)
	}
	if p.Grade != "" {
		query.Set("grade", p.Grade)
	}
	if p.Branch != "" {
		query.Set("branch", p.Branch)
	}
	return fetchList[Student](ctx, s.cache, s.api, s.entity, params, "/students", query)
}

// Create enrolls a student.
func (s *Students) Create(ctx context.Context, input StudentInput) (*Student, error) {
	env, err := s.api.Post(ctx, "/students", input)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return decodeOne[Student](env)
}

// Update modifies a student.
func (s *Students) Update(ctx context.Context, id string, input StudentInput) (*Student, error) {
	env, err := s.api.Put(ctx, "/students/"+id, input)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return decodeOne[Student](env)
}

// Delete removes a student.
func (s *Students) Delete(ctx context.Context, id string) error {
	if _, err := s.api.Delete(ctx, "/students/"+id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *Students) invalidate(ctx context.Context) {
	s.cache.Invalidate(ctx, s.entity.Name)
	s.cache.Invalidate(ctx, cache.Dashboard.Name)
}
