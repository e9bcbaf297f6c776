package portal

import (
	"context"
	"fmt"
	"net/url"

	"github.com/classloop/portal-go/pkg/cache"
	"github.com/classloop/portal-go/pkg/transport"
	"github.com/rs/zerolog"
)

// Chapter is one unit of a course's material.
type Chapter struct {
	ID       string `json:"id"`
	CourseID string `json:"courseId"`
	Title    string `json:"title"`
	Position int    `json:"position"`
}

// ChapterInput are the writable chapter fields.
type ChapterInput struct {
	CourseID string `json:"courseId"`
	Title    string `json:"title"`
	Position int    `json:"position"`
}

// Chapters wraps the course-chapter endpoints.
type Chapters struct {
	api    *transport.Client
	cache  *cache.Cache
	entity cache.Entity
	logger zerolog.Logger
}

// NewChapters creates the chapters service.
func NewChapters(api *transport.Client, dataCache *cache.Cache, logger zerolog.Logger) (*Chapters, error) {
	if api == nil {
		return nil, fmt.Errorf("transport client cannot be nil")
	}
	if dataCache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	return &Chapters{
		api:    api,
		cache:  dataCache,
		entity: cache.Chapters,
		logger: logger.With().Str("component", "Chapters").Logger(),
	}, nil
}

// List returns a course's chapters, served from cache when fresh.
func (s *Chapters) List(ctx context.Context, courseID string) ([]Chapter, error) {
	params := cache.Params{"course": courseID}
	query := url.Values{}
	if courseID != "" {
		query.Set("courseId", courseID)
	}
	chapters, _, err := fetchList[Chapter](ctx, s.cache, s.api, s.entity, params, "/chapters", query)
	return chapters, err
}

// Create adds a chapter to a course.
func (s *Chapters) Create(ctx context.Context, input ChapterInput) (*Chapter, error) {
	env, err := s.api.Post(ctx, "/chapters", input)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, s.entity.Name)
	return decodeOne[Chapter](env)
}

// Update edits a chapter.
func (s *Chapters) Update(ctx context.Context, id string, input ChapterInput) (*Chapter, error) {
	env, err := s.api.Put(ctx, "/chapters/"+id, input)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, s.entity.Name)
	return decodeOne[Chapter](env)
}

// Delete removes a chapter.
func (s *Chapters) Delete(ctx context.Context, id string) error {
	if _, err := s.api.Delete(ctx, "/chapters/"+id); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, s.entity.Name)
	return nil
}
