package portal

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/classloop/portal-go/pkg/cache"
	"github.com/classloop/portal-go/pkg/transport"
	"github.com/rs/zerolog"
)

// Session is one scheduled teaching session (a live class or a check-in
// slot), distinct from the auth package's login session.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	TeacherID string    `json:"teacherId"`
	Branch    string    `json:"branch"`
	StartsAt  time.Time `json:"startsAt"`
	Status    string    `json:"status"`
}

// SessionInput are the writable session fields.
type SessionInput struct {
	Title     string    `json:"title"`
	TeacherID string    `json:"teacherId"`
	Branch    string    `json:"branch"`
	StartsAt  time.Time `json:"startsAt"`
}

// ListSessionsParams are the session listing filters.
type ListSessionsParams struct {
	Page      int
	TeacherID string
	Date      string // YYYY-MM-DD
	Status    string
}

// Sessions wraps the teaching-session endpoints. Session data changes
// constantly during live check-in, hence the short cache TTL, and check-ins
// invalidate the dashboard aggregates too.
type Sessions struct {
	api    *transport.Client
	cache  *cache.Cache
	entity cache.Entity
	logger zerolog.Logger
}

// NewSessions creates the sessions service.
func NewSessions(api *transport.Client, dataCache *cache.Cache, logger zerolog.Logger) (*Sessions, error) {
	if api == nil {
		return nil, fmt.Errorf("transport client cannot be nil")
	}
	if dataCache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	return &Sessions{
		api:    api,
		cache:  dataCache,
		entity: cache.Sessions,
		logger: logger.With().Str("component", "Sessions").Logger(),
	}, nil
}

// List returns one filtered page of sessions, served from cache when fresh.
func (s *Sessions) List(ctx context.Context, p ListSessionsParams) ([]Session, *transport.Pagination, error) {
	params := cache.Params{
		"page":    strconv.Itoa(p.Page),
		"teacher": p.TeacherID,
		"date":    p.Date,
		"status":  p.Status,
	}
	query := url.Values{"page": {strconv.Itoa(p.Page)}}
	if p.TeacherID != "" {
		query.Set("teacherId", p.TeacherID)
	}
	if p.Date != "" {
		query.Set("date", p.Date)
	}
	if p.Status != "" {
		query.Set("status", p.Status)
	}
	return fetchList[Session](ctx, s.cache, s.api, s.entity, params, "/sessions", query)
}

// Create schedules a session.
func (s *Sessions) Create(ctx context.Context, input SessionInput) (*Session, error) {
	env, err := s.api.Post(ctx, "/sessions", input)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return decodeOne[Session](env)
}

// Update reschedules or edits a session.
func (s *Sessions) Update(ctx context.Context, id string, input SessionInput) (*Session, error) {
	env, err := s.api.Put(ctx, "/sessions/"+id, input)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return decodeOne[Session](env)
}

// Delete cancels a session.
func (s *Sessions) Delete(ctx context.Context, id string) error {
	if _, err := s.api.Delete(ctx, "/sessions/"+id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

type checkInRequest struct {
	StudentID string `json:"studentId"`
}

// CheckIn records a student's attendance for a session.
func (s *Sessions) CheckIn(ctx context.Context, sessionID, studentID string) error {
	if _, err := s.api.Post(ctx, "/sessions/"+sessionID+"/check-in", checkInRequest{StudentID: studentID}); err != nil {
		return err
	}
	s.logger.Debug().Str("session_id", sessionID).Str("student_id", studentID).Msg("Check-in recorded.")
	s.invalidate(ctx)
	return nil
}

func (s *Sessions) invalidate(ctx context.Context) {
	s.cache.Invalidate(ctx, s.entity.Name)
	s.cache.Invalidate(ctx, cache.Dashboard.Name)
}
