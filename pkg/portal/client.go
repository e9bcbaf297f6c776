// Package portal assembles the school-portal client: the transport layer,
// the persistent store, the read-through cache, the auth synchronizer, and
// one service per backend entity.
package portal

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"

	"github.com/classloop/portal-go/pkg/auth"
	"github.com/classloop/portal-go/pkg/cache"
	"github.com/classloop/portal-go/pkg/config"
	"github.com/classloop/portal-go/pkg/kvstore"
	"github.com/classloop/portal-go/pkg/transport"
)

// Client is the fully wired portal SDK.
type Client struct {
	Auth      *auth.Synchronizer
	Teachers  *Teachers
	Students  *Students
	Sessions  *Sessions
	Chapters  *Chapters
	Branches  *Branches
	Dashboard *Dashboard

	closers []io.Closer
	logger  zerolog.Logger
}

// New builds a Client from configuration: it opens the configured store,
// loads persisted credentials, and wires every service over one shared
// transport client and cache.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.LogLevel != "" {
		if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			logger = logger.Level(level)
		} else {
			logger.Warn().Str("log_level", cfg.LogLevel).Msg("Unknown log level; keeping current level.")
		}
	}

	store, closers, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	creds, err := auth.NewCredentials(ctx, store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	api, err := transport.NewClient(&transport.Config{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.RequestTimeout.Std(),
	}, creds, creds, logger)
	if err != nil {
		return nil, err
	}
	dataCache, err := cache.New(&cache.Config{MaxKeysPerPrefix: cfg.Cache.MaxKeysPerPrefix}, store, logger)
	if err != nil {
		return nil, err
	}
	synchronizer, err := auth.NewSynchronizer(&auth.Config{
		ValidationWindow: cfg.Auth.ValidationWindow.Std(),
	}, api, store, creds, dataCache, logger)
	if err != nil {
		return nil, err
	}

	c := &Client{
		Auth:    synchronizer,
		closers: closers,
		logger:  logger.With().Str("component", "PortalClient").Logger(),
	}

	if c.Teachers, err = NewTeachers(api, dataCache, logger); err != nil {
		return nil, err
	}
	if c.Students, err = NewStudents(api, dataCache, logger); err != nil {
		return nil, err
	}
	if c.Sessions, err = NewSessions(api, dataCache, logger); err != nil {
		return nil, err
	}
	if c.Chapters, err = NewChapters(api, dataCache, logger); err != nil {
		return nil, err
	}
	if c.Branches, err = NewBranches(api, dataCache, logger); err != nil {
		return nil, err
	}
	if c.Dashboard, err = NewDashboard(api, dataCache, logger); err != nil {
		return nil, err
	}

	// Config TTL overrides; zero values keep the per-entity defaults.
	c.Teachers.entity = c.Teachers.entity.WithTTL(cfg.Cache.TTL.Teachers.Std())
	c.Students.entity = c.Students.entity.WithTTL(cfg.Cache.TTL.Students.Std())
	c.Sessions.entity = c.Sessions.entity.WithTTL(cfg.Cache.TTL.Sessions.Std())
	c.Chapters.entity = c.Chapters.entity.WithTTL(cfg.Cache.TTL.Chapters.Std())
	c.Branches.entity = c.Branches.entity.WithTTL(cfg.Cache.TTL.Branches.Std())
	c.Dashboard.entity = c.Dashboard.entity.WithTTL(cfg.Cache.TTL.Dashboard.Std())

	c.logger.Info().Str("base_url", cfg.BaseURL).Str("store", string(cfg.Store.Kind)).Msg("Portal client ready.")
	return c, nil
}

// Close releases the store and any backing connections.
func (c *Client) Close() error {
	var firstErr error
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// openStore creates the configured persistence backend. The returned closers
// are released in order by Client.Close.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (kvstore.Store, []io.Closer, error) {
	switch cfg.Store.Kind {
	case config.StoreMemory, "":
		s := kvstore.NewMemoryStore()
		return s, []io.Closer{s}, nil
	case config.StoreFile:
		s, err := kvstore.NewFileStore(&kvstore.FileStoreConfig{Path: cfg.Store.Path}, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, []io.Closer{s}, nil
	case config.StoreRedis:
		s, err := kvstore.NewRedisStore(ctx, &kvstore.RedisConfig{
			Addr:      cfg.Store.Redis.Addr,
			Password:  cfg.Store.Redis.Password,
			DB:        cfg.Store.Redis.DB,
			Namespace: cfg.Store.Redis.Namespace,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, []io.Closer{s}, nil
	case config.StoreFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.Store.Firestore.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		s, err := kvstore.NewFirestoreStore(&kvstore.FirestoreConfig{
			ProjectID:      cfg.Store.Firestore.ProjectID,
			CollectionName: cfg.Store.Firestore.Collection,
		}, fsClient, logger)
		if err != nil {
			_ = fsClient.Close()
			return nil, nil, err
		}
		return s, []io.Closer{s, fsClient}, nil
	}
	return nil, nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
}
