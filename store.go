package marqo

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	api "github.com/marqo-ai/marqo-haystack/internal/marqo"
)

// DocumentStore keeps documents in one Marqo index.
// It is safe for concurrent use.
type DocumentStore struct {
	client       *api.Client
	index        *api.Index
	batchSize    int
	concurrency  int
	searchMethod SearchMethod
	logger       *zap.Logger
	obs          *observer
}

// New connects to Marqo and makes sure the index exists, creating it with the
// configured settings when it does not. An existing index is left untouched.
//
//	store, err := marqo.New(ctx,
//	    marqo.WithURL("http://localhost:8882"),
//	    marqo.WithIndex("articles"),
//	)
func New(ctx context.Context, opts ...Option) (*DocumentStore, error) {
	cfg := defaultStoreConfig()
	for _, o := range opts {
		o.apply(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	client := api.New(api.Config{
		URL:        cfg.url,
		APIKey:     cfg.apiKey,
		HTTPClient: cfg.httpClient,
		Logger:     logger,
	})
	s := &DocumentStore{
		client:       client,
		index:        client.Index(cfg.index),
		batchSize:    cfg.clientBatchSize,
		concurrency:  cfg.searchConcurrency,
		searchMethod: cfg.searchMethod,
		logger:       logger.With(zap.String("index", cfg.index)),
		obs:          obs,
	}
	if err := s.ensureIndex(ctx, cfg.settings); err != nil {
		return nil, err
	}
	return s, nil
}

func (c *storeConfig) validate() error {
	if c.url == "" {
		return fmt.Errorf("%w: url is required", ErrConfig)
	}
	if c.index == "" {
		return fmt.Errorf("%w: index name is required", ErrConfig)
	}
	if c.clientBatchSize <= 0 {
		return fmt.Errorf("%w: client batch size must be positive, got %d", ErrConfig, c.clientBatchSize)
	}
	if c.searchConcurrency <= 0 {
		return fmt.Errorf("%w: search concurrency must be positive, got %d", ErrConfig, c.searchConcurrency)
	}
	switch c.searchMethod {
	case SearchTensor, SearchLexical, SearchHybrid:
	default:
		return fmt.Errorf("%w: unknown search method %q", ErrConfig, c.searchMethod)
	}
	return nil
}

func (s *DocumentStore) ensureIndex(ctx context.Context, settings map[string]any) (err error) {
	defer func(start time.Time) { s.obs.observe("ensure_index", start, err) }(time.Now())

	names, err := s.client.ListIndexes(ctx)
	if err != nil {
		return fmt.Errorf("list indexes: %w", err)
	}
	if slices.Contains(names, s.index.Name()) {
		s.logger.Info("index already exists, skipping creation")
		return nil
	}
	if err := s.client.CreateIndex(ctx, s.index.Name(), settings); err != nil {
		return fmt.Errorf("create index %s: %w", s.index.Name(), err)
	}
	s.logger.Info("index created")
	return nil
}

// Index returns the name of the backing Marqo index.
func (s *DocumentStore) Index() string { return s.index.Name() }

// URL returns the Marqo base URL.
func (s *DocumentStore) URL() string { return s.client.URL() }

// Health returns Marqo's status for the index ("green", "yellow" or "red").
func (s *DocumentStore) Health(ctx context.Context) (status string, err error) {
	defer func(start time.Time) { s.obs.observe("health", start, err) }(time.Now())

	h, err := s.index.Health(ctx)
	if err != nil {
		return "", fmt.Errorf("health: %w", err)
	}
	return h.Status, nil
}

// DropIndex deletes the index with all its documents. The store is unusable
// afterwards until a new store recreates the index.
func (s *DocumentStore) DropIndex(ctx context.Context) (err error) {
	defer func(start time.Time) { s.obs.observe("drop_index", start, err) }(time.Now())

	if err := s.client.DeleteIndex(ctx, s.index.Name()); err != nil {
		return fmt.Errorf("drop index %s: %w", s.index.Name(), err)
	}
	s.logger.Info("index dropped")
	return nil
}
