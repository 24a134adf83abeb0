package marqo

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	api "github.com/marqo-ai/marqo-haystack/internal/marqo"
)

// Store defaults.
const (
	DefaultURL             = api.DefaultURL
	DefaultIndex           = "documents"
	DefaultClientBatchSize = api.DefaultClientBatchSize
)

// SearchMethod selects Marqo's retrieval method.
type SearchMethod = api.SearchMethod

// Search methods.
const (
	SearchTensor  = api.SearchTensor
	SearchLexical = api.SearchLexical
	SearchHybrid  = api.SearchHybrid
)

// Option configures the DocumentStore.
type Option interface {
	apply(*storeConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*storeConfig)

func (f optionFunc) apply(c *storeConfig) { f(c) }

type storeConfig struct {
	url      string
	apiKey   string
	index    string
	settings map[string]any

	clientBatchSize   int
	searchConcurrency int
	searchMethod      SearchMethod
	httpClient        *http.Client

	logger     *zap.Logger
	metricsReg prometheus.Registerer
}

func defaultStoreConfig() *storeConfig {
	return &storeConfig{
		url:               DefaultURL,
		index:             DefaultIndex,
		clientBatchSize:   DefaultClientBatchSize,
		searchConcurrency: 1,
		searchMethod:      SearchTensor,
	}
}

// WithURL sets the Marqo base URL. Default: http://localhost:8882.
func WithURL(url string) Option {
	return optionFunc(func(c *storeConfig) {
		c.url = url
	})
}

// WithAPIKey sets the key sent in Marqo's x-api-key header.
func WithAPIKey(key string) Option {
	return optionFunc(func(c *storeConfig) {
		c.apiKey = key
	})
}

// WithIndex sets the index (collection) name. Default: "documents".
func WithIndex(name string) Option {
	return optionFunc(func(c *storeConfig) {
		c.index = name
	})
}

// WithIndexSettings sets the settings used when the index has to be created.
// They are ignored for an index that already exists.
func WithIndexSettings(settings map[string]any) Option {
	return optionFunc(func(c *storeConfig) {
		c.settings = settings
	})
}

// WithClientBatchSize sets how many documents go into one upsert request.
// Default: 4.
func WithClientBatchSize(n int) Option {
	return optionFunc(func(c *storeConfig) {
		c.clientBatchSize = n
	})
}

// WithSearchConcurrency bounds how many queries of one Search call are in
// flight at once. Default: 1 (sequential).
func WithSearchConcurrency(n int) Option {
	return optionFunc(func(c *storeConfig) {
		c.searchConcurrency = n
	})
}

// WithSearchMethod selects tensor, lexical or hybrid retrieval. Default: tensor.
func WithSearchMethod(m SearchMethod) Option {
	return optionFunc(func(c *storeConfig) {
		c.searchMethod = m
	})
}

// WithHTTPClient replaces the HTTP client used to reach Marqo.
func WithHTTPClient(hc *http.Client) Option {
	return optionFunc(func(c *storeConfig) {
		c.httpClient = hc
	})
}

// WithLogger enables structured logging for store operations.
// Pass nil to disable (default).
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *storeConfig) {
		c.logger = l
	})
}

// WithPrometheus registers store metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *storeConfig) {
		c.metricsReg = reg
	})
}
