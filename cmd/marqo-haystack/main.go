package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	marqo "github.com/marqo-ai/marqo-haystack"
	"github.com/marqo-ai/marqo-haystack/internal/config"
	logpkg "github.com/marqo-ai/marqo-haystack/internal/logger"
)

// app carries state shared by all commands, filled in by the root command.
type app struct {
	env        string
	configPath string
	url        string
	apiKey     string
	index      string
	logLevel   string

	cfg    config.Config
	logger *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&app{}).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "marqo-haystack",
		Short:        "Index and retrieve pipeline documents with Marqo",
		Long:         `A command-line interface and retrieval service for documents stored in a Marqo index.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.env, "env", config.GetEnv(), "environment: local, dev, docker, prod")
	pf.StringVar(&a.configPath, "config", "", "config file (default config/<env>.yaml)")
	pf.StringVar(&a.url, "url", "", "Marqo URL (overrides config)")
	pf.StringVar(&a.apiKey, "api-key", "", "Marqo API key (overrides config)")
	pf.StringVar(&a.index, "index", "", "Marqo index name (overrides config)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newServeCmd(a),
		newIndexCmd(a),
		newQueryCmd(a),
		newGetCmd(a),
		newDeleteCmd(a),
		newCountCmd(a),
		newDropCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads configuration, applies flag overrides and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := loadConfig(a.env, a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.Marqo.URL = a.url
	}
	if flags.Changed("api-key") {
		cfg.Marqo.APIKey = a.apiKey
	}
	if flags.Changed("index") {
		cfg.Marqo.Index = a.index
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logpkg.New(a.env, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// loadConfig reads an explicit file, or config/<env>.yaml when present.
// Without either the defaults apply.
func loadConfig(env, path string) (config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	cfg, err := config.Load(env)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

// openStore connects to Marqo. reg may be nil to skip store metrics.
func (a *app) openStore(ctx context.Context, reg prometheus.Registerer) (*marqo.DocumentStore, error) {
	m := a.cfg.Marqo
	store, err := marqo.New(ctx,
		marqo.WithURL(m.URL),
		marqo.WithAPIKey(m.APIKey),
		marqo.WithIndex(m.Index),
		marqo.WithIndexSettings(m.Settings),
		marqo.WithClientBatchSize(m.ClientBatchSize),
		marqo.WithSearchMethod(marqo.SearchMethod(m.SearchMethod)),
		marqo.WithSearchConcurrency(a.cfg.Retriever.SearchConcurrency),
		marqo.WithHTTPClient(&http.Client{Timeout: time.Duration(m.RequestTimeoutSec) * time.Second}),
		marqo.WithLogger(a.logger),
		marqo.WithPrometheus(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("open store %s at %s: %w", m.Index, m.URL, err)
	}
	return store, nil
}
