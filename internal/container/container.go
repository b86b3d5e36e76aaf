package container

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/skinsight/skinsight-api/internal/advisor"
	"github.com/skinsight/skinsight-api/internal/classifier"
	"github.com/skinsight/skinsight-api/internal/config"
	"github.com/skinsight/skinsight-api/internal/knowledge"
	"github.com/skinsight/skinsight-api/internal/logger"
	"github.com/skinsight/skinsight-api/internal/pipeline"
	"github.com/skinsight/skinsight-api/internal/storage"
	"github.com/skinsight/skinsight-api/internal/store"
	"github.com/skinsight/skinsight-api/internal/transport"
)

// Container owns the process-wide artifacts (model, knowledge index,
// session store) and the dependency graph built on top of them. Everything
// here is initialized once at startup and shared read-only by requests.
type Container struct {
	cfg      *config.Config
	sessions *store.Store
	model    *classifier.Model
	index    *knowledge.Index
	handler  http.Handler
}

func New(cfg *config.Config) (*Container, error) {
	sessions, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	model, err := classifier.New(cfg.ModelPath, cfg.ModelMetadataPath)
	if err != nil {
		sessions.Close()
		return nil, fmt.Errorf("failed to load classification model: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"path":       cfg.ModelPath,
		"classes":    model.Labels(),
		"image_size": model.ImageSize(),
	}).Info("Classification model loaded")

	// A broken index degrades runs to classification-only instead of
	// blocking startup.
	index, err := knowledge.Open(cfg.IndexDir, cfg.CorpusDir)
	if err != nil {
		logger.WithError(err).Warn("Knowledge index unavailable, recommendations disabled")
		index = nil
	}

	fetcher := &storage.Resolver{
		HTTP: storage.NewHTTPFetcher(cfg.MaxImageBytes, cfg.ImageFetchTimeout),
	}
	if cfg.AzureAccountName != "" && cfg.AzureAccountKey != "" {
		blob, err := storage.NewBlobFetcher(cfg.AzureAccountName, cfg.AzureAccountKey, cfg.MaxImageBytes)
		if err != nil {
			model.Close()
			sessions.Close()
			return nil, err
		}
		fetcher.Blob = blob
	}

	generator := advisor.NewClient(cfg.GeneratorURL, cfg.GeneratorModel, cfg.GenerateTimeout)

	params := pipeline.Params{
		Fetcher:    fetcher,
		Classifier: model,
		Generator:  generator,
		Results:    sessions,
		ImageSize:  model.ImageSize(),
		RetrievalK: cfg.RetrievalK,
	}
	if index != nil {
		params.Retriever = index
	}
	runner := pipeline.New(params)

	return &Container{
		cfg:      cfg,
		sessions: sessions,
		model:    model,
		index:    index,
		handler:  transport.NewHandler(sessions, runner, cfg),
	}, nil
}

// Handler returns the HTTP handler.
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration.
func (c *Container) Config() *config.Config {
	return c.cfg
}

// Close releases the model, the index reader, and the store.
func (c *Container) Close() {
	if c.index != nil {
		_ = c.index.Close()
	}
	c.model.Close()
	_ = c.sessions.Close()
}
