package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/ingest"
	"github.com/kozaktomas/face-attendance/internal/logger"
	"github.com/kozaktomas/face-attendance/internal/notify"
	"github.com/kozaktomas/face-attendance/internal/vision"

	// Storage backends register themselves with database.Open.
	_ "github.com/kozaktomas/face-attendance/internal/database/mariadb"
	_ "github.com/kozaktomas/face-attendance/internal/database/postgres"
	_ "github.com/kozaktomas/face-attendance/internal/database/sqlite"
)

// services is the wired engine shared by the commands.
type services struct {
	cfg       *config.Config
	log       *logger.Logger
	store     database.Store
	index     *facematch.EmbeddingIndex
	matcher   *facematch.Matcher
	pipeline  *ingest.Pipeline
	enroller  *ingest.Enroller
	publisher notify.Publisher
	registry  *prometheus.Registry
}

// openStore connects to the configured backend and applies migrations.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (database.Store, error) {
	log.WithField("driver", cfg.Database.Driver).Info("opening database")
	store, err := database.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

// loadIndex fills the index from the store. A configured snapshot is read
// first and rewritten after the rebuild; the store always wins.
func loadIndex(ctx context.Context, index *facematch.EmbeddingIndex, snapshotPath string, log *logger.Logger) error {
	stats, snapErr, err := index.WarmStart(ctx, snapshotPath)
	if snapErr != nil {
		log.WithError(snapErr).WithField("path", snapshotPath).Warn("index snapshot unusable")
	}
	if err != nil {
		return err
	}
	log.WithFields(logger.Fields{
		"from_snapshot":        stats.FromSnapshot,
		"loaded":               stats.Loaded,
		"skipped":              stats.Skipped,
		"snapshot_saved":       stats.SnapshotSaved,
		logger.FieldDurationMs: stats.Duration.Milliseconds(),
	}).Info("embedding index built")
	return nil
}

// newServices opens the store, loads the index and wires the pipeline and
// enroller. withPublisher connects to NATS when it is configured.
func newServices(ctx context.Context, cfg *config.Config, log *logger.Logger, withPublisher bool) (*services, error) {
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	svc := &services{
		cfg:       cfg,
		log:       log,
		store:     store,
		publisher: notify.NoopPublisher{},
		registry:  prometheus.NewRegistry(),
	}

	svc.index = facematch.NewEmbeddingIndex(store, cfg.Embedding.Dim)
	if err := loadIndex(ctx, svc.index, cfg.Matching.IndexSnapshotPath, log); err != nil {
		store.Close()
		return nil, err
	}

	svc.matcher, err = facematch.NewMatcher(svc.index, cfg.Matching.Threshold)
	if err != nil {
		store.Close()
		return nil, err
	}

	if withPublisher {
		svc.publisher, err = notify.New(&cfg.Notify)
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	svc.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := ingest.NewMetrics(svc.registry)
	detector := vision.NewClient(cfg.Embedding.URL)

	reconciler := attendance.NewReconciler(store, attendance.WithDirectory(store))
	svc.pipeline = ingest.NewPipeline(detector, svc.matcher, reconciler, store,
		ingest.WithPublisher(svc.publisher),
		ingest.WithMetrics(metrics),
		ingest.WithDetectionTimeout(cfg.Matching.DetectionTimeout),
		ingest.WithMaxEdge(cfg.Matching.MaxEdge),
	)
	svc.enroller = ingest.NewEnroller(store, store, detector, svc.index,
		ingest.WithEnrollMetrics(metrics),
		ingest.WithEnrollMaxEdge(cfg.Matching.MaxEdge),
	)
	return svc, nil
}

// Close releases the publisher and the store.
func (s *services) Close() {
	if err := s.publisher.Close(); err != nil {
		s.log.WithError(err).Warn("failed to close publisher")
	}
	if err := s.store.Close(); err != nil {
		s.log.WithError(err).Warn("failed to close database")
	}
}
