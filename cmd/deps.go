package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/mangalib-parser/internal/clock/system"
	"github.com/JakeFAU/mangalib-parser/internal/config"
	"github.com/JakeFAU/mangalib-parser/internal/id/uuid"
	"github.com/JakeFAU/mangalib-parser/internal/logging"
	"github.com/JakeFAU/mangalib-parser/internal/manga"
	"github.com/JakeFAU/mangalib-parser/internal/mangalib"
	"github.com/JakeFAU/mangalib-parser/internal/policy/retry"
	"github.com/JakeFAU/mangalib-parser/internal/publisher/callback"
	memorypublisher "github.com/JakeFAU/mangalib-parser/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/mangalib-parser/internal/publisher/pubsub"
	"github.com/JakeFAU/mangalib-parser/internal/storage/gcs"
	"github.com/JakeFAU/mangalib-parser/internal/storage/local"
	memorystorage "github.com/JakeFAU/mangalib-parser/internal/storage/memory"
	"github.com/JakeFAU/mangalib-parser/internal/storage/postgres"
	"github.com/JakeFAU/mangalib-parser/internal/worker"
)

// deps holds the loaded config, the logger and everything that needs
// closing when a command returns.
type deps struct {
	cfg     config.Config
	logger  *zap.Logger
	closers []func()
}

// overrides copies explicitly set flags over the loaded config.
type overrides func(cmd *cobra.Command, cfg *config.Config)

func loadDeps(cmd *cobra.Command, cfgFile string, apply overrides) (*deps, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if apply != nil {
		apply(cmd, &cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validate config: %w", err)
		}
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return &deps{cfg: cfg, logger: logger}, nil
}

func (r *deps) onClose(fn func()) {
	r.closers = append(r.closers, fn)
}

// Close runs closers in reverse order and flushes the logger.
func (r *deps) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	if err := r.logger.Sync(); err != nil && !isIgnorableSyncErr(err) {
		fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", err)
	}
}

// isIgnorableSyncErr filters the EINVAL zap returns when syncing a terminal.
func isIgnorableSyncErr(err error) bool {
	var pathErr *os.PathError
	return errors.As(err, &pathErr)
}

// orchestrator wires the job pipeline shared by serve and consume.
func (r *deps) orchestrator(ctx context.Context) (*worker.Orchestrator, error) {
	browser := mangalib.NewBrowser(mangalib.BrowserConfig{
		UserAgent:         r.cfg.Chrome.UserAgent,
		AcceptLanguage:    r.cfg.Chrome.AcceptLanguage,
		Platform:          r.cfg.Chrome.Platform,
		NavigationTimeout: r.cfg.NavTimeout(),
		NoSandbox:         r.cfg.Chrome.NoSandbox,
	})
	r.onClose(browser.Close)
	source := mangalib.New(browser, mangalib.Config{
		BaseURL:           r.cfg.Mangalib.BaseURL,
		ImageServerPrefix: r.cfg.Mangalib.ImageServerPrefix,
	}, r.logger.Named("mangalib"))

	events, topic, err := r.events(ctx)
	if err != nil {
		return nil, err
	}
	audit, err := r.audit(ctx)
	if err != nil {
		return nil, err
	}

	return worker.NewOrchestrator(
		source,
		callback.New(callback.Config{Timeout: r.cfg.CallbackTimeout()}),
		events,
		audit,
		system.New(),
		uuid.New(),
		worker.Config{
			Retry: retry.Policy{MaxAttempts: uint(r.cfg.Retry.MaxAttempts), Delay: r.cfg.RetryDelay()},
			Topic: topic,
		},
		r.logger.Named("orchestrator"),
	), nil
}

// defaultEventTopic labels events kept in memory when no topic is configured.
const defaultEventTopic = "mangalib-jobs"

func (r *deps) events(ctx context.Context) (manga.EventPublisher, string, error) {
	switch r.cfg.Events.Provider {
	case "pubsub":
	case "memory":
		topic := r.cfg.Events.TopicID
		if topic == "" {
			topic = defaultEventTopic
		}
		return memorypublisher.New(), topic, nil
	default:
		return nil, "", nil
	}
	pub, err := pubsubpublisher.Dial(ctx, r.cfg.Events.ProjectID, r.cfg.Events.TopicID)
	if err != nil {
		return nil, "", fmt.Errorf("init job events: %w", err)
	}
	r.onClose(func() {
		if err := pub.Close(); err != nil {
			r.logger.Warn("close pubsub publisher failed", zap.Error(err))
		}
	})
	return pub, r.cfg.Events.TopicID, nil
}

func (r *deps) audit(ctx context.Context) (manga.JobStore, error) {
	switch r.cfg.Audit.Provider {
	case "postgres":
		store, err := postgres.NewJobStore(ctx, postgres.JobStoreConfig{
			DSN:   r.cfg.Audit.DSN,
			Table: r.cfg.Audit.Table,
		})
		if err != nil {
			return nil, fmt.Errorf("init job audit: %w", err)
		}
		r.onClose(store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("init job audit: %w", err)
		}
		return store, nil
	case "memory":
		return memorystorage.NewJobStore(), nil
	default:
		return nil, nil
	}
}

func (r *deps) blobStore(ctx context.Context) (manga.BlobStore, error) {
	switch r.cfg.Storage.Provider {
	case "gcs":
		store, err := gcs.Dial(ctx, gcs.Config{Bucket: r.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
		r.onClose(func() {
			if err := store.Close(); err != nil {
				r.logger.Warn("close gcs client failed", zap.Error(err))
			}
		})
		return store, nil
	default:
		store, err := local.New(local.Config{BaseDir: r.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		return store, nil
	}
}
