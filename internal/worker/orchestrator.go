// Package worker runs scraping jobs: chapter discovery, resume filtering,
// bounded concurrent image lookups and callback delivery.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/mangalib-parser/internal/manga"
	"github.com/JakeFAU/mangalib-parser/internal/metrics"
	"github.com/JakeFAU/mangalib-parser/internal/policy/gate"
	"github.com/JakeFAU/mangalib-parser/internal/policy/retry"
)

// Config controls Orchestrator behavior.
type Config struct {
	// Retry is applied to every chapter image lookup.
	Retry retry.Policy
	// Topic receives job outcome events when an EventPublisher is set.
	Topic string
	// BookkeepingTimeout bounds the audit write and the outcome event.
	BookkeepingTimeout time.Duration
}

const defaultBookkeepingTimeout = 10 * time.Second

// Orchestrator turns one JobRequest into one published JobResult.
type Orchestrator struct {
	source    manga.ChapterSource
	publisher manga.Publisher
	events    manga.EventPublisher
	jobStore  manga.JobStore
	clock     manga.Clock
	idGen     manga.IDGenerator
	cfg       Config
	logger    *zap.Logger
}

// NewOrchestrator constructs an Orchestrator. events, jobStore, clock and
// idGen are optional.
func NewOrchestrator(
	source manga.ChapterSource,
	publisher manga.Publisher,
	events manga.EventPublisher,
	jobStore manga.JobStore,
	clock manga.Clock,
	idGen manga.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Default()
	}
	if cfg.BookkeepingTimeout <= 0 {
		cfg.BookkeepingTimeout = defaultBookkeepingTimeout
	}
	return &Orchestrator{
		source:    source,
		publisher: publisher,
		events:    events,
		jobStore:  jobStore,
		clock:     clock,
		idGen:     idGen,
		cfg:       cfg,
		logger:    logger,
	}
}

// Process scrapes every chapter after the request's resume cursor with at
// most concurrencyLimit lookups in flight, then sends the result to the
// callback URL. A nil return means scraping succeeded; callback delivery
// failures are logged and never returned.
func (o *Orchestrator) Process(ctx context.Context, concurrencyLimit int, req manga.JobRequest) error {
	jobID := o.newJobID()
	logger := o.logger.With(zap.String("job_id", jobID), zap.String("slug", req.Slug))
	started := o.now()

	logger.Info("job started", zap.Int("concurrency", concurrencyLimit))
	result, err := o.scrape(ctx, logger, concurrencyLimit, req)
	if err == nil {
		o.publish(ctx, logger, req.CallbackURL, result)
	}
	o.finish(ctx, logger, jobID, req.Slug, started, len(result.Chapters), err)
	return err
}

func (o *Orchestrator) scrape(
	ctx context.Context,
	logger *zap.Logger,
	concurrencyLimit int,
	req manga.JobRequest,
) (manga.JobResult, error) {
	all, err := o.source.Chapters(ctx, req.Slug)
	if err != nil {
		return manga.JobResult{}, &manga.JobError{
			Kind: manga.KindUpstream,
			Slug: req.Slug,
			Err:  fmt.Errorf("get chapters: %w", err),
		}
	}

	cursor := req.Cursor()
	pending, found := manga.FilterChapters(all, cursor)
	if !found {
		return manga.JobResult{}, &manga.JobError{
			Kind:    manga.KindResumePointNotFound,
			Slug:    req.Slug,
			Chapter: &manga.Chapter{Volume: cursor.Volume, Number: cursor.Chapter},
			Err:     fmt.Errorf("resume cursor not among %d chapters", len(all)),
		}
	}
	logger.Info("chapters resolved", zap.Int("total", len(all)), zap.Int("pending", len(pending)))

	slots, err := o.fetchAll(ctx, logger, concurrencyLimit, req.Slug, pending)
	if err != nil {
		return manga.JobResult{}, err
	}
	return assemble(req.Slug, pending, slots)
}

// fetchAll looks up images for every chapter. The first failure cancels the
// shared context so running siblings abort and waiting ones never start; the
// partially filled slots are discarded with the job.
func (o *Orchestrator) fetchAll(
	ctx context.Context,
	logger *zap.Logger,
	concurrencyLimit int,
	slug string,
	chapters []manga.Chapter,
) ([][]string, error) {
	permits := gate.New(concurrencyLimit)
	slots := make([][]string, len(chapters))
	total := len(chapters)

	group, groupCtx := errgroup.WithContext(ctx)
	for i, ch := range chapters {
		group.Go(func() error {
			return permits.Do(groupCtx, func(ctx context.Context) error {
				images, err := o.fetchChapter(ctx, logger, slug, ch, i+1, total)
				if err != nil {
					return err
				}
				slots[i] = images
				return nil
			})
		})
	}

	if err := group.Wait(); err != nil {
		var jobErr *manga.JobError
		if errors.As(err, &jobErr) {
			return nil, err
		}
		return nil, &manga.JobError{Kind: manga.KindUpstream, Slug: slug, Err: err}
	}
	return slots, nil
}

func (o *Orchestrator) fetchChapter(
	ctx context.Context,
	logger *zap.Logger,
	slug string,
	chapter manga.Chapter,
	index, total int,
) ([]string, error) {
	metrics.IncChapterFetchesInFlight()
	defer metrics.DecChapterFetchesInFlight()

	start := time.Now()
	images, attempts, err := retry.Do(ctx, o.cfg.Retry, func(ctx context.Context) ([]string, error) {
		images, err := o.source.ChapterImages(ctx, slug, chapter, index, total)
		if err != nil {
			logger.Debug("chapter lookup attempt failed",
				zap.String("chapter", chapter.Number),
				zap.String("volume", chapter.Volume),
				zap.Error(err),
			)
		}
		return images, err
	})
	if err != nil {
		metrics.ObserveChapterFetch("failed", attempts, time.Since(start))
		logger.Warn("chapter lookup failed",
			zap.String("chapter", chapter.Number),
			zap.String("volume", chapter.Volume),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return nil, &manga.JobError{
			Kind:     manga.KindUpstream,
			Slug:     slug,
			Chapter:  &chapter,
			Attempts: attempts,
			Err:      err,
		}
	}
	metrics.ObserveChapterFetch("succeeded", attempts, time.Since(start))
	logger.Debug("chapter images resolved",
		zap.String("chapter", chapter.Number),
		zap.String("volume", chapter.Volume),
		zap.Int("index", index),
		zap.Int("total", total),
		zap.Int("images", len(images)),
	)
	if images == nil {
		// nil marks an unfilled slot during assembly.
		images = []string{}
	}
	return images, nil
}

// assemble walks chapters in canonical order and pairs each with its slot.
func assemble(slug string, chapters []manga.Chapter, slots [][]string) (manga.JobResult, error) {
	result := manga.JobResult{
		Slug:     slug,
		Chapters: make([]manga.PublishedChapter, 0, len(chapters)),
	}
	for i, ch := range chapters {
		if i >= len(slots) || slots[i] == nil {
			return manga.JobResult{}, &manga.JobError{
				Kind:    manga.KindInternal,
				Slug:    slug,
				Chapter: &ch,
				Err:     errors.New("chapter images missing after successful fetch"),
			}
		}
		result.Chapters = append(result.Chapters, manga.PublishedChapter{
			Chapter:    ch.Number,
			Volume:     ch.Volume,
			ImagesURLs: slots[i],
		})
	}
	return result, nil
}

func (o *Orchestrator) publish(ctx context.Context, logger *zap.Logger, callbackURL string, result manga.JobResult) {
	logger = logger.With(zap.String("callback_url", callbackURL))
	if o.publisher == nil {
		logger.Warn("no publisher configured; result dropped")
		return
	}
	logger.Info("sending manga", zap.Int("chapters", len(result.Chapters)))
	if err := o.publisher.Send(ctx, callbackURL, result); err != nil {
		metrics.ObserveCallback("failed")
		logger.Error("error while sending manga", zap.Error(err))
		return
	}
	metrics.ObserveCallback("succeeded")
	logger.Info("successfully sent manga")
}

func (o *Orchestrator) finish(
	ctx context.Context,
	logger *zap.Logger,
	jobID string,
	slug string,
	started time.Time,
	chapters int,
	jobErr error,
) {
	status := manga.JobStatusSucceeded
	errText := ""
	switch {
	case jobErr == nil:
	case ctx.Err() != nil:
		status = manga.JobStatusCanceled
		errText = jobErr.Error()
	default:
		status = manga.JobStatusFailed
		errText = jobErr.Error()
	}
	metrics.ObserveJob(string(status))

	if jobErr != nil {
		logger.Error("job failed",
			zap.String("status", string(status)),
			zap.String("kind", string(manga.KindOf(jobErr))),
			zap.Error(jobErr),
		)
	} else {
		logger.Info("job finished", zap.Int("chapters", chapters))
	}

	record := manga.JobRecord{
		JobID:      jobID,
		Slug:       slug,
		Status:     status,
		Chapters:   chapters,
		ErrorText:  errText,
		StartedAt:  started,
		FinishedAt: o.now(),
	}
	// Bookkeeping survives job cancellation but has its own deadline.
	bookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.BookkeepingTimeout)
	defer cancel()
	if o.jobStore != nil {
		if err := o.jobStore.RecordJob(bookCtx, record); err != nil {
			logger.Warn("record job failed", zap.Error(err))
		}
	}
	o.publishEvent(bookCtx, logger, record)
}

func (o *Orchestrator) publishEvent(ctx context.Context, logger *zap.Logger, record manga.JobRecord) {
	if o.cfg.Topic == "" || o.events == nil {
		return
	}
	payload := map[string]any{
		"job_id":      record.JobID,
		"slug":        record.Slug,
		"status":      string(record.Status),
		"chapters":    record.Chapters,
		"error":       record.ErrorText,
		"finished_at": record.FinishedAt.Format(time.RFC3339),
	}
	id, err := o.events.Publish(ctx, o.cfg.Topic, payload)
	if err != nil {
		logger.Warn("publish job event failed", zap.Error(err))
		return
	}
	logger.Debug("job event published", zap.String("message_id", id))
}

func (o *Orchestrator) newJobID() string {
	if o.idGen == nil {
		return ""
	}
	id, err := o.idGen.NewID()
	if err != nil {
		o.logger.Warn("generate job id failed", zap.Error(err))
		return ""
	}
	return id
}

func (o *Orchestrator) now() time.Time {
	if o.clock == nil {
		return time.Now().UTC()
	}
	return o.clock.Now()
}
