// Package app wires topic discovery, article generation, and publishing
// into the scheduled content pipeline.
package app

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/hivewriter/content-motor/internal/domain"
	"github.com/hivewriter/content-motor/internal/observability"
	"github.com/hivewriter/content-motor/internal/service/writer"
)

const (
	minPublishDelay = time.Hour
	maxPublishDelay = 6 * time.Hour
)

// Options bounds one pipeline run.
type Options struct {
	SearchTerms  []string
	MaxTopicsPer int
}

// Pipeline runs the scrape, write, and publish stages.
type Pipeline struct {
	topics domain.TopicSource
	engine *writer.Engine
	repo   domain.ArticleRepository
	opts   Options

	// overridable in tests
	now          func() time.Time
	publishDelay func() time.Duration
}

// NewPipeline constructs the pipeline over its three stages.
func NewPipeline(topics domain.TopicSource, engine *writer.Engine, repo domain.ArticleRepository, opts Options) *Pipeline {
	if opts.MaxTopicsPer <= 0 {
		opts.MaxTopicsPer = 3
	}
	return &Pipeline{
		topics: topics,
		engine: engine,
		repo:   repo,
		opts:   opts,
		now:    time.Now,
		publishDelay: func() time.Duration {
			spread := maxPublishDelay - minPublishDelay
			return minPublishDelay + time.Duration(rand.Int64N(int64(spread)))
		},
	}
}

// Run executes one full pipeline pass: discover topics, generate an
// article per topic, and store each draft with a randomized publish
// delay. A failing topic never aborts the run; the pass fails only when
// discovery itself fails.
func (p *Pipeline) Run(ctx context.Context) error {
	tracer := otel.Tracer("pipeline")
	ctx, span := tracer.Start(ctx, "pipeline.Run")
	defer span.End()

	topics, err := p.topics.TrendingTopics(ctx, p.opts.SearchTerms)
	if err != nil {
		observability.PipelineRunsTotal.WithLabelValues("error").Inc()
		slog.Error("topic discovery failed", slog.Any("error", err))
		return err
	}
	if len(topics) == 0 {
		observability.PipelineRunsTotal.WithLabelValues("empty").Inc()
		slog.Info("no matching topics found; nothing to generate")
		return nil
	}
	if len(topics) > p.opts.MaxTopicsPer {
		topics = topics[:p.opts.MaxTopicsPer]
	}

	saved := 0
	for _, topic := range topics {
		if err := ctx.Err(); err != nil {
			observability.PipelineRunsTotal.WithLabelValues("error").Inc()
			return err
		}
		art, err := p.engine.GenerateArticle(ctx, topic.Title, topic.URL, topic.SourceType)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				observability.PipelineRunsTotal.WithLabelValues("error").Inc()
				return err
			}
			slog.Warn("skipping topic after generation failure",
				slog.String("topic", topic.Title), slog.Any("error", err))
			continue
		}

		art.PublishAfter = p.now().UTC().Add(p.publishDelay())
		id, err := p.repo.Save(ctx, art)
		if err != nil {
			slog.Error("failed to save article",
				slog.String("topic", topic.Title), slog.Any("error", err))
			continue
		}
		saved++
		slog.Info("article drafted and scheduled",
			slog.String("id", id),
			slog.String("slug", art.Slug),
			slog.Int("word_count", art.WordCount),
			slog.Time("publish_after", art.PublishAfter))
	}

	observability.PipelineRunsTotal.WithLabelValues("ok").Inc()
	slog.Info("pipeline run finished",
		slog.Int("topics", len(topics)), slog.Int("saved", saved))
	return nil
}

// PublishDue flips every draft whose publish delay has elapsed to
// published and returns how many were flipped.
func (p *Pipeline) PublishDue(ctx context.Context) (int, error) {
	tracer := otel.Tracer("pipeline")
	ctx, span := tracer.Start(ctx, "pipeline.PublishDue")
	defer span.End()

	due, err := p.repo.ListDue(ctx, p.now().UTC())
	if err != nil {
		return 0, err
	}
	published := 0
	for _, art := range due {
		if err := p.repo.UpdateStatus(ctx, art.ID, domain.ArticlePublished); err != nil {
			slog.Error("failed to publish article",
				slog.String("id", art.ID), slog.Any("error", err))
			continue
		}
		published++
		slog.Info("article published",
			slog.String("id", art.ID), slog.String("slug", art.Slug))
	}
	return published, nil
}
