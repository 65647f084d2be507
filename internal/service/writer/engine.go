// Package writer generates validated long-form articles block by block,
// riding on key rotation, rate limiting and circuit breaking.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/hivewriter/content-motor/internal/domain"
	"github.com/hivewriter/content-motor/internal/observability"
	"github.com/hivewriter/content-motor/internal/service/breaker"
	"github.com/hivewriter/content-motor/internal/service/keyring"
	"github.com/hivewriter/content-motor/internal/service/ratelimiter"
)

const baseTemperature = 0.7

// Provider pairs a configured provider with its outbound client.
type Provider struct {
	Spec domain.Provider
	Gen  domain.TextGenerator
}

// Options tunes the engine.
type Options struct {
	BlockWordCount          int
	MinArticleLength        int
	MaxBlockRetries         int
	MaxArticleRegenerations int
}

// Engine orchestrates block generation across a rotating provider pool.
type Engine struct {
	providers []Provider
	rotator   *keyring.Rotator
	limiter   *ratelimiter.Limiter
	breaker   *breaker.Breaker
	opts      Options

	mu   sync.Mutex
	next int
}

// New builds an Engine. The provider order is shuffled once here; after
// that every call advances a plain round-robin cursor.
func New(providers []Provider, rot *keyring.Rotator, lim *ratelimiter.Limiter, brk *breaker.Breaker, opts Options) (*Engine, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("op=writer.New: %w", domain.ErrNoCredentials)
	}
	if opts.BlockWordCount <= 0 {
		opts.BlockWordCount = 200
	}
	if opts.MinArticleLength <= 0 {
		opts.MinArticleLength = 800
	}
	if opts.MaxBlockRetries <= 0 {
		opts.MaxBlockRetries = 5
	}
	if opts.MaxArticleRegenerations <= 0 {
		opts.MaxArticleRegenerations = 3
	}
	shuffled := make([]Provider, len(providers))
	copy(shuffled, providers)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return &Engine{
		providers: shuffled,
		rotator:   rot,
		limiter:   lim,
		breaker:   brk,
		opts:      opts,
	}, nil
}

func (e *Engine) nextProvider() Provider {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.providers[e.next%len(e.providers)]
	e.next++
	return p
}

// callProvider runs one guarded generation call: wait for a rate permit,
// take a credential, invoke the provider under its breaker, and feed the
// outcome back to the keyring.
func (e *Engine) callProvider(ctx context.Context, p Provider, prompt string, temperature float64) (string, error) {
	if err := e.limiter.AwaitPermit(ctx, p.Spec.Name); err != nil {
		return "", err
	}
	cred, err := e.rotator.Acquire(ctx, p.Spec.Name)
	if err != nil {
		return "", err
	}
	maxTokens := e.opts.BlockWordCount * 3 / 2

	text, err := e.breaker.Do(ctx, p.Spec.Name+".generate", func(ctx context.Context) (string, error) {
		e.limiter.Record(ctx, p.Spec.Name)
		return p.Gen.GenerateText(ctx, cred.Secret, prompt, maxTokens, temperature)
	})
	if err != nil {
		// A rejected call never reached the upstream; the credential is
		// not to blame.
		if !errors.Is(err, domain.ErrCircuitOpen) {
			e.rotator.ReleaseFailure(ctx, cred, err)
		}
		return "", err
	}
	e.rotator.ReleaseSuccess(ctx, cred)
	return text, nil
}

// GenerateBlock produces one validated content block for the role. It
// retries with escalating prompt variants and rising temperature, rotates
// providers per attempt, and falls back to the salvage pass once ordinary
// retries are exhausted. All upstream failures are absorbed; the only
// error surfaced is domain.ErrGenerationExhausted.
func (e *Engine) GenerateBlock(ctx context.Context, role domain.BlockRole, topic string) (string, error) {
	tracer := otel.Tracer("writer")
	ctx, span := tracer.Start(ctx, "writer.GenerateBlock")
	defer span.End()

	original := blockPrompt(role, topic)

	for attempt := 0; attempt < e.opts.MaxBlockRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		prompt := original
		if attempt > 0 {
			prompt = alternativePrompt(original, attempt)
			slog.Info("using alternative prompt for block",
				slog.String("block", string(role)), slog.Int("attempt", attempt+1))
		}

		p := e.nextProvider()
		slog.Info("attempting to generate block",
			slog.String("block", string(role)),
			slog.String("provider", p.Spec.Name),
			slog.Int("attempt", attempt+1))

		text, err := e.callProvider(ctx, p, prompt, baseTemperature+0.1*float64(attempt))
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			observability.GenerationAttemptsTotal.WithLabelValues(p.Spec.Name, string(role), "error").Inc()
			slog.Warn("provider call failed for block",
				slog.String("block", string(role)),
				slog.String("provider", p.Spec.Name),
				slog.Any("error", err))
			continue
		}
		if strings.TrimSpace(text) == "" {
			observability.GenerationAttemptsTotal.WithLabelValues(p.Spec.Name, string(role), "empty").Inc()
			slog.Warn("provider returned empty block; retrying",
				slog.String("block", string(role)), slog.String("provider", p.Spec.Name))
			continue
		}
		if IsRobotic(text) {
			observability.GenerationAttemptsTotal.WithLabelValues(p.Spec.Name, string(role), "robotic").Inc()
			slog.Warn("generated block seems robotic; regenerating",
				slog.String("block", string(role)), slog.String("provider", p.Spec.Name))
			continue
		}
		observability.GenerationAttemptsTotal.WithLabelValues(p.Spec.Name, string(role), "ok").Inc()
		return text, nil
	}

	slog.Error("failed to generate block after all attempts",
		slog.String("block", string(role)), slog.Int("attempts", e.opts.MaxBlockRetries))
	return e.salvageBlock(ctx, role, topic)
}

// salvageBlock is the last-resort pass: one generic prompt to every
// provider in turn, quality gate bypassed, first non-empty result wins.
func (e *Engine) salvageBlock(ctx context.Context, role domain.BlockRole, topic string) (string, error) {
	slog.Warn("activating salvage pass for block", slog.String("block", string(role)))
	prompt := salvagePrompt(topic, role, e.opts.BlockWordCount)

	for range e.providers {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := e.nextProvider()
		text, err := e.callProvider(ctx, p, prompt, baseTemperature)
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}
		observability.BlocksSalvagedTotal.WithLabelValues(p.Spec.Name, string(role)).Inc()
		slog.Info("salvage successful for block",
			slog.String("block", string(role)), slog.String("provider", p.Spec.Name))
		return text, nil
	}

	slog.Error("salvage pass failed for block", slog.String("block", string(role)))
	return "", fmt.Errorf("op=writer.GenerateBlock block=%s: %w", role, domain.ErrGenerationExhausted)
}

// GenerateArticle generates all four blocks in order, assembles and
// validates the document, and restarts the whole sequence on validation
// failure up to MaxArticleRegenerations times. Partial block-level
// regeneration is deliberately not attempted at this level: stitching
// blocks from independent runs mixes tones.
func (e *Engine) GenerateArticle(ctx context.Context, topic, sourceURL, sourceType string) (domain.Article, error) {
	tracer := otel.Tracer("writer")
	ctx, span := tracer.Start(ctx, "writer.GenerateArticle")
	defer span.End()

	for run := 0; run < e.opts.MaxArticleRegenerations; run++ {
		if err := ctx.Err(); err != nil {
			return domain.Article{}, err
		}
		slog.Info("starting article generation",
			slog.String("topic", topic), slog.Int("run", run+1))

		blocks := make([]string, 0, len(domain.BlockOrder))
		for _, role := range domain.BlockOrder {
			text, err := e.GenerateBlock(ctx, role, topic)
			if err != nil {
				if ctx.Err() != nil {
					return domain.Article{}, ctx.Err()
				}
				slog.Error("aborting article: block failed outright",
					slog.String("block", string(role)), slog.String("topic", topic))
				observability.ArticlesGeneratedTotal.WithLabelValues("exhausted").Inc()
				return domain.Article{}, err
			}
			blocks = append(blocks, text)
		}

		content := strings.Join(blocks, "\n\n")
		words := domain.WordCount(content)
		if words < e.opts.MinArticleLength {
			slog.Warn("assembled article too short; regenerating",
				slog.Int("words", words), slog.Int("min", e.opts.MinArticleLength))
			continue
		}
		if IsRobotic(content) {
			slog.Warn("assembled article seems robotic; regenerating",
				slog.String("topic", topic))
			continue
		}

		observability.ArticlesGeneratedTotal.WithLabelValues("ok").Inc()
		return domain.Article{
			Title:       topic,
			Slug:        domain.Slugify(topic),
			Content:     content,
			Excerpt:     excerpt(content),
			SourceURL:   sourceURL,
			SourceType:  sourceType,
			Status:      domain.ArticleDraft,
			WordCount:   words,
			ReadingTime: domain.ReadingTime(words),
			CreatedAt:   time.Now().UTC(),
		}, nil
	}

	observability.ArticlesGeneratedTotal.WithLabelValues("invalid").Inc()
	return domain.Article{}, fmt.Errorf("op=writer.GenerateArticle topic=%s runs=%d: %w",
		topic, e.opts.MaxArticleRegenerations, domain.ErrArticleInvalid)
}

func excerpt(content string) string {
	runes := []rune(content)
	if len(runes) <= 150 {
		return content
	}
	return string(runes[:150]) + "..."
}
