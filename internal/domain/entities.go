// Package domain defines the core entities, error taxonomy and ports of the
// content motor. No package here may import an adapter.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Error taxonomy (sentinels)
var (
	// ErrNoCredentials means a provider was configured with zero API keys.
	// Fatal at construction time, never recoverable at runtime.
	ErrNoCredentials = errors.New("no credentials configured")
	// ErrCredentialExhausted means every credential of a provider is
	// currently quarantined. Recoverable by caller backoff.
	ErrCredentialExhausted = errors.New("all credentials quarantined")
	// ErrRateLimited means a provider window ceiling has been reached.
	ErrRateLimited = errors.New("rate limited")
	// ErrCircuitOpen is the breaker short-circuit signal. It is distinct
	// from any failure of the guarded call: the call was never made.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrProviderCallFailed wraps an upstream generation failure after it
	// has been recorded against the breaker and the credential.
	ErrProviderCallFailed = errors.New("provider call failed")
	// ErrGenerationExhausted means all block retries plus the salvage pass
	// produced nothing.
	ErrGenerationExhausted = errors.New("generation exhausted")
	// ErrArticleInvalid means the assembled article failed validation more
	// times than the regeneration cap allows.
	ErrArticleInvalid = errors.New("article invalid")
)

// BlockRole enumerates the fixed article sections, in assembly order.
type BlockRole string

const (
	BlockIntro       BlockRole = "introduccion"
	BlockExplanation BlockRole = "explicacion"
	BlockAnalysis    BlockRole = "analisis"
	BlockConclusion  BlockRole = "conclusion"
)

// BlockOrder is the fixed generation and assembly order of an article.
var BlockOrder = []BlockRole{BlockIntro, BlockExplanation, BlockAnalysis, BlockConclusion}

// Credential is one API key of a provider. Position is stable within the
// provider's configured key list and is what the quarantine store keys on,
// so the secret itself never appears in a store key.
type Credential struct {
	Provider string
	Position int
	Secret   string
}

// Provider is an external text-generation upstream. Identity is immutable
// after startup; credential health lives in the keyring store.
type Provider struct {
	Name        string
	Model       string
	Endpoint    string
	Credentials []Credential
}

// ContentBlock is one generated article section.
type ContentBlock struct {
	Role BlockRole
	Text string
}

// Article is an assembled, validated document. Immutable once built.
type Article struct {
	ID           string
	Title        string
	Slug         string
	Content      string
	Excerpt      string
	SourceURL    string
	SourceType   string
	Status       string
	WordCount    int
	ReadingTime  int
	PublishAfter time.Time
	CreatedAt    time.Time
}

// Article statuses.
const (
	ArticleDraft     = "draft"
	ArticlePublished = "published"
)

// Topic is a scraped headline used as generation input.
type Topic struct {
	Title      string
	URL        string
	SourceType string
}

// WordCount counts whitespace-separated words, the measure used both by
// article validation and by the stored word_count column.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// ReadingTime estimates minutes at 200 words per minute, minimum 1.
func ReadingTime(words int) int {
	if words < 200 {
		return 1
	}
	return words / 200
}

// Slugify derives a URL slug from a title.
func Slugify(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))
	var b strings.Builder
	lastHyphen := false
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case r == ' ', r == '-', r == '_', r == '\t':
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// Ports

// TextGenerator is the outbound provider-call abstraction. The credential
// is passed per call; rotation and quarantine stay outside the adapter.
type TextGenerator interface {
	GenerateText(ctx context.Context, apiKey, prompt string, maxTokens int, temperature float64) (string, error)
}

// ArticleRepository persists generated articles.
type ArticleRepository interface {
	Save(ctx context.Context, a Article) (string, error)
	UpdateStatus(ctx context.Context, id, status string) error
	ListDue(ctx context.Context, now time.Time) ([]Article, error)
}

// TopicSource yields candidate topics for the pipeline.
type TopicSource interface {
	TrendingTopics(ctx context.Context, searchTerms []string) ([]Topic, error)
}
