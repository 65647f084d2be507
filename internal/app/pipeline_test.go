package app

import (
	"context"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivewriter/content-motor/internal/domain"
	"github.com/hivewriter/content-motor/internal/service/breaker"
	"github.com/hivewriter/content-motor/internal/service/keyring"
	"github.com/hivewriter/content-motor/internal/service/ratelimiter"
	"github.com/hivewriter/content-motor/internal/service/writer"
)

type stubTopics struct {
	topics []domain.Topic
	err    error
}

func (s *stubTopics) TrendingTopics(context.Context, []string) ([]domain.Topic, error) {
	return s.topics, s.err
}

type memRepo struct {
	saved    []domain.Article
	statuses map[string]string
	saveErr  error
}

func (m *memRepo) Save(_ context.Context, a domain.Article) (string, error) {
	if m.saveErr != nil {
		return "", m.saveErr
	}
	if a.ID == "" {
		a.ID = a.Slug
	}
	m.saved = append(m.saved, a)
	return a.ID, nil
}

func (m *memRepo) UpdateStatus(_ context.Context, id, status string) error {
	if m.statuses == nil {
		m.statuses = make(map[string]string)
	}
	m.statuses[id] = status
	return nil
}

func (m *memRepo) ListDue(_ context.Context, now time.Time) ([]domain.Article, error) {
	var due []domain.Article
	for _, a := range m.saved {
		if a.Status == domain.ArticleDraft && !a.PublishAfter.After(now) {
			due = append(due, a)
		}
	}
	return due, nil
}

type textFunc func(prompt string) (string, error)

func (f textFunc) GenerateText(_ context.Context, _, prompt string, _ int, _ float64) (string, error) {
	return f(prompt)
}

func newTestWriter(t *testing.T, gen domain.TextGenerator) *writer.Engine {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	spec := domain.Provider{
		Name:        "groq",
		Credentials: []domain.Credential{{Provider: "groq", Position: 0, Secret: "k"}},
	}
	rot, err := keyring.New(rdb, []domain.Provider{spec})
	require.NoError(t, err)
	lim := ratelimiter.New(rdb, nil, time.Millisecond, 5*time.Millisecond)
	brk := breaker.New(rdb, true, 5, time.Minute)
	eng, err := writer.New([]writer.Provider{{Spec: spec, Gen: gen}}, rot, lim, brk, writer.Options{})
	require.NoError(t, err)
	return eng
}

func longCleanText() string {
	return strings.TrimSpace(strings.Repeat("Esto resulta realmente increíble para todos nosotros hoy. ", 28))
}

func TestPipeline_Run_SavesScheduledDrafts(t *testing.T) {
	eng := newTestWriter(t, textFunc(func(string) (string, error) {
		return longCleanText(), nil
	}))
	repo := &memRepo{}
	topics := &stubTopics{topics: []domain.Topic{
		{Title: "Avances en IA", URL: "https://x.test/article/ia", SourceType: "news"},
		{Title: "Computación cuántica", URL: "https://x.test/news/cuantica", SourceType: "news"},
	}}

	p := NewPipeline(topics, eng, repo, Options{SearchTerms: []string{"ia"}})
	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return base }

	require.NoError(t, p.Run(context.Background()))
	require.Len(t, repo.saved, 2)
	for _, a := range repo.saved {
		assert.Equal(t, domain.ArticleDraft, a.Status)
		assert.True(t, a.PublishAfter.After(base.Add(minPublishDelay-time.Second)),
			"publish delay below one hour: %s", a.PublishAfter)
		assert.True(t, a.PublishAfter.Before(base.Add(maxPublishDelay+time.Second)),
			"publish delay above six hours: %s", a.PublishAfter)
	}
	assert.Equal(t, "https://x.test/article/ia", repo.saved[0].SourceURL)
}

func TestPipeline_Run_TopicFailureIsIsolated(t *testing.T) {
	calls := 0
	eng := newTestWriter(t, textFunc(func(string) (string, error) {
		calls++
		// First article's blocks all come back empty; the rest succeed.
		if calls <= 6 {
			return "", nil
		}
		return longCleanText(), nil
	}))
	repo := &memRepo{}
	topics := &stubTopics{topics: []domain.Topic{
		{Title: "Tema fallido", SourceType: "news"},
		{Title: "Tema bueno", SourceType: "news"},
	}}

	p := NewPipeline(topics, eng, repo, Options{})
	require.NoError(t, p.Run(context.Background()))
	require.Len(t, repo.saved, 1)
	assert.Equal(t, "Tema bueno", repo.saved[0].Title)
}

func TestPipeline_Run_RespectsTopicCap(t *testing.T) {
	eng := newTestWriter(t, textFunc(func(string) (string, error) {
		return longCleanText(), nil
	}))
	repo := &memRepo{}
	var many []domain.Topic
	for _, title := range []string{"uno", "dos", "tres", "cuatro", "cinco"} {
		many = append(many, domain.Topic{Title: title, SourceType: "news"})
	}

	p := NewPipeline(&stubTopics{topics: many}, eng, repo, Options{MaxTopicsPer: 2})
	require.NoError(t, p.Run(context.Background()))
	assert.Len(t, repo.saved, 2)
}

func TestPipeline_Run_DiscoveryFailure(t *testing.T) {
	eng := newTestWriter(t, textFunc(func(string) (string, error) { return "", nil }))
	p := NewPipeline(&stubTopics{err: assert.AnError}, eng, &memRepo{}, Options{})
	assert.ErrorIs(t, p.Run(context.Background()), assert.AnError)
}

func TestPipeline_Run_NoTopics(t *testing.T) {
	eng := newTestWriter(t, textFunc(func(string) (string, error) { return "", nil }))
	repo := &memRepo{}
	p := NewPipeline(&stubTopics{}, eng, repo, Options{})
	require.NoError(t, p.Run(context.Background()))
	assert.Empty(t, repo.saved)
}

func TestPipeline_PublishDue(t *testing.T) {
	eng := newTestWriter(t, textFunc(func(string) (string, error) { return "", nil }))
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	repo := &memRepo{saved: []domain.Article{
		{ID: "a1", Status: domain.ArticleDraft, PublishAfter: now.Add(-time.Minute)},
		{ID: "a2", Status: domain.ArticleDraft, PublishAfter: now.Add(time.Hour)},
		{ID: "a3", Status: domain.ArticlePublished, PublishAfter: now.Add(-time.Hour)},
	}}

	p := NewPipeline(&stubTopics{}, eng, repo, Options{})
	p.now = func() time.Time { return now }

	n, err := p.PublishDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.ArticlePublished, repo.statuses["a1"])
	_, flipped := repo.statuses["a2"]
	assert.False(t, flipped)
}
