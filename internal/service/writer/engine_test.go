package writer

import (
	"context"
	"errors"
	"strings"
	"sync"
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
)

// scriptedGen is a TextGenerator driven by a per-call script.
type scriptedGen struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, prompt string) (string, error)
}

func (g *scriptedGen) GenerateText(_ context.Context, _, prompt string, _ int, _ float64) (string, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	fn := g.fn
	g.mu.Unlock()
	return fn(n, prompt)
}

func (g *scriptedGen) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// cleanBlock builds non-robotic text of roughly 225 words carrying a
// marker so tests can locate each block in the assembled article.
func cleanBlock(marker string) string {
	s := marker + " resulta realmente increíble para todos nosotros hoy. "
	return strings.TrimSpace(strings.Repeat(s, 28))
}

func roleMarker(prompt string) string {
	switch {
	case strings.Contains(prompt, "introducción"), strings.Contains(prompt, "introduccion"):
		return "INTROBLOQUE"
	case strings.Contains(prompt, "explicación"), strings.Contains(prompt, "explicacion"):
		return "EXPLICACIONBLOQUE"
	case strings.Contains(prompt, "análisis"), strings.Contains(prompt, "analisis"):
		return "ANALISISBLOQUE"
	default:
		return "CONCLUSIONBLOQUE"
	}
}

func newTestEngine(t *testing.T, gens map[string]*scriptedGen, opts Options) *Engine {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	var specs []domain.Provider
	var providers []Provider
	for name, gen := range gens {
		spec := domain.Provider{
			Name: name,
			Credentials: []domain.Credential{
				{Provider: name, Position: 0, Secret: name + "-key-0"},
				{Provider: name, Position: 1, Secret: name + "-key-1"},
			},
		}
		specs = append(specs, spec)
		providers = append(providers, Provider{Spec: spec, Gen: gen})
	}

	rot, err := keyring.New(rdb, specs)
	require.NoError(t, err)
	lim := ratelimiter.New(rdb, nil, time.Millisecond, 5*time.Millisecond)
	brk := breaker.New(rdb, true, 5, 60*time.Second)

	eng, err := New(providers, rot, lim, brk, opts)
	require.NoError(t, err)
	return eng
}

func TestGenerateArticle_AllProvidersHealthy(t *testing.T) {
	ctx := context.Background()
	gens := map[string]*scriptedGen{}
	for _, name := range []string{"groq", "cohere", "huggingface", "gemini"} {
		gens[name] = &scriptedGen{fn: func(_ int, prompt string) (string, error) {
			return cleanBlock(roleMarker(prompt)), nil
		}}
	}
	eng := newTestEngine(t, gens, Options{})

	art, err := eng.GenerateArticle(ctx, "La computación cuántica", "https://example.com/src", "news")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, art.WordCount, 800)
	assert.Equal(t, domain.ArticleDraft, art.Status)
	assert.Equal(t, "la-computacin-cuntica", art.Slug)

	// Blocks in fixed order, separated by blank lines.
	blocks := strings.Split(art.Content, "\n\n")
	require.Len(t, blocks, 4)
	assert.Contains(t, blocks[0], "INTROBLOQUE")
	assert.Contains(t, blocks[1], "EXPLICACIONBLOQUE")
	assert.Contains(t, blocks[2], "ANALISISBLOQUE")
	assert.Contains(t, blocks[3], "CONCLUSIONBLOQUE")
}

func TestGenerateBlock_SalvageAfterExhaustedRetries(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedGen{fn: func(call int, _ string) (string, error) {
		if call <= 5 {
			return "", nil
		}
		return "contenido de reserva sobre el tema pedido", nil
	}}
	eng := newTestEngine(t, map[string]*scriptedGen{"groq": gen}, Options{})

	text, err := eng.GenerateBlock(ctx, domain.BlockIntro, "un tema")
	require.NoError(t, err)
	assert.Equal(t, "contenido de reserva sobre el tema pedido", text)
	// Five ordinary attempts plus one salvage call.
	assert.Equal(t, 6, gen.callCount())
}

func TestGenerateBlock_AllProvidersEmpty(t *testing.T) {
	ctx := context.Background()
	empty := func(int, string) (string, error) { return "", nil }
	gens := map[string]*scriptedGen{
		"groq":   {fn: empty},
		"cohere": {fn: empty},
	}
	eng := newTestEngine(t, gens, Options{})

	text, err := eng.GenerateBlock(ctx, domain.BlockAnalysis, "un tema")
	assert.Empty(t, text)
	assert.ErrorIs(t, err, domain.ErrGenerationExhausted)
}

func TestGenerateBlock_RoboticResultsAreRetried(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedGen{fn: func(call int, _ string) (string, error) {
		if call == 1 {
			return "En resumen, este es un texto claramente robótico que no debería pasar.", nil
		}
		return cleanBlock("SEGUNDOINTENTO"), nil
	}}
	eng := newTestEngine(t, map[string]*scriptedGen{"groq": gen}, Options{})

	text, err := eng.GenerateBlock(ctx, domain.BlockIntro, "un tema")
	require.NoError(t, err)
	assert.Contains(t, text, "SEGUNDOINTENTO")
	assert.Equal(t, 2, gen.callCount())
}

func TestGenerateBlock_FailuresQuarantineCredentials(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedGen{fn: func(int, string) (string, error) {
		return "", errors.New("401 unauthorized")
	}}
	eng := newTestEngine(t, map[string]*scriptedGen{"groq": gen}, Options{})

	_, err := eng.GenerateBlock(ctx, domain.BlockIntro, "un tema")
	assert.ErrorIs(t, err, domain.ErrGenerationExhausted)

	// Both credentials failed once each; every later attempt found the
	// pool exhausted and never reached the upstream.
	assert.Equal(t, 2, gen.callCount())
	n, err := eng.rotator.HealthyCount(ctx, "groq")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGenerateArticle_TooShortHitsRegenerationCap(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedGen{fn: func(int, string) (string, error) {
		// Valid little block: one sentence of nine words, not robotic.
		return "Esto es genial y me gusta mucho de verdad.", nil
	}}
	eng := newTestEngine(t, map[string]*scriptedGen{"groq": gen}, Options{MaxArticleRegenerations: 3})

	_, err := eng.GenerateArticle(ctx, "un tema", "", "news")
	assert.ErrorIs(t, err, domain.ErrArticleInvalid)
	// Three full runs of four blocks, one attempt each.
	assert.Equal(t, 12, gen.callCount())
}

func TestGenerateArticle_BlockFailureAborts(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedGen{fn: func(int, string) (string, error) { return "", nil }}
	eng := newTestEngine(t, map[string]*scriptedGen{"groq": gen}, Options{})

	_, err := eng.GenerateArticle(ctx, "un tema", "", "news")
	assert.ErrorIs(t, err, domain.ErrGenerationExhausted)
}

func TestGenerateBlock_ContextCancellation(t *testing.T) {
	gen := &scriptedGen{fn: func(int, string) (string, error) { return "", nil }}
	eng := newTestEngine(t, map[string]*scriptedGen{"groq": gen}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := eng.GenerateBlock(ctx, domain.BlockIntro, "un tema")
	assert.ErrorIs(t, err, context.Canceled)
}
