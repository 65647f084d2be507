package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const indexPage = `<html><body>
<a href="#top">volver arriba</a>
<a href="/about">Sobre nosotros</a>
<a href="/article/inteligencia-artificial-avanza">La inteligencia artificial avanza</a>
<a href="/article/inteligencia-artificial-avanza">duplicado</a>
<a href="/news/mercados-hoy">Mercados hoy</a>
<a href="/2026/08/28/robots-en-casa">Robots en casa: inteligencia artificial</a>
<a href="https://otro.example.com/story/deportes-finales">Final de deportes</a>
</body></html>`

func TestTrendingTopics_FiltersAndMatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(indexPage))
	}))
	defer srv.Close()

	s := New([]string{srv.URL}, srv.Client())
	topics, err := s.TrendingTopics(context.Background(), []string{"inteligencia artificial"})
	require.NoError(t, err)

	// Two links match the term, the duplicate and non-article links are
	// dropped, and the per-source cap holds.
	require.Len(t, topics, 2)
	assert.Equal(t, "La inteligencia artificial avanza", topics[0].Title)
	assert.Equal(t, srv.URL+"/article/inteligencia-artificial-avanza", topics[0].URL)
	assert.Equal(t, "news", topics[0].SourceType)
	assert.Contains(t, topics[1].Title, "Robots en casa")
}

func TestTrendingTopics_NoMatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(indexPage))
	}))
	defer srv.Close()

	s := New([]string{srv.URL}, srv.Client())
	topics, err := s.TrendingTopics(context.Background(), []string{"criptomonedas"})
	require.NoError(t, err)
	assert.Empty(t, topics)
}

func TestTrendingTopics_FailingSourceIsSkipped(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<a href="/news/inteligencia-artificial-hoy">IA hoy: inteligencia artificial</a>`))
	}))
	defer good.Close()

	s := New([]string{bad.URL, good.URL}, nil)
	topics, err := s.TrendingTopics(context.Background(), []string{"inteligencia artificial"})
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, good.URL+"/news/inteligencia-artificial-hoy", topics[0].URL)
}

func TestTrendingTopics_ContextCancelled(t *testing.T) {
	s := New([]string{"http://127.0.0.1:1"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.TrendingTopics(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLooksLikeArticle(t *testing.T) {
	assert.True(t, looksLikeArticle("https://x.test/article/a"))
	assert.True(t, looksLikeArticle("https://x.test/2026/08/29/algo"))
	assert.True(t, looksLikeArticle("https://x.test/blog/entrada"))
	assert.False(t, looksLikeArticle("https://x.test/contacto"))
	assert.False(t, looksLikeArticle("https://x.test/2026/8/9/corto"))
}

func TestTitleFromURL(t *testing.T) {
	assert.Equal(t, "robots en casa", titleFromURL("https://x.test/2026/08/28/robots-en-casa"))
	assert.Equal(t, "noticia del dia", titleFromURL("https://x.test/news/noticia_del_dia.html"))
}
