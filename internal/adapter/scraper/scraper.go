// Package scraper discovers candidate article topics from news sources.
package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"log/slog"

	"github.com/PuerkitoBio/goquery"

	"github.com/hivewriter/content-motor/internal/domain"
)

const (
	defaultTimeout     = 30 * time.Second
	maxLinksPerSource  = 10
	maxTopicsPerSource = 2
	userAgent          = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// datePathPattern matches article URLs organized by date, e.g. /2026/08/29/.
var datePathPattern = regexp.MustCompile(`/\d{4}/\d{2}/\d{2}/`)

// Scraper finds trending article links on configured news index pages.
// It implements domain.TopicSource.
type Scraper struct {
	hc      *http.Client
	sources []string
}

// New builds a scraper over the given news source index URLs. hc may be
// nil, in which case a client with a sane timeout is used.
func New(sources []string, hc *http.Client) *Scraper {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &Scraper{hc: hc, sources: sources}
}

// TrendingTopics fetches every source index page, collects links that look
// like articles, and keeps those whose URL or anchor text matches a search
// term. A failing source is logged and skipped; it never fails the run.
func (s *Scraper) TrendingTopics(ctx context.Context, searchTerms []string) ([]domain.Topic, error) {
	var topics []domain.Topic
	seen := make(map[string]bool)

	for _, source := range s.sources {
		if err := ctx.Err(); err != nil {
			return topics, err
		}
		found, err := s.scrapeSource(ctx, source, searchTerms, seen)
		if err != nil {
			slog.Warn("failed to scrape news source",
				slog.String("source", source), slog.Any("error", err))
			continue
		}
		topics = append(topics, found...)
	}

	slog.Info("topic discovery finished",
		slog.Int("sources", len(s.sources)), slog.Int("topics", len(topics)))
	return topics, nil
}

func (s *Scraper) scrapeSource(ctx context.Context, source string, searchTerms []string, seen map[string]bool) ([]domain.Topic, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("op=scraper.scrapeSource source=%s: %w", source, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=scraper.scrapeSource source=%s: %w", source, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("op=scraper.scrapeSource source=%s: status %d", source, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("op=scraper.scrapeSource source=%s: parse: %w", source, err)
	}

	base, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("op=scraper.scrapeSource source=%s: %w", source, err)
	}

	var topics []domain.Topic
	collected := 0
	matched := 0
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		abs := base.ResolveReference(ref).String()
		if seen[abs] || !looksLikeArticle(abs) {
			return true
		}
		seen[abs] = true
		collected++

		title := strings.TrimSpace(sel.Text())
		if matchesTerms(abs, searchTerms) || matchesTerms(title, searchTerms) {
			if title == "" {
				title = titleFromURL(abs)
			}
			topics = append(topics, domain.Topic{
				Title:      title,
				URL:        abs,
				SourceType: "news",
			})
			matched++
		}
		return collected < maxLinksPerSource && matched < maxTopicsPerSource
	})
	return topics, nil
}

// looksLikeArticle reports whether the URL follows a common article path
// convention.
func looksLikeArticle(u string) bool {
	switch {
	case strings.Contains(u, "/article/"),
		strings.Contains(u, "/news/"),
		strings.Contains(u, "/story/"),
		strings.Contains(u, "/post/"),
		strings.Contains(u, "/blog/"):
		return true
	}
	return datePathPattern.MatchString(u)
}

func matchesTerms(s string, terms []string) bool {
	if s == "" {
		return false
	}
	lower := strings.ToLower(s)
	for _, term := range terms {
		if term != "" && strings.Contains(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

// titleFromURL derives a readable title from the last URL path segment.
func titleFromURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	segs := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	last := segs[len(segs)-1]
	last = strings.TrimSuffix(last, ".html")
	return strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(last, "-", " "), "_", " "))
}
