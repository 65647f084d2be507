package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"

	"github.com/hivewriter/content-motor/internal/domain"
)

// PgxPool is a minimal subset of pgxpool used by the repo for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ArticleRepo persists and loads articles using a minimal pgx pool.
type ArticleRepo struct{ Pool PgxPool }

// NewArticleRepo constructs an ArticleRepo with the given pool.
func NewArticleRepo(p PgxPool) *ArticleRepo { return &ArticleRepo{Pool: p} }

// EnsureSchema creates the articles table when it does not exist yet.
func (r *ArticleRepo) EnsureSchema(ctx context.Context) error {
	q := `CREATE TABLE IF NOT EXISTS articles (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		slug TEXT NOT NULL,
		content TEXT NOT NULL,
		excerpt TEXT NOT NULL DEFAULT '',
		source_url TEXT NOT NULL DEFAULT '',
		source_type TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		word_count INT NOT NULL DEFAULT 0,
		reading_time INT NOT NULL DEFAULT 0,
		publish_after TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`
	if _, err := r.Pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("op=article.ensure_schema: %w", err)
	}
	return nil
}

// Save inserts a new article and returns its id (generates one if empty).
func (r *ArticleRepo) Save(ctx context.Context, a domain.Article) (string, error) {
	tracer := otel.Tracer("repo.articles")
	ctx, span := tracer.Start(ctx, "articles.Save")
	defer span.End()
	id := a.ID
	if id == "" {
		id = ulid.Make().String()
	}
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	q := `INSERT INTO articles (id, title, slug, content, excerpt, source_url, source_type, status, word_count, reading_time, publish_after, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := r.Pool.Exec(ctx, q, id, a.Title, a.Slug, a.Content, a.Excerpt, a.SourceURL, a.SourceType, a.Status, a.WordCount, a.ReadingTime, a.PublishAfter.UTC(), createdAt)
	if err != nil {
		return "", fmt.Errorf("op=article.save: %w", err)
	}
	return id, nil
}

// UpdateStatus updates an article's status.
func (r *ArticleRepo) UpdateStatus(ctx context.Context, id, status string) error {
	tracer := otel.Tracer("repo.articles")
	ctx, span := tracer.Start(ctx, "articles.UpdateStatus")
	defer span.End()
	q := `UPDATE articles SET status=$2 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, status)
	if err != nil {
		return fmt.Errorf("op=article.update_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=article.update_status id=%s: %w", id, domain.ErrArticleInvalid)
	}
	return nil
}

// ListDue loads draft articles whose publish delay has elapsed.
func (r *ArticleRepo) ListDue(ctx context.Context, now time.Time) ([]domain.Article, error) {
	tracer := otel.Tracer("repo.articles")
	ctx, span := tracer.Start(ctx, "articles.ListDue")
	defer span.End()
	q := `SELECT id, title, slug, content, excerpt, source_url, source_type, status, word_count, reading_time, publish_after, created_at
		FROM articles WHERE status=$1 AND publish_after <= $2 ORDER BY publish_after`
	rows, err := r.Pool.Query(ctx, q, domain.ArticleDraft, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("op=article.list_due: %w", err)
	}
	defer rows.Close()

	var out []domain.Article
	for rows.Next() {
		var a domain.Article
		if err := rows.Scan(&a.ID, &a.Title, &a.Slug, &a.Content, &a.Excerpt, &a.SourceURL, &a.SourceType, &a.Status, &a.WordCount, &a.ReadingTime, &a.PublishAfter, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=article.list_due: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=article.list_due: %w", err)
	}
	return out, nil
}
