// Package store reads products from the exact-match store (Postgres).
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/models"
)

const (
	maxSearchLimit = 200
	maxPoolLimit   = 1200
)

const productColumns = `id, title, COALESCE(raw_title, ''), price, COALESCE(seller, ''),
	COALESCE(category, ''), COALESCE(tags, '{}'), COALESCE(image_url, ''), COALESCE(detail_url, ''),
	COALESCE(gender, ''), COALESCE(age_group, ''), confirmed, created_at`

// Filter narrows Search.
type Filter struct {
	Keyword       string
	Price         models.PriceRange
	Category      string
	Gender        string
	AgeGroup      string
	ConfirmedOnly bool
	ExcludeIDs    []int64
	Limit         int
}

// Store wraps a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Search returns recency-ordered products whose title, category or tags
// contain the keyword.
func (s *Store) Search(ctx context.Context, f Filter) ([]models.Product, error) {
	sql, args := buildSearch(f)
	return s.query(ctx, "search products", sql, args...)
}

// FindByIDs loads products by id in no particular order.
func (s *Store) FindByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sql := `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`
	return s.query(ctx, "find products by id", sql, ids)
}

// FilterIDsByKeyword returns the subset of ids whose title contains keyword.
func (s *Store) FilterIDsByKeyword(ctx context.Context, keyword string, ids []int64) ([]int64, error) {
	if len(ids) == 0 || strings.TrimSpace(keyword) == "" {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM products WHERE id = ANY($1) AND title ILIKE $2`,
		ids, likePattern(keyword),
	)
	if err != nil {
		return nil, fmt.Errorf("filter ids by keyword: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("filter ids by keyword: %w", err)
	}
	return out, nil
}

// RecentPool returns a broad, price-filtered, recency-ordered sample.
func (s *Store) RecentPool(ctx context.Context, price models.PriceRange, limit int) ([]models.Product, error) {
	sql, args := buildPool(price, limit)
	return s.query(ctx, "recent pool", sql, args...)
}

// RecentTitles returns the titles of the newest products.
func (s *Store) RecentTitles(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `SELECT title FROM products ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent titles: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("recent titles: %w", err)
	}
	return out, nil
}

// ListAfter pages through products by id.
func (s *Store) ListAfter(ctx context.Context, afterID int64, limit int) ([]models.Product, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	sql := `SELECT ` + productColumns + ` FROM products WHERE id > $1 ORDER BY id LIMIT $2`
	return s.query(ctx, "list products", sql, afterID, limit)
}

func (s *Store) query(ctx context.Context, op, sql string, args ...any) ([]models.Product, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func scanProduct(row pgx.CollectableRow) (models.Product, error) {
	var p models.Product
	err := row.Scan(
		&p.ID, &p.Title, &p.RawTitle, &p.Price, &p.Seller,
		&p.Category, &p.Tags, &p.ImageURL, &p.DetailURL,
		&p.Gender, &p.AgeGroup, &p.Confirmed, &p.CreatedAt,
	)
	return p, err
}

type queryBuilder struct {
	where []string
	args  []any
}

func (q *queryBuilder) arg(v any) string {
	q.args = append(q.args, v)
	return "$" + strconv.Itoa(len(q.args))
}

func (q *queryBuilder) add(cond string) {
	q.where = append(q.where, cond)
}

func (q *queryBuilder) addPrice(price models.PriceRange) {
	if price.Min > 0 {
		q.add("price >= " + q.arg(price.Min))
	}
	if price.Max > 0 {
		q.add("price <= " + q.arg(price.Max))
	}
}

func (q *queryBuilder) clause() string {
	if len(q.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.where, " AND ")
}

func buildSearch(f Filter) (string, []any) {
	q := &queryBuilder{}
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		like := q.arg(likePattern(kw))
		q.add(fmt.Sprintf("(title ILIKE %[1]s OR category ILIKE %[1]s OR EXISTS (SELECT 1 FROM unnest(tags) t WHERE t ILIKE %[1]s))", like))
	}
	q.addPrice(f.Price)
	if f.Category != "" {
		q.add("category = " + q.arg(f.Category))
	}
	if f.Gender != "" {
		q.add(fmt.Sprintf("(gender = %s OR gender IN ('U', '') OR gender IS NULL)", q.arg(f.Gender)))
	}
	if f.AgeGroup != "" {
		q.add("age_group = " + q.arg(f.AgeGroup))
	}
	if f.ConfirmedOnly {
		q.add("confirmed")
	}
	if len(f.ExcludeIDs) > 0 {
		q.add("NOT (id = ANY(" + q.arg(f.ExcludeIDs) + "))")
	}

	limit := f.Limit
	if limit <= 0 || limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	sql := `SELECT ` + productColumns + ` FROM products` + q.clause() +
		` ORDER BY created_at DESC, id DESC LIMIT ` + q.arg(limit)
	return sql, q.args
}

func buildPool(price models.PriceRange, limit int) (string, []any) {
	q := &queryBuilder{}
	q.addPrice(price)
	if limit <= 0 || limit > maxPoolLimit {
		limit = maxPoolLimit
	}
	sql := `SELECT ` + productColumns + ` FROM products` + q.clause() +
		` ORDER BY created_at DESC, id DESC LIMIT ` + q.arg(limit)
	return sql, q.args
}

func likePattern(keyword string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(keyword)) + "%"
}
