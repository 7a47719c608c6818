// Package marketplace is the client for the external shopping search API.
package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/models"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/textnorm"
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("marketplace unavailable")

// Item is one search hit as returned by the API.
type Item struct {
	ProductID string `json:"productId"`
	Title     string `json:"title"`
	Link      string `json:"link"`
	Image     string `json:"image"`
	LowPrice  string `json:"lprice"`
	MallName  string `json:"mallName"`
	Brand     string `json:"brand"`
	Category1 string `json:"category1"`
	Category2 string `json:"category2"`
	Category3 string `json:"category3"`
	Category4 string `json:"category4"`
}

// Price parses the lowest price; malformed prices read as 0.
func (i Item) Price() int {
	p, err := strconv.Atoi(strings.TrimSpace(i.LowPrice))
	if err != nil {
		return 0
	}
	return p
}

// Candidate snapshots the item.
func (i Item) Candidate(score float64) models.Candidate {
	tags := make([]string, 0, 5)
	for _, c := range []string{i.Category1, i.Category2, i.Category3, i.Category4, i.Brand} {
		if c = strings.TrimSpace(c); c != "" {
			tags = append(tags, c)
		}
	}
	return models.Candidate{
		ExternalID: strings.TrimSpace(i.ProductID),
		Title:      textnorm.StripMarkup(i.Title),
		RawTitle:   i.Title,
		Price:      i.Price(),
		Seller:     strings.TrimSpace(i.MallName),
		Tags:       tags,
		ImageURL:   strings.TrimSpace(i.Image),
		DetailURL:  strings.TrimSpace(i.Link),
		Score:      score,
		Source:     models.SourceMarketplace,
	}
}

// Options configure the client.
type Options struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	UserAgent    string
	Timeout      time.Duration
	PageSize     int
}

// Client calls the search endpoint behind a circuit breaker.
type Client struct {
	baseURL   string
	clientID  string
	secret    string
	userAgent string
	pageSize  int
	http      *http.Client
	cb        *gobreaker.CircuitBreaker[[]Item]
	log       *slog.Logger
}

// NewClient validates options and returns a client.
func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		return nil, errors.New("marketplace base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid marketplace base url: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.PageSize <= 0 || opts.PageSize > 100 {
		opts.PageSize = 40
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "gift-recommendation/1.0"
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &Client{
		baseURL:   strings.TrimRight(base, "/"),
		clientID:  opts.ClientID,
		secret:    opts.ClientSecret,
		userAgent: ua,
		pageSize:  opts.PageSize,
		http:      &http.Client{Timeout: opts.Timeout},
		log:       logger,
	}
	c.cb = gobreaker.NewCircuitBreaker[[]Item](gobreaker.Settings{
		Name:        "marketplace-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("marketplace circuit state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return c, nil
}

// PageSize returns the number of items requested per page.
func (c *Client) PageSize() int {
	return c.pageSize
}

// Available reports whether calls are currently let through. Callers check it
// before spending quota.
func (c *Client) Available() bool {
	return c.cb.State() != gobreaker.StateOpen
}

// Search fetches one page (1-based) of results for query.
func (c *Client) Search(ctx context.Context, query string, page int) ([]Item, error) {
	items, err := c.cb.Execute(func() ([]Item, error) {
		return c.search(ctx, query, page)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return items, err
}

func (c *Client) search(ctx context.Context, query string, page int) ([]Item, error) {
	if page <= 0 {
		page = 1
	}
	u, err := url.Parse(c.baseURL + "/v1/search/shop.json")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("query", strings.TrimSpace(query))
	q.Set("display", strconv.Itoa(c.pageSize))
	q.Set("start", strconv.Itoa(1+(page-1)*c.pageSize))
	q.Set("sort", "sim")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Client-Id", c.clientID)
	req.Header.Set("X-Client-Secret", c.secret)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marketplace search: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<10))
		return nil, fmt.Errorf("marketplace search status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Items []Item `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode marketplace response: %w", err)
	}
	return normalizeItems(parsed.Items), nil
}

func normalizeItems(in []Item) []Item {
	out := make([]Item, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, it := range in {
		id := strings.TrimSpace(it.ProductID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		it.ProductID = id
		out = append(out, it)
	}
	return out
}
