package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/models"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/recommend"
)

type stubRecommender struct {
	got recommend.Request
	res *recommend.Result
	err error
}

func (s *stubRecommender) Recommend(_ context.Context, req recommend.Request) (*recommend.Result, error) {
	s.got = req
	return s.res, s.err
}

func newTestServer(rec recommender, checks map[string]healthCheck) http.Handler {
	srv := &server{
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		recommender: rec,
		checks:      checks,
	}
	return srv.routes()
}

func TestHandleRecommend(t *testing.T) {
	rec := &stubRecommender{res: &recommend.Result{
		RequestID: "req-1",
		Status:    recommend.StatusPartial,
		Target:    4,
		Items:     []models.Candidate{{ProductID: 1, Title: "원목 무드등", Price: 19800, Source: models.SourceExact}},
	}}
	h := newTestServer(rec, nil)

	body := `{"keywords":["무드등","향수"],"min_price":10000,"max_price":50000,"size":4,"hints":{"age":" 30대 ","occasion":"생일"}}`
	req := httptest.NewRequest(http.MethodPost, "/recommendations", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, []string{"무드등", "향수"}, rec.got.Keywords)
	require.Equal(t, models.PriceRange{Min: 10000, Max: 50000}, rec.got.Price)
	require.Equal(t, 4, rec.got.Size)
	require.Equal(t, "30대", rec.got.Hints.Age)

	var out struct {
		RequestID string `json:"request_id"`
		Status    string `json:"status"`
		Items     []struct {
			ProductID int64  `json:"product_id"`
			Title     string `json:"title"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Equal(t, "req-1", out.RequestID)
	require.Equal(t, "partial", out.Status)
	require.Len(t, out.Items, 1)
	require.Equal(t, "원목 무드등", out.Items[0].Title)
}

func TestHandleRecommendErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "malformed json", body: `{"keywords":`, status: http.StatusBadRequest},
		{name: "unknown field", body: `{"keywords":["a"],"page":2}`, status: http.StatusBadRequest},
		{name: "invalid request", body: `{"keywords":[]}`, err: fmt.Errorf("%w: at least one keyword is required", recommend.ErrInvalidRequest), status: http.StatusBadRequest},
		{name: "unexpected", body: `{"keywords":["a"]}`, err: errors.New("boom"), status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&stubRecommender{err: tt.err}, nil)
			req := httptest.NewRequest(http.MethodPost, "/recommendations", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			require.Equal(t, tt.status, rr.Code)
			require.Contains(t, rr.Body.String(), `"error"`)
		})
	}
}

func TestHandleHealth(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	h := newTestServer(&stubRecommender{}, map[string]healthCheck{"postgres": ok, "elasticsearch": ok})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	h = newTestServer(&stubRecommender{}, map[string]healthCheck{"postgres": ok, "elasticsearch": down})
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "degraded", body["status"])
	require.Equal(t, "connection refused", body["elasticsearch"])
	require.Equal(t, "ok", body["postgres"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(&stubRecommender{}, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "go_goroutines")
}
