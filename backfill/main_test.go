package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/models"
)

type memProducts struct {
	rows  []models.Product
	calls int
}

func (m *memProducts) ListAfter(_ context.Context, afterID int64, limit int) ([]models.Product, error) {
	m.calls++
	var out []models.Product
	for _, p := range m.rows {
		if p.ID > afterID && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

type memPublisher struct {
	ids     []int64
	failAt  int
	batches int
}

func (m *memPublisher) PublishSaved(_ context.Context, products ...models.Product) error {
	m.batches++
	if m.failAt > 0 && m.batches == m.failAt {
		return errors.New("broker down")
	}
	for _, p := range products {
		m.ids = append(m.ids, p.ID)
	}
	return nil
}

func rows(n int) []models.Product {
	out := make([]models.Product, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, models.Product{ID: int64(i * 10), Title: "상품"})
	}
	return out
}

func TestRunPublishesEveryProduct(t *testing.T) {
	src := &memProducts{rows: rows(5)}
	pub := &memPublisher{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	total, last, err := run(context.Background(), log, src, pub, 0, 2)
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.EqualValues(t, 50, last)
	require.Equal(t, []int64{10, 20, 30, 40, 50}, pub.ids)
	require.Equal(t, 3, src.calls)
}

func TestRunResumesAfterID(t *testing.T) {
	pub := &memPublisher{}
	total, _, err := run(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), &memProducts{rows: rows(4)}, pub, 20, 10)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Equal(t, []int64{30, 40}, pub.ids)
}

func TestRunReportsResumePoint(t *testing.T) {
	pub := &memPublisher{failAt: 2}
	total, last, err := run(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), &memProducts{rows: rows(5)}, pub, 0, 2)
	require.ErrorContains(t, err, "broker down")
	require.Equal(t, 2, total)
	require.EqualValues(t, 20, last)
}
