package source_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/elasticsearch"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/marketplace"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/models"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/quota"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/source"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/store"
)

type fakeStore struct {
	products   []models.Product
	verbatim   []int64
	verbErr    error
	searchErr  error
	titles     []string
	titlesErr  error
	titleCalls int
	lastFilter store.Filter
}

func (f *fakeStore) Search(_ context.Context, flt store.Filter) ([]models.Product, error) {
	f.lastFilter = flt
	return f.products, f.searchErr
}

func (f *fakeStore) FindByIDs(_ context.Context, ids []int64) ([]models.Product, error) {
	var out []models.Product
	for _, p := range f.products {
		for _, id := range ids {
			if p.ID == id {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) FilterIDsByKeyword(context.Context, string, []int64) ([]int64, error) {
	return f.verbatim, f.verbErr
}

func (f *fakeStore) RecentPool(context.Context, models.PriceRange, int) ([]models.Product, error) {
	return f.products, f.searchErr
}

func (f *fakeStore) RecentTitles(context.Context, int) ([]string, error) {
	f.titleCalls++
	return f.titles, f.titlesErr
}

type fakeEmbedder struct{ err error }

func (f fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

type fakeIndex struct{ hits []elasticsearch.Hit }

func (f fakeIndex) SearchSimilar(context.Context, []float32, int, models.PriceRange) ([]elasticsearch.Hit, error) {
	return f.hits, nil
}

type fakeSearcher struct {
	pages     [][]marketplace.Item
	pageSize  int
	available bool
	calls     int
}

func (f *fakeSearcher) Available() bool { return f.available }
func (f *fakeSearcher) PageSize() int   { return f.pageSize }

func (f *fakeSearcher) Search(_ context.Context, _ string, page int) ([]marketplace.Item, error) {
	f.calls++
	if page > len(f.pages) {
		return nil, nil
	}
	return f.pages[page-1], nil
}

type permits struct{ left int }

func (p *permits) TryAcquire(context.Context) bool {
	if p.left <= 0 {
		return false
	}
	p.left--
	return true
}

func TestQueryText(t *testing.T) {
	q := source.Query{
		Keyword:  "무드등",
		Keywords: []string{"무드등", "향수", "머그컵", "담요", "양말", "목도리"},
		Hints:    models.Hints{Age: "30대", Occasion: "생일"},
	}
	require.Equal(t, "무드등 | 관련: 향수, 머그컵, 담요, 양말 | 연령: 30대 | 상황: 생일", source.QueryText(q))
	require.Equal(t, "향수", source.QueryText(source.Query{Keyword: "향수", Keywords: []string{"향수"}}))
}

func TestExactSearchesStore(t *testing.T) {
	st := &fakeStore{products: []models.Product{{ID: 1, Title: "원목 무드등", Category: "조명"}}}
	exact := source.NewExact(st)

	out, err := exact.Fetch(context.Background(), source.Query{
		Keyword: "무드등",
		Price:   models.PriceRange{Min: 1000},
		Hints:   models.Hints{Gender: "F"},
		Need:    2,
		Exclude: []int64{9},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, source.ExactScore, out[0].Score)
	require.Equal(t, models.SourceExact, out[0].Source)
	require.Contains(t, out[0].Tags, "조명")

	require.Equal(t, "무드등", st.lastFilter.Keyword)
	require.Equal(t, "F", st.lastFilter.Gender)
	require.Equal(t, []int64{9}, st.lastFilter.ExcludeIDs)
	require.Equal(t, 20, st.lastFilter.Limit)
}

func TestExactWrapsStoreFailure(t *testing.T) {
	exact := source.NewExact(&fakeStore{searchErr: errors.New("conn reset")})
	_, err := exact.Fetch(context.Background(), source.Query{Keyword: "무드등", Need: 1})
	require.ErrorIs(t, err, source.ErrSourceUnavailable)
}

func TestVectorFiltersAndScores(t *testing.T) {
	st := &fakeStore{
		products: []models.Product{
			{ID: 2, Title: "은은한 수면등"},
			{ID: 1, Title: "감성 무드등"},
			{ID: 4, Title: "침실 무드등"},
		},
		verbatim: []int64{1},
	}
	idx := fakeIndex{hits: []elasticsearch.Hit{
		{ProductID: 1, Similarity: 0.95},
		{ProductID: 4, Similarity: 0.90},
		{ProductID: 2, Similarity: 0.80},
		{ProductID: 3, Similarity: 0.70},
	}}
	v := source.NewVector(fakeEmbedder{}, idx, st, 0.78, nil)

	out, err := v.Fetch(context.Background(), source.Query{Keyword: "무드등", Need: 2, Exclude: []int64{4}})
	require.NoError(t, err)
	require.Len(t, out, 2)

	require.EqualValues(t, 1, out[0].ProductID)
	require.InDelta(t, 0.7+0.2*0.95, out[0].Score, 1e-9)
	require.EqualValues(t, 2, out[1].ProductID)
	require.InDelta(t, 0.5+0.2*0.80, out[1].Score, 1e-9)
	require.Equal(t, models.SourceVector, out[1].Source)
}

func TestVectorFallsBackToLocalKeywordCheck(t *testing.T) {
	st := &fakeStore{
		products: []models.Product{{ID: 1, Title: "감성 무드등"}},
		verbErr:  errors.New("timeout"),
	}
	idx := fakeIndex{hits: []elasticsearch.Hit{{ProductID: 1, Similarity: 0.9}}}
	v := source.NewVector(fakeEmbedder{}, idx, st, 0, nil)

	out, err := v.Fetch(context.Background(), source.Query{Keyword: "무드등", Need: 1})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.InDelta(t, 0.7+0.2*0.9, out[0].Score, 1e-9)
}

func TestVectorEmbedFailureDegrades(t *testing.T) {
	v := source.NewVector(fakeEmbedder{err: errors.New("boom")}, fakeIndex{}, &fakeStore{}, 0, nil)
	out, err := v.Fetch(context.Background(), source.Query{Keyword: "무드등", Need: 1})
	require.ErrorIs(t, err, source.ErrSourceUnavailable)
	require.Empty(t, out)
}

func TestMarketplaceQuotaDeniedSkipsCall(t *testing.T) {
	api := &fakeSearcher{available: true, pageSize: 40}
	m := source.NewMarketplace(api, &permits{}, nil, source.MarketplaceOptions{}, nil)

	out, err := m.Fetch(context.Background(), source.Query{Keyword: "무드등", Need: 2})
	require.ErrorIs(t, err, quota.ErrQuotaExceeded)
	require.Empty(t, out)
	require.Zero(t, api.calls)
}

func TestMarketplaceCircuitOpen(t *testing.T) {
	api := &fakeSearcher{available: false}
	gate := &permits{left: 5}
	m := source.NewMarketplace(api, gate, nil, source.MarketplaceOptions{}, nil)

	_, err := m.Fetch(context.Background(), source.Query{Keyword: "무드등", Need: 2})
	require.ErrorIs(t, err, source.ErrSourceUnavailable)
	require.Zero(t, api.calls)
	require.Equal(t, 5, gate.left)
}

func TestMarketplaceScreensPriceAndKnownTitles(t *testing.T) {
	api := &fakeSearcher{
		available: true,
		pageSize:  40,
		pages: [][]marketplace.Item{{
			{ProductID: "a", Title: "감성 <b>무드등</b> 조명", LowPrice: "20000", MallName: "A몰"},
			{ProductID: "b", Title: "원목 무드등", LowPrice: "5000", MallName: "B몰"},
			{ProductID: "c", Title: "LED 무드등", LowPrice: "25000", MallName: "C몰"},
			{ProductID: "d", Title: "가격없는 무드등", LowPrice: "", MallName: "D몰"},
		}},
	}
	recent := source.NewRecentIndex(&fakeStore{titles: []string{"[특가] 감성 무드등 조명"}}, 10, time.Minute)
	m := source.NewMarketplace(api, &permits{left: 2}, recent, source.MarketplaceOptions{}, nil)

	out, err := m.Fetch(context.Background(), source.Query{
		Keyword: "무드등",
		Price:   models.PriceRange{Min: 10000, Max: 30000},
		Need:    2,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "c", out[0].ExternalID)
	require.Equal(t, source.MarketplaceScore, out[0].Score)
	// A short page ends pagination.
	require.Equal(t, 1, api.calls)
}

func TestMarketplaceKeepsPagesFetchedBeforeQuotaRunsOut(t *testing.T) {
	api := &fakeSearcher{
		available: true,
		pageSize:  2,
		pages: [][]marketplace.Item{
			{
				{ProductID: "a", Title: "무드등 하나", LowPrice: "1000"},
				{ProductID: "b", Title: "무드등 둘", LowPrice: "1000"},
			},
			{
				{ProductID: "c", Title: "무드등 셋", LowPrice: "1000"},
			},
		},
	}
	m := source.NewMarketplace(api, &permits{left: 1}, nil, source.MarketplaceOptions{MaxPages: 2}, nil)

	out, err := m.Fetch(context.Background(), source.Query{Keyword: "무드등", Need: 5})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, 1, api.calls)
}

func TestRecentIndexRefreshesAfterTTL(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	st := &fakeStore{titles: []string{"감성 무드등"}}
	idx := source.NewRecentIndex(st, 10, time.Minute).WithClock(func() time.Time { return now })
	ctx := context.Background()

	titles, err := idx.Titles(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"감성 무드등"}, titles)

	_, err = idx.Titles(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, st.titleCalls)

	now = now.Add(2 * time.Minute)
	st.titlesErr = errors.New("db down")
	titles, err = idx.Titles(ctx)
	require.Error(t, err)
	require.Equal(t, []string{"감성 무드등"}, titles)
	require.Equal(t, 2, st.titleCalls)

	require.True(t, source.Known(titles, "감성 무드등 [무료배송]", 0.9))
	require.False(t, source.Known(titles, "원목 스탠드", 0.9))
}

func TestGlobalPoolRanksByKeywordsAndAffinity(t *testing.T) {
	st := &fakeStore{products: []models.Product{
		{ID: 1, Title: "키즈 무드등"},
		{ID: 2, Title: "무드등 디퓨저 향수"},
		{ID: 3, Title: "크리스탈 와인잔"},
		{ID: 4, Title: "무드등 스탠드", AgeGroup: "30대"},
		{ID: 5, Title: "무드등 램프"},
	}}
	pool := source.NewGlobalPool(st, 0)

	out, err := pool.Fetch(context.Background(), source.Query{
		Keywords: []string{"무드등", "향수"},
		Hints:    models.Hints{Age: "30대"},
		Exclude:  []int64{5},
	})
	require.NoError(t, err)
	require.Len(t, out, 3)

	require.EqualValues(t, 2, out[0].ProductID)
	require.InDelta(t, 0.2, out[0].Score, 1e-9)
	require.EqualValues(t, 4, out[1].ProductID)
	require.InDelta(t, 0.15, out[1].Score, 1e-9)
	require.EqualValues(t, 1, out[2].ProductID)
	require.InDelta(t, 0.05, out[2].Score, 1e-9)
	require.Equal(t, models.SourceGlobalPool, out[2].Source)
}
