package textnorm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/textnorm"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "brackets and set marker", input: "[특가] 무드등 감성조명 세트", want: "무드등 감성조명"},
		{name: "digit unit", input: "무드등 감성조명 1개", want: "무드등 감성조명"},
		{name: "parens and braces", input: "텀블러 (블랙) {한정} 500ml", want: "텀블러"},
		{name: "bundle marker", input: "핸드크림 1+1 기획", want: "핸드크림 기획"},
		{name: "bundle marker spaced", input: "핸드크림 2 + 1", want: "핸드크림"},
		{name: "english phrase", input: "Free Shipping Leather Wallet BESTSELLER", want: "leather wallet"},
		{name: "decorative symbols", input: "★향수★ ♥선물용♥ ~~", want: "향수 선물용"},
		{name: "html tags from marketplace", input: "<b>무드등</b> 인테리어", want: "무드등 인테리어"},
		{name: "full width", input: "ＡＢＣ 머그컵", want: "abc 머그컵"},
		{name: "whitespace", input: "  커피\t\n  드립백  ", want: "커피 드립백"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, textnorm.Normalize(tt.input))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"[특가] 무드등 감성조명 세트",
		"free 1+1 shipping 머그컵",
		"best [x] seller 텀블러",
		"&lt;b&gt;캔들&lt;/b&gt; 3개입",
		"【무료배송】 향수 50ml (2종)",
		"ＡＢＣ ①번 상품",
	}
	for _, in := range inputs {
		once := textnorm.Normalize(in)
		require.Equal(t, once, textnorm.Normalize(once), "input %q", in)
	}
}

func TestSimilarity(t *testing.T) {
	require.Equal(t, 1.0, textnorm.Similarity("무드등 감성조명", "무드등 감성조명"))
	require.Equal(t, 0.0, textnorm.Similarity("", ""))
	require.Equal(t, 0.0, textnorm.Similarity("무드등", ""))
	require.InDelta(t, 1.0/3.0, textnorm.Similarity("a b", "b c"), 1e-9)
	require.Equal(t, 0.0, textnorm.Similarity("a b", "c d"))
}

func TestNearDuplicate(t *testing.T) {
	first := "[특가] 무드등 감성조명 세트"
	second := "무드등 감성조명 1개"
	require.True(t, textnorm.NearDuplicate(first, second, textnorm.MergeCutoff))
	require.False(t, textnorm.NearDuplicate("무드등 감성조명", "무드등 수면등 조명", textnorm.MergeCutoff))
}

func TestContainsKeyword(t *testing.T) {
	require.True(t, textnorm.ContainsKeyword("Leather Wallet", nil, "wallet"))
	require.True(t, textnorm.ContainsKeyword("지갑", []string{"가죽", "패션잡화"}, "잡화"))
	require.False(t, textnorm.ContainsKeyword("지갑", []string{"가죽"}, "시계"))
	require.False(t, textnorm.ContainsKeyword("지갑", nil, "  "))
}

func TestStripMarkup(t *testing.T) {
	require.Equal(t, "감성 무드등 & 조명", textnorm.StripMarkup("감성 <b>무드등</b> &amp; 조명 "))
	require.Equal(t, "", textnorm.StripMarkup(""))
}
