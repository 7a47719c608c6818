// Package textnorm canonicalizes product titles and scores near-duplicates.
package textnorm

import (
	"html"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	htmlTag     = regexp.MustCompile(`<[^>]*>`)
	bracketed   = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)|\{[^}]*\}|【[^】]*】|「[^」]*」|〔[^〕]*〕|『[^』]*』`)
	bundle      = regexp.MustCompile(`\d+\s*\+\s*\d+`)
	symbols     = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	digitUnit   = regexp.MustCompile(`^\d+(\.\d+)?(개입|개|ml|l|g|kg|mg|매|입|팩|p|pcs|ea|세트|종|cm|mm|m|oz|구|인용|박스|box|병|캔|장|켤레|족|봉|롤|포|정|알|호)$`)
	whitespaces = regexp.MustCompile(`\s+`)
)

// stopwords holds single-token marketing noise.
var stopwords = map[string]struct{}{
	"무료배송": {}, "무배": {}, "당일발송": {}, "당일배송": {}, "빠른배송": {}, "특가": {}, "초특가": {},
	"최저가": {}, "할인": {}, "세일": {}, "베스트": {}, "베스트셀러": {}, "인기": {}, "인기상품": {},
	"신상": {}, "신상품": {}, "정품": {}, "사은품": {}, "증정": {}, "한정": {}, "한정판매": {},
	"세트": {}, "선물세트": {}, "묶음": {}, "대용량": {}, "국내배송": {}, "추천": {}, "단독": {},
	"bestseller": {}, "best": {}, "hot": {}, "new": {}, "sale": {}, "set": {}, "event": {},
}

// stopPhrases holds multi-token marketing noise, matched on adjacent tokens.
var stopPhrases = [][]string{
	{"free", "shipping"},
	{"best", "seller"},
	{"무료", "배송"},
	{"당일", "발송"},
	{"사은품", "증정"},
}

// Normalize strips bracketed text, decorative symbols, marketing tokens and
// quantity tokens, then collapses whitespace and lowercases.
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(title string) string {
	if title == "" {
		return ""
	}
	s := norm.NFKC.String(html.UnescapeString(title))
	s = htmlTag.ReplaceAllString(s, " ")
	s = bracketed.ReplaceAllString(s, " ")
	s = norm.NFKC.String(strings.ToLower(s))
	s = bundle.ReplaceAllString(s, " ")
	s = symbols.ReplaceAllString(s, " ")

	tokens := make([]string, 0, 8)
	for _, token := range strings.Fields(s) {
		if _, skip := stopwords[token]; skip {
			continue
		}
		if digitUnit.MatchString(token) {
			continue
		}
		tokens = append(tokens, token)
	}
	tokens = dropPhrases(tokens)

	return whitespaces.ReplaceAllString(strings.Join(tokens, " "), " ")
}

// dropPhrases removes stop phrases until none remain adjacent.
func dropPhrases(tokens []string) []string {
	for {
		out, removed := dropPhrasesOnce(tokens)
		if !removed {
			return out
		}
		tokens = out
	}
}

func dropPhrasesOnce(tokens []string) ([]string, bool) {
	out := make([]string, 0, len(tokens))
	removed := false
	for i := 0; i < len(tokens); {
		if n := phraseAt(tokens, i); n > 0 {
			i += n
			removed = true
			continue
		}
		out = append(out, tokens[i])
		i++
	}
	return out, removed
}

func phraseAt(tokens []string, i int) int {
	for _, phrase := range stopPhrases {
		if i+len(phrase) > len(tokens) {
			continue
		}
		match := true
		for j, word := range phrase {
			if tokens[i+j] != word {
				match = false
				break
			}
		}
		if match {
			return len(phrase)
		}
	}
	return 0
}

// StripMarkup unescapes HTML entities and drops tags such as the <b> highlight
// markers marketplace APIs wrap around matched words. The result is meant for
// display, not comparison.
func StripMarkup(s string) string {
	s = htmlTag.ReplaceAllString(html.UnescapeString(s), "")
	return strings.TrimSpace(whitespaces.ReplaceAllString(s, " "))
}
