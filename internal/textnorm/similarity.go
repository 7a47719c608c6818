package textnorm

import "strings"

const (
	// MergeCutoff screens candidates against the request's accepted set.
	MergeCutoff = 0.85
	// MarketplaceCutoff screens marketplace items against recent store titles.
	MarketplaceCutoff = 0.90
)

// Similarity is the Jaccard index of the word sets of two normalized titles.
// Two empty titles have nothing in common and score 0.
func Similarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	inter := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

// NearDuplicate normalizes both titles and compares them against cutoff.
func NearDuplicate(titleA, titleB string, cutoff float64) bool {
	return Similarity(Normalize(titleA), Normalize(titleB)) >= cutoff
}

// ContainsKeyword reports a case-insensitive containment of keyword in the
// title or in any of the tags.
func ContainsKeyword(title string, tags []string, keyword string) bool {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return false
	}
	if strings.Contains(strings.ToLower(title), kw) {
		return true
	}
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag), kw) {
			return true
		}
	}
	return false
}

func wordSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
