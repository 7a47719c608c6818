package recommend

import (
	"log/slog"
	"strings"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/models"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/textnorm"
)

const (
	rejectDuplicate     = "duplicate"
	rejectNoKeyword     = "no_keyword_match"
	rejectNearDuplicate = "near_duplicate"
	rejectSellerCap     = "seller_cap"
)

// filterGate is the single acceptance point for every candidate of a request.
// It lives for the whole request, top-up included.
type filterGate struct {
	keywords     []string
	cutoff       float64
	maxPerSeller int
	log          *slog.Logger

	keys     map[string]struct{}
	titles   []string // normalized titles of accepted candidates
	sellers  map[string]int
	accepted []models.Candidate
}

func newFilterGate(keywords []string, cutoff float64, maxPerSeller int, logger *slog.Logger) *filterGate {
	return &filterGate{
		keywords:     keywords,
		cutoff:       cutoff,
		maxPerSeller: maxPerSeller,
		log:          logger,
		keys:         make(map[string]struct{}),
		sellers:      make(map[string]int),
	}
}

// admit accepts c and returns "" or reports why it was rejected.
func (g *filterGate) admit(c models.Candidate) string {
	key := c.Key()
	if _, dup := g.keys[key]; dup {
		return g.reject(c, rejectDuplicate)
	}
	if !g.matchesKeyword(c) {
		return g.reject(c, rejectNoKeyword)
	}

	norm := textnorm.Normalize(c.Title)
	for _, t := range g.titles {
		if textnorm.Similarity(norm, t) >= g.cutoff {
			return g.reject(c, rejectNearDuplicate)
		}
	}

	seller := sellerKey(c.Seller)
	if seller != "" && g.maxPerSeller > 0 && g.sellers[seller] >= g.maxPerSeller {
		return g.reject(c, rejectSellerCap)
	}

	g.keys[key] = struct{}{}
	g.titles = append(g.titles, norm)
	if seller != "" {
		g.sellers[seller]++
	}
	g.accepted = append(g.accepted, c)
	return ""
}

func (g *filterGate) matchesKeyword(c models.Candidate) bool {
	for _, kw := range g.keywords {
		if textnorm.ContainsKeyword(c.Title, c.Tags, kw) {
			return true
		}
	}
	return false
}

func (g *filterGate) reject(c models.Candidate, reason string) string {
	g.log.Debug("candidate rejected",
		slog.String("key", c.Key()),
		slog.String("source", string(c.Source)),
		slog.String("reason", reason),
	)
	return reason
}

// storeIDs lists accepted store products so sources can skip them.
func (g *filterGate) storeIDs() []int64 {
	ids := make([]int64, 0, len(g.accepted))
	for _, c := range g.accepted {
		if c.ProductID > 0 {
			ids = append(ids, c.ProductID)
		}
	}
	return ids
}

func sellerKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
