package models

import (
	"math"
	"strconv"
	"strings"
)

// SourceKind names the origin of a candidate.
type SourceKind string

const (
	SourceExact       SourceKind = "exact"
	SourceVector      SourceKind = "vector"
	SourceMarketplace SourceKind = "marketplace"
	SourceGlobalPool  SourceKind = "global_pool"
)

// Candidate is a read-only snapshot of a product considered for recommendation.
// It is built fresh for each request and never mutated after creation.
type Candidate struct {
	ProductID  int64      `json:"product_id,omitempty"`
	ExternalID string     `json:"external_id,omitempty"`
	Title      string     `json:"title"`
	RawTitle   string     `json:"raw_title,omitempty"`
	Price      int        `json:"price"`
	Seller     string     `json:"seller,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	ImageURL   string     `json:"image_url,omitempty"`
	DetailURL  string     `json:"detail_url,omitempty"`
	Score      float64    `json:"score"`
	Source     SourceKind `json:"source"`
}

// Key returns the identity used for de-duplication: the store id, then the
// marketplace id, then the detail URL, then the lowercased title.
func (c Candidate) Key() string {
	switch {
	case c.ProductID > 0:
		return "p:" + strconv.FormatInt(c.ProductID, 10)
	case c.ExternalID != "":
		return "x:" + c.ExternalID
	case c.DetailURL != "":
		return "u:" + c.DetailURL
	default:
		return "t:" + strings.ToLower(strings.TrimSpace(c.Title))
	}
}

// WithScore returns a copy of c carrying a different score.
func (c Candidate) WithScore(score float64) Candidate {
	c.Tags = append([]string(nil), c.Tags...)
	c.Score = score
	return c
}

// PriceRange bounds candidate prices. Zero Max means unbounded.
type PriceRange struct {
	Min int `json:"min_price"`
	Max int `json:"max_price"`
}

// Contains reports whether price falls inside the range.
func (p PriceRange) Contains(price int) bool {
	if price < p.Min {
		return false
	}
	return p.Max <= 0 || price <= p.Max
}

// Loosen widens both bounds by the given fraction (0.15 widens by 15%).
func (p PriceRange) Loosen(slack float64) PriceRange {
	if slack <= 0 {
		return p
	}
	out := PriceRange{Min: int(math.Round(float64(p.Min) * (1 - slack)))}
	if out.Min < 0 {
		out.Min = 0
	}
	if p.Max > 0 {
		out.Max = int(math.Round(float64(p.Max) * (1 + slack)))
	}
	return out
}

// Hints carries the free-text demographic context supplied with a request.
type Hints struct {
	Age        string `json:"age,omitempty"`
	Gender     string `json:"gender,omitempty"`
	Occasion   string `json:"occasion,omitempty"`
	Preference string `json:"preference,omitempty"`
}
