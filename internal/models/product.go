package models

import "time"

// Product is a row of the exact-match store.
type Product struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	RawTitle  string    `json:"raw_title"`
	Price     int       `json:"price"`
	Seller    string    `json:"seller"`
	Category  string    `json:"category"`
	Tags      []string  `json:"tags"`
	ImageURL  string    `json:"image_url"`
	DetailURL string    `json:"detail_url"`
	Gender    string    `json:"gender"`
	AgeGroup  string    `json:"age_group"`
	Confirmed bool      `json:"confirmed"`
	CreatedAt time.Time `json:"created_at"`
}

// Candidate snapshots the product with the given source and score.
func (p Product) Candidate(source SourceKind, score float64) Candidate {
	tags := make([]string, 0, len(p.Tags)+1)
	tags = append(tags, p.Tags...)
	if p.Category != "" {
		tags = append(tags, p.Category)
	}
	return Candidate{
		ProductID: p.ID,
		Title:     p.Title,
		RawTitle:  p.RawTitle,
		Price:     p.Price,
		Seller:    p.Seller,
		Tags:      tags,
		ImageURL:  p.ImageURL,
		DetailURL: p.DetailURL,
		Score:     score,
		Source:    source,
	}
}

// VectorDocument is the shape stored in the vector index.
type VectorDocument struct {
	ProductID int64     `json:"product_id"`
	Price     int       `json:"price"`
	Embedding []float32 `json:"embedding"`
	IndexedAt time.Time `json:"indexed_at"`
}
