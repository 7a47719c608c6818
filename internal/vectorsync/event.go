// Package vectorsync keeps the vector index eventually consistent with the
// product store. Products are published after their transaction commits and
// indexed by the worker; until then they are absent from vector search.
package vectorsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/models"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/textnorm"
)

// Op is the change carried by an event.
type Op string

const (
	OpSaved   Op = "saved"
	OpDeleted Op = "deleted"
)

// Event is one outbox message.
type Event struct {
	ID         string    `json:"id"`
	Op         Op        `json:"op"`
	ProductID  int64     `json:"product_id"`
	Title      string    `json:"title,omitempty"`
	Category   string    `json:"category,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	Price      int       `json:"price,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SavedEvent describes a committed insert or update of p.
func SavedEvent(p models.Product, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Op:         OpSaved,
		ProductID:  p.ID,
		Title:      p.Title,
		Category:   p.Category,
		Tags:       append([]string(nil), p.Tags...),
		Price:      p.Price,
		OccurredAt: at.UTC(),
	}
}

// DeletedEvent describes a committed delete.
func DeletedEvent(productID int64, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Op:         OpDeleted,
		ProductID:  productID,
		OccurredAt: at.UTC(),
	}
}

// Decode parses and validates a message payload.
func Decode(raw []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if e.ProductID <= 0 {
		return Event{}, errors.New("decode event: missing product id")
	}
	switch e.Op {
	case OpSaved:
		if strings.TrimSpace(e.Title) == "" {
			return Event{}, errors.New("decode event: saved event without title")
		}
	case OpDeleted:
	default:
		return Event{}, fmt.Errorf("decode event: unknown op %q", e.Op)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return e, nil
}

// EmbeddingText is the text embedded for a saved product.
func (e Event) EmbeddingText() string {
	parts := []string{textnorm.StripMarkup(e.Title)}
	if c := strings.TrimSpace(e.Category); c != "" {
		parts = append(parts, c)
	}
	if len(e.Tags) > 0 {
		parts = append(parts, strings.Join(e.Tags, ", "))
	}
	return strings.Join(parts, " | ")
}
