package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

type SizeOption struct {
	Size     string          `json:"size"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// Variant groups the size options of one color.
type Variant struct {
	Color  string       `json:"color"`
	Images []string     `json:"images,omitempty"`
	Sizes  []SizeOption `json:"sizes"`
}

type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	Images      []string  `json:"images,omitempty"`
	Variants    []Variant `json:"variants"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Query struct {
	Q      string
	Limit  int
	Offset int
}

type ListResponse struct {
	Q      string    `json:"q,omitempty"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
	Items  []Product `json:"items"`
}
