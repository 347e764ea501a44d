package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
)

var (
	ErrNotFound = errors.New("product not found")
	ErrInvalid  = errors.New("invalid product")
)

type Repo struct{ DB *pgxpool.Pool }

func validate(p *Product) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	// color and size are matched verbatim against order lines, so only surrounding space is dropped
	colors := map[string]bool{}
	for i := range p.Variants {
		v := &p.Variants[i]
		v.Color = strings.TrimSpace(v.Color)
		if v.Color == "" || colors[v.Color] {
			return fmt.Errorf("%w: variant colors must be set and unique", ErrInvalid)
		}
		colors[v.Color] = true
		sizes := map[string]bool{}
		for j := range v.Sizes {
			s := &v.Sizes[j]
			s.Size = strings.TrimSpace(s.Size)
			if s.Size == "" || sizes[s.Size] {
				return fmt.Errorf("%w: sizes of %s must be set and unique", ErrInvalid, v.Color)
			}
			if s.Quantity < 0 || s.Price.IsNegative() {
				return fmt.Errorf("%w: %s/%s quantity and price must not be negative", ErrInvalid, v.Color, s.Size)
			}
			sizes[s.Size] = true
		}
	}
	return nil
}

// Create stores the product with all of its variants and size options.
func (r *Repo) Create(ctx context.Context, p *Product) error {
	if err := validate(p); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Images == nil {
		p.Images = []string{}
	}
	now := time.Now().UTC()

	err := postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO products (id, name, description, category, images, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)`,
			p.ID, p.Name, p.Description, p.Category, p.Images, now); err != nil {
			return fmt.Errorf("insert product: %w", err)
		}
		for _, v := range p.Variants {
			images := v.Images
			if images == nil {
				images = []string{}
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO product_variants (product_id, color, images) VALUES ($1, $2, $3)`,
				p.ID, v.Color, images); err != nil {
				return fmt.Errorf("insert variant %s: %w", v.Color, err)
			}
			for _, s := range v.Sizes {
				if _, err := tx.Exec(ctx, `
					INSERT INTO product_sizes (product_id, color, size, quantity, price)
					VALUES ($1, $2, $3, $4, $5::text::numeric)`,
					p.ID, v.Color, s.Size, s.Quantity, s.Price.StringFixed(2)); err != nil {
					return fmt.Errorf("insert size %s/%s: %w", v.Color, s.Size, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

func (r *Repo) Get(ctx context.Context, id string) (*Product, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var p Product
	err := r.DB.QueryRow(ctx, `
		SELECT id, name, description, category, images, created_at, updated_at
		FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Images, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := []Product{p}
	if err := r.loadVariants(ctx, out); err != nil {
		return nil, err
	}
	return &out[0], nil
}

func (r *Repo) List(ctx context.Context, q Query) ([]Product, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	search := strings.TrimSpace(q.Q)

	rows, err := r.DB.Query(ctx, `
		SELECT id, name, description, category, images, created_at, updated_at
		FROM products
		WHERE ($1 = '' OR name ILIKE '%'||$1||'%' OR category ILIKE '%'||$1||'%')
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, search, limit, offset)
	if err != nil {
		return nil, err
	}
	out := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Images, &p.CreatedAt, &p.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadVariants(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Quantity reports the stock of one size option.
func (r *Repo) Quantity(ctx context.Context, productID, color, size string) (int, error) {
	if _, err := uuid.Parse(productID); err != nil {
		return 0, ErrNotFound
	}
	var n int
	err := r.DB.QueryRow(ctx, `
		SELECT quantity FROM product_sizes
		WHERE product_id = $1 AND color = $2 AND size = $3`, productID, color, size).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return n, err
}

func (r *Repo) loadVariants(ctx context.Context, ps []Product) error {
	if len(ps) == 0 {
		return nil
	}
	ids := make([]string, len(ps))
	idx := make(map[string]int, len(ps))
	for i := range ps {
		ids[i] = ps[i].ID
		idx[ps[i].ID] = i
		ps[i].Variants = []Variant{}
	}

	rows, err := r.DB.Query(ctx, `
		SELECT product_id::text, color, images FROM product_variants
		WHERE product_id = ANY($1::uuid[])
		ORDER BY product_id, color`, ids)
	if err != nil {
		return err
	}
	for rows.Next() {
		var (
			pid string
			v   Variant
		)
		if err := rows.Scan(&pid, &v.Color, &v.Images); err != nil {
			rows.Close()
			return err
		}
		v.Sizes = []SizeOption{}
		ps[idx[pid]].Variants = append(ps[idx[pid]].Variants, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = r.DB.Query(ctx, `
		SELECT product_id::text, color, size, quantity, price::text FROM product_sizes
		WHERE product_id = ANY($1::uuid[])
		ORDER BY product_id, color, size`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			pid, color, price string
			s                 SizeOption
		)
		if err := rows.Scan(&pid, &color, &s.Size, &s.Quantity, &price); err != nil {
			return err
		}
		if s.Price, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("parse price: %w", err)
		}
		vs := ps[idx[pid]].Variants
		for i := range vs {
			if vs[i].Color == color {
				vs[i].Sizes = append(vs[i].Sizes, s)
				break
			}
		}
	}
	return rows.Err()
}
