package orderflow

import (
	"encoding/json"
	"html"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

var strict = bluemonday.StrictPolicy()

// clean strips markup from customer-supplied text. The policy entity-escapes the text it keeps,
// so the result is unescaped back to plain characters.
func clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}

// Number is a JSON value that may arrive as a number, a numeric string, or not at all.
type Number struct {
	raw   string
	valid bool
}

func NumberOf(v string) Number { return Number{raw: v, valid: true} }

func (n *Number) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		*n = Number{}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			*n = Number{}
			return nil
		}
		s = strings.TrimSpace(str)
	}
	*n = Number{raw: s, valid: s != ""}
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.raw)
}

func (n Number) Decimal() (decimal.Decimal, bool) {
	if !n.valid {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(n.raw)
	return d, err == nil
}

type ItemInput struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    Number `json:"price"`
	Quantity Number `json:"quantity"`
	Color    string `json:"color"`
	Size     string `json:"size"`
	Image    string `json:"image"`
}

// sanitizeItem coerces price and quantity with defaults instead of rejecting the line:
// quantity falls back to 1 and price to 0. Color and size are only trimmed; they must match the catalog exactly.
func sanitizeItem(in ItemInput) orders.LineItem {
	qty := 1
	if d, ok := in.Quantity.Decimal(); ok && d.IsPositive() {
		if q, err := strconv.Atoi(d.Truncate(0).String()); err == nil && q > 0 {
			qty = q
		}
	}
	price := decimal.Zero
	if d, ok := in.Price.Decimal(); ok && !d.IsNegative() {
		price = d.Round(2)
	}
	return orders.LineItem{
		ProductID: strings.TrimSpace(in.ID),
		Name:      clean(in.Name),
		Price:     price,
		Quantity:  qty,
		Color:     strings.TrimSpace(in.Color),
		Size:      strings.TrimSpace(in.Size),
		Image:     strings.TrimSpace(in.Image),
	}
}

func sanitizeAddress(a orders.Address) orders.Address {
	return orders.Address{
		Name:    clean(a.Name),
		Email:   strings.ToLower(clean(a.Email)),
		Phone:   clean(a.Phone),
		Line1:   clean(a.Line1),
		Line2:   clean(a.Line2),
		City:    clean(a.City),
		State:   clean(a.State),
		Pincode: clean(a.Pincode),
		Country: clean(a.Country),
	}
}
