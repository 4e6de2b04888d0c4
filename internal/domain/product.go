package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrNegativePrice = errors.New("price must not be negative")

type Product struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type productJSON struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Price json.RawMessage `json:"price"`
}

// UnmarshalJSON accepts the price as a JSON number, a plain decimal string or
// a currency string such as "$19.99".
func (p *Product) UnmarshalJSON(data []byte) error {
	var raw productJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	price, err := ParsePrice(raw.Price)
	if err != nil {
		return fmt.Errorf("product %d: %w", raw.ID, err)
	}

	*p = Product{ID: raw.ID, Name: raw.Name, Price: price}
	return nil
}

// MarshalJSON writes the price with at least two decimals and never rounds
// it, so cached catalogs decode to the exact prices the API sent.
func (p Product) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		Price string `json:"price"`
	}{p.ID, p.Name, formatPrice(p.Price)})
}

func formatPrice(price decimal.Decimal) string {
	places := int32(2)
	if exp := -price.Exponent(); exp > places {
		places = exp
	}
	return price.StringFixed(places)
}

func ParsePrice(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Decimal{}, errors.New("missing price")
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return decimal.Decimal{}, fmt.Errorf("decode price: %w", err)
		}
		text = strings.TrimSpace(text)
		text = strings.TrimPrefix(text, "$")
		text = strings.ReplaceAll(text, ",", "")
	}

	price, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse price %q: %w", text, err)
	}
	if price.IsNegative() {
		return decimal.Decimal{}, ErrNegativePrice
	}

	return price, nil
}
