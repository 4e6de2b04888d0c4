package composer

import (
	"strconv"
	"strings"
	"time"

	"github.com/joao-fontenele/orderdesk/internal/domain"
)

type Draft struct {
	Date       string             `json:"date"`
	CustomerID *int64             `json:"customer_id"`
	Lines      []domain.OrderLine `json:"lines"`
}

func newDraft(now time.Time) Draft {
	return Draft{Date: now.Format(time.DateOnly), Lines: []domain.OrderLine{}}
}

func (d Draft) clone() Draft {
	out := d
	if d.CustomerID != nil {
		id := *d.CustomerID
		out.CustomerID = &id
	}
	out.Lines = append([]domain.OrderLine(nil), d.Lines...)
	if out.Lines == nil {
		out.Lines = []domain.OrderLine{}
	}
	return out
}

// Quantity returns the quantity of productID, 0 when there is no line.
func (d Draft) Quantity(productID int64) int {
	for _, line := range d.Lines {
		if line.ProductID == productID {
			return line.Quantity
		}
	}
	return 0
}

func (d *Draft) setLine(productID int64, quantity int) {
	for i := range d.Lines {
		if d.Lines[i].ProductID == productID {
			d.Lines[i].Quantity = quantity
			return
		}
	}
	d.Lines = append(d.Lines, domain.OrderLine{ProductID: productID, Quantity: quantity})
}

func (d Draft) hasLine(productID int64) bool {
	for _, line := range d.Lines {
		if line.ProductID == productID {
			return true
		}
	}
	return false
}

// orderedLines returns the lines that are part of the order, those with a
// positive quantity whose product is in catalog, in draft order. A line the
// total cannot price is never sent.
func (d Draft) orderedLines(catalog map[int64]domain.Product) []domain.OrderLine {
	out := make([]domain.OrderLine, 0, len(d.Lines))
	for _, line := range d.Lines {
		if line.Quantity <= 0 {
			continue
		}
		if _, ok := catalog[line.ProductID]; !ok {
			continue
		}
		out = append(out, line)
	}
	return out
}

func (d Draft) payload(catalog map[int64]domain.Product) domain.OrderPayload {
	var customerID int64
	if d.CustomerID != nil {
		customerID = *d.CustomerID
	}
	return domain.OrderPayload{
		Date:       strings.TrimSpace(d.Date),
		CustomerID: customerID,
		Products:   d.orderedLines(catalog),
	}
}

// ParseQuantity reads the leading integer of raw, so "3", " 3 " and "3.7"
// all give 3. Anything unparsable, negative or out of range gives 0.
func ParseQuantity(raw string) int {
	s := strings.TrimSpace(raw)

	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digitsStart := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digitsStart {
		return 0
	}

	n, err := strconv.Atoi(s[:end])
	if err != nil || n < 0 {
		return 0
	}
	return n
}
