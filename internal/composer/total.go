package composer

import (
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/orderdesk/internal/domain"
)

type Total struct {
	Amount decimal.Decimal
	// Missing lists product ids with a positive quantity that the catalog no
	// longer contains. They are left out of Amount.
	Missing []int64
}

func (t Total) String() string {
	return t.Amount.StringFixed(2)
}

// ComputeTotal sums price * quantity over the lines with a positive
// quantity. It never fails: a line whose product is absent from catalog is
// skipped and reported in Missing.
func ComputeTotal(lines []domain.OrderLine, catalog map[int64]domain.Product) Total {
	total := Total{Amount: decimal.Zero}
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		product, ok := catalog[line.ProductID]
		if !ok {
			total.Missing = append(total.Missing, line.ProductID)
			continue
		}
		total.Amount = total.Amount.Add(product.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}

func indexProducts(products []domain.Product) map[int64]domain.Product {
	index := make(map[int64]domain.Product, len(products))
	for _, p := range products {
		index[p.ID] = p
	}
	return index
}
