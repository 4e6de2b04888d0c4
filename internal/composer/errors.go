package composer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrSubmitInFlight = errors.New("order submission already in flight")
	ErrComposerClosed = errors.New("composer closed")
	ErrUnknownProduct = errors.New("product not in catalog")
)

const (
	FieldDate     = "date"
	FieldCustomer = "customer"
	FieldProducts = "products"
)

const (
	CatalogProducts  = "products"
	CatalogCustomers = "customers"
)

// ValidationErrors maps a draft field to the message shown next to it.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for field := range v {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+v[field])
	}
	return "invalid order: " + strings.Join(parts, "; ")
}

type CatalogLoadError struct {
	Catalog string
	Err     error
}

func (e *CatalogLoadError) Error() string {
	return fmt.Sprintf("load %s catalog: %v", e.Catalog, e.Err)
}

func (e *CatalogLoadError) Unwrap() error {
	return e.Err
}

// SubmissionError means the order sink rejected or failed the order. The
// draft is left as it was so the operator can retry.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit order: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}
