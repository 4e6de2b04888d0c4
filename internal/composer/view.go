package composer

import (
	"slices"

	"github.com/joao-fontenele/orderdesk/internal/domain"
)

// View is a point-in-time snapshot of everything a front end needs to render
// the order form.
type View struct {
	ID              string            `json:"id"`
	State           State             `json:"state"`
	Submitting      bool              `json:"submitting"`
	Draft           Draft             `json:"draft"`
	Total           string            `json:"total"`
	MissingProducts []int64           `json:"missing_products,omitempty"`
	Errors          ValidationErrors  `json:"errors,omitempty"`
	CatalogErrors   map[string]string `json:"catalog_errors,omitempty"`
	Message         string            `json:"message,omitempty"`
	SubmitError     string            `json:"submit_error,omitempty"`
	Products        []domain.Product  `json:"products"`
	Customers       []domain.Customer `json:"customers"`
}

func (c *Composer) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		ID:              c.id,
		State:           c.state,
		Submitting:      c.submitting,
		Draft:           c.draft.clone(),
		Total:           c.total.String(),
		MissingProducts: slices.Clone(c.total.Missing),
		Message:         c.message,
		Products:        slices.Clone(c.catalog),
		Customers:       slices.Clone(c.customerList),
	}
	if v.Products == nil {
		v.Products = []domain.Product{}
	}
	if v.Customers == nil {
		v.Customers = []domain.Customer{}
	}
	if len(c.errors) > 0 {
		v.Errors = make(ValidationErrors, len(c.errors))
		for field, msg := range c.errors {
			v.Errors[field] = msg
		}
	}
	if len(c.catalogErrs) > 0 {
		v.CatalogErrors = make(map[string]string, len(c.catalogErrs))
		for catalog, err := range c.catalogErrs {
			v.CatalogErrors[catalog] = err.Err.Error()
		}
	}
	if c.submitErr != nil {
		v.SubmitError = c.submitErr.Err.Error()
	}
	return v
}
