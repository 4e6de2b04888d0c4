package composer

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/joao-fontenele/orderdesk/internal/domain"
)

var fieldMessages = map[string]string{
	FieldDate:     "date required",
	FieldCustomer: "customer required",
	FieldProducts: "at least one product required",
}

var validate = newValidator()

type orderCheck struct {
	Date     string             `json:"date" validate:"required"`
	Customer *int64             `json:"customer" validate:"required"`
	Products []domain.OrderLine `json:"products" validate:"min=1"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	return v
}

// validateDraft only counts lines that resolve in catalog as products.
func validateDraft(d Draft, catalog map[int64]domain.Product) ValidationErrors {
	err := validate.Struct(orderCheck{
		Date:     strings.TrimSpace(d.Date),
		Customer: d.CustomerID,
		Products: d.orderedLines(catalog),
	})
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ValidationErrors{"draft": err.Error()}
	}

	out := make(ValidationErrors, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Field()
		if msg, ok := fieldMessages[field]; ok {
			out[field] = msg
			continue
		}
		out[field] = field + " is invalid"
	}
	return out
}
