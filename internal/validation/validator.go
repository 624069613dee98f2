package validation

import (
	"fmt"
	"math"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// the claimed total must equal unit price times quantity
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})

	return v
}

// createOrderStructValidation compares totals in cents to avoid float drift.
func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	sum := float64(req.Quantity) * req.UnitPrice
	sumCents := int(math.Round(sum * 100))
	totalCents := int(math.Round(req.TotalAmount * 100))
	if sumCents != totalCents {
		sl.ReportError(req.TotalAmount, "total_amount", "TotalAmount", "total_matches_price",
			fmt.Sprintf("unit_price x quantity %.2f != total_amount %.2f", sum, req.TotalAmount))
	}
}
