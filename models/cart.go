package models

import (
	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/shopspring/decimal"
)

// QtyScale is the number of decimal places stored for quantities and stock.
const QtyScale = 4

// cartLine is the part of a submitted line that the cart rules look at.
type cartLine struct {
	productId int
	qty       decimal.Decimal
	unitCents int64
}

// validateCart applies the rules shared by sales and purchases. It runs
// before any read or write.
func validateCart(lines []cartLine, shippingCents int64) error {
	maxItems := config.GetSettings().MaxCartItems
	switch {
	case len(lines) == 0:
		return utils.NewValidationError("EMPTY_CART", "at least one item is required")
	case maxItems > 0 && len(lines) > maxItems:
		return utils.NewValidationError("CART_TOO_LARGE", "a document can have at most %d items", maxItems).
			With("item_count", len(lines))
	case shippingCents < 0:
		return utils.NewValidationError("INVALID_SHIPPING", "shipping cannot be negative")
	}
	for i, l := range lines {
		if l.productId <= 0 {
			return utils.NewValidationError("INVALID_PRODUCT", "item %d has no product", i+1).With("line", i+1)
		}
		if !l.qty.IsPositive() {
			return utils.NewValidationError("INVALID_QUANTITY", "item %d quantity must be greater than zero", i+1).With("line", i+1)
		}
		if !l.qty.Equal(l.qty.Truncate(QtyScale)) {
			return utils.NewValidationError("INVALID_QUANTITY", "item %d quantity can have at most %d decimal places", i+1, QtyScale).
				With("line", i+1)
		}
		if l.unitCents <= 0 {
			return utils.NewValidationError("INVALID_PRICE", "item %d price must be greater than zero", i+1).With("line", i+1)
		}
	}
	return nil
}

func cartPlan(lines []cartLine) stockPlan {
	plan := stockPlan{}
	for _, l := range lines {
		plan.add(l.productId, l.qty)
	}
	return plan
}
