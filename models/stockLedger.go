package models

import (
	"fmt"
	"sort"

	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ApplyStockDelta moves a product's stock by a signed quantity with a single
// relative UPDATE, so concurrent deltas never overwrite each other. It does
// not check sufficiency; callers do that first. A product that is absent or
// belongs to another tenant is NotFound. The sum is rounded to QtyScale so a
// store that computes in floating point keeps the column's exact value.
func ApplyStockDelta(tx *gorm.DB, businessId string, productId int, delta decimal.Decimal) error {
	res := tx.Model(&Product{}).
		Where("id = ? AND business_id = ?", productId, businessId).
		Update("stock", gorm.Expr(fmt.Sprintf("ROUND(stock + ?, %d)", QtyScale), delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.NewNotFound("product").With("product_id", productId)
	}
	return nil
}

// stockPlan is the net quantity a document moves per product.
type stockPlan map[int]decimal.Decimal

func (p stockPlan) add(productId int, qty decimal.Decimal) {
	p[productId] = p[productId].Add(qty)
}

func (p stockPlan) productIds() []int {
	ids := make([]int, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// checkStockOutflow verifies that taking out[id] from every product leaves
// stock >= 0, counting back[id] as returned first. Lines of the same product
// are checked cumulatively.
func checkStockOutflow(products map[int]*Product, out stockPlan, back stockPlan) error {
	for _, id := range out.productIds() {
		need := out[id]
		if !need.IsPositive() {
			continue
		}
		p, ok := products[id]
		if !ok {
			return utils.NewNotFound("product").With("product_id", id)
		}
		available := p.Stock.Add(back[id])
		if available.LessThan(need) {
			return utils.NewConflict("INSUFFICIENT_STOCK", "insufficient stock for %q: %s available, %s required",
				p.Name, available.String(), need.String()).
				With("product_id", id)
		}
	}
	return nil
}
