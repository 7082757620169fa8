package models

import (
	"time"

	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Product stock is changed only through ApplyStockDelta.
type Product struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"size:64;index;not null" json:"business_id"`
	Name       string          `gorm:"size:255;not null" json:"name"`
	Sku        string          `gorm:"size:100" json:"sku"`
	Stock      decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"stock"`
	PriceCents int64           `gorm:"not null" json:"price_cents"`
	CostCents  int64           `gorm:"not null;default:0" json:"cost_cents"`
	TaxRateBp  int64           `gorm:"not null" json:"tax_rate_bp"`
	IsActive   *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Product) Active() bool {
	return p.IsActive == nil || *p.IsActive
}

// loadProducts reads the tenant's products by id. Any id missing from the
// tenant is NotFound.
func loadProducts(tx *gorm.DB, businessId string, ids []int) (map[int]*Product, error) {
	ids = utils.UniqueSlice(ids)
	q := tx.Where("business_id = ? AND id IN ?", businessId, ids)
	if config.PessimisticStockLocking() {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var products []*Product
	if err := q.Find(&products).Error; err != nil {
		return nil, err
	}
	byId := make(map[int]*Product, len(products))
	for _, p := range products {
		byId[p.ID] = p
	}
	for _, id := range ids {
		if _, ok := byId[id]; !ok {
			return nil, utils.NewNotFound("product").With("product_id", id)
		}
	}
	return byId, nil
}

// ensureActive rejects carts that reference inactive products. Products
// already on a document may be reversed while inactive.
func ensureActive(products map[int]*Product, ids []int) error {
	for _, id := range ids {
		if p := products[id]; p != nil && !p.Active() {
			return utils.NewValidationError("INACTIVE_PRODUCT", "product %q is inactive", p.Name).With("product_id", id)
		}
	}
	return nil
}

// updateProductCost writes the latest purchase net cost to the catalog.
func updateProductCost(tx *gorm.DB, businessId string, productId int, costCents int64) error {
	res := tx.Model(&Product{}).
		Where("id = ? AND business_id = ?", productId, businessId).
		Update("cost_cents", costCents)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.NewNotFound("product").With("product_id", productId)
	}
	return nil
}
