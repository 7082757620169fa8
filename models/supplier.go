package models

import (
	"time"

	"github.com/mmdatafocus/retail_backend/utils"
	"gorm.io/gorm"
)

type Supplier struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"size:64;not null;index" json:"business_id"`
	Name       string    `gorm:"size:100;not null" json:"name"`
	DiscountBp int64     `gorm:"not null;default:0" json:"discount_bp"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// resolveSupplier returns nil for purchases without a supplier.
func resolveSupplier(tx *gorm.DB, businessId string, supplierId *int) (*Supplier, error) {
	if supplierId == nil || *supplierId == 0 {
		return nil, nil
	}
	s, err := utils.FetchModel[Supplier](tx, businessId, *supplierId, "supplier")
	if err != nil {
		return nil, err
	}
	if s.IsActive != nil && !*s.IsActive {
		return nil, utils.NewValidationError("INACTIVE_SUPPLIER", "supplier %q is inactive", s.Name)
	}
	return s, nil
}
