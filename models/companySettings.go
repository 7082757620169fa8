package models

import (
	"errors"
	"time"

	"github.com/mmdatafocus/retail_backend/config"
	"gorm.io/gorm"
)

// CompanySettings holds the per-tenant switches the ledger reads.
type CompanySettings struct {
	ID                 int       `gorm:"primary_key" json:"id"`
	BusinessId         string    `gorm:"size:64;not null;uniqueIndex" json:"business_id"`
	TaxRateBp          int64     `gorm:"not null" json:"tax_rate_bp"`
	AllowNegativeStock bool      `gorm:"not null;default:false" json:"allow_negative_stock"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// getCompanySettings falls back to the process defaults for tenants that
// never saved settings.
func getCompanySettings(tx *gorm.DB, businessId string) (*CompanySettings, error) {
	var s CompanySettings
	err := tx.Where("business_id = ?", businessId).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &CompanySettings{
			BusinessId: businessId,
			TaxRateBp:  config.GetSettings().DefaultTaxRateBp,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
