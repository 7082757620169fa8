package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/policy"
	"github.com/mmdatafocus/retail_backend/utils"
	"gorm.io/gorm"
)

const GenericCustomerName = "Generic Customer"

type Customer struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"size:64;not null;index;uniqueIndex:uniq_generic_customer" json:"business_id"`
	Name       string `gorm:"size:100;not null" json:"name"`
	Phone      string `gorm:"size:20" json:"phone"`
	CreditDays int    `gorm:"not null;default:0" json:"credit_days"`
	IsActive   *bool  `gorm:"not null;default:true" json:"is_active"`
	IsGeneric  bool   `gorm:"not null;default:false" json:"is_generic"`
	// GenericSlot is true only on the generic customer and NULL otherwise, so
	// the unique index allows one generic customer per tenant.
	GenericSlot *bool     `gorm:"uniqueIndex:uniq_generic_customer" json:"-"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCustomer struct {
	Name       string `json:"name" validate:"required,max=100"`
	Phone      string `json:"phone" validate:"omitempty,max=20"`
	CreditDays int    `json:"credit_days" validate:"gte=0,lte=365"`
}

func (c *Customer) Active() bool {
	return c.IsActive == nil || *c.IsActive
}

func CreateCustomer(ctx context.Context, identity policy.Identity, input *NewCustomer) (*Customer, error) {
	ctx, span := startOperation(ctx, "CreateCustomer", identity)
	defer span.End()
	meta := map[string]any{"document": ResourceCustomer}

	if err := identity.Validate(); err != nil {
		return nil, failOperation(ctx, span, identity, "CreateCustomer", meta, err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, failOperation(ctx, span, identity, "CreateCustomer", meta, err)
	}
	phone := input.Phone
	if phone != "" {
		normalized, err := utils.NormalizePhoneNumber(phone, config.GetSettings().PhoneRegion)
		if err != nil {
			return nil, failOperation(ctx, span, identity, "CreateCustomer", meta,
				utils.NewValidationError("INVALID_PHONE", "invalid phone number %q", phone))
		}
		phone = normalized
	}

	customer := Customer{
		BusinessId: identity.BusinessId,
		Name:       input.Name,
		Phone:      phone,
		CreditDays: input.CreditDays,
		IsActive:   utils.NewTrue(),
	}
	err := runInTx(ctx, func(tx *gorm.DB) error {
		customer.ID = 0
		if err := tx.Create(&customer).Error; err != nil {
			return err
		}
		trail := NewAuditTrail(identity)
		trail.Record(AuditCustomerCreated, ResourceCustomer, customer.ID, map[string]any{
			"name":        customer.Name,
			"credit_days": customer.CreditDays,
		})
		return trail.Flush(tx)
	})
	if err != nil {
		return nil, failOperation(ctx, span, identity, "CreateCustomer", meta, err)
	}
	return &customer, nil
}

// EnsureGenericCustomer returns the tenant's walk-in customer, creating it on
// first use. A concurrent first use loses the unique index race and re-reads
// the winner's row.
func EnsureGenericCustomer(tx *gorm.DB, businessId string) (*Customer, error) {
	var c Customer
	err := tx.Where("business_id = ? AND is_generic = ?", businessId, true).Order("id").Take(&c).Error
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	c = Customer{
		BusinessId:  businessId,
		Name:        GenericCustomerName,
		IsActive:    utils.NewTrue(),
		IsGeneric:   true,
		GenericSlot: utils.NewTrue(),
	}
	// savepoint, so the duplicate does not poison the outer transaction
	err = tx.Transaction(func(sp *gorm.DB) error {
		return sp.Create(&c).Error
	})
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, err
	}
	c = Customer{}
	if err := tx.Where("business_id = ? AND is_generic = ?", businessId, true).Order("id").Take(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// resolveSaleCustomer falls back to the generic customer when the id is
// absent, inactive or outside the tenant.
func resolveSaleCustomer(tx *gorm.DB, businessId string, customerId int) (*Customer, error) {
	if customerId > 0 {
		var c Customer
		err := tx.Where("id = ? AND business_id = ?", customerId, businessId).Take(&c).Error
		if err == nil && c.Active() {
			return &c, nil
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return EnsureGenericCustomer(tx, businessId)
}
