package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/retail_backend/policy"
	"github.com/mmdatafocus/retail_backend/utils"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReceivableStatus string

const (
	ReceivablePending   ReceivableStatus = "PENDING"
	ReceivablePartial   ReceivableStatus = "PARTIAL"
	ReceivablePaid      ReceivableStatus = "PAID"
	ReceivableCancelled ReceivableStatus = "CANCELLED"
)

// AccountReceivable is the open balance of a credit sale. BalanceCents never
// exceeds TotalCents.
type AccountReceivable struct {
	ID           int              `gorm:"primary_key" json:"id"`
	BusinessId   string           `gorm:"size:64;not null;index" json:"business_id"`
	SaleId       int              `gorm:"not null;uniqueIndex" json:"sale_id"`
	CustomerId   int              `gorm:"not null;index" json:"customer_id"`
	TotalCents   int64            `gorm:"not null" json:"total_cents"`
	BalanceCents int64            `gorm:"not null" json:"balance_cents"`
	Status       ReceivableStatus `gorm:"size:20;not null;index" json:"status"`
	DueDate      *time.Time       `json:"due_date"`
	Payments     []Payment        `gorm:"foreignKey:ReceivableId" json:"payments,omitempty"`
	CreatedAt    time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func dueDateFor(from time.Time, creditDays int) *time.Time {
	if creditDays <= 0 {
		return nil
	}
	d := from.AddDate(0, 0, creditDays)
	return &d
}

// OpenReceivable creates the receivable of a credit sale with the full total
// outstanding.
func OpenReceivable(tx *gorm.DB, businessId string, saleId, customerId int, totalCents int64, creditDays int) (*AccountReceivable, error) {
	ar := AccountReceivable{
		BusinessId:   businessId,
		SaleId:       saleId,
		CustomerId:   customerId,
		TotalCents:   totalCents,
		BalanceCents: totalCents,
		Status:       ReceivablePending,
		DueDate:      dueDateFor(time.Now(), creditDays),
	}
	if err := tx.Create(&ar).Error; err != nil {
		return nil, err
	}
	return &ar, nil
}

// HasActivePayments reports whether any non-cancelled payment was applied.
func HasActivePayments(tx *gorm.DB, businessId string, receivableId int) (bool, error) {
	n, err := utils.ResourceCountWhere[Payment](tx, businessId, "receivable_id = ? AND cancelled_at IS NULL", receivableId)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// receivableForSale locks the sale's receivable so a payment cannot land
// between the active-payment check and the cancel or edit.
func receivableForSale(tx *gorm.DB, businessId string, saleId int) (*AccountReceivable, error) {
	var list []AccountReceivable
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("business_id = ? AND sale_id = ?", businessId, saleId).Limit(1).Find(&list).Error; err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// ensureNoActivePayments guards edit and cancel of a credit sale.
func ensureNoActivePayments(tx *gorm.DB, businessId string, saleId int) (*AccountReceivable, error) {
	ar, err := receivableForSale(tx, businessId, saleId)
	if err != nil || ar == nil {
		return ar, err
	}
	active, err := HasActivePayments(tx, businessId, ar.ID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, utils.NewConflict("AR_HAS_PAYMENTS", "the sale has payments applied; cancel them first").
			With("receivable_id", ar.ID)
	}
	return ar, nil
}

// reconcileReceivable brings the receivable in line with an edited sale:
// created when the sale became credit, reset when it stays credit and removed
// when it went back to cash. Callers have already checked there are no active
// payments.
func reconcileReceivable(tx *gorm.DB, sale *Sale, existing *AccountReceivable, customer *Customer) (*AccountReceivable, error) {
	switch {
	case sale.Type == SaleTypeCredit && existing == nil:
		return OpenReceivable(tx, sale.BusinessId, sale.ID, customer.ID, sale.TotalCents, customer.CreditDays)
	case sale.Type == SaleTypeCredit:
		existing.CustomerId = customer.ID
		existing.TotalCents = sale.TotalCents
		existing.BalanceCents = sale.TotalCents
		existing.Status = ReceivablePending
		existing.DueDate = dueDateFor(time.Now(), customer.CreditDays)
		err := tx.Model(existing).Select("customer_id", "total_cents", "balance_cents", "status", "due_date").Updates(existing).Error
		return existing, err
	case existing != nil:
		if err := tx.Where("business_id = ? AND receivable_id = ?", sale.BusinessId, existing.ID).Delete(&Payment{}).Error; err != nil {
			return nil, err
		}
		return nil, tx.Delete(existing).Error
	}
	return nil, nil
}

func cancelReceivable(tx *gorm.DB, ar *AccountReceivable) error {
	if ar == nil {
		return nil
	}
	ar.BalanceCents = 0
	ar.Status = ReceivableCancelled
	return tx.Model(ar).Select("balance_cents", "status").Updates(ar).Error
}

// statusFor derives the status from the outstanding balance.
func statusFor(totalCents, balanceCents int64) ReceivableStatus {
	switch {
	case balanceCents <= 0:
		return ReceivablePaid
	case balanceCents < totalCents:
		return ReceivablePartial
	}
	return ReceivablePending
}

func GetReceivable(ctx context.Context, identity policy.Identity, id int) (*AccountReceivable, error) {
	ctx, span := startOperation(ctx, "GetReceivable", identity)
	defer span.End()
	span.SetAttributes(attribute.Int("receivable_id", id))

	meta := map[string]any{"document": ResourceReceivable, "receivable_id": id}
	db, err := readDB(ctx)
	if err != nil {
		return nil, failOperation(ctx, span, identity, "GetReceivable", meta, err)
	}
	ar, err := utils.FetchModel[AccountReceivable](db, identity.BusinessId, id, "receivable", "Payments")
	if err != nil {
		return nil, failOperation(ctx, span, identity, "GetReceivable", meta, err)
	}
	return ar, nil
}
