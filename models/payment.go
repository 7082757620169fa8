package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/retail_backend/policy"
	"github.com/mmdatafocus/retail_backend/utils"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

type Payment struct {
	ID           int        `gorm:"primary_key" json:"id"`
	BusinessId   string     `gorm:"size:64;not null;index" json:"business_id"`
	ReceivableId int        `gorm:"not null;index" json:"receivable_id"`
	AmountCents  int64      `gorm:"not null" json:"amount_cents"`
	Method       string     `gorm:"size:30;not null" json:"method"`
	Note         string     `gorm:"size:255" json:"note"`
	UserId       int        `gorm:"not null" json:"user_id"`
	PaidAt       time.Time  `gorm:"not null" json:"paid_at"`
	CancelledAt  *time.Time `gorm:"index" json:"cancelled_at"`
	CancelledBy  *int       `json:"cancelled_by"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPayment struct {
	AmountCents int64  `json:"amount_cents" validate:"gt=0"`
	Method      string `json:"method" validate:"required,oneof=cash card transfer check"`
	Note        string `json:"note" validate:"max=255"`
}

// AddPayment applies a payment to a receivable. The amount above the balance
// is not applied, so the balance never goes below zero.
func AddPayment(ctx context.Context, identity policy.Identity, receivableId int, input *NewPayment) (*Payment, error) {
	ctx, span := startOperation(ctx, "AddPayment", identity)
	defer span.End()
	span.SetAttributes(attribute.Int("receivable_id", receivableId))
	meta := map[string]any{"document": ResourcePayment, "receivable_id": receivableId}

	if err := identity.Validate(); err != nil {
		return nil, failOperation(ctx, span, identity, "AddPayment", meta, err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, failOperation(ctx, span, identity, "AddPayment", meta, err)
	}

	var payment Payment
	err := runInTx(ctx, func(tx *gorm.DB) error {
		ar, err := utils.FetchModelForUpdate[AccountReceivable](tx, identity.BusinessId, receivableId, "receivable")
		if err != nil {
			return err
		}
		switch ar.Status {
		case ReceivableCancelled:
			return utils.NewConflict("AR_CANCELLED", "the sale of this receivable was cancelled")
		case ReceivablePaid:
			return utils.NewConflict("AR_PAID", "the receivable is already paid")
		}

		applied := min(input.AmountCents, ar.BalanceCents)
		payment = Payment{
			BusinessId:   identity.BusinessId,
			ReceivableId: ar.ID,
			AmountCents:  applied,
			Method:       input.Method,
			Note:         input.Note,
			UserId:       identity.UserId,
			PaidAt:       time.Now(),
		}
		if err := tx.Create(&payment).Error; err != nil {
			return err
		}

		ar.BalanceCents -= applied
		ar.Status = statusFor(ar.TotalCents, ar.BalanceCents)
		if err := tx.Model(ar).Select("balance_cents", "status").Updates(ar).Error; err != nil {
			return err
		}

		trail := NewAuditTrail(identity)
		trail.Record(AuditPaymentCreated, ResourcePayment, payment.ID, map[string]any{
			"receivable_id": ar.ID,
			"sale_id":       ar.SaleId,
			"amount_cents":  applied,
			"method":        payment.Method,
			"balance_cents": ar.BalanceCents,
			"status":        ar.Status,
		})
		return trail.Flush(tx)
	})
	if err != nil {
		return nil, failOperation(ctx, span, identity, "AddPayment", meta, err)
	}
	afterCommit(ctx, CommitEvent{
		BusinessId:   identity.BusinessId,
		ResourceType: ResourcePayment,
		ResourceId:   payment.ID,
		Action:       AuditPaymentCreated,
	})
	return &payment, nil
}

// CancelPayment voids a payment and recomputes the receivable balance from
// the payments still active.
func CancelPayment(ctx context.Context, identity policy.Identity, paymentId int) (*Payment, error) {
	ctx, span := startOperation(ctx, "CancelPayment", identity)
	defer span.End()
	span.SetAttributes(attribute.Int("payment_id", paymentId))
	meta := map[string]any{"document": ResourcePayment, "payment_id": paymentId}

	if err := identity.Validate(); err != nil {
		return nil, failOperation(ctx, span, identity, "CancelPayment", meta, err)
	}
	if err := policy.Require(identity, policy.CapCancelPayments); err != nil {
		return nil, failOperation(ctx, span, identity, "CancelPayment", meta, err)
	}

	var payment *Payment
	err := runInTx(ctx, func(tx *gorm.DB) error {
		var err error
		payment, err = utils.FetchModelForUpdate[Payment](tx, identity.BusinessId, paymentId, "payment")
		if err != nil {
			return err
		}
		now := time.Now()
		res := tx.Model(&Payment{}).
			Where("id = ? AND business_id = ? AND cancelled_at IS NULL", payment.ID, identity.BusinessId).
			Updates(map[string]any{"cancelled_at": now, "cancelled_by": identity.UserId})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return utils.NewConflict("PAYMENT_ALREADY_CANCELLED", "the payment is already cancelled")
		}
		payment.CancelledAt = &now
		payment.CancelledBy = &identity.UserId

		ar, err := utils.FetchModelForUpdate[AccountReceivable](tx, identity.BusinessId, payment.ReceivableId, "receivable")
		if err != nil {
			return err
		}
		var paid int64
		err = tx.Model(&Payment{}).
			Where("business_id = ? AND receivable_id = ? AND cancelled_at IS NULL", identity.BusinessId, ar.ID).
			Select("COALESCE(SUM(amount_cents), 0)").
			Scan(&paid).Error
		if err != nil {
			return err
		}
		if ar.Status != ReceivableCancelled {
			ar.BalanceCents = max(ar.TotalCents-paid, 0)
			ar.Status = statusFor(ar.TotalCents, ar.BalanceCents)
			if err := tx.Model(ar).Select("balance_cents", "status").Updates(ar).Error; err != nil {
				return err
			}
		}

		trail := NewAuditTrail(identity)
		trail.Record(AuditPaymentCancelled, ResourcePayment, payment.ID, map[string]any{
			"receivable_id": ar.ID,
			"sale_id":       ar.SaleId,
			"amount_cents":  payment.AmountCents,
			"balance_cents": ar.BalanceCents,
		})
		return trail.Flush(tx)
	})
	if err != nil {
		return nil, failOperation(ctx, span, identity, "CancelPayment", meta, err)
	}
	afterCommit(ctx, CommitEvent{
		BusinessId:   identity.BusinessId,
		ResourceType: ResourcePayment,
		ResourceId:   payment.ID,
		Action:       AuditPaymentCancelled,
	})
	return payment, nil
}
