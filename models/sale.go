package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/policy"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

type SaleType string

const (
	SaleTypeCash   SaleType = "CASH"
	SaleTypeCredit SaleType = "CREDIT"
)

type Sale struct {
	ID            int        `gorm:"primary_key" json:"id"`
	BusinessId    string     `gorm:"size:64;not null;index;uniqueIndex:uniq_sale_sequence;uniqueIndex:uniq_sale_code" json:"business_id"`
	Series        string     `gorm:"size:20;not null;uniqueIndex:uniq_sale_sequence" json:"series"`
	SequenceNo    int64      `gorm:"not null;uniqueIndex:uniq_sale_sequence" json:"sequence_no"`
	Code          string     `gorm:"size:40;not null;uniqueIndex:uniq_sale_code" json:"code"`
	Type          SaleType   `gorm:"size:10;not null" json:"type"`
	PaymentMethod string     `gorm:"size:30" json:"payment_method"`
	CustomerId    int        `gorm:"not null;index" json:"customer_id"`
	UserId        int        `gorm:"not null" json:"user_id"`
	SubtotalCents int64      `gorm:"not null" json:"subtotal_cents"`
	TaxCents      int64      `gorm:"not null" json:"tax_cents"`
	TaxRateBp     int64      `gorm:"not null" json:"tax_rate_bp"`
	ShippingCents int64      `gorm:"not null;default:0" json:"shipping_cents"`
	TotalCents    int64      `gorm:"not null" json:"total_cents"`
	Notes         string     `gorm:"type:text" json:"notes"`
	CancelledAt   *time.Time `gorm:"index" json:"cancelled_at"`
	CancelledBy   *int       `json:"cancelled_by"`
	Items         []SaleItem `gorm:"foreignKey:SaleId" json:"items"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SaleItem rows are replaced as a whole when the sale is edited.
type SaleItem struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	BusinessId         string          `gorm:"size:64;not null;index" json:"business_id"`
	SaleId             int             `gorm:"not null;index" json:"sale_id"`
	Position           int             `gorm:"not null" json:"position"`
	ProductId          int             `gorm:"not null;index" json:"product_id"`
	ProductName        string          `gorm:"size:255" json:"product_name"`
	Qty                decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	UnitPriceCents     int64           `gorm:"not null" json:"unit_price_cents"`
	CatalogPriceCents  int64           `gorm:"not null" json:"catalog_price_cents"`
	WasPriceOverridden bool            `gorm:"not null;default:false" json:"was_price_overridden"`
	LineTotalCents     int64           `gorm:"not null" json:"line_total_cents"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewSaleItem struct {
	ProductId      int             `json:"product_id" validate:"required"`
	Qty            decimal.Decimal `json:"qty"`
	UnitPriceCents int64           `json:"unit_price_cents"`
}

type NewSale struct {
	Series        string        `json:"series" validate:"omitempty,max=20,alphanum"`
	Type          SaleType      `json:"type" validate:"omitempty,oneof=CASH CREDIT"`
	CustomerId    int           `json:"customer_id"`
	PaymentMethod string        `json:"payment_method" validate:"omitempty,max=30"`
	ShippingCents int64         `json:"shipping_cents"`
	Notes         string        `json:"notes"`
	Items         []NewSaleItem `json:"items"`
	// IdempotencyKey makes a retried create return the first sale.
	IdempotencyKey string `json:"-"`
}

type SaleResult struct {
	Id   int      `json:"id"`
	Code string   `json:"code"`
	Type SaleType `json:"type"`
}

func (s *Sale) Cancelled() bool {
	return s.CancelledAt != nil
}

func (s *Sale) result() *SaleResult {
	return &SaleResult{Id: s.ID, Code: s.Code, Type: s.Type}
}

func (s *Sale) stockPlan() stockPlan {
	plan := stockPlan{}
	for _, item := range s.Items {
		plan.add(item.ProductId, item.Qty)
	}
	return plan
}

func (s *Sale) productIds() []int {
	return s.stockPlan().productIds()
}

// snapshot is the audit view of the sale.
func (s *Sale) snapshot() map[string]any {
	items := make([]map[string]any, 0, len(s.Items))
	for _, item := range s.Items {
		items = append(items, map[string]any{
			"product_id":       item.ProductId,
			"qty":              item.Qty.String(),
			"unit_price_cents": item.UnitPriceCents,
			"line_total_cents": item.LineTotalCents,
		})
	}
	return map[string]any{
		"code":           s.Code,
		"type":           s.Type,
		"customer_id":    s.CustomerId,
		"subtotal_cents": s.SubtotalCents,
		"tax_cents":      s.TaxCents,
		"shipping_cents": s.ShippingCents,
		"total_cents":    s.TotalCents,
		"items":          items,
	}
}

func (input *NewSale) lines() []cartLine {
	lines := make([]cartLine, 0, len(input.Items))
	for _, item := range input.Items {
		lines = append(lines, cartLine{productId: item.ProductId, qty: item.Qty, unitCents: item.UnitPriceCents})
	}
	return lines
}

// validate checks the cart shape. It never touches the store.
func (input *NewSale) validate() error {
	if input.Type == "" {
		input.Type = SaleTypeCash
	}
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	return validateCart(input.lines(), input.ShippingCents)
}

func (input *NewSale) series() string {
	return normalizeSeries(input.Series, SeriesSales)
}

// priceSaleItems builds the line items against catalog prices. A line whose
// price differs from the catalog needs the override grant and is reported
// for the audit trail.
func priceSaleItems(identity policy.Identity, products map[int]*Product, items []NewSaleItem) ([]SaleItem, int64, []map[string]any, error) {
	lines := make([]SaleItem, 0, len(items))
	var itemsTotal int64
	var overrides []map[string]any
	for i, in := range items {
		p := products[in.ProductId]
		overridden := in.UnitPriceCents != p.PriceCents
		if overridden {
			if err := policy.Require(identity, policy.CapOverridePrice); err != nil {
				return nil, 0, nil, err
			}
			overrides = append(overrides, map[string]any{
				"product_id":      p.ID,
				"product_name":    p.Name,
				"old_price_cents": p.PriceCents,
				"new_price_cents": in.UnitPriceCents,
			})
		}
		lineTotal := utils.LineTotal(in.Qty, in.UnitPriceCents)
		itemsTotal += lineTotal
		lines = append(lines, SaleItem{
			BusinessId:         identity.BusinessId,
			Position:           i + 1,
			ProductId:          p.ID,
			ProductName:        p.Name,
			Qty:                in.Qty,
			UnitPriceCents:     in.UnitPriceCents,
			CatalogPriceCents:  p.PriceCents,
			WasPriceOverridden: overridden,
			LineTotalCents:     lineTotal,
		})
	}
	return lines, itemsTotal, overrides, nil
}

// applySaleTotals decomposes the tax included in the item prices; shipping
// is added on top and carries no tax.
func applySaleTotals(sale *Sale, itemsTotal, shippingCents, taxRateBp int64) {
	sale.SubtotalCents, sale.TaxCents = utils.DecomposeInclusiveTotal(itemsTotal, taxRateBp)
	sale.TaxRateBp = taxRateBp
	sale.ShippingCents = shippingCents
	sale.TotalCents = itemsTotal + shippingCents
}

func saleCustomer(tx *gorm.DB, businessId string, customerId int, saleType SaleType) (*Customer, error) {
	customer, err := resolveSaleCustomer(tx, businessId, customerId)
	if err != nil {
		return nil, err
	}
	if saleType == SaleTypeCredit && customer.IsGeneric {
		return nil, utils.NewValidationError("CREDIT_REQUIRES_CUSTOMER", "a credit sale needs a registered customer")
	}
	return customer, nil
}

func paymentMethodFor(saleType SaleType, method string) string {
	if saleType == SaleTypeCredit {
		return ""
	}
	if method == "" {
		return "cash"
	}
	return method
}

func applySaleStock(tx *gorm.DB, businessId string, plan stockPlan, sign int64) error {
	for _, id := range plan.productIds() {
		if err := ApplyStockDelta(tx, businessId, id, plan[id].Mul(decimal.NewFromInt(sign))); err != nil {
			return err
		}
	}
	return nil
}

func saleMetadata(input *NewSale) map[string]any {
	return map[string]any{
		"document":   ResourceSale,
		"item_count": len(input.Items),
		"type":       input.Type,
	}
}

// CreateSale records a sale, takes its stock and opens the receivable of a
// credit sale in one transaction.
func CreateSale(ctx context.Context, identity policy.Identity, input *NewSale) (*SaleResult, error) {
	ctx, span := startOperation(ctx, "CreateSale", identity)
	defer span.End()
	meta := saleMetadata(input)

	if err := identity.Validate(); err != nil {
		return nil, failOperation(ctx, span, identity, "CreateSale", meta, err)
	}
	if err := input.validate(); err != nil {
		return nil, failOperation(ctx, span, identity, "CreateSale", meta, err)
	}

	var sale Sale
	err := runInTx(ctx, func(tx *gorm.DB) error {
		sale = Sale{}
		idem, replayId, err := claimIdempotencyKey(tx, identity.BusinessId, "CreateSale", input.IdempotencyKey)
		if err != nil {
			return err
		}
		if replayId > 0 {
			existing, err := utils.FetchModel[Sale](tx, identity.BusinessId, replayId, "sale")
			if err != nil {
				return err
			}
			sale = *existing
			return nil
		}

		settings, err := getCompanySettings(tx, identity.BusinessId)
		if err != nil {
			return err
		}
		plan := cartPlan(input.lines())
		products, err := loadProducts(tx, identity.BusinessId, plan.productIds())
		if err != nil {
			return err
		}
		if err := ensureActive(products, plan.productIds()); err != nil {
			return err
		}
		items, itemsTotal, overrides, err := priceSaleItems(identity, products, input.Items)
		if err != nil {
			return err
		}
		if !policy.CanBypassStock(identity, settings.AllowNegativeStock) {
			if err := checkStockOutflow(products, plan, nil); err != nil {
				return err
			}
		}
		customer, err := saleCustomer(tx, identity.BusinessId, input.CustomerId, input.Type)
		if err != nil {
			return err
		}

		series := input.series()
		number, err := NextSequence(tx, identity.BusinessId, series)
		if err != nil {
			return err
		}

		sale = Sale{
			BusinessId:    identity.BusinessId,
			Series:        series,
			SequenceNo:    number,
			Code:          utils.InvoiceCode(series, number),
			Type:          input.Type,
			PaymentMethod: paymentMethodFor(input.Type, input.PaymentMethod),
			CustomerId:    customer.ID,
			UserId:        identity.UserId,
			Notes:         input.Notes,
			Items:         items,
		}
		applySaleTotals(&sale, itemsTotal, input.ShippingCents, settings.TaxRateBp)
		if err := tx.Create(&sale).Error; err != nil {
			return err
		}
		if err := applySaleStock(tx, identity.BusinessId, plan, -1); err != nil {
			return err
		}
		if sale.Type == SaleTypeCredit {
			if _, err := OpenReceivable(tx, identity.BusinessId, sale.ID, customer.ID, sale.TotalCents, customer.CreditDays); err != nil {
				return err
			}
		}

		trail := NewAuditTrail(identity)
		for _, o := range overrides {
			o["sale_code"] = sale.Code
			trail.Record(AuditPriceOverride, ResourceSale, sale.ID, o)
		}
		trail.Record(AuditSaleCreated, ResourceSale, sale.ID, sale.snapshot())
		if err := trail.Flush(tx); err != nil {
			return err
		}
		return completeIdempotencyKey(tx, idem, sale.ID)
	})
	if err != nil {
		return nil, failOperation(ctx, span, identity, "CreateSale", meta, err)
	}
	span.SetAttributes(attribute.Int("sale_id", sale.ID), attribute.String("sale_code", sale.Code))
	afterCommit(ctx, CommitEvent{
		BusinessId:   identity.BusinessId,
		ResourceType: ResourceSale,
		ResourceId:   sale.ID,
		Action:       AuditSaleCreated,
		ProductIds:   cartPlan(input.lines()).productIds(),
	})
	return sale.result(), nil
}

// CancelSale returns the sale's stock and closes its receivable. A sale is
// cancelled at most once.
func CancelSale(ctx context.Context, identity policy.Identity, saleId int) (*SaleResult, error) {
	ctx, span := startOperation(ctx, "CancelSale", identity)
	defer span.End()
	span.SetAttributes(attribute.Int("sale_id", saleId))
	meta := map[string]any{"document": ResourceSale, "sale_id": saleId}

	if err := identity.Validate(); err != nil {
		return nil, failOperation(ctx, span, identity, "CancelSale", meta, err)
	}
	if err := policy.Require(identity, policy.CapCancelSales); err != nil {
		return nil, failOperation(ctx, span, identity, "CancelSale", meta, err)
	}

	var sale *Sale
	err := runInTx(ctx, func(tx *gorm.DB) error {
		var err error
		sale, err = utils.FetchModelForUpdate[Sale](tx, identity.BusinessId, saleId, "sale", "Items")
		if err != nil {
			return err
		}
		if sale.Cancelled() {
			return utils.NewConflict("SALE_ALREADY_CANCELLED", "sale %s is already cancelled", sale.Code)
		}
		ar, err := ensureNoActivePayments(tx, identity.BusinessId, sale.ID)
		if err != nil {
			return err
		}

		now := time.Now()
		res := tx.Model(&Sale{}).
			Where("id = ? AND business_id = ? AND cancelled_at IS NULL", sale.ID, identity.BusinessId).
			Updates(map[string]any{"cancelled_at": now, "cancelled_by": identity.UserId})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return utils.NewConflict("SALE_ALREADY_CANCELLED", "sale %s is already cancelled", sale.Code)
		}
		sale.CancelledAt = &now
		sale.CancelledBy = &identity.UserId

		if err := applySaleStock(tx, identity.BusinessId, sale.stockPlan(), 1); err != nil {
			return err
		}
		if err := cancelReceivable(tx, ar); err != nil {
			return err
		}

		trail := NewAuditTrail(identity)
		trail.Record(AuditSaleCancelled, ResourceSale, sale.ID, sale.snapshot())
		return trail.Flush(tx)
	})
	if err != nil {
		return nil, failOperation(ctx, span, identity, "CancelSale", meta, err)
	}
	afterCommit(ctx, CommitEvent{
		BusinessId:   identity.BusinessId,
		ResourceType: ResourceSale,
		ResourceId:   sale.ID,
		Action:       AuditSaleCancelled,
		ProductIds:   sale.productIds(),
	})
	return sale.result(), nil
}

// UpdateSale replaces the items of a sale: the old items' stock is returned
// and the rows deleted, then the new items are priced, inserted and taken
// from stock. The receivable follows the new type and total.
func UpdateSale(ctx context.Context, identity policy.Identity, saleId int, input *NewSale) (*SaleResult, error) {
	ctx, span := startOperation(ctx, "UpdateSale", identity)
	defer span.End()
	span.SetAttributes(attribute.Int("sale_id", saleId))
	meta := saleMetadata(input)
	meta["sale_id"] = saleId

	if err := identity.Validate(); err != nil {
		return nil, failOperation(ctx, span, identity, "UpdateSale", meta, err)
	}
	if err := policy.Require(identity, policy.CapEditSales); err != nil {
		return nil, failOperation(ctx, span, identity, "UpdateSale", meta, err)
	}
	requestedType := input.Type
	if err := input.validate(); err != nil {
		return nil, failOperation(ctx, span, identity, "UpdateSale", meta, err)
	}

	var sale *Sale
	var touched []int
	err := runInTx(ctx, func(tx *gorm.DB) error {
		var err error
		sale, err = utils.FetchModelForUpdate[Sale](tx, identity.BusinessId, saleId, "sale", "Items")
		if err != nil {
			return err
		}
		if sale.Cancelled() {
			return utils.NewConflict("SALE_CANCELLED", "sale %s is cancelled and cannot be edited", sale.Code)
		}
		newType := sale.Type
		if requestedType != "" {
			newType = requestedType
		}
		if newType != sale.Type {
			if err := policy.Require(identity, policy.CapChangeSaleType); err != nil {
				return err
			}
		}
		ar, err := ensureNoActivePayments(tx, identity.BusinessId, sale.ID)
		if err != nil {
			return err
		}

		settings, err := getCompanySettings(tx, identity.BusinessId)
		if err != nil {
			return err
		}
		oldPlan := sale.stockPlan()
		newPlan := cartPlan(input.lines())
		ids := utils.UniqueSlice(append(oldPlan.productIds(), newPlan.productIds()...))
		products, err := loadProducts(tx, identity.BusinessId, ids)
		if err != nil {
			return err
		}
		if err := ensureActive(products, newPlan.productIds()); err != nil {
			return err
		}
		items, itemsTotal, overrides, err := priceSaleItems(identity, products, input.Items)
		if err != nil {
			return err
		}
		if !policy.CanBypassStock(identity, settings.AllowNegativeStock) {
			if err := checkStockOutflow(products, newPlan, oldPlan); err != nil {
				return err
			}
		}
		customer, err := saleCustomer(tx, identity.BusinessId, input.CustomerId, newType)
		if err != nil {
			return err
		}
		before := sale.snapshot()

		// reverse
		if err := applySaleStock(tx, identity.BusinessId, oldPlan, 1); err != nil {
			return err
		}
		if err := tx.Where("business_id = ? AND sale_id = ?", identity.BusinessId, sale.ID).Delete(&SaleItem{}).Error; err != nil {
			return err
		}

		// replace
		sale.Type = newType
		sale.PaymentMethod = paymentMethodFor(newType, input.PaymentMethod)
		sale.CustomerId = customer.ID
		sale.Notes = input.Notes
		applySaleTotals(sale, itemsTotal, input.ShippingCents, settings.TaxRateBp)
		err = tx.Model(&Sale{}).
			Where("id = ? AND business_id = ?", sale.ID, identity.BusinessId).
			Updates(map[string]any{
				"type":           sale.Type,
				"payment_method": sale.PaymentMethod,
				"customer_id":    sale.CustomerId,
				"notes":          sale.Notes,
				"subtotal_cents": sale.SubtotalCents,
				"tax_cents":      sale.TaxCents,
				"tax_rate_bp":    sale.TaxRateBp,
				"shipping_cents": sale.ShippingCents,
				"total_cents":    sale.TotalCents,
			}).Error
		if err != nil {
			return err
		}
		for i := range items {
			items[i].SaleId = sale.ID
		}
		if err := tx.Create(&items).Error; err != nil {
			return err
		}
		sale.Items = items
		if err := applySaleStock(tx, identity.BusinessId, newPlan, -1); err != nil {
			return err
		}
		if _, err := reconcileReceivable(tx, sale, ar, customer); err != nil {
			return err
		}

		trail := NewAuditTrail(identity)
		for _, o := range overrides {
			o["sale_code"] = sale.Code
			trail.Record(AuditPriceOverride, ResourceSale, sale.ID, o)
		}
		trail.Record(AuditSaleEdited, ResourceSale, sale.ID, map[string]any{
			"before": before,
			"after":  sale.snapshot(),
		})
		if err := trail.Flush(tx); err != nil {
			return err
		}
		touched = ids
		return nil
	})
	if err != nil {
		return nil, failOperation(ctx, span, identity, "UpdateSale", meta, err)
	}
	afterCommit(ctx, CommitEvent{
		BusinessId:   identity.BusinessId,
		ResourceType: ResourceSale,
		ResourceId:   sale.ID,
		Action:       AuditSaleEdited,
		ProductIds:   touched,
	})
	return sale.result(), nil
}

// GetSale reads a sale with its items, from the cache when possible.
func GetSale(ctx context.Context, identity policy.Identity, saleId int) (*Sale, error) {
	ctx, span := startOperation(ctx, "GetSale", identity)
	defer span.End()
	span.SetAttributes(attribute.Int("sale_id", saleId))

	generation, genErr := utils.RedisItemGeneration[Sale](ctx, saleId)
	if genErr == nil {
		if cached, err := utils.RetrieveRedisItem[Sale](ctx, saleId, generation); err == nil && cached != nil && cached.BusinessId == identity.BusinessId {
			return cached, nil
		}
	}
	meta := map[string]any{"document": ResourceSale, "sale_id": saleId}
	db, err := readDB(ctx)
	if err != nil {
		return nil, failOperation(ctx, span, identity, "GetSale", meta, err)
	}
	sale, err := utils.FetchModel[Sale](db, identity.BusinessId, saleId, "sale", "Items")
	if err != nil {
		return nil, failOperation(ctx, span, identity, "GetSale", meta, err)
	}
	if genErr != nil {
		return sale, nil
	}
	if err := utils.StoreRedisItem(ctx, sale.ID, generation, sale, config.GetSettings().CacheLifespan); err != nil {
		config.LogError(config.GetLogger(), "models", "GetSale", "StoreRedisItem", sale.ID, err)
	}
	return sale, nil
}
