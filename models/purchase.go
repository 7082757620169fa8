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

type Purchase struct {
	ID            int            `gorm:"primary_key" json:"id"`
	BusinessId    string         `gorm:"size:64;not null;index;uniqueIndex:uniq_purchase_sequence;uniqueIndex:uniq_purchase_code" json:"business_id"`
	Series        string         `gorm:"size:20;not null;uniqueIndex:uniq_purchase_sequence" json:"series"`
	SequenceNo    int64          `gorm:"not null;uniqueIndex:uniq_purchase_sequence" json:"sequence_no"`
	Code          string         `gorm:"size:40;not null;uniqueIndex:uniq_purchase_code" json:"code"`
	SupplierId    *int           `gorm:"index" json:"supplier_id"`
	SupplierName  string         `gorm:"size:100" json:"supplier_name"`
	UserId        int            `gorm:"not null" json:"user_id"`
	ShippingCents int64          `gorm:"not null;default:0" json:"shipping_cents"`
	TotalCents    int64          `gorm:"not null" json:"total_cents"`
	Notes         string         `gorm:"type:text" json:"notes"`
	CancelledAt   *time.Time     `gorm:"index" json:"cancelled_at"`
	CancelledBy   *int           `json:"cancelled_by"`
	Items         []PurchaseItem `gorm:"foreignKey:PurchaseId" json:"items"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

type PurchaseItem struct {
	ID             int             `gorm:"primary_key" json:"id"`
	BusinessId     string          `gorm:"size:64;not null;index" json:"business_id"`
	PurchaseId     int             `gorm:"not null;index" json:"purchase_id"`
	Position       int             `gorm:"not null" json:"position"`
	ProductId      int             `gorm:"not null;index" json:"product_id"`
	ProductName    string          `gorm:"size:255" json:"product_name"`
	Qty            decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	UnitCostCents  int64           `gorm:"not null" json:"unit_cost_cents"`
	DiscountBp     int64           `gorm:"not null;default:0" json:"discount_bp"`
	TaxRateBp      int64           `gorm:"not null;default:0" json:"tax_rate_bp"`
	NetCostCents   int64           `gorm:"not null" json:"net_cost_cents"`
	LineTotalCents int64           `gorm:"not null" json:"line_total_cents"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewPurchaseItem struct {
	ProductId     int             `json:"product_id" validate:"required"`
	Qty           decimal.Decimal `json:"qty"`
	UnitCostCents int64           `json:"unit_cost_cents"`
	// DiscountBp falls back to the supplier's discount when nil.
	DiscountBp *int64 `json:"discount_bp" validate:"omitempty,gte=0,lte=10000"`
}

type NewPurchase struct {
	Series            string            `json:"series" validate:"omitempty,max=20,alphanum"`
	SupplierId        *int              `json:"supplier_id"`
	ShippingCents     int64             `json:"shipping_cents"`
	Notes             string            `json:"notes"`
	UpdateProductCost bool              `json:"update_product_cost"`
	Items             []NewPurchaseItem `json:"items" validate:"dive"`
	IdempotencyKey    string            `json:"-"`
}

type PurchaseResult struct {
	Id   int    `json:"id"`
	Code string `json:"code"`
}

func (p *Purchase) Cancelled() bool {
	return p.CancelledAt != nil
}

func (p *Purchase) result() *PurchaseResult {
	return &PurchaseResult{Id: p.ID, Code: p.Code}
}

func (p *Purchase) stockPlan() stockPlan {
	plan := stockPlan{}
	for _, item := range p.Items {
		plan.add(item.ProductId, item.Qty)
	}
	return plan
}

func (p *Purchase) snapshot() map[string]any {
	items := make([]map[string]any, 0, len(p.Items))
	for _, item := range p.Items {
		items = append(items, map[string]any{
			"product_id":       item.ProductId,
			"qty":              item.Qty.String(),
			"unit_cost_cents":  item.UnitCostCents,
			"discount_bp":      item.DiscountBp,
			"net_cost_cents":   item.NetCostCents,
			"line_total_cents": item.LineTotalCents,
		})
	}
	return map[string]any{
		"code":           p.Code,
		"supplier_id":    p.SupplierId,
		"shipping_cents": p.ShippingCents,
		"total_cents":    p.TotalCents,
		"items":          items,
	}
}

func (input *NewPurchase) lines() []cartLine {
	lines := make([]cartLine, 0, len(input.Items))
	for _, item := range input.Items {
		lines = append(lines, cartLine{productId: item.ProductId, qty: item.Qty, unitCents: item.UnitCostCents})
	}
	return lines
}

func (input *NewPurchase) validate() error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	return validateCart(input.lines(), input.ShippingCents)
}

func (input *NewPurchase) series() string {
	return normalizeSeries(input.Series, SeriesPurchases)
}

// costPurchaseItems computes net cost per line: discount first, then the
// product's tax rate.
func costPurchaseItems(businessId string, products map[int]*Product, supplier *Supplier, items []NewPurchaseItem) ([]PurchaseItem, int64) {
	lines := make([]PurchaseItem, 0, len(items))
	var itemsTotal int64
	for i, in := range items {
		p := products[in.ProductId]
		var discount int64
		switch {
		case in.DiscountBp != nil:
			discount = *in.DiscountBp
		case supplier != nil:
			discount = supplier.DiscountBp
		}
		net := utils.NetCost(in.UnitCostCents, discount, p.TaxRateBp)
		lineTotal := utils.LineTotal(in.Qty, net)
		itemsTotal += lineTotal
		lines = append(lines, PurchaseItem{
			BusinessId:     businessId,
			Position:       i + 1,
			ProductId:      p.ID,
			ProductName:    p.Name,
			Qty:            in.Qty,
			UnitCostCents:  in.UnitCostCents,
			DiscountBp:     discount,
			TaxRateBp:      p.TaxRateBp,
			NetCostCents:   net,
			LineTotalCents: lineTotal,
		})
	}
	return lines, itemsTotal
}

// applyPurchaseCosts writes each product's latest net cost to the catalog.
func applyPurchaseCosts(tx *gorm.DB, businessId string, items []PurchaseItem, trail *AuditTrail) error {
	latest := map[int]PurchaseItem{}
	for _, item := range items {
		latest[item.ProductId] = item
	}
	for _, id := range utils.UniqueSlice(purchaseProductIds(items)) {
		item := latest[id]
		if err := updateProductCost(tx, businessId, id, item.NetCostCents); err != nil {
			return err
		}
		trail.Record(AuditProductCostUpdated, ResourceProduct, id, map[string]any{
			"cost_cents": item.NetCostCents,
		})
	}
	return nil
}

func purchaseProductIds(items []PurchaseItem) []int {
	ids := make([]int, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductId)
	}
	return ids
}

func applyPurchaseStock(tx *gorm.DB, businessId string, plan stockPlan, sign int64) error {
	for _, id := range plan.productIds() {
		if err := ApplyStockDelta(tx, businessId, id, plan[id].Mul(decimal.NewFromInt(sign))); err != nil {
			return err
		}
	}
	return nil
}

func purchaseMetadata(input *NewPurchase) map[string]any {
	return map[string]any{
		"document":   ResourcePurchase,
		"item_count": len(input.Items),
	}
}

// CreatePurchase records received goods and adds them to stock.
func CreatePurchase(ctx context.Context, identity policy.Identity, input *NewPurchase) (*PurchaseResult, error) {
	ctx, span := startOperation(ctx, "CreatePurchase", identity)
	defer span.End()
	meta := purchaseMetadata(input)

	if err := identity.Validate(); err != nil {
		return nil, failOperation(ctx, span, identity, "CreatePurchase", meta, err)
	}
	if err := input.validate(); err != nil {
		return nil, failOperation(ctx, span, identity, "CreatePurchase", meta, err)
	}

	var purchase Purchase
	err := runInTx(ctx, func(tx *gorm.DB) error {
		purchase = Purchase{}
		idem, replayId, err := claimIdempotencyKey(tx, identity.BusinessId, "CreatePurchase", input.IdempotencyKey)
		if err != nil {
			return err
		}
		if replayId > 0 {
			existing, err := utils.FetchModel[Purchase](tx, identity.BusinessId, replayId, "purchase")
			if err != nil {
				return err
			}
			purchase = *existing
			return nil
		}

		plan := cartPlan(input.lines())
		products, err := loadProducts(tx, identity.BusinessId, plan.productIds())
		if err != nil {
			return err
		}
		if err := ensureActive(products, plan.productIds()); err != nil {
			return err
		}
		supplier, err := resolveSupplier(tx, identity.BusinessId, input.SupplierId)
		if err != nil {
			return err
		}
		items, itemsTotal := costPurchaseItems(identity.BusinessId, products, supplier, input.Items)

		series := input.series()
		number, err := NextSequence(tx, identity.BusinessId, series)
		if err != nil {
			return err
		}
		purchase = Purchase{
			BusinessId:    identity.BusinessId,
			Series:        series,
			SequenceNo:    number,
			Code:          utils.InvoiceCode(series, number),
			UserId:        identity.UserId,
			ShippingCents: input.ShippingCents,
			TotalCents:    itemsTotal + input.ShippingCents,
			Notes:         input.Notes,
			Items:         items,
		}
		if supplier != nil {
			purchase.SupplierId = &supplier.ID
			purchase.SupplierName = supplier.Name
		}
		if err := tx.Create(&purchase).Error; err != nil {
			return err
		}
		if err := applyPurchaseStock(tx, identity.BusinessId, plan, 1); err != nil {
			return err
		}

		trail := NewAuditTrail(identity)
		trail.Record(AuditPurchaseCreated, ResourcePurchase, purchase.ID, purchase.snapshot())
		if input.UpdateProductCost {
			if err := applyPurchaseCosts(tx, identity.BusinessId, items, trail); err != nil {
				return err
			}
		}
		if err := trail.Flush(tx); err != nil {
			return err
		}
		return completeIdempotencyKey(tx, idem, purchase.ID)
	})
	if err != nil {
		return nil, failOperation(ctx, span, identity, "CreatePurchase", meta, err)
	}
	span.SetAttributes(attribute.Int("purchase_id", purchase.ID), attribute.String("purchase_code", purchase.Code))
	afterCommit(ctx, CommitEvent{
		BusinessId:   identity.BusinessId,
		ResourceType: ResourcePurchase,
		ResourceId:   purchase.ID,
		Action:       AuditPurchaseCreated,
		ProductIds:   cartPlan(input.lines()).productIds(),
	})
	return purchase.result(), nil
}

// CancelPurchase takes the received goods back out of stock. Catalog costs
// are left as they are.
func CancelPurchase(ctx context.Context, identity policy.Identity, purchaseId int) (*PurchaseResult, error) {
	ctx, span := startOperation(ctx, "CancelPurchase", identity)
	defer span.End()
	span.SetAttributes(attribute.Int("purchase_id", purchaseId))
	meta := map[string]any{"document": ResourcePurchase, "purchase_id": purchaseId}

	if err := identity.Validate(); err != nil {
		return nil, failOperation(ctx, span, identity, "CancelPurchase", meta, err)
	}
	if err := policy.Require(identity, policy.CapCancelPurchases); err != nil {
		return nil, failOperation(ctx, span, identity, "CancelPurchase", meta, err)
	}

	var purchase *Purchase
	err := runInTx(ctx, func(tx *gorm.DB) error {
		var err error
		purchase, err = utils.FetchModelForUpdate[Purchase](tx, identity.BusinessId, purchaseId, "purchase", "Items")
		if err != nil {
			return err
		}
		if purchase.Cancelled() {
			return utils.NewConflict("PURCHASE_ALREADY_CANCELLED", "purchase %s is already cancelled", purchase.Code)
		}
		plan := purchase.stockPlan()
		settings, err := getCompanySettings(tx, identity.BusinessId)
		if err != nil {
			return err
		}
		if !policy.CanBypassStock(identity, settings.AllowNegativeStock) {
			products, err := loadProducts(tx, identity.BusinessId, plan.productIds())
			if err != nil {
				return err
			}
			if err := checkStockOutflow(products, plan, nil); err != nil {
				return err
			}
		}

		now := time.Now()
		res := tx.Model(&Purchase{}).
			Where("id = ? AND business_id = ? AND cancelled_at IS NULL", purchase.ID, identity.BusinessId).
			Updates(map[string]any{"cancelled_at": now, "cancelled_by": identity.UserId})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return utils.NewConflict("PURCHASE_ALREADY_CANCELLED", "purchase %s is already cancelled", purchase.Code)
		}
		purchase.CancelledAt = &now
		purchase.CancelledBy = &identity.UserId

		if err := applyPurchaseStock(tx, identity.BusinessId, plan, -1); err != nil {
			return err
		}
		trail := NewAuditTrail(identity)
		trail.Record(AuditPurchaseCancelled, ResourcePurchase, purchase.ID, purchase.snapshot())
		return trail.Flush(tx)
	})
	if err != nil {
		return nil, failOperation(ctx, span, identity, "CancelPurchase", meta, err)
	}
	afterCommit(ctx, CommitEvent{
		BusinessId:   identity.BusinessId,
		ResourceType: ResourcePurchase,
		ResourceId:   purchase.ID,
		Action:       AuditPurchaseCancelled,
		ProductIds:   purchase.stockPlan().productIds(),
	})
	return purchase.result(), nil
}

// UpdatePurchase removes the old items from stock, replaces them and adds
// the new items.
func UpdatePurchase(ctx context.Context, identity policy.Identity, purchaseId int, input *NewPurchase) (*PurchaseResult, error) {
	ctx, span := startOperation(ctx, "UpdatePurchase", identity)
	defer span.End()
	span.SetAttributes(attribute.Int("purchase_id", purchaseId))
	meta := purchaseMetadata(input)
	meta["purchase_id"] = purchaseId

	if err := identity.Validate(); err != nil {
		return nil, failOperation(ctx, span, identity, "UpdatePurchase", meta, err)
	}
	if err := policy.Require(identity, policy.CapEditPurchases); err != nil {
		return nil, failOperation(ctx, span, identity, "UpdatePurchase", meta, err)
	}
	if err := input.validate(); err != nil {
		return nil, failOperation(ctx, span, identity, "UpdatePurchase", meta, err)
	}

	var purchase *Purchase
	var touched []int
	err := runInTx(ctx, func(tx *gorm.DB) error {
		var err error
		purchase, err = utils.FetchModelForUpdate[Purchase](tx, identity.BusinessId, purchaseId, "purchase", "Items")
		if err != nil {
			return err
		}
		if purchase.Cancelled() {
			return utils.NewConflict("PURCHASE_CANCELLED", "purchase %s is cancelled and cannot be edited", purchase.Code)
		}
		oldPlan := purchase.stockPlan()
		newPlan := cartPlan(input.lines())
		ids := utils.UniqueSlice(append(oldPlan.productIds(), newPlan.productIds()...))
		products, err := loadProducts(tx, identity.BusinessId, ids)
		if err != nil {
			return err
		}
		if err := ensureActive(products, newPlan.productIds()); err != nil {
			return err
		}
		settings, err := getCompanySettings(tx, identity.BusinessId)
		if err != nil {
			return err
		}
		// the old quantities leave stock, the new ones come back in
		if !policy.CanBypassStock(identity, settings.AllowNegativeStock) {
			if err := checkStockOutflow(products, oldPlan, newPlan); err != nil {
				return err
			}
		}
		supplier, err := resolveSupplier(tx, identity.BusinessId, input.SupplierId)
		if err != nil {
			return err
		}
		items, itemsTotal := costPurchaseItems(identity.BusinessId, products, supplier, input.Items)
		before := purchase.snapshot()

		if err := applyPurchaseStock(tx, identity.BusinessId, oldPlan, -1); err != nil {
			return err
		}
		if err := tx.Where("business_id = ? AND purchase_id = ?", identity.BusinessId, purchase.ID).Delete(&PurchaseItem{}).Error; err != nil {
			return err
		}

		purchase.SupplierId = nil
		purchase.SupplierName = ""
		if supplier != nil {
			purchase.SupplierId = &supplier.ID
			purchase.SupplierName = supplier.Name
		}
		purchase.ShippingCents = input.ShippingCents
		purchase.TotalCents = itemsTotal + input.ShippingCents
		purchase.Notes = input.Notes
		err = tx.Model(&Purchase{}).
			Where("id = ? AND business_id = ?", purchase.ID, identity.BusinessId).
			Updates(map[string]any{
				"supplier_id":    purchase.SupplierId,
				"supplier_name":  purchase.SupplierName,
				"shipping_cents": purchase.ShippingCents,
				"total_cents":    purchase.TotalCents,
				"notes":          purchase.Notes,
			}).Error
		if err != nil {
			return err
		}
		for i := range items {
			items[i].PurchaseId = purchase.ID
		}
		if err := tx.Create(&items).Error; err != nil {
			return err
		}
		purchase.Items = items
		if err := applyPurchaseStock(tx, identity.BusinessId, newPlan, 1); err != nil {
			return err
		}

		trail := NewAuditTrail(identity)
		trail.Record(AuditPurchaseEdited, ResourcePurchase, purchase.ID, map[string]any{
			"before": before,
			"after":  purchase.snapshot(),
		})
		if input.UpdateProductCost {
			if err := applyPurchaseCosts(tx, identity.BusinessId, items, trail); err != nil {
				return err
			}
		}
		if err := trail.Flush(tx); err != nil {
			return err
		}
		touched = ids
		return nil
	})
	if err != nil {
		return nil, failOperation(ctx, span, identity, "UpdatePurchase", meta, err)
	}
	afterCommit(ctx, CommitEvent{
		BusinessId:   identity.BusinessId,
		ResourceType: ResourcePurchase,
		ResourceId:   purchase.ID,
		Action:       AuditPurchaseEdited,
		ProductIds:   touched,
	})
	return purchase.result(), nil
}

func GetPurchase(ctx context.Context, identity policy.Identity, purchaseId int) (*Purchase, error) {
	ctx, span := startOperation(ctx, "GetPurchase", identity)
	defer span.End()
	span.SetAttributes(attribute.Int("purchase_id", purchaseId))

	generation, genErr := utils.RedisItemGeneration[Purchase](ctx, purchaseId)
	if genErr == nil {
		if cached, err := utils.RetrieveRedisItem[Purchase](ctx, purchaseId, generation); err == nil && cached != nil && cached.BusinessId == identity.BusinessId {
			return cached, nil
		}
	}
	meta := map[string]any{"document": ResourcePurchase, "purchase_id": purchaseId}
	db, err := readDB(ctx)
	if err != nil {
		return nil, failOperation(ctx, span, identity, "GetPurchase", meta, err)
	}
	purchase, err := utils.FetchModel[Purchase](db, identity.BusinessId, purchaseId, "purchase", "Items")
	if err != nil {
		return nil, failOperation(ctx, span, identity, "GetPurchase", meta, err)
	}
	if genErr != nil {
		return purchase, nil
	}
	if err := utils.StoreRedisItem(ctx, purchase.ID, generation, purchase, config.GetSettings().CacheLifespan); err != nil {
		config.LogError(config.GetLogger(), "models", "GetPurchase", "StoreRedisItem", purchase.ID, err)
	}
	return purchase, nil
}
