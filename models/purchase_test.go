package models_test

import (
	"testing"

	"github.com/mmdatafocus/retail_backend/models"
	"github.com/mmdatafocus/retail_backend/policy"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/shopspring/decimal"
)

func purchaseItem(productId int, qty int64, costCents int64, discountBp *int64) models.NewPurchaseItem {
	return models.NewPurchaseItem{
		ProductId:     productId,
		Qty:           decimal.NewFromInt(qty),
		UnitCostCents: costCents,
		DiscountBp:    discountBp,
	}
}

func bp(v int64) *int64 { return &v }

func TestCreatePurchaseNetCost(t *testing.T) {
	db := setupLedgerDB(t)
	p := seedProduct(t, db, tenantA, "cement", 9000, 0)

	res, err := models.CreatePurchase(bg, clerkA, &models.NewPurchase{
		UpdateProductCost: true,
		Items:             []models.NewPurchaseItem{purchaseItem(p.ID, 10, 5000, bp(1000))},
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}
	if res.Code != "P-00001" {
		t.Fatalf("code = %s, want P-00001", res.Code)
	}

	var purchase models.Purchase
	if err := db.Preload("Items").First(&purchase, res.Id).Error; err != nil {
		t.Fatalf("load purchase: %v", err)
	}
	item := purchase.Items[0]
	if item.NetCostCents != 5310 || item.LineTotalCents != 53100 {
		t.Fatalf("net cost %d line total %d, want 5310/53100", item.NetCostCents, item.LineTotalCents)
	}
	if purchase.TotalCents != 53100 {
		t.Fatalf("total = %d, want 53100", purchase.TotalCents)
	}
	assertStock(t, db, p.ID, 10)

	var product models.Product
	if err := db.First(&product, p.ID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	if product.CostCents != 5310 {
		t.Fatalf("catalog cost = %d, want 5310", product.CostCents)
	}
	if n := countRows[models.AuditEvent](t, db, "action = ?", models.AuditProductCostUpdated); n != 1 {
		t.Fatalf("PRODUCT_COST_UPDATED events = %d, want 1", n)
	}
}

func TestCreatePurchaseSupplierDiscountFallback(t *testing.T) {
	db := setupLedgerDB(t)
	p := seedProduct(t, db, tenantA, "nails", 100, 0)
	supplier := &models.Supplier{BusinessId: tenantA, Name: "Acme", DiscountBp: 1000, IsActive: utils.NewTrue()}
	if err := db.Create(supplier).Error; err != nil {
		t.Fatalf("seed supplier: %v", err)
	}

	res, err := models.CreatePurchase(bg, clerkA, &models.NewPurchase{
		SupplierId:    &supplier.ID,
		ShippingCents: 700,
		Items: []models.NewPurchaseItem{
			purchaseItem(p.ID, 10, 5000, nil),
			purchaseItem(p.ID, 1, 5000, bp(0)),
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}
	var purchase models.Purchase
	if err := db.Preload("Items").First(&purchase, res.Id).Error; err != nil {
		t.Fatalf("load purchase: %v", err)
	}
	if purchase.SupplierName != "Acme" {
		t.Fatalf("supplier name = %q", purchase.SupplierName)
	}
	var lines int64
	for _, item := range purchase.Items {
		lines += item.LineTotalCents
	}
	if lines != 53100+5900 {
		t.Fatalf("lines = %d, want %d", lines, 53100+5900)
	}
	if purchase.TotalCents != lines+700 {
		t.Fatalf("total = %d, want %d", purchase.TotalCents, lines+700)
	}
	assertStock(t, db, p.ID, 11)

	// catalog cost untouched without the flag
	var product models.Product
	if err := db.First(&product, p.ID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	if product.CostCents != 50 {
		t.Fatalf("catalog cost = %d, want 50", product.CostCents)
	}
}

func TestCreatePurchaseForeignSupplier(t *testing.T) {
	db := setupLedgerDB(t)
	p := seedProduct(t, db, tenantA, "nails", 100, 0)
	foreign := &models.Supplier{BusinessId: tenantB, Name: "Other", IsActive: utils.NewTrue()}
	if err := db.Create(foreign).Error; err != nil {
		t.Fatalf("seed supplier: %v", err)
	}
	_, err := models.CreatePurchase(bg, clerkA, &models.NewPurchase{
		SupplierId: &foreign.ID,
		Items:      []models.NewPurchaseItem{purchaseItem(p.ID, 1, 100, nil)},
	})
	assertKind(t, err, utils.KindNotFound)
	assertStock(t, db, p.ID, 0)
}

func TestCancelPurchaseRemovesStock(t *testing.T) {
	db := setupLedgerDB(t)
	p := seedProduct(t, db, tenantA, "tiles", 1000, 0)
	buyer := policy.NewIdentity(tenantA, 2, "clerk", policy.RoleUser, string(policy.CapCancelPurchases))

	res, err := models.CreatePurchase(bg, buyer, &models.NewPurchase{
		Items: []models.NewPurchaseItem{purchaseItem(p.ID, 10, 500, nil)},
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}
	if _, err := models.CreateSale(bg, buyer, &models.NewSale{
		Items: []models.NewSaleItem{saleItem(p.ID, 8, 1000)},
	}); err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	_, err = models.CancelPurchase(bg, clerkA, res.Id)
	assertKind(t, err, utils.KindPermissionDenied)

	// only 2 left of the 10 received
	_, err = models.CancelPurchase(bg, buyer, res.Id)
	assertKind(t, err, utils.KindConflict)
	assertStock(t, db, p.ID, 2)

	if _, err := models.CancelPurchase(bg, adminA, res.Id); err != nil {
		t.Fatalf("CancelPurchase as admin: %v", err)
	}
	assertStock(t, db, p.ID, -8)

	_, err = models.CancelPurchase(bg, adminA, res.Id)
	assertKind(t, err, utils.KindConflict)
	assertStock(t, db, p.ID, -8)

	_, err = models.UpdatePurchase(bg, adminA, res.Id, &models.NewPurchase{
		Items: []models.NewPurchaseItem{purchaseItem(p.ID, 1, 500, nil)},
	})
	assertKind(t, err, utils.KindConflict)
	assertStock(t, db, p.ID, -8)

	for action, want := range map[models.AuditAction]int64{
		models.AuditPurchaseCreated:   1,
		models.AuditPurchaseCancelled: 1,
		models.AuditPurchaseEdited:    0,
	} {
		if n := countRows[models.AuditEvent](t, db, "action = ? AND resource_id = ?", action, res.Id); n != want {
			t.Fatalf("%s events = %d, want %d", action, n, want)
		}
	}
}

func TestUpdatePurchaseReplacesItems(t *testing.T) {
	db := setupLedgerDB(t)
	a := seedProduct(t, db, tenantA, "a", 1000, 0)
	b := seedProduct(t, db, tenantA, "b", 1000, 0)

	res, err := models.CreatePurchase(bg, adminA, &models.NewPurchase{
		Items: []models.NewPurchaseItem{purchaseItem(a.ID, 5, 500, nil)},
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}

	_, err = models.UpdatePurchase(bg, clerkA, res.Id, &models.NewPurchase{
		Items: []models.NewPurchaseItem{purchaseItem(b.ID, 3, 500, nil)},
	})
	assertKind(t, err, utils.KindPermissionDenied)

	if _, err := models.UpdatePurchase(bg, adminA, res.Id, &models.NewPurchase{
		Items: []models.NewPurchaseItem{purchaseItem(a.ID, 2, 500, nil), purchaseItem(b.ID, 3, 500, nil)},
	}); err != nil {
		t.Fatalf("UpdatePurchase: %v", err)
	}
	assertStock(t, db, a.ID, 2)
	assertStock(t, db, b.ID, 3)
	if n := countRows[models.PurchaseItem](t, db, "purchase_id = ?", res.Id); n != 2 {
		t.Fatalf("item rows = %d, want 2", n)
	}
	if n := countRows[models.AuditEvent](t, db, "action = ? AND resource_id = ?", models.AuditPurchaseEdited, res.Id); n != 1 {
		t.Fatalf("PURCHASE_EDITED events = %d, want 1", n)
	}
}

func TestUpdatePurchaseKeepsStockNonNegative(t *testing.T) {
	db := setupLedgerDB(t)
	p := seedProduct(t, db, tenantA, "p", 1000, 0)
	editor := policy.NewIdentity(tenantA, 2, "clerk", policy.RoleUser, string(policy.CapEditPurchases))

	res, err := models.CreatePurchase(bg, editor, &models.NewPurchase{
		Items: []models.NewPurchaseItem{purchaseItem(p.ID, 5, 500, nil)},
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}
	if _, err := models.CreateSale(bg, editor, &models.NewSale{Items: []models.NewSaleItem{saleItem(p.ID, 4, 1000)}}); err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	// 1 in stock; receiving 2 instead of 5 would leave -2
	_, err = models.UpdatePurchase(bg, editor, res.Id, &models.NewPurchase{
		Items: []models.NewPurchaseItem{purchaseItem(p.ID, 2, 500, nil)},
	})
	assertKind(t, err, utils.KindConflict)
	assertStock(t, db, p.ID, 1)

	if _, err := models.UpdatePurchase(bg, editor, res.Id, &models.NewPurchase{
		Items: []models.NewPurchaseItem{purchaseItem(p.ID, 4, 500, nil)},
	}); err != nil {
		t.Fatalf("UpdatePurchase: %v", err)
	}
	assertStock(t, db, p.ID, 0)
}
