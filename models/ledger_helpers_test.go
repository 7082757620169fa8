package models_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/models"
	"github.com/mmdatafocus/retail_backend/policy"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	tenantA = "biz-a"
	tenantB = "biz-b"
)

var (
	adminA = policy.NewIdentity(tenantA, 1, "owner", policy.RoleAdmin)
	clerkA = policy.NewIdentity(tenantA, 2, "clerk", policy.RoleUser)
	adminB = policy.NewIdentity(tenantB, 3, "other", policy.RoleAdmin)
)

// setupLedgerDB opens a migrated SQLite file database under t.TempDir and
// installs it as the process database.
func setupLedgerDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL",
		filepath.Join(t.TempDir(), "ledger.db"))
	s := &config.Settings{
		DBDriver:         "sqlite",
		DBDSN:            dsn,
		DBMaxOpenConns:   4,
		DBMaxIdleConns:   4,
		MaxCartItems:     20,
		DefaultTaxRateBp: 1800,
		PhoneRegion:      "DO",
		TxTimeout:        10 * time.Second,
		TxMaxAttempts:    5,
		TxRetryBackoff:   20 * time.Millisecond,
	}
	config.UseSettings(s)
	config.UseRedis(nil)

	db, err := config.OpenDatabase(s)
	if err != nil {
		t.Fatalf("OpenDatabase: %v", err)
	}
	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("MigrateTable: %v", err)
	}
	config.UseDB(db)
	t.Cleanup(func() {
		config.UseDB(nil)
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedProduct(t *testing.T, db *gorm.DB, businessId, name string, priceCents int64, stock int64) *models.Product {
	t.Helper()
	p := &models.Product{
		BusinessId: businessId,
		Name:       name,
		Sku:        name,
		Stock:      decimal.NewFromInt(stock),
		PriceCents: priceCents,
		CostCents:  priceCents / 2,
		TaxRateBp:  1800,
		IsActive:   utils.NewTrue(),
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("seed product %s: %v", name, err)
	}
	return p
}

func seedCustomer(t *testing.T, db *gorm.DB, businessId, name string, creditDays int, active bool) *models.Customer {
	t.Helper()
	c := &models.Customer{
		BusinessId: businessId,
		Name:       name,
		CreditDays: creditDays,
		IsActive:   utils.NewTrue(),
	}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("seed customer %s: %v", name, err)
	}
	if !active {
		if err := db.Model(c).Update("is_active", false).Error; err != nil {
			t.Fatalf("deactivate customer %s: %v", name, err)
		}
	}
	return c
}

func stockOf(t *testing.T, db *gorm.DB, productId int) decimal.Decimal {
	t.Helper()
	var p models.Product
	if err := db.First(&p, productId).Error; err != nil {
		t.Fatalf("load product %d: %v", productId, err)
	}
	return p.Stock
}

func assertStock(t *testing.T, db *gorm.DB, productId int, want int64) {
	t.Helper()
	if got := stockOf(t, db, productId); !got.Equal(decimal.NewFromInt(want)) {
		t.Fatalf("product %d stock = %s, want %d", productId, got, want)
	}
}

func assertKind(t *testing.T, err error, kind utils.ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := utils.KindOf(err); got != kind {
		t.Fatalf("error kind = %s, want %s (err: %v)", got, kind, err)
	}
}

func countRows[T any](t *testing.T, db *gorm.DB, query string, args ...any) int64 {
	t.Helper()
	var n int64
	var model T
	q := db.Model(&model)
	if query != "" {
		q = q.Where(query, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func saleItem(productId int, qty int64, priceCents int64) models.NewSaleItem {
	return models.NewSaleItem{ProductId: productId, Qty: decimal.NewFromInt(qty), UnitPriceCents: priceCents}
}

func loadSale(t *testing.T, db *gorm.DB, id int) *models.Sale {
	t.Helper()
	var s models.Sale
	if err := db.Preload("Items").First(&s, id).Error; err != nil {
		t.Fatalf("load sale %d: %v", id, err)
	}
	return &s
}

var bg = context.Background()
