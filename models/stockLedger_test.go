package models_test

import (
	"testing"

	"github.com/mmdatafocus/retail_backend/models"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func TestApplyStockDelta(t *testing.T) {
	db := setupLedgerDB(t)
	p := seedProduct(t, db, tenantA, "rice", 5000, 10)

	tests := []struct {
		name      string
		tenant    string
		productId int
		delta     decimal.Decimal
		wantKind  utils.ErrorKind
		wantStock int64
	}{
		{name: "outflow", tenant: tenantA, productId: p.ID, delta: decimal.NewFromInt(-4), wantStock: 6},
		{name: "inflow", tenant: tenantA, productId: p.ID, delta: decimal.NewFromInt(7), wantStock: 13},
		// sufficiency is the caller's job
		{name: "below zero", tenant: tenantA, productId: p.ID, delta: decimal.NewFromInt(-20), wantStock: -7},
		{name: "foreign tenant", tenant: tenantB, productId: p.ID, delta: decimal.NewFromInt(1), wantKind: utils.KindNotFound, wantStock: -7},
		{name: "unknown product", tenant: tenantA, productId: p.ID + 1000, delta: decimal.NewFromInt(1), wantKind: utils.KindNotFound, wantStock: -7},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := models.ApplyStockDelta(db, tc.tenant, tc.productId, tc.delta)
			if tc.wantKind != "" {
				assertKind(t, err, tc.wantKind)
			} else if err != nil {
				t.Fatalf("ApplyStockDelta: %v", err)
			}
			assertStock(t, db, p.ID, tc.wantStock)
		})
	}
}

func TestNextSequence(t *testing.T) {
	db := setupLedgerDB(t)

	next := func(tenant, series string) int64 {
		t.Helper()
		var n int64
		err := db.Transaction(func(tx *gorm.DB) error {
			var err error
			n, err = models.NextSequence(tx, tenant, series)
			return err
		})
		if err != nil {
			t.Fatalf("NextSequence(%s, %s): %v", tenant, series, err)
		}
		return n
	}

	if got := next(tenantA, "A"); got != 1 {
		t.Fatalf("first number = %d, want 1", got)
	}
	if got := next(tenantA, " a "); got != 2 {
		t.Fatalf("normalized series = %d, want 2", got)
	}
	if got := next(tenantB, "A"); got != 1 {
		t.Fatalf("other tenant = %d, want 1", got)
	}

	// a rolled back number is issued again
	_ = db.Transaction(func(tx *gorm.DB) error {
		if _, err := models.NextSequence(tx, tenantA, "A"); err != nil {
			t.Fatalf("NextSequence: %v", err)
		}
		return gorm.ErrInvalidTransaction
	})
	if got := next(tenantA, "A"); got != 3 {
		t.Fatalf("after rollback = %d, want 3", got)
	}

	_, err := models.NextSequence(db, tenantA, "  ")
	assertKind(t, err, utils.KindValidation)
}
