package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/mmdatafocus/retail_backend/appctx"
	"gorm.io/gorm"
)

type guardedRow struct {
	ID         int
	BusinessId string
	Name       string
}

func openGuardDB(t *testing.T) *gorm.DB {
	t.Helper()
	s := &Settings{
		DBDriver: "sqlite",
		DBDSN:    fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.Join(t.TempDir(), "guard.db")),
	}
	db, err := OpenDatabase(s)
	if err != nil {
		t.Fatalf("OpenDatabase: %v", err)
	}
	if err := db.AutoMigrate(&guardedRow{}); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func tenantCtx(biz string) context.Context {
	return appctx.Set(context.Background(), appctx.ContextKeyBusinessId, biz)
}

func TestTenantGuardScopesQueries(t *testing.T) {
	db := openGuardDB(t)
	for _, biz := range []string{"biz-a", "biz-a", "biz-b"} {
		// business_id is stamped from the context
		if err := db.WithContext(tenantCtx(biz)).Create(&guardedRow{Name: biz}).Error; err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	var rows []guardedRow
	if err := db.WithContext(tenantCtx("biz-a")).Find(&rows).Error; err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(rows) != 2 || rows[0].BusinessId != "biz-a" {
		t.Fatalf("biz-a sees %+v", rows)
	}

	res := db.WithContext(tenantCtx("biz-b")).Model(&guardedRow{}).Where("name = ?", "biz-a").Update("name", "taken")
	if res.Error != nil || res.RowsAffected != 0 {
		t.Fatalf("cross-tenant update touched %d rows (%v)", res.RowsAffected, res.Error)
	}

	skip := appctx.Set(tenantCtx("biz-b"), appctx.ContextKeySkipTenantScope, true)
	var n int64
	if err := db.WithContext(skip).Model(&guardedRow{}).Count(&n).Error; err != nil || n != 3 {
		t.Fatalf("unscoped count = %d (%v), want 3", n, err)
	}
}

func TestTenantGuardRejectsCrossTenantCreate(t *testing.T) {
	db := openGuardDB(t)
	err := db.WithContext(tenantCtx("biz-a")).Create(&guardedRow{BusinessId: "biz-b", Name: "x"}).Error
	if !errors.Is(err, ErrCrossTenantWrite) {
		t.Fatalf("err = %v, want ErrCrossTenantWrite", err)
	}
}
