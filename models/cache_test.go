package models_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/models"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/redis/go-redis/v9"
)

func useMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	config.UseRedis(client)
	t.Cleanup(func() {
		config.UseRedis(nil)
		_ = client.Close()
	})
	return mr
}

func TestGetSaleCacheFollowsWrites(t *testing.T) {
	db := setupLedgerDB(t)
	useMiniredis(t)
	p := seedProduct(t, db, tenantA, "tea", 100, 5)

	res, err := models.CreateSale(bg, clerkA, &models.NewSale{Items: []models.NewSaleItem{saleItem(p.ID, 1, 100)}})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	// a reader that loaded the sale before the cancel committed
	staleGen, err := utils.RedisItemGeneration[models.Sale](context.Background(), res.Id)
	if err != nil {
		t.Fatalf("RedisItemGeneration: %v", err)
	}
	stale, err := models.GetSale(bg, clerkA, res.Id)
	if err != nil {
		t.Fatalf("GetSale: %v", err)
	}
	if cached, _ := utils.RetrieveRedisItem[models.Sale](context.Background(), res.Id, staleGen); cached == nil {
		t.Fatal("sale was not cached")
	}

	if _, err := models.CancelSale(bg, adminA, res.Id); err != nil {
		t.Fatalf("CancelSale: %v", err)
	}
	got, err := models.GetSale(bg, clerkA, res.Id)
	if err != nil {
		t.Fatalf("GetSale after cancel: %v", err)
	}
	if got.CancelledAt == nil {
		t.Fatal("cancel not visible right after commit")
	}

	// the slow reader stores its copy after the invalidation
	if err := utils.StoreRedisItem(context.Background(), res.Id, staleGen, stale, time.Hour); err != nil {
		t.Fatalf("StoreRedisItem: %v", err)
	}
	got, err = models.GetSale(bg, clerkA, res.Id)
	if err != nil {
		t.Fatalf("GetSale: %v", err)
	}
	if got.CancelledAt == nil {
		t.Fatal("stale cached sale served after cancel")
	}
}

func TestGetSaleCacheIsTenantScoped(t *testing.T) {
	db := setupLedgerDB(t)
	useMiniredis(t)
	p := seedProduct(t, db, tenantA, "tea", 100, 5)

	res, err := models.CreateSale(bg, clerkA, &models.NewSale{Items: []models.NewSaleItem{saleItem(p.ID, 1, 100)}})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if _, err := models.GetSale(bg, clerkA, res.Id); err != nil {
		t.Fatalf("GetSale: %v", err)
	}
	_, err = models.GetSale(bg, adminB, res.Id)
	assertKind(t, err, utils.KindNotFound)
}
