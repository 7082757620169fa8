package models_test

import (
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/retail_backend/models"
)

func TestCommitHooksRunAfterCommit(t *testing.T) {
	db := setupLedgerDB(t)
	p := seedProduct(t, db, tenantA, "soap", 100, 5)

	events := make(chan models.CommitEvent, 16)
	models.RegisterCommitHook(func(ctx context.Context, ev models.CommitEvent) {
		select {
		case events <- ev:
		default:
		}
	})

	res, err := models.CreateSale(bg, clerkA, &models.NewSale{Items: []models.NewSaleItem{saleItem(p.ID, 1, 100)}})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.ResourceType != models.ResourceSale || ev.ResourceId != res.Id {
				continue
			}
			if ev.BusinessId != tenantA || ev.Action != models.AuditSaleCreated || len(ev.ProductIds) != 1 || ev.ProductIds[0] != p.ID {
				t.Fatalf("event = %+v", ev)
			}
			return
		case <-deadline:
			t.Fatal("commit hook did not run")
		}
	}
}
