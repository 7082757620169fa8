package models_test

import (
	"testing"

	"github.com/mmdatafocus/retail_backend/models"
	"github.com/mmdatafocus/retail_backend/utils"
)

func TestReplayAuditOutbox(t *testing.T) {
	db := setupLedgerDB(t)
	p := seedProduct(t, db, tenantA, "lamp", 1000, 3)
	if _, err := models.CreateSale(bg, clerkA, &models.NewSale{Items: []models.NewSaleItem{saleItem(p.ID, 1, 1000)}}); err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	var rec models.AuditOutbox
	if err := db.First(&rec).Error; err != nil {
		t.Fatalf("load outbox row: %v", err)
	}

	_, err := models.ReplayAuditOutbox(bg, adminA, rec.ID)
	assertKind(t, err, utils.KindConflict)

	if err := db.Model(&rec).Updates(map[string]interface{}{
		"publish_status":   models.OutboxPublishStatusDead,
		"publish_attempts": 20,
	}).Error; err != nil {
		t.Fatalf("mark dead: %v", err)
	}

	_, err = models.ReplayAuditOutbox(bg, clerkA, rec.ID)
	assertKind(t, err, utils.KindPermissionDenied)
	_, err = models.ReplayAuditOutbox(bg, adminB, rec.ID)
	assertKind(t, err, utils.KindNotFound)

	got, err := models.ReplayAuditOutbox(bg, adminA, rec.ID)
	if err != nil {
		t.Fatalf("ReplayAuditOutbox: %v", err)
	}
	if got.PublishStatus != models.OutboxPublishStatusFailed || got.PublishAttempts != 0 || got.NextAttemptAt == nil {
		t.Fatalf("replayed row: %+v", got)
	}
}
