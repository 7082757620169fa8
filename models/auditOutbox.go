package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/retail_backend/policy"
	"github.com/mmdatafocus/retail_backend/utils"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// ReplayAuditOutbox re-queues a FAILED or DEAD outbox row of the caller's
// tenant for immediate publishing. Admins only.
func ReplayAuditOutbox(ctx context.Context, identity policy.Identity, recordId int) (*AuditOutbox, error) {
	ctx, span := startOperation(ctx, "ReplayAuditOutbox", identity)
	defer span.End()
	span.SetAttributes(attribute.Int("record_id", recordId))
	meta := map[string]any{"record_id": recordId}

	if err := identity.Validate(); err != nil {
		return nil, failOperation(ctx, span, identity, "ReplayAuditOutbox", meta, err)
	}
	if !identity.IsAdmin() {
		return nil, failOperation(ctx, span, identity, "ReplayAuditOutbox", meta,
			utils.NewPermissionDenied("ADMIN_ONLY", "only admins can replay audit messages"))
	}

	var rec *AuditOutbox
	err := runInTx(ctx, func(tx *gorm.DB) error {
		var err error
		rec, err = utils.FetchModelForUpdate[AuditOutbox](tx, identity.BusinessId, recordId, "audit outbox record")
		if err != nil {
			return err
		}
		if rec.PublishStatus != OutboxPublishStatusFailed && rec.PublishStatus != OutboxPublishStatusDead {
			return utils.NewConflict("OUTBOX_NOT_REPLAYABLE", "only FAILED or DEAD records can be replayed").
				With("publish_status", rec.PublishStatus)
		}
		now := time.Now().UTC()
		if err := tx.Model(&AuditOutbox{}).
			Where("id = ? AND business_id = ?", rec.ID, identity.BusinessId).
			Updates(map[string]interface{}{
				"publish_status":     OutboxPublishStatusFailed,
				"publish_attempts":   0,
				"next_attempt_at":    &now,
				"locked_at":          nil,
				"locked_by":          nil,
				"last_publish_error": nil,
			}).Error; err != nil {
			return err
		}
		rec.PublishStatus = OutboxPublishStatusFailed
		rec.PublishAttempts = 0
		rec.NextAttemptAt = &now
		rec.LastPublishError = nil
		return nil
	})
	if err != nil {
		return nil, failOperation(ctx, span, identity, "ReplayAuditOutbox", meta, err)
	}
	return rec, nil
}
