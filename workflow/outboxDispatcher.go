package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/models"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AuditPublisher delivers one audit message and returns the broker message id.
type AuditPublisher interface {
	Publish(ctx context.Context, msg config.AuditMessage) (string, error)
}

const dispatcherLockKey = "lock:audit-outbox-dispatcher"

// OutboxDispatcher publishes committed audit events from the audit_outboxes
// table. Audit rows are written in the business transaction; publishing
// happens here, after commit, with retries.
type OutboxDispatcher struct {
	DB           *gorm.DB
	Publisher    AuditPublisher
	Logger       *logrus.Logger
	Locker       *redislock.Client
	DispatcherID string

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration

	wake chan struct{}
}

func NewOutboxDispatcher(db *gorm.DB, publisher AuditPublisher, logger *logrus.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		DB:             db,
		Publisher:      publisher,
		Logger:         logger,
		Locker:         config.GetRedisLock(),
		DispatcherID:   uuid.NewString(),
		BatchSize:      50,
		PollInterval:   500 * time.Millisecond,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
		wake:           make(chan struct{}, 1),
	}
}

// Notify cuts the current poll wait short. It never blocks; a commit hook
// calls it when a transaction has written audit rows.
func (d *OutboxDispatcher) Notify() {
	if d.wake == nil {
		return
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		case <-time.After(d.PollInterval):
		}
	}
}

// tick runs one batch under the redis lease when redis is available. Without
// redis every instance dispatches and SKIP LOCKED keeps claims disjoint.
func (d *OutboxDispatcher) tick(ctx context.Context) {
	if d.Locker == nil {
		d.DispatchOnce(ctx)
		return
	}
	lock, err := d.Locker.Obtain(ctx, dispatcherLockKey, d.LockTimeout, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return
	}
	if err != nil {
		d.warn("error obtaining dispatcher lease; dispatching without it: "+err.Error(), nil)
		d.DispatchOnce(ctx)
		return
	}
	defer func() {
		if releaseErr := lock.Release(context.WithoutCancel(ctx)); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
			d.warn("failed to release dispatcher lease: "+releaseErr.Error(), nil)
		}
	}()
	d.DispatchOnce(ctx)
}

// DispatchOnce claims one batch and publishes it. It returns the number of
// rows marked SENT.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) int {
	if d.DB == nil || d.Publisher == nil {
		return 0
	}
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)
	now := time.Now().UTC()
	staleBefore := now.Add(-d.LockTimeout)

	var claimed []models.AuditOutbox
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ready := tx.Where("publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)",
			[]string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed}, now)
		// a claimer that died leaves its rows PROCESSING with an old lock
		abandoned := tx.Where("publish_status = ? AND locked_at IS NOT NULL AND locked_at <= ?",
			models.OutboxPublishStatusProcessing, staleBefore)
		err := tx.Where(ready).Or(abandoned).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Find(&claimed).Error
		if err != nil {
			return err
		}
		for i := range claimed {
			rec := &claimed[i]
			if d.exhausted(rec.PublishAttempts) {
				rec.PublishStatus = models.OutboxPublishStatusDead
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", d.MaxAttempts)
				if err := setOutbox(tx, rec.ID, released(models.OutboxPublishStatusDead, &msg, nil)); err != nil {
					return err
				}
				continue
			}
			rec.PublishStatus = models.OutboxPublishStatusProcessing
			rec.PublishAttempts++
			if err := setOutbox(tx, rec.ID, map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusProcessing,
				"publish_attempts":   gorm.Expr("publish_attempts + 1"),
				"locked_at":          &now,
				"locked_by":          &d.DispatcherID,
				"last_publish_error": nil,
				"next_attempt_at":    nil,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		d.warn("claiming audit outbox batch failed: "+err.Error(), nil)
		return 0
	}
	if len(claimed) == 0 {
		return 0
	}

	events, err := d.loadEvents(ctx, claimed)
	if err != nil {
		d.warn("loading audit events failed: "+err.Error(), nil)
		return 0
	}

	sent := 0
	for _, rec := range claimed {
		if rec.PublishStatus == models.OutboxPublishStatusDead {
			continue
		}
		event, ok := events[rec.AuditEventId]
		if !ok {
			d.markPublishFailed(ctx, rec, fmt.Errorf("audit event %d not found", rec.AuditEventId))
			continue
		}
		msgId, pubErr := d.Publisher.Publish(ctx, event.ToAuditMessage())
		if pubErr != nil {
			d.markPublishFailed(ctx, rec, pubErr)
			continue
		}
		d.markPublishSent(ctx, rec.ID, msgId)
		sent++
	}
	return sent
}

func (d *OutboxDispatcher) loadEvents(ctx context.Context, claimed []models.AuditOutbox) (map[int]models.AuditEvent, error) {
	ids := make([]int, 0, len(claimed))
	for _, rec := range claimed {
		ids = append(ids, rec.AuditEventId)
	}
	var events []models.AuditEvent
	if err := d.DB.WithContext(ctx).Where("id IN ?", utils.UniqueSlice(ids)).Find(&events).Error; err != nil {
		return nil, err
	}
	out := make(map[int]models.AuditEvent, len(events))
	for _, e := range events {
		out[e.ID] = e
	}
	return out, nil
}

// setOutbox updates one outbox row; publish state lives only on that row.
func setOutbox(db *gorm.DB, recordID int, updates map[string]interface{}) error {
	return db.Model(&models.AuditOutbox{}).Where("id = ?", recordID).Updates(updates).Error
}

// released is the update that ends a claim with status.
func released(status string, lastError *string, nextAttempt *time.Time) map[string]interface{} {
	return map[string]interface{}{
		"publish_status":     status,
		"last_publish_error": lastError,
		"next_attempt_at":    nextAttempt,
		"locked_at":          nil,
		"locked_by":          nil,
	}
}

func (d *OutboxDispatcher) exhausted(attempts int) bool {
	return d.MaxAttempts > 0 && attempts >= d.MaxAttempts
}

func (d *OutboxDispatcher) markPublishSent(ctx context.Context, recordID int, messageID string) {
	now := time.Now().UTC()
	updates := released(models.OutboxPublishStatusSent, nil, nil)
	updates["published_at"] = &now
	updates["pub_sub_message_id"] = &messageID
	if err := setOutbox(d.DB.WithContext(ctx), recordID, updates); err != nil {
		d.warn("marking audit outbox row sent failed: "+err.Error(), logrus.Fields{"record_id": recordID})
	}
}

// markPublishFailed schedules a retry, or parks the row as DEAD once its
// attempts are used up.
func (d *OutboxDispatcher) markPublishFailed(ctx context.Context, rec models.AuditOutbox, err error) {
	msg := err.Error()
	fields := logrus.Fields{
		"field":          "OutboxDispatcher",
		"business_id":    rec.BusinessId,
		"record_id":      rec.ID,
		"audit_event_id": rec.AuditEventId,
		"attempt":        rec.PublishAttempts,
	}

	if d.exhausted(rec.PublishAttempts) {
		if uerr := setOutbox(d.DB.WithContext(ctx), rec.ID, released(models.OutboxPublishStatusDead, &msg, nil)); uerr != nil {
			d.warn("marking audit outbox row dead failed: "+uerr.Error(), fields)
		}
		if d.Logger != nil {
			d.Logger.WithFields(fields).Error("audit publish moved to DEAD after max attempts: " + msg)
		}
		return
	}

	next := time.Now().UTC().Add(retryBackoff(d.InitialBackoff, rec.PublishAttempts))
	if uerr := setOutbox(d.DB.WithContext(ctx), rec.ID, released(models.OutboxPublishStatusFailed, &msg, &next)); uerr != nil {
		d.warn("marking audit outbox row failed: "+uerr.Error(), fields)
	}
	if d.Logger != nil {
		fields["next_attempt_at"] = next.Format(time.RFC3339Nano)
		d.Logger.WithFields(fields).Error("audit publish failed: " + msg)
	}
}

// retryBackoff doubles initial per attempt, capped at ten minutes.
func retryBackoff(initial time.Duration, attempt int) time.Duration {
	backoff := initial
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > 10*time.Minute {
			return 10 * time.Minute
		}
	}
	return backoff
}

func (d *OutboxDispatcher) warn(msg string, fields logrus.Fields) {
	if d.Logger == nil {
		return
	}
	f := logrus.Fields{"field": "OutboxDispatcher", "dispatcher_id": d.DispatcherID}
	for k, v := range fields {
		f[k] = v
	}
	d.Logger.WithFields(f).Warn(msg)
}
