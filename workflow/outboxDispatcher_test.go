package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/models"
	"gorm.io/gorm"
)

type fakePublisher struct {
	mu       sync.Mutex
	failures int
	sent     []config.AuditMessage
}

func (p *fakePublisher) Publish(ctx context.Context, msg config.AuditMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return "", errors.New("broker unavailable")
	}
	p.sent = append(p.sent, msg)
	return fmt.Sprintf("msg-%d", len(p.sent)), nil
}

func setupWorkflowDB(t *testing.T) *gorm.DB {
	t.Helper()
	s := &config.Settings{
		DBDriver:       "sqlite",
		DBDSN:          fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate", filepath.Join(t.TempDir(), "workflow.db")),
		DBMaxOpenConns: 1,
		DBMaxIdleConns: 1,
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
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func recordEvent(t *testing.T, db *gorm.DB, businessId string, resourceId int) *models.AuditEvent {
	t.Helper()
	var event *models.AuditEvent
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		event, err = models.RecordAuditEvent(tx, businessId, 1, "owner", models.AuditSaleCreated,
			models.ResourceSale, resourceId, map[string]any{"total_cents": 1000}, "cid-1")
		return err
	})
	if err != nil {
		t.Fatalf("RecordAuditEvent: %v", err)
	}
	return event
}

func outboxRow(t *testing.T, db *gorm.DB, eventId int) models.AuditOutbox {
	t.Helper()
	var rec models.AuditOutbox
	if err := db.Where("audit_event_id = ?", eventId).First(&rec).Error; err != nil {
		t.Fatalf("load outbox row: %v", err)
	}
	return rec
}

func TestDispatchOncePublishesPendingEvents(t *testing.T) {
	db := setupWorkflowDB(t)
	first := recordEvent(t, db, "biz-a", 1)
	second := recordEvent(t, db, "biz-b", 2)

	pub := &fakePublisher{}
	d := NewOutboxDispatcher(db, pub, nil)
	if n := d.DispatchOnce(context.Background()); n != 2 {
		t.Fatalf("sent = %d, want 2", n)
	}
	if len(pub.sent) != 2 || pub.sent[0].EventId != first.ID || pub.sent[1].BusinessId != "biz-b" {
		t.Fatalf("published %+v", pub.sent)
	}
	if string(pub.sent[0].Details) != `{"total_cents":1000}` {
		t.Fatalf("details = %s", pub.sent[0].Details)
	}

	rec := outboxRow(t, db, second.ID)
	if rec.PublishStatus != models.OutboxPublishStatusSent || rec.PubSubMessageId == nil || rec.PublishedAt == nil {
		t.Fatalf("outbox row after publish: %+v", rec)
	}
	if n := d.DispatchOnce(context.Background()); n != 0 {
		t.Fatalf("second pass sent %d, want 0", n)
	}
}

func TestNotifyWakesRun(t *testing.T) {
	db := setupWorkflowDB(t)
	recordEvent(t, db, "biz-a", 1)

	pub := &fakePublisher{}
	d := NewOutboxDispatcher(db, pub, nil)
	d.Locker = nil
	d.PollInterval = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	waitSent := func(want int) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			pub.mu.Lock()
			n := len(pub.sent)
			pub.mu.Unlock()
			if n >= want {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatalf("published fewer than %d messages", want)
	}
	waitSent(1)

	recordEvent(t, db, "biz-a", 1)
	d.Notify()
	waitSent(2)
}

func TestDispatchOnceBacksOffThenGoesDead(t *testing.T) {
	db := setupWorkflowDB(t)
	event := recordEvent(t, db, "biz-a", 1)

	pub := &fakePublisher{failures: 10}
	d := NewOutboxDispatcher(db, pub, nil)
	d.MaxAttempts = 2

	d.DispatchOnce(context.Background())
	rec := outboxRow(t, db, event.ID)
	if rec.PublishStatus != models.OutboxPublishStatusFailed || rec.PublishAttempts != 1 {
		t.Fatalf("after first failure: %+v", rec)
	}
	if rec.NextAttemptAt == nil || !rec.NextAttemptAt.After(time.Now().UTC()) {
		t.Fatalf("next attempt not scheduled: %+v", rec.NextAttemptAt)
	}

	// not ready yet
	d.DispatchOnce(context.Background())
	if rec = outboxRow(t, db, event.ID); rec.PublishAttempts != 1 {
		t.Fatalf("row retried before its backoff: %+v", rec)
	}

	if err := db.Model(&models.AuditOutbox{}).Where("id = ?", rec.ID).
		Update("next_attempt_at", time.Now().UTC().Add(-time.Second)).Error; err != nil {
		t.Fatalf("rewind backoff: %v", err)
	}
	d.DispatchOnce(context.Background())
	rec = outboxRow(t, db, event.ID)
	if rec.PublishStatus != models.OutboxPublishStatusDead || rec.LastPublishError == nil {
		t.Fatalf("after max attempts: %+v", rec)
	}
	if len(pub.sent) != 0 {
		t.Fatalf("published %d messages, want 0", len(pub.sent))
	}
}

func TestDispatchOnceReclaimsStaleProcessingRows(t *testing.T) {
	db := setupWorkflowDB(t)
	event := recordEvent(t, db, "biz-a", 1)
	stale := time.Now().UTC().Add(-time.Hour)
	owner := "crashed"
	if err := db.Model(&models.AuditOutbox{}).Where("audit_event_id = ?", event.ID).Updates(map[string]interface{}{
		"publish_status": models.OutboxPublishStatusProcessing,
		"locked_at":      &stale,
		"locked_by":      &owner,
	}).Error; err != nil {
		t.Fatalf("mark processing: %v", err)
	}

	pub := &fakePublisher{}
	if n := NewOutboxDispatcher(db, pub, nil).DispatchOnce(context.Background()); n != 1 {
		t.Fatalf("sent = %d, want 1", n)
	}
	if rec := outboxRow(t, db, event.ID); rec.PublishStatus != models.OutboxPublishStatusSent || rec.LockedBy != nil {
		t.Fatalf("after reclaim: %+v", rec)
	}
}

func TestRetryBackoff(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{4, 40 * time.Second},
		{12, 10 * time.Minute},
	}
	for _, tc := range cases {
		if got := retryBackoff(5*time.Second, tc.attempt); got != tc.want {
			t.Errorf("retryBackoff(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestErrorLogWriterFlushesOnShutdown(t *testing.T) {
	db := setupWorkflowDB(t)
	source := make(chan models.ErrorLog, 8)
	w := &ErrorLogWriter{DB: db, Source: source, BatchSize: 100, FlushInterval: time.Hour}

	source <- models.ErrorLog{BusinessId: "biz-a", Operation: "CreateSale", Kind: "conflict", Severity: "MEDIUM", Message: "insufficient stock"}
	source <- models.ErrorLog{BusinessId: "biz-b", Operation: "AddPayment", Kind: "internal", Severity: "CRITICAL", Message: "boom"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("writer did not stop")
	}

	var n int64
	if err := db.Model(&models.ErrorLog{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("error_logs rows = %d, want 2", n)
	}
}
