package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrorLog is the out-of-band record of a failed ledger operation.
type ErrorLog struct {
	ID            int       `gorm:"primary_key" json:"id"`
	BusinessId    string    `gorm:"size:64;index" json:"business_id"`
	UserId        int       `gorm:"index" json:"user_id"`
	Operation     string    `gorm:"size:100;not null" json:"operation"`
	Kind          string    `gorm:"size:30;not null" json:"kind"`
	Code          string    `gorm:"size:60" json:"code"`
	Severity      string    `gorm:"size:20;not null;index" json:"severity"`
	Message       string    `gorm:"type:text;not null" json:"message"`
	Metadata      string    `gorm:"type:text" json:"metadata"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

const errorReportBuffer = 256

var errorReports = make(chan ErrorLog, errorReportBuffer)

// ErrorReports is drained by the error log writer.
func ErrorReports() <-chan ErrorLog {
	return errorReports
}

// MirrorError logs a failure with its severity and queues it for the
// error_logs table. It never blocks: when the queue is full the entry is
// only logged.
func MirrorError(ctx context.Context, operation string, metadata map[string]any, appErr *utils.AppError) {
	if appErr == nil {
		return
	}
	severity := utils.SeverityOf(appErr)
	meta := utils.SanitizeMetadata(metadata)
	if meta == nil {
		meta = map[string]any{}
	}
	meta["kind"] = string(appErr.Kind)
	meta["code"] = appErr.Code

	logger := config.GetLogger()
	config.LogSeverity(logger, severity, operation, meta, appErr)

	entry := ErrorLog{
		Operation:     operation,
		Kind:          string(appErr.Kind),
		Code:          appErr.Code,
		Severity:      severity,
		Message:       appErr.Error(),
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	entry.BusinessId, _ = utils.GetBusinessIdFromContext(ctx)
	entry.UserId, _ = utils.GetUserIdFromContext(ctx)
	if raw, err := utils.MarshalToJSON(meta); err == nil {
		entry.Metadata = raw
	}

	select {
	case errorReports <- entry:
	default:
		logger.WithFields(logrus.Fields{
			"field":     "MirrorError",
			"operation": operation,
		}).Warn("error log queue full, entry dropped")
	}
}

// SaveErrorLogs writes a batch of queued entries without tenant scoping.
func SaveErrorLogs(ctx context.Context, db *gorm.DB, entries []ErrorLog) error {
	if len(entries) == 0 {
		return nil
	}
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)
	return db.WithContext(ctx).CreateInBatches(&entries, 100).Error
}
