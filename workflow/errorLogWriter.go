package workflow

import (
	"context"
	"time"

	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrorLogWriter persists mirrored operation failures to error_logs. A write
// failure is logged and the batch dropped; it never reaches the failed
// operation's caller.
type ErrorLogWriter struct {
	DB            *gorm.DB
	Logger        *logrus.Logger
	Source        <-chan models.ErrorLog
	BatchSize     int
	FlushInterval time.Duration
}

func NewErrorLogWriter(db *gorm.DB, logger *logrus.Logger) *ErrorLogWriter {
	return &ErrorLogWriter{
		DB:            db,
		Logger:        logger,
		Source:        models.ErrorReports(),
		BatchSize:     100,
		FlushInterval: time.Second,
	}
}

// Run drains Source until ctx is done, then flushes what it holds.
func (w *ErrorLogWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(w.FlushInterval)
	defer ticker.Stop()

	batch := make([]models.ErrorLog, 0, w.BatchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := models.SaveErrorLogs(ctx, w.DB, batch); err != nil && w.Logger != nil {
			config.LogError(w.Logger, "workflow", "ErrorLogWriter", "SaveErrorLogs", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			for {
				select {
				case entry := <-w.Source:
					batch = append(batch, entry)
					continue
				default:
				}
				break
			}
			flush(drainCtx)
			cancel()
			return
		case entry, ok := <-w.Source:
			if !ok {
				flush(ctx)
				return
			}
			batch = append(batch, entry)
			if len(batch) >= w.BatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}
