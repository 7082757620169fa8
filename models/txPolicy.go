package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/retail_backend/appctx"
	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TxPolicy bounds a ledger transaction. Each attempt gets its own Timeout;
// only transient store failures are retried.
type TxPolicy struct {
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

func DefaultTxPolicy() TxPolicy {
	s := config.GetSettings()
	return TxPolicy{
		Timeout:     s.TxTimeout,
		MaxAttempts: s.TxMaxAttempts,
		Backoff:     s.TxRetryBackoff,
	}
}

// WithTxPolicy overrides the transaction policy for operations run with ctx.
func WithTxPolicy(ctx context.Context, p TxPolicy) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyTxPolicy, p)
}

func txPolicyFromContext(ctx context.Context) TxPolicy {
	if p, ok := ctx.Value(appctx.ContextKeyTxPolicy).(TxPolicy); ok {
		return p
	}
	return DefaultTxPolicy()
}

// runInTx runs fn in one database transaction under the policy of ctx.
// fn may run more than once and must build all of its state inside.
func runInTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	db := config.GetDB()
	if db == nil {
		return errors.New("database is not connected")
	}
	p := txPolicyFromContext(ctx)
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = runAttempt(ctx, db, p.Timeout, fn)
		if err == nil || !isRetryable(err) || attempt == p.MaxAttempts {
			break
		}
		config.GetLogger().WithFields(logrus.Fields{
			"field":   "runInTx",
			"attempt": attempt,
		}).Warn("retrying transaction: " + err.Error())

		wait := p.Backoff * time.Duration(1<<(attempt-1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}

func runAttempt(ctx context.Context, db *gorm.DB, timeout time.Duration, fn func(tx *gorm.DB) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return db.WithContext(ctx).Transaction(fn)
}

var retryableMessages = []string{
	"deadlock",
	"lock wait timeout",
	"database is locked",
	"database table is locked",
	"sqlite_busy",
	"could not serialize",
	"serialization failure",
	"40001",
	"40p01",
}

// isRetryable reports transient lock/serialization failures. Classified
// ledger errors are never retried.
func isRetryable(err error) bool {
	if err == nil || utils.KindOf(err) != utils.KindInternal {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range retryableMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
