package models

import (
	"context"
	"fmt"
	"sync"

	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/utils"
	"github.com/sirupsen/logrus"
)

// CommitEvent describes a committed ledger mutation.
type CommitEvent struct {
	BusinessId   string
	ResourceType string
	ResourceId   int
	Action       AuditAction
	ProductIds   []int
}

// CommitHook runs after commit, outside the transaction. Its failure never
// reaches the caller of the operation.
type CommitHook func(ctx context.Context, ev CommitEvent)

var (
	commitHooksMu sync.RWMutex
	commitHooks   []CommitHook
)

func RegisterCommitHook(h CommitHook) {
	commitHooksMu.Lock()
	defer commitHooksMu.Unlock()
	commitHooks = append(commitHooks, h)
}

// afterCommit drops the cached copy before returning, so the caller reads its
// own write, then fires every registered hook in its own goroutine.
func afterCommit(ctx context.Context, ev CommitEvent) {
	ctx = context.WithoutCancel(ctx)
	invalidateTenantCache(ctx, ev)
	commitHooksMu.RLock()
	hooks := append([]CommitHook(nil), commitHooks...)
	commitHooksMu.RUnlock()
	for _, h := range hooks {
		go func(h CommitHook) {
			defer func() {
				if r := recover(); r != nil {
					config.GetLogger().WithFields(logrus.Fields{
						"field":       "afterCommit",
						"business_id": ev.BusinessId,
						"action":      ev.Action,
					}).Error(fmt.Sprintf("commit hook panicked: %v", r))
				}
			}()
			h(ctx, ev)
		}(h)
	}
}

// invalidateTenantCache drops the cached document touched by a mutation.
func invalidateTenantCache(ctx context.Context, ev CommitEvent) {
	var errs []error
	switch ev.ResourceType {
	case ResourceSale:
		errs = append(errs, utils.RemoveRedisItem[Sale](ctx, ev.ResourceId))
	case ResourcePurchase:
		errs = append(errs, utils.RemoveRedisItem[Purchase](ctx, ev.ResourceId))
	}
	for _, err := range errs {
		if err != nil {
			config.GetLogger().WithFields(logrus.Fields{
				"field":       "invalidateTenantCache",
				"business_id": ev.BusinessId,
			}).Warn("cache invalidation failed: " + err.Error())
		}
	}
}
