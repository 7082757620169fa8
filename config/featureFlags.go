package config

import (
	"os"
	"strings"
)

func envFlag(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// PessimisticStockLocking makes the orchestrators read products with
// SELECT ... FOR UPDATE before the stock check, closing the window between the
// check and the delta. Off by default: checks are optimistic.
//
// Set via env:
// - STOCK_ROW_LOCKING=true
func PessimisticStockLocking() bool {
	return envFlag("STOCK_ROW_LOCKING")
}

// AuditPublishEnabled starts the audit outbox dispatcher.
//
// Set via env:
// - AUDIT_PUBLISH_ENABLED=true
func AuditPublishEnabled() bool {
	return envFlag("AUDIT_PUBLISH_ENABLED")
}
