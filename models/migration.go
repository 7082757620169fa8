package models

import (
	"gorm.io/gorm"
)

// MigrateTable creates or updates the ledger tables.
func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&CompanySettings{},
		&Customer{}, &Supplier{},
		&Product{},
		&SequenceCounter{},
		&Sale{}, &SaleItem{},
		&Purchase{}, &PurchaseItem{},
		&AccountReceivable{}, &Payment{},
		&AuditEvent{}, &AuditOutbox{},
		&ErrorLog{},
		&IdempotencyKey{},
	)
}
