package models_test

import (
	"testing"

	"github.com/mmdatafocus/retail_backend/models"
	"github.com/mmdatafocus/retail_backend/utils"
	"gorm.io/gorm"
)

func TestCreateCustomerNormalizesPhone(t *testing.T) {
	db := setupLedgerDB(t)

	c, err := models.CreateCustomer(bg, clerkA, &models.NewCustomer{Name: "Ana", Phone: "809-555-1234", CreditDays: 15})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	if c.Phone != "+18095551234" {
		t.Fatalf("phone = %q, want +18095551234", c.Phone)
	}
	if c.BusinessId != tenantA {
		t.Fatalf("business = %q", c.BusinessId)
	}
	if n := countRows[models.AuditEvent](t, db, "action = ?", models.AuditCustomerCreated); n != 1 {
		t.Fatalf("CUSTOMER_CREATED events = %d, want 1", n)
	}

	_, err = models.CreateCustomer(bg, clerkA, &models.NewCustomer{Name: "Bad", Phone: "12"})
	assertKind(t, err, utils.KindValidation)
	_, err = models.CreateCustomer(bg, clerkA, &models.NewCustomer{Name: ""})
	assertKind(t, err, utils.KindValidation)
}

func TestEnsureGenericCustomerIsIdempotent(t *testing.T) {
	db := setupLedgerDB(t)

	var ids []int
	for i := 0; i < 3; i++ {
		err := db.Transaction(func(tx *gorm.DB) error {
			c, err := models.EnsureGenericCustomer(tx, tenantA)
			if err != nil {
				return err
			}
			ids = append(ids, c.ID)
			return nil
		})
		if err != nil {
			t.Fatalf("EnsureGenericCustomer: %v", err)
		}
	}
	if ids[0] != ids[1] || ids[1] != ids[2] {
		t.Fatalf("generic customer ids = %v", ids)
	}

	// a second generic row for the same tenant violates the unique slot
	dup := &models.Customer{BusinessId: tenantA, Name: "dup", IsGeneric: true, GenericSlot: utils.NewTrue(), IsActive: utils.NewTrue()}
	if err := db.Create(dup).Error; !utils.IsKind(err, utils.KindIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}

	other := genericCustomerOf(t, db)
	if other == ids[0] {
		t.Fatalf("tenants share a generic customer")
	}
}

func genericCustomerOf(t *testing.T, db *gorm.DB) int {
	t.Helper()
	var id int
	err := db.Transaction(func(tx *gorm.DB) error {
		c, err := models.EnsureGenericCustomer(tx, tenantB)
		if err != nil {
			return err
		}
		id = c.ID
		return nil
	})
	if err != nil {
		t.Fatalf("EnsureGenericCustomer(tenant B): %v", err)
	}
	return id
}
