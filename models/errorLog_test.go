package models_test

import (
	"testing"
	"time"

	"github.com/mmdatafocus/retail_backend/models"
	"github.com/mmdatafocus/retail_backend/utils"
)

func drainErrorReports() {
	for {
		select {
		case <-models.ErrorReports():
		default:
			return
		}
	}
}

func TestReadFailuresAreMirrored(t *testing.T) {
	setupLedgerDB(t)
	drainErrorReports()

	reads := map[string]func() error{
		"GetSale": func() error {
			_, err := models.GetSale(bg, clerkA, 404)
			return err
		},
		"GetPurchase": func() error {
			_, err := models.GetPurchase(bg, clerkA, 404)
			return err
		},
		"GetReceivable": func() error {
			_, err := models.GetReceivable(bg, clerkA, 404)
			return err
		},
	}
	for op, read := range reads {
		assertKind(t, read(), utils.KindNotFound)

		select {
		case entry := <-models.ErrorReports():
			if entry.Operation != op || entry.Kind != string(utils.KindNotFound) || entry.BusinessId != tenantA {
				t.Fatalf("%s mirrored %+v", op, entry)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s failure was not mirrored", op)
		}
	}
}
