// generic-customer-dedupe merges duplicate generic (walk-in) customers left
// by data created before the one-per-tenant index: the oldest row is kept,
// sales and receivables are moved onto it, the others are deleted.
//
// Dry run by default; pass --apply to write.
//
//	go run ./cmd/generic-customer-dedupe [--apply]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/models"
)

func main() {
	apply := flag.Bool("apply", false, "Write the changes (default is a dry run)")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	dups, err := models.DedupeGenericCustomers(context.Background(), db, *apply)
	for _, d := range dups {
		fmt.Printf("business=%s keep=%d drop=%v\n", d.BusinessId, d.KeepId, d.DropIds)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "dedupe failed: %v\n", err)
		os.Exit(1)
	}
	switch {
	case len(dups) == 0:
		fmt.Println("no duplicate generic customers")
	case !*apply:
		fmt.Println("dry run: rerun with --apply to merge")
	default:
		fmt.Printf("merged duplicates in %d business(es)\n", len(dups))
	}
}
