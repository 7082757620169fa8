package models

import (
	"context"
	"sort"

	"github.com/mmdatafocus/retail_backend/utils"
	"gorm.io/gorm"
)

// SequenceDrift compares a counter with the highest number actually issued
// in its series. A counter behind the documents would reissue a number.
type SequenceDrift struct {
	BusinessId string
	Series     string
	Counter    int64
	MaxIssued  int64
}

func (d SequenceDrift) Behind() bool {
	return d.Counter < d.MaxIssued
}

type seriesMax struct {
	BusinessId string
	Series     string
	MaxIssued  int64
}

// CheckSequences returns every (tenant, series) whose counter differs from
// the highest issued sale or purchase number. businessId narrows the scan
// when set.
func CheckSequences(ctx context.Context, db *gorm.DB, businessId string) ([]SequenceDrift, error) {
	db = db.WithContext(utils.SetSkipTenantScopeInContext(ctx, true))

	issued := map[[2]string]int64{}
	for _, model := range []any{&Sale{}, &Purchase{}} {
		var rows []seriesMax
		q := db.Model(model).Select("business_id, series, MAX(sequence_no) AS max_issued").Group("business_id, series")
		if businessId != "" {
			q = q.Where("business_id = ?", businessId)
		}
		if err := q.Scan(&rows).Error; err != nil {
			return nil, err
		}
		for _, r := range rows {
			key := [2]string{r.BusinessId, r.Series}
			issued[key] = max(issued[key], r.MaxIssued)
		}
	}

	var counters []SequenceCounter
	q := db.Model(&SequenceCounter{})
	if businessId != "" {
		q = q.Where("business_id = ?", businessId)
	}
	if err := q.Find(&counters).Error; err != nil {
		return nil, err
	}

	var out []SequenceDrift
	for _, c := range counters {
		key := [2]string{c.BusinessId, c.Series}
		if c.LastNumber != issued[key] {
			out = append(out, SequenceDrift{BusinessId: c.BusinessId, Series: c.Series, Counter: c.LastNumber, MaxIssued: issued[key]})
		}
		delete(issued, key)
	}
	// documents without any counter row
	for key, n := range issued {
		out = append(out, SequenceDrift{BusinessId: key[0], Series: key[1], MaxIssued: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BusinessId != out[j].BusinessId {
			return out[i].BusinessId < out[j].BusinessId
		}
		return out[i].Series < out[j].Series
	})
	return out, nil
}

// GenericDuplicate is one tenant with more than one generic customer.
type GenericDuplicate struct {
	BusinessId string
	KeepId     int
	DropIds    []int
}

// DedupeGenericCustomers keeps the oldest generic customer of every tenant,
// moves sales and receivables of the others onto it, and deletes them.
// Nothing is written unless apply is set.
func DedupeGenericCustomers(ctx context.Context, db *gorm.DB, apply bool) ([]GenericDuplicate, error) {
	db = db.WithContext(utils.SetSkipTenantScopeInContext(ctx, true))

	var generics []Customer
	if err := db.Where("is_generic = ?", true).Order("business_id, id").Find(&generics).Error; err != nil {
		return nil, err
	}
	byTenant := map[string][]int{}
	var tenants []string
	for _, c := range generics {
		if _, seen := byTenant[c.BusinessId]; !seen {
			tenants = append(tenants, c.BusinessId)
		}
		byTenant[c.BusinessId] = append(byTenant[c.BusinessId], c.ID)
	}

	var out []GenericDuplicate
	for _, biz := range tenants {
		ids := byTenant[biz]
		if len(ids) < 2 {
			continue
		}
		dup := GenericDuplicate{BusinessId: biz, KeepId: ids[0], DropIds: ids[1:]}
		out = append(out, dup)
		if !apply {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&Sale{}).
				Where("business_id = ? AND customer_id IN ?", biz, dup.DropIds).
				Update("customer_id", dup.KeepId).Error; err != nil {
				return err
			}
			if err := tx.Model(&AccountReceivable{}).
				Where("business_id = ? AND customer_id IN ?", biz, dup.DropIds).
				Update("customer_id", dup.KeepId).Error; err != nil {
				return err
			}
			if err := tx.Where("business_id = ? AND id IN ?", biz, dup.DropIds).Delete(&Customer{}).Error; err != nil {
				return err
			}
			return tx.Model(&Customer{}).
				Where("business_id = ? AND id = ?", biz, dup.KeepId).
				Update("generic_slot", true).Error
		})
		if err != nil {
			return out, err
		}
	}
	return out, nil
}
