package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "STARTED"
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
)

// IdempotencyKey makes create operations safe to retry.
// Unique constraint: (business_id, operation, key).
type IdempotencyKey struct {
	ID         int               `gorm:"primary_key" json:"id"`
	BusinessId string            `gorm:"size:64;not null;index:uniq_idem,unique" json:"business_id"`
	Operation  string            `gorm:"size:100;not null;index:uniq_idem,unique" json:"operation"`
	Key        string            `gorm:"size:255;not null;index:uniq_idem,unique" json:"key"`
	Status     IdempotencyStatus `gorm:"size:20;not null;index" json:"status"`
	ResourceId int               `gorm:"not null;default:0" json:"resource_id"`
	CreatedAt  time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// claimIdempotencyKey registers key inside tx. When the key was already used
// it returns the resource created by that first call. The row is written in
// the same transaction as the document, so a rolled back create frees the key.
func claimIdempotencyKey(tx *gorm.DB, businessId, operation, key string) (*IdempotencyKey, int, error) {
	if key == "" {
		return nil, 0, nil
	}
	rec := IdempotencyKey{
		BusinessId: businessId,
		Operation:  operation,
		Key:        key,
		Status:     IdempotencyStatusStarted,
	}
	err := tx.Transaction(func(sp *gorm.DB) error {
		return sp.Create(&rec).Error
	})
	if err == nil {
		return &rec, 0, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, 0, err
	}
	var existing IdempotencyKey
	err = tx.Where(&IdempotencyKey{BusinessId: businessId, Operation: operation, Key: key}).Take(&existing).Error
	if err != nil {
		return nil, 0, err
	}
	return nil, existing.ResourceId, nil
}

func completeIdempotencyKey(tx *gorm.DB, rec *IdempotencyKey, resourceId int) error {
	if rec == nil {
		return nil
	}
	return tx.Model(rec).Updates(map[string]any{
		"status":      IdempotencyStatusSucceeded,
		"resource_id": resourceId,
	}).Error
}
