package models

import (
	"strings"
	"time"

	"github.com/mmdatafocus/retail_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Default document series.
const (
	SeriesSales     = "A"
	SeriesPurchases = "P"
)

// SequenceCounter holds the last number issued for a (tenant, series).
// It is only changed by NextSequence.
type SequenceCounter struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"size:64;not null;uniqueIndex:uniq_sequence_series" json:"business_id"`
	Series     string    `gorm:"size:20;not null;uniqueIndex:uniq_sequence_series" json:"series"`
	LastNumber int64     `gorm:"not null;default:0" json:"last_number"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// normalizeSeries is the stored form of a series: trimmed and upper case.
func normalizeSeries(series, fallback string) string {
	series = strings.ToUpper(strings.TrimSpace(series))
	if series == "" {
		return fallback
	}
	return series
}

// NextSequence issues the next number of a series with one upsert statement:
// the row is created at 1 or incremented in place. The write lock taken by
// the upsert is held until the caller's transaction ends, so the re-read
// below sees this caller's number. A rolled back transaction takes its
// increment with it, so the series stays gapless.
func NextSequence(tx *gorm.DB, businessId, series string) (int64, error) {
	series = normalizeSeries(series, "")
	if series == "" {
		return 0, utils.NewValidationError("INVALID_SERIES", "series is required")
	}
	counter := SequenceCounter{BusinessId: businessId, Series: series, LastNumber: 1}
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "business_id"}, {Name: "series"}},
		DoUpdates: clause.Assignments(map[string]any{
			"last_number": gorm.Expr("sequence_counters.last_number + 1"),
			"updated_at":  time.Now(),
		}),
	}).Create(&counter).Error
	if err != nil {
		return 0, err
	}

	var last int64
	err = tx.Model(&SequenceCounter{}).
		Where("business_id = ? AND series = ?", businessId, series).
		Select("last_number").
		Scan(&last).Error
	if err != nil {
		return 0, err
	}
	if last < 1 {
		return 0, utils.NewIntegrityError("SEQUENCE_MISSING", nil)
	}
	return last, nil
}
