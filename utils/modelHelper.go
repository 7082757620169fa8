package utils

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FetchModel loads one row of the tenant by id. Absence and rows owned by
// another tenant both return the same NotFound error.
func FetchModel[T any](tx *gorm.DB, businessId string, id int, resource string, associations ...string) (*T, error) {
	q := tx.Where("business_id = ?", businessId)
	for _, field := range associations {
		q = q.Preload(field)
	}
	var result T
	if err := q.First(&result, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFound(resource)
		}
		return nil, err
	}
	return &result, nil
}

// FetchModelForUpdate is FetchModel with a row lock on stores that support it.
func FetchModelForUpdate[T any](tx *gorm.DB, businessId string, id int, resource string, associations ...string) (*T, error) {
	return FetchModel[T](tx.Clauses(clause.Locking{Strength: "UPDATE"}), businessId, id, resource, associations...)
}

// ResourceCountWhere counts rows of the tenant matching cond.
func ResourceCountWhere[T any](tx *gorm.DB, businessId string, cond string, args ...any) (int64, error) {
	var count int64
	var model T
	err := tx.Model(&model).Where("business_id = ?", businessId).Where(cond, args...).Count(&count).Error
	return count, err
}
