package utils

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/mmdatafocus/retail_backend/config"
)

func GetTypeName[T any]() string {
	var v T
	return reflect.TypeOf(v).Name()
}

func itemKey[T any](id int) string {
	return GetTypeName[T]() + ":" + fmt.Sprint(id)
}

// cachedItem is a cached object and the generation it was read under.
type cachedItem[T any] struct {
	Generation int64 `json:"generation"`
	Item       *T    `json:"item"`
}

const generationLifespan = 24 * time.Hour

func generationKey[T any](id int) string {
	return itemKey[T](id) + ":gen"
}

// RedisItemGeneration counts the invalidations of an item. Read it before
// loading the item from the database and store the item under it.
func RedisItemGeneration[T any](ctx context.Context, id int) (int64, error) {
	return config.GetRedisInt(ctx, generationKey[T](id))
}

func StoreRedisItem[T any](ctx context.Context, id int, generation int64, obj *T, ttl time.Duration) error {
	return config.SetRedisObject(ctx, itemKey[T](id), cachedItem[T]{Generation: generation, Item: obj}, ttl)
}

// RetrieveRedisItem returns nil when the item is not cached or was cached
// under another generation.
func RetrieveRedisItem[T any](ctx context.Context, id int, generation int64) (*T, error) {
	var cached cachedItem[T]
	exists, err := config.GetRedisObject(ctx, itemKey[T](id), &cached)
	if err != nil || !exists || cached.Generation != generation {
		return nil, err
	}
	return cached.Item, nil
}

// RemoveRedisItem moves every id to a new generation and drops the cached
// copies. A reader that loaded an older row can no longer serve it.
func RemoveRedisItem[T any](ctx context.Context, ids ...int) error {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := config.IncrRedisKey(ctx, generationKey[T](id), generationLifespan); err != nil {
			return err
		}
		keys = append(keys, itemKey[T](id))
	}
	return config.RemoveRedisKey(ctx, keys...)
}
