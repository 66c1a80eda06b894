package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/director74/shop_fulfillment/internal/entity"
)

const couponCacheKeyPrefix = "coupon:"

// CachedCouponRepository кеширующая обертка над репозиторием купонов.
// Чтения купона идут через Redis, мутации инвалидируют кеш. Ошибки Redis
// не фатальны, в этом случае запрос уходит напрямую в базу.
type CachedCouponRepository struct {
	inner  CouponRepository
	client *redis.Client
	ttl    time.Duration
}

func NewCachedCouponRepository(inner CouponRepository, client *redis.Client, ttl time.Duration) CouponRepository {
	return &CachedCouponRepository{
		inner:  inner,
		client: client,
		ttl:    ttl,
	}
}

func (r *CachedCouponRepository) cacheKey(couponID uint) string {
	return fmt.Sprintf("%s%d", couponCacheKeyPrefix, couponID)
}

func (r *CachedCouponRepository) invalidate(ctx context.Context, couponID uint) {
	if err := r.client.Del(ctx, r.cacheKey(couponID)).Err(); err != nil {
		log.Printf("[CouponCache] Ошибка инвалидации купона %d: %v", couponID, err)
	}
}

// GetCoupon возвращает купон из кеша, при промахе читает базу и наполняет кеш
func (r *CachedCouponRepository) GetCoupon(ctx context.Context, couponID uint) (*entity.Coupon, error) {
	key := r.cacheKey(couponID)

	data, err := r.client.Get(ctx, key).Bytes()
	if err == nil {
		var coupon entity.Coupon
		if unmarshalErr := json.Unmarshal(data, &coupon); unmarshalErr == nil {
			return &coupon, nil
		}
		log.Printf("[CouponCache] Не удалось разобрать купон %d из кеша", couponID)
	} else if !errors.Is(err, redis.Nil) {
		log.Printf("[CouponCache] Ошибка чтения купона %d из кеша: %v", couponID, err)
	}

	coupon, err := r.inner.GetCoupon(ctx, couponID)
	if err != nil {
		return nil, err
	}

	if payload, marshalErr := json.Marshal(coupon); marshalErr == nil {
		if setErr := r.client.Set(ctx, key, payload, r.ttl).Err(); setErr != nil {
			log.Printf("[CouponCache] Ошибка записи купона %d в кеш: %v", couponID, setErr)
		}
	}

	return coupon, nil
}

// DecrementRemaining списывает остаток в базе и сбрасывает кеш купона.
// Чтение остатка внутри всегда идет мимо кеша.
func (r *CachedCouponRepository) DecrementRemaining(ctx context.Context, couponID uint) (int, error) {
	remaining, err := r.inner.DecrementRemaining(ctx, couponID)
	if err != nil {
		return 0, err
	}
	r.invalidate(ctx, couponID)
	return remaining, nil
}

// RestoreRemaining возвращает остаток в базе и сбрасывает кеш купона
func (r *CachedCouponRepository) RestoreRemaining(ctx context.Context, couponID uint) error {
	if err := r.inner.RestoreRemaining(ctx, couponID); err != nil {
		return err
	}
	r.invalidate(ctx, couponID)
	return nil
}

func (r *CachedCouponRepository) CreateGrant(ctx context.Context, grant *entity.CouponGrant) error {
	return r.inner.CreateGrant(ctx, grant)
}

func (r *CachedCouponRepository) GetGrant(ctx context.Context, userID, couponID uint) (*entity.CouponGrant, error) {
	return r.inner.GetGrant(ctx, userID, couponID)
}

func (r *CachedCouponRepository) UpdateGrantStatus(ctx context.Context, grantID uint, from, to entity.CouponGrantStatus) error {
	return r.inner.UpdateGrantStatus(ctx, grantID, from, to)
}
