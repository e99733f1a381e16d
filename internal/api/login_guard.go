package api

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	errLoginRateLimited = errors.New("rate limit exceeded")
	errLoginLocked      = errors.New("account temporarily locked")
)

// loginGuard 在 Redis 中统计登录尝试：每小时按 IP+邮箱限流，连续失败达到阈值后锁定账号。
// redis 为空时不做限制。
type loginGuard struct {
	redis         redis.UniversalClient
	perHour       int
	lockThreshold int
	lockTTL       time.Duration
	now           func() time.Time
}

func (g *loginGuard) check(ctx context.Context, ip, email string) error {
	if g.redis == nil {
		return nil
	}
	bucket := g.now().UTC().Format("2006010215")
	count, err := g.bump(ctx, "rate:login:"+ip+":"+email+":"+bucket, time.Hour)
	if err == nil && g.perHour > 0 && count > int64(g.perHour) {
		return errLoginRateLimited
	}
	if ttl, _ := g.redis.TTL(ctx, "lock:login:"+email).Result(); ttl > 0 {
		return errLoginLocked
	}
	return nil
}

func (g *loginGuard) fail(ctx context.Context, email string) error {
	if g.redis == nil {
		return nil
	}
	count, err := g.bump(ctx, "lock:login:fail:"+email, g.lockTTL)
	if err != nil {
		return err
	}
	if g.lockThreshold > 0 && count >= int64(g.lockThreshold) {
		return g.redis.Set(ctx, "lock:login:"+email, "1", g.lockTTL).Err()
	}
	return nil
}

func (g *loginGuard) reset(ctx context.Context, email string) {
	if g.redis == nil {
		return
	}
	_ = g.redis.Del(ctx, "lock:login:fail:"+email).Err()
}

// bump 自增计数，只在 key 首次出现时设置过期时间。
func (g *loginGuard) bump(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := g.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
