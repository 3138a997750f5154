package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/blockcodec/internal/logging"
	"github.com/annel0/blockcodec/internal/metrics"
	"github.com/cespare/xxhash/v2"
	"github.com/go-redis/redis/v8"
)

// RedisCache хранит закодированные секции в Redis (Hot Cache).
// При промахе читает из Cold Storage и прогревает Redis.
// Опционально пишет в Cold Storage через Write-Behind очередь.
type RedisCache struct {
	client      *redis.Client
	config      *CacheConfig
	coldStorage ColdStorage
	invalidator CacheInvalidator
	logger      *logging.Logger

	// Write-Behind
	writeBehindQueue chan writeItem
	writeBehindStop  chan struct{}
	writeBehindWg    sync.WaitGroup

	// Прогрев после read-through
	warmWg sync.WaitGroup

	// Поколения ключей по полосам: Set и Evict сдвигают поколение,
	// прогрев, начатый в старом поколении, не остаётся в Redis
	gens [genStripes]atomic.Uint64

	hits     int64
	coldHits int64
	misses   int64
	errs     int64
}

const genStripes = 256

type writeItem struct {
	key   string
	value []byte
}

// NewRedisCache создаёт новый Redis кеш.
//
// Параметры:
//
//	config - конфигурация Redis и Write-Behind
//	coldStorage - опциональное постоянное хранилище (может быть nil)
//	invalidator - опциональный invalidator для Pub/Sub (может быть nil)
func NewRedisCache(config *CacheConfig, coldStorage ColdStorage, invalidator CacheInvalidator) (*RedisCache, error) {
	// Настройки по умолчанию
	if config.DefaultTTL == 0 {
		config.DefaultTTL = 5 * time.Minute
	}
	if config.MaxTTL == 0 {
		config.MaxTTL = 1 * time.Hour
	}
	if config.WriteBehindInterval == 0 {
		config.WriteBehindInterval = 5 * time.Second
	}
	if config.WriteBehindBatchSize == 0 {
		config.WriteBehindBatchSize = 100
	}
	if config.MaxConnections == 0 {
		config.MaxConnections = 10
	}
	if config.PoolTimeout == 0 {
		config.PoolTimeout = 30 * time.Second
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "blockcodec:"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.RedisURL,
		Password:     config.RedisPassword,
		DB:           config.RedisDB,
		PoolSize:     config.MaxConnections,
		PoolTimeout:  config.PoolTimeout,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	// Проверяем соединение
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c := &RedisCache{
		client:      rdb,
		config:      config,
		coldStorage: coldStorage,
		invalidator: invalidator,
		logger:      logging.For(logging.ComponentCache),
	}

	if config.WriteBehindEnabled && coldStorage != nil {
		c.writeBehindQueue = make(chan writeItem, config.WriteBehindBatchSize*2)
		c.writeBehindStop = make(chan struct{})
		c.startWriteBehind()
	}

	c.logger.Info("Redis cache initialized: %s (Write-Behind: %v)", config.RedisURL, config.WriteBehindEnabled)
	return c, nil
}

func (r *RedisCache) redisKey(key string) string {
	return r.config.KeyPrefix + key
}

func (r *RedisCache) generation(key string) *atomic.Uint64 {
	return &r.gens[xxhash.Sum64String(key)%genStripes]
}

func (r *RedisCache) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return r.config.DefaultTTL
	}
	if ttl > r.config.MaxTTL {
		return r.config.MaxTTL
	}
	return ttl
}

// Get получает значение из Redis, при промахе из Cold Storage (Read-Through).
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if err == nil {
		atomic.AddInt64(&r.hits, 1)
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return val, nil
	}

	if !errors.Is(err, redis.Nil) {
		atomic.AddInt64(&r.errs, 1)
		metrics.CacheLookups.WithLabelValues("error").Inc()
		r.logger.Error("Redis Get error for key %s: %v", key, err)
		return nil, fmt.Errorf("redis get error: %w", err)
	}

	if r.coldStorage != nil {
		gen := r.generation(key).Load()
		val, err := r.coldStorage.Load(ctx, key)
		switch {
		case err == nil:
			atomic.AddInt64(&r.coldHits, 1)
			metrics.CacheLookups.WithLabelValues("cold").Inc()
			r.warm(key, val, gen)
			return val, nil
		case !IsCacheMiss(err):
			atomic.AddInt64(&r.errs, 1)
			metrics.CacheLookups.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("cold storage load %s: %w", key, err)
		}
		r.logger.Debug("Cold storage miss for key %s", key)
	}

	atomic.AddInt64(&r.misses, 1)
	metrics.CacheLookups.WithLabelValues("miss").Inc()
	return nil, ErrCacheMiss
}

// warm асинхронно кладёт значение из Cold Storage в Redis, если ключа там нет.
// gen поколение ключа до чтения из Cold Storage: если с тех пор ключ
// записали или инвалидировали, прогретое значение удаляется.
func (r *RedisCache) warm(key string, val []byte, gen uint64) {
	r.warmWg.Add(1)
	go func() {
		defer r.warmWg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if r.generation(key).Load() != gen {
			r.logger.Debug("Skip warming stale key %s", key)
			return
		}
		set, err := r.client.SetNX(ctx, r.redisKey(key), val, r.config.DefaultTTL).Result()
		if err != nil {
			r.logger.Warn("Failed to warm key %s: %v", key, err)
			return
		}
		if set && r.generation(key).Load() != gen {
			if err := r.client.Del(ctx, r.redisKey(key)).Err(); err != nil {
				r.logger.Warn("Failed to drop stale warm for key %s: %v", key, err)
			}
		}
	}()
}

// Set сохраняет значение в Redis и, при включённом Write-Behind,
// ставит его в очередь записи в Cold Storage.
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	r.generation(key).Add(1)
	if err := r.client.Set(ctx, r.redisKey(key), value, r.clampTTL(ttl)).Err(); err != nil {
		r.logger.Error("Redis Set error for key %s: %v", key, err)
		return fmt.Errorf("redis set error: %w", err)
	}

	if r.writeBehindQueue == nil {
		return nil
	}
	select {
	case r.writeBehindQueue <- writeItem{key: key, value: value}:
		return nil
	default:
		// Очередь полна, пишем синхронно
		r.logger.Warn("Write-behind queue full, writing synchronously: %s", key)
		return r.coldStorage.Store(ctx, key, value)
	}
}

// Evict удаляет ключ из Redis без рассылки уведомления.
func (r *RedisCache) Evict(ctx context.Context, key string) error {
	r.generation(key).Add(1)
	if err := r.client.Del(ctx, r.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

// Invalidate удаляет ключ и уведомляет другие узлы.
func (r *RedisCache) Invalidate(ctx context.Context, key string) error {
	if err := r.Evict(ctx, key); err != nil {
		r.logger.Error("Redis Delete error for key %s: %v", key, err)
		return err
	}
	if r.invalidator != nil {
		if err := r.invalidator.PublishInvalidation(ctx, key); err != nil {
			r.logger.Error("Failed to publish invalidation for key %s: %v", key, err)
			return err
		}
	}
	return nil
}

// BatchGet получает несколько значений одним pipeline; отсутствующие ключи пропускаются.
// Промахи не учитываются: их дочитывает и считает вызывающий код.
func (r *RedisCache) BatchGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	pipe := r.client.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(keys))
	for _, key := range keys {
		cmds[key] = pipe.Get(ctx, r.redisKey(key))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		r.logger.Error("Redis BatchGet pipeline error: %v", err)
		return nil, fmt.Errorf("redis batch get error: %w", err)
	}

	for key, cmd := range cmds {
		val, err := cmd.Bytes()
		if err == nil {
			result[key] = val
			atomic.AddInt64(&r.hits, 1)
			metrics.CacheLookups.WithLabelValues("hit").Inc()
		}
	}
	return result, nil
}

// Close останавливает Write-Behind и закрывает соединение с Redis.
func (r *RedisCache) Close() error {
	if r.writeBehindStop != nil {
		close(r.writeBehindStop)
		r.writeBehindWg.Wait()
	}
	r.warmWg.Wait()

	if err := r.client.Close(); err != nil {
		r.logger.Error("Error closing Redis connection: %v", err)
		return err
	}

	r.logger.Info("Redis cache closed")
	return nil
}

// Stats возвращает снимок счётчиков кеша.
func (r *RedisCache) Stats() Stats {
	s := Stats{
		Hits:       atomic.LoadInt64(&r.hits),
		ColdHits:   atomic.LoadInt64(&r.coldHits),
		Misses:     atomic.LoadInt64(&r.misses),
		Errors:     atomic.LoadInt64(&r.errs),
		LastUpdate: time.Now(),
	}
	if total := s.Hits + s.ColdHits + s.Misses; total > 0 {
		s.HitRatio = float64(s.Hits+s.ColdHits) / float64(total)
	}
	if r.writeBehindQueue != nil {
		s.Pending = len(r.writeBehindQueue)
	}
	return s
}

// startWriteBehind запускает горутину для асинхронной записи в Cold Storage.
func (r *RedisCache) startWriteBehind() {
	r.writeBehindWg.Add(1)
	go func() {
		defer r.writeBehindWg.Done()

		ticker := time.NewTicker(r.config.WriteBehindInterval)
		defer ticker.Stop()

		batch := make(map[string][]byte)
		for {
			select {
			case item := <-r.writeBehindQueue:
				batch[item.key] = item.value
				if len(batch) >= r.config.WriteBehindBatchSize {
					r.flushWriteBehindBatch(batch)
					batch = make(map[string][]byte)
				}

			case <-ticker.C:
				if len(batch) > 0 {
					r.flushWriteBehindBatch(batch)
					batch = make(map[string][]byte)
				}

			case <-r.writeBehindStop:
				// Дочитываем очередь перед выходом
				for {
					select {
					case item := <-r.writeBehindQueue:
						batch[item.key] = item.value
					default:
						r.flushWriteBehindBatch(batch)
						return
					}
				}
			}
		}
	}()

	r.logger.Info("Write-Behind started (interval: %v, batch size: %d)",
		r.config.WriteBehindInterval, r.config.WriteBehindBatchSize)
}

// flushWriteBehindBatch записывает batch в Cold Storage.
func (r *RedisCache) flushWriteBehindBatch(batch map[string][]byte) {
	if len(batch) == 0 {
		return
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := r.coldStorage.BatchStore(ctx, batch); err != nil {
		r.logger.Error("Write-Behind batch store failed (%d items): %v", len(batch), err)
		return
	}
	r.logger.Debug("Write-Behind batch stored: %d items in %v", len(batch), time.Since(start))
}
