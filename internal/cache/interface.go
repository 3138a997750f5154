package cache

import (
	"context"
	"errors"
	"time"
)

// ColdStorage определяет интерфейс для постоянного хранения закодированных секций.
// Используется как fallback когда данные отсутствуют в Hot Cache.
type ColdStorage interface {
	// Load загружает данные из постоянного хранилища.
	// Возвращает ErrCacheMiss если ключ не найден.
	Load(ctx context.Context, key string) ([]byte, error)

	// Store сохраняет данные в постоянное хранилище.
	Store(ctx context.Context, key string, value []byte) error

	// BatchStore сохраняет несколько записей.
	BatchStore(ctx context.Context, items map[string][]byte) error

	// Close закрывает соединение с хранилищем.
	Close() error
}

// CacheInvalidator управляет инвалидацией кеша через Pub/Sub.
type CacheInvalidator interface {
	// PublishInvalidation отправляет уведомление об инвалидации.
	PublishInvalidation(ctx context.Context, key string) error

	// SubscribeInvalidations подписывается на уведомления об инвалидации.
	SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error

	// Close закрывает соединение.
	Close() error
}

// InvalidationHandler обрабатывает уведомления об инвалидации кеша.
type InvalidationHandler func(key string) error

// CacheConfig содержит конфигурацию для кеша секций.
type CacheConfig struct {
	// Redis конфигурация
	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// KeyPrefix добавляется ко всем ключам Redis
	KeyPrefix string `yaml:"key_prefix"`

	// TTL настройки
	DefaultTTL time.Duration `yaml:"default_ttl"`
	MaxTTL     time.Duration `yaml:"max_ttl"`

	// Write-Behind конфигурация
	WriteBehindEnabled   bool          `yaml:"write_behind_enabled"`
	WriteBehindInterval  time.Duration `yaml:"write_behind_interval"`
	WriteBehindBatchSize int           `yaml:"write_behind_batch_size"`

	// Производительность
	MaxConnections int           `yaml:"max_connections"`
	PoolTimeout    time.Duration `yaml:"pool_timeout"`
}

// Stats содержит счётчики обращений к кешу.
type Stats struct {
	Hits       int64     `json:"hits"`
	ColdHits   int64     `json:"cold_hits"`
	Misses     int64     `json:"misses"`
	Errors     int64     `json:"errors"`
	HitRatio   float64   `json:"hit_ratio"`
	Pending    int       `json:"pending_writes"`
	LastUpdate time.Time `json:"last_update"`
}

// Ошибки кеша
var (
	ErrCacheMiss  = errors.New("cache miss")
	ErrInvalidKey = errors.New("invalid key")
)

// IsCacheMiss проверяет, является ли ошибка промахом кеша.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
