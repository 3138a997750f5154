package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/annel0/blockcodec/internal/section"
	"github.com/annel0/blockcodec/internal/storage"
)

// StoreColdStorage адаптирует storage.SectionStore к ColdStorage.
// Ключи кеша совпадают с ключами хранилища (section:<version>:<x>:<y>:<z>).
type StoreColdStorage struct {
	store *storage.SectionStore
}

// NewStoreColdStorage создаёт адаптер над хранилищем секций
func NewStoreColdStorage(store *storage.SectionStore) *StoreColdStorage {
	return &StoreColdStorage{store: store}
}

func (s *StoreColdStorage) Load(ctx context.Context, key string) ([]byte, error) {
	k, err := storage.ParseSectionKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	data, ok, err := s.store.LoadRaw(ctx, k)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCacheMiss
	}
	return data, nil
}

func (s *StoreColdStorage) Store(ctx context.Context, key string, value []byte) error {
	k, err := storage.ParseSectionKey(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return s.store.SaveRaw(ctx, k, value)
}

func (s *StoreColdStorage) BatchStore(ctx context.Context, items map[string][]byte) error {
	for key, value := range items {
		if err := s.Store(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// Close не закрывает хранилище: им владеет вызывающий код.
func (s *StoreColdStorage) Close() error { return nil }

// SectionCache типизированный кеш секций поверх RedisCache.
type SectionCache struct {
	hot    *RedisCache
	layout section.Layout
	ttl    time.Duration
}

// NewSectionCache создаёт кеш секций с раскладкой layout
func NewSectionCache(hot *RedisCache, layout section.Layout) *SectionCache {
	return &SectionCache{hot: hot, layout: layout, ttl: hot.config.DefaultTTL}
}

// Get возвращает секцию; false при промахе и в Redis, и в Cold Storage.
func (c *SectionCache) Get(ctx context.Context, key storage.SectionKey) (*section.Section, bool, error) {
	data, err := c.hot.Get(ctx, key.String())
	if IsCacheMiss(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	s, err := section.Unmarshal(c.layout, data)
	if err != nil {
		// Повреждённая запись не должна жить в кеше
		_ = c.hot.Evict(ctx, key.String())
		return nil, false, fmt.Errorf("секция %s: %w", key, err)
	}
	return s, true, nil
}

// GetMany возвращает секции по ключам в том же порядке; nil на месте промаха.
// Redis опрашивается одним pipeline, недостающие ключи читаются через Cold Storage.
func (c *SectionCache) GetMany(ctx context.Context, keys []storage.SectionKey) ([]*section.Section, error) {
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	hits, err := c.hot.BatchGet(ctx, names)
	if err != nil {
		return nil, err
	}

	out := make([]*section.Section, len(keys))
	for i, key := range keys {
		data, ok := hits[names[i]]
		if !ok {
			if out[i], _, err = c.Get(ctx, key); err != nil {
				return nil, err
			}
			continue
		}
		s, err := section.Unmarshal(c.layout, data)
		if err != nil {
			_ = c.hot.Evict(ctx, names[i])
			return nil, fmt.Errorf("секция %s: %w", key, err)
		}
		out[i] = s
	}
	return out, nil
}

// Put кодирует секцию и кладёт её в кеш.
func (c *SectionCache) Put(ctx context.Context, key storage.SectionKey, s *section.Section) error {
	data, err := section.Marshal(s)
	if err != nil {
		return err
	}
	return c.hot.Set(ctx, key.String(), data, c.ttl)
}

// Invalidate удаляет секцию из кеша и рассылает уведомление.
func (c *SectionCache) Invalidate(ctx context.Context, key storage.SectionKey) error {
	return c.hot.Invalidate(ctx, key.String())
}

// Follow подписывает кеш на инвалидации других узлов:
// полученные ключи удаляются из локального Redis без повторной рассылки.
func (c *SectionCache) Follow(ctx context.Context, inv CacheInvalidator) error {
	return inv.SubscribeInvalidations(ctx, func(key string) error {
		evictCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return c.hot.Evict(evictCtx, key)
	})
}

// Stats возвращает счётчики кеша
func (c *SectionCache) Stats() Stats { return c.hot.Stats() }

// Close закрывает Redis кеш
func (c *SectionCache) Close() error { return c.hot.Close() }
