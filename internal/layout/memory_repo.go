package layout

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/annel0/blockcodec/internal/registry"
)

type memoryEntry struct {
	version registry.Version
	ranges  []registry.RangeInfo
}

// MemoryRepo реализует Repo в памяти.
// Используется как fallback, когда MariaDB недоступна,
// или для CI/локальной разработки без БД.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[string]memoryEntry // имя версии -> раскладка
}

// NewMemoryRepo создает новый репозиторий раскладок в памяти.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{data: make(map[string]memoryEntry)}
}

// Save сохраняет раскладку версии в памяти.
func (r *MemoryRepo) Save(ctx context.Context, version registry.Version, ranges []registry.RangeInfo) error {
	if version.Name == "" {
		return fmt.Errorf("недействительная версия: пустое имя")
	}
	if err := Validate(ranges); err != nil {
		return fmt.Errorf("раскладка %s: %w", version, err)
	}

	// Проверяем контекст на отмену
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.data[version.Name] = memoryEntry{
		version: version,
		ranges:  append([]registry.RangeInfo(nil), ranges...),
	}
	return nil
}

// Load загружает раскладку версии из памяти.
func (r *MemoryRepo) Load(ctx context.Context, version string) ([]registry.RangeInfo, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	default:
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.data[version]
	if !ok {
		return nil, false, nil
	}
	return append([]registry.RangeInfo(nil), e.ranges...), true, nil
}

// Versions возвращает сохранённые версии, упорядоченные по протоколу.
func (r *MemoryRepo) Versions(ctx context.Context) ([]registry.Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]registry.Version, 0, len(r.data))
	for _, e := range r.data {
		out = append(out, e.version)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Protocol < out[j].Protocol })
	return out, nil
}

// Delete удаляет раскладку версии.
func (r *MemoryRepo) Delete(ctx context.Context, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[version]; !ok {
		return fmt.Errorf("раскладка версии %s не найдена", version)
	}
	delete(r.data, version)
	return nil
}
