// Package layout хранит раскладку реестров: диапазоны глобальных ID по тегам.
// Внешние инструменты по ней разбирают ID версии, не загружая описаний блоков.
package layout

import (
	"context"
	"fmt"
	"sort"

	"github.com/annel0/blockcodec/internal/registry"
)

// Repo определяет интерфейс хранилища раскладок.
type Repo interface {
	// Save заменяет раскладку версии целиком.
	Save(ctx context.Context, version registry.Version, ranges []registry.RangeInfo) error

	// Load возвращает раскладку версии; false, если она не сохранялась.
	Load(ctx context.Context, version string) ([]registry.RangeInfo, bool, error)

	// Versions перечисляет сохранённые версии.
	Versions(ctx context.Context) ([]registry.Version, error)

	// Delete удаляет раскладку версии.
	Delete(ctx context.Context, version string) error
}

// SaveRegistry сохраняет раскладку замороженного реестра
func SaveRegistry(ctx context.Context, repo Repo, reg *registry.Registry) error {
	if !reg.Frozen() {
		return fmt.Errorf("раскладка реестра %s сохраняется только после Freeze", reg.Version())
	}
	return repo.Save(ctx, reg.Version(), reg.Ranges())
}

// Validate проверяет, что диапазоны непрерывны, не пересекаются и теги уникальны
func Validate(ranges []registry.RangeInfo) error {
	seen := make(map[string]struct{}, len(ranges))
	var next uint64
	for i, r := range ranges {
		if r.Tag == "" {
			return fmt.Errorf("диапазон #%d без тега", i)
		}
		if _, dup := seen[r.Tag]; dup {
			return fmt.Errorf("повторный тег %s", r.Tag)
		}
		seen[r.Tag] = struct{}{}
		if r.Count == 0 {
			return fmt.Errorf("%s: пустой диапазон", r.Tag)
		}
		if uint64(r.Start) != next {
			return fmt.Errorf("%s: диапазон начинается с %d, ожидалось %d", r.Tag, r.Start, next)
		}
		next += uint64(r.Count)
	}
	return nil
}

// Table неизменяемый индекс раскладки для разбора ID
type Table struct {
	ranges []registry.RangeInfo
	byTag  map[string]int
}

// NewTable строит индекс; диапазоны должны проходить Validate
func NewTable(ranges []registry.RangeInfo) (*Table, error) {
	if err := Validate(ranges); err != nil {
		return nil, err
	}
	t := &Table{
		ranges: append([]registry.RangeInfo(nil), ranges...),
		byTag:  make(map[string]int, len(ranges)),
	}
	for i, r := range t.ranges {
		t.byTag[r.Tag] = i
	}
	return t, nil
}

// Lookup возвращает тег и относительное состояние для ID
func (t *Table) Lookup(id registry.GlobalID) (string, registry.RelativeState, bool) {
	i := sort.Search(len(t.ranges), func(i int) bool { return t.ranges[i].Start > id }) - 1
	if i < 0 {
		return "", 0, false
	}
	r := t.ranges[i]
	if uint64(id) >= uint64(r.Start)+uint64(r.Count) {
		return "", 0, false
	}
	return r.Tag, registry.RelativeState(id - r.Start), true
}

// Global возвращает ID для тега и относительного состояния
func (t *Table) Global(tag string, rel registry.RelativeState) (registry.GlobalID, bool) {
	i, ok := t.byTag[tag]
	if !ok || uint32(rel) >= t.ranges[i].Count {
		return 0, false
	}
	return t.ranges[i].Start + registry.GlobalID(rel), true
}

// Len возвращает количество типов
func (t *Table) Len() int { return len(t.ranges) }
