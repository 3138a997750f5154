package registry

import (
	"fmt"

	"github.com/annel0/blockcodec/internal/attribute"
)

// GlobalID идентификатор конкретного состояния блока, уникальный в пределах версии
type GlobalID uint32

// RelativeState смещение комбинации свойств внутри диапазона своего типа
type RelativeState uint32

// Version идентифицирует версию игры, для которой строится реестр
type Version struct {
	Protocol int32  `json:"protocol" yaml:"protocol"`
	Name     string `json:"name" yaml:"name"`
}

// String возвращает "1.20.2 (764)"
func (v Version) String() string {
	return fmt.Sprintf("%s (%d)", v.Name, v.Protocol)
}

// BlockType описывает тип блока: тег, упорядоченные свойства и состояние по умолчанию.
// После регистрации тип неизменяем.
type BlockType struct {
	// Tag уникальный тег типа, например minecraft:oak_log
	Tag string

	// Attributes задают раскладку ID; порядок фиксирован
	Attributes attribute.Tuple

	// Default значения свойств по умолчанию; nil означает нулевые состояния
	Default []uint32

	// Air помечает типы, которые не учитываются в счётчике непустых блоков секции
	Air bool
}

// StateCount возвращает количество состояний типа (размер домена свойств)
func (bt *BlockType) StateCount() uint64 {
	return attribute.DomainSize(bt.Attributes)
}

// DefaultState возвращает относительное состояние значений по умолчанию
func (bt *BlockType) DefaultState() RelativeState {
	if bt.Default == nil {
		return 0
	}
	idx, err := attribute.ToIndex(bt.Attributes, bt.Default)
	if err != nil {
		return 0
	}
	return RelativeState(idx)
}

func (bt *BlockType) validate() error {
	if bt.Tag == "" {
		return fmt.Errorf("block type without tag")
	}
	if bt.Default != nil {
		if _, err := attribute.ToIndex(bt.Attributes, bt.Default); err != nil {
			return fmt.Errorf("block %s: invalid default: %w", bt.Tag, err)
		}
	}
	seen := make(map[string]struct{}, len(bt.Attributes))
	for _, a := range bt.Attributes {
		if a.StateCount() == 0 {
			return fmt.Errorf("block %s: attribute %s has no states", bt.Tag, a.Name())
		}
		if _, dup := seen[a.Name()]; dup {
			return fmt.Errorf("block %s: duplicate attribute %s", bt.Tag, a.Name())
		}
		seen[a.Name()] = struct{}{}
	}
	return nil
}

// Range полуинтервал [Start, Start+Count) глобальных ID одного типа
type Range struct {
	Start GlobalID
	Count uint32
}

// End возвращает первый ID за пределами диапазона
func (r Range) End() GlobalID {
	return r.Start + GlobalID(r.Count)
}

// Contains проверяет принадлежность ID диапазону
func (r Range) Contains(id GlobalID) bool {
	return id >= r.Start && uint64(id) < uint64(r.Start)+uint64(r.Count)
}

// RangeInfo сериализуемое описание диапазона для внешних инструментов
type RangeInfo struct {
	Tag   string   `json:"tag"`
	Start GlobalID `json:"start"`
	Count uint32   `json:"count"`
}
