package registry

import (
	"fmt"

	"github.com/annel0/blockcodec/internal/attribute"
)

// State полностью разрешённое состояние блока: тип и значения всех его свойств
type State struct {
	Type   *BlockType
	Values []uint32
}

// Relative возвращает относительное состояние для значений
func (s State) Relative() (RelativeState, error) {
	idx, err := attribute.ToIndex(s.Type.Attributes, s.Values)
	if err != nil {
		return 0, err
	}
	return RelativeState(idx), nil
}

// Properties возвращает значения в виде записи "имя свойства → имя состояния"
func (s State) Properties() map[string]string {
	props, err := attribute.Names(s.Type.Attributes, s.Values)
	if err != nil {
		return map[string]string{}
	}
	return props
}

// String печатает состояние как minecraft:lever[face=wall,powered=true]
func (s State) String() string {
	if s.Type == nil {
		return "<nil>"
	}
	props := attribute.Format(s.Type.Attributes, s.Values)
	if props == "" {
		return s.Type.Tag
	}
	return fmt.Sprintf("%s[%s]", s.Type.Tag, props)
}

// ResolveFull восстанавливает тип и конкретные значения свойств по глобальному ID.
// Только этот путь даёт полную точность: GetDefault возвращает лишь тип.
func (r *Registry) ResolveFull(id GlobalID) (State, bool) {
	bt, rel, ok := r.GetDefault(id)
	if !ok {
		return State{}, false
	}
	values, err := attribute.FromIndex(bt.Attributes, uint32(rel))
	if err != nil {
		return State{}, false
	}
	return State{Type: bt, Values: values}, true
}

// GlobalOf возвращает глобальный ID разрешённого состояния
func (r *Registry) GlobalOf(s State) (GlobalID, error) {
	if s.Type == nil {
		return 0, ErrUnregisteredType
	}
	rel, err := s.Relative()
	if err != nil {
		return 0, err
	}
	id, ok := r.GetGlobal(s.Type.Tag, rel)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnregisteredType, s.Type.Tag)
	}
	return id, nil
}

// StateOf возвращает глобальный ID по тегу и записи свойств.
// Отсутствующие свойства берутся из состояния по умолчанию типа.
func (r *Registry) StateOf(tag string, props map[string]string) (GlobalID, error) {
	bt, rng, ok := r.Lookup(tag)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnregisteredType, tag)
	}

	values, err := attribute.FromIndex(bt.Attributes, uint32(bt.DefaultState()))
	if err != nil {
		return 0, err
	}
	for i, a := range bt.Attributes {
		name, ok := props[a.Name()]
		if !ok {
			continue
		}
		idx, ok := a.Index(name)
		if !ok {
			return 0, fmt.Errorf("%s: %w: %s=%s", tag, attribute.ErrUnknownState, a.Name(), name)
		}
		values[i] = idx
	}
	for key := range props {
		if _, ok := bt.Attributes.Find(key); !ok {
			return 0, fmt.Errorf("%s: %w: %s", tag, attribute.ErrUnknownAttribute, key)
		}
	}

	rel, err := attribute.ToIndex(bt.Attributes, values)
	if err != nil {
		return 0, err
	}
	return rng.Start + GlobalID(rel), nil
}
