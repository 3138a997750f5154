package attribute

import (
	"fmt"
	"math"
	"strconv"
)

// Attribute конечное упорядоченное множество именованных состояний
// одного свойства блока (например, facing или powered).
// Каждое состояние взаимно однозначно отображается на индекс в [0, StateCount).
type Attribute interface {
	// Name возвращает имя свойства (ключ в записи вида axis=y).
	Name() string

	// StateCount возвращает количество состояний, всегда >= 1.
	StateCount() uint32

	// StateName возвращает имя состояния по индексу.
	StateName(i uint32) (string, bool)

	// Index возвращает индекс состояния по имени.
	Index(name string) (uint32, bool)
}

// Bool булево свойство с состояниями false, true (в этом порядке).
type Bool struct {
	name string
}

// NewBool создаёт булево свойство
func NewBool(name string) Bool {
	return Bool{name: name}
}

func (b Bool) Name() string       { return b.name }
func (b Bool) StateCount() uint32 { return 2 }

func (b Bool) StateName(i uint32) (string, bool) {
	switch i {
	case 0:
		return "false", true
	case 1:
		return "true", true
	}
	return "", false
}

func (b Bool) Index(name string) (uint32, bool) {
	switch name {
	case "false":
		return 0, true
	case "true":
		return 1, true
	}
	return 0, false
}

// Enum свойство-перечисление с фиксированным порядком вариантов.
type Enum struct {
	name   string
	values []string
	index  map[string]uint32
}

// NewEnum создаёт перечисление. Пустой список или повторяющиеся варианты:
// ошибка программиста, поэтому функция паникует.
func NewEnum(name string, values ...string) *Enum {
	if len(values) == 0 {
		panic(fmt.Sprintf("attribute: enum %q has no values", name))
	}

	e := &Enum{
		name:   name,
		values: append([]string(nil), values...),
		index:  make(map[string]uint32, len(values)),
	}
	for i, v := range values {
		if _, dup := e.index[v]; dup {
			panic(fmt.Sprintf("attribute: enum %q has duplicate value %q", name, v))
		}
		e.index[v] = uint32(i)
	}
	return e
}

func (e *Enum) Name() string       { return e.name }
func (e *Enum) StateCount() uint32 { return uint32(len(e.values)) }

func (e *Enum) StateName(i uint32) (string, bool) {
	if i >= uint32(len(e.values)) {
		return "", false
	}
	return e.values[i], true
}

func (e *Enum) Index(name string) (uint32, bool) {
	i, ok := e.index[name]
	return i, ok
}

// Values возвращает копию списка вариантов
func (e *Enum) Values() []string {
	return append([]string(nil), e.values...)
}

// IntRange целочисленное свойство в закрытом диапазоне [Min, Max],
// например power=0..15 или age=0..7.
type IntRange struct {
	name     string
	min, max int
}

// MaxRangeStates наибольшее количество состояний одного свойства
const MaxRangeStates = math.MaxUint32

// NewIntRange создаёт целочисленное свойство. Паникует при max < min
// и при диапазоне шире MaxRangeStates значений.
func NewIntRange(name string, min, max int) IntRange {
	if err := CheckRange(name, min, max); err != nil {
		panic(err.Error())
	}
	return IntRange{name: name, min: min, max: max}
}

// CheckRange проверяет границы целочисленного свойства до его создания
func CheckRange(name string, min, max int) error {
	if max < min {
		return fmt.Errorf("attribute: range %q has max %d < min %d", name, max, min)
	}
	if span := uint64(max) - uint64(min); span >= MaxRangeStates {
		return fmt.Errorf("attribute: range %q [%d,%d] exceeds %d states", name, min, max, uint64(MaxRangeStates))
	}
	return nil
}

func (r IntRange) Name() string       { return r.name }
func (r IntRange) StateCount() uint32 { return uint32(r.max - r.min + 1) }
func (r IntRange) Min() int           { return r.min }
func (r IntRange) Max() int           { return r.max }

func (r IntRange) StateName(i uint32) (string, bool) {
	if i >= r.StateCount() {
		return "", false
	}
	return strconv.Itoa(r.min + int(i)), true
}

func (r IntRange) Index(name string) (uint32, bool) {
	v, err := strconv.Atoi(name)
	if err != nil || v < r.min || v > r.max {
		return 0, false
	}
	return uint32(v - r.min), true
}
