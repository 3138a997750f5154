package attribute

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"sort"
	"strings"
)

var (
	// ErrIndexOutOfRange возвращается FromIndex для индекса >= размера домена.
	ErrIndexOutOfRange = errors.New("attribute: index out of range")
	// ErrValueOutOfRange возвращается ToIndex, если значение свойства >= его StateCount.
	ErrValueOutOfRange = errors.New("attribute: value out of range")
	// ErrArity количество значений не совпадает с количеством свойств.
	ErrArity = errors.New("attribute: value count does not match attribute count")
	// ErrUnknownAttribute в записи свойств встретился ключ, которого нет у типа.
	ErrUnknownAttribute = errors.New("attribute: unknown attribute")
	// ErrUnknownState имя состояния не принадлежит свойству.
	ErrUnknownState = errors.New("attribute: unknown state")
)

// Tuple упорядоченный список свойств одного типа блока.
// Порядок задаёт раскладку всех производных ID: первое свойство: старший разряд.
type Tuple []Attribute

// DomainSize возвращает произведение StateCount всех свойств.
// Для пустого кортежа размер домена равен 1.
// Результат 64-битный, чтобы вызывающий код мог обнаружить переполнение ID;
// при переполнении uint64 возвращается math.MaxUint64.
func DomainSize(attrs []Attribute) uint64 {
	size := uint64(1)
	for _, a := range attrs {
		hi, lo := bits.Mul64(size, uint64(a.StateCount()))
		if hi != 0 {
			return math.MaxUint64
		}
		size = lo
	}
	return size
}

// ToIndex переводит набор значений в линейный индекс смешанной системы счисления.
// Вычисление идёт справа налево с накапливаемым произведением:
//
//	index = v_n + v_{n-1}*c_n + v_{n-2}*c_n*c_{n-1} + ...
func ToIndex(attrs []Attribute, values []uint32) (uint32, error) {
	if len(values) != len(attrs) {
		return 0, fmt.Errorf("%w: %d values for %d attributes", ErrArity, len(values), len(attrs))
	}

	var acc uint64
	mul := uint64(1)
	for i := len(attrs) - 1; i >= 0; i-- {
		count := attrs[i].StateCount()
		if values[i] >= count {
			return 0, fmt.Errorf("%w: %s=%d (states: %d)", ErrValueOutOfRange, attrs[i].Name(), values[i], count)
		}
		acc += uint64(values[i]) * mul
		mul *= uint64(count)
	}
	return uint32(acc), nil
}

// FromIndex обратное к ToIndex преобразование.
func FromIndex(attrs []Attribute, index uint32) ([]uint32, error) {
	values := make([]uint32, len(attrs))
	if err := FromIndexInto(attrs, index, values); err != nil {
		return nil, err
	}
	return values, nil
}

// FromIndexInto раскладывает индекс в dst без аллокаций; len(dst) должен совпадать с len(attrs).
func FromIndexInto(attrs []Attribute, index uint32, dst []uint32) error {
	if len(dst) != len(attrs) {
		return fmt.Errorf("%w: destination of %d for %d attributes", ErrArity, len(dst), len(attrs))
	}
	if uint64(index) >= DomainSize(attrs) {
		return fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, DomainSize(attrs))
	}

	rest := index
	for i := len(attrs) - 1; i >= 0; i-- {
		count := attrs[i].StateCount()
		dst[i] = rest % count
		rest /= count
	}
	return nil
}

// DomainSize кортежа
func (t Tuple) DomainSize() uint64 { return DomainSize(t) }

// ToIndex для кортежа
func (t Tuple) ToIndex(values []uint32) (uint32, error) { return ToIndex(t, values) }

// FromIndex для кортежа
func (t Tuple) FromIndex(index uint32) ([]uint32, error) { return FromIndex(t, index) }

// Find возвращает позицию свойства по имени
func (t Tuple) Find(name string) (int, bool) {
	for i, a := range t {
		if a.Name() == name {
			return i, true
		}
	}
	return -1, false
}

// ParseValues переводит запись свойств вида {"axis": "y"} в значения кортежа.
// Отсутствующие свойства получают нулевое состояние.
func ParseValues(attrs []Attribute, props map[string]string) ([]uint32, error) {
	values := make([]uint32, len(attrs))
	matched := 0
	for i, a := range attrs {
		name, ok := props[a.Name()]
		if !ok {
			continue
		}
		idx, ok := a.Index(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s=%s", ErrUnknownState, a.Name(), name)
		}
		values[i] = idx
		matched++
	}

	if matched != len(props) {
		for key := range props {
			if _, ok := Tuple(attrs).Find(key); !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownAttribute, key)
			}
		}
	}
	return values, nil
}

// Names переводит значения кортежа в запись свойств.
func Names(attrs []Attribute, values []uint32) (map[string]string, error) {
	if len(values) != len(attrs) {
		return nil, fmt.Errorf("%w: %d values for %d attributes", ErrArity, len(values), len(attrs))
	}

	props := make(map[string]string, len(attrs))
	for i, a := range attrs {
		name, ok := a.StateName(values[i])
		if !ok {
			return nil, fmt.Errorf("%w: %s=%d", ErrValueOutOfRange, a.Name(), values[i])
		}
		props[a.Name()] = name
	}
	return props, nil
}

// Format печатает значения в каноническом виде "a=x,b=y" (ключи по алфавиту).
func Format(attrs []Attribute, values []uint32) string {
	props, err := Names(attrs, values)
	if err != nil || len(props) == 0 {
		return ""
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(props[k])
	}
	return b.String()
}
