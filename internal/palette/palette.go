// Package palette реализует контейнер секции: упакованный массив кодов
// с необязательной палитрой (словарём), сокращающей ширину кода.
package palette

import (
	"fmt"

	"github.com/annel0/blockcodec/internal/wire"
)

// Kind вид палитры контейнера
type Kind uint8

const (
	// KindSingle все записи равны одному значению, массив пуст
	KindSingle Kind = iota
	// KindVector коды индексируют упорядоченный словарь значений
	KindVector
	// KindGlobal код и есть значение
	KindGlobal
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindVector:
		return "vector"
	case KindGlobal:
		return "global"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Profile задаёт пороги выбора палитры и размер контейнера.
// Для блоков и биомов пороги разные: пространство биомов меньше.
type Profile struct {
	Name string

	// Entries количество записей контейнера
	Entries int

	// MinVectorBits и MaxVectorBits ограничивают ширину кода словарной палитры.
	// Ширина на проводе меньше MinVectorBits расширяется до неё.
	MinVectorBits int
	MaxVectorBits int

	// GlobalBits ширина кода глобальной палитры
	GlobalBits int
}

var (
	// BlockProfile блоки секции 16×16×16, словарь до 8 бит
	BlockProfile = Profile{Name: "block", Entries: 4096, MinVectorBits: 1, MaxVectorBits: 8, GlobalBits: 15}

	// VanillaBlockProfile совпадает с BlockProfile, но словарь не уже 4 бит,
	// как ожидает клиент игры
	VanillaBlockProfile = Profile{Name: "block", Entries: 4096, MinVectorBits: 4, MaxVectorBits: 8, GlobalBits: 15}

	// BiomeProfile биомы секции по ячейкам 4×4×4, словарь до 3 бит
	BiomeProfile = Profile{Name: "biome", Entries: 64, MinVectorBits: 1, MaxVectorBits: 3, GlobalBits: 6}
)

// WithGlobalBits возвращает профиль с другой шириной глобальной палитры,
// например registry.GlobalBits() конкретной версии
func (p Profile) WithGlobalBits(n int) Profile {
	p.GlobalBits = n
	return p
}

// MaxValue наибольшее значение, представимое в контейнере
func (p Profile) MaxValue() uint32 {
	return uint32(1<<p.GlobalBits - 1)
}

// Validate проверяет согласованность порогов
func (p Profile) Validate() error {
	switch {
	case p.Entries <= 0:
		return fmt.Errorf("profile %s: entries must be positive", p.Name)
	case p.GlobalBits < 1 || p.GlobalBits > 32:
		return fmt.Errorf("profile %s: global bits %d out of [1,32]", p.Name, p.GlobalBits)
	case p.MinVectorBits < 1 || p.MinVectorBits > p.MaxVectorBits:
		return fmt.Errorf("profile %s: vector bits [%d,%d] invalid", p.Name, p.MinVectorBits, p.MaxVectorBits)
	case p.MaxVectorBits >= p.GlobalBits:
		return fmt.Errorf("profile %s: vector bits %d must be below global bits %d", p.Name, p.MaxVectorBits, p.GlobalBits)
	}
	return nil
}

// layout выбирает вид палитры и ширину хранилища по байту bits_per_entry.
// Ширина больше MaxVectorBits означает глобальную палитру профиля.
func (p Profile) layout(bits int) (Kind, int) {
	switch {
	case bits == 0:
		return KindSingle, 0
	case bits <= p.MaxVectorBits:
		if bits < p.MinVectorBits {
			return KindVector, p.MinVectorBits
		}
		return KindVector, bits
	default:
		return KindGlobal, p.GlobalBits
	}
}

// palette отображает коды хранилища в значения
type palette interface {
	kind() Kind
	// id возвращает код значения, добавляя его в словарь при наличии места.
	// false означает, что значение не представимо без расширения.
	id(v uint32) (uint32, bool)
	value(code uint32) uint32
	export() []uint32
	size() int
	read(r *wire.Reader, p Profile, bits int) error
	write(w *wire.Writer) error
	clone() palette
}

type singlePalette struct {
	v uint32
}

func (s *singlePalette) kind() Kind { return KindSingle }

func (s *singlePalette) id(v uint32) (uint32, bool) {
	return 0, v == s.v
}

func (s *singlePalette) value(uint32) uint32 { return s.v }
func (s *singlePalette) export() []uint32  { return []uint32{s.v} }
func (s *singlePalette) size() int          { return 1 }

func (s *singlePalette) read(r *wire.Reader, p Profile, _ int) error {
	v, err := r.ReadVarInt()
	if err != nil {
		return decodeErr(ReasonTruncated, r, err)
	}
	if v < 0 || uint32(v) > p.MaxValue() {
		return decodeErr(ReasonPalette, r, fmt.Errorf("single value %d outside [0,%d]", v, p.MaxValue()))
	}
	s.v = uint32(v)
	return nil
}

func (s *singlePalette) write(w *wire.Writer) error {
	return w.WriteVarInt(int32(s.v))
}

func (s *singlePalette) clone() palette {
	c := *s
	return &c
}

// vectorPalette словарь до 1<<bits значений; поиск по значению через map
type vectorPalette struct {
	bits   int
	values []uint32
	index  map[uint32]uint32
}

func newVectorPalette(bits int) *vectorPalette {
	return &vectorPalette{
		bits:   bits,
		values: make([]uint32, 0, 1<<bits),
		index:  make(map[uint32]uint32, 1<<bits),
	}
}

func (l *vectorPalette) kind() Kind { return KindVector }

func (l *vectorPalette) id(v uint32) (uint32, bool) {
	if code, ok := l.index[v]; ok {
		return code, true
	}
	if len(l.values) >= 1<<l.bits {
		return 0, false
	}
	code := uint32(len(l.values))
	l.values = append(l.values, v)
	l.index[v] = code
	return code, true
}

func (l *vectorPalette) value(code uint32) uint32 {
	return l.values[code]
}

func (l *vectorPalette) export() []uint32 {
	return append([]uint32(nil), l.values...)
}

func (l *vectorPalette) size() int { return len(l.values) }

func (l *vectorPalette) read(r *wire.Reader, p Profile, bits int) error {
	n, err := r.ReadLength(1 << bits)
	if err != nil {
		return decodeErr(ReasonPalette, r, err)
	}
	if n == 0 {
		return decodeErr(ReasonPalette, r, fmt.Errorf("empty dictionary"))
	}

	l.bits = bits
	l.values = make([]uint32, 0, 1<<bits)
	l.index = make(map[uint32]uint32, n)
	for i := 0; i < n; i++ {
		v, err := r.ReadVarInt()
		if err != nil {
			return decodeErr(ReasonTruncated, r, err)
		}
		if v < 0 || uint32(v) > p.MaxValue() {
			return decodeErr(ReasonPalette, r, fmt.Errorf("dictionary entry #%d = %d outside [0,%d]", i, v, p.MaxValue()))
		}
		// повторы допустимы: код ссылается на первое вхождение
		if _, dup := l.index[uint32(v)]; !dup {
			l.index[uint32(v)] = uint32(i)
		}
		l.values = append(l.values, uint32(v))
	}
	return nil
}

func (l *vectorPalette) write(w *wire.Writer) error {
	if err := w.WriteVarInt(int32(len(l.values))); err != nil {
		return err
	}
	for _, v := range l.values {
		if err := w.WriteVarInt(int32(v)); err != nil {
			return err
		}
	}
	return nil
}

func (l *vectorPalette) clone() palette {
	c := &vectorPalette{
		bits:   l.bits,
		values: make([]uint32, len(l.values), 1<<l.bits),
		index:  make(map[uint32]uint32, len(l.index)),
	}
	copy(c.values, l.values)
	for k, v := range l.index {
		c.index[k] = v
	}
	return c
}

type globalPalette struct {
	max uint32
}

func (g *globalPalette) kind() Kind { return KindGlobal }

func (g *globalPalette) id(v uint32) (uint32, bool) {
	return v, v <= g.max
}

func (g *globalPalette) value(code uint32) uint32             { return code }
func (g *globalPalette) export() []uint32                     { return nil }
func (g *globalPalette) size() int                            { return int(g.max) + 1 }
func (g *globalPalette) read(*wire.Reader, Profile, int) error { return nil }
func (g *globalPalette) write(*wire.Writer) error             { return nil }

func (g *globalPalette) clone() palette {
	c := *g
	return &c
}

func newPalette(p Profile, kind Kind, bits int) palette {
	switch kind {
	case KindSingle:
		return &singlePalette{}
	case KindVector:
		return newVectorPalette(bits)
	default:
		return &globalPalette{max: p.MaxValue()}
	}
}
