package palette

import (
	"fmt"
	"math/bits"

	"github.com/annel0/blockcodec/internal/metrics"
	"github.com/annel0/blockcodec/internal/wire"
)

// Container хранит ровно Profile.Entries значений в упакованном виде.
//
// Контейнер не потокобезопасен: каждая секция декодируется и изменяется
// одним владельцем.
type Container struct {
	profile Profile
	pal     palette
	storage *BitStorage
}

// NewContainer создаёт контейнер, все записи которого равны value
func NewContainer(p Profile, value uint32) *Container {
	s, _ := NewBitStorage(0, p.Entries, nil)
	return &Container{
		profile: p,
		pal:     &singlePalette{v: value},
		storage: s,
	}
}

// FromValues строит контейнер с самой узкой палитрой для набора значений
func FromValues(p Profile, values []uint32) (*Container, error) {
	if len(values) != p.Entries {
		return nil, fmt.Errorf("palette: %d values for %d-entry %s container", len(values), p.Entries, p.Name)
	}

	distinct := make(map[uint32]struct{})
	for _, v := range values {
		if v > p.MaxValue() {
			return nil, fmt.Errorf("%w: %d > %d", ErrValueTooWide, v, p.MaxValue())
		}
		distinct[v] = struct{}{}
	}
	if len(distinct) == 1 {
		return NewContainer(p, values[0]), nil
	}

	kind, width := p.fit(len(distinct))
	c := &Container{profile: p, pal: newPalette(p, kind, width)}
	c.storage, _ = NewBitStorage(width, p.Entries, nil)
	for i, v := range values {
		code, _ := c.pal.id(v)
		c.storage.Set(i, code)
	}
	return c, nil
}

// fit подбирает вид палитры для n различных значений
func (p Profile) fit(n int) (Kind, int) {
	width := bits.Len(uint(n - 1))
	if width < p.MinVectorBits {
		width = p.MinVectorBits
	}
	if width > p.MaxVectorBits {
		return KindGlobal, p.GlobalBits
	}
	return KindVector, width
}

// Decode читает контейнер профиля p
func Decode(p Profile, r *wire.Reader) (*Container, error) {
	c := &Container{profile: p}
	if err := c.Decode(r); err != nil {
		return nil, err
	}
	return c, nil
}

// Profile возвращает профиль контейнера
func (c *Container) Profile() Profile { return c.profile }

// Kind возвращает текущий вид палитры
func (c *Container) Kind() Kind { return c.pal.kind() }

// Bits возвращает ширину кода (0 для Single)
func (c *Container) Bits() int { return c.storage.Bits() }

// Len возвращает количество записей
func (c *Container) Len() int { return c.profile.Entries }

// Palette возвращает словарь значений: одно значение для Single, nil для Global
func (c *Container) Palette() []uint32 { return c.pal.export() }

// Raw возвращает упакованные слова без копирования
func (c *Container) Raw() []uint64 { return c.storage.Raw() }

func (c *Container) checkIndex(i int) {
	if i < 0 || i >= c.profile.Entries {
		panic(fmt.Sprintf("palette: index %d out of range [0,%d)", i, c.profile.Entries))
	}
}

// Get возвращает значение записи i
func (c *Container) Get(i int) uint32 {
	c.checkIndex(i)
	return c.pal.value(c.storage.Get(i))
}

// Set записывает значение и возвращает предыдущее.
// Непредставимое значение расширяет палитру с переупаковкой массива.
func (c *Container) Set(i int, v uint32) (uint32, error) {
	c.checkIndex(i)
	if v > c.profile.MaxValue() {
		return 0, fmt.Errorf("%w: %d > %d", ErrValueTooWide, v, c.profile.MaxValue())
	}

	code, ok := c.pal.id(v)
	if !ok {
		c.grow()
		if code, ok = c.pal.id(v); !ok {
			return 0, fmt.Errorf("%w: %d after growing to %s", ErrValueTooWide, v, c.pal.kind())
		}
	}
	old := c.storage.Swap(i, code)
	return c.pal.value(old), nil
}

// grow переходит на следующую ширину: Single → Vector минимальной ширины,
// Vector(b) → Vector(b+1), за пределом словаря → Global
func (c *Container) grow() {
	from := c.pal.kind()
	kind, width := KindVector, c.profile.MinVectorBits
	if from == KindVector {
		width = c.storage.Bits() + 1
	}
	if width > c.profile.MaxVectorBits {
		kind, width = KindGlobal, c.profile.GlobalBits
	}
	c.repack(kind, width)
	metrics.PalettePromotions.WithLabelValues(from.String(), kind.String()).Inc()
}

func (c *Container) repack(kind Kind, width int) {
	pal := newPalette(c.profile, kind, width)
	storage, _ := NewBitStorage(width, c.profile.Entries, nil)
	for i := 0; i < c.profile.Entries; i++ {
		code, _ := pal.id(c.pal.value(c.storage.Get(i)))
		storage.Set(i, code)
	}
	c.pal, c.storage = pal, storage
}

// Fill делает все записи равными v
func (c *Container) Fill(v uint32) {
	*c = *NewContainer(c.profile, v)
}

// Values раскрывает контейнер в срез значений
func (c *Container) Values() []uint32 {
	out := make([]uint32, c.profile.Entries)
	for i := range out {
		out[i] = c.pal.value(c.storage.Get(i))
	}
	return out
}

// Count возвращает количество записей, удовлетворяющих pred
func (c *Container) Count(pred func(uint32) bool) int {
	if c.pal.kind() == KindSingle {
		if pred(c.pal.value(0)) {
			return c.profile.Entries
		}
		return 0
	}
	n := 0
	for i := 0; i < c.profile.Entries; i++ {
		if pred(c.pal.value(c.storage.Get(i))) {
			n++
		}
	}
	return n
}

// Compact перестраивает контейнер с самой узкой палитрой для текущих значений
func (c *Container) Compact() {
	if c.pal.kind() == KindSingle {
		return
	}
	compacted, err := FromValues(c.profile, c.Values())
	if err != nil {
		return
	}
	*c = *compacted
}

// Remap возвращает копию, в которой каждое значение заменено на f(v).
// Для Single и Vector переписывается только словарь.
func (c *Container) Remap(f func(uint32) (uint32, error)) (*Container, error) {
	return c.RemapTo(c.profile, f)
}

// RemapTo возвращает копию в профиле p, в которой каждое значение заменено на f(v).
// Словарь Single и Vector переписывается на месте, если его ширина допустима в p.
// Глобальная палитра и словарь вне порогов p пересобираются под p заново.
func (c *Container) RemapTo(p Profile, f func(uint32) (uint32, error)) (*Container, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Entries != c.profile.Entries {
		return nil, fmt.Errorf("palette: cannot remap %d-entry %s container into %d entries",
			c.profile.Entries, c.profile.Name, p.Entries)
	}

	mapped := make(map[uint32]uint32)
	apply := func(v uint32) (uint32, error) {
		if out, ok := mapped[v]; ok {
			return out, nil
		}
		out, err := f(v)
		if err != nil {
			return 0, err
		}
		if out > p.MaxValue() {
			return 0, fmt.Errorf("%w: %d > %d", ErrValueTooWide, out, p.MaxValue())
		}
		mapped[v] = out
		return out, nil
	}

	switch pal := c.pal.(type) {
	case *singlePalette:
		v, err := apply(pal.v)
		if err != nil {
			return nil, err
		}
		return NewContainer(p, v), nil
	case *vectorPalette:
		if width := c.storage.Bits(); width >= p.MinVectorBits && width <= p.MaxVectorBits {
			out := c.Clone()
			out.profile = p
			dict := out.pal.(*vectorPalette)
			index := make(map[uint32]uint32, len(dict.values))
			for code, old := range dict.values {
				v, err := apply(old)
				if err != nil {
					return nil, err
				}
				dict.values[code] = v
				if _, dup := index[v]; !dup {
					index[v] = uint32(code)
				}
			}
			dict.index = index
			return out, nil
		}
	}

	values := c.Values()
	for i, v := range values {
		out, err := apply(v)
		if err != nil {
			return nil, err
		}
		values[i] = out
	}
	return FromValues(p, values)
}

// Clone возвращает независимую копию
func (c *Container) Clone() *Container {
	data := append([]uint64(nil), c.storage.Raw()...)
	if c.storage.Bits() == 0 {
		data = nil
	}
	storage, _ := NewBitStorage(c.storage.Bits(), c.profile.Entries, data)
	return &Container{profile: c.profile, pal: c.pal.clone(), storage: storage}
}

// Equal сравнивает содержимое и раскладку двух контейнеров
func (c *Container) Equal(o *Container) bool {
	if c.profile.Entries != o.profile.Entries || c.Kind() != o.Kind() || c.Bits() != o.Bits() {
		return false
	}
	for i := 0; i < c.profile.Entries; i++ {
		if c.Get(i) != o.Get(i) {
			return false
		}
	}
	return true
}

// Decode заменяет содержимое контейнера прочитанным из r.
// При ошибке контейнер не меняется.
func (c *Container) Decode(r *wire.Reader) error {
	p := c.profile
	if err := p.Validate(); err != nil {
		return err
	}

	b, err := r.ReadU8()
	if err != nil {
		return decodeErr(ReasonTruncated, r, err)
	}
	kind, width := p.layout(int(b))

	pal := newPalette(p, kind, width)
	if err := pal.read(r, p, width); err != nil {
		return err
	}

	want := StorageSize(width, p.Entries)
	n, err := r.ReadVarInt()
	if err != nil {
		return decodeErr(ReasonTruncated, r, err)
	}
	if int(n) != want {
		return decodeErr(ReasonLength, r, fmt.Errorf("%s %s: %d words, want %d for %d bits", p.Name, kind, n, want, width))
	}
	data := make([]uint64, want)
	if err := r.ReadU64s(data); err != nil {
		return decodeErr(ReasonTruncated, r, err)
	}
	if width == 0 {
		data = nil
	}
	storage, err := NewBitStorage(width, p.Entries, data)
	if err != nil {
		return decodeErr(ReasonLength, r, err)
	}

	if kind == KindVector {
		size := uint32(pal.size())
		for i := 0; i < p.Entries; i++ {
			if code := storage.Get(i); code >= size {
				return decodeErr(ReasonCode, r, fmt.Errorf("entry %d: code %d outside dictionary of %d", i, code, size))
			}
		}
	}

	c.pal, c.storage = pal, storage
	return nil
}

// Encode записывает контейнер: ширина, словарь, упакованные слова
func (c *Container) Encode(w *wire.Writer) error {
	if err := w.WriteU8(uint8(c.storage.Bits())); err != nil {
		return err
	}
	if err := c.pal.write(w); err != nil {
		return err
	}
	return w.WriteU64Array(c.storage.Raw())
}
