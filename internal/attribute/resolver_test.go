package attribute

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToIndexTwoBooleans(t *testing.T) {
	attrs := []Attribute{NewBool("a"), NewBool("b")}

	assert.Equal(t, uint64(4), DomainSize(attrs), "Размер домена двух булевых свойств должен быть 4")

	idx, err := ToIndex(attrs, []uint32{1, 0})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), idx, "Первое свойство: старший разряд: 1*2 + 0")

	values, err := FromIndex(attrs, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 0}, values)
}

func TestResolverBijection(t *testing.T) {
	tuples := map[string][]Attribute{
		"empty":  {},
		"single": {NewEnum("axis", "x", "y", "z")},
		"mixed": {
			NewEnum("facing", "north", "east", "south", "west"),
			NewBool("open"),
			NewIntRange("power", 0, 15),
			NewEnum("half", "top", "bottom"),
		},
		"ones": {NewIntRange("fixed", 3, 3), NewBool("b"), NewIntRange("fixed2", 0, 0)},
	}

	for name, attrs := range tuples {
		t.Run(name, func(t *testing.T) {
			total := DomainSize(attrs)
			for i := uint32(0); uint64(i) < total; i++ {
				values, err := FromIndex(attrs, i)
				require.NoError(t, err, "Индекс %d должен раскладываться", i)

				back, err := ToIndex(attrs, values)
				require.NoError(t, err)
				assert.Equal(t, i, back, "to_index(from_index(i)) должен возвращать i")
			}
		})
	}
}

func TestResolverBoundary(t *testing.T) {
	attrs := []Attribute{NewEnum("facing", "north", "east", "south", "west"), NewBool("lit")}
	total := uint32(DomainSize(attrs))

	_, err := FromIndex(attrs, total)
	assert.ErrorIs(t, err, ErrIndexOutOfRange, "from_index(total) должен завершаться ошибкой")

	values, err := FromIndex(attrs, total-1)
	require.NoError(t, err, "from_index(total-1) должен быть успешным")
	assert.Equal(t, []uint32{3, 1}, values)
}

func TestEmptyTuple(t *testing.T) {
	var attrs []Attribute

	assert.Equal(t, uint64(1), DomainSize(attrs))

	idx, err := ToIndex(attrs, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), idx)

	values, err := FromIndex(attrs, 0)
	require.NoError(t, err)
	assert.Empty(t, values)

	_, err = FromIndex(attrs, 1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestSingleAttributeIsIdentity(t *testing.T) {
	attrs := []Attribute{NewIntRange("age", 0, 7)}
	for v := uint32(0); v < 8; v++ {
		idx, err := ToIndex(attrs, []uint32{v})
		require.NoError(t, err)
		assert.Equal(t, v, idx)
	}
}

func TestToIndexErrors(t *testing.T) {
	attrs := []Attribute{NewBool("a"), NewIntRange("b", 1, 3)}

	_, err := ToIndex(attrs, []uint32{1})
	assert.ErrorIs(t, err, ErrArity)

	_, err = ToIndex(attrs, []uint32{2, 0})
	assert.ErrorIs(t, err, ErrValueOutOfRange)

	_, err = ToIndex(attrs, []uint32{0, 3})
	assert.ErrorIs(t, err, ErrValueOutOfRange)

	err = FromIndexInto(attrs, 0, make([]uint32, 3))
	assert.ErrorIs(t, err, ErrArity)
}

func TestParseAndFormat(t *testing.T) {
	attrs := []Attribute{
		NewEnum("facing", "north", "east", "south", "west"),
		NewBool("powered"),
		NewIntRange("delay", 1, 4),
	}

	values, err := ParseValues(attrs, map[string]string{"facing": "south", "powered": "true", "delay": "3"})
	require.NoError(t, err)
	assert.Equal(t, []uint32{2, 1, 2}, values)
	assert.Equal(t, "delay=3,facing=south,powered=true", Format(attrs, values))

	values, err = ParseValues(attrs, map[string]string{"delay": "4"})
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 0, 3}, values, "Отсутствующие свойства получают нулевое состояние")

	_, err = ParseValues(attrs, map[string]string{"facing": "up"})
	assert.ErrorIs(t, err, ErrUnknownState)

	_, err = ParseValues(attrs, map[string]string{"color": "red"})
	assert.ErrorIs(t, err, ErrUnknownAttribute)

	_, err = ParseValues(attrs, map[string]string{"delay": "0"})
	assert.ErrorIs(t, err, ErrUnknownState)
}

func TestAttributeKinds(t *testing.T) {
	b := NewBool("open")
	name, ok := b.StateName(1)
	assert.True(t, ok)
	assert.Equal(t, "true", name)
	_, ok = b.StateName(2)
	assert.False(t, ok)

	e := NewEnum("axis", "x", "y", "z")
	assert.Equal(t, uint32(3), e.StateCount())
	idx, ok := e.Index("z")
	assert.True(t, ok)
	assert.Equal(t, uint32(2), idx)
	assert.Equal(t, []string{"x", "y", "z"}, e.Values())

	r := NewIntRange("level", 0, 15)
	assert.Equal(t, uint32(16), r.StateCount())
	name, ok = r.StateName(15)
	assert.True(t, ok)
	assert.Equal(t, "15", name)

	assert.Panics(t, func() { NewEnum("empty") }, "Пустое перечисление: ошибка программиста")
	assert.Panics(t, func() { NewEnum("dup", "a", "a") })
	assert.Panics(t, func() { NewIntRange("bad", 3, 1) })
}

func TestIntRangeStateLimit(t *testing.T) {
	widest := NewIntRange("widest", 0, MaxRangeStates-1)
	assert.Equal(t, uint32(math.MaxUint32), widest.StateCount())
	idx, ok := widest.Index("4294967294")
	require.True(t, ok)
	assert.Equal(t, uint32(math.MaxUint32-1), idx)

	assert.Panics(t, func() { NewIntRange("x", 0, 1<<32) }, "Диапазон шире uint32 не представим индексами")
	assert.Panics(t, func() { NewIntRange("x", 0, math.MaxUint32) })
	assert.Error(t, CheckRange("x", math.MinInt, math.MaxInt))
	assert.Error(t, CheckRange("x", -1<<31, 1<<31))
	assert.NoError(t, CheckRange("x", -1<<31, 1<<31-2))
}

func TestDomainSizeSaturates(t *testing.T) {
	wide := NewIntRange("w", 0, 1<<16-1)
	attrs := []Attribute{wide, wide, wide}
	assert.Equal(t, uint64(1)<<48, DomainSize(attrs))

	attrs = []Attribute{wide, wide, wide, wide, wide}
	assert.Equal(t, uint64(math.MaxUint64), DomainSize(attrs), "Переполнение uint64 не должно давать малый размер")
}
