package convert

import (
	"bytes"
	"errors"
	"testing"

	"github.com/annel0/blockcodec/internal/attribute"
	"github.com/annel0/blockcodec/internal/palette"
	"github.com/annel0/blockcodec/internal/registry"
	"github.com/annel0/blockcodec/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	v1 = registry.Version{Protocol: 763, Name: "1.20.1"}
	v2 = registry.Version{Protocol: 764, Name: "1.20.2"}
	v3 = registry.Version{Protocol: 765, Name: "1.20.4"}
	v4 = registry.Version{Protocol: 766, Name: "1.20.6"}
)

// shift сдвигает состояние по модулю n, чтобы композицию было видно в результате
func shift(k, n registry.RelativeState) Conversion {
	return Conversion{
		Into: func(s registry.RelativeState) registry.RelativeState { return (s + k) % n },
		From: func(s registry.RelativeState) registry.RelativeState { return (s + n - k) % n },
	}
}

func TestIdentityConversion(t *testing.T) {
	c, err := Compose("minecraft:stone", []*Bridge{NewBridge(v1, v2).AddIdentity("minecraft:stone")})
	require.NoError(t, err)
	assert.Equal(t, v1, c.Source)
	assert.Equal(t, v2, c.Target)
	for s := registry.RelativeState(0); s < 10; s++ {
		assert.Equal(t, s, c.Into(s), "Тождественный перевод не меняет биты состояния")
		assert.Equal(t, s, c.From(s))
	}
}

func TestComposeChain(t *testing.T) {
	chain := []*Bridge{
		NewBridge(v1, v2).Add("test:dial", shift(1, 8)),
		NewBridge(v2, v3).Add("test:dial", shift(2, 8)),
		NewBridge(v3, v4).AddIdentity("test:dial"),
	}

	c, err := Compose("test:dial", chain)
	require.NoError(t, err)
	assert.Equal(t, v1, c.Source)
	assert.Equal(t, v4, c.Target)
	assert.Equal(t, 3, c.Hops)

	for s := registry.RelativeState(0); s < 8; s++ {
		assert.Equal(t, (s+3)%8, c.Into(s))
		assert.Equal(t, s, c.From(c.Into(s)), "From обратен Into")
	}
}

func TestComposeFailsAtBuildTime(t *testing.T) {
	chain := []*Bridge{
		NewBridge(v1, v2).AddIdentity("test:a", "test:b"),
		NewBridge(v2, v3).AddIdentity("test:a"),
	}

	_, err := Compose("test:b", chain)
	var cue *ConversionUnavailableError
	require.True(t, errors.As(err, &cue), "Отсутствующий перевод обнаруживается при сборке")
	assert.Equal(t, "test:b", cue.Tag)
	assert.Equal(t, v2, cue.Lower)
	assert.Equal(t, v3, cue.Upper)

	_, err = Compose("test:a", []*Bridge{NewBridge(v1, v2).AddIdentity("test:a"), NewBridge(v3, v4).AddIdentity("test:a")})
	assert.True(t, errors.As(err, &cue), "Разрыв цепочки версий: ошибка сборки")

	_, err = Compose("test:a", nil)
	assert.Error(t, err)

	assert.Panics(t, func() { MustCompose("test:b", chain) })
}

func TestExtend(t *testing.T) {
	mid := MustCompose("test:dial", []*Bridge{NewBridge(v2, v3).Add("test:dial", shift(2, 8))})

	front, err := mid.ExtendFront(NewBridge(v1, v2).Add("test:dial", shift(1, 8)))
	require.NoError(t, err)
	assert.Equal(t, v1, front.Source)
	assert.Equal(t, v3, front.Target)
	assert.Equal(t, registry.RelativeState(3), front.Into(0))

	back, err := mid.ExtendBack(NewBridge(v3, v4).Add("test:dial", shift(4, 8)))
	require.NoError(t, err)
	assert.Equal(t, v2, back.Source)
	assert.Equal(t, v4, back.Target)
	assert.Equal(t, registry.RelativeState(6), back.Into(0))

	both, err := mid.Extend(
		NewBridge(v1, v2).Add("test:dial", shift(1, 8)),
		NewBridge(v3, v4).Add("test:dial", shift(4, 8)),
	)
	require.NoError(t, err)
	assert.Equal(t, 3, both.Hops)
	assert.Equal(t, registry.RelativeState(7), both.Into(0))
	assert.Equal(t, registry.RelativeState(0), both.From(7))

	assert.Equal(t, registry.RelativeState(2), mid.Into(0), "Расширение не меняет исходный конвертер")

	_, err = mid.ExtendFront(NewBridge(v3, v4).AddIdentity("test:dial"))
	assert.Error(t, err, "Мост должен стыковаться с Source")
	_, err = mid.ExtendBack(NewBridge(v3, v4).AddIdentity("test:other"))
	assert.Error(t, err)
}

func newRegistry(v registry.Version, types ...*registry.BlockType) *registry.Registry {
	reg := registry.New(v)
	for _, bt := range types {
		reg.Register(bt)
	}
	reg.Freeze()
	return reg
}

func TestTranslator(t *testing.T) {
	air := func() *registry.BlockType { return &registry.BlockType{Tag: "minecraft:air", Air: true} }
	log := func() *registry.BlockType {
		return &registry.BlockType{Tag: "minecraft:oak_log", Attributes: attribute.Tuple{attribute.NewEnum("axis", "x", "y", "z")}}
	}
	src := newRegistry(v1, air(), &registry.BlockType{Tag: "minecraft:grass"}, log())
	dst := newRegistry(v2, air(), &registry.BlockType{Tag: "minecraft:cherry_log"}, log())

	tr, err := NewTranslator(src, dst, []*Bridge{CommonBridge(src, dst)})
	require.NoError(t, err)
	assert.True(t, tr.Mapped("minecraft:oak_log"))
	assert.False(t, tr.Mapped("minecraft:grass"))

	// oak_log axis=z: src 2+2=4, dst 2+2=4; grass (1) не существует в dst
	id, ok := tr.Translate(4)
	require.True(t, ok)
	assert.Equal(t, registry.GlobalID(4), id)
	_, ok = tr.Translate(1)
	assert.False(t, ok)

	back, ok := tr.TranslateBack(4)
	require.True(t, ok)
	assert.Equal(t, registry.GlobalID(4), back)
	_, ok = tr.TranslateBack(1)
	assert.False(t, ok, "cherry_log отсутствует в источнике")

	values := make([]uint32, 4096)
	for i := range values {
		values[i] = uint32(i % 5)
	}
	c, err := palette.FromValues(palette.BlockProfile, values)
	require.NoError(t, err)

	out, err := tr.TranslateContainer(c)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), out.Get(0))
	assert.Equal(t, uint32(0), out.Get(1), "Непереводимое состояние заменяется воздухом")
	assert.Equal(t, uint32(3), out.Get(3))
	assert.Equal(t, uint32(1), c.Get(1))
}

func TestTranslatorMissingConversion(t *testing.T) {
	src := newRegistry(v1, &registry.BlockType{Tag: "a"}, &registry.BlockType{Tag: "b"})
	dst := newRegistry(v2, &registry.BlockType{Tag: "a"}, &registry.BlockType{Tag: "b"})

	_, err := NewTranslator(src, dst, []*Bridge{NewBridge(v1, v2).AddIdentity("a")})
	var cue *ConversionUnavailableError
	assert.True(t, errors.As(err, &cue), "Тип, общий для версий, но без перевода: ошибка сборки")

	_, err = NewTranslator(src, dst, nil)
	assert.Error(t, err, "Разные версии без мостов")

	same, err := NewTranslator(src, src, nil)
	require.NoError(t, err)
	id, ok := same.Translate(1)
	require.True(t, ok)
	assert.Equal(t, registry.GlobalID(1), id)
}

// reencode кодирует контейнер и читает его обратно в профиле p
func reencode(t *testing.T, c *palette.Container, p palette.Profile) *palette.Container {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, c.Encode(wire.NewWriter(&buf)))
	got, err := palette.Decode(p, wire.NewReader(&buf))
	require.NoError(t, err)
	assert.Zero(t, buf.Len(), "Контейнер должен быть прочитан целиком")
	return got
}

func TestTranslateContainerAcrossGlobalWidths(t *testing.T) {
	air := func() *registry.BlockType { return &registry.BlockType{Tag: "minecraft:air", Air: true} }
	dial := func() *registry.BlockType {
		return &registry.BlockType{Tag: "test:dial", Attributes: attribute.Tuple{attribute.NewIntRange("v", 0, 599)}}
	}
	// small: air + dial = 601 состояние (10 бит), dial с ID 1
	small := newRegistry(v1, air(), dial())
	// large: air + filler + dial = 3601 состояние (12 бит), dial с ID 3001
	large := newRegistry(v2, air(),
		&registry.BlockType{Tag: "test:filler", Attributes: attribute.Tuple{attribute.NewIntRange("v", 0, 2999)}},
		dial())
	require.Equal(t, 10, small.GlobalBits())
	require.Equal(t, 12, large.GlobalBits())

	t.Run("в более широкий реестр", func(t *testing.T) {
		tr, err := NewTranslator(small, large, []*Bridge{CommonBridge(small, large)})
		require.NoError(t, err)

		values := make([]uint32, 4096)
		for i := range values {
			values[i] = 1 + uint32(i%10)
		}
		c, err := palette.FromValues(palette.BlockProfile.WithGlobalBits(small.GlobalBits()), values)
		require.NoError(t, err)
		require.Equal(t, palette.KindVector, c.Kind())

		out, err := tr.TranslateContainer(c)
		require.NoError(t, err, "ID цели шире глобальной палитры источника")
		assert.Equal(t, 12, out.Profile().GlobalBits)
		assert.Equal(t, palette.KindVector, out.Kind())

		got := reencode(t, out, palette.BlockProfile.WithGlobalBits(large.GlobalBits()))
		for i := 0; i < 4096; i++ {
			require.Equal(t, 3001+uint32(i%10), got.Get(i), "запись %d", i)
		}
	})

	t.Run("в более узкий реестр", func(t *testing.T) {
		tr, err := NewTranslator(large, small, []*Bridge{CommonBridge(large, small)})
		require.NoError(t, err)

		values := make([]uint32, 4096)
		for i := range values {
			values[i] = 3001 + uint32(i%600)
		}
		values[0] = 5 // filler отсутствует в small
		c, err := palette.FromValues(palette.BlockProfile.WithGlobalBits(large.GlobalBits()), values)
		require.NoError(t, err)
		require.Equal(t, palette.KindGlobal, c.Kind())
		require.Equal(t, 12, c.Bits())

		out, err := tr.TranslateContainer(c)
		require.NoError(t, err)
		assert.Equal(t, palette.KindGlobal, out.Kind())
		assert.Equal(t, 10, out.Bits(), "Глобальная палитра пересобирается по ширине цели")

		got := reencode(t, out, palette.BlockProfile.WithGlobalBits(small.GlobalBits()))
		assert.Equal(t, uint32(0), got.Get(0), "Непереводимое состояние заменяется воздухом")
		for i := 1; i < 4096; i++ {
			require.Equal(t, 1+uint32(i%600), got.Get(i), "запись %d", i)
		}
	})
}
