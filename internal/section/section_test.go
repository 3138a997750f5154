package section

import (
	"bytes"
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/annel0/blockcodec/internal/attribute"
	"github.com/annel0/blockcodec/internal/palette"
	"github.com/annel0/blockcodec/internal/registry"
	"github.com/annel0/blockcodec/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomSection(t *testing.T, seed int64, distinct int) *Section {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	s := New(DefaultLayout)
	for i := 0; i < Volume; i++ {
		x, y, z := Coords(i)
		_, err := s.SetBlock(x, y, z, uint32(rng.Intn(distinct)))
		require.NoError(t, err)
	}
	for i := 0; i < 64; i++ {
		_, err := s.Biomes.Set(i, uint32(rng.Intn(3)))
		require.NoError(t, err)
	}
	return s
}

func TestIndexConvention(t *testing.T) {
	assert.Equal(t, 0, Index(0, 0, 0))
	assert.Equal(t, 1, Index(1, 0, 0), "x: младшие 4 бита")
	assert.Equal(t, 16, Index(0, 0, 1), "z: следующие 4 бита")
	assert.Equal(t, 256, Index(0, 1, 0), "y: старшие биты")
	assert.Equal(t, Volume-1, Index(15, 15, 15))

	for i := 0; i < Volume; i++ {
		x, y, z := Coords(i)
		require.Equal(t, i, Index(x, y, z))
	}

	assert.Equal(t, 63, BiomeIndex(3, 3, 3))
	assert.Equal(t, 4, BiomeIndex(0, 0, 1))
}

func TestBlockCountMaintained(t *testing.T) {
	s := New(DefaultLayout)
	assert.True(t, s.IsEmpty())

	_, err := s.SetBlock(1, 2, 3, 5)
	require.NoError(t, err)
	_, err = s.SetBlock(4, 5, 6, 7)
	require.NoError(t, err)
	assert.Equal(t, int16(2), s.BlockCount)

	old, err := s.SetBlock(1, 2, 3, 9)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), old)
	assert.Equal(t, int16(2), s.BlockCount, "Замена непустого блока непустым не меняет счётчик")

	_, err = s.SetBlock(1, 2, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, int16(1), s.BlockCount)

	// прямая запись в контейнер счётчик не обновляет
	_, err = s.Blocks.Set(Index(0, 0, 0), 3)
	require.NoError(t, err)
	assert.Equal(t, int16(1), s.BlockCount)
	assert.Equal(t, int16(2), s.Recount())
}

func TestSectionRoundTrip(t *testing.T) {
	for name, distinct := range map[string]int{"single": 1, "vector": 40, "global": 3000} {
		t.Run(name, func(t *testing.T) {
			s := randomSection(t, 7, distinct)
			data, err := Marshal(s)
			require.NoError(t, err)

			got, err := Unmarshal(DefaultLayout, data)
			require.NoError(t, err)
			assert.True(t, s.Equal(got), "decode(encode(section)) == section")
			assert.Equal(t, s.Recount(), got.Recount())
		})
	}
}

func TestUnmarshalTrailingBytes(t *testing.T) {
	data, err := Marshal(New(DefaultLayout))
	require.NoError(t, err)

	_, err = Unmarshal(DefaultLayout, append(data, 0))
	assert.ErrorIs(t, err, palette.ErrDecode)
	assert.Equal(t, palette.ReasonLength, palette.ReasonOf(err))
}

func TestDecodeColumn(t *testing.T) {
	sections := []*Section{randomSection(t, 1, 2), randomSection(t, 2, 300), New(DefaultLayout)}

	var buf bytes.Buffer
	require.NoError(t, EncodeColumn(wire.NewWriter(&buf), sections))

	got, err := DecodeColumn(DefaultLayout, wire.NewReader(bytes.NewReader(buf.Bytes())), 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range sections {
		assert.True(t, sections[i].Equal(got[i]), "Секция %d столбца", i)
	}

	_, err = DecodeColumn(DefaultLayout, wire.NewReader(bytes.NewReader(buf.Bytes())), 4)
	assert.ErrorIs(t, err, palette.ErrDecode, "Нехватка данных для четвёртой секции")
}

func TestForRegistry(t *testing.T) {
	reg := registry.New(registry.Version{Protocol: 764, Name: "1.20.2"})
	reg.Register(&registry.BlockType{Tag: "minecraft:air", Air: true})
	reg.Register(&registry.BlockType{Tag: "minecraft:stone"})
	reg.Register(&registry.BlockType{Tag: "minecraft:cave_air", Air: true})
	reg.Register(&registry.BlockType{Tag: "minecraft:wheat", Attributes: attribute.Tuple{attribute.NewIntRange("age", 0, 7)}})
	reg.Freeze()

	l := ForRegistry(reg, 6)
	assert.Equal(t, 9, l.Blocks.GlobalBits, "Маленький реестр не сужает глобальную палитру ниже словарной")
	require.NoError(t, l.Blocks.Validate())

	s := New(l)
	_, err := s.SetBlock(0, 0, 0, 1)
	require.NoError(t, err)
	_, err = s.SetBlock(1, 0, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int16(1), s.BlockCount, "cave_air тоже воздух")
}

func TestDecodeBatch(t *testing.T) {
	var payloads [][]byte
	var want []*Section
	for i := 0; i < 32; i++ {
		s := randomSection(t, int64(i), 1+i*50)
		data, err := Marshal(s)
		require.NoError(t, err)
		payloads = append(payloads, data)
		want = append(want, s)
	}
	payloads[5] = payloads[5][:10]
	payloads[17] = []byte{0, 0, 4, 0}

	var mu sync.Mutex
	var reported []int
	rep := ReporterFunc(func(_ context.Context, d Discarded) {
		mu.Lock()
		reported = append(reported, d.Index)
		mu.Unlock()
	})

	res, err := DecodeBatch(context.Background(), payloads, BatchOptions{Layout: DefaultLayout, Workers: 4, Reporter: rep})
	require.NoError(t, err)
	require.Len(t, res.Discarded, 2)
	assert.Equal(t, 5, res.Discarded[0].Index)
	assert.Equal(t, 17, res.Discarded[1].Index)
	assert.ElementsMatch(t, []int{5, 17}, reported, "Каждая отброшенная секция передаётся Reporter")
	assert.Equal(t, 30, res.Decoded())

	for i, s := range res.Sections {
		if i == 5 || i == 17 {
			assert.Nil(t, s, "Частично декодированная секция не публикуется")
			continue
		}
		require.NotNil(t, s)
		assert.True(t, want[i].Equal(s))
	}
}

func TestDecodeBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	data, err := Marshal(New(DefaultLayout))
	require.NoError(t, err)

	_, err = DecodeBatch(ctx, [][]byte{data, data}, BatchOptions{Layout: DefaultLayout})
	assert.ErrorIs(t, err, context.Canceled)
}
