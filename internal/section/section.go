// Package section секция мира 16×16×16: контейнер блоков, контейнер биомов
// и счётчик непустых блоков.
package section

import (
	"bytes"
	"fmt"

	"github.com/annel0/blockcodec/internal/metrics"
	"github.com/annel0/blockcodec/internal/palette"
	"github.com/annel0/blockcodec/internal/registry"
	"github.com/annel0/blockcodec/internal/wire"
)

const (
	// Size длина ребра секции в блоках
	Size = 16
	// Volume количество блоков в секции
	Volume = Size * Size * Size
	// BiomeSize длина ребра секции в ячейках биомов 4×4×4
	BiomeSize = 4
)

// Index возвращает индекс блока в контейнере: y<<8 | z<<4 | x.
// Та же раскладка используется хранилищем мира и построением сетки.
func Index(x, y, z int) int {
	return y<<8 | z<<4 | x
}

// Coords обратное к Index
func Coords(i int) (x, y, z int) {
	return i & 0xf, i >> 8 & 0xf, i >> 4 & 0xf
}

// BiomeIndex возвращает индекс ячейки биома (координаты ячейки 0..3)
func BiomeIndex(x, y, z int) int {
	return y<<4 | z<<2 | x
}

// AirFunc сообщает, считается ли значение блока воздухом
type AirFunc func(id uint32) bool

// AirZero считает воздухом только ID 0
func AirZero(id uint32) bool { return id == 0 }

// Layout профили контейнеров и определение воздуха для одной версии
type Layout struct {
	Blocks palette.Profile
	Biomes palette.Profile
	Air    AirFunc
}

// DefaultLayout раскладка формата 1.18+ с воздухом в ID 0
var DefaultLayout = Layout{
	Blocks: palette.BlockProfile,
	Biomes: palette.BiomeProfile,
	Air:    AirZero,
}

// ForRegistry строит раскладку по реестру версии: ширина глобальной палитры
// блоков берётся из реестра, воздух определяется типом блока
func ForRegistry(reg *registry.Registry, biomeBits int) Layout {
	l := DefaultLayout
	globalBits := reg.GlobalBits()
	if globalBits <= l.Blocks.MaxVectorBits {
		globalBits = l.Blocks.MaxVectorBits + 1
	}
	l.Blocks = l.Blocks.WithGlobalBits(globalBits)
	if biomeBits > l.Biomes.MaxVectorBits {
		l.Biomes = l.Biomes.WithGlobalBits(biomeBits)
	}
	l.Air = func(id uint32) bool { return reg.IsAir(registry.GlobalID(id)) }
	return l
}

func (l Layout) air() AirFunc {
	if l.Air == nil {
		return AirZero
	}
	return l.Air
}

// Section секция мира.
//
// BlockCount поддерживается SetBlock и носит рекомендательный характер:
// прямые записи в Blocks его не обновляют, Recount пересчитывает заново.
type Section struct {
	BlockCount int16
	Blocks     *palette.Container
	Biomes     *palette.Container

	air AirFunc
}

// New создаёт пустую секцию, заполненную значением 0
func New(l Layout) *Section {
	return &Section{
		Blocks: palette.NewContainer(l.Blocks, 0),
		Biomes: palette.NewContainer(l.Biomes, 0),
		air:    l.air(),
	}
}

// Block возвращает ID блока
func (s *Section) Block(x, y, z int) uint32 {
	return s.Blocks.Get(Index(x, y, z))
}

// SetBlock записывает блок и обновляет BlockCount; возвращает предыдущий ID
func (s *Section) SetBlock(x, y, z int, id uint32) (uint32, error) {
	old, err := s.Blocks.Set(Index(x, y, z), id)
	if err != nil {
		return 0, err
	}
	air := s.airFunc()
	wasAir, isAir := air(old), air(id)
	switch {
	case wasAir && !isAir:
		s.BlockCount++
	case !wasAir && isAir:
		s.BlockCount--
	}
	return old, nil
}

// Biome возвращает биом ячейки
func (s *Section) Biome(x, y, z int) uint32 {
	return s.Biomes.Get(BiomeIndex(x, y, z))
}

// SetBiome записывает биом ячейки
func (s *Section) SetBiome(x, y, z int, id uint32) (uint32, error) {
	return s.Biomes.Set(BiomeIndex(x, y, z), id)
}

func (s *Section) airFunc() AirFunc {
	if s.air == nil {
		return AirZero
	}
	return s.air
}

// Recount пересчитывает BlockCount по содержимому контейнера
func (s *Section) Recount() int16 {
	air := s.airFunc()
	s.BlockCount = int16(s.Blocks.Count(func(id uint32) bool { return !air(id) }))
	return s.BlockCount
}

// IsEmpty сообщает, что в секции нет непустых блоков (по счётчику)
func (s *Section) IsEmpty() bool {
	return s.BlockCount == 0
}

// Clone возвращает независимую копию
func (s *Section) Clone() *Section {
	return &Section{
		BlockCount: s.BlockCount,
		Blocks:     s.Blocks.Clone(),
		Biomes:     s.Biomes.Clone(),
		air:        s.air,
	}
}

// Rebase возвращает копию секции в раскладке l с контейнером блоков blocks.
// BlockCount пересчитывается по воздуху раскладки l.
func (s *Section) Rebase(l Layout, blocks *palette.Container) *Section {
	out := &Section{
		Blocks: blocks,
		Biomes: s.Biomes.Clone(),
		air:    l.air(),
	}
	out.Recount()
	return out
}

// Equal сравнивает счётчик и содержимое контейнеров
func (s *Section) Equal(o *Section) bool {
	return s.BlockCount == o.BlockCount && s.Blocks.Equal(o.Blocks) && s.Biomes.Equal(o.Biomes)
}

// Decode читает секцию: счётчик (i16), контейнер блоков, контейнер биомов.
// При ошибке секция не возвращается.
func Decode(l Layout, r *wire.Reader) (*Section, error) {
	s, err := decode(l, r)
	if err != nil {
		return nil, err
	}
	metrics.SectionsDecoded.Inc()
	return s, nil
}

func decode(l Layout, r *wire.Reader) (*Section, error) {
	count, err := r.ReadI16()
	if err != nil {
		return nil, &palette.DecodeError{Reason: palette.ReasonTruncated, Offset: r.Offset(), Err: err}
	}
	blocks, err := palette.Decode(l.Blocks, r)
	if err != nil {
		return nil, fmt.Errorf("blocks: %w", err)
	}
	biomes, err := palette.Decode(l.Biomes, r)
	if err != nil {
		return nil, fmt.Errorf("biomes: %w", err)
	}
	return &Section{BlockCount: count, Blocks: blocks, Biomes: biomes, air: l.air()}, nil
}

// Encode записывает секцию в формате Decode
func (s *Section) Encode(w *wire.Writer) error {
	if err := w.WriteI16(s.BlockCount); err != nil {
		return err
	}
	if err := s.Blocks.Encode(w); err != nil {
		return err
	}
	if err := s.Biomes.Encode(w); err != nil {
		return err
	}
	metrics.SectionsEncoded.Inc()
	return nil
}

// DecodeColumn читает n секций подряд (столбец чанка снизу вверх).
// Ошибка в любой секции делает непригодным весь столбец: смещения
// последующих секций неизвестны.
func DecodeColumn(l Layout, r *wire.Reader, n int) ([]*Section, error) {
	sections := make([]*Section, n)
	for i := range sections {
		s, err := Decode(l, r)
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", i, err)
		}
		sections[i] = s
	}
	return sections, nil
}

// EncodeColumn записывает секции подряд
func EncodeColumn(w *wire.Writer, sections []*Section) error {
	for i, s := range sections {
		if err := s.Encode(w); err != nil {
			return fmt.Errorf("section %d: %w", i, err)
		}
	}
	return nil
}

// Marshal кодирует секцию в срез байт
func Marshal(s *Section) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.Encode(wire.NewWriter(&buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal декодирует ровно одну секцию; лишние байты: ошибка
func Unmarshal(l Layout, data []byte) (*Section, error) {
	r := wire.NewReader(bytes.NewReader(data))
	s, err := decode(l, r)
	if err != nil {
		return nil, err
	}
	if rest := int64(len(data)) - r.Offset(); rest != 0 {
		return nil, &palette.DecodeError{
			Reason: palette.ReasonLength,
			Offset: r.Offset(),
			Err:    fmt.Errorf("%d trailing bytes", rest),
		}
	}
	metrics.SectionsDecoded.Inc()
	return s, nil
}
