package palette

import (
	"fmt"
	"math"
)

// BitStorage упакованный массив кодов фиксированной ширины в 64-битных словах.
//
// Коды кладутся начиная с младших бит слова; код никогда не пересекает
// границу слова, остаток старших бит слова не используется. Раскладка
// совпадает с форматом секций протокола начиная с 1.16.
type BitStorage struct {
	data []uint64
	mask uint64

	bits, length  int
	valuesPerLong int
}

// StorageSize возвращает количество слов для length кодов шириной bits
func StorageSize(bits, length int) int {
	if bits == 0 {
		return 0
	}
	perLong := 64 / bits
	return (length + perLong - 1) / perLong
}

// NewBitStorage создаёт хранилище. Если data не nil, её длина обязана
// совпадать с StorageSize(bits, length); данные используются без копирования.
func NewBitStorage(bits, length int, data []uint64) (*BitStorage, error) {
	if bits < 0 || bits > 32 {
		return nil, fmt.Errorf("bit storage: unsupported width %d", bits)
	}
	b := &BitStorage{bits: bits, length: length}
	if bits == 0 {
		if len(data) != 0 {
			return nil, fmt.Errorf("bit storage: %d words for zero width", len(data))
		}
		return b, nil
	}

	b.mask = 1<<bits - 1
	b.valuesPerLong = 64 / bits

	want := StorageSize(bits, length)
	if data == nil {
		data = make([]uint64, want)
	} else if len(data) != want {
		return nil, fmt.Errorf("bit storage: got %d words, want %d for %d×%d bits", len(data), want, length, bits)
	}
	b.data = data
	return b, nil
}

func (b *BitStorage) locate(i int) (word, offset int) {
	word = i / b.valuesPerLong
	offset = (i - word*b.valuesPerLong) * b.bits
	return
}

// Get возвращает код по индексу
func (b *BitStorage) Get(i int) uint32 {
	if b.bits == 0 {
		return 0
	}
	if i < 0 || i >= b.length {
		panic(fmt.Sprintf("bit storage: index %d out of range [0,%d)", i, b.length))
	}
	w, off := b.locate(i)
	return uint32(b.data[w] >> off & b.mask)
}

// Swap записывает код и возвращает предыдущий
func (b *BitStorage) Swap(i int, v uint32) uint32 {
	if b.bits == 0 {
		return 0
	}
	if i < 0 || i >= b.length {
		panic(fmt.Sprintf("bit storage: index %d out of range [0,%d)", i, b.length))
	}
	if uint64(v) > b.mask {
		panic(fmt.Sprintf("bit storage: code %d does not fit %d bits", v, b.bits))
	}
	w, off := b.locate(i)
	l := b.data[w]
	old := uint32(l >> off & b.mask)
	b.data[w] = l&(b.mask<<off^math.MaxUint64) | uint64(v)<<off
	return old
}

// Set записывает код
func (b *BitStorage) Set(i int, v uint32) {
	b.Swap(i, v)
}

// Bits возвращает ширину кода
func (b *BitStorage) Bits() int { return b.bits }

// Len возвращает количество кодов
func (b *BitStorage) Len() int { return b.length }

// Raw возвращает слова хранилища без копирования
func (b *BitStorage) Raw() []uint64 { return b.data }

// Max возвращает наибольший код, хранящийся в массиве
func (b *BitStorage) Max() uint32 {
	var m uint32
	for i := 0; i < b.length; i++ {
		if v := b.Get(i); v > m {
			m = v
		}
	}
	return m
}
