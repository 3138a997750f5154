// Package wire байтовый курсор сетевого формата секций.
//
// Примитивы совпадают с протоколом: u8, i16, VarInt (LEB128 со знаком int32)
// и массивы 64-битных слов в big-endian с VarInt-префиксом длины.
package wire

import (
	"errors"
	"fmt"
	"io"

	pk "github.com/Tnze/go-mc/net/packet"
)

var (
	// ErrNegativeLength префикс длины отрицательный
	ErrNegativeLength = errors.New("wire: negative length prefix")
	// ErrTooLong префикс длины превышает допустимый предел
	ErrTooLong = errors.New("wire: length prefix exceeds limit")
)

// Reader читает примитивы формата и считает прочитанные байты
type Reader struct {
	r io.Reader
	n int64
}

// NewReader создаёт курсор чтения
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Offset возвращает количество прочитанных байт
func (r *Reader) Offset() int64 {
	return r.n
}

// ReadU8 читает один байт
func (r *Reader) ReadU8() (uint8, error) {
	var v pk.UnsignedByte
	n, err := v.ReadFrom(r.r)
	r.n += n
	if err != nil {
		return 0, fmt.Errorf("read u8 at %d: %w", r.n, err)
	}
	return uint8(v), nil
}

// ReadI16 читает short в big-endian
func (r *Reader) ReadI16() (int16, error) {
	var v pk.Short
	n, err := v.ReadFrom(r.r)
	r.n += n
	if err != nil {
		return 0, fmt.Errorf("read i16 at %d: %w", r.n, err)
	}
	return int16(v), nil
}

// ReadVarInt читает VarInt
func (r *Reader) ReadVarInt() (int32, error) {
	var v pk.VarInt
	n, err := v.ReadFrom(r.r)
	r.n += n
	if err != nil {
		return 0, fmt.Errorf("read varint at %d: %w", r.n, err)
	}
	return int32(v), nil
}

// ReadLength читает неотрицательный VarInt-префикс, не превышающий limit
func (r *Reader) ReadLength(limit int) (int, error) {
	v, err := r.ReadVarInt()
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeLength, v)
	}
	if int(v) > limit {
		return 0, fmt.Errorf("%w: %d > %d", ErrTooLong, v, limit)
	}
	return int(v), nil
}

// ReadU64s заполняет dst словами big-endian
func (r *Reader) ReadU64s(dst []uint64) error {
	var v pk.Long
	for i := range dst {
		n, err := v.ReadFrom(r.r)
		r.n += n
		if err != nil {
			return fmt.Errorf("read u64 #%d at %d: %w", i, r.n, err)
		}
		dst[i] = uint64(v)
	}
	return nil
}

// ReadU64Array читает массив слов с VarInt-префиксом длины
func (r *Reader) ReadU64Array(limit int) ([]uint64, error) {
	l, err := r.ReadLength(limit)
	if err != nil {
		return nil, err
	}
	data := make([]uint64, l)
	if err := r.ReadU64s(data); err != nil {
		return nil, err
	}
	return data, nil
}

// Writer записывает примитивы формата
type Writer struct {
	w io.Writer
	n int64
}

// NewWriter создаёт курсор записи
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Offset возвращает количество записанных байт
func (w *Writer) Offset() int64 {
	return w.n
}

func (w *Writer) write(f io.WriterTo) error {
	n, err := f.WriteTo(w.w)
	w.n += n
	return err
}

// WriteU8 записывает один байт
func (w *Writer) WriteU8(v uint8) error {
	return w.write(pk.UnsignedByte(v))
}

// WriteI16 записывает short в big-endian
func (w *Writer) WriteI16(v int16) error {
	return w.write(pk.Short(v))
}

// WriteVarInt записывает VarInt
func (w *Writer) WriteVarInt(v int32) error {
	return w.write(pk.VarInt(v))
}

// WriteU64Array записывает массив слов с VarInt-префиксом длины
func (w *Writer) WriteU64Array(data []uint64) error {
	if err := w.WriteVarInt(int32(len(data))); err != nil {
		return err
	}
	for _, v := range data {
		if err := w.write(pk.Long(v)); err != nil {
			return err
		}
	}
	return nil
}
