package palette

import (
	"errors"
	"fmt"

	"github.com/annel0/blockcodec/internal/wire"
)

// ErrDecode общий признак ошибок декодирования контейнера.
// errors.Is(err, ErrDecode) истинно для любого *DecodeError.
var ErrDecode = errors.New("palette: decode error")

// ErrValueTooWide значение не помещается в глобальную палитру профиля
var ErrValueTooWide = errors.New("palette: value exceeds global palette width")

// Reason классифицирует ошибку декодирования (метка метрик и событий)
type Reason string

const (
	ReasonTruncated Reason = "truncated"
	ReasonPalette   Reason = "palette"
	ReasonLength    Reason = "length"
	ReasonCode      Reason = "code"
)

// DecodeError описывает некорректный контейнер во входном потоке
type DecodeError struct {
	Reason Reason
	Offset int64
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("palette: decode %s at byte %d: %v", e.Reason, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is связывает DecodeError с ErrDecode
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

func decodeErr(reason Reason, r *wire.Reader, err error) error {
	return &DecodeError{Reason: reason, Offset: r.Offset(), Err: err}
}

// ReasonOf извлекает причину из ошибки декодирования
func ReasonOf(err error) Reason {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Reason
	}
	return "other"
}
