// Package convert переводит состояния блоков между версиями игры.
//
// Bridge описывает переход между двумя соседними версиями: для каждого тега
// пара функций Into (старшая версия) и From (младшая). Converter собирает
// цепочку мостов в одну пару функций, поэтому перевод через любое число
// версий стоит один вызов. Отсутствие перевода обнаруживается при сборке,
// а не при переводе отдельного состояния.
package convert

import (
	"fmt"

	"github.com/annel0/blockcodec/internal/registry"
)

// Func переводит относительное состояние типа из одной версии в другую
type Func func(registry.RelativeState) registry.RelativeState

// Conversion пара переводов через один мост
type Conversion struct {
	// Into переводит из Lower в Upper
	Into Func
	// From переводит из Upper в Lower
	From Func
}

func identity(s registry.RelativeState) registry.RelativeState { return s }

// Identity перевод без изменения битов состояния.
// Раскладка свойств совпадает, меняется только версия.
func Identity() Conversion {
	return Conversion{Into: identity, From: identity}
}

// Bridge таблица переводов между соседними версиями Lower → Upper
type Bridge struct {
	Lower registry.Version
	Upper registry.Version

	conversions map[string]Conversion
}

// NewBridge создаёт пустой мост
func NewBridge(lower, upper registry.Version) *Bridge {
	return &Bridge{Lower: lower, Upper: upper, conversions: make(map[string]Conversion)}
}

// Add регистрирует перевод для тега
func (b *Bridge) Add(tag string, c Conversion) *Bridge {
	if c.Into == nil || c.From == nil {
		panic(fmt.Sprintf("convert: incomplete conversion for %s", tag))
	}
	b.conversions[tag] = c
	return b
}

// AddIdentity регистрирует тождественный перевод для тегов
func (b *Bridge) AddIdentity(tags ...string) *Bridge {
	for _, tag := range tags {
		b.conversions[tag] = Identity()
	}
	return b
}

// Lookup возвращает перевод тега
func (b *Bridge) Lookup(tag string) (Conversion, bool) {
	c, ok := b.conversions[tag]
	return c, ok
}

// Len возвращает количество тегов моста
func (b *Bridge) Len() int { return len(b.conversions) }

// CommonBridge строит мост тождественных переводов для типов, которые
// зарегистрированы в обоих реестрах с одинаковой раскладкой свойств
func CommonBridge(lower, upper *registry.Registry) *Bridge {
	b := NewBridge(lower.Version(), upper.Version())
	for _, bt := range lower.Types() {
		other, _, ok := upper.Lookup(bt.Tag)
		if !ok || !sameLayout(bt, other) {
			continue
		}
		b.AddIdentity(bt.Tag)
	}
	return b
}

func sameLayout(a, b *registry.BlockType) bool {
	if len(a.Attributes) != len(b.Attributes) {
		return false
	}
	for i := range a.Attributes {
		x, y := a.Attributes[i], b.Attributes[i]
		if x.Name() != y.Name() || x.StateCount() != y.StateCount() {
			return false
		}
		for s := uint32(0); s < x.StateCount(); s++ {
			nx, _ := x.StateName(s)
			ny, _ := y.StateName(s)
			if nx != ny {
				return false
			}
		}
	}
	return true
}

// ConversionUnavailableError в цепочке нет перевода для тега
type ConversionUnavailableError struct {
	Tag    string
	Lower  registry.Version
	Upper  registry.Version
	Reason string
}

func (e *ConversionUnavailableError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("convert: %s: %s", e.Tag, e.Reason)
	}
	return fmt.Sprintf("convert: no conversion for %s between %s and %s", e.Tag, e.Lower, e.Upper)
}

// Converter собранный перевод одного тега от Source к Target
type Converter struct {
	Tag    string
	Source registry.Version
	Target registry.Version

	// Hops количество мостов в цепочке
	Hops int

	into Func
	from Func
}

// Into переводит состояние из Source в Target
func (c *Converter) Into(s registry.RelativeState) registry.RelativeState {
	return c.into(s)
}

// From переводит состояние из Target в Source
func (c *Converter) From(s registry.RelativeState) registry.RelativeState {
	return c.from(s)
}

// Compose собирает перевод тега через упорядоченную цепочку мостов.
// Соседние мосты обязаны стыковаться по версиям.
func Compose(tag string, chain []*Bridge) (*Converter, error) {
	if len(chain) == 0 {
		return nil, &ConversionUnavailableError{Tag: tag, Reason: "empty bridge chain"}
	}

	first, ok := chain[0].Lookup(tag)
	if !ok {
		return nil, &ConversionUnavailableError{Tag: tag, Lower: chain[0].Lower, Upper: chain[0].Upper}
	}
	c := &Converter{
		Tag:    tag,
		Source: chain[0].Lower,
		Target: chain[0].Upper,
		Hops:   1,
		into:   first.Into,
		from:   first.From,
	}

	for _, b := range chain[1:] {
		next, err := c.ExtendBack(b)
		if err != nil {
			return nil, err
		}
		c = next
	}
	return c, nil
}

// MustCompose Compose, паникующий при отсутствии перевода.
// Для сборки таблиц при запуске.
func MustCompose(tag string, chain []*Bridge) *Converter {
	c, err := Compose(tag, chain)
	if err != nil {
		panic(err)
	}
	return c
}

// ExtendFront добавляет мост перед Source: b.Upper должен совпадать с Source
func (c *Converter) ExtendFront(b *Bridge) (*Converter, error) {
	if b.Upper != c.Source {
		return nil, &ConversionUnavailableError{
			Tag:    c.Tag,
			Reason: fmt.Sprintf("bridge %s → %s does not end at %s", b.Lower, b.Upper, c.Source),
		}
	}
	conv, ok := b.Lookup(c.Tag)
	if !ok {
		return nil, &ConversionUnavailableError{Tag: c.Tag, Lower: b.Lower, Upper: b.Upper}
	}

	into, from := c.into, c.from
	return &Converter{
		Tag:    c.Tag,
		Source: b.Lower,
		Target: c.Target,
		Hops:   c.Hops + 1,
		into:   func(s registry.RelativeState) registry.RelativeState { return into(conv.Into(s)) },
		from:   func(s registry.RelativeState) registry.RelativeState { return conv.From(from(s)) },
	}, nil
}

// ExtendBack добавляет мост после Target: b.Lower должен совпадать с Target
func (c *Converter) ExtendBack(b *Bridge) (*Converter, error) {
	if b.Lower != c.Target {
		return nil, &ConversionUnavailableError{
			Tag:    c.Tag,
			Reason: fmt.Sprintf("bridge %s → %s does not start at %s", b.Lower, b.Upper, c.Target),
		}
	}
	conv, ok := b.Lookup(c.Tag)
	if !ok {
		return nil, &ConversionUnavailableError{Tag: c.Tag, Lower: b.Lower, Upper: b.Upper}
	}

	into, from := c.into, c.from
	return &Converter{
		Tag:    c.Tag,
		Source: c.Source,
		Target: b.Upper,
		Hops:   c.Hops + 1,
		into:   func(s registry.RelativeState) registry.RelativeState { return conv.Into(into(s)) },
		from:   func(s registry.RelativeState) registry.RelativeState { return from(conv.From(s)) },
	}, nil
}

// Extend добавляет мосты с обеих сторон
func (c *Converter) Extend(front, back *Bridge) (*Converter, error) {
	ext, err := c.ExtendFront(front)
	if err != nil {
		return nil, err
	}
	return ext.ExtendBack(back)
}
