package convert

import (
	"fmt"

	"github.com/annel0/blockcodec/internal/logging"
	"github.com/annel0/blockcodec/internal/palette"
	"github.com/annel0/blockcodec/internal/registry"
)

type route struct {
	conv   *Converter
	target registry.Range
	source registry.Range
}

// Translator переводит глобальные ID между реестрами двух версий.
//
// Типы, которых нет в целевом реестре, не переводятся: Translate возвращает
// false, а TranslateContainer подставляет Fallback.
type Translator struct {
	src, dst *registry.Registry

	routes map[string]route // теги, общие для обеих версий

	// Fallback ID цели для непереводимых состояний
	Fallback registry.GlobalID
}

// NewTranslator собирает переводы для всех типов src, присутствующих в dst.
// Цепочка обязана вести от версии src к версии dst. Тип, общий для обеих
// версий, но пропущенный каким-либо мостом, является ошибкой сборки.
func NewTranslator(src, dst *registry.Registry, chain []*Bridge) (*Translator, error) {
	if len(chain) == 0 && src.Version() != dst.Version() {
		return nil, fmt.Errorf("convert: no bridges between %s and %s", src.Version(), dst.Version())
	}
	if len(chain) > 0 {
		if chain[0].Lower != src.Version() || chain[len(chain)-1].Upper != dst.Version() {
			return nil, fmt.Errorf("convert: chain %s → %s does not connect %s and %s",
				chain[0].Lower, chain[len(chain)-1].Upper, src.Version(), dst.Version())
		}
	}

	t := &Translator{
		src:    src,
		dst:    dst,
		routes: make(map[string]route),
	}

	for _, info := range src.Ranges() {
		_, target, ok := dst.Lookup(info.Tag)
		if !ok {
			continue
		}

		var conv *Converter
		if len(chain) == 0 {
			conv = &Converter{Tag: info.Tag, Source: src.Version(), Target: dst.Version(), into: identity, from: identity}
		} else {
			var err error
			if conv, err = Compose(info.Tag, chain); err != nil {
				return nil, err
			}
		}

		t.routes[info.Tag] = route{conv: conv, target: target, source: registry.Range{Start: info.Start, Count: info.Count}}
	}

	if air, ok := dst.DefaultGlobal("minecraft:air"); ok {
		t.Fallback = air
	}

	logging.For(logging.ComponentCodec).Info("Translator %s → %s: %d of %d types mapped",
		src.Version(), dst.Version(), len(t.routes), src.Len())
	return t, nil
}

// Translate переводит ID источника в ID цели
func (t *Translator) Translate(id registry.GlobalID) (registry.GlobalID, bool) {
	bt, rel, ok := t.src.GetDefault(id)
	if !ok {
		return 0, false
	}
	r, ok := t.routes[bt.Tag]
	if !ok {
		return 0, false
	}
	out := r.conv.Into(rel)
	if uint32(out) >= r.target.Count {
		return 0, false
	}
	return r.target.Start + registry.GlobalID(out), true
}

// TranslateBack переводит ID цели обратно в ID источника
func (t *Translator) TranslateBack(id registry.GlobalID) (registry.GlobalID, bool) {
	bt, rel, ok := t.dst.GetDefault(id)
	if !ok {
		return 0, false
	}
	r, ok := t.routes[bt.Tag]
	if !ok {
		return 0, false
	}
	out := r.conv.From(rel)
	if uint32(out) >= r.source.Count {
		return 0, false
	}
	return r.source.Start + registry.GlobalID(out), true
}

// Mapped сообщает, переводится ли тип
func (t *Translator) Mapped(tag string) bool {
	_, ok := t.routes[tag]
	return ok
}

// Target возвращает реестр целевой версии
func (t *Translator) Target() *registry.Registry {
	return t.dst
}

// TargetProfile переносит профиль контейнера на ширину глобальной палитры цели.
// Ширина не бывает меньше MaxVectorBits+1, как и в раскладке секции.
func (t *Translator) TargetProfile(p palette.Profile) palette.Profile {
	bits := t.dst.GlobalBits()
	if bits <= p.MaxVectorBits {
		bits = p.MaxVectorBits + 1
	}
	return p.WithGlobalBits(bits)
}

// TranslateContainer возвращает копию контейнера блоков в ID и профиле цели.
// Словарная палитра, помещающаяся в профиль цели, переводится только по словарю.
func (t *Translator) TranslateContainer(c *palette.Container) (*palette.Container, error) {
	return c.RemapTo(t.TargetProfile(c.Profile()), func(v uint32) (uint32, error) {
		if out, ok := t.Translate(registry.GlobalID(v)); ok {
			return uint32(out), nil
		}
		return uint32(t.Fallback), nil
	})
}
