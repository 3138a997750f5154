package registry

import (
	"fmt"
	"io"
	"os"

	"github.com/annel0/blockcodec/internal/attribute"
	"gopkg.in/yaml.v3"
)

// Definitions описание набора блоков версии в YAML.
// Список блоков поставляется данными; порядок в файле задаёт порядок регистрации.
//
//	version: {protocol: 764, name: "1.20.2"}
//	blocks:
//	  - tag: minecraft:air
//	    air: true
//	  - tag: minecraft:oak_log
//	    attributes:
//	      - {name: axis, enum: [x, y, z]}
//	    default: {axis: y}
type Definitions struct {
	Version Version    `yaml:"version"`
	Blocks  []BlockDef `yaml:"blocks"`
}

// BlockDef описывает один тип блока
type BlockDef struct {
	Tag        string                 `yaml:"tag"`
	Air        bool                   `yaml:"air"`
	Attributes []AttributeDef         `yaml:"attributes"`
	Default    map[string]interface{} `yaml:"default"`
}

// AttributeDef описывает одно свойство: ровно одно из bool, enum или min/max
type AttributeDef struct {
	Name string   `yaml:"name"`
	Bool bool     `yaml:"bool"`
	Enum []string `yaml:"enum"`
	Min  *int     `yaml:"min"`
	Max  *int     `yaml:"max"`
}

// Build создаёт свойство по описанию
func (d AttributeDef) Build() (attribute.Attribute, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("attribute without name")
	}

	kinds := 0
	if d.Bool {
		kinds++
	}
	if len(d.Enum) > 0 {
		kinds++
	}
	if d.Min != nil || d.Max != nil {
		kinds++
	}
	if kinds != 1 {
		return nil, fmt.Errorf("attribute %s: exactly one of bool, enum, min/max must be set", d.Name)
	}

	switch {
	case d.Bool:
		return attribute.NewBool(d.Name), nil
	case len(d.Enum) > 0:
		seen := make(map[string]struct{}, len(d.Enum))
		for _, v := range d.Enum {
			if _, dup := seen[v]; dup {
				return nil, fmt.Errorf("attribute %s: duplicate value %q", d.Name, v)
			}
			seen[v] = struct{}{}
		}
		return attribute.NewEnum(d.Name, d.Enum...), nil
	default:
		if d.Min == nil || d.Max == nil {
			return nil, fmt.Errorf("attribute %s: both min and max are required", d.Name)
		}
		if err := attribute.CheckRange(d.Name, *d.Min, *d.Max); err != nil {
			return nil, err
		}
		return attribute.NewIntRange(d.Name, *d.Min, *d.Max), nil
	}
}

// LoadDefinitions читает описания блоков из YAML
func LoadDefinitions(r io.Reader) (*Definitions, error) {
	var defs Definitions
	if err := yaml.NewDecoder(r).Decode(&defs); err != nil {
		return nil, fmt.Errorf("ошибка разбора описаний блоков: %w", err)
	}
	return &defs, nil
}

// LoadFile читает описания блоков из файла
func LoadFile(path string) (*Definitions, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	defs, err := LoadDefinitions(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

// Types строит типы блоков, проверяя описания
func (d *Definitions) Types() ([]*BlockType, error) {
	types := make([]*BlockType, 0, len(d.Blocks))
	seen := make(map[string]struct{}, len(d.Blocks))

	for _, bd := range d.Blocks {
		if bd.Tag == "" {
			return nil, fmt.Errorf("block #%d: missing tag", len(types))
		}
		if _, dup := seen[bd.Tag]; dup {
			return nil, fmt.Errorf("block %s: duplicate tag", bd.Tag)
		}
		seen[bd.Tag] = struct{}{}

		attrs := make(attribute.Tuple, 0, len(bd.Attributes))
		for _, ad := range bd.Attributes {
			a, err := ad.Build()
			if err != nil {
				return nil, fmt.Errorf("block %s: %w", bd.Tag, err)
			}
			if _, dup := attrs.Find(a.Name()); dup {
				return nil, fmt.Errorf("block %s: duplicate attribute %s", bd.Tag, a.Name())
			}
			attrs = append(attrs, a)
		}

		bt := &BlockType{Tag: bd.Tag, Attributes: attrs, Air: bd.Air}
		if len(bd.Default) > 0 {
			props := make(map[string]string, len(bd.Default))
			for k, v := range bd.Default {
				props[k] = fmt.Sprint(v)
			}
			values, err := attribute.ParseValues(attrs, props)
			if err != nil {
				return nil, fmt.Errorf("block %s: default: %w", bd.Tag, err)
			}
			bt.Default = values
		}
		types = append(types, bt)
	}
	return types, nil
}

// Build регистрирует все блоки в новом реестре и замораживает его.
// Ошибки в данных возвращаются до начала регистрации.
func (d *Definitions) Build() (*Registry, error) {
	return d.BuildWithLimit(MaxIDs)
}

// BuildWithLimit Build с ограничением на количество состояний
func (d *Definitions) BuildWithLimit(limit uint64) (*Registry, error) {
	types, err := d.Types()
	if err != nil {
		return nil, err
	}

	if limit == 0 || limit > MaxIDs {
		limit = MaxIDs
	}

	var total uint64
	for _, bt := range types {
		count := bt.StateCount()
		if count > limit-total {
			return nil, fmt.Errorf("block %s: %d states after %d exceed id limit %d", bt.Tag, count, total, limit)
		}
		total += count
	}

	reg := NewWithLimit(d.Version, limit)
	for _, bt := range types {
		reg.Register(bt)
	}
	reg.Freeze()
	return reg, nil
}
