package registry

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/annel0/blockcodec/internal/logging"
	"github.com/annel0/blockcodec/internal/metrics"
)

var (
	// ErrUnregisteredType тип с таким тегом не регистрировался
	ErrUnregisteredType = errors.New("registry: unregistered block type")
	// ErrUnregisteredID глобальный ID не принадлежит ни одному диапазону
	ErrUnregisteredID = errors.New("registry: unregistered global id")
)

// MaxIDs предельное количество состояний в реестре (ширина GlobalID)
const MaxIDs = math.MaxUint32

// RegistrationOverflowError сообщает об исчерпании пространства ID при регистрации.
// Возникает только при запуске и передаётся через panic.
type RegistrationOverflowError struct {
	Tag   string
	Count uint64
	Next  uint64
	Limit uint64
}

func (e *RegistrationOverflowError) Error() string {
	return fmt.Sprintf("registry: registering %s (%d states) at %d exceeds id limit %d", e.Tag, e.Count, e.Next, e.Limit)
}

type entry struct {
	typ *BlockType
	rng Range
}

// Registry хранит назначение диапазонов глобальных ID типам блоков одной версии.
//
// Регистрация выполняется однопоточно при запуске, затем вызывается Freeze,
// после чего чтение идёт без блокировок. До Freeze чтение и поздняя регистрация
// разделяются RWMutex.
type Registry struct {
	version Version
	limit   uint64

	mu      sync.RWMutex
	frozen  atomic.Bool
	starts  []GlobalID // начала диапазонов в порядке регистрации (отсортированы)
	entries []entry
	byTag   map[string]int
	next    uint64
}

// New создаёт пустой реестр для версии
func New(v Version) *Registry {
	return NewWithLimit(v, MaxIDs)
}

// NewWithLimit создаёт реестр с ограничением на общее количество состояний
func NewWithLimit(v Version, limit uint64) *Registry {
	if limit == 0 || limit > MaxIDs {
		limit = MaxIDs
	}
	return &Registry{
		version: v,
		limit:   limit,
		byTag:   make(map[string]int),
	}
}

// Version возвращает версию реестра
func (r *Registry) Version() Version {
	return r.version
}

func (r *Registry) rlock() func() {
	if r.frozen.Load() {
		return func() {}
	}
	r.mu.RLock()
	return r.mu.RUnlock
}

// Register назначает типу следующий свободный диапазон и возвращает его.
// Повторная регистрация тега, регистрация после Freeze, некорректный тип
// и переполнение пространства ID: ошибки программиста и приводят к panic.
func (r *Registry) Register(bt *BlockType) Range {
	if err := bt.validate(); err != nil {
		panic(fmt.Sprintf("registry: %v", err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		panic(fmt.Sprintf("registry: register %s after freeze", bt.Tag))
	}
	if _, dup := r.byTag[bt.Tag]; dup {
		panic(fmt.Sprintf("registry: duplicate block type %s", bt.Tag))
	}

	count := bt.StateCount()
	if count > r.limit || r.next+count > r.limit {
		panic(&RegistrationOverflowError{Tag: bt.Tag, Count: count, Next: r.next, Limit: r.limit})
	}

	rng := Range{Start: GlobalID(r.next), Count: uint32(count)}
	r.byTag[bt.Tag] = len(r.entries)
	r.entries = append(r.entries, entry{typ: bt, rng: rng})
	r.starts = append(r.starts, rng.Start)
	r.next += count
	return rng
}

// Freeze завершает фазу регистрации. Повторный вызов ничего не делает.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return
	}
	r.frozen.Store(true)

	metrics.RegistryStates.WithLabelValues(r.version.Name).Set(float64(r.next))
	logging.For(logging.ComponentRegistry).Info("Registry %s frozen: %d types, %d states", r.version, len(r.entries), r.next)
}

// Frozen сообщает, завершена ли регистрация
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// GetDefault находит тип, которому принадлежит ID, и смещение внутри его диапазона.
// Поиск двоичный по началам диапазонов.
func (r *Registry) GetDefault(id GlobalID) (*BlockType, RelativeState, bool) {
	defer r.rlock()()

	i := sort.Search(len(r.starts), func(i int) bool { return r.starts[i] > id }) - 1
	if i < 0 {
		return nil, 0, false
	}
	e := r.entries[i]
	if !e.rng.Contains(id) {
		return nil, 0, false
	}
	return e.typ, RelativeState(id - e.rng.Start), true
}

// GetGlobal возвращает глобальный ID для относительного состояния типа
func (r *Registry) GetGlobal(tag string, rel RelativeState) (GlobalID, bool) {
	defer r.rlock()()

	i, ok := r.byTag[tag]
	if !ok {
		return 0, false
	}
	rng := r.entries[i].rng
	if uint32(rel) >= rng.Count {
		return 0, false
	}
	return rng.Start + GlobalID(rel), true
}

// Lookup возвращает зарегистрированный тип и его диапазон
func (r *Registry) Lookup(tag string) (*BlockType, Range, bool) {
	defer r.rlock()()

	i, ok := r.byTag[tag]
	if !ok {
		return nil, Range{}, false
	}
	e := r.entries[i]
	return e.typ, e.rng, true
}

// DefaultGlobal возвращает глобальный ID состояния по умолчанию
func (r *Registry) DefaultGlobal(tag string) (GlobalID, bool) {
	bt, rng, ok := r.Lookup(tag)
	if !ok {
		return 0, false
	}
	return rng.Start + GlobalID(bt.DefaultState()), true
}

// IsAir сообщает, принадлежит ли ID типу, помеченному как воздух.
// Незарегистрированные ID воздухом не считаются.
func (r *Registry) IsAir(id GlobalID) bool {
	bt, _, ok := r.GetDefault(id)
	return ok && bt.Air
}

// Len возвращает количество зарегистрированных типов
func (r *Registry) Len() int {
	defer r.rlock()()
	return len(r.entries)
}

// TotalStates возвращает общее количество назначенных ID
func (r *Registry) TotalStates() uint32 {
	defer r.rlock()()
	return uint32(r.next)
}

// GlobalBits количество бит, достаточное для хранения любого ID реестра
func (r *Registry) GlobalBits() int {
	total := r.TotalStates()
	if total <= 1 {
		return 1
	}
	return bits.Len32(total - 1)
}

// Types возвращает зарегистрированные типы в порядке регистрации
func (r *Registry) Types() []*BlockType {
	defer r.rlock()()

	types := make([]*BlockType, len(r.entries))
	for i, e := range r.entries {
		types[i] = e.typ
	}
	return types
}

// Ranges возвращает раскладку реестра для сохранения и инспекции
func (r *Registry) Ranges() []RangeInfo {
	defer r.rlock()()

	infos := make([]RangeInfo, len(r.entries))
	for i, e := range r.entries {
		infos[i] = RangeInfo{Tag: e.typ.Tag, Start: e.rng.Start, Count: e.rng.Count}
	}
	return infos
}
