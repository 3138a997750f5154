package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/annel0/blockcodec/internal/logging"
	"github.com/annel0/blockcodec/internal/metrics"
	"github.com/annel0/blockcodec/internal/section"
	"github.com/dgraph-io/badger/v3"
	"github.com/klauspost/compress/zstd"
)

// ErrNotReady хранилище закрыто или не открыто
var ErrNotReady = errors.New("хранилище не готово")

// SectionKey идентифицирует секцию: версия формата и координаты секции
type SectionKey struct {
	Version string
	X, Y, Z int32
}

// String возвращает ключ вида section:<version>:<x>:<y>:<z>
func (k SectionKey) String() string {
	return fmt.Sprintf("section:%s:%d:%d:%d", k.Version, k.X, k.Y, k.Z)
}

func versionPrefix(version string) string {
	return "section:" + version + ":"
}

// ParseSectionKey разбирает ключ, созданный SectionKey.String
func ParseSectionKey(s string) (SectionKey, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 5 || parts[0] != "section" {
		return SectionKey{}, fmt.Errorf("некорректный ключ секции %q", s)
	}
	// версия может содержать двоеточия, координаты: последние три части
	n := len(parts)
	var coords [3]int32
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseInt(parts[n-3+i], 10, 32)
		if err != nil {
			return SectionKey{}, fmt.Errorf("некорректный ключ секции %q: %w", s, err)
		}
		coords[i] = int32(v)
	}
	return SectionKey{
		Version: strings.Join(parts[1:n-3], ":"),
		X:       coords[0],
		Y:       coords[1],
		Z:       coords[2],
	}, nil
}

// SectionStore хранит закодированные секции в BadgerDB.
// Значение: секция в сетевом формате, сжатая zstd.
type SectionStore struct {
	db      *badger.DB
	dbPath  string
	layout  section.Layout
	mutex   sync.RWMutex
	isReady bool

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewSectionStore открывает хранилище в каталоге dataPath/sections
func NewSectionStore(dataPath string, layout section.Layout) (*SectionStore, error) {
	dbPath := filepath.Join(dataPath, "sections")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB
	return openSectionStore(opts, dbPath, layout)
}

// NewInMemorySectionStore создаёт хранилище без диска (для тестов и инструментов)
func NewInMemorySectionStore(layout section.Layout) (*SectionStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return openSectionStore(opts, "", layout)
}

func openSectionStore(opts badger.Options, dbPath string, layout section.Layout) (*SectionStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		enc.Close()
		return nil, fmt.Errorf("не удалось создать zstd decoder: %w", err)
	}

	logging.For(logging.ComponentStorage).Info("💾 Хранилище секций открыто (%s)", dbPathOrMemory(dbPath))
	return &SectionStore{
		db:      db,
		dbPath:  dbPath,
		layout:  layout,
		isReady: true,
		enc:     enc,
		dec:     dec,
	}, nil
}

func dbPathOrMemory(p string) string {
	if p == "" {
		return "in-memory"
	}
	return p
}

// Layout возвращает раскладку, с которой декодируются секции
func (s *SectionStore) Layout() section.Layout {
	return s.layout
}

// Close закрывает хранилище
func (s *SectionStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isReady {
		return nil
	}

	s.isReady = false
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}

// SaveRaw сохраняет уже закодированную секцию
func (s *SectionStore) SaveRaw(ctx context.Context, key SectionKey, encoded []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return ErrNotReady
	}

	data := s.enc.EncodeAll(encoded, nil)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key.String()), data)
	})
	if err != nil {
		metrics.StoreOps.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("ошибка сохранения секции %s в BadgerDB: %w", key, err)
	}
	metrics.StoreOps.WithLabelValues("save", "ok").Inc()
	return nil
}

// Save кодирует и сохраняет секцию
func (s *SectionStore) Save(ctx context.Context, key SectionKey, sec *section.Section) error {
	encoded, err := section.Marshal(sec)
	if err != nil {
		return fmt.Errorf("ошибка кодирования секции %s: %w", key, err)
	}
	return s.SaveRaw(ctx, key, encoded)
}

// LoadRaw возвращает закодированную секцию; false: секция не сохранялась
func (s *SectionStore) LoadRaw(ctx context.Context, key SectionKey) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return nil, false, ErrNotReady
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key.String()))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data, err = s.dec.DecodeAll(val, nil)
			return err
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		metrics.StoreOps.WithLabelValues("load", "miss").Inc()
		return nil, false, nil
	}
	if err != nil {
		metrics.StoreOps.WithLabelValues("load", "error").Inc()
		return nil, false, fmt.Errorf("ошибка чтения секции %s из BadgerDB: %w", key, err)
	}
	metrics.StoreOps.WithLabelValues("load", "ok").Inc()
	return data, true, nil
}

// Load читает и декодирует секцию
func (s *SectionStore) Load(ctx context.Context, key SectionKey) (*section.Section, bool, error) {
	data, ok, err := s.LoadRaw(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	sec, err := section.Unmarshal(s.layout, data)
	if err != nil {
		logging.For(logging.ComponentStorage).LogDecodeError(key.String(), err, data)
		return nil, false, fmt.Errorf("повреждённая секция %s: %w", key, err)
	}
	return sec, true, nil
}

// Delete удаляет секцию
func (s *SectionStore) Delete(ctx context.Context, key SectionKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return ErrNotReady
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key.String()))
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления секции %s: %w", key, err)
	}
	metrics.StoreOps.WithLabelValues("delete", "ok").Inc()
	return nil
}

// Keys перечисляет сохранённые секции версии
func (s *SectionStore) Keys(ctx context.Context, version string) ([]SectionKey, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return nil, ErrNotReady
	}

	var keys []SectionKey
	prefix := []byte(versionPrefix(version))
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key, err := ParseSectionKey(string(it.Item().Key()))
			if err != nil {
				logging.For(logging.ComponentStorage).Warn("Пропущен ключ: %v", err)
				continue
			}
			if key.Version != version {
				continue
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка перечисления секций %s: %w", version, err)
	}
	return keys, nil
}
