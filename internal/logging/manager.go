package logging

import (
	"fmt"
	"os"
	"sort"
	"sync"
)

// Component имя подсистемы, под которым пишутся её логи и файл логов
type Component string

const (
	ComponentRegistry Component = "registry"
	ComponentCodec    Component = "codec"
	ComponentStorage  Component = "storage"
	ComponentCache    Component = "cache"
	ComponentEvents   Component = "events"
	ComponentAPI      Component = "api"
)

// LoggerManager держит по одному логгеру на компонент.
// Уровни консоли, заданные через Configure, применяются и к уже созданным,
// и к будущим логгерам компонента.
type LoggerManager struct {
	mu      sync.RWMutex
	loggers map[string]*Logger
	levels  map[string]LogLevel
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

// GetLoggerManager возвращает общий менеджер процесса
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = &LoggerManager{loggers: make(map[string]*Logger)}
	})
	return globalManager
}

// Configure задаёт уровни консоли по компонентам, например {"codec": "debug"}.
// Неизвестное имя уровня читается как INFO.
func (lm *LoggerManager) Configure(levels map[string]string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.levels = make(map[string]LogLevel, len(levels))
	for component, name := range levels {
		level := ParseLevel(name)
		lm.levels[component] = level
		if l, ok := lm.loggers[component]; ok {
			l.minConsoleLevel = level
		}
	}
}

// GetLogger возвращает логгер компонента, создавая его при первом обращении
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.RLock()
	l, ok := lm.loggers[component]
	lm.mu.RUnlock()
	if ok {
		return l, nil
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if l, ok := lm.loggers[component]; ok {
		return l, nil
	}

	l, err := NewLogger(component)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger for %s: %w", component, err)
	}
	if level, ok := lm.levels[component]; ok {
		l.minConsoleLevel = level
	}
	lm.loggers[component] = l
	return l, nil
}

// MustGetLogger как GetLogger, но без файла логов при ошибке:
// компонент пишет только в stderr и не регистрируется в менеджере.
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	l, err := lm.GetLogger(component)
	if err == nil {
		return l
	}
	fallback := NewWriterLogger(component, os.Stderr, currentConsoleLevel())
	fallback.Warn("Файл логов недоступен: %v", err)
	return fallback
}

// CloseAll закрывает файлы логов и забывает все логгеры
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var lastErr error
	for component, l := range lm.loggers {
		if err := l.Close(); err != nil {
			lastErr = fmt.Errorf("failed to close logger for %s: %w", component, err)
		}
	}
	lm.loggers = make(map[string]*Logger)
	return lastErr
}

// ListComponents возвращает имена компонентов с логгерами по алфавиту
func (lm *LoggerManager) ListComponents() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	components := make([]string, 0, len(lm.loggers))
	for component := range lm.loggers {
		components = append(components, component)
	}
	sort.Strings(components)
	return components
}

// SetLogLevel меняет уровни уже созданного логгера компонента
func (lm *LoggerManager) SetLogLevel(component string, consoleLevel, fileLevel LogLevel) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	l, ok := lm.loggers[component]
	if !ok {
		return fmt.Errorf("logger for component %s not found", component)
	}
	l.minConsoleLevel = consoleLevel
	l.minFileLevel = fileLevel
	return nil
}

// For возвращает логгер компонента из общего менеджера
func For(c Component) *Logger {
	return GetLoggerManager().MustGetLogger(string(c))
}
