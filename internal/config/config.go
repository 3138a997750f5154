package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации codecd.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Registry  RegistryConfig  `yaml:"registry"`
	Decode    DecodeConfig    `yaml:"decode"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Layout    LayoutConfig    `yaml:"layout"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	NodeID   string `yaml:"node_id"`
	HTTPPort int    `yaml:"http_port"`
}

// RegistryConfig описывает файлы определений блоков.
// Первый файл: основная версия узла.
type RegistryConfig struct {
	Definitions []string `yaml:"definitions"`
	// BiomeBits ширина глобального ID биома
	BiomeBits int `yaml:"biome_bits"`
}

type DecodeConfig struct {
	Workers int `yaml:"workers"`
	// MaxPayloadBytes ограничивает тело POST /section/decode
	MaxPayloadBytes int64 `yaml:"max_payload_bytes"`
}

type StorageConfig struct {
	// DataPath каталог BadgerDB; пусто: хранилище в памяти
	DataPath string `yaml:"data_path"`
}

type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	RedisURL   string        `yaml:"redis_url"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
	NATSURL    string        `yaml:"nats_url"`
	Subject    string        `yaml:"subject"`
}

type EventBusConfig struct {
	// URL NATS JetStream; пусто: шина в памяти
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	Buffer    int    `yaml:"buffer"`
}

type LayoutConfig struct {
	// MariaDSN строка подключения MariaDB; пусто: репозиторий в памяти
	MariaDSN string `yaml:"maria_dsn"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`

	// Components уровни консоли по компонентам, например codec: debug
	Components map[string]string `yaml:"components"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{NodeID: "codec-1"},
		Registry: RegistryConfig{BiomeBits: 6},
		Decode:   DecodeConfig{MaxPayloadBytes: 1 << 20},
		Cache:    CacheConfig{DefaultTTL: 5 * time.Minute},
		EventBus: EventBusConfig{Stream: "CODEC_EVENTS", Retention: 24, Buffer: 1024},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// GetHTTPPort возвращает порт HTTP API с поддержкой fallback значений
func (s *ServerConfig) GetHTTPPort() int {
	return getPortWithEnvFallback(s.HTTPPort, "CODEC_HTTP_PORT", 8089)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}
	return defaultPort
}

// Validate проверяет согласованность конфигурации
func (c *Config) Validate() error {
	if len(c.Registry.Definitions) == 0 {
		return fmt.Errorf("registry.definitions: не задано ни одного файла определений")
	}
	if c.Registry.BiomeBits < 4 || c.Registry.BiomeBits > 16 {
		return fmt.Errorf("registry.biome_bits: %d вне диапазона 4..16", c.Registry.BiomeBits)
	}
	if c.Decode.Workers < 0 {
		return fmt.Errorf("decode.workers: отрицательное значение %d", c.Decode.Workers)
	}
	if c.Cache.Enabled && c.Cache.RedisURL == "" {
		return fmt.Errorf("cache.redis_url обязателен при включённом кеше")
	}
	if r := c.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry.sample_ratio: %v вне диапазона 0..1", r)
	}
	return nil
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", пытается прочитать из ENV CODEC_CONFIG или возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("CODEC_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
	}
	return cfg, nil
}
