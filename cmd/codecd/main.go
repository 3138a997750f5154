package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/blockcodec/internal/api"
	"github.com/annel0/blockcodec/internal/cache"
	"github.com/annel0/blockcodec/internal/config"
	"github.com/annel0/blockcodec/internal/convert"
	"github.com/annel0/blockcodec/internal/eventbus"
	"github.com/annel0/blockcodec/internal/layout"
	"github.com/annel0/blockcodec/internal/logging"
	"github.com/annel0/blockcodec/internal/observability"
	"github.com/annel0/blockcodec/internal/registry"
	"github.com/annel0/blockcodec/internal/section"
	"github.com/annel0/blockcodec/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию $CODEC_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Некорректная конфигурация: %v", err)
	}

	logging.SetLogDir(cfg.Logging.Dir)
	level := logging.ParseLevel(cfg.Logging.Level)
	logging.SetConsoleLevel(level)
	logging.GetLoggerManager().Configure(cfg.Logging.Components)
	if err := logging.InitDefaultLogger("codecd"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	logging.SetDefaultLevel(level)
	defer logging.CloseDefaultLogger()
	defer logging.GetLoggerManager().CloseAll()

	logging.Info("🧱 Запуск blockcodec, узел %s", cfg.Server.NodeID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === ТЕЛЕМЕТРИЯ ===
	if cfg.Telemetry.Enabled {
		shutdown, err := observability.InitTelemetry(ctx, observability.Options{
			ServiceName: "blockcodec",
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			logging.Warn("⚠️ Трассировка отключена: %v", err)
		} else {
			defer func() {
				sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer scancel()
				_ = shutdown(sctx)
			}()
			logging.Info("🔭 Трассировка OTLP включена")
		}
	}

	// === РЕЕСТРЫ ===
	registries, err := loadRegistries(cfg.Registry.Definitions)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки определений блоков: %v", err)
	}
	primary := registries[0]
	sectionLayout := section.ForRegistry(primary, cfg.Registry.BiomeBits)
	logging.Info("📚 Реестр %s: %d типов, %d состояний, глобальная палитра %d бит",
		primary.Version(), primary.Len(), primary.TotalStates(), sectionLayout.Blocks.GlobalBits)

	translators := buildTranslators(primary, registries[1:])

	// === РАСКЛАДКИ ID ===
	repo, closeRepo := openLayoutRepo(cfg.Layout)
	defer closeRepo()
	for _, reg := range registries {
		if err := layout.SaveRegistry(ctx, repo, reg); err != nil {
			logging.Error("❌ Не удалось сохранить раскладку %s: %v", reg.Version(), err)
		}
	}

	// === ШИНА СОБЫТИЙ ===
	bus := openEventBus(cfg.EventBus)
	defer bus.Close()
	eventbus.Init(bus)

	if _, err := eventbus.StartLoggingListener(bus); err != nil {
		logging.Warn("⚠️ Логирование событий недоступно: %v", err)
	}
	exporter := eventbus.NewMetricsExporter(bus, prometheus.DefaultRegisterer)
	exporter.Start(15 * time.Second)
	defer exporter.Stop()

	for _, reg := range registries {
		if err := eventbus.PublishRegistryFrozen(ctx, bus, cfg.Server.NodeID, reg); err != nil {
			logging.Warn("⚠️ Событие RegistryFrozen %s не отправлено: %v", reg.Version(), err)
		}
	}

	// === ХРАНИЛИЩЕ ===
	var store *storage.SectionStore
	if cfg.Storage.DataPath != "" {
		store, err = storage.NewSectionStore(cfg.Storage.DataPath, sectionLayout)
	} else {
		store, err = storage.NewInMemorySectionStore(sectionLayout)
	}
	if err != nil {
		log.Fatalf("❌ Ошибка открытия хранилища секций: %v", err)
	}
	defer store.Close()
	logging.Info("💾 Хранилище секций: %s", storagePath(cfg.Storage.DataPath))

	// === КЕШ ===
	var sectionCache *cache.SectionCache
	if cfg.Cache.Enabled {
		var closeCache func()
		sectionCache, closeCache = openCache(ctx, cfg, store, sectionLayout)
		defer closeCache()
	}

	// === HTTP API ===
	server, err := api.NewServer(api.Config{
		Port:        cfg.Server.GetHTTPPort(),
		NodeID:      cfg.Server.NodeID,
		Registry:    primary,
		Layout:      sectionLayout,
		Translators: translators,
		Store:       store,
		Cache:       sectionCache,
		Reporter: &eventbus.Reporter{
			Bus:     bus,
			Source:  cfg.Server.NodeID,
			Version: primary.Version().Name,
		},
		Workers:         cfg.Decode.Workers,
		MaxPayloadBytes: cfg.Decode.MaxPayloadBytes,
	})
	if err != nil {
		log.Fatalf("❌ Ошибка создания HTTP API: %v", err)
	}

	go func() {
		if err := server.Start(); err != nil {
			logging.Error("❌ HTTP API остановлен с ошибкой: %v", err)
			cancel()
		}
	}()

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   ❤️  Health check: http://localhost:%d/health", cfg.Server.GetHTTPPort())
	logging.Info("   📈 Метрики: http://localhost:%d/metrics", cfg.Server.GetHTTPPort())

	// Канал для получения сигналов ОС
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info("📡 Получен сигнал %v, завершение работы...", sig)
	case <-ctx.Done():
	}

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки HTTP API: %v", err)
	}
	cancel()

	logging.Info("👋 Сервер успешно остановлен")
}

// loadRegistries строит замороженные реестры по файлам определений.
// Первый файл задаёт основную версию узла.
func loadRegistries(paths []string) ([]*registry.Registry, error) {
	out := make([]*registry.Registry, 0, len(paths))
	for _, path := range paths {
		defs, err := registry.LoadFile(path)
		if err != nil {
			return nil, err
		}
		reg, err := defs.Build()
		if err != nil {
			return nil, err
		}
		logging.Debug("Загружен реестр %s из %s", reg.Version(), path)
		out = append(out, reg)
	}
	return out, nil
}

// buildTranslators собирает переводы из основной версии в остальные.
// Переводятся типы с одинаковой раскладкой свойств.
func buildTranslators(primary *registry.Registry, others []*registry.Registry) map[string]*convert.Translator {
	translators := make(map[string]*convert.Translator, len(others))
	for _, other := range others {
		bridge := convert.CommonBridge(primary, other)
		tr, err := convert.NewTranslator(primary, other, []*convert.Bridge{bridge})
		if err != nil {
			logging.Warn("⚠️ Перевод %s → %s недоступен: %v", primary.Version(), other.Version(), err)
			continue
		}
		translators[other.Version().Name] = tr
	}
	return translators
}

func openLayoutRepo(cfg config.LayoutConfig) (layout.Repo, func()) {
	if cfg.MariaDSN == "" {
		return layout.NewMemoryRepo(), func() {}
	}
	repo, err := layout.NewMariaRepo(cfg.MariaDSN)
	if err != nil {
		logging.Warn("⚠️ MariaDB недоступна, раскладки хранятся в памяти: %v", err)
		return layout.NewMemoryRepo(), func() {}
	}
	logging.Info("🗄️ Раскладки ID сохраняются в MariaDB")
	return repo, func() { _ = repo.Close() }
}

func openEventBus(cfg config.EventBusConfig) eventbus.EventBus {
	if cfg.URL == "" {
		return eventbus.NewMemoryBus(cfg.Buffer)
	}
	bus, err := eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, time.Duration(cfg.Retention)*time.Hour)
	if err != nil {
		logging.Warn("⚠️ JetStream недоступен, используется шина в памяти: %v", err)
		return eventbus.NewMemoryBus(cfg.Buffer)
	}
	logging.Info("📨 Шина событий: JetStream %s, поток %s", cfg.URL, cfg.Stream)
	return bus
}

// openCache подключает Redis поверх хранилища и, если задан NATS, межузловую инвалидацию.
// При недоступном Redis узел работает без кеша.
func openCache(ctx context.Context, cfg *config.Config, store *storage.SectionStore, l section.Layout) (*cache.SectionCache, func()) {
	var inv cache.CacheInvalidator
	if cfg.Cache.NATSURL != "" {
		natsInv, err := cache.NewNATSInvalidator(&cache.InvalidatorConfig{
			NATSURL: cfg.Cache.NATSURL,
			Subject: cfg.Cache.Subject,
		}, cfg.Server.NodeID)
		if err != nil {
			logging.Warn("⚠️ NATS инвалидация отключена: %v", err)
		} else {
			inv = natsInv
		}
	}

	hot, err := cache.NewRedisCache(&cache.CacheConfig{
		RedisURL:           cfg.Cache.RedisURL,
		DefaultTTL:         cfg.Cache.DefaultTTL,
		WriteBehindEnabled: true,
	}, cache.NewStoreColdStorage(store), inv)
	if err != nil {
		logging.Warn("⚠️ Redis недоступен, кеш секций отключён: %v", err)
		if inv != nil {
			_ = inv.Close()
		}
		return nil, func() {}
	}

	sc := cache.NewSectionCache(hot, l)
	if inv != nil {
		if err := sc.Follow(ctx, inv); err != nil {
			logging.Warn("⚠️ Подписка на инвалидацию не удалась: %v", err)
		}
	}
	logging.Info("⚡ Кеш секций: Redis %s", cfg.Cache.RedisURL)
	return sc, func() {
		// Write-behind сбрасывается в хранилище до его закрытия
		_ = sc.Close()
		if inv != nil {
			_ = inv.Close()
		}
	}
}

func storagePath(p string) string {
	if p == "" {
		return "в памяти"
	}
	return p
}
