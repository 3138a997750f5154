// Package metrics содержит Prometheus-метрики кодека секций и реестра блоков.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "blockcodec"

var (
	// SectionsDecoded успешно декодированные секции
	SectionsDecoded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sections_decoded_total",
		Help:      "Общее число успешно декодированных секций.",
	})

	// SectionsEncoded закодированные секции
	SectionsEncoded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sections_encoded_total",
		Help:      "Общее число закодированных секций.",
	})

	// SectionsDiscarded отброшенные из-за ошибок декодирования секции
	SectionsDiscarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sections_discarded_total",
		Help:      "Секции, отброшенные из-за ошибок декодирования.",
	}, []string{"reason"})

	// DecodeSeconds длительность декодирования одной секции
	DecodeSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "decode_seconds",
		Help:      "Длительность декодирования секции.",
		Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.005, 0.01, 0.05},
	})

	// PalettePromotions смены вида палитры при записи
	PalettePromotions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "palette_promotions_total",
		Help:      "Переходы контейнера между видами палитры.",
	}, []string{"from", "to"})

	// RegistryStates количество состояний в замороженном реестре версии
	RegistryStates = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registry_states",
		Help:      "Количество глобальных ID, назначенных реестром версии.",
	}, []string{"version"})

	// StoreOps операции хранилища секций
	StoreOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_operations_total",
		Help:      "Операции хранилища секций по типу и результату.",
	}, []string{"op", "result"})

	// CacheLookups обращения к кешу секций
	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Обращения к кешу секций (hit/miss).",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		SectionsDecoded,
		SectionsEncoded,
		SectionsDiscarded,
		DecodeSeconds,
		PalettePromotions,
		RegistryStates,
		StoreOps,
		CacheLookups,
	)
}
