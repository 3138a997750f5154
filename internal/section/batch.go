package section

import (
	"context"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/annel0/blockcodec/internal/logging"
	"github.com/annel0/blockcodec/internal/metrics"
	"github.com/annel0/blockcodec/internal/palette"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/annel0/blockcodec/internal/section")

// Discarded описывает секцию, отброшенную из-за ошибки декодирования
type Discarded struct {
	Index  int
	Reason palette.Reason
	Err    error
	Data   []byte
}

// Reporter получает сведения об отброшенных секциях
type Reporter interface {
	ReportDiscarded(ctx context.Context, d Discarded)
}

// ReporterFunc адаптирует функцию к Reporter
type ReporterFunc func(ctx context.Context, d Discarded)

func (f ReporterFunc) ReportDiscarded(ctx context.Context, d Discarded) { f(ctx, d) }

// LogReporter пишет отброшенные секции в лог кодека
type LogReporter struct{}

func (LogReporter) ReportDiscarded(_ context.Context, d Discarded) {
	logging.For(logging.ComponentCodec).LogDecodeError("section #"+strconv.Itoa(d.Index), d.Err, d.Data)
}

// BatchOptions настраивает DecodeBatch
type BatchOptions struct {
	Layout Layout
	// Workers ограничивает число одновременных декодеров; 0: GOMAXPROCS
	Workers int
	// Reporter получает отброшенные секции; nil: только метрики
	Reporter Reporter
}

// BatchResult итог пакетного декодирования.
// Sections[i] равен nil для отброшенной секции i.
type BatchResult struct {
	Sections  []*Section
	Discarded []Discarded
}

// Decoded возвращает количество успешно декодированных секций
func (r *BatchResult) Decoded() int {
	return len(r.Sections) - len(r.Discarded)
}

// DecodeBatch декодирует независимые полезные нагрузки секций параллельно.
// Некорректная секция отбрасывается и передаётся Reporter, остальные
// декодируются дальше. Ошибка возвращается только при отмене ctx.
func DecodeBatch(ctx context.Context, payloads [][]byte, opts BatchOptions) (*BatchResult, error) {
	ctx, span := tracer.Start(ctx, "section.DecodeBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("sections", len(payloads)))

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	res := &BatchResult{Sections: make([]*Section, len(payloads))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, data := range payloads {
		i, data := i, data
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			start := time.Now()
			s, err := Unmarshal(opts.Layout, data)
			metrics.DecodeSeconds.Observe(time.Since(start).Seconds())
			if err == nil {
				res.Sections[i] = s
				return nil
			}

			d := Discarded{Index: i, Reason: palette.ReasonOf(err), Err: err, Data: data}
			metrics.SectionsDiscarded.WithLabelValues(string(d.Reason)).Inc()
			mu.Lock()
			res.Discarded = append(res.Discarded, d)
			mu.Unlock()
			if opts.Reporter != nil {
				opts.Reporter.ReportDiscarded(gctx, d)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(res.Discarded, func(i, j int) bool { return res.Discarded[i].Index < res.Discarded[j].Index })
	span.SetAttributes(attribute.Int("discarded", len(res.Discarded)))
	return res, nil
}
