package eventbus

import (
	"context"
	"strconv"

	"github.com/annel0/blockcodec/internal/logging"
	"github.com/annel0/blockcodec/internal/section"
)

// Reporter публикует отброшенные секции в шину событий.
// Реализует section.Reporter.
type Reporter struct {
	Bus     EventBus
	Source  string
	Version string
	// CorrelationID связывает события одного пакета
	CorrelationID string
}

func (r *Reporter) ReportDiscarded(ctx context.Context, d section.Discarded) {
	payload := SectionDiscarded{
		Version: r.Version,
		Index:   d.Index,
		Reason:  string(d.Reason),
		Size:    len(d.Data),
	}
	if d.Err != nil {
		payload.Error = d.Err.Error()
	}

	ev, err := NewEnvelope(r.Source, TypeSectionDiscarded, 3, payload)
	if err != nil {
		logging.For(logging.ComponentCodec).Error("Не удалось собрать событие для секции #%d: %v", d.Index, err)
		return
	}
	ev.CorrelationID = r.CorrelationID
	ev.Metadata = map[string]string{"index": strconv.Itoa(d.Index)}

	if err := r.Bus.Publish(ctx, ev); err != nil {
		logging.For(logging.ComponentCodec).Warn("Событие об отброшенной секции #%d не опубликовано: %v", d.Index, err)
	}
}
