package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/blockcodec/internal/registry"
	"github.com/google/uuid"
)

// ErrBusClosed возвращается при публикации в закрытую шину
var ErrBusClosed = errors.New("eventbus: шина закрыта")

// Типы событий кодека
const (
	TypeSectionDiscarded = "SectionDiscarded"
	TypeRegistryFrozen   = "RegistryFrozen"
)

// SectionDiscarded секция отброшена при пакетном декодировании
type SectionDiscarded struct {
	Version string `json:"version"`
	Index   int    `json:"index"`
	Reason  string `json:"reason"`
	Error   string `json:"error"`
	Size    int    `json:"size"`
}

// RegistryFrozen реестр версии заморожен и готов к чтению
type RegistryFrozen struct {
	Version    registry.Version `json:"version"`
	Types      int              `json:"types"`
	States     uint32           `json:"states"`
	GlobalBits int              `json:"global_bits"`
}

// NewEnvelope упаковывает полезную нагрузку в JSON-конверт с новым UUID.
func NewEnvelope(source, eventType string, priority int, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("eventbus: сериализация %s: %w", eventType, err)
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Version:   1,
		Priority:  priority,
		Payload:   data,
	}, nil
}

// DecodePayload разбирает полезную нагрузку конверта в v
func DecodePayload(ev *Envelope, v interface{}) error {
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		return fmt.Errorf("eventbus: разбор %s %s: %w", ev.EventType, ev.ID, err)
	}
	return nil
}

// PublishRegistryFrozen публикует событие о замороженном реестре.
func PublishRegistryFrozen(ctx context.Context, bus EventBus, source string, reg *registry.Registry) error {
	ev, err := NewEnvelope(source, TypeRegistryFrozen, 7, RegistryFrozen{
		Version:    reg.Version(),
		Types:      reg.Len(),
		States:     reg.TotalStates(),
		GlobalBits: reg.GlobalBits(),
	})
	if err != nil {
		return err
	}
	return bus.Publish(ctx, ev)
}
