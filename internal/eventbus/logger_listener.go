package eventbus

import (
	"context"

	"github.com/annel0/blockcodec/internal/logging"
)

// StartLoggingListener подписывается на все события и пишет их в лог компонента events.
// Функция неблокирующая.
func StartLoggingListener(bus EventBus) (Subscription, error) {
	logger := logging.For(logging.ComponentEvents)
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		if ev.EventType == TypeSectionDiscarded {
			var d SectionDiscarded
			if err := DecodePayload(ev, &d); err == nil {
				logger.Warn("%s секция #%d версии %s отброшена (%s): %s", ev.ID, d.Index, d.Version, d.Reason, d.Error)
				return
			}
		}
		logger.Debug("%s %s src=%s prio=%d size=%dB", ev.ID, ev.EventType, ev.Source, ev.Priority, len(ev.Payload))
	})
	if err != nil {
		return nil, err
	}
	logger.Info("🪵 LoggingListener: подписка на все события активирована")
	return sub, nil
}
