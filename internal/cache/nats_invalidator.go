package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/blockcodec/internal/logging"
	"github.com/nats-io/nats.go"
)

// NATSInvalidator рассылает инвалидацию секций между узлами через NATS Pub/Sub.
// Собственные сообщения узла и повторы в пределах окна дедупликации игнорируются.
type NATSInvalidator struct {
	conn   *nats.Conn
	config *InvalidatorConfig
	nodeID string
	logger *logging.Logger

	subMu        sync.Mutex
	subscription *nats.Subscription
	handler      InvalidationHandler

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// ключ -> время последней обработки
	recentKeys map[string]time.Time
	keysMutex  sync.Mutex

	publishedCount int64
	receivedCount  int64
	errorsCount    int64
}

// InvalidatorConfig содержит конфигурацию для NATS invalidator.
type InvalidatorConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`

	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`

	DedupeWindow time.Duration `yaml:"dedupe_window"`
}

// InvalidationMessage представляет сообщение об инвалидации секции.
type InvalidationMessage struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
}

// NewNATSInvalidator создаёт новый NATS invalidator.
func NewNATSInvalidator(config *InvalidatorConfig, nodeID string) (*NATSInvalidator, error) {
	if config.Subject == "" {
		config.Subject = "blockcodec.sections.invalidate"
	}
	if config.MaxReconnects == 0 {
		config.MaxReconnects = 10
	}
	if config.ReconnectWait == 0 {
		config.ReconnectWait = 2 * time.Second
	}
	if config.DedupeWindow == 0 {
		config.DedupeWindow = 5 * time.Second
	}

	logger := logging.For(logging.ComponentCache)
	opts := []nats.Option{
		nats.Name("blockcodec-" + nodeID),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(config.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	n := &NATSInvalidator{
		conn:       conn,
		config:     config,
		nodeID:     nodeID,
		logger:     logger,
		stopCh:     make(chan struct{}),
		recentKeys: make(map[string]time.Time),
	}
	n.startDedupeCleanup()

	logger.Info("NATS invalidator initialized: %s (subject: %s)", config.NATSURL, config.Subject)
	return n, nil
}

// PublishInvalidation отправляет уведомление об инвалидации ключа.
func (n *NATSInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !n.markKey(key) {
		n.logger.Debug("Skipping duplicate invalidation for key: %s", key)
		return nil
	}

	data, err := json.Marshal(InvalidationMessage{Key: key, Timestamp: time.Now(), NodeID: n.nodeID})
	if err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		return fmt.Errorf("failed to marshal invalidation message: %w", err)
	}

	if err := n.conn.Publish(n.config.Subject, data); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}

	atomic.AddInt64(&n.publishedCount, 1)
	return nil
}

// SubscribeInvalidations подписывается на уведомления других узлов.
// Подписка снимается при отмене ctx или Close.
func (n *NATSInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	n.subMu.Lock()
	defer n.subMu.Unlock()

	if n.subscription != nil {
		return fmt.Errorf("already subscribed to invalidations")
	}

	n.handler = handler
	sub, err := n.conn.Subscribe(n.config.Subject, n.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to invalidations: %w", err)
	}
	n.subscription = sub

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		select {
		case <-ctx.Done():
		case <-n.stopCh:
		}
		n.unsubscribe()
	}()

	n.logger.Info("Subscribed to section invalidations on subject: %s", n.config.Subject)
	return nil
}

// Close закрывает соединение с NATS.
func (n *NATSInvalidator) Close() error {
	n.stopOnce.Do(func() { close(n.stopCh) })
	n.wg.Wait()
	n.conn.Close()
	n.logger.Info("NATS invalidator closed")
	return nil
}

// GetMetrics возвращает метрики invalidator.
func (n *NATSInvalidator) GetMetrics() map[string]interface{} {
	return map[string]interface{}{
		"published_count": atomic.LoadInt64(&n.publishedCount),
		"received_count":  atomic.LoadInt64(&n.receivedCount),
		"errors_count":    atomic.LoadInt64(&n.errorsCount),
		"connected":       n.conn.IsConnected(),
	}
}

func (n *NATSInvalidator) handleMessage(msg *nats.Msg) {
	atomic.AddInt64(&n.receivedCount, 1)

	var m InvalidationMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		n.logger.Error("Failed to unmarshal invalidation message: %v", err)
		return
	}
	if m.NodeID == n.nodeID || !n.markKey(m.Key) {
		return
	}

	if n.handler == nil {
		return
	}
	if err := n.handler(m.Key); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		n.logger.Error("Invalidation handler failed for key %s: %v", m.Key, err)
	}
}

func (n *NATSInvalidator) unsubscribe() {
	n.subMu.Lock()
	defer n.subMu.Unlock()

	if n.subscription == nil {
		return
	}
	if err := n.subscription.Unsubscribe(); err != nil {
		n.logger.Error("Failed to unsubscribe from invalidations: %v", err)
	}
	n.subscription = nil
}

// markKey отмечает ключ; false, если он уже встречался в окне дедупликации
func (n *NATSInvalidator) markKey(key string) bool {
	n.keysMutex.Lock()
	defer n.keysMutex.Unlock()

	if last, ok := n.recentKeys[key]; ok && time.Since(last) < n.config.DedupeWindow {
		return false
	}
	n.recentKeys[key] = time.Now()
	return true
}

func (n *NATSInvalidator) startDedupeCleanup() {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ticker := time.NewTicker(n.config.DedupeWindow)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				n.keysMutex.Lock()
				now := time.Now()
				for key, ts := range n.recentKeys {
					if now.Sub(ts) > n.config.DedupeWindow {
						delete(n.recentKeys, key)
					}
				}
				n.keysMutex.Unlock()
			case <-n.stopCh:
				return
			}
		}
	}()
}
