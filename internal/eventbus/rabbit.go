package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrClosed = errors.New("eventbus: publisher closed")

// RabbitConfig selects where relayed triage events land.
//
// Every topic goes to Prefix_Queue unless it is listed in Dedicated, in which
// case it gets its own Prefix_<topic> queue (dots become underscores).
type RabbitConfig struct {
	URL       string
	Queue     string
	Prefix    string
	Dedicated []string
}

func (c RabbitConfig) withDefaults() RabbitConfig {
	if c.Queue == "" {
		c.Queue = "events"
	}
	if c.Prefix == "" {
		c.Prefix = "triage"
	}
	return c
}

// RabbitPublisher publishes JSON payloads to durable queues on the default
// exchange. Queues are declared lazily, once each.
type RabbitPublisher struct {
	cfg       RabbitConfig
	dedicated map[string]bool
	log       *slog.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool
	closed   bool
}

func NewRabbitPublisher(cfg RabbitConfig, log *slog.Logger) (*RabbitPublisher, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("eventbus: rabbitmq url is required")
	}
	if log == nil {
		log = slog.Default()
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("eventbus: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("eventbus: open channel: %w", err)
	}
	p := newRabbitPublisher(cfg, log)
	p.conn, p.ch = conn, ch
	log.Info("rabbitmq publisher ready", "prefix", cfg.Prefix, "queue", cfg.Queue)
	return p, nil
}

func newRabbitPublisher(cfg RabbitConfig, log *slog.Logger) *RabbitPublisher {
	dedicated := make(map[string]bool, len(cfg.Dedicated))
	for _, t := range cfg.Dedicated {
		if t = strings.TrimSpace(t); t != "" {
			dedicated[t] = true
		}
	}
	return &RabbitPublisher{cfg: cfg, dedicated: dedicated, log: log, declared: map[string]bool{}}
}

// QueueFor names the queue a topic is routed to.
func (p *RabbitPublisher) QueueFor(topic string) string {
	if p.dedicated[topic] {
		return p.cfg.Prefix + "_" + strings.ReplaceAll(strings.ToLower(topic), ".", "_")
	}
	return p.cfg.Prefix + "_" + p.cfg.Queue
}

func (p *RabbitPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	queue := p.QueueFor(topic)

	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.ch == nil {
		return ErrClosed
	}
	if !p.declared[queue] {
		if _, err := p.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("eventbus: declare %s: %w", queue, err)
		}
		p.declared[queue] = true
	}
	err := p.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         topic,
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("eventbus: publish %s: %w", topic, err)
	}
	p.log.Debug("event published", "topic", topic, "queue", queue)
	return nil
}

func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
