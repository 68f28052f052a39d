// Package amqp consumes scrape jobs from a RabbitMQ queue. Each delivery is
// processed to completion before the next is taken, and is acknowledged only
// after its job succeeds.
package amqp

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/JakeFAU/mangalib-parser/internal/manga"
	"github.com/JakeFAU/mangalib-parser/internal/metrics"
)

// ErrDeliveriesClosed is returned when the broker stops sending deliveries,
// usually because the connection or channel was closed.
var ErrDeliveriesClosed = errors.New("amqp delivery channel closed")

// Delivery decisions, also used as metric labels.
const (
	decisionAcked    = "acked"
	decisionNacked   = "nacked"
	decisionRejected = "rejected"
)

// Topology names the broker objects the consumer declares and binds.
type Topology struct {
	Exchange     string
	ExchangeKind string
	Queue        string
	RoutingKey   string
	ConsumerTag  string
	Durable      bool
	Prefetch     int
}

// DefaultTopology returns the names producers publish to.
func DefaultTopology() Topology {
	return Topology{
		Exchange:     "manga_urls_exchange",
		ExchangeKind: amqp.ExchangeDirect,
		Queue:        "manga_urls_queue",
		RoutingKey:   "",
		ConsumerTag:  "manga_urls_consumer",
		Prefetch:     1,
	}
}

// Channel is the subset of *amqp.Channel used to set up consumption.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// Processor runs one job to completion.
type Processor interface {
	Process(ctx context.Context, concurrencyLimit int, req manga.JobRequest) error
}

// Consumer turns deliveries into jobs.
type Consumer struct {
	processor   Processor
	concurrency int
	topology    Topology
	logger      *zap.Logger
}

// NewConsumer constructs a Consumer. concurrency is the per-job browser
// session limit handed to the processor.
func NewConsumer(processor Processor, concurrency int, topology Topology, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if topology.Prefetch < 1 {
		topology.Prefetch = 1
	}
	return &Consumer{
		processor:   processor,
		concurrency: concurrency,
		topology:    topology,
		logger:      logger,
	}
}

// Run dials the broker, declares the topology and serves deliveries until ctx
// ends or the connection drops.
func (c *Consumer) Run(ctx context.Context, url string) error {
	if url == "" {
		return &manga.JobError{Kind: manga.KindConfig, Err: errors.New("amqp url is not set")}
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return &manga.JobError{Kind: manga.KindBroker, Err: fmt.Errorf("dial: %w", err)}
	}
	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Warn("amqp connection close failed", zap.Error(err))
		}
	}()

	ch, err := conn.Channel()
	if err != nil {
		return &manga.JobError{Kind: manga.KindBroker, Err: fmt.Errorf("open channel: %w", err)}
	}
	defer func() {
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Warn("amqp channel close failed", zap.Error(err))
		}
	}()

	deliveries, err := Declare(ch, c.topology)
	if err != nil {
		return err
	}
	c.logger.Info("waiting for messages",
		zap.String("exchange", c.topology.Exchange),
		zap.String("queue", c.topology.Queue),
		zap.Int("concurrency", c.concurrency),
	)
	return c.Serve(ctx, deliveries)
}

// Declare creates the exchange and queue, binds them, limits unacknowledged
// deliveries to the prefetch count and starts a manual-ack consumer.
func Declare(ch Channel, topo Topology) (<-chan amqp.Delivery, error) {
	brokerErr := func(step string, err error) error {
		return &manga.JobError{Kind: manga.KindBroker, Err: fmt.Errorf("%s: %w", step, err)}
	}
	if err := ch.ExchangeDeclare(topo.Exchange, topo.ExchangeKind, topo.Durable, false, false, false, nil); err != nil {
		return nil, brokerErr("declare exchange "+topo.Exchange, err)
	}
	if _, err := ch.QueueDeclare(topo.Queue, topo.Durable, false, false, false, nil); err != nil {
		return nil, brokerErr("declare queue "+topo.Queue, err)
	}
	if err := ch.QueueBind(topo.Queue, topo.RoutingKey, topo.Exchange, false, nil); err != nil {
		return nil, brokerErr("bind queue", err)
	}
	if err := ch.Qos(topo.Prefetch, 0, false); err != nil {
		return nil, brokerErr("set prefetch", err)
	}
	deliveries, err := ch.Consume(topo.Queue, topo.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, brokerErr("consume", err)
	}
	return deliveries, nil
}

// Serve handles deliveries one at a time. It returns nil when ctx ends and an
// error when the delivery channel closes or an ack cannot be sent.
func (c *Consumer) Serve(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return &manga.JobError{Kind: manga.KindBroker, Err: ErrDeliveriesClosed}
			}
			if err := c.handle(ctx, d); err != nil {
				return err
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) error {
	logger := c.logger.With(zap.Uint64("delivery_tag", d.DeliveryTag))

	req, err := manga.DecodeJobRequest(d.Body)
	if err != nil {
		logger.Error("discarding undecodable message", zap.Error(err), zap.Int("bytes", len(d.Body)))
		return c.settle(d, decisionRejected)
	}

	logger = logger.With(zap.String("slug", req.Slug))
	logger.Info("received message")
	if err := c.processor.Process(ctx, c.concurrency, req); err != nil {
		if ctx.Err() != nil {
			// Left unsettled; the broker redelivers it once the channel closes.
			logger.Warn("job interrupted by shutdown", zap.Error(err))
			return nil
		}
		logger.Error("job failed, message dropped", zap.Error(err))
		return c.settle(d, decisionNacked)
	}
	return c.settle(d, decisionAcked)
}

func (c *Consumer) settle(d amqp.Delivery, decision string) error {
	var err error
	switch decision {
	case decisionAcked:
		err = d.Ack(false)
	default:
		err = d.Nack(false, false)
	}
	if err != nil {
		return &manga.JobError{
			Kind: manga.KindBroker,
			Err:  fmt.Errorf("settle delivery %d as %s: %w", d.DeliveryTag, decision, err),
		}
	}
	metrics.ObserveDelivery(decision)
	return nil
}
