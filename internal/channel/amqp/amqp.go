// Package amqp implements channel.Channel on a RabbitMQ broker.
//
// Topology for one run:
//
//	originator.jobs             fanout, durable; job definitions for worker managers
//	originator.worker_managers  fanout, durable; control messages such as cancel_job
//	originator.reply.<uuid>     fanout, auto-delete; workers publish replies here
//	originator.reply.<uuid>     exclusive queue bound to the reply exchange
//	originator.files.<uuid>     auto-delete queue holding one message per file
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/livinlefevreloca/originator/internal/backoff"
	"github.com/livinlefevreloca/originator/internal/channel"
	"github.com/livinlefevreloca/originator/internal/job"
)

const (
	JobsExchange           = "originator.jobs"
	WorkerManagersExchange = "originator.worker_managers"

	replyPrefix = "originator.reply."
	filesPrefix = "originator.files."

	// Keys merged into the published job definition.
	KeyFileQueueName     = "file_queue_name"
	KeyReplyExchangeName = "reply_exchange_name"

	cancelJobType = "cancel_job"
)

// broker is the subset of *amqp091.Channel the channel uses.
type broker interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	ExchangeDelete(name string, ifUnused, noWait bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
	QueuePurge(name string, noWait bool) (int, error)
	QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Dialer connects to RabbitMQ, retrying with exponential backoff.
type Dialer struct {
	logger    *slog.Logger
	backoff   *backoff.Config
	heartbeat time.Duration
}

// NewDialer creates a dialer
func NewDialer(logger *slog.Logger) *Dialer {
	return &Dialer{
		logger:    logger,
		heartbeat: 10 * time.Second,
	}
}

// Connect implements channel.Dialer. connect_retries extra attempts are made
// after the first failure.
func (d *Dialer) Connect(ctx context.Context, info channel.ConnectionInfo, onClosed func(error)) (channel.Channel, error) {
	attempts := info.ConnectRetries + 1

	var conn *amqp091.Connection
	err := backoff.Retry(ctx, attempts, d.backoff, func(attempt int) error {
		var dialErr error
		conn, dialErr = amqp091.DialConfig(info.URI(), amqp091.Config{
			Heartbeat: d.heartbeat,
			Locale:    "en_US",
		})
		if dialErr != nil {
			d.logger.Warn("broker connection attempt failed",
				"broker", info.Redacted(),
				"attempt", attempt,
				"attempts", attempts,
				"error", dialErr)
		}
		return dialErr
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", info.Redacted(), err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	c := newChannel(ch, conn, d.logger)
	if err := c.declare(); err != nil {
		conn.Close()
		return nil, err
	}

	// A channel exception leaves the connection open, so both are watched.
	c.onClosed = onClosed
	go c.watch(conn.NotifyClose(make(chan *amqp091.Error, 1)), onClosed)
	go c.watch(ch.NotifyClose(make(chan *amqp091.Error, 1)), onClosed)

	d.logger.Info("connected to broker",
		"broker", info.Redacted(),
		"reply_exchange", c.replyExchange,
		"file_queue", c.fileQueue)
	return c, nil
}

// Channel is one run's view of the broker
type Channel struct {
	ch     broker
	conn   interface{ Close() error }
	logger *slog.Logger

	replyExchange string
	replyQueue    string
	fileQueue     string

	onClosed      func(error)
	disconnecting atomic.Bool
	closeOnce     sync.Once
}

func newChannel(ch broker, conn interface{ Close() error }, logger *slog.Logger) *Channel {
	id := uuid.NewString()
	return &Channel{
		ch:            ch,
		conn:          conn,
		logger:        logger,
		replyExchange: replyPrefix + id,
		replyQueue:    replyPrefix + id,
		fileQueue:     filesPrefix + id,
	}
}

// declare sets up the shared exchanges and the run's private resources.
func (c *Channel) declare() error {
	for _, name := range []string{JobsExchange, WorkerManagersExchange} {
		if err := c.ch.ExchangeDeclare(name, amqp091.ExchangeFanout, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declaring exchange %s: %w", name, err)
		}
	}

	if err := c.ch.ExchangeDeclare(c.replyExchange, amqp091.ExchangeFanout, false, true, false, false, nil); err != nil {
		return fmt.Errorf("declaring exchange %s: %w", c.replyExchange, err)
	}
	if _, err := c.ch.QueueDeclare(c.replyQueue, false, true, true, false, nil); err != nil {
		return fmt.Errorf("declaring queue %s: %w", c.replyQueue, err)
	}
	if err := c.ch.QueueBind(c.replyQueue, "", c.replyExchange, false, nil); err != nil {
		return fmt.Errorf("binding queue %s: %w", c.replyQueue, err)
	}
	if _, err := c.ch.QueueDeclare(c.fileQueue, false, true, false, false, nil); err != nil {
		return fmt.Errorf("declaring queue %s: %w", c.fileQueue, err)
	}
	return nil
}

func (c *Channel) watch(closes <-chan *amqp091.Error, onClosed func(error)) {
	amqpErr, ok := <-closes

	var err error
	if ok && amqpErr != nil && !c.disconnecting.Load() {
		err = amqpErr
	}
	c.notifyClosed(onClosed, err)
}

func (c *Channel) notifyClosed(onClosed func(error), err error) {
	if onClosed == nil {
		return
	}
	c.closeOnce.Do(func() { onClosed(err) })
}

// FileQueue returns the name of the run's file queue.
func (c *Channel) FileQueue() string { return c.fileQueue }

// ReplyExchange returns the name of the exchange workers reply to.
func (c *Channel) ReplyExchange() string { return c.replyExchange }

// PublishFiles implements channel.Channel
func (c *Channel) PublishFiles(ctx context.Context, files []string) error {
	for _, file := range files {
		err := c.ch.PublishWithContext(ctx, "", c.fileQueue, false, false, amqp091.Publishing{
			ContentType:  "text/plain",
			DeliveryMode: amqp091.Transient,
			Body:         []byte(file),
		})
		if err != nil {
			return fmt.Errorf("publishing file %s: %w", file, err)
		}
	}

	c.logger.Debug("published files", "count", len(files), "file_queue", c.fileQueue)
	return nil
}

// PublishJob implements channel.Channel
func (c *Channel) PublishJob(ctx context.Context, def *job.Definition) error {
	body, err := json.Marshal(def.With(map[string]any{
		KeyFileQueueName:     c.fileQueue,
		KeyReplyExchangeName: c.replyExchange,
	}))
	if err != nil {
		return fmt.Errorf("encoding job definition: %w", err)
	}

	if err := c.publishJSON(ctx, JobsExchange, body); err != nil {
		return fmt.Errorf("publishing job: %w", err)
	}

	c.logger.Debug("published job", "run_id", def.RunID(), "exchange", JobsExchange)
	return nil
}

// ReceivePayloads implements channel.Channel
func (c *Channel) ReceivePayloads(_ context.Context, handler func([]byte)) error {
	deliveries, err := c.ch.Consume(c.replyQueue, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consuming %s: %w", c.replyQueue, err)
	}

	go func() {
		for d := range deliveries {
			handler(d.Body)
		}
		if c.disconnecting.Load() {
			c.logger.Debug("reply consumer stopped", "queue", c.replyQueue)
			return
		}
		c.logger.Warn("reply consumer stopped unexpectedly", "queue", c.replyQueue)
		c.notifyClosed(c.onClosed, fmt.Errorf("reply consumer on %s stopped", c.replyQueue))
	}()
	return nil
}

// Cancel implements channel.Channel. Pending files are purged and worker
// managers are told to stop the job.
func (c *Channel) Cancel(ctx context.Context) error {
	var errs []error

	purged, err := c.ch.QueuePurge(c.fileQueue, false)
	if err != nil {
		errs = append(errs, fmt.Errorf("purging %s: %w", c.fileQueue, err))
	} else {
		c.logger.Info("purged pending files", "count", purged)
	}

	body, err := json.Marshal(map[string]string{
		"type":               cancelJobType,
		KeyReplyExchangeName: c.replyExchange,
	})
	if err == nil {
		err = c.publishJSON(ctx, WorkerManagersExchange, body)
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("broadcasting cancel: %w", err))
	}

	return errors.Join(errs...)
}

// Disconnect implements channel.Channel
func (c *Channel) Disconnect(_ context.Context) error {
	c.disconnecting.Store(true)

	var errs []error
	if _, err := c.ch.QueueDelete(c.replyQueue, false, false, false); err != nil {
		errs = append(errs, fmt.Errorf("deleting queue %s: %w", c.replyQueue, err))
	}
	if _, err := c.ch.QueueDelete(c.fileQueue, false, false, false); err != nil {
		errs = append(errs, fmt.Errorf("deleting queue %s: %w", c.fileQueue, err))
	}
	if err := c.ch.ExchangeDelete(c.replyExchange, false, false); err != nil {
		errs = append(errs, fmt.Errorf("deleting exchange %s: %w", c.replyExchange, err))
	}
	if err := c.ch.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
		errs = append(errs, err)
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
		errs = append(errs, err)
	}

	c.logger.Debug("disconnected from broker")
	return errors.Join(errs...)
}

func (c *Channel) publishJSON(ctx context.Context, exchange string, body []byte) error {
	return c.ch.PublishWithContext(ctx, exchange, "", false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Transient,
		Timestamp:    time.Now(),
		Body:         body,
	})
}
