package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/originator/internal/job"
	"github.com/livinlefevreloca/originator/internal/testutil"
)

type published struct {
	exchange string
	key      string
	msg      amqp091.Publishing
}

type fakeBroker struct {
	mu         sync.Mutex
	exchanges  []string
	queues     []string
	bindings   []string
	published  []published
	purged     []string
	deleted    []string
	closed     bool
	deliveries chan amqp091.Delivery

	publishErr error
	purgeErr   error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{deliveries: make(chan amqp091.Delivery, 10)}
}

func (b *fakeBroker) ExchangeDeclare(name, _ string, _, _, _, _ bool, _ amqp091.Table) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exchanges = append(b.exchanges, name)
	return nil
}

func (b *fakeBroker) ExchangeDelete(name string, _, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, name)
	return nil
}

func (b *fakeBroker) QueueDeclare(name string, _, _, _, _ bool, _ amqp091.Table) (amqp091.Queue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues = append(b.queues, name)
	return amqp091.Queue{Name: name}, nil
}

func (b *fakeBroker) QueueBind(name, _, exchange string, _ bool, _ amqp091.Table) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindings = append(b.bindings, exchange+"->"+name)
	return nil
}

func (b *fakeBroker) QueuePurge(name string, _ bool) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.purgeErr != nil {
		return 0, b.purgeErr
	}
	b.purged = append(b.purged, name)
	return 2, nil
}

func (b *fakeBroker) QueueDelete(name string, _, _, _ bool) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, name)
	return 0, nil
}

func (b *fakeBroker) Consume(_, _ string, _, _, _, _ bool, _ amqp091.Table) (<-chan amqp091.Delivery, error) {
	return b.deliveries, nil
}

func (b *fakeBroker) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (b *fakeBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBroker) Published() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.published...)
}

type fakeConn struct{ closed bool }

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func newTestChannel(t *testing.T) (*Channel, *fakeBroker, *fakeConn) {
	t.Helper()
	b := newFakeBroker()
	conn := &fakeConn{}
	c := newChannel(b, conn, testutil.NewTestLogger().Logger())
	require.NoError(t, c.declare())
	return c, b, conn
}

func TestDeclare_Topology(t *testing.T) {
	c, b, _ := newTestChannel(t)

	assert.Equal(t, []string{JobsExchange, WorkerManagersExchange, c.ReplyExchange()}, b.exchanges)
	assert.Contains(t, b.queues, c.FileQueue())
	assert.Equal(t, []string{c.ReplyExchange() + "->" + c.replyQueue}, b.bindings)
	assert.True(t, strings.HasPrefix(c.FileQueue(), "originator.files."))
	assert.True(t, strings.HasPrefix(c.ReplyExchange(), "originator.reply."))
}

func TestChannels_HaveDistinctNames(t *testing.T) {
	a, _, _ := newTestChannel(t)
	b, _, _ := newTestChannel(t)
	assert.NotEqual(t, a.FileQueue(), b.FileQueue())
}

func TestPublishFiles(t *testing.T) {
	c, b, _ := newTestChannel(t)

	require.NoError(t, c.PublishFiles(context.Background(), []string{"a_spec.rb", "b_spec.rb"}))

	msgs := b.Published()
	require.Len(t, msgs, 2)
	assert.Equal(t, "", msgs[0].exchange)
	assert.Equal(t, c.FileQueue(), msgs[0].key)
	assert.Equal(t, "a_spec.rb", string(msgs[0].msg.Body))
	assert.Equal(t, "b_spec.rb", string(msgs[1].msg.Body))
}

func TestPublishFiles_Error(t *testing.T) {
	c, b, _ := newTestChannel(t)
	b.publishErr = errors.New("channel closed")

	err := c.PublishFiles(context.Background(), []string{"a_spec.rb"})
	assert.ErrorContains(t, err, "a_spec.rb")
}

func TestPublishJob(t *testing.T) {
	c, b, _ := newTestChannel(t)
	def := job.NewDefinition("run-1", map[string]any{"runner": "rspec"}, "rsync://files:43434/src", "")

	require.NoError(t, c.PublishJob(context.Background(), def))

	msgs := b.Published()
	require.Len(t, msgs, 1)
	assert.Equal(t, JobsExchange, msgs[0].exchange)
	assert.Equal(t, "application/json", msgs[0].msg.ContentType)

	var body map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].msg.Body, &body))
	assert.Equal(t, "rspec", body["runner"])
	assert.Equal(t, "rsync://files:43434/src", body[job.KeySourceTreePath])
	assert.Equal(t, c.FileQueue(), body[KeyFileQueueName])
	assert.Equal(t, c.ReplyExchange(), body[KeyReplyExchangeName])

	_, leaked := def.Fields()[KeyFileQueueName]
	assert.False(t, leaked, "definition must not be mutated")
}

func TestReceivePayloads(t *testing.T) {
	c, b, _ := newTestChannel(t)

	got := make(chan string, 2)
	require.NoError(t, c.ReceivePayloads(context.Background(), func(raw []byte) { got <- string(raw) }))

	b.deliveries <- amqp091.Delivery{Body: []byte(`{"action":"start"}`)}
	b.deliveries <- amqp091.Delivery{Body: []byte(`{"action":"finish"}`)}

	for _, want := range []string{`{"action":"start"}`, `{"action":"finish"}`} {
		select {
		case raw := <-got:
			assert.Equal(t, want, raw)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}
	close(b.deliveries)
}

func TestReceivePayloads_ConsumerStopReportsClose(t *testing.T) {
	c, b, _ := newTestChannel(t)
	closed := make(chan error, 1)
	c.onClosed = func(err error) { closed <- err }

	require.NoError(t, c.ReceivePayloads(context.Background(), func([]byte) {}))
	close(b.deliveries)

	select {
	case err := <-closed:
		assert.ErrorContains(t, err, "reply consumer")
	case <-time.After(time.Second):
		t.Fatal("close callback was not called")
	}
}

func TestReceivePayloads_ConsumerStopDuringDisconnectIsQuiet(t *testing.T) {
	c, b, _ := newTestChannel(t)
	closed := make(chan error, 1)
	c.onClosed = func(err error) { closed <- err }

	require.NoError(t, c.ReceivePayloads(context.Background(), func([]byte) {}))
	require.NoError(t, c.Disconnect(context.Background()))
	close(b.deliveries)

	select {
	case err := <-closed:
		t.Fatalf("unexpected close callback: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancel(t *testing.T) {
	c, b, _ := newTestChannel(t)

	require.NoError(t, c.Cancel(context.Background()))

	assert.Equal(t, []string{c.FileQueue()}, b.purged)
	msgs := b.Published()
	require.Len(t, msgs, 1)
	assert.Equal(t, WorkerManagersExchange, msgs[0].exchange)

	var body map[string]string
	require.NoError(t, json.Unmarshal(msgs[0].msg.Body, &body))
	assert.Equal(t, "cancel_job", body["type"])
	assert.Equal(t, c.ReplyExchange(), body[KeyReplyExchangeName])
}

func TestCancel_BroadcastsEvenWhenPurgeFails(t *testing.T) {
	c, b, _ := newTestChannel(t)
	b.purgeErr = errors.New("not found")

	err := c.Cancel(context.Background())
	assert.ErrorContains(t, err, "purging")
	assert.Len(t, b.Published(), 1)
}

func TestDisconnect(t *testing.T) {
	c, b, conn := newTestChannel(t)

	require.NoError(t, c.Disconnect(context.Background()))

	assert.ElementsMatch(t, []string{c.replyQueue, c.FileQueue(), c.ReplyExchange()}, b.deleted)
	assert.True(t, b.closed)
	assert.True(t, conn.closed)
}

func TestWatch(t *testing.T) {
	t.Run("broker error is reported", func(t *testing.T) {
		c, _, _ := newTestChannel(t)
		closes := make(chan *amqp091.Error, 1)
		closes <- &amqp091.Error{Code: 320, Reason: "CONNECTION_FORCED"}

		var got error
		c.watch(closes, func(err error) { got = err })
		assert.ErrorContains(t, got, "CONNECTION_FORCED")
	})

	t.Run("clean close reports nil", func(t *testing.T) {
		c, _, _ := newTestChannel(t)
		closes := make(chan *amqp091.Error)
		close(closes)

		called := false
		var got error
		c.watch(closes, func(err error) { called = true; got = err })
		assert.True(t, called)
		assert.NoError(t, got)
	})

	t.Run("error during requested disconnect reports nil", func(t *testing.T) {
		c, _, _ := newTestChannel(t)
		c.disconnecting.Store(true)
		closes := make(chan *amqp091.Error, 1)
		closes <- &amqp091.Error{Code: 320, Reason: "CONNECTION_FORCED"}

		var got error
		c.watch(closes, func(err error) { got = err })
		assert.NoError(t, got)
	})
}
