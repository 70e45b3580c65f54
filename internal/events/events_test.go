package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingChannel struct {
	exchange string
	key      string
	msgs     []amqp.Publishing
	err      error
	closed   bool
}

func (c *recordingChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.exchange, c.key = exchange, key
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *recordingChannel) Close() error {
	c.closed = true
	return nil
}

func TestAMQPPublisher_Publish(t *testing.T) {
	ch := &recordingChannel{}
	p := newAMQPPublisherWithChannel(ch, DefaultExchange)

	evt := New(CredentialStored, "u1")
	require.NoError(t, p.Publish(context.Background(), evt))

	assert.Equal(t, DefaultExchange, ch.exchange)
	assert.Equal(t, CredentialStored, ch.key)
	require.Len(t, ch.msgs, 1)
	assert.Equal(t, evt.ID, ch.msgs[0].MessageId)
	assert.Equal(t, "application/json", ch.msgs[0].ContentType)

	var decoded Event
	require.NoError(t, json.Unmarshal(ch.msgs[0].Body, &decoded))
	assert.Equal(t, "u1", decoded.UserID)
	assert.Equal(t, CredentialStored, decoded.Type)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestEmit_SwallowsErrors(t *testing.T) {
	ch := &recordingChannel{err: errors.New("channel closed")}
	p := newAMQPPublisherWithChannel(ch, DefaultExchange)

	assert.NotPanics(t, func() {
		Emit(context.Background(), p, New(SessionCreated, "u1"))
		Emit(context.Background(), nil, New(SessionCreated, "u1"))
	})
	assert.Empty(t, ch.msgs)
}

func TestNewPublisherFromEnv_DefaultsToNop(t *testing.T) {
	t.Setenv("AMQP_URL", "")
	p, err := NewPublisherFromEnv()
	require.NoError(t, err)
	assert.IsType(t, NopPublisher{}, p)
	assert.NoError(t, p.Publish(context.Background(), New(SessionCreated, "u1")))
}

func TestNew(t *testing.T) {
	a := New(MagicLinkIssued, "u1")
	b := New(MagicLinkIssued, "u1")
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.At.IsZero())
}
