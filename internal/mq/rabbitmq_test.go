package mq

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/authserver/config"
)

func TestHeadersToAttributes(t *testing.T) {
	assert.Nil(t, headersToAttributes(nil))

	attrs := headersToAttributes(amqp.Table{
		"kind":    "password-reset",
		"raw":     []byte("bytes"),
		"attempt": int32(2),
	})
	assert.Equal(t, map[string]string{
		"kind":    "password-reset",
		"raw":     "bytes",
		"attempt": "2",
	}, attrs)
}

func TestNewMessageID_IsUniqueHex(t *testing.T) {
	first := newMessageID()
	second := newMessageID()
	assert.Len(t, first, 32)
	assert.NotEqual(t, first, second)
}

func TestOpen_RejectsUnknownKind(t *testing.T) {
	_, err := Open(context.Background(), "kafka", config.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka")
}

func TestNewRabbitMQClient_RequiresURL(t *testing.T) {
	_, err := NewRabbitMQClient(config.RabbitMQConfig{URL: " "})
	require.Error(t, err)
}

func TestNewPubSubClient_RequiresProject(t *testing.T) {
	_, err := NewPubSubClient(context.Background(), config.PubSubConfig{})
	require.Error(t, err)
}
