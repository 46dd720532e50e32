// Package broker is the fan-out layer between the dispatcher and live
// connections: a RabbitMQ topic exchange with one routing key per logical
// channel, plus an append-only stream journal for offline consumers.
// Delivery is best-effort; the store remains the source of truth.
package broker

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rabbitmq/rabbitmq-stream-go-client/pkg/stream"
)

const Exchange = "parley.topic"

// Logical channels. Every server process subscribes to both and fans events
// out to its local connections.
const (
	ChannelChatMessages   = "chat-messages"
	ChannelFriendRequests = "friend-requests"
)

type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	streams *stream.Environment
}

func New(amqpURL, streamURL string) (*Client, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		Exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	streams, err := stream.NewEnvironment(stream.NewEnvironmentOptions().SetUri(streamURL))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to stream endpoint: %w", err)
	}

	return &Client{
		conn:    conn,
		channel: ch,
		streams: streams,
	}, nil
}

func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.channel.PublishWithContext(ctx,
		Exchange, // exchange
		channel,  // routing key
		false,    // mandatory
		false,    // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        payload,
		},
	)
}

// Subscribe binds a per-process, auto-deleted queue to the logical channel
// and feeds every delivery to handler on a dedicated goroutine. The returned
// cancel stops the consumer; the queue cleans itself up.
func (c *Client) Subscribe(channel string, handler func([]byte)) (func(), error) {
	q, err := c.channel.QueueDeclare(
		"",    // name (auto-generated)
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare subscriber queue: %w", err)
	}

	if err := c.channel.QueueBind(q.Name, channel, Exchange, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind subscriber queue: %w", err)
	}

	tag := fmt.Sprintf("%s-%s", channel, uuid.NewString())
	msgs, err := c.channel.Consume(
		q.Name, // queue
		tag,    // consumer tag
		true,   // auto-ack (live-view layer, misses recovered via history fetch)
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for d := range msgs {
			handler(d.Body)
		}
	}()

	cancel := func() {
		_ = c.channel.Cancel(tag, false)
	}
	return cancel, nil
}

func (c *Client) Close() {
	if c.streams != nil {
		_ = c.streams.Close()
	}
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
