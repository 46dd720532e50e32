package broker

import (
	"errors"
	"fmt"

	streamamqp "github.com/rabbitmq/rabbitmq-stream-go-client/pkg/amqp"
	"github.com/rabbitmq/rabbitmq-stream-go-client/pkg/stream"
)

// Journal appends published message events to a RabbitMQ stream. It is
// written to after the send transaction commits and consumed by offline
// workers; it is never part of the transaction itself.
type Journal struct {
	producer *stream.Producer
}

func NewJournal(c *Client, name string) (*Journal, error) {
	err := c.streams.DeclareStream(name,
		stream.NewStreamOptions().SetMaxLengthBytes(stream.ByteCapacity{}.GB(1)))
	if err != nil && !errors.Is(err, stream.StreamAlreadyExists) {
		return nil, fmt.Errorf("failed to declare journal stream: %w", err)
	}

	producer, err := c.streams.NewProducer(name, stream.NewProducerOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create journal producer: %w", err)
	}
	return &Journal{producer: producer}, nil
}

func (j *Journal) Append(payload []byte) error {
	if err := j.producer.Send(streamamqp.NewMessage(payload)); err != nil {
		return fmt.Errorf("failed to append to journal: %w", err)
	}
	return nil
}

func (j *Journal) Close() error {
	return j.producer.Close()
}

// TailJournal consumes journal entries from the tip of the stream, feeding
// each payload to handler. Close the returned consumer to stop.
func (c *Client) TailJournal(name string, handler func([]byte)) (*stream.Consumer, error) {
	consumer, err := c.streams.NewConsumer(name,
		func(_ stream.ConsumerContext, msg *streamamqp.Message) {
			handler(msg.GetData())
		},
		stream.NewConsumerOptions().SetOffset(stream.OffsetSpecification{}.Last()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start journal consumer: %w", err)
	}
	return consumer, nil
}
