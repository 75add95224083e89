package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fogfactory/scatter"
	"github.com/segmentio/kafka-go"
)

// Writer is the part of *kafka.Writer used by the Publisher.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Message is the JSON value published for each result.
type Message struct {
	Key       string    `json:"key"`
	Pieces    int       `json:"pieces"`
	Bytes     int       `json:"bytes"`
	Missing   []int     `json:"missing,omitempty"`
	Error     string    `json:"error,omitempty"`
	Elapsed   string    `json:"elapsed"`
	Completed time.Time `json:"completed"`
}

// NewMessage summarizes result. err, when not nil, overrides the result error.
func NewMessage(result scatter.Result, err error) Message {
	if err == nil {
		err = result.Err
	}
	m := Message{
		Key:       result.Key,
		Pieces:    result.Pieces,
		Bytes:     len(result.Payload),
		Missing:   result.Missing,
		Elapsed:   result.Elapsed().String(),
		Completed: result.Completed,
	}
	if err != nil {
		m.Error = err.Error()
	}
	return m
}

// Publisher writes one message per result, keyed by the unit key.
type Publisher struct {
	writer Writer
}

// NewPublisher creates a publisher on topic.
func NewPublisher(brokers []string, topic string) *Publisher {
	return NewPublisherWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	})
}

// NewPublisherWithWriter creates a publisher over any Writer.
func NewPublisherWithWriter(writer Writer) *Publisher {
	return &Publisher{writer: writer}
}

// Publish writes the message of result.
func (p *Publisher) Publish(ctx context.Context, result scatter.Result, err error) error {
	value, err := json.Marshal(NewMessage(result, err))
	if err != nil {
		return fmt.Errorf("marshal result %q: %w", result.Key, err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(result.Key), Value: value}); err != nil {
		return fmt.Errorf("publish result %q: %w", result.Key, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
