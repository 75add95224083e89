// Package stream feeds the engine from object store notifications received on
// Kafka, and publishes one message per result.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fogfactory/scatter"
	"github.com/minio/minio-go/v7/pkg/notification"
	"github.com/segmentio/kafka-go"
)

// Reader is the part of *kafka.Reader used by the Consumer. It allows for
// easy mocking in unit tests.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Object references one object created in the store.
type Object struct {
	Bucket string
	Key    string

	msg *pending
}

// Name is the bucket qualified key of the object.
func (o Object) Name() string { return o.Bucket + "/" + o.Key }

// SplitName is the reverse of Object.Name.
func SplitName(name string) (bucket, key string) {
	bucket, key, _ = strings.Cut(name, "/")
	return bucket, key
}

// pending is a fetched message whose objects are not all done.
type pending struct {
	msg       kafka.Message
	remaining int
}

// Consumer reads bucket notifications and commits a message once every object
// it references is done. Within a partition, offsets are committed in order: a
// done message waits for the messages fetched before it.
type Consumer struct {
	reader  Reader
	logger  scatter.Logger
	backoff time.Duration

	mu         sync.Mutex
	partitions map[int][]*pending
}

// NewConsumer creates a consumer of topic within groupID.
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
		// Offsets are committed by Done only.
		CommitInterval: 0,
		MinBytes:       1,
		MaxBytes:       10e6,
	})
	return NewConsumerWithReader(reader, log.Default())
}

// NewConsumerWithReader creates a consumer over any Reader.
func NewConsumerWithReader(reader Reader, logger scatter.Logger) *Consumer {
	return &Consumer{
		reader:     reader,
		logger:     logger,
		backoff:    time.Second,
		partitions: make(map[int][]*pending),
	}
}

// Objects fetches messages until ctx is done or the reader is closed, and
// emits every object created according to them.
//
// Messages that cannot be decoded, or that reference no created object, are
// done right away.
func (c *Consumer) Objects(ctx context.Context) <-chan Object {
	out := make(chan Object)
	go func() {
		defer close(out)
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, io.EOF) {
					return
				}
				c.logger.Printf("stream: fetch message: %v", err)
				select {
				case <-time.After(c.backoff):
					continue
				case <-ctx.Done():
					return
				}
			}

			objects := c.decode(msg)
			p := c.track(msg, len(objects))
			if len(objects) == 0 {
				if err := c.done(ctx, p); err != nil {
					c.logger.Printf("stream: commit offset %d: %v", msg.Offset, err)
				}
				continue
			}
			for _, obj := range objects {
				obj.msg = p
				select {
				case out <- obj:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// decode extracts the created objects of a notification message.
func (c *Consumer) decode(msg kafka.Message) []Object {
	var info notification.Info
	if err := json.Unmarshal(msg.Value, &info); err != nil {
		c.logger.Printf("stream: skip message at partition=%d offset=%d: %v", msg.Partition, msg.Offset, err)
		return nil
	}
	var objects []Object
	for _, event := range info.Records {
		if !strings.HasPrefix(event.EventName, "s3:ObjectCreated:") {
			continue
		}
		key, err := url.QueryUnescape(event.S3.Object.Key)
		if err != nil {
			c.logger.Printf("stream: skip object %q: %v", event.S3.Object.Key, err)
			continue
		}
		objects = append(objects, Object{Bucket: event.S3.Bucket.Name, Key: key})
	}
	return objects
}

func (c *Consumer) track(msg kafka.Message, objects int) *pending {
	p := &pending{msg: msg, remaining: objects}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partitions[msg.Partition] = append(c.partitions[msg.Partition], p)
	return p
}

// Done marks obj as processed. The message of obj is committed once all its
// objects, and all the messages before it in its partition, are done.
func (c *Consumer) Done(ctx context.Context, obj Object) error {
	if obj.msg == nil {
		return errors.New("object not emitted by this consumer")
	}
	return c.done(ctx, obj.msg)
}

func (c *Consumer) done(ctx context.Context, p *pending) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.remaining > 0 {
		p.remaining--
	}

	queue := c.partitions[p.msg.Partition]
	n := 0
	for n < len(queue) && queue[n].remaining == 0 {
		n++
	}
	if n == 0 {
		return nil
	}
	last := queue[n-1].msg
	if err := c.reader.CommitMessages(ctx, last); err != nil {
		return err
	}
	c.partitions[p.msg.Partition] = queue[n:]
	return nil
}

// Pending returns the number of fetched messages not committed yet.
func (c *Consumer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	for _, queue := range c.partitions {
		n += len(queue)
	}
	return n
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
