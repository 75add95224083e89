package stream_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fogfactory/scatter"
	"github.com/fogfactory/scatter/internal/stream"
	"github.com/maxatome/go-testdeep/td"
	"github.com/samber/lo"
	"github.com/segmentio/kafka-go"
)

// mockReader serves a fixed list of messages, then io.EOF like a closed kafka reader.
type mockReader struct {
	messages chan kafka.Message
	failures int // FetchMessage errors returned before the first message

	mu        sync.Mutex
	committed []int64
	closed    bool
}

func newMockReader(msgs ...kafka.Message) *mockReader {
	r := &mockReader{messages: make(chan kafka.Message, len(msgs))}
	for _, msg := range msgs {
		r.messages <- msg
	}
	close(r.messages)
	return r
}

func (r *mockReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if r.failures > 0 {
		r.failures--
		r.mu.Unlock()
		return kafka.Message{}, errors.New("broker unavailable")
	}
	r.mu.Unlock()
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case msg, ok := <-r.messages:
		if !ok {
			return kafka.Message{}, io.EOF
		}
		return msg, nil
	}
}

func (r *mockReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msg := range msgs {
		r.committed = append(r.committed, msg.Offset)
	}
	return nil
}

func (r *mockReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *mockReader) Committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

// notification builds a bucket notification message.
func notification(offset int64, event string, objects ...string) kafka.Message {
	records := lo.Map(objects, func(obj string, _ int) string {
		bucket, key, _ := strings.Cut(obj, "/")
		return fmt.Sprintf(`{"eventName": %q, "s3": {"bucket": {"name": %q}, "object": {"key": %q, "size": 10}}}`, event, bucket, key)
	})
	return kafka.Message{
		Topic:  "uploads",
		Offset: offset,
		Value:  []byte(`{"Records": [` + strings.Join(records, ",") + `]}`),
	}
}

const created = "s3:ObjectCreated:Put"

func TestConsumer(t *testing.T) {
	t.Run("objects_and_ordered_commits", func(t *testing.T) {
		// Arrange
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		reader := newMockReader(
			notification(0, created, "raw/s1.fastq", "raw/s2.fastq"),
			notification(1, created, "raw/dir/s%203.fastq"),
			notification(2, "s3:ObjectRemoved:Delete", "raw/s1.fastq"),
		)
		consumer := stream.NewConsumerWithReader(reader, log.Default())

		// Act
		objects := lo.ChannelToSlice(consumer.Objects(ctx))

		// Assert
		td.Cmp(t, lo.Map(objects, func(o stream.Object, _ int) string { return o.Name() }),
			[]string{"raw/s1.fastq", "raw/s2.fastq", "raw/dir/s 3.fastq"})
		td.Cmp(t, consumer.Pending(), 3, "The removal waits for the messages before it")

		// The second message is done first, it is not committed before the first one
		td.CmpNoError(t, consumer.Done(ctx, objects[2]))
		td.CmpEmpty(t, reader.Committed())
		td.CmpNoError(t, consumer.Done(ctx, objects[0]))
		td.CmpEmpty(t, reader.Committed())
		td.CmpNoError(t, consumer.Done(ctx, objects[1]))
		td.Cmp(t, reader.Committed(), []int64{2})
		td.Cmp(t, consumer.Pending(), 0)

		td.CmpNoError(t, consumer.Close())
		td.CmpTrue(t, reader.closed)
	})

	t.Run("skips_undecodable_messages", func(t *testing.T) {
		// Arrange
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		reader := newMockReader(kafka.Message{Offset: 7, Value: []byte("not json")})

		// Act
		objects := lo.ChannelToSlice(stream.NewConsumerWithReader(reader, log.Default()).Objects(ctx))

		// Assert
		td.CmpEmpty(t, objects)
		td.Cmp(t, reader.Committed(), []int64{7})
	})

	t.Run("retries_fetch_errors", func(t *testing.T) {
		// Arrange
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		reader := newMockReader(notification(0, created, "raw/s1.fastq"))
		reader.failures = 2
		consumer := stream.NewConsumerWithReader(reader, log.Default())
		stream.SetBackoff(consumer, time.Millisecond)

		// Act
		objects := lo.ChannelToSlice(consumer.Objects(ctx))

		// Assert
		td.Cmp(t, len(objects), 1)
	})

	t.Run("stops_on_cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		reader := &mockReader{messages: make(chan kafka.Message)} // never closed
		objects := stream.NewConsumerWithReader(reader, log.Default()).Objects(ctx)
		cancel()
		select {
		case _, ok := <-objects:
			td.CmpFalse(t, ok)
		case <-time.After(2 * time.Second):
			t.Fatal("consumer did not stop")
		}
	})

	t.Run("foreign_object", func(t *testing.T) {
		consumer := stream.NewConsumerWithReader(newMockReader(), log.Default())
		td.CmpError(t, consumer.Done(context.Background(), stream.Object{Bucket: "raw", Key: "x"}))
	})
}

func TestSplitName(t *testing.T) {
	bucket, key := stream.SplitName(stream.Object{Bucket: "raw", Key: "dir/s1.fastq"}.Name())
	td.Cmp(t, bucket, "raw")
	td.Cmp(t, key, "dir/s1.fastq")
}

// mockWriter records written messages.
type mockWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *mockWriter) Close() error { return nil }

func TestPublisher(t *testing.T) {
	// Arrange
	writer := &mockWriter{}
	publisher := stream.NewPublisherWithWriter(writer)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	results := []scatter.Result{
		{Key: "raw/s1", Payload: []byte("ACGT"), Pieces: 2, Started: start, Completed: start.Add(1500 * time.Millisecond)},
		{Key: "raw/s2", Pieces: 3, Missing: []int{1}, Payload: []byte("AC"), Started: start, Completed: start},
		{Key: "raw/s3", Pieces: 1, Err: scatter.ErrGroupAborted, Started: start, Completed: start},
	}

	// Act
	for _, r := range results {
		td.Require(t).CmpNoError(publisher.Publish(context.Background(), r, nil))
	}
	td.CmpNoError(t, publisher.Publish(context.Background(), scatter.Result{Key: "raw/s4"}, errors.New("save failed")))

	// Assert
	td.Cmp(t, lo.Map(writer.msgs, func(m kafka.Message, _ int) string { return string(m.Key) }),
		[]string{"raw/s1", "raw/s2", "raw/s3", "raw/s4"})
	td.Cmp(t, json.RawMessage(writer.msgs[0].Value), td.JSON(`{
		"key": "raw/s1",
		"pieces": 2,
		"bytes": 4,
		"elapsed": "1.5s",
		"completed": "2024-05-01T12:00:01.5Z"
	}`))
	td.Cmp(t, json.RawMessage(writer.msgs[1].Value), td.SuperJSONOf(`{"missing": [1]}`))
	td.Cmp(t, json.RawMessage(writer.msgs[2].Value), td.SuperJSONOf(`{"error": "group aborted"}`))
	td.Cmp(t, json.RawMessage(writer.msgs[3].Value), td.SuperJSONOf(`{"error": "save failed"}`))

	t.Run("write_error", func(t *testing.T) {
		writer.err = errors.New("leader not available")
		td.CmpContains(t, publisher.Publish(context.Background(), results[0], nil), `publish result "raw/s1"`)
	})
}
