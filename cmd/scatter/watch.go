package main

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/fogfactory/scatter"
	"github.com/fogfactory/scatter/internal/graceful"
	"github.com/fogfactory/scatter/internal/store"
	"github.com/fogfactory/scatter/internal/stream"
	"github.com/spf13/cobra"
)

var watchOutput string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Process objects as their creation is notified on Kafka",
	Long: `Consume the bucket notifications of KAFKA_TOPIC and process every created
object. Each merged object is written below --output as <bucket>/<key>, and a
result message is published on KAFKA_RESULTS_TOPIC when set.

The offset of a notification is committed once all its objects are done,
failed ones included. Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := graceful.Context(cmd.Context())
		defer cancel()

		kafka := settings.cfg.Kafka
		if len(kafka.Brokers) == 0 || kafka.Topic == "" {
			return errors.New("missing one or more required environment variables: KAFKA_BROKERS, KAFKA_TOPIC")
		}
		bucket, prefix, err := store.ParseLocation(watchOutput)
		if err != nil {
			return err
		}
		s3, err := store.NewS3(settings.cfg.MinIO, bucket, prefix)
		if err != nil {
			return err
		}
		if err := s3.EnsureBucket(ctx, ""); err != nil {
			return err
		}

		log.Printf("Connecting to Kafka brokers: %v on topic: %s with group ID: %s", kafka.Brokers, kafka.Topic, kafka.GroupID)
		consumer := stream.NewConsumer(kafka.Brokers, kafka.Topic, kafka.GroupID)
		defer func() {
			if err := consumer.Close(); err != nil {
				log.Printf("Failed to close Kafka reader: %v", err)
			}
		}()
		var publisher *stream.Publisher
		if kafka.ResultsTopic != "" {
			publisher = stream.NewPublisher(kafka.Brokers, kafka.ResultsTopic)
			defer publisher.Close()
		}

		w := newWatcher(consumer, publisher)
		get := func(ctx context.Context, name string) ([]byte, error) {
			bucket, key := stream.SplitName(name)
			return s3.GetObject(ctx, bucket, key)
		}
		_, err = process(ctx, w.keys(ctx), get, s3, w.done)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutput, "output", "o", "", "Output bucket/prefix")
	_ = watchCmd.MarkFlagRequired("output")
}

// watcher pairs the objects fed to the engine with their notification.
//
// An object notified again while its previous copy is being processed is held
// until done is called for that copy: a name is never fed twice at once.
type watcher struct {
	consumer  *stream.Consumer
	publisher *stream.Publisher
	wake      chan struct{}

	mu      sync.Mutex
	objects map[string][]stream.Object // by name, the first one is being processed
	ready   []string                   // names whose first object is not fed yet
	held    int                        // objects waiting behind an earlier copy
}

func newWatcher(consumer *stream.Consumer, publisher *stream.Publisher) *watcher {
	return &watcher{
		consumer:  consumer,
		publisher: publisher,
		wake:      make(chan struct{}, 1),
		objects:   make(map[string][]stream.Object),
	}
}

// keys emits the name of every notified object. Once the notifications stop,
// it keeps running until the held objects have been emitted.
func (w *watcher) keys(ctx context.Context) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		objects := w.consumer.Objects(ctx)
		var (
			next string
			send chan<- string
		)
		for {
			if send == nil {
				name, ok, held := w.next()
				switch {
				case ok:
					next, send = name, out
				case objects == nil && !held:
					return
				}
			}
			select {
			case obj, ok := <-objects:
				if !ok {
					objects = nil
					continue
				}
				w.add(obj)
			case send <- next:
				send = nil
			case <-w.wake:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (w *watcher) add(obj stream.Object) {
	name := obj.Name()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.objects[name] = append(w.objects[name], obj)
	if len(w.objects[name]) == 1 {
		w.ready = append(w.ready, name)
	} else {
		w.held++
	}
}

// next pops the next name to feed. held reports whether objects are still
// waiting for an earlier copy to be done.
func (w *watcher) next() (name string, ok, held bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.ready) == 0 {
		return "", false, w.held > 0
	}
	name = w.ready[0]
	w.ready = w.ready[1:]
	return name, true, w.held > 0
}

// done publishes the outcome of name and acknowledges the notification of the
// object being processed under that name. The next copy of name, if any, is
// released.
func (w *watcher) done(name string, result *scatter.Result, err error) {
	// Not the run context: outcomes are still acknowledged while interrupted.
	ctx := context.Background()

	if w.publisher != nil {
		if result == nil {
			result = &scatter.Result{Key: name}
		}
		if err := w.publisher.Publish(ctx, *result, err); err != nil {
			log.Printf("%s: %v", name, err)
		}
	}

	w.mu.Lock()
	queue := w.objects[name]
	if len(queue) == 0 {
		w.mu.Unlock()
		return
	}
	obj := queue[0]
	if len(queue) == 1 {
		delete(w.objects, name)
	} else {
		w.objects[name] = queue[1:]
		w.ready = append(w.ready, name)
		w.held--
	}
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}

	if err := w.consumer.Done(ctx, obj); err != nil {
		log.Printf("Failed to commit offset of %s: %v", name, err)
	}
}
