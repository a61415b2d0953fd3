package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"DocSage/backend/go/internal/models"
	"DocSage/backend/go/pkg/logger"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

// messageWriter is the subset of *kafka.Writer used by Publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes ingestion requests and job results to Kafka.
type Publisher struct {
	requests messageWriter
	results  messageWriter
	log      *logger.Logger
}

// NewPublisher creates a Publisher. Either writer may be nil.
func NewPublisher(requests, results *kafka.Writer, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.Discard()
	}
	p := &Publisher{log: log}
	if requests != nil {
		p.requests = requests
	}
	if results != nil {
		p.results = results
	}
	return p
}

// Enqueue publishes req onto the ingestion topic, keyed by document id.
func (p *Publisher) Enqueue(ctx context.Context, req models.IngestRequest) error {
	if p.requests == nil {
		return fmt.Errorf("no ingestion topic configured")
	}
	return p.write(ctx, p.requests, req.DocumentID, req)
}

// PublishResult publishes a finished job onto the result topic.
func (p *Publisher) PublishResult(ctx context.Context, job *models.IngestJob) error {
	if p.results == nil {
		return nil
	}
	return p.write(ctx, p.results, job.Request.DocumentID, job)
}

func (p *Publisher) write(ctx context.Context, w messageWriter, key string, value interface{}) error {
	msgBytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal kafka message: %w", err)
	}
	if err := w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: msgBytes}); err != nil {
		p.log.WithErr(err).Error("Failed to write message to Kafka")
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

// Close closes both writers.
func (p *Publisher) Close() error {
	var firstErr error
	for _, w := range []messageWriter{p.requests, p.results} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// messageReader is the subset of *kafka.Reader used by Consumer.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer feeds ingestion requests from Kafka into a Runner.
type Consumer struct {
	reader  messageReader
	runner  *Runner
	workers int
	log     *logger.Logger
}

// NewConsumer creates a Consumer that processes up to workers documents at once.
func NewConsumer(reader *kafka.Reader, runner *Runner, workers int, log *logger.Logger) *Consumer {
	return newConsumer(reader, runner, workers, log)
}

func newConsumer(reader messageReader, runner *Runner, workers int, log *logger.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Consumer{reader: reader, runner: runner, workers: workers, log: log.Named("ingest-consumer")}
}

// Run consumes messages until ctx is done. Each message is committed after its
// job finishes; malformed messages are logged and committed.
func (c *Consumer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for {
		msg, err := c.reader.FetchMessage(gctx)
		if err != nil {
			if gctx.Err() != nil {
				c.log.Info("Stopping Kafka ingestion consumer...")
				return g.Wait()
			}
			c.log.WithErr(err).Error("Error fetching message from Kafka")
			select {
			case <-gctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		g.Go(func() error {
			c.handle(gctx, msg)
			if err := c.reader.CommitMessages(context.WithoutCancel(gctx), msg); err != nil {
				c.log.WithErr(err).Error("Failed to commit Kafka message")
			}
			return nil
		})
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var req models.IngestRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		c.log.WithErr(err).WithPayload(map[string]interface{}{
			"topic":     msg.Topic,
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Error("Dropping malformed ingestion message")
		return
	}
	if _, err := c.runner.Run(ctx, req); err != nil {
		c.log.WithErr(err).WithField("job_id", req.JobID).Error("Error handling ingestion message")
	}
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
