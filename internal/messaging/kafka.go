// Package messaging provides Kafka-based communication between ledgerd and
// its clients: transaction submission, results, and mine and reset events.
package messaging

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bardlex/gocoal/pkg/circuit"
	"github.com/bardlex/gocoal/pkg/errors"
	"github.com/bardlex/gocoal/pkg/log"
	"github.com/bardlex/gocoal/pkg/retry"
)

// EncodingHeader names the message header carrying the payload encoding
const EncodingHeader = "encoding"

// KafkaClient publishes and consumes gocoal messages. Writers are pooled per
// topic and readers per topic and consumer group.
type KafkaClient struct {
	brokers  []string
	encoding Encoding
	logger   *log.Logger

	writers   map[string]*kafka.Writer
	readers   map[string]*kafka.Reader
	writersMu sync.RWMutex
	readersMu sync.RWMutex

	breaker *circuit.Breaker
	retry   *retry.Config
}

// NewKafkaClient creates a new Kafka client publishing in encoding
func NewKafkaClient(brokers []string, encoding Encoding, logger *log.Logger) *KafkaClient {
	logger = logger.WithComponent("kafka")
	return &KafkaClient{
		brokers:  brokers,
		encoding: encoding,
		logger:   logger,
		writers:  make(map[string]*kafka.Writer),
		readers:  make(map[string]*kafka.Reader),
		breaker: circuit.New(&circuit.Config{
			Name:            "kafka",
			MaxFailures:     5,
			SuccessRequired: 3,
			Timeout:         15 * time.Second,
			ResetTimeout:    60 * time.Second,
			OnStateChange:   circuit.LogStateChanges(logger.Warn),
		}),
		retry: retry.NetworkConfig(),
	}
}

// Encoding returns the client's wire format
func (k *KafkaClient) Encoding() Encoding { return k.encoding }

// requiredAcks is stricter for submissions, which exist nowhere else
// until ledgerd has executed them
func requiredAcks(topic string) kafka.RequiredAcks {
	if topic == TopicTransactions {
		return kafka.RequireAll
	}
	return kafka.RequireOne
}

// GetProducer gets or creates the writer for topic
func (k *KafkaClient) GetProducer(topic string) *kafka.Writer {
	k.writersMu.RLock()
	writer, ok := k.writers[topic]
	k.writersMu.RUnlock()
	if ok {
		return writer
	}

	k.writersMu.Lock()
	defer k.writersMu.Unlock()
	if writer, ok := k.writers[topic]; ok {
		return writer
	}

	// Hash on the message key keeps one authority's messages in order
	writer = &kafka.Writer{
		Addr:         kafka.TCP(k.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: requiredAcks(topic),
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Compression:  kafka.Snappy,
	}
	k.writers[topic] = writer
	k.logger.Info("created Kafka producer", "topic", topic, "required_acks", int(writer.RequiredAcks))
	return writer
}

// GetConsumer gets or creates the reader for topic in groupID
func (k *KafkaClient) GetConsumer(topic, groupID string) *kafka.Reader {
	key := topic + "/" + groupID

	k.readersMu.RLock()
	reader, ok := k.readers[key]
	k.readersMu.RUnlock()
	if ok {
		return reader
	}

	k.readersMu.Lock()
	defer k.readersMu.Unlock()
	if reader, ok := k.readers[key]; ok {
		return reader
	}

	reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
	})
	k.readers[key] = reader
	k.logger.Info("created Kafka consumer", "topic", topic, "group_id", groupID)
	return reader
}

// Publish encodes v in the client's encoding and publishes it under key.
// Messages sharing a key land on the same partition.
func (k *KafkaClient) Publish(ctx context.Context, topic, key string, v any) error {
	data, err := Encode(k.encoding, v)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "encode_message",
			"failed to encode message").
			WithContext("topic", topic).
			WithContext("encoding", string(k.encoding))
	}

	msg := kafka.Message{
		Key:     []byte(key),
		Value:   data,
		Headers: []kafka.Header{{Key: EncodingHeader, Value: []byte(k.encoding)}},
	}
	return k.breaker.Execute(ctx, func() error {
		return retry.Do(ctx, k.retry, func() error {
			msg.Time = time.Now()
			if err := k.GetProducer(topic).WriteMessages(ctx, msg); err != nil {
				return errors.Wrap(err, errors.ErrorTypeKafka, "publish_message",
					"failed to publish message to Kafka").
					WithContext("topic", topic).
					WithContext("key", key).
					WithContext("message_size", len(data))
			}
			k.logger.Debug("published message", "topic", topic, "key", key, "size", len(data))
			return nil
		})
	})
}

// MessageReader is the part of *kafka.Reader the consumer loop uses
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Fetch reads the next message from reader without committing it
func (k *KafkaClient) Fetch(ctx context.Context, reader MessageReader) (kafka.Message, error) {
	return circuit.ExecuteWithResult(ctx, k.breaker, func() (kafka.Message, error) {
		return retry.DoWithResult(ctx, k.retry, func() (kafka.Message, error) {
			msg, err := reader.FetchMessage(ctx)
			if err != nil {
				return kafka.Message{}, errors.Wrap(err, errors.ErrorTypeKafka, "fetch_message",
					"failed to read message from Kafka")
			}
			k.logger.Debug("consumed message", "topic", msg.Topic, "partition", msg.Partition,
				"offset", msg.Offset, "key", string(msg.Key))
			return msg, nil
		})
	})
}

// AwaitResult reads the results topic until the result for txID arrives or
// ctx is done. It joins a consumer group of its own, so every result since
// the start of the topic is visible to it.
func (k *KafkaClient) AwaitResult(ctx context.Context, txID string) (TransactionResult, error) {
	return k.awaitResult(ctx, k.GetConsumer(TopicTransactionResults, "await-"+txID), txID)
}

func (k *KafkaClient) awaitResult(ctx context.Context, reader MessageReader, txID string) (TransactionResult, error) {
	for {
		msg, err := k.Fetch(ctx, reader)
		if err != nil {
			return TransactionResult{}, err
		}
		if string(msg.Key) != txID {
			continue
		}
		var res TransactionResult
		if err := Decode(k.encoding, msg.Value, &res); err != nil {
			return TransactionResult{}, errors.Wrap(err, errors.ErrorTypeValidation, "await_result",
				"failed to decode transaction result")
		}
		return res, nil
	}
}

// ErrRedeliver is returned, possibly wrapped, by a MessageHandler that did
// not process a message. The consumer stops without committing it, so the
// group delivers it again.
var ErrRedeliver = stderrors.New("message left for redelivery")

// MessageHandler handles one consumed message
type MessageHandler interface {
	HandleMessage(ctx context.Context, key string, value []byte) error
}

// HandlerFunc adapts a function to MessageHandler
type HandlerFunc func(ctx context.Context, key string, value []byte) error

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(ctx context.Context, key string, value []byte) error {
	return f(ctx, key, value)
}

// StartConsumer hands every message of topic to handler until ctx is done.
// A message is committed once handler has returned, unless it returned
// ErrRedeliver.
func (k *KafkaClient) StartConsumer(ctx context.Context, topic, groupID string, handler MessageHandler) error {
	logger := k.logger.WithFields("topic", topic, "group_id", groupID)
	logger.Info("starting consumer")
	return k.consume(ctx, k.GetConsumer(topic, groupID), handler, logger)
}

func (k *KafkaClient) consume(ctx context.Context, reader MessageReader, handler MessageHandler, logger *log.Logger) error {
	for {
		msg, err := k.Fetch(ctx, reader)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("consumer stopping")
				return ctx.Err()
			}
			logger.WithError(err).Error("failed to consume message")
			continue
		}

		if err := handler.HandleMessage(ctx, string(msg.Key), msg.Value); err != nil {
			if stderrors.Is(err, ErrRedeliver) {
				logger.WithError(err).Info("consumer stopping before commit", "offset", msg.Offset)
				return err
			}
			logger.WithError(err).Error("failed to handle message",
				"key", string(msg.Key), "offset", msg.Offset)
		}
		// the handler finished, so commit even if ctx was cancelled meanwhile
		if err := reader.CommitMessages(context.WithoutCancel(ctx), msg); err != nil {
			logger.WithError(err).Warn("failed to commit offset", "offset", msg.Offset)
		}
	}
}

// Close closes all producers and consumers
func (k *KafkaClient) Close() error {
	k.writersMu.Lock()
	defer k.writersMu.Unlock()
	k.readersMu.Lock()
	defer k.readersMu.Unlock()

	var lastErr error
	for topic, writer := range k.writers {
		if err := writer.Close(); err != nil {
			k.logger.WithError(err).Error("failed to close producer", "topic", topic)
			lastErr = err
		}
	}
	for key, reader := range k.readers {
		if err := reader.Close(); err != nil {
			k.logger.WithError(err).Error("failed to close consumer", "key", key)
			lastErr = err
		}
	}

	k.writers = make(map[string]*kafka.Writer)
	k.readers = make(map[string]*kafka.Reader)
	return lastErr
}
