package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

type ConnConfig struct {
	Brokers  []string
	ClientID string
	// DialAttempts bounds the startup probe; the process should not start without a broker.
	DialAttempts int
	DialBackoff  Backoff
	DialTimeout  time.Duration
	// WriteAttempts is how often the writer retries one publish internally.
	WriteAttempts int
	WriteTimeout  time.Duration
	BatchTimeout  time.Duration
	// StartOffset applies to groups without committed progress: kafka.FirstOffset replays
	// history, kafka.LastOffset starts at the tail.
	StartOffset int64
}

func (c ConnConfig) withDefaults() ConnConfig {
	if c.DialAttempts <= 0 {
		c.DialAttempts = 8
	}
	if c.DialBackoff.Initial <= 0 {
		c.DialBackoff = Backoff{Initial: 250 * time.Millisecond, Max: 10 * time.Second}
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.WriteAttempts <= 0 {
		c.WriteAttempts = 10
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 10 * time.Millisecond
	}
	if c.StartOffset == 0 {
		c.StartOffset = kafka.FirstOffset
	}
	return c
}

// Conn owns the process-wide Kafka connection: one writer shared by every publish call
// site and one reader per subscription. It is built by the bootstrap code and handed to
// whatever needs to publish or subscribe.
type Conn struct {
	cfg    ConnConfig
	logger *slog.Logger
	probe  func(ctx context.Context) error

	mu        sync.Mutex
	connected bool
	writer    *kafka.Writer
	readers   map[string]*kafka.Reader
}

// NewConn builds an unconnected manager; call Connect before publishing or subscribing.
func NewConn(cfg ConnConfig, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conn{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		readers: map[string]*kafka.Reader{},
	}
	c.probe = c.dialAny
	return c
}

// Connect probes the brokers with exponential backoff and creates the writer. Calling it
// again while connected does nothing.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}
	if len(c.cfg.Brokers) == 0 {
		return ErrNoBrokers
	}

	attempt := 0
	err := retry(ctx, c.cfg.DialAttempts, c.cfg.DialBackoff, func(ctx context.Context) error {
		attempt++
		probeErr := c.probe(ctx)
		if probeErr != nil {
			c.logger.WarnContext(ctx, "kafka brokers unreachable",
				"module", "bus.conn",
				"layer", "platform",
				"operation", "connect",
				"outcome", "retry",
				"attempt", attempt,
				"max_attempts", c.cfg.DialAttempts,
				"error", probeErr,
			)
		}
		return probeErr
	})
	if err != nil {
		return fmt.Errorf("connect kafka after %d attempts: %w", attempt, err)
	}

	c.writer = &kafka.Writer{
		Addr:         kafka.TCP(c.cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  c.cfg.WriteAttempts,
		WriteTimeout: c.cfg.WriteTimeout,
		BatchTimeout: c.cfg.BatchTimeout,
		Transport:    &kafka.Transport{ClientID: c.cfg.ClientID, DialTimeout: c.cfg.DialTimeout},
	}
	c.connected = true
	c.logger.InfoContext(ctx, "kafka connected",
		"module", "bus.conn",
		"layer", "platform",
		"operation", "connect",
		"outcome", "success",
		"brokers", c.cfg.Brokers,
		"client_id", c.cfg.ClientID,
	)
	return nil
}

func (c *Conn) dialAny(ctx context.Context) error {
	dialer := &kafka.Dialer{ClientID: c.cfg.ClientID, Timeout: c.cfg.DialTimeout}
	var errs []error
	for _, broker := range c.cfg.Brokers {
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", broker, err))
			continue
		}
		_ = conn.Close()
		return nil
	}
	return errors.Join(errs...)
}

// Writer returns the shared producer. It panics when called before Connect.
func (c *Conn) Writer() *kafka.Writer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		panic(ErrNotConnected)
	}
	return c.writer
}

// Publish writes one keyed message through the shared writer. It returns ErrNotConnected
// before Connect or after Close.
func (c *Conn) Publish(ctx context.Context, topic, key string, payload []byte) error {
	c.mu.Lock()
	writer := c.writer
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	return NewKafkaPublisher(writer).Publish(ctx, topic, key, payload)
}

// Subscribe lazily creates the reader for (topic, group) and returns a consumer that
// dead-letters through this connection's writer.
func (c *Conn) Subscribe(topic, group string, handler Handler, opts ...ConsumerOption) (*Consumer, error) {
	if topic == "" || group == "" {
		return nil, fmt.Errorf("bus: subscribe requires topic and group")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, ErrNotConnected
	}
	key := topic + "|" + group
	if _, exists := c.readers[key]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSubscription, key)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.cfg.Brokers,
		GroupID:     group,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: c.cfg.StartOffset,
		Dialer:      &kafka.Dialer{ClientID: c.cfg.ClientID, Timeout: c.cfg.DialTimeout},
	})
	c.readers[key] = reader
	opts = append([]ConsumerOption{WithLogger(c.logger)}, opts...)
	return newConsumer(topic, group, &kafkaSource{reader: reader}, c, handler, opts...), nil
}

// Close releases readers first, then flushes and closes the writer. Consumers should have
// returned from Run before Close is called.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	var errs []error
	for key, reader := range c.readers {
		if err := reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close reader %s: %w", key, err))
		}
		delete(c.readers, key)
	}
	if err := c.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close writer: %w", err))
	}
	c.writer = nil
	c.connected = false
	return errors.Join(errs...)
}

type kafkaSource struct {
	reader *kafka.Reader
}

func (s *kafkaSource) Fetch(ctx context.Context) (Message, error) {
	msg, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Topic:     msg.Topic,
		Key:       string(msg.Key),
		Value:     msg.Value,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Time:      msg.Time,
	}, nil
}

func (s *kafkaSource) Commit(ctx context.Context, msg Message) error {
	return s.reader.CommitMessages(ctx, kafka.Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	})
}

func (s *kafkaSource) Close() error {
	return s.reader.Close()
}
