package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/yatesdr/cipscan/scan"
)

// KafkaConfig configures the tag-change event stream sink.
type KafkaConfig struct {
	Brokers          []string
	Topic            string // one topic carries every PLC's tag changes, keyed by "plc/tag"
	RequiredAcks     kafka.RequiredAcks
	MaxRetries       int
	AutoCreateTopics bool
}

// KafkaPublisher streams a TagMessage per tag change to a single Kafka
// topic, keyed by "<plc>/<tag>" so consumers can partition by source.
type KafkaPublisher struct {
	cfg KafkaConfig

	mu      sync.RWMutex
	writer  *kafka.Writer
	running bool
}

// NewKafkaPublisher constructs a sink writing to one Kafka cluster.
func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{cfg: cfg}
}

// Start verifies broker connectivity and opens the topic writer.
func (p *KafkaPublisher) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	dialer := &kafka.Dialer{Timeout: 10 * time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := dialer.DialContext(ctx, "tcp", p.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("kafka connect to %v: %w", p.cfg.Brokers, err)
	}
	conn.Close()

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(p.cfg.Brokers...),
		Topic:                  p.cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           p.cfg.RequiredAcks,
		MaxAttempts:            p.cfg.MaxRetries,
		Async:                  false,
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: p.cfg.AutoCreateTopics,
	}

	p.mu.Lock()
	p.writer = writer
	p.running = true
	p.mu.Unlock()
	return nil
}

// Stop closes the topic writer.
func (p *KafkaPublisher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}
	p.running = false
	writer := p.writer
	p.writer = nil
	if writer != nil {
		return writer.Close()
	}
	return nil
}

// Callback is registered on a TagInfo via RegisterCallback, arg being
// the owning PLC's name.
func (p *KafkaPublisher) Callback() scan.CallbackFunc {
	return tagCallback(p.publish)
}

func (p *KafkaPublisher) publish(plcName string, msg TagMessage) {
	p.mu.RLock()
	writer, running := p.writer, p.running
	p.mu.RUnlock()
	if !running || writer == nil {
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	key := []byte(plcName + "/" + msg.Tag)
	_ = writer.WriteMessages(ctx, kafka.Message{Key: key, Value: payload, Time: time.Now()})
}
