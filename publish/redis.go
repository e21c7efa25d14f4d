package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yatesdr/cipscan/scan"
)

// RedisConfig configures the Redis/Valkey last-value cache sink.
type RedisConfig struct {
	Root            string // key namespace prefix, defaults to "cipscan"
	Address         string
	Password        string
	Database        int
	KeyTTL          time.Duration
	PublishChanges  bool
	EnableWriteback bool
}

func joinKey(segments ...string) string {
	out := segments[0]
	for _, s := range segments[1:] {
		out += ":" + s
	}
	return out
}

// RedisPublisher stores each tag's latest value at
// <root>:<plc>:tags:<tag> and, when PublishChanges is set, republishes
// the same payload on a Pub/Sub channel. Write-back requests are
// popped from a list at <root>:writes.
type RedisPublisher struct {
	cfg RedisConfig

	mu      sync.RWMutex
	client  *redis.Client
	running bool

	writeHandler WriteHandler

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewRedisPublisher constructs a sink for a single Redis/Valkey server.
func NewRedisPublisher(cfg RedisConfig) *RedisPublisher {
	if cfg.Root == "" {
		cfg.Root = "cipscan"
	}
	return &RedisPublisher{cfg: cfg, stopChan: make(chan struct{})}
}

// SetWriteHandler installs the callback invoked for incoming writes.
func (p *RedisPublisher) SetWriteHandler(h WriteHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeHandler = h
}

// Start connects to the server and, if enabled, launches the
// write-back listener.
func (p *RedisPublisher) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	client := redis.NewClient(&redis.Options{
		Addr:         p.cfg.Address,
		Password:     p.cfg.Password,
		DB:           p.cfg.Database,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("redis connect to %s: %w", p.cfg.Address, err)
	}

	p.mu.Lock()
	p.client = client
	p.running = true
	p.stopChan = make(chan struct{})
	p.mu.Unlock()

	if p.cfg.EnableWriteback {
		p.wg.Add(1)
		go p.writebackListener()
	}
	return nil
}

// Stop disconnects and waits for the write-back listener to exit.
func (p *RedisPublisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopChan)
	client := p.client
	p.client = nil
	p.mu.Unlock()

	done := make(chan struct{})
	go func() { p.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(1500 * time.Millisecond):
	}

	if client != nil {
		return client.Close()
	}
	return nil
}

// Callback is registered on a TagInfo via RegisterCallback, arg being
// the owning PLC's name.
func (p *RedisPublisher) Callback() scan.CallbackFunc {
	return tagCallback(p.publish)
}

func (p *RedisPublisher) publish(plcName string, msg TagMessage) {
	p.mu.RLock()
	client, running := p.client, p.running
	p.mu.RUnlock()
	if !running || client == nil {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := joinKey(p.cfg.Root, plcName, "tags", msg.Tag)
	if err := client.Set(ctx, key, data, p.cfg.KeyTTL).Err(); err != nil {
		return
	}
	if p.cfg.PublishChanges {
		client.Publish(ctx, joinKey(p.cfg.Root, plcName, "changes"), data)
		client.Publish(ctx, joinKey(p.cfg.Root, "_all", "changes"), data)
	}
}

func (p *RedisPublisher) writebackListener() {
	defer p.wg.Done()
	queueKey := joinKey(p.cfg.Root, "writes")

	for {
		select {
		case <-p.stopChan:
			return
		default:
		}

		p.mu.RLock()
		client, running := p.client, p.running
		p.mu.RUnlock()
		if !running || client == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		result, err := client.BLPop(ctx, time.Second, queueKey).Result()
		cancel()
		if err != nil {
			continue // includes redis.Nil on timeout
		}
		if len(result) < 2 {
			continue
		}

		var req WriteRequest
		if err := json.Unmarshal([]byte(result[1]), &req); err != nil {
			continue
		}
		p.processWrite(client, req)
	}
}

func (p *RedisPublisher) processWrite(client *redis.Client, req WriteRequest) {
	p.mu.RLock()
	handler := p.writeHandler
	p.mu.RUnlock()

	resp := WriteResponse{PLC: req.PLC, Tag: req.Tag, Value: req.Value, Timestamp: nowStamp()}
	if handler == nil {
		resp.Error = "no write handler installed"
	} else if err := handler(req.PLC, req.Tag, req.Value); err != nil {
		resp.Error = err.Error()
	} else {
		resp.Success = true
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client.Publish(ctx, joinKey(p.cfg.Root, "write", "responses"), data)
}
