package publish

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/yatesdr/cipscan/scan"
)

// MQTTConfig configures one broker connection for the MQTT sink.
type MQTTConfig struct {
	Name      string
	Broker    string // e.g. "tcp://10.0.0.5:1883"
	ClientID  string
	Username  string
	Password  string
	TLS       *tls.Config
	RootTopic string // defaults to "cipscan"
}

// WriteHandler resolves an incoming write request against the tag
// registry. Implementations should call TagInfo.ScheduleWrite.
type WriteHandler func(plcName, tagName string, value interface{}) error

const (
	mqttWriteWorkers  = 5
	mqttWriteQueueCap = 100
)

type mqttWriteJob struct {
	plcName string
	tagName string
	value   interface{}
}

// MQTTPublisher bridges registry tag changes to an MQTT broker: it
// publishes a TagMessage on every callback and accepts write-back
// requests on <root>/<plc>/<tag>/write.
type MQTTPublisher struct {
	cfg    MQTTConfig
	client pahomqtt.Client

	mu      sync.RWMutex
	running bool

	writeHandler WriteHandler

	writeQueue chan mqttWriteJob
	stopChan   chan struct{}
	wg         sync.WaitGroup
}

// NewMQTTPublisher constructs a publisher for a single broker.
func NewMQTTPublisher(cfg MQTTConfig) *MQTTPublisher {
	if cfg.RootTopic == "" {
		cfg.RootTopic = "cipscan"
	}
	return &MQTTPublisher{
		cfg:        cfg,
		writeQueue: make(chan mqttWriteJob, mqttWriteQueueCap),
		stopChan:   make(chan struct{}),
	}
}

// SetWriteHandler installs the callback invoked for incoming writes.
func (p *MQTTPublisher) SetWriteHandler(h WriteHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeHandler = h
}

// Start connects to the broker and begins the write-back workers.
func (p *MQTTPublisher) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	opts := pahomqtt.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(p.cfg.ClientID).
		SetUsername(p.cfg.Username).
		SetPassword(p.cfg.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	if p.cfg.TLS != nil {
		opts.SetTLSConfig(p.cfg.TLS)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15*time.Second) || token.Error() != nil {
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect to %s: %w", p.cfg.Broker, err)
		}
		return fmt.Errorf("mqtt connect to %s: timed out", p.cfg.Broker)
	}

	p.mu.Lock()
	p.client = client
	p.running = true
	p.mu.Unlock()

	writeTopic := p.cfg.RootTopic + "/+/+/write"
	if t := client.Subscribe(writeTopic, 1, p.handleWrite); t.Wait() && t.Error() != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", writeTopic, t.Error())
	}

	for i := 0; i < mqttWriteWorkers; i++ {
		p.wg.Add(1)
		go p.writeWorker()
	}
	return nil
}

// Stop disconnects from the broker and drains the write workers.
func (p *MQTTPublisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	client := p.client
	p.mu.Unlock()

	close(p.stopChan)
	p.wg.Wait()
	if client != nil {
		client.Disconnect(250)
	}
}

// Callback is registered on a TagInfo via RegisterCallback, arg being
// the owning PLC's name.
func (p *MQTTPublisher) Callback() scan.CallbackFunc {
	return tagCallback(p.publish)
}

func (p *MQTTPublisher) publish(plcName string, msg TagMessage) {
	p.mu.RLock()
	client, running := p.client, p.running
	p.mu.RUnlock()
	if !running || client == nil {
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	topic := fmt.Sprintf("%s/%s/%s", p.cfg.RootTopic, plcName, msg.Tag)
	client.Publish(topic, 1, true, payload)
}

func (p *MQTTPublisher) handleWrite(client pahomqtt.Client, m pahomqtt.Message) {
	var req WriteRequest
	if err := json.Unmarshal(m.Payload(), &req); err != nil {
		return
	}
	select {
	case p.writeQueue <- mqttWriteJob{plcName: req.PLC, tagName: req.Tag, value: req.Value}:
	default:
		// queue full: drop rather than block the MQTT client's receive loop.
	}
}

func (p *MQTTPublisher) writeWorker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopChan:
			return
		case job := <-p.writeQueue:
			p.mu.RLock()
			handler := p.writeHandler
			client := p.client
			p.mu.RUnlock()
			if handler == nil {
				continue
			}
			err := handler(job.plcName, job.tagName, job.value)
			resp := WriteResponse{
				PLC:       job.plcName,
				Tag:       job.tagName,
				Value:     job.value,
				Success:   err == nil,
				Timestamp: nowStamp(),
			}
			if err != nil {
				resp.Error = err.Error()
			}
			if payload, mErr := json.Marshal(resp); mErr == nil && client != nil {
				topic := fmt.Sprintf("%s/%s/%s/write/response", p.cfg.RootTopic, job.plcName, job.tagName)
				client.Publish(topic, 1, false, payload)
			}
		}
	}
}
