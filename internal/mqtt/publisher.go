package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/agent"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/buildinfo"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/config"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/llm"
)

// publishTimeout bounds a single telemetry publish.
const publishTimeout = 5 * time.Second

// StatsSource provides the runtime data in the periodic snapshot.
// [agent.Service] satisfies it.
type StatsSource interface {
	Stats() agent.Stats
	Config() llm.Config
}

// conn is the subset of [autopaho.ConnectionManager] the publisher uses.
type conn interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Snapshot is the retained stats payload.
type Snapshot struct {
	InstanceID string      `json:"instanceId"`
	Version    string      `json:"version"`
	Uptime     string      `json:"uptime"`
	Provider   string      `json:"provider"`
	Model      string      `json:"model,omitempty"`
	Agent      agent.Stats `json:"agent"`
	Today      Usage       `json:"today"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Publisher manages the broker connection, publishes a message per
// observed turn, and runs a periodic loop that pushes stats snapshots.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	tokens     *DailyTokens
	stats      StatsSource
	logger     *slog.Logger

	mu   sync.RWMutex
	cm   *autopaho.ConnectionManager
	conn conn
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and publish loop.
func New(cfg config.MQTTConfig, instanceID string, tokens *DailyTokens, stats StatsSource, logger *slog.Logger) *Publisher {
	if tokens == nil {
		tokens = NewDailyTokens(nil)
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "vanaci/agent"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		tokens:     tokens,
		stats:      stats,
		logger:     logger,
	}
}

// Start connects to the broker and runs the periodic publish loop. It
// blocks until ctx is cancelled. Every (re-)connect publishes a birth
// message to the availability topic.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publish(ctx, cm, p.availabilityTopic(), []byte("online"), 1, true)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID(p.cfg.ClientID, p.instanceID),
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.mu.Lock()
	p.cm = cm
	p.conn = cm
	p.mu.Unlock()

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

// Stop publishes "offline" and closes the connection. ctx bounds both.
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.RLock()
	cm := p.cm
	p.mu.RUnlock()
	if cm == nil {
		return nil
	}
	p.publish(ctx, cm, p.availabilityTopic(), []byte("offline"), 1, true)
	return cm.Disconnect(ctx)
}

// ObserveTurn records the turn in today's usage and publishes its
// summary. It satisfies [agent.Observer].
func (p *Publisher) ObserveTurn(ctx context.Context, sum agent.TurnSummary) {
	p.tokens.OnTurn(sum)

	c := p.connection()
	if c == nil {
		return
	}
	payload, err := json.Marshal(sum)
	if err != nil {
		p.logger.Error("mqtt marshal turn summary", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	p.publish(ctx, c, p.turnsTopic(), payload, 0, false)
}

// Snapshot assembles the current stats payload.
func (p *Publisher) Snapshot() Snapshot {
	s := Snapshot{
		InstanceID: p.instanceID,
		Version:    buildinfo.Version,
		Uptime:     buildinfo.Uptime().String(),
		Today:      p.tokens.Snapshot(),
		Timestamp:  time.Now().UTC(),
	}
	if p.stats != nil {
		s.Agent = p.stats.Stats()
		cfg := p.stats.Config()
		s.Provider = cfg.Provider
		s.Model = cfg.Model
	}
	return s
}

func (p *Publisher) connection() conn {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conn
}

// --- Topic helpers ---

func (p *Publisher) availabilityTopic() string {
	return p.cfg.TopicPrefix + "/availability"
}

func (p *Publisher) turnsTopic() string {
	return p.cfg.TopicPrefix + "/turns"
}

func (p *Publisher) statsTopic() string {
	return p.cfg.TopicPrefix + "/stats"
}

func (p *Publisher) publish(ctx context.Context, c conn, topic string, payload []byte, qos byte, retain bool) {
	if _, err := c.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	}); err != nil {
		p.logger.Debug("mqtt publish failed", "topic", topic, "error", err)
		return
	}
	p.logger.Log(ctx, llm.LevelTrace, "mqtt published", "topic", topic, "bytes", len(payload))
}

// --- Periodic stats loop ---

func (p *Publisher) runLoop(ctx context.Context) {
	interval := time.Duration(p.cfg.PublishIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.publishStats(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishStats(ctx)
		}
	}
}

func (p *Publisher) publishStats(ctx context.Context) {
	c := p.connection()
	if c == nil {
		return
	}
	payload, err := json.Marshal(p.Snapshot())
	if err != nil {
		p.logger.Error("mqtt marshal stats", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	p.publish(ctx, c, p.statsTopic(), payload, 0, true)
}
