package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/switchboard/internal/config"
	"github.com/nugget/switchboard/internal/events"
	"github.com/nugget/switchboard/internal/router"
)

const (
	// defaultRateLimit caps inbound dispatches per minute when
	// unconfigured.
	defaultRateLimit = 600
	// sessionExpiry keeps the broker session, and with it any
	// unacknowledged events, across restarts shorter than this.
	sessionExpiry = 3600
)

// StatusSource provides the data for the periodic status message. The
// concrete adapter is wired in main.go.
type StatusSource interface {
	Uptime() time.Duration
	Version() string
	RouterStats() router.Stats
}

// Status is the retained payload published to <prefix>/status.
type Status struct {
	InstanceID     string           `json:"instance_id"`
	Version        string           `json:"version"`
	Uptime         string           `json:"uptime"`
	TotalDecisions int64            `json:"total_decisions"`
	Reasons        map[string]int64 `json:"reasons"`
	PublishedAt    time.Time        `json:"published_at"`
}

// Client manages the broker connection, feeds inbound events to the
// dispatcher and publishes conversation outcomes and status.
type Client struct {
	cfg        config.MQTTConfig
	instanceID string
	dispatcher Dispatcher
	bus        *events.Bus
	status     StatusSource
	logger     *slog.Logger
	cm         atomic.Pointer[autopaho.ConnectionManager] // set by Start
}

// New creates a Client but does not connect. Call [Client.Start] to
// begin. bus and status may be nil.
func New(cfg config.MQTTConfig, instanceID string, d Dispatcher, bus *events.Bus, status StatusSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		instanceID: instanceID,
		dispatcher: d,
		bus:        bus,
		status:     status,
		logger:     logger,
	}
}

// Start connects to the broker and runs until ctx is cancelled. On
// every (re-)connect it subscribes to the events topic and publishes a
// birth message.
func (c *Client) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(c.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	limit := c.cfg.RateLimitPerMinute
	if limit <= 0 {
		limit = defaultRateLimit
	}
	limiter := newMessageRateLimiter(int64(limit), time.Minute, c.logger)
	workers := newEventWorkers(c.dispatcher, limiter, inboundWindow, c.logger)
	eventsTopic := c.eventsTopic()
	receiveMax := uint16(inboundWindow)

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:            []*url.URL{brokerURL},
		KeepAlive:             30,
		SessionExpiryInterval: sessionExpiry,
		ConnectUsername:       c.cfg.Username,
		ConnectPassword:       []byte(c.cfg.Password),
		ConnectPacketBuilder: func(cp *paho.Connect, _ *url.URL) (*paho.Connect, error) {
			if cp.Properties == nil {
				cp.Properties = &paho.ConnectProperties{}
			}
			cp.Properties.ReceiveMaximum = &receiveMax
			return cp, nil
		},
		WillMessage: &paho.WillMessage{
			Topic:   c.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			c.logger.Info("mqtt connected to broker", "broker", c.cfg.Broker)
			if _, err := cm.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{{Topic: eventsTopic, QoS: 1}},
			}); err != nil {
				c.logger.Error("mqtt subscribe failed", "topic", eventsTopic, "error", err)
			} else {
				c.logger.Info("mqtt subscribed", "topic", eventsTopic)
			}
			c.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			c.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID:                   "switchboard-" + c.instanceID,
			EnableManualAcknowledgment: true,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					pkt, client := pr.Packet, pr.Client
					m := inbound{
						topic:   pkt.Topic,
						payload: pkt.Payload,
						ack:     func() error { return client.Ack(pkt) },
					}
					if pkt.Topic != eventsTopic {
						workers.ack(m)
						return true, nil
					}
					workers.enqueue(ctx, m)
					return true, nil
				},
			},
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.cm.Store(cm)

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		c.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	go limiter.start(ctx)
	workers.start(ctx, c.cfg.Workers)
	if c.bus != nil {
		go c.forwardFinished(ctx)
	}
	c.runStatusLoop(ctx)
	workers.wait()
	return nil
}

// Stop publishes "offline" and disconnects.
func (c *Client) Stop(ctx context.Context) error {
	cm := c.cm.Load()
	if cm == nil {
		return nil
	}
	c.publishAvailability(ctx, cm, "offline")
	return cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is up or ctx
// expires. Used by the connwatch health probe.
func (c *Client) AwaitConnection(ctx context.Context) error {
	cm := c.cm.Load()
	if cm == nil {
		return fmt.Errorf("mqtt client not started")
	}
	return cm.AwaitConnection(ctx)
}

func (c *Client) baseTopic() string {
	if c.cfg.TopicPrefix == "" {
		return "switchboard"
	}
	return c.cfg.TopicPrefix
}

func (c *Client) availabilityTopic() string { return c.baseTopic() + "/availability" }
func (c *Client) eventsTopic() string       { return c.baseTopic() + "/events" }
func (c *Client) finishedTopic() string     { return c.baseTopic() + "/conversations/finished" }
func (c *Client) statusTopic() string       { return c.baseTopic() + "/status" }

func (c *Client) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   c.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		c.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		c.logger.Info("mqtt availability published", "status", status)
	}
}

// forwardFinished publishes every conversation_finished bus event.
func (c *Client) forwardFinished(ctx context.Context) {
	ch := c.bus.Subscribe(64)
	defer c.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			payload, ok := finishedPayload(e)
			if !ok {
				continue
			}
			if _, err := c.cm.Load().Publish(ctx, &paho.Publish{
				Topic:   c.finishedTopic(),
				Payload: payload,
				QoS:     1,
			}); err != nil {
				c.logger.Warn("mqtt outcome publish failed",
					"conversation_id", e.Data["conversation_id"],
					"error", err,
				)
			}
		}
	}
}

// finishedPayload encodes a conversation_finished event. Other events
// report false.
func finishedPayload(e events.Event) ([]byte, bool) {
	if e.Source != events.SourceAgent || e.Kind != events.KindConversationFinished {
		return nil, false
	}
	out := make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		out[k] = v
	}
	out["finished_at"] = e.Timestamp.UTC().Format(time.RFC3339)
	b, err := json.Marshal(out)
	if err != nil {
		return nil, false
	}
	return b, true
}

func (c *Client) runStatusLoop(ctx context.Context) {
	if c.status == nil {
		<-ctx.Done()
		return
	}
	interval := time.Duration(c.cfg.StatusIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.publishStatus(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.publishStatus(ctx)
		}
	}
}

func (c *Client) publishStatus(ctx context.Context) {
	cm := c.cm.Load()
	if cm == nil {
		return
	}
	payload, err := json.Marshal(c.buildStatus(time.Now()))
	if err != nil {
		c.logger.Error("mqtt marshal status", "error", err)
		return
	}
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   c.statusTopic(),
		Payload: payload,
		QoS:     0,
		Retain:  true,
	}); err != nil {
		c.logger.Debug("mqtt status publish failed", "error", err)
	}
}

func (c *Client) buildStatus(now time.Time) Status {
	stats := c.status.RouterStats()
	return Status{
		InstanceID:     c.instanceID,
		Version:        c.status.Version(),
		Uptime:         c.status.Uptime().Truncate(time.Second).String(),
		TotalDecisions: stats.TotalDecisions,
		Reasons:        stats.ReasonCounts,
		PublishedAt:    now.UTC(),
	}
}
