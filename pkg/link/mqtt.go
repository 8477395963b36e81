// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/Thermoquad/fwlift/pkg/otalink"
)

// MQTTChunkSize is the image bytes per chunk over MQTT.
const MQTTChunkSize = 512

// MQTTConfig describes the broker and the device topics.
type MQTTConfig struct {
	BrokerURL string
	DeviceID  string
	// TopicPrefix defaults to "fwlift/<DeviceID>".
	TopicPrefix string
	// ClientID defaults to a random fwlift-<uuid>.
	ClientID string

	Username           string
	Password           string
	InsecureSkipVerify bool

	KeepAlive      uint16
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

func (c *MQTTConfig) setDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "fwlift/" + c.DeviceID
	}
	c.TopicPrefix = strings.TrimSuffix(c.TopicPrefix, "/")
	if c.ClientID == "" {
		c.ClientID = "fwlift-" + uuid.NewString()
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = 30
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
}

// Validate reports a missing broker or device.
func (c *MQTTConfig) Validate() error {
	if c.BrokerURL == "" {
		return fmt.Errorf("broker URL is required")
	}
	if _, err := url.Parse(c.BrokerURL); err != nil {
		return fmt.Errorf("invalid broker URL: %w", err)
	}
	if c.DeviceID == "" && c.TopicPrefix == "" {
		return fmt.Errorf("device ID or topic prefix is required")
	}
	return nil
}

// Topic returns the topic carrying ch.
func (c *MQTTConfig) Topic(ch otalink.Channel) string {
	return c.TopicPrefix + "/ota/" + ch.String()
}

// channelOf maps a received topic back to its channel.
func (c *MQTTConfig) channelOf(topic string) (otalink.Channel, bool) {
	for _, ch := range []otalink.Channel{otalink.ChannelControl, otalink.ChannelUpload, otalink.ChannelReboot} {
		if topic == c.Topic(ch) {
			return ch, true
		}
	}
	return 0, false
}

type mqttSender struct {
	cfg *MQTTConfig
	cm  *autopaho.ConnectionManager
}

func (t *mqttSender) send(m *otalink.Message) error {
	payload, err := otalink.MarshalBody(m)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.PublishTimeout)
	defer cancel()

	_, err = t.cm.Publish(ctx, &paho.Publish{
		Topic:   t.cfg.Topic(m.Channel),
		QoS:     1,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", m.Type, err)
	}
	return nil
}

func (t *mqttSender) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.PublishTimeout)
	defer cancel()
	return t.cm.Disconnect(ctx)
}

// DialMQTT connects to the broker and runs the OTA channels over the device
// topics. It returns once the first connection is up.
func DialMQTT(ctx context.Context, cfg MQTTConfig, opts ...Option) (*OTA, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}
	cfg.setDefaults()
	brokerURL, _ := url.Parse(cfg.BrokerURL)

	tx := &mqttSender{cfg: &cfg}
	o := newOTA(tx, MQTTChunkSize, buildOptions(opts), "mqtt")

	// The host publishes on control and upload too; NoLocal keeps its own
	// messages from coming back.
	subscriptions := []paho.SubscribeOptions{
		{Topic: cfg.Topic(otalink.ChannelUpload), QoS: 1, NoLocal: true},
		{Topic: cfg.Topic(otalink.ChannelReboot), QoS: 1, NoLocal: true},
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     cfg.KeepAlive,
		CleanStartOnInitialConnection: true,
		ReconnectBackoff:              autopaho.NewConstantBackoff(3 * time.Second),
		ConnectTimeout:                cfg.ConnectTimeout,
		ConnectUsername:               cfg.Username,
		ConnectPassword:               []byte(cfg.Password),
		TlsCfg: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			o.log.Info("MQTT connection established", "broker", cfg.BrokerURL)
			if _, err := cm.Subscribe(context.Background(), &paho.Subscribe{Subscriptions: subscriptions}); err != nil {
				o.log.Error(err, "Failed to subscribe to OTA topics", "prefix", cfg.TopicPrefix)
			}
		},
		OnConnectError: func(err error) {
			o.log.Warn("MQTT connection failed, retrying", "error", err.Error())
		},
		ClientConfig: paho.ClientConfig{
			ClientID: cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					o.route(&cfg, pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
			OnClientError: func(err error) {
				o.log.Error(err, "MQTT client error")
			},
		},
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		o.inbox.stop()
		return nil, fmt.Errorf("failed to start MQTT client: %w", err)
	}
	tx.cm = cm

	awaitCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := cm.AwaitConnection(awaitCtx); err != nil {
		_ = o.Close()
		return nil, fmt.Errorf("MQTT broker %s unreachable: %w", cfg.BrokerURL, err)
	}

	return o, nil
}

// route decodes a message received on one of the device topics.
func (o *OTA) route(cfg *MQTTConfig, topic string, payload []byte) {
	ch, ok := cfg.channelOf(topic)
	if !ok {
		o.log.Debug("Received message on unhandled topic", "topic", topic)
		return
	}
	m, err := otalink.UnmarshalBody(ch, payload)
	if err != nil {
		o.log.Debug("Dropping undecodable message", "topic", topic, "reason", err.Error())
		return
	}
	o.deliver(m)
}
