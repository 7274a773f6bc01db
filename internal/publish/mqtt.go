package publish

import (
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/shaunagostinho/pytes-bridge/internal/config"
)

const (
	statusOnline  = "online"
	statusOffline = "offline"
)

// MQTTSink publishes each value to <prefix>/<entity>/state and keeps a
// retained <prefix>/status topic with the bridge's availability.
type MQTTSink struct {
	cfg    config.MQTTConfig
	client mqtt.Client
}

func NewMQTTSink(cfg config.MQTTConfig) *MQTTSink {
	s := &MQTTSink{cfg: cfg}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID(cfg.ClientID))
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetWill(s.statusTopic(), statusOffline, byte(cfg.QoS), true)

	opts.OnConnect = func(c mqtt.Client) {
		log.Printf("[mqtt] connected to %s", cfg.Broker)
		c.Publish(s.statusTopic(), byte(cfg.QoS), true, statusOnline)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Printf("[mqtt] connection lost: %v", err)
	}

	s.client = mqtt.NewClient(opts)
	return s
}

// clientID appends a random suffix to base.
func clientID(base string) string {
	if base == "" {
		base = "pytes-bridge"
	}
	return base + "-" + uuid.NewString()[:8]
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Connect() error {
	tok := s.client.Connect()
	if !tok.WaitTimeout(15 * time.Second) {
		return fmt.Errorf("connect %s: timeout", s.cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("connect %s: %w", s.cfg.Broker, err)
	}
	return nil
}

func (s *MQTTSink) Close() error {
	if s.client.IsConnected() {
		tok := s.client.Publish(s.statusTopic(), byte(s.cfg.QoS), true, statusOffline)
		tok.WaitTimeout(2 * time.Second)
	}
	s.client.Disconnect(250)
	return nil
}

func (s *MQTTSink) Publish(t Target, values []Value) {
	if !s.client.IsConnected() {
		return
	}
	for _, v := range values {
		topic := s.stateTopic(v.Entity)
		tok := s.client.Publish(topic, byte(s.cfg.QoS), s.cfg.Retain, v.Payload())
		go func(topic string) {
			if tok.WaitTimeout(5*time.Second) && tok.Error() != nil {
				log.Printf("[mqtt] publish %s (%s): %v", topic, t, tok.Error())
			}
		}(topic)
	}
}

func (s *MQTTSink) SetAvailable(up bool) {
	if !s.client.IsConnected() {
		return
	}
	payload := statusOffline
	if up {
		payload = statusOnline
	}
	s.client.Publish(s.statusTopic(), byte(s.cfg.QoS), true, payload)
}

func (s *MQTTSink) statusTopic() string {
	return topicJoin(s.cfg.TopicPrefix, "status")
}

func (s *MQTTSink) stateTopic(entity string) string {
	return topicJoin(s.cfg.TopicPrefix, sanitizeTopic(entity), "state")
}

func topicJoin(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

// sanitizeTopic replaces characters MQTT reserves for wildcards and levels.
func sanitizeTopic(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '+', '#', '/', ' ', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
}
