package uplink

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sony/gobreaker"
)

// MQTTConfig describes the broker connection and send behavior.
type MQTTConfig struct {
	Broker      string // e.g. "tcp://host:1883"
	ClientID    string
	Username    string
	Password    string
	Topic       string
	QoS         byte
	MaxPayload  int
	SendTimeout time.Duration
}

// MQTT transmits payloads over an MQTT broker. A circuit breaker guards
// the broker: while it is open, sends resolve to StatusBusy immediately
// so the loop queues the payload instead of burning duty cycle on a
// link that keeps failing.
type MQTT struct {
	cfg     MQTTConfig
	client  mqtt.Client
	breaker *gobreaker.CircuitBreaker
}

var _ Gateway = (*MQTT)(nil)

var errSendTimeout = errors.New("uplink: send timed out")

// NewMQTT connects to the broker, retrying with exponential backoff.
func NewMQTT(cfg MQTTConfig) (*MQTT, error) {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = 51
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Printf("Failed to connect to MQTT broker: %v", token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithMaxRetries(bo, 4))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection after retries: %w", err)
	}
	log.Printf("Connected to MQTT broker at %s", cfg.Broker)

	return &MQTT{
		cfg:    cfg,
		client: client,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "uplink",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
		}),
	}, nil
}

// IsProvisioned reports whether the broker connection is up.
func (m *MQTT) IsProvisioned() bool { return m.client.IsConnected() }

// MaxPayloadSize returns the configured payload limit.
func (m *MQTT) MaxPayloadSize() int { return m.cfg.MaxPayload }

// Send publishes the payload asynchronously and resolves the returned
// handle when the broker acknowledges, fails, or the breaker rejects.
func (m *MQTT) Send(payload []byte) *Pending {
	p := &Pending{}
	body := append([]byte(nil), payload...)

	go func() {
		_, err := m.breaker.Execute(func() (any, error) {
			token := m.client.Publish(m.cfg.Topic, m.cfg.QoS, false, body)
			if !token.WaitTimeout(m.cfg.SendTimeout) {
				return nil, errSendTimeout
			}
			return nil, token.Error()
		})
		switch {
		case err == nil:
			p.resolve(StatusSuccess)
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			p.resolve(StatusBusy)
		default:
			log.Printf("uplink: publish failed: %v", err)
			p.resolve(StatusFailure)
		}
	}()

	return p
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	if m.client.IsConnected() {
		m.client.Disconnect(250)
		log.Println("MQTT client disconnected")
	}
}
