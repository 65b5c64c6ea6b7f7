package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/magnetprobe/internal/monitoring"
)

const (
	mqttQoS            = 1
	mqttConnectTimeout = 10 * time.Second
	mqttQuiesceMillis  = 250
)

// MQTTOptions selects the broker and topic a subscriber listens on.
type MQTTOptions struct {
	Broker   string
	Topic    string
	ClientID string
}

// MQTTSubscriber applies every JSON message published on a topic as an
// update.
type MQTTSubscriber struct {
	opts    MQTTOptions
	handler *Handler
	client  mqtt.Client
	// handleTimeout bounds a single update, which includes the broadcast.
	handleTimeout time.Duration
}

// NewMQTTSubscriber builds a subscriber for opts. Nothing connects until Run.
func NewMQTTSubscriber(opts MQTTOptions, h *Handler) (*MQTTSubscriber, error) {
	if opts.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	if opts.Topic == "" {
		return nil, errors.New("mqtt topic is required")
	}
	s := &MQTTSubscriber{opts: opts, handler: h, handleTimeout: 30 * time.Second}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(true).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			monitoring.Logf("mqtt: connection to %s lost: %v", opts.Broker, err)
		})
	s.client = mqtt.NewClient(clientOpts)
	return s, nil
}

// onConnect (re)subscribes after every successful connect, so the
// subscription survives broker restarts.
func (s *MQTTSubscriber) onConnect(c mqtt.Client) {
	monitoring.Logf("mqtt: connected to %s, subscribing to %s", s.opts.Broker, s.opts.Topic)
	token := c.Subscribe(s.opts.Topic, mqttQoS, s.onMessage)
	go func() {
		if token.WaitTimeout(mqttConnectTimeout) && token.Error() != nil {
			monitoring.Logf("mqtt: subscribe to %s failed: %v", s.opts.Topic, token.Error())
		}
	}()
}

// onMessage runs on the paho router goroutine. With order-matters set,
// messages are handled one at a time in arrival order.
func (s *MQTTSubscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.handleTimeout)
	defer cancel()
	_ = s.handler.Handle(ctx, msg.Payload())
}

// Run connects and blocks until ctx is done, then disconnects.
func (s *MQTTSubscriber) Run(ctx context.Context) error {
	token := s.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect to %s: %w", s.opts.Broker, err)
		}
	case <-ctx.Done():
		s.client.Disconnect(mqttQuiesceMillis)
		return ctx.Err()
	}

	<-ctx.Done()
	if s.client.IsConnected() {
		s.client.Unsubscribe(s.opts.Topic).WaitTimeout(time.Second)
	}
	s.client.Disconnect(mqttQuiesceMillis)
	return ctx.Err()
}
