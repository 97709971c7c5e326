package health

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/bbernstein/lacylights-outputs/internal/logger"
)

// ClientAPI is the part of an MQTT client the sink needs.
type ClientAPI interface {
	PublishWith(topic string, payload []byte, retain bool) error
	Disconnect()
}

// MQTTClient wraps a connected paho client.
type MQTTClient struct {
	cli mqtt.Client
}

// NewMQTTClient connects to broker (for example tcp://localhost:1883).
func NewMQTTClient(broker, clientID string, log *logger.Log) (*MQTTClient, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Fields{"module": "mqtt", "broker": broker})

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.OnConnect = func(mqtt.Client) { log.Info("mqtt connected") }
	opts.OnConnectionLost = func(_ mqtt.Client, err error) { log.Errorf("mqtt connection lost: %v", err) }

	cli := mqtt.NewClient(opts)
	if t := cli.Connect(); t.Wait() && t.Error() != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: %w", broker, t.Error())
	}
	return &MQTTClient{cli: cli}, nil
}

// PublishWith publishes payload at QoS 0.
func (c *MQTTClient) PublishWith(topic string, payload []byte, retain bool) error {
	t := c.cli.Publish(topic, 0, retain, payload)
	if t.Wait() && t.Error() != nil {
		return t.Error()
	}
	return nil
}

// Disconnect closes the connection, waiting briefly for pending work.
func (c *MQTTClient) Disconnect() {
	c.cli.Disconnect(250)
}

// MQTTSink publishes each event as retained JSON on <topic>/<controller name>.
type MQTTSink struct {
	client ClientAPI
	topic  string
}

// NewMQTTSink creates a sink publishing under topic.
func NewMQTTSink(client ClientAPI, topic string) *MQTTSink {
	return &MQTTSink{client: client, topic: strings.TrimSuffix(topic, "/")}
}

// Topic returns the topic an event for name is published on.
func (s *MQTTSink) Topic(name string) string {
	// '+' and '#' are wildcards and '/' would split the level.
	r := strings.NewReplacer("/", "_", "+", "_", "#", "_")
	return s.topic + "/" + r.Replace(name)
}

// Notify implements Sink.
func (s *MQTTSink) Notify(_ context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return s.client.PublishWith(s.Topic(ev.Name), payload, true)
}

// Forget implements Forgetter by clearing the retained message.
func (s *MQTTSink) Forget(_ context.Context, name string) error {
	return s.client.PublishWith(s.Topic(name), nil, true)
}
