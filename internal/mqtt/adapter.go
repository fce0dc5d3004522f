// Package mqtt connects the assistant to a home-automation MQTT broker.
//
// paho delivers callbacks on its own goroutines. Those callbacks never touch
// application state; they only flip the atomic connected flag and push
// Events onto a FIFO that the foreground drains with Next.
package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/loqalabs/mg-assistant/internal/config"
	"github.com/loqalabs/mg-assistant/internal/queue"
)

var (
	ErrNotConnected = errors.New("mqtt not connected")
	ErrConnect      = errors.New("mqtt connect failed")
	ErrPublish      = errors.New("mqtt publish failed")
)

// EventType tags an Event.
type EventType int

const (
	EventMessage EventType = iota
	EventConnected
	EventConnectionLost
	EventSubscribeFailed
)

// Message is one inbound publication.
type Message struct {
	Topic      string    `json:"topic"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// Event is what the network goroutines hand to the foreground.
type Event struct {
	Type    EventType
	Message Message
	Detail  string
}

// Client is the subset of paho.Client the adapter uses.
type Client interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

// ClientFactory builds a Client from options. Tests swap it for a fake.
type ClientFactory func(opts *paho.ClientOptions) Client

func defaultFactory(opts *paho.ClientOptions) Client {
	return paho.NewClient(opts)
}

type Adapter struct {
	cfg     config.MQTTConfig
	log     *slog.Logger
	factory ClientFactory

	mu     sync.Mutex
	client Client
	broker Broker

	connected atomic.Bool
	events    *queue.FIFO[Event]
}

func NewAdapter(cfg config.MQTTConfig, log *slog.Logger) *Adapter {
	return &Adapter{
		cfg:     cfg,
		log:     log.With(slog.String("component", "mqtt")),
		factory: defaultFactory,
		events:  queue.New[Event](),
	}
}

// WithClientFactory replaces the paho client constructor.
func (a *Adapter) WithClientFactory(f ClientFactory) *Adapter {
	a.factory = f
	return a
}

// Connect dials the broker named by brokerURL. paho runs the network loop
// asynchronously; the connected flag is set by the connect acknowledgement
// handler, not by this call.
func (a *Adapter) Connect(brokerURL string) error {
	broker, err := ParseBroker(brokerURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker.URI()).
		SetClientID(a.clientID()).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(a.connectTimeout()).
		SetOnConnectHandler(a.handleConnect).
		SetConnectionLostHandler(a.handleConnectionLost).
		SetDefaultPublishHandler(a.handleMessage)
	if broker.TLS {
		opts.SetTLSConfig(&tls.Config{ServerName: broker.Host, MinVersion: tls.VersionTLS12})
	}

	client := a.factory(opts)
	a.mu.Lock()
	prev := a.client
	a.client = client
	a.broker = broker
	a.mu.Unlock()

	// A replaced client keeps its network loop running until told otherwise.
	if prev != nil {
		a.connected.Store(false)
		prev.Disconnect(250)
		a.log.Info("mqtt previous client disconnected")
	}

	token := client.Connect()
	if !token.WaitTimeout(a.connectTimeout()) {
		a.drop(client)
		return fmt.Errorf("%w: timed out connecting to %s", ErrConnect, broker.URI())
	}
	if err := token.Error(); err != nil {
		a.drop(client)
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}
	a.log.Info("mqtt connect requested", slog.String("broker", broker.URI()))
	return nil
}

// drop forgets client if it is still current and stops its network loop.
func (a *Adapter) drop(client Client) {
	a.mu.Lock()
	if a.client == client {
		a.client = nil
	}
	a.mu.Unlock()
	client.Disconnect(0)
}

func (a *Adapter) clientID() string {
	if a.cfg.ClientID != "" {
		return a.cfg.ClientID
	}
	return "mg-assistant-" + strconv.FormatInt(time.Now().UnixNano(), 36)
}

func (a *Adapter) connectTimeout() time.Duration {
	return time.Duration(a.cfg.ConnectTimeoutMS) * time.Millisecond
}

func (a *Adapter) publishTimeout() time.Duration {
	return time.Duration(a.cfg.PublishTimeoutMS) * time.Millisecond
}

func (a *Adapter) handleConnect(paho.Client) {
	// An ack that lands after Disconnect must not resurrect the session.
	client := a.currentClient()
	if client == nil {
		return
	}
	a.connected.Store(true)
	a.events.Push(Event{Type: EventConnected, Detail: "Connected to MQTT Broker"})

	token := client.Subscribe(a.cfg.SubscribeTopic, 0, a.handleMessage)
	// Waiting here would stall paho's connect path; check the result off-thread.
	go func() {
		if !token.WaitTimeout(a.connectTimeout()) {
			return
		}
		if err := token.Error(); err != nil {
			a.log.Warn("mqtt subscribe failed", slog.String("topic", a.cfg.SubscribeTopic), slog.String("error", err.Error()))
			a.events.Push(Event{Type: EventSubscribeFailed, Detail: err.Error()})
		}
	}()
}

func (a *Adapter) handleConnectionLost(_ paho.Client, err error) {
	a.connected.Store(false)
	detail := "connection lost"
	if err != nil {
		detail = err.Error()
	}
	a.log.Warn("mqtt connection lost", slog.String("error", detail))
	a.events.Push(Event{Type: EventConnectionLost, Detail: detail})
}

func (a *Adapter) handleMessage(_ paho.Client, msg paho.Message) {
	a.events.Push(Event{
		Type: EventMessage,
		Message: Message{
			Topic:      msg.Topic(),
			Payload:    decodePayload(msg.Payload()),
			ReceivedAt: time.Now().UTC(),
		},
	})
}

func decodePayload(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return fmt.Sprintf("%q", b)
}

// Publish sends payload to topic at QoS 0. It fails fast when the broker
// has not acknowledged the connection.
func (a *Adapter) Publish(topic string, payload []byte) error {
	client := a.currentClient()
	if client == nil || !a.connected.Load() {
		return ErrNotConnected
	}
	token := client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(a.publishTimeout()) {
		return fmt.Errorf("%w: timed out publishing to %s", ErrPublish, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}
	return nil
}

// Disconnect is idempotent and never fails.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	client := a.client
	a.client = nil
	a.mu.Unlock()

	a.connected.Store(false)
	if client == nil {
		return
	}
	client.Disconnect(250)
	a.log.Info("mqtt disconnected")
}

func (a *Adapter) Connected() bool {
	return a.connected.Load()
}

// Next pops one pending event without blocking.
func (a *Adapter) Next() (Event, bool) {
	return a.events.TryPop()
}

func (a *Adapter) currentClient() Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client
}
