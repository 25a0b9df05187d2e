package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

const (
	qos            = 1
	publishTimeout = 5 * time.Second
)

var ErrQueueFull = errors.New("publish queue full")

// Handler receives a message from a subscribed topic.
type Handler func(topic string, payload []byte)

type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	WillTopic   string
	WillPayload []byte

	QueueSize int

	OnConnect        func()
	OnConnectionLost func(err error)
}

// conn is the part of the paho client used here.
type conn interface {
	Connect() mqtt.Token
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Disconnect(quiesce uint)
}

type outbound struct {
	topic    string
	retained bool
	payload  []byte
}

// Client wraps the broker connection. Publishing never blocks the caller:
// messages are queued and sent by Run, and dropped when the queue is full.
type Client struct {
	conn  conn
	queue chan outbound
	opts  Options

	mu   sync.Mutex
	subs map[string]Handler
}

func New(opts Options) *Client {
	c := newClient(opts)

	mo := mqtt.NewClientOptions()
	mo.AddBroker(opts.BrokerURL)
	mo.SetClientID(opts.ClientID)
	mo.SetUsername(opts.Username)
	mo.SetPassword(opts.Password)
	mo.SetAutoReconnect(true)
	mo.SetConnectRetry(true)
	mo.SetConnectRetryInterval(5 * time.Second)
	mo.SetCleanSession(true)
	if opts.WillTopic != "" {
		mo.SetBinaryWill(opts.WillTopic, opts.WillPayload, qos, true)
	}
	mo.SetOnConnectHandler(func(mqtt.Client) { c.onConnect() })
	mo.SetConnectionLostHandler(func(_ mqtt.Client, err error) { c.onConnectionLost(err) })

	c.conn = mqtt.NewClient(mo)
	return c
}

func newClient(opts Options) *Client {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	return &Client{
		queue: make(chan outbound, opts.QueueSize),
		opts:  opts,
		subs:  make(map[string]Handler),
	}
}

// Connect starts connecting in the background; paho keeps retrying until the
// broker is reachable.
func (c *Client) Connect() {
	log.Info().Str("broker", c.opts.BrokerURL).Str("client_id", c.opts.ClientID).Msg("Connecting to MQTT broker")
	c.conn.Connect()
}

func (c *Client) Connected() bool {
	return c.conn.IsConnected()
}

// Subscribe registers handler for topic. Subscriptions are renewed on every reconnect.
func (c *Client) Subscribe(topic string, handler Handler) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	if !c.conn.IsConnected() {
		return nil
	}
	return c.subscribe(topic, handler)
}

func (c *Client) subscribe(topic string, handler Handler) error {
	token := c.conn.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	log.Info().Str("topic", topic).Msg("Subscribed")
	return nil
}

func (c *Client) onConnect() {
	log.Info().Str("broker", c.opts.BrokerURL).Msg("Connected to MQTT broker")

	c.mu.Lock()
	subs := make(map[string]Handler, len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	c.mu.Unlock()

	// paho runs this on its own goroutine, so waiting on tokens is fine here
	for topic, h := range subs {
		if err := c.subscribe(topic, h); err != nil {
			log.Error().Err(err).Msg("Failed to resubscribe")
		}
	}
	if c.opts.OnConnect != nil {
		c.opts.OnConnect()
	}
}

func (c *Client) onConnectionLost(err error) {
	log.Warn().Err(err).Msg("MQTT connection lost")
	if c.opts.OnConnectionLost != nil {
		c.opts.OnConnectionLost(err)
	}
}

// Publish queues a message for delivery.
func (c *Client) Publish(topic string, retained bool, payload []byte) error {
	select {
	case c.queue <- outbound{topic: topic, retained: retained, payload: payload}:
		return nil
	default:
		return fmt.Errorf("%s: %w", topic, ErrQueueFull)
	}
}

// PublishNow sends a message and waits for the broker, bypassing the queue.
func (c *Client) PublishNow(topic string, retained bool, payload []byte, timeout time.Duration) error {
	token := c.conn.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	return token.Error()
}

// Run sends queued messages until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-c.queue:
			if err := c.PublishNow(msg.topic, msg.retained, msg.payload, publishTimeout); err != nil {
				log.Warn().Err(err).Str("topic", msg.topic).Msg("Publish failed")
			}
		}
	}
}

func (c *Client) Disconnect() {
	c.conn.Disconnect(250)
	log.Info().Msg("Disconnected from MQTT broker")
}
