package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/devilrob/felshare-cloud/internal/cloud"
	"github.com/devilrob/felshare-cloud/internal/infrastructure/config"
	"github.com/devilrob/felshare-cloud/internal/infrastructure/logging"
)

// publishTimeout bounds how long a publish waits for the broker ack.
const publishTimeout = 5 * time.Second

// MessageHandler receives raw payloads from a subscribed topic.
//
// Handlers are invoked on paho's router goroutine and must not block;
// the hub copies the payload and returns immediately.
type MessageHandler func(payload []byte)

// Handlers routes inbound traffic to the hub.
type Handlers struct {
	// DeviceFrame receives device report payloads (rxd topic).
	DeviceFrame MessageHandler

	// AppTraffic receives command-topic payloads (txd) when template
	// learning is enabled.
	AppTraffic MessageHandler

	// Thermostat receives thermostat state events when a thermostat
	// topic is configured.
	Thermostat MessageHandler
}

// Connector dials broker sessions and routes device traffic.
//
// It implements cloud.Connector for the connection manager and
// hub.Publisher for outbound commands. One Connector survives across
// sessions; Publish targets whichever session is currently live.
type Connector struct {
	cfg             config.MQTTConfig
	deviceID        string
	origin          string
	thermostatTopic string
	learning        bool
	handlers        Handlers
	logger          *logging.Logger

	current atomic.Pointer[session]
}

// NewConnector creates a Connector for one device.
//
// Parameters:
//   - cfg: Broker configuration
//   - deviceID: Vendor device identifier (topic suffix and client id base)
//   - origin: Origin header value the broker expects
//   - thermostatTopic: Thermostat event topic, empty to skip
//   - learning: Also subscribe to the command topic for template learning
func NewConnector(cfg config.MQTTConfig, deviceID, origin, thermostatTopic string,
	learning bool, handlers Handlers, logger *logging.Logger) *Connector {
	return &Connector{
		cfg:             cfg,
		deviceID:        deviceID,
		origin:          origin,
		thermostatTopic: thermostatTopic,
		learning:        learning,
		handlers:        handlers,
		logger:          logger.With("component", "mqtt"),
	}
}

// Connect dials one broker session with the given cloud token.
//
// Returns:
//   - cloud.Conn: The live session; its Done channel yields the terminal
//     error when the broker drops us
//   - error: cloud.ErrBrokerAuth if the broker refused the token
func (c *Connector) Connect(ctx context.Context, token string) (cloud.Conn, error) {
	s := &session{done: make(chan error, 1)}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("wss://%s:%d%s", c.cfg.Host, c.cfg.Port, c.cfg.WSPath))
	opts.SetClientID(c.deviceID + c.cfg.ClientIDSuffix + c.cfg.InstanceID)
	opts.SetUsername(c.cfg.Username)
	opts.SetPassword(c.cfg.Password)
	opts.SetProtocolVersion(4)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(c.cfg.KeepAlive())
	opts.SetConnectTimeout(c.cfg.ConnectTimeout())
	opts.SetAutoReconnect(false)
	opts.SetHTTPHeaders(http.Header{
		"Cookie": []string{"token=" + token},
		"Origin": []string{c.origin},
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.logger.Warn("session lost", "error", err)
		c.current.CompareAndSwap(s, nil)
		s.finish(classify(err))
	})

	client := pahomqtt.NewClient(opts)
	s.client = client

	tok := client.Connect()
	if !tok.WaitTimeout(c.cfg.ConnectTimeout() + time.Second) {
		client.Disconnect(0)
		return nil, fmt.Errorf("%w: handshake timeout", ErrConnectionFailed)
	}
	if err := tok.Error(); err != nil {
		client.Disconnect(0)
		return nil, classify(err)
	}

	if err := c.subscribe(client); err != nil {
		client.Disconnect(0)
		return nil, err
	}

	c.current.Store(s)
	c.logger.Info("session established", "device_id", c.deviceID)
	return s, nil
}

// Publish sends a payload to the device's command topic on the current
// session.
func (c *Connector) Publish(payload []byte) error {
	s := c.current.Load()
	if s == nil {
		return ErrNotConnected
	}
	tok := s.client.Publish(DeviceTxd(c.deviceID), 0, false, payload)
	if !tok.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: publish timeout", ErrConnectionFailed)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt: publish: %w", err)
	}
	return nil
}

// subscribe wires the device's report topic, the command topic when
// template learning is on, and the thermostat topic when configured.
func (c *Connector) subscribe(client pahomqtt.Client) error {
	subs := map[string]MessageHandler{
		DeviceRxd(c.deviceID): c.handlers.DeviceFrame,
	}
	if c.learning {
		subs[DeviceTxd(c.deviceID)] = c.handlers.AppTraffic
	}
	if c.thermostatTopic != "" {
		subs[c.thermostatTopic] = c.handlers.Thermostat
	}

	for topic, handler := range subs {
		h := handler
		tok := client.Subscribe(topic, 0, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			if h != nil {
				h(msg.Payload())
			}
		})
		if !tok.WaitTimeout(publishTimeout) {
			return fmt.Errorf("%w: subscribe timeout on %s", ErrConnectionFailed, topic)
		}
		if err := tok.Error(); err != nil {
			return fmt.Errorf("mqtt: subscribe %s: %w", topic, err)
		}
	}
	return nil
}

// session is one broker connection, reported to the manager as a
// cloud.Conn.
type session struct {
	client pahomqtt.Client
	done   chan error
	once   sync.Once
}

func (s *session) Done() <-chan error {
	return s.done
}

func (s *session) Close() error {
	s.client.Disconnect(250)
	s.finish(nil)
	return nil
}

func (s *session) finish(err error) {
	s.once.Do(func() {
		s.done <- err
	})
}

// classify maps paho handshake failures onto the manager's taxonomy.
// Reason codes 4 and 5 mean the token, not the network, is the problem.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pahomqtt.ErrNotConnected) {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "bad user name or password") ||
		strings.Contains(msg, "not authorized") ||
		strings.Contains(msg, "not authorised") {
		return fmt.Errorf("%w: %w", cloud.ErrBrokerAuth, err)
	}
	return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
}
