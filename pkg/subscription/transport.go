package subscription

import (
	"crypto/tls"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// brokerSession is the slice of the MQTT session the client uses.
// It exists so tests can substitute the broker transport.
type brokerSession interface {
	// Subscribe issues a topic filter subscription at QoS 0.
	Subscribe(filter string) error

	// Unsubscribe removes a topic filter subscription.
	Unsubscribe(filter string) error

	// Disconnect closes the session.
	Disconnect()
}

// sessionConfig carries everything needed to establish one authenticated
// broker session.
type sessionConfig struct {
	// URL is the broker URL (e.g. "ssl://mq-eu.ecouser.net:8883").
	URL string

	// ClientID, Username, and Password authenticate the session.
	ClientID string
	Username string
	Password string

	// OnMessage is invoked for every inbound publish.
	OnMessage func(topic string, payload []byte)

	// OnLost is invoked once when an established session drops.
	OnLost func(err error)
}

// dialFunc establishes a broker session. The production implementation
// is dialMQTT; tests substitute their own.
type dialFunc func(cfg sessionConfig) (brokerSession, error)

// dialMQTT connects to the broker with paho. Automatic reconnection is
// disabled; the Client drives reconnects itself so re-subscription and
// backoff stay under its control.
func dialMQTT(cfg sessionConfig) (brokerSession, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		// The vendor broker presents a certificate that does not verify
		// against public roots.
		SetTLSConfig(&tls.Config{InsecureSkipVerify: true}).
		SetAutoReconnect(false).
		SetCleanSession(true).
		SetConnectTimeout(30 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			cfg.OnLost(err)
		}).
		SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
			cfg.OnMessage(msg.Topic(), msg.Payload())
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &mqttSession{client: client, onMessage: cfg.OnMessage}, nil
}

// mqttSession adapts a paho client to brokerSession.
type mqttSession struct {
	client    mqtt.Client
	onMessage func(topic string, payload []byte)
}

func (s *mqttSession) Subscribe(filter string) error {
	token := s.client.Subscribe(filter, 0, func(_ mqtt.Client, msg mqtt.Message) {
		s.onMessage(msg.Topic(), msg.Payload())
	})
	token.Wait()
	return token.Error()
}

func (s *mqttSession) Unsubscribe(filter string) error {
	token := s.client.Unsubscribe(filter)
	token.Wait()
	return token.Error()
}

func (s *mqttSession) Disconnect() {
	s.client.Disconnect(250)
}
