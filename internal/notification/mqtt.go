package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/teashop/storefront/internal/conf"
	"github.com/teashop/storefront/internal/errors"
	"github.com/teashop/storefront/internal/logger"
	"github.com/teashop/storefront/internal/marketing"
)

const (
	defaultMQTTTimeout     = 10 * time.Second
	defaultMQTTTopicPrefix = "teashop/notifications"
)

// MQTTPayload is the JSON document published per notification.
type MQTTPayload struct {
	UserID        uint      `json:"user_id"`
	Title         string    `json:"title,omitempty"`
	Body          string    `json:"body"`
	HTML          bool      `json:"html,omitempty"`
	CorrelationID string    `json:"correlation_id"`
	SentAt        time.Time `json:"sent_at"`
}

// MQTTProvider publishes notifications to <prefix>/<userID> for a
// storefront bot process to relay.
type MQTTProvider struct {
	client  paho.Client
	prefix  string
	qos     byte
	timeout time.Duration
	log     logger.Logger
}

// NewMQTTProvider connects to the broker.
func NewMQTTProvider(settings conf.MQTTSettings, log logger.Logger) (*MQTTProvider, error) {
	if settings.Broker == "" {
		return nil, errors.Newf("mqtt broker is not configured").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	timeout := settings.Timeout.Std()
	if timeout <= 0 {
		timeout = defaultMQTTTimeout
	}
	clientID := settings.ClientID
	if clientID == "" {
		clientID = "teashop-marketing-" + uuid.NewString()[:8]
	}
	prefix := strings.TrimRight(settings.TopicPrefix, "/")
	if prefix == "" {
		prefix = defaultMQTTTopicPrefix
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(settings.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(settings.Username)
	opts.SetPassword(settings.Password)
	opts.SetConnectTimeout(timeout)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn("mqtt connection lost", logger.Error(err))
	})
	opts.SetOnConnectHandler(func(paho.Client) {
		log.Info("mqtt connected", logger.String("broker", settings.Broker))
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return nil, errors.Newf("mqtt connect to %s timed out after %s", settings.Broker, timeout).
			Component(componentName).
			Category(errors.CategoryTimeout).
			Build()
	}
	if err := token.Error(); err != nil {
		return nil, errors.Newf("mqtt connect to %s: %w", settings.Broker, err).
			Component(componentName).
			Category(errors.CategoryNetwork).
			Build()
	}

	return &MQTTProvider{
		client:  client,
		prefix:  prefix,
		qos:     byte(settings.QoS),
		timeout: timeout,
		log:     log,
	}, nil
}

func (p *MQTTProvider) Name() string { return ProviderMQTT }

// Topic returns the topic notifications for userID are published to.
func (p *MQTTProvider) Topic(userID uint) string {
	return p.prefix + "/" + strconv.FormatUint(uint64(userID), 10)
}

// Send publishes msg and waits for the broker acknowledgement.
func (p *MQTTProvider) Send(ctx context.Context, userID uint, msg marketing.Message) (string, error) {
	payload, err := json.Marshal(MQTTPayload{
		UserID:        userID,
		Title:         msg.Title,
		Body:          msg.Body,
		HTML:          msg.HTML,
		CorrelationID: msg.CorrelationID,
		SentAt:        time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode mqtt payload: %w", err)
	}

	topic := p.Topic(userID)
	token := p.client.Publish(topic, p.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(p.timeout):
		return "", errors.Newf("mqtt publish to %s timed out after %s", topic, p.timeout).
			Component(componentName).
			Category(errors.CategoryTimeout).
			Build()
	}
	if err := token.Error(); err != nil {
		return "", errors.Newf("mqtt publish to %s: %w", topic, err).
			Component(componentName).
			Category(errors.CategoryNetwork).
			Build()
	}
	return "mqtt:" + topic, nil
}

// Close disconnects from the broker, waiting briefly for in-flight publishes.
func (p *MQTTProvider) Close() error {
	p.client.Disconnect(250)
	return nil
}
