package util

import (
	"fmt"
	"strings"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
)

const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

var Client MQTT.Client

var subscriptions map[string]MQTT.MessageHandler

var connectHandlers map[string]func(MQTT.Client)

// Topic joins parts under the configured topic_base.
func Topic(parts ...string) string {
	base := strings.TrimSuffix(Config.GetString("topic_base"), "/")
	if len(parts) == 0 {
		return base
	}
	return base + "/" + strings.Join(parts, "/")
}

func AvailabilityTopic() string {
	return Topic("online")
}

var connectHandler MQTT.OnConnectHandler = func(client MQTT.Client) {
	Logger.Info().Msg("Connected")
	subscribe(client)
	client.Publish(AvailabilityTopic(), 0, false, PayloadOnline).Wait()
	if connectHandlers == nil {
		connectHandlers = make(map[string]func(client MQTT.Client))
	}
	for _, handler := range connectHandlers {
		handler(client)
	}
}

func RegisterMQTTConnectHook(name string, handler func(MQTT.Client)) {
	if connectHandlers == nil {
		connectHandlers = make(map[string]func(client MQTT.Client))
	}
	if handler == nil {
		delete(connectHandlers, name)
	} else {
		connectHandlers[name] = handler
	}
}

func subscribe(client MQTT.Client) {
	if subscriptions == nil {
		subscriptions = make(map[string]MQTT.MessageHandler)
	}
	for topic, handler := range subscriptions {
		if token := client.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
			Logger.Error().Msgf("Error Subscribing to %v: %v", topic, token.Error())
		}
	}
}

// RegisterMQTTSubscription records a subscription that is (re)made on every
// connect. A nil handler removes it.
func RegisterMQTTSubscription(topic string, handler MQTT.MessageHandler) {
	if subscriptions == nil {
		subscriptions = make(map[string]MQTT.MessageHandler)
	}
	if handler == nil {
		delete(subscriptions, topic)
	} else {
		subscriptions[topic] = handler
	}
}

// ClearMQTTSubscriptions drops every registered subscription, used before
// re-registering when topic_base changes.
func ClearMQTTSubscriptions() {
	subscriptions = make(map[string]MQTT.MessageHandler)
}

// Publish sends payload on topic if a connected client exists.
func Publish(topic string, retained bool, payload interface{}) error {
	if Client == nil || !Client.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	if token := Client.Publish(topic, 0, retained, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

func receiver(client MQTT.Client, message MQTT.Message) {
	Logger.Warn().Msgf("Received message on %v but no handler", message.Topic())
}

var connectLostHandler MQTT.ConnectionLostHandler = func(client MQTT.Client, err error) {
	Logger.Info().Msgf("Connect lost: %v", err)
}

func mqttOptions() *MQTT.ClientOptions {
	opts := MQTT.NewClientOptions()
	opts.AddBroker(Config.GetString("broker_uri"))
	opts.SetClientID(Config.GetString("id_base") + "_" + GetRandString(6))
	opts.SetUsername(Config.GetString("username"))
	opts.SetPassword(Config.GetString("password"))
	opts.SetCleanSession(Config.GetBool("cleansess"))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	// handlers publish and wait on tokens, which deadlocks with ordered delivery
	opts.SetOrderMatters(false)
	opts.SetWill(AvailabilityTopic(), PayloadOffline, 0, false)
	opts.OnConnectionLost = connectLostHandler
	opts.OnConnect = connectHandler
	opts.SetDefaultPublishHandler(receiver)
	return opts
}

// MqttInit (re)creates Client from Config. The broker may be down; the client
// keeps retrying in the background and subscriptions are made on connect.
func MqttInit() {
	opts := mqttOptions()

	if Client != nil {
		Logger.Debug().Msg("Client exists - destroying")
		if Client.IsConnected() {
			Client.Disconnect(1000)
		}
		Client = nil
	}

	Client = MQTT.NewClient(opts)

	token := Client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		Logger.Warn().Msgf("broker %v not reachable yet, retrying in background", Config.GetString("broker_uri"))
		return
	}
	if token.Error() != nil {
		Logger.Error().Msgf("Error connecting to broker: %v", token.Error())
	}
}
