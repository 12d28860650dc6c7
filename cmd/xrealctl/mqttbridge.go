package main

import (
	"encoding/json"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	xreal "github.com/xreal-go/glasses"
	"github.com/xreal-go/glasses/internal/config"
)

// mqttBridge republishes SessionState, BiasState, and TrackingSample
// updates as JSON onto an MQTT broker, in the direction opposite
// console_mqtt.go's subscriber: this module is the data source, so it
// publishes rather than subscribes.
type mqttBridge struct {
	client       mqtt.Client
	unsubscribes []func()
}

func startMQTTBridge(c *xreal.Client, cfg *config.Config) (*mqttBridge, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID("xrealctl-publisher")

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	log.Printf("xrealctl: connected to MQTT broker at %s", cfg.MQTTBroker)

	prefix := cfg.MQTTTopicPrefix
	b := &mqttBridge{client: client}

	sessionID, sessionCh := c.SessionStates().Subscribe(8)
	b.unsubscribes = append(b.unsubscribes, func() { c.SessionStates().Unsubscribe(sessionID) })
	go func() {
		for s := range sessionCh {
			b.publish(prefix+"/session", s)
		}
	}()

	biasID, biasCh := c.BiasStates().Subscribe(8)
	b.unsubscribes = append(b.unsubscribes, func() { c.BiasStates().Unsubscribe(biasID) })
	go func() {
		for s := range biasCh {
			b.publish(prefix+"/bias", s)
		}
	}()

	poseID, poseCh := c.Tracking().Subscribe(32)
	b.unsubscribes = append(b.unsubscribes, func() { c.Tracking().Unsubscribe(poseID) })
	go func() {
		for s := range poseCh {
			b.publish(prefix+"/pose", s)
		}
	}()

	return b, nil
}

func (b *mqttBridge) publish(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("xrealctl: mqtt marshal error on %s: %v", topic, err)
		return
	}
	token := b.client.Publish(topic, 0, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		log.Printf("xrealctl: mqtt publish error on %s: %v", topic, err)
	}
}

func (b *mqttBridge) stop() {
	for _, unsub := range b.unsubscribes {
		unsub()
	}
	b.client.Disconnect(250)
}
