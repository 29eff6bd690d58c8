//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"civ-go-home/internal/civ"
	"civ-go-home/internal/radio"
	"civ-go-home/internal/station"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
	Discovery   bool // publish Home Assistant discovery on connect
}

// Bridge mirrors radio state to retained MQTT topics and accepts commands
// on <prefix>/<radio>/set.
type Bridge struct {
	client    pahomqtt.Client
	station   *station.Station
	prefix    string
	discovery bool
	logger    *slog.Logger
	unsub     func()
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(st *station.Station, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(st, cfg, logger)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "civ-go-home"
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(b.prefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			if b.discovery {
				b.publishAllDiscovery()
			}
			b.publishAllStates()
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

func newBridge(st *station.Station, cfg Config, logger *slog.Logger) *Bridge {
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "civ"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		station:   st,
		prefix:    prefix,
		discovery: cfg.Discovery,
		logger:    logger.With("component", "mqtt"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to station events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.station.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

// handleEvent runs on the station goroutine; publishing only queues.
func (b *Bridge) handleEvent(event station.Event) {
	if event.Type == station.EventExchangeError {
		b.publish(b.stateTopic(event.Radio)+"/error", mustJSON(event.Data), false)
		return
	}
	b.publishState(event.Radio)
}

func (b *Bridge) stateTopic(name string) string {
	return b.prefix + "/" + topicName(name)
}

func (b *Bridge) publishState(name string) {
	snap, err := b.station.Snapshot(name)
	if err != nil {
		return
	}
	b.publish(b.stateTopic(name), mustJSON(snap), true)
}

func (b *Bridge) publishAllStates() {
	for _, snap := range b.station.Snapshots() {
		b.publish(b.stateTopic(snap.Name), mustJSON(snap), true)
	}
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.prefix+"/bridge/state", []byte(state), true)
}

func (b *Bridge) publishAllDiscovery() {
	for _, snap := range b.station.Snapshots() {
		for _, msg := range buildDiscovery(snap, b.prefix) {
			b.publish(msg.Topic, msg.Payload, true)
		}
		b.logger.Info("published HA discovery", "radio", snap.Name)
	}
}

func (b *Bridge) subscribeCommands() {
	for _, name := range b.station.Names() {
		b.client.Subscribe(b.stateTopic(name)+"/set", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			b.handleCommand(name, msg.Payload())
		})
	}
}

// command is the JSON accepted on the set topic. Fields may be combined;
// they apply in the order power, mode, clock.
type command struct {
	Power     string `json:"power,omitempty"`
	Mode      string `json:"mode,omitempty"`
	SyncClock bool   `json:"sync_clock,omitempty"`

	power radio.PowerRequest
	mode  civ.Mode
}

var errEmptyCommand = errors.New("mqtt: command has no action")

func parseCommand(payload []byte) (*command, error) {
	var cmd command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return nil, fmt.Errorf("mqtt: command json: %w", err)
	}
	if cmd.Power == "" && cmd.Mode == "" && !cmd.SyncClock {
		return nil, errEmptyCommand
	}
	if cmd.Power != "" {
		p, err := radio.ParsePowerRequest(cmd.Power)
		if err != nil {
			return nil, err
		}
		cmd.power = p
	}
	if cmd.Mode != "" {
		m, err := civ.ParseMode(cmd.Mode)
		if err != nil {
			return nil, err
		}
		cmd.mode = m
	}
	return &cmd, nil
}

func (b *Bridge) handleCommand(name string, payload []byte) {
	cmd, err := parseCommand(payload)
	if err != nil {
		b.logger.Warn("invalid command", "radio", name, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
	defer cancel()

	if cmd.Power != "" {
		state, err := b.station.SetPower(ctx, name, cmd.power)
		if err != nil {
			b.logger.Warn("power command failed", "radio", name, "err", err)
		} else {
			b.logger.Info("power command", "radio", name, "request", cmd.Power, "state", state.String())
		}
	}
	if cmd.Mode != "" {
		if err := b.station.SetMode(ctx, name, cmd.mode); err != nil {
			b.logger.Warn("mode command failed", "radio", name, "err", err)
		}
	}
	if cmd.SyncClock {
		if err := b.station.SyncClock(ctx, name); err != nil {
			b.logger.Warn("clock command failed", "radio", name, "err", err)
		}
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
