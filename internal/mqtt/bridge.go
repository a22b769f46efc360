//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"bax-receiver/internal/bax"
	"bax-receiver/internal/receiver"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	ClientID    string
}

// Receiver is the part of the pipeline the bridge needs.
type Receiver interface {
	Events() *receiver.EventBus
	Rename(address uint32, name string) (receiver.Device, error)
}

// Bridge publishes received sensor packets to MQTT with HA autodiscovery
// and accepts rename requests.
type Bridge struct {
	client pahomqtt.Client
	recv   Receiver
	prefix string
	logger *slog.Logger
	unsub  func()

	mu         sync.Mutex
	states     map[string]map[string]any // address -> property map
	discovered map[string]deviceInfo
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(recv Receiver, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := &Bridge{
		recv:       recv,
		prefix:     cfg.TopicPrefix,
		logger:     logger.With("component", "mqtt"),
		states:     make(map[string]map[string]any),
		discovered: make(map[string]deviceInfo),
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "bax-receiver"
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.publishAllDiscovery()
			b.subscribeRequests()
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
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to receiver events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.recv.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event receiver.Event) {
	switch event.Type {
	case receiver.EventPacket:
		if ev, ok := event.Data.(receiver.PacketEvent); ok {
			b.handlePacket(ev)
		}
	case receiver.EventDeviceRenamed:
		if de, ok := event.Data.(receiver.DeviceEvent); ok {
			b.handleRename(de)
		}
	case receiver.EventDeviceEvicted:
		if de, ok := event.Data.(receiver.DeviceEvent); ok {
			b.handleEvicted(de)
		}
	}
}

func (b *Bridge) handlePacket(ev receiver.PacketEvent) {
	b.publish(b.prefix+"/"+deviceTopicName(deviceInfo{Address: ev.Address})+"/packet", mustJSON(ev), false)
	if ev.Sensor == nil {
		return
	}

	dev := deviceInfo{Address: ev.Address, Name: ev.Name, Kind: ev.TypeName}
	b.mu.Lock()
	state, ok := b.states[ev.Address]
	if !ok {
		state = make(map[string]any)
		b.states[ev.Address] = state
	}
	for k, v := range sensorState(ev) {
		state[k] = v
	}
	payload := mustJSON(state)
	prev, seen := b.discovered[ev.Address]
	announce := !seen || prev != dev
	if announce {
		b.discovered[ev.Address] = dev
	}
	b.mu.Unlock()

	if announce {
		b.publishDeviceDiscovery(dev)
	}
	b.publish(b.prefix+"/"+deviceTopicName(dev), payload, true)
}

func (b *Bridge) handleRename(de receiver.DeviceEvent) {
	b.mu.Lock()
	dev, ok := b.discovered[de.Address]
	if ok {
		dev.Name = de.Name
		b.discovered[de.Address] = dev
	}
	b.mu.Unlock()
	if ok {
		b.publishDeviceDiscovery(dev)
	}
}

func (b *Bridge) handleEvicted(de receiver.DeviceEvent) {
	b.mu.Lock()
	dev, ok := b.discovered[de.Address]
	delete(b.discovered, de.Address)
	delete(b.states, de.Address)
	b.mu.Unlock()
	if !ok {
		return
	}
	for _, msg := range buildRemoveDiscovery(dev) {
		b.publish(msg.Topic, msg.Payload, true)
	}
}

// sensorState maps a decoded sensor packet to HA state properties.
func sensorState(ev receiver.PacketEvent) map[string]any {
	state := map[string]any{
		"rssi":        ev.RSSI,
		"data_number": ev.DataNumber,
		"last_seen":   ev.Time.Format(time.RFC3339),
	}
	if s := ev.Sensor; s != nil {
		state["temperature"] = *ev.Temp
		state["humidity"] = *ev.Humidity
		state["battery_voltage"] = s.BatteryMV
		state["illuminance"] = s.LightLux
		state["tx_power"] = s.TxPowerDBm
		state["pir_counts"] = s.PIRCounts
		state["pir_energy"] = s.PIREnergy
		state["switch"] = s.SwitchCount
	}
	return state
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.prefix+"/bridge/state", []byte(state), true)
}

func (b *Bridge) publishAllDiscovery() {
	b.mu.Lock()
	devs := make([]deviceInfo, 0, len(b.discovered))
	for _, d := range b.discovered {
		devs = append(devs, d)
	}
	b.mu.Unlock()
	for _, d := range devs {
		b.publishDeviceDiscovery(d)
	}
}

func (b *Bridge) publishDeviceDiscovery(dev deviceInfo) {
	for _, msg := range buildDiscovery(dev, b.prefix) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.logger.Info("published HA discovery", "address", dev.Address, "name", deviceDisplayName(dev))
}

// renameRequest is the payload of <prefix>/bridge/request/rename.
type renameRequest struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

type renameResponse struct {
	Status string           `json:"status"`
	Error  string           `json:"error,omitempty"`
	Device *receiver.Device `json:"device,omitempty"`
}

func (b *Bridge) subscribeRequests() {
	topic := b.prefix + "/bridge/request/rename"
	b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		resp := b.handleRenameRequest(msg.Payload())
		b.publish(b.prefix+"/bridge/response/rename", mustJSON(resp), false)
	})
}

func (b *Bridge) handleRenameRequest(payload []byte) renameResponse {
	var req renameRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logger.Warn("invalid rename JSON", "err", err)
		return renameResponse{Status: "error", Error: "invalid JSON"}
	}
	addr, err := bax.ParseAddress(req.Address)
	if err != nil {
		return renameResponse{Status: "error", Error: err.Error()}
	}
	dev, err := b.recv.Rename(addr, req.Name)
	if err != nil {
		b.logger.Warn("rename failed", "address", req.Address, "err", err)
		return renameResponse{Status: "error", Error: err.Error()}
	}
	return renameResponse{Status: "ok", Device: &dev}
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

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
