//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"strings"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/sensor/bax_00A1B2C3/temperature/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	Device            haDevice `json:"device"`
}

// deviceInfo is what discovery needs to know about a sensor.
type deviceInfo struct {
	Address string
	Name    string
	// Kind is the sensor packet type name, e.g. "sensor_pir".
	Kind string
}

// deviceDisplayName returns a display name for the device.
func deviceDisplayName(dev deviceInfo) string {
	if dev.Name != "" {
		return dev.Name
	}
	return "BAX " + dev.Address
}

// deviceIdentifier returns the unique identifier for HA device registry.
func deviceIdentifier(dev deviceInfo) string {
	return "bax_" + dev.Address
}

// deviceTopicName returns the topic name for a device. The address is used
// rather than the name so topics survive renames.
func deviceTopicName(dev deviceInfo) string {
	return strings.ToLower(dev.Address)
}

// sensorEntity describes one HA sensor published for every BAX sensor.
type sensorEntity struct {
	objectID, suffix, deviceClass, unit, stateClass string
}

var sensorEntities = []sensorEntity{
	{"temperature", "Temperature", "temperature", "°C", "measurement"},
	{"humidity", "Humidity", "humidity", "%", "measurement"},
	{"battery_voltage", "Battery", "voltage", "mV", "measurement"},
	{"illuminance", "Illuminance", "illuminance", "lx", "measurement"},
	{"rssi", "RSSI", "signal_strength", "dBm", "measurement"},
}

// buildDiscovery generates HA discovery messages for a sensor device.
func buildDiscovery(dev deviceInfo, prefix string) []discoveryMsg {
	avail := prefix + "/bridge/state"
	stateTopic := prefix + "/" + deviceTopicName(dev)
	nodeID := deviceIdentifier(dev)
	displayName := deviceDisplayName(dev)

	haDev := haDevice{
		Identifiers:  []string{nodeID},
		Manufacturer: "BAX",
		Model:        dev.Kind,
		Name:         displayName,
	}

	var msgs []discoveryMsg
	for _, e := range sensorEntities {
		msgs = append(msgs, buildSensor(nodeID, displayName, stateTopic, avail, haDev,
			e.objectID, e.suffix, e.deviceClass, e.unit, e.stateClass,
			"{{ value_json."+e.objectID+" }}"))
	}

	switch dev.Kind {
	case "sensor_pir":
		msgs = append(msgs, buildSensor(nodeID, displayName, stateTopic, avail, haDev,
			"pir_counts", "PIR Counts", "", "", "total_increasing",
			"{{ value_json.pir_counts }}"))
		msgs = append(msgs, buildBinarySensor(nodeID, displayName, stateTopic, avail, haDev,
			"occupancy", "Occupancy", "occupancy",
			"{{ 'ON' if value_json.pir_energy > 0 else 'OFF' }}"))
	case "sensor_switch":
		msgs = append(msgs, buildSensor(nodeID, displayName, stateTopic, avail, haDev,
			"switch", "Switch Count", "", "", "total_increasing",
			"{{ value_json.switch }}"))
	}
	return msgs
}

func buildSensor(nodeID, displayName, stateTopic, avail string, haDev haDevice,
	objectID, suffix, deviceClass, unit, stateClass, valueTmpl string) discoveryMsg {

	topic := fmt.Sprintf("homeassistant/sensor/%s/%s/config", nodeID, objectID)
	payload := haDiscovery{
		Name:              displayName + " " + suffix,
		UniqueID:          nodeID + "_" + objectID,
		StateTopic:        stateTopic,
		AvailabilityTopic: avail,
		ValueTemplate:     valueTmpl,
		UnitOfMeasurement: unit,
		DeviceClass:       deviceClass,
		StateClass:        stateClass,
		Device:            haDev,
	}
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

func buildBinarySensor(nodeID, displayName, stateTopic, avail string, haDev haDevice,
	objectID, suffix, deviceClass, valueTmpl string) discoveryMsg {

	topic := fmt.Sprintf("homeassistant/binary_sensor/%s/%s/config", nodeID, objectID)
	payload := haDiscovery{
		Name:              displayName + " " + suffix,
		UniqueID:          nodeID + "_" + objectID,
		StateTopic:        stateTopic,
		AvailabilityTopic: avail,
		ValueTemplate:     valueTmpl,
		DeviceClass:       deviceClass,
		PayloadOn:         "ON",
		PayloadOff:        "OFF",
		Device:            haDev,
	}
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

// buildRemoveDiscovery generates empty retained messages to remove a device from HA.
func buildRemoveDiscovery(dev deviceInfo) []discoveryMsg {
	nodeID := deviceIdentifier(dev)

	components := []struct{ comp, obj string }{
		{"sensor", "pir_counts"},
		{"sensor", "switch"},
		{"binary_sensor", "occupancy"},
	}
	for _, e := range sensorEntities {
		components = append(components, struct{ comp, obj string }{"sensor", e.objectID})
	}

	var msgs []discoveryMsg
	for _, c := range components {
		msgs = append(msgs, discoveryMsg{
			Topic:   fmt.Sprintf("homeassistant/%s/%s/%s/config", c.comp, nodeID, c.obj),
			Payload: nil, // empty retained = delete
		})
	}
	return msgs
}
