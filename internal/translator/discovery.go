package translator

import (
	"fmt"
	"log/slog"

	"apertus/pkg/utils"
	"apertus/pkg/wire"
)

// Discovery descriptors follow the Home Assistant MQTT discovery schema:
// one retained config payload per entity, grouped onto one device per node.
// Republishing identical content is idempotent client-side because the
// uniq_id is stable and the topic is retained.

type deviceBlock struct {
	Identifiers []string `json:"identifiers"`
	Name        string   `json:"name"`
}

type coverConfig struct {
	Name         string      `json:"name"`
	UniqID       string      `json:"uniq_id"`
	CommandTopic string      `json:"command_topic"`
	StateTopic   string      `json:"state_topic"`
	PayloadOpen  string      `json:"payload_open"`
	PayloadClose string      `json:"payload_close"`
	PayloadStop  string      `json:"payload_stop"`
	QoS          int         `json:"qos"`
	Device       deviceBlock `json:"device"`
}

type sensorConfig struct {
	Name        string      `json:"name"`
	UniqID      string      `json:"uniq_id"`
	StateTopic  string      `json:"state_topic"`
	Unit        string      `json:"unit_of_measurement,omitempty"`
	DeviceClass string      `json:"device_class,omitempty"`
	PayloadOn   string      `json:"payload_on,omitempty"`
	PayloadOff  string      `json:"payload_off,omitempty"`
	Device      deviceBlock `json:"device"`
}

type discoveryMessage struct {
	topic   string
	payload any
}

// discoveryMessages builds every descriptor for one node id.
func (t *Translator) discoveryMessages(nodeID string) []discoveryMessage {
	nodeName := "Apertus_" + nodeID
	device := deviceBlock{
		Identifiers: []string{"apertus_" + nodeID},
		Name:        nodeName,
	}

	base := t.cfg.BaseTopic + "/" + nodeID
	prefix := t.cfg.DiscoveryPrefix

	// topicSlug names the discovery topic, uniqSlug the stable entity id;
	// both are fixed by the deployed entity registry and must not change.
	sensor := func(topicSlug, uniqSlug, name, field, unit string) discoveryMessage {
		return discoveryMessage{
			topic: fmt.Sprintf("%s/sensor/apertus_%s_%s/config", prefix, nodeID, topicSlug),
			payload: sensorConfig{
				Name:       nodeName + " " + name,
				UniqID:     fmt.Sprintf("apertus_%s_%s", uniqSlug, nodeID),
				StateTopic: base + "/" + field,
				Unit:       unit,
				Device:     device,
			},
		}
	}

	msgs := []discoveryMessage{
		{
			topic: fmt.Sprintf("%s/cover/apertus_%s/config", prefix, nodeID),
			payload: coverConfig{
				Name:         nodeName,
				UniqID:       "apertus_cover_" + nodeID,
				CommandTopic: base + "/cmd",
				StateTopic:   base + "/state",
				PayloadOpen:  string(wire.CommandOpen),
				PayloadClose: string(wire.CommandClose),
				PayloadStop:  string(wire.CommandStop),
				QoS:          1,
				Device:       device,
			},
		},
		sensor("battery", "batt", "Battery", "battery_voltage", "V"),
		sensor("solar", "solar", "Solar", "solar_voltage", "V"),
		sensor("rssi", "rssi", "RSSI", "rssi", "dBm"),
		sensor("radio_temp", "radiotemp", "Radio Temp", "radio_temp_c", "°C"),
		sensor("battery_pct", "battpct", "Battery %", "battery_pct", "%"),
		{
			topic: fmt.Sprintf("%s/binary_sensor/apertus_%s_photo/config", prefix, nodeID),
			payload: sensorConfig{
				Name:        nodeName + " Photoeye Blocked",
				UniqID:      "apertus_photo_" + nodeID,
				StateTopic:  base + "/photoeye_blocked",
				DeviceClass: "safety",
				PayloadOn:   "1",
				PayloadOff:  "0",
				Device:      device,
			},
		},
	}

	return msgs
}

// publishDiscovery publishes every retained descriptor for one node.
func (t *Translator) publishDiscovery(nodeID string) {
	for _, msg := range t.discoveryMessages(nodeID) {
		payload, err := utils.ToJSON(msg.payload)
		if err != nil {
			t.l.Error("failed to encode discovery payload", utils.ErrAttr(err))
			continue
		}

		if err := t.bus.Publish(msg.topic, payload, true); err != nil {
			t.l.Warn("discovery publish failed", slog.String("topic", msg.topic), utils.ErrAttr(err))
			continue
		}

		t.metrics.DiscoveryPublished.Inc()
	}
}

// PublishAllDiscovery republishes descriptors for every known node. Called
// at startup, on bus reconnect, and when the bridge reports ready.
func (t *Translator) PublishAllDiscovery() {
	for _, nodeID := range t.knownNodes() {
		t.publishDiscovery(nodeID)
	}
}
