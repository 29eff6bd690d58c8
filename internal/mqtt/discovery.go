//go:build !no_mqtt

package mqtt

import (
	"strings"

	"civ-go-home/internal/civ"
	"civ-go-home/internal/station"
)

// discoveryPrefix is the Home Assistant discovery root.
const discoveryPrefix = "homeassistant"

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/switch/civ_hf/power/config"
	Payload []byte // JSON
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
	StateTopic        string   `json:"state_topic,omitempty"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	CommandTemplate   string   `json:"command_template,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	PayloadPress      string   `json:"payload_press,omitempty"`
	StateOn           string   `json:"state_on,omitempty"`
	StateOff          string   `json:"state_off,omitempty"`
	Options           []string `json:"options,omitempty"`
	Icon              string   `json:"icon,omitempty"`
	Device            haDevice `json:"device"`
}

// radioIdentifier returns the unique identifier for the HA device registry.
func radioIdentifier(name string) string {
	return "civ_" + topicName(name)
}

// topicName sanitizes a radio name for use as a topic level.
func topicName(name string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, strings.ToLower(name))
}

// buildDiscovery generates HA discovery messages for one radio.
func buildDiscovery(snap station.Snapshot, prefix string) []discoveryMsg {
	avail := prefix + "/bridge/state"
	stateTopic := prefix + "/" + topicName(snap.Name)
	commandTopic := stateTopic + "/set"
	nodeID := radioIdentifier(snap.Name)

	haDev := haDevice{
		Identifiers:  []string{nodeID},
		Manufacturer: "ICOM",
		Model:        snap.Model.String(),
		Name:         snap.Name,
	}

	msgs := []discoveryMsg{
		{
			Topic: discoveryPrefix + "/switch/" + nodeID + "/power/config",
			Payload: mustJSON(haDiscovery{
				Name:              snap.Name + " Power",
				UniqueID:          nodeID + "_power",
				StateTopic:        stateTopic,
				CommandTopic:      commandTopic,
				AvailabilityTopic: avail,
				ValueTemplate:     "{{ 'ON' if value_json.power == 'on' else 'OFF' }}",
				PayloadOn:         `{"power":"on"}`,
				PayloadOff:        `{"power":"off"}`,
				StateOn:           "ON",
				StateOff:          "OFF",
				Icon:              "mdi:radio-handheld",
				Device:            haDev,
			}),
		},
		{
			Topic: discoveryPrefix + "/sensor/" + nodeID + "/frequency/config",
			Payload: mustJSON(haDiscovery{
				Name:              snap.Name + " Frequency",
				UniqueID:          nodeID + "_frequency",
				StateTopic:        stateTopic,
				AvailabilityTopic: avail,
				ValueTemplate:     "{{ value_json.frequency }}",
				UnitOfMeasurement: "Hz",
				DeviceClass:       "frequency",
				StateClass:        "measurement",
				Device:            haDev,
			}),
		},
		{
			Topic: discoveryPrefix + "/sensor/" + nodeID + "/modulation/config",
			Payload: mustJSON(haDiscovery{
				Name:              snap.Name + " Modulation",
				UniqueID:          nodeID + "_modulation",
				StateTopic:        stateTopic,
				AvailabilityTopic: avail,
				ValueTemplate:     "{{ value_json.modulation }}",
				Icon:              "mdi:sine-wave",
				Device:            haDev,
			}),
		},
	}

	if _, ok := civ.Sequence(snap.Model, civ.ModeData); ok {
		msgs = append(msgs, discoveryMsg{
			Topic: discoveryPrefix + "/select/" + nodeID + "/mode/config",
			Payload: mustJSON(haDiscovery{
				Name:              snap.Name + " Mode",
				UniqueID:          nodeID + "_mode",
				StateTopic:        stateTopic,
				CommandTopic:      commandTopic,
				AvailabilityTopic: avail,
				ValueTemplate:     "{{ value_json.mode }}",
				CommandTemplate:   `{"mode":"{{ value }}"}`,
				Options:           []string{"voice", "data"},
				Device:            haDev,
			}),
		})
	}

	if snap.Model.HasClock() {
		msgs = append(msgs, discoveryMsg{
			Topic: discoveryPrefix + "/button/" + nodeID + "/sync_clock/config",
			Payload: mustJSON(haDiscovery{
				Name:              snap.Name + " Sync Clock",
				UniqueID:          nodeID + "_sync_clock",
				CommandTopic:      commandTopic,
				AvailabilityTopic: avail,
				PayloadPress:      `{"sync_clock":true}`,
				Icon:              "mdi:clock-check",
				Device:            haDev,
			}),
		})
	}

	return msgs
}
