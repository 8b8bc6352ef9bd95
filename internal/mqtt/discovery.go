package mqtt

import (
	"github.com/goccy/go-json"

	"github.com/jkaflik/zoneworker/internal/worker"
)

const (
	component = "zoneworker"

	PayloadOn      = "ON"
	PayloadOff     = "OFF"
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Topics builds the topics of published switches.
type Topics struct {
	DiscoveryPrefix string
}

func (t Topics) Availability() string {
	return component + "/status"
}

func (t Topics) Config(objectID string) string {
	return t.DiscoveryPrefix + "/switch/" + component + "/" + objectID + "/config"
}

func (t Topics) State(objectID string) string {
	return component + "/" + objectID + "/state"
}

func (t Topics) Attributes(objectID string) string {
	return component + "/" + objectID + "/attributes"
}

func (t Topics) Command(objectID string) string {
	return component + "/" + objectID + "/set"
}

// CommandWildcard matches the command topic of every switch.
func (t Topics) CommandWildcard() string {
	return component + "/+/set"
}

// ObjectIDFromCommand extracts the object id from a command topic.
func (t Topics) ObjectIDFromCommand(topic string) (string, bool) {
	const prefix, suffix = component + "/", "/set"
	if len(topic) <= len(prefix)+len(suffix) || topic[:len(prefix)] != prefix || topic[len(topic)-len(suffix):] != suffix {
		return "", false
	}
	return topic[len(prefix) : len(topic)-len(suffix)], true
}

type DeviceInfo struct {
	Identifiers   []string `json:"identifiers"`
	Name          string   `json:"name"`
	Manufacturer  string   `json:"manufacturer"`
	Model         string   `json:"model"`
	SuggestedArea string   `json:"suggested_area,omitempty"`
}

type OriginInfo struct {
	Name string `json:"name"`
}

// SwitchConfig is the MQTT discovery payload of a switch.
type SwitchConfig struct {
	Name                string     `json:"name"`
	UniqueID            string     `json:"unique_id"`
	ObjectID            string     `json:"object_id"`
	StateTopic          string     `json:"state_topic"`
	CommandTopic        string     `json:"command_topic"`
	AvailabilityTopic   string     `json:"availability_topic"`
	JSONAttributesTopic string     `json:"json_attributes_topic"`
	PayloadOn           string     `json:"payload_on"`
	PayloadOff          string     `json:"payload_off"`
	StateOn             string     `json:"state_on"`
	StateOff            string     `json:"state_off"`
	Icon                string     `json:"icon,omitempty"`
	Device              DeviceInfo `json:"device"`
	Origin              OriginInfo `json:"origin"`
}

type attributes struct {
	EntryID         string   `json:"entry_id"`
	Room            string   `json:"room"`
	Domain          string   `json:"domain,omitempty"`
	TrackedEntities []string `json:"tracked_entities"`
}

func (t Topics) switchConfig(sw worker.Switch) SwitchConfig {
	return SwitchConfig{
		Name:                sw.Name,
		UniqueID:            component + "_" + sw.ObjectID,
		ObjectID:            sw.ObjectID,
		StateTopic:          t.State(sw.ObjectID),
		CommandTopic:        t.Command(sw.ObjectID),
		AvailabilityTopic:   t.Availability(),
		JSONAttributesTopic: t.Attributes(sw.ObjectID),
		PayloadOn:           PayloadOn,
		PayloadOff:          PayloadOff,
		StateOn:             PayloadOn,
		StateOff:            PayloadOff,
		Icon:                "mdi:home-group",
		Device: DeviceInfo{
			Identifiers:   []string{component + "_" + sw.EntryID},
			Name:          "Zone Worker " + sw.Room,
			Manufacturer:  "zoneworker",
			Model:         "Zone Worker",
			SuggestedArea: sw.Room,
		},
		Origin: OriginInfo{Name: component},
	}
}

func stateJSON(sw worker.Switch) ([]byte, error) {
	tracked := sw.Tracked
	if tracked == nil {
		tracked = []string{}
	}
	return json.Marshal(attributes{
		EntryID:         sw.EntryID,
		Room:            sw.Room,
		Domain:          sw.Domain,
		TrackedEntities: tracked,
	})
}

func statePayload(on bool) string {
	if on {
		return PayloadOn
	}
	return PayloadOff
}
