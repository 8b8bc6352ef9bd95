package hass

import "strings"

const (
	EntitySwitch        = "switch"
	EntityLight         = "light"
	EntityFan           = "fan"
	EntityCover         = "cover"
	EntityMediaPlayer   = "media_player"
	EntitySensor        = "sensor"
	EntityBinarySensor  = "binary_sensor"
	EntityInputBoolean  = "input_boolean"
	EntityAutomation    = "automation"
	EntityScene         = "scene"
	EntityScript        = "script"
	EntityDeviceTracker = "device_tracker"
	EntityPerson        = "person"
	EntityZone          = "zone"
	EntityClimate       = "climate"
	EntityGroup         = "group"

	// DomainHomeAssistant is the service domain of the generic turn_on/turn_off
	// services that work across entity domains.
	DomainHomeAssistant = "homeassistant"
)

const (
	BooleanOnValue    = "on"
	BooleanOffValue   = "off"
	BooleanTrueValue  = "true"
	BooleanFalseValue = "false"

	UnknownValue     = "unknown"
	UnavailableValue = "unavailable"
)

const (
	ServiceTurnOn  = "turn_on"
	ServiceTurnOff = "turn_off"
	ServiceToggle  = "toggle"
)

// SplitEntityID splits an entity ID in the format domain.object_id.
// IDs without a dot have an empty domain.
func SplitEntityID(entityID string) (domain, objectID string) {
	domain, objectID, ok := strings.Cut(entityID, ".")
	if !ok {
		return "", entityID
	}
	return domain, objectID
}

// Domain returns the domain part of an entity ID.
func Domain(entityID string) string {
	domain, _ := SplitEntityID(entityID)
	return domain
}

// IsOn reports whether a state value is the "on" token.
func IsOn(state string) bool {
	return state == BooleanOnValue
}

// IsUnknown reports whether a state value carries no information.
func IsUnknown(state string) bool {
	switch state {
	case "", UnknownValue, UnavailableValue:
		return true
	default:
	}

	return false
}
