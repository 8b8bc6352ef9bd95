package hass

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

const (
	MessageTypeResult       = "result"
	MessageTypeAuthRequired = "auth_required"
	MessageTypeAuthOK       = "auth_ok"
	MessageTypeAuthInvalid  = "auth_invalid"
	MessageTypeEvent        = "event"
	MessageTypePong         = "pong"

	MessageTypeAuth              = "auth"
	MessageTypeSubscribeEvents   = "subscribe_events"
	MessageTypeUnsubscribeEvents = "unsubscribe_events"
	MessageTypeGetStates         = "get_states"
	MessageTypeCallService       = "call_service"
	MessageTypePing              = "ping"

	MessageTypeAreaRegistryList   = "config/area_registry/list"
	MessageTypeEntityRegistryList = "config/entity_registry/list"
	MessageTypeDeviceRegistryList = "config/device_registry/list"
)

type BaseMessage struct {
	ID   int    `json:"id,omitempty"`
	Type string `json:"type"`
}

type ResultMessage struct {
	BaseMessage
	Success bool                `json:"success"`
	Result  json.RawMessage     `json:"result,omitempty"`
	Error   *ResultMessageError `json:"error,omitempty"`
}

type ResultMessageError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *ResultMessageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AuthMessage is a message sent to Home Assistant to authenticate.
// Type is "auth".
type AuthMessage struct {
	BaseMessage
	AccessToken string `json:"access_token"`
}

// AuthRequiredMessage is a message sent by Home Assistant when authentication is required.
// Type is "auth_required".
type AuthRequiredMessage struct {
	BaseMessage
	Version string `json:"ha_version"`
}

type AuthOKMessage struct {
	BaseMessage
	Version string `json:"ha_version"`
}

type AuthInvalidMessage struct {
	BaseMessage
	Message string `json:"message"`
}

type SubscribeEventsMessage struct {
	BaseMessage
	EventType EventType `json:"event_type,omitempty"`
}

type UnsubscribeEventsMessage struct {
	BaseMessage
	Subscription int `json:"subscription"`
}

type CallServiceMessage struct {
	BaseMessage
	Domain      string         `json:"domain"`
	Service     string         `json:"service"`
	ServiceData map[string]any `json:"service_data,omitempty"`
	Target      *ServiceTarget `json:"target,omitempty"`
}

// ServiceTarget selects the entities, devices or areas a service call acts on.
type ServiceTarget struct {
	EntityID []string `json:"entity_id,omitempty"`
	DeviceID []string `json:"device_id,omitempty"`
	AreaID   []string `json:"area_id,omitempty"`
}

type EventMessage struct {
	BaseMessage
	Event Event `json:"event"`
}

type EventType string

const (
	EventTypeStateChanged          EventType = "state_changed"
	EventTypeAreaRegistryUpdated   EventType = "area_registry_updated"
	EventTypeEntityRegistryUpdated EventType = "entity_registry_updated"
	EventTypeDeviceRegistryUpdated EventType = "device_registry_updated"
)

type State struct {
	EntityID     string          `json:"entity_id"`
	State        string          `json:"state"`
	Attributes   json.RawMessage `json:"attributes,omitempty"`
	LastChanged  time.Time       `json:"last_changed"`
	LastUpdated  time.Time       `json:"last_updated"`
	LastReported *time.Time      `json:"last_reported,omitempty"`
	Context      EventContext    `json:"context"`
}

// FriendlyName returns the friendly_name attribute, if any.
func (s *State) FriendlyName() string {
	if len(s.Attributes) == 0 {
		return ""
	}

	var attrs struct {
		FriendlyName string `json:"friendly_name"`
	}
	if err := json.Unmarshal(s.Attributes, &attrs); err != nil {
		return ""
	}
	return attrs.FriendlyName
}

type EventData struct {
	EntityID string `json:"entity_id"`
	OldState *State `json:"old_state"`
	NewState *State `json:"new_state"`
}

type EventContext struct {
	ID       string  `json:"id"`
	ParentID *string `json:"parent_id"`
	UserID   *string `json:"user_id"`
}

type Event struct {
	EventType EventType    `json:"event_type"`
	TimeFired time.Time    `json:"time_fired"`
	Origin    string       `json:"origin"`
	Context   EventContext `json:"context"`
	Data      EventData    `json:"data"`
}

// AreaRegistryEntry is one area as returned by config/area_registry/list.
type AreaRegistryEntry struct {
	AreaID  string   `json:"area_id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
	FloorID *string  `json:"floor_id,omitempty"`
}

// EntityRegistryEntry is one entity as returned by config/entity_registry/list.
type EntityRegistryEntry struct {
	EntityID     string  `json:"entity_id"`
	AreaID       *string `json:"area_id"`
	DeviceID     *string `json:"device_id"`
	Platform     string  `json:"platform"`
	Name         *string `json:"name"`
	OriginalName *string `json:"original_name"`
	DisabledBy   *string `json:"disabled_by"`
	HiddenBy     *string `json:"hidden_by"`
}

// DeviceRegistryEntry is one device as returned by config/device_registry/list.
type DeviceRegistryEntry struct {
	ID         string  `json:"id"`
	AreaID     *string `json:"area_id"`
	Name       *string `json:"name"`
	NameByUser *string `json:"name_by_user"`
}

func UnmarshalMessage(raw []byte) (interface{}, error) {
	var m BaseMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal base message: %w", err)
	}

	switch m.Type {
	case MessageTypeResult:
		var m ResultMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result message: %w", err)
		}
		return &m, nil
	case MessageTypeAuthRequired:
		var m AuthRequiredMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal auth required message: %w", err)
		}
		return &m, nil
	case MessageTypeAuthOK:
		var m AuthOKMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal auth ok message: %w", err)
		}
		return &m, nil
	case MessageTypeAuthInvalid:
		var m AuthInvalidMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal auth invalid message: %w", err)
		}
		return &m, nil
	case MessageTypeEvent:
		var m EventMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event message: %w", err)
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("unknown message type: %s", m.Type)
	}
}
