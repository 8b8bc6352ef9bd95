package worker

import (
	"slices"
	"strings"

	"github.com/jkaflik/zoneworker/internal/zone"
)

const (
	namePrefix     = "Zone Worker"
	objectIDPrefix = "zone_worker"
	switchDomain   = "switch"
)

// Switch is the public view of a zone switch.
type Switch struct {
	ID       string   `json:"id" yaml:"id"`
	ObjectID string   `json:"object_id" yaml:"object_id"`
	Name     string   `json:"name" yaml:"name"`
	EntryID  string   `json:"entry_id" yaml:"entry_id"`
	Room     string   `json:"room" yaml:"room"`
	Domain   string   `json:"domain,omitempty" yaml:"domain,omitempty"`
	On       bool     `json:"on" yaml:"on"`
	Tracked  []string `json:"tracked" yaml:"tracked"`
}

type zoneSwitch struct {
	Switch
	selector zone.Selector
}

func (s *zoneSwitch) snapshot() Switch {
	out := s.Switch
	out.Tracked = slices.Clone(s.Tracked)
	return out
}

func (s *zoneSwitch) tracks(id string) bool {
	_, found := slices.BinarySearch(s.Tracked, id)
	return found
}

// IsZoneSwitch reports whether id is an entity created by a zone switch.
func IsZoneSwitch(id string) bool {
	return strings.HasPrefix(id, switchDomain+"."+objectIDPrefix+"_")
}

// ObjectID builds the object id of the switch of a room and optionally a
// single domain.
func ObjectID(room, domain string) string {
	parts := []string{objectIDPrefix, sanitize(room)}
	if domain != "" {
		parts = append(parts, sanitize(domain))
	}
	return strings.Join(parts, "_")
}

func sanitize(s string) string {
	s = zone.Slug(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func switchName(room, domain string) string {
	if domain == "" {
		return namePrefix + " " + room
	}
	return namePrefix + " " + room + " " + domain
}
