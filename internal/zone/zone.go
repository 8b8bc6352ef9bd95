// Package zone decides which Home Assistant entities a zone switch tracks and
// whether that switch is on.
package zone

import (
	"strings"

	"github.com/clambin/go-common/set"

	"github.com/jkaflik/zoneworker/hass"
)

// Match selects how the room of a Selector is compared to entities.
type Match string

const (
	// MatchArea compares the entity's registry area with the selector's area id.
	MatchArea Match = "area"
	// MatchName looks for the room token in the entity's object id.
	MatchName Match = "name"
)

// Valid reports whether m is a known match mode.
func (m Match) Valid() bool {
	return m == MatchArea || m == MatchName
}

// Entity is a single entity of the current world.
type Entity struct {
	ID     string
	Domain string
	AreaID string
	State  string
}

// NewEntity builds an Entity and derives its domain from the id.
func NewEntity(id, areaID, state string) Entity {
	return Entity{ID: id, Domain: hass.Domain(id), AreaID: areaID, State: state}
}

// Selector describes the entities a switch tracks.
type Selector struct {
	Room    string
	AreaID  string
	Match   Match
	Domains []string
	Include []string
	Exclude []string
}

// Slug lowercases s and replaces spaces with underscores, the way Home
// Assistant builds object ids from names.
func Slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), "_")
}

func (s Selector) inRoom(e Entity) bool {
	switch s.Match {
	case MatchName:
		token := Slug(s.Room)
		if token == "" {
			return false
		}
		_, objectID := hass.SplitEntityID(e.ID)
		return strings.Contains(strings.ToLower(objectID), token)
	default:
		return s.AreaID != "" && e.AreaID == s.AreaID
	}
}

// Resolve returns the sorted ids of the entities tracked by sel.
//
// An entity is tracked when its domain is selected and it is in the room.
// Explicit includes are always tracked, even when they are not part of the
// world yet. Explicit excludes are never tracked and win over includes.
func Resolve(world []Entity, sel Selector) []string {
	domains := set.New(sel.Domains...)
	exclude := set.New(sel.Exclude...)

	tracked := set.New[string]()
	for _, e := range world {
		if e.Domain == "" || !domains.Contains(e.Domain) {
			continue
		}
		if sel.inRoom(e) {
			tracked.Add(e.ID)
		}
	}
	for _, id := range sel.Include {
		if id != "" {
			tracked.Add(id)
		}
	}

	ids := make([]string, 0, len(tracked))
	for _, id := range tracked.ListOrdered() {
		if !exclude.Contains(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Aggregate reports whether at least one of ids is on. Entities unknown to
// lookup count as off.
func Aggregate(ids []string, lookup func(id string) (state string, ok bool)) bool {
	for _, id := range ids {
		if state, ok := lookup(id); ok && hass.IsOn(state) {
			return true
		}
	}
	return false
}
