package entry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jkaflik/zoneworker/internal/zone"
)

func TestEntry_Effective(t *testing.T) {
	e := &Entry{
		Data: Data{
			RoomName:        "Kitchen",
			AreaID:          "kitchen",
			Domains:         []string{"light", "switch"},
			IncludeEntities: []string{"fan.hall"},
			ExcludeEntities: []string{},
		},
	}

	d := e.Effective()
	assert.Equal(t, zone.MatchArea, d.Match)
	assert.Equal(t, []string{"light", "switch"}, d.Domains)
	assert.Equal(t, []string{"fan.hall"}, d.IncludeEntities)

	e.Options = Options{Domains: []string{"light"}, IncludeEntities: []string{}}
	d = e.Effective()
	assert.Equal(t, []string{"light"}, d.Domains)
	assert.Empty(t, d.IncludeEntities)
	assert.Equal(t, []string{}, d.ExcludeEntities)

	// the result does not alias the entry
	d.Domains[0] = "fan"
	assert.Equal(t, []string{"light"}, e.Options.Domains)
}

func TestData_Selector(t *testing.T) {
	d := Data{
		RoomName:        "Living Room",
		AreaID:          "living_room",
		Match:           zone.MatchName,
		Domains:         []string{"light"},
		IncludeEntities: []string{"a.b"},
		ExcludeEntities: []string{"c.d"},
	}

	assert.Equal(t, zone.Selector{
		Room:    "Living Room",
		AreaID:  "living_room",
		Match:   zone.MatchName,
		Domains: []string{"light"},
		Include: []string{"a.b"},
		Exclude: []string{"c.d"},
	}, d.Selector())
}
