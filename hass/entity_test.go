package hass

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitEntityID(t *testing.T) {
	tests := []struct {
		entityID   string
		wantDomain string
		wantObject string
	}{
		{entityID: "light.kitchen_ceiling", wantDomain: "light", wantObject: "kitchen_ceiling"},
		{entityID: "sensor.a.b", wantDomain: "sensor", wantObject: "a.b"},
		{entityID: "nodot", wantDomain: "", wantObject: "nodot"},
		{entityID: "", wantDomain: "", wantObject: ""},
	}

	for _, tt := range tests {
		t.Run(tt.entityID, func(t *testing.T) {
			domain, object := SplitEntityID(tt.entityID)
			assert.Equal(t, tt.wantDomain, domain)
			assert.Equal(t, tt.wantObject, object)
			assert.Equal(t, tt.wantDomain, Domain(tt.entityID))
		})
	}
}

func TestStateValues(t *testing.T) {
	assert.True(t, IsOn("on"))
	assert.False(t, IsOn("On"))
	assert.False(t, IsOn("off"))
	assert.False(t, IsOn(UnavailableValue))

	for _, v := range []string{"", UnknownValue, UnavailableValue} {
		assert.True(t, IsUnknown(v), v)
	}
	assert.False(t, IsUnknown("off"))
}

func TestState_FriendlyName(t *testing.T) {
	s := State{Attributes: []byte(`{"friendly_name":"Kitchen Ceiling","brightness":255}`)}
	assert.Equal(t, "Kitchen Ceiling", s.FriendlyName())

	assert.Empty(t, (&State{}).FriendlyName())
	assert.Empty(t, (&State{Attributes: []byte(`not json`)}).FriendlyName())
}

func TestUnmarshalMessage(t *testing.T) {
	m, err := UnmarshalMessage([]byte(`{"id":3,"type":"result","success":false,"error":{"code":"not_found","message":"x"}}`))
	assert.NoError(t, err)
	res, ok := m.(*ResultMessage)
	if assert.True(t, ok) {
		assert.Equal(t, 3, res.ID)
		assert.False(t, res.Success)
		assert.Equal(t, "not_found: x", res.Error.Error())
	}

	m, err = UnmarshalMessage([]byte(`{"type":"auth_ok","ha_version":"2024.8.0"}`))
	assert.NoError(t, err)
	assert.Equal(t, "2024.8.0", m.(*AuthOKMessage).Version)

	_, err = UnmarshalMessage([]byte(`{"type":"bogus"}`))
	assert.Error(t, err)
}
