package mav

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProfileForType(t *testing.T) {
	assert.Equal(t, "copter", ProfileForType(2).Name)
	assert.Equal(t, "copter", ProfileForType(14).Name)
	assert.Equal(t, "plane", ProfileForType(1).Name)
	assert.Equal(t, "vtol", ProfileForType(22).Name)
	assert.Equal(t, "rover", ProfileForType(10).Name)
	assert.Equal(t, "boat", ProfileForType(11).Name)
	assert.Equal(t, "sub", ProfileForType(12).Name)
	// unknown types behave like a copter
	assert.Equal(t, "copter", ProfileForType(200).Name)
}

func TestProfileCapabilities(t *testing.T) {
	copter := ProfileForType(2)
	assert.True(t, copter.SupportsTakeoff)
	assert.True(t, copter.HasAltitude)
	assert.Equal(t, "air", copter.Category)
	assert.Equal(t, 10.0, copter.DefaultAlt)

	rover := ProfileForType(10)
	assert.False(t, rover.SupportsTakeoff)
	assert.Equal(t, "ground", rover.Category)
	assert.False(t, rover.AllowsCommand("takeoff"))
	assert.True(t, rover.AllowsCommand("goto"))

	sub := ProfileForType(12)
	assert.True(t, sub.HasDepth)
	assert.False(t, sub.AllowsCommand("rtl"))
}
