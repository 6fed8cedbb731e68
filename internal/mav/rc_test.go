package mav

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRCChannels(t *testing.T) {
	tests := []struct {
		name string
		in   []interface{}
		want [8]uint16
	}{
		{
			name: "mixed garbage",
			in:   []interface{}{1500.0, "bad", nil, 0.0, 1200.0, 3000.0, -50.0},
			want: [8]uint16{1500, 0, 0, 0, 1200, 2000, 1000, 0},
		},
		{
			name: "empty releases everything",
			in:   nil,
			want: [8]uint16{},
		},
		{
			name: "truncates past eight",
			in: []interface{}{1100.0, 1100.0, 1100.0, 1100.0, 1100.0,
				1100.0, 1100.0, 1100.0, 1900.0, 1900.0},
			want: [8]uint16{1100, 1100, 1100, 1100, 1100, 1100, 1100, 1100},
		},
		{
			name: "boundaries",
			in:   []interface{}{999.0, 1000.0, 2000.0, 2001.0, 1.0},
			want: [8]uint16{1000, 1000, 2000, 2000, 1000, 0, 0, 0},
		},
		{
			name: "zero means release",
			in:   []interface{}{0.0, 1500.0},
			want: [8]uint16{0, 1500, 0, 0, 0, 0, 0, 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateRCChannels(tt.in))
		})
	}
}

func TestCoerceInt(t *testing.T) {
	assert.Equal(t, 1500, coerceInt(1500))
	assert.Equal(t, 1500, coerceInt(int64(1500)))
	assert.Equal(t, 1500, coerceInt(1500.4))
	assert.Equal(t, 0, coerceInt("1500"))
	assert.Equal(t, 0, coerceInt(nil))
	assert.Equal(t, 0, coerceInt(true))
}

func TestPWMToSigned(t *testing.T) {
	assert.Equal(t, int16(0), PWMToSigned(1500))
	assert.Equal(t, int16(-1000), PWMToSigned(1000))
	assert.Equal(t, int16(1000), PWMToSigned(2000))
	assert.Equal(t, int16(500), PWMToSigned(1750))
}

func TestPWMToThrottle(t *testing.T) {
	assert.Equal(t, int16(0), PWMToThrottle(1000))
	assert.Equal(t, int16(1000), PWMToThrottle(2000))
	assert.Equal(t, int16(500), PWMToThrottle(1500))
	assert.Equal(t, int16(0), PWMToThrottle(500))
	assert.Equal(t, int16(1000), PWMToThrottle(2500))
}
