package mav

import "math"

// ValidateRCChannels sanitizes RC override input into exactly 8 PWM values.
// Each output is either 0 (release the channel) or clamped to 1000-2000.
// Applied at every entry point; upstream values are never trusted.
func ValidateRCChannels(channels []interface{}) [8]uint16 {
	var out [8]uint16
	n := len(channels)
	if n > 8 {
		n = 8
	}
	for i := 0; i < n; i++ {
		v := coerceInt(channels[i])
		if v == 0 {
			continue
		}
		if v < 1000 {
			v = 1000
		} else if v > 2000 {
			v = 2000
		}
		out[i] = uint16(v)
	}
	return out
}

// coerceInt converts a JSON-decoded value to int, treating anything
// non-numeric as 0.
func coerceInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return int(n)
	case float32:
		return coerceInt(float64(n))
	default:
		return 0
	}
}

// PWMToSigned maps a PWM value to the MANUAL_CONTROL axis range -1000..1000
// around the 1500 center.
func PWMToSigned(pwm uint16) int16 {
	return int16(math.Round((float64(pwm) - 1500) / 500 * 1000))
}

// PWMToThrottle maps a PWM value to the MANUAL_CONTROL throttle range 0..1000.
func PWMToThrottle(pwm uint16) int16 {
	z := int(pwm) - 1000
	if z < 0 {
		z = 0
	} else if z > 1000 {
		z = 1000
	}
	return int16(z)
}
