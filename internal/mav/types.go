// Package mav implements the MAVLink connection runtime: links, routing,
// per-vehicle state, the command queue, and the mission protocol engine.
package mav

import "fmt"

// MAVTypeNames maps MAV_TYPE values to display names.
var MAVTypeNames = map[uint8]string{
	0:  "Generic",
	1:  "Fixed Wing",
	2:  "Quadrotor",
	3:  "Coaxial",
	4:  "Helicopter",
	5:  "Antenna Tracker",
	6:  "GCS",
	7:  "Airship",
	8:  "Free Balloon",
	9:  "Rocket",
	10: "Ground Rover",
	11: "Surface Boat",
	12: "Submarine",
	13: "Hexarotor",
	14: "Octorotor",
	15: "Tricopter",
	16: "Flapping Wing",
	17: "Kite",
	18: "Companion Computer",
	19: "VTOL Tiltrotor",
	20: "VTOL Duo",
	21: "VTOL Quad",
	22: "VTOL Tailsitter",
	23: "VTOL Reserved",
	24: "VTOL Reserved",
	25: "VTOL Reserved",
	26: "Gimbal",
	27: "ADSB",
	28: "Parafoil",
	29: "Dodecarotor",
	30: "Camera",
	31: "Charging Station",
	32: "FLARM",
	33: "Servo",
	34: "ODID",
	35: "Decarotor",
	36: "Battery",
	37: "Parachute",
	38: "Log",
	39: "OSD",
	40: "IMU",
	41: "GPS",
	42: "Winch",
}

// VehicleTypes is the set of MAV_TYPE values that identify a connectable
// vehicle (as opposed to a peripheral on the same bus).
var VehicleTypes = map[uint8]bool{
	0: true, 1: true, 2: true, 3: true, 4: true,
	7: true, 8: true, 9: true, 10: true, 11: true, 12: true,
	13: true, 14: true, 15: true, 16: true, 17: true,
	19: true, 20: true, 21: true, 22: true, 23: true, 24: true, 25: true,
	28: true, 29: true, 35: true,
}

// PeripheralTypes maps MAV_TYPE values of bus peripherals we track but never
// connect to.
var PeripheralTypes = map[uint8]string{
	5:  "Antenna Tracker",
	6:  "GCS",
	18: "Companion Computer",
	26: "Gimbal",
	27: "ADSB",
	30: "Camera",
	31: "Charging Station",
	32: "FLARM",
	33: "Servo",
	34: "ODID",
	36: "Battery",
	37: "Parachute",
	38: "Log",
	39: "OSD",
	40: "IMU",
	41: "GPS",
	42: "Winch",
}

// MAVTypeName returns the display name for a MAV_TYPE value.
func MAVTypeName(mavType uint8) string {
	if name, ok := MAVTypeNames[mavType]; ok {
		return name
	}
	return fmt.Sprintf("Type %d", mavType)
}

// AutopilotName maps a MAV_AUTOPILOT value to a short flavor tag.
func AutopilotName(autopilot uint8) string {
	switch autopilot {
	case 3: // MAV_AUTOPILOT_ARDUPILOTMEGA
		return "ardupilot"
	case 12: // MAV_AUTOPILOT_PX4
		return "px4"
	case 8: // MAV_AUTOPILOT_INVALID
		return "none"
	default:
		return "unknown"
	}
}
