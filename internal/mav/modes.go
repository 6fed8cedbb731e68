package mav

import "fmt"

// MAV_MODE_FLAG_SAFETY_ARMED in base_mode.
const modeFlagSafetyArmed = 128

// ArduPilot custom_mode tables, one per vehicle family.
var arduPilotCopterModes = map[uint32]string{
	0: "STABILIZE", 1: "ACRO", 2: "ALT_HOLD", 3: "AUTO",
	4: "GUIDED", 5: "LOITER", 6: "RTL", 7: "CIRCLE",
	9: "LAND", 11: "DRIFT", 13: "SPORT", 14: "FLIP",
	15: "AUTOTUNE", 16: "POSHOLD", 17: "BRAKE", 18: "THROW",
	19: "AVOID_ADSB", 20: "GUIDED_NOGPS", 21: "SMART_RTL",
}

var arduPilotPlaneModes = map[uint32]string{
	0: "MANUAL", 1: "CIRCLE", 2: "STABILIZE", 3: "TRAINING",
	4: "ACRO", 5: "FBWA", 6: "FBWB", 7: "CRUISE",
	8: "AUTOTUNE", 10: "AUTO", 11: "RTL", 12: "LOITER",
	13: "TAKEOFF", 14: "AVOID_ADSB", 15: "GUIDED",
	17: "QSTABILIZE", 18: "QHOVER", 19: "QLOITER",
	20: "QLAND", 21: "QRTL", 22: "QAUTOTUNE", 23: "QACRO",
	24: "THERMAL",
}

var arduPilotRoverModes = map[uint32]string{
	0: "MANUAL", 1: "ACRO", 2: "STEERING", 3: "HOLD",
	4: "LOITER", 5: "FOLLOW", 6: "SIMPLE",
	10: "AUTO", 11: "RTL", 12: "SMART_RTL",
	15: "GUIDED",
}

var arduPilotSubModes = map[uint32]string{
	0: "STABILIZE", 1: "ACRO", 2: "ALT_HOLD",
	3: "AUTO", 4: "GUIDED", 7: "CIRCLE",
	9: "SURFACE", 16: "POSHOLD", 19: "MANUAL",
}

// px4Mode is one (main_mode, sub_mode) entry. Kept as an ordered slice so
// reverse lookups resolve duplicate names to the first entry.
type px4Mode struct {
	main, sub uint8
	name      string
}

var px4Modes = []px4Mode{
	{0, 0, "UNKNOWN"},
	{1, 0, "MANUAL"}, {1, 1, "MANUAL"},
	{2, 0, "ALTCTL"}, {2, 1, "ALTCTL"},
	{3, 0, "POSCTL"}, {3, 1, "POSCTL"},
	{4, 0, "AUTO"}, {4, 1, "AUTO_READY"}, {4, 2, "AUTO_TAKEOFF"},
	{4, 3, "AUTO_LOITER"}, {4, 4, "AUTO_MISSION"},
	{4, 5, "AUTO_RTL"}, {4, 6, "AUTO_LAND"},
	{4, 7, "AUTO_RTGS"}, {4, 8, "AUTO_FOLLOW"},
	{5, 0, "ACRO"},
	{6, 0, "OFFBOARD"},
	{7, 0, "STABILIZED"},
	{8, 0, "RATTITUDE"},
}

var arduPilotModesByType = func() map[uint8]map[uint32]string {
	m := map[uint8]map[uint32]string{
		1:  arduPilotPlaneModes,
		10: arduPilotRoverModes,
		11: arduPilotRoverModes,
		12: arduPilotSubModes,
	}
	for _, t := range []uint8{2, 3, 4, 13, 14, 15, 29, 35} {
		m[t] = arduPilotCopterModes
	}
	// VTOL airframes run the plane firmware
	for _, t := range []uint8{19, 20, 21, 22, 23, 24, 25} {
		m[t] = arduPilotPlaneModes
	}
	return m
}()

// ArduPilotModesForType returns the custom_mode table for a MAV_TYPE,
// defaulting to the copter table.
func ArduPilotModesForType(mavType uint8) map[uint32]string {
	if m, ok := arduPilotModesByType[mavType]; ok {
		return m
	}
	return arduPilotCopterModes
}

// DecodeArduPilotMode renders an ArduPilot custom_mode as a mode name.
func DecodeArduPilotMode(mavType uint8, customMode uint32) string {
	if name, ok := ArduPilotModesForType(mavType)[customMode]; ok {
		return name
	}
	return fmt.Sprintf("MODE_%d", customMode)
}

// ArduPilotModeID reverse-looks-up a mode name for a vehicle type.
func ArduPilotModeID(mavType uint8, name string) (uint32, bool) {
	for id, n := range ArduPilotModesForType(mavType) {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// DecodePX4Mode renders a PX4 custom_mode as a mode name. PX4 packs
// main_mode into bits 16-23 and sub_mode into bits 24-31.
func DecodePX4Mode(customMode uint32) string {
	main := uint8((customMode >> 16) & 0xFF)
	sub := uint8((customMode >> 24) & 0xFF)
	for _, m := range px4Modes {
		if m.main == main && m.sub == sub {
			return m.name
		}
	}
	return fmt.Sprintf("PX4_%d_%d", main, sub)
}

// PX4CustomMode reverse-looks-up a mode name and encodes it as a PX4
// custom_mode value.
func PX4CustomMode(name string) (uint32, bool) {
	for _, m := range px4Modes {
		if m.name == name {
			return (uint32(m.main) << 16) | (uint32(m.sub) << 24), true
		}
	}
	return 0, false
}

// PX4ModeNames returns the unique PX4 mode names in table order.
func PX4ModeNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range px4Modes {
		if !seen[m.name] {
			seen[m.name] = true
			names = append(names, m.name)
		}
	}
	return names
}

// ArduPilotModeNames returns the mode names for a vehicle type sorted by id.
func ArduPilotModeNames(mavType uint8) []string {
	table := ArduPilotModesForType(mavType)
	var maxID uint32
	for id := range table {
		if id > maxID {
			maxID = id
		}
	}
	var names []string
	for id := uint32(0); id <= maxID; id++ {
		if name, ok := table[id]; ok {
			names = append(names, name)
		}
	}
	return names
}

// IsArmed reports the MAV_MODE_FLAG_SAFETY_ARMED bit of base_mode.
func IsArmed(baseMode uint8) bool {
	return baseMode&modeFlagSafetyArmed != 0
}
