package mav

// Profile describes the capabilities of one vehicle class. Profiles gate
// commands (a rover cannot take off) and pick sensible defaults per class.
type Profile struct {
	Name            string   `json:"profile_name"`
	Category        string   `json:"category"` // air, ground, surface, underwater
	Commands        []string `json:"commands"`
	HasAltitude     bool     `json:"has_altitude"`
	HasDepth        bool     `json:"has_depth"`
	SupportsTakeoff bool     `json:"supports_takeoff"`
	SupportsVTOL    bool     `json:"supports_vtol"`
	DefaultAlt      float64  `json:"default_alt,omitempty"`
	DefaultSpeed    float64  `json:"default_speed"`
}

var profiles = map[string]struct {
	mavTypes []uint8
	profile  Profile
}{
	"copter": {
		mavTypes: []uint8{2, 3, 4, 13, 14, 15, 29, 35},
		profile: Profile{
			Name:     "copter",
			Category: "air",
			Commands: []string{"arm", "disarm", "takeoff", "land", "rtl", "goto",
				"set_mode", "mission_start", "mission_pause"},
			HasAltitude:     true,
			SupportsTakeoff: true,
			SupportsVTOL:    true,
			DefaultAlt:      10,
			DefaultSpeed:    5,
		},
	},
	"plane": {
		mavTypes: []uint8{1},
		profile: Profile{
			Name:     "plane",
			Category: "air",
			Commands: []string{"arm", "disarm", "takeoff", "land", "rtl", "goto",
				"set_mode", "mission_start", "mission_pause"},
			HasAltitude:     true,
			SupportsTakeoff: true,
			DefaultAlt:      50,
			DefaultSpeed:    15,
		},
	},
	"vtol": {
		mavTypes: []uint8{19, 20, 21, 22, 23, 24, 25},
		profile: Profile{
			Name:     "vtol",
			Category: "air",
			Commands: []string{"arm", "disarm", "takeoff", "land", "rtl", "goto",
				"set_mode", "mission_start", "mission_pause"},
			HasAltitude:     true,
			SupportsTakeoff: true,
			SupportsVTOL:    true,
			DefaultAlt:      30,
			DefaultSpeed:    12,
		},
	},
	"rover": {
		mavTypes: []uint8{10},
		profile: Profile{
			Name:     "rover",
			Category: "ground",
			Commands: []string{"arm", "disarm", "rtl", "goto",
				"set_mode", "mission_start", "mission_pause"},
			DefaultSpeed: 3,
		},
	},
	"boat": {
		mavTypes: []uint8{11},
		profile: Profile{
			Name:     "boat",
			Category: "surface",
			Commands: []string{"arm", "disarm", "rtl", "goto",
				"set_mode", "mission_start", "mission_pause"},
			DefaultSpeed: 3,
		},
	},
	"sub": {
		mavTypes: []uint8{12},
		profile: Profile{
			Name:     "sub",
			Category: "underwater",
			Commands: []string{"arm", "disarm", "goto",
				"set_mode", "mission_start", "mission_pause"},
			HasDepth:     true,
			DefaultSpeed: 1,
		},
	},
}

var profileByMAVType = func() map[uint8]Profile {
	m := make(map[uint8]Profile)
	for _, entry := range profiles {
		for _, t := range entry.mavTypes {
			m[t] = entry.profile
		}
	}
	return m
}()

// ProfileForType returns the capability profile for a MAV_TYPE, falling back
// to the copter profile for unrecognized types.
func ProfileForType(mavType uint8) Profile {
	if p, ok := profileByMAVType[mavType]; ok {
		return p
	}
	return profiles["copter"].profile
}

// AllowsCommand reports whether the profile lists a command as supported.
func (p Profile) AllowsCommand(cmd string) bool {
	for _, c := range p.Commands {
		if c == cmd {
			return true
		}
	}
	return false
}
