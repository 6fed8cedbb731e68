package mav

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

// vehicleColors is the fixed display-color cycle for map disambiguation.
var vehicleColors = []string{"#06b6d4", "#f97316", "#8b5cf6", "#10b981", "#ec4899", "#eab308"}

var (
	colorMu    sync.Mutex
	colorIndex int
)

func nextVehicleColor() string {
	colorMu.Lock()
	defer colorMu.Unlock()
	c := vehicleColors[colorIndex%len(vehicleColors)]
	colorIndex++
	return c
}

// TelemetryState is the live telemetry snapshot of one vehicle.
type TelemetryState struct {
	// Attitude (radians)
	Roll, Pitch, Yaw                float64
	Rollspeed, Pitchspeed, Yawspeed float64

	// Position
	Lat, Lon float64
	Alt      float64 // relative altitude in meters
	AltMSL   float64

	// Speed
	Airspeed, Groundspeed, Climb float64
	Heading                      int

	// Battery
	Voltage, Current float64
	Remaining        int

	// GPS
	FixType    int
	Satellites int
	HDOP       float64

	// Status
	Armed        bool
	Mode         string
	SystemStatus int
	Autopilot    string

	// Mission
	MissionSeq int // current mission item seq, -1 = none

	PlatformType  string
	LastHeartbeat float64 // unix seconds
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

// toMap renders the snapshot with the same rounding the UI expects.
func (t *TelemetryState) toMap() map[string]interface{} {
	heartbeatAge := -1.0
	if t.LastHeartbeat > 0 {
		heartbeatAge = round(float64(time.Now().UnixNano())/1e9-t.LastHeartbeat, 1)
	}
	return map[string]interface{}{
		"roll":          round(t.Roll, 4),
		"pitch":         round(t.Pitch, 4),
		"yaw":           round(t.Yaw, 4),
		"rollspeed":     round(t.Rollspeed, 4),
		"pitchspeed":    round(t.Pitchspeed, 4),
		"yawspeed":      round(t.Yawspeed, 4),
		"lat":           t.Lat,
		"lon":           t.Lon,
		"alt":           round(t.Alt, 2),
		"alt_msl":       round(t.AltMSL, 2),
		"airspeed":      round(t.Airspeed, 2),
		"groundspeed":   round(t.Groundspeed, 2),
		"climb":         round(t.Climb, 2),
		"heading":       t.Heading,
		"voltage":       round(t.Voltage, 2),
		"current":       round(t.Current, 2),
		"remaining":     t.Remaining,
		"fix_type":      t.FixType,
		"satellites":    t.Satellites,
		"hdop":          round(t.HDOP, 2),
		"armed":         t.Armed,
		"mode":          t.Mode,
		"system_status": t.SystemStatus,
		"autopilot":     t.Autopilot,
		"mission_seq":   t.MissionSeq,
		"platform_type": t.PlatformType,
		"heartbeat_age": heartbeatAge,
	}
}

// Param is one entry of the vehicle parameter table.
type Param struct {
	Value float64 `json:"value"`
	Type  int     `json:"type"`
	Index int     `json:"index"`
}

// StatusText is one STATUSTEXT entry (or a synthesized one).
type StatusText struct {
	Severity int     `json:"severity"`
	Text     string  `json:"text"`
	Time     float64 `json:"time"`
}

// CameraInfo describes a camera component discovered on the bus.
type CameraInfo struct {
	ComponentID     uint8   `json:"component_id"`
	Vendor          string  `json:"vendor"`
	Model           string  `json:"model"`
	FirmwareVersion uint32  `json:"firmware_version"`
	FocalLength     float64 `json:"focal_length"`
	SensorSizeH     float64 `json:"sensor_size_h"`
	SensorSizeV     float64 `json:"sensor_size_v"`
	ResolutionH     int     `json:"resolution_h"`
	ResolutionV     int     `json:"resolution_v"`
	Flags           uint32  `json:"flags"`
}

// GimbalInfo describes a gimbal device discovered on the bus.
type GimbalInfo struct {
	ComponentID     uint8   `json:"component_id"`
	Vendor          string  `json:"vendor"`
	Model           string  `json:"model"`
	FirmwareVersion uint32  `json:"firmware_version"`
	CapFlags        uint32  `json:"cap_flags"`
	TiltMax         float64 `json:"tilt_max"`
	TiltMin         float64 `json:"tilt_min"`
	PanMax          float64 `json:"pan_max"`
	PanMin          float64 `json:"pan_min"`
}

// AvailableMode is one entry of the standard modes protocol (msg 435).
type AvailableMode struct {
	ModeIndex    int    `json:"mode_index"`
	StandardMode int    `json:"standard_mode"`
	CustomMode   uint32 `json:"custom_mode"`
	Properties   uint32 `json:"properties"`
	ModeName     string `json:"mode_name"`
	Advanced     bool   `json:"advanced"`
}

const (
	statusTextRingMax  = 100
	missionInboxSize   = 64
	statusTextDedupSec = 1.0
)

// Vehicle is the per-sysid state of one autopilot endpoint. TargetSystem and
// TargetComponent are immutable after creation.
type Vehicle struct {
	TargetSystem    uint8
	TargetComponent uint8
	IsArduPilot     bool
	MavType         uint8
	Color           string

	link *Link

	telemMu sync.Mutex
	telem   TelemetryState
	gen     atomic.Uint64

	paramsMu    sync.Mutex
	params      map[string]Param
	paramsTotal int

	miscMu         sync.Mutex
	id             string
	name           string
	statustext     []StatusText
	cameras        map[uint8]CameraInfo
	gimbals        map[uint8]GimbalInfo
	availableModes []AvailableMode
	availableTotal int

	inbox chan message.Message

	Mission *MissionManager
}

func newVehicle(link *Link, sysID, compID uint8, isArduPilot bool, mavType uint8) *Vehicle {
	v := &Vehicle{
		TargetSystem:    sysID,
		TargetComponent: compID,
		IsArduPilot:     isArduPilot,
		MavType:         mavType,
		Color:           nextVehicleColor(),
		link:            link,
		params:          make(map[string]Param),
		cameras:         make(map[uint8]CameraInfo),
		gimbals:         make(map[uint8]GimbalInfo),
		inbox:           make(chan message.Message, missionInboxSize),
	}
	v.telem.Autopilot = "px4"
	if isArduPilot {
		v.telem.Autopilot = "ardupilot"
	}
	v.telem.PlatformType = MAVTypeName(mavType)
	v.telem.Remaining = -1
	v.telem.HDOP = 99.99
	v.telem.MissionSeq = -1
	v.Mission = newMissionManager(v)
	return v
}

// ID returns the registry-assigned vehicle id.
func (v *Vehicle) ID() string {
	v.miscMu.Lock()
	defer v.miscMu.Unlock()
	return v.id
}

func (v *Vehicle) setID(id string) {
	v.miscMu.Lock()
	defer v.miscMu.Unlock()
	v.id = id
	if v.name == "" {
		v.name = "Vehicle-" + id
	}
}

// Name returns the display name.
func (v *Vehicle) Name() string {
	v.miscMu.Lock()
	defer v.miscMu.Unlock()
	return v.name
}

// SetName sets the display name.
func (v *Vehicle) SetName(name string) {
	if name == "" {
		return
	}
	v.miscMu.Lock()
	defer v.miscMu.Unlock()
	v.name = name
}

// Link returns the owning link.
func (v *Vehicle) Link() *Link { return v.link }

// MissionStatus reports the mission engine's lifecycle status.
func (v *Vehicle) MissionStatus() string { return v.Mission.Status() }

// Profile returns the capability profile for this vehicle's type.
func (v *Vehicle) Profile() Profile { return ProfileForType(v.MavType) }

// Generation returns the telemetry generation counter. It is bumped on every
// telemetry write and read lock-free by the broadcaster.
func (v *Vehicle) Generation() uint64 { return v.gen.Load() }

// Telemetry returns a rounded snapshot of the telemetry state. The map is
// built under the telemetry lock so no field is read mid-update.
func (v *Vehicle) Telemetry() map[string]interface{} {
	v.telemMu.Lock()
	defer v.telemMu.Unlock()
	return v.telem.toMap()
}

// updateTelemetry applies one mutation under the telemetry lock and bumps
// the generation counter.
func (v *Vehicle) updateTelemetry(fn func(t *TelemetryState)) {
	v.telemMu.Lock()
	fn(&v.telem)
	v.gen.Add(1)
	v.telemMu.Unlock()
}

// Params returns a copy of the parameter table and the announced total.
func (v *Vehicle) Params() (map[string]Param, int) {
	v.paramsMu.Lock()
	defer v.paramsMu.Unlock()
	out := make(map[string]Param, len(v.params))
	for k, p := range v.params {
		out[k] = p
	}
	return out, v.paramsTotal
}

func (v *Vehicle) storeParam(name string, p Param, total int) {
	v.paramsMu.Lock()
	v.params[name] = p
	v.paramsTotal = total
	v.paramsMu.Unlock()
}

// appendStatusText appends to the status-text ring, suppressing duplicates
// of the same (severity, text) within one second and truncating to the most
// recent 100 entries.
func (v *Vehicle) appendStatusText(severity int, text string) {
	now := float64(time.Now().UnixNano()) / 1e9
	v.miscMu.Lock()
	defer v.miscMu.Unlock()
	for i := len(v.statustext) - 1; i >= 0; i-- {
		prev := v.statustext[i]
		if now-prev.Time > statusTextDedupSec {
			break
		}
		if prev.Text == text && prev.Severity == severity {
			return
		}
	}
	v.statustext = append(v.statustext, StatusText{Severity: severity, Text: text, Time: now})
	if len(v.statustext) > statusTextRingMax {
		v.statustext = v.statustext[len(v.statustext)-statusTextRingMax:]
	}
}

// DrainStatusText returns and clears pending status-text entries.
func (v *Vehicle) DrainStatusText() []StatusText {
	v.miscMu.Lock()
	defer v.miscMu.Unlock()
	if len(v.statustext) == 0 {
		return nil
	}
	out := v.statustext
	v.statustext = nil
	return out
}

// HasStatusText reports whether entries are pending without draining them.
func (v *Vehicle) HasStatusText() bool {
	v.miscMu.Lock()
	defer v.miscMu.Unlock()
	return len(v.statustext) > 0
}

func (v *Vehicle) storeCamera(info CameraInfo) {
	v.miscMu.Lock()
	v.cameras[info.ComponentID] = info
	v.miscMu.Unlock()
}

func (v *Vehicle) storeGimbal(info GimbalInfo) {
	v.miscMu.Lock()
	v.gimbals[info.ComponentID] = info
	v.miscMu.Unlock()
}

// Cameras returns the discovered camera descriptors.
func (v *Vehicle) Cameras() []CameraInfo {
	v.miscMu.Lock()
	defer v.miscMu.Unlock()
	out := make([]CameraInfo, 0, len(v.cameras))
	for _, c := range v.cameras {
		out = append(out, c)
	}
	return out
}

// Gimbals returns the discovered gimbal descriptors.
func (v *Vehicle) Gimbals() []GimbalInfo {
	v.miscMu.Lock()
	defer v.miscMu.Unlock()
	out := make([]GimbalInfo, 0, len(v.gimbals))
	for _, g := range v.gimbals {
		out = append(out, g)
	}
	return out
}

// storeAvailableMode records one AVAILABLE_MODES entry, replacing an entry
// with the same mode_index. Non-user-selectable modes (property bit 0x2) are
// filtered by the router before reaching here.
func (v *Vehicle) storeAvailableMode(total int, m AvailableMode) {
	v.miscMu.Lock()
	defer v.miscMu.Unlock()
	v.availableTotal = total
	for i, existing := range v.availableModes {
		if existing.ModeIndex == m.ModeIndex {
			v.availableModes[i] = m
			return
		}
	}
	v.availableModes = append(v.availableModes, m)
}

// AvailableModes returns the stored standard-protocol modes sorted by index,
// plus the total announced by the vehicle.
func (v *Vehicle) AvailableModes() ([]AvailableMode, int) {
	v.miscMu.Lock()
	defer v.miscMu.Unlock()
	out := make([]AvailableMode, len(v.availableModes))
	copy(out, v.availableModes)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].ModeIndex > out[j].ModeIndex; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out, v.availableTotal
}

// StaticModes returns the built-in mode name list for this vehicle.
func (v *Vehicle) StaticModes() []string {
	if v.IsArduPilot {
		return ArduPilotModeNames(v.MavType)
	}
	return PX4ModeNames()
}

// pushMissionMsg delivers a mission-protocol message to the engine inbox.
// The inbox is bounded; if the engine is not consuming, the oldest pending
// message is discarded to keep arrival order for the rest.
func (v *Vehicle) pushMissionMsg(msg message.Message) {
	select {
	case v.inbox <- msg:
	default:
		select {
		case <-v.inbox:
		default:
		}
		select {
		case v.inbox <- msg:
		default:
		}
	}
}

// drainMissionInbox clears stale protocol messages before an operation.
func (v *Vehicle) drainMissionInbox() {
	for {
		select {
		case <-v.inbox:
		default:
			return
		}
	}
}

// recvMissionMsg receives one mission-protocol message or nil on timeout.
func (v *Vehicle) recvMissionMsg(timeout time.Duration) message.Message {
	select {
	case msg := <-v.inbox:
		return msg
	case <-time.After(timeout):
		return nil
	}
}
