package mav

import (
	"fmt"
	"strings"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"GroundLink/internal/logger"
	"GroundLink/internal/metrics"
)

// Component is one MAVLink participant discovered from heartbeats, vehicle
// or peripheral.
type Component struct {
	SrcSystem      uint8   `json:"src_system"`
	SrcComponent   uint8   `json:"src_component"`
	MavType        uint8   `json:"mav_type"`
	TypeName       string  `json:"type_name"`
	Category       string  `json:"category"` // vehicle, peripheral, unknown
	Autopilot      string  `json:"autopilot"`
	FirstSeen      float64 `json:"first_seen"`
	LastSeen       float64 `json:"last_seen"`
	HeartbeatCount uint64  `json:"heartbeat_count"`
	IsTarget       bool    `json:"is_target"`
	Active         bool    `json:"active"`
}

// Router dispatches inbound frames to per-vehicle state and keeps the
// message inspector fed. One router serves all links.
type Router struct {
	registry  *Registry
	inspector *Inspector
}

func NewRouter(registry *Registry) *Router {
	return &Router{
		registry:  registry,
		inspector: newInspector(),
	}
}

// Inspector exposes the shared message statistics.
func (r *Router) Inspector() *Inspector { return r.inspector }

func (r *Router) vehicleDiscovered(l *Link, v *Vehicle) {
	r.registry.registerVehicle(l, v)
	l.markTarget(v.TargetSystem, v.TargetComponent)
	logger.Info("[ROUTER] vehicle %s online: system %d (%s, %s)",
		v.ID(), v.TargetSystem, MAVTypeName(v.MavType), v.Telemetry()["autopilot"])
}

// handleFrame is called from a link's read loop for every decoded frame.
func (r *Router) handleFrame(l *Link, frame *gomavlib.EventFrame) {
	msg := frame.Message()
	sysID := frame.SystemID()
	compID := frame.ComponentID()

	metrics.FramesReceived.WithLabelValues(MessageTypeName(msg)).Inc()
	r.inspector.Record(msg, sysID, compID)

	// Mission protocol messages bypass telemetry handling; the engine owns
	// them while a transfer is in flight.
	switch msg.(type) {
	case *common.MessageMissionRequestInt, *common.MessageMissionRequest,
		*common.MessageMissionAck, *common.MessageMissionCount,
		*common.MessageMissionItemInt:
		if v := l.vehicle(sysID); v != nil {
			v.pushMissionMsg(msg)
		}
		return
	}

	switch m := msg.(type) {
	case *common.MessageHeartbeat:
		r.handleHeartbeat(l, sysID, compID, m)

	case *common.MessageParamValue:
		if v := l.vehicle(sysID); v != nil {
			v.storeParam(trimNul(m.ParamId), Param{
				Value: float64(m.ParamValue),
				Type:  int(m.ParamType),
				Index: int(m.ParamIndex),
			}, int(m.ParamCount))
		}

	case *common.MessageStatustext:
		if v := l.vehicle(sysID); v != nil {
			v.appendStatusText(int(m.Severity), trimNul(m.Text))
		}

	case *common.MessageCommandAck:
		r.handleCommandAck(l, sysID, m)

	case *common.MessageAvailableModes:
		r.handleAvailableModes(l, sysID, m)

	case *common.MessageCameraInformation:
		if v := l.vehicle(sysID); v != nil {
			v.storeCamera(CameraInfo{
				ComponentID:     compID,
				Vendor:          bytesToString(m.VendorName[:]),
				Model:           bytesToString(m.ModelName[:]),
				FirmwareVersion: m.FirmwareVersion,
				FocalLength:     float64(m.FocalLength),
				SensorSizeH:     float64(m.SensorSizeH),
				SensorSizeV:     float64(m.SensorSizeV),
				ResolutionH:     int(m.ResolutionH),
				ResolutionV:     int(m.ResolutionV),
				Flags:           uint32(m.Flags),
			})
		}

	case *common.MessageGimbalDeviceInformation:
		if v := l.vehicle(sysID); v != nil {
			v.storeGimbal(GimbalInfo{
				ComponentID:     compID,
				Vendor:          trimNul(m.VendorName),
				Model:           trimNul(m.ModelName),
				FirmwareVersion: m.FirmwareVersion,
				CapFlags:        uint32(m.CapFlags),
				TiltMax:         float64(m.PitchMax),
				TiltMin:         float64(m.PitchMin),
				PanMax:          float64(m.YawMax),
				PanMin:          float64(m.YawMin),
			})
		}

	case *common.MessageAttitude:
		if v := l.targetVehicle(sysID, compID); v != nil {
			v.updateTelemetry(func(t *TelemetryState) {
				t.Roll = float64(m.Roll)
				t.Pitch = float64(m.Pitch)
				t.Yaw = float64(m.Yaw)
				t.Rollspeed = float64(m.Rollspeed)
				t.Pitchspeed = float64(m.Pitchspeed)
				t.Yawspeed = float64(m.Yawspeed)
			})
		}

	case *common.MessageGlobalPositionInt:
		if v := l.targetVehicle(sysID, compID); v != nil {
			v.updateTelemetry(func(t *TelemetryState) {
				t.Lat = float64(m.Lat) / 1e7
				t.Lon = float64(m.Lon) / 1e7
				t.Alt = float64(m.RelativeAlt) / 1000
				t.AltMSL = float64(m.Alt) / 1000
			})
		}

	case *common.MessageGpsRawInt:
		if v := l.targetVehicle(sysID, compID); v != nil {
			v.updateTelemetry(func(t *TelemetryState) {
				t.FixType = int(m.FixType)
				t.Satellites = int(m.SatellitesVisible)
				if m.Eph != 65535 {
					t.HDOP = float64(m.Eph) / 100
				} else {
					t.HDOP = 99.99
				}
			})
		}

	case *common.MessageVfrHud:
		if v := l.targetVehicle(sysID, compID); v != nil {
			v.updateTelemetry(func(t *TelemetryState) {
				t.Airspeed = float64(m.Airspeed)
				t.Groundspeed = float64(m.Groundspeed)
				t.Heading = int(m.Heading)
				t.Climb = float64(m.Climb)
			})
		}

	case *common.MessageSysStatus:
		if v := l.targetVehicle(sysID, compID); v != nil {
			v.updateTelemetry(func(t *TelemetryState) {
				t.Voltage = float64(m.VoltageBattery) / 1000
				if m.CurrentBattery != -1 {
					t.Current = float64(m.CurrentBattery) / 100
				} else {
					t.Current = 0
				}
				t.Remaining = int(m.BatteryRemaining)
			})
		}

	case *common.MessageMissionCurrent:
		if v := l.targetVehicle(sysID, compID); v != nil {
			v.updateTelemetry(func(t *TelemetryState) {
				t.MissionSeq = int(m.Seq)
			})
		}
	}
}

// handleHeartbeat registers the component, updates the matching vehicle's
// status, and auto-discovers additional vehicles sharing the link.
func (r *Router) handleHeartbeat(l *Link, sysID, compID uint8, m *common.MessageHeartbeat) {
	l.registerComponent(sysID, compID, uint8(m.Type), uint8(m.Autopilot))

	if uint8(m.Type) == 6 || sysID == gcsSystemID { // GCS
		return
	}

	v := l.vehicle(sysID)
	if v == nil {
		if VehicleTypes[uint8(m.Type)] && compID == 1 {
			l.addVehicle(sysID, compID, m)
		}
		return
	}
	if compID != v.TargetComponent {
		return
	}

	v.updateTelemetry(func(t *TelemetryState) {
		t.Armed = IsArmed(uint8(m.BaseMode))
		t.SystemStatus = int(m.SystemStatus)
		t.LastHeartbeat = float64(time.Now().UnixNano()) / 1e9
		t.PlatformType = MAVTypeName(uint8(m.Type))
		if v.IsArduPilot {
			t.Mode = DecodeArduPilotMode(v.MavType, m.CustomMode)
		} else {
			t.Mode = DecodePX4Mode(m.CustomMode)
		}
	})
}

var calibrationAckTexts = map[uint8]struct {
	text     string
	severity int
}{
	0: {"Calibration accepted", 6},
	1: {"Calibration temporarily rejected - try again", 4},
	2: {"Calibration denied", 3},
	3: {"Calibration unsupported", 4},
	4: {"Calibration failed", 3},
	5: {"Calibration in progress", 6},
	6: {"Calibration cancelled", 4},
}

// handleCommandAck surfaces calibration acks as status messages so the UI
// shows progress without a dedicated protocol.
func (r *Router) handleCommandAck(l *Link, sysID uint8, m *common.MessageCommandAck) {
	if m.Command != common.MAV_CMD_PREFLIGHT_CALIBRATION {
		return
	}
	v := l.vehicle(sysID)
	if v == nil {
		return
	}
	entry, ok := calibrationAckTexts[uint8(m.Result)]
	if !ok {
		entry.text = fmt.Sprintf("Calibration result: %d", m.Result)
		entry.severity = 4
	}
	v.appendStatusText(entry.severity, entry.text)
}

func (r *Router) handleAvailableModes(l *Link, sysID uint8, m *common.MessageAvailableModes) {
	v := l.vehicle(sysID)
	if v == nil {
		return
	}
	props := uint32(m.Properties)
	if props&0x2 != 0 { // not user selectable
		return
	}
	v.storeAvailableMode(int(m.NumberModes), AvailableMode{
		ModeIndex:    int(m.ModeIndex),
		StandardMode: int(m.StandardMode),
		CustomMode:   m.CustomMode,
		Properties:   props,
		ModeName:     trimNul(m.ModeName),
		Advanced:     props&0x1 != 0,
	})
}

func (l *Link) registerComponent(sysID, compID, mavType, autopilot uint8) {
	key := fmt.Sprintf("%d:%d", sysID, compID)
	now := float64(time.Now().UnixNano()) / 1e9

	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.components[key]; ok {
		c.LastSeen = now
		c.HeartbeatCount++
		return
	}
	category := "unknown"
	typeName := MAVTypeName(mavType)
	if VehicleTypes[mavType] {
		category = "vehicle"
	} else if name, ok := PeripheralTypes[mavType]; ok {
		category = "peripheral"
		typeName = name
	}
	l.components[key] = &Component{
		SrcSystem:      sysID,
		SrcComponent:   compID,
		MavType:        mavType,
		TypeName:       typeName,
		Category:       category,
		Autopilot:      AutopilotName(autopilot),
		FirstSeen:      now,
		LastSeen:       now,
		HeartbeatCount: 1,
	}
}

func (l *Link) markTarget(sysID, compID uint8) {
	key := fmt.Sprintf("%d:%d", sysID, compID)
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.components[key]; ok {
		c.IsTarget = true
	}
}

// Components returns the participants discovered on this link. A component
// is active when a heartbeat arrived within the last five seconds.
func (l *Link) Components() []Component {
	now := float64(time.Now().UnixNano()) / 1e9
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Component, 0, len(l.components))
	for _, c := range l.components {
		cc := *c
		cc.Active = now-cc.LastSeen < 5
		out = append(out, cc)
	}
	return out
}

// targetVehicle returns the vehicle only when the frame came from its
// autopilot component, so a companion computer on the same system cannot
// pollute telemetry.
func (l *Link) targetVehicle(sysID, compID uint8) *Vehicle {
	v := l.vehicle(sysID)
	if v == nil || compID != v.TargetComponent {
		return nil
	}
	return v
}

func trimNul(s string) string {
	return strings.TrimRight(s, "\x00")
}

func bytesToString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
