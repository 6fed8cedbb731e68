package mav

import (
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/frame"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventFrame(sysID, compID uint8, msg message.Message) *gomavlib.EventFrame {
	return &gomavlib.EventFrame{
		Frame: &frame.V2Frame{
			SystemID:    sysID,
			ComponentID: compID,
			Message:     msg,
		},
	}
}

// routerFixture wires a registry, a fake link and one ArduPilot quadrotor.
func routerFixture(t *testing.T) (*Router, *Link, *Vehicle) {
	t.Helper()
	r := NewRegistry()
	l := addFakeLink(r, "udpin:0.0.0.0:14550")
	v := newVehicle(l, 1, 1, true, 2)
	l.vehicles[1] = v
	r.registerVehicle(l, v)
	return r.Router(), l, v
}

func TestRouterAttitude(t *testing.T) {
	router, l, v := routerFixture(t)
	router.handleFrame(l, eventFrame(1, 1, &common.MessageAttitude{
		Roll: 0.1, Pitch: -0.2, Yaw: 1.5, Yawspeed: 0.05,
	}))

	snap := v.Telemetry()
	assert.Equal(t, 0.1, snap["roll"])
	assert.Equal(t, -0.2, snap["pitch"])
	assert.Equal(t, 1.5, snap["yaw"])
}

func TestRouterPosition(t *testing.T) {
	router, l, v := routerFixture(t)
	router.handleFrame(l, eventFrame(1, 1, &common.MessageGlobalPositionInt{
		Lat: 473977420, Lon: 85456310, Alt: 50000, RelativeAlt: 12340,
	}))

	snap := v.Telemetry()
	assert.Equal(t, 47.397742, snap["lat"])
	assert.Equal(t, 8.545631, snap["lon"])
	assert.Equal(t, 12.34, snap["alt"])
	assert.Equal(t, 50.0, snap["alt_msl"])
}

func TestRouterGps(t *testing.T) {
	router, l, v := routerFixture(t)
	router.handleFrame(l, eventFrame(1, 1, &common.MessageGpsRawInt{
		FixType: common.GPS_FIX_TYPE_3D_FIX, Eph: 121, SatellitesVisible: 14,
	}))
	snap := v.Telemetry()
	assert.Equal(t, 3, snap["fix_type"])
	assert.Equal(t, 14, snap["satellites"])
	assert.Equal(t, 1.21, snap["hdop"])

	// 65535 means no hdop estimate
	router.handleFrame(l, eventFrame(1, 1, &common.MessageGpsRawInt{Eph: 65535}))
	assert.Equal(t, 99.99, v.Telemetry()["hdop"])
}

func TestRouterVfrHud(t *testing.T) {
	router, l, v := routerFixture(t)
	router.handleFrame(l, eventFrame(1, 1, &common.MessageVfrHud{
		Airspeed: 11.5, Groundspeed: 10.2, Heading: 270, Climb: -1.5,
	}))
	snap := v.Telemetry()
	assert.Equal(t, 11.5, snap["airspeed"])
	assert.Equal(t, 10.2, snap["groundspeed"])
	assert.Equal(t, 270, snap["heading"])
	assert.Equal(t, -1.5, snap["climb"])
}

func TestRouterSysStatus(t *testing.T) {
	router, l, v := routerFixture(t)
	router.handleFrame(l, eventFrame(1, 1, &common.MessageSysStatus{
		VoltageBattery: 12600, CurrentBattery: 1550, BatteryRemaining: 85,
	}))
	snap := v.Telemetry()
	assert.Equal(t, 12.6, snap["voltage"])
	assert.Equal(t, 15.5, snap["current"])
	assert.Equal(t, 85, snap["remaining"])

	// -1 means no current sensor
	router.handleFrame(l, eventFrame(1, 1, &common.MessageSysStatus{
		VoltageBattery: 12600, CurrentBattery: -1, BatteryRemaining: 85,
	}))
	assert.Equal(t, 0.0, v.Telemetry()["current"])
}

func TestRouterHeartbeat(t *testing.T) {
	router, l, v := routerFixture(t)
	router.handleFrame(l, eventFrame(1, 1, &common.MessageHeartbeat{
		Type:         common.MAV_TYPE_QUADROTOR,
		Autopilot:    common.MAV_AUTOPILOT_ARDUPILOTMEGA,
		BaseMode:     common.MAV_MODE_FLAG(217),
		CustomMode:   4,
		SystemStatus: common.MAV_STATE_ACTIVE,
	}))

	snap := v.Telemetry()
	assert.Equal(t, true, snap["armed"])
	assert.Equal(t, "GUIDED", snap["mode"])
	assert.Equal(t, int(common.MAV_STATE_ACTIVE), snap["system_status"])
	assert.GreaterOrEqual(t, snap["heartbeat_age"], 0.0)
}

func TestRouterHeartbeatWrongComponentIgnored(t *testing.T) {
	router, l, v := routerFixture(t)
	// heartbeat from a companion computer on the same system
	router.handleFrame(l, eventFrame(1, 191, &common.MessageHeartbeat{
		Type:     common.MAV_TYPE_ONBOARD_CONTROLLER,
		BaseMode: common.MAV_MODE_FLAG(217),
	}))
	assert.Equal(t, false, v.Telemetry()["armed"])
	// but the component itself is tracked
	comps := l.Components()
	require.Len(t, comps, 1)
	assert.Equal(t, "Companion Computer", comps[0].TypeName)
}

func TestRouterAutoDiscoverSecondVehicle(t *testing.T) {
	router, l, _ := routerFixture(t)
	router.handleFrame(l, eventFrame(2, 1, &common.MessageHeartbeat{
		Type:      common.MAV_TYPE_GROUND_ROVER,
		Autopilot: common.MAV_AUTOPILOT_ARDUPILOTMEGA,
	}))

	v2 := l.vehicle(2)
	require.NotNil(t, v2)
	assert.True(t, v2.IsArduPilot)
	assert.Equal(t, uint8(10), v2.MavType)

	// GCS heartbeats never become vehicles
	router.handleFrame(l, eventFrame(255, 190, &common.MessageHeartbeat{
		Type: common.MAV_TYPE_GCS,
	}))
	assert.Nil(t, l.vehicle(255))
}

func TestRouterParamValue(t *testing.T) {
	router, l, v := routerFixture(t)
	router.handleFrame(l, eventFrame(1, 1, &common.MessageParamValue{
		ParamId:    "BATT_CAPACITY\x00\x00",
		ParamValue: 5200,
		ParamType:  common.MAV_PARAM_TYPE_REAL32,
		ParamCount: 950,
		ParamIndex: 12,
	}))

	params, total := v.Params()
	assert.Equal(t, 950, total)
	p, ok := params["BATT_CAPACITY"]
	require.True(t, ok, "trailing NULs are stripped")
	assert.Equal(t, 5200.0, p.Value)
	assert.Equal(t, 12, p.Index)
}

func TestRouterStatusText(t *testing.T) {
	router, l, v := routerFixture(t)
	router.handleFrame(l, eventFrame(1, 1, &common.MessageStatustext{
		Severity: common.MAV_SEVERITY_WARNING,
		Text:     "EKF variance\x00\x00",
	}))
	out := v.DrainStatusText()
	require.Len(t, out, 1)
	assert.Equal(t, "EKF variance", out[0].Text)
	assert.Equal(t, int(common.MAV_SEVERITY_WARNING), out[0].Severity)
}

func TestRouterCalibrationAck(t *testing.T) {
	router, l, v := routerFixture(t)
	router.handleFrame(l, eventFrame(1, 1, &common.MessageCommandAck{
		Command: common.MAV_CMD_PREFLIGHT_CALIBRATION,
		Result:  common.MAV_RESULT_ACCEPTED,
	}))
	router.handleFrame(l, eventFrame(1, 1, &common.MessageCommandAck{
		Command: common.MAV_CMD_PREFLIGHT_CALIBRATION,
		Result:  common.MAV_RESULT(9),
	}))
	// acks for other commands are not surfaced
	router.handleFrame(l, eventFrame(1, 1, &common.MessageCommandAck{
		Command: common.MAV_CMD_COMPONENT_ARM_DISARM,
		Result:  common.MAV_RESULT_ACCEPTED,
	}))

	out := v.DrainStatusText()
	require.Len(t, out, 2)
	assert.Equal(t, "Calibration accepted", out[0].Text)
	assert.Equal(t, 6, out[0].Severity)
	assert.Equal(t, "Calibration result: 9", out[1].Text)
}

func TestRouterAvailableModes(t *testing.T) {
	router, l, v := routerFixture(t)
	router.handleFrame(l, eventFrame(1, 1, &common.MessageAvailableModes{
		NumberModes: 2, ModeIndex: 1, CustomMode: 4,
		Properties: common.MAV_MODE_PROPERTY(0x1),
		ModeName:   "Guided\x00",
	}))
	// not user selectable, dropped
	router.handleFrame(l, eventFrame(1, 1, &common.MessageAvailableModes{
		NumberModes: 2, ModeIndex: 2,
		Properties: common.MAV_MODE_PROPERTY(0x2),
		ModeName:   "Hidden",
	}))

	modes, total := v.AvailableModes()
	assert.Equal(t, 2, total)
	require.Len(t, modes, 1)
	assert.Equal(t, "Guided", modes[0].ModeName)
	assert.True(t, modes[0].Advanced)
}

func TestRouterMissionMessagesGoToInbox(t *testing.T) {
	router, l, v := routerFixture(t)
	router.handleFrame(l, eventFrame(1, 1, &common.MessageMissionCount{Count: 5}))

	msg := v.recvMissionMsg(10 * time.Millisecond)
	require.NotNil(t, msg)
	count, ok := msg.(*common.MessageMissionCount)
	require.True(t, ok)
	assert.Equal(t, uint16(5), count.Count)
}

func TestRouterMissionCurrent(t *testing.T) {
	router, l, v := routerFixture(t)
	router.handleFrame(l, eventFrame(1, 1, &common.MessageMissionCurrent{Seq: 3}))
	assert.Equal(t, 3, v.Telemetry()["mission_seq"])
}

func TestRouterTelemetryFromWrongComponentIgnored(t *testing.T) {
	router, l, v := routerFixture(t)
	router.handleFrame(l, eventFrame(1, 100, &common.MessageVfrHud{Groundspeed: 99}))
	assert.Equal(t, 0.0, v.Telemetry()["groundspeed"])
}

func TestRouterComponentTracking(t *testing.T) {
	router, l, _ := routerFixture(t)
	router.handleFrame(l, eventFrame(1, 1, &common.MessageHeartbeat{
		Type: common.MAV_TYPE_QUADROTOR, Autopilot: common.MAV_AUTOPILOT_ARDUPILOTMEGA,
	}))
	router.handleFrame(l, eventFrame(1, 1, &common.MessageHeartbeat{
		Type: common.MAV_TYPE_QUADROTOR, Autopilot: common.MAV_AUTOPILOT_ARDUPILOTMEGA,
	}))
	router.handleFrame(l, eventFrame(1, 154, &common.MessageHeartbeat{
		Type: common.MAV_TYPE_GIMBAL,
	}))

	comps := l.Components()
	require.Len(t, comps, 2)
	byKey := make(map[uint8]Component)
	for _, c := range comps {
		byKey[c.SrcComponent] = c
	}
	ap := byKey[1]
	assert.Equal(t, "vehicle", ap.Category)
	assert.Equal(t, "ardupilot", ap.Autopilot)
	assert.Equal(t, uint64(2), ap.HeartbeatCount)
	assert.True(t, ap.Active)

	gimbal := byKey[154]
	assert.Equal(t, "peripheral", gimbal.Category)
	assert.Equal(t, "Gimbal", gimbal.TypeName)
	assert.False(t, gimbal.IsTarget)
}

func TestRouterCameraInformation(t *testing.T) {
	router, l, v := routerFixture(t)
	var vendor, model [32]uint8
	copy(vendor[:], "Workswell")
	copy(model[:], "WIRIS Pro")
	router.handleFrame(l, eventFrame(1, 100, &common.MessageCameraInformation{
		VendorName:  vendor,
		ModelName:   model,
		ResolutionH: 1920,
		ResolutionV: 1080,
	}))

	cams := v.Cameras()
	require.Len(t, cams, 1)
	assert.Equal(t, "Workswell", cams[0].Vendor)
	assert.Equal(t, "WIRIS Pro", cams[0].Model)
	assert.Equal(t, uint8(100), cams[0].ComponentID)
	assert.Equal(t, 1920, cams[0].ResolutionH)
}

func TestRouterGimbalInformation(t *testing.T) {
	router, l, v := routerFixture(t)
	router.handleFrame(l, eventFrame(1, 154, &common.MessageGimbalDeviceInformation{
		VendorName: "Gremsy\x00",
		ModelName:  "Pixy U\x00",
		PitchMax:   0.52,
		PitchMin:   -2.09,
	}))

	gimbals := v.Gimbals()
	require.Len(t, gimbals, 1)
	assert.Equal(t, "Gremsy", gimbals[0].Vendor)
	assert.Equal(t, "Pixy U", gimbals[0].Model)
	assert.InDelta(t, 0.52, gimbals[0].TiltMax, 1e-4)
}
