package mav

import (
	"testing"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildArmDisarm(t *testing.T) {
	msgs, err := buildCommandMessages(&Command{Kind: CmdArm, TargetSystem: 1, TargetComponent: 1})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	cl := msgs[0].(*common.MessageCommandLong)
	assert.Equal(t, common.MAV_CMD_COMPONENT_ARM_DISARM, cl.Command)
	assert.Equal(t, float32(1), cl.Param1)
	assert.Equal(t, float32(0), cl.Param2)

	msgs, err = buildCommandMessages(&Command{Kind: CmdDisarm, Force: true})
	require.NoError(t, err)
	cl = msgs[0].(*common.MessageCommandLong)
	assert.Equal(t, float32(0), cl.Param1)
	assert.Equal(t, float32(21196), cl.Param2)
}

func TestBuildTakeoff(t *testing.T) {
	msgs, err := buildCommandMessages(&Command{Kind: CmdTakeoff, Alt: 25})
	require.NoError(t, err)
	cl := msgs[0].(*common.MessageCommandLong)
	assert.Equal(t, common.MAV_CMD_NAV_TAKEOFF, cl.Command)
	assert.Equal(t, float32(25), cl.Param7)
}

func TestBuildGoto(t *testing.T) {
	msgs, err := buildCommandMessages(&Command{
		Kind: CmdGoto, TargetSystem: 1, Lat: 47.3977, Lon: 8.5456, Alt: 30,
	})
	require.NoError(t, err)
	sp := msgs[0].(*common.MessageSetPositionTargetGlobalInt)
	assert.Equal(t, common.MAV_FRAME_GLOBAL_RELATIVE_ALT_INT, sp.CoordinateFrame)
	assert.Equal(t, common.POSITION_TARGET_TYPEMASK(0b0000111111111000), sp.TypeMask)
	assert.Equal(t, int32(473977000), sp.LatInt)
	assert.Equal(t, int32(85456000), sp.LonInt)
	assert.Equal(t, float32(30), sp.Alt)
}

func TestBuildSetModeArduPilot(t *testing.T) {
	msgs, err := buildCommandMessages(&Command{
		Kind: CmdSetMode, ArduPilot: true, MavType: 2, Mode: "GUIDED", TargetSystem: 1,
	})
	require.NoError(t, err)
	sm := msgs[0].(*common.MessageSetMode)
	assert.Equal(t, uint32(4), sm.CustomMode)
	assert.Equal(t, common.MAV_MODE(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED), sm.BaseMode)

	_, err = buildCommandMessages(&Command{
		Kind: CmdSetMode, ArduPilot: true, MavType: 2, Mode: "NOPE",
	})
	assert.Error(t, err)
}

func TestBuildSetModePX4(t *testing.T) {
	msgs, err := buildCommandMessages(&Command{Kind: CmdSetMode, Mode: "AUTO_MISSION"})
	require.NoError(t, err)
	cl := msgs[0].(*common.MessageCommandLong)
	assert.Equal(t, common.MAV_CMD_DO_SET_MODE, cl.Command)
	assert.Equal(t, float32(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED), cl.Param1)
	assert.Equal(t, float32(uint32(4<<16|4<<24)), cl.Param2)
}

func TestBuildCalibration(t *testing.T) {
	tests := []struct {
		kind  string
		check func(t *testing.T, cl *common.MessageCommandLong)
	}{
		{"gyro", func(t *testing.T, cl *common.MessageCommandLong) { assert.Equal(t, float32(1), cl.Param1) }},
		{"compass", func(t *testing.T, cl *common.MessageCommandLong) { assert.Equal(t, float32(1), cl.Param2) }},
		{"pressure", func(t *testing.T, cl *common.MessageCommandLong) { assert.Equal(t, float32(1), cl.Param3) }},
		{"accel", func(t *testing.T, cl *common.MessageCommandLong) { assert.Equal(t, float32(1), cl.Param5) }},
		{"level", func(t *testing.T, cl *common.MessageCommandLong) { assert.Equal(t, float32(2), cl.Param5) }},
		{"cancel", func(t *testing.T, cl *common.MessageCommandLong) { assert.Equal(t, float32(0), cl.Param5) }},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			msgs, err := buildCommandMessages(&Command{Kind: CmdCalibrate, Calibration: tt.kind})
			require.NoError(t, err)
			cl := msgs[0].(*common.MessageCommandLong)
			assert.Equal(t, common.MAV_CMD_PREFLIGHT_CALIBRATION, cl.Command)
			tt.check(t, cl)
		})
	}

	_, err := buildCommandMessages(&Command{Kind: CmdCalibrate, Calibration: "dance"})
	assert.Error(t, err)
}

func TestBuildMotorTestArduPilot(t *testing.T) {
	msgs, err := buildCommandMessages(&Command{
		Kind: CmdMotorTest, ArduPilot: true, Motor: 3, Throttle: 10, Duration: 2,
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	cl := msgs[0].(*common.MessageCommandLong)
	assert.Equal(t, common.MAV_CMD_DO_MOTOR_TEST, cl.Command)
	assert.Equal(t, float32(3), cl.Param1)
	assert.Equal(t, float32(10), cl.Param3)
	assert.Equal(t, float32(2), cl.Param4)
}

func TestBuildMotorTestPX4All(t *testing.T) {
	msgs, err := buildCommandMessages(&Command{
		Kind: CmdMotorTest, Throttle: 20, Duration: 1, AllMotors: true,
	})
	require.NoError(t, err)
	require.Len(t, msgs, 8)
	for i, msg := range msgs {
		cl := msg.(*common.MessageCommandLong)
		assert.Equal(t, common.MAV_CMD_ACTUATOR_TEST, cl.Command)
		assert.Equal(t, float32(0.2), cl.Param1)
		assert.Equal(t, float32(101+i), cl.Param5)
	}
}

func TestBuildRCOverride(t *testing.T) {
	msgs := buildRCOverride(&Command{
		Kind: CmdRCOverride, ArduPilot: true, TargetSystem: 1,
		Channels: [8]uint16{1500, 1600, 0, 1400, 0, 0, 0, 2000},
	})
	rc := msgs[0].(*common.MessageRcChannelsOverride)
	assert.Equal(t, uint16(1500), rc.Chan1Raw)
	assert.Equal(t, uint16(1600), rc.Chan2Raw)
	assert.Equal(t, uint16(0), rc.Chan3Raw)
	assert.Equal(t, uint16(2000), rc.Chan8Raw)
}

func TestBuildRCOverridePX4(t *testing.T) {
	// PX4 ignores RC_CHANNELS_OVERRIDE; the first four channels become
	// MANUAL_CONTROL axes.
	msgs := buildRCOverride(&Command{
		Kind: CmdRCOverride, TargetSystem: 1,
		Channels: [8]uint16{1500, 2000, 1500, 1000},
	})
	mc := msgs[0].(*common.MessageManualControl)
	assert.Equal(t, int16(0), mc.Y)     // roll center
	assert.Equal(t, int16(1000), mc.X)  // full forward
	assert.Equal(t, int16(500), mc.Z)   // mid throttle
	assert.Equal(t, int16(-1000), mc.R) // full left yaw
}

func TestBuildParamSet(t *testing.T) {
	msgs, err := buildCommandMessages(&Command{
		Kind: CmdSetParam, TargetSystem: 1, TargetComponent: 1,
		ParamID: "WPNAV_SPEED", Value: 750,
	})
	require.NoError(t, err)
	ps := msgs[0].(*common.MessageParamSet)
	assert.Equal(t, "WPNAV_SPEED", ps.ParamId)
	assert.Equal(t, float32(750), ps.ParamValue)
	assert.Equal(t, common.MAV_PARAM_TYPE_REAL32, ps.ParamType)

	msgs, err = buildCommandMessages(&Command{
		Kind: CmdSetParam, ParamID: "SYSID_THISMAV", Value: 2, ParamType: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, common.MAV_PARAM_TYPE(4), msgs[0].(*common.MessageParamSet).ParamType)
}

func TestBuildUnknownKind(t *testing.T) {
	_, err := buildCommandMessages(&Command{Kind: CommandKind("warp")})
	assert.Error(t, err)
}
