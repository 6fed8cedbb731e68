package mav

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVehicleDefaults(t *testing.T) {
	v := newVehicle(nil, 1, 1, true, 2)
	snap := v.Telemetry()

	assert.Equal(t, "ardupilot", snap["autopilot"])
	assert.Equal(t, "Quadrotor", snap["platform_type"])
	assert.Equal(t, -1, snap["remaining"])
	assert.Equal(t, 99.99, snap["hdop"])
	assert.Equal(t, -1, snap["mission_seq"])
	assert.Equal(t, -1.0, snap["heartbeat_age"], "no heartbeat seen yet")
	assert.Equal(t, MissionIdle, v.MissionStatus())

	px4 := newVehicle(nil, 2, 1, false, 2)
	assert.Equal(t, "px4", px4.Telemetry()["autopilot"])
}

func TestVehicleTelemetryRounding(t *testing.T) {
	v := newVehicle(nil, 1, 1, true, 2)
	v.updateTelemetry(func(ts *TelemetryState) {
		ts.Roll = 0.123456
		ts.Lat = 47.39774281
		ts.Alt = 12.3456
		ts.Voltage = 12.3456
		ts.Groundspeed = 5.4321
	})

	snap := v.Telemetry()
	assert.Equal(t, 0.1235, snap["roll"])
	assert.Equal(t, 47.39774281, snap["lat"], "coordinates keep full precision")
	assert.Equal(t, 12.35, snap["alt"])
	assert.Equal(t, 12.35, snap["voltage"])
	assert.Equal(t, 5.43, snap["groundspeed"])
}

func TestVehicleGeneration(t *testing.T) {
	v := newVehicle(nil, 1, 1, true, 2)
	g0 := v.Generation()
	v.updateTelemetry(func(ts *TelemetryState) { ts.Heading = 90 })
	v.updateTelemetry(func(ts *TelemetryState) { ts.Heading = 91 })
	assert.Equal(t, g0+2, v.Generation())
}

func TestVehicleStatusTextDedup(t *testing.T) {
	v := newVehicle(nil, 1, 1, true, 2)
	v.appendStatusText(6, "PreArm: check complete")
	v.appendStatusText(6, "PreArm: check complete")
	v.appendStatusText(4, "PreArm: check complete") // different severity passes
	v.appendStatusText(6, "EKF ready")

	out := v.DrainStatusText()
	require.Len(t, out, 3)
	assert.Equal(t, "PreArm: check complete", out[0].Text)
	assert.Equal(t, 4, out[1].Severity)
	assert.Equal(t, "EKF ready", out[2].Text)

	assert.Nil(t, v.DrainStatusText(), "drain clears the ring")
	assert.False(t, v.HasStatusText())
}

func TestVehicleStatusTextCap(t *testing.T) {
	v := newVehicle(nil, 1, 1, true, 2)
	for i := 0; i < 150; i++ {
		v.appendStatusText(6, fmt.Sprintf("msg %d", i))
	}
	out := v.DrainStatusText()
	require.Len(t, out, 100)
	assert.Equal(t, "msg 50", out[0].Text)
	assert.Equal(t, "msg 149", out[99].Text)
}

func TestVehicleParamsIsolation(t *testing.T) {
	v := newVehicle(nil, 1, 1, true, 2)
	v.storeParam("BATT_CAPACITY", Param{Value: 5200, Type: 9, Index: 3}, 950)

	params, total := v.Params()
	assert.Equal(t, 950, total)
	require.Contains(t, params, "BATT_CAPACITY")

	params["BATT_CAPACITY"] = Param{Value: 0}
	again, _ := v.Params()
	assert.Equal(t, 5200.0, again["BATT_CAPACITY"].Value, "callers get a copy")
}

func TestVehicleAvailableModes(t *testing.T) {
	v := newVehicle(nil, 1, 1, false, 2)
	v.storeAvailableMode(3, AvailableMode{ModeIndex: 3, ModeName: "Mission"})
	v.storeAvailableMode(3, AvailableMode{ModeIndex: 1, ModeName: "Position"})
	v.storeAvailableMode(3, AvailableMode{ModeIndex: 2, ModeName: "Altitude"})
	// re-announcement replaces in place
	v.storeAvailableMode(3, AvailableMode{ModeIndex: 1, ModeName: "Position Slow"})

	modes, total := v.AvailableModes()
	assert.Equal(t, 3, total)
	require.Len(t, modes, 3)
	assert.Equal(t, "Position Slow", modes[0].ModeName)
	assert.Equal(t, "Altitude", modes[1].ModeName)
	assert.Equal(t, "Mission", modes[2].ModeName)
}

func TestVehicleSetName(t *testing.T) {
	v := newVehicle(nil, 5, 1, true, 2)
	v.setID("5")
	assert.Equal(t, "Vehicle-5", v.Name())
	v.SetName("Scout")
	assert.Equal(t, "Scout", v.Name())
	v.SetName("")
	assert.Equal(t, "Scout", v.Name())
}

func TestVehicleColorsCycle(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < len(vehicleColors); i++ {
		seen[nextVehicleColor()] = true
	}
	assert.LessOrEqual(t, len(seen), len(vehicleColors))
	for c := range seen {
		assert.Contains(t, vehicleColors, c)
	}
}

func TestMissionInboxDropsOldest(t *testing.T) {
	v := newVehicle(nil, 1, 1, true, 2)
	for i := 0; i < missionInboxSize+5; i++ {
		v.pushMissionMsg(&fakeMsg{id: i})
	}
	first := v.recvMissionMsg(10 * time.Millisecond)
	require.NotNil(t, first)
	assert.Equal(t, 5, first.(*fakeMsg).id, "oldest messages were discarded")

	v.drainMissionInbox()
	assert.Nil(t, v.recvMissionMsg(10*time.Millisecond))
}

type fakeMsg struct{ id int }

func (f *fakeMsg) GetID() uint32 { return 60000 }
