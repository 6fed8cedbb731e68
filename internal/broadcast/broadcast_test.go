package broadcast

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GroundLink/internal/mav"
)

type fakeVehicle struct {
	id         string
	name       string
	gen        uint64
	telemetry  map[string]interface{}
	statustext []mav.StatusText
	mission    string
}

func (f *fakeVehicle) ID() string     { return f.id }
func (f *fakeVehicle) Name() string   { return f.name }
func (f *fakeVehicle) Generation() uint64 { return f.gen }
func (f *fakeVehicle) Telemetry() map[string]interface{} {
	out := make(map[string]interface{}, len(f.telemetry))
	for k, v := range f.telemetry {
		out[k] = v
	}
	return out
}
func (f *fakeVehicle) DrainStatusText() []mav.StatusText {
	out := f.statustext
	f.statustext = nil
	return out
}
func (f *fakeVehicle) MissionStatus() string { return f.mission }

func newFake() *fakeVehicle {
	return &fakeVehicle{
		id:   "1",
		name: "Vehicle-1",
		gen:  1,
		telemetry: map[string]interface{}{
			"armed":       false,
			"groundspeed": 0.0,
			"voltage":     12.6,
			"mode":        "STABILIZE",
		},
		mission: mav.MissionIdle,
	}
}

func testEngine(v Vehicle) *Engine {
	return newEngine(func() []Vehicle { return []Vehicle{v} })
}

func TestFirstFrameIsFull(t *testing.T) {
	v := newFake()
	e := testEngine(v)
	now := time.Now()

	frame := e.buildFrame(v, now)
	require.NotNil(t, frame)
	assert.Equal(t, true, frame["_full"])
	assert.Equal(t, "telemetry", frame["type"])
	assert.Equal(t, "1", frame["vehicle_id"])
	assert.Equal(t, "Vehicle-1", frame["drone_name"])
	assert.Equal(t, mav.MissionIdle, frame["mission_status"])
	assert.Equal(t, 12.6, frame["voltage"])
}

func TestDeltaCarriesOnlyChanges(t *testing.T) {
	v := newFake()
	e := testEngine(v)
	now := time.Now()
	require.NotNil(t, e.buildFrame(v, now))

	v.gen = 2
	v.telemetry["voltage"] = 12.4
	frame := e.buildFrame(v, now.Add(rateIdle))
	require.NotNil(t, frame)
	assert.Nil(t, frame["_full"])
	assert.Equal(t, 12.4, frame["voltage"])
	assert.NotContains(t, frame, "mode", "unchanged fields stay out of deltas")
}

func TestUnchangedGenerationSkips(t *testing.T) {
	v := newFake()
	e := testEngine(v)
	now := time.Now()
	require.NotNil(t, e.buildFrame(v, now))

	// nothing changed, not yet due for a full sync
	assert.Nil(t, e.buildFrame(v, now.Add(rateIdle)))
}

func TestEmptyDeltaSkipsButStoresGeneration(t *testing.T) {
	v := newFake()
	e := testEngine(v)
	now := time.Now()
	require.NotNil(t, e.buildFrame(v, now))

	// generation bumped but every rounded value is identical
	v.gen = 2
	assert.Nil(t, e.buildFrame(v, now.Add(rateIdle)))
	// the stored generation keeps the next tick from re-diffing
	assert.Nil(t, e.buildFrame(v, now.Add(2*rateIdle)))
}

func TestRateGateIdle(t *testing.T) {
	v := newFake()
	e := testEngine(v)
	now := time.Now()
	require.NotNil(t, e.buildFrame(v, now))

	v.gen = 2
	v.telemetry["voltage"] = 12.5
	// disarmed vehicles send at most once a second
	assert.Nil(t, e.buildFrame(v, now.Add(500*time.Millisecond)))
	assert.NotNil(t, e.buildFrame(v, now.Add(rateIdle)))
}

func TestRateGateActive(t *testing.T) {
	v := newFake()
	v.telemetry["armed"] = true
	v.telemetry["groundspeed"] = 3.2
	e := testEngine(v)
	now := time.Now()
	require.NotNil(t, e.buildFrame(v, now))

	v.gen = 2
	v.telemetry["voltage"] = 12.5
	// armed and moving streams at the fast rate
	assert.NotNil(t, e.buildFrame(v, now.Add(rateActive)))
}

func TestFullSyncInterval(t *testing.T) {
	v := newFake()
	e := testEngine(v)
	now := time.Now()
	require.NotNil(t, e.buildFrame(v, now))

	// no changes at all, but the periodic full snapshot still goes out
	frame := e.buildFrame(v, now.Add(fullSyncInterval))
	require.NotNil(t, frame)
	assert.Equal(t, true, frame["_full"])
}

func TestStatusTextAttached(t *testing.T) {
	v := newFake()
	e := testEngine(v)
	now := time.Now()
	require.NotNil(t, e.buildFrame(v, now))

	v.statustext = []mav.StatusText{{Severity: 6, Text: "EKF ready", Time: 1}}
	frame := e.buildFrame(v, now.Add(rateIdle))
	require.NotNil(t, frame)
	msgs := frame["statustext"].([]mav.StatusText)
	require.Len(t, msgs, 1)
	assert.Equal(t, "EKF ready", msgs[0].Text)
}

func TestMissionStatusChangeTriggersFrame(t *testing.T) {
	v := newFake()
	e := testEngine(v)
	now := time.Now()
	require.NotNil(t, e.buildFrame(v, now))

	v.mission = mav.MissionRunning
	frame := e.buildFrame(v, now.Add(rateIdle))
	require.NotNil(t, frame)
	assert.Equal(t, mav.MissionRunning, frame["mission_status"])
}

func TestUnregisteredVehicleSkipped(t *testing.T) {
	v := newFake()
	v.id = ""
	e := testEngine(v)
	assert.Nil(t, e.buildFrame(v, time.Now()))
}

func TestSubscribeReceivesFrames(t *testing.T) {
	v := newFake()
	e := testEngine(v)
	id, ch := e.Subscribe()
	defer e.Unsubscribe(id)

	e.tickOnce(time.Now())

	select {
	case data := <-ch:
		var frame map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &frame))
		assert.Equal(t, "telemetry", frame["type"])
		assert.Equal(t, true, frame["_full"])
	case <-time.After(time.Second):
		t.Fatal("no frame received")
	}
}

func TestRunDeliversFrames(t *testing.T) {
	v := newFake()
	e := testEngine(v)
	e.tick = 5 * time.Millisecond
	id, ch := e.Subscribe()
	defer e.Unsubscribe(id)

	go e.Run()
	defer e.Stop()

	select {
	case data := <-ch:
		var frame map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &frame))
		assert.Equal(t, "telemetry", frame["type"])
	case <-time.After(time.Second):
		t.Fatal("run loop produced no frame")
	}
}

func TestTickWithoutSubscribers(t *testing.T) {
	v := newFake()
	e := testEngine(v)
	// no subscribers: tick must not touch vehicle state
	e.tickOnce(time.Now())
	assert.Len(t, v.statustext, 0)
	assert.Nil(t, e.tracks["1"])
}

func TestLaggingSubscriberDropsFrames(t *testing.T) {
	v := newFake()
	v.telemetry["armed"] = true
	v.telemetry["groundspeed"] = 2.0
	e := testEngine(v)
	id, ch := e.Subscribe()
	defer e.Unsubscribe(id)

	now := time.Now()
	for i := 0; i < subscriberBuffer+10; i++ {
		v.gen++
		v.telemetry["voltage"] = 12.0 + float64(i)/100
		e.tickOnce(now)
		now = now.Add(rateActive)
	}

	// engine never blocked; the reader finds at most a buffer's worth
	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			assert.Equal(t, subscriberBuffer, count)
			return
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	e := testEngine(newFake())
	id, ch := e.Subscribe()
	e.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
}
