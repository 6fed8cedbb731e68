// Package broadcast fans live telemetry out to websocket subscribers with
// delta compression and per-vehicle adaptive rates.
package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"GroundLink/internal/logger"
	"GroundLink/internal/mav"
	"GroundLink/internal/metrics"
)

const (
	tickInterval     = 100 * time.Millisecond
	fullSyncInterval = 5 * time.Second

	// Per-vehicle send intervals by activity.
	rateActive = 100 * time.Millisecond // armed and moving
	rateArmed  = 200 * time.Millisecond // armed, stationary
	rateIdle   = 1 * time.Second        // disarmed

	subscriberBuffer = 32
)

// Vehicle is the slice of vehicle state the engine reads. *mav.Vehicle
// satisfies it; tests use fakes.
type Vehicle interface {
	ID() string
	Name() string
	Generation() uint64
	Telemetry() map[string]interface{}
	DrainStatusText() []mav.StatusText
	MissionStatus() string
}

// vehicleTrack is the per-vehicle delta state.
type vehicleTrack struct {
	snapshot      map[string]interface{}
	generation    uint64
	hasGeneration bool
	missionStatus string
	lastFull      time.Time
	lastSend      time.Time
}

// Engine periodically snapshots every vehicle and pushes JSON frames to
// subscribers. Frames carry only changed fields; a full snapshot goes out
// every few seconds as a reliability fallback.
type Engine struct {
	vehicles func() []Vehicle
	tick     time.Duration
	fullSync time.Duration

	mu          sync.Mutex
	subscribers map[string]chan []byte
	tracks      map[string]*vehicleTrack

	stopCh chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewEngine builds the broadcaster over a registry. Zero intervals select
// the defaults.
func NewEngine(registry *mav.Registry, tick, fullSync time.Duration) *Engine {
	e := newEngine(func() []Vehicle {
		vehicles := registry.Vehicles()
		out := make([]Vehicle, len(vehicles))
		for i, v := range vehicles {
			out[i] = v
		}
		return out
	})
	if tick > 0 {
		e.tick = tick
	}
	if fullSync > 0 {
		e.fullSync = fullSync
	}
	return e
}

func newEngine(vehicles func() []Vehicle) *Engine {
	return &Engine{
		vehicles:    vehicles,
		tick:        tickInterval,
		fullSync:    fullSyncInterval,
		subscribers: make(map[string]chan []byte),
		tracks:      make(map[string]*vehicleTrack),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Subscribe registers a consumer. The channel is buffered; a consumer that
// stops reading loses frames instead of stalling the engine.
func (e *Engine) Subscribe() (string, <-chan []byte) {
	id := uuid.NewString()
	ch := make(chan []byte, subscriberBuffer)
	e.mu.Lock()
	e.subscribers[id] = ch
	n := len(e.subscribers)
	e.mu.Unlock()
	metrics.Subscribers.Set(float64(n))
	logger.Debug("[BROADCAST] subscriber %s added (%d total)", id, n)
	return id, ch
}

// Unsubscribe removes a consumer and closes its channel.
func (e *Engine) Unsubscribe(id string) {
	e.mu.Lock()
	ch, ok := e.subscribers[id]
	if ok {
		delete(e.subscribers, id)
	}
	n := len(e.subscribers)
	e.mu.Unlock()
	if ok {
		close(ch)
		metrics.Subscribers.Set(float64(n))
		logger.Debug("[BROADCAST] subscriber %s removed (%d total)", id, n)
	}
}

// Run drives the tick loop until Stop.
func (e *Engine) Run() {
	defer close(e.done)
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.tickOnce(time.Now())
		}
	}
}

// Stop halts the loop and waits for it to finish.
func (e *Engine) Stop() {
	e.once.Do(func() { close(e.stopCh) })
	<-e.done
}

func (e *Engine) hasSubscribers() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subscribers) > 0
}

func (e *Engine) tickOnce(now time.Time) {
	if !e.hasSubscribers() {
		return
	}
	for _, v := range e.vehicles() {
		if frame := e.buildFrame(v, now); frame != nil {
			e.publish(frame)
		}
	}
}

// buildFrame decides whether the vehicle is due for a send and assembles the
// delta or full message. Returns nil when nothing needs to go out.
func (e *Engine) buildFrame(v Vehicle, now time.Time) map[string]interface{} {
	id := v.ID()
	if id == "" {
		return nil
	}

	e.mu.Lock()
	track, ok := e.tracks[id]
	if !ok {
		track = &vehicleTrack{}
		e.tracks[id] = track
	}
	e.mu.Unlock()

	// Rate gate on the last sent state: moving vehicles stream at 10 Hz,
	// parked ones heartbeat at 1 Hz.
	interval := rateIdle
	if armed, _ := track.snapshot["armed"].(bool); armed {
		interval = rateArmed
		if gs, _ := track.snapshot["groundspeed"].(float64); gs > 0.5 {
			interval = rateActive
		}
	}
	if now.Sub(track.lastSend) < interval {
		return nil
	}

	gen := v.Generation()
	statusMsgs := v.DrainStatusText()
	missionStatus := v.MissionStatus()

	genChanged := !track.hasGeneration || gen != track.generation
	missionChanged := missionStatus != track.missionStatus
	forceFull := now.Sub(track.lastFull) >= e.fullSync

	if !genChanged && !missionChanged && len(statusMsgs) == 0 && !forceFull {
		return nil
	}

	telemetry := v.Telemetry()

	var msg map[string]interface{}
	if forceFull || track.snapshot == nil {
		msg = make(map[string]interface{}, len(telemetry)+6)
		for k, val := range telemetry {
			msg[k] = val
		}
		msg["_full"] = true
		track.lastFull = now
	} else {
		msg = make(map[string]interface{})
		for k, val := range telemetry {
			if track.snapshot[k] != val {
				msg[k] = val
			}
		}
		// Generation can bump while rounding keeps every value identical.
		if len(msg) == 0 && !missionChanged && len(statusMsgs) == 0 {
			track.generation = gen
			track.hasGeneration = true
			return nil
		}
	}

	msg["type"] = "telemetry"
	msg["vehicle_id"] = id
	msg["drone_name"] = v.Name()
	msg["mission_status"] = missionStatus
	if len(statusMsgs) > 0 {
		msg["statustext"] = statusMsgs
	}

	track.snapshot = telemetry
	track.generation = gen
	track.hasGeneration = true
	track.missionStatus = missionStatus
	track.lastSend = now
	return msg
}

func (e *Engine) publish(msg map[string]interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error("[BROADCAST] marshal failed: %v", err)
		return
	}
	metrics.BroadcastFrames.Inc()

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, ch := range e.subscribers {
		select {
		case ch <- data:
		default:
			logger.Debug("[BROADCAST] subscriber %s lagging, frame dropped", id)
		}
	}
}
