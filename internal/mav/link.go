package mav

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"GroundLink/internal/logger"
	"GroundLink/internal/metrics"
)

const (
	gcsSystemID      = 255
	handshakeTimeout = 10 * time.Second
	commandQueueSize = 128
	heartbeatPeriod  = 1 * time.Second
	motorTestSpacing = 50 * time.Millisecond
)

// ParseEndpoint translates a connection string into a gomavlib endpoint.
// Supported forms: udpin:host:port, udpout:host:port, tcp:host:port,
// serial:device[:baud].
func ParseEndpoint(s string) (gomavlib.EndpointConf, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("invalid endpoint %q", s)
	}
	scheme, rest := parts[0], parts[1]
	switch scheme {
	case "udpin":
		return gomavlib.EndpointUDPServer{Address: rest}, nil
	case "udpout":
		return gomavlib.EndpointUDPClient{Address: rest}, nil
	case "tcp":
		return gomavlib.EndpointTCPClient{Address: rest}, nil
	case "serial":
		device := rest
		baud := 57600
		if i := strings.LastIndex(rest, ":"); i > 0 {
			if b, err := strconv.Atoi(rest[i+1:]); err == nil {
				device = rest[:i]
				baud = b
			}
		}
		return gomavlib.EndpointSerial{Device: device, Baud: baud}, nil
	default:
		return nil, fmt.Errorf("unknown endpoint scheme %q", scheme)
	}
}

// Link is one MAVLink connection. A link carries one or more vehicles
// (distinct system ids) plus any bus peripherals.
type Link struct {
	endpoint string
	node     *gomavlib.Node
	router   *Router

	id string // registry-assigned connection id

	cmdCh  chan *Command
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	mu         sync.Mutex
	vehicles   map[uint8]*Vehicle
	components map[string]*Component
}

// Connect opens the endpoint and blocks until the first autopilot heartbeat
// arrives or the handshake times out.
func Connect(endpoint string, router *Router) (*Link, error) {
	conf, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:        []gomavlib.EndpointConf{conf},
		Dialect:          common.Dialect,
		OutVersion:       gomavlib.V2,
		OutSystemID:      gcsSystemID,
		HeartbeatDisable: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", endpoint, err)
	}

	l := &Link{
		endpoint:   endpoint,
		node:       node,
		router:     router,
		cmdCh:      make(chan *Command, commandQueueSize),
		stopCh:     make(chan struct{}),
		vehicles:   make(map[uint8]*Vehicle),
		components: make(map[string]*Component),
	}

	if err := l.handshake(); err != nil {
		node.Close()
		return nil, err
	}

	l.wg.Add(2)
	go l.readLoop()
	go l.writeLoop()
	return l, nil
}

// handshake waits for a vehicle heartbeat while announcing our own presence,
// so endpoints behind NAT learn the return path.
func (l *Link) handshake() error {
	logger.Info("[LINK] waiting for heartbeat on %s", l.endpoint)
	deadline := time.NewTimer(handshakeTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	l.sendHeartbeat()
	for {
		select {
		case <-deadline.C:
			return fmt.Errorf("no heartbeat on %s within %s", l.endpoint, handshakeTimeout)
		case <-ticker.C:
			l.sendHeartbeat()
		case ev, ok := <-l.node.Events():
			if !ok {
				return fmt.Errorf("connection closed during handshake")
			}
			frame, ok := ev.(*gomavlib.EventFrame)
			if !ok {
				continue
			}
			v := l.handshakeHeartbeat(frame)
			if v == nil {
				continue
			}
			logger.Info("[LINK] heartbeat from system %d (%s, %s)",
				v.TargetSystem, MAVTypeName(v.MavType), v.Telemetry()["autopilot"])
			return nil
		}
	}
}

// handshakeHeartbeat records the sender in the component inventory and
// returns a vehicle when the heartbeat came from an autopilot we connect to.
// Peripherals seen while waiting are tracked without ending the handshake.
func (l *Link) handshakeHeartbeat(frame *gomavlib.EventFrame) *Vehicle {
	hb, ok := frame.Message().(*common.MessageHeartbeat)
	if !ok {
		return nil
	}
	sysID := frame.SystemID()
	compID := frame.ComponentID()
	l.registerComponent(sysID, compID, uint8(hb.Type), uint8(hb.Autopilot))
	if l.router != nil {
		l.router.inspector.Record(hb, sysID, compID)
	}
	if sysID == gcsSystemID || compID != 1 || !VehicleTypes[uint8(hb.Type)] {
		logger.Debug("[LINK] tracked %s (sys=%d, comp=%d) on %s, waiting for autopilot",
			MAVTypeName(uint8(hb.Type)), sysID, compID, l.endpoint)
		return nil
	}
	return l.addVehicle(sysID, compID, hb)
}

func (l *Link) sendHeartbeat() {
	err := l.node.WriteMessageAll(&common.MessageHeartbeat{
		Type:         common.MAV_TYPE_GCS,
		Autopilot:    common.MAV_AUTOPILOT_INVALID,
		SystemStatus: common.MAV_STATE_ACTIVE,
	})
	if err != nil {
		logger.Debug("[LINK] heartbeat send failed on %s: %v", l.endpoint, err)
	}
}

// Endpoint returns the connection string this link was opened with.
func (l *Link) Endpoint() string { return l.endpoint }

// ID returns the registry-assigned connection id.
func (l *Link) ID() string { return l.id }

// Vehicles returns the vehicles seen on this link.
func (l *Link) Vehicles() []*Vehicle {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Vehicle, 0, len(l.vehicles))
	for _, v := range l.vehicles {
		out = append(out, v)
	}
	return out
}

func (l *Link) vehicle(sysID uint8) *Vehicle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.vehicles[sysID]
}

// addVehicle creates per-sysid state on first heartbeat and kicks off the
// telemetry stream bootstrap.
func (l *Link) addVehicle(sysID, compID uint8, hb *common.MessageHeartbeat) *Vehicle {
	l.mu.Lock()
	if v, ok := l.vehicles[sysID]; ok {
		l.mu.Unlock()
		return v
	}
	isAP := uint8(hb.Autopilot) == 3
	v := newVehicle(l, sysID, compID, isAP, uint8(hb.Type))
	l.vehicles[sysID] = v
	l.mu.Unlock()

	v.updateTelemetry(func(t *TelemetryState) {
		t.Armed = IsArmed(uint8(hb.BaseMode))
		if isAP {
			t.Mode = DecodeArduPilotMode(uint8(hb.Type), hb.CustomMode)
		} else {
			t.Mode = DecodePX4Mode(hb.CustomMode)
		}
		t.SystemStatus = int(hb.SystemStatus)
		t.LastHeartbeat = float64(time.Now().UnixNano()) / 1e9
	})

	l.bootstrapStreams(v)
	if l.router != nil {
		l.router.vehicleDiscovered(l, v)
	}
	return v
}

// bootstrapStreams asks the autopilot for the telemetry set the UI needs,
// the full parameter list, and its standard-mode table.
func (l *Link) bootstrapStreams(v *Vehicle) {
	var msgs []message.Message
	if v.IsArduPilot {
		streams := []struct {
			id   uint8
			rate uint16
		}{
			{0, 4},   // ALL
			{1, 2},   // RAW_SENSORS
			{2, 2},   // EXTENDED_STATUS
			{3, 2},   // RC_CHANNELS
			{6, 10},  // POSITION
			{10, 10}, // EXTRA1
			{11, 10}, // EXTRA2
			{12, 2},  // EXTRA3
		}
		for _, s := range streams {
			msgs = append(msgs, &common.MessageRequestDataStream{
				TargetSystem:    v.TargetSystem,
				TargetComponent: v.TargetComponent,
				ReqStreamId:     s.id,
				ReqMessageRate:  s.rate,
				StartStop:       1,
			})
		}
	} else {
		intervals := []struct {
			msgID      uint32
			intervalUs uint32
		}{
			{0, 1000000}, // HEARTBEAT
			{30, 100000}, // ATTITUDE
			{33, 100000}, // GLOBAL_POSITION_INT
			{24, 500000}, // GPS_RAW_INT
			{74, 100000}, // VFR_HUD
			{1, 500000},  // SYS_STATUS
		}
		for _, iv := range intervals {
			msgs = append(msgs, &common.MessageCommandLong{
				TargetSystem:    v.TargetSystem,
				TargetComponent: v.TargetComponent,
				Command:         common.MAV_CMD_SET_MESSAGE_INTERVAL,
				Param1:          float32(iv.msgID),
				Param2:          float32(iv.intervalUs),
			})
		}
	}
	msgs = append(msgs,
		&common.MessageParamRequestList{
			TargetSystem:    v.TargetSystem,
			TargetComponent: v.TargetComponent,
		},
		&common.MessageCommandLong{
			TargetSystem:    v.TargetSystem,
			TargetComponent: v.TargetComponent,
			Command:         common.MAV_CMD_REQUEST_MESSAGE,
			Param1:          435, // AVAILABLE_MODES
		},
	)
	if err := v.SendRaw(msgs...); err != nil {
		logger.Warn("[LINK] stream bootstrap for system %d not queued: %v", v.TargetSystem, err)
	}
}

// Enqueue hands a command to the writer. The queue never blocks a caller;
// when full the command is dropped and counted.
func (l *Link) Enqueue(cmd *Command) error {
	select {
	case <-l.stopCh:
		return fmt.Errorf("link %s closed", l.endpoint)
	default:
	}
	select {
	case l.cmdCh <- cmd:
		metrics.CommandsEnqueued.WithLabelValues(string(cmd.Kind)).Inc()
		return nil
	default:
		metrics.CommandsDropped.Inc()
		return fmt.Errorf("command queue full on %s", l.endpoint)
	}
}

func (l *Link) readLoop() {
	defer l.wg.Done()
	for ev := range l.node.Events() {
		select {
		case <-l.stopCh:
			return
		default:
		}
		switch e := ev.(type) {
		case *gomavlib.EventFrame:
			l.router.handleFrame(l, e)
		case *gomavlib.EventParseError:
			metrics.ParseErrors.Inc()
			logger.Debug("[LINK] parse error on %s: %v", l.endpoint, e.Error)
		case *gomavlib.EventChannelOpen:
			logger.Info("[LINK] channel open on %s", l.endpoint)
		case *gomavlib.EventChannelClose:
			logger.Warn("[LINK] channel closed on %s", l.endpoint)
		}
	}
}

func (l *Link) writeLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.sendHeartbeat()
		case cmd := <-l.cmdCh:
			l.execute(cmd)
		}
	}
}

// execute sends one queued command, honoring its delay and the per-message
// spacing PX4 needs for sequential actuator tests.
func (l *Link) execute(cmd *Command) {
	if cmd.Delay > 0 {
		select {
		case <-l.stopCh:
			return
		case <-time.After(cmd.Delay):
		}
	}
	msgs, err := buildCommandMessages(cmd)
	if err != nil {
		logger.Warn("[LINK] command %s not sent: %v", cmd.Kind, err)
		return
	}
	space := cmd.Kind == CmdMotorTest && !cmd.ArduPilot && cmd.AllMotors
	for i, msg := range msgs {
		if space && i > 0 {
			time.Sleep(motorTestSpacing)
		}
		if err := l.node.WriteMessageAll(msg); err != nil {
			metrics.SendFailures.WithLabelValues(MessageTypeName(msg)).Inc()
			logger.Warn("[LINK] send %s on %s failed: %v", MessageTypeName(msg), l.endpoint, err)
			continue
		}
		metrics.FramesSent.WithLabelValues(MessageTypeName(msg)).Inc()
	}
}

// Close shuts the link down. Safe to call more than once.
func (l *Link) Close() {
	l.once.Do(func() {
		close(l.stopCh)
		if l.node != nil {
			l.node.Close()
		}
	})
	l.wg.Wait()
}
