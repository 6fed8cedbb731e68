package mav

import (
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"GroundLink/internal/logger"
	"GroundLink/internal/metrics"
)

// Waypoint is one user mission item. Altitude is relative to home.
type Waypoint struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Alt      float64 `json:"alt"`
	Seq      int     `json:"seq"`
	ItemType string  `json:"item_type"` // waypoint, takeoff, loiter_*, roi, land, do_jump, do_set_servo
	Param1   float64 `json:"param1"`    // hold time (wp), turns (loiter_turns), seconds (loiter_time)
	Param2   float64 `json:"param2"`    // acceptance radius
	Param3   float64 `json:"param3"`    // loiter radius, positive CW
	Param4   float64 `json:"param4"`    // yaw angle
}

// FenceItem is one downloaded geofence item.
type FenceItem struct {
	Command int     `json:"command"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Alt     float64 `json:"alt"`
	Param1  float64 `json:"param1"`
	Param2  float64 `json:"param2"`
	Param3  float64 `json:"param3"`
	Param4  float64 `json:"param4"`
}

var itemTypeCommands = map[string]common.MAV_CMD{
	"waypoint":     common.MAV_CMD_NAV_WAYPOINT,
	"takeoff":      common.MAV_CMD_NAV_TAKEOFF,
	"loiter_unlim": common.MAV_CMD_NAV_LOITER_UNLIM,
	"loiter_turns": common.MAV_CMD_NAV_LOITER_TURNS,
	"loiter_time":  common.MAV_CMD_NAV_LOITER_TIME,
	"roi":          common.MAV_CMD_DO_SET_ROI,
	"land":         common.MAV_CMD_NAV_LAND,
	"do_jump":      common.MAV_CMD_DO_JUMP,
	"do_set_servo": common.MAV_CMD_DO_SET_SERVO,
}

var commandItemTypes = func() map[common.MAV_CMD]string {
	m := make(map[common.MAV_CMD]string, len(itemTypeCommands))
	for k, v := range itemTypeCommands {
		m[v] = k
	}
	return m
}()

// missionTransport is the slice of a vehicle the engine needs. It is an
// interface so protocol logic runs against a fake in tests.
type missionTransport interface {
	sendMission(msgs ...message.Message) error
	recvMission(timeout time.Duration) message.Message
	drainMission()
	target() (sysID, compID uint8)
	ardupilot() bool
	requestMode(name string) error
}

func (v *Vehicle) sendMission(msgs ...message.Message) error { return v.SendRaw(msgs...) }
func (v *Vehicle) recvMission(timeout time.Duration) message.Message {
	return v.recvMissionMsg(timeout)
}
func (v *Vehicle) drainMission()               { v.drainMissionInbox() }
func (v *Vehicle) target() (uint8, uint8)      { return v.TargetSystem, v.TargetComponent }
func (v *Vehicle) ardupilot() bool             { return v.IsArduPilot }
func (v *Vehicle) requestMode(name string) error { return v.SetMode(name) }

// Mission status values.
const (
	MissionIdle         = "idle"
	MissionUploading    = "uploading"
	MissionUploaded     = "uploaded"
	MissionUploadFailed = "upload_failed"
	MissionRunning      = "running"
	MissionPaused       = "paused"
)

const (
	missionUploadTimeout = 30 * time.Second
	fenceUploadTimeout   = 15 * time.Second
	missionMsgTimeout    = 5 * time.Second
	missionItemTimeout   = 3 * time.Second
)

// MissionManager drives the MAVLink mission microprotocol for one vehicle.
// Operations are serialized: the protocol owns the mission inbox while one
// transfer is in flight.
type MissionManager struct {
	t missionTransport

	mu     sync.Mutex
	opMu   sync.Mutex
	status string
}

func newMissionManager(t missionTransport) *MissionManager {
	return &MissionManager{t: t, status: MissionIdle}
}

// Status returns the current mission lifecycle status.
func (m *MissionManager) Status() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *MissionManager) setStatus(s string) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

func (m *MissionManager) itemInt(seq int, frame common.MAV_FRAME, cmd common.MAV_CMD,
	autocontinue uint8, p1, p2, p3, p4 float64, lat, lon, alt float64,
	missionType common.MAV_MISSION_TYPE) message.Message {
	sys, comp := m.t.target()
	return &common.MessageMissionItemInt{
		TargetSystem:    sys,
		TargetComponent: comp,
		Seq:             uint16(seq),
		Frame:           frame,
		Command:         cmd,
		Autocontinue:    autocontinue,
		Param1:          float32(p1),
		Param2:          float32(p2),
		Param3:          float32(p3),
		Param4:          float32(p4),
		X:               int32(lat * 1e7),
		Y:               int32(lon * 1e7),
		Z:               float32(alt),
		MissionType:     missionType,
	}
}

// sendItem answers one MISSION_REQUEST during upload. Seq 0 is the home
// slot: first waypoint's location at ground level.
func (m *MissionManager) sendItem(seq int, waypoints []Waypoint) error {
	if seq == 0 {
		return m.t.sendMission(m.itemInt(0, common.MAV_FRAME_GLOBAL_INT,
			common.MAV_CMD_NAV_WAYPOINT, 1, 0, 0, 0, 0,
			waypoints[0].Lat, waypoints[0].Lon, 0, common.MAV_MISSION_TYPE_MISSION))
	}
	wp := waypoints[seq-1]
	cmd, ok := itemTypeCommands[wp.ItemType]
	if !ok {
		cmd = common.MAV_CMD_NAV_WAYPOINT
	}
	return m.t.sendMission(m.itemInt(seq, common.MAV_FRAME_GLOBAL_RELATIVE_ALT_INT,
		cmd, 1, wp.Param1, wp.Param2, wp.Param3, wp.Param4,
		wp.Lat, wp.Lon, wp.Alt, common.MAV_MISSION_TYPE_MISSION))
}

// Upload pushes a mission: home slot plus the user items, answering item
// requests until the vehicle acknowledges.
func (m *MissionManager) Upload(waypoints []Waypoint) error {
	if len(waypoints) == 0 {
		return fmt.Errorf("no waypoints")
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.setStatus(MissionUploading)
	m.t.drainMission()

	sys, comp := m.t.target()
	total := len(waypoints) + 1
	if err := m.t.sendMission(&common.MessageMissionCount{
		TargetSystem:    sys,
		TargetComponent: comp,
		Count:           uint16(total),
	}); err != nil {
		m.setStatus(MissionUploadFailed)
		return err
	}

	deadline := time.Now().Add(missionUploadTimeout)
	for time.Now().Before(deadline) {
		msg := m.t.recvMission(missionMsgTimeout)
		if msg == nil {
			m.setStatus(MissionUploadFailed)
			metrics.MissionTransfers.WithLabelValues("upload", "failed").Inc()
			return fmt.Errorf("mission upload timed out")
		}

		switch msg := msg.(type) {
		case *common.MessageMissionAck:
			if msg.Type == common.MAV_MISSION_ACCEPTED {
				m.setStatus(MissionUploaded)
				metrics.MissionTransfers.WithLabelValues("upload", "ok").Inc()
				return nil
			}
			m.setStatus(MissionUploadFailed)
			metrics.MissionTransfers.WithLabelValues("upload", "failed").Inc()
			return fmt.Errorf("mission rejected: %v", msg.Type)

		case *common.MessageMissionRequestInt:
			if err := m.answerRequest(int(msg.Seq), total, waypoints); err != nil {
				return err
			}
		case *common.MessageMissionRequest:
			if err := m.answerRequest(int(msg.Seq), total, waypoints); err != nil {
				return err
			}
		}
	}
	m.setStatus(MissionUploadFailed)
	metrics.MissionTransfers.WithLabelValues("upload", "failed").Inc()
	return fmt.Errorf("mission upload timed out")
}

func (m *MissionManager) answerRequest(seq, total int, waypoints []Waypoint) error {
	if seq >= total {
		m.setStatus(MissionUploadFailed)
		return fmt.Errorf("mission request for invalid seq %d", seq)
	}
	if err := m.sendItem(seq, waypoints); err != nil {
		m.setStatus(MissionUploadFailed)
		metrics.MissionTransfers.WithLabelValues("upload", "failed").Inc()
		return err
	}
	return nil
}

// Download pulls the stored mission, skipping the home slot. A count of one
// or less means no user items.
func (m *MissionManager) Download() ([]Waypoint, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.t.drainMission()

	sys, comp := m.t.target()
	if err := m.t.sendMission(&common.MessageMissionRequestList{
		TargetSystem: sys, TargetComponent: comp,
	}); err != nil {
		return nil, err
	}

	msg := m.t.recvMission(missionMsgTimeout)
	countMsg, ok := msg.(*common.MessageMissionCount)
	if !ok {
		return nil, fmt.Errorf("no mission count received")
	}
	count := int(countMsg.Count)
	if count <= 1 {
		return []Waypoint{}, nil
	}

	items := make([]Waypoint, 0, count-1)
	for seq := 1; seq < count; seq++ {
		if err := m.t.sendMission(&common.MessageMissionRequestInt{
			TargetSystem: sys, TargetComponent: comp, Seq: uint16(seq),
		}); err != nil {
			return nil, err
		}
		item, err := m.awaitItem(seq)
		if err != nil {
			metrics.MissionTransfers.WithLabelValues("download", "failed").Inc()
			return nil, err
		}
		itemType, ok := commandItemTypes[item.Command]
		if !ok {
			itemType = "waypoint"
		}
		items = append(items, Waypoint{
			Lat:      float64(item.X) / 1e7,
			Lon:      float64(item.Y) / 1e7,
			Alt:      float64(item.Z),
			Seq:      seq,
			ItemType: itemType,
			Param1:   float64(item.Param1),
			Param2:   float64(item.Param2),
			Param3:   float64(item.Param3),
			Param4:   float64(item.Param4),
		})
	}

	_ = m.t.sendMission(&common.MessageMissionAck{
		TargetSystem: sys, TargetComponent: comp, Type: common.MAV_MISSION_ACCEPTED,
	})
	metrics.MissionTransfers.WithLabelValues("download", "ok").Inc()
	return items, nil
}

func (m *MissionManager) awaitItem(seq int) (*common.MessageMissionItemInt, error) {
	deadline := time.Now().Add(missionMsgTimeout)
	for time.Now().Before(deadline) {
		msg := m.t.recvMission(missionItemTimeout)
		if msg == nil {
			return nil, fmt.Errorf("timed out waiting for item %d", seq)
		}
		if item, ok := msg.(*common.MessageMissionItemInt); ok && int(item.Seq) == seq {
			return item, nil
		}
	}
	return nil, fmt.Errorf("timed out waiting for item %d", seq)
}

// Start sets the current item to the first user waypoint and switches to the
// autopilot's mission mode.
func (m *MissionManager) Start() error {
	sys, comp := m.t.target()
	if err := m.t.sendMission(&common.MessageMissionSetCurrent{
		TargetSystem: sys, TargetComponent: comp, Seq: 1,
	}); err != nil {
		return err
	}
	time.Sleep(200 * time.Millisecond)
	if err := m.autoMode(); err != nil {
		return err
	}
	m.setStatus(MissionRunning)
	return nil
}

func (m *MissionManager) autoMode() error {
	if m.t.ardupilot() {
		return m.t.requestMode("AUTO")
	}
	return m.t.requestMode("MISSION")
}

// Pause holds position and marks the mission paused.
func (m *MissionManager) Pause() error {
	var err error
	if m.t.ardupilot() {
		err = m.t.requestMode("LOITER")
	} else {
		err = m.t.requestMode("HOLD")
	}
	if err != nil {
		return err
	}
	m.setStatus(MissionPaused)
	return nil
}

// Resume switches back to mission mode without resetting the current item.
func (m *MissionManager) Resume() error {
	if err := m.autoMode(); err != nil {
		return err
	}
	m.setStatus(MissionRunning)
	return nil
}

// SetCurrent jumps to the user waypoint at index (0-based). ArduPilot
// missions offset past the home slot; PX4 item numbering is direct.
func (m *MissionManager) SetCurrent(index int) error {
	if index < 0 {
		return fmt.Errorf("invalid mission index %d", index)
	}
	seq := index
	if m.t.ardupilot() {
		seq = index + 1
	}
	sys, comp := m.t.target()
	return m.t.sendMission(&common.MessageMissionSetCurrent{
		TargetSystem: sys, TargetComponent: comp, Seq: uint16(seq),
	})
}

// Clear removes all mission items and resets the status.
func (m *MissionManager) Clear() error {
	sys, comp := m.t.target()
	if err := m.t.sendMission(&common.MessageMissionClearAll{
		TargetSystem: sys, TargetComponent: comp,
	}); err != nil {
		return err
	}
	m.setStatus(MissionIdle)
	return nil
}

// UploadFence uploads a single circular inclusion geofence and enables it on
// acceptance.
func (m *MissionManager) UploadFence(lat, lon, radius float64) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.t.drainMission()

	sys, comp := m.t.target()
	if err := m.t.sendMission(&common.MessageMissionCount{
		TargetSystem:    sys,
		TargetComponent: comp,
		Count:           1,
		MissionType:     common.MAV_MISSION_TYPE_FENCE,
	}); err != nil {
		return err
	}

	deadline := time.Now().Add(fenceUploadTimeout)
	for time.Now().Before(deadline) {
		msg := m.t.recvMission(missionMsgTimeout)
		if msg == nil {
			return fmt.Errorf("fence upload timed out")
		}
		switch msg := msg.(type) {
		case *common.MessageMissionAck:
			if msg.Type == common.MAV_MISSION_ACCEPTED {
				return m.enableFence(true)
			}
			return fmt.Errorf("fence rejected: %v", msg.Type)
		case *common.MessageMissionRequestInt, *common.MessageMissionRequest:
			if err := m.t.sendMission(m.itemInt(0, common.MAV_FRAME_GLOBAL,
				common.MAV_CMD_NAV_FENCE_CIRCLE_INCLUSION, 0,
				radius, 0, 0, 0, lat, lon, 0,
				common.MAV_MISSION_TYPE_FENCE)); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("fence upload timed out")
}

// UploadPolygonFence uploads a polygon inclusion fence. At least three
// vertices are required.
func (m *MissionManager) UploadPolygonFence(vertices []Waypoint) error {
	if len(vertices) < 3 {
		return fmt.Errorf("polygon fence needs at least 3 vertices")
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.t.drainMission()

	sys, comp := m.t.target()
	count := len(vertices)
	if err := m.t.sendMission(&common.MessageMissionCount{
		TargetSystem:    sys,
		TargetComponent: comp,
		Count:           uint16(count),
		MissionType:     common.MAV_MISSION_TYPE_FENCE,
	}); err != nil {
		return err
	}

	deadline := time.Now().Add(missionUploadTimeout)
	for time.Now().Before(deadline) {
		msg := m.t.recvMission(missionMsgTimeout)
		if msg == nil {
			return fmt.Errorf("polygon fence upload timed out")
		}
		switch msg := msg.(type) {
		case *common.MessageMissionAck:
			if msg.Type == common.MAV_MISSION_ACCEPTED {
				return m.enableFence(true)
			}
			return fmt.Errorf("polygon fence rejected: %v", msg.Type)
		case *common.MessageMissionRequestInt:
			if err := m.sendFenceVertex(int(msg.Seq), vertices); err != nil {
				return err
			}
		case *common.MessageMissionRequest:
			if err := m.sendFenceVertex(int(msg.Seq), vertices); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("polygon fence upload timed out")
}

func (m *MissionManager) sendFenceVertex(seq int, vertices []Waypoint) error {
	if seq >= len(vertices) {
		return fmt.Errorf("fence request for invalid seq %d", seq)
	}
	v := vertices[seq]
	return m.t.sendMission(m.itemInt(seq, common.MAV_FRAME_GLOBAL,
		common.MAV_CMD_NAV_FENCE_POLYGON_VERTEX_INCLUSION, 0,
		float64(len(vertices)), 0, 0, 0, v.Lat, v.Lon, 0,
		common.MAV_MISSION_TYPE_FENCE))
}

// DownloadFence pulls the stored geofence items, home slot included.
func (m *MissionManager) DownloadFence() ([]FenceItem, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.t.drainMission()

	sys, comp := m.t.target()
	if err := m.t.sendMission(&common.MessageMissionRequestList{
		TargetSystem:    sys,
		TargetComponent: comp,
		MissionType:     common.MAV_MISSION_TYPE_FENCE,
	}); err != nil {
		return nil, err
	}

	msg := m.t.recvMission(missionMsgTimeout)
	countMsg, ok := msg.(*common.MessageMissionCount)
	if !ok {
		return nil, fmt.Errorf("no fence count received")
	}
	count := int(countMsg.Count)
	if count == 0 {
		return []FenceItem{}, nil
	}

	items := make([]FenceItem, 0, count)
	for seq := 0; seq < count; seq++ {
		if err := m.t.sendMission(&common.MessageMissionRequestInt{
			TargetSystem:    sys,
			TargetComponent: comp,
			Seq:             uint16(seq),
			MissionType:     common.MAV_MISSION_TYPE_FENCE,
		}); err != nil {
			return nil, err
		}
		item, err := m.awaitItem(seq)
		if err != nil {
			return nil, err
		}
		items = append(items, FenceItem{
			Command: int(item.Command),
			Lat:     float64(item.X) / 1e7,
			Lon:     float64(item.Y) / 1e7,
			Alt:     float64(item.Z),
			Param1:  float64(item.Param1),
			Param2:  float64(item.Param2),
			Param3:  float64(item.Param3),
			Param4:  float64(item.Param4),
		})
	}

	_ = m.t.sendMission(&common.MessageMissionAck{
		TargetSystem:    sys,
		TargetComponent: comp,
		Type:            common.MAV_MISSION_ACCEPTED,
		MissionType:     common.MAV_MISSION_TYPE_FENCE,
	})
	return items, nil
}

// ClearFence disables the fence, then clears the stored fence items.
func (m *MissionManager) ClearFence() error {
	if err := m.enableFence(false); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	sys, comp := m.t.target()
	return m.t.sendMission(&common.MessageMissionClearAll{
		TargetSystem:    sys,
		TargetComponent: comp,
		MissionType:     common.MAV_MISSION_TYPE_FENCE,
	})
}

func (m *MissionManager) enableFence(enable bool) error {
	sys, comp := m.t.target()
	var p1 float32
	if enable {
		p1 = 1
	}
	logger.Debug("[MISSION] fence enable=%v sys=%d", enable, sys)
	return m.t.sendMission(&common.MessageCommandLong{
		TargetSystem:    sys,
		TargetComponent: comp,
		Command:         common.MAV_CMD_DO_FENCE_ENABLE,
		Param1:          p1,
	})
}
