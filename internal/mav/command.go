package mav

import (
	"fmt"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

// CommandKind names a queued command class. The string value doubles as the
// metrics label.
type CommandKind string

const (
	CmdArm             CommandKind = "arm"
	CmdDisarm          CommandKind = "disarm"
	CmdTakeoff         CommandKind = "takeoff"
	CmdLand            CommandKind = "land"
	CmdGoto            CommandKind = "goto"
	CmdSetMode         CommandKind = "set_mode"
	CmdSetStandardMode CommandKind = "set_standard_mode"
	CmdSetSpeed        CommandKind = "set_speed"
	CmdSetHome         CommandKind = "set_home"
	CmdSetROI          CommandKind = "set_roi"
	CmdMotorTest       CommandKind = "motor_test"
	CmdServo           CommandKind = "servo"
	CmdGimbal          CommandKind = "gimbal"
	CmdCalibrate       CommandKind = "calibrate"
	CmdSetParam        CommandKind = "set_param"
	CmdRCOverride      CommandKind = "rc_override"
	CmdSendRaw         CommandKind = "raw"
)

// Command is one unit of work for a link's writer goroutine. Only the fields
// relevant to its Kind are set.
type Command struct {
	Kind            CommandKind
	TargetSystem    uint8
	TargetComponent uint8
	ArduPilot       bool
	MavType         uint8

	// Delay is slept before sending, for commands that must trail a
	// preceding one (mode change before takeoff).
	Delay time.Duration

	Force bool

	Mode         string
	StandardMode uint8

	Lat, Lon, Alt float64
	Speed         float64
	UseCurrent    bool

	Channels [8]uint16

	Motor      int
	Throttle   float64
	Duration   float64
	AllMotors  bool
	MotorCount int

	Servo int
	PWM   int

	Pitch, Yaw         float64
	PitchRate, YawRate float64

	Calibration string

	ParamID   string
	Value     float64
	ParamType int

	Raw []message.Message
}

const (
	forceMagic   = 21196
	gotoTypeMask = 0b0000111111111000
)

func commandLong(cmd *Command, id common.MAV_CMD, p1, p2, p3, p4, p5, p6, p7 float32) message.Message {
	return &common.MessageCommandLong{
		TargetSystem:    cmd.TargetSystem,
		TargetComponent: cmd.TargetComponent,
		Command:         id,
		Param1:          p1,
		Param2:          p2,
		Param3:          p3,
		Param4:          p4,
		Param5:          p5,
		Param6:          p6,
		Param7:          p7,
	}
}

// buildCommandMessages translates a queued command into the wire messages to
// send, in order. It is pure so encodings stay testable without a link.
func buildCommandMessages(cmd *Command) ([]message.Message, error) {
	switch cmd.Kind {
	case CmdArm, CmdDisarm:
		p1 := float32(0)
		if cmd.Kind == CmdArm {
			p1 = 1
		}
		var p2 float32
		if cmd.Force {
			p2 = forceMagic
		}
		return []message.Message{commandLong(cmd, common.MAV_CMD_COMPONENT_ARM_DISARM, p1, p2, 0, 0, 0, 0, 0)}, nil

	case CmdTakeoff:
		return []message.Message{commandLong(cmd, common.MAV_CMD_NAV_TAKEOFF, 0, 0, 0, 0, 0, 0, float32(cmd.Alt))}, nil

	case CmdLand:
		return []message.Message{commandLong(cmd, common.MAV_CMD_NAV_LAND, 0, 0, 0, 0, 0, 0, 0)}, nil

	case CmdGoto:
		return []message.Message{&common.MessageSetPositionTargetGlobalInt{
			TargetSystem:    cmd.TargetSystem,
			TargetComponent: cmd.TargetComponent,
			CoordinateFrame: common.MAV_FRAME_GLOBAL_RELATIVE_ALT_INT,
			TypeMask:        gotoTypeMask,
			LatInt:          int32(cmd.Lat * 1e7),
			LonInt:          int32(cmd.Lon * 1e7),
			Alt:             float32(cmd.Alt),
		}}, nil

	case CmdSetMode:
		if cmd.ArduPilot {
			id, ok := ArduPilotModeID(cmd.MavType, cmd.Mode)
			if !ok {
				return nil, fmt.Errorf("unknown mode %q", cmd.Mode)
			}
			return []message.Message{&common.MessageSetMode{
				TargetSystem: cmd.TargetSystem,
				BaseMode:     common.MAV_MODE(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED),
				CustomMode:   id,
			}}, nil
		}
		custom, ok := PX4CustomMode(cmd.Mode)
		if !ok {
			return nil, fmt.Errorf("unknown mode %q", cmd.Mode)
		}
		return []message.Message{commandLong(cmd, common.MAV_CMD_DO_SET_MODE,
			float32(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED), float32(custom), 0, 0, 0, 0, 0)}, nil

	case CmdSetStandardMode:
		return []message.Message{commandLong(cmd, common.MAV_CMD_DO_SET_STANDARD_MODE,
			float32(cmd.StandardMode), 0, 0, 0, 0, 0, 0)}, nil

	case CmdSetSpeed:
		return []message.Message{commandLong(cmd, common.MAV_CMD_DO_CHANGE_SPEED,
			1, float32(cmd.Speed), -1, 0, 0, 0, 0)}, nil

	case CmdSetHome:
		var p1 float32
		if cmd.UseCurrent {
			p1 = 1
		}
		return []message.Message{commandLong(cmd, common.MAV_CMD_DO_SET_HOME,
			p1, 0, 0, 0, float32(cmd.Lat), float32(cmd.Lon), float32(cmd.Alt))}, nil

	case CmdSetROI:
		return []message.Message{commandLong(cmd, common.MAV_CMD_DO_SET_ROI_LOCATION,
			0, 0, 0, 0, float32(cmd.Lat), float32(cmd.Lon), float32(cmd.Alt))}, nil

	case CmdMotorTest:
		return buildMotorTest(cmd)

	case CmdServo:
		return []message.Message{commandLong(cmd, common.MAV_CMD_DO_SET_SERVO,
			float32(cmd.Servo), float32(cmd.PWM), 0, 0, 0, 0, 0)}, nil

	case CmdGimbal:
		return []message.Message{commandLong(cmd, common.MAV_CMD_DO_GIMBAL_MANAGER_PITCHYAW,
			float32(cmd.Pitch), float32(cmd.Yaw), float32(cmd.PitchRate), float32(cmd.YawRate), 0, 0, 0)}, nil

	case CmdCalibrate:
		return buildCalibration(cmd)

	case CmdSetParam:
		pt := cmd.ParamType
		if pt == 0 {
			pt = int(common.MAV_PARAM_TYPE_REAL32)
		}
		return []message.Message{&common.MessageParamSet{
			TargetSystem:    cmd.TargetSystem,
			TargetComponent: cmd.TargetComponent,
			ParamId:         cmd.ParamID,
			ParamValue:      float32(cmd.Value),
			ParamType:       common.MAV_PARAM_TYPE(pt),
		}}, nil

	case CmdRCOverride:
		return buildRCOverride(cmd), nil

	case CmdSendRaw:
		return cmd.Raw, nil

	default:
		return nil, fmt.Errorf("unknown command kind %q", cmd.Kind)
	}
}

// buildMotorTest encodes a motor spin test. ArduPilot uses DO_MOTOR_TEST with
// throttle percent; PX4 uses ACTUATOR_TEST with normalized throttle and
// function ids 101..108. Testing all motors on PX4 emits one message per
// motor, spaced by the executor.
func buildMotorTest(cmd *Command) ([]message.Message, error) {
	if cmd.ArduPilot {
		var motor, count float32
		if cmd.AllMotors {
			count = 0
			motor = 0
		} else {
			motor = float32(cmd.Motor)
		}
		return []message.Message{commandLong(cmd, common.MAV_CMD_DO_MOTOR_TEST,
			motor, 0, float32(cmd.Throttle), float32(cmd.Duration), count, 0, 0)}, nil
	}
	value := float32(cmd.Throttle / 100)
	if cmd.AllMotors {
		n := cmd.MotorCount
		if n <= 0 || n > 8 {
			n = 8
		}
		msgs := make([]message.Message, 0, n)
		for i := 1; i <= n; i++ {
			msgs = append(msgs, commandLong(cmd, common.MAV_CMD_ACTUATOR_TEST,
				value, float32(cmd.Duration), 0, 0, float32(100+i), 0, 0))
		}
		return msgs, nil
	}
	return []message.Message{commandLong(cmd, common.MAV_CMD_ACTUATOR_TEST,
		value, float32(cmd.Duration), 0, 0, float32(100+cmd.Motor), 0, 0)}, nil
}

func buildCalibration(cmd *Command) ([]message.Message, error) {
	var p1, p2, p3, p5 float32
	switch cmd.Calibration {
	case "gyro":
		p1 = 1
	case "compass":
		p2 = 1
	case "pressure":
		p3 = 1
	case "accel":
		p5 = 1
	case "level":
		p5 = 2
	case "next_step":
		p5 = 4
	case "cancel":
	default:
		return nil, fmt.Errorf("unknown calibration %q", cmd.Calibration)
	}
	return []message.Message{commandLong(cmd, common.MAV_CMD_PREFLIGHT_CALIBRATION,
		p1, p2, p3, 0, p5, 0, 0)}, nil
}

// buildRCOverride encodes sanitized channels. ArduPilot takes
// RC_CHANNELS_OVERRIDE directly; PX4 ignores overrides from a GCS, so the
// first four channels are remapped onto MANUAL_CONTROL axes.
func buildRCOverride(cmd *Command) []message.Message {
	ch := cmd.Channels
	if cmd.ArduPilot {
		return []message.Message{&common.MessageRcChannelsOverride{
			TargetSystem:    cmd.TargetSystem,
			TargetComponent: cmd.TargetComponent,
			Chan1Raw:        ch[0],
			Chan2Raw:        ch[1],
			Chan3Raw:        ch[2],
			Chan4Raw:        ch[3],
			Chan5Raw:        ch[4],
			Chan6Raw:        ch[5],
			Chan7Raw:        ch[6],
			Chan8Raw:        ch[7],
		}}
	}
	return []message.Message{&common.MessageManualControl{
		Target: cmd.TargetSystem,
		Y:      PWMToSigned(ch[0]),
		X:      PWMToSigned(ch[1]),
		Z:      PWMToThrottle(ch[2]),
		R:      PWMToSigned(ch[3]),
	}}
}

// command builds the base record addressed at this vehicle.
func (v *Vehicle) command(kind CommandKind) *Command {
	return &Command{
		Kind:            kind,
		TargetSystem:    v.TargetSystem,
		TargetComponent: v.TargetComponent,
		ArduPilot:       v.IsArduPilot,
		MavType:         v.MavType,
	}
}

// Arm requests arming. Force bypasses pre-arm checks.
func (v *Vehicle) Arm(force bool) error {
	c := v.command(CmdArm)
	c.Force = force
	return v.link.Enqueue(c)
}

// Disarm requests disarming. Force disarms even in flight.
func (v *Vehicle) Disarm(force bool) error {
	c := v.command(CmdDisarm)
	c.Force = force
	return v.link.Enqueue(c)
}

// Takeoff climbs to alt meters. ArduPilot only accepts takeoff in GUIDED, so
// the mode change is queued first and the takeoff trails it slightly.
func (v *Vehicle) Takeoff(alt float64) error {
	if alt <= 0 {
		alt = v.Profile().DefaultAlt
	}
	if v.IsArduPilot {
		mode := v.command(CmdSetMode)
		mode.Mode = "GUIDED"
		if err := v.link.Enqueue(mode); err != nil {
			return err
		}
	}
	c := v.command(CmdTakeoff)
	c.Alt = alt
	if v.IsArduPilot {
		c.Delay = 500 * time.Millisecond
	}
	return v.link.Enqueue(c)
}

// Land commands a landing. Ground and surface vehicles have nothing to land,
// so they hold position instead. ArduPilot lands through its LAND mode, PX4
// through the NAV_LAND command.
func (v *Vehicle) Land() error {
	switch v.Profile().Category {
	case "ground", "surface":
		return v.SetMode("HOLD")
	}
	if v.IsArduPilot {
		return v.SetMode("LAND")
	}
	return v.link.Enqueue(v.command(CmdLand))
}

// RTL commands return to launch through the RTL mode.
func (v *Vehicle) RTL() error {
	return v.SetMode("RTL")
}

// Goto repositions to a global coordinate at a relative altitude.
func (v *Vehicle) Goto(lat, lon, alt float64) error {
	c := v.command(CmdGoto)
	c.Lat, c.Lon, c.Alt = lat, lon, alt
	return v.link.Enqueue(c)
}

// SetMode requests a named flight mode.
func (v *Vehicle) SetMode(mode string) error {
	c := v.command(CmdSetMode)
	c.Mode = mode
	return v.link.Enqueue(c)
}

// SetStandardMode requests a MAV_STANDARD_MODE value (standard modes
// protocol).
func (v *Vehicle) SetStandardMode(mode uint8) error {
	c := v.command(CmdSetStandardMode)
	c.StandardMode = mode
	return v.link.Enqueue(c)
}

// SetSpeed changes the target groundspeed in m/s.
func (v *Vehicle) SetSpeed(speed float64) error {
	c := v.command(CmdSetSpeed)
	c.Speed = speed
	return v.link.Enqueue(c)
}

// SetHome sets the home position, either to the current location or to an
// explicit coordinate.
func (v *Vehicle) SetHome(useCurrent bool, lat, lon, alt float64) error {
	c := v.command(CmdSetHome)
	c.UseCurrent = useCurrent
	c.Lat, c.Lon, c.Alt = lat, lon, alt
	return v.link.Enqueue(c)
}

// SetROI points the vehicle's region of interest at a location.
func (v *Vehicle) SetROI(lat, lon, alt float64) error {
	c := v.command(CmdSetROI)
	c.Lat, c.Lon, c.Alt = lat, lon, alt
	return v.link.Enqueue(c)
}

// MotorTest spins one motor (or all) at throttle percent for duration
// seconds. Refused while armed.
func (v *Vehicle) MotorTest(motor int, throttle, duration float64, all bool) error {
	v.telemMu.Lock()
	armed := v.telem.Armed
	v.telemMu.Unlock()
	if armed {
		return fmt.Errorf("motor test refused while armed")
	}
	c := v.command(CmdMotorTest)
	c.Motor = motor
	c.Throttle = throttle
	c.Duration = duration
	c.AllMotors = all
	return v.link.Enqueue(c)
}

// Servo sets an output channel to a PWM value.
func (v *Vehicle) Servo(servo, pwm int) error {
	c := v.command(CmdServo)
	c.Servo = servo
	c.PWM = pwm
	return v.link.Enqueue(c)
}

// Gimbal points the gimbal. Angles arrive in degrees and go out in radians;
// NaN rates leave the rate unchanged.
func (v *Vehicle) Gimbal(pitchDeg, yawDeg, pitchRate, yawRate float64) error {
	c := v.command(CmdGimbal)
	c.Pitch = pitchDeg * degToRad
	c.Yaw = yawDeg * degToRad
	c.PitchRate = pitchRate
	c.YawRate = yawRate
	return v.link.Enqueue(c)
}

// Calibrate starts a sensor calibration: gyro, compass, pressure, accel,
// level, next_step or cancel.
func (v *Vehicle) Calibrate(what string) error {
	c := v.command(CmdCalibrate)
	c.Calibration = what
	return v.link.Enqueue(c)
}

// SetParam writes one parameter. paramType 0 selects REAL32.
func (v *Vehicle) SetParam(name string, value float64, paramType int) error {
	c := v.command(CmdSetParam)
	c.ParamID = name
	c.Value = value
	c.ParamType = paramType
	return v.link.Enqueue(c)
}

// RCOverride sends sanitized RC channels, remapped for PX4.
func (v *Vehicle) RCOverride(channels []interface{}) error {
	c := v.command(CmdRCOverride)
	c.Channels = ValidateRCChannels(channels)
	return v.link.Enqueue(c)
}

// RefreshParams re-requests the full parameter list.
func (v *Vehicle) RefreshParams() error {
	return v.SendRaw(&common.MessageParamRequestList{
		TargetSystem:    v.TargetSystem,
		TargetComponent: v.TargetComponent,
	})
}

// RequestCameraInfo broadcasts a CAMERA_INFORMATION request to every
// component on the vehicle's system.
func (v *Vehicle) RequestCameraInfo() error {
	return v.SendRaw(&common.MessageCommandLong{
		TargetSystem:    v.TargetSystem,
		TargetComponent: 0,
		Command:         common.MAV_CMD_REQUEST_MESSAGE,
		Param1:          259, // CAMERA_INFORMATION
	})
}

// SendRaw queues prebuilt messages through the writer, keeping ordering with
// the rest of the command stream.
func (v *Vehicle) SendRaw(msgs ...message.Message) error {
	c := v.command(CmdSendRaw)
	c.Raw = msgs
	return v.link.Enqueue(c)
}

const degToRad = 0.017453292519943295
