// Package web exposes the REST and WebSocket facade over the vehicle
// registry. Handlers stay thin; protocol logic lives in internal/mav.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"GroundLink/internal/broadcast"
	"GroundLink/internal/logger"
	"GroundLink/internal/mav"
	"GroundLink/internal/metrics"
)

// Server hosts the HTTP API.
type Server struct {
	registry *mav.Registry
	engine   *broadcast.Engine
	srv      *http.Server
}

func NewServer(addr string, allowedOrigins []string, registry *mav.Registry, engine *broadcast.Engine) *Server {
	s := &Server{
		registry: registry,
		engine:   engine,
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/connections", s.handleListConnections)
		r.Post("/connections", s.handleAddConnection)
		r.Delete("/connections/{connID}", s.handleRemoveConnection)

		r.Get("/vehicles", s.handleListVehicles)
		r.Post("/vehicles/active", s.handleSetActive)
		r.Get("/telemetry", s.handleTelemetry)

		r.Post("/arm", s.handleArm)
		r.Post("/disarm", s.handleDisarm)
		r.Post("/takeoff", s.handleTakeoff)
		r.Post("/land", s.handleLand)
		r.Post("/rtl", s.handleRTL)
		r.Post("/mode", s.handleSetMode)
		r.Get("/modes", s.handleModes)
		r.Post("/goto", s.handleGoto)
		r.Post("/roi", s.handleROI)
		r.Post("/home/set", s.handleSetHome)
		r.Post("/calibrate", s.handleCalibrate)
		r.Post("/motor/test", s.handleMotorTest)
		r.Post("/servo/test", s.handleServoTest)
		r.Post("/gimbal/control", s.handleGimbalControl)
		r.Get("/cameras", s.handleCameras)

		r.Post("/mission/upload", s.handleMissionUpload)
		r.Get("/mission/download", s.handleMissionDownload)
		r.Post("/mission/start", s.handleMissionStart)
		r.Post("/mission/pause", s.handleMissionPause)
		r.Post("/mission/resume", s.handleMissionResume)
		r.Post("/mission/clear", s.handleMissionClear)
		r.Post("/mission/set_current", s.handleMissionSetCurrent)

		r.Post("/fence/upload", s.handleFenceUpload)
		r.Post("/fence/upload_polygon", s.handleFenceUploadPolygon)
		r.Get("/fence/download", s.handleFenceDownload)
		r.Post("/fence/clear", s.handleFenceClear)

		r.Get("/params", s.handleParams)
		r.Post("/params/refresh", s.handleParamsRefresh)
		r.Post("/params/set", s.handleParamSet)

		r.Get("/mavlink/stats", s.handleMavlinkStats)
		r.Post("/mavlink/stats/clear", s.handleMavlinkStatsClear)
		r.Get("/mavlink/components", s.handleMavlinkComponents)
	})

	r.Get("/ws", s.handleWebSocket)
	r.Handle("/metrics", metrics.Handler())

	// No global read/write timeouts: /ws connections are long-lived.
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	logger.Info("[WEB] listening on %s", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// --- envelope helpers ---

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("[WEB] response encode failed: %v", err)
	}
}

func ok(w http.ResponseWriter, extra map[string]interface{}) {
	resp := map[string]interface{}{"status": "ok"}
	for k, v := range extra {
		resp[k] = v
	}
	writeJSON(w, resp)
}

func fail(w http.ResponseWriter, format string, args ...interface{}) {
	writeJSON(w, map[string]interface{}{
		"status": "error",
		"error":  fmt.Sprintf(format, args...),
	})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		fail(w, "invalid request body: %v", err)
		return false
	}
	return true
}

// vehicle resolves the target from the vehicle_id query parameter, falling
// back to the active vehicle. Writes the error envelope when none matches.
func (s *Server) vehicle(w http.ResponseWriter, r *http.Request) *mav.Vehicle {
	v := s.registry.GetVehicleOrActive(r.URL.Query().Get("vehicle_id"))
	if v == nil {
		fail(w, "Not connected")
	}
	return v
}

// --- connections and vehicles ---

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	ok(w, map[string]interface{}{
		"connections":    s.registry.ListConnections(),
		"active_vehicle": s.registry.ActiveVehicleID(),
	})
}

func (s *Server) handleAddConnection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConnectionString string `json:"connection_string"`
	}
	if !decode(w, r, &req) {
		return
	}
	connID, vehicleIDs, err := s.registry.AddConnection(req.ConnectionString)
	if err != nil {
		fail(w, "%v", err)
		return
	}
	ok(w, map[string]interface{}{
		"conn_id":     connID,
		"vehicle_ids": vehicleIDs,
	})
}

func (s *Server) handleRemoveConnection(w http.ResponseWriter, r *http.Request) {
	connID := chi.URLParam(r, "connID")
	if !s.registry.RemoveConnection(connID) {
		fail(w, "unknown connection %q", connID)
		return
	}
	ok(w, map[string]interface{}{"conn_id": connID})
}

func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	ok(w, map[string]interface{}{
		"vehicles":       s.registry.ListVehicles(),
		"active_vehicle": s.registry.ActiveVehicleID(),
	})
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VehicleID string `json:"vehicle_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if !s.registry.SetActiveVehicle(req.VehicleID) {
		fail(w, "unknown vehicle %q", req.VehicleID)
		return
	}
	ok(w, map[string]interface{}{"active_vehicle": req.VehicleID})
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	ok(w, map[string]interface{}{
		"telemetry": s.registry.AllTelemetry(),
	})
}

// --- flight commands ---

func (s *Server) handleArm(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	var req struct {
		Force bool `json:"force"`
	}
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}
	if err := v.Arm(req.Force); err != nil {
		fail(w, "%v", err)
		return
	}
	ok(w, map[string]interface{}{"command": "arm"})
}

func (s *Server) handleDisarm(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	var req struct {
		Force bool `json:"force"`
	}
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}
	if err := v.Disarm(req.Force); err != nil {
		fail(w, "%v", err)
		return
	}
	ok(w, map[string]interface{}{"command": "disarm"})
}

func (s *Server) handleTakeoff(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	if !v.Profile().SupportsTakeoff {
		fail(w, "%s does not support takeoff", v.Profile().Name)
		return
	}
	var req struct {
		Alt float64 `json:"alt"`
	}
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}
	if err := v.Takeoff(req.Alt); err != nil {
		fail(w, "%v", err)
		return
	}
	ok(w, map[string]interface{}{"command": "takeoff", "alt": req.Alt})
}

func (s *Server) handleLand(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	if err := v.Land(); err != nil {
		fail(w, "%v", err)
		return
	}
	ok(w, map[string]interface{}{"command": "land"})
}

func (s *Server) handleRTL(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	if err := v.RTL(); err != nil {
		fail(w, "%v", err)
		return
	}
	ok(w, map[string]interface{}{"command": "rtl"})
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	var req struct {
		Mode         string `json:"mode"`
		StandardMode *uint8 `json:"standard_mode"`
	}
	if !decode(w, r, &req) {
		return
	}
	var err error
	if req.StandardMode != nil {
		err = v.SetStandardMode(*req.StandardMode)
	} else {
		err = v.SetMode(req.Mode)
	}
	if err != nil {
		fail(w, "%v", err)
		return
	}
	ok(w, map[string]interface{}{"command": "set_mode", "mode": req.Mode})
}

func (s *Server) handleModes(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	available, count := v.AvailableModes()
	ok(w, map[string]interface{}{
		"modes":           v.StaticModes(),
		"available_modes": available,
		"available_count": count,
	})
}

func (s *Server) handleGoto(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	var req struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
		Alt float64 `json:"alt"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := v.Goto(req.Lat, req.Lon, req.Alt); err != nil {
		fail(w, "%v", err)
		return
	}
	ok(w, map[string]interface{}{"command": "goto"})
}

func (s *Server) handleROI(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	var req struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
		Alt float64 `json:"alt"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := v.SetROI(req.Lat, req.Lon, req.Alt); err != nil {
		fail(w, "%v", err)
		return
	}
	ok(w, map[string]interface{}{"command": "set_roi"})
}

func (s *Server) handleSetHome(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	var req struct {
		UseCurrent bool    `json:"use_current"`
		Lat        float64 `json:"lat"`
		Lon        float64 `json:"lon"`
		Alt        float64 `json:"alt"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := v.SetHome(req.UseCurrent, req.Lat, req.Lon, req.Alt); err != nil {
		fail(w, "%v", err)
		return
	}
	ok(w, map[string]interface{}{"command": "set_home"})
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	var req struct {
		Type string `json:"type"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := v.Calibrate(req.Type); err != nil {
		fail(w, "%v", err)
		return
	}
	ok(w, map[string]interface{}{"command": "calibrate", "type": req.Type})
}

func (s *Server) handleMotorTest(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	var req struct {
		Motor     int     `json:"motor"`
		Throttle  float64 `json:"throttle"`
		Duration  float64 `json:"duration"`
		AllMotors bool    `json:"all_motors"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Throttle <= 0 {
		req.Throttle = 5
	}
	if req.Duration <= 0 {
		req.Duration = 2
	}
	if err := v.MotorTest(req.Motor, req.Throttle, req.Duration, req.AllMotors); err != nil {
		fail(w, "%v", err)
		return
	}
	ok(w, map[string]interface{}{"command": "motor_test"})
}

func (s *Server) handleServoTest(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	var req struct {
		Servo int `json:"servo"`
		PWM   int `json:"pwm"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := v.Servo(req.Servo, req.PWM); err != nil {
		fail(w, "%v", err)
		return
	}
	ok(w, map[string]interface{}{"command": "servo_set"})
}

func (s *Server) handleGimbalControl(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	var req struct {
		Pitch     float64 `json:"pitch"`
		Yaw       float64 `json:"yaw"`
		PitchRate float64 `json:"pitch_rate"`
		YawRate   float64 `json:"yaw_rate"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := v.Gimbal(req.Pitch, req.Yaw, req.PitchRate, req.YawRate); err != nil {
		fail(w, "%v", err)
		return
	}
	ok(w, map[string]interface{}{"command": "gimbal_control", "pitch": req.Pitch, "yaw": req.Yaw})
}

func (s *Server) handleCameras(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	if err := v.RequestCameraInfo(); err != nil {
		fail(w, "%v", err)
		return
	}
	// Give components a moment to answer the broadcast.
	time.Sleep(500 * time.Millisecond)
	ok(w, map[string]interface{}{
		"cameras": v.Cameras(),
		"gimbals": v.Gimbals(),
	})
}

// --- mission ---

func (s *Server) handleMissionUpload(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	var req struct {
		Waypoints []mav.Waypoint `json:"waypoints"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := v.Mission.Upload(req.Waypoints); err != nil {
		fail(w, "%v", err)
		return
	}
	ok(w, map[string]interface{}{"count": len(req.Waypoints), "mission_status": v.Mission.Status()})
}

func (s *Server) handleMissionDownload(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	items, err := v.Mission.Download()
	if err != nil {
		fail(w, "%v", err)
		return
	}
	ok(w, map[string]interface{}{"waypoints": items})
}

func (s *Server) handleMissionStart(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	if err := v.Mission.Start(); err != nil {
		fail(w, "%v", err)
		return
	}
	ok(w, map[string]interface{}{"mission_status": v.Mission.Status()})
}

func (s *Server) handleMissionPause(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	if err := v.Mission.Pause(); err != nil {
		fail(w, "%v", err)
		return
	}
	ok(w, map[string]interface{}{"mission_status": v.Mission.Status()})
}

func (s *Server) handleMissionResume(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	if err := v.Mission.Resume(); err != nil {
		fail(w, "%v", err)
		return
	}
	ok(w, map[string]interface{}{"mission_status": v.Mission.Status()})
}

func (s *Server) handleMissionClear(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	if err := v.Mission.Clear(); err != nil {
		fail(w, "%v", err)
		return
	}
	ok(w, map[string]interface{}{"mission_status": v.Mission.Status()})
}

func (s *Server) handleMissionSetCurrent(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	var req struct {
		Index int `json:"index"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := v.Mission.SetCurrent(req.Index); err != nil {
		fail(w, "%v", err)
		return
	}
	ok(w, map[string]interface{}{"command": "set_current_mission", "index": req.Index})
}

// --- fence ---

func (s *Server) handleFenceUpload(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	var req struct {
		Lat    float64 `json:"lat"`
		Lon    float64 `json:"lon"`
		Radius float64 `json:"radius"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := v.Mission.UploadFence(req.Lat, req.Lon, req.Radius); err != nil {
		fail(w, "%v", err)
		return
	}
	ok(w, map[string]interface{}{"command": "fence_upload"})
}

func (s *Server) handleFenceUploadPolygon(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	var req struct {
		Vertices []mav.Waypoint `json:"vertices"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := v.Mission.UploadPolygonFence(req.Vertices); err != nil {
		fail(w, "%v", err)
		return
	}
	ok(w, map[string]interface{}{"command": "fence_upload_polygon", "count": len(req.Vertices)})
}

func (s *Server) handleFenceDownload(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	items, err := v.Mission.DownloadFence()
	if err != nil {
		fail(w, "%v", err)
		return
	}
	ok(w, map[string]interface{}{"items": items})
}

func (s *Server) handleFenceClear(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	if err := v.Mission.ClearFence(); err != nil {
		fail(w, "%v", err)
		return
	}
	ok(w, map[string]interface{}{"command": "fence_clear"})
}

// --- parameters ---

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	params, total := v.Params()
	ok(w, map[string]interface{}{
		"params":   params,
		"total":    total,
		"received": len(params),
	})
}

func (s *Server) handleParamsRefresh(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	if err := v.RefreshParams(); err != nil {
		fail(w, "%v", err)
		return
	}
	ok(w, map[string]interface{}{"command": "param_request_list"})
}

// criticalParamPrefixes guards the parameter classes where a bad value can
// lose the vehicle.
var criticalParamPrefixes = []struct {
	prefix   string
	category string
}{
	{"BATT_", "battery"},
	{"FS_", "failsafe"},
	{"ARMING_", "arming checks"},
	{"MOT_", "motors"},
	{"INS_", "inertial sensors"},
}

// criticalParamCategory reports the safety class of a parameter, if any.
func criticalParamCategory(paramID string) (string, bool) {
	upper := strings.ToUpper(paramID)
	for _, c := range criticalParamPrefixes {
		if strings.HasPrefix(upper, c.prefix) {
			return c.category, true
		}
	}
	return "", false
}

type paramSetter interface {
	SetParam(name string, value float64, paramType int) error
}

// setParamChecked writes a parameter, holding safety-critical ones back
// until the caller confirms.
func setParamChecked(v paramSetter, paramID string, value float64, paramType int, confirm bool) map[string]interface{} {
	if category, critical := criticalParamCategory(paramID); critical && !confirm {
		return map[string]interface{}{
			"status": "confirm_required",
			"warning": fmt.Sprintf("'%s' is a safety-critical %s parameter. "+
				"Incorrect values may cause loss of vehicle. Please confirm.",
				paramID, category),
			"param_id": paramID,
			"value":    value,
		}
	}
	if err := v.SetParam(paramID, value, paramType); err != nil {
		return map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		}
	}
	return map[string]interface{}{
		"status":   "ok",
		"command":  "param_set",
		"param_id": paramID,
		"value":    value,
	}
}

func (s *Server) handleParamSet(w http.ResponseWriter, r *http.Request) {
	v := s.vehicle(w, r)
	if v == nil {
		return
	}
	var req struct {
		ParamID string  `json:"param_id"`
		Value   float64 `json:"value"`
		Type    int     `json:"type"`
		Confirm bool    `json:"confirm"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.ParamID == "" {
		fail(w, "param_id required")
		return
	}
	writeJSON(w, setParamChecked(v, req.ParamID, req.Value, req.Type, req.Confirm))
}

// --- inspector ---

func (s *Server) handleMavlinkStats(w http.ResponseWriter, r *http.Request) {
	ok(w, map[string]interface{}{
		"stats": s.registry.Router().Inspector().Stats(),
	})
}

func (s *Server) handleMavlinkStatsClear(w http.ResponseWriter, r *http.Request) {
	s.registry.Router().Inspector().Clear()
	ok(w, nil)
}

func (s *Server) handleMavlinkComponents(w http.ResponseWriter, r *http.Request) {
	ok(w, map[string]interface{}{
		"components": s.registry.Components(),
	})
}
