package mav

import (
	"fmt"
	"strconv"
	"sync"

	"GroundLink/internal/logger"
	"GroundLink/internal/metrics"
)

// VehicleSummary is one row of the vehicle list.
type VehicleSummary struct {
	VehicleID    string `json:"vehicle_id"`
	Name         string `json:"name"`
	TargetSystem uint8  `json:"target_system"`
	PlatformType string `json:"platform_type"`
	Autopilot    string `json:"autopilot"`
	Armed        bool   `json:"armed"`
	Mode         string `json:"mode"`
	Color        string `json:"color"`
	Active       bool   `json:"active"`
}

// ConnectionInfo is one row of the connection list.
type ConnectionInfo struct {
	ID               string   `json:"id"`
	ConnectionString string   `json:"connection_string"`
	Connected        bool     `json:"connected"`
	VehicleIDs       []string `json:"vehicle_ids"`
}

// Registry tracks every open link and every vehicle across them, and holds
// the active-vehicle pointer command routing falls back to.
type Registry struct {
	router *Router

	mu          sync.Mutex
	connections map[string]*Link
	vehicles    map[string]*Vehicle
	activeID    string
	connCounter int
}

func NewRegistry() *Registry {
	r := &Registry{
		connections: make(map[string]*Link),
		vehicles:    make(map[string]*Vehicle),
	}
	r.router = NewRouter(r)
	return r
}

// Router returns the frame router shared by all links.
func (r *Registry) Router() *Router { return r.router }

// AddConnection opens a link and registers the vehicles found on it.
// Returns the connection id and the ids of the vehicles discovered during
// the handshake.
func (r *Registry) AddConnection(endpoint string) (string, []string, error) {
	l, err := Connect(endpoint, r.router)
	if err != nil {
		return "", nil, err
	}

	r.mu.Lock()
	r.connCounter++
	connID := fmt.Sprintf("conn%d", r.connCounter)
	l.id = connID
	r.connections[connID] = l
	r.mu.Unlock()

	var vehicleIDs []string
	for _, v := range l.Vehicles() {
		r.registerVehicle(l, v)
		vehicleIDs = append(vehicleIDs, v.ID())
	}
	logger.Info("[REGISTRY] connection %s open on %s (%d vehicle(s))",
		connID, endpoint, len(vehicleIDs))
	return connID, vehicleIDs, nil
}

// registerVehicle assigns a stable vehicle id. The plain system id is used
// when unique; on a collision across links both vehicles get conn-prefixed
// ids. Vehicles on links not yet tracked are picked up by AddConnection.
func (r *Registry) registerVehicle(l *Link, v *Vehicle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v.ID() != "" {
		return
	}
	connID := r.findConnIDLocked(l)
	if connID == "" {
		return
	}

	vid := r.resolveVehicleIDLocked(l, v, connID)
	v.setID(vid)
	r.vehicles[vid] = v
	if r.activeID == "" {
		r.activeID = vid
	}
	metrics.ConnectedVehicles.Set(float64(len(r.vehicles)))
	logger.Info("[REGISTRY] vehicle %s registered (system %d on %s)",
		vid, v.TargetSystem, connID)
}

func (r *Registry) resolveVehicleIDLocked(l *Link, v *Vehicle, connID string) string {
	sysStr := strconv.Itoa(int(v.TargetSystem))
	for vid, existing := range r.vehicles {
		if existing.TargetSystem != v.TargetSystem || existing.link == l {
			continue
		}
		// Same system id on another link. Rename the existing vehicle too
		// if it still carries the bare form.
		if vid == sysStr {
			oldConnID := r.findConnIDLocked(existing.link)
			newVid := oldConnID + "s" + sysStr
			existing.setID(newVid)
			r.vehicles[newVid] = existing
			delete(r.vehicles, vid)
			if r.activeID == vid {
				r.activeID = newVid
			}
		}
		return connID + "s" + sysStr
	}
	return sysStr
}

func (r *Registry) findConnIDLocked(l *Link) string {
	for cid, conn := range r.connections {
		if conn == l {
			return cid
		}
	}
	return ""
}

// RemoveConnection closes a link and drops its vehicles. The active pointer
// falls back to any remaining vehicle.
func (r *Registry) RemoveConnection(connID string) bool {
	r.mu.Lock()
	l, ok := r.connections[connID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.connections, connID)

	removedActive := false
	for vid, v := range r.vehicles {
		if v.link == l {
			delete(r.vehicles, vid)
			if r.activeID == vid {
				removedActive = true
			}
		}
	}
	if removedActive {
		r.activeID = ""
		for vid := range r.vehicles {
			r.activeID = vid
			break
		}
	}
	metrics.ConnectedVehicles.Set(float64(len(r.vehicles)))
	r.mu.Unlock()

	l.Close()
	logger.Info("[REGISTRY] connection %s removed", connID)
	return true
}

// ActiveVehicleID returns the id of the active vehicle, or "".
func (r *Registry) ActiveVehicleID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}

// SetActiveVehicle switches the active pointer. Unknown ids are rejected.
func (r *Registry) SetActiveVehicle(vehicleID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.vehicles[vehicleID]; !ok {
		return false
	}
	r.activeID = vehicleID
	return true
}

// GetVehicle looks a vehicle up by id.
func (r *Registry) GetVehicle(vehicleID string) *Vehicle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vehicles[vehicleID]
}

// GetVehicleOrActive returns the named vehicle, or the active one when the
// id is empty.
func (r *Registry) GetVehicleOrActive(vehicleID string) *Vehicle {
	r.mu.Lock()
	defer r.mu.Unlock()
	vid := vehicleID
	if vid == "" {
		vid = r.activeID
	}
	if vid == "" {
		return nil
	}
	return r.vehicles[vid]
}

// Vehicles returns all registered vehicles.
func (r *Registry) Vehicles() []*Vehicle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Vehicle, 0, len(r.vehicles))
	for _, v := range r.vehicles {
		out = append(out, v)
	}
	return out
}

// ListVehicles summarizes every vehicle for the UI.
func (r *Registry) ListVehicles() []VehicleSummary {
	r.mu.Lock()
	vehicles := make(map[string]*Vehicle, len(r.vehicles))
	for vid, v := range r.vehicles {
		vehicles[vid] = v
	}
	activeID := r.activeID
	r.mu.Unlock()

	out := make([]VehicleSummary, 0, len(vehicles))
	for vid, v := range vehicles {
		telem := v.Telemetry()
		out = append(out, VehicleSummary{
			VehicleID:    vid,
			Name:         v.Name(),
			TargetSystem: v.TargetSystem,
			PlatformType: telem["platform_type"].(string),
			Autopilot:    telem["autopilot"].(string),
			Armed:        telem["armed"].(bool),
			Mode:         telem["mode"].(string),
			Color:        v.Color,
			Active:       vid == activeID,
		})
	}
	return out
}

// AllTelemetry returns the enriched snapshot of every vehicle, keyed by
// vehicle id. Pending status messages are drained into the result.
func (r *Registry) AllTelemetry() map[string]map[string]interface{} {
	r.mu.Lock()
	vehicles := make(map[string]*Vehicle, len(r.vehicles))
	for vid, v := range r.vehicles {
		vehicles[vid] = v
	}
	r.mu.Unlock()

	out := make(map[string]map[string]interface{}, len(vehicles))
	for vid, v := range vehicles {
		telem := v.Telemetry()
		telem["vehicle_id"] = vid
		telem["color"] = v.Color
		telem["mission_status"] = v.MissionStatus()
		if msgs := v.DrainStatusText(); len(msgs) > 0 {
			telem["statustext"] = msgs
		}
		out[vid] = telem
	}
	return out
}

// ListConnections summarizes every open link.
func (r *Registry) ListConnections() []ConnectionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnectionInfo, 0, len(r.connections))
	for cid, l := range r.connections {
		info := ConnectionInfo{
			ID:               cid,
			ConnectionString: l.Endpoint(),
			Connected:        true,
		}
		for vid, v := range r.vehicles {
			if v.link == l {
				info.VehicleIDs = append(info.VehicleIDs, vid)
			}
		}
		out = append(out, info)
	}
	return out
}

// Components aggregates discovered MAVLink participants across all links.
func (r *Registry) Components() []Component {
	r.mu.Lock()
	links := make([]*Link, 0, len(r.connections))
	for _, l := range r.connections {
		links = append(links, l)
	}
	r.mu.Unlock()

	var out []Component
	for _, l := range links {
		out = append(out, l.Components()...)
	}
	return out
}

// HasConnections reports whether any link is open.
func (r *Registry) HasConnections() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections) > 0
}

// DisconnectAll tears down every link.
func (r *Registry) DisconnectAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.connections))
	for cid := range r.connections {
		ids = append(ids, cid)
	}
	r.mu.Unlock()
	for _, cid := range ids {
		r.RemoveConnection(cid)
	}
}
