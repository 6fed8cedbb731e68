package mav

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

const (
	inspectorWindow    = 2 * time.Second
	inspectorDequeMax  = 100
	inspectorFieldsMax = 20
)

type inspectorEntry struct {
	Count      uint64                 `json:"count"`
	LastTime   float64                `json:"last_time"`
	Rate       float64                `json:"rate_hz"`
	LastFields map[string]interface{} `json:"fields"`

	arrivals []time.Time
}

// Inspector keeps per-(message type, system, component) traffic statistics
// and the last decoded payload of each stream for the live message view.
type Inspector struct {
	mu      sync.Mutex
	entries map[string]*inspectorEntry
}

func newInspector() *Inspector {
	return &Inspector{entries: make(map[string]*inspectorEntry)}
}

// Record registers one received frame.
func (ins *Inspector) Record(msg message.Message, sysID, compID uint8) {
	key := fmt.Sprintf("%s:%d:%d", MessageTypeName(msg), sysID, compID)
	now := time.Now()

	ins.mu.Lock()
	defer ins.mu.Unlock()
	e, ok := ins.entries[key]
	if !ok {
		e = &inspectorEntry{}
		ins.entries[key] = e
	}
	e.Count++
	e.LastTime = float64(now.UnixNano()) / 1e9
	e.LastFields = messageFields(msg)

	e.arrivals = append(e.arrivals, now)
	if len(e.arrivals) > inspectorDequeMax {
		e.arrivals = e.arrivals[len(e.arrivals)-inspectorDequeMax:]
	}
	cutoff := now.Add(-inspectorWindow)
	i := 0
	for i < len(e.arrivals) && e.arrivals[i].Before(cutoff) {
		i++
	}
	e.arrivals = e.arrivals[i:]
	e.Rate = round(float64(len(e.arrivals))/inspectorWindow.Seconds(), 1)
}

// Stats returns a copy of all entries keyed "TYPE:sysid:compid".
func (ins *Inspector) Stats() map[string]inspectorEntry {
	ins.mu.Lock()
	defer ins.mu.Unlock()
	out := make(map[string]inspectorEntry, len(ins.entries))
	for k, e := range ins.entries {
		out[k] = inspectorEntry{
			Count:      e.Count,
			LastTime:   e.LastTime,
			Rate:       e.Rate,
			LastFields: e.LastFields,
		}
	}
	return out
}

// Clear resets all statistics.
func (ins *Inspector) Clear() {
	ins.mu.Lock()
	ins.entries = make(map[string]*inspectorEntry)
	ins.mu.Unlock()
}

// MessageTypeName renders a decoded message's wire name, e.g.
// MessageGpsRawInt becomes GPS_RAW_INT. Raw frames of unknown dialect
// messages are named by numeric id.
func MessageTypeName(msg message.Message) string {
	if raw, ok := msg.(*message.MessageRaw); ok {
		return fmt.Sprintf("UNKNOWN_%d", raw.ID)
	}
	t := reflect.TypeOf(msg)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return camelToUpperSnake(strings.TrimPrefix(t.Name(), "Message"))
}

func camelToUpperSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := s[i-1]
			if prev >= 'a' && prev <= 'z' || prev >= '0' && prev <= '9' {
				b.WriteByte('_')
			}
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

// messageFields dumps up to 20 payload fields as JSON-safe values.
func messageFields(msg message.Message) map[string]interface{} {
	if raw, ok := msg.(*message.MessageRaw); ok {
		return map[string]interface{}{
			"msgid":   raw.ID,
			"payload": fmt.Sprintf("%x", raw.Payload),
		}
	}
	v := reflect.ValueOf(msg)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	t := v.Type()
	out := make(map[string]interface{})
	for i := 0; i < t.NumField() && len(out) < inspectorFieldsMax; i++ {
		out[upperCamelToSnake(t.Field(i).Name)] = sanitizeValue(v.Field(i))
	}
	return out
}

func upperCamelToSnake(s string) string {
	return strings.ToLower(camelToUpperSnake(s))
}

// sanitizeValue converts a payload field to a JSON-encodable value.
// NaN and Inf floats become nil, byte arrays become strings of their
// printable prefix, enums become their integer value.
func sanitizeValue(v reflect.Value) interface{} {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint()
	case reflect.Bool:
		return v.Bool()
	case reflect.String:
		return strings.TrimRight(v.String(), "\x00")
	case reflect.Array, reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return fmt.Sprintf("%v", v.Interface())
		}
		n := v.Len()
		if n > inspectorFieldsMax {
			n = inspectorFieldsMax
		}
		out := make([]interface{}, n)
		for i := 0; i < n; i++ {
			out[i] = sanitizeValue(v.Index(i))
		}
		return out
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}
