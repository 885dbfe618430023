package status

import (
	"encoding/json"
	"strings"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Session       string       `json:"session"`
	Button        string       `json:"button"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	LastGesture   *EventJSON   `json:"last_gesture,omitempty"`
	LastError     *EventJSON   `json:"last_error,omitempty"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Monitor       MonitorJSON  `json:"gpiomon"`
	Counts        CountsJSON   `json:"event_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// EventJSON is the JSON representation of a LastEvent.
type EventJSON struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	HeldMs    int64  `json:"held_ms,omitempty"`
	Message   string `json:"message,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// MonitorJSON is the JSON representation of MonitorInfo.
type MonitorJSON struct {
	Running        bool   `json:"running"`
	PID            int    `json:"pid,omitempty"`
	Starts         int    `json:"starts"`
	Restarts       int    `json:"restarts"`
	DebounceFlag   bool   `json:"debounce_flag"`
	Direct         bool   `json:"direct"`
	RestartPending bool   `json:"restart_pending"`
	LastError      string `json:"last_error,omitempty"`
	Args           string `json:"args"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	ShortPress int `json:"short_press"`
	LongPress  int `json:"long_press"`
	GpioError  int `json:"gpio_error"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Chip          string `json:"gpio_chip"`
	Line          uint   `json:"gpio_line"`
	LongPressMs   int64  `json:"long_press_ms"`
	DebounceMs    int64  `json:"debounce_ms"`
	ResumeAfterMs int64  `json:"resume_after_ms"`
	Logging       string `json:"logging"`
	HeartbeatMs   int64  `json:"heartbeat_ms"`
	Broker        string `json:"broker"`
	HTTPAddr      string `json:"http_addr"`
	InfluxDB      bool   `json:"influxdb"`
	Version       string `json:"version,omitempty"`
}

func buildEvent(e *LastEvent) *EventJSON {
	if e == nil {
		return nil
	}
	return &EventJSON{
		Event:     string(e.Kind),
		Timestamp: e.Time.UTC().Format(time.RFC3339Nano),
		HeldMs:    e.Held.Milliseconds(),
		Message:   e.Message,
	}
}

func buildInner(snap Snapshot) StatusInner {
	button := "RELEASED"
	if snap.Pressed {
		button = "PRESSED"
	}

	inner := StatusInner{
		Session:       snap.Session,
		Button:        button,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		LastGesture:   buildEvent(snap.LastGesture),
		LastError:     buildEvent(snap.LastError),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Monitor: MonitorJSON{
			Running:        snap.Monitor.Running,
			PID:            snap.Monitor.PID,
			Starts:         snap.Monitor.Starts,
			Restarts:       snap.Monitor.Restarts,
			DebounceFlag:   snap.Monitor.DebounceFlag,
			Direct:         snap.Monitor.Direct,
			RestartPending: snap.Monitor.RestartPending,
			LastError:      snap.Monitor.LastError,
			Args:           strings.Join(snap.Monitor.Args, " "),
		},
		Counts: CountsJSON{
			ShortPress: snap.Counts.ShortPress,
			LongPress:  snap.Counts.LongPress,
			GpioError:  snap.Counts.GpioError,
		},
		Config: ConfigJSON{
			Chip:          snap.Config.Chip,
			Line:          snap.Config.Line,
			LongPressMs:   snap.Config.LongPressMs,
			DebounceMs:    snap.Config.DebounceMs,
			ResumeAfterMs: snap.Config.ResumeAfterMs,
			Logging:       snap.Config.Logging,
			HeartbeatMs:   snap.Config.HeartbeatMs,
			Broker:        snap.Config.Broker,
			HTTPAddr:      snap.Config.HTTPAddr,
			InfluxDB:      snap.Config.InfluxDB,
			Version:       snap.Config.Version,
		},
	}

	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
