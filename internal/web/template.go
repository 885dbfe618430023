package web

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/sonnyb9/pagebtn/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"stamp": func(t time.Time) string {
		return t.UTC().Format("2006-01-02T15:04:05.000Z")
	},
	"join": strings.Join,
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>pagebtn {{.Config.Chip}}/{{.Config.Line}}</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.pressed { color: green; font-weight: bold; }
.released { color: #888; }
.error { color: red; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>pagebtn<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Button</h2>
<table>
<tr><th>Line</th><td>{{.Config.Chip}} / {{.Config.Line}}</td></tr>
<tr><th>State</th><td class="{{if .Pressed}}pressed{{else}}released{{end}}">{{if .Pressed}}PRESSED{{else}}RELEASED{{end}}</td></tr>
<tr><th>Last gesture</th><td id="last-gesture">{{with .LastGesture}}{{.Kind}} ({{.Held.Milliseconds}}ms) at {{stamp .Time}}{{else}}none{{end}}</td></tr>
<tr><th>Last error</th><td id="last-error" class="error">{{with .LastError}}{{.Message}} at {{stamp .Time}}{{end}}</td></tr>
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Short press</th><td id="count-short">{{.Counts.ShortPress}}</td></tr>
<tr><th>Long press</th><td id="count-long">{{.Counts.LongPress}}</td></tr>
<tr><th>GPIO error</th><td id="count-error">{{.Counts.GpioError}}</td></tr>
</table>

<h2>gpiomon</h2>
<table>
<tr><th>Running</th><td>{{if .Monitor.Running}}yes (pid {{.Monitor.PID}}){{else}}no{{end}}</td></tr>
<tr><th>Starts / restarts</th><td>{{.Monitor.Starts}} / {{.Monitor.Restarts}}</td></tr>
<tr><th>Args</th><td>{{join .Monitor.Args " "}}</td></tr>
{{if .Monitor.Direct}}<tr><th>Launch</th><td>direct (stdbuf missing)</td></tr>{{end}}
{{if .Monitor.LastError}}<tr><th>Last error</th><td class="error">{{.Monitor.LastError}}</td></tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Stream clients</th><td>{{.Clients}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Session</th><td>{{.Session}}</td></tr>
<tr><th>Long press</th><td>{{.Config.LongPressMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Logging</th><td>{{.Config.Logging}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
{{if .Config.Version}}<tr><th>Version</th><td>{{.Config.Version}}</td></tr>{{end}}
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var counters = {
    SHORT_PRESS: document.getElementById("count-short"),
    LONG_PRESS: document.getElementById("count-long"),
    GPIO_ERROR: document.getElementById("count-error")
  };

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss:" : "ws:";
    var ws = new WebSocket(proto + "//" + location.host + "/events");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(m) {
      try {
        var ev = JSON.parse(m.data);
        var el = counters[ev.event];
        if (el) { el.textContent = String(Number(el.textContent) + 1); }
        if (ev.event === "GPIO_ERROR") {
          document.getElementById("last-error").textContent = ev.message + " at " + ev.timestamp;
        } else {
          document.getElementById("last-gesture").textContent = ev.event + " (" + (ev.held_ms || 0) + "ms) at " + ev.timestamp;
        }
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, clients int) error {
	data := struct {
		status.Snapshot
		Uptime  time.Duration
		Clients int
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Clients:  clients,
	}
	return indexTmpl.Execute(w, data)
}
