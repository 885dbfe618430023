// Command pagebtn watches a push button on a GPIO line through gpiomon and
// reports short and long presses to MQTT, InfluxDB and a WebSocket stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/sonnyb9/pagebtn/internal/config"
	"github.com/sonnyb9/pagebtn/internal/emit"
	"github.com/sonnyb9/pagebtn/internal/engine"
	"github.com/sonnyb9/pagebtn/internal/gpio"
	"github.com/sonnyb9/pagebtn/internal/influx"
	"github.com/sonnyb9/pagebtn/internal/monitor"
	"github.com/sonnyb9/pagebtn/internal/mqtt"
	"github.com/sonnyb9/pagebtn/internal/status"
	"github.com/sonnyb9/pagebtn/internal/web"
)

// Set with -ldflags "-X main.buildVersion=... -X main.buildTime=...".
var (
	buildVersion = "dev"
	buildTime    = "unknown"
)

var (
	app        = kingpin.New("pagebtn", "GPIO push button gesture daemon")
	debug      = app.Flag("debug", "Turn on debug logging.").Bool()
	configPath = app.Flag("config", "Path to the YAML configuration file.").Short('c').Default(config.DefaultPath).String()

	runCmd     = app.Command("run", "Watch the button and publish gestures.").Default()
	printState = app.Command("print-state", "Print the current button level and exit.")
	versionCmd = app.Command("version", "Print version information.")
)

const (
	eventBuffer    = 256
	statusInterval = time.Second
)

func main() {
	cmd, err := app.Parse(os.Args[1:])
	if err != nil {
		fmt.Printf("%v: Try --help\n", err.Error())
		os.Exit(1)
	}

	log.SetFormatter(&log.TextFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	switch cmd {
	case runCmd.FullCommand():
		if err := run(*configPath); err != nil {
			log.Fatalf("fatal: %v", err)
		}
	case printState.FullCommand():
		if err := printLevel(*configPath); err != nil {
			log.Fatalf("fatal: %v", err)
		}
	case versionCmd.FullCommand():
		fmt.Printf("pagebtn %s (built %s)\n", buildVersion, buildTime)
	default:
		kingpin.FatalUsage("Unrecognized command")
	}
}

// logLevel maps the configured verbosity to a log level. --debug always wins.
func logLevel(v config.Verbosity, forceDebug bool) log.Level {
	switch {
	case forceDebug || v == config.VerbosityDebug:
		return log.DebugLevel
	case v == config.VerbosityOn:
		return log.InfoLevel
	default:
		return log.WarnLevel
	}
}

func printLevel(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	m := cfg.Monitor()

	pressed, err := probe(m)
	if err != nil {
		return err
	}
	fmt.Printf("%s/%d: %s\n", m.Chip, m.Line, gpio.Level(pressed))
	return nil
}

func probe(m config.Monitor) (bool, error) {
	r, err := gpio.NewRealReader(m.Chip, m.Line)
	if err != nil {
		return false, fmt.Errorf("init gpio: %w", err)
	}
	return gpio.ReadOnce(r)
}

func monitorOptions(cfg *config.Config) monitor.Options {
	opts := monitor.DefaultOptions()
	opts.Wrapper = cfg.GPIOMon.Wrapper
	opts.Binary = cfg.GPIOMon.Binary
	opts.ShortRetry = config.Millis(cfg.GPIOMon.ShortRetryMs, opts.ShortRetry)
	opts.LongRetry = config.Millis(cfg.GPIOMon.LongRetryMs, opts.LongRetry)
	return opts
}

func statusConfig(cfg *config.Config) status.Config {
	m := cfg.Monitor()
	return status.Config{
		Chip:          m.Chip,
		Line:          m.Line,
		LongPressMs:   m.LongPress.Milliseconds(),
		DebounceMs:    m.Debounce.Milliseconds(),
		ResumeAfterMs: m.ResumeAfter.Milliseconds(),
		Logging:       string(m.Verbosity),
		HeartbeatMs:   (time.Duration(cfg.MQTT.HeartbeatSec) * time.Second).Milliseconds(),
		Broker:        cfg.MQTT.Broker,
		HTTPAddr:      cfg.HTTP.Addr,
		InfluxDB:      cfg.InfluxDB.Enabled,
		Version:       buildVersion,
	}
}

func run(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	m := cfg.Monitor()
	log.SetLevel(logLevel(m.Verbosity, *debug))

	// gpiomon owns the line once started, so the level is read first.
	if pressed, err := probe(m); err != nil {
		log.WithError(err).Warn("cannot read initial button level")
	} else {
		log.WithFields(log.Fields{"chip": m.Chip, "line": m.Line}).Infof("button is %s", gpio.Level(pressed))
	}

	tracker := status.NewTracker(time.Now(), statusConfig(cfg))
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	var publisher mqtt.Publisher
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:             cfg.MQTT.Broker,
			ClientID:           cfg.MQTT.ClientID,
			Username:           cfg.MQTT.Username,
			Password:           cfg.MQTT.Password,
			Topics:             mqtt.NewTopics(cfg.MQTT.TopicPrefix, m.Chip, m.Line),
			Source:             mqtt.Source{Chip: m.Chip, Line: m.Line},
			BufferSize:         cfg.MQTT.BufferSize,
			OnConnectionChange: tracker.SetMQTTConnected,
			Logger:             log.WithField("component", "mqtt"),
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer p.Close()
		tracker.SetMQTTConnected(p.IsConnected())
		publisher = p
	}

	var recorder eventRecorder
	rec, err := influx.Connect(influx.Config{
		Enabled:       cfg.InfluxDB.Enabled,
		URL:           cfg.InfluxDB.URL,
		Token:         cfg.InfluxDB.Token,
		Org:           cfg.InfluxDB.Org,
		Bucket:        cfg.InfluxDB.Bucket,
		BatchSize:     cfg.InfluxDB.BatchSize,
		FlushInterval: config.Millis(cfg.InfluxDB.FlushIntervalMs, 0),
	}, influx.Source{Chip: m.Chip, Line: m.Line}, log.WithField("component", "influx"))
	switch {
	case errors.Is(err, influx.ErrDisabled):
	case err != nil:
		log.WithError(err).Warn("influxdb unavailable, gestures will not be recorded")
	default:
		defer rec.Close()
		recorder = rec
	}

	hub := web.NewHub(web.Source{Chip: m.Chip, Line: m.Line}, log.WithField("component", "web"))
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, hub, log.WithField("component", "web"))
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Infof("http status server listening on %s", cfg.HTTP.Addr)
	}

	events := emit.NewChannel(eventBuffer)
	eng := engine.New(engine.Options{
		Launcher: monitor.NewExecLauncher(config.Millis(cfg.GPIOMon.StopGraceMs, 0)),
		Monitor:  monitorOptions(cfg),
		Emitter:  events,
		Logger:   log.WithField("component", "engine"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-engineDone; err != nil {
			log.WithError(err).Warn("engine stopped with error")
		}
	}()

	d := &daemon{
		engine:    eng,
		publisher: publisher,
		recorder:  recorder,
		tracker:   tracker,
		hub:       hub,
		load:      func() (*config.Config, error) { return config.Load(path) },
		now:       time.Now,
		forceDbg:  *debug,
		log:       log.WithField("component", "daemon"),
	}
	if err := d.start(cfg); err != nil {
		return err
	}

	statusTicker := time.NewTicker(statusInterval)
	defer statusTicker.Stop()

	var heartbeat <-chan time.Time
	if cfg.MQTT.HeartbeatSec > 0 {
		t := time.NewTicker(time.Duration(cfg.MQTT.HeartbeatSec) * time.Second)
		defer t.Stop()
		heartbeat = t.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	return d.runLoop(events.Events(), statusTicker.C, heartbeat, sigCh)
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
