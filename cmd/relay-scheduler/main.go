// Command relay-scheduler switches relays on a weekly alarm schedule and
// publishes every switch to MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sweeney/relay-scheduler/internal/broker"
	"github.com/sweeney/relay-scheduler/internal/clock"
	"github.com/sweeney/relay-scheduler/internal/config"
	"github.com/sweeney/relay-scheduler/internal/gpio"
	"github.com/sweeney/relay-scheduler/internal/kv"
	"github.com/sweeney/relay-scheduler/internal/logging"
	"github.com/sweeney/relay-scheduler/internal/modbus"
	"github.com/sweeney/relay-scheduler/internal/mqtt"
	"github.com/sweeney/relay-scheduler/internal/schedule"
	"github.com/sweeney/relay-scheduler/internal/status"
	"github.com/sweeney/relay-scheduler/internal/web"
)

// Environment variables naming the optional config files.
const (
	envDotenv = "RELAY_DOTENV"
	envConfig = "RELAY_CONFIG"
)

func main() {
	dotenv := os.Getenv(envDotenv)
	if dotenv == "" {
		dotenv = ".env"
	}
	cfg, err := config.Load(dotenv, os.Getenv(envConfig), os.Args[1:])
	if err != nil {
		stdlog.Fatalf("fatal: %v", err)
	}

	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		stdlog.Fatalf("fatal: %v", err)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("fatal", zap.Error(err))
	}
}

// store is a kv.Store that holds a connection.
type store interface {
	kv.Store
	Close() error
}

func openStore(ctx context.Context, cfg *config.Config) (store, error) {
	switch cfg.Store {
	case "memory":
		return kv.NewMemory(), nil
	case "sqlite":
		return kv.OpenSQLite(cfg.SQLitePath)
	case "redis":
		r := kv.NewRedis(kv.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err := r.Ping(ctx); err != nil {
			r.Close()
			return nil, err
		}
		return r, nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

// lines is a schedule.Lines that holds hardware resources.
type lines interface {
	schedule.Lines
	Close() error
}

func openLines(cfg *config.Config, log *zap.Logger) (lines, error) {
	switch cfg.Actuator {
	case "gpio":
		return gpio.NewRealLines(gpio.Options{
			Chip:      cfg.GPIOChip,
			ActiveLow: cfg.GPIOActiveLow,
			Consumer:  cfg.Name,
		})
	case "modbus":
		return modbus.New(modbus.Options{
			Address:  cfg.ModbusAddr,
			SlaveID:  byte(cfg.ModbusSlave),
			Timeout:  time.Second,
			BaudRate: cfg.ModbusBaud,
		}, log.Named("modbus")), nil
	case "fake":
		return gpio.NewFakeLines(), nil
	}
	return nil, fmt.Errorf("unknown actuator %q", cfg.Actuator)
}

// loadRegistry restores persisted relays, or creates the configured default
// relays when nothing usable is stored. An undecodable document has already
// been copied aside by Load, so startup continues with the defaults. A store
// that cannot be read is fatal so that the document is not overwritten on
// shutdown.
func loadRegistry(ctx context.Context, reg *schedule.Registry, defaults []config.RelaySpec, log *zap.Logger) error {
	report, err := reg.Load(ctx)
	switch {
	case err == nil:
	case report.Relays == 0 && report.Skipped == 0:
		if !schedule.IsInvalid(err) {
			return fmt.Errorf("load relays: %w", err)
		}
		log.Error("saved relays unreadable, starting with defaults",
			zap.String("backup", schedule.CorruptKey), zap.Error(err))
	default:
		for _, e := range multierr.Errors(err) {
			log.Warn("skipped persisted record", zap.Error(e))
		}
	}
	if report.Relays > 0 || report.Skipped > 0 {
		return nil
	}

	for _, d := range defaults {
		if _, err := reg.AddRelay(ctx, 0, d.Channel, d.Name); err != nil {
			return fmt.Errorf("create default relay %q: %w", d.Name, err)
		}
	}
	if len(defaults) > 0 {
		log.Info("created default relays", zap.Int("relays", len(defaults)))
		return reg.Save(ctx)
	}
	return nil
}

// printState writes each relay and its current line level to w. It only
// reads the lines.
func printState(w io.Writer, reg *schedule.Registry) error {
	for _, r := range reg.Relays() {
		on, err := reg.RelayState(r.ID)
		if err != nil {
			return fmt.Errorf("read relay %d: %w", r.ID, err)
		}
		fmt.Fprintf(w, "%d %s (pin %d): %s\n", r.ID, r.Name, r.Channel, onOff(on))
	}
	return nil
}

// brokerURL turns a listen address such as ":1883" into a URL a local client
// can dial.
func brokerURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "tcp://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "tcp://" + net.JoinHostPort(host, port)
}

type publisher interface {
	mqtt.Publisher
	mqtt.ConnectionStatus
}

func openPublisher(cfg *config.Config, brokerAddr string, log *zap.Logger) publisher {
	url := cfg.Broker
	if !cfg.BrokerEnabled() {
		if brokerAddr == "" {
			log.Info("no mqtt broker configured, events are only logged")
			return mqtt.NewLogPublisher(log)
		}
		url = brokerURL(brokerAddr)
	}

	p, err := mqtt.NewRealPublisher(mqtt.Options{Broker: url, ClientID: cfg.ClientID}, log)
	if err != nil {
		log.Warn("mqtt unavailable, events are only logged", zap.String("broker", url), zap.Error(err))
		return mqtt.NewLogPublisher(log)
	}
	return p
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx := context.Background()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	defer st.Close()

	ln, err := openLines(cfg, log.Named("gpio"))
	if err != nil {
		return fmt.Errorf("init %s actuator: %w", cfg.Actuator, err)
	}
	defer ln.Close()

	clk := clock.NewSystem(loc)
	reg := schedule.NewRegistry(clk, st, ln, log.Named("registry"))
	reg.SetName(cfg.Name)

	defaults, err := config.ParseRelays(cfg.Relays)
	if err != nil {
		return err
	}
	if err := loadRegistry(ctx, reg, defaults, log); err != nil {
		return err
	}

	// Print state mode
	if cfg.PrintState {
		return printState(os.Stdout, reg)
	}

	var embedded string
	if cfg.EmbeddedBrokerEnabled() {
		b, err := broker.Start(cfg.EmbeddedBroker, log.Named("broker"))
		if err != nil {
			return fmt.Errorf("start embedded broker: %w", err)
		}
		defer b.Close()
		embedded = b.Addr()
	}

	pub := openPublisher(cfg, embedded, log.Named("mqtt"))
	defer pub.Close()

	brokerDisplay := cfg.Broker
	if !cfg.BrokerEnabled() && embedded != "" {
		brokerDisplay = brokerURL(embedded)
	}

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(reg.Now(), status.Config{
		Name:     reg.Name(),
		PollMs:   cfg.Poll.Milliseconds(),
		Broker:   brokerDisplay,
		HTTPAddr: cfg.HTTPAddr,
		Store:    cfg.Store,
		Actuator: cfg.Actuator,
	})
	tracker.SetNow(reg.Now)
	if ni := readNetworkInfo(); ni != nil {
		tracker.SetNetwork(ni)
	}
	refreshTracker(reg, tracker, pub, reg.Now())

	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := pub.PublishSystem(startupEvent); err != nil {
		log.Warn("failed to publish startup event", zap.Error(err))
	}

	if cfg.HTTPAddr != "" {
		gin.SetMode(gin.ReleaseMode)
		srv := web.New(web.Options{
			Addr:      cfg.HTTPAddr,
			Tracker:   tracker,
			Registry:  reg,
			Publisher: pub,
			Rate:      cfg.APIRate,
			Burst:     cfg.APIBurst,
			Log:       log.Named("api"),
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server error", zap.Error(err))
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
	}

	log.Info("started",
		zap.String("name", reg.Name()),
		zap.Duration("poll", cfg.Poll),
		zap.Duration("heartbeat", cfg.Heartbeat),
		zap.String("store", cfg.Store),
		zap.String("actuator", cfg.Actuator),
		zap.Int("relays", len(reg.Relays())))

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(reg, pub, pub, tracker, log, cfg.Heartbeat, reg.Now, ticker.C, sigCh)
}

func refreshTracker(reg *schedule.Registry, tracker *status.Tracker, mqttStatus mqtt.ConnectionStatus, now time.Time) {
	tracker.SetRelays(status.RelaysFrom(reg.Relays(), reg.RelayState))
	tracker.SetNext(status.NextFrom(reg.Queue(now)))
	if mqttStatus != nil {
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
	}
}

func runLoop(reg *schedule.Registry, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, log *zap.Logger, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	lastHeartbeat := now()

	for {
		select {
		case s := <-sig:
			log.Info("shutting down", zap.Stringer("signal", s))
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
				event.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), "SHUTDOWN", signalName)
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Warn("failed to publish shutdown event", zap.Error(err))
			}
			if err := reg.Save(context.Background()); err != nil {
				return fmt.Errorf("save on shutdown: %w", err)
			}
			return nil

		case <-tick:
			t := now()
			fired, err := reg.Poll(t)
			if err != nil {
				n := len(multierr.Errors(err))
				log.Warn("poll failed", zap.Int("failures", n), zap.Error(err))
				if tracker != nil {
					tracker.RecordFailures(n)
				}
			}

			for _, f := range fired {
				if err := publisher.Publish(mqtt.FromFired(f)); err != nil {
					// Don't crash on publish failure
					log.Warn("publish error", zap.Uint("alarm", f.AlarmID), zap.Error(err))
				}
			}

			if tracker == nil {
				continue
			}
			tracker.RecordFired(fired)
			refreshTracker(reg, tracker, mqttStatus, t)

			if t.Before(lastHeartbeat) {
				lastHeartbeat = t
			}
			if heartbeat > 0 && t.Sub(lastHeartbeat) >= heartbeat {
				lastHeartbeat = t
				if ni := readNetworkInfo(); ni != nil {
					tracker.SetNetwork(ni)
				}
				snap := tracker.Snapshot()
				log.Info("heartbeat",
					zap.Duration("uptime", snap.Uptime()),
					zap.Int("fired", snap.Counts.Fired),
					zap.Int("failed", snap.Counts.Failed))
				hbEvent := mqtt.SystemEvent{
					Timestamp:  t,
					Event:      "HEARTBEAT",
					RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
				}
				if err := publisher.PublishSystem(hbEvent); err != nil {
					log.Warn("heartbeat publish error", zap.Error(err))
				}
			}
		}
	}
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

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
