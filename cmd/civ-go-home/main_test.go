package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"civ-go-home/internal/civ"
	"civ-go-home/internal/radio"
	"civ-go-home/internal/station"
	"civ-go-home/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, `
transport:
  port: /dev/ttyUSB0
radios:
  - name: hf
    model: IC-7300
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport.Driver != transport.DriverBugst {
		t.Errorf("driver = %q", cfg.Transport.Driver)
	}
	if cfg.Transport.Baud != 19200 {
		t.Errorf("baud = %d", cfg.Transport.Baud)
	}
	if cfg.Station.TickInterval != 10*time.Millisecond {
		t.Errorf("tick = %s", cfg.Station.TickInterval)
	}
	if cfg.Web.Listen != "127.0.0.1:8080" || cfg.Store.Path != "civ-home.db" || cfg.ScriptsDir != "scripts" {
		t.Errorf("defaults = %q %q %q", cfg.Web.Listen, cfg.Store.Path, cfg.ScriptsDir)
	}
	if cfg.MQTT.TopicPrefix != "civ" || cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("defaults = %q %q %q", cfg.MQTT.TopicPrefix, cfg.Log.Level, cfg.Log.Format)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestLoadConfigDurations(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, `
transport:
  driver: sim
bus:
  read_timeout: 60ms
  trace:
    enabled: true
    size: 10
station:
  tick_interval: 20ms
  clock_sync: true
radios:
  - name: hf
    model: "7300"
    address: 96h
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bus.ReadTimeout != 60*time.Millisecond || cfg.Station.TickInterval != 20*time.Millisecond {
		t.Errorf("durations = %s %s", cfg.Bus.ReadTimeout, cfg.Station.TickInterval)
	}
	if !cfg.Station.ClockSync {
		t.Error("clock_sync not read")
	}
	opts := cfg.busOptions()
	if opts.Trace == nil || opts.ReadTimeout != 60*time.Millisecond {
		t.Errorf("bus options = %+v", opts)
	}

	radios, err := cfg.radioConfigs()
	if err != nil {
		t.Fatal(err)
	}
	if radios[0].Model != civ.ModelIC7300 || radios[0].Address != 0x96 {
		t.Errorf("radio = %+v", radios[0])
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
	if _, err := loadConfig(writeConfig(t, "radios: [")); err == nil {
		t.Error("broken yaml accepted")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no port", "radios: [{name: hf, model: IC-7300}]", "transport.port"},
		{"bad driver", "transport: {driver: usb}\nradios: [{name: hf, model: IC-7300}]", "transport.driver"},
		{"no radios", "transport: {driver: sim}", "at least one radio"},
		{"no name", "transport: {driver: sim}\nradios: [{model: IC-7300}]", "name is required"},
		{"bad model", "transport: {driver: sim}\nradios: [{name: hf, model: FT-991}]", "unknown model"},
		{"bad address", "transport: {driver: sim}\nradios: [{name: hf, model: IC-7300, address: zz}]", "radios[0]"},
		{"mqtt broker", "transport: {driver: sim}\nradios: [{name: hf, model: IC-7300}]\nmqtt: {enabled: true}", "mqtt.broker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(writeConfig(t, tt.yaml))
			if err != nil {
				t.Fatal(err)
			}
			err = cfg.validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("validate = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := &Config{}
	cfg.Log.Level = "warn"
	cfg.Log.Format = "json"
	logger := newLogger(cfg, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "radio", "hf")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info logged at warn level")
	}
	if !strings.Contains(out, `"radio":"hf"`) {
		t.Errorf("json output = %q", out)
	}

	// A buffer is not a terminal.
	buf.Reset()
	cfg.Log.Format = "auto"
	newLogger(cfg, &buf).Warn("x")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("auto format on a pipe = %q", buf.String())
	}
}

func TestLogOutput(t *testing.T) {
	cfg := &Config{}
	if logOutput(cfg) != os.Stdout {
		t.Error("default output is not stdout")
	}
	cfg.Log.File = filepath.Join(t.TempDir(), "civ.log")
	w := logOutput(cfg)
	newLogger(cfg, w).Info("to file")
	if c, ok := w.(interface{ Close() error }); ok {
		c.Close()
	}
	data, err := os.ReadFile(cfg.Log.File)
	if err != nil || !strings.Contains(string(data), "to file") {
		t.Errorf("log file = %q, %v", data, err)
	}
}

func TestSimulatedStation(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, `
transport:
  driver: sim
bus:
  trace:
    enabled: true
radios:
  - name: hf
    model: IC-7300
  - name: vhf
    model: IC-9700
`))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}
	radios, _ := cfg.radioConfigs()
	conn, err := openLine(cfg, radios, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	now := time.Date(2024, time.March, 7, 12, 0, 0, 0, time.UTC)
	opts := cfg.busOptions()
	opts.Sleep = func(time.Duration) {}
	st, err := station.New(civ.NewBus(conn, testLogger(), opts), radios, nil, testLogger(), station.Options{
		Clock: func() time.Time { return now },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	for end := now.Add(2500 * time.Millisecond); now.Before(end); {
		now = now.Add(10 * time.Millisecond)
		st.Step(now)
	}
	for _, snap := range st.Snapshots() {
		if snap.Power != radio.StateOn {
			t.Errorf("%s: power %s, want on", snap.Name, snap.Power)
		}
	}
	if st.Trace().Len() == 0 {
		t.Error("trace is empty")
	}
}
