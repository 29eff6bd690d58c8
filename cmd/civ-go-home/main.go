package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pborman/getopt"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"civ-go-home/internal/civ"
	"civ-go-home/internal/civsim"
	"civ-go-home/internal/station"
	"civ-go-home/internal/store"
	"civ-go-home/internal/transport"
	"civ-go-home/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

const defaultConfigPath = "config.yaml"

// driverSim runs the station against in-memory radios.
const driverSim = "sim"

type RadioEntry struct {
	Name    string `yaml:"name"`
	Model   string `yaml:"model"`   // "IC-7300", "9700", ...
	Address string `yaml:"address"` // "0x94", "94h", "d148"; empty for the model default
}

type Config struct {
	Transport struct {
		Driver string `yaml:"driver"` // "bugst", "tarm", "sim"
		Port   string `yaml:"port"`
		Baud   int    `yaml:"baud"`
		NoEcho bool   `yaml:"no_echo"`
	} `yaml:"transport"`
	Bus struct {
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		EchoTimeout     time.Duration `yaml:"echo_timeout"`
		PollInterval    time.Duration `yaml:"poll_interval"`
		PendingCapacity int           `yaml:"pending_capacity"`
		KnownCapacity   int           `yaml:"known_capacity"`
		Trace           struct {
			Enabled  bool `yaml:"enabled"`
			Size     int  `yaml:"size"`
			FrameLen int  `yaml:"frame_len"`
		} `yaml:"trace"`
	} `yaml:"bus"`
	Radios  []RadioEntry `yaml:"radios"`
	Station struct {
		TickInterval time.Duration `yaml:"tick_interval"`
		ClockSync    bool          `yaml:"clock_sync"`
	} `yaml:"station"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		ClientID    string `yaml:"client_id"`
		TopicPrefix string `yaml:"topic_prefix"`
		Discovery   bool   `yaml:"discovery"`
	} `yaml:"mqtt"`
	Log struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"` // "text", "json", "auto"
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
	} `yaml:"log"`
	Automation struct {
		CallTimeout time.Duration `yaml:"call_timeout"`
		RunTimeout  time.Duration `yaml:"run_timeout"`
	} `yaml:"automation"`
	ScriptsDir string `yaml:"scripts_dir"`
}

func (c *Config) validate() error {
	switch c.Transport.Driver {
	case transport.DriverBugst, transport.DriverTarm:
		if c.Transport.Port == "" {
			return fmt.Errorf("transport.port is required")
		}
	case driverSim:
	default:
		return fmt.Errorf("transport.driver must be bugst, tarm or sim, got %q", c.Transport.Driver)
	}
	if len(c.Radios) == 0 {
		return fmt.Errorf("at least one radio is required")
	}
	if _, err := c.radioConfigs(); err != nil {
		return err
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// radioConfigs resolves model names and addresses of the radio entries.
func (c *Config) radioConfigs() ([]station.RadioConfig, error) {
	out := make([]station.RadioConfig, 0, len(c.Radios))
	for i, r := range c.Radios {
		if r.Name == "" {
			return nil, fmt.Errorf("radios[%d]: name is required", i)
		}
		model, err := civ.ParseModel(r.Model)
		if err != nil {
			return nil, fmt.Errorf("radios[%d]: %w", i, err)
		}
		addr := civ.AddrNone
		if r.Address != "" {
			if addr, err = civ.ParseAddress(r.Address); err != nil {
				return nil, fmt.Errorf("radios[%d]: %w", i, err)
			}
		}
		out = append(out, station.RadioConfig{Name: r.Name, Model: model, Address: addr})
	}
	return out, nil
}

func (c *Config) busOptions() civ.Options {
	opts := civ.Options{
		ReadTimeout:     c.Bus.ReadTimeout,
		EchoTimeout:     c.Bus.EchoTimeout,
		PollInterval:    c.Bus.PollInterval,
		PendingCapacity: c.Bus.PendingCapacity,
		KnownCapacity:   c.Bus.KnownCapacity,
		NoEcho:          c.Transport.NoEcho,
	}
	if c.Bus.Trace.Enabled {
		opts.Trace = civ.NewTrace(c.Bus.Trace.Size, c.Bus.Trace.FrameLen)
	}
	return opts
}

type args struct {
	configPath string
	verbose    bool
	listPorts  bool
}

func parseArgs() args {
	h := getopt.BoolLong("help", 'h', "display help")
	v := getopt.BoolLong("verbose", 'v', "enable debug logging")
	l := getopt.BoolLong("list-ports", 'l', "list serial ports and exit")
	c := getopt.StringLong("config", 'c', defaultConfigPath, "configuration file")

	getopt.Parse()

	if *h {
		fmt.Println("civ-go-home " + version)
		getopt.Usage()
		os.Exit(0)
	}
	a := args{configPath: *c, verbose: *v, listPorts: *l}
	// A positional argument also names the config file.
	if rest := getopt.Args(); len(rest) > 0 && *c == defaultConfigPath {
		a.configPath = rest[0]
	}
	return a
}

func main() {
	a := parseArgs()

	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if a.listPorts {
		ports, err := transport.Ports()
		if err != nil {
			bootLogger.Error("list ports", "err", err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := loadConfig(a.configPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logOut := logOutput(cfg)
	logger := newLogger(cfg, logOut)
	slog.SetDefault(logger)
	logger.Info("civ-go-home starting", "version", version)

	// Open store
	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	radios, _ := cfg.radioConfigs()
	conn, err := openLine(cfg, radios, logger)
	if err != nil {
		logger.Error("open transport", "err", err)
		os.Exit(1)
	}
	defer conn.Close()

	bus := civ.NewBus(conn, logger, cfg.busOptions())
	st, err := station.New(bus, radios, nil, logger, station.Options{
		TickInterval: cfg.Station.TickInterval,
		ClockSync:    cfg.Station.ClockSync,
	})
	if err != nil {
		logger.Error("create station", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stationDone := make(chan struct{})
	go func() {
		defer close(stationDone)
		if err := st.Run(ctx); err != nil {
			logger.Error("station", "err", err)
		}
	}()

	// Start automation engine (no-op when built with no_automation tag).
	auto, autoWebOpts := initAutomation(st, cfg, logger)

	// Start web server
	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithStore(db), web.WithVersion(version))
	webOpts = append(webOpts, autoWebOpts...)

	webServer := web.NewServer(st, logger, webOpts...)
	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(st, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	auto.Stop()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	cancel()
	<-stationDone
	st.Close()

	logger.Info("goodbye")
	if c, ok := logOut.(io.Closer); ok {
		c.Close()
	}
}

// line is a bus transport that must be closed on shutdown.
type line interface {
	civ.Transport
	io.Closer
}

func openLine(cfg *Config, radios []station.RadioConfig, logger *slog.Logger) (line, error) {
	if cfg.Transport.Driver != driverSim {
		return transport.Open(transport.Config{
			Driver: cfg.Transport.Driver,
			Port:   cfg.Transport.Port,
			Baud:   cfg.Transport.Baud,
		}, logger)
	}

	sims := make([]*civsim.Radio, 0, len(radios))
	for _, r := range radios {
		addr := r.Address
		if addr == civ.AddrNone {
			addr = r.Model.DefaultAddress()
		}
		sims = append(sims, civsim.NewRadio(r.Model, addr))
	}
	logger.Info("using simulated CI-V line", "radios", len(sims))
	return civsim.NewLine(logger, sims...), nil
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Transport.Driver == "" {
		cfg.Transport.Driver = transport.DriverBugst
	}
	if cfg.Transport.Baud == 0 {
		cfg.Transport.Baud = 19200
	}
	if cfg.Station.TickInterval == 0 {
		cfg.Station.TickInterval = 10 * time.Millisecond
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "civ-home.db"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "civ"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

// logOutput returns stdout, or a rotating file when log.file is set.
func logOutput(cfg *Config) io.Writer {
	if cfg.Log.File == "" {
		return os.Stdout
	}
	maxSize := cfg.Log.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	return &lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    maxSize,
		MaxBackups: cfg.Log.MaxBackups,
	}
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	format := strings.ToLower(cfg.Log.Format)
	if format == "auto" {
		format = "json"
		if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			format = "text"
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
