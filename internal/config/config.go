// Package config holds the alarmd wiring file: devices, pins, timings and
// notification transports.
//
// Values are layered: Default, then the YAML file, then ALARMD_* variables
// and explicitly set flags (both applied by cmd/alarmd). Validate checks the
// result and reports the first problem.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kstaniek/go-rfid-alarm/internal/alarm"
	"github.com/kstaniek/go-rfid-alarm/internal/badge"
	"github.com/kstaniek/go-rfid-alarm/internal/logging"
	"github.com/kstaniek/go-rfid-alarm/internal/panel"
	"github.com/kstaniek/go-rfid-alarm/internal/registry"
)

// DefaultConfigFilename is read when --config is not given. Its absence is
// not an error.
const DefaultConfigFilename = "alarmd.yaml"

// MaxReadTimeout bounds one badge read attempt in the armed loop.
const MaxReadTimeout = time.Second

// Config is the full daemon configuration.
type Config struct {
	LogFormat string `yaml:"log_format"`
	LogLevel  string `yaml:"log_level"`
	// Registry is the enrolled badge list.
	Registry string `yaml:"registry"`
	// LockFile guards against a second instance; empty disables it.
	LockFile string `yaml:"lock_file"`

	Serial Serial `yaml:"serial"`
	GPIO   GPIO   `yaml:"gpio"`
	Alarm  Alarm  `yaml:"alarm"`
	Notify Notify `yaml:"notify"`
	HTTP   HTTP   `yaml:"http"`
	MDNS   MDNS   `yaml:"mdns"`
}

type Serial struct {
	Device      string        `yaml:"device"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// GPIO names pins per backend: BCM numbers for rpio, gpioreg names for
// periph. Active levels are "high" or "low", pulls "up", "down" or "none".
type GPIO struct {
	Backend      string `yaml:"backend"`
	Armed        string `yaml:"armed"`
	Alert        string `yaml:"alert"`
	Lamp         string `yaml:"lamp"`
	Motion1      string `yaml:"motion1"`
	Motion2      string `yaml:"motion2"`
	Switch       string `yaml:"switch"`
	SwitchActive string `yaml:"switch_active"`
	SwitchPull   string `yaml:"switch_pull"`
	MotionActive string `yaml:"motion_active"`
	MotionPull   string `yaml:"motion_pull"`
}

type Alarm struct {
	ArmDelay     time.Duration `yaml:"arm_delay"`
	Heartbeat    time.Duration `yaml:"heartbeat"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxTries     int           `yaml:"max_tries"`
}

type Camera struct {
	Name    string   `yaml:"name"`
	Device  string   `yaml:"device"`
	Command []string `yaml:"command"`
}

type Mailgun struct {
	Domain     string   `yaml:"domain"`
	APIKey     string   `yaml:"api_key"`
	APIBase    string   `yaml:"api_base"`
	Sender     string   `yaml:"sender"`
	Recipients []string `yaml:"recipients"`
}

type SMTP struct {
	Host       string   `yaml:"host"`
	Port       int      `yaml:"port"`
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	From       string   `yaml:"from"`
	Recipients []string `yaml:"recipients"`
}

type Notify struct {
	// Transport is log, mailgun or smtp.
	Transport      string        `yaml:"transport"`
	Queue          int           `yaml:"queue"`
	BodyFile       string        `yaml:"body_file"`
	OutputDir      string        `yaml:"output_dir"`
	PreCapture     []string      `yaml:"pre_capture"`
	CaptureTimeout time.Duration `yaml:"capture_timeout"`
	Cameras        []Camera      `yaml:"cameras"`
	Mailgun        Mailgun       `yaml:"mailgun"`
	SMTP           SMTP          `yaml:"smtp"`
}

// HTTP configures the metrics, status and events server.
type HTTP struct {
	// Addr empty disables the server.
	Addr               string        `yaml:"addr"`
	MaxClients         int           `yaml:"max_clients"`
	EventsBuffer       int           `yaml:"events_buffer"`
	EventsPolicy       string        `yaml:"events_policy"`
	LogMetricsInterval time.Duration `yaml:"log_metrics_interval"`
}

type MDNS struct {
	Enable bool   `yaml:"enable"`
	Name   string `yaml:"name"`
}

// Default returns the Orange Pi wiring with the stock timings.
func Default() *Config {
	return &Config{
		LogFormat: "text",
		LogLevel:  "info",
		Registry:  registry.DefaultPath,
		LockFile:  filepath.Join(os.TempDir(), "alarmd.lock"),
		Serial: Serial{
			Device:      "/dev/ttyS1",
			Baud:        badge.DefaultBaud,
			ReadTimeout: badge.DefaultReadTimeout,
		},
		GPIO: GPIO{
			Backend:      "periph",
			Armed:        "PC7",
			Alert:        "PC4",
			Motion1:      "PA8",
			Motion2:      "PA9",
			Switch:       "PA7",
			SwitchActive: "low",
			SwitchPull:   "up",
			MotionActive: "high",
			MotionPull:   "none",
		},
		Alarm: Alarm{
			ArmDelay:     alarm.DefaultTimings.ArmDelay,
			Heartbeat:    alarm.DefaultTimings.Heartbeat,
			PollInterval: alarm.DefaultTimings.Poll,
			MaxTries:     alarm.DefaultMaxTries,
		},
		Notify: Notify{
			Transport:      "log",
			Queue:          4,
			CaptureTimeout: 15 * time.Second,
			SMTP:           SMTP{Port: 25},
		},
		HTTP: HTTP{
			EventsBuffer: 32,
			EventsPolicy: "drop",
		},
	}
}

var errConfigIsNotSet = errors.New("configuration is not set")

// Load reads path over the defaults. A missing file is an error only when
// required is set; otherwise the defaults are returned.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultConfigFilename
	}
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values and ranges. It does not open devices.
func Validate(c *Config) error {
	if c == nil {
		return errConfigIsNotSet
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format: %q", c.LogFormat)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	if c.Registry == "" {
		return errors.New("registry path must be set")
	}
	if c.Serial.Device == "" {
		return errors.New("serial.device must be set")
	}
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("serial.baud must be > 0 (got %d)", c.Serial.Baud)
	}
	if c.Serial.ReadTimeout <= 0 {
		return errors.New("serial.read_timeout must be > 0")
	}
	if c.Serial.ReadTimeout > MaxReadTimeout {
		return fmt.Errorf("serial.read_timeout must be <= %s", MaxReadTimeout)
	}
	if err := validateGPIO(&c.GPIO); err != nil {
		return err
	}
	if c.Alarm.ArmDelay <= 0 || c.Alarm.Heartbeat <= 0 || c.Alarm.PollInterval <= 0 {
		return errors.New("alarm durations must be > 0")
	}
	if c.Alarm.MaxTries < 0 {
		return fmt.Errorf("alarm.max_tries must be >= 0 (got %d)", c.Alarm.MaxTries)
	}
	if err := validateNotify(&c.Notify); err != nil {
		return err
	}
	if c.HTTP.MaxClients < 0 {
		return errors.New("http.max_clients must be >= 0")
	}
	if c.HTTP.EventsBuffer <= 0 {
		return fmt.Errorf("http.events_buffer must be > 0 (got %d)", c.HTTP.EventsBuffer)
	}
	switch c.HTTP.EventsPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid http.events_policy: %q", c.HTTP.EventsPolicy)
	}
	if c.HTTP.LogMetricsInterval < 0 {
		return errors.New("http.log_metrics_interval must be >= 0")
	}
	return nil
}

func validateGPIO(g *GPIO) error {
	switch g.Backend {
	case "rpio", "periph", "sim":
	default:
		return fmt.Errorf("invalid gpio.backend: %q", g.Backend)
	}
	if g.Backend != "sim" {
		for name, pin := range map[string]string{
			"armed": g.Armed, "alert": g.Alert, "motion1": g.Motion1, "motion2": g.Motion2, "switch": g.Switch,
		} {
			if pin == "" {
				return fmt.Errorf("gpio.%s pin must be set", name)
			}
		}
	}
	if _, err := panel.ParseLevel(g.SwitchActive); err != nil {
		return fmt.Errorf("gpio.switch_active: %w", err)
	}
	if _, err := panel.ParseLevel(g.MotionActive); err != nil {
		return fmt.Errorf("gpio.motion_active: %w", err)
	}
	if _, err := panel.ParsePull(g.SwitchPull); err != nil {
		return fmt.Errorf("gpio.switch_pull: %w", err)
	}
	if _, err := panel.ParsePull(g.MotionPull); err != nil {
		return fmt.Errorf("gpio.motion_pull: %w", err)
	}
	return nil
}

func validateNotify(n *Notify) error {
	if n.Queue <= 0 {
		return fmt.Errorf("notify.queue must be > 0 (got %d)", n.Queue)
	}
	if n.CaptureTimeout <= 0 {
		return errors.New("notify.capture_timeout must be > 0")
	}
	for i, cam := range n.Cameras {
		if len(cam.Command) == 0 {
			return fmt.Errorf("notify.cameras[%d]: command must be set", i)
		}
	}
	switch n.Transport {
	case "log":
	case "mailgun":
		m := n.Mailgun
		if m.Domain == "" || m.APIKey == "" || m.Sender == "" || len(m.Recipients) == 0 {
			return errors.New("notify.mailgun needs domain, api_key, sender and recipients")
		}
	case "smtp":
		s := n.SMTP
		if s.Host == "" || s.From == "" || len(s.Recipients) == 0 {
			return errors.New("notify.smtp needs host, from and recipients")
		}
		if s.Port <= 0 || s.Port > 65535 {
			return fmt.Errorf("notify.smtp.port out of range: %d", s.Port)
		}
	default:
		return fmt.Errorf("invalid notify.transport: %q", n.Transport)
	}
	return nil
}

// Wiring converts the GPIO section for the panel backends. Validate must
// have passed.
func (g GPIO) Wiring() panel.Wiring {
	sa, _ := panel.ParseLevel(g.SwitchActive)
	sp, _ := panel.ParsePull(g.SwitchPull)
	ma, _ := panel.ParseLevel(g.MotionActive)
	mp, _ := panel.ParsePull(g.MotionPull)
	return panel.Wiring{
		Armed:        g.Armed,
		Alert:        g.Alert,
		Lamp:         g.Lamp,
		Motion1:      g.Motion1,
		Motion2:      g.Motion2,
		Switch:       g.Switch,
		SwitchActive: sa,
		SwitchPull:   sp,
		MotionActive: ma,
		MotionPull:   mp,
	}
}

// Timings maps the alarm section onto the controller timings.
func (a Alarm) Timings() alarm.Timings {
	t := alarm.DefaultTimings
	t.ArmDelay = a.ArmDelay
	t.Heartbeat = a.Heartbeat
	t.Poll = a.PollInterval
	return t
}
