package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kstaniek/go-rfid-alarm/internal/config"
)

// bindFlags registers the command-line overrides, pointing into c.
func bindFlags(fs *pflag.FlagSet, c *config.Config) {
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format: text|json")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&c.Registry, "registry", c.Registry, "Enrolled badge list (one id per line)")
	fs.StringVar(&c.LockFile, "lock-file", c.LockFile, "Single-instance lock file; empty disables")
	fs.StringVar(&c.Serial.Device, "serial", c.Serial.Device, "Badge reader serial device")
	fs.IntVar(&c.Serial.Baud, "baud", c.Serial.Baud, "Badge reader baud rate")
	fs.DurationVar(&c.Serial.ReadTimeout, "serial-read-timeout", c.Serial.ReadTimeout, "Badge frame read timeout")
	fs.StringVar(&c.GPIO.Backend, "gpio-backend", c.GPIO.Backend, "GPIO backend: rpio|periph|sim")
	fs.DurationVar(&c.Alarm.ArmDelay, "arm-delay", c.Alarm.ArmDelay, "Grace period between switch press and arming")
	fs.DurationVar(&c.Alarm.Heartbeat, "heartbeat", c.Alarm.Heartbeat, "Indicator heartbeat interval")
	fs.IntVar(&c.Alarm.MaxTries, "max-tries", c.Alarm.MaxTries, "Unknown badges tolerated before an alert")
	fs.StringVar(&c.Notify.Transport, "notify-transport", c.Notify.Transport, "Alert mail transport: log|mailgun|smtp")
	fs.StringVar(&c.HTTP.Addr, "http-addr", c.HTTP.Addr, "Metrics/status HTTP listen address (e.g. :9100); empty disables")
	fs.IntVar(&c.HTTP.MaxClients, "max-clients", c.HTTP.MaxClients, "Maximum event stream clients (0 = unlimited)")
	fs.IntVar(&c.HTTP.EventsBuffer, "events-buffer", c.HTTP.EventsBuffer, "Per-client event buffer")
	fs.StringVar(&c.HTTP.EventsPolicy, "events-policy", c.HTTP.EventsPolicy, "Slow event client policy: drop|kick")
	fs.DurationVar(&c.HTTP.LogMetricsInterval, "log-metrics-interval", c.HTTP.LogMetricsInterval, "If >0, periodically log metrics counters")
	fs.BoolVar(&c.MDNS.Enable, "mdns-enable", c.MDNS.Enable, "Advertise the HTTP endpoint over mDNS")
	fs.StringVar(&c.MDNS.Name, "mdns-name", c.MDNS.Name, "mDNS instance name (default alarmd-<hostname>)")
}

// loadConfig layers defaults, the YAML file, ALARMD_* variables and the
// flags that were explicitly set, then validates the result.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	fs := cmd.Flags()
	cfg, err := config.Load(path, fs.Changed("config"))
	if err != nil {
		return nil, err
	}
	// Track which flags were explicitly set to give them precedence over env.
	set := map[string]struct{}{}
	fs.Visit(func(f *pflag.Flag) { set[f.Name] = struct{}{} })
	if err := applyEnvOverrides(cfg, set); err != nil {
		return nil, fmt.Errorf("environment override: %w", err)
	}
	if err := applyFlags(fs, cfg); err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}
	return cfg, nil
}

// applyFlags copies every explicitly set flag onto cfg.
func applyFlags(fs *pflag.FlagSet, cfg *config.Config) error {
	target := pflag.NewFlagSet("apply", pflag.ContinueOnError)
	bindFlags(target, cfg)
	var firstErr error
	fs.Visit(func(f *pflag.Flag) {
		if target.Lookup(f.Name) == nil || firstErr != nil {
			return
		}
		if err := target.Set(f.Name, f.Value.String()); err != nil {
			firstErr = fmt.Errorf("flag --%s: %w", f.Name, err)
		}
	})
	return firstErr
}

// applyEnvOverrides maps ALARMD_* environment variables to config fields
// unless the corresponding flag was explicitly set. Empty values are
// ignored; durations use time.ParseDuration syntax.
func applyEnvOverrides(c *config.Config, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) {
		v, ok := os.LookupEnv(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	fail := func(k string, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %w", k, err)
		}
	}
	str := func(flag, env string, dst *string) {
		if _, ok := set[flag]; ok {
			return
		}
		if v, ok := get(env); ok {
			*dst = v
		}
	}
	num := func(flag, env string, dst *int, min int) {
		if _, ok := set[flag]; ok {
			return
		}
		if v, ok := get(env); ok {
			n, err := strconv.Atoi(v)
			switch {
			case err != nil:
				fail(env, err)
			case n < min:
				fail(env, fmt.Errorf("%d is below %d", n, min))
			default:
				*dst = n
			}
		}
	}
	dur := func(flag, env string, dst *time.Duration) {
		if _, ok := set[flag]; ok {
			return
		}
		if v, ok := get(env); ok {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				*dst = d
			} else if err != nil {
				fail(env, err)
			}
		}
	}

	str("log-format", "ALARMD_LOG_FORMAT", &c.LogFormat)
	str("log-level", "ALARMD_LOG_LEVEL", &c.LogLevel)
	str("registry", "ALARMD_REGISTRY", &c.Registry)
	str("serial", "ALARMD_SERIAL", &c.Serial.Device)
	num("baud", "ALARMD_BAUD", &c.Serial.Baud, 1)
	dur("serial-read-timeout", "ALARMD_SERIAL_READ_TIMEOUT", &c.Serial.ReadTimeout)
	str("gpio-backend", "ALARMD_GPIO_BACKEND", &c.GPIO.Backend)
	dur("arm-delay", "ALARMD_ARM_DELAY", &c.Alarm.ArmDelay)
	dur("heartbeat", "ALARMD_HEARTBEAT", &c.Alarm.Heartbeat)
	num("max-tries", "ALARMD_MAX_TRIES", &c.Alarm.MaxTries, 0)
	str("notify-transport", "ALARMD_NOTIFY_TRANSPORT", &c.Notify.Transport)
	num("max-clients", "ALARMD_MAX_CLIENTS", &c.HTTP.MaxClients, 0)
	num("events-buffer", "ALARMD_EVENTS_BUFFER", &c.HTTP.EventsBuffer, 1)
	str("events-policy", "ALARMD_EVENTS_POLICY", &c.HTTP.EventsPolicy)
	dur("log-metrics-interval", "ALARMD_LOG_METRICS_INTERVAL", &c.HTTP.LogMetricsInterval)
	str("mdns-name", "ALARMD_MDNS_NAME", &c.MDNS.Name)

	// Empty is meaningful for these two: it disables the feature.
	if _, ok := set["http-addr"]; !ok {
		if v, ok := os.LookupEnv("ALARMD_HTTP_ADDR"); ok {
			c.HTTP.Addr = strings.TrimSpace(v)
		}
	}
	if _, ok := set["lock-file"]; !ok {
		if v, ok := os.LookupEnv("ALARMD_LOCK_FILE"); ok {
			c.LockFile = strings.TrimSpace(v)
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("ALARMD_MDNS_ENABLE"); ok {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.MDNS.Enable = true
			case "0", "false", "no", "off":
				c.MDNS.Enable = false
			default:
				fail("ALARMD_MDNS_ENABLE", fmt.Errorf("not a boolean: %q", v))
			}
		}
	}

	// Secrets have no flags so they stay out of the process list.
	if v, ok := get("ALARMD_MAILGUN_API_KEY"); ok {
		c.Notify.Mailgun.APIKey = v
	}
	if v, ok := get("ALARMD_SMTP_PASSWORD"); ok {
		c.Notify.SMTP.Password = v
	}
	return firstErr
}
