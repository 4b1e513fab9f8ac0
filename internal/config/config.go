// Package config parses the adapter daemon's flags and CANYONERO_*
// environment variable overrides, adapted from the teacher's
// cmd/can-server/config.go flag/env pattern.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the adapter daemon's runtime configuration.
type Config struct {
	ListenAddr          string
	KLineDevice         string
	KLineBaud           int
	KLineReadTimeout    time.Duration
	CANInterface        string
	LogFormat           string
	LogLevel            string
	MetricsAddr         string
	LogMetricsEvery     time.Duration
	MDNSEnable          bool
	MDNSName            string
	MaxPeriodicMessages int

	Vendor   string
	Model    string
	Hardware string
	Serial   string
	Firmware string
}

// Parse parses command-line flags (falling back to CANYONERO_* environment
// variables for anything not explicitly set on the command line) and
// validates the result. showVersion reports whether -version was passed.
func Parse(args []string) (cfg *Config, showVersion bool, err error) {
	fs := flag.NewFlagSet("canyonero-adapterd", flag.ContinueOnError)
	c := &Config{}

	listenAddr := fs.String("listen", ":129", "Tester-facing TCP listen address")
	klineDevice := fs.String("kline-device", "/dev/ttyUSB0", "K-Line serial device path")
	klineBaud := fs.Int("kline-baud", 10400, "K-Line serial baud rate")
	klineReadTO := fs.Duration("kline-read-timeout", 50*time.Millisecond, "K-Line serial read timeout")
	canIf := fs.String("can-if", "can0", "SocketCAN interface for rawCAN/isoTP channels")
	logFormat := fs.String("log-format", "text", "Log format: text|json")
	logLevel := fs.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := fs.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := fs.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	mdnsEnable := fs.Bool("mdns-enable", false, "Enable mDNS advertisement of the tester-facing listener")
	mdnsName := fs.String("mdns-name", "", "mDNS instance name (default canyonero-adapterd-<hostname>)")
	maxPeriodic := fs.Int("max-periodic-messages", 16, "Maximum simultaneously registered periodic messages")
	vendor := fs.String("vendor", "CANyonero", "Vendor string reported by requestInfo")
	model := fs.String("model", "Adapter", "Model string reported by requestInfo")
	hardware := fs.String("hardware", "rev1", "Hardware revision reported by requestInfo")
	serialNum := fs.String("serial", "0", "Serial number reported by requestInfo")
	firmware := fs.String("firmware", "dev", "Firmware version reported by requestInfo")
	showVer := fs.Bool("version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}

	setFlags := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	c.ListenAddr = *listenAddr
	c.KLineDevice = *klineDevice
	c.KLineBaud = *klineBaud
	c.KLineReadTimeout = *klineReadTO
	c.CANInterface = *canIf
	c.LogFormat = *logFormat
	c.LogLevel = *logLevel
	c.MetricsAddr = *metricsAddr
	c.LogMetricsEvery = *logMetricsEvery
	c.MDNSEnable = *mdnsEnable
	c.MDNSName = *mdnsName
	c.MaxPeriodicMessages = *maxPeriodic
	c.Vendor = *vendor
	c.Model = *model
	c.Hardware = *hardware
	c.Serial = *serialNum
	c.Firmware = *firmware

	if err := applyEnvOverrides(c, setFlags); err != nil {
		return nil, *showVer, err
	}
	if err := c.validate(); err != nil {
		return nil, *showVer, err
	}
	return c, *showVer, nil
}

// validate performs semantic validation of the parsed configuration. It does
// not attempt to open devices or listeners.
func (c *Config) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.LogLevel)
	}
	if c.KLineBaud <= 0 {
		return fmt.Errorf("kline-baud must be > 0 (got %d)", c.KLineBaud)
	}
	if c.KLineReadTimeout <= 0 {
		return errors.New("kline-read-timeout must be > 0")
	}
	if c.MaxPeriodicMessages <= 0 {
		return fmt.Errorf("max-periodic-messages must be > 0 (got %d)", c.MaxPeriodicMessages)
	}
	return nil
}

// applyEnvOverrides maps CANYONERO_* environment variables onto c unless the
// corresponding flag was explicitly set (flag wins over env).
func applyEnvOverrides(c *Config, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["listen"]; !ok {
		if v, ok := get("CANYONERO_LISTEN"); ok && v != "" {
			c.ListenAddr = v
		}
	}
	if _, ok := set["kline-device"]; !ok {
		if v, ok := get("CANYONERO_KLINE_DEVICE"); ok && v != "" {
			c.KLineDevice = v
		}
	}
	if _, ok := set["kline-baud"]; !ok {
		if v, ok := get("CANYONERO_KLINE_BAUD"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.KLineBaud = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CANYONERO_KLINE_BAUD: %w", err)
			}
		}
	}
	if _, ok := set["kline-read-timeout"]; !ok {
		if v, ok := get("CANYONERO_KLINE_READ_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.KLineReadTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CANYONERO_KLINE_READ_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["can-if"]; !ok {
		if v, ok := get("CANYONERO_CAN_IF"); ok && v != "" {
			c.CANInterface = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("CANYONERO_LOG_FORMAT"); ok && v != "" {
			c.LogFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("CANYONERO_LOG_LEVEL"); ok && v != "" {
			c.LogLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("CANYONERO_METRICS"); ok {
			c.MetricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("CANYONERO_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.LogMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CANYONERO_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("CANYONERO_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.MDNSEnable = true
			case "0", "false", "no", "off":
				c.MDNSEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("CANYONERO_MDNS_NAME"); ok && v != "" {
			c.MDNSName = v
		}
	}
	if _, ok := set["max-periodic-messages"]; !ok {
		if v, ok := get("CANYONERO_MAX_PERIODIC_MESSAGES"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.MaxPeriodicMessages = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CANYONERO_MAX_PERIODIC_MESSAGES: %w", err)
			}
		}
	}
	return firstErr
}
