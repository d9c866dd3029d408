package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"pwmcore-go/bus"
	"pwmcore-go/errcode"
	"pwmcore-go/types"
)

const (
	serviceName  = "config"
	configPrefix = "config"
	configKey    = "pwm"
)

type ctxKey string

// CtxDeviceKey is the context key carrying the device ID.
const CtxDeviceKey ctxKey = "device"

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

// Topic is where the active configuration is retained.
func Topic() bus.Topic { return bus.T(configPrefix, configKey) }

// Defaults returns a configuration with no chips.
func Defaults() types.Config {
	return types.Config{
		Log:       types.LogConfig{Level: "info"},
		Trace:     types.TraceConfig{Ring: 256},
		Bus:       types.BusConfig{QueueLen: 16},
		Heartbeat: types.HeartbeatConfig{Interval: time.Second},
	}
}

// Parse decodes YAML over Defaults and validates the result. Unknown keys
// are rejected.
func Parse(raw []byte) (types.Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return types.Config{}, errcode.Wrap(errcode.InvalidPayload, "config.parse", err)
	}
	if err := Validate(&cfg); err != nil {
		return types.Config{}, err
	}
	return cfg, nil
}

// Load reads and parses a YAML file.
func Load(path string) (types.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.Config{}, err
	}
	return Parse(raw)
}

// Embedded parses the built-in configuration for device.
func Embedded(device string) (types.Config, error) {
	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return types.Config{}, errcode.New(errcode.InvalidParams, "config.embedded", "no embedded config for device "+device)
	}
	return Parse(raw)
}

// Validate checks fields that do not depend on a particular driver.
// Drivers check the rest when chips are built.
func Validate(cfg *types.Config) error {
	invalid := func(format string, args ...any) error {
		return errcode.New(errcode.InvalidParams, "config", fmt.Sprintf(format, args...))
	}
	if cfg.Log.Level != "" {
		if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
			return invalid("log.level %q is not a log level", cfg.Log.Level)
		}
	}
	if cfg.Bus.QueueLen < 0 {
		return invalid("bus.queue_len must be >= 0")
	}
	if cfg.Trace.Ring < 0 {
		return invalid("trace.ring must be >= 0")
	}
	if cfg.Heartbeat.Interval < 0 {
		return invalid("heartbeat.interval must be >= 0")
	}
	seen := make(map[string]bool, len(cfg.Chips))
	for i, c := range cfg.Chips {
		switch {
		case c.Name == "":
			return invalid("chips[%d].name is required", i)
		case seen[c.Name]:
			return invalid("chips[%d].name %q is not unique", i, c.Name)
		case c.Driver == "":
			return invalid("chips[%d].driver is required", i)
		case c.Channels < 0:
			return invalid("chips[%d].channels must be >= 0", i)
		}
		seen[c.Name] = true
		if c.I2C != nil {
			if c.I2C.Bus == "" {
				return invalid("chips[%d].i2c.bus is required", i)
			}
			if c.I2C.Address > 0x7F {
				return invalid("chips[%d].i2c.address 0x%X is not a 7-bit address", i, c.I2C.Address)
			}
		}
	}
	return nil
}

// Publish retains cfg on the config topic.
func Publish(conn *bus.Connection, cfg types.Config) {
	conn.Publish(conn.NewMessage(Topic(), cfg, true))
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
	log  *logrus.Entry
}

func NewConfigService(log *logrus.Entry) *ConfigService {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &ConfigService{Name: serviceName, log: log.WithField("prefix", serviceName)}
}

// publishConfig resolves the embedded config for the device in ctx and
// retains it on the config topic.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return errors.New("missing device ID in context")
	}
	cfg, err := Embedded(device)
	if err != nil {
		return err
	}
	Publish(conn, cfg)
	s.log.WithField("device", device).WithField("chips", len(cfg.Chips)).Info("config published")
	return nil
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil {
			s.log.WithError(err).Error("config not published")
		}
	}()
}
