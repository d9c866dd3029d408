package types

import "time"

// Configuration loaded from YAML and retained on topic "config/pwm".

type Config struct {
	Log       LogConfig       `yaml:"log" json:"log"`
	Trace     TraceConfig     `yaml:"trace" json:"trace"`
	Bus       BusConfig       `yaml:"bus" json:"bus"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat" json:"heartbeat"`
	Chips     []ChipConfig    `yaml:"chips" json:"chips"`
}

type LogConfig struct {
	Level string `yaml:"level" json:"level"` // logrus level name
}

type TraceConfig struct {
	Path string `yaml:"path" json:"path,omitempty"` // CBOR stream; "" disables
	Ring int    `yaml:"ring" json:"ring,omitempty"` // in-memory records kept
}

type BusConfig struct {
	QueueLen int `yaml:"queue_len" json:"queue_len"`
}

type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval" json:"interval"` // 0 disables
}

type ChipConfig struct {
	Name     string     `yaml:"name" json:"name"`
	Driver   string     `yaml:"driver" json:"driver"` // "regbank", "pca9685"
	Channels int        `yaml:"channels" json:"channels,omitempty"`
	Atomic   *bool      `yaml:"atomic" json:"atomic,omitempty"` // nil => driver default
	I2C      *I2CConfig `yaml:"i2c" json:"i2c,omitempty"`
}

type I2CConfig struct {
	Bus     string `yaml:"bus" json:"bus"`
	Address uint16 `yaml:"address" json:"address"`
	OscHz   uint32 `yaml:"osc_hz" json:"osc_hz,omitempty"`
}
