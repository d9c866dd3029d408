package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw YAML for that device
// -----------------------------------------------------------------------------

const cfgHost = `
log:
  level: info
bus:
  queue_len: 16
trace:
  ring: 256
heartbeat:
  interval: 2s
chips:
  - name: timer0
    driver: regbank
    channels: 4
  - name: servo
    driver: pca9685
    i2c:
      bus: i2c0
      address: 0x40
`

var embeddedConfigs = map[string][]byte{
	"host": []byte(cfgHost),
}
