package gatt

import (
	"fmt"

	"github.com/mcuadros/go-defaults"
)

// Tunable-parameter sentinels: an "unset" value leaves the host stack's own
// default untouched.
const (
	TxPowerUnset     int8   = -127
	AdvIntervalUnset uint16 = 0
	MTUUnset         uint16 = 0
)

// Protocol-legal bounds used both for validation and fallback.
const (
	MinTxPowerDBm int8 = -12
	MaxTxPowerDBm int8 = 9

	MinAdvIntervalMs uint16 = 20
	MaxAdvIntervalMs uint16 = 10240

	MinMTU uint16 = 23
	MaxMTU uint16 = 517

	MinConnInterval uint16 = 6    // 1.25 ms units, 7.5 ms
	MaxConnInterval uint16 = 3200 // 4000 ms
	MaxConnLatency  uint16 = 499

	MinSupervisionTimeout uint16 = 10   // 10 ms units, 100 ms
	MaxSupervisionTimeout uint16 = 3200 // 32000 ms
)

// AdvertisingConfig carries the declared advertising defaults. Zero fields
// are filled by DefaultAdvertisingConfig; an explicit sentinel keeps the
// stack default.
type AdvertisingConfig struct {
	TxPowerDBm    int8       `yaml:"tx_power_dbm" default:"0"`
	IntervalMinMs uint16     `yaml:"interval_min_ms" default:"100"`
	IntervalMaxMs uint16     `yaml:"interval_max_ms" default:"150"`
	Appearance    Appearance `yaml:"appearance"`
	Flags         uint8      `yaml:"flags" default:"6"` // LE General Discoverable | BR/EDR Not Supported
}

// DefaultAdvertisingConfig returns the declared defaults.
func DefaultAdvertisingConfig() AdvertisingConfig {
	var c AdvertisingConfig
	defaults.SetDefaults(&c)
	return c
}

// Validate checks the config against protocol-legal bounds. Sentinel values
// are legal: they mean "leave the stack default untouched".
func (c AdvertisingConfig) Validate() error {
	if c.TxPowerDBm != TxPowerUnset && (c.TxPowerDBm < MinTxPowerDBm || c.TxPowerDBm > MaxTxPowerDBm) {
		return fmt.Errorf("tx power %d dBm out of range [%d, %d]", c.TxPowerDBm, MinTxPowerDBm, MaxTxPowerDBm)
	}
	if err := validateAdvInterval(c.IntervalMinMs, c.IntervalMaxMs, true); err != nil {
		return err
	}
	return nil
}

func validateAdvInterval(minMs, maxMs uint16, allowUnset bool) error {
	if allowUnset && minMs == AdvIntervalUnset && maxMs == AdvIntervalUnset {
		return nil
	}
	if minMs < MinAdvIntervalMs || minMs > MaxAdvIntervalMs ||
		maxMs < MinAdvIntervalMs || maxMs > MaxAdvIntervalMs {
		return fmt.Errorf("advertising interval [%d, %d] ms out of range [%d, %d]",
			minMs, maxMs, MinAdvIntervalMs, MaxAdvIntervalMs)
	}
	if minMs > maxMs {
		return fmt.Errorf("advertising interval min %d ms > max %d ms", minMs, maxMs)
	}
	return nil
}

// ConnectionConfig carries the preferred connection parameters requested
// after MTU negotiation. Interval values are in 1.25 ms units, supervision
// timeout in 10 ms units.
type ConnectionConfig struct {
	MTU                uint16 `yaml:"mtu" default:"247"`
	IntervalMin        uint16 `yaml:"interval_min" default:"12"`
	IntervalMax        uint16 `yaml:"interval_max" default:"12"`
	Latency            uint16 `yaml:"latency"`
	SupervisionTimeout uint16 `yaml:"supervision_timeout" default:"400"`
}

// DefaultConnectionConfig returns the declared defaults.
func DefaultConnectionConfig() ConnectionConfig {
	var c ConnectionConfig
	defaults.SetDefaults(&c)
	return c
}

// Validate checks the config against protocol-legal bounds.
func (c ConnectionConfig) Validate() error {
	if c.MTU != MTUUnset && (c.MTU < MinMTU || c.MTU > MaxMTU) {
		return fmt.Errorf("MTU %d out of range [%d, %d]", c.MTU, MinMTU, MaxMTU)
	}
	if c.IntervalMin < MinConnInterval || c.IntervalMin > MaxConnInterval ||
		c.IntervalMax < MinConnInterval || c.IntervalMax > MaxConnInterval {
		return fmt.Errorf("connection interval [%d, %d] out of range [%d, %d] (1.25 ms units)",
			c.IntervalMin, c.IntervalMax, MinConnInterval, MaxConnInterval)
	}
	if c.IntervalMin > c.IntervalMax {
		return fmt.Errorf("connection interval min %d > max %d", c.IntervalMin, c.IntervalMax)
	}
	if c.Latency > MaxConnLatency {
		return fmt.Errorf("connection latency %d > %d", c.Latency, MaxConnLatency)
	}
	if c.SupervisionTimeout < MinSupervisionTimeout || c.SupervisionTimeout > MaxSupervisionTimeout {
		return fmt.Errorf("supervision timeout %d out of range [%d, %d] (10 ms units)",
			c.SupervisionTimeout, MinSupervisionTimeout, MaxSupervisionTimeout)
	}
	return nil
}

// IO capability values, BLE Core Spec Vol 3 Part H 2.3.5.1.
const (
	IOCapDisplayOnly     uint8 = 0
	IOCapDisplayYesNo    uint8 = 1
	IOCapKeyboardOnly    uint8 = 2
	IOCapNoInputNoOutput uint8 = 3
	IOCapKeyboardDisplay uint8 = 4
)

// SecurityConfig carries pairing parameters handed to the host stack at
// init. Pairing negotiation itself is the stack's concern.
type SecurityConfig struct {
	IOCapabilities    uint8 `yaml:"io_capabilities" default:"3"`
	MITMProtection    bool  `yaml:"mitm_protection"`
	Bonding           bool  `yaml:"bonding" default:"true"`
	SecureConnections bool  `yaml:"secure_connections" default:"true"`
}

// DefaultSecurityConfig returns no-input-no-output with bonding and secure
// connections enabled.
func DefaultSecurityConfig() SecurityConfig {
	var c SecurityConfig
	defaults.SetDefaults(&c)
	return c
}

// Validate checks the config.
func (c SecurityConfig) Validate() error {
	if c.IOCapabilities > IOCapKeyboardDisplay {
		return fmt.Errorf("IO capabilities %d out of range [0, 4]", c.IOCapabilities)
	}
	return nil
}
