package gatt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultAdvertisingConfig(t *testing.T) {
	c := DefaultAdvertisingConfig()
	assert.Equal(t, int8(0), c.TxPowerDBm)
	assert.Equal(t, uint16(100), c.IntervalMinMs)
	assert.Equal(t, uint16(150), c.IntervalMaxMs)
	assert.Equal(t, uint8(0x06), c.Flags)
	assert.NoError(t, c.Validate())
}

func TestAdvertisingConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AdvertisingConfig)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *AdvertisingConfig) {},
		},
		{
			name:   "unset tx power is valid",
			mutate: func(c *AdvertisingConfig) { c.TxPowerDBm = TxPowerUnset },
		},
		{
			name:   "unset intervals are valid",
			mutate: func(c *AdvertisingConfig) { c.IntervalMinMs, c.IntervalMaxMs = AdvIntervalUnset, AdvIntervalUnset },
		},
		{
			name:    "tx power below range",
			mutate:  func(c *AdvertisingConfig) { c.TxPowerDBm = -20 },
			wantErr: "tx power",
		},
		{
			name:    "tx power above range",
			mutate:  func(c *AdvertisingConfig) { c.TxPowerDBm = 10 },
			wantErr: "tx power",
		},
		{
			name:    "interval below minimum",
			mutate:  func(c *AdvertisingConfig) { c.IntervalMinMs = 10 },
			wantErr: "advertising interval",
		},
		{
			name:    "interval above maximum",
			mutate:  func(c *AdvertisingConfig) { c.IntervalMaxMs = 20000 },
			wantErr: "advertising interval",
		},
		{
			name:    "min greater than max",
			mutate:  func(c *AdvertisingConfig) { c.IntervalMinMs, c.IntervalMaxMs = 200, 100 },
			wantErr: "min 200 ms > max 100 ms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultAdvertisingConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestDefaultConnectionConfig(t *testing.T) {
	c := DefaultConnectionConfig()
	assert.Equal(t, uint16(247), c.MTU)
	assert.Equal(t, uint16(12), c.IntervalMin)
	assert.Equal(t, uint16(12), c.IntervalMax)
	assert.Equal(t, uint16(0), c.Latency)
	assert.Equal(t, uint16(400), c.SupervisionTimeout)
	assert.NoError(t, c.Validate())
}

func TestConnectionConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ConnectionConfig)
		wantErr string
	}{
		{
			name:   "unset MTU keeps stack default",
			mutate: func(c *ConnectionConfig) { c.MTU = MTUUnset },
		},
		{
			name:    "MTU below ATT minimum",
			mutate:  func(c *ConnectionConfig) { c.MTU = 22 },
			wantErr: "MTU",
		},
		{
			name:    "MTU above maximum",
			mutate:  func(c *ConnectionConfig) { c.MTU = 600 },
			wantErr: "MTU",
		},
		{
			name:    "interval out of range",
			mutate:  func(c *ConnectionConfig) { c.IntervalMin = 5 },
			wantErr: "connection interval",
		},
		{
			name:    "interval min greater than max",
			mutate:  func(c *ConnectionConfig) { c.IntervalMin, c.IntervalMax = 24, 12 },
			wantErr: "min 24 > max 12",
		},
		{
			name:    "latency too large",
			mutate:  func(c *ConnectionConfig) { c.Latency = 500 },
			wantErr: "latency",
		},
		{
			name:    "supervision timeout out of range",
			mutate:  func(c *ConnectionConfig) { c.SupervisionTimeout = 5 },
			wantErr: "supervision timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConnectionConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestDefaultSecurityConfig(t *testing.T) {
	c := DefaultSecurityConfig()
	assert.Equal(t, IOCapNoInputNoOutput, c.IOCapabilities)
	assert.False(t, c.MITMProtection)
	assert.True(t, c.Bonding)
	assert.True(t, c.SecureConnections)
	assert.NoError(t, c.Validate())
}

func TestSecurityConfigValidate(t *testing.T) {
	c := DefaultSecurityConfig()
	c.IOCapabilities = 5
	assert.ErrorContains(t, c.Validate(), "IO capabilities")
}
