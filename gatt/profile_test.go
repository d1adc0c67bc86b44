package gatt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProfile = `
device_name: env-sensor
short_name: env

advertising:
  tx_power_dbm: 4
  interval_min_ms: 200
  interval_max_ms: 300
  appearance: 0x0543

connection:
  mtu: 185

services:
  - uuid: 181a
    name: environment
    advertise: passive
    characteristics:
      - uuid: 2a6e
        name: temperature
        value: {kind: int16}
        permissions: {read: true, notify: true}
        descriptors:
          - user_description: Temperature
          - presentation: {format: 0x0D, exponent: -2, unit: 0x272F}
  - uuid: 180a
    advertise: none
    characteristics:
      - uuid: 2a24
        const_string: ENV-1
        permissions: {read: true}
      - uuid: 2a29
        const_hex: "41636d65"
        permissions: {read: true}
`

func TestParseProfile(t *testing.T) {
	p, err := ParseProfile([]byte(sampleProfile))
	require.NoError(t, err)

	assert.Equal(t, "env-sensor", p.DeviceName)
	assert.Equal(t, "env", p.ShortName)

	// Declared fields override defaults, undeclared ones keep them.
	assert.Equal(t, int8(4), p.Advertising.TxPowerDBm)
	assert.Equal(t, uint16(200), p.Advertising.IntervalMinMs)
	assert.Equal(t, AppearanceTemperatureSensor, p.Advertising.Appearance)
	assert.Equal(t, uint8(0x06), p.Advertising.Flags)
	assert.Equal(t, uint16(185), p.Connection.MTU)
	assert.Equal(t, uint16(400), p.Connection.SupervisionTimeout)
	assert.Equal(t, IOCapNoInputNoOutput, p.Security.IOCapabilities)

	require.Len(t, p.Services, 2)

	env := p.Service("181a")
	require.NotNil(t, env)
	assert.Equal(t, AdvertisePassive, env.Advertise)
	require.Len(t, env.Characteristics, 1)

	temp := env.Characteristics[0]
	assert.Equal(t, UUID("2a6e"), temp.UUID)
	assert.Equal(t, KindInt16, temp.Value.Kind)
	assert.True(t, temp.Permissions.CanRead)
	assert.True(t, temp.Permissions.CanNotify)
	require.Len(t, temp.Descriptors, 2)
	assert.Equal(t, UUIDUserDescription, temp.Descriptors[0].UUID)
	require.NotNil(t, temp.Descriptors[1].Presentation)
	assert.Equal(t, FormatSint16, temp.Descriptors[1].Presentation.Format)
	assert.Equal(t, UnitDegreeCelsius, temp.Descriptors[1].Presentation.Unit)

	dis := p.Service("180a")
	require.NotNil(t, dis)
	model := dis.Characteristics[0]
	assert.Equal(t, []byte("ENV-1"), model.Const)
	assert.Equal(t, KindString, model.Value.Kind)
	maker := dis.Characteristics[1]
	assert.Equal(t, []byte("Acme"), maker.Const)
	assert.Equal(t, KindBytes, maker.Value.Kind)
}

func TestParseProfileErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing device name",
			yaml:    `services: []`,
			wantErr: "device_name is required",
		},
		{
			name: "bad advertise mode",
			yaml: `
device_name: x
services:
  - uuid: 181a
    advertise: loudly
`,
			wantErr: "unknown advertise mode",
		},
		{
			name: "bad value kind",
			yaml: `
device_name: x
services:
  - uuid: 181a
    characteristics:
      - uuid: 2a6e
        value: {kind: quaternion}
`,
			wantErr: "unknown value kind",
		},
		{
			name: "const string and hex together",
			yaml: `
device_name: x
services:
  - uuid: 180a
    characteristics:
      - uuid: 2a24
        const_string: a
        const_hex: "61"
`,
			wantErr: "mutually exclusive",
		},
		{
			name: "bad hex payload",
			yaml: `
device_name: x
services:
  - uuid: 180a
    characteristics:
      - uuid: 2a24
        const_hex: "zz"
`,
			wantErr: "const_hex",
		},
		{
			name: "descriptor without payload",
			yaml: `
device_name: x
services:
  - uuid: 181a
    characteristics:
      - uuid: 2a6e
        descriptors:
          - {}
`,
			wantErr: "one of user_description",
		},
		{
			name: "out of range advertising interval",
			yaml: `
device_name: x
advertising: {interval_min_ms: 5, interval_max_ms: 10}
`,
			wantErr: "advertising interval",
		},
		{
			name: "duplicate services",
			yaml: `
device_name: x
services:
  - uuid: 181a
  - uuid: 181a
`,
			wantErr: "duplicate service",
		},
		{
			name:    "malformed yaml",
			yaml:    "device_name: [unterminated",
			wantErr: "profile",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProfile([]byte(tt.yaml))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestProfileCharacteristicLookup(t *testing.T) {
	p, err := ParseProfile([]byte(sampleProfile))
	require.NoError(t, err)

	// Lookup normalizes, so the SIG long form finds the short-form entry.
	c := p.Characteristic("0000181A-0000-1000-8000-00805F9B34FB", "0x2A6E")
	require.NotNil(t, c)
	assert.Equal(t, "temperature", c.Name)

	// Handlers attach in place.
	c.OnRead = func() ([]byte, error) { return EncodeUint16(2150), nil }
	assert.True(t, p.Service("181a").Characteristics[0].IsDynamic())

	assert.Nil(t, p.Characteristic("9999", "2a6e"))
	assert.Nil(t, p.Characteristic("181a", "ffff"))
}
