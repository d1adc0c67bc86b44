package gatt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected UUID
	}{
		{
			name:     "short form already normalized",
			input:    "2a37",
			expected: "2a37",
		},
		{
			name:     "uppercase short form",
			input:    "2A37",
			expected: "2a37",
		},
		{
			name:     "0x prefix",
			input:    "0x2902",
			expected: "2902",
		},
		{
			name:     "SIG base 128-bit collapses to 16-bit",
			input:    "0000180A-0000-1000-8000-00805F9B34FB",
			expected: "180a",
		},
		{
			name:     "custom 128-bit keeps full form",
			input:    "6E400001-B5A3-F393-E0A9-E50E24DCCA9E",
			expected: "6e400001b5a3f393e0a9e50e24dcca9e",
		},
		{
			name:     "surrounding whitespace",
			input:    "  180a ",
			expected: "180a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestUUIDValid(t *testing.T) {
	tests := []struct {
		name  string
		uuid  UUID
		valid bool
	}{
		{"16-bit", "2a37", true},
		{"32-bit", "0000180a", true},
		{"128-bit", "6e400001b5a3f393e0a9e50e24dcca9e", true},
		{"empty", "", false},
		{"wrong length", "2a3", false},
		{"non-hex", "2g37", false},
		{"uppercase rejected, normalization required first", "2A37", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.uuid.Valid())
		})
	}
}

func TestUUID16(t *testing.T) {
	assert.Equal(t, UUID("2a37"), UUID16(0x2A37))
	assert.Equal(t, UUID("0050"), UUID16(0x0050))
}

func TestUUIDShort(t *testing.T) {
	assert.Equal(t, "2a37", UUID("2a37").Short())
	assert.Equal(t, "6e400001", UUID("6e400001b5a3f393e0a9e50e24dcca9e").Short())
}

func TestValidateUUIDs(t *testing.T) {
	t.Run("normalizes all inputs", func(t *testing.T) {
		got, err := ValidateUUIDs("0x180A", "2a37")
		require.NoError(t, err)
		assert.Equal(t, []UUID{"180a", "2a37"}, got)
	})

	t.Run("rejects empty list", func(t *testing.T) {
		_, err := ValidateUUIDs()
		assert.Error(t, err)
	})

	t.Run("rejects empty element", func(t *testing.T) {
		_, err := ValidateUUIDs("180a", "")
		assert.ErrorContains(t, err, "index 1")
	})

	t.Run("rejects malformed element", func(t *testing.T) {
		_, err := ValidateUUIDs("not-a-uuid")
		assert.ErrorContains(t, err, "invalid UUID")
	})
}
