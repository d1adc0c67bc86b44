// Package gatt defines the data model of the peripheral framework: UUIDs,
// permissions, characteristic/descriptor/service descriptions, value layout,
// and the advertising/connection/security configuration with their legal
// ranges. Descriptions are built once at startup, validated in a dedicated
// pass, and never mutated afterwards.
package gatt

import (
	"fmt"
	"strings"
)

// UUID is a normalized GATT identifier: lowercase hex, no dashes. Short
// Bluetooth SIG identifiers keep their 16-bit form ("2a37"), everything else
// is the full 128-bit form.
type UUID string

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID
// 0000xxxx-0000-1000-8000-00805f9b34fb in normalized form.
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal format (lowercase, no
// dashes). A 0x prefix is stripped ("0x2902" -> "2902") and full 128-bit UUIDs
// in the SIG base format collapse to their 16-bit short form.
func NormalizeUUID(s string) UUID {
	n := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", ""))
	n = strings.TrimPrefix(n, "0x")
	if len(n) == 32 && strings.HasPrefix(n, "0000") && strings.HasSuffix(n, sigBaseSuffix) {
		return UUID(n[4:8])
	}
	return UUID(n)
}

// UUID16 builds a UUID from a 16-bit SIG-assigned number.
func UUID16(v uint16) UUID {
	return UUID(fmt.Sprintf("%04x", v))
}

// String returns the normalized form.
func (u UUID) String() string { return string(u) }

// Is16Bit reports whether the UUID is a 16-bit SIG short form.
func (u UUID) Is16Bit() bool { return len(u) == 4 }

// Short returns a truncated form for display: the first eight characters for
// 128-bit UUIDs, short UUIDs unchanged.
func (u UUID) Short() string {
	if len(u) > 8 {
		return string(u[:8])
	}
	return string(u)
}

// Valid reports whether the UUID is 16-bit (4 hex digits), 32-bit (8) or
// 128-bit (32) hex.
func (u UUID) Valid() bool {
	switch len(u) {
	case 4, 8, 32:
	default:
		return false
	}
	for _, c := range u {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ValidateUUIDs normalizes and validates one or more UUID strings.
func ValidateUUIDs(uuids ...string) ([]UUID, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}
	out := make([]UUID, 0, len(uuids))
	for i, s := range uuids {
		if s == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		n := NormalizeUUID(s)
		if !n.Valid() {
			return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, s)
		}
		out = append(out, n)
	}
	return out, nil
}

// Standard descriptor UUIDs.
const (
	UUIDUserDescription    UUID = "2901" // Characteristic User Description
	UUIDClientCharConfig   UUID = "2902" // Client Characteristic Configuration (owned by the stack)
	UUIDPresentationFormat UUID = "2904" // Characteristic Presentation Format
	UUIDAggregateFormat    UUID = "2905" // Characteristic Aggregate Format
)

// Standard Device Information Service characteristic UUIDs.
const (
	UUIDDeviceInformation UUID = "180a"
	UUIDModelNumber       UUID = "2a24"
	UUIDSerialNumber      UUID = "2a25"
	UUIDFirmwareRevision  UUID = "2a26"
	UUIDHardwareRevision  UUID = "2a27"
	UUIDSoftwareRevision  UUID = "2a28"
	UUIDManufacturerName  UUID = "2a29"
)
