package gatt

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Characteristic values travel as a fixed-size binary layout matching the
// declared value's native memory representation, little-endian, no length
// prefix. String values are raw UTF-8 bytes whose length is taken from the
// attribute's reported length.

// ValueKind identifies the declared representation of a characteristic or
// descriptor value.
type ValueKind int

const (
	KindBytes ValueKind = iota // opaque bytes, variable length
	KindString                 // raw UTF-8, variable length
	KindUint8
	KindUint16
	KindUint32
	KindInt8
	KindInt16
	KindInt32
	KindFloat32
	KindFloat64
	KindFloat32Array // Count elements of 32-bit IEEE-754
	KindRecord       // packed multi-field record of Size bytes
)

var kindNames = map[ValueKind]string{
	KindBytes:        "bytes",
	KindString:       "string",
	KindUint8:        "uint8",
	KindUint16:       "uint16",
	KindUint32:       "uint32",
	KindInt8:         "int8",
	KindInt16:        "int16",
	KindInt32:        "int32",
	KindFloat32:      "float32",
	KindFloat64:      "float64",
	KindFloat32Array: "float32_array",
	KindRecord:       "record",
}

func (k ValueKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseValueKind maps a profile string to a ValueKind.
func ParseValueKind(s string) (ValueKind, error) {
	for k, n := range kindNames {
		if n == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown value kind %q", s)
}

// ValueSpec declares the type and size of a value. It is immutable after
// build time.
type ValueSpec struct {
	Kind  ValueKind
	Count int // element count, Float32Array only
	Size  int // byte size for Record; max length hint for Bytes/String
}

// Float32Array builds the spec for an n-element float32 stream value.
func Float32Array(n int) ValueSpec { return ValueSpec{Kind: KindFloat32Array, Count: n} }

// Record builds the spec for a packed record of size bytes.
func Record(size int) ValueSpec { return ValueSpec{Kind: KindRecord, Size: size} }

// Scalar builds the spec for a scalar kind.
func Scalar(k ValueKind) ValueSpec { return ValueSpec{Kind: k} }

// ByteSize returns the declared fixed size in bytes, or 0 for variable-length
// kinds (bytes, string).
func (s ValueSpec) ByteSize() int {
	switch s.Kind {
	case KindUint8, KindInt8:
		return 1
	case KindUint16, KindInt16:
		return 2
	case KindUint32, KindInt32, KindFloat32:
		return 4
	case KindFloat64:
		return 8
	case KindFloat32Array:
		return 4 * s.Count
	case KindRecord:
		return s.Size
	default:
		return 0
	}
}

// Fixed reports whether the spec has a declared fixed size.
func (s ValueSpec) Fixed() bool { return s.ByteSize() > 0 }

// MaxLen returns the attribute storage size to reserve for this value.
func (s ValueSpec) MaxLen() int {
	if n := s.ByteSize(); n > 0 {
		return n
	}
	if s.Size > 0 {
		return s.Size
	}
	return defaultAttrLen
}

const defaultAttrLen = 512 // ATT maximum attribute value length

// CheckSize verifies an outgoing value against the declared size. Pushing a
// value of the wrong size is a configuration error, reported to the caller.
func (s ValueSpec) CheckSize(v []byte) error {
	if n := s.ByteSize(); n > 0 && len(v) != n {
		return fmt.Errorf("value size %d does not match declared %s size %d", len(v), s.Kind, n)
	}
	return nil
}

// Value is a decoded characteristic value: the raw wire bytes plus the spec
// they were decoded against. Accessors interpret the bytes; they do not copy.
type Value struct {
	Spec ValueSpec
	raw  []byte
}

// Decode interprets an incoming payload against the declared spec. A payload
// shorter than the declared fixed size is rejected; callers treat that as a
// protocol violation. A longer payload is truncated to the declared size.
func Decode(spec ValueSpec, payload []byte) (Value, error) {
	if n := spec.ByteSize(); n > 0 {
		if len(payload) < n {
			return Value{}, fmt.Errorf("payload %d bytes, declared %s size %d", len(payload), spec.Kind, n)
		}
		payload = payload[:n]
	}
	return Value{Spec: spec, raw: payload}, nil
}

// NewValue wraps already-validated bytes.
func NewValue(spec ValueSpec, raw []byte) Value { return Value{Spec: spec, raw: raw} }

// Bytes returns the raw wire bytes.
func (v Value) Bytes() []byte { return v.raw }

// Len returns the wire length.
func (v Value) Len() int { return len(v.raw) }

// String interprets the value as raw UTF-8 text.
func (v Value) String() string { return string(v.raw) }

// Uint8 interprets the first byte.
func (v Value) Uint8() uint8 { return v.raw[0] }

// Uint16 interprets the leading bytes as little-endian uint16.
func (v Value) Uint16() uint16 { return binary.LittleEndian.Uint16(v.raw) }

// Uint32 interprets the leading bytes as little-endian uint32.
func (v Value) Uint32() uint32 { return binary.LittleEndian.Uint32(v.raw) }

// Int8 interprets the first byte as signed.
func (v Value) Int8() int8 { return int8(v.raw[0]) }

// Int16 interprets the leading bytes as little-endian int16.
func (v Value) Int16() int16 { return int16(binary.LittleEndian.Uint16(v.raw)) }

// Int32 interprets the leading bytes as little-endian int32.
func (v Value) Int32() int32 { return int32(binary.LittleEndian.Uint32(v.raw)) }

// Float32 interprets the leading bytes as IEEE-754 32-bit.
func (v Value) Float32() float32 { return math.Float32frombits(binary.LittleEndian.Uint32(v.raw)) }

// Float64 interprets the leading bytes as IEEE-754 64-bit.
func (v Value) Float64() float64 { return math.Float64frombits(binary.LittleEndian.Uint64(v.raw)) }

// Float32s decodes the value as a little-endian float32 array.
func (v Value) Float32s() []float32 {
	out := make([]float32, len(v.raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(v.raw[i*4:]))
	}
	return out
}

// Encoding helpers for application pushes.

// EncodeUint8 encodes a uint8 value.
func EncodeUint8(v uint8) []byte { return []byte{v} }

// EncodeUint16 encodes a little-endian uint16.
func EncodeUint16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

// EncodeUint32 encodes a little-endian uint32.
func EncodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// EncodeFloat32 encodes a little-endian IEEE-754 32-bit float.
func EncodeFloat32(v float32) []byte {
	return EncodeUint32(math.Float32bits(v))
}

// EncodeFloat64 encodes a little-endian IEEE-754 64-bit float.
func EncodeFloat64(v float64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	return b
}

// EncodeFloat32s packs a float32 slice in little-endian order.
func EncodeFloat32s(vs []float32) []byte {
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}
