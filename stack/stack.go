// Package stack abstracts the host BLE stack underneath the peripheral
// runtime. The runtime talks only to these interfaces; concrete backends
// (the Linux HCI adapter, the in-memory stack used by tests and the
// simulator) live in their own packages.
package stack

import (
	"context"

	"github.com/srg/blex/gatt"
)

// Subscription values delivered by the stack on a Client Characteristic
// Configuration write.
const (
	SubscribeNone         uint16 = 0x0000
	SubscribeNotification uint16 = 0x0001
	SubscribeIndication   uint16 = 0x0002
)

// Disconnect reasons surfaced to server events. Values follow the HCI error
// codes the host stacks report.
const (
	DisconnectReasonRemoteUser    = 0x13
	DisconnectReasonLocalHost     = 0x16
	DisconnectReasonConnTimeout   = 0x08
	DisconnectReasonMICFailure    = 0x3D
	DisconnectReasonFailEstablish = 0x3E
)

// ConnInfo identifies a connection in stack callbacks.
type ConnInfo interface {
	// ConnHandle is the stack's connection identifier, unique among live
	// connections.
	ConnHandle() uint16

	// PeerAddress is the peer's address in string form, for logs.
	PeerAddress() string

	// MTU is the negotiated ATT MTU for this connection.
	MTU() uint16
}

// CharacteristicEvents is the runtime-side target for a dynamic
// characteristic. The stack invokes these from its own context; a single
// characteristic's events are never invoked concurrently with each other.
type CharacteristicEvents interface {
	// OnRead produces the outgoing value for a peer read.
	OnRead(conn ConnInfo) ([]byte, error)

	// OnWrite delivers a peer write payload.
	OnWrite(conn ConnInfo, payload []byte) error

	// OnSubscribe delivers a CCC change. subValue is one of the Subscribe*
	// constants (or their OR when the peer enables both).
	OnSubscribe(conn ConnInfo, subValue uint16)

	// OnStatus delivers the completion code of a notify/indicate
	// transmission. Zero means delivered.
	OnStatus(conn ConnInfo, code int)
}

// Characteristic is a created characteristic attribute.
type Characteristic interface {
	UUID() gatt.UUID

	// SetValue replaces the attribute value visible to peer reads.
	SetValue(v []byte) error

	// Notify pushes the current value to subscribed peers. The stack picks
	// notification or indication per each subscriber's CCC state.
	Notify() error

	// AddDescriptor creates a descriptor under this characteristic with a
	// constant value.
	AddDescriptor(uuid gatt.UUID, props gatt.Property, value []byte) (Descriptor, error)
}

// Descriptor is a created descriptor attribute.
type Descriptor interface {
	UUID() gatt.UUID
	SetValue(v []byte) error
}

// Service is a created primary service. Characteristics are added before
// Start; after Start the service's attribute set is frozen.
type Service interface {
	UUID() gatt.UUID

	// AddCharacteristic creates a characteristic attribute. events may be
	// nil for constant characteristics.
	AddCharacteristic(uuid gatt.UUID, props gatt.Property, maxLen int, events CharacteristicEvents) (Characteristic, error)

	// Start publishes the service in the attribute table. Peer access to a
	// service that was added but not started is a stack-level error.
	Start() error
}

// ServerEvents receives connection-level callbacks.
type ServerEvents interface {
	OnConnect(conn ConnInfo)
	OnDisconnect(conn ConnInfo, reason int)
	OnMTUChanged(conn ConnInfo, mtu uint16)
}

// Server is the GATT server surface of the stack.
type Server interface {
	// AddService creates an empty primary service.
	AddService(uuid gatt.UUID) (Service, error)

	// SetEvents installs the connection event sink. Must be called before
	// advertising starts.
	SetEvents(events ServerEvents)

	// Disconnect drops the identified connection.
	Disconnect(connHandle uint16) error

	// UpdateConnParams requests new connection parameters for a live
	// connection. The peer may negotiate different values.
	UpdateConnParams(connHandle uint16, cfg gatt.ConnectionConfig) error

	// Connections returns the live connection handles.
	Connections() []uint16
}

// AdvertisementData is the assembled payload pair handed to the advertiser.
// The primary payload is what passive scanners see; the scan response is
// returned to active scanners only.
type AdvertisementData struct {
	// DeviceName goes to the scan response as the complete local name.
	DeviceName string

	// ShortName goes to the primary payload as the shortened local name.
	ShortName string

	// PrimaryServiceUUIDs are advertised in the primary payload.
	PrimaryServiceUUIDs []gatt.UUID

	// ScanRspServiceUUIDs are advertised in the scan response.
	ScanRspServiceUUIDs []gatt.UUID

	Appearance gatt.Appearance
	Flags      uint8
}

// Advertiser controls advertising for one server.
type Advertiser interface {
	// SetData installs the payload pair. May be called while advertising is
	// stopped or between Stop/Start cycles.
	SetData(data AdvertisementData) error

	// SetInterval sets the advertising interval window in milliseconds.
	SetInterval(minMs, maxMs uint16) error

	// Start begins advertising. Calling Start while advertising is a no-op.
	Start(ctx context.Context) error

	// Stop halts advertising. Existing connections are unaffected.
	Stop() error

	// Advertising reports whether advertising is currently running.
	Advertising() bool
}

// Stack is one host BLE controller.
type Stack interface {
	// Init brings the controller up. Must be called exactly once before any
	// other method.
	Init(ctx context.Context) error

	// Close shuts the controller down.
	Close() error

	// SetMTU declares the preferred ATT MTU for future connections.
	SetMTU(mtu uint16) error

	// SetTxPower sets the radio transmit power in dBm, best effort.
	SetTxPower(dbm int8) error

	// SetSecurity installs pairing parameters.
	SetSecurity(cfg gatt.SecurityConfig) error

	// CreateServer returns the stack's GATT server.
	CreateServer() (Server, error)

	// Advertiser returns the advertising controller.
	Advertiser() (Advertiser, error)

	// MaxConnections reports the controller's concurrent connection limit.
	MaxConnections() int
}
