package gatt

import "fmt"

// Handler signatures for dynamic characteristics. The framework provides no
// locking around user handlers themselves: concurrent safety of
// handler-visible side effects is the handler author's responsibility.

// ReadHandler produces a fresh value when no cached one can be served. The
// returned bytes must match the characteristic's declared size.
type ReadHandler func() ([]byte, error)

// WriteHandler receives a peer write, already decoded against the declared
// value spec.
type WriteHandler func(v Value)

// StatusHandler receives the stack's raw completion code for a notify or
// indicate transmission.
type StatusHandler func(code int)

// SubscribeHandler receives the raw subscription value delivered by the
// stack: 0 for unsubscribe, non-zero for notifications/indications enabled.
type SubscribeHandler func(subValue uint16)

// AdvertiseStartHook runs when advertising for the service's server starts.
type AdvertiseStartHook func()

// DescriptorDescription describes one descriptor attached to a
// characteristic. Exactly one of the optional payload fields is used:
// Value for constant descriptors, Presentation for 0x2904, Aggregate for
// 0x2905 (indices of sibling Presentation descriptors).
type DescriptorDescription struct {
	UUID        UUID
	Permissions PermissionSet
	Value       []byte
	MaxLen      int

	Presentation *PresentationFormat
	Aggregate    []int
}

// UserDescription builds a constant 0x2901 user-description descriptor.
func UserDescription(text string) DescriptorDescription {
	return DescriptorDescription{
		UUID:        UUIDUserDescription,
		Permissions: Combine(Readable),
		Value:       []byte(text),
		MaxLen:      len(text),
	}
}

// PresentationDescriptor builds a 0x2904 presentation-format descriptor.
func PresentationDescriptor(f PresentationFormat) DescriptorDescription {
	return DescriptorDescription{
		UUID:         UUIDPresentationFormat,
		Permissions:  Combine(Readable),
		Presentation: &f,
	}
}

// AggregateDescriptor builds a 0x2905 aggregate-format descriptor referencing
// sibling descriptors by index.
func AggregateDescriptor(memberIndices ...int) DescriptorDescription {
	return DescriptorDescription{
		UUID:        UUIDAggregateFormat,
		Permissions: Combine(Readable),
		Aggregate:   memberIndices,
	}
}

// CharacteristicDescription describes one characteristic: identity, value
// layout, effective permissions, optional handlers, and descriptors in
// declaration order. Immutable after build time.
type CharacteristicDescription struct {
	UUID        UUID
	Name        string // optional, for logs only
	Value       ValueSpec
	Permissions PermissionSet

	// Const makes the characteristic a fixed value written once at creation
	// and never again. A const characteristic has no handlers.
	Const []byte

	OnRead      ReadHandler
	OnWrite     WriteHandler
	OnStatus    StatusHandler
	OnSubscribe SubscribeHandler

	Descriptors []DescriptorDescription
}

// IsConst reports whether the characteristic carries a fixed build-time value.
func (c *CharacteristicDescription) IsConst() bool { return c.Const != nil }

// IsDynamic reports whether the characteristic needs a runtime event target.
func (c *CharacteristicDescription) IsDynamic() bool {
	return c.OnRead != nil || c.OnWrite != nil || c.OnStatus != nil || c.OnSubscribe != nil
}

// ConstCharacteristic builds a read-only characteristic with a fixed value.
func ConstCharacteristic(uuid UUID, value []byte) CharacteristicDescription {
	return CharacteristicDescription{
		UUID:        uuid,
		Value:       ValueSpec{Kind: KindBytes, Size: len(value)},
		Permissions: Combine(Readable),
		Const:       value,
	}
}

// ConstString builds a read-only string characteristic (model number, serial
// number, firmware revision and friends).
func ConstString(uuid UUID, value string) CharacteristicDescription {
	return CharacteristicDescription{
		UUID:        uuid,
		Value:       ValueSpec{Kind: KindString, Size: len(value)},
		Permissions: Combine(Readable),
		Const:       []byte(value),
	}
}

// AdvertiseMode tags a service's advertising visibility.
type AdvertiseMode int

const (
	// AdvertiseNone keeps the service out of both payloads.
	AdvertiseNone AdvertiseMode = iota

	// AdvertisePassive puts the service UUID in the primary advertising
	// payload.
	AdvertisePassive

	// AdvertiseActive puts the service UUID in the scan-response payload.
	AdvertiseActive

	// AdvertiseBoth puts the service UUID in both payloads.
	AdvertiseBoth
)

var advertiseModeNames = map[AdvertiseMode]string{
	AdvertiseNone:    "none",
	AdvertisePassive: "passive",
	AdvertiseActive:  "active",
	AdvertiseBoth:    "both",
}

func (m AdvertiseMode) String() string {
	if n, ok := advertiseModeNames[m]; ok {
		return n
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseAdvertiseMode maps a profile string to an AdvertiseMode.
func ParseAdvertiseMode(s string) (AdvertiseMode, error) {
	for m, n := range advertiseModeNames {
		if n == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown advertise mode %q", s)
}

// Passive reports whether the mode includes the primary payload.
func (m AdvertiseMode) Passive() bool { return m == AdvertisePassive || m == AdvertiseBoth }

// Active reports whether the mode includes the scan-response payload.
func (m AdvertiseMode) Active() bool { return m == AdvertiseActive || m == AdvertiseBoth }

// ServiceDescription describes one service and its characteristics in
// declaration order. Immutable after build time.
type ServiceDescription struct {
	UUID            UUID
	Name            string // optional, for logs only
	Advertise       AdvertiseMode
	Characteristics []CharacteristicDescription

	// OnAdvertiseStart runs once when advertising first starts for the
	// server carrying this service.
	OnAdvertiseStart AdvertiseStartHook
}

// Validate runs the service's consistency pass. It is called by the
// registrar after the service's characteristics are created and before the
// service is marked startable.
func (s *ServiceDescription) Validate() error {
	if !s.UUID.Valid() {
		return fmt.Errorf("service %q: invalid UUID", s.UUID)
	}
	seen := make(map[UUID]bool, len(s.Characteristics))
	for i := range s.Characteristics {
		c := &s.Characteristics[i]
		if err := c.validate(); err != nil {
			return fmt.Errorf("service %s: %w", s.UUID.Short(), err)
		}
		if seen[c.UUID] {
			return fmt.Errorf("service %s: duplicate characteristic %s", s.UUID.Short(), c.UUID.Short())
		}
		seen[c.UUID] = true
	}
	return nil
}

func (c *CharacteristicDescription) validate() error {
	if !c.UUID.Valid() {
		return fmt.Errorf("characteristic %q: invalid UUID", c.UUID)
	}
	if c.IsConst() && c.IsDynamic() {
		return fmt.Errorf("characteristic %s: const value and handlers are mutually exclusive", c.UUID.Short())
	}
	if c.OnRead != nil && !c.Permissions.CanRead {
		return fmt.Errorf("characteristic %s: OnRead requires read permission", c.UUID.Short())
	}
	if c.OnWrite != nil && !c.Permissions.CanWrite {
		return fmt.Errorf("characteristic %s: OnWrite requires write permission", c.UUID.Short())
	}
	if c.OnSubscribe != nil && !c.Permissions.CanSubscribe() {
		return fmt.Errorf("characteristic %s: OnSubscribe requires notify or indicate permission", c.UUID.Short())
	}
	for di, d := range c.Descriptors {
		if !d.UUID.Valid() {
			return fmt.Errorf("characteristic %s: descriptor %d: invalid UUID %q", c.UUID.Short(), di, d.UUID)
		}
		// An aggregate format may only reference sibling presentation-format
		// descriptors.
		if d.Aggregate != nil {
			if len(d.Aggregate) == 0 {
				return fmt.Errorf("characteristic %s: aggregate format requires at least one member", c.UUID.Short())
			}
			for _, idx := range d.Aggregate {
				if idx < 0 || idx >= len(c.Descriptors) {
					return fmt.Errorf("characteristic %s: aggregate member %d out of range", c.UUID.Short(), idx)
				}
				if c.Descriptors[idx].Presentation == nil {
					return fmt.Errorf("characteristic %s: aggregate member %d is not a presentation format", c.UUID.Short(), idx)
				}
			}
		}
	}
	return nil
}
