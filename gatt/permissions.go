package gatt

import "strings"

// Permission is a single permission atom: one capability plus the security
// floor it demands. Atoms are combined into a PermissionSet; combining takes
// the logical OR of capabilities and of security flags, so the most
// restrictive requirement wins.
type Permission struct {
	CanRead     bool
	CanWrite    bool
	CanNotify   bool
	CanIndicate bool

	RequireEncryption     bool
	RequireAuthentication bool
	RequireAuthorization  bool
}

// Basic permission atoms.
var (
	Readable    = Permission{CanRead: true}
	Writable    = Permission{CanWrite: true}
	Notifiable  = Permission{CanNotify: true}
	Indicatable = Permission{CanIndicate: true}
)

// Security-qualified permission atoms. Authorization implies authentication,
// which implies encryption.
var (
	ReadEncrypted      = Permission{CanRead: true, RequireEncryption: true}
	WriteEncrypted     = Permission{CanWrite: true, RequireEncryption: true}
	ReadAuthenticated  = Permission{CanRead: true, RequireEncryption: true, RequireAuthentication: true}
	WriteAuthenticated = Permission{CanWrite: true, RequireEncryption: true, RequireAuthentication: true}
	ReadAuthorized     = Permission{CanRead: true, RequireEncryption: true, RequireAuthentication: true, RequireAuthorization: true}
	WriteAuthorized    = Permission{CanWrite: true, RequireEncryption: true, RequireAuthentication: true, RequireAuthorization: true}
)

// PermissionSet is the effective permission of a characteristic or
// descriptor, aggregated from its atoms.
//
// The set only declares requirements. Whether a given connection's negotiated
// security level satisfies them at access time is enforced by the host BLE
// stack, not by this core.
type PermissionSet struct {
	CanRead     bool `yaml:"read"`
	CanWrite    bool `yaml:"write"`
	CanNotify   bool `yaml:"notify"`
	CanIndicate bool `yaml:"indicate"`

	RequireEncryption     bool `yaml:"require_encryption"`
	RequireAuthentication bool `yaml:"require_authentication"`
	RequireAuthorization  bool `yaml:"require_authorization"`
}

// Combine aggregates permission atoms into an effective PermissionSet.
// Capabilities and security requirements OR together, and the implication
// chain authorization -> authentication -> encryption is applied so the
// resulting set is always internally consistent.
func Combine(atoms ...Permission) PermissionSet {
	var s PermissionSet
	for _, a := range atoms {
		s.CanRead = s.CanRead || a.CanRead
		s.CanWrite = s.CanWrite || a.CanWrite
		s.CanNotify = s.CanNotify || a.CanNotify
		s.CanIndicate = s.CanIndicate || a.CanIndicate
		s.RequireEncryption = s.RequireEncryption || a.RequireEncryption
		s.RequireAuthentication = s.RequireAuthentication || a.RequireAuthentication
		s.RequireAuthorization = s.RequireAuthorization || a.RequireAuthorization
	}
	return s.normalized()
}

// normalized applies the security implication chain.
func (s PermissionSet) normalized() PermissionSet {
	if s.RequireAuthorization {
		s.RequireAuthentication = true
	}
	if s.RequireAuthentication {
		s.RequireEncryption = true
	}
	return s
}

// CanSubscribe reports whether the set supports notifications or indications.
func (s PermissionSet) CanSubscribe() bool {
	return s.CanNotify || s.CanIndicate
}

func (s PermissionSet) String() string {
	var parts []string
	if s.CanRead {
		parts = append(parts, "read")
	}
	if s.CanWrite {
		parts = append(parts, "write")
	}
	if s.CanNotify {
		parts = append(parts, "notify")
	}
	if s.CanIndicate {
		parts = append(parts, "indicate")
	}
	switch {
	case s.RequireAuthorization:
		parts = append(parts, "authorized")
	case s.RequireAuthentication:
		parts = append(parts, "authenticated")
	case s.RequireEncryption:
		parts = append(parts, "encrypted")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// Property is the attribute property bitmask handed to the host stack when a
// characteristic or descriptor is created. Read and write are each
// independently gated by the strongest applicable security requirement;
// notify and indicate have no security variant.
type Property uint16

const (
	PropertyRead Property = 1 << iota
	PropertyWrite
	PropertyNotify
	PropertyIndicate
	PropertyReadEncrypted
	PropertyReadAuthenticated
	PropertyReadAuthorized
	PropertyWriteEncrypted
	PropertyWriteAuthenticated
	PropertyWriteAuthorized
)

// Read reports whether the mask permits reads.
func (p Property) Read() bool { return p&PropertyRead != 0 }

// Write reports whether the mask permits writes.
func (p Property) Write() bool { return p&PropertyWrite != 0 }

// Notify reports whether the mask permits notification subscriptions.
func (p Property) Notify() bool { return p&PropertyNotify != 0 }

// Indicate reports whether the mask permits indication subscriptions.
func (p Property) Indicate() bool { return p&PropertyIndicate != 0 }

// Properties computes the attribute property bitmask for the set.
func (s PermissionSet) Properties() Property {
	s = s.normalized()

	var p Property
	if s.CanRead {
		p |= PropertyRead
		switch {
		case s.RequireAuthorization:
			p |= PropertyReadEncrypted | PropertyReadAuthenticated | PropertyReadAuthorized
		case s.RequireAuthentication:
			p |= PropertyReadEncrypted | PropertyReadAuthenticated
		case s.RequireEncryption:
			p |= PropertyReadEncrypted
		}
	}
	if s.CanWrite {
		p |= PropertyWrite
		switch {
		case s.RequireAuthorization:
			p |= PropertyWriteEncrypted | PropertyWriteAuthenticated | PropertyWriteAuthorized
		case s.RequireAuthentication:
			p |= PropertyWriteEncrypted | PropertyWriteAuthenticated
		case s.RequireEncryption:
			p |= PropertyWriteEncrypted
		}
	}
	if s.CanNotify {
		p |= PropertyNotify
	}
	if s.CanIndicate {
		p |= PropertyIndicate
	}
	return p
}
