package gatt

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is a declarative peripheral description loaded from YAML: device
// identity, radio/connection/security defaults, and the GATT service tree.
// Dynamic behavior (read/write/subscribe handlers) cannot come from YAML;
// after loading, code looks up characteristics with Characteristic and
// attaches handlers before the profile is registered.
type Profile struct {
	DeviceName string
	ShortName  string

	Advertising AdvertisingConfig
	Connection  ConnectionConfig
	Security    SecurityConfig

	Services []ServiceDescription
}

// Service returns the service with the given UUID, or nil.
func (p *Profile) Service(uuid UUID) *ServiceDescription {
	u := NormalizeUUID(string(uuid))
	for i := range p.Services {
		if p.Services[i].UUID == u {
			return &p.Services[i]
		}
	}
	return nil
}

// Characteristic returns the characteristic for handler attachment, or nil.
func (p *Profile) Characteristic(service, char UUID) *CharacteristicDescription {
	s := p.Service(service)
	if s == nil {
		return nil
	}
	c := NormalizeUUID(string(char))
	for i := range s.Characteristics {
		if s.Characteristics[i].UUID == c {
			return &s.Characteristics[i]
		}
	}
	return nil
}

// Validate runs the consistency pass over every service.
func (p *Profile) Validate() error {
	if p.DeviceName == "" {
		return fmt.Errorf("profile: device_name is required")
	}
	if err := p.Advertising.Validate(); err != nil {
		return fmt.Errorf("profile: advertising: %w", err)
	}
	if err := p.Connection.Validate(); err != nil {
		return fmt.Errorf("profile: connection: %w", err)
	}
	if err := p.Security.Validate(); err != nil {
		return fmt.Errorf("profile: security: %w", err)
	}
	seen := make(map[UUID]bool, len(p.Services))
	for i := range p.Services {
		s := &p.Services[i]
		if err := s.Validate(); err != nil {
			return fmt.Errorf("profile: %w", err)
		}
		if seen[s.UUID] {
			return fmt.Errorf("profile: duplicate service %s", s.UUID.Short())
		}
		seen[s.UUID] = true
	}
	return nil
}

// YAML document shapes. These stay private: the public model is Profile.

type profileDoc struct {
	DeviceName  string            `yaml:"device_name"`
	ShortName   string            `yaml:"short_name"`
	Advertising AdvertisingConfig `yaml:"advertising"`
	Connection  ConnectionConfig  `yaml:"connection"`
	Security    SecurityConfig    `yaml:"security"`
	Services    []serviceDoc      `yaml:"services"`
}

type serviceDoc struct {
	UUID            string    `yaml:"uuid"`
	Name            string    `yaml:"name"`
	Advertise       string    `yaml:"advertise"`
	Characteristics []charDoc `yaml:"characteristics"`
}

type charDoc struct {
	UUID        string        `yaml:"uuid"`
	Name        string        `yaml:"name"`
	Value       valueDoc      `yaml:"value"`
	Permissions PermissionSet `yaml:"permissions"`
	ConstString string        `yaml:"const_string"`
	ConstHex    string        `yaml:"const_hex"`
	Descriptors []descDoc     `yaml:"descriptors"`
}

type valueDoc struct {
	Kind  string `yaml:"kind"`
	Count int    `yaml:"count"`
	Size  int    `yaml:"size"`
}

type descDoc struct {
	UserDescription string              `yaml:"user_description"`
	Presentation    *PresentationFormat `yaml:"presentation"`
	Aggregate       []int               `yaml:"aggregate"`
}

// ParseProfile decodes a YAML profile document and validates it.
func ParseProfile(data []byte) (*Profile, error) {
	doc := profileDoc{
		Advertising: DefaultAdvertisingConfig(),
		Connection:  DefaultConnectionConfig(),
		Security:    DefaultSecurityConfig(),
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}

	p := &Profile{
		DeviceName:  doc.DeviceName,
		ShortName:   doc.ShortName,
		Advertising: doc.Advertising,
		Connection:  doc.Connection,
		Security:    doc.Security,
	}
	for _, sd := range doc.Services {
		svc, err := sd.toDescription()
		if err != nil {
			return nil, fmt.Errorf("profile: %w", err)
		}
		p.Services = append(p.Services, svc)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadProfile reads and parses a YAML profile file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	return ParseProfile(data)
}

func (sd serviceDoc) toDescription() (ServiceDescription, error) {
	svc := ServiceDescription{
		UUID: NormalizeUUID(sd.UUID),
		Name: sd.Name,
	}
	if sd.Advertise != "" {
		mode, err := ParseAdvertiseMode(sd.Advertise)
		if err != nil {
			return ServiceDescription{}, fmt.Errorf("service %q: %w", sd.UUID, err)
		}
		svc.Advertise = mode
	}
	for _, cd := range sd.Characteristics {
		c, err := cd.toDescription()
		if err != nil {
			return ServiceDescription{}, fmt.Errorf("service %q: %w", sd.UUID, err)
		}
		svc.Characteristics = append(svc.Characteristics, c)
	}
	return svc, nil
}

func (cd charDoc) toDescription() (CharacteristicDescription, error) {
	c := CharacteristicDescription{
		UUID:        NormalizeUUID(cd.UUID),
		Name:        cd.Name,
		Permissions: cd.Permissions.normalized(),
	}

	if cd.Value.Kind != "" {
		kind, err := ParseValueKind(cd.Value.Kind)
		if err != nil {
			return CharacteristicDescription{}, fmt.Errorf("characteristic %q: %w", cd.UUID, err)
		}
		c.Value = ValueSpec{Kind: kind, Count: cd.Value.Count, Size: cd.Value.Size}
	}

	switch {
	case cd.ConstString != "" && cd.ConstHex != "":
		return CharacteristicDescription{}, fmt.Errorf("characteristic %q: const_string and const_hex are mutually exclusive", cd.UUID)
	case cd.ConstString != "":
		c.Const = []byte(cd.ConstString)
		if cd.Value.Kind == "" {
			c.Value = ValueSpec{Kind: KindString, Size: len(cd.ConstString)}
		}
	case cd.ConstHex != "":
		raw, err := hex.DecodeString(cd.ConstHex)
		if err != nil {
			return CharacteristicDescription{}, fmt.Errorf("characteristic %q: const_hex: %w", cd.UUID, err)
		}
		c.Const = raw
		if cd.Value.Kind == "" {
			c.Value = ValueSpec{Kind: KindBytes, Size: len(raw)}
		}
	}

	for _, dd := range cd.Descriptors {
		d, err := dd.toDescription()
		if err != nil {
			return CharacteristicDescription{}, fmt.Errorf("characteristic %q: %w", cd.UUID, err)
		}
		c.Descriptors = append(c.Descriptors, d)
	}
	return c, nil
}

func (dd descDoc) toDescription() (DescriptorDescription, error) {
	switch {
	case dd.UserDescription != "":
		return UserDescription(dd.UserDescription), nil
	case dd.Presentation != nil:
		return PresentationDescriptor(*dd.Presentation), nil
	case dd.Aggregate != nil:
		return AggregateDescriptor(dd.Aggregate...), nil
	default:
		return DescriptorDescription{}, fmt.Errorf("descriptor: one of user_description, presentation, aggregate is required")
	}
}
