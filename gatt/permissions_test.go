package gatt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCombine(t *testing.T) {
	tests := []struct {
		name     string
		atoms    []Permission
		expected PermissionSet
	}{
		{
			name:     "single atom",
			atoms:    []Permission{Readable},
			expected: PermissionSet{CanRead: true},
		},
		{
			name:  "capabilities aggregate with strongest security",
			atoms: []Permission{ReadEncrypted, Writable, Notifiable},
			expected: PermissionSet{
				CanRead: true, CanWrite: true, CanNotify: true,
				RequireEncryption: true,
			},
		},
		{
			name:  "authentication implies encryption",
			atoms: []Permission{ReadAuthenticated},
			expected: PermissionSet{
				CanRead:           true,
				RequireEncryption: true, RequireAuthentication: true,
			},
		},
		{
			name:  "authorization implies the full chain",
			atoms: []Permission{WriteAuthorized, Indicatable},
			expected: PermissionSet{
				CanWrite: true, CanIndicate: true,
				RequireEncryption: true, RequireAuthentication: true, RequireAuthorization: true,
			},
		},
		{
			name:     "no atoms yields empty set",
			atoms:    nil,
			expected: PermissionSet{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Combine(tt.atoms...))
		})
	}
}

func TestCombineOrderIndependent(t *testing.T) {
	a := Combine(ReadEncrypted, Writable, Notifiable)
	b := Combine(Notifiable, ReadEncrypted, Writable)
	assert.Equal(t, a, b)
}

func TestNormalizedImplicationChain(t *testing.T) {
	// A set declared directly (profile YAML) gets the same implication chain
	// as one built from atoms.
	s := PermissionSet{CanRead: true, RequireAuthorization: true}.normalized()
	assert.True(t, s.RequireAuthentication)
	assert.True(t, s.RequireEncryption)
}

func TestCanSubscribe(t *testing.T) {
	assert.False(t, Combine(Readable, Writable).CanSubscribe())
	assert.True(t, Combine(Notifiable).CanSubscribe())
	assert.True(t, Combine(Indicatable).CanSubscribe())
}

func TestPermissionSetString(t *testing.T) {
	assert.Equal(t, "none", PermissionSet{}.String())
	assert.Equal(t, "read,notify,encrypted", Combine(ReadEncrypted, Notifiable).String())
	assert.Equal(t, "write,authorized", Combine(WriteAuthorized).String())
}

func TestProperties(t *testing.T) {
	tests := []struct {
		name     string
		set      PermissionSet
		expected Property
	}{
		{
			name:     "plain read",
			set:      Combine(Readable),
			expected: PropertyRead,
		},
		{
			name:     "encrypted read",
			set:      Combine(ReadEncrypted),
			expected: PropertyRead | PropertyReadEncrypted,
		},
		{
			name:     "authenticated read carries encryption",
			set:      Combine(ReadAuthenticated),
			expected: PropertyRead | PropertyReadEncrypted | PropertyReadAuthenticated,
		},
		{
			name: "mixed read and write security",
			set:  Combine(Readable, WriteAuthenticated, Notifiable),
			expected: PropertyRead | PropertyReadEncrypted | PropertyReadAuthenticated |
				PropertyWrite | PropertyWriteEncrypted | PropertyWriteAuthenticated |
				PropertyNotify,
		},
		{
			name:     "indicate only",
			set:      Combine(Indicatable),
			expected: PropertyIndicate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.set.Properties())
		})
	}
}

func TestPropertyPredicates(t *testing.T) {
	p := Combine(Readable, Notifiable).Properties()
	assert.True(t, p.Read())
	assert.True(t, p.Notify())
	assert.False(t, p.Write())
	assert.False(t, p.Indicate())
}
