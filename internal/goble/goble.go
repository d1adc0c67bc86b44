//go:build linux

// Package goble implements the stack interfaces on top of go-ble's Linux
// HCI transport.
//
// The adapter is honest about what the library can and cannot deliver on
// this surface:
//
//   - Reads, writes, notifications and indications map directly onto the
//     library's attribute handlers.
//   - Subscription lifecycle derives from each notifier's context: the
//     subscribe callback fires when the central enables the CCC, the
//     unsubscribe one when the notifier's context ends.
//   - Connect events are synthesized on a central's first request, because
//     the library exposes no server-side connection callback; disconnects
//     surface through notifier teardown.
//   - Advertising interval, transmit power and connection-parameter updates
//     are accepted and logged but not pushed down to the controller.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/sirupsen/logrus"

	"github.com/srg/blex/gatt"
	"github.com/srg/blex/stack"
)

// DeviceFactory creates the HCI device. A variable so tests can substitute
// a fake without touching the kernel.
var DeviceFactory = func() (ble.Device, error) {
	return linux.NewDevice()
}

var (
	ErrNotInitialized = errors.New("goble: stack not initialized")
	ErrUnsupported    = errors.New("goble: operation not supported by transport")
)

// Options configures the adapter.
type Options struct {
	Logger *logrus.Logger

	// MaxConnections is the bound reported to the runtime; the controller's
	// real limit depends on the adapter hardware.
	MaxConnections int
}

// Stack implements stack.Stack over a Linux HCI device.
type Stack struct {
	log  *logrus.Logger
	opts Options

	mu          sync.Mutex
	dev         ble.Device
	initialized bool
	server      *Server
	adv         *Advertiser
}

// New creates an uninitialized adapter.
func New(opts Options) *Stack {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 4
	}
	return &Stack{log: opts.Logger, opts: opts}
}

func (s *Stack) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return fmt.Errorf("goble: open HCI device: %w", err)
	}
	ble.SetDefaultDevice(dev)
	s.dev = dev
	s.initialized = true
	s.log.Debug("goble: HCI device ready")
	return nil
}

func (s *Stack) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil
	}
	s.initialized = false
	if s.adv != nil {
		s.adv.stopLocked()
	}
	return s.dev.Stop()
}

func (s *Stack) SetMTU(mtu uint16) error {
	// The central drives the ATT exchange on this transport; the preferred
	// value is advisory only.
	s.log.WithField("mtu", mtu).Debug("goble: preferred MTU noted")
	return nil
}

func (s *Stack) SetTxPower(dbm int8) error {
	s.log.WithField("tx_dbm", dbm).Debug("goble: tx power request not pushed to controller")
	return nil
}

func (s *Stack) SetSecurity(cfg gatt.SecurityConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"io_cap":  cfg.IOCapabilities,
		"bonding": cfg.Bonding,
	}).Debug("goble: pairing parameters noted")
	return nil
}

func (s *Stack) CreateServer() (stack.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	if s.server == nil {
		s.server = &Server{st: s, conns: map[string]uint16{}}
	}
	return s.server, nil
}

func (s *Stack) Advertiser() (stack.Advertiser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	if s.adv == nil {
		s.adv = &Advertiser{st: s}
	}
	return s.adv, nil
}

func (s *Stack) MaxConnections() int { return s.opts.MaxConnections }

func parseUUID(u gatt.UUID) (ble.UUID, error) {
	parsed, err := ble.Parse(string(u))
	if err != nil {
		return nil, fmt.Errorf("goble: UUID %q: %w", u, err)
	}
	return parsed, nil
}
