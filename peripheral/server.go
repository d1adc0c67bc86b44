package peripheral

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/srg/blex/gatt"
	"github.com/srg/blex/internal/guarded"
	"github.com/srg/blex/stack"
)

// State is the server lifecycle state. There is no shutdown state: device
// lifetime equals process lifetime.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// ConnectionEventKind tags a connection lifecycle event.
type ConnectionEventKind int

const (
	EventConnect ConnectionEventKind = iota
	EventDisconnect
	EventMTUChanged
)

// ConnectionEvent is delivered to the server-level connection handler.
type ConnectionEvent struct {
	Kind       ConnectionEventKind
	ConnHandle uint16
	Peer       string
	MTU        uint16
	// Reason carries the HCI disconnect reason for EventDisconnect.
	Reason int
}

// ConnectionHandler receives connection lifecycle events.
type ConnectionHandler func(ConnectionEvent)

// Options configures a ServerController.
type Options struct {
	// Logger defaults to logrus.New() when nil.
	Logger *logrus.Logger

	// Stack is the host stack backend. Required.
	Stack stack.Stack

	// Profile is the validated peripheral description. Required.
	Profile *gatt.Profile

	// LockStrategy selects the synchronization primitive for every lock
	// domain. Multi-core is the safe default.
	LockStrategy guarded.Strategy
}

// ServerController is the top-level orchestration: one-shot initialization
// publishing the whole profile onto the stack, connection lifecycle, and the
// runtime tuning surface.
type ServerController struct {
	log     *logrus.Logger
	st      stack.Stack
	profile *gatt.Profile

	locks     *guarded.Registry
	registrar *ServiceRegistrar

	state atomic.Int32

	// server and adv are published exactly once during Init and read-mostly
	// afterwards.
	server *guarded.Handle[stack.Server]
	adv    *guarded.Handle[AdvertisingController]

	// onConnection is the single server-level callback; swapping it races
	// safely with event delivery.
	onConnection *guarded.Callback[ConnectionHandler]

	initDone chan struct{}
	initErr  error
}

// New creates an uninitialized controller.
func New(opts Options) (*ServerController, error) {
	if opts.Stack == nil {
		return nil, configErrf("stack", "backend is required")
	}
	if opts.Profile == nil {
		return nil, configErrf("profile", "profile is required")
	}
	if err := opts.Profile.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logrus.New()
	}

	locks := guarded.NewRegistry(opts.LockStrategy)
	c := &ServerController{
		log:          log,
		st:           opts.Stack,
		profile:      opts.Profile,
		locks:        locks,
		registrar:    NewServiceRegistrar(log, locks),
		server:       guarded.NewImmutableHandle[stack.Server]("server"),
		adv:          guarded.NewImmutableHandle[AdvertisingController]("advertising"),
		onConnection: guarded.NewCallback[ConnectionHandler](locks, "server-events"),
		initDone:     make(chan struct{}),
	}
	return c, nil
}

// State returns the lifecycle state.
func (c *ServerController) State() State {
	return State(c.state.Load())
}

// OnConnection installs the server-level connection handler.
func (c *ServerController) OnConnection(fn ConnectionHandler) {
	c.onConnection.Set(fn)
}

// Init brings the peripheral up: stack init, profile registration, service
// start, advertising. One-shot and idempotent — a repeat call returns the
// outcome already established by the first, and never re-registers anything.
// A call arriving while the first is still running returns ErrInitInProgress
// rather than blocking a stack callback context.
func (c *ServerController) Init(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		select {
		case <-c.initDone:
			return c.initErr
		default:
			return ErrInitInProgress
		}
	}

	err := c.initialize(ctx)
	c.initErr = err
	if err == nil {
		c.state.Store(int32(StateReady))
	}
	close(c.initDone)
	if err != nil {
		c.log.WithError(err).Error("initialization failed")
	}
	return err
}

func (c *ServerController) initialize(ctx context.Context) error {
	p := c.profile

	if err := c.st.Init(ctx); err != nil {
		return &ResourceError{Op: "stack init", Err: err}
	}
	if p.Connection.MTU != gatt.MTUUnset {
		if err := c.st.SetMTU(p.Connection.MTU); err != nil {
			return configErrf("mtu", "%v", err)
		}
	}
	if err := c.st.SetSecurity(p.Security); err != nil {
		return configErrf("security", "%v", err)
	}

	srv, err := c.st.CreateServer()
	if err != nil {
		return &ResourceError{Op: "create server", Err: err}
	}
	srv.SetEvents(c)
	c.server.Publish(&srv)

	if err := c.registrar.Register(srv, p.Services, c.st.MaxConnections()); err != nil {
		return err
	}
	if err := c.registrar.StartAll(); err != nil {
		return err
	}

	adv, err := NewAdvertisingController(c.log, c.st, p.DeviceName, p.ShortName, p.Advertising, p.Services)
	if err != nil {
		return err
	}
	c.adv.Publish(adv)

	if err := adv.Configure(); err != nil {
		return err
	}
	if err := adv.Start(ctx); err != nil {
		return err
	}

	c.log.WithFields(logrus.Fields{
		"device":   p.DeviceName,
		"services": c.registrar.ServiceCount(),
	}).Info("peripheral ready")
	return nil
}

// SetValue pushes a value to a dynamic characteristic.
func (c *ServerController) SetValue(service, char gatt.UUID, v []byte) error {
	rt, err := c.registrar.Runtime(service, char)
	if err != nil {
		return err
	}
	return rt.SetValue(v)
}

// IsSubscribed reports whether any peer subscribes to the characteristic.
func (c *ServerController) IsSubscribed(service, char gatt.UUID) (bool, error) {
	rt, err := c.registrar.Runtime(service, char)
	if err != nil {
		return false, err
	}
	return rt.IsSubscribed(), nil
}

// SubscriberCount reports the characteristic's live subscription count.
func (c *ServerController) SubscriberCount(service, char gatt.UUID) (int, error) {
	rt, err := c.registrar.Runtime(service, char)
	if err != nil {
		return 0, err
	}
	return rt.SubscriberCount(), nil
}

// SetTxPower stores a transmit-power override; it takes effect on the next
// UpdateAdvertising.
func (c *ServerController) SetTxPower(dbm int8) error {
	return c.advCall(func(a *AdvertisingController) error { return a.SetTxPower(dbm) })
}

// SetAdvInterval stores an advertising-interval override; it takes effect on
// the next UpdateAdvertising.
func (c *ServerController) SetAdvInterval(minMs, maxMs uint16) error {
	return c.advCall(func(a *AdvertisingController) error { return a.SetAdvInterval(minMs, maxMs) })
}

// UpdateAdvertising stops, reconfigures and restarts advertising.
func (c *ServerController) UpdateAdvertising(ctx context.Context) error {
	return c.advCall(func(a *AdvertisingController) error { return a.UpdateAdvertising(ctx) })
}

// Advertising reports whether advertising is running.
func (c *ServerController) Advertising() bool {
	return guarded.CallValue(c.adv, func(a *AdvertisingController) bool { return a.Advertising() })
}

func (c *ServerController) advCall(fn func(*AdvertisingController) error) error {
	if !c.adv.Ready() {
		return &NotFoundError{Type: "advertising controller", Value: "not initialized"}
	}
	return guarded.CallValue(c.adv, fn)
}

// Stack event sink.

// OnConnect delivers a new connection to the application handler.
func (c *ServerController) OnConnect(conn stack.ConnInfo) {
	c.log.WithFields(logrus.Fields{
		"conn": conn.ConnHandle(),
		"peer": conn.PeerAddress(),
	}).Info("central connected")
	c.onConnection.Invoke(func(fn ConnectionHandler) {
		fn(ConnectionEvent{Kind: EventConnect, ConnHandle: conn.ConnHandle(), Peer: conn.PeerAddress(), MTU: conn.MTU()})
	})
}

// OnDisconnect restarts advertising while remaining Ready, then informs the
// application handler.
func (c *ServerController) OnDisconnect(conn stack.ConnInfo, reason int) {
	c.log.WithFields(logrus.Fields{
		"conn":   conn.ConnHandle(),
		"peer":   conn.PeerAddress(),
		"reason": reason,
	}).Info("central disconnected")

	if c.State() == StateReady {
		c.adv.Call(func(a *AdvertisingController) {
			if err := a.Start(context.Background()); err != nil {
				c.log.WithError(err).Warn("failed to restart advertising after disconnect")
			}
		})
	}

	c.onConnection.Invoke(func(fn ConnectionHandler) {
		fn(ConnectionEvent{Kind: EventDisconnect, ConnHandle: conn.ConnHandle(), Peer: conn.PeerAddress(), Reason: reason})
	})
}

// OnMTUChanged requests the profile's preferred connection parameters now
// that the ATT exchange settled, then informs the application handler.
func (c *ServerController) OnMTUChanged(conn stack.ConnInfo, mtu uint16) {
	c.log.WithFields(logrus.Fields{
		"conn": conn.ConnHandle(),
		"mtu":  mtu,
	}).Debug("MTU negotiated")

	c.server.Call(func(srv *stack.Server) {
		if err := (*srv).UpdateConnParams(conn.ConnHandle(), c.profile.Connection); err != nil {
			c.log.WithError(err).Warn("connection parameter update rejected")
		}
	})

	c.onConnection.Invoke(func(fn ConnectionHandler) {
		fn(ConnectionEvent{Kind: EventMTUChanged, ConnHandle: conn.ConnHandle(), Peer: conn.PeerAddress(), MTU: mtu})
	})
}
