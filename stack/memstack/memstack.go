// Package memstack is an in-memory implementation of the stack interfaces.
// It backs the test suite and the simulator command: no radio, no kernel,
// but the same attribute lifecycle and callback contract as a real host
// stack, plus a simulated Central peer for driving reads, writes and
// subscriptions from tests.
package memstack

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"

	"github.com/srg/blex/gatt"
	"github.com/srg/blex/stack"
)

var (
	ErrNotInitialized    = errors.New("stack not initialized")
	ErrAlreadyInit       = errors.New("stack already initialized")
	ErrClosed            = errors.New("stack closed")
	ErrServiceStarted    = errors.New("service already started")
	ErrServiceNotStarted = errors.New("service not started")
	ErrConnectionLimit   = errors.New("connection limit reached")
	ErrNotConnected      = errors.New("not connected")
	ErrNotFound          = errors.New("attribute not found")
	ErrAccessDenied      = errors.New("operation not permitted by attribute properties")
	ErrNotSubscribed     = errors.New("not subscribed")
	ErrNoNotification    = errors.New("no pending notification")
)

// Options configures the in-memory stack.
type Options struct {
	Logger *logrus.Logger

	// MaxConnections caps simultaneous centrals.
	MaxConnections int

	// NotifyQueueDepth is the per-subscriber notification queue capacity.
	// The queue overwrites oldest entries when a slow central falls behind,
	// the way a real controller drops unsent notifications.
	NotifyQueueDepth uint32

	// DefaultMTU is the ATT MTU assigned to new connections before any
	// exchange.
	DefaultMTU uint16
}

// DefaultOptions returns the options used when a zero Options is given.
func DefaultOptions() Options {
	return Options{
		MaxConnections:   4,
		NotifyQueueDepth: 16,
		DefaultMTU:       gatt.MinMTU,
	}
}

// Stack is the in-memory stack.Stack implementation.
type Stack struct {
	log  *logrus.Logger
	opts Options

	mu          sync.Mutex
	initialized bool
	closed      bool
	server      *Server
	adv         *Advertiser
	conns       map[uint16]*conn
	nextHandle  uint16

	mtu      uint16
	txPower  int8
	security gatt.SecurityConfig
}

// New creates an in-memory stack.
func New(opts Options) *Stack {
	def := DefaultOptions()
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = def.MaxConnections
	}
	if opts.NotifyQueueDepth == 0 {
		opts.NotifyQueueDepth = def.NotifyQueueDepth
	}
	if opts.DefaultMTU == 0 {
		opts.DefaultMTU = def.DefaultMTU
	}
	return &Stack{
		log:     opts.Logger,
		opts:    opts,
		conns:   map[uint16]*conn{},
		mtu:     opts.DefaultMTU,
		txPower: gatt.TxPowerUnset,
	}
}

func (s *Stack) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.initialized {
		return ErrAlreadyInit
	}
	s.initialized = true
	s.log.Debug("memstack: initialized")
	return nil
}

func (s *Stack) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.initialized = false
	if s.adv != nil {
		s.adv.stopLocked()
	}
	return nil
}

func (s *Stack) SetMTU(mtu uint16) error {
	if mtu < gatt.MinMTU || mtu > gatt.MaxMTU {
		return fmt.Errorf("MTU %d out of range", mtu)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mtu = mtu
	return nil
}

func (s *Stack) SetTxPower(dbm int8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txPower = dbm
	return nil
}

func (s *Stack) SetSecurity(cfg gatt.SecurityConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.security = cfg
	return nil
}

func (s *Stack) CreateServer() (stack.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	if s.server == nil {
		s.server = &Server{st: s}
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

// TxPower reports the last power level handed to SetTxPower, for assertions.
func (s *Stack) TxPower() int8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txPower
}

// PreferredMTU reports the last value handed to SetMTU, for assertions.
func (s *Stack) PreferredMTU() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mtu
}

// Security reports the installed pairing parameters, for assertions.
func (s *Stack) Security() gatt.SecurityConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.security
}

// conn is one simulated connection.
type conn struct {
	handle uint16
	addr   string
	mtu    uint16
}

func (c *conn) ConnHandle() uint16  { return c.handle }
func (c *conn) PeerAddress() string { return c.addr }
func (c *conn) MTU() uint16         { return c.mtu }

// Server implements stack.Server over the in-memory attribute table.
type Server struct {
	st *Stack

	mu         sync.Mutex
	services   []*Service
	events     stack.ServerEvents
	connParams []gatt.ConnectionConfig
}

func (srv *Server) AddService(uuid gatt.UUID) (stack.Service, error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	for _, s := range srv.services {
		if s.uuid == uuid {
			return nil, fmt.Errorf("service %s: already added", uuid.Short())
		}
	}
	svc := &Service{srv: srv, uuid: uuid}
	srv.services = append(srv.services, svc)
	return svc, nil
}

func (srv *Server) SetEvents(events stack.ServerEvents) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.events = events
}

func (srv *Server) Disconnect(connHandle uint16) error {
	srv.st.mu.Lock()
	c, ok := srv.st.conns[connHandle]
	if ok {
		delete(srv.st.conns, connHandle)
	}
	srv.st.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	srv.dropSubscriptions(c)
	if ev := srv.eventSink(); ev != nil {
		ev.OnDisconnect(c, stack.DisconnectReasonLocalHost)
	}
	return nil
}

func (srv *Server) UpdateConnParams(connHandle uint16, cfg gatt.ConnectionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	srv.st.mu.Lock()
	_, ok := srv.st.conns[connHandle]
	srv.st.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	srv.mu.Lock()
	srv.connParams = append(srv.connParams, cfg)
	srv.mu.Unlock()
	return nil
}

// ConnParamUpdates reports the requested parameter updates, for assertions.
func (srv *Server) ConnParamUpdates() []gatt.ConnectionConfig {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return append([]gatt.ConnectionConfig(nil), srv.connParams...)
}

func (srv *Server) Connections() []uint16 {
	srv.st.mu.Lock()
	defer srv.st.mu.Unlock()
	out := make([]uint16, 0, len(srv.st.conns))
	for h := range srv.st.conns {
		out = append(out, h)
	}
	return out
}

func (srv *Server) eventSink() stack.ServerEvents {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.events
}

func (srv *Server) findService(uuid gatt.UUID) *Service {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	for _, s := range srv.services {
		if s.uuid == uuid {
			return s
		}
	}
	return nil
}

// dropSubscriptions clears a dying connection out of every characteristic's
// subscriber table, delivering the unsubscribe callback the way a real stack
// reports CCC cleanup on disconnect.
func (srv *Server) dropSubscriptions(c *conn) {
	srv.mu.Lock()
	services := append([]*Service(nil), srv.services...)
	srv.mu.Unlock()
	for _, svc := range services {
		for _, ch := range svc.characteristics() {
			ch.dropSubscriber(c)
		}
	}
}

// Service implements stack.Service.
type Service struct {
	srv  *Server
	uuid gatt.UUID

	mu      sync.Mutex
	chars   []*Characteristic
	started bool
}

func (s *Service) UUID() gatt.UUID { return s.uuid }

func (s *Service) AddCharacteristic(uuid gatt.UUID, props gatt.Property, maxLen int, events stack.CharacteristicEvents) (stack.Characteristic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, fmt.Errorf("service %s: %w", s.uuid.Short(), ErrServiceStarted)
	}
	for _, c := range s.chars {
		if c.uuid == uuid {
			return nil, fmt.Errorf("characteristic %s: already added", uuid.Short())
		}
	}
	ch := &Characteristic{
		svc:         s,
		uuid:        uuid,
		props:       props,
		maxLen:      maxLen,
		events:      events,
		subscribers: map[uint16]*subscriber{},
	}
	s.chars = append(s.chars, ch)
	return ch, nil
}

func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("service %s: %w", s.uuid.Short(), ErrServiceStarted)
	}
	s.started = true
	return nil
}

// Started reports whether the service is published, for assertions.
func (s *Service) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Service) characteristics() []*Characteristic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Characteristic(nil), s.chars...)
}

func (s *Service) findCharacteristic(uuid gatt.UUID) *Characteristic {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chars {
		if c.uuid == uuid {
			return c
		}
	}
	return nil
}

// notifyQueue is the slice of the ring buffer surface the stack needs; a
// narrow interface so tests can stand in a failing queue.
type notifyQueue interface {
	EnqueueM(item []byte) (overwrites uint32, err error)
	Dequeue() (item []byte, err error)
	IsEmpty() bool
}

type subscriber struct {
	conn     *conn
	subValue uint16
	queue    notifyQueue
}

// Characteristic implements stack.Characteristic.
type Characteristic struct {
	svc    *Service
	uuid   gatt.UUID
	props  gatt.Property
	maxLen int
	events stack.CharacteristicEvents

	mu          sync.Mutex
	value       []byte
	descriptors []*Descriptor
	subscribers map[uint16]*subscriber
}

func (c *Characteristic) UUID() gatt.UUID { return c.uuid }

func (c *Characteristic) SetValue(v []byte) error {
	if len(v) > c.maxLen {
		return fmt.Errorf("characteristic %s: value %d bytes exceeds attribute size %d", c.uuid.Short(), len(v), c.maxLen)
	}
	c.mu.Lock()
	c.value = append(c.value[:0:0], v...)
	c.mu.Unlock()
	return nil
}

func (c *Characteristic) Notify() error {
	if !c.props.Notify() && !c.props.Indicate() {
		return fmt.Errorf("characteristic %s: %w", c.uuid.Short(), ErrAccessDenied)
	}
	c.mu.Lock()
	payload := append([]byte(nil), c.value...)
	subs := make([]*subscriber, 0, len(c.subscribers))
	for _, s := range c.subscribers {
		subs = append(subs, s)
	}
	events := c.events
	c.mu.Unlock()

	// One subscriber's queue failure must not shadow delivery to the rest:
	// every queue is attempted, the failed peer gets a non-zero status and
	// the first error is reported.
	var firstErr error
	for _, s := range subs {
		// Slow subscribers lose oldest entries, like unsent controller
		// notifications.
		code := 0
		if _, err := s.queue.EnqueueM(payload); err != nil {
			code = -1
			if firstErr == nil {
				firstErr = fmt.Errorf("characteristic %s: notify queue: %w", c.uuid.Short(), err)
			}
		}
		if events != nil {
			events.OnStatus(s.conn, code)
		}
	}
	return firstErr
}

func (c *Characteristic) AddDescriptor(uuid gatt.UUID, props gatt.Property, value []byte) (stack.Descriptor, error) {
	c.svc.mu.Lock()
	started := c.svc.started
	c.svc.mu.Unlock()
	if started {
		return nil, fmt.Errorf("characteristic %s: %w", c.uuid.Short(), ErrServiceStarted)
	}
	d := &Descriptor{uuid: uuid, props: props, value: append([]byte(nil), value...)}
	c.mu.Lock()
	c.descriptors = append(c.descriptors, d)
	c.mu.Unlock()
	return d, nil
}

// Subscribers reports the live subscription count, for assertions.
func (c *Characteristic) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribers)
}

func (c *Characteristic) findDescriptor(uuid gatt.UUID) *Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.descriptors {
		if d.uuid == uuid {
			return d
		}
	}
	return nil
}

func (c *Characteristic) subscribe(cn *conn, subValue uint16, depth uint32) error {
	wantNotify := subValue&stack.SubscribeNotification != 0
	wantIndicate := subValue&stack.SubscribeIndication != 0
	if (wantNotify && !c.props.Notify()) || (wantIndicate && !c.props.Indicate()) {
		return fmt.Errorf("characteristic %s: %w", c.uuid.Short(), ErrAccessDenied)
	}
	c.mu.Lock()
	if _, dup := c.subscribers[cn.handle]; dup {
		c.mu.Unlock()
		return fmt.Errorf("characteristic %s: already subscribed", c.uuid.Short())
	}
	c.subscribers[cn.handle] = &subscriber{
		conn:     cn,
		subValue: subValue,
		queue:    mpmc.NewOverlappedRingBuffer[[]byte](depth),
	}
	events := c.events
	c.mu.Unlock()
	if events != nil {
		events.OnSubscribe(cn, subValue)
	}
	return nil
}

func (c *Characteristic) unsubscribe(cn *conn) error {
	c.mu.Lock()
	_, ok := c.subscribers[cn.handle]
	if ok {
		delete(c.subscribers, cn.handle)
	}
	events := c.events
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("characteristic %s: %w", c.uuid.Short(), ErrNotSubscribed)
	}
	if events != nil {
		events.OnSubscribe(cn, stack.SubscribeNone)
	}
	return nil
}

func (c *Characteristic) dropSubscriber(cn *conn) {
	c.mu.Lock()
	_, ok := c.subscribers[cn.handle]
	if ok {
		delete(c.subscribers, cn.handle)
	}
	events := c.events
	c.mu.Unlock()
	if ok && events != nil {
		events.OnSubscribe(cn, stack.SubscribeNone)
	}
}

// Descriptor implements stack.Descriptor.
type Descriptor struct {
	uuid  gatt.UUID
	props gatt.Property

	mu    sync.Mutex
	value []byte
}

func (d *Descriptor) UUID() gatt.UUID { return d.uuid }

func (d *Descriptor) SetValue(v []byte) error {
	d.mu.Lock()
	d.value = append(d.value[:0:0], v...)
	d.mu.Unlock()
	return nil
}

func (d *Descriptor) read() ([]byte, error) {
	if !d.props.Read() {
		return nil, fmt.Errorf("descriptor %s: %w", d.uuid.Short(), ErrAccessDenied)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.value...), nil
}
