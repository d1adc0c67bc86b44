//go:build linux

package goble

import (
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blex/gatt"
	"github.com/srg/blex/stack"
)

// Server implements stack.Server. Connections are synthesized: the library
// has no server-side connect callback, so a central becomes known on its
// first request and gets a local handle.
type Server struct {
	st *Stack

	mu         sync.Mutex
	services   []*Service
	events     stack.ServerEvents
	conns      map[string]uint16
	nextHandle uint16
}

func (srv *Server) AddService(uuid gatt.UUID) (stack.Service, error) {
	parsed, err := parseUUID(uuid)
	if err != nil {
		return nil, err
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	for _, s := range srv.services {
		if s.uuid == uuid {
			return nil, fmt.Errorf("goble: service %s already added", uuid.Short())
		}
	}
	svc := &Service{srv: srv, uuid: uuid, bleSvc: ble.NewService(parsed)}
	srv.services = append(srv.services, svc)
	return svc, nil
}

func (srv *Server) SetEvents(events stack.ServerEvents) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.events = events
}

func (srv *Server) Disconnect(connHandle uint16) error {
	return ErrUnsupported
}

func (srv *Server) UpdateConnParams(connHandle uint16, cfg gatt.ConnectionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	srv.st.log.WithField("conn", connHandle).Debug("goble: connection parameter update not pushed to controller")
	return nil
}

func (srv *Server) Connections() []uint16 {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	out := make([]uint16, 0, len(srv.conns))
	for _, h := range srv.conns {
		out = append(out, h)
	}
	return out
}

// connInfoFor maps a library connection to a stable ConnInfo, firing the
// synthesized connect event on first sight of the peer.
func (srv *Server) connInfoFor(c ble.Conn) stack.ConnInfo {
	addr := c.RemoteAddr().String()
	srv.mu.Lock()
	handle, known := srv.conns[addr]
	if !known {
		srv.nextHandle++
		handle = srv.nextHandle
		srv.conns[addr] = handle
	}
	events := srv.events
	srv.mu.Unlock()

	info := &connInfo{handle: handle, addr: addr, mtu: uint16(c.RxMTU())}
	if !known && events != nil {
		events.OnConnect(info)
	}
	return info
}

// forgetConn drops a peer after its notifier tears down, delivering the
// synthesized disconnect.
func (srv *Server) forgetConn(info stack.ConnInfo) {
	srv.mu.Lock()
	_, known := srv.conns[info.PeerAddress()]
	if known {
		delete(srv.conns, info.PeerAddress())
	}
	events := srv.events
	srv.mu.Unlock()
	if known && events != nil {
		events.OnDisconnect(info, stack.DisconnectReasonRemoteUser)
	}
}

type connInfo struct {
	handle uint16
	addr   string
	mtu    uint16
}

func (c *connInfo) ConnHandle() uint16  { return c.handle }
func (c *connInfo) PeerAddress() string { return c.addr }
func (c *connInfo) MTU() uint16         { return c.mtu }

// Service implements stack.Service over a ble.Service.
type Service struct {
	srv    *Server
	uuid   gatt.UUID
	bleSvc *ble.Service

	mu      sync.Mutex
	chars   []*Characteristic
	started bool
}

func (s *Service) UUID() gatt.UUID { return s.uuid }

func (s *Service) AddCharacteristic(uuid gatt.UUID, props gatt.Property, maxLen int, events stack.CharacteristicEvents) (stack.Characteristic, error) {
	parsed, err := parseUUID(uuid)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, fmt.Errorf("goble: service %s already started", s.uuid.Short())
	}

	ch := &Characteristic{
		svc:    s,
		uuid:   uuid,
		props:  props,
		maxLen: maxLen,
		events: events,
		bleC:   s.bleSvc.NewCharacteristic(parsed),
	}
	ch.installHandlers()
	s.chars = append(s.chars, ch)
	return ch, nil
}

// Start publishes the assembled attribute set on the device.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("goble: service %s already started", s.uuid.Short())
	}
	s.srv.st.mu.Lock()
	dev := s.srv.st.dev
	s.srv.st.mu.Unlock()
	if dev == nil {
		return ErrNotInitialized
	}
	if err := dev.AddService(s.bleSvc); err != nil {
		return fmt.Errorf("goble: publish service %s: %w", s.uuid.Short(), err)
	}
	s.started = true
	return nil
}

// Characteristic implements stack.Characteristic.
type Characteristic struct {
	svc    *Service
	uuid   gatt.UUID
	props  gatt.Property
	maxLen int
	events stack.CharacteristicEvents
	bleC   *ble.Characteristic

	mu        sync.Mutex
	value     []byte
	notifiers map[string]*notifierEntry
}

type notifierEntry struct {
	n    ble.Notifier
	info stack.ConnInfo
}

func (c *Characteristic) UUID() gatt.UUID { return c.uuid }

func (c *Characteristic) SetValue(v []byte) error {
	if len(v) > c.maxLen {
		return fmt.Errorf("goble: characteristic %s: value %d bytes exceeds attribute size %d", c.uuid.Short(), len(v), c.maxLen)
	}
	c.mu.Lock()
	c.value = append(c.value[:0:0], v...)
	c.mu.Unlock()
	return nil
}

// Notify pushes the current value to every live notifier. Per-subscriber
// transmission results go back through the event target's status callback.
func (c *Characteristic) Notify() error {
	c.mu.Lock()
	payload := append([]byte(nil), c.value...)
	entries := make([]*notifierEntry, 0, len(c.notifiers))
	for _, e := range c.notifiers {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	for _, e := range entries {
		_, err := e.n.Write(payload)
		code := 0
		if err != nil {
			code = -1
			c.svc.srv.st.log.WithError(err).WithField("characteristic", c.uuid.Short()).Warn("goble: notify failed")
		}
		if c.events != nil {
			c.events.OnStatus(e.info, code)
		}
	}
	return nil
}

func (c *Characteristic) AddDescriptor(uuid gatt.UUID, props gatt.Property, value []byte) (stack.Descriptor, error) {
	parsed, err := parseUUID(uuid)
	if err != nil {
		return nil, err
	}
	d := c.bleC.NewDescriptor(parsed)
	d.SetValue(value)
	return &Descriptor{uuid: uuid, bleD: d}, nil
}

// installHandlers wires the library's attribute handlers to the event
// target according to the property mask.
func (c *Characteristic) installHandlers() {
	log := c.svc.srv.st.log

	if c.props.Read() {
		c.bleC.HandleRead(ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
			var v []byte
			if c.events != nil {
				info := c.svc.srv.connInfoFor(req.Conn())
				read, err := c.events.OnRead(info)
				if err != nil {
					log.WithError(err).WithField("characteristic", c.uuid.Short()).Warn("goble: read failed")
					return
				}
				v = read
			} else {
				c.mu.Lock()
				v = append([]byte(nil), c.value...)
				c.mu.Unlock()
			}
			if _, err := rsp.Write(v); err != nil {
				log.WithError(err).WithField("characteristic", c.uuid.Short()).Warn("goble: read response failed")
			}
		}))
	}

	if c.props.Write() && c.events != nil {
		c.bleC.HandleWrite(ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
			info := c.svc.srv.connInfoFor(req.Conn())
			if err := c.events.OnWrite(info, req.Data()); err != nil {
				log.WithError(err).WithField("characteristic", c.uuid.Short()).Warn("goble: write rejected")
			}
		}))
	}

	if c.props.Notify() {
		c.bleC.HandleNotify(ble.NotifyHandlerFunc(func(req ble.Request, n ble.Notifier) {
			c.serveSubscription(req, n, stack.SubscribeNotification)
		}))
	}
	if c.props.Indicate() {
		c.bleC.HandleIndicate(ble.NotifyHandlerFunc(func(req ble.Request, n ble.Notifier) {
			c.serveSubscription(req, n, stack.SubscribeIndication)
		}))
	}
}

// serveSubscription tracks one CCC-enabled notifier for its whole lifetime:
// the handler blocks until the central unsubscribes or the connection dies.
func (c *Characteristic) serveSubscription(req ble.Request, n ble.Notifier, subValue uint16) {
	info := c.svc.srv.connInfoFor(req.Conn())

	c.mu.Lock()
	if c.notifiers == nil {
		c.notifiers = map[string]*notifierEntry{}
	}
	c.notifiers[info.PeerAddress()] = &notifierEntry{n: n, info: info}
	c.mu.Unlock()

	if c.events != nil {
		c.events.OnSubscribe(info, subValue)
	}
	c.svc.srv.st.log.WithFields(logrus.Fields{
		"characteristic": c.uuid.Short(),
		"peer":           info.PeerAddress(),
		"sub_value":      subValue,
	}).Debug("goble: subscription active")

	<-n.Context().Done()

	c.mu.Lock()
	delete(c.notifiers, info.PeerAddress())
	c.mu.Unlock()
	if c.events != nil {
		c.events.OnSubscribe(info, stack.SubscribeNone)
	}

	// The notifier context ends on a plain CCC-off as well as on a link
	// drop; the peer is forgotten only when the connection itself is gone,
	// so an unsubscribe never synthesizes a disconnect.
	select {
	case <-req.Conn().Disconnected():
		c.svc.srv.forgetConn(info)
	default:
	}
}

// Descriptor implements stack.Descriptor.
type Descriptor struct {
	uuid gatt.UUID
	bleD *ble.Descriptor
}

func (d *Descriptor) UUID() gatt.UUID { return d.uuid }

func (d *Descriptor) SetValue(v []byte) error {
	d.bleD.SetValue(v)
	return nil
}
