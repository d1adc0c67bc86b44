package memstack

import (
	"errors"
	"fmt"

	"github.com/srg/blex/gatt"
	"github.com/srg/blex/stack"
)

// Central is a simulated peer driving the in-memory stack from the outside:
// tests and the simulator use it to exercise the exact code paths a real
// central would trigger through the radio.
type Central struct {
	st   *Stack
	addr string
	conn *conn
}

// NewCentral creates a disconnected simulated central.
func (s *Stack) NewCentral(addr string) *Central {
	return &Central{st: s, addr: addr}
}

// Connect establishes the simulated connection and fires the server's
// connect event.
func (c *Central) Connect() error {
	c.st.mu.Lock()
	if !c.st.initialized {
		c.st.mu.Unlock()
		return ErrNotInitialized
	}
	if c.conn != nil {
		c.st.mu.Unlock()
		return fmt.Errorf("central %s: already connected", c.addr)
	}
	if len(c.st.conns) >= c.st.opts.MaxConnections {
		c.st.mu.Unlock()
		return ErrConnectionLimit
	}
	c.st.nextHandle++
	cn := &conn{handle: c.st.nextHandle, addr: c.addr, mtu: c.st.opts.DefaultMTU}
	c.st.conns[cn.handle] = cn
	srv := c.st.server
	adv := c.st.adv
	c.st.mu.Unlock()

	// Controllers stop advertising once a connection is up.
	if adv != nil {
		adv.stopLocked()
	}

	c.conn = cn
	if srv != nil {
		if ev := srv.eventSink(); ev != nil {
			ev.OnConnect(cn)
		}
	}
	return nil
}

// Disconnect drops the connection from the central's side. Subscriptions
// are cleaned up and the server sees a remote-user disconnect.
func (c *Central) Disconnect() error {
	if c.conn == nil {
		return ErrNotConnected
	}
	cn := c.conn
	c.conn = nil

	c.st.mu.Lock()
	delete(c.st.conns, cn.handle)
	srv := c.st.server
	c.st.mu.Unlock()

	if srv != nil {
		srv.dropSubscriptions(cn)
		if ev := srv.eventSink(); ev != nil {
			ev.OnDisconnect(cn, stack.DisconnectReasonRemoteUser)
		}
	}
	return nil
}

// Connected reports whether the central holds a live connection.
func (c *Central) Connected() bool { return c.conn != nil }

// ConnHandle returns the live connection handle.
func (c *Central) ConnHandle() uint16 {
	if c.conn == nil {
		return 0
	}
	return c.conn.handle
}

// ExchangeMTU negotiates the connection MTU and fires the MTU event.
func (c *Central) ExchangeMTU(mtu uint16) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	if mtu < gatt.MinMTU || mtu > gatt.MaxMTU {
		return fmt.Errorf("MTU %d out of range", mtu)
	}
	c.st.mu.Lock()
	// Negotiation lands on the smaller of the two preferences.
	if pref := c.st.mtu; mtu > pref {
		mtu = pref
	}
	c.conn.mtu = mtu
	srv := c.st.server
	c.st.mu.Unlock()

	if srv != nil {
		if ev := srv.eventSink(); ev != nil {
			ev.OnMTUChanged(c.conn, mtu)
		}
	}
	return nil
}

// Read performs a characteristic read: the dynamic event target if one is
// installed, the stored attribute value otherwise.
func (c *Central) Read(service, char gatt.UUID) ([]byte, error) {
	ch, err := c.resolve(service, char)
	if err != nil {
		return nil, err
	}
	if !ch.props.Read() {
		return nil, fmt.Errorf("characteristic %s: %w", char.Short(), ErrAccessDenied)
	}
	if ch.events != nil {
		return ch.events.OnRead(c.conn)
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]byte(nil), ch.value...), nil
}

// Write performs a characteristic write.
func (c *Central) Write(service, char gatt.UUID, payload []byte) error {
	ch, err := c.resolve(service, char)
	if err != nil {
		return err
	}
	if !ch.props.Write() {
		return fmt.Errorf("characteristic %s: %w", char.Short(), ErrAccessDenied)
	}
	if ch.events == nil {
		return ch.SetValue(payload)
	}
	return ch.events.OnWrite(c.conn, payload)
}

// Subscribe enables notifications (or indications) for the characteristic,
// the way a CCC write does.
func (c *Central) Subscribe(service, char gatt.UUID, subValue uint16) error {
	ch, err := c.resolve(service, char)
	if err != nil {
		return err
	}
	if c.conn == nil {
		return ErrNotConnected
	}
	return ch.subscribe(c.conn, subValue, c.st.opts.NotifyQueueDepth)
}

// Unsubscribe clears the subscription.
func (c *Central) Unsubscribe(service, char gatt.UUID) error {
	ch, err := c.resolve(service, char)
	if err != nil {
		return err
	}
	if c.conn == nil {
		return ErrNotConnected
	}
	return ch.unsubscribe(c.conn)
}

// NextNotification pops the oldest queued notification payload for this
// central, or ErrNoNotification when the queue is drained.
func (c *Central) NextNotification(service, char gatt.UUID) ([]byte, error) {
	ch, err := c.resolve(service, char)
	if err != nil {
		return nil, err
	}
	ch.mu.Lock()
	sub, ok := ch.subscribers[c.conn.handle]
	ch.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("characteristic %s: %w", char.Short(), ErrNotSubscribed)
	}
	if sub.queue.IsEmpty() {
		return nil, ErrNoNotification
	}
	payload, err := sub.queue.Dequeue()
	if err != nil {
		return nil, fmt.Errorf("characteristic %s: %w", char.Short(), err)
	}
	return payload, nil
}

// DrainNotifications pops every queued payload.
func (c *Central) DrainNotifications(service, char gatt.UUID) ([][]byte, error) {
	var out [][]byte
	for {
		p, err := c.NextNotification(service, char)
		if errors.Is(err, ErrNoNotification) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
}

// ReadDescriptor reads a descriptor value.
func (c *Central) ReadDescriptor(service, char, desc gatt.UUID) ([]byte, error) {
	ch, err := c.resolve(service, char)
	if err != nil {
		return nil, err
	}
	d := ch.findDescriptor(desc)
	if d == nil {
		return nil, fmt.Errorf("descriptor %s: %w", desc.Short(), ErrNotFound)
	}
	return d.read()
}

// resolve locates a characteristic, enforcing the connection and the
// started-service gate: attributes of a service that was added but never
// started are invisible to peers.
func (c *Central) resolve(service, char gatt.UUID) (*Characteristic, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	c.st.mu.Lock()
	srv := c.st.server
	c.st.mu.Unlock()
	if srv == nil {
		return nil, fmt.Errorf("service %s: %w", service.Short(), ErrNotFound)
	}
	svc := srv.findService(service)
	if svc == nil {
		return nil, fmt.Errorf("service %s: %w", service.Short(), ErrNotFound)
	}
	if !svc.Started() {
		return nil, fmt.Errorf("service %s: %w", service.Short(), ErrServiceNotStarted)
	}
	ch := svc.findCharacteristic(char)
	if ch == nil {
		return nil, fmt.Errorf("characteristic %s: %w", char.Short(), ErrNotFound)
	}
	return ch, nil
}
