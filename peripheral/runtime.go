package peripheral

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/srg/blex/gatt"
	"github.com/srg/blex/internal/guarded"
	"github.com/srg/blex/stack"
)

// CharacteristicRuntime bridges one dynamic characteristic's stack events
// (read, write, subscribe, status) to its user handlers, and owns the
// read+notify consistency state machine:
//
//   - subscriberCount tracks live subscriptions, lock-free. It never goes
//     negative and never exceeds the stack's connection bound; either is a
//     fatal invariant breach.
//
//   - notifiedValueValid marks the attribute value as current. It is set
//     after a value push reaches at least one subscriber and cleared only
//     when the last subscriber detaches, so a late unsubscribe from one of
//     several peers cannot invalidate freshness for the rest.
//
//   - a read on a read+notify characteristic with a valid cached value is
//     served without invoking the user read handler at all: a recent
//     notification already reflects current state, and resampling may be
//     expensive.
//
// The runtime adds no locking around the user handlers themselves;
// concurrent safety of handler-visible side effects belongs to the handler
// author.
type CharacteristicRuntime struct {
	log  *logrus.Entry
	desc *gatt.CharacteristicDescription

	// attr is published once when the stack attribute is created. Stack
	// events arriving before publication observe "not yet created" and are
	// served degraded rather than failing.
	attr *guarded.Handle[stack.Characteristic]

	// lock is this characteristic's own domain; unrelated characteristics
	// push values concurrently without contending here.
	lock sync.Locker

	maxSubscribers int32

	subscriberCount    atomic.Int32
	notifiedValueValid atomic.Bool

	// lastValue mirrors the attribute storage for cache-hit reads. Guarded
	// by lock.
	lastValue []byte
}

// newCharacteristicRuntime wires a runtime to its description. The stack
// attribute is attached later via bind, once it exists.
func newCharacteristicRuntime(log *logrus.Logger, locks *guarded.Registry, service gatt.UUID, desc *gatt.CharacteristicDescription, maxSubscribers int) *CharacteristicRuntime {
	tag := string(service) + "/" + string(desc.UUID)
	return &CharacteristicRuntime{
		log: log.WithFields(logrus.Fields{
			"service":        service.Short(),
			"characteristic": desc.UUID.Short(),
		}),
		desc:           desc,
		attr:           guarded.NewImmutableHandle[stack.Characteristic](tag),
		lock:           locks.Locker(tag),
		maxSubscribers: int32(maxSubscribers),
	}
}

// bind publishes the created stack attribute. Called exactly once by the
// registrar; a second call panics.
func (r *CharacteristicRuntime) bind(attr stack.Characteristic) {
	r.attr.Publish(&attr)
}

// UUID returns the characteristic identity.
func (r *CharacteristicRuntime) UUID() gatt.UUID { return r.desc.UUID }

// SubscriberCount returns the live subscription count.
func (r *CharacteristicRuntime) SubscriberCount() int {
	return int(r.subscriberCount.Load())
}

// IsSubscribed reports whether at least one peer is subscribed.
func (r *CharacteristicRuntime) IsSubscribed() bool {
	return r.subscriberCount.Load() > 0
}

// cacheable reports whether the read path may short-circuit through the
// notified value: only read+notify(/indicate) characteristics qualify.
func (r *CharacteristicRuntime) cacheable() bool {
	return r.desc.Permissions.CanRead && r.desc.Permissions.CanSubscribe()
}

// SetValue pushes a new value: under the characteristic's lock the value is
// written into attribute storage and, if the permission set allows it,
// transmitted to subscribers. The freshness flag is set after the lock is
// released, so a racing reader sees it true only once the underlying value
// is actually current — and only when somebody is subscribed, because with
// zero subscribers no notification reflects device state to anyone.
func (r *CharacteristicRuntime) SetValue(v []byte) error {
	if err := r.desc.Value.CheckSize(v); err != nil {
		return configErrf(string(r.desc.UUID), "%v", err)
	}

	var pushErr error
	r.lock.Lock()
	r.attr.Call(func(attr *stack.Characteristic) {
		if pushErr = (*attr).SetValue(v); pushErr != nil {
			return
		}
		if r.desc.Permissions.CanSubscribe() {
			pushErr = (*attr).Notify()
		}
	})
	if pushErr == nil {
		r.lastValue = append(r.lastValue[:0:0], v...)
	}
	r.lock.Unlock()

	if pushErr != nil {
		return pushErr
	}
	if r.cacheable() && r.subscriberCount.Load() > 0 {
		r.notifiedValueValid.Store(true)
	}
	return nil
}

// OnRead serves a peer read: the cached value when it is fresh, the user
// read handler otherwise. A handler-produced value is pushed before being
// returned so subscribers observe the same bytes the reader got.
func (r *CharacteristicRuntime) OnRead(conn stack.ConnInfo) ([]byte, error) {
	if r.cacheable() && r.notifiedValueValid.Load() {
		r.lock.Lock()
		v := append([]byte(nil), r.lastValue...)
		r.lock.Unlock()
		r.log.WithField("len", len(v)).Trace("read served from notified value")
		return v, nil
	}

	if r.desc.OnRead == nil {
		r.lock.Lock()
		v := append([]byte(nil), r.lastValue...)
		r.lock.Unlock()
		return v, nil
	}

	v, err := r.desc.OnRead()
	if err != nil {
		r.log.WithError(err).Warn("read handler failed")
		return nil, err
	}
	if err := r.SetValue(v); err != nil {
		return nil, err
	}
	return v, nil
}

// OnWrite decodes a peer write against the declared value representation and
// hands it to the user write handler. A payload shorter than the declared
// size is a fatal invariant breach: malformed or hostile input that must not
// reach user logic.
func (r *CharacteristicRuntime) OnWrite(conn stack.ConnInfo, payload []byte) error {
	v, err := gatt.Decode(r.desc.Value, payload)
	if err != nil {
		violate(r.desc.UUID, "write payload: %v", err)
	}
	if r.desc.OnWrite != nil {
		r.desc.OnWrite(v)
	}
	return nil
}

// OnSubscribe tracks a CCC change and then hands the raw CCC value to the
// user subscribe handler. The counter is independent of the value-update
// lock so subscribe bookkeeping never couples to notify transmission; the
// handler runs after the counter settles, so IsSubscribed observed from
// inside it already reflects this change.
func (r *CharacteristicRuntime) OnSubscribe(conn stack.ConnInfo, subValue uint16) {
	if subValue != stack.SubscribeNone {
		n := r.subscriberCount.Add(1)
		if n > r.maxSubscribers {
			violate(r.desc.UUID, "subscriber count %d exceeds connection bound %d", n, r.maxSubscribers)
		}
		r.log.WithFields(logrus.Fields{"subscribers": n, "sub_value": subValue}).Debug("peer subscribed")
	} else {
		n := r.subscriberCount.Add(-1)
		if n < 0 {
			violate(r.desc.UUID, "unsubscribe without matching subscribe")
		}
		if n == 0 {
			// Only the last unsubscriber invalidates freshness; peers still
			// attached keep their cache.
			r.notifiedValueValid.Store(false)
		}
		r.log.WithField("subscribers", n).Debug("peer unsubscribed")
	}

	if r.desc.OnSubscribe != nil {
		r.desc.OnSubscribe(subValue)
	}
}

// OnStatus forwards the stack's raw transmission completion code.
func (r *CharacteristicRuntime) OnStatus(conn stack.ConnInfo, code int) {
	if r.desc.OnStatus != nil {
		r.desc.OnStatus(code)
	}
}
