package peripheral

import (
	"fmt"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blex/gatt"
	"github.com/srg/blex/internal/guarded"
	"github.com/srg/blex/stack"
)

// ServiceRegistrar publishes an ordered list of service descriptions onto a
// live stack server. Registration is two-phase: every service and attribute
// is created first, then all services start in a second pass, so a partially
// registered server is never discoverable by a connecting peer.
//
// The registrar owns the declaration-ordered registry of characteristic
// runtimes and the per-identity lock-domain registry the runtimes draw from.
type ServiceRegistrar struct {
	log   *logrus.Logger
	locks *guarded.Registry

	services *orderedmap.OrderedMap[gatt.UUID, stack.Service]
	runtimes *orderedmap.OrderedMap[string, *CharacteristicRuntime]
	started  bool
}

// NewServiceRegistrar creates a registrar drawing lock domains from locks.
func NewServiceRegistrar(log *logrus.Logger, locks *guarded.Registry) *ServiceRegistrar {
	if log == nil {
		log = logrus.New()
	}
	return &ServiceRegistrar{
		log:      log,
		locks:    locks,
		services: orderedmap.New[gatt.UUID, stack.Service](),
		runtimes: orderedmap.New[string, *CharacteristicRuntime](),
	}
}

func runtimeKey(service, char gatt.UUID) string {
	return string(service) + "/" + string(char)
}

// Register creates every service, characteristic and descriptor on srv, in
// declaration order, wiring exactly one CharacteristicRuntime to each
// dynamic characteristic. No service is started; call StartAll afterwards.
// Any creation failure aborts registration and nothing is ever started.
func (r *ServiceRegistrar) Register(srv stack.Server, descs []gatt.ServiceDescription, maxConnections int) error {
	for i := range descs {
		if err := r.registerService(srv, &descs[i], maxConnections); err != nil {
			return err
		}
	}
	return nil
}

func (r *ServiceRegistrar) registerService(srv stack.Server, desc *gatt.ServiceDescription, maxConnections int) error {
	// The consistency pass runs before any attribute exists, so a bad
	// declaration never half-populates the attribute table.
	if err := desc.Validate(); err != nil {
		return configErrf(string(desc.UUID), "%v", err)
	}
	if _, dup := r.services.Get(desc.UUID); dup {
		return configErrf(string(desc.UUID), "service registered twice")
	}

	svc, err := srv.AddService(desc.UUID)
	if err != nil {
		return &ResourceError{Op: fmt.Sprintf("create service %s", desc.UUID.Short()), Err: err}
	}
	log := r.log.WithField("service", desc.UUID.Short())

	for i := range desc.Characteristics {
		if err := r.registerCharacteristic(svc, desc, &desc.Characteristics[i], maxConnections); err != nil {
			return err
		}
	}

	r.services.Set(desc.UUID, svc)
	log.WithField("characteristics", len(desc.Characteristics)).Debug("service registered")
	return nil
}

func (r *ServiceRegistrar) registerCharacteristic(svc stack.Service, sdesc *gatt.ServiceDescription, cdesc *gatt.CharacteristicDescription, maxConnections int) error {
	props := cdesc.Permissions.Properties()

	// The runtime must exist before the attribute: the stack wants its event
	// target at creation time. The attribute handle is published into the
	// runtime right after.
	var rt *CharacteristicRuntime
	var events stack.CharacteristicEvents
	if cdesc.IsDynamic() {
		rt = newCharacteristicRuntime(r.log, r.locks, sdesc.UUID, cdesc, maxConnections)
		events = rt
	}

	attr, err := svc.AddCharacteristic(cdesc.UUID, props, cdesc.Value.MaxLen(), events)
	if err != nil {
		return &ResourceError{Op: fmt.Sprintf("create characteristic %s", cdesc.UUID.Short()), Err: err}
	}

	if cdesc.IsConst() {
		// Written once at creation, never again.
		if err := attr.SetValue(cdesc.Const); err != nil {
			return &ResourceError{Op: fmt.Sprintf("write constant %s", cdesc.UUID.Short()), Err: err}
		}
	}

	for di := range cdesc.Descriptors {
		if err := registerDescriptor(attr, cdesc, &cdesc.Descriptors[di]); err != nil {
			return err
		}
	}

	if rt != nil {
		rt.bind(attr)
		r.runtimes.Set(runtimeKey(sdesc.UUID, cdesc.UUID), rt)
	}
	return nil
}

// registerDescriptor creates one descriptor with its own property mask. The
// payload depends on the descriptor family: fixed bytes, a packed
// presentation format, or an aggregate referencing sibling presentation
// descriptors.
func registerDescriptor(attr stack.Characteristic, cdesc *gatt.CharacteristicDescription, ddesc *gatt.DescriptorDescription) error {
	value := ddesc.Value
	switch {
	case ddesc.Presentation != nil:
		value = ddesc.Presentation.Pack()
	case ddesc.Aggregate != nil:
		value = packAggregate(ddesc.Aggregate)
	}
	if _, err := attr.AddDescriptor(ddesc.UUID, ddesc.Permissions.Properties(), value); err != nil {
		return &ResourceError{
			Op:  fmt.Sprintf("create descriptor %s on %s", ddesc.UUID.Short(), cdesc.UUID.Short()),
			Err: err,
		}
	}
	return nil
}

// packAggregate encodes the aggregate-format member list as 16-bit
// little-endian references.
func packAggregate(members []int) []byte {
	out := make([]byte, 0, 2*len(members))
	for _, m := range members {
		out = append(out, gatt.EncodeUint16(uint16(m))...)
	}
	return out
}

// StartAll starts every registered service in declaration order. Called once
// after all services are registered.
func (r *ServiceRegistrar) StartAll() error {
	if r.started {
		return nil
	}
	for pair := r.services.Oldest(); pair != nil; pair = pair.Next() {
		if err := pair.Value.Start(); err != nil {
			return &ResourceError{Op: fmt.Sprintf("start service %s", pair.Key.Short()), Err: err}
		}
	}
	r.started = true
	return nil
}

// Runtime looks up the runtime of a dynamic characteristic.
func (r *ServiceRegistrar) Runtime(service, char gatt.UUID) (*CharacteristicRuntime, error) {
	rt, ok := r.runtimes.Get(runtimeKey(service, char))
	if !ok {
		return nil, &NotFoundError{Type: "characteristic runtime", Value: runtimeKey(service, char)}
	}
	return rt, nil
}

// Runtimes walks the published runtimes in declaration order.
func (r *ServiceRegistrar) Runtimes(fn func(service string, rt *CharacteristicRuntime) bool) {
	for pair := r.runtimes.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Key, pair.Value) {
			return
		}
	}
}

// ServiceCount reports how many services are registered.
func (r *ServiceRegistrar) ServiceCount() int { return r.services.Len() }
