package peripheral

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blex/gatt"
	"github.com/srg/blex/internal/guarded"
	"github.com/srg/blex/stack"
)

// fakeAttr is a minimal stack.Characteristic for white-box runtime tests.
type fakeAttr struct {
	mu       sync.Mutex
	uuid     gatt.UUID
	value    []byte
	sets     int
	notifies int

	// onSet, when non-nil, runs inside SetValue: used by the lock-domain
	// overlap test to hold the critical section open.
	onSet func()
}

func (f *fakeAttr) UUID() gatt.UUID { return f.uuid }

func (f *fakeAttr) SetValue(v []byte) error {
	f.mu.Lock()
	f.value = append([]byte(nil), v...)
	f.sets++
	f.mu.Unlock()
	if f.onSet != nil {
		f.onSet()
	}
	return nil
}

func (f *fakeAttr) Notify() error {
	f.mu.Lock()
	f.notifies++
	f.mu.Unlock()
	return nil
}

func (f *fakeAttr) AddDescriptor(gatt.UUID, gatt.Property, []byte) (stack.Descriptor, error) {
	return nil, nil
}

func (f *fakeAttr) snapshot() ([]byte, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.value...), f.sets, f.notifies
}

type fakeConn struct{ handle uint16 }

func (f fakeConn) ConnHandle() uint16  { return f.handle }
func (f fakeConn) PeerAddress() string { return "aa:bb:cc:dd:ee:ff" }
func (f fakeConn) MTU() uint16         { return 23 }

func newTestRuntime(t *testing.T, desc *gatt.CharacteristicDescription, maxSubs int) (*CharacteristicRuntime, *fakeAttr) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	locks := guarded.NewRegistry(guarded.MultiCore)
	rt := newCharacteristicRuntime(log, locks, "181a", desc, maxSubs)
	attr := &fakeAttr{uuid: desc.UUID}
	rt.bind(attr)
	return rt, attr
}

func notifyReadDesc(onRead gatt.ReadHandler) *gatt.CharacteristicDescription {
	return &gatt.CharacteristicDescription{
		UUID:        "2a6e",
		Value:       gatt.Scalar(gatt.KindUint16),
		Permissions: gatt.Combine(gatt.Readable, gatt.Notifiable),
		OnRead:      onRead,
	}
}

func TestSubscriberCounting(t *testing.T) {
	rt, _ := newTestRuntime(t, notifyReadDesc(nil), 4)
	conn := fakeConn{1}

	assert.Equal(t, 0, rt.SubscriberCount())
	assert.False(t, rt.IsSubscribed())

	// Count always equals subscribes minus unsubscribes delivered so far.
	rt.OnSubscribe(conn, stack.SubscribeNotification)
	rt.OnSubscribe(fakeConn{2}, stack.SubscribeIndication)
	assert.Equal(t, 2, rt.SubscriberCount())

	rt.OnSubscribe(conn, stack.SubscribeNone)
	assert.Equal(t, 1, rt.SubscriberCount())
	assert.True(t, rt.IsSubscribed())

	rt.OnSubscribe(fakeConn{2}, stack.SubscribeNone)
	assert.Equal(t, 0, rt.SubscriberCount())
	assert.False(t, rt.IsSubscribed())
}

func TestSubscribeHandlerObservesCCCValues(t *testing.T) {
	var seen []uint16
	desc := notifyReadDesc(nil)
	desc.OnSubscribe = func(subValue uint16) {
		seen = append(seen, subValue)
	}
	rt, _ := newTestRuntime(t, desc, 4)

	rt.OnSubscribe(fakeConn{1}, stack.SubscribeNotification)
	rt.OnSubscribe(fakeConn{2}, stack.SubscribeIndication)
	rt.OnSubscribe(fakeConn{1}, stack.SubscribeNone)
	rt.OnSubscribe(fakeConn{2}, stack.SubscribeNone)

	assert.Equal(t, []uint16{
		stack.SubscribeNotification,
		stack.SubscribeIndication,
		stack.SubscribeNone,
		stack.SubscribeNone,
	}, seen, "handler receives every raw CCC value")
}

func TestSubscribeHandlerSeesSettledCount(t *testing.T) {
	var counts []int
	desc := notifyReadDesc(nil)
	rt, _ := newTestRuntime(t, desc, 4)
	desc.OnSubscribe = func(uint16) {
		counts = append(counts, rt.SubscriberCount())
	}

	rt.OnSubscribe(fakeConn{1}, stack.SubscribeNotification)
	rt.OnSubscribe(fakeConn{1}, stack.SubscribeNone)

	assert.Equal(t, []int{1, 0}, counts, "counter updates before the handler runs")
}

func TestUnsubscribeWithoutSubscribePanics(t *testing.T) {
	rt, _ := newTestRuntime(t, notifyReadDesc(nil), 4)
	assert.PanicsWithError(t,
		"protocol violation: characteristic 2a6e: unsubscribe without matching subscribe",
		func() { rt.OnSubscribe(fakeConn{1}, stack.SubscribeNone) })
}

func TestSubscriberBoundPanics(t *testing.T) {
	rt, _ := newTestRuntime(t, notifyReadDesc(nil), 2)
	rt.OnSubscribe(fakeConn{1}, stack.SubscribeNotification)
	rt.OnSubscribe(fakeConn{2}, stack.SubscribeNotification)
	assert.Panics(t, func() { rt.OnSubscribe(fakeConn{3}, stack.SubscribeNotification) })
}

func TestFreshnessLifecycle(t *testing.T) {
	rt, _ := newTestRuntime(t, notifyReadDesc(nil), 4)

	assert.False(t, rt.notifiedValueValid.Load(), "fresh runtime starts invalid")

	// A push with zero subscribers does not engage caching.
	require.NoError(t, rt.SetValue(gatt.EncodeUint16(1)))
	assert.False(t, rt.notifiedValueValid.Load())

	rt.OnSubscribe(fakeConn{1}, stack.SubscribeNotification)
	assert.False(t, rt.notifiedValueValid.Load(), "subscribing alone does not validate")

	require.NoError(t, rt.SetValue(gatt.EncodeUint16(2)))
	assert.True(t, rt.notifiedValueValid.Load(), "first push after 0->1 validates")

	// Transitions among counts > 0 leave the flag alone.
	rt.OnSubscribe(fakeConn{2}, stack.SubscribeNotification)
	assert.True(t, rt.notifiedValueValid.Load())
	rt.OnSubscribe(fakeConn{2}, stack.SubscribeNone)
	assert.True(t, rt.notifiedValueValid.Load(), "2->1 does not invalidate")

	// Only the last unsubscriber clears it.
	rt.OnSubscribe(fakeConn{1}, stack.SubscribeNone)
	assert.False(t, rt.notifiedValueValid.Load(), "1->0 invalidates")
}

func TestReadCacheHit(t *testing.T) {
	reads := 0
	rt, attr := newTestRuntime(t, notifyReadDesc(func() ([]byte, error) {
		reads++
		return gatt.EncodeUint16(9999), nil
	}), 4)

	rt.OnSubscribe(fakeConn{1}, stack.SubscribeNotification)
	require.NoError(t, rt.SetValue(gatt.EncodeUint16(42)))

	// A read strictly after a push returns exactly the pushed value, without
	// touching user logic.
	v, err := rt.OnRead(fakeConn{1})
	require.NoError(t, err)
	assert.Equal(t, gatt.EncodeUint16(42), v)
	assert.Zero(t, reads, "read handler must not run on a cache hit")

	_, _, notifies := attr.snapshot()
	assert.Equal(t, 1, notifies, "cache hit does not re-notify")
}

func TestReadAtZeroSubscribersResamples(t *testing.T) {
	sample := uint16(100)
	reads := 0
	rt, _ := newTestRuntime(t, notifyReadDesc(func() ([]byte, error) {
		reads++
		sample++
		return gatt.EncodeUint16(sample), nil
	}), 4)

	v1, err := rt.OnRead(fakeConn{1})
	require.NoError(t, err)
	v2, err := rt.OnRead(fakeConn{1})
	require.NoError(t, err)

	assert.Equal(t, 2, reads, "without subscribers caching is not engaged")
	assert.Equal(t, gatt.EncodeUint16(101), v1)
	assert.Equal(t, gatt.EncodeUint16(102), v2)
}

func TestReadHandlerResultIsPushed(t *testing.T) {
	rt, attr := newTestRuntime(t, notifyReadDesc(func() ([]byte, error) {
		return gatt.EncodeUint16(7), nil
	}), 4)
	rt.OnSubscribe(fakeConn{1}, stack.SubscribeNotification)

	v, err := rt.OnRead(fakeConn{1})
	require.NoError(t, err)
	assert.Equal(t, gatt.EncodeUint16(7), v)

	value, sets, notifies := attr.snapshot()
	assert.Equal(t, gatt.EncodeUint16(7), value, "handler result lands in attribute storage")
	assert.Equal(t, 1, sets)
	assert.Equal(t, 1, notifies, "subscribers see the same bytes the reader got")

	// The push also validated the cache, so a second read is a hit.
	_, err = rt.OnRead(fakeConn{1})
	require.NoError(t, err)
	_, sets, _ = attr.snapshot()
	assert.Equal(t, 1, sets)
}

func TestReadWithoutHandlerServesStoredValue(t *testing.T) {
	rt, _ := newTestRuntime(t, notifyReadDesc(nil), 4)
	require.NoError(t, rt.SetValue(gatt.EncodeUint16(5)))
	v, err := rt.OnRead(fakeConn{1})
	require.NoError(t, err)
	assert.Equal(t, gatt.EncodeUint16(5), v)
}

func TestWriteDelivery(t *testing.T) {
	var got gatt.Value
	desc := &gatt.CharacteristicDescription{
		UUID:        "2a6f",
		Value:       gatt.Scalar(gatt.KindUint16),
		Permissions: gatt.Combine(gatt.Writable),
		OnWrite:     func(v gatt.Value) { got = v },
	}
	rt, _ := newTestRuntime(t, desc, 4)

	require.NoError(t, rt.OnWrite(fakeConn{1}, []byte{0x39, 0x30}))
	assert.Equal(t, uint16(12345), got.Uint16())

	// Longer payloads are truncated to the declared size, not rejected.
	require.NoError(t, rt.OnWrite(fakeConn{1}, []byte{0x01, 0x00, 0xFF}))
	assert.Equal(t, uint16(1), got.Uint16())
}

func TestShortWritePayloadPanics(t *testing.T) {
	desc := &gatt.CharacteristicDescription{
		UUID:        "2a6f",
		Value:       gatt.Scalar(gatt.KindUint32),
		Permissions: gatt.Combine(gatt.Writable),
		OnWrite:     func(gatt.Value) {},
	}
	rt, _ := newTestRuntime(t, desc, 4)
	assert.Panics(t, func() { rt.OnWrite(fakeConn{1}, []byte{1, 2}) })
}

func TestStatusForwarded(t *testing.T) {
	var codes []int
	desc := notifyReadDesc(nil)
	desc.OnStatus = func(code int) { codes = append(codes, code) }
	rt, _ := newTestRuntime(t, desc, 4)

	rt.OnStatus(fakeConn{1}, 0)
	rt.OnStatus(fakeConn{1}, 14)
	assert.Equal(t, []int{0, 14}, codes)
}

func TestSetValueSizeMismatch(t *testing.T) {
	rt, attr := newTestRuntime(t, notifyReadDesc(nil), 4)
	err := rt.SetValue([]byte{1})
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	_, sets, _ := attr.snapshot()
	assert.Zero(t, sets, "rejected push never reaches the attribute")
}

// Two characteristics under independent lock domains must accept concurrent
// pushes without either blocking the other: both critical sections are held
// open simultaneously, which would deadlock if the domains shared a lock.
func TestIndependentLockDomainsOverlap(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	locks := guarded.NewRegistry(guarded.MultiCore)

	entered := make(chan string, 2)
	release := make(chan struct{})

	mkRuntime := func(uuid gatt.UUID) *CharacteristicRuntime {
		desc := &gatt.CharacteristicDescription{
			UUID:        uuid,
			Value:       gatt.Scalar(gatt.KindUint16),
			Permissions: gatt.Combine(gatt.Readable, gatt.Notifiable),
			OnRead:      func() ([]byte, error) { return gatt.EncodeUint16(0), nil },
		}
		rt := newCharacteristicRuntime(log, locks, "181a", desc, 4)
		rt.bind(&fakeAttr{uuid: uuid, onSet: func() {
			entered <- string(uuid)
			<-release
		}})
		return rt
	}

	a := mkRuntime("2a6e")
	b := mkRuntime("2a6f")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = a.SetValue(gatt.EncodeUint16(1)) }()
	go func() { defer wg.Done(); _ = b.SetValue(gatt.EncodeUint16(2)) }()

	timeout := time.After(2 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-entered:
		case <-timeout:
			t.Fatal("critical sections did not overlap: lock domains are not independent")
		}
	}
	close(release)
	wg.Wait()
}
