package guarded

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrategy_NewLocker(t *testing.T) {
	tests := []struct {
		name        string
		strategy    Strategy
		expectMutex bool
	}{
		{name: "single-core yields no-op locker", strategy: SingleCore, expectMutex: false},
		{name: "multi-core yields real mutex", strategy: MultiCore, expectMutex: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := tt.strategy.NewLocker()
			require.NotNil(t, l)

			_, isMutex := l.(*sync.Mutex)
			assert.Equal(t, tt.expectMutex, isMutex)

			// Either flavor must be usable as a plain locker
			l.Lock()
			l.Unlock()
		})
	}
}

func TestRegistry_SameTagSameLocker(t *testing.T) {
	reg := NewRegistry(MultiCore)

	a := reg.Locker("char/2a37")
	b := reg.Locker("char/2a37")
	c := reg.Locker("char/2a38")

	assert.Same(t, a, b, "same tag MUST map to the same lock domain")
	assert.NotSame(t, a, c, "distinct tags MUST NOT share a lock domain")
	assert.Equal(t, 2, reg.Len())
}

func TestRegistry_ConcurrentLookup(t *testing.T) {
	reg := NewRegistry(MultiCore)

	const goroutines = 16
	results := make([]sync.Locker, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = reg.Locker("server")
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, 1, reg.Len())
}

func TestImmutableHandle_PublishOnce(t *testing.T) {
	h := NewImmutableHandle[int]("server")

	assert.False(t, h.Ready())
	assert.Nil(t, h.Load(), "unpublished handle reads as nil, not as an error")

	v := 42
	h.Publish(&v)

	assert.True(t, h.Ready())
	require.NotNil(t, h.Load())
	assert.Equal(t, 42, *h.Load())
}

func TestImmutableHandle_DoublePublishPanics(t *testing.T) {
	h := NewImmutableHandle[int]("adv")
	v := 1
	h.Publish(&v)

	assert.PanicsWithValue(t, `guarded: immutable handle "adv" published twice`, func() {
		w := 2
		h.Publish(&w)
	})
}

func TestMutableHandle_LoadPanics(t *testing.T) {
	reg := NewRegistry(MultiCore)
	h := NewHandle[int](reg, "char/2a19")

	assert.Panics(t, func() { h.Load() }, "mutable handles have no lock-free read path")
}

func TestHandle_CallBeforePublishIsNoop(t *testing.T) {
	reg := NewRegistry(MultiCore)

	tests := []struct {
		name   string
		handle *Handle[int]
	}{
		{name: "immutable", handle: NewImmutableHandle[int]("a")},
		{name: "mutable", handle: NewHandle[int](reg, "b")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			tt.handle.Call(func(*int) { called = true })
			assert.False(t, called, "Call MUST NOT run fn before publication")

			// CallValue returns the zero value for an unpublished target
			got := CallValue(tt.handle, func(p *int) int { return *p })
			assert.Zero(t, got)

			// WithLock still runs, handing the caller a nil pointer
			sawNil := false
			tt.handle.WithLock(func(p *int) { sawNil = p == nil })
			assert.True(t, sawNil)
		})
	}
}

func TestHandle_CallAfterPublish(t *testing.T) {
	reg := NewRegistry(MultiCore)
	h := NewHandle[int](reg, "char/2a37")

	v := 7
	h.Publish(&v)

	got := CallValue(h, func(p *int) int { return *p * 2 })
	assert.Equal(t, 14, got)

	// Mutable handles may be republished
	w := 9
	h.Publish(&w)
	assert.Equal(t, 9, CallValue(h, func(p *int) int { return *p }))
}

func TestCallback_InvokeUnsetIsNoop(t *testing.T) {
	reg := NewRegistry(MultiCore)
	cb := NewCallback[func(int)](reg, "char/2a37")

	called := false
	cb.Invoke(func(fn func(int)) {
		called = true
		fn(0)
	})
	assert.False(t, called)
	assert.False(t, cb.IsSet())
}

func TestCallback_SetGetInvokeClear(t *testing.T) {
	reg := NewRegistry(MultiCore)
	cb := NewCallback[func(int)](reg, "char/2a37")

	var got int
	cb.Set(func(v int) { got = v })
	assert.True(t, cb.IsSet())

	fn, ok := cb.Get()
	require.True(t, ok)
	require.NotNil(t, fn)

	cb.Invoke(func(fn func(int)) { fn(99) })
	assert.Equal(t, 99, got)

	cb.Clear()
	assert.False(t, cb.IsSet())
	cb.Invoke(func(fn func(int)) { fn(1) })
	assert.Equal(t, 99, got, "cleared callback MUST NOT fire")
}
