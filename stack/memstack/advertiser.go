package memstack

import (
	"context"
	"fmt"
	"sync"

	"github.com/srg/blex/gatt"
	"github.com/srg/blex/stack"
)

// Advertiser implements stack.Advertiser without a radio. The installed
// payloads and interval stay inspectable so tests can assert on the exact
// advertising state a controller would broadcast.
type Advertiser struct {
	st *Stack

	mu          sync.Mutex
	data        stack.AdvertisementData
	minMs       uint16
	maxMs       uint16
	advertising bool
	startCount  int
}

func (a *Advertiser) SetData(data stack.AdvertisementData) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data = data
	return nil
}

func (a *Advertiser) SetInterval(minMs, maxMs uint16) error {
	if minMs < gatt.MinAdvIntervalMs || maxMs > gatt.MaxAdvIntervalMs || minMs > maxMs {
		return fmt.Errorf("advertising interval [%d, %d] ms out of range [%d, %d]",
			minMs, maxMs, gatt.MinAdvIntervalMs, gatt.MaxAdvIntervalMs)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.minMs, a.maxMs = minMs, maxMs
	return nil
}

func (a *Advertiser) Start(ctx context.Context) error {
	a.st.mu.Lock()
	initialized := a.st.initialized
	a.st.mu.Unlock()
	if !initialized {
		return ErrNotInitialized
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.advertising {
		return nil
	}
	a.advertising = true
	a.startCount++
	a.st.log.WithField("name", a.data.DeviceName).Debug("memstack: advertising started")
	return nil
}

func (a *Advertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopInner()
	return nil
}

func (a *Advertiser) Advertising() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.advertising
}

// Data returns the installed payload pair, for assertions.
func (a *Advertiser) Data() stack.AdvertisementData {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.data
}

// Interval returns the installed interval window in milliseconds.
func (a *Advertiser) Interval() (minMs, maxMs uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.minMs, a.maxMs
}

// StartCount reports how many Stop/Start cycles have begun.
func (a *Advertiser) StartCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startCount
}

func (a *Advertiser) stopInner() { a.advertising = false }

// stopLocked is called from Stack.Close with the stack lock held.
func (a *Advertiser) stopLocked() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopInner()
}
