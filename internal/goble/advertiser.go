//go:build linux

package goble

import (
	"context"
	"sync"
	"time"

	"github.com/go-ble/ble"

	"github.com/srg/blex/internal/groutine"
	"github.com/srg/blex/stack"
)

// Advertiser implements stack.Advertiser over the library's advertising
// call. The library assembles the PDU itself, overflowing into the scan
// response as needed, so the primary/scan-response partition is advisory
// here: all service UUIDs are handed over in partition order and the
// complete name is used.
type Advertiser struct {
	st *Stack

	mu          sync.Mutex
	data        stack.AdvertisementData
	minMs       uint16
	maxMs       uint16
	advertising bool
	cancel      context.CancelFunc
}

func (a *Advertiser) SetData(data stack.AdvertisementData) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data = data
	return nil
}

func (a *Advertiser) SetInterval(minMs, maxMs uint16) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.minMs, a.maxMs = minMs, maxMs
	a.st.log.WithField("window_ms", []uint16{minMs, maxMs}).Debug("goble: advertising interval not pushed to controller")
	return nil
}

func (a *Advertiser) Start(ctx context.Context) error {
	a.st.mu.Lock()
	initialized := a.st.initialized
	dev := a.st.dev
	a.st.mu.Unlock()
	if !initialized {
		return ErrNotInitialized
	}

	a.mu.Lock()
	if a.advertising {
		a.mu.Unlock()
		return nil
	}
	data := a.data
	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.advertising = true
	a.mu.Unlock()

	uuids := make([]ble.UUID, 0, len(data.PrimaryServiceUUIDs)+len(data.ScanRspServiceUUIDs))
	for _, u := range data.PrimaryServiceUUIDs {
		if parsed, err := parseUUID(u); err == nil {
			uuids = append(uuids, parsed)
		}
	}
	for _, u := range data.ScanRspServiceUUIDs {
		if parsed, err := parseUUID(u); err == nil {
			uuids = append(uuids, parsed)
		}
	}
	name := data.DeviceName
	if name == "" {
		name = data.ShortName
	}

	groutine.Go(loopCtx, "goble-advertiser", func(ctx context.Context) {
		for ctx.Err() == nil {
			if err := dev.AdvertiseNameAndServices(ctx, name, uuids...); err != nil && ctx.Err() == nil {
				a.st.log.WithError(err).Warn("goble: advertising interrupted, retrying")
				time.Sleep(time.Second)
			}
		}
		a.mu.Lock()
		a.advertising = false
		a.mu.Unlock()
	})
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

func (a *Advertiser) stopInner() {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.advertising = false
}

// stopLocked is called from Stack.Close with the stack lock held.
func (a *Advertiser) stopLocked() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopInner()
}
