package peripheral

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/blex/gatt"
	"github.com/srg/blex/stack"
)

// AdvertisingController partitions services into the advertising payload
// pair and owns the radio-tunable overrides.
//
// Partition rule: passive services advertise their UUID in the primary
// payload next to the device's short name, so a passive scan is enough to
// spot the device; active services advertise in the scan response next to
// the full name, visible only to actively scanning centrals. A service
// tagged both appears in both payloads.
//
// Tunables resolve in priority order: a valid runtime override, then the
// declared default, and when both are the unset sentinel the stack's own
// default stays untouched. Overrides are validated against protocol bounds
// and never clamped; an invalid value is rejected and the prior
// configuration survives.
type AdvertisingController struct {
	log *logrus.Entry
	st  stack.Stack
	adv stack.Advertiser

	deviceName string
	shortName  string
	defaults   gatt.AdvertisingConfig
	services   []gatt.ServiceDescription

	mu             sync.Mutex
	txOverride     int8
	intervalMinOvr uint16
	intervalMaxOvr uint16
	startHooksRun  bool
}

// NewAdvertisingController creates a controller for the given profile
// surface. The advertiser is obtained from st once, up front.
func NewAdvertisingController(log *logrus.Logger, st stack.Stack, deviceName, shortName string, defaults gatt.AdvertisingConfig, services []gatt.ServiceDescription) (*AdvertisingController, error) {
	if log == nil {
		log = logrus.New()
	}
	if err := defaults.Validate(); err != nil {
		return nil, configErrf("advertising", "%v", err)
	}
	adv, err := st.Advertiser()
	if err != nil {
		return nil, &ResourceError{Op: "create advertiser", Err: err}
	}
	return &AdvertisingController{
		log:        log.WithField("component", "advertising"),
		st:         st,
		adv:        adv,
		deviceName: deviceName,
		shortName:  shortName,
		defaults:   defaults,
		services:   services,
		txOverride: gatt.TxPowerUnset,
	}, nil
}

// Configure assembles both payloads and applies the resolved tunables.
func (a *AdvertisingController) Configure() error {
	data := stack.AdvertisementData{
		DeviceName: a.deviceName,
		ShortName:  a.shortName,
		Appearance: a.defaults.Appearance,
		Flags:      a.defaults.Flags,
	}
	for i := range a.services {
		svc := &a.services[i]
		if svc.Advertise.Passive() {
			data.PrimaryServiceUUIDs = append(data.PrimaryServiceUUIDs, svc.UUID)
		}
		if svc.Advertise.Active() {
			data.ScanRspServiceUUIDs = append(data.ScanRspServiceUUIDs, svc.UUID)
		}
	}
	if err := a.adv.SetData(data); err != nil {
		return &ResourceError{Op: "set advertising data", Err: err}
	}

	a.mu.Lock()
	tx := a.txOverride
	minMs, maxMs := a.intervalMinOvr, a.intervalMaxOvr
	a.mu.Unlock()

	if tx == gatt.TxPowerUnset {
		tx = a.defaults.TxPowerDBm
	}
	if tx != gatt.TxPowerUnset {
		if err := a.st.SetTxPower(tx); err != nil {
			return &ResourceError{Op: "set tx power", Err: err}
		}
	}

	if minMs == gatt.AdvIntervalUnset && maxMs == gatt.AdvIntervalUnset {
		minMs, maxMs = a.defaults.IntervalMinMs, a.defaults.IntervalMaxMs
	}
	if minMs != gatt.AdvIntervalUnset || maxMs != gatt.AdvIntervalUnset {
		if err := a.adv.SetInterval(minMs, maxMs); err != nil {
			return &ResourceError{Op: "set advertising interval", Err: err}
		}
	}

	a.log.WithFields(logrus.Fields{
		"primary":   len(data.PrimaryServiceUUIDs),
		"scan_rsp":  len(data.ScanRspServiceUUIDs),
		"tx_dbm":    tx,
		"window_ms": []uint16{minMs, maxMs},
	}).Debug("advertising configured")
	return nil
}

// Start begins advertising and runs each service's advertise-start hook the
// first time advertising actually starts.
func (a *AdvertisingController) Start(ctx context.Context) error {
	if err := a.adv.Start(ctx); err != nil {
		return &ResourceError{Op: "start advertising", Err: err}
	}
	a.mu.Lock()
	first := !a.startHooksRun
	a.startHooksRun = true
	a.mu.Unlock()
	if first {
		for i := range a.services {
			if hook := a.services[i].OnAdvertiseStart; hook != nil {
				hook()
			}
		}
	}
	return nil
}

// Stop halts advertising; existing connections are unaffected.
func (a *AdvertisingController) Stop() error {
	return a.adv.Stop()
}

// Advertising reports whether advertising is running.
func (a *AdvertisingController) Advertising() bool {
	return a.adv.Advertising()
}

// SetTxPower stores a transmit-power override after validating it against
// the protocol-legal range.
func (a *AdvertisingController) SetTxPower(dbm int8) error {
	if dbm < gatt.MinTxPowerDBm || dbm > gatt.MaxTxPowerDBm {
		return configErrf("tx_power", "%d dBm out of range [%d, %d]", dbm, gatt.MinTxPowerDBm, gatt.MaxTxPowerDBm)
	}
	a.mu.Lock()
	a.txOverride = dbm
	a.mu.Unlock()
	return nil
}

// SetAdvInterval stores an advertising-interval override after validating
// the window.
func (a *AdvertisingController) SetAdvInterval(minMs, maxMs uint16) error {
	if minMs < gatt.MinAdvIntervalMs || minMs > gatt.MaxAdvIntervalMs ||
		maxMs < gatt.MinAdvIntervalMs || maxMs > gatt.MaxAdvIntervalMs {
		return configErrf("adv_interval", "[%d, %d] ms out of range [%d, %d]",
			minMs, maxMs, gatt.MinAdvIntervalMs, gatt.MaxAdvIntervalMs)
	}
	if minMs > maxMs {
		return configErrf("adv_interval", "min %d ms > max %d ms", minMs, maxMs)
	}
	a.mu.Lock()
	a.intervalMinOvr, a.intervalMaxOvr = minMs, maxMs
	a.mu.Unlock()
	return nil
}

// UpdateAdvertising stops, reconfigures and restarts advertising as one
// logical operation.
func (a *AdvertisingController) UpdateAdvertising(ctx context.Context) error {
	if err := a.adv.Stop(); err != nil {
		return &ResourceError{Op: "stop advertising", Err: err}
	}
	if err := a.Configure(); err != nil {
		return err
	}
	return a.Start(ctx)
}
