package main

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"

	"github.com/srg/blex/gatt"
	"github.com/srg/blex/internal/groutine"
)

const (
	// imuRecordSize is one packed sample: 6 little-endian float32 fields
	// (ax ay az gx gy gz).
	imuRecordSize = 24

	// samplerRingRecords bounds how far the pump may fall behind before
	// fresh samples are dropped at the producer.
	samplerRingRecords = 256

	minSampleRateHz = 1
	maxSampleRateHz = 1000
)

// imuSampler synthesizes 6-axis IMU data. A producer goroutine packs
// samples into a byte ring at the configured rate; a pump goroutine drains
// the ring toward the subscribed characteristic. The ring decouples the
// (steady) sampling clock from the (bursty) BLE transmit path.
type imuSampler struct {
	log    *logrus.Logger
	ring   *ringbuffer.RingBuffer
	rateHz atomic.Uint32

	mu   sync.Mutex
	last []byte
}

func newIMUSampler(log *logrus.Logger, rateHz uint16) *imuSampler {
	s := &imuSampler{
		log:  log,
		ring: ringbuffer.New(samplerRingRecords * imuRecordSize),
	}
	s.rateHz.Store(uint32(rateHz))
	return s
}

// Latest serves the measurement read handler: the most recent sample, or a
// freshly synthesized one before the producer has run.
func (s *imuSampler) Latest() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		s.last = packSample(time.Now())
	}
	return append([]byte(nil), s.last...), nil
}

// ReadRate serves the sample-rate read handler.
func (s *imuSampler) ReadRate() ([]byte, error) {
	return gatt.EncodeUint16(uint16(s.rateHz.Load())), nil
}

// WriteRate serves the sample-rate write handler. Out-of-range requests are
// rejected and logged, never clamped.
func (s *imuSampler) WriteRate(v gatt.Value) {
	hz := v.Uint16()
	if hz < minSampleRateHz || hz > maxSampleRateHz {
		s.log.WithField("rate_hz", hz).Warn("sample rate out of range, keeping current")
		return
	}
	s.rateHz.Store(uint32(hz))
	s.log.WithField("rate_hz", hz).Info("sample rate changed")
}

// Run starts the producer and pump goroutines. push delivers one packed
// record to the characteristic; subscribed gates the pump so samples are
// discarded, not transmitted, while nobody listens.
func (s *imuSampler) Run(ctx context.Context, push func([]byte) error, subscribed func() bool) {
	groutine.Go(ctx, "imu-sampler", func(ctx context.Context) {
		for {
			interval := time.Second / time.Duration(s.rateHz.Load())
			select {
			case <-ctx.Done():
				return
			case now := <-time.After(interval):
				rec := packSample(now)
				s.mu.Lock()
				s.last = append(s.last[:0:0], rec...)
				s.mu.Unlock()
				if _, err := s.ring.TryWrite(rec); err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
					s.log.WithError(err).Warn("sample ring write failed")
				}
			}
		}
	})

	groutine.Go(ctx, "imu-pump", func(ctx context.Context) {
		rec := make([]byte, imuRecordSize)
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			for s.ring.Length() >= imuRecordSize {
				if _, err := s.ring.Read(rec); err != nil {
					if !errors.Is(err, ringbuffer.ErrIsEmpty) {
						s.log.WithError(err).Warn("sample ring read failed")
					}
					break
				}
				if !subscribed() {
					continue // drain and drop
				}
				if err := push(rec); err != nil {
					s.log.WithError(err).Warn("sample push failed")
				}
			}
		}
	})
}

// packSample synthesizes one record: slow sinusoids on the accelerometer
// axes around 1 g, faster ones on the gyro.
func packSample(now time.Time) []byte {
	t := float64(now.UnixNano()) / float64(time.Second)
	return gatt.EncodeFloat32s([]float32{
		float32(0.2 * math.Sin(2*math.Pi*0.5*t)),
		float32(0.2 * math.Cos(2*math.Pi*0.5*t)),
		float32(9.81 + 0.05*math.Sin(2*math.Pi*1.3*t)),
		float32(0.8 * math.Sin(2*math.Pi*2.0*t)),
		float32(0.8 * math.Cos(2*math.Pi*2.0*t)),
		float32(0.1 * math.Sin(2*math.Pi*0.2*t)),
	})
}
