// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bridge

import "time"

const (
	rttShift    = 3
	jitterShift = 4
)

// Telemetry is a snapshot of the bridge counters.
type Telemetry struct {
	PingCount  uint64
	MeanRTT    time.Duration
	LastJitter time.Duration
	TimedOut   uint64
	Completed  uint64
	Stray      uint64
}

type telemetry struct {
	Telemetry
	sampled    bool
	lastSample time.Duration
}

// observe feeds one round trip sample. The first sample sets the mean;
// later ones move it by 1/8 of the error. Jitter tracks the change between
// consecutive samples with a 1/16 gain.
func (t *telemetry) observe(sample time.Duration) {
	t.Completed++
	if !t.sampled {
		t.sampled = true
		t.MeanRTT = sample
		t.lastSample = sample
		return
	}

	t.MeanRTT += (sample - t.MeanRTT) >> rttShift

	delta := sample - t.lastSample
	if delta < 0 {
		delta = -delta
	}
	t.LastJitter += (delta - t.LastJitter) >> jitterShift
	t.lastSample = sample
}
