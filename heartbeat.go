/************************************************************************************
 *
 * wyrmgate, a Discord Gateway shard client for Go
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 * Copyright 2025 Marouane Souiri
 *
 * Licensed under the BSD 3-Clause License.
 * See the LICENSE file for details.
 *
 ************************************************************************************/

package wyrmgate

import (
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tevino/abool"
)

// heartbeatEngine owns the jittered-first-beat / steady-interval heartbeat
// protocol described in spec.md §4.3. It is driven entirely by the
// shard's Hello handler and its own timers; sendFn/isOpenFn/onZombie are
// supplied by the Shard so this type has no knowledge of the transport or
// state machine.
type heartbeatEngine struct {
	mu sync.Mutex

	intervalMs   int64
	acknowledged *abool.AtomicBool

	lastBeatAt atomic.Int64 // UnixNano, 0 if never beaten
	lastAckAt  atomic.Int64
	rttMs      atomic.Int64

	jitterTimer *time.Timer
	ticker      *time.Ticker
	stopCh      chan struct{}
	running     bool

	sendFn   func(seq *int64) error
	isOpenFn func() bool
	onZombie func()
	getSeq   func() *int64
	onBeat   func()
}

func newHeartbeatEngine() *heartbeatEngine {
	return &heartbeatEngine{acknowledged: abool.New()}
}

// start begins the heartbeat protocol for a freshly received Hello. Any
// previously running timers are stopped first.
func (h *heartbeatEngine) start(intervalMs int64, sendFn func(seq *int64) error, isOpenFn func() bool, getSeq func() *int64, onZombie func(), onBeat func()) {
	h.stop()

	h.mu.Lock()
	h.intervalMs = intervalMs
	h.sendFn = sendFn
	h.isOpenFn = isOpenFn
	h.getSeq = getSeq
	h.onZombie = onZombie
	h.onBeat = onBeat
	h.acknowledged.Set()
	stopCh := make(chan struct{})
	h.stopCh = stopCh
	h.running = true
	h.mu.Unlock()

	jitter := jitterDelay(intervalMs)
	h.mu.Lock()
	h.jitterTimer = time.AfterFunc(jitter, func() { h.onJitterFire(stopCh) })
	h.mu.Unlock()
}

// jitterDelay samples ceil(interval * max(random(), 0.5)) per §4.3 step 3;
// the 0.5 floor avoids a zero-delay race against the server.
func jitterDelay(intervalMs int64) time.Duration {
	factor := math.Max(rand.Float64(), 0.5)
	delayMs := math.Ceil(float64(intervalMs) * factor)
	return time.Duration(delayMs) * time.Millisecond
}

func (h *heartbeatEngine) onJitterFire(stopCh chan struct{}) {
	select {
	case <-stopCh:
		return
	default:
	}

	if !h.isOpenFn() {
		return
	}

	h.beat()

	h.mu.Lock()
	if h.stopCh != stopCh {
		h.mu.Unlock()
		return
	}
	h.ticker = time.NewTicker(time.Duration(h.intervalMs) * time.Millisecond)
	ticker := h.ticker
	h.mu.Unlock()

	go h.steadyLoop(stopCh, ticker)
}

func (h *heartbeatEngine) steadyLoop(stopCh chan struct{}, ticker *time.Ticker) {
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if !h.isOpenFn() {
				continue
			}
			if !h.acknowledged.IsSet() {
				h.onZombie()
				return
			}
			h.beat()
		}
	}
}

// beat transmits a heartbeat, bypassing the leaky bucket by design
// (heartbeats are server-reserved traffic, §5 "Resource policy").
func (h *heartbeatEngine) beat() {
	h.lastBeatAt.Store(time.Now().UnixNano())
	h.acknowledged.UnSet()
	_ = h.sendFn(h.getSeq())
	if h.onBeat != nil {
		h.onBeat()
	}
}

// onPacket updates RTT bookkeeping on every inbound packet, not just
// HeartbeatAck (§4.3): the first packet received after an un-acked beat
// measures RTT and marks the beat acknowledged.
func (h *heartbeatEngine) onPacket() {
	now := time.Now().UnixNano()
	h.lastAckAt.Store(now)

	last := h.lastBeatAt.Load()
	if last != 0 && !h.acknowledged.IsSet() {
		h.rttMs.Store((now - last) / int64(time.Millisecond))
		h.acknowledged.Set()
	}
}

// rtt returns the most recently measured round-trip time.
func (h *heartbeatEngine) rtt() time.Duration {
	return time.Duration(h.rttMs.Load()) * time.Millisecond
}

// isAcknowledged reports whether the last transmitted heartbeat has been
// acknowledged. start() sets it before the first beat; a newly constructed
// engine reports false until start() runs.
func (h *heartbeatEngine) isAcknowledged() bool {
	return h.acknowledged.IsSet()
}

// stop cancels both timers synchronously, per the design note that
// cancellation on close must be synchronous.
func (h *heartbeatEngine) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return
	}
	h.running = false
	close(h.stopCh)
	if h.jitterTimer != nil {
		h.jitterTimer.Stop()
	}
	if h.ticker != nil {
		h.ticker.Stop()
	}
}
