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
	"context"
	"testing"
	"time"
)

func TestLeakyBucket_AcquireWithinCapacity(t *testing.T) {
	b := newLeakyBucket(5, 5, time.Hour)
	defer b.close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := b.acquire(ctx, 1, false); err != nil {
			t.Fatalf("acquire %d: unexpected error: %v", i, err)
		}
	}
}

func TestLeakyBucket_HighPriorityServedFirst(t *testing.T) {
	b := newLeakyBucket(1, 1, time.Hour)
	defer b.close()

	ctx := context.Background()
	if err := b.acquire(ctx, 1, false); err != nil {
		t.Fatalf("drain initial token: %v", err)
	}

	order := make(chan string, 2)
	go func() {
		_ = b.acquire(ctx, 1, false)
		order <- "low"
	}()
	time.Sleep(20 * time.Millisecond) // ensure the low-priority waiter enqueues first
	go func() {
		_ = b.acquire(ctx, 1, true)
		order <- "high"
	}()
	time.Sleep(20 * time.Millisecond)

	b.refill()

	first := <-order
	if first != "high" {
		t.Fatalf("expected high-priority waiter served first, got %q", first)
	}
}

func TestLeakyBucket_WaitersSurviveReconfigure(t *testing.T) {
	b := newLeakyBucket(1, 1, time.Hour)
	defer b.close()

	ctx := context.Background()
	if err := b.acquire(ctx, 1, false); err != nil {
		t.Fatalf("drain initial token: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- b.acquire(ctx, 1, false)
	}()
	time.Sleep(20 * time.Millisecond)

	b.reconfigure(10, 10, time.Hour)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("waiter should have been served after reconfigure: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter enqueued before reconfigure was never served")
	}
}

func TestLeakyBucket_CloseReleasesWaiters(t *testing.T) {
	b := newLeakyBucket(1, 1, time.Hour)
	_ = b.acquire(context.Background(), 1, false)

	done := make(chan error, 1)
	go func() { done <- b.acquire(context.Background(), 1, false) }()
	time.Sleep(20 * time.Millisecond)

	b.close()

	select {
	case err := <-done:
		if err != errShuttingDown {
			t.Fatalf("expected errShuttingDown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was never released by close()")
	}
}

func TestSafeRequestRate(t *testing.T) {
	cases := []struct {
		name                string
		max                 int
		refillIntervalMs    int
		heartIntervalMs     int
		want                int
	}{
		{"typical", 120, 60000, 41250, 116},
		{"clamped to zero", 10, 60000, 1000, 0},
		{"zero heartbeat interval", 120, 60000, 0, 0},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := safeRequestRate(c.max, c.refillIntervalMs, c.heartIntervalMs)
			if got != c.want {
				t.Errorf("safeRequestRate(%d, %d, %d) = %d, want %d", c.max, c.refillIntervalMs, c.heartIntervalMs, got, c.want)
			}
			if got < 0 {
				t.Errorf("safeRequestRate must never return negative, got %d", got)
			}
		})
	}
}
