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
	"errors"
	"testing"
	"time"
)

func TestMemberCache_CompletesOnlyAfterAllChunks(t *testing.T) {
	c := newMemberCache()
	req := c.register("nonce-1", "guild-1")

	c.onChunk(guildMembersChunkData{
		GuildID:    "guild-1",
		Members:    []map[string]any{{"user_id": "1"}},
		ChunkIndex: 0,
		ChunkCount: 2,
		Nonce:      "nonce-1",
	})

	select {
	case <-req.done:
		t.Fatal("request completed after only one of two chunks")
	case <-time.After(20 * time.Millisecond):
	}

	c.onChunk(guildMembersChunkData{
		GuildID:    "guild-1",
		Members:    []map[string]any{{"user_id": "2"}},
		ChunkIndex: 1,
		ChunkCount: 2,
		Nonce:      "nonce-1",
	})

	result, err := req.wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if result.GuildID != "guild-1" {
		t.Errorf("GuildID = %q, want guild-1", result.GuildID)
	}
	if len(result.Members) != 2 {
		t.Fatalf("len(Members) = %d, want 2", len(result.Members))
	}
}

func TestMemberCache_UnknownNonceChunkDroppedSilently(t *testing.T) {
	c := newMemberCache()
	req := c.register("nonce-1", "guild-1")

	c.onChunk(guildMembersChunkData{
		GuildID:    "guild-2",
		Members:    []map[string]any{{"user_id": "99"}},
		ChunkIndex: 0,
		ChunkCount: 1,
		Nonce:      "unrelated-nonce",
	})

	select {
	case <-req.done:
		t.Fatal("unrelated nonce chunk should not complete an unrelated request")
	case <-time.After(20 * time.Millisecond):
	}

	c.cancel("nonce-1", errShuttingDown) // cleanup
}

func TestMemberCache_CancelReleasesWithError(t *testing.T) {
	c := newMemberCache()
	req := c.register("nonce-1", "guild-1")

	wantErr := errors.New("connection lost")
	c.cancel("nonce-1", wantErr)

	_, err := req.wait(context.Background())
	if err != wantErr {
		t.Fatalf("wait() error = %v, want %v", err, wantErr)
	}

	// A second cancel on an already-removed nonce must be a no-op, not a
	// double close panic.
	c.cancel("nonce-1", wantErr)
}

func TestMemberCache_CancelAllReleasesEveryPending(t *testing.T) {
	c := newMemberCache()
	req1 := c.register("nonce-1", "guild-1")
	req2 := c.register("nonce-2", "guild-2")

	wantErr := errors.New("shard disconnected")
	c.cancelAll(wantErr)

	for _, req := range []*pendingMembersRequest{req1, req2} {
		_, err := req.wait(context.Background())
		if err != wantErr {
			t.Fatalf("wait() error = %v, want %v", err, wantErr)
		}
	}
}

func TestMemberCache_WaitRespectsContextCancellation(t *testing.T) {
	c := newMemberCache()
	req := c.register("nonce-1", "guild-1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := req.wait(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("wait() error = %v, want context.DeadlineExceeded", err)
	}
}
