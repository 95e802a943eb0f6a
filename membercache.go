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
	"sync"
)

// RequestMembersResult is what a requestMembers() call resolves to: every
// member object collected across all GUILD_MEMBERS_CHUNK packets sharing
// its nonce, in the order they arrived.
type RequestMembersResult struct {
	GuildID string
	Members []map[string]any
}

// pendingMembersRequest tracks one in-flight requestMembers() correlation,
// keyed by the nonce the shard generated when sending the command.
type pendingMembersRequest struct {
	guildID string
	members []map[string]any
	want    int // chunk_count once the first chunk has arrived, 0 until then
	got     int
	done    chan struct{}
	err     error
}

// memberCache correlates RequestGuildMembers commands with their
// GUILD_MEMBERS_CHUNK responses by nonce, per spec.md's "cache.requestMembers"
// collaborator. A request with no matching guild member cache upstream still
// round-trips through here; it is the Gateway, not this type, that decides
// whether any chunks come back at all.
type memberCache struct {
	mu      sync.Mutex
	pending map[string]*pendingMembersRequest
}

func newMemberCache() *memberCache {
	return &memberCache{pending: make(map[string]*pendingMembersRequest)}
}

// register begins tracking a nonce before the command is sent, so that a
// chunk racing the send still finds its waiter.
func (c *memberCache) register(nonce, guildID string) *pendingMembersRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := &pendingMembersRequest{guildID: guildID, done: make(chan struct{})}
	c.pending[nonce] = req
	return req
}

// onChunk feeds one GUILD_MEMBERS_CHUNK into its matching request. Chunks
// for an unknown nonce (already completed, cancelled, or never ours) are
// dropped silently.
func (c *memberCache) onChunk(d guildMembersChunkData) {
	c.mu.Lock()
	req, ok := c.pending[d.Nonce]
	if !ok {
		c.mu.Unlock()
		return
	}

	req.members = append(req.members, d.Members...)
	req.got++
	req.want = d.ChunkCount
	complete := req.got >= req.want
	if complete {
		delete(c.pending, d.Nonce)
	}
	c.mu.Unlock()

	if complete {
		close(req.done)
	}
}

// cancel fails a pending request without waiting for further chunks, used
// when sending the request command itself fails.
func (c *memberCache) cancel(nonce string, err error) {
	c.mu.Lock()
	req, ok := c.pending[nonce]
	if ok {
		delete(c.pending, nonce)
	}
	c.mu.Unlock()

	if ok {
		req.err = err
		close(req.done)
	}
}

// cancelAll fails every pending request, used on shutdown/disconnect.
func (c *memberCache) cancelAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingMembersRequest)
	c.mu.Unlock()

	for _, req := range pending {
		req.err = err
		close(req.done)
	}
}

// wait blocks until req completes, ctx is cancelled, or the request is
// cancelled by the shard.
func (req *pendingMembersRequest) wait(ctx context.Context) (RequestMembersResult, error) {
	select {
	case <-req.done:
		if req.err != nil {
			return RequestMembersResult{}, req.err
		}
		return RequestMembersResult{GuildID: req.guildID, Members: req.members}, nil
	case <-ctx.Done():
		return RequestMembersResult{}, ctx.Err()
	}
}
