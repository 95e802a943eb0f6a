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
	"encoding/json"
	"strings"

	"github.com/bytedance/sonic"
)

// packet is the generic shape of every frame exchanged with the Gateway.
// "d" is left as a raw message and decoded on demand once op/t are known.
//
// https://discord.com/developers/docs/topics/gateway-events#payload-structure
type packet struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
	S  *int64          `json:"s"`
	T  *string         `json:"t"`
}

func decodePacket(data []byte) (packet, error) {
	var p packet
	if err := sonic.Unmarshal(data, &p); err != nil {
		return packet{}, err
	}
	return p, nil
}

// IdentifyProperties describes the client, as sent in the Identify
// payload's "properties" field.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type identifyData struct {
	Token      string              `json:"token"`
	Compress   bool                `json:"compress"`
	Properties IdentifyProperties  `json:"properties"`
	Intents    GatewayIntent       `json:"intents"`
	Shard      [2]int              `json:"shard"`
	Presence   *StatusUpdate       `json:"presence,omitempty"`
}

type identifyPayload struct {
	Op int          `json:"op"`
	D  identifyData `json:"d"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

type resumePayload struct {
	Op int        `json:"op"`
	D  resumeData `json:"d"`
}

type heartbeatPayload struct {
	Op int    `json:"op"`
	D  *int64 `json:"d"`
}

// StatusUpdate is the "d" payload of a Presence Update (op 3) command.
type StatusUpdate struct {
	Since      *int64            `json:"since"`
	Activities []ActivityUpdate  `json:"activities"`
	Status     string            `json:"status"`
	AFK        bool              `json:"afk"`
}

// ActivityUpdate is one entry of StatusUpdate.Activities.
type ActivityUpdate struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	URL  string `json:"url,omitempty"`
}

type presenceUpdatePayload struct {
	Op int          `json:"op"`
	D  StatusUpdate `json:"d"`
}

type voiceStateUpdateData struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}

type voiceStateUpdatePayload struct {
	Op int                   `json:"op"`
	D  voiceStateUpdateData `json:"d"`
}

type requestGuildMembersData struct {
	GuildID   string   `json:"guild_id"`
	Query     *string  `json:"query,omitempty"`
	Limit     int      `json:"limit"`
	Presences bool     `json:"presences,omitempty"`
	UserIDs   []string `json:"user_ids,omitempty"`
	Nonce     string   `json:"nonce"`
}

type requestGuildMembersPayload struct {
	Op int                      `json:"op"`
	D  requestGuildMembersData `json:"d"`
}

// helloData is the "d" payload of a Hello (op 10) packet.
type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// readyData is the subset of the READY dispatch payload the shard cares
// about.
type readyData struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
}

// guildMembersChunkData is the payload of a GUILD_MEMBERS_CHUNK dispatch.
type guildMembersChunkData struct {
	GuildID    string           `json:"guild_id"`
	Members    []map[string]any `json:"members"`
	ChunkIndex int              `json:"chunk_index"`
	ChunkCount int              `json:"chunk_count"`
	Nonce      string           `json:"nonce"`
}

// camelizePacket returns a naming-normalized copy of an inbound
// packet for the generic "message" callback: every key at every level of
// "d" is rewritten from snake_case to camelCase, matching the wider
// library's JSON convention for decoded events. op/s/t are exposed as-is
// under their lowercase names.
func camelizePacket(p packet) map[string]any {
	var d any
	_ = sonic.Unmarshal(p.D, &d)

	out := map[string]any{
		"op": p.Op,
		"d":  camelizeValue(d),
	}
	if p.S != nil {
		out["s"] = *p.S
	}
	if p.T != nil {
		out["t"] = *p.T
	}
	return out
}

func camelizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[snakeToCamel(k)] = camelizeValue(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = camelizeValue(child)
		}
		return out
	default:
		return v
	}
}

// snakeToCamel converts "guild_id" to "guildId". A run of N consecutive
// underscores followed by more text is treated as a single word boundary
// (capitalizing the letter that follows) plus N-1 literal underscores
// carried through unchanged; a trailing run with nothing after it is
// carried through whole. Unusual keys round-trip without panicking even
// though Discord payloads never actually produce them.
func snakeToCamel(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}

	parts := strings.Split(s, "_")
	var b strings.Builder
	b.Grow(len(s))
	b.WriteString(parts[0])
	for _, part := range parts[1:] {
		if part == "" {
			b.WriteByte('_')
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}
