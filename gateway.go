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
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
)

// gatewayBot is the response of GET /gateway/bot.
type gatewayBot struct {
	// WSS URL that can be used for connecting to the Gateway.
	URL string `json:"url"`
	// Recommended number of shards to use when connecting.
	Shards int `json:"shards"`
	// Information on the current session start limit.
	SessionStartLimit struct {
		Total          int `json:"total"`
		Remaining      int `json:"remaining"`
		ResetAfter     int `json:"reset_after"`
		MaxConcurrency int `json:"max_concurrency"`
	} `json:"session_start_limit"`
}

func (o *gatewayBot) fillFromJSON(data []byte) error {
	return sonic.Unmarshal(data, o)
}

// RecommendedShards is the answer to GET /gateway/bot: how many shards
// Discord currently recommends, and how many identify attempts may be
// concurrently in flight.
type RecommendedShards struct {
	ShardCount     int
	MaxConcurrency int
}

const gatewayBotURL = "https://discord.com/api/v10/gateway/bot"

// FetchRecommendedShards asks the Discord REST API how many shards a bot
// with the given token should run. This is the one REST call the shard
// package makes itself; outbound REST rate limiting beyond this single
// request is out of scope (see Non-goals) and is the caller's (the
// encompassing manager's) responsibility.
func FetchRecommendedShards(ctx context.Context, client *http.Client, token string) (RecommendedShards, error) {
	return fetchRecommendedShardsFrom(ctx, client, gatewayBotURL, token)
}

func fetchRecommendedShardsFrom(ctx context.Context, client *http.Client, url, token string) (RecommendedShards, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return RecommendedShards{}, fmt.Errorf("wyrmgate: build gateway bot request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+token)

	resp, err := client.Do(req)
	if err != nil {
		return RecommendedShards{}, fmt.Errorf("wyrmgate: fetch gateway bot info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return RecommendedShards{}, fmt.Errorf("wyrmgate: read gateway bot response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return RecommendedShards{}, fmt.Errorf("wyrmgate: gateway bot request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var gw gatewayBot
	if err := gw.fillFromJSON(body); err != nil {
		return RecommendedShards{}, fmt.Errorf("wyrmgate: decode gateway bot response: %w", err)
	}

	return RecommendedShards{
		ShardCount:     gw.Shards,
		MaxConcurrency: gw.SessionStartLimit.MaxConcurrency,
	}, nil
}
