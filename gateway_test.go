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
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchRecommendedShards_ParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bot T" {
			t.Errorf("Authorization header = %q, want %q", got, "Bot T")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"url": "wss://gateway.discord.gg",
			"shards": 4,
			"session_start_limit": {
				"total": 1000,
				"remaining": 998,
				"reset_after": 14400000,
				"max_concurrency": 1
			}
		}`))
	}))
	defer srv.Close()

	result, err := fetchRecommendedShardsFrom(context.Background(), srv.Client(), srv.URL, "T")
	if err != nil {
		t.Fatalf("fetchRecommendedShardsFrom: %v", err)
	}
	if result.ShardCount != 4 {
		t.Errorf("ShardCount = %d, want 4", result.ShardCount)
	}
	if result.MaxConcurrency != 1 {
		t.Errorf("MaxConcurrency = %d, want 1", result.MaxConcurrency)
	}
}

func TestFetchRecommendedShards_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message": "401: Unauthorized"}`))
	}))
	defer srv.Close()

	_, err := fetchRecommendedShardsFrom(context.Background(), srv.Client(), srv.URL, "bad-token")
	if err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}
