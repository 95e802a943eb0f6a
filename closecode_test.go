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

import "testing"

func TestClassifyClose(t *testing.T) {
	cases := []struct {
		name string
		code int
		want closeClass
	}{
		{"testing-only", closeCodeTestingOnly, classTerminal},
		{"shutdown", closeCodeShutdown, classGraceful},
		{"re-identifying", closeCodeReIdentifying, classGraceful},
		{"resharded", closeCodeResharded, classGraceful},
		{"resume-closing-old", closeCodeResumeClosingOldConn, classGraceful},
		{"zombied", closeCodeZombiedConnection, classGraceful},
		{"unknown-opcode", closeCodeUnknownOpcode, classMustReIdentify},
		{"not-authenticated", closeCodeNotAuthenticated, classMustReIdentify},
		{"invalid-seq", closeCodeInvalidSeq, classMustReIdentify},
		{"rate-limited", closeCodeRateLimited, classMustReIdentify},
		{"session-timed-out", closeCodeSessionTimedOut, classMustReIdentify},
		{"auth-failed", closeCodeAuthenticationFailed, classFatal},
		{"invalid-shard", closeCodeInvalidShard, classFatal},
		{"sharding-required", closeCodeShardingRequired, classFatal},
		{"invalid-api-version", closeCodeInvalidAPIVersion, classFatal},
		{"invalid-intents", closeCodeInvalidIntents, classFatal},
		{"disallowed-intents", closeCodeDisallowedIntents, classFatal},
		{"unknown-error falls back to resumable", closeCodeUnknownError, classResumable},
		{"decode-error falls back to resumable", closeCodeDecodeError, classResumable},
		{"already-authenticated falls back to resumable", closeCodeAlreadyAuthenticated, classResumable},
		{"fully unrecognized code falls back to resumable", 9999, classResumable},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := classifyClose(c.code); got != c.want {
				t.Errorf("classifyClose(%d) = %v, want %v", c.code, got, c.want)
			}
		})
	}
}

func TestFatalReason(t *testing.T) {
	cases := []struct {
		code int
		want string
	}{
		{closeCodeAuthenticationFailed, "authentication failed"},
		{closeCodeInvalidShard, "invalid shard"},
		{closeCodeShardingRequired, "sharding required"},
		{closeCodeInvalidAPIVersion, "invalid API version"},
		{closeCodeInvalidIntents, "invalid intents"},
		{closeCodeDisallowedIntents, "disallowed intents"},
		{1234, "unrecognized fatal close code"},
	}

	for _, c := range cases {
		if got := fatalReason(c.code); got != c.want {
			t.Errorf("fatalReason(%d) = %q, want %q", c.code, got, c.want)
		}
	}
}
