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
	"os"

	"github.com/rs/zerolog"
)

// Logger is the logging abstraction used throughout the package. Callers
// may supply their own implementation via WithLogger; NewZerologLogger
// wraps a github.com/rs/zerolog.Logger as the shipped implementation. A
// Shard built without WithLogger uses a no-op Logger.
type Logger interface {
	Info(msg string)
	Debug(msg string)
	Warn(msg string)
	Error(msg string)

	// WithField returns a derived Logger carrying an additional field,
	// e.g. shard_id, attached to every subsequent log line.
	WithField(key string, value any) Logger
}

// zerologLogger adapts zerolog.Logger to the Logger interface.
type zerologLogger struct {
	log zerolog.Logger
}

var _ Logger = zerologLogger{}

// NewZerologLogger builds the zerolog-backed Logger, writing leveled JSON to out
// (os.Stderr if nil).
func NewZerologLogger(out *os.File) Logger {
	if out == nil {
		out = os.Stderr
	}
	return zerologLogger{log: zerolog.New(out).With().Timestamp().Logger()}
}

func (l zerologLogger) Info(msg string)  { l.log.Info().Msg(msg) }
func (l zerologLogger) Debug(msg string) { l.log.Debug().Msg(msg) }
func (l zerologLogger) Warn(msg string)  { l.log.Warn().Msg(msg) }
func (l zerologLogger) Error(msg string) { l.log.Error().Msg(msg) }

func (l zerologLogger) WithField(key string, value any) Logger {
	return zerologLogger{log: l.log.With().Interface(key, value).Logger()}
}

// noopLogger discards everything; used when a Shard is constructed
// without WithLogger.
type noopLogger struct{}

func (noopLogger) Info(string)  {}
func (noopLogger) Debug(string) {}
func (noopLogger) Warn(string)  {}
func (noopLogger) Error(string) {}
func (noopLogger) WithField(string, any) Logger { return noopLogger{} }
