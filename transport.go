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
	"bytes"
	"compress/zlib"
	"context"
	"io"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// CloseInfo describes why a transport connection ended.
type CloseInfo struct {
	Code   int
	Reason string
}

// Conn is a single open duplex connection, as abstracted in spec.md §6
// ("Transport abstraction (consumed)"). Exactly one Conn exists per
// connection attempt; the Shard never holds more than one at a time
// (invariant 1).
type Conn interface {
	// Send writes one text frame (a JSON-encoded gateway command).
	Send(ctx context.Context, data []byte) error
	// Close closes the connection with the given Gateway close code.
	Close(code int, reason string) error
	// Messages yields one decoded packet per inbound frame, already run
	// through decompression if the connection negotiated it. The channel
	// is closed after Closed fires or a read error occurs.
	Messages() <-chan []byte
	// Closed yields exactly one CloseInfo when the connection ends,
	// however it ended (peer close, read error, or local Close()).
	Closed() <-chan CloseInfo
	// Errors yields transport-level errors that don't by themselves end
	// the connection (e.g. a single malformed frame).
	Errors() <-chan error
}

// Transport opens new connections. The default implementation dials a
// raw websocket via github.com/gobwas/ws, following the teacher's
// shard.go connect()/readLoop(). Tests substitute a fake.
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Decompressor turns a compressed frame into the JSON text it encodes.
// Only used when ConnectionConfig.Compress is set. Returning an error
// here produces a DecodeFailureError and the frame is dropped.
type Decompressor func(data []byte) (string, error)

// zlibDecompressor is the default Decompressor, matching the teacher's
// use of the standard library's zlib reader for the Gateway's
// zlib-stream transport compression.
func zlibDecompressor(data []byte) (string, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// wsTransport is the default Transport, backed by github.com/gobwas/ws.
type wsTransport struct {
	decompress  Decompressor
	useCompress bool
}

// newWSTransport builds the default transport. If useCompress is true,
// inbound binary frames are run through decompress before being handed
// to the caller as JSON text.
func newWSTransport(useCompress bool, decompress Decompressor) *wsTransport {
	if decompress == nil {
		decompress = zlibDecompressor
	}
	return &wsTransport{decompress: decompress, useCompress: useCompress}
}

func (t *wsTransport) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, _, err := ws.Dialer{}.Dial(ctx, url)
	if err != nil {
		return nil, err
	}

	c := &wsConn{
		conn:        conn,
		messages:    make(chan []byte, 64),
		closed:      make(chan CloseInfo, 1),
		errs:        make(chan error, 8),
		useCompress: t.useCompress,
		decompress:  t.decompress,
	}
	go c.readLoop()
	return c, nil
}

type wsConn struct {
	conn        netConn
	messages    chan []byte
	closed      chan CloseInfo
	errs        chan error
	useCompress bool
	decompress  Decompressor

	closeOnce sync.Once
}

// netConn is the slice of net.Conn that wsutil needs; declared locally so
// this file doesn't have to import net solely for the parameter type.
type netConn interface {
	io.Reader
	io.Writer
	io.Closer
}

func (c *wsConn) Send(_ context.Context, data []byte) error {
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// Close sends a close frame carrying code/reason and reports that same
// CloseInfo on Closed() itself, rather than leaving readLoop to rediscover
// it from the I/O error its own conn.Close() call produces — by the time
// ReadServerData unblocks and errors, closeOnce has already fired, so
// readLoop's generic error path never overwrites it.
func (c *wsConn) Close(code int, reason string) error {
	var sendErr error
	c.closeOnce.Do(func() {
		frame := ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusCode(code), reason))
		sendErr = wsutil.WriteClientMessage(c.conn, ws.OpClose, frame)
		c.closed <- CloseInfo{Code: code, Reason: reason}
		_ = c.conn.Close()
	})
	return sendErr
}

func (c *wsConn) Messages() <-chan []byte  { return c.messages }
func (c *wsConn) Closed() <-chan CloseInfo { return c.closed }
func (c *wsConn) Errors() <-chan error     { return c.errs }

func (c *wsConn) readLoop() {
	defer close(c.messages)
	defer close(c.errs)

	for {
		msg, op, err := wsutil.ReadServerData(c.conn)
		if err != nil {
			c.closeOnce.Do(func() {
				info := CloseInfo{Code: closeCodeUnknownError, Reason: err.Error()}
				if ce, ok := err.(wsutil.ClosedError); ok {
					info = CloseInfo{Code: int(ce.Code), Reason: ce.Reason}
				}
				c.closed <- info
				_ = c.conn.Close()
			})
			return
		}

		switch op {
		case ws.OpText:
			c.messages <- msg
		case ws.OpBinary:
			if !c.useCompress {
				continue
			}
			text, derr := c.decompress(msg)
			if derr != nil {
				c.errs <- &DecodeFailureError{Err: derr}
				continue
			}
			c.messages <- []byte(text)
		case ws.OpClose:
			c.closeOnce.Do(func() {
				c.closed <- CloseInfo{Code: closeCodeUnknownError}
				_ = c.conn.Close()
			})
			return
		}
	}
}
