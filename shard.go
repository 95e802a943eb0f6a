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
	"math/rand/v2"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
)

// ShardState is the lifecycle state of a Shard's connection.
type ShardState int

const (
	StateOffline ShardState = iota
	StateConnecting
	StateUnidentified
	StateIdentifying
	StateConnected
	StateResuming
	StateDisconnected
)

func (s ShardState) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateConnecting:
		return "connecting"
	case StateUnidentified:
		return "unidentified"
	case StateIdentifying:
		return "identifying"
	case StateConnected:
		return "connected"
	case StateResuming:
		return "resuming"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ConnectionConfig is the Shard's immutable configuration, set once at
// construction (spec.md's "connection" record).
type ConnectionConfig struct {
	// GatewayURL is the endpoint to dial when not resuming, e.g.
	// "wss://gateway.discord.gg". A proxy/non-primary endpoint is passed
	// through to the transport unmodified, without query params appended.
	GatewayURL string
	// APIVersion is the Gateway API version, appended as ?v= on the
	// primary endpoint only.
	APIVersion string
	Token      string
	Intents    GatewayIntent
	Compress   bool
	// TotalShards is the shard count sent in the Identify payload's
	// "shard" field; it need not equal the number of Shards this process
	// runs (that's the encompassing manager's concern).
	TotalShards int
	Properties  IdentifyProperties
}

const defaultGatewayURL = "wss://gateway.discord.gg"

// PresenceFactory builds the optional initial presence sent with each
// Identify payload. Invoked once per identify() call.
type PresenceFactory func() *StatusUpdate

// ShardOption configures a Shard at construction time.
type ShardOption func(*Shard)

// WithTransport overrides the default gobwas/ws-backed Transport, mainly
// for tests.
func WithTransport(t Transport) ShardOption {
	return func(s *Shard) { s.transport = t }
}

// WithIdentifyCoordinator overrides the default single-process identify
// coordinator with one shared across a fleet.
func WithIdentifyCoordinator(c IdentifyCoordinator) ShardOption {
	return func(s *Shard) { s.identifyCoord = c }
}

// WithPresenceFactory sets the optional initial-presence callback.
func WithPresenceFactory(f PresenceFactory) ShardOption {
	return func(s *Shard) { s.presenceFactory = f }
}

// WithLogger overrides the default no-op Logger.
func WithLogger(l Logger) ShardOption {
	return func(s *Shard) {
		if l != nil {
			s.logger = l.WithField("shard_id", s.id)
		}
	}
}

// WithEvents registers the Shard's event callbacks.
func WithEvents(e ShardEvents) ShardOption {
	return func(s *Shard) { s.events = e }
}

// WithWorkerPool overrides the default worker pool that event callbacks
// run on.
func WithWorkerPool(p WorkerPool) ShardOption {
	return func(s *Shard) { s.workers = p }
}

// WithMemberCache enables the requestMembers() nonce/chunk correlator.
// When disabled (the default), requestMembers() returns an empty result
// immediately after sending, per spec's preserved legacy contract.
func WithMemberCache(enabled bool) ShardOption {
	return func(s *Shard) { s.membersEnabled = enabled }
}

// Shard is a single authenticated, duplex connection to the Gateway. See
// package-level documentation for the protocol it implements.
type Shard struct {
	id     int
	config ConnectionConfig

	transport       Transport
	identifyCoord   IdentifyCoordinator
	presenceFactory PresenceFactory
	logger          Logger
	events          ShardEvents
	workers         WorkerPool
	members         *memberCache
	membersEnabled  bool

	heart        *heartbeatEngine
	bucket       *leakyBucket
	offlineQueue *offlineQueue
	resolvers    *resolverSet

	// handshakeInFlight serializes identify() and resume() attempts: the
	// zombie check, a MustReIdentify close, a Resumable close, and a
	// Reconnect opcode can all fire within microseconds of each other, and
	// only one handshake may own the connection at a time (spec.md §9's
	// open question, generalized to cover resume() as well as identify()).
	handshakeInFlight sync.Mutex
	shuttingDown      atomic.Bool

	mu               sync.Mutex
	state            ShardState
	sessionID        string
	resumeGatewayURL string
	previousSeq      *int64
	conn             Conn
	connEpoch        int64
	lastFatalErr     error
}

// NewShard constructs a Shard in state Offline. No connection is made
// until connect() is called.
func NewShard(id int, config ConnectionConfig, opts ...ShardOption) *Shard {
	if config.GatewayURL == "" {
		config.GatewayURL = defaultGatewayURL
	}
	if config.APIVersion == "" {
		config.APIVersion = "10"
	}

	s := &Shard{
		id:            id,
		config:        config,
		identifyCoord: NewDefaultIdentifyCoordinator(1, time.Second),
		logger:        noopLogger{},
		heart:         newHeartbeatEngine(),
		bucket:        newLeakyBucket(defaultMaxRequestsPerRateLimitTick, defaultMaxRequestsPerRateLimitTick, defaultRefillIntervalMs*time.Millisecond),
		offlineQueue:  newOfflineQueue(),
		resolvers:     newResolverSet(),
		members:       newMemberCache(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.transport == nil {
		s.transport = newWSTransport(s.config.Compress, nil)
	}
	if s.workers == nil {
		s.workers = NewDefaultWorkerPool(s.logger)
	}

	return s
}

// ID returns the shard's index, as given at construction.
func (s *Shard) ID() int { return s.id }

// State returns the shard's current lifecycle state.
func (s *Shard) State() ShardState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the active session id, or "" if the shard has never
// reached Connected since its last hard reset.
func (s *Shard) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// isOpen reports whether a transport connection currently exists.
func (s *Shard) isOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *Shard) setState(state ShardState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// isPrimaryGateway reports whether raw points at Discord's own gateway,
// as opposed to a proxy endpoint that must be passed through unmodified.
func isPrimaryGateway(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Host == "gateway.discord.gg"
}

// buildConnectURL resolves the endpoint to dial, following spec.md 4.6: the
// primary gateway gets v/encoding/compress query params appended, using
// resumeGatewayUrl as the base while resuming; any other endpoint (a
// sharding proxy) is passed through untouched. Whether to append those
// params is decided from the originally configured GatewayURL, not from
// resumeGatewayUrl itself: Discord's resume_gateway_url routinely points at
// a per-region subdomain rather than gateway.discord.gg, so gating on the
// post-swap base would silently stop appending params on every real resume.
func (s *Shard) buildConnectURL(resuming bool) string {
	primary := isPrimaryGateway(s.config.GatewayURL)

	base := s.config.GatewayURL
	if resuming {
		s.mu.Lock()
		if s.resumeGatewayURL != "" {
			base = s.resumeGatewayURL
		}
		s.mu.Unlock()
	}

	if !primary {
		return base
	}

	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("v", s.config.APIVersion)
	q.Set("encoding", "json")
	if s.config.Compress {
		q.Set("compress", "zlib-stream")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// connect dials a fresh connection and starts its read loop. It blocks
// until the socket is open (or dialing fails); there is no separate
// asynchronous "open" signal in this port, since Dial itself only returns
// once the handshake completes.
func (s *Shard) connect(ctx context.Context) error {
	s.mu.Lock()
	resuming := s.state == StateResuming
	if s.state != StateIdentifying && s.state != StateResuming {
		s.state = StateConnecting
	}
	s.mu.Unlock()
	s.emitConnecting()

	target := s.buildConnectURL(resuming)

	conn, err := s.transport.Dial(ctx, target)
	if err != nil {
		return fmt.Errorf("wyrmgate: dial shard %d: %w", s.id, err)
	}

	s.mu.Lock()
	s.connEpoch++
	epoch := s.connEpoch
	s.conn = conn
	if s.state != StateIdentifying && s.state != StateResuming {
		s.state = StateUnidentified
	}
	s.mu.Unlock()

	s.emitConnected()
	go s.readLoop(conn, epoch)
	return nil
}

// identify performs a fresh authentication handshake. A second call while
// a handshake is already in flight is a deliberate no-op: TryLock fails
// and the caller simply returns, trusting the in-flight attempt to finish
// the job.
func (s *Shard) identify(ctx context.Context) error {
	if !s.handshakeInFlight.TryLock() {
		return nil
	}
	defer s.handshakeInFlight.Unlock()
	return s.identifyLocked(ctx)
}

func (s *Shard) identifyLocked(ctx context.Context) error {
	if s.isOpen() {
		s.close(closeCodeReIdentifying, "re-identifying")
	}

	s.setState(StateIdentifying)
	s.emitIdentifying()

	if !s.isOpen() {
		if err := s.connect(ctx); err != nil {
			return err
		}
	}

	if err := s.identifyCoord.RequestIdentify(ctx, s.id); err != nil {
		return err
	}

	payload, err := sonic.Marshal(s.buildIdentifyPayload())
	if err != nil {
		return fmt.Errorf("wyrmgate: marshal identify payload: %w", err)
	}

	readyCh := s.resolvers.wait(resolveReady)
	invalidCh := s.resolvers.wait(resolveInvalidSession)

	if err := s.send(ctx, payload, true); err != nil {
		return err
	}

	select {
	case <-readyCh:
		return s.takeFatalErr()
	case <-invalidCh:
		// The Invalid Session handler already decided the next step
		// (identify or resume); nothing more to do here. A fatal close or
		// shutdown closes this channel too, so its error is still reported.
		return s.takeFatalErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resume attempts to pick a session back up. Falls back to identify() if
// no session has ever been established. Shares identify()'s handshake
// lock so the two can never race each other for the same connection.
func (s *Shard) resume(ctx context.Context) error {
	if !s.handshakeInFlight.TryLock() {
		return nil
	}
	defer s.handshakeInFlight.Unlock()
	return s.resumeLocked(ctx)
}

func (s *Shard) resumeLocked(ctx context.Context) error {
	if s.isOpen() {
		s.close(closeCodeResumeClosingOldConn, "resuming")
	}

	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()
	if sessionID == "" {
		return s.identifyLocked(ctx)
	}

	s.setState(StateResuming)

	if err := s.connect(ctx); err != nil {
		return err
	}

	payload, err := sonic.Marshal(s.buildResumePayload())
	if err != nil {
		return fmt.Errorf("wyrmgate: marshal resume payload: %w", err)
	}

	resumedCh := s.resolvers.wait(resolveResumed)
	invalidCh := s.resolvers.wait(resolveInvalidSession)

	if err := s.send(ctx, payload, true); err != nil {
		return err
	}

	select {
	case <-resumedCh:
		return s.takeFatalErr()
	case <-invalidCh:
		return s.takeFatalErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Shard) takeFatalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.lastFatalErr
	s.lastFatalErr = nil
	if err == nil && s.shuttingDown.Load() {
		return errShuttingDown
	}
	return err
}

// checkOffline parks the caller until the socket is open, unless it
// already is.
func (s *Shard) checkOffline(ctx context.Context, highPriority bool) error {
	if s.isOpen() {
		return nil
	}
	return s.offlineQueue.park(ctx, highPriority)
}

// send is the sole outbound path for every command besides heartbeats:
// park while offline, acquire a bucket token, re-check offline (the
// socket may have closed while waiting for the token), then transmit.
func (s *Shard) send(ctx context.Context, data []byte, highPriority bool) error {
	if err := s.checkOffline(ctx, highPriority); err != nil {
		return err
	}
	if err := s.bucket.acquire(ctx, 1, highPriority); err != nil {
		return err
	}
	if err := s.checkOffline(ctx, highPriority); err != nil {
		return err
	}
	return s.sendRaw(ctx, data)
}

// sendRaw transmits directly, bypassing both the offline queue and the
// bucket. Used for heartbeats, which are server-reserved traffic. Silently
// drops the write if no socket exists, matching send()'s fire-and-forget
// contract.
func (s *Shard) sendRaw(ctx context.Context, data []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Send(ctx, data)
}

// close closes the current socket, if any, with the given Gateway close
// code. A no-op when nothing is open. s.conn is cleared synchronously
// (rather than left for handleClose to clear once the read loop observes
// the close) so that identify()/resume()'s self-reentrant close-then-
// reconnect sequence always sees isOpen() == false immediately
// afterward, per spec.md 9's note on guarding state transitions against
// racing callbacks.
func (s *Shard) close(code int, reason string) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.Close(code, reason)

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
}

// shutdown closes the connection for good and releases every waiter
// (resolvers, bucket, offline queue) with a cancellation error. The shard
// will not reconnect on its own afterward.
func (s *Shard) shutdown() {
	s.shuttingDown.Store(true)
	s.close(closeCodeShutdown, "shutdown")
	s.setState(StateOffline)

	s.heart.stop()
	s.bucket.close()
	s.offlineQueue.close()
	s.resolvers.cancelAll()
	s.members.cancelAll(errShuttingDown)
	s.workers.Shutdown()
}

func (s *Shard) buildIdentifyPayload() identifyPayload {
	var presence *StatusUpdate
	if s.presenceFactory != nil {
		presence = s.presenceFactory()
	}
	return identifyPayload{
		Op: opIdentify,
		D: identifyData{
			Token:      "Bot " + s.config.Token,
			Compress:   s.config.Compress,
			Properties: s.config.Properties,
			Intents:    s.config.Intents,
			Shard:      [2]int{s.id, s.config.TotalShards},
			Presence:   presence,
		},
	}
}

func (s *Shard) buildResumePayload() resumePayload {
	s.mu.Lock()
	sessionID := s.sessionID
	var seq int64
	if s.previousSeq != nil {
		seq = *s.previousSeq
	}
	s.mu.Unlock()

	return resumePayload{
		Op: opResume,
		D: resumeData{
			Token:     "Bot " + s.config.Token,
			SessionID: sessionID,
			Seq:       seq,
		},
	}
}

// readLoop drains one connection's Messages channel until it closes, then
// processes the single CloseInfo that follows. epoch ties every event
// back to the connect() attempt that created conn, so a straggling
// goroutine from a superseded connection can't corrupt current state.
func (s *Shard) readLoop(conn Conn, epoch int64) {
	go func() {
		for err := range conn.Errors() {
			s.logger.WithField("error", err).Warn("transport error")
		}
	}()

	for data := range conn.Messages() {
		p, err := decodePacket(data)
		if err != nil {
			s.logger.WithField("error", err).Warn("decode failure")
			continue
		}
		s.handlePacket(epoch, p)
	}

	info, ok := <-conn.Closed()
	if !ok {
		return
	}
	s.handleClose(epoch, info)
}

func (s *Shard) isStale(epoch int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return epoch != s.connEpoch
}

func (s *Shard) handlePacket(epoch int64, p packet) {
	if s.isStale(epoch) {
		return
	}

	s.heart.onPacket()

	switch p.Op {
	case opHeartbeat:
		s.heart.beat()
	case opHello:
		var d helloData
		_ = sonic.Unmarshal(p.D, &d)
		s.onHello(d.HeartbeatInterval)
	case opHeartbeatAck:
		s.emitHeartbeatAck()
	case opReconnect:
		s.emitRequestedReconnect()
		go func() { _ = s.resume(context.Background()) }()
	case opInvalidSession:
		var resumable bool
		_ = sonic.Unmarshal(p.D, &resumable)
		s.emitInvalidSession(resumable)
		// The in-flight identify()/resume() promise completes as soon as
		// INVALID_SESSION arrives; the backoff and the next attempt run
		// independently so they never gate that promise's resolution.
		s.resolvers.resolve(resolveInvalidSession)
		go s.handleInvalidSession(resumable)
	case opDispatch:
		s.handleDispatch(p)
	}

	if p.S != nil {
		seq := *p.S
		s.mu.Lock()
		s.previousSeq = &seq
		s.mu.Unlock()
	}

	s.emitMessage(p)
}

// handleInvalidSession implements the randomized [1s,5s] backoff before
// the next attempt, per spec.md 4.5. Runs independently of the
// identify()/resume() call that received the INVALID_SESSION packet,
// whose promise has already settled by the time this fires.
func (s *Shard) handleInvalidSession(resumable bool) {
	time.Sleep(invalidSessionBackoff())

	if resumable {
		_ = s.resume(context.Background())
	} else {
		_ = s.identify(context.Background())
	}
}

// invalidSessionBackoff samples a duration uniformly in [1000, 5000] ms.
func invalidSessionBackoff() time.Duration {
	ms := int64(rand.Float64()*4000) + 1000
	return time.Duration(ms) * time.Millisecond
}

func (s *Shard) onHello(intervalMs int64) {
	s.mu.Lock()
	resuming := s.state == StateResuming
	if s.state == StateOffline || s.state == StateDisconnected {
		s.state = StateUnidentified
	}
	s.mu.Unlock()

	s.heart.start(intervalMs,
		func(seq *int64) error {
			payload, err := sonic.Marshal(heartbeatPayload{Op: opHeartbeat, D: seq})
			if err != nil {
				return err
			}
			return s.sendRaw(context.Background(), payload)
		},
		s.isOpen,
		func() *int64 {
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.previousSeq
		},
		func() {
			s.close(closeCodeZombiedConnection, "zombied connection")
			go func() { _ = s.identify(context.Background()) }()
		},
		s.emitHeartbeat,
	)

	if !resuming {
		safe := safeRequestRate(defaultMaxRequestsPerRateLimitTick, defaultRefillIntervalMs, int(intervalMs))
		s.bucket.reconfigure(safe, safe, defaultRefillIntervalMs*time.Millisecond)
	}

	s.emitHello(intervalMs)
}

func (s *Shard) handleDispatch(p packet) {
	if p.T == nil {
		return
	}
	switch *p.T {
	case "RESUMED":
		s.setState(StateConnected)
		s.offlineQueue.drain()
		s.resolvers.resolve(resolveResumed)
		s.emitResumed()
	case "READY":
		var d readyData
		_ = sonic.Unmarshal(p.D, &d)
		s.mu.Lock()
		s.sessionID = d.SessionID
		s.resumeGatewayURL = d.ResumeGatewayURL
		s.state = StateConnected
		s.mu.Unlock()
		s.offlineQueue.drain()
		s.resolvers.resolve(resolveReady)
		s.emitIdentified(d.SessionID)
	case "GUILD_MEMBERS_CHUNK":
		var d guildMembersChunkData
		if err := sonic.Unmarshal(p.D, &d); err == nil {
			s.members.onChunk(d)
		}
	}
}

// handleClose classifies the close code and drives the next reconnect
// step. Heartbeat timers are always stopped first, per spec.md 4.4.
func (s *Shard) handleClose(epoch int64, info CloseInfo) {
	s.heart.stop()

	if s.isStale(epoch) {
		return
	}

	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()

	s.members.cancelAll(errShuttingDown)

	class := classifyClose(info.Code)
	if class != classTerminal {
		s.emitDisconnected(info)
	}

	if s.shuttingDown.Load() {
		s.setState(StateOffline)
		return
	}

	switch class {
	case classTerminal:
		s.setState(StateOffline)
	case classGraceful:
		s.setState(StateDisconnected)
	case classMustReIdentify:
		s.setState(StateIdentifying)
		go func() { _ = s.identify(context.Background()) }()
	case classFatal:
		s.mu.Lock()
		s.state = StateOffline
		s.lastFatalErr = newProtocolFatal(info.Code)
		s.mu.Unlock()
		s.resolvers.cancelAll()
	case classResumable:
		s.setState(StateResuming)
		go func() { _ = s.resume(context.Background()) }()
	}
}

// --- event emission -------------------------------------------------------
//
// Every callback runs on the worker pool, never inline on the read loop,
// so a slow or blocking handler cannot stall packet processing.

func (s *Shard) emitConnecting() {
	if s.events.Connecting == nil {
		return
	}
	s.workers.Submit(func() { s.events.Connecting(s.id) })
}

func (s *Shard) emitConnected() {
	if s.events.Connected == nil {
		return
	}
	s.workers.Submit(func() { s.events.Connected(s.id) })
}

func (s *Shard) emitIdentifying() {
	if s.events.Identifying == nil {
		return
	}
	s.workers.Submit(func() { s.events.Identifying(s.id) })
}

func (s *Shard) emitIdentified(sessionID string) {
	if s.events.Identified == nil {
		return
	}
	s.workers.Submit(func() { s.events.Identified(s.id, sessionID) })
}

func (s *Shard) emitResumed() {
	if s.events.Resumed == nil {
		return
	}
	s.workers.Submit(func() { s.events.Resumed(s.id) })
}

func (s *Shard) emitHello(intervalMs int64) {
	if s.events.Hello == nil {
		return
	}
	s.workers.Submit(func() { s.events.Hello(s.id, intervalMs) })
}

func (s *Shard) emitHeartbeat() {
	if s.events.Heartbeat == nil {
		return
	}
	s.workers.Submit(func() { s.events.Heartbeat(s.id) })
}

func (s *Shard) emitHeartbeatAck() {
	if s.events.HeartbeatAck == nil {
		return
	}
	rtt := s.heart.rtt().Milliseconds()
	s.workers.Submit(func() { s.events.HeartbeatAck(s.id, rtt) })
}

func (s *Shard) emitRequestedReconnect() {
	if s.events.RequestedReconnect == nil {
		return
	}
	s.workers.Submit(func() { s.events.RequestedReconnect(s.id) })
}

func (s *Shard) emitInvalidSession(resumable bool) {
	if s.events.InvalidSession == nil {
		return
	}
	s.workers.Submit(func() { s.events.InvalidSession(s.id, InvalidSessionEvent{Resumable: resumable}) })
}

func (s *Shard) emitDisconnected(info CloseInfo) {
	if s.events.Disconnected == nil {
		return
	}
	s.workers.Submit(func() { s.events.Disconnected(s.id, info) })
}

func (s *Shard) emitMessage(p packet) {
	if s.events.Message == nil {
		return
	}
	s.workers.Submit(func() {
		view := camelizePacket(p)
		ev := MessageEvent{Op: p.Op, Data: view}
		if p.T != nil {
			ev.Type = *p.T
		}
		s.events.Message(s.id, ev)
	})
}

// --- command facade --------------------------------------------------------

// VoiceStateOptions configures joinVoiceChannel. SelfDeaf defaults to true
// when nil, matching the source's "options.selfDeaf ?? true".
type VoiceStateOptions struct {
	SelfMute bool
	SelfDeaf *bool
}

// RequestMembersOptions configures requestMembers.
type RequestMembersOptions struct {
	Query     *string
	Limit     int
	Presences bool
	UserIDs   []string
}

// EditStatus sends a Presence Update. since and afk are fixed at the
// protocol level (nil and false respectively); only activities and status
// are caller-controlled, per spec.md 4.7.
func (s *Shard) EditStatus(ctx context.Context, status string, activities []ActivityUpdate) error {
	payload := presenceUpdatePayload{
		Op: opPresenceUpdate,
		D: StatusUpdate{
			Since:      nil,
			Activities: activities,
			Status:     status,
			AFK:        false,
		},
	}
	data, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("wyrmgate: marshal presence update: %w", err)
	}
	return s.send(ctx, data, false)
}

// JoinVoiceChannel sends a Voice State Update targeting channelID.
func (s *Shard) JoinVoiceChannel(ctx context.Context, guildID, channelID string, opts VoiceStateOptions) error {
	selfDeaf := true
	if opts.SelfDeaf != nil {
		selfDeaf = *opts.SelfDeaf
	}
	return s.sendVoiceState(ctx, guildID, &channelID, opts.SelfMute, selfDeaf)
}

// LeaveVoiceChannel sends a Voice State Update with a nil channel, both
// mute flags cleared.
func (s *Shard) LeaveVoiceChannel(ctx context.Context, guildID string) error {
	return s.sendVoiceState(ctx, guildID, nil, false, false)
}

func (s *Shard) sendVoiceState(ctx context.Context, guildID string, channelID *string, selfMute, selfDeaf bool) error {
	payload := voiceStateUpdatePayload{
		Op: opVoiceStateUpdate,
		D: voiceStateUpdateData{
			GuildID:   guildID,
			ChannelID: channelID,
			SelfMute:  selfMute,
			SelfDeaf:  selfDeaf,
		},
	}
	data, err := sonic.Marshal(payload)
	if err != nil {
		return fmt.Errorf("wyrmgate: marshal voice state update: %w", err)
	}
	return s.send(ctx, data, false)
}

// RequestMembers sends a Request Guild Members command. If the member
// cache is disabled (the default), this returns an empty result
// immediately after the send completes, even though chunks may still
// arrive asynchronously — preserved intentionally, see spec.md 9's second
// open question.
func (s *Shard) RequestMembers(ctx context.Context, guildID string, opts RequestMembersOptions) (RequestMembersResult, error) {
	wantsFullScan := opts.Limit == 0 || opts.Limit > 1
	if s.config.Intents != 0 && wantsFullScan && !s.config.Intents.Has(GatewayIntentGuildMembers) {
		return RequestMembersResult{}, &MissingIntentError{Intent: "GUILD_MEMBERS"}
	}

	limit := opts.Limit
	if len(opts.UserIDs) > 0 {
		limit = len(opts.UserIDs)
	}

	var query *string
	switch {
	case opts.Query != nil:
		query = opts.Query
	case limit == 0:
		empty := ""
		query = &empty
	}

	nonce := guildID + "-" + strconv.FormatInt(time.Now().UnixMilli(), 10)

	payload := requestGuildMembersPayload{
		Op: opRequestGuildMembers,
		D: requestGuildMembersData{
			GuildID:   guildID,
			Query:     query,
			Limit:     limit,
			Presences: opts.Presences,
			UserIDs:   opts.UserIDs,
			Nonce:     nonce,
		},
	}

	var pending *pendingMembersRequest
	if s.membersEnabled {
		pending = s.members.register(nonce, guildID)
	}

	data, err := sonic.Marshal(payload)
	if err != nil {
		return RequestMembersResult{}, fmt.Errorf("wyrmgate: marshal request guild members: %w", err)
	}
	if err := s.send(ctx, data, false); err != nil {
		if pending != nil {
			s.members.cancel(nonce, err)
		}
		return RequestMembersResult{}, err
	}

	if pending == nil {
		return RequestMembersResult{GuildID: guildID}, nil
	}
	return pending.wait(ctx)
}
