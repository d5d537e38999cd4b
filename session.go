/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package nexus

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nexuschat/nexus/internal/events"
	"github.com/nexuschat/nexus/internal/store"
	"github.com/nexuschat/nexus/internal/validate"
)

// SessionState is one node of the state machine a connection moves
// through.
type SessionState int

const (
	StateAccepted SessionState = iota
	StateTLSHandshaking
	StateAwaitingHandshake
	StateAwaitingLogin
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateTLSHandshaking:
		return "tls-handshaking"
	case StateAwaitingHandshake:
		return "awaiting-handshake"
	case StateAwaitingLogin:
		return "awaiting-login"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session represents the server side of one client connection: framing,
// state machine, presence and the joined-channel set. A session owns a
// writeQueue/kill channel pair drained by its write loop, so handlers
// and event fan-out never write to the socket directly.
type Session struct {
	sync.RWMutex

	server   *Server
	sock     net.Conn
	remoteIP string
	id       string

	state SessionState

	handshakeDone bool
	loginDone     bool

	protocolVersion validate.Version
	features        FeatureSet

	userID      uint
	username    string
	nickname    string
	isShared    bool
	isAdmin     bool
	permissions PermissionSet
	locale      string

	channels map[string]bool

	pool       *MessagePool
	writeQueue chan *bytes.Buffer
	kill       chan struct{}
	closeOnce  sync.Once

	heartbeat    *time.Timer
	lastPingSent string
	lastPingRecv string

	activeUpload  *store.UploadReservation
	uploadRelease func()

	activeDownload    *os.File
	downloadRelease   func()
	downloadRemaining int64

	log *logrus.Entry
}

// NewSession initializes a Session for a freshly-accepted connection.
// The session is not yet registered anywhere; that happens on login.
func NewSession(srv *Server, sock net.Conn, pool *MessagePool) *Session {
	id := uuid.NewString()
	return &Session{
		server:     srv,
		sock:       sock,
		id:         id,
		state:      StateAccepted,
		channels:   make(map[string]bool),
		pool:       pool,
		writeQueue: make(chan *bytes.Buffer, srv.config.MaxTransfersPerIP+writeQueueSlack),
		kill:       make(chan struct{}, 1),
		heartbeat:  time.NewTimer(heartbeatInterval),
		log:        srv.log.WithField("session", id),
	}
}

// writeQueueSlack pads the session's outbound queue beyond its transfer
// limit so a burst of chat events doesn't collide with transfer chunks.
const writeQueueSlack = 32

// heartbeatInterval is how often an idle session is pinged. A session
// that sent nothing between two pings is closed at the second one.
const heartbeatInterval = 45 * time.Second

// ID returns the session's stable identifier, used as its
// events.Subscriber id and as UploadReservation.SessionID.
func (s *Session) ID() string { return s.id }

// State returns the session's current machine state.
func (s *Session) State() SessionState {
	s.RLock()
	defer s.RUnlock()
	return s.state
}

func (s *Session) setState(next SessionState) {
	s.Lock()
	s.state = next
	s.Unlock()
}

// RemoteIP returns the session's peer address, populated once Serve
// starts.
func (s *Session) RemoteIP() string {
	s.RLock()
	defer s.RUnlock()
	return s.remoteIP
}

// Username, Nickname, UserID, IsAdmin, IsShared, Permissions expose the
// logged-in identity snapshot; all are zero-valued before login.
func (s *Session) Username() string {
	s.RLock()
	defer s.RUnlock()
	return s.username
}

func (s *Session) Nickname() string {
	s.RLock()
	defer s.RUnlock()
	return s.nickname
}

func (s *Session) UserID() uint {
	s.RLock()
	defer s.RUnlock()
	return s.userID
}

func (s *Session) IsAdmin() bool {
	s.RLock()
	defer s.RUnlock()
	return s.isAdmin
}

func (s *Session) IsShared() bool {
	s.RLock()
	defer s.RUnlock()
	return s.isShared
}

// HasPermission reports whether the session's snapshot grants perm.
func (s *Session) HasPermission(perm Permission) bool {
	s.RLock()
	defer s.RUnlock()
	return s.permissions.Has(perm)
}

// SetPermissions replaces the session's permission snapshot, called when
// an events.KindPermissionsChanged event targeting this session arrives.
func (s *Session) SetPermissions(perms PermissionSet) {
	s.Lock()
	s.permissions = perms
	s.Unlock()
}

// JoinedChannels returns a snapshot of the channel names this session
// currently belongs to.
func (s *Session) JoinedChannels() []string {
	s.RLock()
	defer s.RUnlock()
	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	return names
}

// SetUpload and Upload track the one in-flight upload reservation a
// session may hold at a time, one per direction per session.
// release is the transfer-area admission token;
// it is called by ClearUpload and by Close if the connection drops
// mid-transfer.
func (s *Session) SetUpload(res *store.UploadReservation, release func()) {
	s.Lock()
	s.activeUpload = res
	s.uploadRelease = release
	s.Unlock()
}

func (s *Session) Upload() (*store.UploadReservation, bool) {
	s.RLock()
	defer s.RUnlock()
	return s.activeUpload, s.activeUpload != nil
}

func (s *Session) ClearUpload() {
	s.Lock()
	release := s.uploadRelease
	s.activeUpload = nil
	s.uploadRelease = nil
	s.Unlock()
	if release != nil {
		release()
	}
}

// SetDownload and Download track the one in-flight download a session
// may hold at a time.
func (s *Session) SetDownload(f *os.File, release func(), size int64) {
	s.Lock()
	s.activeDownload = f
	s.downloadRelease = release
	s.downloadRemaining = size
	s.Unlock()
}

func (s *Session) Download() (*os.File, int64, bool) {
	s.RLock()
	defer s.RUnlock()
	return s.activeDownload, s.downloadRemaining, s.activeDownload != nil
}

func (s *Session) SetDownloadRemaining(n int64) {
	s.Lock()
	s.downloadRemaining = n
	s.Unlock()
}

func (s *Session) ClearDownload() {
	s.Lock()
	f := s.activeDownload
	release := s.downloadRelease
	s.activeDownload = nil
	s.downloadRelease = nil
	s.downloadRemaining = 0
	s.Unlock()
	if f != nil {
		f.Close()
	}
	if release != nil {
		release()
	}
}

func (s *Session) markJoined(name string) { s.Lock(); s.channels[name] = true; s.Unlock() }
func (s *Session) markLeft(name string)   { s.Lock(); delete(s.channels, name); s.Unlock() }
func (s *Session) isJoined(name string) bool {
	s.RLock()
	defer s.RUnlock()
	return s.channels[name]
}

// Authorized implements events.Subscriber: a session only receives
// events whose delivery rule it currently satisfies.
func (s *Session) Authorized(e events.Event) bool {
	if s.State() != StateActive {
		return false
	}
	switch e.Kind {
	case events.KindChatMessage:
		return s.isJoined(e.Channel) && s.HasPermission(PermChatReceive)
	case events.KindTopicChanged:
		return s.isJoined(e.Channel)
	case events.KindPresence:
		return s.HasPermission(PermUserList)
	case events.KindNewsPosted, events.KindNewsUpdated, events.KindNewsDeleted:
		return s.HasPermission(PermNewsReceive)
	case events.KindBroadcast:
		return true
	case events.KindServerInfoUpdated:
		return true
	case events.KindUserMessage, events.KindPermissionsChanged, events.KindKicked:
		// Addressed directly at publish time; the bus only reaches this
		// subscriber at all because the handler targeted it specifically.
		return true
	default:
		return false
	}
}

// Deliver implements events.Subscriber: it renders e as a wire Message
// and enqueues it, never blocking. Returns false (backpressure) if the
// outbound queue is full.
func (s *Session) Deliver(e events.Event) bool {
	msg, ok := e.Payload.(*Message)
	if !ok {
		s.log.WithField("kind", e.Kind).Warn("event payload is not a *Message, dropping")
		return true
	}
	buf, err := msg.RenderBuffer()
	if err != nil {
		s.log.WithError(err).Warn("failed to render event message")
		return true
	}
	select {
	case s.writeQueue <- buf:
		return true
	default:
		// A receiver that cannot keep up is disconnected rather than
		// allowed to block its producers.
		RecycleBuffer(buf)
		s.log.Warn("outbound queue overflow, disconnecting session")
		s.Close(ErrConnectionClosed)
		return false
	}
}

// Serve drives one accepted connection end to end: IP ban pre-screen,
// TLS handshake, then the read/write loop pair. It blocks until the
// session closes.
func (s *Session) Serve(ctx context.Context) {
	defer s.cleanup()

	s.remoteIP, _, _ = net.SplitHostPort(s.sock.RemoteAddr().String())
	s.log = s.log.WithField("remote", s.remoteIP)

	defer func() {
		if r := recover(); r != nil {
			const size = 64 << 10
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			s.log.Errorf("panic serving session: %v\n%s", r, buf)
		}
		s.sock.Close()
	}()

	decision, err := s.server.access.CheckConnect(ctx, s.remoteIP)
	if err != nil {
		s.log.WithError(err).Error("ban check failed, rejecting connection")
		return
	}
	if decision.Banned {
		s.log.WithField("reason", decision.Reason).Info("rejected banned connection before handshake")
		return
	}

	// Trusted peers bypass the per-IP connection cap, same as the
	// transfer admission gate.
	if !decision.Trusted {
		if !s.server.acquireConn(s.remoteIP) {
			s.log.Info("rejected connection, per-IP connection limit reached")
			return
		}
		defer s.server.releaseConn(s.remoteIP)
	}

	s.setState(StateTLSHandshaking)
	if tlsConn, ok := s.sock.(*tls.Conn); ok {
		s.sock.SetDeadline(time.Now().Add(s.server.config.TLSHandshakeTimeout))
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			s.log.WithError(err).Info("TLS handshake failed")
			return
		}
	}
	s.setState(StateAwaitingHandshake)
	s.sock.SetDeadline(time.Now().Add(s.server.config.ProtocolHandshakeTimeout))

	go s.writeLoop()
	s.readLoop(ctx)
}

func (s *Session) readLoop(ctx context.Context) {
	defer func() { s.kill <- struct{}{} }()

	for {
		msg, err := ReadMessage(s.sock, s.pool)
		if err != nil {
			if s.State() != StateClosed {
				s.log.WithError(err).Debug("readLoop exiting")
			}
			return
		}

		s.heartbeat.Reset(heartbeatInterval)
		s.markAlive()
		if s.State() == StateAwaitingLogin || s.State() == StateAwaitingHandshake {
			s.sock.SetReadDeadline(time.Time{})
		}

		s.server.router.RouteCommand(s, msg, s.pool)

		if s.State() == StateClosed {
			return
		}
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.kill:
			return
		case buf := <-s.writeQueue:
			s.write(buf)
		case <-s.heartbeat.C:
			s.doHeartbeat()
		}
	}
}

func (s *Session) write(buf *bytes.Buffer) {
	defer func() {
		RecycleBuffer(buf)
		if r := recover(); r != nil {
			s.log.Errorf("panic writing to socket: %v", r)
			s.Close("internal error")
		}
	}()

	s.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := s.sock.Write(buf.Bytes()); err != nil {
		s.log.WithError(err).Debug("write failed")
		s.Close("write error")
	}
}

const writeTimeout = 10 * time.Second

// Send enqueues msg for delivery, rendering it to a pooled buffer. Use
// for direct replies (ReplyOK/ReplyError); event fan-out goes through
// Deliver instead so Authorized gates it first.
func (s *Session) Send(msg *Message) {
	buf, err := msg.RenderBuffer()
	if err != nil {
		s.log.WithError(err).Warn("failed to render reply message")
		return
	}
	select {
	case s.writeQueue <- buf:
	default:
		RecycleBuffer(buf)
		s.log.Warn("outbound queue full replying to session, closing")
		s.Close("outbound queue full")
	}
}

// ReplyOK sends a success reply carrying fields.
func (s *Session) ReplyOK(fields map[string]any) {
	s.Send(&Message{Kind: KindOK, Fields: fields})
}

// ReplyError sends a structured error reply and, if err is fatal per the
// closed taxonomy, closes the session afterward.
func (s *Session) ReplyError(err *Error) {
	fields := map[string]any{"code": err.Code}
	for k, v := range err.Params {
		fields[k] = v
	}
	s.Send(&Message{Kind: KindError, Fields: fields})
	if err.Fatal() {
		s.Close(err.Code)
	}
}

// markAlive records that traffic arrived since the last ping went out.
// Any inbound message counts as liveness; no dedicated pong is required.
func (s *Session) markAlive() {
	s.Lock()
	s.lastPingRecv = s.lastPingSent
	s.Unlock()
}

func (s *Session) doHeartbeat() {
	s.Lock()
	stale := s.lastPingRecv != s.lastPingSent
	token := uuid.NewString()
	if !stale {
		s.lastPingSent = token
	}
	s.Unlock()

	if stale {
		s.log.Debug("heartbeat timeout")
		s.Close("connection timeout")
		return
	}
	s.heartbeat.Reset(heartbeatInterval)
	s.ReplyOK(map[string]any{"ping": token})
}

// Close transitions the session to Closed, unregisters it from presence
// and every joined channel, and signals the write loop to stop. Safe to
// call more than once and from any goroutine.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		wasActive := s.State() == StateActive
		s.setState(StateClosed)

		if res, ok := s.Upload(); ok {
			_ = s.server.files.Interrupt(context.Background(), res)
			s.ClearUpload()
		}
		s.ClearDownload()

		if wasActive {
			for _, name := range s.JoinedChannels() {
				_ = s.server.channels.Leave(s, name)
			}
			s.server.presence.Unregister(s)
			s.server.bus.Unsubscribe(s.id)
			s.server.bus.Publish(events.Event{
				Kind:    events.KindPresence,
				Payload: &Message{Kind: KindEventPresence, Fields: map[string]any{"nickname": s.Nickname(), "kind": "disconnect"}},
			})
		}

		s.log.WithField("reason", reason).Debug("session closed")
		select {
		case s.kill <- struct{}{}:
		default:
		}
	})
}

func (s *Session) cleanup() {
	s.Close("connection ended")
}

// setHandshake records the negotiated version/features and advances the
// state machine from Awaiting-handshake to Awaiting-login.
func (s *Session) setHandshake(version validate.Version, features FeatureSet) {
	s.Lock()
	s.protocolVersion = version
	s.features = features
	s.handshakeDone = true
	s.state = StateAwaitingLogin
	s.Unlock()
}

// applyLogin transitions an Awaiting-login session to Active: snapshots
// identity/permissions from u, registers with presence, and auto-joins
// configured channels. Failures auto-joining are logged, not fatal.
func (s *Session) applyLogin(ctx context.Context, u *store.User, nickname, locale string) {
	s.Lock()
	s.userID = u.ID
	s.username = u.Username
	s.nickname = nickname
	s.isShared = u.IsShared
	s.isAdmin = u.IsAdmin
	s.locale = locale
	if u.Permissions == "" {
		if u.IsAdmin {
			s.permissions = NewPermissionSet(AdminPermissions)
		} else {
			s.permissions = NewPermissionSet(DefaultPermissions)
		}
	} else {
		s.permissions = parsePermissions(u.Permissions)
	}
	s.loginDone = true
	s.state = StateActive
	s.Unlock()

	s.server.presence.Register(s)
	s.server.bus.Subscribe(s)
	s.server.bus.Publish(events.Event{
		Kind:    events.KindPresence,
		Payload: &Message{Kind: KindEventPresence, Fields: map[string]any{"nickname": nickname, "kind": "connect"}},
	})

	for _, name := range s.server.config.AutoJoinChannels {
		if err := s.server.channels.Join(s, name); err != nil {
			s.log.WithError(err).WithField("channel", name).Info("auto-join failed")
		}
	}
}

func parsePermissions(raw string) PermissionSet {
	set := make(PermissionSet)
	for _, field := range strings.Fields(raw) {
		set[Permission(field)] = true
	}
	return set
}

// String satisfies fmt.Stringer for log fields.
func (s *Session) String() string {
	return fmt.Sprintf("session(%s, %s)", s.id, s.remoteIP)
}
