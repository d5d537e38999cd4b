/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package nexus

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/nexuschat/nexus/internal/access"
	"github.com/nexuschat/nexus/internal/config"
	"github.com/nexuschat/nexus/internal/events"
	"github.com/nexuschat/nexus/internal/store"
	"github.com/nexuschat/nexus/internal/transfer"
	"github.com/nexuschat/nexus/shared/logfmt"
)

// MessagePoolMax sizes the server-wide Message object pool.
const MessagePoolMax = 1000

// MaxJoinedChannels bounds how many channels one session may belong to
// at once.
const MaxJoinedChannels = 50

// ErrServerClosed is returned by ListenAndServe after Shutdown or Close.
var ErrServerClosed = errors.New("nexus: server closed")

// Server holds the full in-memory and persistent state of one Nexus
// instance: configuration, the store, the ban/trust checker, the event
// bus, the command router, presence and channel registries, and the
// file area.
type Server struct {
	mu sync.RWMutex

	config *config.Config
	log    *logrus.Entry

	store    *store.Store
	access   *access.Checker
	bus      *events.Bus
	router   *Router
	presence *SessionRegistry
	channels *ChannelRegistry
	files    *transfer.Area

	msgPool *MessagePool

	connsPerIP map[string]int

	tlsConfig *tls.Config
	listener  net.Listener

	shutdownCtx context.Context
	shutdownFn  context.CancelFunc
	shutdownTO  time.Duration

	wg conc.WaitGroup
}

// ServerOption configures a Server at construction time.
type ServerOption func(*Server) error

// WithConfig supplies the process configuration. Required.
func WithConfig(cfg *config.Config) ServerOption {
	return func(s *Server) error {
		if cfg == nil {
			return fmt.Errorf("nexus: WithConfig requires a non-nil config")
		}
		s.config = cfg
		return nil
	}
}

// WithLogger sets the base logrus.Logger every component logs through.
func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.log = logrus.NewEntry(logger)
		return nil
	}
}

// WithLogLevel sets the log level on the Server's logger.
func WithLogLevel(level logrus.Level) ServerOption {
	return func(s *Server) error {
		s.log.Logger.SetLevel(level)
		return nil
	}
}

// WithDefaultLogFormatter installs the nested, terminal-styled formatter
// used across this codebase in place of logrus's default.
func WithDefaultLogFormatter() ServerOption {
	return func(s *Server) error {
		s.log.Logger.SetFormatter(logfmt.New())
		return nil
	}
}

// WithGracefulShutdown ties the server's accept loop and all in-flight
// sessions to ctx: canceling ctx begins a shutdown that waits up to
// timeout for sessions to close on their own before ListenAndServe
// returns.
func WithGracefulShutdown(ctx context.Context, timeout time.Duration) ServerOption {
	return func(s *Server) error {
		s.shutdownCtx, s.shutdownFn = context.WithCancel(ctx)
		s.shutdownTO = timeout
		return nil
	}
}

// NewServer builds a Server from opts, opening the store, rebuilding
// persistent channels, and loading TLS credentials. WithConfig is
// required; everything else defaults sensibly.
func NewServer(opts ...ServerOption) (*Server, error) {
	s := &Server{
		log:         logrus.NewEntry(logrus.StandardLogger()),
		connsPerIP:  make(map[string]int),
		shutdownCtx: context.Background(),
		shutdownFn:  func() {},
		shutdownTO:  10 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.config == nil {
		return nil, fmt.Errorf("nexus: WithConfig is required")
	}

	s.log = s.log.WithField("component", "server")

	st, err := store.Open(store.Config{Path: s.config.DatabasePath})
	if err != nil {
		return nil, fmt.Errorf("nexus: open store: %w", err)
	}
	s.store = st
	if pw := st.InitialAdminPassword(); pw != "" {
		s.log.WithField("username", store.AdminUsername).
			Warnf("generated initial admin password: %s (set %s to choose your own)", pw, store.EnvAdminInitialPassword)
	}
	s.access = access.NewChecker(st, nil)
	s.bus = events.NewBus(s.log.WithField("sub-component", "events"))
	s.presence = NewSessionRegistry()
	s.channels = NewChannelRegistry(st, s.bus, MaxJoinedChannels, DefaultChannelNameMaxLength)
	if err := s.channels.LoadPersistent(context.Background()); err != nil {
		return nil, fmt.Errorf("nexus: load persistent channels: %w", err)
	}
	for _, name := range s.config.PersistentChannels {
		if _, ok := s.channels.Get(name); ok {
			continue
		}
		if _, err := st.CreatePersistentChannel(context.Background(), name, false); err != nil {
			s.log.WithError(err).WithField("channel", name).Warn("failed to create configured persistent channel")
			continue
		}
		if err := s.channels.LoadPersistent(context.Background()); err != nil {
			return nil, fmt.Errorf("nexus: reload persistent channels: %w", err)
		}
	}

	s.files = transfer.NewArea(s.config.FileAreaRoot, st, s.config.MaxTransfersPerIP, s.config.UploadDeniedFolders...)

	s.msgPool = NewMessagePool(MessagePoolMax)
	s.msgPool.Warmup(MessagePoolMax)

	s.router = NewRouter(s.log.WithField("sub-component", "router"))
	registerHandlers(s.router)

	tlsConfig, err := buildTLSConfig(s.config.CertFile, s.config.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("nexus: load TLS credentials: %w", err)
	}
	s.tlsConfig = tlsConfig

	return s, nil
}

func buildTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ListenAndServe listens on the configured address, serving TLS
// connections until the graceful-shutdown context (if any) is canceled.
// It always returns a non-nil error; ErrServerClosed after a clean
// shutdown.
func (s *Server) ListenAndServe() error {
	addr := s.config.ListenAddress
	if addr == "" {
		addr = ":6697"
	}

	listen, err := tls.Listen("tcp", addr, s.tlsConfig)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listen
	s.mu.Unlock()

	s.log.WithField("addr", addr).Info("listening")

	go func() {
		<-s.shutdownCtx.Done()
		s.log.Info("shutdown requested, closing listener")
		listen.Close()
	}()

	var tempDelay time.Duration
	for {
		sock, err := listen.Accept()
		if err != nil {
			select {
			case <-s.shutdownCtx.Done():
				done := make(chan struct{})
				go func() {
					s.wg.Wait()
					close(done)
				}()
				select {
				case <-done:
				case <-time.After(s.shutdownTO):
					s.log.Warn("shutdown timeout reached with sessions still open")
				}
				return ErrServerClosed
			default:
			}
			if neterr, ok := err.(net.Error); ok && neterr.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				s.log.WithError(err).Warnf("accept error, retrying in %s", tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		session := NewSession(s, sock, s.msgPool)
		s.wg.Go(func() {
			session.Serve(s.shutdownCtx)
		})
	}
}

// acquireConn counts one live connection against ip's budget, refusing
// when the configured per-IP connection limit is already met. A zero or
// negative limit means unlimited. releaseConn undoes one acquire.
func (s *Server) acquireConn(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit := s.config.MaxConnectionsPerIP; limit > 0 && s.connsPerIP[ip] >= limit {
		return false
	}
	s.connsPerIP[ip]++
	return true
}

func (s *Server) releaseConn(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connsPerIP[ip]--
	if s.connsPerIP[ip] <= 0 {
		delete(s.connsPerIP, ip)
	}
}

// Store, Bus, Channels, Presence, Files, Config, Access expose the
// server's subsystems to command handlers, which receive only the
// originating Session and reach the rest of the server through it.
func (s *Server) Store() *store.Store        { return s.store }
func (s *Server) Bus() *events.Bus           { return s.bus }
func (s *Server) Channels() *ChannelRegistry { return s.channels }
func (s *Server) Presence() *SessionRegistry { return s.presence }
func (s *Server) Files() *transfer.Area      { return s.files }
func (s *Server) Config() *config.Config     { return s.config }
func (s *Server) Access() *access.Checker    { return s.access }
