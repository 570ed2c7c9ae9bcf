// Package server runs the chat service: the connection dispatcher that
// accepts control connections, the per-session workers, and the shared
// session and room tables they mutate.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
)

// Server is the chat service instance.
type Server struct {
	cfg *Config
	log *logrus.Entry

	listener  net.Listener
	sessions  *SessionTable
	rooms     *RoomRegistry
	publisher ChatPublisher
	monitor   *Monitor

	// sessionMu is always acquired before roomMu when both are needed.
	sessionMu sync.Mutex
	roomMu    sync.Mutex

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a server from cfg with the production multicast publisher.
func New(cfg *Config, log *logrus.Logger) (*Server, error) {
	publisher, err := newMulticastPublisher(cfg.MulticastTTL)
	if err != nil {
		return nil, err
	}
	return newWithPublisher(cfg, log, publisher), nil
}

// newWithPublisher wires an explicit publisher; tests use it to capture
// fan-out traffic.
func newWithPublisher(cfg *Config, log *logrus.Logger, publisher ChatPublisher) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:       cfg,
		log:       log.WithField("component", "server"),
		sessions:  NewSessionTable(cfg.MaxClients),
		rooms:     NewRoomRegistry(cfg.MaxRooms, cfg.MulticastBase, cfg.MulticastPortStart),
		publisher: publisher,
		ctx:       ctx,
		cancel:    cancel,
	}
	if cfg.MonitorAddr != "" {
		s.monitor = NewMonitor(cfg.MonitorAddr, cfg.MonitorOrigins, log.WithField("component", "monitor"))
	}
	return s
}

// Start binds the control listener, starts the monitor when configured, and
// launches the accept loop. It does not block.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return oops.Wrapf(err, "binding control listener on %s", s.cfg.ListenAddr)
	}
	s.listener = listener
	s.log.WithField("addr", listener.Addr().String()).Info("control channel listening")

	if s.monitor != nil {
		s.monitor.Start()
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr reports the bound control address, useful with a ":0" listen config.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// acceptLoop admits connections while a session slot is free and rejects the
// rest by closing them immediately.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.WithError(err).Warn("accept failed")
			continue
		}

		limiter := newRateLimiter(s.cfg.ChatBurst, s.cfg.ChatRefillInterval)

		s.sessionMu.Lock()
		sess := s.sessions.allocate(conn, limiter)
		s.sessionMu.Unlock()

		if sess == nil {
			s.log.WithField("remote", conn.RemoteAddr().String()).Warn("server full, rejecting connection")
			_ = conn.Close()
			continue
		}

		s.log.WithFields(logrus.Fields{
			"remote": conn.RemoteAddr().String(),
			"slot":   sess.slot,
		}).Info("client connected")

		s.wg.Add(1)
		go s.serveSession(sess)
	}
}

// Shutdown stops accepting, tears every live session down, and waits for the
// workers up to the timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.log.Info("shutting down")
	s.cancel()

	if s.listener != nil {
		_ = s.listener.Close()
	}

	// Closing the connections unblocks every worker at its next read; each
	// worker then runs its own teardown exactly once.
	s.sessionMu.Lock()
	sessions := s.sessions.all()
	s.sessionMu.Unlock()
	for _, sess := range sessions {
		_ = sess.conn.Close()
	}

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
	case <-time.After(timeout):
		err = context.DeadlineExceeded
	}

	if s.publisher != nil {
		_ = s.publisher.Close()
	}
	if s.monitor != nil {
		if merr := s.monitor.Shutdown(timeout); merr != nil && err == nil {
			err = merr
		}
	}
	return err
}

// emit records a server event for the monitor.
func (s *Server) emit(ev Event) {
	ev.Time = time.Now()
	if s.monitor != nil {
		s.monitor.Publish(ev)
	}
}
