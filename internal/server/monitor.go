// Package server exposes the read-only operations monitor: an HTTP health
// check plus a websocket endpoint that streams server events as JSON to
// origin-checked viewers. The monitor observes the chat service and can
// never mutate it.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Monitor is the optional HTTP/websocket surface for operators.
type Monitor struct {
	hub      *eventHub
	srv      *http.Server
	origins  *originPolicy
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

// NewMonitor builds a monitor bound to addr with the given origin
// allow-list. Call Start to begin serving.
func NewMonitor(addr string, origins []string, log *logrus.Entry) *Monitor {
	m := &Monitor{
		hub:     newEventHub(log),
		origins: newOriginPolicy(origins),
		log:     log,
	}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     m.checkOrigin,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", m.healthHandler)
	mux.HandleFunc("/ws", m.wsHandler)

	m.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return m
}

// Start launches the hub loop and the HTTP listener. Serve errors other
// than a clean close are reported on the returned channel.
func (m *Monitor) Start() <-chan error {
	errs := make(chan error, 1)
	go m.hub.run()
	go func() {
		if err := m.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
		close(errs)
	}()
	m.log.WithField("addr", m.srv.Addr).Info("monitor listening")
	return errs
}

// Publish forwards one event to connected viewers, never blocking.
func (m *Monitor) Publish(ev Event) {
	m.hub.publish(ev)
}

// Shutdown stops the HTTP server and the viewer hub.
func (m *Monitor) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := m.srv.Shutdown(ctx); err != nil {
		m.log.WithError(err).Warn("monitor http shutdown")
	}
	return m.hub.shutdown(timeout)
}

func (m *Monitor) checkOrigin(r *http.Request) bool {
	if m.origins.check(r) {
		return true
	}
	m.log.WithField("origin", r.Header.Get("Origin")).Warn("blocked monitor viewer from disallowed origin")
	return false
}

// healthHandler provides a simple health check endpoint.
func (m *Monitor) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "chat server is running!")
}

// wsHandler upgrades a viewer connection and registers it with the hub,
// which launches its pump goroutines.
func (m *Monitor) wsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. Monitor endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.WithError(err).Debug("monitor upgrade failed")
		return
	}

	viewer := &monitorClient{
		conn: conn,
		send: make(chan []byte, 64),
		hub:  m.hub,
		addr: r.RemoteAddr,
	}
	m.hub.register <- viewer
}

// monitorClient is one websocket viewer. Viewers are sinks: the read pump
// exists only to process control frames and notice disconnects.
type monitorClient struct {
	conn   *websocket.Conn
	send   chan []byte
	hub    *eventHub
	addr   string
	closed bool
}

func (c *monitorClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	for {
		// Inbound viewer traffic is discarded.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *monitorClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
