// Package server coordinates monitor viewer registration and event fan-out
// via the eventHub type. The hub observes the chat tables, never mutates
// them, and must never block the chat path.
package server

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Event is one JSON record streamed to monitor viewers.
type Event struct {
	Time     time.Time `json:"time"`
	Type     string    `json:"type"`
	Slot     int       `json:"slot"`
	Username string    `json:"username,omitempty"`
	Room     string    `json:"room,omitempty"`
	RoomID   uint16    `json:"room_id,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// Event types.
const (
	EventLogin       = "login"
	EventLogout      = "logout"
	EventRoomCreated = "room_created"
	EventRoomClosed  = "room_closed"
	EventJoin        = "join"
	EventLeave       = "leave"
	EventChat        = "chat"
	EventPrivate     = "private"
	EventTimeout     = "timeout"
)

// eventHub manages monitor viewer connections and broadcasts server events
// to them. It is a sink-only fan-out: viewer input is discarded and a slow
// viewer loses events rather than stalling anyone else.
type eventHub struct {
	viewers    map[*monitorClient]bool
	events     chan Event
	register   chan *monitorClient
	unregister chan *monitorClient
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	log        *logrus.Entry
}

func newEventHub(log *logrus.Entry) *eventHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &eventHub{
		viewers:    make(map[*monitorClient]bool),
		events:     make(chan Event, 256),
		register:   make(chan *monitorClient),
		unregister: make(chan *monitorClient),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        log,
	}
}

// publish hands an event to the hub without ever blocking the caller; when
// the buffer is full the event is dropped.
func (h *eventHub) publish(ev Event) {
	select {
	case h.events <- ev:
	default:
	}
}

// run is the hub's main event loop. It runs in its own goroutine until the
// hub is shut down.
func (h *eventHub) run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownViewers()
			return

		case viewer := <-h.register:
			h.mutex.Lock()
			viewer.closed = false
			h.viewers[viewer] = true
			count := len(h.viewers)
			h.mutex.Unlock()
			h.log.WithField("viewers", count).Debug("monitor viewer registered")

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				viewer.writePump()
			}()
			go func() {
				defer h.wg.Done()
				viewer.readPump()
			}()

		case viewer := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.viewers[viewer]; ok {
				delete(h.viewers, viewer)
				viewer.closed = true
				h.mutex.Unlock()
				close(viewer.send)
			} else {
				h.mutex.Unlock()
			}

		case ev := <-h.events:
			h.broadcast(ev)
		}
	}
}

func (h *eventHub) broadcast(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.WithError(err).Warn("dropping unmarshalable event")
		return
	}

	h.mutex.RLock()
	viewers := make([]*monitorClient, 0, len(h.viewers))
	for viewer := range h.viewers {
		viewers = append(viewers, viewer)
	}
	h.mutex.RUnlock()

	for _, viewer := range viewers {
		h.safeSend(viewer, payload)
	}
}

// safeSend delivers a payload to one viewer, tolerating a concurrently
// closed send channel.
func (h *eventHub) safeSend(viewer *monitorClient, payload []byte) bool {
	defer func() {
		_ = recover()
	}()

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.viewers[viewer]; !exists || viewer.closed {
		return false
	}

	select {
	case viewer.send <- payload:
		return true
	default:
		return false
	}
}

func (h *eventHub) shutdownViewers() {
	h.mutex.Lock()
	viewers := make([]*monitorClient, 0, len(h.viewers))
	for viewer := range h.viewers {
		viewers = append(viewers, viewer)
	}
	h.mutex.Unlock()

	for _, viewer := range viewers {
		if viewer.conn != nil {
			if err := viewer.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.log.WithError(err).Debug("closing monitor viewer")
			}
		}
	}
}

// shutdown stops the hub and waits for viewer goroutines up to the timeout.
func (h *eventHub) shutdown(timeout time.Duration) error {
	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}

// isExpectedCloseError checks if an error is expected during connection
// closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
