package engine

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/czvisa/monitor/engine/scheduler"
)

const maxWSConnections = 200

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SchedulerHub pushes scheduler.Snapshot to every connected admin client
// once a second from a single broadcaster goroutine.
type SchedulerHub struct {
	log   *zap.SugaredLogger
	sched *scheduler.Scheduler

	mu         sync.Mutex
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

// NewSchedulerHub builds a hub; call Run to start broadcasting.
func NewSchedulerHub(sched *scheduler.Scheduler, log *zap.SugaredLogger) *SchedulerHub {
	return &SchedulerHub{
		log:        log,
		sched:      sched,
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// ServeHTTP upgrades the connection and hands it to the hub.
func (h *SchedulerHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("admin websocket upgrade failed", "error", err)
		return
	}
	h.register <- conn
}

// Run is the hub's single broadcaster loop.
func (h *SchedulerHub) Run(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxWSConnections {
				h.mu.Unlock()
				conn.Close()
				h.log.Warnw("admin websocket connection rejected: at capacity", "max", maxWSConnections)
				continue
			}
			h.clients[conn] = struct{}{}
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case <-ticker.C:
			h.broadcast()
		}
	}
}

func (h *SchedulerHub) broadcast() {
	snap := h.sched.Snapshot()

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(snap); err != nil {
			h.log.Debugw("admin websocket write failed, dropping client", "error", err)
			go func(c *websocket.Conn) { h.unregister <- c }(conn)
		}
	}
}

func (h *SchedulerHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}
